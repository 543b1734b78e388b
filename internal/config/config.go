package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	KB         KBConfig         `yaml:"kb" mapstructure:"kb"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	TMDb       TMDbConfig       `yaml:"tmdb" mapstructure:"tmdb"`
	ITunes     ITunesConfig     `yaml:"itunes" mapstructure:"itunes"`
	OpenCritic OpenCriticConfig `yaml:"opencritic" mapstructure:"opencritic"`
	Plex       PlexConfig       `yaml:"plex" mapstructure:"plex"`
	Statements StatementsConfig `yaml:"statements" mapstructure:"statements"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the snapshot store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // sqlite or postgres
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// KBConfig configures access to the knowledge base being reconciled.
type KBConfig struct {
	QueryEndpoint   string `yaml:"query_endpoint" mapstructure:"query_endpoint"`
	APIEndpoint     string `yaml:"api_endpoint" mapstructure:"api_endpoint"`
	BlocklistPageID int    `yaml:"blocklist_page_id" mapstructure:"blocklist_page_id"`
	BlocklistFile   string `yaml:"blocklist_file" mapstructure:"blocklist_file"`
}

// FetchConfig configures the HTTP fetch layer.
type FetchConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// TMDbConfig holds TMDb API settings.
type TMDbConfig struct {
	APIKey       string `yaml:"api_key" mapstructure:"api_key"`
	MaxIDLookups int    `yaml:"max_id_lookups" mapstructure:"max_id_lookups"`
}

// ITunesConfig holds iTunes lookup settings.
type ITunesConfig struct {
	Country    string `yaml:"country" mapstructure:"country"`
	MaxLookups int    `yaml:"max_lookups" mapstructure:"max_lookups"`
}

// OpenCriticConfig holds OpenCritic API settings.
type OpenCriticConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PlexConfig holds the media-server connection settings.
type PlexConfig struct {
	ServerURL string `yaml:"server_url" mapstructure:"server_url"`
	Token     string `yaml:"token" mapstructure:"token"`
}

// StatementsConfig configures where the statement stream and diff summary go.
type StatementsConfig struct {
	OutPath     string `yaml:"out_path" mapstructure:"out_path"`
	SummaryPath string `yaml:"summary_path" mapstructure:"summary_path"`
}

// ServerConfig configures the status API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "catalog.db")
	v.SetDefault("kb.query_endpoint", "https://query.wikidata.org/sparql")
	v.SetDefault("kb.api_endpoint", "https://www.wikidata.org/w/api.php")
	v.SetDefault("kb.blocklist_page_id", 103442925)
	v.SetDefault("fetch.user_agent", "catalog-cli/1.0 (https://github.com/mediagraph/catalog-cli)")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("tmdb.max_id_lookups", 500)
	v.SetDefault("itunes.country", "us")
	v.SetDefault("itunes.max_lookups", 5000)
	v.SetDefault("opencritic.base_url", "https://api.opencritic.com/api")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
