package provider

import (
	"compress/gzip"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mediagraph/catalog-cli/internal/config"
	"github.com/mediagraph/catalog-cli/internal/fetcher"
	"github.com/mediagraph/catalog-cli/internal/reconcile"
	"github.com/mediagraph/catalog-cli/internal/snapshot"
)

// TMDbType selects which TMDb catalog a provider instance covers.
type TMDbType string

const (
	TMDbMovie  TMDbType = "movie"
	TMDbTV     TMDbType = "tv"
	TMDbPerson TMDbType = "person"
)

const tmdbLookupWorkers = 4

var tmdbNumericID = regexp.MustCompile(`^[1-9]\d*$`)

// tmdbMeta carries the per-type constants: knowledge-base property,
// export file prefix, API path segment, and the IMDb id shape that may
// appear in external ids.
var tmdbMeta = map[TMDbType]struct {
	property     string
	label        string
	exportPrefix string
	apiPath      string
	imdbPattern  *regexp.Regexp
}{
	TMDbMovie: {
		property:     "P4947",
		label:        "TMDb movie ID",
		exportPrefix: "movie_ids",
		apiPath:      "movie",
		imdbPattern:  regexp.MustCompile(`^tt\d+$`),
	},
	TMDbTV: {
		property:     "P4983",
		label:        "TMDb TV series ID",
		exportPrefix: "tv_series_ids",
		apiPath:      "tv",
		imdbPattern:  regexp.MustCompile(`^tt\d+$`),
	},
	TMDbPerson: {
		property:     "P4985",
		label:        "TMDb person ID",
		exportPrefix: "person_ids",
		apiPath:      "person",
		imdbPattern:  regexp.MustCompile(`^nm\d+$`),
	},
}

// tmdbExtractQuery builds the per-type extract: items anchored by IMDb id
// with their recorded TMDb id, if any.
func tmdbExtractQuery(property string) string {
	return fmt.Sprintf(`
SELECT DISTINCT ?item ?anchor ?value WHERE {
  ?item wdt:P345 ?anchor.
  OPTIONAL { ?item wdt:%s ?value. }
}
`, property)
}

// TMDb harvests one TMDb catalog from the daily id export, then backfills
// IMDb external ids for keys that still lack one.
type TMDb struct {
	typ TMDbType
	cfg config.TMDbConfig
}

// NewTMDb creates a provider for the given TMDb catalog type.
func NewTMDb(typ TMDbType, cfg config.TMDbConfig) *TMDb {
	return &TMDb{typ: typ, cfg: cfg}
}

func (p *TMDb) Name() string     { return "tmdb_" + string(p.typ) }
func (p *TMDb) Property() string { return tmdbMeta[p.typ].property }
func (p *TMDb) Cadence() Cadence { return Daily }
func (p *TMDb) KeyColumn() string {
	return "tmdb_id"
}
func (p *TMDb) Columns() []string {
	return []string{"title", "imdb_id", "adult"}
}
func (p *TMDb) VolatileColumns() []string {
	return nil
}

func (p *TMDb) ShouldRun(now time.Time, lastRun *time.Time) bool {
	return p.Cadence().Due(now, lastRun)
}

func (p *TMDb) Rule() reconcile.Rule {
	meta := tmdbMeta[p.typ]
	return reconcile.Rule{
		Provider:      p.Name(),
		Property:      meta.property,
		AnchorColumn:  "imdb_id",
		ValuePattern:  tmdbNumericID,
		Sentinels:     []string{"0"},
		AssertSummary: fmt.Sprintf("Add %s claim via associated IMDb ID", meta.label),
		ExtractQuery:  tmdbExtractQuery(meta.property),
	}
}

// tmdbExportRow is one line of the daily id export.
type tmdbExportRow struct {
	ID            int64  `json:"id"`
	OriginalTitle string `json:"original_title"`
	Name          string `json:"name"`
	Adult         bool   `json:"adult"`
}

// tmdbExternalIDs is the external_ids API response.
type tmdbExternalIDs struct {
	IMDbID string `json:"imdb_id"`
}

func (p *TMDb) Harvest(ctx context.Context, f fetcher.Fetcher, prior *snapshot.Snapshot) ([]snapshot.Record, error) {
	log := zap.L().With(zap.String("provider", p.Name()))

	recs, err := p.fetchExport(ctx, f, log)
	if err != nil {
		return nil, err
	}

	if p.cfg.APIKey == "" {
		log.Warn("no api key configured, skipping external id backfill")
		return recs, nil
	}

	if err := p.backfillIMDbIDs(ctx, f, prior, recs, log); err != nil {
		return nil, err
	}
	return recs, nil
}

// fetchExport downloads yesterday's id export (published daily around
// 08:00 UTC, so the previous day is always present).
func (p *TMDb) fetchExport(ctx context.Context, f fetcher.Fetcher, log *zap.Logger) ([]snapshot.Record, error) {
	date := time.Now().UTC().AddDate(0, 0, -1)
	url := fmt.Sprintf("http://files.tmdb.org/p/exports/%s_%s.json.gz",
		tmdbMeta[p.typ].exportPrefix, date.Format("01_02_2006"))

	body, err := f.Download(ctx, url)
	if err != nil {
		return nil, eris.Wrapf(err, "tmdb: download export %s", url)
	}
	defer body.Close()

	gz, err := gzip.NewReader(body)
	if err != nil {
		return nil, eris.Wrap(err, "tmdb: open export gzip")
	}
	defer gz.Close()

	var recs []snapshot.Record
	skipped, err := fetcher.DecodeJSONLines(ctx, gz, func(row tmdbExportRow) error {
		if row.ID <= 0 {
			return nil
		}
		title := row.OriginalTitle
		if title == "" {
			title = row.Name
		}
		values := map[string]snapshot.Value{
			"adult": snapshot.String(strconv.FormatBool(row.Adult)),
		}
		if title != "" {
			values["title"] = snapshot.String(title)
		}
		recs = append(recs, snapshot.Record{Key: strconv.FormatInt(row.ID, 10), Values: values})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRecordsByKey(recs)
	log.Info("export parsed", zap.Int("rows", len(recs)), zap.Int("skipped", skipped))
	return recs, nil
}

// backfillIMDbIDs looks up external ids for harvested keys whose prior
// snapshot row has no imdb_id yet, up to the configured cap per run.
func (p *TMDb) backfillIMDbIDs(ctx context.Context, f fetcher.Fetcher, prior *snapshot.Snapshot, recs []snapshot.Record, log *zap.Logger) error {
	max := p.cfg.MaxIDLookups
	if max <= 0 {
		max = 500
	}

	var pending []int
	for i, rec := range recs {
		if len(pending) >= max {
			break
		}
		if old, ok := prior.Get(rec.Key); ok && old.Value("imdb_id").Valid {
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return nil
	}
	log.Info("backfilling external ids", zap.Int("count", len(pending)))

	meta := tmdbMeta[p.typ]
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tmdbLookupWorkers)
	for _, i := range pending {
		g.Go(func() error {
			url := fmt.Sprintf("https://api.themoviedb.org/3/%s/%s/external_ids?api_key=%s",
				meta.apiPath, recs[i].Key, p.cfg.APIKey)

			var ext tmdbExternalIDs
			if err := fetcher.FetchJSON(gctx, f, url, &ext); err != nil {
				log.Warn("external id lookup failed", zap.String("id", recs[i].Key), zap.Error(err))
				return nil
			}
			if !meta.imdbPattern.MatchString(ext.IMDbID) {
				return nil
			}
			mu.Lock()
			recs[i].Values["imdb_id"] = snapshot.String(ext.IMDbID)
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}
