package provider

import (
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
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

const (
	plexMetadataBase    = "https://metadata.provider.plex.tv/library/metadata"
	plexMetadataWorkers = 4
	plexBackfillLimit   = 500
	plexMovieSection    = 1
	plexTVSection       = 2
)

var (
	plexKeyPattern  = regexp.MustCompile(`^[a-f0-9]{24}$`)
	plexGUIDPattern = regexp.MustCompile(`^plex://(?:episode|movie|season|show)/([a-f0-9]{24})$`)
	plexIMDbGUID    = regexp.MustCompile(`^imdb://((?:tt|nm)\d+)$`)
	plexTMDbGUID    = regexp.MustCompile(`^tmdb://(\d+)$`)

	plexExtractQuery = `
SELECT ?item ?anchor ?value WHERE {
  ?item wdt:P345 ?anchor.
  OPTIONAL { ?item wdt:P11460 ?value. }
}
`
)

// Plex discovers media keys by scanning a Plex media server's library
// sections, then resolves each key against the public metadata provider
// for the IMDb id that anchors it.
type Plex struct {
	cfg config.PlexConfig
}

// NewPlex creates the Plex library harvester.
func NewPlex(cfg config.PlexConfig) *Plex {
	return &Plex{cfg: cfg}
}

func (p *Plex) Name() string     { return "plex" }
func (p *Plex) Property() string { return "P11460" }
func (p *Plex) Cadence() Cadence { return Weekly }
func (p *Plex) KeyColumn() string {
	return "plex_key"
}
func (p *Plex) Columns() []string {
	return []string{"type", "title", "year", "imdb_id", "tmdb_id"}
}
func (p *Plex) VolatileColumns() []string {
	return nil
}

func (p *Plex) ShouldRun(now time.Time, lastRun *time.Time) bool {
	return p.Cadence().Due(now, lastRun)
}

func (p *Plex) Rule() reconcile.Rule {
	return reconcile.Rule{
		Provider:      p.Name(),
		Property:      p.Property(),
		AnchorColumn:  "imdb_id",
		ValuePattern:  plexKeyPattern,
		AssertSummary: "Add Plex key via associated IMDb ID",
		ExtractQuery:  plexExtractQuery,
	}
}

// plexItem is one <Video> or <Directory> element from a section listing
// or a metadata response.
type plexItem struct {
	GUID  string `xml:"guid,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
	Year  string `xml:"year,attr"`
	Guids []struct {
		ID string `xml:"id,attr"`
	} `xml:"Guid"`
}

// plexContainer is the MediaContainer envelope.
type plexContainer struct {
	Videos      []plexItem `xml:"Video"`
	Directories []plexItem `xml:"Directory"`
}

func (p *Plex) Harvest(ctx context.Context, f fetcher.Fetcher, prior *snapshot.Snapshot) ([]snapshot.Record, error) {
	log := zap.L().With(zap.String("provider", p.Name()))

	keys, err := p.scanLibrary(ctx, f, log)
	if err != nil {
		return nil, err
	}
	log.Info("library scanned", zap.Int("keys", len(keys)))

	recs := make([]snapshot.Record, 0, len(keys))
	for _, key := range keys {
		recs = append(recs, snapshot.Record{Key: key, Values: map[string]snapshot.Value{}})
	}

	if err := p.backfillMetadata(ctx, f, prior, recs, log); err != nil {
		return nil, err
	}

	sortRecordsByKey(recs)
	return recs, nil
}

// scanLibrary lists the movie and show sections and collects the plex://
// keys. Without a configured server only previously discovered keys get
// metadata refreshed.
func (p *Plex) scanLibrary(ctx context.Context, f fetcher.Fetcher, log *zap.Logger) ([]string, error) {
	if p.cfg.ServerURL == "" {
		log.Info("no media server configured, skipping library scan")
		return nil, nil
	}

	var keys []string
	seen := make(map[string]struct{})
	for _, section := range []int{plexMovieSection, plexTVSection} {
		url := fmt.Sprintf("%s/library/sections/%d/all?X-Plex-Token=%s",
			strings.TrimRight(p.cfg.ServerURL, "/"), section, p.cfg.Token)

		container, err := p.fetchContainer(ctx, f, url)
		if err != nil {
			return nil, eris.Wrapf(err, "plex: scan section %d", section)
		}
		for _, item := range append(container.Videos, container.Directories...) {
			m := plexGUIDPattern.FindStringSubmatch(item.GUID)
			if m == nil {
				continue
			}
			if _, ok := seen[m[1]]; ok {
				continue
			}
			seen[m[1]] = struct{}{}
			keys = append(keys, m[1])
		}
	}
	return keys, nil
}

func (p *Plex) fetchContainer(ctx context.Context, f fetcher.Fetcher, url string) (*plexContainer, error) {
	body, err := f.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var container plexContainer
	if err := xml.NewDecoder(body).Decode(&container); err != nil {
		return nil, eris.Wrap(err, "plex: decode media container")
	}
	return &container, nil
}

// backfillMetadata resolves keys with no imdb_id yet against the public
// metadata provider, capped per run.
func (p *Plex) backfillMetadata(ctx context.Context, f fetcher.Fetcher, prior *snapshot.Snapshot, recs []snapshot.Record, log *zap.Logger) error {
	var pending []int
	for i, rec := range recs {
		if len(pending) >= plexBackfillLimit {
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
	log.Info("resolving metadata", zap.Int("count", len(pending)))

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(plexMetadataWorkers)
	for _, i := range pending {
		g.Go(func() error {
			url := fmt.Sprintf("%s/%s?X-Plex-Token=%s", plexMetadataBase, recs[i].Key, p.cfg.Token)
			container, err := p.fetchContainer(gctx, f, url)
			if err != nil {
				// Unmatched keys 404; they stay unresolved and unanchored.
				log.Warn("metadata lookup failed", zap.String("key", recs[i].Key), zap.Error(err))
				return nil
			}

			items := append(container.Videos, container.Directories...)
			if len(items) == 0 {
				return nil
			}
			values := p.metadataValues(items[0])

			mu.Lock()
			for col, v := range values {
				recs[i].Values[col] = v
			}
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func (p *Plex) metadataValues(item plexItem) map[string]snapshot.Value {
	values := make(map[string]snapshot.Value)
	if item.Type != "" {
		values["type"] = snapshot.String(item.Type)
	}
	if item.Title != "" {
		values["title"] = snapshot.String(item.Title)
	}
	if item.Year != "" {
		values["year"] = snapshot.String(item.Year)
	}
	for _, g := range item.Guids {
		if m := plexIMDbGUID.FindStringSubmatch(g.ID); m != nil {
			values["imdb_id"] = snapshot.String(m[1])
		}
		if m := plexTMDbGUID.FindStringSubmatch(g.ID); m != nil {
			values["tmdb_id"] = snapshot.String(m[1])
		}
	}
	return values
}
