package provider

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mediagraph/catalog-cli/internal/config"
	"github.com/mediagraph/catalog-cli/internal/fetcher"
	"github.com/mediagraph/catalog-cli/internal/reconcile"
	"github.com/mediagraph/catalog-cli/internal/snapshot"
)

// iTunes lookup accepts at most 150 ids per request.
const itunesBatchSize = 150

var (
	itunesIDPattern    = regexp.MustCompile(`^\d+$`)
	itunesExtractQuery = `
SELECT ?item ?anchor ?value WHERE {
  ?item wdt:P6398 ?anchor.
  BIND(?anchor AS ?value)
}
`
)

// ITunes re-verifies known iTunes movie ids against the store lookup API.
// Ids absent from a lookup response have been pulled from the store; their
// recorded claims get deprecated. Like IMDb, there is no enumerable
// catalog, so new keys enter the snapshot via seeding.
type ITunes struct {
	cfg config.ITunesConfig
}

// NewITunes creates the iTunes identifier checker.
func NewITunes(cfg config.ITunesConfig) *ITunes {
	return &ITunes{cfg: cfg}
}

func (p *ITunes) Name() string     { return "itunes" }
func (p *ITunes) Property() string { return "P6398" }
func (p *ITunes) Cadence() Cadence { return Weekly }
func (p *ITunes) KeyColumn() string {
	return "itunes_id"
}
func (p *ITunes) Columns() []string {
	return []string{"title", "available", "checked_at"}
}
func (p *ITunes) VolatileColumns() []string {
	return []string{"available", "checked_at"}
}

func (p *ITunes) ShouldRun(now time.Time, lastRun *time.Time) bool {
	return p.Cadence().Due(now, lastRun)
}

func (p *ITunes) Rule() reconcile.Rule {
	return reconcile.Rule{
		Provider:             p.Name(),
		Property:             p.Property(),
		AvailableColumn:      "available",
		AuthoritativeRemoval: true,
		ValuePattern:         itunesIDPattern,
		DeprecateSummary:     "Withdrawn identifier value",
		ExtractQuery:         itunesExtractQuery,
	}
}

// itunesLookup is the store lookup response.
type itunesLookup struct {
	ResultCount int `json:"resultCount"`
	Results     []struct {
		TrackID   int64  `json:"trackId"`
		TrackName string `json:"trackName"`
	} `json:"results"`
}

func (p *ITunes) Harvest(ctx context.Context, f fetcher.Fetcher, prior *snapshot.Snapshot) ([]snapshot.Record, error) {
	log := zap.L().With(zap.String("provider", p.Name()))

	ids := p.staleIDs(prior)
	if len(ids) == 0 {
		log.Info("no ids to verify")
		return nil, nil
	}
	log.Info("verifying ids", zap.Int("count", len(ids)))

	checkedAt := time.Now().UTC().Format(time.RFC3339)

	var recs []snapshot.Record
	for start := 0; start < len(ids); start += itunesBatchSize {
		end := start + itunesBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch, err := p.lookupBatch(ctx, f, ids[start:end], checkedAt)
		if err != nil {
			// A failed batch stays stale and is retried next run.
			log.Warn("batch lookup failed", zap.Error(err))
			continue
		}
		recs = append(recs, batch...)
	}

	sortRecordsByKey(recs)
	return recs, nil
}

// lookupBatch queries one batch of ids; ids missing from the response are
// recorded as unavailable.
func (p *ITunes) lookupBatch(ctx context.Context, f fetcher.Fetcher, ids []string, checkedAt string) ([]snapshot.Record, error) {
	country := p.cfg.Country
	if country == "" {
		country = "us"
	}
	u := fmt.Sprintf("https://itunes.apple.com/lookup?id=%s&country=%s",
		url.QueryEscape(strings.Join(ids, ",")), country)

	var resp itunesLookup
	if err := fetcher.FetchJSON(ctx, f, u, &resp); err != nil {
		return nil, err
	}

	found := make(map[string]string, resp.ResultCount)
	for _, r := range resp.Results {
		found[strconv.FormatInt(r.TrackID, 10)] = r.TrackName
	}

	recs := make([]snapshot.Record, 0, len(ids))
	for _, id := range ids {
		title, ok := found[id]
		values := map[string]snapshot.Value{
			"available":  snapshot.String(strconv.FormatBool(ok)),
			"checked_at": snapshot.String(checkedAt),
		}
		if title != "" {
			values["title"] = snapshot.String(title)
		}
		recs = append(recs, snapshot.Record{Key: id, Values: values})
	}
	return recs, nil
}

// staleIDs returns prior keys ordered oldest-checked-first, capped by the
// configured per-run limit.
func (p *ITunes) staleIDs(prior *snapshot.Snapshot) []string {
	if prior == nil {
		return nil
	}
	type stale struct {
		id        string
		checkedAt string
	}
	var all []stale
	for _, rec := range prior.Records {
		all = append(all, stale{id: rec.Key, checkedAt: rec.Value("checked_at").Str})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].checkedAt < all[j].checkedAt })

	max := p.cfg.MaxLookups
	if max <= 0 {
		max = 5000
	}
	if len(all) > max {
		all = all[:max]
	}
	ids := make([]string, 0, len(all))
	for _, s := range all {
		ids = append(ids, s.id)
	}
	return ids
}
