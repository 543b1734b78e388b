package provider

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mediagraph/catalog-cli/internal/fetcher"
	"github.com/mediagraph/catalog-cli/internal/reconcile"
	"github.com/mediagraph/catalog-cli/internal/snapshot"
)

const (
	imdbCheckLimit   = 1000 // ids re-verified per harvest
	imdbCheckWorkers = 8
)

var (
	imdbIDPattern    = regexp.MustCompile(`^(tt|nm)\d+$`)
	imdbTitlePath    = regexp.MustCompile(`/title/(tt\d+)/?`)
	imdbNamePath     = regexp.MustCompile(`/name/(nm\d+)/?`)
	imdbExtractQuery = `
SELECT ?item ?anchor ?value WHERE {
  ?item wdt:P345 ?anchor.
  BIND(?anchor AS ?value)
}
`
)

// IMDb re-verifies known IMDb identifiers: ids that now redirect to a
// canonical id, or 404 outright, are marked unavailable so their recorded
// claims can be deprecated. IMDb publishes no enumerable catalog, so this
// provider discovers no new keys; they enter the snapshot via seeding.
type IMDb struct{}

// NewIMDb creates the IMDb identifier checker.
func NewIMDb() *IMDb {
	return &IMDb{}
}

func (p *IMDb) Name() string     { return "imdb" }
func (p *IMDb) Property() string { return "P345" }
func (p *IMDb) Cadence() Cadence { return Weekly }
func (p *IMDb) KeyColumn() string {
	return "imdb_id"
}
func (p *IMDb) Columns() []string {
	return []string{"canonical_id", "available", "checked_at"}
}
func (p *IMDb) VolatileColumns() []string {
	return []string{"canonical_id", "available", "checked_at"}
}

func (p *IMDb) ShouldRun(now time.Time, lastRun *time.Time) bool {
	return p.Cadence().Due(now, lastRun)
}

func (p *IMDb) Rule() reconcile.Rule {
	return reconcile.Rule{
		Provider:             p.Name(),
		Property:             p.Property(),
		AvailableColumn:      "available",
		AuthoritativeRemoval: true,
		ValuePattern:         imdbIDPattern,
		DeprecateSummary:     "Withdrawn identifier value",
		ExtractQuery:         imdbExtractQuery,
	}
}

func (p *IMDb) Harvest(ctx context.Context, f fetcher.Fetcher, prior *snapshot.Snapshot) ([]snapshot.Record, error) {
	log := zap.L().With(zap.String("provider", p.Name()))

	ids := p.staleIDs(prior)
	if len(ids) == 0 {
		log.Info("no ids to verify")
		return nil, nil
	}
	log.Info("verifying ids", zap.Int("count", len(ids)))

	var (
		mu   sync.Mutex
		recs []snapshot.Record
	)
	checkedAt := time.Now().UTC().Format(time.RFC3339)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imdbCheckWorkers)
	for _, id := range ids {
		g.Go(func() error {
			rec, err := p.checkID(gctx, f, id, checkedAt)
			if err != nil {
				// Skip the id this run; it stays stale and is retried next time.
				log.Warn("id check failed", zap.String("id", id), zap.Error(err))
				return nil
			}
			mu.Lock()
			recs = append(recs, rec)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortRecordsByKey(recs)
	return recs, nil
}

// staleIDs returns prior keys that have never been checked, oldest-first
// capped at imdbCheckLimit.
func (p *IMDb) staleIDs(prior *snapshot.Snapshot) []string {
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

	n := len(all)
	if n > imdbCheckLimit {
		n = imdbCheckLimit
	}
	ids := make([]string, 0, n)
	for _, s := range all[:n] {
		ids = append(ids, s.id)
	}
	return ids
}

// checkID resolves the id's canonical page without following redirects.
func (p *IMDb) checkID(ctx context.Context, f fetcher.Fetcher, id, checkedAt string) (snapshot.Record, error) {
	u, err := formattedURL(id)
	if err != nil {
		return snapshot.Record{}, err
	}

	status, location, err := f.Resolve(ctx, u)
	if err != nil {
		return snapshot.Record{}, err
	}

	values := map[string]snapshot.Value{
		"checked_at": snapshot.String(checkedAt),
	}

	switch {
	case status == http.StatusOK:
		values["available"] = snapshot.String("true")
		values["canonical_id"] = snapshot.String(id)
	case status >= 300 && status < 400:
		canonical := extractID(location)
		values["available"] = snapshot.String("false")
		if canonical != "" {
			values["canonical_id"] = snapshot.String(canonical)
		}
	default:
		values["available"] = snapshot.String("false")
	}

	return snapshot.Record{Key: id, Values: values}, nil
}

// formattedURL builds the canonical page URL for a title or name id.
func formattedURL(id string) (string, error) {
	switch {
	case len(id) > 2 && id[:2] == "tt":
		return fmt.Sprintf("https://www.imdb.com/title/%s/", id), nil
	case len(id) > 2 && id[:2] == "nm":
		return fmt.Sprintf("https://www.imdb.com/name/%s/", id), nil
	default:
		return "", eris.Errorf("provider: invalid imdb id %q", id)
	}
}

// extractID pulls a title or name id out of a redirect location.
func extractID(location string) string {
	if m := imdbTitlePath.FindStringSubmatch(location); m != nil {
		return m[1]
	}
	if m := imdbNamePath.FindStringSubmatch(location); m != nil {
		return m[1]
	}
	return ""
}
