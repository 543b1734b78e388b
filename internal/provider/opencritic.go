package provider

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mediagraph/catalog-cli/internal/config"
	"github.com/mediagraph/catalog-cli/internal/fetcher"
	"github.com/mediagraph/catalog-cli/internal/reconcile"
	"github.com/mediagraph/catalog-cli/internal/snapshot"
	"github.com/mediagraph/catalog-cli/internal/statement"
)

const (
	openCriticLookupLimit   = 500
	openCriticLookupWorkers = 4
	openCriticDefaultAPI    = "https://opencritic-api.p.rapidapi.com"
)

var (
	openCriticScorePattern = regexp.MustCompile(`^\d{1,3}/100$`)
	openCriticExtractQuery = `
SELECT ?item ?anchor ?value WHERE {
  ?item wdt:P2864 ?anchor.
  OPTIONAL {
    ?item p:P444 ?statement.
    ?statement pq:P447 wd:Q21039459.
    ?statement ps:P444 ?value.
  }
}
`
)

// OpenCritic refreshes the top-critic average for games that carry an
// OpenCritic id. Scores are periodically refreshed rather than asserted
// once, so changed values update the recorded claim in place.
type OpenCritic struct {
	cfg config.OpenCriticConfig
}

// NewOpenCritic creates the review score refresher.
func NewOpenCritic(cfg config.OpenCriticConfig) *OpenCritic {
	return &OpenCritic{cfg: cfg}
}

func (p *OpenCritic) Name() string     { return "opencritic" }
func (p *OpenCritic) Property() string { return "P444" }
func (p *OpenCritic) Cadence() Cadence { return Weekly }
func (p *OpenCritic) KeyColumn() string {
	return "opencritic_id"
}
func (p *OpenCritic) Columns() []string {
	return []string{"name", "score", "num_reviews", "checked_at"}
}
func (p *OpenCritic) VolatileColumns() []string {
	return []string{"score", "num_reviews", "checked_at"}
}

func (p *OpenCritic) ShouldRun(now time.Time, lastRun *time.Time) bool {
	return p.Cadence().Due(now, lastRun)
}

func (p *OpenCritic) Rule() reconcile.Rule {
	return reconcile.Rule{
		Provider:      p.Name(),
		Property:      p.Property(),
		ValueColumn:   "score",
		UpdateInPlace: true,
		ValuePattern:  openCriticScorePattern,
		AssertSummary: "Add OpenCritic top critic average review score",
		ExtractQuery:  openCriticExtractQuery,
		Qualifiers: []reconcile.QualifierColumn{
			{Property: "P7887", Column: "num_reviews"},
		},
		ConstQualifiers: []statement.Qualifier{
			{Property: "P447", Value: "Q21039459"},
			{Property: "P459", Value: "Q114712322"},
		},
		PointInTime: true,
	}
}

// openCriticGame is the game API response.
type openCriticGame struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	NumReviews     int     `json:"numReviews"`
	TopCriticScore float64 `json:"topCriticScore"`
}

func (p *OpenCritic) Harvest(ctx context.Context, f fetcher.Fetcher, prior *snapshot.Snapshot) ([]snapshot.Record, error) {
	log := zap.L().With(zap.String("provider", p.Name()))

	ids := p.staleIDs(prior)
	if len(ids) == 0 {
		log.Info("no games to refresh")
		return nil, nil
	}
	log.Info("refreshing scores", zap.Int("count", len(ids)))

	base := p.cfg.BaseURL
	if base == "" {
		base = openCriticDefaultAPI
	}
	checkedAt := time.Now().UTC().Format(time.RFC3339)

	var (
		mu   sync.Mutex
		recs []snapshot.Record
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(openCriticLookupWorkers)
	for _, id := range ids {
		g.Go(func() error {
			var game openCriticGame
			if err := fetcher.FetchJSON(gctx, f, fmt.Sprintf("%s/game/%s", base, id), &game); err != nil {
				log.Warn("game lookup failed", zap.String("id", id), zap.Error(err))
				return nil
			}
			mu.Lock()
			recs = append(recs, p.gameRecord(id, game, checkedAt))
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

// gameRecord maps an API response to a snapshot row. Unreleased games
// report a non-positive score and contribute no value.
func (p *OpenCritic) gameRecord(id string, game openCriticGame, checkedAt string) snapshot.Record {
	values := map[string]snapshot.Value{
		"checked_at": snapshot.String(checkedAt),
	}
	if game.Name != "" {
		values["name"] = snapshot.String(game.Name)
	}
	if game.TopCriticScore > 0 {
		values["score"] = snapshot.String(fmt.Sprintf("%d/100", int(math.Round(game.TopCriticScore))))
		values["num_reviews"] = snapshot.String(strconv.Itoa(game.NumReviews))
	}
	return snapshot.Record{Key: id, Values: values}
}

// staleIDs returns prior keys oldest-checked-first, capped per run.
func (p *OpenCritic) staleIDs(prior *snapshot.Snapshot) []string {
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
	if n > openCriticLookupLimit {
		n = openCriticLookupLimit
	}
	ids := make([]string, 0, n)
	for _, s := range all[:n] {
		ids = append(ids, s.id)
	}
	return ids
}
