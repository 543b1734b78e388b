package provider

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"regexp"
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
	appleTVSiteIndexURL  = "https://tv.apple.com/sitemaps_tv_index_movie_1.xml"
	appleTVPageWorkers   = 8
	appleTVBackfillLimit = 1000
	appleTVITunesChannel = "tvs.sbd.9001"
)

var (
	appleTVIDPattern = regexp.MustCompile(`^umc\.cmc\.[a-z0-9]{22,25}$`)
	// https://tv.apple.com/{country}/movie/{slug}/{id}
	appleTVLocPattern = regexp.MustCompile(`^https://tv\.apple\.com/us/movie/[^/]*/(umc\.cmc\.[a-z0-9]+)$`)
	// itunes id via the store playable: "tvs.sbd.9001:123456" or an
	// itmss punchout link.
	appleTVPlayablePattern = regexp.MustCompile(`tvs\.sbd\.9001:(\d+)`)
	appleTVPunchoutPattern = regexp.MustCompile(`itmss://itunes\.apple\.com/us/[^/]+/[^/]+/id(\d+)`)
	appleTVGoneMarker      = []byte("This content is no longer available.")

	appleTVExtractQuery = `
SELECT ?item ?anchor ?value WHERE {
  ?item wdt:P6398 ?anchor.
  OPTIONAL { ?item wdt:P9586 ?value. }
}
`
)

// AppleTV harvests movie ids from the tv.apple.com sitemaps and backfills
// the associated iTunes store id from each movie page, which anchors the
// id to an item holding the matching iTunes claim.
type AppleTV struct{}

// NewAppleTV creates the Apple TV sitemap harvester.
func NewAppleTV() *AppleTV {
	return &AppleTV{}
}

func (p *AppleTV) Name() string     { return "appletv" }
func (p *AppleTV) Property() string { return "P9586" }
func (p *AppleTV) Cadence() Cadence { return Weekly }
func (p *AppleTV) KeyColumn() string {
	return "appletv_id"
}
func (p *AppleTV) Columns() []string {
	return []string{"loc", "itunes_id", "in_latest_sitemap"}
}
func (p *AppleTV) VolatileColumns() []string {
	return []string{"loc", "in_latest_sitemap"}
}

func (p *AppleTV) ShouldRun(now time.Time, lastRun *time.Time) bool {
	return p.Cadence().Due(now, lastRun)
}

func (p *AppleTV) Rule() reconcile.Rule {
	return reconcile.Rule{
		Provider:      p.Name(),
		Property:      p.Property(),
		AnchorColumn:  "itunes_id",
		ValuePattern:  appleTVIDPattern,
		AssertSummary: "Add Apple TV movie ID claim via associated iTunes movie ID",
		ExtractQuery:  appleTVExtractQuery,
	}
}

// sitemapEntry is one <sitemap> or <url> element.
type sitemapEntry struct {
	Loc string `xml:"loc"`
}

func (p *AppleTV) Harvest(ctx context.Context, f fetcher.Fetcher, prior *snapshot.Snapshot) ([]snapshot.Record, error) {
	log := zap.L().With(zap.String("provider", p.Name()))

	ids, err := p.fetchSitemapIDs(ctx, f, log)
	if err != nil {
		return nil, err
	}
	log.Info("sitemap parsed", zap.Int("ids", len(ids)))

	recs := make([]snapshot.Record, 0, len(ids))
	for id, loc := range ids {
		recs = append(recs, snapshot.Record{Key: id, Values: map[string]snapshot.Value{
			"loc":               snapshot.String(loc),
			"in_latest_sitemap": snapshot.String("true"),
		}})
	}

	if err := p.backfillITunesIDs(ctx, f, prior, recs, log); err != nil {
		return nil, err
	}

	sortRecordsByKey(recs)
	return recs, nil
}

// fetchSitemapIDs walks the sitemap index and collects the US movie ids
// from each gzipped member sitemap.
func (p *AppleTV) fetchSitemapIDs(ctx context.Context, f fetcher.Fetcher, log *zap.Logger) (map[string]string, error) {
	index, err := p.fetchEntries(ctx, f, appleTVSiteIndexURL, false)
	if err != nil {
		return nil, err
	}

	ids := make(map[string]string)
	for _, sm := range index {
		urls, err := p.fetchEntries(ctx, f, sm.Loc, true)
		if err != nil {
			// A missing member sitemap leaves a partial but valid harvest.
			log.Warn("sitemap fetch failed", zap.String("loc", sm.Loc), zap.Error(err))
			continue
		}
		for _, u := range urls {
			m := appleTVLocPattern.FindStringSubmatch(u.Loc)
			if m == nil {
				continue
			}
			if _, ok := ids[m[1]]; !ok {
				ids[m[1]] = u.Loc
			}
		}
	}
	return ids, nil
}

func (p *AppleTV) fetchEntries(ctx context.Context, f fetcher.Fetcher, url string, gzipped bool) ([]sitemapEntry, error) {
	body, err := f.Download(ctx, url)
	if err != nil {
		return nil, eris.Wrapf(err, "appletv: download sitemap %s", url)
	}
	defer body.Close()

	var r io.Reader = body
	if gzipped {
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, eris.Wrap(err, "appletv: open sitemap gzip")
		}
		defer gz.Close()
		r = gz
	}

	elem := "url"
	if !gzipped {
		elem = "sitemap"
	}
	entryCh, errCh := fetcher.StreamXML[sitemapEntry](ctx, r, elem)

	var entries []sitemapEntry
	for e := range entryCh {
		entries = append(entries, e)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return entries, nil
}

// backfillITunesIDs scrapes movie pages for keys whose snapshot row has no
// itunes_id yet, capped per run.
func (p *AppleTV) backfillITunesIDs(ctx context.Context, f fetcher.Fetcher, prior *snapshot.Snapshot, recs []snapshot.Record, log *zap.Logger) error {
	var pending []int
	for i, rec := range recs {
		if len(pending) >= appleTVBackfillLimit {
			break
		}
		if old, ok := prior.Get(rec.Key); ok && old.Value("itunes_id").Valid {
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return nil
	}
	log.Info("backfilling itunes ids", zap.Int("count", len(pending)))

	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(appleTVPageWorkers)
	for _, i := range pending {
		g.Go(func() error {
			id, err := p.scrapeITunesID(gctx, f, recs[i].Values["loc"].Str)
			if err != nil {
				log.Warn("page scrape failed", zap.String("id", recs[i].Key), zap.Error(err))
				return nil
			}
			if id == "" {
				return nil
			}
			mu.Lock()
			recs[i].Values["itunes_id"] = snapshot.String(id)
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// scrapeITunesID pulls the iTunes store id out of a movie page: first via
// the store playable marker, then via an itmss punchout link. Pages for
// withdrawn movies return no id.
func (p *AppleTV) scrapeITunesID(ctx context.Context, f fetcher.Fetcher, loc string) (string, error) {
	body, err := f.Download(ctx, loc)
	if err != nil {
		return "", err
	}
	defer body.Close()

	page, err := io.ReadAll(io.LimitReader(body, 4<<20))
	if err != nil {
		return "", eris.Wrap(err, "appletv: read movie page")
	}
	if bytes.Contains(page, appleTVGoneMarker) {
		return "", nil
	}

	if m := appleTVPlayablePattern.FindSubmatch(page); m != nil {
		return string(m[1]), nil
	}
	if m := appleTVPunchoutPattern.FindSubmatch(page); m != nil {
		return string(m[1]), nil
	}
	return "", nil
}
