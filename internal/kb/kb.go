// Package kb talks to the external knowledge base: it fetches the
// per-property extract reconciliation runs against, and the blocklist of
// items that must never receive synthesized statements. Statement
// application (login, throttling, retry-on-conflict) is not handled here;
// that belongs to the external application layer consuming the statement
// stream.
package kb

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/mediagraph/catalog-cli/internal/fetcher"
	"github.com/mediagraph/catalog-cli/internal/policy"
	"github.com/mediagraph/catalog-cli/internal/reconcile"
	"github.com/mediagraph/catalog-cli/internal/snapshot"
)

var (
	qidPattern = regexp.MustCompile(`^Q[0-9]+$`)
	qidScan    = regexp.MustCompile(`Q[0-9]+`)
	entityPath = regexp.MustCompile(`/entity/(Q[0-9]+)$`)
)

// IsItem reports whether s is a well-formed item identifier.
func IsItem(s string) bool {
	return qidPattern.MatchString(s)
}

// Client reads extracts and the blocklist over HTTP.
type Client struct {
	f    fetcher.Fetcher
	opts Options
}

// Options configures the knowledge-base endpoints.
type Options struct {
	QueryEndpoint   string // SPARQL endpoint
	APIEndpoint     string // MediaWiki action API
	BlocklistPageID int    // wiki page whose plain-text extract lists blocked items
}

// DefaultOptions points at Wikidata.
func DefaultOptions() Options {
	return Options{
		QueryEndpoint:   "https://query.wikidata.org/sparql",
		APIEndpoint:     "https://www.wikidata.org/w/api.php",
		BlocklistPageID: 103442925,
	}
}

// NewClient creates a knowledge-base client fetching through f.
func NewClient(f fetcher.Fetcher, opts Options) *Client {
	if opts.QueryEndpoint == "" {
		opts.QueryEndpoint = DefaultOptions().QueryEndpoint
	}
	if opts.APIEndpoint == "" {
		opts.APIEndpoint = DefaultOptions().APIEndpoint
	}
	if opts.BlocklistPageID == 0 {
		opts.BlocklistPageID = DefaultOptions().BlocklistPageID
	}
	return &Client{f: f, opts: opts}
}

// sparqlResponse is the standard SPARQL JSON result shape restricted to
// the item/anchor/value variables every extract query selects.
type sparqlResponse struct {
	Results struct {
		Bindings []struct {
			Item   sparqlTerm `json:"item"`
			Anchor sparqlTerm `json:"anchor"`
			Value  sparqlTerm `json:"value"`
		} `json:"bindings"`
	} `json:"results"`
}

type sparqlTerm struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// FetchExtract runs a SPARQL query selecting ?item ?anchor ?value and
// returns the snapshot-shaped extract. Rows with an unusable item URI are
// skipped and counted; ?value may be unbound for items that carry no claim
// yet. The extract is read-only ground truth for one run.
func (c *Client) FetchExtract(ctx context.Context, query string) (*snapshot.Snapshot, error) {
	u := c.opts.QueryEndpoint + "?format=json&query=" + url.QueryEscape(query)

	var resp sparqlResponse
	if err := fetcher.FetchJSON(ctx, c.f, u, &resp); err != nil {
		return nil, eris.Wrap(err, "kb: fetch extract")
	}

	rows := make([]reconcile.ExtractRow, 0, len(resp.Results.Bindings))
	skipped := 0
	for _, b := range resp.Results.Bindings {
		item := itemFromURI(b.Item.Value)
		if item == "" || b.Anchor.Value == "" {
			skipped++
			continue
		}
		value := snapshot.Null
		if b.Value.Value != "" {
			value = snapshot.String(b.Value.Value)
		}
		rows = append(rows, reconcile.ExtractRow{Item: item, Anchor: b.Anchor.Value, Value: value})
	}
	if skipped > 0 {
		zap.L().Warn("kb extract rows skipped", zap.Int("skipped", skipped))
	}

	return reconcile.NewExtract(rows), nil
}

// itemFromURI extracts the item id from an entity URI; bare item ids pass
// through.
func itemFromURI(uri string) string {
	if IsItem(uri) {
		return uri
	}
	if m := entityPath.FindStringSubmatch(uri); m != nil {
		return m[1]
	}
	return ""
}

// blocklistResponse is the action API response for a plain-text page
// extract. Pages come back keyed by page id.
type blocklistResponse struct {
	Query struct {
		Pages map[string]struct {
			Extract string `json:"extract"`
		} `json:"pages"`
	} `json:"query"`
}

// FetchBlocklist downloads the maintained exclusion page and scans it for
// item identifiers. Any failure is fatal for the run: statements must
// never be emitted while the exclusion list cannot be verified fresh.
func (c *Client) FetchBlocklist(ctx context.Context) (*policy.Blocklist, error) {
	u := c.opts.APIEndpoint + "?" + url.Values{
		"action":      {"query"},
		"format":      {"json"},
		"pageids":     {strconv.Itoa(c.opts.BlocklistPageID)},
		"prop":        {"extracts"},
		"explaintext": {"1"},
	}.Encode()

	var resp blocklistResponse
	if err := fetcher.FetchJSON(ctx, c.f, u, &resp); err != nil {
		return nil, eris.Wrap(err, "kb: fetch blocklist")
	}

	var extract string
	for _, page := range resp.Query.Pages {
		extract = page.Extract
	}
	if extract == "" {
		return nil, eris.Errorf("kb: blocklist page %d has no extract", c.opts.BlocklistPageID)
	}

	items := qidScan.FindAllString(extract, -1)
	sort.Strings(items)
	return policy.NewBlocklist(items), nil
}
