package kb

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/mediagraph/catalog-cli/internal/fetcher"
	"github.com/mediagraph/catalog-cli/internal/policy"
	"github.com/mediagraph/catalog-cli/internal/reconcile"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		RateLimiters: map[string]*rate.Limiter{},
	})
	return NewClient(f, Options{
		QueryEndpoint:   srv.URL + "/sparql",
		APIEndpoint:     srv.URL + "/w/api.php",
		BlocklistPageID: 103442925,
	})
}

const sparqlFixture = `{
  "results": {
    "bindings": [
      {
        "item": {"type": "uri", "value": "http://www.wikidata.org/entity/Q190050"},
        "anchor": {"type": "literal", "value": "tt0137523"}
      },
      {
        "item": {"type": "uri", "value": "http://www.wikidata.org/entity/Q83495"},
        "anchor": {"type": "literal", "value": "tt0133093"},
        "value": {"type": "literal", "value": "603"}
      },
      {
        "item": {"type": "uri", "value": "http://www.wikidata.org/entity/garbage"},
        "anchor": {"type": "literal", "value": "tt0000001"}
      }
    ]
  }
}`

func TestFetchExtract(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("query"), "SELECT")
		io.WriteString(w, sparqlFixture)
	})

	ex, err := client.FetchExtract(context.Background(), "SELECT ?item ?anchor ?value WHERE { }")
	require.NoError(t, err)

	require.Equal(t, 2, ex.Len())
	r, ok := ex.Get("tt0137523")
	require.True(t, ok)
	assert.Equal(t, "Q190050", r.Value(reconcile.ExtractItemColumn).Str)
	assert.False(t, r.Value(reconcile.ExtractValueColumn).Valid)

	r, ok = ex.Get("tt0133093")
	require.True(t, ok)
	assert.Equal(t, "603", r.Value(reconcile.ExtractValueColumn).Str)
}

func TestFetchBlocklist(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "103442925", r.URL.Query().Get("pageids"))
		io.WriteString(w, `{"query":{"pages":{"103442925":{"extract":"Please do not edit Q4115189 or Q13406268."}}}}`)
	})

	bl, err := client.FetchBlocklist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, bl.Len())
	assert.True(t, bl.Blocked("Q4115189", "P345"))
	assert.False(t, bl.Blocked("Q60", "P345"))
}

func TestFetchBlocklist_EmptyExtractIsFatal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"query":{"pages":{"103442925":{"extract":""}}}}`)
	})

	_, err := client.FetchBlocklist(context.Background())
	assert.Error(t, err)
}

func TestItemFromURI(t *testing.T) {
	assert.Equal(t, "Q60", itemFromURI("http://www.wikidata.org/entity/Q60"))
	assert.Equal(t, "Q60", itemFromURI("Q60"))
	assert.Equal(t, "", itemFromURI("http://www.wikidata.org/entity/P345"))
	assert.Equal(t, "", itemFromURI(""))
}

func TestApplyBlocklistFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blocklist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"items:\n  - Q4115189\npairs:\n  - item: Q172241\n    property: P444\n"), 0o644))

	bl := policy.NewBlocklist(nil)
	require.NoError(t, ApplyBlocklistFile(bl, path))
	assert.True(t, bl.Blocked("Q4115189", "P345"))
	assert.True(t, bl.Blocked("Q172241", "P444"))
	assert.False(t, bl.Blocked("Q172241", "P345"))

	// Missing file is fine; malformed item is not.
	require.NoError(t, ApplyBlocklistFile(bl, filepath.Join(dir, "missing.yaml")))
	require.NoError(t, os.WriteFile(path, []byte("items:\n  - banana\n"), 0o644))
	assert.Error(t, ApplyBlocklistFile(bl, path))
}
