package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediagraph/catalog-cli/internal/snapshot"
)

func priorSnapshot(keyCol string, keys ...string) *snapshot.Snapshot {
	s := snapshot.New(keyCol)
	for _, key := range keys {
		s.Records = append(s.Records, snapshot.Record{Key: key, Values: map[string]snapshot.Value{}})
	}
	return s
}

func TestIMDbHarvestClassifiesIDs(t *testing.T) {
	f := newMockFetcher()
	f.resolves["/title/tt0111161/"] = resolveResult{status: 200}
	f.resolves["/title/tt0000001/"] = resolveResult{status: 308, location: "https://www.imdb.com/title/tt0000002/"}
	f.resolves["/name/nm0000001/"] = resolveResult{status: 404}

	p := NewIMDb()
	recs, err := p.Harvest(context.Background(), f, priorSnapshot("imdb_id", "tt0111161", "tt0000001", "nm0000001"))
	require.NoError(t, err)
	require.Len(t, recs, 3)

	byKey := make(map[string]snapshot.Record, len(recs))
	for _, rec := range recs {
		byKey[rec.Key] = rec
	}

	live := byKey["tt0111161"]
	assert.Equal(t, "true", live.Value("available").Str)
	assert.Equal(t, "tt0111161", live.Value("canonical_id").Str)

	moved := byKey["tt0000001"]
	assert.Equal(t, "false", moved.Value("available").Str)
	assert.Equal(t, "tt0000002", moved.Value("canonical_id").Str)

	dead := byKey["nm0000001"]
	assert.Equal(t, "false", dead.Value("available").Str)
	assert.False(t, dead.Value("canonical_id").Valid)
}

func TestIMDbHarvestNoPriorKeys(t *testing.T) {
	p := NewIMDb()
	recs, err := p.Harvest(context.Background(), newMockFetcher(), nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestIMDbHarvestSkipsFailedChecks(t *testing.T) {
	f := newMockFetcher()
	f.resolves["/title/tt0111161/"] = resolveResult{status: 200}
	f.errs["/title/tt0099685/"] = errNotFound

	p := NewIMDb()
	recs, err := p.Harvest(context.Background(), f, priorSnapshot("imdb_id", "tt0111161", "tt0099685"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "tt0111161", recs[0].Key)
}

func TestIMDbStaleIDsOldestFirst(t *testing.T) {
	prior := snapshot.New("imdb_id")
	prior.Records = []snapshot.Record{
		{Key: "tt0000001", Values: map[string]snapshot.Value{"checked_at": snapshot.String("2026-08-02T00:00:00Z")}},
		{Key: "tt0000002", Values: map[string]snapshot.Value{}},
		{Key: "tt0000003", Values: map[string]snapshot.Value{"checked_at": snapshot.String("2026-08-01T00:00:00Z")}},
	}

	ids := NewIMDb().staleIDs(prior)
	assert.Equal(t, []string{"tt0000002", "tt0000003", "tt0000001"}, ids)
}

func TestFormattedURL(t *testing.T) {
	u, err := formattedURL("tt0111161")
	require.NoError(t, err)
	assert.Equal(t, "https://www.imdb.com/title/tt0111161/", u)

	u, err = formattedURL("nm0000158")
	require.NoError(t, err)
	assert.Equal(t, "https://www.imdb.com/name/nm0000158/", u)

	_, err = formattedURL("ch0000001")
	assert.Error(t, err)
}

func TestIMDbRule(t *testing.T) {
	rule := NewIMDb().Rule()
	assert.Equal(t, "P345", rule.Property)
	assert.True(t, rule.AuthoritativeRemoval)
	assert.True(t, rule.ValuePattern.MatchString("tt0111161"))
	assert.True(t, rule.ValuePattern.MatchString("nm0000158"))
	assert.False(t, rule.ValuePattern.MatchString("0111161"))
}
