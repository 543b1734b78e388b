package provider

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediagraph/catalog-cli/internal/config"
	"github.com/mediagraph/catalog-cli/internal/snapshot"
)

func TestITunesHarvestMarksAvailability(t *testing.T) {
	f := newMockFetcher()
	f.responses["itunes.apple.com/lookup"] = `{
		"resultCount": 1,
		"results": [{"trackId": 286912053, "trackName": "The Dark Knight", "kind": "feature-movie"}]
	}`

	p := NewITunes(config.ITunesConfig{Country: "us"})
	recs, err := p.Harvest(context.Background(), f, priorSnapshot("itunes_id", "286912053", "12345"))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	gone := recs[0]
	assert.Equal(t, "12345", gone.Key)
	assert.Equal(t, "false", gone.Value("available").Str)
	assert.False(t, gone.Value("title").Valid)

	live := recs[1]
	assert.Equal(t, "286912053", live.Key)
	assert.Equal(t, "true", live.Value("available").Str)
	assert.Equal(t, "The Dark Knight", live.Value("title").Str)
}

func TestITunesHarvestBatches(t *testing.T) {
	f := newMockFetcher()
	f.responses["itunes.apple.com/lookup"] = `{"resultCount": 0, "results": []}`

	keys := make([]string, 0, itunesBatchSize+1)
	for i := 0; i < itunesBatchSize+1; i++ {
		keys = append(keys, strconv.Itoa(1000+i))
	}

	p := NewITunes(config.ITunesConfig{})
	recs, err := p.Harvest(context.Background(), f, priorSnapshot("itunes_id", keys...))
	require.NoError(t, err)
	assert.Len(t, recs, itunesBatchSize+1)
	assert.Equal(t, 2, f.requestCount())
}

func TestITunesHarvestSkipsFailedBatch(t *testing.T) {
	f := newMockFetcher()
	f.errs["itunes.apple.com/lookup"] = errNotFound

	p := NewITunes(config.ITunesConfig{})
	recs, err := p.Harvest(context.Background(), f, priorSnapshot("itunes_id", "1", "2"))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestITunesHarvestRespectsLookupCap(t *testing.T) {
	f := newMockFetcher()
	f.responses["itunes.apple.com/lookup"] = `{"resultCount": 0, "results": []}`

	prior := snapshot.New("itunes_id")
	for i := 0; i < 10; i++ {
		prior.Records = append(prior.Records, snapshot.Record{
			Key:    strconv.Itoa(i + 1),
			Values: map[string]snapshot.Value{"checked_at": snapshot.String(fmt.Sprintf("2026-08-%02dT00:00:00Z", i+1))},
		})
	}

	p := NewITunes(config.ITunesConfig{MaxLookups: 3})
	recs, err := p.Harvest(context.Background(), f, prior)
	require.NoError(t, err)
	// The three least recently checked ids.
	require.Len(t, recs, 3)
	assert.Equal(t, "1", recs[0].Key)
	assert.Equal(t, "2", recs[1].Key)
	assert.Equal(t, "3", recs[2].Key)
}

func TestITunesRule(t *testing.T) {
	rule := NewITunes(config.ITunesConfig{}).Rule()
	assert.Equal(t, "P6398", rule.Property)
	assert.True(t, rule.AuthoritativeRemoval)
	assert.Equal(t, "available", rule.AvailableColumn)
}
