package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediagraph/catalog-cli/internal/config"
)

func TestOpenCriticHarvestRefreshesScores(t *testing.T) {
	f := newMockFetcher()
	f.responses["/game/1548"] = `{"id":1548,"name":"Hades","numReviews":126,"topCriticScore":92.58}`
	f.responses["/game/9999"] = `{"id":9999,"name":"Unreleased","numReviews":0,"topCriticScore":-1}`

	p := NewOpenCritic(config.OpenCriticConfig{BaseURL: "https://api.example.test"})
	recs, err := p.Harvest(context.Background(), f, priorSnapshot("opencritic_id", "1548", "9999"))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	scored := recs[0]
	assert.Equal(t, "1548", scored.Key)
	assert.Equal(t, "93/100", scored.Value("score").Str)
	assert.Equal(t, "126", scored.Value("num_reviews").Str)
	assert.Equal(t, "Hades", scored.Value("name").Str)

	unreleased := recs[1]
	assert.Equal(t, "9999", unreleased.Key)
	assert.False(t, unreleased.Value("score").Valid)
	assert.False(t, unreleased.Value("num_reviews").Valid)
}

func TestOpenCriticHarvestSkipsFailedLookups(t *testing.T) {
	f := newMockFetcher()
	f.responses["/game/1548"] = `{"id":1548,"name":"Hades","numReviews":126,"topCriticScore":92.58}`
	f.errs["/game/404"] = errNotFound

	p := NewOpenCritic(config.OpenCriticConfig{})
	recs, err := p.Harvest(context.Background(), f, priorSnapshot("opencritic_id", "1548", "404"))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "1548", recs[0].Key)
}

func TestOpenCriticRule(t *testing.T) {
	rule := NewOpenCritic(config.OpenCriticConfig{}).Rule()
	assert.Equal(t, "P444", rule.Property)
	assert.Equal(t, "score", rule.ValueColumn)
	assert.True(t, rule.UpdateInPlace)
	assert.True(t, rule.PointInTime)
	assert.True(t, rule.ValuePattern.MatchString("93/100"))
	assert.False(t, rule.ValuePattern.MatchString("93"))

	var constProps []string
	for _, q := range rule.ConstQualifiers {
		constProps = append(constProps, q.Property)
	}
	assert.Equal(t, []string{"P447", "P459"}, constProps)
}
