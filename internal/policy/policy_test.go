package policy

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediagraph/catalog-cli/internal/reconcile"
	"github.com/mediagraph/catalog-cli/internal/statement"
)

func TestFilter_BlocklistVeto(t *testing.T) {
	cands := []statement.Statement{
		{Item: "Q60", Property: "P6398", Value: "100", Op: statement.OpAssert},
	}
	bl := NewBlocklist([]string{"Q60"})

	accepted, dropped := Filter(cands, bl, reconcile.Rule{})
	assert.Empty(t, accepted)
	assert.Equal(t, 1, dropped.Blocked)
	assert.Equal(t, 1, dropped.Total())
}

func TestFilter_PairVeto(t *testing.T) {
	cands := []statement.Statement{
		{Item: "Q60", Property: "P6398", Value: "100"},
		{Item: "Q60", Property: "P4947", Value: "550"},
	}
	bl := NewBlocklist(nil)
	bl.AddPair("Q60", "P6398")

	accepted, dropped := Filter(cands, bl, reconcile.Rule{})
	require.Len(t, accepted, 1)
	assert.Equal(t, "P4947", accepted[0].Property)
	assert.Equal(t, 1, dropped.Blocked)
}

func TestFilter_SanityPredicate(t *testing.T) {
	rule := reconcile.Rule{
		ValuePattern: regexp.MustCompile(`^tt\d+$`),
		Sentinels:    []string{"tt0000000"},
	}
	cands := []statement.Statement{
		{Item: "Q1", Property: "P345", Value: "tt123"},
		{Item: "Q2", Property: "P345", Value: ""},
		{Item: "Q3", Property: "P345", Value: "nm123"},
		{Item: "Q4", Property: "P345", Value: "tt0000000"},
	}

	accepted, dropped := Filter(cands, NewBlocklist(nil), rule)
	require.Len(t, accepted, 1)
	assert.Equal(t, "Q1", accepted[0].Item)
	assert.Equal(t, Dropped{Empty: 1, Malformed: 1, Sentinel: 1}, dropped)
}

func TestFilter_PreservesOrderAndContent(t *testing.T) {
	cands := []statement.Statement{
		{Item: "Q3", Property: "P345", Value: "tt3", Summary: "a"},
		{Item: "Q1", Property: "P345", Value: "tt1", Summary: "b"},
		{Item: "Q2", Property: "P345", Value: "bad value"},
		{Item: "Q4", Property: "P345", Value: "tt4", Summary: "c"},
	}
	rule := reconcile.Rule{ValuePattern: regexp.MustCompile(`^tt\d+$`)}

	accepted, _ := Filter(cands, NewBlocklist(nil), rule)

	// Output is a subsequence of the input: same statements, same relative
	// order, untouched.
	require.Len(t, accepted, 3)
	assert.Equal(t, cands[0], accepted[0])
	assert.Equal(t, cands[1], accepted[1])
	assert.Equal(t, cands[3], accepted[2])
}

func TestFilter_EmptyInputs(t *testing.T) {
	accepted, dropped := Filter(nil, NewBlocklist(nil), reconcile.Rule{})
	assert.Empty(t, accepted)
	assert.Zero(t, dropped.Total())

	var nilBl *Blocklist
	assert.False(t, nilBl.Blocked("Q1", "P345"))
	assert.Zero(t, nilBl.Len())
}
