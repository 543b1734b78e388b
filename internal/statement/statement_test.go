package statement

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		st   Statement
		want string
	}{
		{
			name: "assert",
			st: Statement{
				Item: "Q172241", Property: "P4947", Value: "550",
				Op: OpAssert, Summary: "Add TMDb movie ID claim via associated IMDb ID",
			},
			want: "Q172241\tP4947\t\"550\"\t/* Add TMDb movie ID claim via associated IMDb ID */",
		},
		{
			name: "deprecate",
			st: Statement{
				Item: "Q3107329", Property: "P6398", Value: "909253",
				Op: OpDeprecate, Summary: "Withdrawn identifier value",
			},
			want: "-Q3107329\tP6398\t\"909253\"\t/* Withdrawn identifier value */",
		},
		{
			name: "update with qualifiers",
			st: Statement{
				Item: "Q64611408", Property: "P444", Value: "84%", Op: OpUpdate,
				Qualifiers: []Qualifier{
					{Property: "P459", Value: "Q114712322"},
					{Property: "P7887", Value: "131"},
				},
			},
			want: "Q64611408\tP444\t\"84%\"\tP459\tQ114712322\tP7887\t131",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.st.Encode())
		})
	}
}

func TestWrite(t *testing.T) {
	var b strings.Builder
	err := Write(&b, []Statement{
		{Item: "Q1", Property: "P345", Value: "tt1", Op: OpAssert},
		{Item: "Q2", Property: "P345", Value: "tt2", Op: OpDeprecate},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Q1\tP345\t\"tt1\"", lines[0])
	assert.Equal(t, "-Q2\tP345\t\"tt2\"", lines[1])
}

func TestSort(t *testing.T) {
	stmts := []Statement{
		{Item: "Q100", Property: "P4947", Value: "1"},
		{Item: "Q99", Property: "P4983", Value: "2"},
		{Item: "Q99", Property: "P345", Value: "tt3", Op: OpDeprecate},
		{Item: "Q99", Property: "P345", Value: "tt4", Op: OpAssert},
	}

	Sort(stmts)

	assert.Equal(t, "Q99", stmts[0].Item)
	assert.Equal(t, "P345", stmts[0].Property)
	// Pair order within the same item/property is preserved.
	assert.Equal(t, OpDeprecate, stmts[0].Op)
	assert.Equal(t, OpAssert, stmts[1].Op)
	assert.Equal(t, "P4983", stmts[2].Property)
	assert.Equal(t, "Q100", stmts[3].Item)
}

func TestSortIsDeterministic(t *testing.T) {
	a := []Statement{
		{Item: "Q7", Property: "P1"},
		{Item: "Q10", Property: "P1"},
		{Item: "Q7", Property: "P0"},
	}
	b := append([]Statement(nil), a...)

	Sort(a)
	Sort(b)
	assert.Equal(t, a, b)
	assert.Equal(t, "P0", a[0].Property)
	assert.Equal(t, "Q10", a[2].Item)
}
