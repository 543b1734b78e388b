// Package statement defines the candidate change statements reconciliation
// hands to the external application layer, and their canonical line-based
// exchange encoding. Statements are immutable once emitted and each line is
// independently re-appliable, so a consumer can resume after a partial
// failure without re-deriving state.
package statement

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Op is the kind of change a statement proposes.
type Op string

const (
	// OpAssert records a new value for an item's property.
	OpAssert Op = "assert"
	// OpDeprecate marks a previously recorded value as withdrawn.
	OpDeprecate Op = "deprecate"
	// OpUpdate re-asserts a property with a fresh value and qualifiers,
	// used for score-like properties that are refreshed in place.
	OpUpdate Op = "update"
)

// Qualifier is an extra property/value pair attached to a statement, e.g.
// point-in-time or review-count annotations on a score.
type Qualifier struct {
	Property string
	Value    string
}

// Statement is one proposed change to the knowledge base.
type Statement struct {
	Item       string // knowledge-base item, e.g. Q172241
	Property   string // e.g. P4947
	Value      string // provider key or provider-derived value
	Op         Op
	Qualifiers []Qualifier
	Summary    string // edit summary shown by the application layer
}

// Encode renders the statement as a single exchange line. Assert and
// update lines are item, property, quoted value and qualifiers, tab
// separated; deprecations carry a leading "-". The trailing comment is the
// edit summary.
func (s Statement) Encode() string {
	var b strings.Builder
	if s.Op == OpDeprecate {
		b.WriteString("-")
	}
	b.WriteString(s.Item)
	b.WriteString("\t")
	b.WriteString(s.Property)
	b.WriteString("\t")
	b.WriteString(strconv.Quote(s.Value))
	for _, q := range s.Qualifiers {
		b.WriteString("\t")
		b.WriteString(q.Property)
		b.WriteString("\t")
		b.WriteString(q.Value)
	}
	if s.Summary != "" {
		fmt.Fprintf(&b, "\t/* %s */", s.Summary)
	}
	return b.String()
}

// Write encodes statements one per line to w.
func Write(w io.Writer, stmts []Statement) error {
	bw := bufio.NewWriter(w)
	for _, s := range stmts {
		if _, err := bw.WriteString(s.Encode()); err != nil {
			return eris.Wrap(err, "statement: write")
		}
		if err := bw.WriteByte('\n'); err != nil {
			return eris.Wrap(err, "statement: write")
		}
	}
	return eris.Wrap(bw.Flush(), "statement: flush")
}

// Sort orders statements by item (numeric item id), then property,
// preserving the relative order of statements that tie on both.
// Deprecate-then-assert pairs synthesized for the same item and property
// keep their pair order.
func Sort(stmts []Statement) {
	sort.SliceStable(stmts, func(i, j int) bool {
		if c := compareItems(stmts[i].Item, stmts[j].Item); c != 0 {
			return c < 0
		}
		if stmts[i].Property != stmts[j].Property {
			return stmts[i].Property < stmts[j].Property
		}
		return false
	})
}

// compareItems orders Q-prefixed item ids numerically, falling back to
// string comparison for anything malformed.
func compareItems(a, b string) int {
	an, aok := itemOrdinal(a)
	bn, bok := itemOrdinal(b)
	if aok && bok {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

func itemOrdinal(item string) (int64, bool) {
	if len(item) < 2 || item[0] != 'Q' {
		return 0, false
	}
	n, err := strconv.ParseInt(item[1:], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
