package query

import "time"

// Expression is a node of the search algebra.
//
// This is a sealed interface - only types in this package implement it.
type Expression interface {
	queryNode()
}

// Field names an indexed object attribute.
type Field string

const (
	FieldResourceName Field = "RESOURCE_NAME"
	FieldUID          Field = "UID"
	FieldType         Field = "TYPE"
	FieldOrganizer    Field = "ORGANIZER"
)

// Op is a text comparison.
type Op int

const (
	OpContains Op = iota
	OpIs
	OpStartsWith
	OpEndsWith
)

func (o Op) String() string {
	switch o {
	case OpContains:
		return "contains"
	case OpIs:
		return "is"
	case OpStartsWith:
		return "starts-with"
	case OpEndsWith:
		return "ends-with"
	default:
		return "unknown"
	}
}

// All matches every object.
type All struct{}

// Not negates its operand.
type Not struct {
	Expr Expression
}

// And matches when every operand matches.
type And []Expression

// Or matches when any operand matches.
type Or []Expression

// Match compares a field against a text value.
type Match struct {
	Field Field
	Op    Op
	Text  string

	// Negate inverts the comparison (not-contains, is-not, ...).
	Negate bool

	// CaseSensitive compares exactly. Otherwise both sides are lowered.
	CaseSensitive bool
}

// In matches when the field equals one of Values.
type In struct {
	Field  Field
	Values []string
	Negate bool
}

// TimeRange matches calendar objects with an instance overlapping the
// range. A zero bound is open. StartFloat and EndFloat are the bounds for
// floating instances; when zero, the generator derives them from its
// location.
type TimeRange struct {
	Start, End           time.Time
	StartFloat, EndFloat time.Time
}

func (All) queryNode()       {}
func (Not) queryNode()       {}
func (And) queryNode()       {}
func (Or) queryNode()        {}
func (Match) queryNode()     {}
func (In) queryNode()        {}
func (TimeRange) queryNode() {}

// scope restricts a search to one collection. Generate inserts it.
type scope struct {
	id int64
}

func (scope) queryNode() {}

func Contains(f Field, text string, caseSensitive bool) Match {
	return Match{Field: f, Op: OpContains, Text: text, CaseSensitive: caseSensitive}
}

func NotContains(f Field, text string, caseSensitive bool) Match {
	return Match{Field: f, Op: OpContains, Text: text, Negate: true, CaseSensitive: caseSensitive}
}

func Is(f Field, text string, caseSensitive bool) Match {
	return Match{Field: f, Op: OpIs, Text: text, CaseSensitive: caseSensitive}
}

func IsNot(f Field, text string, caseSensitive bool) Match {
	return Match{Field: f, Op: OpIs, Text: text, Negate: true, CaseSensitive: caseSensitive}
}

func StartsWith(f Field, text string, caseSensitive bool) Match {
	return Match{Field: f, Op: OpStartsWith, Text: text, CaseSensitive: caseSensitive}
}

func NotStartsWith(f Field, text string, caseSensitive bool) Match {
	return Match{Field: f, Op: OpStartsWith, Text: text, Negate: true, CaseSensitive: caseSensitive}
}

func EndsWith(f Field, text string, caseSensitive bool) Match {
	return Match{Field: f, Op: OpEndsWith, Text: text, CaseSensitive: caseSensitive}
}

func NotEndsWith(f Field, text string, caseSensitive bool) Match {
	return Match{Field: f, Op: OpEndsWith, Text: text, Negate: true, CaseSensitive: caseSensitive}
}

// OneOf builds an In term.
func OneOf(f Field, values ...string) In {
	return In{Field: f, Values: values}
}

// NoneOf builds a negated In term.
func NoneOf(f Field, values ...string) In {
	return In{Field: f, Values: values, Negate: true}
}

// isTimeRange reports whether e is a top-level time range term.
func isTimeRange(e Expression) bool {
	_, ok := e.(TimeRange)
	return ok
}
