package dal

import (
	"strconv"
	"strings"
)

// Dialect identifies the SQL flavour a statement is rendered for.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
	Oracle
	MySQL
)

func (d Dialect) String() string {
	switch d {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	case Oracle:
		return "oracle"
	case MySQL:
		return "mysql"
	default:
		return "dialect(" + strconv.Itoa(int(d)) + ")"
	}
}

// ParseDialect maps a configuration name to a Dialect.
func ParseDialect(name string) (Dialect, bool) {
	switch strings.ToLower(name) {
	case "sqlite", "sqlite3":
		return SQLite, true
	case "postgres", "postgresql":
		return Postgres, true
	case "oracle":
		return Oracle, true
	case "mysql":
		return MySQL, true
	}
	return SQLite, false
}

// NativeSequences reports whether sequences are rendered inline.
func (d Dialect) NativeSequences() bool {
	return d == Postgres || d == Oracle
}

// NativeReturning reports whether "returning" clauses are rendered.
// MySQL has no returning clause; the executor emulates it.
func (d Dialect) NativeReturning() bool {
	return d != MySQL
}

// TableLocks reports whether "lock table" is meaningful.
func (d Dialect) TableLocks() bool {
	return d == Postgres || d == Oracle
}

// ReleaseSavepoints reports whether "release savepoint" exists.
func (d Dialect) ReleaseSavepoints() bool {
	return d != Oracle
}

func (d Dialect) defaultPlaceholder() Placeholder {
	switch d {
	case Postgres:
		return NumericPlaceholder("$")
	case Oracle:
		return NumericPlaceholder(":")
	default:
		return FixedPlaceholder("?")
	}
}

// oracleKeywords are column names that must be quoted on Oracle.
var oracleKeywords = map[string]bool{
	"ACCESS": true,
	"SIZE":   true,
	"PATH":   true,
	"MODE":   true,
	"UID":    true,
}

// Placeholder produces the placeholder tokens for one rendering pass.
type Placeholder interface {
	// Start returns a token generator for a fresh rendering pass.
	Start() func() string
}

// FixedPlaceholder always renders the same token ("?" or "%s").
type FixedPlaceholder string

func (p FixedPlaceholder) Start() func() string {
	return func() string { return string(p) }
}

// NumericPlaceholder renders a prefix followed by a 1-based position
// (":1", ":2", ... or "$1", "$2", ...).
type NumericPlaceholder string

func (p NumericPlaceholder) Start() func() string {
	n := 0
	return func() string {
		n++
		return string(p) + strconv.Itoa(n)
	}
}

// RenderOption configures a call to ToSQL.
type RenderOption func(*renderConfig)

type renderConfig struct {
	dialect     Dialect
	placeholder Placeholder
	quote       func(string) string
}

// WithDialect selects the target dialect. Default is SQLite.
func WithDialect(d Dialect) RenderOption {
	return func(c *renderConfig) { c.dialect = d }
}

// WithPlaceholder overrides the dialect's placeholder style.
func WithPlaceholder(p Placeholder) RenderOption {
	return func(c *renderConfig) { c.placeholder = p }
}

// WithQuote sets a function applied to every piece of SQL text (but never
// to placeholder tokens).
func WithQuote(fn func(string) string) RenderOption {
	return func(c *renderConfig) { c.quote = fn }
}

func newRenderer(opts []RenderOption) *renderer {
	cfg := renderConfig{dialect: SQLite}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.placeholder == nil {
		cfg.placeholder = cfg.dialect.defaultPlaceholder()
	}
	if cfg.quote == nil {
		cfg.quote = func(s string) string { return s }
	}
	return &renderer{cfg: cfg, next: cfg.placeholder.Start()}
}

// renderer accumulates SQL text and parameters for one rendering pass.
type renderer struct {
	cfg    renderConfig
	next   func() string
	b      strings.Builder
	params []any
	scope  []*Table

	returnParams []int
}

func (r *renderer) text(s string) {
	r.b.WriteString(r.cfg.quote(s))
}

func (r *renderer) placeholder(v any) {
	r.b.WriteString(r.next())
	r.params = append(r.params, v)
}

// withScope renders fn with the given tables in scope for column
// qualification, restoring the previous scope afterwards.
func (r *renderer) withScope(tables []*Table, fn func()) {
	saved := r.scope
	r.scope = tables
	fn()
	r.scope = saved
}

func (r *renderer) tableName(t *Table) string {
	return t.Name
}

func (r *renderer) columnName(c *Column) string {
	name := c.Name
	if r.cfg.dialect == Oracle && oracleKeywords[strings.ToUpper(name)] {
		name = `"` + name + `"`
	}
	for _, t := range r.scope {
		if t != c.Table && t.HasColumn(c.Name) {
			return c.Table.Name + "." + name
		}
	}
	return name
}

func (r *renderer) fragment() *Fragment {
	return &Fragment{
		Text:         r.b.String(),
		Params:       r.params,
		ReturnParams: r.returnParams,
	}
}
