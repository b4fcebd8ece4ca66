package dal

import (
	"fmt"
	"sort"
)

// SQLType is the declared type of a column.
type SQLType struct {
	Name   string // "integer", "varchar", "timestamp", ...
	Length int    // 0 when the type has no length
}

// Common column types.
var (
	Integer   = SQLType{Name: "integer"}
	Text      = SQLType{Name: "text"}
	Boolean   = SQLType{Name: "boolean"}
	Timestamp = SQLType{Name: "timestamp"}
)

// Varchar returns a varchar type of the given length.
func Varchar(n int) SQLType {
	return SQLType{Name: "varchar", Length: n}
}

// Schema is a named collection of tables and sequences.
type Schema struct {
	Name      string
	tables    []*Table
	byName    map[string]*Table
	sequences map[string]*Sequence
}

// NewSchema creates an empty schema.
func NewSchema(name string) *Schema {
	return &Schema{
		Name:      name,
		byName:    make(map[string]*Table),
		sequences: make(map[string]*Sequence),
	}
}

// Table creates (or returns the existing) table with the given name.
func (s *Schema) Table(name string) *Table {
	if t, ok := s.byName[name]; ok {
		return t
	}
	t := &Table{Name: name, schema: s, byName: make(map[string]*Column)}
	s.tables = append(s.tables, t)
	s.byName[name] = t
	return t
}

// Tables returns all tables in declaration order.
func (s *Schema) Tables() []*Table {
	out := make([]*Table, len(s.tables))
	copy(out, s.tables)
	return out
}

// LookupTable returns the named table, or nil.
func (s *Schema) LookupTable(name string) *Table {
	return s.byName[name]
}

// Sequence creates (or returns) the named sequence.
func (s *Schema) Sequence(name string) *Sequence {
	if seq, ok := s.sequences[name]; ok {
		return seq
	}
	seq := &Sequence{Name: name}
	s.sequences[name] = seq
	return seq
}

// Sequences returns all sequences sorted by name.
func (s *Schema) Sequences() []*Sequence {
	out := make([]*Sequence, 0, len(s.sequences))
	for _, seq := range s.sequences {
		out = append(out, seq)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Table is a handle onto a schema table. Tables are built once, during
// schema declaration, and never mutated afterwards.
type Table struct {
	Name    string
	schema  *Schema
	columns []*Column
	byName  map[string]*Column
}

// ColumnOption customizes a column declaration.
type ColumnOption func(*Column)

// NotNull marks a column as not nullable.
func NotNull() ColumnOption {
	return func(c *Column) { c.Nullable = false }
}

// DefaultValue gives a column a literal default value.
func DefaultValue(v any) ColumnOption {
	return func(c *Column) { c.Default = v; c.hasDefault = true }
}

// DefaultSequence gives a column a default drawn from a sequence.
func DefaultSequence(seq *Sequence) ColumnOption {
	return func(c *Column) { c.Default = seq; c.hasDefault = true }
}

// DefaultNow gives a column the current UTC timestamp as default.
func DefaultNow() ColumnOption {
	return func(c *Column) { c.Default = UTCNow; c.hasDefault = true }
}

// AddColumn declares a column on the table. Columns are nullable unless
// NotNull is given.
func (t *Table) AddColumn(name string, typ SQLType, opts ...ColumnOption) *Column {
	c := &Column{Table: t, Name: name, Type: typ, Nullable: true}
	for _, opt := range opts {
		opt(c)
	}
	t.columns = append(t.columns, c)
	t.byName[name] = c
	return c
}

// Column returns the named column. It panics on unknown names: callers go
// through the typed descriptors in internal/schema, so a miss is a
// programming error caught by the first test that touches the table.
func (t *Table) Column(name string) *Column {
	c, ok := t.byName[name]
	if !ok {
		panic(fmt.Sprintf("dal: table %s has no column %s", t.Name, name))
	}
	return c
}

// HasColumn reports whether the table declares the named column.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.byName[name]
	return ok
}

// Columns returns the table's columns in declaration order.
func (t *Table) Columns() []*Column {
	out := make([]*Column, len(t.columns))
	copy(out, t.columns)
	return out
}

// Join joins another table (or join) on the given condition. A nil
// condition produces a cross join. typ is the join keyword prefix, e.g.
// "left outer"; empty means a plain join.
func (t *Table) Join(right FromItem, on Expression, typ string) *Join {
	return newJoin(t, right, on, typ)
}

func (t *Table) tables() []*Table { return []*Table{t} }

func (t *Table) fromSQL(r *renderer) { r.text(r.tableName(t)) }

func (t *Table) String() string { return t.Name }

// Column is a handle onto a table column.
type Column struct {
	Table      *Table
	Name       string
	Type       SQLType
	Nullable   bool
	Default    any
	hasDefault bool
}

// HasDefault reports whether the column declares a default value.
func (c *Column) HasDefault() bool { return c.hasDefault }

// NeedsValue reports whether an insert must supply this column.
func (c *Column) NeedsValue() bool {
	return !c.Nullable && !c.hasDefault
}

// SequenceDefault returns the sequence feeding the column's default, if any.
func (c *Column) SequenceDefault() (*Sequence, bool) {
	seq, ok := c.Default.(*Sequence)
	return seq, ok
}

func (c *Column) String() string { return c.Table.Name + "." + c.Name }

// Sequence is a monotonic counter usable as a column default.
type Sequence struct {
	Name string
}

func (s *Sequence) String() string { return s.Name }
