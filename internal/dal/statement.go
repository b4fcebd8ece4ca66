package dal

import (
	"sort"
)

// Statement is anything that renders to a complete SQL statement.
type Statement interface {
	ToSQL(opts ...RenderOption) *Fragment
}

// FromItem is a table or join usable in a from clause.
//
// This is a sealed interface - only *Table and *Join implement it.
type FromItem interface {
	tables() []*Table
	fromSQL(r *renderer)
}

// Join is a two-sided join. Joins nest to express multi-way joins.
type Join struct {
	Left  FromItem
	Type  string // "", "left outer", "cross", ...
	Right FromItem
	On    Expression
}

func newJoin(left, right FromItem, on Expression, typ string) *Join {
	if isNil(on) {
		on, typ = nil, "cross"
	}
	return &Join{Left: left, Type: typ, Right: right, On: on}
}

// Join extends the join with another table.
func (j *Join) Join(right FromItem, on Expression, typ string) *Join {
	return newJoin(j, right, on, typ)
}

func (j *Join) tables() []*Table {
	return append(j.Left.tables(), j.Right.tables()...)
}

// fromSQL renders a join without a condition as a cross join, whatever
// its Type.
func (j *Join) fromSQL(r *renderer) {
	typ := j.Type
	if isNil(j.On) {
		typ = "cross"
	}
	j.Left.fromSQL(r)
	r.text(" ")
	if typ != "" {
		r.text(typ + " ")
	}
	r.text("join ")
	if _, nested := j.Right.(*Join); nested {
		r.text("(")
		j.Right.fromSQL(r)
		r.text(")")
	} else {
		j.Right.fromSQL(r)
	}
	if typ != "cross" {
		r.text(" on ")
		j.On.exprSQL(r)
	}
}

// Direction is the sort direction of an order by clause.
type Direction int

const (
	Unspecified Direction = iota
	Ascending
	Descending
)

// SelectOptions describes a select statement. Zero values mean "absent".
type SelectOptions struct {
	Columns   []Expression // nil renders "*"
	From      FromItem
	Where     Expression
	GroupBy   []Expression
	Having    Expression
	OrderBy   []Expression
	Order     Direction
	Limit     int
	ForUpdate bool
	NoWait    bool
	Distinct  bool
}

// Select is a validated select statement. It is also an Expression: used
// as an operand it renders parenthesized.
type Select struct {
	opts SelectOptions
}

// NewSelect validates opts and builds a Select. Every column referenced
// by the column list must belong to a table of the from clause.
func NewSelect(opts SelectOptions) (*Select, error) {
	if opts.From == nil {
		return nil, malformed("select requires a from clause")
	}
	tables := opts.From.tables()
	for _, e := range opts.Columns {
		for _, c := range e.referencedColumns() {
			if !containsTable(tables, c.Table) {
				return nil, tableMismatch("column %s is not in the from clause", c)
			}
		}
	}
	return &Select{opts: opts}, nil
}

func containsTable(tables []*Table, t *Table) bool {
	for _, candidate := range tables {
		if candidate == t {
			return true
		}
	}
	return false
}

// ToSQL renders the statement.
func (s *Select) ToSQL(opts ...RenderOption) *Fragment {
	r := newRenderer(opts)
	s.render(r)
	return r.fragment()
}

func (s *Select) render(r *renderer) {
	o := s.opts
	r.withScope(o.From.tables(), func() {
		r.text("select ")
		if o.Distinct {
			r.text("distinct ")
		}
		if len(o.Columns) == 0 {
			r.text("*")
		} else {
			renderList(r, o.Columns)
		}
		r.text(" from ")
		o.From.fromSQL(r)
		if o.Where != nil {
			r.text(" where ")
			o.Where.exprSQL(r)
		}
		if len(o.GroupBy) > 0 {
			r.text(" group by ")
			renderList(r, o.GroupBy)
		}
		if o.Having != nil {
			r.text(" having ")
			o.Having.exprSQL(r)
		}
		if len(o.OrderBy) > 0 {
			r.text(" order by ")
			renderList(r, o.OrderBy)
			switch o.Order {
			case Ascending:
				r.text(" asc")
			case Descending:
				r.text(" desc")
			}
		}
		// SQLite serializes writers; it has no row locks to take.
		if o.ForUpdate && r.cfg.dialect != SQLite {
			r.text(" for update")
			if o.NoWait && r.cfg.dialect != MySQL {
				r.text(" nowait")
			}
		}
		if o.Limit > 0 {
			if r.cfg.dialect == Oracle {
				r.text(" fetch first ")
				r.placeholder(o.Limit)
				r.text(" rows only")
			} else {
				r.text(" limit ")
				r.placeholder(o.Limit)
			}
		}
	})
}

func (s *Select) exprSQL(r *renderer) {
	r.text("(")
	s.render(r)
	r.text(")")
}

func (s *Select) referencedColumns() []*Column { return nil }

func renderList(r *renderer, exprs []Expression) {
	for i, e := range exprs {
		if i > 0 {
			r.text(", ")
		}
		e.exprSQL(r)
	}
}

type assignment struct {
	col   *Column
	value Expression
}

func sortedAssignments(values map[*Column]any) []assignment {
	out := make([]assignment, 0, len(values))
	for c, v := range values {
		out = append(out, assignment{col: c, value: toExpr(v)})
	}
	sortAssignments(out)
	return out
}

func sortAssignments(as []assignment) {
	sort.Slice(as, func(i, j int) bool { return as[i].col.Name < as[j].col.Name })
}

// singleTable returns the one table all columns belong to.
func singleTable(cols []*Column) (*Table, error) {
	var t *Table
	for _, c := range cols {
		if t == nil {
			t = c.Table
			continue
		}
		if c.Table != t {
			return nil, tableMismatch("columns from more than one table: %s and %s", t.Name, c.Table.Name)
		}
	}
	return t, nil
}

func checkReturning(t *Table, returning []*Column) error {
	for _, c := range returning {
		if c.Table != t {
			return tableMismatch("returning column %s is not in table %s", c, t.Name)
		}
	}
	return nil
}

// renderAssigned renders a value and records where its parameter landed
// when the executor could use it to emulate a returning clause.
func renderAssigned(r *renderer, a assignment, positions map[*Column]int) {
	before := len(r.params)
	a.value.exprSQL(r)
	switch a.value.(type) {
	case Constant, Parameter, *Sequence:
		if len(r.params) == before+1 {
			positions[a.col] = before
		}
	}
}

func renderReturning(r *renderer, returning []*Column, positions map[*Column]int) {
	if len(returning) == 0 {
		return
	}
	if r.cfg.dialect.NativeReturning() {
		r.text(" returning ")
		for i, c := range returning {
			if i > 0 {
				r.text(", ")
			}
			c.exprSQL(r)
		}
		return
	}
	r.returnParams = make([]int, len(returning))
	for i, c := range returning {
		if idx, ok := positions[c]; ok {
			r.returnParams[i] = idx
		} else {
			r.returnParams[i] = -1
		}
	}
}

// Insert is a validated insert statement.
type Insert struct {
	table     *Table
	values    []assignment
	returning []*Column
}

// NewInsert validates and builds an insert. Columns are rendered sorted by
// name. Every column that is not nullable and has no default must have a
// value.
func NewInsert(values map[*Column]any, returning ...*Column) (*Insert, error) {
	if len(values) == 0 {
		return nil, malformed("insert requires at least one column")
	}
	cols := make([]*Column, 0, len(values))
	for c := range values {
		cols = append(cols, c)
	}
	t, err := singleTable(cols)
	if err != nil {
		return nil, err
	}
	var missing []*Column
	for _, c := range t.columns {
		if _, ok := values[c]; !ok && c.NeedsValue() {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i].Name < missing[j].Name })
		return nil, notEnoughValues(missing)
	}
	if err := checkReturning(t, returning); err != nil {
		return nil, err
	}
	return &Insert{table: t, values: sortedAssignments(values), returning: returning}, nil
}

// Table returns the target table.
func (i *Insert) Table() *Table { return i.table }

// ToSQL renders the statement. Outside Postgres, columns whose default is
// a sequence and that were not given a value are added explicitly, since
// the DDL of those dialects cannot express sequence defaults.
func (i *Insert) ToSQL(opts ...RenderOption) *Fragment {
	r := newRenderer(opts)
	values := i.values
	if r.cfg.dialect != Postgres {
		values = i.withSequenceDefaults()
	}
	positions := make(map[*Column]int)
	r.withScope([]*Table{i.table}, func() {
		r.text("insert into " + r.tableName(i.table) + " (")
		for n, a := range values {
			if n > 0 {
				r.text(", ")
			}
			a.col.exprSQL(r)
		}
		r.text(") values (")
		for n, a := range values {
			if n > 0 {
				r.text(", ")
			}
			renderAssigned(r, a, positions)
		}
		r.text(")")
		renderReturning(r, i.returning, positions)
	})
	return r.fragment()
}

func (i *Insert) withSequenceDefaults() []assignment {
	present := make(map[*Column]bool, len(i.values))
	for _, a := range i.values {
		present[a.col] = true
	}
	var out []assignment
	for _, c := range i.table.columns {
		if present[c] {
			continue
		}
		if seq, ok := c.SequenceDefault(); ok {
			out = append(out, assignment{col: c, value: seq})
		}
	}
	if len(out) == 0 {
		return i.values
	}
	out = append(out, i.values...)
	sortAssignments(out)
	return out
}

// Update is a validated update statement.
type Update struct {
	table     *Table
	values    []assignment
	where     Expression
	returning []*Column
}

// NewUpdate validates and builds an update. Assignments are rendered
// sorted by column name. A where clause is required; there is no implicit
// "update every row".
func NewUpdate(values map[*Column]any, where Expression, returning ...*Column) (*Update, error) {
	if len(values) == 0 {
		return nil, malformed("update requires at least one column")
	}
	if where == nil {
		return nil, malformed("update requires a where clause")
	}
	cols := make([]*Column, 0, len(values))
	for c := range values {
		cols = append(cols, c)
	}
	t, err := singleTable(cols)
	if err != nil {
		return nil, err
	}
	if err := checkReturning(t, returning); err != nil {
		return nil, err
	}
	return &Update{table: t, values: sortedAssignments(values), where: where, returning: returning}, nil
}

// Table returns the target table.
func (u *Update) Table() *Table { return u.table }

// ToSQL renders the statement.
func (u *Update) ToSQL(opts ...RenderOption) *Fragment {
	r := newRenderer(opts)
	positions := make(map[*Column]int)
	r.withScope([]*Table{u.table}, func() {
		r.text("update " + r.tableName(u.table) + " set ")
		for n, a := range u.values {
			if n > 0 {
				r.text(", ")
			}
			a.col.exprSQL(r)
			r.text(" = ")
			renderAssigned(r, a, positions)
		}
		r.text(" where ")
		u.where.exprSQL(r)
		renderReturning(r, u.returning, positions)
	})
	return r.fragment()
}

// Delete is a delete statement. A nil where deletes every row of the
// table; callers must pass nil explicitly to get that.
type Delete struct {
	table     *Table
	where     Expression
	returning []*Column
}

// NewDelete builds a delete statement.
func NewDelete(from *Table, where Expression, returning ...*Column) *Delete {
	return &Delete{table: from, where: where, returning: returning}
}

// ToSQL renders the statement.
func (d *Delete) ToSQL(opts ...RenderOption) *Fragment {
	r := newRenderer(opts)
	r.withScope([]*Table{d.table}, func() {
		r.text("delete from " + r.tableName(d.table))
		if d.where != nil {
			r.text(" where ")
			d.where.exprSQL(r)
		}
		renderReturning(r, d.returning, map[*Column]int{})
	})
	return r.fragment()
}

// Lock is a table lock statement.
type Lock struct {
	table *Table
	mode  string
}

// LockExclusive locks a table in exclusive mode.
func LockExclusive(t *Table) *Lock {
	return &Lock{table: t, mode: "exclusive"}
}

// ToSQL renders the statement.
func (l *Lock) ToSQL(opts ...RenderOption) *Fragment {
	r := newRenderer(opts)
	if r.cfg.dialect == MySQL {
		r.text("lock tables " + r.tableName(l.table) + " write")
		return r.fragment()
	}
	r.text("lock table " + r.tableName(l.table) + " in " + l.mode + " mode")
	return r.fragment()
}

// Savepoint starts a named savepoint.
type Savepoint struct{ Name string }

// RollbackToSavepoint rolls back to a named savepoint.
type RollbackToSavepoint struct{ Name string }

// ReleaseSavepoint releases a named savepoint.
type ReleaseSavepoint struct{ Name string }

func (s Savepoint) ToSQL(opts ...RenderOption) *Fragment {
	r := newRenderer(opts)
	r.text("savepoint " + s.Name)
	return r.fragment()
}

func (s RollbackToSavepoint) ToSQL(opts ...RenderOption) *Fragment {
	r := newRenderer(opts)
	r.text("rollback to savepoint " + s.Name)
	return r.fragment()
}

func (s ReleaseSavepoint) ToSQL(opts ...RenderOption) *Fragment {
	r := newRenderer(opts)
	r.text("release savepoint " + s.Name)
	return r.fragment()
}

// Returning lists the returned columns of a statement, if any.
func Returning(s Statement) []*Column {
	switch st := s.(type) {
	case *Insert:
		return st.returning
	case *Update:
		return st.returning
	case *Delete:
		return st.returning
	}
	return nil
}

// ProducesRows reports whether executing s yields a result set on the
// given dialect.
func ProducesRows(s Statement, d Dialect) bool {
	if _, ok := s.(*Select); ok {
		return true
	}
	return len(Returning(s)) > 0 && d.NativeReturning()
}
