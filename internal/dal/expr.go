package dal

import (
	"reflect"
	"strings"
)

// Expression is a node of a statement tree.
//
// This is a sealed interface - only types in this package implement it.
// Nodes are immutable; combining two nodes always builds a new node.
type Expression interface {
	exprSQL(r *renderer)
	referencedColumns() []*Column
}

// Condition is an expression that can be combined with And / Or.
type Condition interface {
	Expression
	And(other Expression) Condition
	Or(other Expression) Condition
}

// toExpr lifts a Go value into the tree. Expressions pass through; any
// other value becomes a bound constant.
func toExpr(v any) Expression {
	if e, ok := v.(Expression); ok {
		return e
	}
	return Constant{Value: v}
}

// isNil reports whether v is nil or a nil pointer, map, slice, func,
// channel or interface.
func isNil(v any) bool {
	if v == nil {
		return true
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func (c *Column) exprSQL(r *renderer) { r.text(r.columnName(c)) }

func (c *Column) referencedColumns() []*Column { return []*Column{c} }

// Eq compares with "=", or "is null" when v is nil.
func (c *Column) Eq(v any) Condition { return Eq(c, v) }

// Ne compares with "!=", or "is not null" when v is nil.
func (c *Column) Ne(v any) Condition { return Ne(c, v) }

func (c *Column) Lt(v any) Condition { return Lt(c, v) }
func (c *Column) Le(v any) Condition { return Le(c, v) }
func (c *Column) Gt(v any) Condition { return Gt(c, v) }
func (c *Column) Ge(v any) Condition { return Ge(c, v) }

func (c *Column) Plus(v any) Condition   { return Plus(c, v) }
func (c *Column) Minus(v any) Condition  { return Minus(c, v) }
func (c *Column) Times(v any) Condition  { return Times(c, v) }
func (c *Column) Divide(v any) Condition { return Divide(c, v) }

// In tests membership in a sub-select or a ParameterList.
func (c *Column) In(v Expression) Condition { return In(c, v) }

func (c *Column) NotIn(v Expression) Condition { return NotIn(c, v) }

// IsNull and IsNotNull are spelled-out forms of Eq(nil) / Ne(nil).
func (c *Column) IsNull() Condition    { return &NullComparison{A: c, Op: "is"} }
func (c *Column) IsNotNull() Condition { return &NullComparison{A: c, Op: "is not"} }

func (c *Column) Contains(v any) Condition      { return Contains(c, v) }
func (c *Column) NotContains(v any) Condition   { return NotContains(c, v) }
func (c *Column) StartsWith(v any) Condition    { return StartsWith(c, v) }
func (c *Column) NotStartsWith(v any) Condition { return NotStartsWith(c, v) }
func (c *Column) EndsWith(v any) Condition      { return EndsWith(c, v) }
func (c *Column) NotEndsWith(v any) Condition   { return NotEndsWith(c, v) }

// Eq builds a = b. A nil b, typed or not, renders "a is null".
func Eq(a Expression, b any) Condition {
	if isNil(b) {
		return &NullComparison{A: a, Op: "is"}
	}
	return compound(a, "=", toExpr(b))
}

// Ne builds a != b. A nil b, typed or not, renders "a is not null".
func Ne(a Expression, b any) Condition {
	if isNil(b) {
		return &NullComparison{A: a, Op: "is not"}
	}
	return compound(a, "!=", toExpr(b))
}

func Lt(a Expression, b any) Condition { return compound(a, "<", toExpr(b)) }
func Le(a Expression, b any) Condition { return compound(a, "<=", toExpr(b)) }
func Gt(a Expression, b any) Condition { return compound(a, ">", toExpr(b)) }
func Ge(a Expression, b any) Condition { return compound(a, ">=", toExpr(b)) }

func Plus(a Expression, b any) Condition   { return compound(a, "+", toExpr(b)) }
func Minus(a Expression, b any) Condition  { return compound(a, "-", toExpr(b)) }
func Times(a Expression, b any) Condition  { return compound(a, "*", toExpr(b)) }
func Divide(a Expression, b any) Condition { return compound(a, "/", toExpr(b)) }

func In(a Expression, b Expression) Condition    { return compound(a, "in", b) }
func NotIn(a Expression, b Expression) Condition { return compound(a, "not in", b) }

// Contains matches a substring with "like".
func Contains(a Expression, v any) Condition {
	return compound(a, "like", concat(Constant{Value: "%"}, toExpr(v), Constant{Value: "%"}))
}

func NotContains(a Expression, v any) Condition {
	return compound(a, "not like", concat(Constant{Value: "%"}, toExpr(v), Constant{Value: "%"}))
}

func StartsWith(a Expression, v any) Condition {
	return compound(a, "like", concat(toExpr(v), Constant{Value: "%"}))
}

func NotStartsWith(a Expression, v any) Condition {
	return compound(a, "not like", concat(toExpr(v), Constant{Value: "%"}))
}

func EndsWith(a Expression, v any) Condition {
	return compound(a, "like", concat(Constant{Value: "%"}, toExpr(v)))
}

func NotEndsWith(a Expression, v any) Condition {
	return compound(a, "not like", concat(Constant{Value: "%"}, toExpr(v)))
}

// And folds its arguments with "and", skipping nils. It returns nil when
// every argument is nil.
func And(exprs ...Expression) Expression {
	return fold("and", exprs)
}

// Or folds its arguments with "or", skipping nils.
func Or(exprs ...Expression) Expression {
	return fold("or", exprs)
}

func fold(op string, exprs []Expression) Expression {
	var out Expression
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if out == nil {
			out = e
			continue
		}
		out = compound(out, op, e)
	}
	return out
}

// Not negates an expression: "not (expr)".
func Not(e Expression) Condition {
	return &Negation{E: e}
}

// CompoundComparison is a binary node: comparisons, boolean connectives,
// arithmetic and membership. A comparison between two columns is the
// column-comparison case of the same node.
type CompoundComparison struct {
	A  Expression
	Op string
	B  Expression
}

func compound(a Expression, op string, b Expression) *CompoundComparison {
	return &CompoundComparison{A: a, Op: op, B: b}
}

func (c *CompoundComparison) And(other Expression) Condition { return compound(c, "and", other) }
func (c *CompoundComparison) Or(other Expression) Condition  { return compound(c, "or", other) }

func (c *CompoundComparison) exprSQL(r *renderer) {
	c.operand(r, c.A)
	r.text(" " + c.Op + " ")
	c.operand(r, c.B)
}

func (c *CompoundComparison) operand(r *renderer, e Expression) {
	if c.needsParens(e) {
		r.text("(")
		e.exprSQL(r)
		r.text(")")
		return
	}
	e.exprSQL(r)
}

// needsParens: operands of non-boolean operators are parenthesized when
// they are themselves comparisons; under "and", an "or" child is
// parenthesized. Nothing else is.
func (c *CompoundComparison) needsParens(e Expression) bool {
	if c.Op != "and" && c.Op != "or" {
		switch e.(type) {
		case *CompoundComparison, *NullComparison:
			return true
		}
		return false
	}
	if c.Op == "and" {
		if child, ok := e.(*CompoundComparison); ok && child.Op == "or" {
			return true
		}
	}
	return false
}

func (c *CompoundComparison) referencedColumns() []*Column {
	return append(c.A.referencedColumns(), c.B.referencedColumns()...)
}

// NullComparison renders "a is null" or "a is not null".
type NullComparison struct {
	A  Expression
	Op string // "is" | "is not"
}

func (n *NullComparison) And(other Expression) Condition { return compound(n, "and", other) }
func (n *NullComparison) Or(other Expression) Condition  { return compound(n, "or", other) }

func (n *NullComparison) exprSQL(r *renderer) {
	n.A.exprSQL(r)
	r.text(" " + n.Op + " null")
}

func (n *NullComparison) referencedColumns() []*Column { return n.A.referencedColumns() }

// Negation renders "not (expr)".
type Negation struct {
	E Expression
}

func (n *Negation) And(other Expression) Condition { return compound(n, "and", other) }
func (n *Negation) Or(other Expression) Condition  { return compound(n, "or", other) }

func (n *Negation) exprSQL(r *renderer) {
	r.text("not (")
	n.E.exprSQL(r)
	r.text(")")
}

func (n *Negation) referencedColumns() []*Column { return n.E.referencedColumns() }

// Constant is a literal value rendered as a placeholder.
type Constant struct {
	Value any
}

func (c Constant) exprSQL(r *renderer) { r.placeholder(c.Value) }

func (c Constant) referencedColumns() []*Column { return nil }

// Parameter is a named placeholder filled by Fragment.Bind.
type Parameter struct {
	Name string
}

// Param is shorthand for Parameter{Name: name}.
func Param(name string) Parameter { return Parameter{Name: name} }

func (p Parameter) exprSQL(r *renderer) { r.placeholder(p) }

func (p Parameter) referencedColumns() []*Column { return nil }

// ParameterList is a named list placeholder rendering "(?, ?, ...)". The
// bound value must be a slice of exactly Count elements.
type ParameterList struct {
	Name  string
	Count int
}

// ParamList is shorthand for ParameterList{Name: name, Count: n}.
func ParamList(name string, n int) ParameterList {
	return ParameterList{Name: name, Count: n}
}

func (p ParameterList) exprSQL(r *renderer) {
	r.text("(")
	for i := 0; i < p.Count; i++ {
		if i > 0 {
			r.text(", ")
		}
		r.placeholder(listSlot{name: p.Name, index: i, count: p.Count})
	}
	r.text(")")
}

func (p ParameterList) referencedColumns() []*Column { return nil }

type listSlot struct {
	name  string
	index int
	count int
}

// NamedValue is a bare SQL keyword such as "default" or a timestamp name.
type NamedValue struct {
	Name string
}

// Default renders the "default" keyword.
var Default = NamedValue{Name: "default"}

func (n NamedValue) exprSQL(r *renderer) { r.text(n.Name) }

func (n NamedValue) referencedColumns() []*Column { return nil }

type utcNow struct{}

// UTCNow is the current UTC timestamp in the target dialect.
var UTCNow Expression = utcNow{}

func (utcNow) exprSQL(r *renderer) {
	if r.cfg.dialect == Postgres {
		r.text("CURRENT_TIMESTAMP at time zone 'UTC'")
		return
	}
	r.text("CURRENT_TIMESTAMP")
}

func (utcNow) referencedColumns() []*Column { return nil }

// SequenceValue is the parameter a Sequence leaves behind on dialects
// without native sequences. The executor replaces it with a freshly
// allocated value.
type SequenceValue struct {
	Name string
}

func (s *Sequence) exprSQL(r *renderer) {
	switch r.cfg.dialect {
	case Postgres:
		r.text("nextval('" + s.Name + "')")
	case Oracle:
		r.text(s.Name + ".nextval")
	default:
		r.placeholder(SequenceValue{Name: s.Name})
	}
}

func (s *Sequence) referencedColumns() []*Column { return nil }

// FunctionInvocation renders name(args...).
type FunctionInvocation struct {
	Name string
	Args []Expression

	oracleName string
}

func (f *FunctionInvocation) exprSQL(r *renderer) {
	name := f.Name
	if r.cfg.dialect == Oracle && f.oracleName != "" {
		name = f.oracleName
	}
	r.text(name + "(")
	for i, a := range f.Args {
		if i > 0 {
			r.text(", ")
		}
		a.exprSQL(r)
	}
	r.text(")")
}

func (f *FunctionInvocation) referencedColumns() []*Column {
	var out []*Column
	for _, a := range f.Args {
		out = append(out, a.referencedColumns()...)
	}
	return out
}

// Function builds an arbitrary function call.
func Function(name string, args ...any) *FunctionInvocation {
	exprs := make([]Expression, len(args))
	for i, a := range args {
		exprs[i] = toExpr(a)
	}
	return &FunctionInvocation{Name: name, Args: exprs}
}

func Count(e Expression) *FunctionInvocation { return Function("count", e) }
func Max(e Expression) *FunctionInvocation   { return Function("max", e) }
func Min(e Expression) *FunctionInvocation   { return Function("min", e) }
func Lower(e Expression) *FunctionInvocation { return Function("lower", e) }

// Len is the character length of a text expression.
func Len(e Expression) *FunctionInvocation {
	f := Function("character_length", e)
	f.oracleName = "length"
	return f
}

// CountAll renders count(*).
var CountAll Expression = NamedValue{Name: "count(*)"}

// Tuple is a row value "(a, b, ...)".
type Tuple struct {
	Exprs []Expression
}

// NewTuple builds a row value from columns or other expressions.
func NewTuple(exprs ...Expression) Tuple { return Tuple{Exprs: exprs} }

func (t Tuple) In(sub Expression) Condition { return compound(t, "in", sub) }

func (t Tuple) exprSQL(r *renderer) {
	r.text("(")
	for i, e := range t.Exprs {
		if i > 0 {
			r.text(", ")
		}
		e.exprSQL(r)
	}
	r.text(")")
}

func (t Tuple) referencedColumns() []*Column {
	var out []*Column
	for _, e := range t.Exprs {
		out = append(out, e.referencedColumns()...)
	}
	return out
}

// concatenation joins string expressions; MySQL has no || operator.
type concatenation struct {
	parts []Expression
}

func concat(parts ...Expression) concatenation { return concatenation{parts: parts} }

func (c concatenation) exprSQL(r *renderer) {
	if r.cfg.dialect == MySQL {
		r.text("concat(")
		for i, p := range c.parts {
			if i > 0 {
				r.text(", ")
			}
			p.exprSQL(r)
		}
		r.text(")")
		return
	}
	r.text("(")
	for i, p := range c.parts {
		if i > 0 {
			r.text(" || ")
		}
		p.exprSQL(r)
	}
	r.text(")")
}

func (c concatenation) referencedColumns() []*Column {
	var out []*Column
	for _, p := range c.parts {
		out = append(out, p.referencedColumns()...)
	}
	return out
}

// columnNames formats a column list for error messages.
func columnNames(cols []*Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return strings.Join(names, ", ")
}
