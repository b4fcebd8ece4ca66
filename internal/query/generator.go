package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/calsync/internal/dal"
	"github.com/roach88/calsync/internal/schema"
)

// Kind selects the object table a search runs against.
type Kind int

const (
	Calendar Kind = iota
	AddressBook
)

func (k Kind) String() string {
	if k == AddressBook {
		return "addressbook"
	}
	return "calendar"
}

func (k Kind) object() schema.Object {
	if k == AddressBook {
		return schema.AddressBookObject
	}
	return schema.CalendarObject
}

// column maps a field to the object table, or nil if the kind does not
// index it.
func (k Kind) column(f Field) *dal.Column {
	obj := k.object()
	switch f {
	case FieldResourceName:
		return obj.ResourceName
	case FieldUID:
		return obj.UID
	case FieldType:
		return obj.ComponentType
	case FieldOrganizer:
		return obj.Organizer
	}
	return nil
}

// Result is a generated search.
type Result struct {
	Select *dal.Select
	Args   dal.Args

	// ArgNames lists the bind parameters in traversal order.
	ArgNames []string

	// UsedTimeRange is set when the search joins TIME_RANGE.
	UsedTimeRange bool
}

// Option configures Generate.
type Option func(*generator)

// WithLocation sets the zone floating instances are compared in. The
// default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(g *generator) { g.loc = loc }
}

type generator struct {
	kind         Kind
	obj          schema.Object
	collectionID int64
	loc          *time.Location

	args          dal.Args
	names         []string
	usedTimeRange bool
}

// Generate translates expr into a search of the collection collectionID.
// A zero collectionID searches every collection.
//
// Calendar searches select RESOURCE_NAME, ICALENDAR_UID and ICALENDAR_TYPE;
// address book searches select RESOURCE_NAME and VCARD_UID.
func Generate(kind Kind, expr Expression, collectionID int64, opts ...Option) (*Result, error) {
	if err := Validate(kind, expr); err != nil {
		return nil, err
	}
	g := &generator{
		kind:         kind,
		obj:          kind.object(),
		collectionID: collectionID,
		loc:          time.UTC,
		args:         dal.Args{},
	}
	for _, opt := range opts {
		opt(g)
	}

	where, err := g.expr(g.scoped(expr))
	if err != nil {
		return nil, err
	}

	var from dal.FromItem = g.obj.Table
	if g.usedTimeRange {
		tr := schema.TimeRange
		from = g.obj.Join(tr.Table, nil, "")
		join := tr.CalendarObjectResourceID.Eq(g.obj.ResourceID)
		if g.collectionID != 0 {
			join = join.And(tr.CalendarResourceID.Eq(dal.Constant{Value: g.collectionID}))
		}
		where = dal.And(where, join)
	}

	columns := []dal.Expression{g.obj.ResourceName, g.obj.UID}
	if kind == Calendar {
		columns = append(columns, g.obj.ComponentType)
	}
	sel, err := dal.NewSelect(dal.SelectOptions{
		Columns:  columns,
		From:     from,
		Where:    where,
		Distinct: true,
	})
	if err != nil {
		return nil, fmt.Errorf("generate %s search: %w", kind, err)
	}
	return &Result{
		Select:        sel,
		Args:          g.args,
		ArgNames:      g.names,
		UsedTimeRange: g.usedTimeRange,
	}, nil
}

// scoped adds the collection predicate in front of expr unless a time
// range join already restricts every match to the collection.
func (g *generator) scoped(expr Expression) Expression {
	if g.collectionID == 0 {
		return expr
	}
	test := scope{id: g.collectionID}
	switch e := expr.(type) {
	case TimeRange:
		return e
	case Or:
		for _, branch := range e {
			if isTimeRange(branch) {
				return e
			}
			if and, ok := branch.(And); ok && anyTimeRange(and) {
				return e
			}
		}
		return And{test, e}
	case And:
		if anyTimeRange(e) {
			return e
		}
		return append(And{test}, e...)
	default:
		return And{test, expr}
	}
}

func anyTimeRange(and And) bool {
	for _, child := range and {
		if isTimeRange(child) {
			return true
		}
	}
	return false
}

// arg binds value to the next positional name.
func (g *generator) arg(value any) string {
	name := "arg" + strconv.Itoa(len(g.names)+1)
	g.names = append(g.names, name)
	g.args[name] = value
	return name
}

// expr returns nil for terms that match everything.
func (g *generator) expr(e Expression) (dal.Expression, error) {
	switch e := e.(type) {
	case All:
		return nil, nil
	case scope:
		return g.obj.ParentResourceID.Eq(dal.Param(g.arg(e.id))), nil
	case Not:
		inner, err := g.expr(e.Expr)
		if err != nil {
			return nil, err
		}
		if inner == nil {
			return nil, fmt.Errorf("cannot negate a match-all term")
		}
		return dal.Not(inner), nil
	case And:
		parts := make([]dal.Expression, 0, len(e))
		for _, child := range e {
			part, err := g.expr(child)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		}
		return dal.And(parts...), nil
	case Or:
		parts := make([]dal.Expression, 0, len(e))
		matchAll := false
		for _, child := range e {
			part, err := g.expr(child)
			if err != nil {
				return nil, err
			}
			if part == nil {
				matchAll = true
			}
			parts = append(parts, part)
		}
		if matchAll {
			return nil, nil
		}
		return dal.Or(parts...), nil
	case Match:
		return g.match(e), nil
	case In:
		col := g.kind.column(e.Field)
		list := dal.ParamList(g.arg(e.Values), len(e.Values))
		if e.Negate {
			return col.NotIn(list), nil
		}
		return col.In(list), nil
	case TimeRange:
		return g.timeRange(e), nil
	default:
		return nil, fmt.Errorf("unsupported expression %T", e)
	}
}

func (g *generator) match(m Match) dal.Expression {
	var field dal.Expression = g.kind.column(m.Field)
	text := m.Text
	if !m.CaseSensitive {
		field = dal.Lower(field)
		text = strings.ToLower(text)
	}
	value := dal.Param(g.arg(text))

	switch m.Op {
	case OpIs:
		if m.Negate {
			return dal.Ne(field, value)
		}
		return dal.Eq(field, value)
	case OpStartsWith:
		if m.Negate {
			return dal.NotStartsWith(field, value)
		}
		return dal.StartsWith(field, value)
	case OpEndsWith:
		if m.Negate {
			return dal.NotEndsWith(field, value)
		}
		return dal.EndsWith(field, value)
	default:
		if m.Negate {
			return dal.NotContains(field, value)
		}
		return dal.Contains(field, value)
	}
}

func (g *generator) timeRange(r TimeRange) dal.Expression {
	g.usedTimeRange = true
	tr := schema.TimeRange

	start, end := r.Start, r.End
	startFloat, endFloat := r.StartFloat, r.EndFloat
	if startFloat.IsZero() && !start.IsZero() {
		startFloat = g.floating(start)
	}
	if endFloat.IsZero() && !end.IsZero() {
		endFloat = g.floating(end)
	}

	fixed := tr.Floating.Eq(false)
	floating := tr.Floating.Eq(true)
	switch {
	case !start.IsZero() && !end.IsZero():
		return fixed.And(tr.StartDate.Lt(bound(end))).And(tr.EndDate.Gt(bound(start))).Or(
			floating.And(tr.StartDate.Lt(bound(endFloat))).And(tr.EndDate.Gt(bound(startFloat))))
	case !start.IsZero():
		return fixed.And(tr.EndDate.Gt(bound(start))).Or(
			floating.And(tr.EndDate.Gt(bound(startFloat))))
	default:
		return fixed.And(tr.StartDate.Lt(bound(end))).Or(
			floating.And(tr.StartDate.Lt(bound(endFloat))))
	}
}

// bound normalizes a range bound the way instance rows are stored.
func bound(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// floating reinterprets the wall clock of t in the generator's zone as
// UTC, which is how floating instances are indexed.
func (g *generator) floating(t time.Time) time.Time {
	local := t.In(g.loc)
	return time.Date(local.Year(), local.Month(), local.Day(),
		local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), time.UTC)
}
