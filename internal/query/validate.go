package query

import (
	"errors"
	"fmt"
)

// ErrInvalidExpression is matched by every error Validate returns.
var ErrInvalidExpression = errors.New("invalid search expression")

// ValidationError lists the problems found in an expression.
type ValidationError struct {
	Kind     Kind
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("invalid %s search: %s", e.Kind, e.Problems[0])
	}
	return fmt.Sprintf("invalid %s search: %d problems, first: %s", e.Kind, len(e.Problems), e.Problems[0])
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidExpression
}

// Validate checks that expr can be generated for kind. It reports every
// problem, not just the first.
func Validate(kind Kind, expr Expression) error {
	v := &validator{kind: kind}
	v.validate(expr)
	if len(v.problems) == 0 {
		return nil
	}
	return &ValidationError{Kind: kind, Problems: v.problems}
}

// validator accumulates problems during traversal.
type validator struct {
	kind     Kind
	problems []string
}

func (v *validator) addProblem(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) validate(e Expression) {
	switch e := e.(type) {
	case nil:
		v.addProblem("nil expression")
	case All, scope:
	case Not:
		if _, ok := e.Expr.(All); ok {
			v.addProblem("negated match-all")
			return
		}
		v.validate(e.Expr)
	case And:
		if len(e) == 0 {
			v.addProblem("empty and")
		}
		for _, child := range e {
			v.validate(child)
		}
	case Or:
		if len(e) == 0 {
			v.addProblem("empty or")
		}
		for _, child := range e {
			v.validate(child)
		}
	case Match:
		v.field(e.Field)
	case In:
		v.field(e.Field)
		if len(e.Values) == 0 {
			v.addProblem("empty value list for %s", e.Field)
		}
	case TimeRange:
		if v.kind != Calendar {
			v.addProblem("time range on %s", v.kind)
		}
		if e.Start.IsZero() && e.End.IsZero() {
			v.addProblem("time range without bounds")
		}
		if !e.Start.IsZero() && !e.End.IsZero() && !e.Start.Before(e.End) {
			v.addProblem("time range start %s not before end %s", e.Start, e.End)
		}
	default:
		v.addProblem("unsupported expression %T", e)
	}
}

func (v *validator) field(f Field) {
	if v.kind.column(f) == nil {
		v.addProblem("field %q not indexed for %s", f, v.kind)
	}
}
