package dal

import (
	"fmt"
	"reflect"
)

// Fragment is rendered SQL text plus its ordered parameters.
//
// Params may still hold Parameter, list slots and SequenceValue entries;
// Bind resolves the named ones, the executor resolves sequences.
type Fragment struct {
	Text   string
	Params []any

	// ReturnParams is set when a returning clause was requested on a
	// dialect that cannot render one. Entry i is the index in Params of
	// the value assigned to the i-th returned column, or -1 when that
	// value is not known before execution.
	ReturnParams []int
}

// Args holds the values bound to named parameters.
type Args map[string]any

// Bind returns a copy of the fragment with every named parameter replaced
// by its value from args. A missing name is an error.
func (f *Fragment) Bind(args Args) (*Fragment, error) {
	out := &Fragment{
		Text:         f.Text,
		Params:       make([]any, len(f.Params)),
		ReturnParams: f.ReturnParams,
	}
	for i, p := range f.Params {
		switch v := p.(type) {
		case Parameter:
			val, ok := args[v.Name]
			if !ok {
				return nil, fmt.Errorf("dal: no value bound for parameter %q", v.Name)
			}
			out.Params[i] = val
		case listSlot:
			val, ok := args[v.name]
			if !ok {
				return nil, fmt.Errorf("dal: no value bound for parameter list %q", v.name)
			}
			elem, err := listElement(val, v)
			if err != nil {
				return nil, err
			}
			out.Params[i] = elem
		default:
			out.Params[i] = p
		}
	}
	return out, nil
}

func listElement(val any, slot listSlot) (any, error) {
	rv := reflect.ValueOf(val)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("dal: parameter list %q bound to %T, want a slice", slot.name, val)
	}
	if rv.Len() != slot.count {
		return nil, fmt.Errorf("dal: parameter list %q has %d values, statement expects %d", slot.name, rv.Len(), slot.count)
	}
	return rv.Index(slot.index).Interface(), nil
}

// SequenceSlots returns the indices of unresolved sequence values.
func (f *Fragment) SequenceSlots() []int {
	var out []int
	for i, p := range f.Params {
		if _, ok := p.(SequenceValue); ok {
			out = append(out, i)
		}
	}
	return out
}

// Unbound returns the names of parameters that Bind has not resolved.
func (f *Fragment) Unbound() []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range f.Params {
		var name string
		switch v := p.(type) {
		case Parameter:
			name = v.Name
		case listSlot:
			name = v.name
		default:
			continue
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

func (f *Fragment) String() string {
	return fmt.Sprintf("%s %v", f.Text, f.Params)
}
