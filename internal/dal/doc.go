// Package dal builds parameterized SQL statements from typed table and
// column handles.
//
// A statement is an immutable tree of nodes. Rendering walks the tree and
// produces a Fragment: SQL text plus an ordered parameter list. The same
// tree can be rendered any number of times with different dialects,
// placeholder styles and quote functions:
//
//	foo := schema.Table("FOO")
//	stmt, _ := dal.NewSelect(dal.SelectOptions{
//	    From:  foo,
//	    Where: foo.Column("BAR").Eq(1),
//	})
//	frag := stmt.ToSQL()
//	// frag.Text   == "select * from FOO where BAR = ?"
//	// frag.Params == []any{1}
//
// # Construction-time validation
//
// Statement constructors validate their inputs and fail fast:
//   - TableMismatchError: columns do not belong to the statement's tables
//   - NotEnoughValuesError: an insert omits a required column
//
// # Deferred parameters
//
// Parameter and ParameterList nodes reserve a slot that Fragment.Bind fills
// at execution time. This lets hot-path statements be built once as
// package-level values and reused across executions.
//
// # Sequences
//
// On dialects without native sequences (SQLite, MySQL) a Sequence renders
// as a placeholder carrying a SequenceValue. The executor allocates the
// value before running the statement (see internal/store).
package dal
