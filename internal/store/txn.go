package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/roach88/calsync/internal/dal"
	"github.com/roach88/calsync/internal/schema"
)

// Txn is one unit of work against the store.
//
// A Txn is not safe for concurrent use. Statements execute in program
// order.
type Txn struct {
	store *Store
	tx    *sql.Tx
	label string
	done  bool

	postCommit []func()
	postAbort  []func()

	bumped       map[any]bool
	serverValues map[string]string
}

// Label returns the label the transaction was started with.
func (t *Txn) Label() string { return t.label }

// Dialect returns the dialect of the underlying store.
func (t *Txn) Dialect() dal.Dialect { return t.store.dialect }

// Store returns the store the transaction belongs to.
func (t *Txn) Store() *Store { return t.store }

// PostCommit registers fn to run after a successful commit.
func (t *Txn) PostCommit(fn func()) {
	t.postCommit = append(t.postCommit, fn)
}

// PostAbort registers fn to run after the transaction is rolled back.
func (t *Txn) PostAbort(fn func()) {
	t.postAbort = append(t.postAbort, fn)
}

// Commit commits the transaction and then runs the post-commit hooks in
// registration order. Hooks do not run if the commit fails.
func (t *Txn) Commit() error {
	if t.done {
		return fmt.Errorf("commit %s: transaction already finished", t.label)
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		t.runHooks(t.postAbort)
		return fmt.Errorf("commit %s: %w", t.label, err)
	}
	t.runHooks(t.postCommit)
	return nil
}

// Abort rolls the transaction back and runs the post-abort hooks. Aborting
// a finished transaction is a no-op, so Abort is safe to defer.
func (t *Txn) Abort() error {
	if t.done {
		return nil
	}
	t.done = true
	err := t.tx.Rollback()
	t.runHooks(t.postAbort)
	if err != nil {
		return fmt.Errorf("abort %s: %w", t.label, err)
	}
	return nil
}

func (t *Txn) runHooks(hooks []func()) {
	for _, fn := range hooks {
		fn()
	}
}

// Exec renders stmt in the store's dialect, binds args and executes it.
//
// The result is the rows produced by the statement: the selected rows of
// a select, the returned rows of a statement with a returning clause, or
// nil. Sequence values are allocated before execution where the dialect
// lacks native sequences.
func (t *Txn) Exec(ctx context.Context, stmt dal.Statement, args dal.Args) ([][]any, error) {
	d := t.store.dialect
	frag, err := stmt.ToSQL(dal.WithDialect(d)).Bind(args)
	if err != nil {
		return nil, err
	}
	if err := t.allocateSequences(ctx, frag); err != nil {
		return nil, err
	}
	if dal.ProducesRows(stmt, d) {
		return t.query(ctx, frag.Text, frag.Params...)
	}
	res, err := t.tx.ExecContext(ctx, frag.Text, frag.Params...)
	if err != nil {
		return nil, fmt.Errorf("exec %q: %w", frag.Text, err)
	}
	if frag.ReturnParams == nil {
		return nil, nil
	}
	return emulateReturning(frag, res)
}

// ExecSQL runs raw SQL. It is meant for administrative statements the
// builder does not model.
func (t *Txn) ExecSQL(ctx context.Context, query string, args ...any) ([][]any, error) {
	trimmed := strings.TrimSpace(strings.ToLower(query))
	if strings.HasPrefix(trimmed, "select") || strings.Contains(trimmed, " returning ") {
		return t.query(ctx, query, args...)
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("exec %q: %w", query, err)
	}
	return nil, nil
}

func (t *Txn) query(ctx context.Context, query string, args ...any) ([][]any, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}
	var out [][]any
	for rows.Next() {
		row := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan %q: %w", query, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}
	return out, nil
}

// emulateReturning builds the returned rows from the bound values. Every
// affected row gets the same values, which holds for the statements the
// store issues: inserts of one row and updates assigning constants or a
// single sequence value.
func emulateReturning(frag *dal.Fragment, res sql.Result) ([][]any, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("returning %q: %w", frag.Text, err)
	}
	row := make([]any, len(frag.ReturnParams))
	for i, idx := range frag.ReturnParams {
		if idx < 0 {
			return nil, fmt.Errorf("returning %q: column %d has no value known before execution", frag.Text, i)
		}
		row[i] = frag.Params[idx]
	}
	out := make([][]any, 0, n)
	for i := int64(0); i < n; i++ {
		out = append(out, row)
	}
	return out, nil
}

var (
	bumpSequence = dal.Must(dal.NewUpdate(
		map[*dal.Column]any{schema.Sequence.ValueColumn: schema.Sequence.ValueColumn.Plus(1)},
		schema.Sequence.NameColumn.Eq(dal.Param("name")),
	))
	readSequence = dal.Must(dal.NewSelect(dal.SelectOptions{
		Columns: []dal.Expression{schema.Sequence.ValueColumn},
		From:    schema.Sequence.Table,
		Where:   schema.Sequence.NameColumn.Eq(dal.Param("name")),
	}))
)

// NextSequenceValue allocates the next value of seq.
func (t *Txn) NextSequenceValue(ctx context.Context, seq *dal.Sequence) (int64, error) {
	if t.store.dialect.NativeSequences() {
		rows, err := t.ExecSQL(ctx, nativeNextval(t.store.dialect, seq))
		if err != nil {
			return 0, err
		}
		return Int64(rows[0][0]), nil
	}
	return t.nextEmulated(ctx, seq.Name)
}

func nativeNextval(d dal.Dialect, seq *dal.Sequence) string {
	if d == dal.Oracle {
		return "select " + seq.Name + ".nextval from dual"
	}
	return "select nextval('" + seq.Name + "')"
}

func (t *Txn) nextEmulated(ctx context.Context, name string) (int64, error) {
	if _, err := t.Exec(ctx, bumpSequence, dal.Args{"name": name}); err != nil {
		return 0, fmt.Errorf("sequence %s: %w", name, err)
	}
	rows, err := t.Exec(ctx, readSequence, dal.Args{"name": name})
	if err != nil {
		return 0, fmt.Errorf("sequence %s: %w", name, err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("sequence %s: not provisioned", name)
	}
	return Int64(rows[0][0]), nil
}

func (t *Txn) allocateSequences(ctx context.Context, frag *dal.Fragment) error {
	for _, i := range frag.SequenceSlots() {
		seq := frag.Params[i].(dal.SequenceValue)
		v, err := t.nextEmulated(ctx, seq.Name)
		if err != nil {
			return err
		}
		frag.Params[i] = v
	}
	return nil
}

// Savepoint opens a uniquely named savepoint and returns its name.
func (t *Txn) Savepoint(ctx context.Context) (string, error) {
	name := "sp_" + strings.ToLower(ulid.Make().String())
	if _, err := t.Exec(ctx, dal.Savepoint{Name: name}, nil); err != nil {
		return "", err
	}
	return name, nil
}

// RollbackTo rolls back to the named savepoint.
func (t *Txn) RollbackTo(ctx context.Context, name string) error {
	_, err := t.Exec(ctx, dal.RollbackToSavepoint{Name: name}, nil)
	return err
}

// Release releases the named savepoint. Dialects without release keep it
// open until the transaction ends.
func (t *Txn) Release(ctx context.Context, name string) error {
	if !t.store.dialect.ReleaseSavepoints() {
		return nil
	}
	_, err := t.Exec(ctx, dal.ReleaseSavepoint{Name: name}, nil)
	return err
}

// Subtransaction runs fn under a savepoint. A failed attempt is rolled
// back to the savepoint and retried, up to retries more times. When every
// attempt fails the result wraps ErrAllRetriesFailed and the last error.
func (t *Txn) Subtransaction(ctx context.Context, retries int, fn func(ctx context.Context) error) error {
	var last error
	for attempt := 0; attempt <= retries; attempt++ {
		sp, err := t.Savepoint(ctx)
		if err != nil {
			return err
		}
		last = fn(ctx)
		if last == nil {
			return t.Release(ctx, sp)
		}
		if err := t.RollbackTo(ctx, sp); err != nil {
			return errors.Join(last, err)
		}
		if err := t.Release(ctx, sp); err != nil {
			return err
		}
		t.store.logger.Debug("subtransaction attempt failed",
			"txn", t.label,
			"attempt", attempt+1,
			"error", last)
	}
	return &RetriesError{Attempts: retries + 1, Last: last}
}

// Lock takes an exclusive table lock on dialects that support explicit
// locks. Elsewhere the transaction's own isolation is relied on.
func (t *Txn) Lock(ctx context.Context, table *dal.Table) error {
	if !t.store.dialect.TableLocks() {
		return nil
	}
	_, err := t.Exec(ctx, dal.LockExclusive(table), nil)
	return err
}

var (
	readServerValue = dal.Must(dal.NewSelect(dal.SelectOptions{
		Columns: []dal.Expression{schema.CalendarServer.ValueColumn},
		From:    schema.CalendarServer.Table,
		Where:   schema.CalendarServer.NameColumn.Eq(dal.Param("name")),
	}))
	updateServerValue = dal.Must(dal.NewUpdate(
		map[*dal.Column]any{schema.CalendarServer.ValueColumn: dal.Param("value")},
		schema.CalendarServer.NameColumn.Eq(dal.Param("name")),
	))
	insertServerValue = dal.Must(dal.NewInsert(map[*dal.Column]any{
		schema.CalendarServer.NameColumn:  dal.Param("name"),
		schema.CalendarServer.ValueColumn: dal.Param("value"),
	}))
)

// CalendarserverValue reads a server-wide value. Values are cached for
// the lifetime of the transaction.
func (t *Txn) CalendarserverValue(ctx context.Context, name string) (string, error) {
	if v, ok := t.serverValues[name]; ok {
		return v, nil
	}
	rows, err := t.Exec(ctx, readServerValue, dal.Args{"name": name})
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("calendarserver value %q: %w", name, ErrNoServerValue)
	}
	v := String(rows[0][0])
	t.serverValues[name] = v
	return v, nil
}

// SetCalendarserverValue writes a server-wide value.
func (t *Txn) SetCalendarserverValue(ctx context.Context, name, value string) error {
	args := dal.Args{"name": name, "value": value}
	if _, err := t.CalendarserverValue(ctx, name); err != nil {
		if !errors.Is(err, ErrNoServerValue) {
			return err
		}
		if _, err := t.Exec(ctx, insertServerValue, args); err != nil {
			return err
		}
	} else if _, err := t.Exec(ctx, updateServerValue, args); err != nil {
		return err
	}
	t.serverValues[name] = value
	return nil
}

// RevisionBumpedAlready reports whether key's collection revision has been
// bumped in this transaction.
func (t *Txn) RevisionBumpedAlready(key any) bool {
	return t.bumped[key]
}

// BumpRevisionFor records that key's collection revision was bumped.
func (t *Txn) BumpRevisionFor(key any) {
	t.bumped[key] = true
}
