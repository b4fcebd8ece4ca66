package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/calsync/internal/dal"
	"github.com/roach88/calsync/internal/schema"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, dal.MySQL), mock
}

func expectSequence(mock sqlmock.Sqlmock, name string, value int64) {
	mock.ExpectExec("update SEQUENCE set VALUE = VALUE + ? where NAME = ?").
		WithArgs(1, name).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select VALUE from SEQUENCE where NAME = ?").
		WithArgs(name).
		WillReturnRows(sqlmock.NewRows([]string{"VALUE"}).AddRow(value))
}

func TestMySQL_InsertEmulatesSequenceAndReturning(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	expectSequence(mock, "RESOURCE_ID_SEQ", 7)
	mock.ExpectExec("insert into CALENDAR_HOME (OWNER_UID, RESOURCE_ID) values (?, ?)").
		WithArgs("user01", int64(7)).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit()

	txn, err := s.Begin(ctx, "mysql")
	require.NoError(t, err)
	rows, err := txn.Exec(ctx, insertHome, dal.Args{"uid": "user01"})
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	assert.Equal(t, [][]any{{int64(7)}}, rows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQL_UpdateReturningPerAffectedRow(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	rev := schema.CalendarObjectRevisions
	bump := dal.Must(dal.NewUpdate(
		map[*dal.Column]any{rev.Revision: schema.RevisionSeq},
		rev.ResourceID.Eq(dal.Param("resourceID")).And(rev.ResourceName.IsNull()),
		rev.Revision,
	))

	mock.ExpectBegin()
	expectSequence(mock, "REVISION_SEQ", 42)
	mock.ExpectExec("update CALENDAR_OBJECT_REVISIONS set REVISION = ? where CALENDAR_RESOURCE_ID = ? and RESOURCE_NAME is null").
		WithArgs(int64(42), 3).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectRollback()

	txn, err := s.Begin(ctx, "mysql")
	require.NoError(t, err)
	defer txn.Abort()

	rows, err := txn.Exec(ctx, bump, dal.Args{"resourceID": 3})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(42)}, {int64(42)}}, rows)
	require.NoError(t, txn.Abort())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQL_ReturningUnknownValueFails(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	home := schema.CalendarHome
	stmt := dal.Must(dal.NewUpdate(
		map[*dal.Column]any{home.Status: 1},
		home.OwnerUID.Eq(dal.Param("uid")),
		home.ResourceID,
	))

	mock.ExpectBegin()
	mock.ExpectExec("update CALENDAR_HOME set STATUS = ? where OWNER_UID = ?").
		WithArgs(1, "user01").
		WillReturnResult(sqlmock.NewResult(0, 1))

	txn, err := s.Begin(ctx, "mysql")
	require.NoError(t, err)
	_, err = txn.Exec(ctx, stmt, dal.Args{"uid": "user01"})
	assert.ErrorContains(t, err, "no value known before execution")
}

func TestMySQL_LockAndServerValue(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("select VALUE from CALENDARSERVER where NAME = ?").
		WithArgs(schema.MinValidRevision).
		WillReturnRows(sqlmock.NewRows([]string{"VALUE"}).AddRow([]byte("5")))

	txn, err := s.Begin(ctx, "mysql")
	require.NoError(t, err)

	// MySQL takes no explicit table locks; nothing is sent.
	require.NoError(t, txn.Lock(ctx, schema.CalendarHome.Table))

	v, err := txn.CalendarserverValue(ctx, schema.MinValidRevision)
	require.NoError(t, err)
	assert.Equal(t, "5", v)

	// Cached: no second query.
	v, err = txn.CalendarserverValue(ctx, schema.MinValidRevision)
	require.NoError(t, err)
	assert.Equal(t, "5", v)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation_MySQL(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	assert.True(t, IsUniqueViolation(dup))
	assert.True(t, IsUniqueViolation(errors.Join(errors.New("insert"), dup)))
	assert.False(t, IsUniqueViolation(&mysql.MySQLError{Number: 1213}))
	assert.False(t, IsUniqueViolation(errors.New("other")))
}
