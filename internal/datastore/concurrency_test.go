package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/calsync/internal/cache"
	"github.com/roach88/calsync/internal/dal"
	"github.com/roach88/calsync/internal/store"
	"github.com/roach88/calsync/internal/testutil"
)

// newPooledTestStore is newTestStore over a multi-connection database.
func newPooledTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	clock := testutil.NewClock(time.Time{})
	base := []Option{
		WithIDGenerator(testutil.NewSequentialIDs("id")),
		WithClock(clock.Now),
		WithLogger(testutil.DiscardLogger()),
	}
	return New(testutil.NewPooledStore(t, "calsync"), append(base, opts...)...)
}

func TestCacheFillDoesNotUndoConcurrentDecline(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory()
	s := newPooledTestStore(t, WithCache(mem))
	sharedCalendar(t, s)

	txn := begin(t, s)
	owner := mustChild(t, calendarHome(t, txn, "alice"), "work")
	_, err := owner.InviteUIDToShare(ctx, "bob", BindRead, mo.None[string](), "")
	require.NoError(t, err)
	commit(t, txn)

	txn = begin(t, s)
	bob := calendarHome(t, txn, "bob")
	bobID := bob.ID()
	require.NoError(t, bob.AcceptShare(ctx, "id-0001", mo.None[string]()))
	commit(t, txn)

	key := cache.KeyForObjectWithName(bobID, "id-0001")
	_, ok := mem.Get(key)
	require.False(t, ok)

	// The reader loads the accepted share from the database...
	reader := begin(t, s)
	mustChild(t, calendarHome(t, reader, "bob"), "id-0001")

	// ...while a writer declines it and commits first.
	writer := begin(t, s)
	require.NoError(t, calendarHome(t, writer, "bob").DeclineShare(ctx, "id-0001"))
	commit(t, writer)

	commit(t, reader)
	_, ok = mem.Get(key)
	assert.False(t, ok, "the reader's row predates the decline")

	txn = begin(t, s)
	declined, err := calendarHome(t, txn, "bob").ChildWithName(ctx, "id-0001")
	require.NoError(t, err)
	assert.Nil(t, declined)
}

func TestCacheFillAfterQuietCommit(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory()
	s := newPooledTestStore(t, WithCache(mem))
	sharedCalendar(t, s)

	// An unrelated invalidation does not stop the reader from caching.
	reader := begin(t, s)
	h := calendarHome(t, reader, "alice")
	mustChild(t, h, "work")

	writer := begin(t, s)
	_, err := calendarHome(t, writer, "carol").CreateChildWithName(ctx, "home")
	require.NoError(t, err)
	commit(t, writer)

	commit(t, reader)
	_, ok := mem.Get(cache.KeyForObjectWithName(h.ID(), "work"))
	assert.True(t, ok)
}

// newMySQLMockStore is a datastore over a mocked MySQL connection.
func newMySQLMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(store.New(db, dal.MySQL), WithLogger(testutil.DiscardLogger())), mock
}

const (
	homeLookupSQL = `^select RESOURCE_ID, STATUS from CALENDAR_HOME where OWNER_UID = \?$`
	savepointSQL  = `^savepoint sp_[0-9a-z]+$`
	rollbackSQL   = `^rollback to savepoint sp_[0-9a-z]+$`
	releaseSQL    = `^release savepoint sp_[0-9a-z]+$`
)

func expectHomeInsert(mock sqlmock.Sqlmock, insertErr error) {
	mock.ExpectExec(savepointSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`^update SEQUENCE set VALUE = VALUE \+ \? where NAME = \?$`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`^select VALUE from SEQUENCE where NAME = \?$`).
		WithArgs("RESOURCE_ID_SEQ").
		WillReturnRows(sqlmock.NewRows([]string{"VALUE"}).AddRow(int64(12)))
	mock.ExpectExec(`^insert into CALENDAR_HOME `).WillReturnError(insertErr)
	mock.ExpectExec(rollbackSQL).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(releaseSQL).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestProvisionHome_LosesInsertRace(t *testing.T) {
	ctx := context.Background()
	s, mock := newMySQLMockStore(t)

	// Another transaction inserts carol between the lookup and the insert.
	mock.ExpectBegin()
	mock.ExpectQuery(homeLookupSQL).WithArgs("carol").
		WillReturnRows(sqlmock.NewRows([]string{"RESOURCE_ID", "STATUS"}))
	expectHomeInsert(mock, &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'carol'"})
	mock.ExpectQuery(homeLookupSQL).WithArgs("carol").
		WillReturnRows(sqlmock.NewRows([]string{"RESOURCE_ID", "STATUS"}).AddRow(int64(9), int64(HomeNormal)))
	mock.ExpectRollback()

	txn, err := s.Begin(ctx, "race")
	require.NoError(t, err)
	h, err := txn.HomeWithUID(ctx, CalendarType, "carol", true)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.EqualValues(t, 9, h.ID(), "the winner's row is used")
	require.NoError(t, txn.Abort())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProvisionHome_FailedInsertReleasesSavepoint(t *testing.T) {
	ctx := context.Background()
	s, mock := newMySQLMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(homeLookupSQL).WithArgs("carol").
		WillReturnRows(sqlmock.NewRows([]string{"RESOURCE_ID", "STATUS"}))
	expectHomeInsert(mock, &mysql.MySQLError{Number: 1213, Message: "Deadlock found"})
	mock.ExpectRollback()

	txn, err := s.Begin(ctx, "deadlock")
	require.NoError(t, err)
	h, err := txn.HomeWithUID(ctx, CalendarType, "carol", true)
	require.Error(t, err)
	assert.Nil(t, h)
	assert.ErrorContains(t, err, `create home "carol"`)
	assert.False(t, store.IsUniqueViolation(err))
	require.NoError(t, txn.Abort())
	assert.NoError(t, mock.ExpectationsWereMet())
}
