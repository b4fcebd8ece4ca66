package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_DefaultStart(t *testing.T) {
	c := NewClock(time.Time{})
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), c.Now())
}

func TestClock_Advance(t *testing.T) {
	start := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	c := NewClock(start)
	c.Advance(90 * time.Minute)
	assert.Equal(t, start.Add(90*time.Minute), c.Now())
}

func TestSequentialIDs(t *testing.T) {
	g := NewSequentialIDs("share")
	assert.Equal(t, "share-0001", g.Generate())
	assert.Equal(t, "share-0002", g.Generate())

	assert.Equal(t, "id-0001", NewSequentialIDs("").Generate())
}

func TestSequentialIDs_ConcurrentUnique(t *testing.T) {
	g := NewSequentialIDs("x")
	var mu sync.Mutex
	seen := map[string]bool{}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := g.Generate()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}

func TestNewStore(t *testing.T) {
	s := NewStore(t, "")
	txn, err := s.Begin(context.Background(), t.Name())
	require.NoError(t, err)
	defer txn.Abort()
	rows, err := txn.ExecSQL(context.Background(), "select count(*) from CALENDAR_HOME")
	require.NoError(t, err)
	assert.EqualValues(t, 0, rows[0][0])
}

func TestNewPooledStore_InterleavedTransactions(t *testing.T) {
	ctx := context.Background()
	s := NewPooledStore(t, "pooled")

	reader, err := s.Begin(ctx, "reader")
	require.NoError(t, err)
	defer reader.Abort()
	rows, err := reader.ExecSQL(ctx, "select count(*) from CALENDAR_HOME")
	require.NoError(t, err)
	assert.EqualValues(t, 0, rows[0][0])

	writer, err := s.Begin(ctx, "writer")
	require.NoError(t, err)
	defer writer.Abort()
	_, err = writer.ExecSQL(ctx, "insert into CALENDAR_HOME (RESOURCE_ID, OWNER_UID) values (1, 'alice')")
	require.NoError(t, err)
	require.NoError(t, writer.Commit())

	// The reader keeps its snapshot.
	rows, err = reader.ExecSQL(ctx, "select count(*) from CALENDAR_HOME")
	require.NoError(t, err)
	assert.EqualValues(t, 0, rows[0][0])
	require.NoError(t, reader.Commit())
}
