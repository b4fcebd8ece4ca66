package datastore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/calsync/internal/testutil"
)

// recordingNotifier collects push notifications.
type recordingNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *recordingNotifier) Notify(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, id)
}

func (n *recordingNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.ids...)
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	clock := testutil.NewClock(time.Time{})
	base := []Option{
		WithIDGenerator(testutil.NewSequentialIDs("id")),
		WithClock(clock.Now),
		WithLogger(testutil.DiscardLogger()),
	}
	return New(testutil.NewStore(t, "calsync"), append(base, opts...)...)
}

func begin(t *testing.T, s *Store) *Txn {
	t.Helper()
	txn, err := s.Begin(context.Background(), t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { txn.Abort() })
	return txn
}

func commit(t *testing.T, txn *Txn) {
	t.Helper()
	require.NoError(t, txn.Commit())
}

func calendarHome(t *testing.T, txn *Txn, uid string) *Home {
	t.Helper()
	h, err := txn.HomeWithUID(context.Background(), CalendarType, uid, true)
	require.NoError(t, err)
	require.NotNil(t, h)
	return h
}

func mustChild(t *testing.T, h *Home, name string) *Collection {
	t.Helper()
	c, err := h.ChildWithName(context.Background(), name)
	require.NoError(t, err)
	require.NotNil(t, c, "child %q of %s", name, h.UID())
	return c
}

func event(uid string) Content {
	return Content{
		UID:           uid,
		Text:          "BEGIN:VCALENDAR\r\nUID:" + uid + "\r\nEND:VCALENDAR\r\n",
		ComponentType: "VEVENT",
	}
}
