package datastore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/calsync/internal/cache"
	"github.com/roach88/calsync/internal/directory"
	"github.com/roach88/calsync/internal/revision"
)

func TestHomeWithUID_Provisioning(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	txn := begin(t, s)

	h, err := txn.HomeWithUID(ctx, CalendarType, "alice", false)
	require.NoError(t, err)
	assert.Nil(t, h)

	h = calendarHome(t, txn, "alice")
	assert.Equal(t, "alice", h.UID())
	assert.Equal(t, HomeNormal, h.Status())
	assert.False(t, h.External())

	again := calendarHome(t, txn, "alice")
	assert.Same(t, h, again)
	id := h.ID()
	commit(t, txn)

	txn = begin(t, s)
	h, err = txn.HomeWithUID(ctx, CalendarType, "alice", false)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, id, h.ID())
}

func TestHomeWithUID_NormalizesUID(t *testing.T) {
	s := newTestStore(t)
	txn := begin(t, s)

	composed := calendarHome(t, txn, "jos\u00e9")
	decomposed := calendarHome(t, txn, "jose\u0301")
	assert.Same(t, composed, decomposed)
}

func TestHomeWithUID_TypesAreSeparate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	txn := begin(t, s)

	cal := calendarHome(t, txn, "alice")
	ab, err := txn.HomeWithUID(ctx, AddressBookType, "alice", true)
	require.NoError(t, err)
	assert.NotEqual(t, cal.ID(), ab.ID())
	assert.Equal(t, AddressBookType, ab.Type())

	_, err = txn.HomeWithUID(ctx, NotificationType, "alice", true)
	assert.Error(t, err)
}

func TestHomeWithUID_ExternalPrincipal(t *testing.T) {
	s := newTestStore(t, WithDirectory(directory.New("pod-a", map[string]string{"bob": "pod-b"})))
	txn := begin(t, s)

	bob := calendarHome(t, txn, "bob")
	assert.True(t, bob.External())

	_, err := bob.CreateChildWithName(context.Background(), "work")
	assert.True(t, errors.Is(err, ErrNotAllowed))
}

func TestCreateChildWithName(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	txn := begin(t, s)
	h := calendarHome(t, txn, "alice")

	work, err := h.CreateChildWithName(ctx, "work")
	require.NoError(t, err)
	assert.True(t, work.Owned())
	assert.Equal(t, StatusAccepted, work.ShareStatus())
	_, err = h.CreateChildWithName(ctx, "home")
	require.NoError(t, err)

	_, err = h.CreateChildWithName(ctx, "work")
	assert.True(t, IsNameExists(err))
	assert.True(t, errors.Is(err, ErrHomeChildNameAlreadyExists))

	names, err := h.ListChildren(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"home", "work"}, names)
	commit(t, txn)

	txn = begin(t, s)
	h = calendarHome(t, txn, "alice")
	c := mustChild(t, h, "work")
	assert.Equal(t, work.ID(), c.ID())
	created, err := c.Created(ctx)
	require.NoError(t, err)
	assert.False(t, created.IsZero())

	byID, err := h.ChildWithID(ctx, work.ID())
	require.NoError(t, err)
	assert.Same(t, c, byID)
}

func TestRemoveChildWithName(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	txn := begin(t, s)
	h := calendarHome(t, txn, "alice")
	_, err := h.CreateChildWithName(ctx, "work")
	require.NoError(t, err)
	commit(t, txn)

	txn = begin(t, s)
	h = calendarHome(t, txn, "alice")
	err = h.RemoveChildWithName(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, h.RemoveChildWithName(ctx, "work"))
	c, err := h.ChildWithName(ctx, "work")
	require.NoError(t, err)
	assert.Nil(t, c)
	commit(t, txn)

	txn = begin(t, s)
	names, err := calendarHome(t, txn, "alice").ListChildren(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestRename(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	txn := begin(t, s)
	h := calendarHome(t, txn, "alice")
	work, err := h.CreateChildWithName(ctx, "work")
	require.NoError(t, err)
	_, err = h.CreateChildWithName(ctx, "home")
	require.NoError(t, err)

	assert.True(t, IsNameExists(work.Rename(ctx, "home")))
	require.NoError(t, work.Rename(ctx, "office"))
	assert.Equal(t, "office", work.Name())
	assert.Equal(t, "office", work.OwnerName())
	commit(t, txn)

	txn = begin(t, s)
	h = calendarHome(t, txn, "alice")
	old, err := h.ChildWithName(ctx, "work")
	require.NoError(t, err)
	assert.Nil(t, old)
	mustChild(t, h, "office")
}

func TestBindLookupsAreCachedAfterCommit(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory()
	s := newTestStore(t, WithCache(mem))

	txn := begin(t, s)
	h := calendarHome(t, txn, "alice")
	_, err := h.CreateChildWithName(ctx, "work")
	require.NoError(t, err)
	homeID := h.ID()
	commit(t, txn)

	key := cache.KeyForObjectWithName(homeID, "work")
	_, ok := mem.Get(key)
	assert.False(t, ok, "creation does not populate the cache")

	txn = begin(t, s)
	mustChild(t, calendarHome(t, txn, "alice"), "work")
	_, ok = mem.Get(key)
	assert.False(t, ok, "rows are cached only after commit")
	commit(t, txn)
	_, ok = mem.Get(key)
	assert.True(t, ok)

	txn = begin(t, s)
	c := mustChild(t, calendarHome(t, txn, "alice"), "work")
	require.NoError(t, c.Rename(ctx, "office"))
	commit(t, txn)
	_, ok = mem.Get(key)
	assert.False(t, ok, "rename invalidates the old name")

	txn = begin(t, s)
	old, err := calendarHome(t, txn, "alice").ChildWithName(ctx, "work")
	require.NoError(t, err)
	assert.Nil(t, old)
}

func TestNotifyChanged_AfterCommitOnce(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	s := newTestStore(t, WithNotifier(n))

	txn := begin(t, s)
	h := calendarHome(t, txn, "alice")
	c, err := h.CreateChildWithName(ctx, "work")
	require.NoError(t, err)
	_, err = c.CreateObjectWithName(ctx, "1.ics", event("1"))
	require.NoError(t, err)
	_, err = c.CreateObjectWithName(ctx, "2.ics", event("2"))
	require.NoError(t, err)
	assert.Empty(t, n.all())
	commit(t, txn)

	assert.Equal(t, []string{"calendar/alice", "calendar/alice/work"}, n.all())
}

func TestNotifyChanged_NotOnAbort(t *testing.T) {
	ctx := context.Background()
	n := &recordingNotifier{}
	s := newTestStore(t, WithNotifier(n))

	txn := begin(t, s)
	_, err := calendarHome(t, txn, "alice").CreateChildWithName(ctx, "work")
	require.NoError(t, err)
	require.NoError(t, txn.Abort())
	assert.Empty(t, n.all())
}

func TestHomeSyncTokens(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	txn := begin(t, s)
	h := calendarHome(t, txn, "alice")
	work, err := h.CreateChildWithName(ctx, "work")
	require.NoError(t, err)

	start, err := h.SyncToken(ctx)
	require.NoError(t, err)

	_, err = work.CreateObjectWithName(ctx, "1.ics", event("1"))
	require.NoError(t, err)

	tokens, err := h.ChildSyncTokens(ctx)
	require.NoError(t, err)
	workToken, err := work.SyncToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"work": workToken}, tokens)

	changes, err := h.ResourceNamesSinceToken(ctx, start, revision.DepthOne)
	require.NoError(t, err)
	assert.Contains(t, changes.Changed, "work/")
}
