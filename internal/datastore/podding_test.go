package datastore

import (
	"context"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/calsync/internal/conduit"
	"github.com/roach88/calsync/internal/directory"
	"github.com/roach88/calsync/internal/testutil"
	"github.com/roach88/calsync/internal/xpod"
)

// newPods returns alice's pod-a and bob's pod-b joined by a loopback
// conduit.
func newPods(t *testing.T) (a, b *Store) {
	t.Helper()
	loop := conduit.NewLoopback()
	newPod := func(local string, remote map[string]string) *Store {
		s := New(testutil.NewStore(t, local),
			WithDirectory(directory.New(local, remote)),
			WithConduit(loop),
			WithIDGenerator(testutil.NewSequentialIDs(local)),
			WithClock(testutil.NewClock(time.Time{}).Now),
			WithLogger(testutil.DiscardLogger()),
		)
		loop.Register(local, s)
		return s
	}
	a = newPod("pod-a", map[string]string{"bob": "pod-b"})
	b = newPod("pod-b", map[string]string{"alice": "pod-a"})
	return a, b
}

// inviteAcrossPods shares alice's "work" on pod-a with bob on pod-b and
// returns the share UID.
func inviteAcrossPods(t *testing.T, a, b *Store, accept bool) string {
	t.Helper()
	ctx := context.Background()
	sharedCalendar(t, a)

	txn := begin(t, a)
	owner := mustChild(t, calendarHome(t, txn, "alice"), "work")
	view, err := owner.InviteUIDToShare(ctx, "bob", BindWrite, mo.Some("project"), "")
	require.NoError(t, err)
	assert.True(t, view.ViewerHome().External())
	shareUID := view.ShareUID()
	commit(t, txn)

	if accept {
		txn = begin(t, b)
		require.NoError(t, calendarHome(t, txn, "bob").AcceptShare(ctx, shareUID, mo.None[string]()))
		commit(t, txn)
	}
	return shareUID
}

func TestCrossPodInvite(t *testing.T) {
	ctx := context.Background()
	a, b := newPods(t)
	shareUID := inviteAcrossPods(t, a, b, false)
	assert.Equal(t, "pod-a-0001", shareUID)

	txn := begin(t, b)
	bob := calendarHome(t, txn, "bob")
	assert.False(t, bob.External())
	view, err := bob.AnyObjectWithShareUID(ctx, shareUID)
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, StatusInvited, view.ShareStatus())
	assert.Equal(t, BindWrite, view.ShareMode())
	assert.True(t, view.External())
	assert.Equal(t, "alice", view.OwnerHome().UID())
	assert.Equal(t, "work", view.OwnerName())

	stub, err := view.OwnerView(ctx)
	require.NoError(t, err)
	require.NotNil(t, stub)
	assert.Equal(t, mo.Some("pod-a-0002"), stub.BindUID())

	data := notification(t, txn, "bob", shareUID)
	require.NotNil(t, data)
	assert.Equal(t, "alice", data["owner"])
	assert.Equal(t, "project", data["summary"])
}

func TestCrossPodAcceptAndRead(t *testing.T) {
	ctx := context.Background()
	a, b := newPods(t)
	shareUID := inviteAcrossPods(t, a, b, true)

	txn := begin(t, a)
	owner := mustChild(t, calendarHome(t, txn, "alice"), "work")
	view, err := owner.ShareeView(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, StatusAccepted, view.ShareStatus())
	reply := notification(t, txn, "alice", shareUID+"-reply")
	require.NotNil(t, reply)
	assert.Equal(t, "bob", reply["sharee"])
	ownerToken, err := owner.SyncToken(ctx)
	require.NoError(t, err)
	require.NoError(t, txn.Abort())

	txn = begin(t, b)
	shared := mustChild(t, calendarHome(t, txn, "bob"), shareUID)
	names, err := shared.ListObjectResources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"standup.ics"}, names)
	n, err := shared.CountObjectResources(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	token, err := shared.SyncToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, ownerToken, token)
	changes, err := shared.ResourceNamesSinceToken(ctx, token)
	require.NoError(t, err)
	assert.Empty(t, changes.Changed)
	assert.Empty(t, changes.Deleted)
}

func TestCrossPodUninvite(t *testing.T) {
	ctx := context.Background()
	a, b := newPods(t)
	shareUID := inviteAcrossPods(t, a, b, true)

	txn := begin(t, a)
	owner := mustChild(t, calendarHome(t, txn, "alice"), "work")
	require.NoError(t, owner.UninviteUIDFromShare(ctx, "bob"))
	commit(t, txn)

	txn = begin(t, b)
	view, err := calendarHome(t, txn, "bob").AnyObjectWithShareUID(ctx, shareUID)
	require.NoError(t, err)
	assert.Nil(t, view)
	alice, err := txn.HomeWithUID(ctx, CalendarType, "alice", false)
	require.NoError(t, err)
	require.NotNil(t, alice)
	stub, err := alice.ChildWithBindUID(ctx, "pod-a-0002")
	require.NoError(t, err)
	assert.Nil(t, stub, "the stub goes with its last share")
	assert.Equal(t, float64(StatusDeleted), notification(t, txn, "bob", shareUID)["status"])
}

func TestCrossPodMissingShareIsRepaired(t *testing.T) {
	ctx := context.Background()
	a, b := newPods(t)
	shareUID := inviteAcrossPods(t, a, b, true)

	// The owner pod drops the share without telling pod-b.
	txn := begin(t, a)
	owner := mustChild(t, calendarHome(t, txn, "alice"), "work")
	view, err := owner.ShareeView(ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, owner.RemoveShare(ctx, view))
	commit(t, txn)

	txn = begin(t, b)
	shared := mustChild(t, calendarHome(t, txn, "bob"), shareUID)
	_, err = shared.SyncToken(ctx)
	require.Error(t, err)
	assert.True(t, IsExternalShareFailed(err))
	assert.True(t, xpod.IsNonExistentExternalShare(err))
	commit(t, txn)

	txn = begin(t, b)
	gone, err := calendarHome(t, txn, "bob").AnyObjectWithShareUID(ctx, shareUID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestHandleRejectsForeignHomes(t *testing.T) {
	ctx := context.Background()
	a, _ := newPods(t)

	_, err := a.Handle(ctx, &xpod.ShareReply{Type: int(CalendarType), Owner: "bob", Sharee: "alice", ShareID: "x", Status: int(StatusAccepted)})
	assert.Error(t, err)

	_, err = a.Handle(ctx, &xpod.HomeChild{Action: xpod.ActionSyncToken, Type: int(CalendarType), Owner: "alice", OwnerID: "nope", Sharee: "bob"})
	assert.True(t, xpod.IsNonExistentExternalShare(err))
}

func TestNoConduit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, WithDirectory(directory.New("pod-a", map[string]string{"bob": "pod-b"})))
	sharedCalendar(t, s)

	txn := begin(t, s)
	owner := mustChild(t, calendarHome(t, txn, "alice"), "work")
	_, err := owner.InviteUIDToShare(ctx, "bob", BindRead, mo.None[string](), "")
	assert.True(t, IsExternalShareFailed(err))
}
