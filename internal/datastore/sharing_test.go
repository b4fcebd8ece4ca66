package datastore

import (
	"context"
	"errors"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sharedCalendar creates alice's "work" calendar with one event and
// commits it.
func sharedCalendar(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	txn := begin(t, s)
	c, err := calendarHome(t, txn, "alice").CreateChildWithName(ctx, "work")
	require.NoError(t, err)
	_, err = c.CreateObjectWithName(ctx, "standup.ics", event("standup"))
	require.NoError(t, err)
	commit(t, txn)
}

func notification(t *testing.T, txn *Txn, uid, name string) map[string]any {
	t.Helper()
	n, err := txn.NotificationsWithUID(context.Background(), uid, false)
	require.NoError(t, err)
	if n == nil {
		return nil
	}
	o, err := n.NotificationObjectWithUID(context.Background(), name)
	require.NoError(t, err)
	if o == nil {
		return nil
	}
	return o.Data()
}

func TestInviteAndAccept(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sharedCalendar(t, s)

	txn := begin(t, s)
	owner := mustChild(t, calendarHome(t, txn, "alice"), "work")
	view, err := owner.InviteUIDToShare(ctx, "bob", BindRead, mo.Some("join me"), "")
	require.NoError(t, err)
	assert.Equal(t, "id-0001", view.ShareUID())
	assert.Equal(t, StatusInvited, view.ShareStatus())
	assert.True(t, owner.IsShared())
	commit(t, txn)

	txn = begin(t, s)
	bob := calendarHome(t, txn, "bob")
	pending, err := bob.ChildWithName(ctx, "id-0001")
	require.NoError(t, err)
	assert.Nil(t, pending, "invited shares are not children")

	data := notification(t, txn, "bob", "id-0001")
	require.NotNil(t, data)
	assert.Equal(t, "invite-notification", data["notification-type"])
	assert.Equal(t, "calendar", data["shared-type"])
	assert.Equal(t, "20240102T030405Z", data["dtstamp"])
	assert.Equal(t, "alice", data["owner"])
	assert.Equal(t, "bob", data["sharee"])
	assert.Equal(t, "work", data["ownerName"])
	assert.Equal(t, "join me", data["summary"])
	assert.Equal(t, float64(StatusInvited), data["status"])
	assert.Equal(t, float64(BindRead), data["access"])

	require.NoError(t, bob.AcceptShare(ctx, "id-0001", mo.Some("thanks")))
	commit(t, txn)

	txn = begin(t, s)
	shared := mustChild(t, calendarHome(t, txn, "bob"), "id-0001")
	assert.Equal(t, StatusAccepted, shared.ShareStatus())
	assert.Equal(t, "alice", shared.OwnerHome().UID())
	assert.Equal(t, "work", shared.OwnerName())
	names, err := shared.ListObjectResources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"standup.ics"}, names)

	reply := notification(t, txn, "alice", "id-0001-reply")
	require.NotNil(t, reply)
	assert.Equal(t, "invite-reply", reply["notification-type"])
	assert.Equal(t, "id-0001", reply["in-reply-to"])
	assert.Equal(t, "thanks", reply["summary"])
	assert.Equal(t, float64(StatusAccepted), reply["status"])

	owner = mustChild(t, calendarHome(t, txn, "alice"), "work")
	ownerToken, err := owner.SyncToken(ctx)
	require.NoError(t, err)
	shareeToken, err := shared.SyncToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, ownerToken, shareeToken)

	_, err = owner.CreateObjectWithName(ctx, "review.ics", event("review"))
	require.NoError(t, err)
	changes, err := shared.ResourceNamesSinceToken(ctx, shareeToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"review.ics"}, changes.Changed)
}

func TestReadOnlyShareRejectsWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sharedCalendar(t, s)

	txn := begin(t, s)
	owner := mustChild(t, calendarHome(t, txn, "alice"), "work")
	_, err := owner.InviteUIDToShare(ctx, "bob", BindRead, mo.None[string](), "alice-work")
	require.NoError(t, err)
	require.NoError(t, calendarHome(t, txn, "bob").AcceptShare(ctx, "alice-work", mo.None[string]()))

	shared := mustChild(t, calendarHome(t, txn, "bob"), "alice-work")
	_, err = shared.CreateObjectWithName(ctx, "x.ics", event("x"))
	assert.True(t, errors.Is(err, ErrNotAllowed))
}

func TestDeclineAndReinvite(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sharedCalendar(t, s)

	txn := begin(t, s)
	owner := mustChild(t, calendarHome(t, txn, "alice"), "work")
	_, err := owner.InviteUIDToShare(ctx, "bob", BindRead, mo.None[string](), "alice-work")
	require.NoError(t, err)
	bob := calendarHome(t, txn, "bob")
	require.NoError(t, bob.DeclineShare(ctx, "alice-work"))

	view, err := owner.ShareeView(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.Equal(t, StatusDeclined, view.ShareStatus())
	reply := notification(t, txn, "alice", "alice-work-reply")
	require.NotNil(t, reply)
	assert.Equal(t, int(StatusDeclined), reply["status"])

	again, err := owner.InviteUIDToShare(ctx, "bob", BindWrite, mo.None[string](), "ignored")
	require.NoError(t, err)
	assert.Same(t, view, again)
	assert.Equal(t, StatusInvited, again.ShareStatus())
	assert.Equal(t, BindWrite, again.ShareMode())
	assert.Equal(t, "alice-work", again.ShareUID())
	assert.Equal(t, int(BindWrite), notification(t, txn, "bob", "alice-work")["access"])
}

func TestUninvite(t *testing.T) {
	ctx := context.Background()

	t.Run("pending invitation is retracted", func(t *testing.T) {
		s := newTestStore(t)
		sharedCalendar(t, s)
		txn := begin(t, s)
		owner := mustChild(t, calendarHome(t, txn, "alice"), "work")
		_, err := owner.InviteUIDToShare(ctx, "bob", BindRead, mo.None[string](), "alice-work")
		require.NoError(t, err)
		require.NotNil(t, notification(t, txn, "bob", "alice-work"))

		require.NoError(t, owner.UninviteUIDFromShare(ctx, "bob"))
		assert.Nil(t, notification(t, txn, "bob", "alice-work"))
		view, err := owner.ShareeView(ctx, "bob")
		require.NoError(t, err)
		assert.Nil(t, view)
	})

	t.Run("accepted share is announced deleted", func(t *testing.T) {
		s := newTestStore(t)
		sharedCalendar(t, s)
		txn := begin(t, s)
		owner := mustChild(t, calendarHome(t, txn, "alice"), "work")
		_, err := owner.InviteUIDToShare(ctx, "bob", BindRead, mo.None[string](), "alice-work")
		require.NoError(t, err)
		bob := calendarHome(t, txn, "bob")
		require.NoError(t, bob.AcceptShare(ctx, "alice-work", mo.None[string]()))

		require.NoError(t, owner.UninviteUIDFromShare(ctx, "bob"))
		assert.Equal(t, int(StatusDeleted), notification(t, txn, "bob", "alice-work")["status"])
		gone, err := bob.AnyObjectWithShareUID(ctx, "alice-work")
		require.NoError(t, err)
		assert.Nil(t, gone)
		commit(t, txn)

		txn = begin(t, s)
		gone, err = calendarHome(t, txn, "bob").AnyObjectWithShareUID(ctx, "alice-work")
		require.NoError(t, err)
		assert.Nil(t, gone)
	})

	t.Run("unknown sharee is a no-op", func(t *testing.T) {
		s := newTestStore(t)
		sharedCalendar(t, s)
		txn := begin(t, s)
		owner := mustChild(t, calendarHome(t, txn, "alice"), "work")
		assert.NoError(t, owner.UninviteUIDFromShare(ctx, "nobody"))
	})
}

func TestDirectShare(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sharedCalendar(t, s)

	txn := begin(t, s)
	owner := mustChild(t, calendarHome(t, txn, "alice"), "work")
	view, err := owner.DirectShareWithUser(ctx, "bob", "alice-work")
	require.NoError(t, err)
	assert.True(t, view.Direct())
	assert.Equal(t, StatusAccepted, view.ShareStatus())

	n, err := txn.NotificationsWithUID(ctx, "bob", false)
	require.NoError(t, err)
	assert.Nil(t, n, "direct shares send no invitation")

	invites, err := owner.AllInvitations(ctx)
	require.NoError(t, err)
	assert.Empty(t, invites)
	all, err := owner.SharingInvites(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "bob", all[0].ShareeUID)
	commit(t, txn)

	txn = begin(t, s)
	bob := calendarHome(t, txn, "bob")
	shared := mustChild(t, bob, "alice-work")
	require.NoError(t, shared.AcceptShare(ctx, mo.None[string]()))
	require.NoError(t, shared.DeleteShare(ctx))
	gone, err := bob.AnyObjectWithShareUID(ctx, "alice-work")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestShareWithExistingBindUpdatesIt(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sharedCalendar(t, s)

	txn := begin(t, s)
	owner := mustChild(t, calendarHome(t, txn, "alice"), "work")
	name, err := owner.ShareWithUID(ctx, "bob", BindRead, mo.None[BindStatus](), mo.None[string](), "first")
	require.NoError(t, err)
	assert.Equal(t, "first", name)

	name, err = owner.ShareWithUID(ctx, "bob", BindWrite, mo.None[BindStatus](), mo.None[string](), "second")
	require.NoError(t, err)
	assert.Equal(t, "first", name)

	view := mustChild(t, calendarHome(t, txn, "bob"), "first")
	assert.Equal(t, BindWrite, view.ShareMode())
	commit(t, txn)

	txn = begin(t, s)
	view = mustChild(t, calendarHome(t, txn, "bob"), "first")
	assert.Equal(t, BindWrite, view.ShareMode())
	assert.Positive(t, view.BindRevision())
}

func TestSharingRules(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sharedCalendar(t, s)

	txn := begin(t, s)
	owner := mustChild(t, calendarHome(t, txn, "alice"), "work")

	_, err := owner.InviteUIDToShare(ctx, "alice", BindRead, mo.None[string](), "")
	assert.True(t, errors.Is(err, ErrNotAllowed), "owner cannot be invited")
	_, err = owner.InviteUIDToShare(ctx, "bob", BindOwn, mo.None[string](), "")
	assert.True(t, errors.Is(err, ErrNotAllowed), "mode own cannot be granted")
	assert.True(t, errors.Is(owner.AcceptShare(ctx, mo.None[string]()), ErrNotAllowed))
	assert.True(t, errors.Is(owner.RemoveShare(ctx, owner), ErrNotAllowed))

	self, err := owner.ShareeView(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, self)

	err = calendarHome(t, txn, "bob").AcceptShare(ctx, "missing", mo.None[string]())
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = owner.InviteUIDToShare(ctx, "bob", BindRead, mo.None[string](), "alice-work")
	require.NoError(t, err)
	shared, err := calendarHome(t, txn, "bob").AnyObjectWithShareUID(ctx, "alice-work")
	require.NoError(t, err)
	_, err = shared.InviteUIDToShare(ctx, "carol", BindRead, mo.None[string](), "")
	assert.True(t, errors.Is(err, ErrNotAllowed), "sharees cannot reshare")
}

func TestAllInvitationsSortedBySharee(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sharedCalendar(t, s)

	txn := begin(t, s)
	owner := mustChild(t, calendarHome(t, txn, "alice"), "work")
	for _, uid := range []string{"carol", "bob", "dave"} {
		_, err := owner.InviteUIDToShare(ctx, uid, BindRead, mo.None[string](), "")
		require.NoError(t, err)
	}
	_, err := owner.DirectShareWithUser(ctx, "erin", "")
	require.NoError(t, err)

	invites, err := owner.AllInvitations(ctx)
	require.NoError(t, err)
	var sharees []string
	for _, inv := range invites {
		sharees = append(sharees, inv.ShareeUID)
		assert.Equal(t, "alice", inv.OwnerUID)
		assert.Equal(t, StatusInvited, inv.Status)
	}
	assert.Equal(t, []string{"bob", "carol", "dave"}, sharees)
}

func TestOwnerDeleteShare(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sharedCalendar(t, s)

	txn := begin(t, s)
	owner := mustChild(t, calendarHome(t, txn, "alice"), "work")
	_, err := owner.InviteUIDToShare(ctx, "bob", BindRead, mo.None[string](), "")
	require.NoError(t, err)
	_, err = owner.DirectShareWithUser(ctx, "carol", "")
	require.NoError(t, err)

	require.NoError(t, owner.OwnerDeleteShare(ctx))
	assert.False(t, owner.IsShared())
	invites, err := owner.SharingInvites(ctx)
	require.NoError(t, err)
	assert.Empty(t, invites)
}

func TestRemovingOwnedCollectionDropsShares(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	sharedCalendar(t, s)

	txn := begin(t, s)
	alice := calendarHome(t, txn, "alice")
	owner := mustChild(t, alice, "work")
	_, err := owner.DirectShareWithUser(ctx, "bob", "alice-work")
	require.NoError(t, err)
	commit(t, txn)

	txn = begin(t, s)
	require.NoError(t, calendarHome(t, txn, "alice").RemoveChildWithName(ctx, "work"))
	commit(t, txn)

	txn = begin(t, s)
	gone, err := calendarHome(t, txn, "bob").AnyObjectWithShareUID(ctx, "alice-work")
	require.NoError(t, err)
	assert.Nil(t, gone)
}
