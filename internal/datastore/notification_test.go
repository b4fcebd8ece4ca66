package datastore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	notifier := &recordingNotifier{}
	s := newTestStore(t, WithNotifier(notifier))

	txn := begin(t, s)
	missing, err := txn.NotificationsWithUID(ctx, "alice", false)
	require.NoError(t, err)
	assert.Nil(t, missing)

	n, err := txn.NotificationsWithUID(ctx, "alice", true)
	require.NoError(t, err)
	token, err := n.SyncToken(ctx)
	require.NoError(t, err)

	typ := map[string]string{"notification-type": "invite-notification"}
	_, err = n.WriteNotificationObject(ctx, "one", typ, map[string]any{"status": 0})
	require.NoError(t, err)
	_, err = n.WriteNotificationObject(ctx, "two", typ, map[string]any{"status": 0})
	require.NoError(t, err)
	commit(t, txn)
	assert.Equal(t, []string{"notification/alice"}, notifier.all())

	txn = begin(t, s)
	n, err = txn.NotificationsWithUID(ctx, "alice", false)
	require.NoError(t, err)
	require.NotNil(t, n)

	names, err := n.ListObjectResources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"one.xml", "two.xml"}, names)

	one, err := n.NotificationObjectWithUID(ctx, "one")
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, typ, one.Type())
	before := one.MD5()

	_, err = n.WriteNotificationObject(ctx, "one", typ, map[string]any{"status": 1})
	require.NoError(t, err)
	assert.NotEqual(t, before, one.MD5(), "rewrites update the cached object")
	require.NoError(t, n.RemoveNotificationObjectWithUID(ctx, "two"))
	require.NoError(t, n.RemoveNotificationObjectWithUID(ctx, "two"))

	all, err := n.NotificationObjects(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "one.xml", all[0].Name())

	changes, err := n.ResourceNamesSinceToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, []string{"one.xml"}, changes.Changed)
	assert.Equal(t, []string{"two.xml"}, changes.Deleted)
}
