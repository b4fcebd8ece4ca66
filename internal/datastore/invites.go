package datastore

import (
	"context"

	"github.com/samber/mo"
)

// Notification payload values.
const (
	notificationTypeInvite = "invite-notification"
	notificationTypeReply  = "invite-reply"

	dtstampFormat = "20060102T150405Z"
)

func (c *Collection) dtstamp() string {
	return c.txn.store.clock().UTC().Format(dtstampFormat)
}

// sendInviteNotification writes the invitation for view into the sharee's
// notification collection. state overrides the reported status, which is
// how a withdrawn accepted share is announced as deleted.
func (c *Collection) sendInviteNotification(ctx context.Context, view *Collection, state mo.Option[BindStatus]) error {
	sharee := view.ViewerHome()
	notifications, err := c.txn.NotificationsWithUID(ctx, sharee.UID(), true)
	if err != nil {
		return err
	}
	typ := map[string]string{
		"notification-type": notificationTypeInvite,
		"shared-type":       c.t.sharedType,
	}
	data := map[string]any{
		"notification-type": notificationTypeInvite,
		"shared-type":       c.t.sharedType,
		"dtstamp":           c.dtstamp(),
		"owner":             c.ViewerHome().UID(),
		"sharee":            sharee.UID(),
		"uid":               view.ShareUID(),
		"status":            int(state.OrElse(view.ShareStatus())),
		"access":            int(view.ShareMode()),
		"ownerName":         c.ShareName(),
		"summary":           optionValue(view.ShareMessage()),
	}
	supported, err := c.SupportedComponents(ctx)
	if err != nil {
		return err
	}
	if s, ok := supported.Get(); ok {
		data["supported-components"] = s
	}
	_, err = notifications.WriteNotificationObject(ctx, view.ShareUID(), typ, data)
	return err
}

// removeInviteNotification retracts the pending invitation for view.
func (c *Collection) removeInviteNotification(ctx context.Context, view *Collection) error {
	notifications, err := c.txn.NotificationsWithUID(ctx, view.ViewerHome().UID(), false)
	if err != nil || notifications == nil {
		return err
	}
	return notifications.RemoveNotificationObjectWithUID(ctx, view.ShareUID())
}

// sendReplyNotification tells the owner how the sharee of view answered.
func (c *Collection) sendReplyNotification(ctx context.Context, view *Collection, summary mo.Option[string]) error {
	owner := c.ViewerHome()
	notifications, err := c.txn.NotificationsWithUID(ctx, owner.UID(), true)
	if err != nil {
		return err
	}
	uid := view.ShareUID() + "-reply"
	typ := map[string]string{
		"notification-type": notificationTypeReply,
		"shared-type":       c.t.sharedType,
	}
	data := map[string]any{
		"notification-type": notificationTypeReply,
		"shared-type":       c.t.sharedType,
		"dtstamp":           c.dtstamp(),
		"owner":             owner.UID(),
		"sharee":            view.ViewerHome().UID(),
		"status":            int(view.ShareStatus()),
		"ownerName":         c.ShareName(),
		"in-reply-to":       view.ShareUID(),
		"summary":           optionValue(summary),
	}
	_, err = notifications.WriteNotificationObject(ctx, uid, typ, data)
	return err
}
