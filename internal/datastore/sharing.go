package datastore

import (
	"context"
	"fmt"
	"sort"

	"github.com/samber/mo"

	"github.com/roach88/calsync/internal/dal"
	"github.com/roach88/calsync/internal/directory"
	"github.com/roach88/calsync/internal/store"
)

// SharingInvitation describes one sharee bind of an owned collection.
type SharingInvitation struct {
	// UID is the share UID: the bind name in the sharee's home.
	UID          string
	OwnerUID     string
	OwnerHomeID  int64
	ShareeUID    string
	ShareeHomeID int64
	Mode         BindMode
	Status       BindStatus
	Summary      mo.Option[string]
}

// shareRetries is how often the bind insert of ShareWith is retried
// before falling back to updating the row a concurrent writer created.
const shareRetries = 1

func (c *Collection) requireOwned(op string) error {
	if !c.Owned() {
		return notAllowed("%s on shared collection %q", op, c.Name())
	}
	if c.removed {
		return notFound("%s %q was removed", c.t.sharedType, c.Name())
	}
	return nil
}

// OwnerView returns the owner's view of the collection. An owned
// collection is its own owner view.
func (c *Collection) OwnerView(ctx context.Context) (*Collection, error) {
	if c.Owned() {
		return c, nil
	}
	h := c.OwnerHome()
	if h == nil {
		return nil, notFound("owner of %q", c.Name())
	}
	return h.ChildWithID(ctx, c.ID())
}

// ShareeView returns the sharee's view of an owned collection whatever
// its status, or nil. The owner is never its own sharee.
func (c *Collection) ShareeView(ctx context.Context, shareeUID string) (*Collection, error) {
	shareeUID = directory.Normalize(shareeUID)
	if shareeUID == c.ViewerHome().UID() {
		return nil, nil
	}
	h, err := c.txn.HomeWithUID(ctx, c.t.homeType, shareeUID, false)
	if err != nil || h == nil {
		return nil, err
	}
	return h.AllChildWithID(ctx, c.ID())
}

// InviteUIDToShare invites shareeUID to the owned collection. An existing
// bind is updated, and a declined or invalid one becomes invited again.
// The sharee is told by notification, or by message when hosted on
// another pod.
func (c *Collection) InviteUIDToShare(ctx context.Context, shareeUID string, mode BindMode, summary mo.Option[string], shareName string) (*Collection, error) {
	if err := c.requireOwned("invite"); err != nil {
		return nil, err
	}
	if mode == BindOwn {
		return nil, notAllowed("cannot invite %s as owner", shareeUID)
	}
	if directory.Normalize(shareeUID) == c.ViewerHome().UID() {
		return nil, notAllowed("cannot share %q with its owner", c.Name())
	}

	view, err := c.ShareeView(ctx, shareeUID)
	if err != nil {
		return nil, err
	}
	if view != nil {
		status := mo.None[BindStatus]()
		if s := view.ShareStatus(); s == StatusDeclined || s == StatusInvalid {
			status = mo.Some(StatusInvited)
		}
		if err := c.UpdateShare(ctx, view, mo.Some(mode), status, summary); err != nil {
			return nil, err
		}
	} else if view, err = c.CreateShare(ctx, shareeUID, mode, summary, shareName); err != nil {
		return nil, err
	}

	if view.ViewerHome().External() {
		err = c.sendExternalInvite(ctx, view)
	} else {
		err = c.sendInviteNotification(ctx, view, mo.None[BindStatus]())
	}
	if err != nil {
		return nil, err
	}
	return view, nil
}

// DirectShareWithUser grants shareeUID access without an invitation.
func (c *Collection) DirectShareWithUser(ctx context.Context, shareeUID string, shareName string) (*Collection, error) {
	if err := c.requireOwned("direct share"); err != nil {
		return nil, err
	}
	view, err := c.ShareeView(ctx, shareeUID)
	if err != nil || view != nil {
		return view, err
	}
	if view, err = c.CreateShare(ctx, shareeUID, BindDirect, mo.None[string](), shareName); err != nil {
		return nil, err
	}
	if view.ViewerHome().External() {
		if err := c.sendExternalInvite(ctx, view); err != nil {
			return nil, err
		}
	}
	return view, nil
}

// UninviteUIDFromShare withdraws the share with shareeUID. A sharee who
// accepted is sent a deleted notification, otherwise the pending
// invitation is retracted. Direct shares and owners whose home is
// disabled send no notifications.
func (c *Collection) UninviteUIDFromShare(ctx context.Context, shareeUID string) error {
	if err := c.requireOwned("uninvite"); err != nil {
		return err
	}
	view, err := c.ShareeView(ctx, shareeUID)
	if err != nil || view == nil {
		return err
	}

	switch {
	case view.ViewerHome().External():
		if err := c.sendExternalUninvite(ctx, view); err != nil {
			return err
		}
	case view.Direct() || c.ViewerHome().Status() == HomeDisabled:
	case view.ShareStatus() != StatusAccepted:
		if err := c.removeInviteNotification(ctx, view); err != nil {
			return err
		}
	default:
		if err := c.sendInviteNotification(ctx, view, mo.Some(StatusDeleted)); err != nil {
			return err
		}
	}
	return c.RemoveShare(ctx, view)
}

// AcceptShare accepts the invitation this view represents and replies to
// the owner. Direct and already accepted shares are left alone.
func (c *Collection) AcceptShare(ctx context.Context, summary mo.Option[string]) error {
	return c.reply(ctx, StatusAccepted, summary)
}

// DeclineShare declines the invitation this view represents.
func (c *Collection) DeclineShare(ctx context.Context) error {
	return c.reply(ctx, StatusDeclined, mo.None[string]())
}

func (c *Collection) reply(ctx context.Context, status BindStatus, summary mo.Option[string]) error {
	if c.Owned() {
		return notAllowed("reply to the owner's own %q", c.Name())
	}
	if c.Direct() || c.ShareStatus() == status {
		return nil
	}
	if c.External() {
		if err := c.replyExternal(ctx, status, summary); err != nil {
			return err
		}
	}
	ov, err := c.OwnerView(ctx)
	if err != nil {
		return err
	}
	if ov == nil {
		return notFound("owner view of %q", c.Name())
	}
	if err := ov.UpdateShare(ctx, c, mo.None[BindMode](), mo.Some(status), mo.None[string]()); err != nil {
		return err
	}
	if ov.External() || ov.ViewerHome().Status() == HomeDisabled {
		return nil
	}
	return ov.sendReplyNotification(ctx, c, summary)
}

// DeleteShare is the sharee removing the share: a direct share is
// dropped, an invitation is declined.
func (c *Collection) DeleteShare(ctx context.Context) error {
	if c.Owned() {
		return notAllowed("delete share of the owner's own %q", c.Name())
	}
	if !c.Direct() {
		return c.DeclineShare(ctx)
	}
	ov, err := c.OwnerView(ctx)
	if err != nil {
		return err
	}
	if ov == nil {
		return notFound("owner view of %q", c.Name())
	}
	if err := ov.RemoveShare(ctx, c); err != nil {
		return err
	}
	if ov.External() {
		return c.replyExternal(ctx, StatusDeclined, mo.None[string]())
	}
	return nil
}

// OwnerDeleteShare stops sharing the owned collection with everyone.
func (c *Collection) OwnerDeleteShare(ctx context.Context) error {
	if err := c.SetShared(ctx, false); err != nil {
		return err
	}
	invites, err := c.SharingInvites(ctx)
	if err != nil {
		return err
	}
	for _, inv := range invites {
		if err := c.UninviteUIDFromShare(ctx, inv.ShareeUID); err != nil {
			return err
		}
	}
	return nil
}

// SharingInvites lists the sharee binds of an owned collection. Shared
// views have none.
func (c *Collection) SharingInvites(ctx context.Context) ([]SharingInvitation, error) {
	if !c.Owned() {
		return nil, nil
	}
	rows, err := c.txn.st.Exec(ctx, c.t.invites, dal.Args{"resourceID": c.ID()})
	if err != nil {
		return nil, fmt.Errorf("sharing invites of %q: %w", c.Name(), err)
	}
	out := make([]SharingInvitation, 0, len(rows))
	for _, row := range rows {
		rec := scanBind(row)
		out = append(out, SharingInvitation{
			UID:          rec.name,
			OwnerUID:     c.ViewerHome().UID(),
			OwnerHomeID:  c.homeID,
			ShareeUID:    store.String(row[len(row)-1]),
			ShareeHomeID: rec.homeID,
			Mode:         rec.mode,
			Status:       rec.status,
			Summary:      rec.message,
		})
	}
	return out, nil
}

// AllInvitations lists the invitation binds, leaving out direct shares,
// sorted by sharee.
func (c *Collection) AllInvitations(ctx context.Context) ([]SharingInvitation, error) {
	invites, err := c.SharingInvites(ctx)
	if err != nil {
		return nil, err
	}
	out := invites[:0]
	for _, inv := range invites {
		if inv.Mode != BindDirect {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShareeUID < out[j].ShareeUID })
	return out, nil
}

// CreateShare binds the owned collection into shareeUID's home,
// provisioning the home if needed. Direct shares start accepted, others
// invited.
func (c *Collection) CreateShare(ctx context.Context, shareeUID string, mode BindMode, summary mo.Option[string], shareName string) (*Collection, error) {
	shareeHome, err := c.txn.HomeWithUID(ctx, c.t.homeType, shareeUID, true)
	if err != nil {
		return nil, err
	}
	status := StatusInvited
	if mode == BindDirect {
		status = StatusAccepted
	}
	if _, err := c.ShareWith(ctx, shareeHome, mode, mo.Some(status), summary, shareName); err != nil {
		return nil, err
	}
	return c.ShareeView(ctx, shareeHome.UID())
}

// ShareWithUID is ShareWith for the home of shareeUID.
func (c *Collection) ShareWithUID(ctx context.Context, shareeUID string, mode BindMode, status mo.Option[BindStatus], summary mo.Option[string], shareName string) (string, error) {
	shareeHome, err := c.txn.HomeWithUID(ctx, c.t.homeType, shareeUID, true)
	if err != nil {
		return "", err
	}
	return c.ShareWith(ctx, shareeHome, mode, status, summary, shareName)
}

// ShareWith writes the sharee bind row and returns its name. The status
// defaults to accepted and an empty shareName to a generated one. When a
// concurrent writer created the row first, the existing row is updated
// instead.
func (c *Collection) ShareWith(ctx context.Context, shareeHome *Home, mode BindMode, status mo.Option[BindStatus], summary mo.Option[string], shareName string) (string, error) {
	if err := c.requireOwned("share"); err != nil {
		return "", err
	}
	st := status.OrElse(StatusAccepted)
	name := shareName
	if name == "" {
		name = c.txn.store.ids.Generate()
	}

	err := c.txn.st.Subtransaction(ctx, shareRetries, func(ctx context.Context) error {
		_, err := c.txn.st.Exec(ctx, c.t.insertBind, dal.Args{
			"homeID":     shareeHome.ID(),
			"resourceID": c.ID(),
			"name":       name,
			"mode":       int64(mode),
			"status":     int64(st),
			"bindUID":    nil,
			"message":    optionValue(summary),
		})
		return err
	})
	switch {
	case store.IsAllRetriesFailed(err):
		view, lerr := shareeHome.AllChildWithID(ctx, c.ID())
		if lerr != nil {
			return "", lerr
		}
		if view == nil {
			return "", fmt.Errorf("share %q with %s: %w", c.Name(), shareeHome.UID(), err)
		}
		c.txn.logger().Debug("share bind exists, updating", "collection", c.Name(), "sharee", shareeHome.UID())
		if err := c.UpdateShare(ctx, view, mo.Some(mode), mo.Some(st), summary); err != nil {
			return "", err
		}
		name = view.Name()
	case err != nil:
		return "", err
	case st == StatusAccepted:
		view, err := shareeHome.AllChildWithID(ctx, c.ID())
		if err != nil {
			return "", err
		}
		if err := view.tracker.InitSyncToken(ctx); err != nil {
			return "", err
		}
		if err := view.initBindRevision(ctx); err != nil {
			return "", err
		}
	}

	if err := c.SetShared(ctx, true); err != nil {
		return "", err
	}
	shareeHome.NotifyChanged()
	return name, nil
}

// UpdateShare changes the sharee bind of view. Absent options leave the
// column unchanged and only real changes are written. Moving into the
// accepted status starts sync tracking for the sharee; leaving it
// tombstones the sharee's view.
func (c *Collection) UpdateShare(ctx context.Context, view *Collection, mode mo.Option[BindMode], status mo.Option[BindStatus], summary mo.Option[string]) error {
	if err := c.requireOwned("update share"); err != nil {
		return err
	}
	b := c.t.bind
	values := map[*dal.Column]any{}
	newMode, newStatus, newMessage := view.bind.mode, view.bind.status, view.bind.message
	if m, ok := mode.Get(); ok && m != newMode {
		values[b.BindMode] = int64(m)
		newMode = m
	}
	statusChanged := false
	if s, ok := status.Get(); ok && s != newStatus {
		values[b.BindStatus] = int64(s)
		newStatus = s
		statusChanged = true
	}
	if msg, ok := summary.Get(); ok {
		if cur, had := newMessage.Get(); !had || cur != msg {
			values[b.Message] = msg
			newMessage = summary
		}
	}
	if len(values) == 0 {
		return nil
	}

	// Group shares, which imply acceptance without an accepted row, do not
	// exist here, so the row alone decides.
	previouslyAccepted := view.bind.status == StatusAccepted

	upd, err := c.t.updateBind(values)
	if err != nil {
		return err
	}
	if _, err := c.txn.st.Exec(ctx, upd, dal.Args{"homeID": view.homeID, "resourceID": view.ID()}); err != nil {
		return fmt.Errorf("update share of %q with %d: %w", c.Name(), view.homeID, err)
	}
	view.bind.mode, view.bind.status, view.bind.message = newMode, newStatus, newMessage

	if statusChanged {
		if err := view.changedStatus(ctx, previouslyAccepted); err != nil {
			return err
		}
	}
	view.invalidateQueryCache()
	view.ViewerHome().NotifyChanged()
	return nil
}

// changedStatus applies the side effects of a status change on the
// accepted edges.
func (c *Collection) changedStatus(ctx context.Context, previouslyAccepted bool) error {
	home := c.ViewerHome()
	accepted := c.bind.status == StatusAccepted
	switch {
	case accepted && !previouslyAccepted:
		if err := c.tracker.InitSyncToken(ctx); err != nil {
			return err
		}
		if err := c.initBindRevision(ctx); err != nil {
			return err
		}
		home.children[c.Name()] = c
	case !accepted && previouslyAccepted:
		if err := c.tracker.DeletedSyncToken(ctx, true); err != nil {
			return err
		}
		if home.children[c.Name()] == c {
			delete(home.children, c.Name())
		}
	}
	return nil
}

// initBindRevision records the revision the sharee starts syncing from.
func (c *Collection) initBindRevision(ctx context.Context) error {
	rev, err := c.tracker.SyncTokenRevision(ctx)
	if err != nil {
		return err
	}
	upd, err := c.t.updateBind(map[*dal.Column]any{c.t.bind.BindRevision: dal.Param("revision")})
	if err != nil {
		return err
	}
	if _, err := c.txn.st.Exec(ctx, upd, dal.Args{
		"revision":   rev,
		"homeID":     c.homeID,
		"resourceID": c.ID(),
	}); err != nil {
		return fmt.Errorf("init bind revision of %q: %w", c.Name(), err)
	}
	c.bind.revision = rev
	c.invalidateQueryCache()
	return nil
}

// RemoveShare deletes the sharee bind of view.
func (c *Collection) RemoveShare(ctx context.Context, view *Collection) error {
	if err := c.requireOwned("remove share"); err != nil {
		return err
	}
	if view == nil || view.removed {
		return nil
	}
	if view.Owned() {
		return notAllowed("cannot remove the owner's bind of %q", c.Name())
	}
	if err := view.tracker.DeletedSyncToken(ctx, true); err != nil {
		return err
	}
	if _, err := c.txn.st.Exec(ctx, c.t.deleteBind, dal.Args{"homeID": view.homeID, "resourceID": view.ID()}); err != nil {
		return fmt.Errorf("remove share of %q from %d: %w", c.Name(), view.homeID, err)
	}
	view.invalidateQueryCache()
	home := view.ViewerHome()
	home.forget(view)
	home.NotifyChanged()
	return nil
}

// Unshare removes every sharee bind of an owned collection, or this
// view's own bind of a shared one.
func (c *Collection) Unshare(ctx context.Context) error {
	if !c.Owned() {
		ov, err := c.OwnerView(ctx)
		if err != nil || ov == nil {
			return err
		}
		return ov.RemoveShare(ctx, c)
	}
	invites, err := c.SharingInvites(ctx)
	if err != nil {
		return err
	}
	for _, inv := range invites {
		view, err := c.ShareeView(ctx, inv.ShareeUID)
		if err != nil {
			return err
		}
		if err := c.RemoveShare(ctx, view); err != nil {
			return err
		}
	}
	return nil
}

// SetShared marks an owned collection shared or not.
func (c *Collection) SetShared(ctx context.Context, shared bool) error {
	if err := c.requireOwned("set shared"); err != nil {
		return err
	}
	if c.IsShared() == shared {
		return nil
	}
	msg := mo.None[string]()
	if shared {
		msg = mo.Some("shared")
	}
	upd, err := c.t.updateBind(map[*dal.Column]any{c.t.bind.Message: dal.Param("message")})
	if err != nil {
		return err
	}
	if _, err := c.txn.st.Exec(ctx, upd, dal.Args{
		"message":    optionValue(msg),
		"homeID":     c.homeID,
		"resourceID": c.ID(),
	}); err != nil {
		return fmt.Errorf("set shared on %q: %w", c.Name(), err)
	}
	c.bind.message = msg
	c.invalidateQueryCache()
	return nil
}

// AcceptShare accepts the invitation bound as shareUID.
func (h *Home) AcceptShare(ctx context.Context, shareUID string, summary mo.Option[string]) error {
	view, err := h.AnyObjectWithShareUID(ctx, shareUID)
	if err != nil {
		return err
	}
	if view == nil {
		return notFound("no share %q in %s", shareUID, h.uid)
	}
	return view.AcceptShare(ctx, summary)
}

// DeclineShare declines the invitation bound as shareUID.
func (h *Home) DeclineShare(ctx context.Context, shareUID string) error {
	view, err := h.AnyObjectWithShareUID(ctx, shareUID)
	if err != nil {
		return err
	}
	if view == nil {
		return notFound("no share %q in %s", shareUID, h.uid)
	}
	return view.DeclineShare(ctx)
}
