package datastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/mo"

	"github.com/roach88/calsync/internal/dal"
	"github.com/roach88/calsync/internal/revision"
	"github.com/roach88/calsync/internal/xpod"
)

// send delivers m to the pod hosting uid and decodes the result into out.
// Every failure is reported as an external share failure; the remote
// cause stays in the chain.
func (t *Txn) send(ctx context.Context, uid string, m xpod.Message, out any) error {
	pod := t.store.directory.PodFor(uid)
	if t.store.conduit == nil {
		return externalShareFailed(nil, "no conduit for %s to pod %s", m.ActionName(), pod)
	}
	t.logger().Debug("cross-pod request", "action", m.ActionName(), "pod", pod, "uid", uid)
	if err := xpod.Call(ctx, t.store.conduit, pod, m, out); err != nil {
		return externalShareFailed(err, "%s for %s", m.ActionName(), uid)
	}
	return nil
}

// ensureBindUID returns the bind UID of an owned collection, assigning one
// on first use. Stubs on other pods are found by it.
func (c *Collection) ensureBindUID(ctx context.Context) (string, error) {
	if uid, ok := c.bind.bindUID.Get(); ok {
		return uid, nil
	}
	uid := c.txn.store.ids.Generate()
	upd, err := c.t.updateBind(map[*dal.Column]any{c.t.bind.BindUID: dal.Param("bindUID")})
	if err != nil {
		return "", err
	}
	if _, err := c.txn.st.Exec(ctx, upd, dal.Args{
		"bindUID":    uid,
		"homeID":     c.homeID,
		"resourceID": c.ID(),
	}); err != nil {
		return "", fmt.Errorf("assign bind uid to %q: %w", c.Name(), err)
	}
	c.bind.bindUID = mo.Some(uid)
	c.invalidateQueryCache()
	return uid, nil
}

func (c *Collection) sendExternalInvite(ctx context.Context, view *Collection) error {
	bindUID, err := c.ensureBindUID(ctx)
	if err != nil {
		return err
	}
	supported, err := c.SupportedComponents(ctx)
	if err != nil {
		return err
	}
	m := &xpod.ShareInvite{
		Type:       int(c.t.homeType),
		Owner:      c.ViewerHome().UID(),
		OwnerID:    bindUID,
		OwnerName:  c.ShareName(),
		Sharee:     view.ViewerHome().UID(),
		ShareID:    view.ShareUID(),
		Mode:       int(view.ShareMode()),
		Summary:    view.ShareMessage().OrElse(""),
		Properties: map[string]string{},
	}
	if s, ok := supported.Get(); ok {
		m.SupportedComponents = &s
	}
	return c.txn.send(ctx, m.Sharee, m, nil)
}

func (c *Collection) sendExternalUninvite(ctx context.Context, view *Collection) error {
	bindUID, err := c.ensureBindUID(ctx)
	if err != nil {
		return err
	}
	m := &xpod.ShareUninvite{
		Type:    int(c.t.homeType),
		Owner:   c.ViewerHome().UID(),
		OwnerID: bindUID,
		Sharee:  view.ViewerHome().UID(),
		ShareID: view.ShareUID(),
	}
	return c.txn.send(ctx, m.Sharee, m, nil)
}

// replyExternal sends the sharee's answer to the owner's pod.
func (c *Collection) replyExternal(ctx context.Context, status BindStatus, summary mo.Option[string]) error {
	owner := c.OwnerHome()
	if owner == nil {
		return notFound("owner of %q", c.Name())
	}
	m := &xpod.ShareReply{
		Type:    int(c.t.homeType),
		Owner:   owner.UID(),
		Sharee:  c.ViewerHome().UID(),
		ShareID: c.ShareUID(),
		Status:  int(status),
	}
	if s, ok := summary.Get(); ok {
		m.Summary = &s
	}
	return c.txn.send(ctx, m.Owner, m, nil)
}

// changesValue is the wire form of revision.Changes.
type changesValue struct {
	Changed []string `json:"changed"`
	Deleted []string `json:"deleted"`
	Invalid []string `json:"invalid"`
}

func newChangesValue(ch revision.Changes) changesValue {
	return changesValue{Changed: ch.Changed, Deleted: ch.Deleted, Invalid: ch.Invalid}
}

func (v changesValue) changes() revision.Changes {
	return revision.Changes{Changed: v.Changed, Deleted: v.Deleted, Invalid: v.Invalid}
}

// callOwnerPod runs a read of an external collection on its owner's pod.
// When that pod no longer knows the share, the local view of it is
// dropped before the failure is returned; committing the transaction
// keeps that repair.
func (c *Collection) callOwnerPod(ctx context.Context, action string, out any, args ...any) error {
	ov, err := c.OwnerView(ctx)
	if err != nil {
		return err
	}
	if ov == nil {
		return notFound("stub of external %q", c.Name())
	}
	bindUID, ok := ov.BindUID().Get()
	if !ok {
		return externalShareFailed(nil, "stub %q has no bind uid", ov.Name())
	}
	owner := c.OwnerHome().UID()
	m, err := xpod.NewHomeChild(action, int(c.t.homeType), owner, bindUID, c.ViewerHome().UID(), args...)
	if err != nil {
		return err
	}
	err = c.txn.send(ctx, owner, m, out)
	if err != nil && xpod.IsNonExistentExternalShare(err) {
		if fixErr := c.fixNonExistentExternalShare(ctx, ov); fixErr != nil {
			return errors.Join(err, fixErr)
		}
	}
	return err
}

func (c *Collection) fixNonExistentExternalShare(ctx context.Context, ov *Collection) error {
	c.txn.logger().Warn("removing share unknown to owner pod",
		"home", c.ViewerHome().UID(),
		"name", c.Name(),
		"owner", c.OwnerHome().UID())
	if !c.Owned() {
		if err := ov.RemoveShare(ctx, c); err != nil {
			return err
		}
	}
	invites, err := ov.SharingInvites(ctx)
	if err != nil || len(invites) > 0 {
		return err
	}
	return ov.ViewerHome().RemoveExternalChild(ctx, ov)
}

// CreateCollectionForExternalShare creates the stub standing in for a
// collection owned on another pod. A stale stub of the same name that is
// no longer shared is replaced.
func (h *Home) CreateCollectionForExternalShare(ctx context.Context, name, bindUID string, supported mo.Option[string]) (*Collection, error) {
	if !h.External() {
		return nil, notAllowed("home %s is not external", h.uid)
	}
	c, err := h.createChild(ctx, name, mo.Some(bindUID))
	if IsNameExists(err) {
		old, lerr := h.AnyObjectWithShareUID(ctx, name)
		if lerr != nil || old == nil {
			return nil, errors.Join(err, lerr)
		}
		invites, lerr := old.SharingInvites(ctx)
		if lerr != nil {
			return nil, lerr
		}
		if len(invites) > 0 {
			return nil, externalShareFailed(err, "stub %q of %s is still shared", name, h.uid)
		}
		if err := h.RemoveExternalChild(ctx, old); err != nil {
			return nil, err
		}
		c, err = h.createChild(ctx, name, mo.Some(bindUID))
	}
	if err != nil {
		return nil, err
	}
	if _, ok := supported.Get(); ok && h.t.setSupported != nil {
		if err := c.SetSupportedComponents(ctx, supported); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// externalOwnerHome returns the stub home of a remote owner.
func (h *Home) externalOwnerHome(ctx context.Context, owner string, create bool) (*Home, error) {
	oh, err := h.txn.HomeWithUID(ctx, h.t.homeType, owner, create)
	if err != nil {
		return nil, err
	}
	if oh == nil || !oh.External() {
		return nil, externalShareFailed(nil, "owner %s is not on another pod", owner)
	}
	return oh, nil
}

// ProcessExternalInvite applies an invitation from another pod to this
// sharee home.
func (h *Home) ProcessExternalInvite(ctx context.Context, m *xpod.ShareInvite) error {
	ownerHome, err := h.externalOwnerHome(ctx, m.Owner, true)
	if err != nil {
		return err
	}
	supported := mo.PointerToOption(m.SupportedComponents)
	stub, err := ownerHome.ChildWithBindUID(ctx, m.OwnerID)
	if err != nil {
		return err
	}
	if stub == nil {
		if stub, err = ownerHome.CreateCollectionForExternalShare(ctx, m.OwnerName, m.OwnerID, supported); err != nil {
			return err
		}
	} else if supported.IsPresent() && h.t.setSupported != nil {
		if err := stub.SetSupportedComponents(ctx, supported); err != nil {
			return err
		}
	}

	mode := BindMode(m.Mode)
	if mode == BindDirect {
		_, err = stub.DirectShareWithUser(ctx, h.uid, m.ShareID)
		return err
	}
	summary := mo.None[string]()
	if m.Summary != "" {
		summary = mo.Some(m.Summary)
	}
	_, err = stub.InviteUIDToShare(ctx, h.uid, mode, summary, m.ShareID)
	return err
}

// ProcessExternalUninvite withdraws a share from another pod. The stub
// goes once nobody on this pod is invited to it.
func (h *Home) ProcessExternalUninvite(ctx context.Context, m *xpod.ShareUninvite) error {
	ownerHome, err := h.externalOwnerHome(ctx, m.Owner, false)
	if err != nil {
		return err
	}
	stub, err := ownerHome.ChildWithBindUID(ctx, m.OwnerID)
	if err != nil {
		return err
	}
	if stub == nil {
		return externalShareFailed(xpod.ErrNonExistentExternalShare, "no stub %s of %s", m.OwnerID, m.Owner)
	}
	if err := stub.UninviteUIDFromShare(ctx, h.uid); err != nil {
		return err
	}
	invites, err := stub.SharingInvites(ctx)
	if err != nil || len(invites) > 0 {
		return err
	}
	return ownerHome.RemoveExternalChild(ctx, stub)
}

// ProcessExternalReply applies a sharee's answer from another pod to this
// owner home.
func (h *Home) ProcessExternalReply(ctx context.Context, m *xpod.ShareReply) error {
	shareeHome, err := h.txn.HomeWithUID(ctx, h.t.homeType, m.Sharee, false)
	if err != nil {
		return err
	}
	if shareeHome == nil || !shareeHome.External() {
		return externalShareFailed(nil, "sharee %s is not on another pod", m.Sharee)
	}
	view, err := shareeHome.AnyObjectWithShareUID(ctx, m.ShareID)
	if err != nil {
		return err
	}
	if view == nil {
		return externalShareFailed(xpod.ErrNonExistentExternalShare, "no share %s for %s", m.ShareID, m.Sharee)
	}
	switch BindStatus(m.Status) {
	case StatusAccepted:
		return shareeHome.AcceptShare(ctx, m.ShareID, mo.PointerToOption(m.Summary))
	case StatusDeclined:
		if view.Direct() {
			return view.DeleteShare(ctx)
		}
		return shareeHome.DeclineShare(ctx, m.ShareID)
	default:
		return externalShareFailed(nil, "unexpected reply status %d", m.Status)
	}
}
