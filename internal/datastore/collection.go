package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/samber/mo"

	"github.com/roach88/calsync/internal/cache"
	"github.com/roach88/calsync/internal/dal"
	"github.com/roach88/calsync/internal/query"
	"github.com/roach88/calsync/internal/revision"
	"github.com/roach88/calsync/internal/store"
	"github.com/roach88/calsync/internal/xpod"
)

// Collection is a calendar or address book as bound into one home: the
// owner's own view or a sharee's view of it.
type Collection struct {
	txn *Txn
	t   *tables

	homeID      int64
	ownerHomeID int64
	bind        bindRecord

	// ownerName is the collection's name in the owner's home.
	ownerName string

	tracker *revision.Tracker
	objects map[string]*Object
	meta    *childMeta
	removed bool
}

type childMeta struct {
	created   time.Time
	modified  time.Time
	supported mo.Option[string]
}

func (c *Collection) ID() int64 { return c.bind.resourceID }

// Name is the collection's name in the viewing home.
func (c *Collection) Name() string { return c.bind.name }

// ShareName is the name of the bind row. It is the same as Name.
func (c *Collection) ShareName() string { return c.bind.name }

// ShareUID identifies the share in notifications and cross-pod messages.
func (c *Collection) ShareUID() string { return c.bind.name }

func (c *Collection) ShareMode() BindMode     { return c.bind.mode }
func (c *Collection) ShareStatus() BindStatus { return c.bind.status }

// ShareMessage is the share summary, or "shared" on an owned collection
// marked shared.
func (c *Collection) ShareMessage() mo.Option[string] { return c.bind.message }

// BindRevision is the revision the view started tracking at.
func (c *Collection) BindRevision() int64 { return c.bind.revision }

// BindUID ties an owned collection to its stubs on other pods.
func (c *Collection) BindUID() mo.Option[string] { return c.bind.bindUID }

func (c *Collection) Owned() bool  { return c.bind.mode == BindOwn }
func (c *Collection) Direct() bool { return c.bind.mode == BindDirect }

// OwnerName is the collection's name in the owner's home.
func (c *Collection) OwnerName() string { return c.ownerName }

// ViewerHome is the home the collection is viewed through.
func (c *Collection) ViewerHome() *Home {
	return c.txn.homes[homeKey{c.t.homeType, c.homeID}]
}

// OwnerHome is the home that owns the collection.
func (c *Collection) OwnerHome() *Home {
	return c.txn.homes[homeKey{c.t.homeType, c.ownerHomeID}]
}

// External reports whether the collection is owned by a principal on
// another pod. Its members then live on that pod.
func (c *Collection) External() bool {
	h := c.OwnerHome()
	return h != nil && h.External()
}

// IsShared reports whether an owned collection is marked shared.
func (c *Collection) IsShared() bool {
	msg, ok := c.bind.message.Get()
	return c.Owned() && ok && msg == "shared"
}

// HomeResourceID, OwnerHomeResourceID and ResourceID make the collection
// a revision.Subject.
func (c *Collection) HomeResourceID() int64      { return c.homeID }
func (c *Collection) OwnerHomeResourceID() int64 { return c.ownerHomeID }
func (c *Collection) ResourceID() int64          { return c.bind.resourceID }

func (c *Collection) notifierID() string {
	uid := ""
	if h := c.OwnerHome(); h != nil {
		uid = h.UID()
	}
	return fmt.Sprintf("%s/%s/%s", c.t.homeType, uid, c.ownerName)
}

// NotifyChanged queues a push notification for the collection and its
// viewer home.
func (c *Collection) NotifyChanged() {
	if !c.External() {
		c.txn.notifyChanged(c.notifierID())
	}
	if h := c.ViewerHome(); h != nil {
		h.NotifyChanged()
	}
}

// changed is the revision tracker's notify hook.
func (c *Collection) changed(context.Context) error {
	c.NotifyChanged()
	return nil
}

// cacheKeys are the cache entries describing this view.
func (c *Collection) cacheKeys() []string {
	keys := []string{
		cache.KeyForHomeChildMetaData(c.ID()),
		cache.KeyForObjectWithName(c.homeID, c.Name()),
		cache.KeyForResourceID(c.homeID, c.ID()),
	}
	if uid, ok := c.bind.bindUID.Get(); ok {
		keys = append(keys, cache.KeyForBindUID(c.homeID, uid))
	}
	return keys
}

func (c *Collection) invalidateQueryCache() {
	c.txn.invalidate(c.cacheKeys()...)
}

func (c *Collection) loadMeta(ctx context.Context) (*childMeta, error) {
	if c.meta != nil {
		return c.meta, nil
	}
	row, err := c.txn.cachedRow(ctx, cache.KeyForHomeChildMetaData(c.ID()),
		c.t.childMeta, dal.Args{"resourceID": c.ID()})
	if err != nil {
		return nil, fmt.Errorf("load %s %d: %w", c.t.sharedType, c.ID(), err)
	}
	if row == nil {
		return nil, notFound("%s %d", c.t.sharedType, c.ID())
	}
	m := &childMeta{created: store.Time(row[0]), modified: store.Time(row[1])}
	if len(row) > 2 {
		m.supported = nullString(row[2])
	}
	c.meta = m
	return m, nil
}

// Created returns the creation time of the collection.
func (c *Collection) Created(ctx context.Context) (time.Time, error) {
	m, err := c.loadMeta(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return m.created, nil
}

// Modified returns the last metadata change of the collection.
func (c *Collection) Modified(ctx context.Context) (time.Time, error) {
	m, err := c.loadMeta(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return m.modified, nil
}

// SupportedComponents returns the component set of a calendar. Address
// books have none.
func (c *Collection) SupportedComponents(ctx context.Context) (mo.Option[string], error) {
	if c.t.setSupported == nil {
		return mo.None[string](), nil
	}
	m, err := c.loadMeta(ctx)
	if err != nil {
		return mo.None[string](), err
	}
	return m.supported, nil
}

// SetSupportedComponents sets the component set of a calendar.
func (c *Collection) SetSupportedComponents(ctx context.Context, components mo.Option[string]) error {
	if c.t.setSupported == nil {
		return notAllowed("%s collections have no component set", c.t.sharedType)
	}
	if _, err := c.txn.st.Exec(ctx, c.t.setSupported, dal.Args{
		"supported":  optionValue(components),
		"resourceID": c.ID(),
	}); err != nil {
		return fmt.Errorf("set supported components of %q: %w", c.Name(), err)
	}
	c.meta = nil
	c.txn.invalidate(cache.KeyForHomeChildMetaData(c.ID()))
	c.NotifyChanged()
	return nil
}

// Rename changes the name of the collection in the viewing home.
func (c *Collection) Rename(ctx context.Context, name string) error {
	if name == c.Name() {
		return nil
	}
	home := c.ViewerHome()
	existing, err := home.AnyObjectWithShareUID(ctx, name)
	if err != nil {
		return err
	}
	if existing != nil {
		return nameExists(name)
	}
	upd, err := c.t.updateBind(map[*dal.Column]any{c.t.bind.ResourceName: dal.Param("name")})
	if err != nil {
		return err
	}
	if _, err := c.txn.st.Exec(ctx, upd, dal.Args{
		"name":       name,
		"homeID":     c.homeID,
		"resourceID": c.ID(),
	}); err != nil {
		if store.IsUniqueViolation(err) {
			return nameExists(name)
		}
		return fmt.Errorf("rename %q to %q: %w", c.Name(), name, err)
	}

	c.invalidateQueryCache()
	if home.children[c.Name()] == c {
		delete(home.children, c.Name())
		home.children[name] = c
	}
	c.bind.name = name
	if c.Owned() {
		c.ownerName = name
	}
	c.invalidateQueryCache()
	if err := c.tracker.RenameSyncToken(ctx); err != nil {
		return err
	}
	home.NotifyChanged()
	return nil
}

// Remove removes the collection from the viewing home. Removing an owned
// collection deletes it for every home it is shared with; removing a
// shared one declines or drops the share.
func (c *Collection) Remove(ctx context.Context) error {
	if c.removed {
		return nil
	}
	if c.Owned() {
		if c.ViewerHome().External() {
			return notAllowed("cannot remove stub %q", c.Name())
		}
		return c.removeOwned(ctx)
	}
	return c.DeleteShare(ctx)
}

func (c *Collection) removeOwned(ctx context.Context) error {
	invites, err := c.SharingInvites(ctx)
	if err != nil {
		return err
	}
	var sharees []*Collection
	for _, inv := range invites {
		view, err := c.ShareeView(ctx, inv.ShareeUID)
		if err != nil {
			return err
		}
		if view == nil {
			continue
		}
		if view.ViewerHome().External() {
			if err := c.sendExternalUninvite(ctx, view); err != nil {
				c.txn.logger().Warn("external uninvite failed",
					"collection", c.Name(),
					"sharee", inv.ShareeUID,
					"error", err)
			}
		}
		sharees = append(sharees, view)
	}

	// Tombstones the marker row of every home the collection is bound in.
	if err := c.tracker.DeletedSyncToken(ctx, false); err != nil {
		return err
	}
	if _, err := c.txn.st.Exec(ctx, c.t.deleteChild, dal.Args{"resourceID": c.ID()}); err != nil {
		return fmt.Errorf("remove %s %q: %w", c.t.sharedType, c.Name(), err)
	}

	for _, view := range sharees {
		view.invalidateQueryCache()
		home := view.ViewerHome()
		home.forget(view)
		home.NotifyChanged()
	}
	c.invalidateQueryCache()
	c.NotifyChanged()
	c.ViewerHome().forget(c)
	c.txn.logger().Debug("removed collection", "home", c.ViewerHome().UID(), "name", c.Name())
	return nil
}

// SyncToken returns the collection's current sync token.
func (c *Collection) SyncToken(ctx context.Context) (string, error) {
	if c.External() {
		var token string
		err := c.callOwnerPod(ctx, xpod.ActionSyncToken, &token)
		return token, err
	}
	return c.tracker.SyncToken(ctx)
}

// SyncTokenRevision returns the revision part of the sync token.
func (c *Collection) SyncTokenRevision(ctx context.Context) (int64, error) {
	if c.External() {
		token, err := c.SyncToken(ctx)
		if err != nil {
			return 0, err
		}
		return revision.ParseToken(token)
	}
	return c.tracker.SyncTokenRevision(ctx)
}

// ResourceNamesSinceToken returns the member delta since token.
func (c *Collection) ResourceNamesSinceToken(ctx context.Context, token string) (revision.Changes, error) {
	if c.External() {
		rev, err := revision.ParseToken(token)
		if err != nil {
			return revision.Changes{}, err
		}
		return c.ResourceNamesSinceRevision(ctx, rev)
	}
	return c.tracker.ResourceNamesSinceToken(ctx, token)
}

// ResourceNamesSinceRevision returns the member delta since rev.
func (c *Collection) ResourceNamesSinceRevision(ctx context.Context, rev int64) (revision.Changes, error) {
	if c.External() {
		var out changesValue
		if err := c.callOwnerPod(ctx, xpod.ActionResourceNamesSinceRevision, &out, rev); err != nil {
			return revision.Changes{}, err
		}
		return out.changes(), nil
	}
	return c.tracker.ResourceNamesSinceRevision(ctx, rev)
}

// ListObjectResources returns the member names in order.
func (c *Collection) ListObjectResources(ctx context.Context) ([]string, error) {
	if c.External() {
		var names []string
		err := c.callOwnerPod(ctx, xpod.ActionListObjects, &names)
		return names, err
	}
	rows, err := c.txn.st.Exec(ctx, c.t.objectNames, dal.Args{"parentID": c.ID()})
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", c.Name(), err)
	}
	names := make([]string, len(rows))
	for i, row := range rows {
		names[i] = store.String(row[0])
	}
	return names, nil
}

// CountObjectResources returns the number of members.
func (c *Collection) CountObjectResources(ctx context.Context) (int64, error) {
	if c.External() {
		var n int64
		err := c.callOwnerPod(ctx, xpod.ActionCountObjects, &n)
		return n, err
	}
	rows, err := c.txn.st.Exec(ctx, c.t.objectCount, dal.Args{"parentID": c.ID()})
	if err != nil {
		return 0, fmt.Errorf("count %q: %w", c.Name(), err)
	}
	return store.Int64(rows[0][0]), nil
}

// SearchResult is one match of Search.
type SearchResult struct {
	Name string
	UID  string

	// ComponentType is empty for address books.
	ComponentType string
}

// Search returns the members matching expr.
func (c *Collection) Search(ctx context.Context, expr query.Expression, opts ...query.Option) ([]SearchResult, error) {
	if c.External() {
		return nil, notAllowed("search of external collection %q", c.Name())
	}
	res, err := query.Generate(c.t.kind, expr, c.ID(), opts...)
	if err != nil {
		return nil, err
	}
	rows, err := c.txn.st.Exec(ctx, res.Select, res.Args)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", c.Name(), err)
	}
	out := make([]SearchResult, len(rows))
	for i, row := range rows {
		out[i] = SearchResult{Name: store.String(row[0]), UID: store.String(row[1])}
		if len(row) > 2 {
			out[i].ComponentType = store.String(row[2])
		}
	}
	return out, nil
}
