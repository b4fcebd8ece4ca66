package datastore

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/mo"

	"github.com/roach88/calsync/internal/cache"
	"github.com/roach88/calsync/internal/dal"
	"github.com/roach88/calsync/internal/revision"
	"github.com/roach88/calsync/internal/store"
)

// Home is one principal's calendar or address book home.
type Home struct {
	txn    *Txn
	t      *tables
	id     int64
	uid    string
	status HomeStatus

	// views holds every collection view loaded through the home, keyed by
	// resource id. children indexes the accepted ones by name.
	views    map[int64]*Collection
	children map[string]*Collection
}

func (h *Home) ID() int64          { return h.id }
func (h *Home) UID() string        { return h.uid }
func (h *Home) Type() HomeType     { return h.t.homeType }
func (h *Home) Status() HomeStatus { return h.status }

// External reports whether the home is a stub for a principal on another
// pod.
func (h *Home) External() bool { return h.status == HomeExternal }

func (h *Home) notifierID() string {
	return fmt.Sprintf("%s/%s", h.t.homeType, h.uid)
}

// NotifyChanged queues a push notification for the home. External homes
// are notified by their own pod.
func (h *Home) NotifyChanged() {
	if h.External() {
		return
	}
	h.txn.notifyChanged(h.notifierID())
}

// view returns the arena object for rec, building it on first use.
func (h *Home) view(ctx context.Context, rec *bindRecord) (*Collection, error) {
	if rec == nil {
		return nil, nil
	}
	if c, ok := h.views[rec.resourceID]; ok {
		return c, nil
	}
	c := &Collection{
		txn:     h.txn,
		t:       h.t,
		homeID:  h.id,
		bind:    *rec,
		objects: make(map[string]*Object),
	}
	if rec.mode == BindOwn {
		c.ownerHomeID = h.id
		c.ownerName = rec.name
	} else {
		rows, err := h.txn.st.Exec(ctx, h.t.ownerBind, dal.Args{"resourceID": rec.resourceID})
		if err != nil {
			return nil, fmt.Errorf("load owner of %s %d: %w", h.t.sharedType, rec.resourceID, err)
		}
		if len(rows) == 0 {
			return nil, fmt.Errorf("%s %d has no owner", h.t.sharedType, rec.resourceID)
		}
		owner := scanBind(rows[0])
		c.ownerHomeID = owner.homeID
		c.ownerName = owner.name
		if _, err := h.txn.homeWithID(ctx, h.t, owner.homeID); err != nil {
			return nil, err
		}
	}
	c.tracker = revision.New(h.txn.st, h.t.rev, c, revision.WithNotify(c.changed))
	h.views[rec.resourceID] = c
	if rec.status == StatusAccepted {
		h.children[rec.name] = c
	}
	return c, nil
}

// forget drops a view whose bind row is being removed.
func (h *Home) forget(c *Collection) {
	delete(h.views, c.ID())
	if h.children[c.Name()] == c {
		delete(h.children, c.Name())
	}
	c.removed = true
}

func acceptedOnly(c *Collection, err error) (*Collection, error) {
	if err != nil || c == nil || c.removed || c.bind.status != StatusAccepted {
		return nil, err
	}
	return c, nil
}

func (h *Home) lookupByName(ctx context.Context, name string) (*Collection, error) {
	for _, c := range h.views {
		if c.Name() == name {
			return c, nil
		}
	}
	rec, err := h.txn.cachedBind(ctx, cache.KeyForObjectWithName(h.id, name),
		h.t.bindByName, dal.Args{"homeID": h.id, "name": name})
	if err != nil {
		return nil, fmt.Errorf("load child %q of %s: %w", name, h.uid, err)
	}
	return h.view(ctx, rec)
}

func (h *Home) lookupByID(ctx context.Context, id int64) (*Collection, error) {
	if c, ok := h.views[id]; ok {
		return c, nil
	}
	rec, err := h.txn.cachedBind(ctx, cache.KeyForResourceID(h.id, id),
		h.t.bindByResourceID, dal.Args{"homeID": h.id, "resourceID": id})
	if err != nil {
		return nil, fmt.Errorf("load child %d of %s: %w", id, h.uid, err)
	}
	return h.view(ctx, rec)
}

// ChildWithName returns the accepted collection bound as name, or nil.
func (h *Home) ChildWithName(ctx context.Context, name string) (*Collection, error) {
	if c, ok := h.children[name]; ok {
		return c, nil
	}
	return acceptedOnly(h.lookupByName(ctx, name))
}

// ChildWithID returns the accepted collection with resource id id, or nil.
func (h *Home) ChildWithID(ctx context.Context, id int64) (*Collection, error) {
	return acceptedOnly(h.lookupByID(ctx, id))
}

// AllChildWithID returns the collection with resource id id whatever its
// bind status, or nil.
func (h *Home) AllChildWithID(ctx context.Context, id int64) (*Collection, error) {
	c, err := h.lookupByID(ctx, id)
	if c != nil && c.removed {
		return nil, err
	}
	return c, err
}

// AnyObjectWithShareUID returns the collection bound under shareUID
// whatever its bind status, or nil.
func (h *Home) AnyObjectWithShareUID(ctx context.Context, shareUID string) (*Collection, error) {
	c, err := h.lookupByName(ctx, shareUID)
	if c != nil && c.removed {
		return nil, err
	}
	return c, err
}

// ChildWithBindUID returns the accepted collection whose bind row carries
// bindUID, or nil.
func (h *Home) ChildWithBindUID(ctx context.Context, bindUID string) (*Collection, error) {
	for _, c := range h.views {
		if uid, ok := c.BindUID().Get(); ok && uid == bindUID {
			return acceptedOnly(c, nil)
		}
	}
	rec, err := h.txn.cachedBind(ctx, cache.KeyForBindUID(h.id, bindUID),
		h.t.bindByBindUID, dal.Args{"homeID": h.id, "bindUID": bindUID})
	if err != nil {
		return nil, fmt.Errorf("load child with bind uid %q: %w", bindUID, err)
	}
	return acceptedOnly(h.view(ctx, rec))
}

// Children returns the accepted collections of the home ordered by name.
func (h *Home) Children(ctx context.Context) ([]*Collection, error) {
	rows, err := h.txn.st.Exec(ctx, h.t.bindsForHome, dal.Args{"homeID": h.id})
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", h.uid, err)
	}
	var out []*Collection
	for _, row := range rows {
		rec := scanBind(row)
		c, err := h.view(ctx, &rec)
		if err != nil {
			return nil, err
		}
		if c, _ := acceptedOnly(c, nil); c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// ListChildren returns the names of the accepted collections.
func (h *Home) ListChildren(ctx context.Context) ([]string, error) {
	children, err := h.Children(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(children))
	for i, c := range children {
		names[i] = c.Name()
	}
	return names, nil
}

// CreateChildWithName creates an owned collection. Names are unique per
// home across owned and shared collections.
func (h *Home) CreateChildWithName(ctx context.Context, name string) (*Collection, error) {
	if h.External() {
		return nil, notAllowed("cannot create %q in external home %s", name, h.uid)
	}
	return h.createChild(ctx, name, mo.None[string]())
}

func (h *Home) createChild(ctx context.Context, name string, bindUID mo.Option[string]) (*Collection, error) {
	existing, err := h.AnyObjectWithShareUID(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nameExists(name)
	}

	st := h.txn.st
	sp, err := st.Savepoint(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := h.insertChild(ctx, name, bindUID)
	if err != nil {
		if rbErr := h.txn.rollbackSavepoint(ctx, sp); rbErr != nil {
			return nil, errors.Join(err, rbErr)
		}
		if store.IsUniqueViolation(err) {
			return nil, nameExists(name)
		}
		return nil, err
	}
	if err := st.Release(ctx, sp); err != nil {
		return nil, err
	}

	c, err := h.view(ctx, rec)
	if err != nil {
		return nil, err
	}
	if err := c.tracker.InitSyncToken(ctx); err != nil {
		return nil, err
	}
	h.txn.invalidate(cache.KeyForObjectWithName(h.id, name))
	h.NotifyChanged()
	h.txn.logger().Debug("created child", "home", h.uid, "name", name, "id", c.ID())
	return c, nil
}

func (h *Home) insertChild(ctx context.Context, name string, bindUID mo.Option[string]) (*bindRecord, error) {
	args := dal.Args{}
	if h.t.child.SupportedComponents != nil {
		args["supported"] = nil
	}
	rows, err := h.txn.st.Exec(ctx, h.t.insertChild, args)
	if err != nil {
		return nil, fmt.Errorf("create %s %q: %w", h.t.sharedType, name, err)
	}
	rec := &bindRecord{
		homeID:     h.id,
		resourceID: store.Int64(rows[0][0]),
		name:       name,
		mode:       BindOwn,
		status:     StatusAccepted,
		bindUID:    bindUID,
	}
	if _, err := h.txn.st.Exec(ctx, h.t.insertBind, dal.Args{
		"homeID":     rec.homeID,
		"resourceID": rec.resourceID,
		"name":       rec.name,
		"mode":       int64(rec.mode),
		"status":     int64(rec.status),
		"bindUID":    optionValue(bindUID),
		"message":    nil,
	}); err != nil {
		return nil, fmt.Errorf("bind %s %q: %w", h.t.sharedType, name, err)
	}
	return rec, nil
}

// RemoveChildWithName removes the accepted collection bound as name: an
// owned collection is deleted, a shared one is unbound.
func (h *Home) RemoveChildWithName(ctx context.Context, name string) error {
	if h.External() {
		return notAllowed("cannot remove %q from external home %s", name, h.uid)
	}
	c, err := h.ChildWithName(ctx, name)
	if err != nil {
		return err
	}
	if c == nil {
		return notFound("no child %q in %s", name, h.uid)
	}
	return c.Remove(ctx)
}

// RemoveExternalChild deletes a stub collection of an external home.
func (h *Home) RemoveExternalChild(ctx context.Context, c *Collection) error {
	if !h.External() {
		return notAllowed("home %s is not external", h.uid)
	}
	if !c.Owned() || c.homeID != h.id {
		return notAllowed("%q is not a stub of %s", c.Name(), h.uid)
	}
	return c.removeOwned(ctx)
}

// SyncToken returns the home-level sync token.
func (h *Home) SyncToken(ctx context.Context) (string, error) {
	return revision.HomeSyncToken(ctx, h.txn.st, h.t.rev, h.id)
}

// ChildSyncTokens returns the sync token of every accepted collection,
// keyed by name.
func (h *Home) ChildSyncTokens(ctx context.Context) (map[string]string, error) {
	children, err := h.Children(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(children))
	for i, c := range children {
		ids[i] = c.ID()
	}
	revs, err := revision.ChildSyncTokenRevisions(ctx, h.txn.st, h.t.rev, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(children))
	for _, c := range children {
		out[c.Name()] = revision.FormatToken(fmt.Sprint(c.ID()), revs[c.ID()])
	}
	return out, nil
}

// ResourceNamesSinceToken returns the home-level delta since token.
func (h *Home) ResourceNamesSinceToken(ctx context.Context, token string, depth revision.Depth) (revision.Changes, error) {
	rev, err := revision.ParseToken(token)
	if err != nil {
		return revision.Changes{}, err
	}
	return revision.HomeNamesSinceRevision(ctx, h.txn.st, h.t.rev, h.id, rev, depth)
}
