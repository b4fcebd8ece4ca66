package datastore

import (
	"context"
	"fmt"

	"github.com/roach88/calsync/internal/directory"
	"github.com/roach88/calsync/internal/xpod"
)

// Handle applies a message from another pod in its own transaction. It
// makes Store an xpod.Handler.
func (s *Store) Handle(ctx context.Context, m xpod.Message) (any, error) {
	txn, err := s.Begin(ctx, "conduit "+m.ActionName())
	if err != nil {
		return nil, err
	}
	defer txn.Abort()

	value, err := txn.handle(ctx, m)
	if err != nil {
		s.logger.Warn("cross-pod request failed", "action", m.ActionName(), "error", err)
		return nil, err
	}
	if err := txn.Commit(); err != nil {
		return nil, err
	}
	return value, nil
}

func (t *Txn) handle(ctx context.Context, m xpod.Message) (any, error) {
	switch m := m.(type) {
	case *xpod.ShareInvite:
		h, err := t.localHome(ctx, HomeType(m.Type), m.Sharee, true)
		if err != nil {
			return nil, err
		}
		return nil, h.ProcessExternalInvite(ctx, m)
	case *xpod.ShareUninvite:
		h, err := t.localHome(ctx, HomeType(m.Type), m.Sharee, true)
		if err != nil {
			return nil, err
		}
		return nil, h.ProcessExternalUninvite(ctx, m)
	case *xpod.ShareReply:
		h, err := t.localHome(ctx, HomeType(m.Type), m.Owner, false)
		if err != nil {
			return nil, err
		}
		return nil, h.ProcessExternalReply(ctx, m)
	case *xpod.HomeChild:
		return t.handleHomeChild(ctx, m)
	default:
		return nil, fmt.Errorf("unsupported action: %q", m.ActionName())
	}
}

// localHome returns a home hosted on this pod.
func (t *Txn) localHome(ctx context.Context, typ HomeType, uid string, create bool) (*Home, error) {
	h, err := t.HomeWithUID(ctx, typ, uid, create)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, notFound("no %s home for %s", typ, uid)
	}
	if h.External() {
		return nil, externalShareFailed(nil, "%s is not hosted on this pod", uid)
	}
	return h, nil
}

func (t *Txn) handleHomeChild(ctx context.Context, m *xpod.HomeChild) (any, error) {
	owner, err := t.HomeWithUID(ctx, HomeType(m.Type), m.Owner, false)
	if err != nil {
		return nil, err
	}
	if owner == nil || owner.External() {
		return nil, fmt.Errorf("owner %s: %w", m.Owner, xpod.ErrNonExistentExternalShare)
	}
	c, err := owner.ChildWithBindUID(ctx, m.OwnerID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("collection %s of %s: %w", m.OwnerID, m.Owner, xpod.ErrNonExistentExternalShare)
	}
	view := c
	if directory.Normalize(m.Sharee) != owner.UID() {
		if view, err = c.ShareeView(ctx, m.Sharee); err != nil {
			return nil, err
		}
		if view == nil {
			return nil, fmt.Errorf("share of %s with %s: %w", m.OwnerID, m.Sharee, xpod.ErrNonExistentExternalShare)
		}
	}

	switch m.Action {
	case xpod.ActionSyncToken:
		return view.SyncToken(ctx)
	case xpod.ActionListObjects:
		return view.ListObjectResources(ctx)
	case xpod.ActionCountObjects:
		return view.CountObjectResources(ctx)
	case xpod.ActionResourceNamesSinceRevision:
		rev, err := m.Int64Arg(0)
		if err != nil {
			return nil, err
		}
		changes, err := view.ResourceNamesSinceRevision(ctx, rev)
		if err != nil {
			return nil, err
		}
		return newChangesValue(changes), nil
	default:
		return nil, fmt.Errorf("unsupported action: %q", m.Action)
	}
}
