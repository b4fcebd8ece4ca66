package datastore

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/calsync/internal/dal"
	"github.com/roach88/calsync/internal/revision"
	"github.com/roach88/calsync/internal/schema"
	"github.com/roach88/calsync/internal/store"
)

// ExpiredObject names a calendar object whose every instance ended before
// a cutoff.
type ExpiredObject struct {
	HomeUID    string `json:"home"`
	Collection string `json:"collection"`
	Name       string `json:"name"`
}

func expiredEventsQuery(limit int) (*dal.Select, error) {
	o, tr, b, h := schema.CalendarObject, schema.TimeRange, schema.CalendarBind, schema.CalendarHome
	from := o.Join(tr.Table, tr.CalendarObjectResourceID.Eq(o.ResourceID), "").
		Join(b.Table, b.ResourceID.Eq(o.ParentResourceID).And(b.BindMode.Eq(int64(BindOwn))), "").
		Join(h.Table, h.ResourceID.Eq(b.HomeResourceID), "")
	group := []dal.Expression{h.OwnerUID, b.ResourceName, o.ResourceName}
	return dal.NewSelect(dal.SelectOptions{
		Columns: group,
		From:    from,
		GroupBy: group,
		Having:  dal.Lt(dal.Max(tr.EndDate), dal.Param("cutoff")),
		OrderBy: group,
		Limit:   limit,
	})
}

// EventsOlderThan lists up to limit owned calendar objects that ended
// before cutoff. Objects without indexed instances never expire.
func (t *Txn) EventsOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]ExpiredObject, error) {
	stmt, err := expiredEventsQuery(limit)
	if err != nil {
		return nil, err
	}
	rows, err := t.st.Exec(ctx, stmt, dal.Args{"cutoff": cutoff.UTC().Truncate(time.Second)})
	if err != nil {
		return nil, fmt.Errorf("expired events: %w", err)
	}
	out := make([]ExpiredObject, len(rows))
	for i, row := range rows {
		out[i] = ExpiredObject{
			HomeUID:    store.String(row[0]),
			Collection: store.String(row[1]),
			Name:       store.String(row[2]),
		}
	}
	return out, nil
}

// RemoveExpiredObject removes e through its owner's collection so the
// removal is tracked for sync. A vanished object is not an error.
func (t *Txn) RemoveExpiredObject(ctx context.Context, e ExpiredObject) (bool, error) {
	h, err := t.HomeWithUID(ctx, CalendarType, e.HomeUID, false)
	if err != nil || h == nil {
		return false, err
	}
	c, err := h.ChildWithName(ctx, e.Collection)
	if err != nil || c == nil {
		return false, err
	}
	o, err := c.ObjectWithName(ctx, e.Name)
	if err != nil || o == nil {
		return false, err
	}
	if err := o.Remove(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// ObliterateHome deletes every row belonging to uid: its collections and
// everyone's binds to them, its shares of other collections, its
// notifications and its revision history. It returns the number of homes
// removed.
func (t *Txn) ObliterateHome(ctx context.Context, uid string) (int, error) {
	removed := 0
	for _, tb := range []*tables{calendarTables, addressBookTables} {
		h, err := t.HomeWithUID(ctx, tb.homeType, uid, false)
		if err != nil {
			return removed, err
		}
		if h == nil {
			continue
		}
		if err := h.obliterate(ctx); err != nil {
			return removed, err
		}
		removed++
	}

	n, err := t.NotificationsWithUID(ctx, uid, false)
	if err != nil {
		return removed, err
	}
	if n != nil {
		if _, err := t.st.Exec(ctx, homeRevisionsDelete(schema.NotificationObjectRevisions), dal.Args{"homeID": n.id}); err != nil {
			return removed, fmt.Errorf("obliterate notification revisions of %s: %w", uid, err)
		}
		if _, err := t.st.Exec(ctx, notificationHomes.delete, dal.Args{"homeID": n.id}); err != nil {
			return removed, fmt.Errorf("obliterate notifications of %s: %w", uid, err)
		}
		delete(t.notifications, n.uid)
		removed++
	}
	t.logger().Info("obliterated home", "uid", uid, "homes", removed)
	return removed, nil
}

func homeRevisionsDelete(rev schema.Revisions) *dal.Delete {
	return dal.NewDelete(rev.Table, rev.HomeResourceID.Eq(dal.Param("homeID")))
}

func (h *Home) obliterate(ctx context.Context) error {
	rows, err := h.txn.st.Exec(ctx, h.t.bindsForHome, dal.Args{"homeID": h.id})
	if err != nil {
		return fmt.Errorf("obliterate %s: %w", h.uid, err)
	}
	for _, row := range rows {
		rec := scanBind(row)
		c, err := h.view(ctx, &rec)
		if err != nil {
			return err
		}
		if c.Owned() {
			err = c.removeOwned(ctx)
		} else {
			err = c.Unshare(ctx)
		}
		if err != nil {
			return err
		}
	}

	if _, err := h.txn.st.Exec(ctx, homeRevisionsDelete(h.t.rev), dal.Args{"homeID": h.id}); err != nil {
		return fmt.Errorf("obliterate revisions of %s: %w", h.uid, err)
	}
	if _, err := h.txn.st.Exec(ctx, h.t.homes.delete, dal.Args{"homeID": h.id}); err != nil {
		return fmt.Errorf("obliterate %s home %s: %w", h.t.homeType, h.uid, err)
	}
	delete(h.txn.homes, homeKey{h.t.homeType, h.id})
	delete(h.txn.homeIDs, uidKey{h.t.homeType, h.uid})
	return nil
}

// PruneRevisions drops revision tombstones at or below cutoff in every
// revision table and raises the valid-token floor to it. It returns the
// number of rows removed per table.
func (t *Txn) PruneRevisions(ctx context.Context, cutoff int64) (map[string]int64, error) {
	out := make(map[string]int64, 3)
	for _, rev := range []schema.Revisions{
		schema.CalendarObjectRevisions,
		schema.AddressBookObjectRevisions,
		schema.NotificationObjectRevisions,
	} {
		n, err := revision.Prune(ctx, t.st, rev, cutoff)
		if err != nil {
			return nil, err
		}
		out[rev.Name] = n
	}
	return out, nil
}
