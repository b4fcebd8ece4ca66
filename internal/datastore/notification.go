package datastore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/calsync/internal/dal"
	"github.com/roach88/calsync/internal/directory"
	"github.com/roach88/calsync/internal/revision"
	"github.com/roach88/calsync/internal/schema"
	"github.com/roach88/calsync/internal/store"
)

type notificationStatements struct {
	byUID     *dal.Select
	all       *dal.Select
	listNames *dal.Select
	insert    *dal.Insert
	update    *dal.Update
	delete    *dal.Delete
}

var notificationQueries = func() notificationStatements {
	n := schema.Notification
	cols := []dal.Expression{n.ResourceID, n.UID, n.Type, n.Data, n.MD5, n.Created, n.Modified}
	byHome := n.HomeResourceID.Eq(dal.Param("homeID"))
	var q notificationStatements
	q.byUID = dal.Must(dal.NewSelect(dal.SelectOptions{
		Columns: cols,
		From:    n.Table,
		Where:   byHome.And(n.UID.Eq(dal.Param("uid"))),
	}))
	q.all = dal.Must(dal.NewSelect(dal.SelectOptions{
		Columns: cols,
		From:    n.Table,
		Where:   byHome,
		OrderBy: []dal.Expression{n.UID},
	}))
	q.listNames = dal.Must(dal.NewSelect(dal.SelectOptions{
		Columns: []dal.Expression{n.UID},
		From:    n.Table,
		Where:   byHome,
		OrderBy: []dal.Expression{n.UID},
	}))
	q.insert = dal.Must(dal.NewInsert(map[*dal.Column]any{
		n.HomeResourceID: dal.Param("homeID"),
		n.UID:            dal.Param("uid"),
		n.Type:           dal.Param("type"),
		n.Data:           dal.Param("data"),
		n.MD5:            dal.Param("md5"),
	}, n.ResourceID))
	q.update = dal.Must(dal.NewUpdate(map[*dal.Column]any{
		n.Type:     dal.Param("type"),
		n.Data:     dal.Param("data"),
		n.MD5:      dal.Param("md5"),
		n.Modified: dal.UTCNow,
	}, n.ResourceID.Eq(dal.Param("resourceID"))))
	q.delete = dal.NewDelete(n.Table, n.ResourceID.Eq(dal.Param("resourceID")))
	return q
}()

// notificationCollectionName is the collection name of the notification
// marker row.
const notificationCollectionName = "notification"

// NotificationCollection holds one principal's notifications: share
// invitations and replies.
type NotificationCollection struct {
	txn     *Txn
	id      int64
	uid     string
	status  HomeStatus
	tracker *revision.Tracker
	objects map[string]*NotificationObject
}

// NotificationsWithUID returns the notification collection of uid, or
// nil when it does not exist and create is false.
func (t *Txn) NotificationsWithUID(ctx context.Context, uid string, create bool) (*NotificationCollection, error) {
	uid = directory.Normalize(uid)
	if n, ok := t.notifications[uid]; ok {
		return n, nil
	}
	row, err := t.provisionHome(ctx, notificationHomes, uid, create)
	if err != nil || row == nil {
		return nil, err
	}
	n := &NotificationCollection{
		txn:     t,
		id:      row.id,
		uid:     uid,
		status:  row.status,
		objects: make(map[string]*NotificationObject),
	}
	n.tracker = revision.New(t.st, schema.NotificationObjectRevisions, n, revision.WithNotify(n.changed))
	if row.created {
		if err := n.tracker.InitSyncToken(ctx); err != nil {
			return nil, err
		}
	}
	t.notifications[uid] = n
	return n, nil
}

func (n *NotificationCollection) ID() int64          { return n.id }
func (n *NotificationCollection) UID() string        { return n.uid }
func (n *NotificationCollection) Status() HomeStatus { return n.status }

// HomeResourceID, OwnerHomeResourceID, ResourceID and Name make the
// collection a revision.Subject. The home is its own collection.
func (n *NotificationCollection) HomeResourceID() int64      { return n.id }
func (n *NotificationCollection) OwnerHomeResourceID() int64 { return n.id }
func (n *NotificationCollection) ResourceID() int64          { return n.id }
func (n *NotificationCollection) Name() string               { return notificationCollectionName }

func (n *NotificationCollection) changed(context.Context) error {
	if n.status != HomeExternal {
		n.txn.notifyChanged(fmt.Sprintf("%s/%s", NotificationType, n.uid))
	}
	return nil
}

// ListObjectResources returns the resource names of the notifications.
func (n *NotificationCollection) ListObjectResources(ctx context.Context) ([]string, error) {
	rows, err := n.txn.st.Exec(ctx, notificationQueries.listNames, dal.Args{"homeID": n.id})
	if err != nil {
		return nil, fmt.Errorf("list notifications of %s: %w", n.uid, err)
	}
	names := make([]string, len(rows))
	for i, row := range rows {
		names[i] = notificationName(store.String(row[0]))
	}
	return names, nil
}

// SyncToken returns the collection's sync token.
func (n *NotificationCollection) SyncToken(ctx context.Context) (string, error) {
	return n.tracker.SyncToken(ctx)
}

// ResourceNamesSinceToken returns the notification delta since token.
func (n *NotificationCollection) ResourceNamesSinceToken(ctx context.Context, token string) (revision.Changes, error) {
	return n.tracker.ResourceNamesSinceToken(ctx, token)
}

func notificationName(uid string) string { return uid + ".xml" }

// NotificationObject is one notification.
type NotificationObject struct {
	id       int64
	uid      string
	typ      map[string]string
	data     map[string]any
	md5      string
	created  time.Time
	modified time.Time
}

func (o *NotificationObject) ID() int64           { return o.id }
func (o *NotificationObject) UID() string         { return o.uid }
func (o *NotificationObject) Name() string        { return notificationName(o.uid) }
func (o *NotificationObject) MD5() string         { return o.md5 }
func (o *NotificationObject) Created() time.Time  { return o.created }
func (o *NotificationObject) Modified() time.Time { return o.modified }

// Type returns the notification type, e.g. notification-type and
// shared-type.
func (o *NotificationObject) Type() map[string]string { return o.typ }

// Data returns the notification payload.
func (o *NotificationObject) Data() map[string]any { return o.data }

func scanNotification(row []any) (*NotificationObject, error) {
	o := &NotificationObject{
		id:       store.Int64(row[0]),
		uid:      store.String(row[1]),
		md5:      store.String(row[4]),
		created:  store.Time(row[5]),
		modified: store.Time(row[6]),
	}
	if err := json.Unmarshal([]byte(store.String(row[2])), &o.typ); err != nil {
		return nil, fmt.Errorf("notification %q type: %w", o.uid, err)
	}
	if err := json.Unmarshal([]byte(store.String(row[3])), &o.data); err != nil {
		return nil, fmt.Errorf("notification %q data: %w", o.uid, err)
	}
	return o, nil
}

// NotificationObjectWithUID returns the notification uid, or nil.
func (n *NotificationCollection) NotificationObjectWithUID(ctx context.Context, uid string) (*NotificationObject, error) {
	if o, ok := n.objects[uid]; ok {
		return o, nil
	}
	rows, err := n.txn.st.Exec(ctx, notificationQueries.byUID, dal.Args{"homeID": n.id, "uid": uid})
	if err != nil {
		return nil, fmt.Errorf("load notification %q of %s: %w", uid, n.uid, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	o, err := scanNotification(rows[0])
	if err != nil {
		return nil, err
	}
	n.objects[uid] = o
	return o, nil
}

// NotificationObjects returns every notification ordered by UID.
func (n *NotificationCollection) NotificationObjects(ctx context.Context) ([]*NotificationObject, error) {
	rows, err := n.txn.st.Exec(ctx, notificationQueries.all, dal.Args{"homeID": n.id})
	if err != nil {
		return nil, fmt.Errorf("load notifications of %s: %w", n.uid, err)
	}
	out := make([]*NotificationObject, 0, len(rows))
	for _, row := range rows {
		o, err := scanNotification(row)
		if err != nil {
			return nil, err
		}
		if cached, ok := n.objects[o.uid]; ok {
			o = cached
		} else {
			n.objects[o.uid] = o
		}
		out = append(out, o)
	}
	return out, nil
}

// WriteNotificationObject creates or replaces the notification uid.
func (n *NotificationCollection) WriteNotificationObject(ctx context.Context, uid string, typ map[string]string, data map[string]any) (*NotificationObject, error) {
	typeJSON, err := json.Marshal(typ)
	if err != nil {
		return nil, fmt.Errorf("encode notification type: %w", err)
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode notification data: %w", err)
	}
	args := dal.Args{
		"type": string(typeJSON),
		"data": string(dataJSON),
		"md5":  contentMD5(string(dataJSON)),
	}

	existing, err := n.NotificationObjectWithUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	now := n.txn.store.clock().UTC()
	if existing != nil {
		args["resourceID"] = existing.id
		if _, err := n.txn.st.Exec(ctx, notificationQueries.update, args); err != nil {
			return nil, fmt.Errorf("update notification %q of %s: %w", uid, n.uid, err)
		}
		existing.typ, existing.data, existing.md5, existing.modified = typ, data, fmt.Sprint(args["md5"]), now
		if _, err := n.tracker.UpdateRevision(ctx, existing.Name()); err != nil {
			return nil, err
		}
		return existing, nil
	}

	args["homeID"] = n.id
	args["uid"] = uid
	rows, err := n.txn.st.Exec(ctx, notificationQueries.insert, args)
	if err != nil {
		return nil, fmt.Errorf("create notification %q of %s: %w", uid, n.uid, err)
	}
	o := &NotificationObject{
		id:       store.Int64(rows[0][0]),
		uid:      uid,
		typ:      typ,
		data:     data,
		md5:      fmt.Sprint(args["md5"]),
		created:  now,
		modified: now,
	}
	n.objects[uid] = o
	if _, err := n.tracker.InsertRevision(ctx, o.Name()); err != nil {
		return nil, err
	}
	return o, nil
}

// RemoveNotificationObjectWithUID deletes the notification uid if it
// exists.
func (n *NotificationCollection) RemoveNotificationObjectWithUID(ctx context.Context, uid string) error {
	o, err := n.NotificationObjectWithUID(ctx, uid)
	if err != nil || o == nil {
		return err
	}
	if _, err := n.txn.st.Exec(ctx, notificationQueries.delete, dal.Args{"resourceID": o.id}); err != nil {
		return fmt.Errorf("remove notification %q of %s: %w", uid, n.uid, err)
	}
	delete(n.objects, uid)
	_, err = n.tracker.DeleteRevision(ctx, o.Name())
	return err
}
