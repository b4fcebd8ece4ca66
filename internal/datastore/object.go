package datastore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/samber/mo"

	"github.com/roach88/calsync/internal/dal"
	"github.com/roach88/calsync/internal/store"
)

// Content is the stored form of a member resource. Parsing calendar and
// contact data is left to the caller, which supplies the indexed fields.
type Content struct {
	UID  string
	Text string

	// ComponentType and Organizer apply to calendar objects only.
	ComponentType string
	Organizer     mo.Option[string]

	// Instances index a calendar object for time-range search.
	Instances []Instance
}

// Instance is one occurrence of a calendar object.
type Instance struct {
	Start, End  time.Time
	Floating    bool
	Transparent bool
}

// Object is a member of a collection.
type Object struct {
	txn      *Txn
	home     homeKey
	parentID int64

	id            int64
	name          string
	uid           string
	md5           string
	text          string
	componentType string
	organizer     mo.Option[string]
	created       time.Time
	modified      time.Time
	removed       bool
}

func (o *Object) ID() int64                    { return o.id }
func (o *Object) Name() string                 { return o.name }
func (o *Object) UID() string                  { return o.uid }
func (o *Object) MD5() string                  { return o.md5 }
func (o *Object) Text() string                 { return o.text }
func (o *Object) ComponentType() string        { return o.componentType }
func (o *Object) Organizer() mo.Option[string] { return o.organizer }
func (o *Object) Created() time.Time           { return o.created }
func (o *Object) Modified() time.Time          { return o.modified }

// Collection returns the collection view the object was loaded through.
func (o *Object) Collection() *Collection {
	h, ok := o.txn.homes[o.home]
	if !ok {
		return nil
	}
	return h.views[o.parentID]
}

func contentMD5(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// writable rejects member writes the view does not permit.
func (c *Collection) writable(op string) error {
	switch {
	case c.removed:
		return notFound("%s %q was removed", c.t.sharedType, c.Name())
	case c.External():
		return notAllowed("%s in external collection %q", op, c.Name())
	case c.bind.mode == BindRead:
		return notAllowed("%s in read-only share %q", op, c.Name())
	case c.bind.status != StatusAccepted:
		return notAllowed("%s in %s share %q", op, c.bind.status, c.Name())
	}
	return nil
}

func (c *Collection) scanObject(row []any) *Object {
	o := &Object{
		txn:      c.txn,
		home:     homeKey{c.t.homeType, c.homeID},
		parentID: c.ID(),
		id:       store.Int64(row[0]),
		name:     store.String(row[1]),
		uid:      store.String(row[2]),
		md5:      store.String(row[3]),
		text:     store.String(row[4]),
		created:  store.Time(row[5]),
		modified: store.Time(row[6]),
	}
	if len(row) > 7 {
		o.componentType = store.String(row[7])
		o.organizer = nullString(row[8])
	}
	return o
}

func (c *Collection) loadObject(ctx context.Context, stmt *dal.Select, args dal.Args) (*Object, error) {
	if c.External() {
		return nil, notAllowed("member access in external collection %q", c.Name())
	}
	args["parentID"] = c.ID()
	rows, err := c.txn.st.Exec(ctx, stmt, args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	o := c.scanObject(rows[0])
	if cached, ok := c.objects[o.name]; ok {
		return cached, nil
	}
	c.objects[o.name] = o
	return o, nil
}

// ObjectWithName returns the member named name, or nil.
func (c *Collection) ObjectWithName(ctx context.Context, name string) (*Object, error) {
	if o, ok := c.objects[name]; ok {
		return o, nil
	}
	o, err := c.loadObject(ctx, c.t.objectByName, dal.Args{"name": name})
	if err != nil {
		return nil, fmt.Errorf("load %q in %q: %w", name, c.Name(), err)
	}
	return o, nil
}

// ObjectWithUID returns the member with the given UID, or nil.
func (c *Collection) ObjectWithUID(ctx context.Context, uid string) (*Object, error) {
	for _, o := range c.objects {
		if o.uid == uid {
			return o, nil
		}
	}
	o, err := c.loadObject(ctx, c.t.objectByUID, dal.Args{"uid": uid})
	if err != nil {
		return nil, fmt.Errorf("load uid %q in %q: %w", uid, c.Name(), err)
	}
	return o, nil
}

func (c *Collection) contentArgs(content Content) (dal.Args, error) {
	args := dal.Args{
		"text": content.Text,
		"uid":  content.UID,
		"md5":  contentMD5(content.Text),
	}
	if c.t.object.ComponentType != nil {
		if content.ComponentType == "" {
			return nil, fmt.Errorf("calendar object %q has no component type", content.UID)
		}
		args["type"] = content.ComponentType
		args["organizer"] = optionValue(content.Organizer)
	}
	return args, nil
}

// CreateObjectWithName adds a member.
func (c *Collection) CreateObjectWithName(ctx context.Context, name string, content Content) (*Object, error) {
	if err := c.writable("create"); err != nil {
		return nil, err
	}
	existing, err := c.ObjectWithName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, objectNameExists(name)
	}
	args, err := c.contentArgs(content)
	if err != nil {
		return nil, err
	}
	args["parentID"] = c.ID()
	args["name"] = name
	rows, err := c.txn.st.Exec(ctx, c.t.insertObject, args)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return nil, objectNameExists(name)
		}
		return nil, fmt.Errorf("create %q in %q: %w", name, c.Name(), err)
	}
	now := c.txn.store.clock().UTC()
	o := &Object{
		txn:           c.txn,
		home:          homeKey{c.t.homeType, c.homeID},
		parentID:      c.ID(),
		id:            store.Int64(rows[0][0]),
		name:          name,
		uid:           content.UID,
		md5:           fmt.Sprint(args["md5"]),
		text:          content.Text,
		componentType: content.ComponentType,
		organizer:     content.Organizer,
		created:       now,
		modified:      now,
	}
	if err := o.indexInstances(ctx, content.Instances); err != nil {
		return nil, err
	}
	c.objects[name] = o
	if _, err := c.tracker.InsertRevision(ctx, name); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Object) indexInstances(ctx context.Context, instances []Instance) error {
	c := o.Collection()
	if c.t.insertRange == nil {
		return nil
	}
	st := o.txn.st
	if _, err := st.Exec(ctx, c.t.deleteRanges, dal.Args{"resourceID": o.id}); err != nil {
		return fmt.Errorf("clear instances of %q: %w", o.name, err)
	}
	for _, in := range instances {
		if _, err := st.Exec(ctx, c.t.insertRange, dal.Args{
			"parentID":    c.ID(),
			"resourceID":  o.id,
			"floating":    in.Floating,
			"start":       in.Start.UTC().Truncate(time.Second),
			"end":         in.End.UTC().Truncate(time.Second),
			"transparent": in.Transparent,
		}); err != nil {
			return fmt.Errorf("index instance of %q: %w", o.name, err)
		}
	}
	return nil
}

// SetText replaces the member's content.
func (o *Object) SetText(ctx context.Context, content Content) error {
	c := o.Collection()
	if c == nil || o.removed {
		return notFound("object %q was removed", o.name)
	}
	if err := c.writable("update"); err != nil {
		return err
	}
	args, err := c.contentArgs(content)
	if err != nil {
		return err
	}
	args["resourceID"] = o.id
	if _, err := o.txn.st.Exec(ctx, c.t.updateObject, args); err != nil {
		return fmt.Errorf("update %q in %q: %w", o.name, c.Name(), err)
	}
	if err := o.indexInstances(ctx, content.Instances); err != nil {
		return err
	}
	o.uid = content.UID
	o.text = content.Text
	o.md5 = fmt.Sprint(args["md5"])
	o.componentType = content.ComponentType
	o.organizer = content.Organizer
	o.modified = o.txn.store.clock().UTC()
	_, err = c.tracker.UpdateRevision(ctx, o.name)
	return err
}

// Remove deletes the member.
func (o *Object) Remove(ctx context.Context) error {
	c := o.Collection()
	if c == nil || o.removed {
		return nil
	}
	if err := c.writable("remove"); err != nil {
		return err
	}
	if _, err := o.txn.st.Exec(ctx, c.t.deleteObject, dal.Args{"resourceID": o.id}); err != nil {
		return fmt.Errorf("remove %q from %q: %w", o.name, c.Name(), err)
	}
	o.removed = true
	delete(c.objects, o.name)
	_, err := c.tracker.DeleteRevision(ctx, o.name)
	return err
}
