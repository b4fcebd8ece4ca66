package datastore

import (
	"fmt"

	"github.com/roach88/calsync/internal/dal"
	"github.com/roach88/calsync/internal/query"
	"github.com/roach88/calsync/internal/schema"
)

// homeQueries are the statements of one home table.
type homeQueries struct {
	home schema.Home

	byUID  *dal.Select
	byID   *dal.Select
	insert *dal.Insert
	delete *dal.Delete
}

func newHomeQueries(h schema.Home) homeQueries {
	return homeQueries{
		home: h,
		byUID: dal.Must(dal.NewSelect(dal.SelectOptions{
			Columns: []dal.Expression{h.ResourceID, h.Status},
			From:    h.Table,
			Where:   h.OwnerUID.Eq(dal.Param("uid")),
		})),
		byID: dal.Must(dal.NewSelect(dal.SelectOptions{
			Columns: []dal.Expression{h.OwnerUID, h.Status},
			From:    h.Table,
			Where:   h.ResourceID.Eq(dal.Param("homeID")),
		})),
		insert: dal.Must(dal.NewInsert(map[*dal.Column]any{
			h.OwnerUID: dal.Param("uid"),
			h.Status:   dal.Param("status"),
		}, h.ResourceID)),
		delete: dal.NewDelete(h.Table, h.ResourceID.Eq(dal.Param("homeID"))),
	}
}

// tables binds the shared home/collection/object code to the schema of
// one home type.
type tables struct {
	homeType   HomeType
	sharedType string
	kind       query.Kind

	homes  homeQueries
	child  schema.Child
	bind   schema.Bind
	object schema.Object
	rev    schema.Revisions

	bindByName       *dal.Select
	bindByResourceID *dal.Select
	bindByBindUID    *dal.Select
	bindsForHome     *dal.Select
	ownerBind        *dal.Select
	invites          *dal.Select
	insertBind       *dal.Insert
	deleteBind       *dal.Delete

	insertChild  *dal.Insert
	childMeta    *dal.Select
	setSupported *dal.Update
	deleteChild  *dal.Delete

	objectNames   *dal.Select
	objectCount   *dal.Select
	objectByName  *dal.Select
	objectByUID   *dal.Select
	insertObject  *dal.Insert
	updateObject  *dal.Update
	deleteObject  *dal.Delete
	insertRange   *dal.Insert
	deleteRanges  *dal.Delete
	objectColumns int
}

var (
	calendarTables    = newTables(CalendarType, "calendar", query.Calendar, schema.CalendarHome, schema.Calendar, schema.CalendarBind, schema.CalendarObject, schema.CalendarObjectRevisions)
	addressBookTables = newTables(AddressBookType, "addressbook", query.AddressBook, schema.AddressBookHome, schema.AddressBook, schema.AddressBookBind, schema.AddressBookObject, schema.AddressBookObjectRevisions)
	notificationHomes = newHomeQueries(schema.NotificationHome)
)

func tablesFor(t HomeType) (*tables, error) {
	switch t {
	case CalendarType:
		return calendarTables, nil
	case AddressBookType:
		return addressBookTables, nil
	}
	return nil, fmt.Errorf("no collections in %s homes", t)
}

// bindColumns is the column list every bind query selects; scanBind
// reads it back.
func bindColumns(b schema.Bind) []dal.Expression {
	return []dal.Expression{
		b.HomeResourceID,
		b.ResourceID,
		b.ResourceName,
		b.BindMode,
		b.BindStatus,
		b.BindRevision,
		b.BindUID,
		b.Message,
	}
}

func newTables(typ HomeType, sharedType string, kind query.Kind, h schema.Home, c schema.Child, b schema.Bind, o schema.Object, rev schema.Revisions) *tables {
	t := &tables{
		homeType:   typ,
		sharedType: sharedType,
		kind:       kind,
		homes:      newHomeQueries(h),
		child:      c,
		bind:       b,
		object:     o,
		rev:        rev,
	}

	byHome := b.HomeResourceID.Eq(dal.Param("homeID"))
	bindSelect := func(where dal.Expression) *dal.Select {
		return dal.Must(dal.NewSelect(dal.SelectOptions{
			Columns: bindColumns(b),
			From:    b.Table,
			Where:   where,
		}))
	}
	t.bindByName = bindSelect(byHome.And(b.ResourceName.Eq(dal.Param("name"))))
	t.bindByResourceID = bindSelect(byHome.And(b.ResourceID.Eq(dal.Param("resourceID"))))
	t.bindByBindUID = bindSelect(byHome.And(b.BindUID.Eq(dal.Param("bindUID"))))
	t.bindsForHome = dal.Must(dal.NewSelect(dal.SelectOptions{
		Columns: bindColumns(b),
		From:    b.Table,
		Where:   byHome,
		OrderBy: []dal.Expression{b.ResourceName},
	}))
	t.ownerBind = bindSelect(b.ResourceID.Eq(dal.Param("resourceID")).And(b.BindMode.Eq(int64(BindOwn))))
	t.invites = dal.Must(dal.NewSelect(dal.SelectOptions{
		Columns: append(bindColumns(b), h.OwnerUID),
		From:    b.Join(h.Table, h.ResourceID.Eq(b.HomeResourceID), ""),
		Where:   b.ResourceID.Eq(dal.Param("resourceID")).And(b.BindMode.Ne(int64(BindOwn))),
	}))
	t.insertBind = dal.Must(dal.NewInsert(map[*dal.Column]any{
		b.HomeResourceID: dal.Param("homeID"),
		b.ResourceID:     dal.Param("resourceID"),
		b.ResourceName:   dal.Param("name"),
		b.BindMode:       dal.Param("mode"),
		b.BindStatus:     dal.Param("status"),
		b.BindUID:        dal.Param("bindUID"),
		b.Message:        dal.Param("message"),
	}))
	t.deleteBind = dal.NewDelete(b.Table, byHome.And(b.ResourceID.Eq(dal.Param("resourceID"))))

	childValues := map[*dal.Column]any{c.Created: dal.UTCNow}
	metaColumns := []dal.Expression{c.Created, c.Modified}
	if c.SupportedComponents != nil {
		childValues[c.SupportedComponents] = dal.Param("supported")
		metaColumns = append(metaColumns, c.SupportedComponents)
		t.setSupported = dal.Must(dal.NewUpdate(map[*dal.Column]any{
			c.SupportedComponents: dal.Param("supported"),
			c.Modified:            dal.UTCNow,
		}, c.ResourceID.Eq(dal.Param("resourceID"))))
	}
	t.insertChild = dal.Must(dal.NewInsert(childValues, c.ResourceID))
	t.childMeta = dal.Must(dal.NewSelect(dal.SelectOptions{
		Columns: metaColumns,
		From:    c.Table,
		Where:   c.ResourceID.Eq(dal.Param("resourceID")),
	}))
	t.deleteChild = dal.NewDelete(c.Table, c.ResourceID.Eq(dal.Param("resourceID")))

	byParent := o.ParentResourceID.Eq(dal.Param("parentID"))
	t.objectNames = dal.Must(dal.NewSelect(dal.SelectOptions{
		Columns: []dal.Expression{o.ResourceName},
		From:    o.Table,
		Where:   byParent,
		OrderBy: []dal.Expression{o.ResourceName},
	}))
	t.objectCount = dal.Must(dal.NewSelect(dal.SelectOptions{
		Columns: []dal.Expression{dal.CountAll},
		From:    o.Table,
		Where:   byParent,
	}))

	objCols := []dal.Expression{o.ResourceID, o.ResourceName, o.UID, o.MD5, o.Text, o.Created, o.Modified}
	objValues := map[*dal.Column]any{
		o.ParentResourceID: dal.Param("parentID"),
		o.ResourceName:     dal.Param("name"),
		o.Text:             dal.Param("text"),
		o.UID:              dal.Param("uid"),
		o.MD5:              dal.Param("md5"),
	}
	objUpdate := map[*dal.Column]any{
		o.Text:     dal.Param("text"),
		o.UID:      dal.Param("uid"),
		o.MD5:      dal.Param("md5"),
		o.Modified: dal.UTCNow,
	}
	if o.ComponentType != nil {
		objCols = append(objCols, o.ComponentType, o.Organizer)
		objValues[o.ComponentType] = dal.Param("type")
		objValues[o.Organizer] = dal.Param("organizer")
		objUpdate[o.ComponentType] = dal.Param("type")
		objUpdate[o.Organizer] = dal.Param("organizer")
	}
	t.objectColumns = len(objCols)
	t.objectByName = dal.Must(dal.NewSelect(dal.SelectOptions{
		Columns: objCols,
		From:    o.Table,
		Where:   byParent.And(o.ResourceName.Eq(dal.Param("name"))),
	}))
	t.objectByUID = dal.Must(dal.NewSelect(dal.SelectOptions{
		Columns: objCols,
		From:    o.Table,
		Where:   byParent.And(o.UID.Eq(dal.Param("uid"))),
	}))
	t.insertObject = dal.Must(dal.NewInsert(objValues, o.ResourceID))
	t.updateObject = dal.Must(dal.NewUpdate(objUpdate, o.ResourceID.Eq(dal.Param("resourceID"))))
	t.deleteObject = dal.NewDelete(o.Table, o.ResourceID.Eq(dal.Param("resourceID")))

	if typ == CalendarType {
		tr := schema.TimeRange
		t.insertRange = dal.Must(dal.NewInsert(map[*dal.Column]any{
			tr.CalendarResourceID:       dal.Param("parentID"),
			tr.CalendarObjectResourceID: dal.Param("resourceID"),
			tr.Floating:                 dal.Param("floating"),
			tr.StartDate:                dal.Param("start"),
			tr.EndDate:                  dal.Param("end"),
			tr.Transparent:              dal.Param("transparent"),
		}))
		t.deleteRanges = dal.NewDelete(tr.Table, tr.CalendarObjectResourceID.Eq(dal.Param("resourceID")))
	}
	return t
}

// updateBind builds an update of the given bind columns of one row. The
// row is selected by the homeID and resourceID arguments.
func (t *tables) updateBind(values map[*dal.Column]any) (*dal.Update, error) {
	b := t.bind
	return dal.NewUpdate(values, b.HomeResourceID.Eq(dal.Param("homeID")).And(
		b.ResourceID.Eq(dal.Param("resourceID"))))
}
