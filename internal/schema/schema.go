// Package schema declares the relational schema of the store as typed
// descriptors.
//
// Every table is a struct of *dal.Column fields, so a misspelt column is a
// compile error. Tables that play the same role for calendars, address
// books and notifications share a descriptor type (Home, Bind, Revisions,
// ...) whose generic field names map onto the table-specific column names.
// Code in internal/revision and internal/datastore is written once against
// the descriptor and handed the right instance.
//
// The DDL lives in internal/store/schema.sql and must stay in step with the
// declarations here; the store tests check that it does.
package schema

import "github.com/roach88/calsync/internal/dal"

// DB is the schema singleton.
var DB = dal.NewSchema("calsync")

// Sequences.
var (
	RevisionSeq   = DB.Sequence("REVISION_SEQ")
	ResourceIDSeq = DB.Sequence("RESOURCE_ID_SEQ")
	InstanceIDSeq = DB.Sequence("INSTANCE_ID_SEQ")
)

// Home is a per-principal home table: calendar, address book or
// notification.
type Home struct {
	*dal.Table
	ResourceID *dal.Column
	OwnerUID   *dal.Column
	Status     *dal.Column
	Created    *dal.Column
	Modified   *dal.Column
}

// Child is a home child (collection) table.
type Child struct {
	*dal.Table
	ResourceID          *dal.Column
	SupportedComponents *dal.Column // nil for address books
	Created             *dal.Column
	Modified            *dal.Column
}

// Bind is a sharing bind table: one row per (home, collection).
type Bind struct {
	*dal.Table
	HomeResourceID *dal.Column
	ResourceID     *dal.Column
	ResourceName   *dal.Column
	BindMode       *dal.Column
	BindStatus     *dal.Column
	BindRevision   *dal.Column
	BindUID        *dal.Column
	Message        *dal.Column
}

// Object is a collection member table.
type Object struct {
	*dal.Table
	ResourceID       *dal.Column
	ParentResourceID *dal.Column
	ResourceName     *dal.Column
	Text             *dal.Column
	UID              *dal.Column
	ComponentType    *dal.Column // nil for address books
	Organizer        *dal.Column // nil for address books
	MD5              *dal.Column
	Created          *dal.Column
	Modified         *dal.Column
}

// Revisions is a revision log table.
type Revisions struct {
	*dal.Table
	HomeResourceID *dal.Column
	ResourceID     *dal.Column
	CollectionName *dal.Column
	ResourceName   *dal.Column
	Revision       *dal.Column
	Deleted        *dal.Column
	Modified       *dal.Column
}

// TimeRangeTable indexes calendar object instances for time-range search.
type TimeRangeTable struct {
	*dal.Table
	InstanceID               *dal.Column
	CalendarResourceID       *dal.Column
	CalendarObjectResourceID *dal.Column
	Floating                 *dal.Column
	StartDate                *dal.Column
	EndDate                  *dal.Column
	FBType                   *dal.Column
	Transparent              *dal.Column
}

// NotificationTable holds notification objects.
type NotificationTable struct {
	*dal.Table
	ResourceID     *dal.Column
	HomeResourceID *dal.Column
	UID            *dal.Column
	Type           *dal.Column
	Data           *dal.Column
	MD5            *dal.Column
	Created        *dal.Column
	Modified       *dal.Column
}

// ValueTable is a name/value table (server values, sequence emulation).
type ValueTable struct {
	*dal.Table
	NameColumn  *dal.Column
	ValueColumn *dal.Column
}

func home(name string) Home {
	t := DB.Table(name)
	return Home{
		Table:      t,
		ResourceID: t.AddColumn("RESOURCE_ID", dal.Integer, dal.NotNull(), dal.DefaultSequence(ResourceIDSeq)),
		OwnerUID:   t.AddColumn("OWNER_UID", dal.Varchar(255), dal.NotNull()),
		Status:     t.AddColumn("STATUS", dal.Integer, dal.NotNull(), dal.DefaultValue(0)),
		Created:    t.AddColumn("CREATED", dal.Timestamp, dal.DefaultNow()),
		Modified:   t.AddColumn("MODIFIED", dal.Timestamp, dal.DefaultNow()),
	}
}

func child(name string, components bool) Child {
	t := DB.Table(name)
	c := Child{Table: t}
	c.ResourceID = t.AddColumn("RESOURCE_ID", dal.Integer, dal.NotNull(), dal.DefaultSequence(ResourceIDSeq))
	if components {
		c.SupportedComponents = t.AddColumn("SUPPORTED_COMPONENTS", dal.Varchar(255))
	}
	c.Created = t.AddColumn("CREATED", dal.Timestamp, dal.DefaultNow())
	c.Modified = t.AddColumn("MODIFIED", dal.Timestamp, dal.DefaultNow())
	return c
}

func bind(name, prefix string) Bind {
	t := DB.Table(name)
	return Bind{
		Table:          t,
		HomeResourceID: t.AddColumn(prefix+"_HOME_RESOURCE_ID", dal.Integer, dal.NotNull()),
		ResourceID:     t.AddColumn(prefix+"_RESOURCE_ID", dal.Integer, dal.NotNull()),
		ResourceName:   t.AddColumn(prefix+"_RESOURCE_NAME", dal.Varchar(255), dal.NotNull()),
		BindMode:       t.AddColumn("BIND_MODE", dal.Integer, dal.NotNull()),
		BindStatus:     t.AddColumn("BIND_STATUS", dal.Integer, dal.NotNull()),
		BindRevision:   t.AddColumn("BIND_REVISION", dal.Integer, dal.NotNull(), dal.DefaultValue(0)),
		BindUID:        t.AddColumn("BIND_UID", dal.Varchar(36)),
		Message:        t.AddColumn("MESSAGE", dal.Text),
	}
}

func revisions(name, prefix string) Revisions {
	t := DB.Table(name)
	return Revisions{
		Table:          t,
		HomeResourceID: t.AddColumn(prefix+"_HOME_RESOURCE_ID", dal.Integer, dal.NotNull()),
		ResourceID:     t.AddColumn(prefix+"_RESOURCE_ID", dal.Integer),
		CollectionName: t.AddColumn(prefix+"_NAME", dal.Varchar(255)),
		ResourceName:   t.AddColumn("RESOURCE_NAME", dal.Varchar(255)),
		Revision:       t.AddColumn("REVISION", dal.Integer, dal.NotNull(), dal.DefaultSequence(RevisionSeq)),
		Deleted:        t.AddColumn("DELETED", dal.Boolean, dal.NotNull()),
		Modified:       t.AddColumn("MODIFIED", dal.Timestamp, dal.DefaultNow()),
	}
}

func valueTable(name string) ValueTable {
	t := DB.Table(name)
	return ValueTable{
		Table:       t,
		NameColumn:  t.AddColumn("NAME", dal.Varchar(255), dal.NotNull()),
		ValueColumn: t.AddColumn("VALUE", dal.Varchar(255)),
	}
}

// Calendar tables.
var (
	CalendarHome = home("CALENDAR_HOME")
	Calendar     = child("CALENDAR", true)
	CalendarBind = bind("CALENDAR_BIND", "CALENDAR")

	CalendarObject = func() Object {
		t := DB.Table("CALENDAR_OBJECT")
		return Object{
			Table:            t,
			ResourceID:       t.AddColumn("RESOURCE_ID", dal.Integer, dal.NotNull(), dal.DefaultSequence(ResourceIDSeq)),
			ParentResourceID: t.AddColumn("CALENDAR_RESOURCE_ID", dal.Integer, dal.NotNull()),
			ResourceName:     t.AddColumn("RESOURCE_NAME", dal.Varchar(255), dal.NotNull()),
			Text:             t.AddColumn("ICALENDAR_TEXT", dal.Text, dal.NotNull()),
			UID:              t.AddColumn("ICALENDAR_UID", dal.Varchar(255), dal.NotNull()),
			ComponentType:    t.AddColumn("ICALENDAR_TYPE", dal.Varchar(255), dal.NotNull()),
			Organizer:        t.AddColumn("ORGANIZER", dal.Varchar(255)),
			MD5:              t.AddColumn("MD5", dal.Varchar(32), dal.NotNull()),
			Created:          t.AddColumn("CREATED", dal.Timestamp, dal.DefaultNow()),
			Modified:         t.AddColumn("MODIFIED", dal.Timestamp, dal.DefaultNow()),
		}
	}()

	TimeRange = func() TimeRangeTable {
		t := DB.Table("TIME_RANGE")
		return TimeRangeTable{
			Table:                    t,
			InstanceID:               t.AddColumn("INSTANCE_ID", dal.Integer, dal.NotNull(), dal.DefaultSequence(InstanceIDSeq)),
			CalendarResourceID:       t.AddColumn("CALENDAR_RESOURCE_ID", dal.Integer, dal.NotNull()),
			CalendarObjectResourceID: t.AddColumn("CALENDAR_OBJECT_RESOURCE_ID", dal.Integer, dal.NotNull()),
			Floating:                 t.AddColumn("FLOATING", dal.Boolean, dal.NotNull()),
			StartDate:                t.AddColumn("START_DATE", dal.Timestamp, dal.NotNull()),
			EndDate:                  t.AddColumn("END_DATE", dal.Timestamp, dal.NotNull()),
			FBType:                   t.AddColumn("FBTYPE", dal.Integer, dal.NotNull(), dal.DefaultValue(0)),
			Transparent:              t.AddColumn("TRANSPARENT", dal.Boolean, dal.NotNull(), dal.DefaultValue(false)),
		}
	}()

	CalendarObjectRevisions = revisions("CALENDAR_OBJECT_REVISIONS", "CALENDAR")
)

// Address book tables.
var (
	AddressBookHome = home("ADDRESSBOOK_HOME")
	AddressBook     = child("ADDRESSBOOK", false)
	AddressBookBind = bind("ADDRESSBOOK_BIND", "ADDRESSBOOK")

	AddressBookObject = func() Object {
		t := DB.Table("ADDRESSBOOK_OBJECT")
		return Object{
			Table:            t,
			ResourceID:       t.AddColumn("RESOURCE_ID", dal.Integer, dal.NotNull(), dal.DefaultSequence(ResourceIDSeq)),
			ParentResourceID: t.AddColumn("ADDRESSBOOK_RESOURCE_ID", dal.Integer, dal.NotNull()),
			ResourceName:     t.AddColumn("RESOURCE_NAME", dal.Varchar(255), dal.NotNull()),
			Text:             t.AddColumn("VCARD_TEXT", dal.Text, dal.NotNull()),
			UID:              t.AddColumn("VCARD_UID", dal.Varchar(255), dal.NotNull()),
			MD5:              t.AddColumn("MD5", dal.Varchar(32), dal.NotNull()),
			Created:          t.AddColumn("CREATED", dal.Timestamp, dal.DefaultNow()),
			Modified:         t.AddColumn("MODIFIED", dal.Timestamp, dal.DefaultNow()),
		}
	}()

	AddressBookObjectRevisions = revisions("ADDRESSBOOK_OBJECT_REVISIONS", "ADDRESSBOOK")
)

// Notification tables.
var (
	NotificationHome = home("NOTIFICATION_HOME")

	Notification = func() NotificationTable {
		t := DB.Table("NOTIFICATION")
		return NotificationTable{
			Table:          t,
			ResourceID:     t.AddColumn("RESOURCE_ID", dal.Integer, dal.NotNull(), dal.DefaultSequence(ResourceIDSeq)),
			HomeResourceID: t.AddColumn("NOTIFICATION_HOME_RESOURCE_ID", dal.Integer, dal.NotNull()),
			UID:            t.AddColumn("NOTIFICATION_UID", dal.Varchar(255), dal.NotNull()),
			Type:           t.AddColumn("NOTIFICATION_TYPE", dal.Text, dal.NotNull()),
			Data:           t.AddColumn("NOTIFICATION_DATA", dal.Text, dal.NotNull()),
			MD5:            t.AddColumn("MD5", dal.Varchar(32), dal.NotNull()),
			Created:        t.AddColumn("CREATED", dal.Timestamp, dal.DefaultNow()),
			Modified:       t.AddColumn("MODIFIED", dal.Timestamp, dal.DefaultNow()),
		}
	}()

	NotificationObjectRevisions = revisions("NOTIFICATION_OBJECT_REVISIONS", "NOTIFICATION")
)

// Server-wide tables.
var (
	// CalendarServer holds server values such as MIN-VALID-REVISION.
	CalendarServer = valueTable("CALENDARSERVER")

	// Sequence emulates sequences on dialects without them.
	Sequence = func() ValueTable {
		t := DB.Table("SEQUENCE")
		return ValueTable{
			Table:       t,
			NameColumn:  t.AddColumn("NAME", dal.Varchar(255), dal.NotNull()),
			ValueColumn: t.AddColumn("VALUE", dal.Integer, dal.NotNull()),
		}
	}()
)

// MinValidRevision is the CALENDARSERVER key of the sync-token floor.
const MinValidRevision = "MIN-VALID-REVISION"
