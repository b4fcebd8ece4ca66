package datastore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/calsync/internal/query"
)

func TestObjectLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	txn := begin(t, s)
	c, err := calendarHome(t, txn, "alice").CreateChildWithName(ctx, "work")
	require.NoError(t, err)

	a, err := c.CreateObjectWithName(ctx, "a.ics", event("a"))
	require.NoError(t, err)
	assert.Equal(t, "a", a.UID())
	assert.Len(t, a.MD5(), 32)
	_, err = c.CreateObjectWithName(ctx, "b.ics", event("b"))
	require.NoError(t, err)

	_, err = c.CreateObjectWithName(ctx, "a.ics", event("dup"))
	assert.True(t, errors.Is(err, ErrObjectNameAlreadyExists))

	names, err := c.ListObjectResources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.ics", "b.ics"}, names)
	commit(t, txn)

	txn = begin(t, s)
	c = mustChild(t, calendarHome(t, txn, "alice"), "work")
	token, err := c.SyncToken(ctx)
	require.NoError(t, err)

	b, err := c.ObjectWithUID(ctx, "b")
	require.NoError(t, err)
	require.NotNil(t, b)
	before := b.MD5()
	updated := event("b")
	updated.Text += "X-CHANGED:1\r\n"
	require.NoError(t, b.SetText(ctx, updated))
	assert.NotEqual(t, before, b.MD5())

	a, err = c.ObjectWithName(ctx, "a.ics")
	require.NoError(t, err)
	require.NoError(t, a.Remove(ctx))

	n, err := c.CountObjectResources(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	changes, err := c.ResourceNamesSinceToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.ics"}, changes.Changed)
	assert.Equal(t, []string{"a.ics"}, changes.Deleted)
	assert.Empty(t, changes.Invalid)

	newToken, err := c.SyncToken(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, token, newToken)
}

func TestCalendarObjectRequiresComponentType(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	txn := begin(t, s)
	c, err := calendarHome(t, txn, "alice").CreateChildWithName(ctx, "work")
	require.NoError(t, err)

	_, err = c.CreateObjectWithName(ctx, "x.ics", Content{UID: "x", Text: "BEGIN:VCALENDAR"})
	assert.Error(t, err)
}

func TestAddressBookObjects(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	txn := begin(t, s)
	h, err := txn.HomeWithUID(ctx, AddressBookType, "alice", true)
	require.NoError(t, err)
	ab, err := h.CreateChildWithName(ctx, "contacts")
	require.NoError(t, err)

	_, err = ab.CreateObjectWithName(ctx, "bob.vcf", Content{UID: "bob", Text: "BEGIN:VCARD\r\nFN:Bob\r\nEND:VCARD\r\n"})
	require.NoError(t, err)

	supported, err := ab.SupportedComponents(ctx)
	require.NoError(t, err)
	assert.False(t, supported.IsPresent())
	assert.True(t, errors.Is(ab.SetSupportedComponents(ctx, mo.Some("VEVENT")), ErrNotAllowed))

	res, err := ab.Search(ctx, query.Is(query.FieldUID, "bob", true))
	require.NoError(t, err)
	assert.Equal(t, []SearchResult{{Name: "bob.vcf", UID: "bob"}}, res)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	txn := begin(t, s)
	c, err := calendarHome(t, txn, "alice").CreateChildWithName(ctx, "work")
	require.NoError(t, err)

	jan := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	standup := event("standup")
	standup.Instances = []Instance{{Start: jan, End: jan.Add(30 * time.Minute)}}
	_, err = c.CreateObjectWithName(ctx, "standup.ics", standup)
	require.NoError(t, err)

	review := event("review")
	review.Organizer = mo.Some("mailto:alice@example.com")
	review.Instances = []Instance{{Start: jan.AddDate(0, 1, 0), End: jan.AddDate(0, 1, 0).Add(time.Hour)}}
	_, err = c.CreateObjectWithName(ctx, "review.ics", review)
	require.NoError(t, err)

	todo := Content{UID: "todo", Text: "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n", ComponentType: "VTODO"}
	_, err = c.CreateObjectWithName(ctx, "todo.ics", todo)
	require.NoError(t, err)

	tests := []struct {
		name string
		expr query.Expression
		want []string
	}{
		{"time range", query.TimeRange{Start: jan.Add(-time.Hour), End: jan.Add(time.Hour)}, []string{"standup.ics"}},
		{"organizer", query.Contains(query.FieldOrganizer, "ALICE@", false), []string{"review.ics"}},
		{"type", query.Is(query.FieldType, "VTODO", true), []string{"todo.ics"}},
		{"not type", query.IsNot(query.FieldType, "VTODO", true), []string{"review.ics", "standup.ics"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := c.Search(ctx, tt.expr)
			require.NoError(t, err)
			var names []string
			for _, r := range res {
				names = append(names, r.Name)
			}
			assert.ElementsMatch(t, tt.want, names)
		})
	}
}

func TestSetSupportedComponents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	txn := begin(t, s)
	c, err := calendarHome(t, txn, "alice").CreateChildWithName(ctx, "tasks")
	require.NoError(t, err)
	require.NoError(t, c.SetSupportedComponents(ctx, mo.Some("VTODO")))
	commit(t, txn)

	txn = begin(t, s)
	c = mustChild(t, calendarHome(t, txn, "alice"), "tasks")
	supported, err := c.SupportedComponents(ctx)
	require.NoError(t, err)
	assert.Equal(t, mo.Some("VTODO"), supported)
}
