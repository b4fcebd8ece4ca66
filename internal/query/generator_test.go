package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const calendarColumns = "select distinct RESOURCE_NAME, ICALENDAR_UID, ICALENDAR_TYPE from CALENDAR_OBJECT"

var (
	jan1 = time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC)
	jan2 = time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC)
)

func render(t *testing.T, res *Result) (string, []any) {
	t.Helper()
	frag, err := res.Select.ToSQL().Bind(res.Args)
	require.NoError(t, err)
	return frag.Text, frag.Params
}

func TestGenerate_Calendar(t *testing.T) {
	tests := []struct {
		name   string
		expr   Expression
		text   string
		params []any
		names  []string
		usedTR bool
	}{
		{
			name:   "all",
			expr:   All{},
			text:   calendarColumns + " where CALENDAR_RESOURCE_ID = ?",
			params: []any{int64(7)},
			names:  []string{"arg1"},
		},
		{
			name:   "case insensitive contains",
			expr:   Contains(FieldUID, "Meet", false),
			text:   calendarColumns + " where CALENDAR_RESOURCE_ID = ? and lower(ICALENDAR_UID) like (? || ? || ?)",
			params: []any{int64(7), "%", "meet", "%"},
			names:  []string{"arg1", "arg2"},
		},
		{
			name: "or is scoped in parens",
			expr: Or{Is(FieldUID, "a", true), StartsWith(FieldResourceName, "x", true)},
			text: calendarColumns +
				" where CALENDAR_RESOURCE_ID = ? and (ICALENDAR_UID = ? or RESOURCE_NAME like (? || ?))",
			params: []any{int64(7), "a", "x", "%"},
			names:  []string{"arg1", "arg2", "arg3"},
		},
		{
			name: "and stays flat",
			expr: And{IsNot(FieldType, "VTODO", true), EndsWith(FieldOrganizer, "@example.com", false)},
			text: calendarColumns +
				" where CALENDAR_RESOURCE_ID = ? and ICALENDAR_TYPE != ? and lower(ORGANIZER) like (? || ?)",
			params: []any{int64(7), "VTODO", "%", "@example.com"},
			names:  []string{"arg1", "arg2", "arg3"},
		},
		{
			name:   "not",
			expr:   Not{Expr: Contains(FieldUID, "x", true)},
			text:   calendarColumns + " where CALENDAR_RESOURCE_ID = ? and not (ICALENDAR_UID like (? || ? || ?))",
			params: []any{int64(7), "%", "x", "%"},
			names:  []string{"arg1", "arg2"},
		},
		{
			name:   "in",
			expr:   OneOf(FieldUID, "a", "b"),
			text:   calendarColumns + " where CALENDAR_RESOURCE_ID = ? and ICALENDAR_UID in (?, ?)",
			params: []any{int64(7), "a", "b"},
			names:  []string{"arg1", "arg2"},
		},
		{
			name:   "not in",
			expr:   NoneOf(FieldUID, "a"),
			text:   calendarColumns + " where CALENDAR_RESOURCE_ID = ? and ICALENDAR_UID not in (?)",
			params: []any{int64(7), "a"},
			names:  []string{"arg1", "arg2"},
		},
		{
			name: "top level time range is not scoped",
			expr: TimeRange{Start: jan1, End: jan2},
			text: calendarColumns + " cross join TIME_RANGE where " +
				"(FLOATING = ? and START_DATE < ? and END_DATE > ? or FLOATING = ? and START_DATE < ? and END_DATE > ?)" +
				" and CALENDAR_OBJECT_RESOURCE_ID = RESOURCE_ID and TIME_RANGE.CALENDAR_RESOURCE_ID = ?",
			params: []any{false, jan2, jan1, true, jan2, jan1, int64(7)},
			usedTR: true,
		},
		{
			name: "start only",
			expr: TimeRange{Start: jan1},
			text: calendarColumns + " cross join TIME_RANGE where " +
				"(FLOATING = ? and END_DATE > ? or FLOATING = ? and END_DATE > ?)" +
				" and CALENDAR_OBJECT_RESOURCE_ID = RESOURCE_ID and TIME_RANGE.CALENDAR_RESOURCE_ID = ?",
			params: []any{false, jan1, true, jan1, int64(7)},
			usedTR: true,
		},
		{
			name: "end only",
			expr: TimeRange{End: jan2},
			text: calendarColumns + " cross join TIME_RANGE where " +
				"(FLOATING = ? and START_DATE < ? or FLOATING = ? and START_DATE < ?)" +
				" and CALENDAR_OBJECT_RESOURCE_ID = RESOURCE_ID and TIME_RANGE.CALENDAR_RESOURCE_ID = ?",
			params: []any{false, jan2, true, jan2, int64(7)},
			usedTR: true,
		},
		{
			name: "and with time range is not scoped",
			expr: And{Is(FieldType, "VEVENT", true), TimeRange{Start: jan1}},
			text: calendarColumns + " cross join TIME_RANGE where ICALENDAR_TYPE = ? and " +
				"(FLOATING = ? and END_DATE > ? or FLOATING = ? and END_DATE > ?)" +
				" and CALENDAR_OBJECT_RESOURCE_ID = RESOURCE_ID and TIME_RANGE.CALENDAR_RESOURCE_ID = ?",
			params: []any{"VEVENT", false, jan1, true, jan1, int64(7)},
			names:  []string{"arg1"},
			usedTR: true,
		},
		{
			name: "or with time range branch is not scoped",
			expr: Or{TimeRange{End: jan2}, Contains(FieldUID, "x", true)},
			text: calendarColumns + " cross join TIME_RANGE where " +
				"(FLOATING = ? and START_DATE < ? or FLOATING = ? and START_DATE < ? or ICALENDAR_UID like (? || ? || ?))" +
				" and CALENDAR_OBJECT_RESOURCE_ID = RESOURCE_ID and TIME_RANGE.CALENDAR_RESOURCE_ID = ?",
			params: []any{false, jan2, true, jan2, "%", "x", "%", int64(7)},
			names:  []string{"arg1"},
			usedTR: true,
		},
		{
			name: "or with nested and time range is not scoped",
			expr: Or{And{Is(FieldUID, "a", true), TimeRange{End: jan2}}, Is(FieldUID, "b", true)},
			text: calendarColumns + " cross join TIME_RANGE where " +
				"(ICALENDAR_UID = ? and (FLOATING = ? and START_DATE < ? or FLOATING = ? and START_DATE < ?) or ICALENDAR_UID = ?)" +
				" and CALENDAR_OBJECT_RESOURCE_ID = RESOURCE_ID and TIME_RANGE.CALENDAR_RESOURCE_ID = ?",
			params: []any{"a", false, jan2, true, jan2, "b", int64(7)},
			names:  []string{"arg1", "arg2"},
			usedTR: true,
		},
		{
			name:   "or with match all branch",
			expr:   Or{All{}, Is(FieldUID, "a", true)},
			text:   calendarColumns + " where CALENDAR_RESOURCE_ID = ?",
			params: []any{int64(7)},
			names:  []string{"arg1", "arg2"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Generate(Calendar, tc.expr, 7)
			require.NoError(t, err)
			text, params := render(t, res)
			assert.Equal(t, tc.text, text)
			assert.Equal(t, tc.params, params)
			if tc.names == nil {
				assert.Empty(t, res.ArgNames)
			} else {
				assert.Equal(t, tc.names, res.ArgNames)
			}
			assert.Equal(t, tc.usedTR, res.UsedTimeRange)
		})
	}
}

func TestGenerate_Unscoped(t *testing.T) {
	res, err := Generate(Calendar, All{}, 0)
	require.NoError(t, err)
	text, params := render(t, res)
	assert.Equal(t, calendarColumns, text)
	assert.Empty(t, params)

	res, err = Generate(Calendar, TimeRange{Start: jan1}, 0)
	require.NoError(t, err)
	text, _ = render(t, res)
	assert.Equal(t, calendarColumns+" cross join TIME_RANGE where "+
		"(FLOATING = ? and END_DATE > ? or FLOATING = ? and END_DATE > ?)"+
		" and CALENDAR_OBJECT_RESOURCE_ID = RESOURCE_ID", text)
}

func TestGenerate_FloatingBounds(t *testing.T) {
	est := time.FixedZone("EST", -5*60*60)
	res, err := Generate(Calendar, TimeRange{Start: jan1, End: jan2}, 7, WithLocation(est))
	require.NoError(t, err)
	_, params := render(t, res)

	// 15:00Z is 10:00 wall clock in EST.
	startFloat := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	endFloat := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, []any{false, jan2, jan1, true, endFloat, startFloat, int64(7)}, params)

	// Explicit floating bounds win.
	explicit := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err = Generate(Calendar, TimeRange{Start: jan1, StartFloat: explicit}, 7, WithLocation(est))
	require.NoError(t, err)
	_, params = render(t, res)
	assert.Equal(t, []any{false, jan1, true, explicit, int64(7)}, params)
}

func TestGenerate_BoundsTruncatedToSeconds(t *testing.T) {
	withNanos := jan1.Add(1500 * time.Millisecond)
	res, err := Generate(Calendar, TimeRange{Start: withNanos}, 7)
	require.NoError(t, err)
	_, params := render(t, res)
	assert.Equal(t, jan1.Add(time.Second), params[1])
}

func TestGenerate_AddressBook(t *testing.T) {
	res, err := Generate(AddressBook, Is(FieldUID, "card-1", true), 3)
	require.NoError(t, err)
	text, params := render(t, res)
	assert.Equal(t,
		"select distinct RESOURCE_NAME, VCARD_UID from ADDRESSBOOK_OBJECT where ADDRESSBOOK_RESOURCE_ID = ? and VCARD_UID = ?",
		text)
	assert.Equal(t, []any{int64(3), "card-1"}, params)
	assert.False(t, res.UsedTimeRange)
}

func TestGenerate_RenderIsRepeatable(t *testing.T) {
	res, err := Generate(Calendar, Contains(FieldUID, "x", true), 7)
	require.NoError(t, err)
	first, _ := render(t, res)
	second, _ := render(t, res)
	assert.Equal(t, first, second)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		expr Expression
	}{
		{"nil", Calendar, nil},
		{"time range on address book", AddressBook, TimeRange{Start: jan1}},
		{"unindexed field", AddressBook, Is(FieldType, "x", true)},
		{"empty in", Calendar, OneOf(FieldUID)},
		{"negated all", Calendar, Not{Expr: All{}}},
		{"empty and", Calendar, And{}},
		{"empty or", Calendar, Or{}},
		{"unbounded time range", Calendar, TimeRange{}},
		{"inverted time range", Calendar, TimeRange{Start: jan2, End: jan1}},
		{"nested problem", Calendar, And{Is(FieldUID, "a", true), Or{OneOf(FieldUID)}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.kind, tc.expr)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidExpression)

			_, err = Generate(tc.kind, tc.expr, 1)
			assert.ErrorIs(t, err, ErrInvalidExpression)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	err := Validate(AddressBook, And{TimeRange{Start: jan1}, Is(FieldOrganizer, "x", true)})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Problems, 2)
	assert.Contains(t, err.Error(), "2 problems")
}

func TestValidate_Accepts(t *testing.T) {
	assert.NoError(t, Validate(Calendar, All{}))
	assert.NoError(t, Validate(Calendar, And{Not{Expr: Is(FieldUID, "a", false)}, TimeRange{End: jan1}}))
	assert.NoError(t, Validate(AddressBook, Or{Contains(FieldUID, "a", false), Is(FieldResourceName, "b.vcf", true)}))
}
