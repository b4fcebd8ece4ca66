package store

import (
	"strconv"
	"time"
)

// Drivers disagree on the Go types they scan into an any: SQLite returns
// int64, string and bool for the declared types, MySQL returns []byte for
// most columns. The helpers below normalize a scanned value.

// Int64 converts a scanned value to int64. NULL and unparseable values
// are 0.
func Int64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint64:
		return int64(x)
	case float64:
		return int64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case []byte:
		n, _ := strconv.ParseInt(string(x), 10, 64)
		return n
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	}
	return 0
}

// NullInt64 is like Int64 but reports NULL.
func NullInt64(v any) (int64, bool) {
	if v == nil {
		return 0, false
	}
	return Int64(v), true
}

// String converts a scanned value to string. NULL is "".
func String(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(x, 10)
	}
	return ""
}

// NullString is like String but reports NULL.
func NullString(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	return String(v), true
}

// Bool converts a scanned value to bool.
func Bool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case []byte:
		return len(x) > 0 && x[0] != '0'
	case string:
		b, _ := strconv.ParseBool(x)
		return b
	}
	return Int64(v) != 0
}

// Time converts a scanned value to a UTC time. NULL is the zero time.
func Time(v any) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x.UTC()
	case []byte:
		return parseTime(string(x))
	case string:
		return parseTime(x)
	}
	return time.Time{}
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

func parseTime(s string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
