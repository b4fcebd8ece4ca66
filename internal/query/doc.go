// Package query turns calendar and address book search expressions into
// SQL.
//
// A search arrives as a small boolean algebra over the indexed fields of
// a collection's objects:
//
//	And{
//	    Contains(FieldUID, "meeting", false),
//	    TimeRange{Start: from, End: to},
//	}
//
// Generate translates the tree into a distinct dal.Select over the object
// table, scoped to one collection. Bind parameters are named arg1, arg2,
// ... in traversal order, so callers can zip names to values.
//
// TIME RANGES:
//
// A TimeRange term cross joins TIME_RANGE and compares the instance
// bounds, with a separate pair of bounds for floating instances:
//
//	(FLOATING = false and START_DATE < end and END_DATE > start)
//	or (FLOATING = true and START_DATE < endFloat and END_DATE > startFloat)
//
// The join conditions restrict TIME_RANGE to the searched collection, so
// the explicit collection predicate is left out when a time range already
// covers every match.
//
// SEALED INTERFACES:
//
// Expression is sealed with a marker method. Generate and Validate switch
// over it exhaustively.
package query
