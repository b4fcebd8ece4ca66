package revision

import (
	"sync"

	"github.com/roach88/calsync/internal/dal"
	"github.com/roach88/calsync/internal/schema"
)

// queries are the statements of one revisions table. They are built once
// per table and reused with different arguments.
type queries struct {
	rev schema.Revisions

	maxRevision           *dal.Select
	namesSince            *dal.Select
	findPreviouslyNamed   *dal.Select
	removeDeletedRevision *dal.Delete
	addNewRevision        *dal.Insert
	renameSyncToken       *dal.Update
	bumpSyncToken         *dal.Update
	deleteChildren        *dal.Delete
	sharedRemoval         *dal.Update
	unsharedRemoval       *dal.Update
	deleteBump            *dal.Update
	updateBump            *dal.Update
	updatePreviouslyNamed *dal.Update
	completelyNew         *dal.Insert
	completelyNewDeleted  *dal.Insert
	homeMarkers           *dal.Select
	homeMaxRevision       *dal.Select
	childrenSince         *dal.Select
	countTombstones       *dal.Select
	pruneTombstones       *dal.Delete
}

var queryCache sync.Map // *dal.Table -> *queries

func queriesFor(rev schema.Revisions) *queries {
	if q, ok := queryCache.Load(rev.Table); ok {
		return q.(*queries)
	}
	q, _ := queryCache.LoadOrStore(rev.Table, buildQueries(rev))
	return q.(*queries)
}

func buildQueries(rev schema.Revisions) *queries {
	byResource := rev.ResourceID.Eq(dal.Param("resourceID"))
	byName := byResource.And(rev.ResourceName.Eq(dal.Param("name")))
	marker := byResource.And(rev.ResourceName.IsNull())

	return &queries{
		rev: rev,

		maxRevision: dal.Must(dal.NewSelect(dal.SelectOptions{
			Columns: []dal.Expression{dal.Max(rev.Revision)},
			From:    rev.Table,
			Where:   byResource,
		})),

		namesSince: dal.Must(dal.NewSelect(dal.SelectOptions{
			Columns: []dal.Expression{rev.ResourceName, rev.Deleted},
			From:    rev.Table,
			Where:   rev.Revision.Gt(dal.Param("revision")).And(byResource),
		})),

		findPreviouslyNamed: dal.Must(dal.NewSelect(dal.SelectOptions{
			Columns: []dal.Expression{rev.ResourceID},
			From:    rev.Table,
			Where:   byName,
		})),

		removeDeletedRevision: dal.NewDelete(rev.Table,
			rev.HomeResourceID.Eq(dal.Param("homeID")).And(
				rev.CollectionName.Eq(dal.Param("collectionName")))),

		addNewRevision: dal.Must(dal.NewInsert(map[*dal.Column]any{
			rev.HomeResourceID: dal.Param("homeID"),
			rev.ResourceID:     dal.Param("resourceID"),
			rev.CollectionName: dal.Param("collectionName"),
			rev.ResourceName:   nil,
			// Always starts false; may become a tombstone later.
			rev.Deleted: false,
		}, rev.Revision)),

		renameSyncToken: dal.Must(dal.NewUpdate(map[*dal.Column]any{
			rev.Revision:       schema.RevisionSeq,
			rev.CollectionName: dal.Param("name"),
			rev.Modified:       dal.UTCNow,
		}, rev.HomeResourceID.Eq(dal.Param("homeID")).And(marker), rev.Revision)),

		// Touches one row per home the collection is bound into.
		bumpSyncToken: dal.Must(dal.NewUpdate(map[*dal.Column]any{
			rev.Revision: schema.RevisionSeq,
			rev.Modified: dal.UTCNow,
		}, marker)),

		deleteChildren: dal.NewDelete(rev.Table,
			rev.HomeResourceID.Eq(dal.Param("homeID")).And(byResource).And(rev.CollectionName.IsNull())),

		sharedRemoval: dal.Must(dal.NewUpdate(map[*dal.Column]any{
			rev.ResourceID: nil,
			rev.Revision:   schema.RevisionSeq,
			rev.Deleted:    true,
			rev.Modified:   dal.UTCNow,
		}, rev.HomeResourceID.Eq(dal.Param("homeID")).And(marker))),

		unsharedRemoval: dal.Must(dal.NewUpdate(map[*dal.Column]any{
			rev.ResourceID: nil,
			rev.Revision:   schema.RevisionSeq,
			rev.Deleted:    true,
			rev.Modified:   dal.UTCNow,
		}, marker)),

		deleteBump: dal.Must(dal.NewUpdate(map[*dal.Column]any{
			rev.Revision: schema.RevisionSeq,
			rev.Deleted:  true,
			rev.Modified: dal.UTCNow,
		}, byName, rev.Revision)),

		updateBump: dal.Must(dal.NewUpdate(map[*dal.Column]any{
			rev.Revision: schema.RevisionSeq,
			rev.Modified: dal.UTCNow,
		}, byName, rev.Revision)),

		updatePreviouslyNamed: dal.Must(dal.NewUpdate(map[*dal.Column]any{
			rev.Revision: schema.RevisionSeq,
			rev.Deleted:  false,
			rev.Modified: dal.UTCNow,
		}, byName, rev.Revision)),

		completelyNew: dal.Must(dal.NewInsert(map[*dal.Column]any{
			rev.HomeResourceID: dal.Param("homeID"),
			rev.ResourceID:     dal.Param("resourceID"),
			rev.ResourceName:   dal.Param("name"),
			rev.Revision:       schema.RevisionSeq,
			rev.Deleted:        false,
		}, rev.Revision)),

		completelyNewDeleted: dal.Must(dal.NewInsert(map[*dal.Column]any{
			rev.HomeResourceID: dal.Param("homeID"),
			rev.ResourceID:     dal.Param("resourceID"),
			rev.ResourceName:   dal.Param("name"),
			rev.Revision:       schema.RevisionSeq,
			rev.Deleted:        true,
		}, rev.Revision)),

		homeMarkers: dal.Must(dal.NewSelect(dal.SelectOptions{
			Columns: []dal.Expression{rev.CollectionName, rev.ResourceID, rev.Revision, rev.Deleted},
			From:    rev.Table,
			Where: rev.HomeResourceID.Eq(dal.Param("homeID")).And(
				rev.ResourceName.IsNull()).And(rev.CollectionName.IsNotNull()),
		})),

		homeMaxRevision: dal.Must(dal.NewSelect(dal.SelectOptions{
			Columns: []dal.Expression{dal.Max(rev.Revision)},
			From:    rev.Table,
			Where:   rev.HomeResourceID.Eq(dal.Param("homeID")).And(rev.ResourceName.IsNull()),
		})),

		childrenSince: dal.Must(dal.NewSelect(dal.SelectOptions{
			Columns: []dal.Expression{rev.ResourceName, rev.Deleted},
			From:    rev.Table,
			Where: rev.Revision.Gt(dal.Param("revision")).And(byResource).And(
				rev.ResourceName.IsNotNull()),
		})),

		countTombstones: dal.Must(dal.NewSelect(dal.SelectOptions{
			Columns: []dal.Expression{dal.Count(rev.Revision)},
			From:    rev.Table,
			Where:   rev.Deleted.Eq(true).And(rev.Revision.Le(dal.Param("cutoff"))),
		})),

		pruneTombstones: dal.NewDelete(rev.Table,
			rev.Deleted.Eq(true).And(rev.Revision.Le(dal.Param("cutoff")))),
	}
}

// revisionsForResourceIDs has one placeholder per id, so it is built per
// call.
func (q *queries) revisionsForResourceIDs(n int) *dal.Select {
	rev := q.rev
	return dal.Must(dal.NewSelect(dal.SelectOptions{
		Columns: []dal.Expression{rev.ResourceID, dal.Max(rev.Revision)},
		From:    rev.Table,
		Where: rev.ResourceID.In(dal.ParamList("resourceIDs", n)).And(
			rev.ResourceName.IsNotNull().Or(rev.Deleted.Eq(false))),
		GroupBy: []dal.Expression{rev.ResourceID},
	}))
}
