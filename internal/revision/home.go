package revision

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/roach88/calsync/internal/dal"
	"github.com/roach88/calsync/internal/schema"
	"github.com/roach88/calsync/internal/store"
)

// Depth is the depth of a home-level sync.
type Depth int

const (
	// DepthOne reports collections only.
	DepthOne Depth = 1

	// DepthInfinity also reports collection members as "collection/member".
	DepthInfinity Depth = -1
)

// ChildSyncTokenRevisions returns the current revision of each collection
// in ids. Collections with no recorded revision get the floor.
func ChildSyncTokenRevisions(ctx context.Context, txn *store.Txn, rev schema.Revisions, ids []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := queriesFor(rev)
	rows, err := txn.Exec(ctx, q.revisionsForResourceIDs(len(ids)), dal.Args{"resourceIDs": ids})
	if err != nil {
		return nil, fmt.Errorf("child sync tokens: %w", err)
	}
	for _, row := range rows {
		out[store.Int64(row[0])] = store.Int64(row[1])
	}
	var floor int64
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		if floor == 0 {
			if floor, err = Floor(ctx, txn); err != nil {
				return nil, err
			}
		}
		out[id] = floor
	}
	return out, nil
}

// HomeSyncToken returns the home-level token: the highest marker revision
// of the collections bound into the home.
func HomeSyncToken(ctx context.Context, txn *store.Txn, rev schema.Revisions, homeID int64) (string, error) {
	q := queriesFor(rev)
	rows, err := txn.Exec(ctx, q.homeMaxRevision, dal.Args{"homeID": homeID})
	if err != nil {
		return "", fmt.Errorf("home sync token: %w", err)
	}
	revision, ok := int64(0), false
	if len(rows) > 0 {
		revision, ok = store.NullInt64(rows[0][0])
	}
	if !ok {
		if revision, err = Floor(ctx, txn); err != nil {
			return "", err
		}
	}
	return FormatToken(strconv.FormatInt(homeID, 10), revision), nil
}

// HomeNamesSinceRevision returns the collections of a home changed and
// deleted since revision, as "name/" paths. With DepthInfinity the members
// of live collections changed since revision are included as
// "name/member". Revision 0 reports every live collection and no
// deletions.
func HomeNamesSinceRevision(ctx context.Context, txn *store.Txn, rev schema.Revisions, homeID, revision int64, depth Depth) (Changes, error) {
	changes := Changes{Changed: []string{}, Deleted: []string{}, Invalid: []string{}}
	if revision != 0 {
		floor, err := Floor(ctx, txn)
		if err != nil {
			return Changes{}, err
		}
		if revision < floor {
			return Changes{}, &TokenError{Revision: revision, Floor: floor}
		}
	}

	q := queriesFor(rev)
	markers, err := txn.Exec(ctx, q.homeMarkers, dal.Args{"homeID": homeID})
	if err != nil {
		return Changes{}, fmt.Errorf("home names since revision %d: %w", revision, err)
	}
	for _, row := range markers {
		name := store.String(row[0])
		resourceID, live := store.NullInt64(row[1])
		markerRevision := store.Int64(row[2])
		deleted := store.Bool(row[3])
		path := name + "/"

		if deleted || !live {
			if revision != 0 && markerRevision > revision {
				changes.Deleted = append(changes.Deleted, path)
			}
			continue
		}
		if markerRevision > revision {
			changes.Changed = append(changes.Changed, path)
		}
		if depth != DepthInfinity {
			continue
		}
		children, err := txn.Exec(ctx, q.childrenSince, dal.Args{
			"revision":   revision,
			"resourceID": resourceID,
		})
		if err != nil {
			return Changes{}, fmt.Errorf("home names since revision %d: %w", revision, err)
		}
		for _, child := range children {
			member := path + store.String(child[0])
			if store.Bool(child[1]) {
				if revision != 0 {
					changes.Deleted = append(changes.Deleted, member)
				}
			} else {
				changes.Changed = append(changes.Changed, member)
			}
		}
	}
	sort.Strings(changes.Changed)
	sort.Strings(changes.Deleted)
	return changes, nil
}

// Prune removes tombstones at or below cutoff and raises the floor to it,
// so tokens older than the removed tombstones are rejected. It returns the
// number of rows removed.
func Prune(ctx context.Context, txn *store.Txn, rev schema.Revisions, cutoff int64) (int64, error) {
	q := queriesFor(rev)
	args := dal.Args{"cutoff": cutoff}
	rows, err := txn.Exec(ctx, q.countTombstones, args)
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", rev.Name, err)
	}
	n := store.Int64(rows[0][0])
	if _, err := txn.Exec(ctx, q.pruneTombstones, args); err != nil {
		return 0, fmt.Errorf("prune %s: %w", rev.Name, err)
	}
	if err := RaiseFloor(ctx, txn, cutoff); err != nil {
		return 0, err
	}
	return n, nil
}

// RaiseFloor sets MIN-VALID-REVISION to floor unless it is already higher.
func RaiseFloor(ctx context.Context, txn *store.Txn, floor int64) error {
	current, err := Floor(ctx, txn)
	if err != nil {
		return err
	}
	if floor <= current {
		return nil
	}
	return txn.SetCalendarserverValue(ctx, schema.MinValidRevision, strconv.FormatInt(floor, 10))
}
