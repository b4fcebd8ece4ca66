// Package revision implements collection sync tokens over a revision log.
//
// Every change to a collection member draws a new value from REVISION_SEQ
// and records it on the member's row in the revisions table. Deletions
// keep the row as a tombstone (DELETED = true). Each home a collection is
// bound into has one marker row for it (RESOURCE_NAME is NULL,
// COLLECTION_NAME set), which home-level sync reads.
//
// A sync token is "<resourceID>_<revision>". Given a token, the log
// yields the names changed and deleted since that revision; applying the
// delta to a snapshot taken at the token's revision reproduces the live
// set. Revisions below MIN-VALID-REVISION have been pruned and are
// rejected with ErrSyncTokenInvalid.
package revision

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/calsync/internal/dal"
	"github.com/roach88/calsync/internal/schema"
	"github.com/roach88/calsync/internal/store"
)

// Subject is the collection whose revisions a Tracker maintains, as seen
// from one home.
type Subject interface {
	// HomeResourceID is the home the collection is viewed through.
	HomeResourceID() int64

	// OwnerHomeResourceID is the home that owns the collection's members.
	OwnerHomeResourceID() int64

	ResourceID() int64

	// Name is the collection's name in the viewing home.
	Name() string

	// ListObjectResources lists the live member names.
	ListObjectResources(ctx context.Context) ([]string, error)
}

// Changes is the delta between a revision and now.
type Changes struct {
	Changed []string
	Deleted []string

	// Invalid lists names whose state cannot be determined. It is
	// currently always empty but is part of the result contract.
	Invalid []string
}

// Tracker maintains the revision log of one collection view within a
// transaction.
type Tracker struct {
	txn     *store.Txn
	q       *queries
	subject Subject
	notify  func(ctx context.Context) error

	// revision caches SyncTokenRevision, 0 means not loaded.
	revision int64
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithNotify sets a hook called after every member change.
func WithNotify(fn func(ctx context.Context) error) Option {
	return func(t *Tracker) { t.notify = fn }
}

// New returns a tracker for subject over the given revisions table.
func New(txn *store.Txn, rev schema.Revisions, subject Subject, opts ...Option) *Tracker {
	t := &Tracker{txn: txn, q: queriesFor(rev), subject: subject}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ParseToken extracts the revision of a token. The empty token is
// revision 0, which asks for a full listing. The token is split on its
// last underscore.
func ParseToken(token string) (int64, error) {
	if token == "" {
		return 0, nil
	}
	i := strings.LastIndex(token, "_")
	if i < 0 {
		return 0, &MalformedTokenError{Token: token, Err: fmt.Errorf("missing separator")}
	}
	rev, err := strconv.ParseInt(token[i+1:], 10, 64)
	if err != nil {
		return 0, &MalformedTokenError{Token: token, Err: err}
	}
	return rev, nil
}

// FormatToken renders a sync token.
func FormatToken(id string, revision int64) string {
	return fmt.Sprintf("%s_%d", id, revision)
}

// Floor returns MIN-VALID-REVISION.
func Floor(ctx context.Context, txn *store.Txn) (int64, error) {
	v, err := txn.CalendarserverValue(ctx, schema.MinValidRevision)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", schema.MinValidRevision, err)
	}
	return n, nil
}

// SyncToken returns the collection's current token.
func (t *Tracker) SyncToken(ctx context.Context) (string, error) {
	rev, err := t.SyncTokenRevision(ctx)
	if err != nil {
		return "", err
	}
	return FormatToken(strconv.FormatInt(t.subject.ResourceID(), 10), rev), nil
}

// SyncTokenRevision returns the highest revision recorded for the
// collection, or the floor when nothing has been recorded yet.
func (t *Tracker) SyncTokenRevision(ctx context.Context) (int64, error) {
	if t.revision != 0 {
		return t.revision, nil
	}
	rows, err := t.txn.Exec(ctx, t.q.maxRevision, dal.Args{"resourceID": t.subject.ResourceID()})
	if err != nil {
		return 0, err
	}
	rev, ok := int64(0), false
	if len(rows) > 0 {
		rev, ok = store.NullInt64(rows[0][0])
	}
	if !ok {
		if rev, err = Floor(ctx, t.txn); err != nil {
			return 0, err
		}
	}
	t.revision = rev
	return rev, nil
}

// Invalidate drops the cached revision.
func (t *Tracker) Invalidate() { t.revision = 0 }

// InitSyncToken starts tracking a collection newly bound into the viewing
// home. A stale tombstone for the same name in that home is replaced.
func (t *Tracker) InitSyncToken(ctx context.Context) error {
	homeID := t.subject.HomeResourceID()
	if _, err := t.txn.Exec(ctx, t.q.removeDeletedRevision, dal.Args{
		"homeID":         homeID,
		"collectionName": t.subject.Name(),
	}); err != nil {
		return fmt.Errorf("init sync token: %w", err)
	}
	rows, err := t.txn.Exec(ctx, t.q.addNewRevision, dal.Args{
		"homeID":         homeID,
		"resourceID":     t.subject.ResourceID(),
		"collectionName": t.subject.Name(),
	})
	if err != nil {
		return fmt.Errorf("init sync token: %w", err)
	}
	t.revision = returnedRevision(rows)
	t.txn.BumpRevisionFor(t.bumpKey())
	return nil
}

// RenameSyncToken records a rename of the collection in the viewing home.
// A view with no marker row gets a fresh one.
func (t *Tracker) RenameSyncToken(ctx context.Context) error {
	rows, err := t.txn.Exec(ctx, t.q.renameSyncToken, dal.Args{
		"name":       t.subject.Name(),
		"homeID":     t.subject.HomeResourceID(),
		"resourceID": t.subject.ResourceID(),
	})
	if err != nil {
		return fmt.Errorf("rename sync token: %w", err)
	}
	if len(rows) == 0 {
		return t.InitSyncToken(ctx)
	}
	t.revision = returnedRevision(rows)
	t.txn.BumpRevisionFor(t.bumpKey())
	return nil
}

// BumpSyncToken advances the collection-level revision. Within one
// transaction only the first call has an effect.
func (t *Tracker) BumpSyncToken(ctx context.Context) error {
	key := t.bumpKey()
	if t.txn.RevisionBumpedAlready(key) {
		return nil
	}
	t.txn.BumpRevisionFor(key)
	if err := t.bumpMarkers(ctx); err != nil {
		return fmt.Errorf("bump sync token: %w", err)
	}
	return nil
}

func (t *Tracker) bumpMarkers(ctx context.Context) error {
	_, err := t.txn.Exec(ctx, t.q.bumpSyncToken, dal.Args{"resourceID": t.subject.ResourceID()})
	t.revision = 0
	return err
}

type bumpKey struct {
	table      string
	resourceID int64
}

func (t *Tracker) bumpKey() bumpKey {
	return bumpKey{table: t.q.rev.Name, resourceID: t.subject.ResourceID()}
}

// DeletedSyncToken records removal of the collection from the viewing
// home. Member rows of the viewing home are dropped. A shared removal
// tombstones only the viewing home's marker; removing the owned
// collection tombstones the marker in every home, which is how direct
// sharees observe the owner deleting it.
func (t *Tracker) DeletedSyncToken(ctx context.Context, sharedRemoval bool) error {
	args := dal.Args{
		"homeID":     t.subject.HomeResourceID(),
		"resourceID": t.subject.ResourceID(),
	}
	if _, err := t.txn.Exec(ctx, t.q.deleteChildren, args); err != nil {
		return fmt.Errorf("deleted sync token: %w", err)
	}
	removal := t.q.unsharedRemoval
	if sharedRemoval {
		removal = t.q.sharedRemoval
	}
	if _, err := t.txn.Exec(ctx, removal, args); err != nil {
		return fmt.Errorf("deleted sync token: %w", err)
	}
	t.revision = 0
	return nil
}

// InsertRevision records creation of a member. A tombstone left by an
// earlier member of the same name is revived.
func (t *Tracker) InsertRevision(ctx context.Context, name string) (int64, error) {
	return t.changeRevision(ctx, actionInsert, name)
}

// UpdateRevision records a member change. A missing row is recreated.
func (t *Tracker) UpdateRevision(ctx context.Context, name string) (int64, error) {
	return t.changeRevision(ctx, actionUpdate, name)
}

// DeleteRevision records a member deletion. A missing row becomes a fresh
// tombstone.
func (t *Tracker) DeleteRevision(ctx context.Context, name string) (int64, error) {
	return t.changeRevision(ctx, actionDelete, name)
}

type action int

const (
	actionInsert action = iota
	actionUpdate
	actionDelete
)

func (a action) String() string {
	switch a {
	case actionInsert:
		return "insert"
	case actionUpdate:
		return "update"
	default:
		return "delete"
	}
}

func (t *Tracker) changeRevision(ctx context.Context, a action, name string) (int64, error) {
	byName := dal.Args{"resourceID": t.subject.ResourceID(), "name": name}
	fresh := dal.Args{
		"homeID":     t.subject.OwnerHomeResourceID(),
		"resourceID": t.subject.ResourceID(),
		"name":       name,
	}

	var (
		rows [][]any
		err  error
	)
	switch a {
	case actionDelete:
		rows, err = t.txn.Exec(ctx, t.q.deleteBump, byName)
		if err == nil && len(rows) == 0 {
			rows, err = t.txn.Exec(ctx, t.q.completelyNewDeleted, fresh)
		}
	case actionUpdate:
		rows, err = t.txn.Exec(ctx, t.q.updateBump, byName)
		if err == nil && len(rows) == 0 {
			rows, err = t.txn.Exec(ctx, t.q.completelyNew, fresh)
		}
	case actionInsert:
		var found [][]any
		found, err = t.txn.Exec(ctx, t.q.findPreviouslyNamed, byName)
		if err == nil {
			if len(found) > 0 {
				rows, err = t.txn.Exec(ctx, t.q.updatePreviouslyNamed, byName)
			} else {
				rows, err = t.txn.Exec(ctx, t.q.completelyNew, fresh)
			}
		}
	}
	if err != nil {
		return 0, fmt.Errorf("%s revision %q: %w", a, name, err)
	}
	revision := returnedRevision(rows)

	// Keep the collection markers ahead of their members so home-level
	// sync sees the change.
	if err := t.bumpMarkers(ctx); err != nil {
		return 0, fmt.Errorf("%s revision %q: %w", a, name, err)
	}
	t.txn.BumpRevisionFor(t.bumpKey())
	t.revision = 0

	if t.notify != nil {
		if err := t.notify(ctx); err != nil {
			return 0, err
		}
	}
	return revision, nil
}

func returnedRevision(rows [][]any) int64 {
	if len(rows) == 0 {
		return 0
	}
	return store.Int64(rows[0][0])
}

// ResourceNamesSinceToken resolves token and calls
// ResourceNamesSinceRevision.
func (t *Tracker) ResourceNamesSinceToken(ctx context.Context, token string) (Changes, error) {
	rev, err := ParseToken(token)
	if err != nil {
		return Changes{}, err
	}
	changes, err := t.ResourceNamesSinceRevision(ctx, rev)
	var te *TokenError
	if errors.As(err, &te) {
		te.Token = token
	}
	return changes, err
}

// ResourceNamesSinceRevision returns the members changed and deleted
// after revision. Revision 0 is a full listing of live members.
// Results are ordered by the deleted flag, then name.
func (t *Tracker) ResourceNamesSinceRevision(ctx context.Context, revision int64) (Changes, error) {
	changes := Changes{Changed: []string{}, Deleted: []string{}, Invalid: []string{}}
	if revision == 0 {
		names, err := t.subject.ListObjectResources(ctx)
		if err != nil {
			return Changes{}, err
		}
		changes.Changed = append(changes.Changed, names...)
		sort.Strings(changes.Changed)
		return changes, nil
	}

	floor, err := Floor(ctx, t.txn)
	if err != nil {
		return Changes{}, err
	}
	if revision < floor {
		return Changes{}, &TokenError{Revision: revision, Floor: floor}
	}

	rows, err := t.txn.Exec(ctx, t.q.namesSince, dal.Args{
		"revision":   revision,
		"resourceID": t.subject.ResourceID(),
	})
	if err != nil {
		return Changes{}, fmt.Errorf("names since revision %d: %w", revision, err)
	}
	type entry struct {
		name    string
		deleted bool
	}
	entries := make([]entry, 0, len(rows))
	for _, row := range rows {
		name, ok := store.NullString(row[0])
		if !ok || name == "" {
			continue // collection marker
		}
		entries = append(entries, entry{name: name, deleted: store.Bool(row[1])})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].deleted != entries[j].deleted {
			return !entries[i].deleted
		}
		return entries[i].name < entries[j].name
	})
	for _, e := range entries {
		if e.deleted {
			changes.Deleted = append(changes.Deleted, e.name)
		} else {
			changes.Changed = append(changes.Changed, e.name)
		}
	}
	return changes, nil
}
