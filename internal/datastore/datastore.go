// Package datastore implements homes, collections, objects and
// notifications over the relational store, and the sharing state machine
// that binds collections into other principals' homes.
//
// All work happens inside a Txn. The Txn is an arena: it owns every home
// loaded through it, keyed by (home type, resource id), and each home owns
// the collection views loaded through it. Collections reach their viewer
// and owner homes by id through the Txn rather than holding pointers to
// them, so a Txn never contains two objects for the same row.
//
// Bind lookups go through an injected cache. Entries a Txn changes are
// invalidated after it commits, and the Txn itself never reads an entry it
// has invalidated.
//
// Principals hosted on another pod get homes with status external. Shares
// with them are replicated by message over an xpod.Conduit; Store is also
// the xpod.Handler that applies those messages on the receiving pod.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/samber/mo"

	"github.com/roach88/calsync/internal/cache"
	"github.com/roach88/calsync/internal/dal"
	"github.com/roach88/calsync/internal/directory"
	"github.com/roach88/calsync/internal/store"
	"github.com/roach88/calsync/internal/xpod"
)

// Directory resolves the pod hosting a principal.
type Directory interface {
	LocalPod() string
	PodFor(uid string) string
}

// Notifier delivers change notifications for homes and collections.
type Notifier interface {
	Notify(id string)
}

// LogNotifier writes change notifications to a structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier logging at debug level.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(id string) {
	n.logger.Debug("push notification", "id", id)
}

// Store is the entry point of the datastore.
//
// Thread-safety: Store is safe for concurrent use; each Txn is not.
type Store struct {
	db        *store.Store
	directory Directory
	conduit   xpod.Conduit
	notifier  Notifier
	cache     cache.Cacher
	ids       IDGenerator
	clock     func() time.Time
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithDirectory sets the principal directory. The default hosts every
// principal locally.
func WithDirectory(d Directory) Option {
	return func(s *Store) { s.directory = d }
}

// WithConduit sets the transport for cross-pod messages.
func WithConduit(c xpod.Conduit) Option {
	return func(s *Store) { s.conduit = c }
}

// WithNotifier sets the change notifier. The default logs.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithCache sets the bind lookup cache. The default is an in-memory map.
func WithCache(c cache.Cacher) Option {
	return func(s *Store) { s.cache = c }
}

// WithIDGenerator sets the generator of share names and bind UIDs.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) { s.ids = g }
}

// WithClock sets the clock used for notification timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.clock = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns a datastore over db.
func New(db *store.Store, opts ...Option) *Store {
	s := &Store{
		db:     db,
		cache:  cache.NewMemory(),
		ids:    UUIDv7Generator{},
		clock:  time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if db.Logger() != nil {
		s.logger = db.Logger()
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.directory == nil {
		s.directory = directory.New("local", nil)
	}
	if s.notifier == nil {
		s.notifier = NewLogNotifier(s.logger)
	}
	return s
}

// DB returns the underlying store.
func (s *Store) DB() *store.Store { return s.db }

// LocalPod returns the id of this pod.
func (s *Store) LocalPod() string { return s.directory.LocalPod() }

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context, label string) (*Txn, error) {
	epoch := s.cache.Epoch()
	st, err := s.db.Begin(ctx, label)
	if err != nil {
		return nil, err
	}
	return &Txn{
		store:         s,
		st:            st,
		homes:         make(map[homeKey]*Home),
		homeIDs:       make(map[uidKey]int64),
		notifications: make(map[string]*NotificationCollection),
		notified:      make(map[string]bool),
		dirty:         make(map[string]bool),
		cacheEpoch:    epoch,
	}, nil
}

type homeKey struct {
	typ HomeType
	id  int64
}

type uidKey struct {
	typ HomeType
	uid string
}

// Txn is one unit of work against the datastore.
//
// A Txn is not safe for concurrent use.
type Txn struct {
	store *Store
	st    *store.Txn

	homes         map[homeKey]*Home
	homeIDs       map[uidKey]int64
	notifications map[string]*NotificationCollection

	// notified holds the ids already queued for push in this transaction.
	notified map[string]bool

	// dirty holds the cache keys this transaction has invalidated.
	dirty map[string]bool

	// cacheEpoch is the cache epoch taken before the transaction began.
	// Rows it read are only cached if their key was not invalidated since.
	cacheEpoch uint64
}

// Commit commits the transaction. Push notifications and cache
// invalidation run after a successful commit.
func (t *Txn) Commit() error { return t.st.Commit() }

// Abort rolls the transaction back. It is safe to defer after Commit.
func (t *Txn) Abort() error { return t.st.Abort() }

// Label returns the transaction label.
func (t *Txn) Label() string { return t.st.Label() }

// SQL returns the underlying store transaction.
func (t *Txn) SQL() *store.Txn { return t.st }

func (t *Txn) logger() *slog.Logger { return t.store.logger }

// HomeWithUID returns the home of uid, or nil when it does not exist and
// create is false. A created home is external when the directory places
// uid on another pod.
func (t *Txn) HomeWithUID(ctx context.Context, typ HomeType, uid string, create bool) (*Home, error) {
	tb, err := tablesFor(typ)
	if err != nil {
		return nil, err
	}
	uid = directory.Normalize(uid)
	if id, ok := t.homeIDs[uidKey{typ, uid}]; ok {
		return t.homes[homeKey{typ, id}], nil
	}
	row, err := t.provisionHome(ctx, tb.homes, uid, create)
	if err != nil || row == nil {
		return nil, err
	}
	return t.adoptHome(tb, row.id, uid, row.status), nil
}

// homeWithID returns the home with the given resource id, or nil.
func (t *Txn) homeWithID(ctx context.Context, tb *tables, id int64) (*Home, error) {
	if h, ok := t.homes[homeKey{tb.homeType, id}]; ok {
		return h, nil
	}
	rows, err := t.st.Exec(ctx, tb.homes.byID, dal.Args{"homeID": id})
	if err != nil {
		return nil, fmt.Errorf("load %s home %d: %w", tb.homeType, id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return t.adoptHome(tb, id, store.String(rows[0][0]), HomeStatus(store.Int64(rows[0][1]))), nil
}

func (t *Txn) adoptHome(tb *tables, id int64, uid string, status HomeStatus) *Home {
	h := &Home{
		txn:      t,
		t:        tb,
		id:       id,
		uid:      uid,
		status:   status,
		views:    make(map[int64]*Collection),
		children: make(map[string]*Collection),
	}
	t.homes[homeKey{tb.homeType, id}] = h
	t.homeIDs[uidKey{tb.homeType, uid}] = id
	return h
}

// homeRow is a provisioned home row.
type homeRow struct {
	id      int64
	status  HomeStatus
	created bool
}

// provisionHome finds the home row of uid, inserting it under a savepoint
// when create is set. Losing the insert race to another transaction rolls
// back to the savepoint and reads the winner's row. It returns nil when
// the home does not exist and create is false.
func (t *Txn) provisionHome(ctx context.Context, q homeQueries, uid string, create bool) (*homeRow, error) {
	lookup := func() (*homeRow, error) {
		rows, err := t.st.Exec(ctx, q.byUID, dal.Args{"uid": uid})
		if err != nil {
			return nil, fmt.Errorf("load home %q: %w", uid, err)
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return &homeRow{id: store.Int64(rows[0][0]), status: HomeStatus(store.Int64(rows[0][1]))}, nil
	}

	row, err := lookup()
	if err != nil || row != nil || !create {
		return row, err
	}

	status := HomeNormal
	if t.store.directory.PodFor(uid) != t.store.directory.LocalPod() {
		status = HomeExternal
	}
	sp, err := t.st.Savepoint(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := t.st.Exec(ctx, q.insert, dal.Args{"uid": uid, "status": int64(status)})
	if err != nil {
		if rbErr := t.rollbackSavepoint(ctx, sp); rbErr != nil {
			return nil, errors.Join(err, rbErr)
		}
		if !store.IsUniqueViolation(err) {
			return nil, fmt.Errorf("create home %q: %w", uid, err)
		}
		t.logger().Debug("home created concurrently", "uid", uid)
		return lookup()
	}
	if err := t.st.Release(ctx, sp); err != nil {
		return nil, err
	}
	t.logger().Info("provisioned home", "table", q.home.Name, "uid", uid, "status", status.String())
	return &homeRow{id: store.Int64(rows[0][0]), status: status, created: true}, nil
}

// rollbackSavepoint undoes and releases sp.
func (t *Txn) rollbackSavepoint(ctx context.Context, sp string) error {
	if err := t.st.RollbackTo(ctx, sp); err != nil {
		return err
	}
	return t.st.Release(ctx, sp)
}

// notifyChanged queues a push notification for id, once per transaction.
func (t *Txn) notifyChanged(id string) {
	if t.notified[id] {
		return
	}
	t.notified[id] = true
	n := t.store.notifier
	t.st.PostCommit(func() { n.Notify(id) })
}

// invalidate drops cache keys after commit and stops this transaction
// from reading them.
func (t *Txn) invalidate(keys ...string) {
	for _, k := range keys {
		t.dirty[k] = true
	}
	cache.InvalidateAfterCommit(t.store.cache, t.st, keys...)
}

// cachedRow returns the first row stmt selects, served from the cache
// under key when possible. Rows read by this transaction are cached after
// it commits unless it, or any transaction committed since it began, has
// invalidated the key. Missing rows are not cached.
func (t *Txn) cachedRow(ctx context.Context, key string, stmt *dal.Select, args dal.Args) ([]any, error) {
	c := t.store.cache
	if !t.dirty[key] {
		if v, ok := c.Get(key); ok {
			if row, ok := v.([]any); ok {
				return row, nil
			}
		}
	}
	rows, err := t.st.Exec(ctx, stmt, args)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	row := rows[0]
	t.st.PostCommit(func() {
		if t.dirty[key] {
			return
		}
		if !c.SetIfUnchanged(key, row, t.cacheEpoch) {
			t.logger().Debug("skipped caching row invalidated concurrently", "key", key)
		}
	})
	return row, nil
}

func (t *Txn) cachedBind(ctx context.Context, key string, stmt *dal.Select, args dal.Args) (*bindRecord, error) {
	row, err := t.cachedRow(ctx, key, stmt, args)
	if err != nil || row == nil {
		return nil, err
	}
	rec := scanBind(row)
	return &rec, nil
}

// bindRecord is one row of a bind table.
type bindRecord struct {
	homeID     int64
	resourceID int64
	name       string
	mode       BindMode
	status     BindStatus
	revision   int64
	bindUID    mo.Option[string]
	message    mo.Option[string]
}

// scanBind reads a row selected with bindColumns.
func scanBind(row []any) bindRecord {
	return bindRecord{
		homeID:     store.Int64(row[0]),
		resourceID: store.Int64(row[1]),
		name:       store.String(row[2]),
		mode:       BindMode(store.Int64(row[3])),
		status:     BindStatus(store.Int64(row[4])),
		revision:   store.Int64(row[5]),
		bindUID:    nullString(row[6]),
		message:    nullString(row[7]),
	}
}

func nullString(v any) mo.Option[string] {
	if s, ok := store.NullString(v); ok {
		return mo.Some(s)
	}
	return mo.None[string]()
}

// optionValue is the column value of an optional string: NULL when absent.
func optionValue(o mo.Option[string]) any {
	if s, ok := o.Get(); ok {
		return s
	}
	return nil
}
