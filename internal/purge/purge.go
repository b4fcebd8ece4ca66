// Package purge implements the administrative batch tools: removing old
// events, pruning revision tombstones, obliterating a principal and
// counting rows.
//
// Each batch runs in its own transaction. A failing batch is aborted and
// its error returned; batches already committed stay committed.
package purge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/calsync/internal/dal"
	"github.com/roach88/calsync/internal/datastore"
	"github.com/roach88/calsync/internal/schema"
	"github.com/roach88/calsync/internal/store"
)

// DefaultBatchSize is the number of objects removed per transaction.
const DefaultBatchSize = 100

// Purger runs maintenance against a datastore.
type Purger struct {
	store  *datastore.Store
	logger *slog.Logger
}

// New returns a purger. A nil logger discards.
func New(s *datastore.Store, logger *slog.Logger) *Purger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Purger{store: s, logger: logger}
}

// EventsOptions configures PurgeEvents.
type EventsOptions struct {
	// Cutoff removes events whose last instance ended before it.
	Cutoff time.Time

	// BatchSize bounds each transaction. Zero means DefaultBatchSize.
	BatchSize int

	// DryRun counts without removing.
	DryRun bool
}

// EventsResult summarizes PurgeEvents.
type EventsResult struct {
	Removed int  `json:"removed"`
	Batches int  `json:"batches"`
	DryRun  bool `json:"dry_run"`

	// Objects lists what was removed, or would be.
	Objects []datastore.ExpiredObject `json:"objects,omitempty"`
}

// PurgeEvents removes owned calendar objects that ended before the cutoff.
func (p *Purger) PurgeEvents(ctx context.Context, opts EventsOptions) (*EventsResult, error) {
	if opts.Cutoff.IsZero() {
		return nil, fmt.Errorf("purge events: cutoff required")
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	res := &EventsResult{DryRun: opts.DryRun}

	if opts.DryRun {
		err := p.inTxn(ctx, "purge events (dry run)", false, func(txn *datastore.Txn) error {
			expired, err := txn.EventsOlderThan(ctx, opts.Cutoff, 0)
			if err != nil {
				return err
			}
			res.Objects = expired
			res.Removed = len(expired)
			return nil
		})
		return res, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		var listed, removed int
		err := p.inTxn(ctx, "purge events", true, func(txn *datastore.Txn) error {
			expired, err := txn.EventsOlderThan(ctx, opts.Cutoff, batch)
			if err != nil {
				return err
			}
			listed = len(expired)
			for _, e := range expired {
				ok, err := txn.RemoveExpiredObject(ctx, e)
				if err != nil {
					return fmt.Errorf("remove %s/%s/%s: %w", e.HomeUID, e.Collection, e.Name, err)
				}
				if ok {
					removed++
					res.Objects = append(res.Objects, e)
				}
			}
			return nil
		})
		if err != nil {
			return res, err
		}
		if listed == 0 {
			break
		}
		res.Batches++
		res.Removed += removed
		p.logger.Info("purged batch", "batch", res.Batches, "removed", removed, "total", res.Removed)
		if listed < batch || removed == 0 {
			break
		}
	}
	return res, nil
}

// PruneRevisions drops revision tombstones at or below cutoff and returns
// the number removed per table.
func (p *Purger) PruneRevisions(ctx context.Context, cutoff int64) (map[string]int64, error) {
	if cutoff <= 0 {
		return nil, fmt.Errorf("prune revisions: cutoff revision must be positive")
	}
	var out map[string]int64
	err := p.inTxn(ctx, "prune revisions", true, func(txn *datastore.Txn) error {
		var err error
		out, err = txn.PruneRevisions(ctx, cutoff)
		return err
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("pruned revisions", "cutoff", cutoff, "removed", out)
	return out, nil
}

// ObliterateHome deletes every row belonging to uid and returns the
// number of homes removed.
func (p *Purger) ObliterateHome(ctx context.Context, uid string) (int, error) {
	if uid == "" {
		return 0, fmt.Errorf("obliterate: uid required")
	}
	var n int
	err := p.inTxn(ctx, "obliterate "+uid, true, func(txn *datastore.Txn) error {
		var err error
		n, err = txn.ObliterateHome(ctx, uid)
		return err
	})
	return n, err
}

// Inspect counts the rows of every table, keyed by table name.
func (p *Purger) Inspect(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64)
	err := p.inTxn(ctx, "inspect", false, func(txn *datastore.Txn) error {
		for _, t := range schema.DB.Tables() {
			stmt, err := dal.NewSelect(dal.SelectOptions{
				Columns: []dal.Expression{dal.CountAll},
				From:    t,
			})
			if err != nil {
				return err
			}
			rows, err := txn.SQL().Exec(ctx, stmt, nil)
			if err != nil {
				return fmt.Errorf("count %s: %w", t.Name, err)
			}
			out[t.Name] = store.Int64(rows[0][0])
		}
		return nil
	})
	return out, err
}

// inTxn runs fn in a transaction, committing when commit is set and fn
// succeeds.
func (p *Purger) inTxn(ctx context.Context, label string, commit bool, fn func(*datastore.Txn) error) error {
	txn, err := p.store.Begin(ctx, label)
	if err != nil {
		return err
	}
	defer txn.Abort()
	if err := fn(txn); err != nil {
		p.logger.Warn("maintenance transaction failed", "txn", label, "error", err)
		return err
	}
	if !commit {
		return nil
	}
	return txn.Commit()
}
