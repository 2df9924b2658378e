package sync

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/exp/slog"

	"tether/internal/domain/outbox"
	"tether/internal/domain/replica"
)

type CancelResult struct {
	// Stale is set when the canceled transaction was the record's last
	// unsynced edit, so the local row no longer has anything to push.
	Stale bool `json:"stale"`
	// Refreshed reports that the server copy has already replaced the row.
	Refreshed bool `json:"refreshed"`
}

// Reconciler brings rows back in line with the server once their local
// edits have been abandoned.
type Reconciler struct {
	remote  RemoteStore
	replica replica.Servicer
	outbox  outbox.Servicer
	tx      Transactor
	log     *slog.Logger
}

func NewReconciler(remote RemoteStore, replicaSvc replica.Servicer, outboxSvc outbox.Servicer, tx Transactor, log *slog.Logger) *Reconciler {
	return &Reconciler{
		remote:  remote,
		replica: replicaSvc,
		outbox:  outboxSvc,
		tx:      tx,
		log:     log.With("component", "reconcile"),
	}
}

// Cancel abandons an undelivered transaction. If no other unsynced edit of
// the record remains, the row is refetched from the server; when the server
// cannot be reached it stays queued for Refresh.
func (r *Reconciler) Cancel(ctx context.Context, txID string) (CancelResult, error) {
	var res CancelResult

	tx, err := r.outbox.Get(ctx, txID)
	if err != nil {
		return res, err
	}
	key := replica.Key{Table: tx.Table, ID: tx.RecordID}

	err = r.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := r.outbox.Cancel(ctx, txID); err != nil {
			return err
		}
		remaining, err := r.outbox.HasUnsynced(ctx, key.Table, key.ID)
		if err != nil || remaining {
			return err
		}
		res.Stale = true
		return r.replica.Discard(ctx, key.Table, key.ID)
	})
	if err != nil {
		return CancelResult{}, err
	}
	if !res.Stale {
		return res, nil
	}

	if err := r.refresh(ctx, key); err != nil {
		r.log.Warn("row left for refresh", "table", key.Table, "record_id", key.ID, "error", err)
		return res, nil
	}
	res.Refreshed = true
	return res, nil
}

// Refresh refetches up to limit discarded rows. It stops at the first remote
// failure and leaves the rest for the next call.
func (r *Reconciler) Refresh(ctx context.Context, limit int) (int, error) {
	keys, err := r.replica.ListStale(ctx, limit)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := r.refresh(ctx, key); err != nil {
			return n, fmt.Errorf("failed to refresh %s/%s: %w", key.Table, key.ID, err)
		}
		n++
	}

	if n > 0 {
		r.log.Info("discarded rows refreshed", "count", n)
	}
	return n, nil
}

func (r *Reconciler) refresh(ctx context.Context, key replica.Key) error {
	row, err := r.remote.Fetch(ctx, key.Table, key.ID)
	if err != nil && !errors.Is(err, ErrRemoteNotFound) {
		return err
	}

	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		// A newer local edit owns the row again and carries its own base.
		remaining, err := r.outbox.HasUnsynced(ctx, key.Table, key.ID)
		if err != nil {
			return err
		}
		if !remaining {
			if row == nil {
				err = r.replica.ForceRemove(ctx, key.Table, key.ID)
			} else {
				err = r.replica.ForceOverwrite(ctx, key.Table, row)
			}
			if err != nil {
				return err
			}
		}
		return r.replica.ClearStale(ctx, key)
	})
}
