package sync

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/exp/slog"

	"tether/internal/domain/conflict"
	"tether/internal/domain/outbox"
	"tether/internal/domain/replica"
	"tether/internal/domain/table"
)

const conflictLogged = "conflict_logged"

type PushConfig struct {
	// RetryErrored lets the drain pick up errored transactions once their
	// backoff elapses. Without it only an operator retry requeues them.
	RetryErrored bool
	Retry        outbox.RetryPolicy
}

func DefaultPushConfig() PushConfig {
	return PushConfig{
		RetryErrored: true,
		Retry:        outbox.DefaultRetryPolicy(),
	}
}

// Pusher delivers queued outbox transactions to the remote store.
type Pusher struct {
	remote    RemoteStore
	replica   replica.Servicer
	outbox    outbox.Servicer
	conflicts conflict.Servicer
	tx        Transactor
	cfg       PushConfig
	log       *slog.Logger
	now       func() time.Time
}

func NewPusher(
	remote RemoteStore,
	replicaSvc replica.Servicer,
	outboxSvc outbox.Servicer,
	conflictSvc conflict.Servicer,
	tx Transactor,
	cfg PushConfig,
	log *slog.Logger,
) *Pusher {
	return &Pusher{
		remote:    remote,
		replica:   replicaSvc,
		outbox:    outboxSvc,
		conflicts: conflictSvc,
		tx:        tx,
		cfg:       cfg,
		log:       log.With("component", "push"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// DrainOnce pushes up to limit transactions, parents before children and
// oldest first within a table. A failing transaction never aborts the batch.
func (p *Pusher) DrainOnce(ctx context.Context, limit int) (PushResult, error) {
	var res PushResult

	batch, err := p.outbox.GetPending(ctx, limit)
	if err != nil {
		return res, err
	}
	if p.cfg.RetryErrored && len(batch) < limit {
		due, err := p.outbox.GetRetryable(ctx, limit-len(batch), p.now())
		if err != nil {
			return res, err
		}
		batch = append(batch, due...)
	}
	if len(batch) == 0 {
		return res, nil
	}

	sort.SliceStable(batch, func(i, j int) bool {
		oi, oj := batch[i].Table.PushOrder(), batch[j].Table.PushOrder()
		if oi != oj {
			return oi < oj
		}
		return batch[i].CreatedAt.Before(batch[j].CreatedAt)
	})

	for _, queued := range batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		tx, blocked, err := p.current(ctx, queued)
		if err != nil {
			return res, err
		}
		if tx == nil {
			continue
		}
		if blocked {
			res.Deferred++
			continue
		}

		// Another process draining the same outbox may have taken it since
		// the batch was read.
		claimed, err := p.outbox.Claim(ctx, tx.TxID)
		if err != nil {
			return res, err
		}
		if !claimed {
			continue
		}

		res.Attempted++
		switch out, err := p.pushOne(ctx, *tx); {
		case err != nil:
			return res, err
		case out == outcomeApplied:
			res.Applied++
		case out == outcomeConflict:
			res.Conflicts++
		default:
			res.Failed++
		}
	}

	if res.Attempted > 0 {
		p.log.Info("push drained",
			"attempted", res.Attempted,
			"applied", res.Applied,
			"conflicts", res.Conflicts,
			"failed", res.Failed,
			"deferred", res.Deferred,
		)
	}
	return res, nil
}

// current reloads tx, since acks earlier in the batch may have rebased or
// resolved it, and reports whether an older transaction for the same record
// is still unsynced.
func (p *Pusher) current(ctx context.Context, queued outbox.Transaction) (*outbox.Transaction, bool, error) {
	txs, err := p.outbox.FindByTableRecord(ctx, queued.Table, queued.RecordID)
	if err != nil {
		return nil, false, err
	}

	var (
		found   *outbox.Transaction
		blocked bool
	)
	for i := range txs {
		t := txs[i]
		if t.TxID == queued.TxID {
			found = &txs[i]
			continue
		}
		if t.CreatedAt.Before(queued.CreatedAt) {
			switch t.Status {
			case outbox.StatusPending, outbox.StatusSyncing, outbox.StatusError:
				blocked = true
			}
		}
	}

	if found == nil || (found.Status != outbox.StatusPending && found.Status != outbox.StatusError) {
		return nil, false, nil
	}
	return found, blocked, nil
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeApplied
	outcomeConflict
)

// pushOne expects tx to be claimed.
func (p *Pusher) pushOne(ctx context.Context, tx outbox.Transaction) (outcome, error) {
	log := p.log.With("tx_id", tx.TxID, "table", tx.Table, "op", tx.Op, "record_id", tx.RecordID)

	serverRow, err := p.apply(ctx, tx)
	switch {
	case err == nil:
		if err := p.acknowledge(ctx, tx, serverRow); err != nil {
			return outcomeFailed, err
		}
		log.Debug("transaction applied")
		return outcomeApplied, nil

	case errors.Is(err, ErrPreconditionFailed):
		if err := p.logConflict(ctx, tx); err != nil {
			log.Warn("failed to record conflict", "error", err)
			return outcomeFailed, p.fail(ctx, tx, err)
		}
		return outcomeConflict, nil

	case ctx.Err() != nil:
		// Interrupted, not failed: leave it for the next tick.
		_ = p.outbox.UpdateStatus(context.WithoutCancel(ctx), tx.TxID, outbox.StatusPending, outbox.Patch{})
		return outcomeFailed, ctx.Err()

	default:
		log.Warn("transaction failed", "error", err, "attempt", tx.AttemptCount+1)
		return outcomeFailed, p.fail(ctx, tx, err)
	}
}

func (p *Pusher) apply(ctx context.Context, tx outbox.Transaction) (table.Row, error) {
	switch tx.Op {
	case outbox.OpInsert:
		row := tx.Payload.Clone()
		row[table.ColumnID] = tx.RecordID
		return p.remote.Insert(ctx, tx.Table, row)

	case outbox.OpUpdate, outbox.OpDelete:
		if tx.BaseUpdatedAt == nil {
			return nil, ErrMissingBase
		}
		patch := tx.Payload
		if tx.Op == outbox.OpDelete {
			patch = table.Row{table.ColumnDeletedAt: table.FormatTime(p.now())}
		}
		return p.remote.UpdateIf(ctx, tx.Table, tx.RecordID, *tx.BaseUpdatedAt, patch)

	default:
		return nil, fmt.Errorf("%w: unknown op %q", outbox.ErrInvalidTransaction, tx.Op)
	}
}

// acknowledge stores the server-confirmed row. When more transactions for
// the record are still queued, local content stays dirty and only the base
// moves forward, for the replica row and the queued transactions alike.
func (p *Pusher) acknowledge(ctx context.Context, tx outbox.Transaction, serverRow table.Row) error {
	now := p.now()
	return p.tx.WithinTx(ctx, func(ctx context.Context) error {
		err := p.outbox.UpdateStatus(ctx, tx.TxID, outbox.StatusSynced, outbox.Patch{SyncedAt: &now, ClearRetry: true})
		if err != nil && !errors.Is(err, outbox.ErrImmutable) {
			return err
		}

		remaining, err := p.outbox.HasUnsynced(ctx, tx.Table, tx.RecordID)
		if err != nil {
			return err
		}

		if err := p.replica.Acknowledge(ctx, tx.Table, serverRow, remaining); err != nil {
			return err
		}

		if base, ok := serverRow.UpdatedAt(); ok && remaining {
			return p.outbox.Rebase(ctx, tx.Table, tx.RecordID, base)
		}
		return nil
	})
}

// logConflict records a rejected transaction and lets the server row win.
// Later queued edits of the same record are folded into the conflict's
// local row and canceled.
func (p *Pusher) logConflict(ctx context.Context, tx outbox.Transaction) error {
	serverRow, err := p.remote.Fetch(ctx, tx.Table, tx.RecordID)
	if err != nil && !errors.Is(err, ErrRemoteNotFound) {
		return fmt.Errorf("failed to fetch server row: %w", err)
	}

	reason := conflict.ReasonPreconditionFailed
	if serverRow == nil || serverRow.IsDeleted() {
		reason = conflict.ReasonDeletedOnServer
	}

	localRow := tx.Payload.Clone()
	if local, err := p.replica.GetByID(ctx, tx.Table, tx.RecordID); err == nil {
		localRow = local.Data.Clone()
	}

	now := p.now()
	msg := conflictLogged

	return p.tx.WithinTx(ctx, func(ctx context.Context) error {
		entry, err := p.conflicts.Add(ctx, conflict.Entry{
			Table:     tx.Table,
			RecordID:  tx.RecordID,
			ServerRow: serverRow,
			LocalRow:  localRow,
			Reason:    reason,
		})
		if err != nil {
			return err
		}

		if serverRow == nil {
			err = p.replica.ForceRemove(ctx, tx.Table, tx.RecordID)
		} else {
			err = p.replica.ForceOverwrite(ctx, tx.Table, serverRow)
		}
		if err != nil {
			return err
		}

		err = p.outbox.UpdateStatus(ctx, tx.TxID, outbox.StatusSynced, outbox.Patch{
			SyncedAt:   &now,
			LastError:  &msg,
			ClearRetry: true,
		})
		if err != nil && !errors.Is(err, outbox.ErrImmutable) {
			return err
		}

		queued, err := p.outbox.FindByTableRecord(ctx, tx.Table, tx.RecordID)
		if err != nil {
			return err
		}
		for _, later := range queued {
			if later.Status != outbox.StatusPending && later.Status != outbox.StatusError {
				continue
			}
			if err := p.outbox.Cancel(ctx, later.TxID); err != nil {
				return err
			}
		}

		p.log.Warn("push rejected, server row kept",
			"conflict_id", entry.ConflictID,
			"table", tx.Table,
			"record_id", tx.RecordID,
			"reason", reason,
		)
		return nil
	})
}

func (p *Pusher) fail(ctx context.Context, tx outbox.Transaction, cause error) error {
	attempts := tx.AttemptCount + 1
	msg := cause.Error()
	patch := outbox.Patch{
		AttemptCount: &attempts,
		LastError:    &msg,
	}
	if p.cfg.RetryErrored {
		next := p.now().Add(p.cfg.Retry.Delay(attempts))
		patch.NextRetryAt = &next
	} else {
		patch.ClearRetry = true
	}
	return p.outbox.UpdateStatus(ctx, tx.TxID, outbox.StatusError, patch)
}
