package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"tether/internal/domain/outbox"
	"tether/internal/domain/replica"
	"tether/internal/domain/table"
)

// ShouldAck reports whether a server row proves that tx has been applied.
func ShouldAck(tx outbox.Transaction, row table.Row) bool {
	if row == nil || row.ID() != tx.RecordID {
		return false
	}
	if tx.Op == outbox.OpInsert {
		return true
	}
	if tx.BaseUpdatedAt == nil {
		return false
	}

	updated, ok := row.UpdatedAt()
	if !ok || !updated.After(*tx.BaseUpdatedAt) {
		return false
	}

	switch tx.Op {
	case outbox.OpUpdate:
		return true
	case outbox.OpDelete:
		return row.IsDeleted()
	default:
		return false
	}
}

// reflects reports whether row carries every column tx wrote. Queued edits
// of one record share a base, so a newer updated_at alone does not tell
// which of them the server has applied.
func reflects(tx outbox.Transaction, row table.Row) bool {
	if tx.Op == outbox.OpDelete {
		return row.IsDeleted()
	}
	for k, v := range stripSystem(tx.Payload) {
		if fmt.Sprint(row[k]) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

// Acker applies rows delivered by the realtime feed and settles the outbox
// transactions they confirm.
type Acker struct {
	replica replica.Servicer
	outbox  outbox.Servicer
	tx      Transactor
	log     *slog.Logger
	now     func() time.Time
}

func NewAcker(replicaSvc replica.Servicer, outboxSvc outbox.Servicer, tx Transactor, log *slog.Logger) *Acker {
	return &Acker{
		replica: replicaSvc,
		outbox:  outboxSvc,
		tx:      tx,
		log:     log.With("component", "ack"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ApplyRealtimeRow returns the number of transactions acknowledged.
func (a *Acker) ApplyRealtimeRow(ctx context.Context, name table.Name, row table.Row) (int, error) {
	if err := name.Validate(); err != nil {
		return 0, err
	}
	if row.ID() == "" {
		return 0, table.ErrMissingID
	}

	acked := 0
	err := a.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := a.replica.UpsertMany(ctx, name, []table.Row{row}); err != nil {
			return err
		}

		txs, err := a.outbox.FindByTableRecord(ctx, name, row.ID())
		if err != nil {
			return err
		}

		now := a.now()
		for _, tx := range txs {
			if tx.Status == outbox.StatusSynced || tx.Status == outbox.StatusCanceled {
				continue
			}
			// Oldest first: a later edit cannot be confirmed while an
			// earlier one is still outstanding.
			if !ShouldAck(tx, row) || !reflects(tx, row) {
				break
			}
			err := a.outbox.UpdateStatus(ctx, tx.TxID, outbox.StatusSynced, outbox.Patch{SyncedAt: &now, ClearRetry: true})
			if err != nil && !errors.Is(err, outbox.ErrImmutable) {
				return err
			}
			acked++
		}
		if acked == 0 {
			return nil
		}

		remaining, err := a.outbox.HasUnsynced(ctx, name, row.ID())
		if err != nil {
			return err
		}
		if err := a.replica.Acknowledge(ctx, name, row, remaining); err != nil {
			return err
		}
		if base, ok := row.UpdatedAt(); ok && remaining {
			return a.outbox.Rebase(ctx, name, row.ID(), base)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if acked > 0 {
		a.log.Debug("realtime row acknowledged transactions", "table", name, "record_id", row.ID(), "count", acked)
	}
	return acked, nil
}

// ApplyChange routes one change-log entry from the realtime feed.
func (a *Acker) ApplyChange(ctx context.Context, entry ChangeLogEntry) (int, error) {
	name := table.Name(entry.TableName)
	if !name.Valid() {
		return 0, nil
	}
	if entry.Operation == OperationDelete || entry.RowData == nil {
		_, err := a.replica.RemoveMany(ctx, name, []string{entry.RecordID})
		return 0, err
	}
	return a.ApplyRealtimeRow(ctx, name, entry.RowData)
}
