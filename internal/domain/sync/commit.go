package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"tether/internal/domain/conflict"
	"tether/internal/domain/outbox"
	"tether/internal/domain/replica"
	"tether/internal/domain/table"
)

// systemColumns are owned by the server and never sent as part of a patch.
var systemColumns = []string{table.ColumnID, table.ColumnCreatedAt, table.ColumnUpdatedAt}

// Committer applies local mutations optimistically: the replica row and its
// outbox transaction are written together or not at all.
type Committer struct {
	replica   replica.Servicer
	outbox    outbox.Servicer
	conflicts conflict.Servicer
	tx        Transactor
	factory   *table.Factory
	log       *slog.Logger
	now       func() time.Time
}

func NewCommitter(
	replicaSvc replica.Servicer,
	outboxSvc outbox.Servicer,
	conflictSvc conflict.Servicer,
	tx Transactor,
	log *slog.Logger,
) *Committer {
	return &Committer{
		replica:   replicaSvc,
		outbox:    outboxSvc,
		conflicts: conflictSvc,
		tx:        tx,
		factory:   table.NewFactory(),
		log:       log.With("component", "commit"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new record under a freshly generated id.
func (c *Committer) Create(ctx context.Context, name table.Name, fields table.Row) (*replica.Row, error) {
	id := fields.ID()
	if id == "" {
		id = uuid.NewString()
	}
	return c.Commit(ctx, Mutation{
		Table:    name,
		Op:       outbox.OpInsert,
		RecordID: id,
		Payload:  fields,
	})
}

// Commit applies m to the replica and queues it for push.
func (c *Committer) Commit(ctx context.Context, m Mutation) (*replica.Row, error) {
	return c.commit(ctx, m, false)
}

func (c *Committer) commit(ctx context.Context, m Mutation, allowDeleted bool) (*replica.Row, error) {
	if err := m.Table.Validate(); err != nil {
		return nil, err
	}
	if !m.Op.Valid() {
		return nil, fmt.Errorf("%w: unknown op %q", outbox.ErrInvalidTransaction, m.Op)
	}
	if m.RecordID == "" {
		m.RecordID = m.Payload.ID()
	}
	if m.RecordID == "" {
		return nil, table.ErrMissingID
	}
	if id := m.Payload.ID(); id != "" && id != m.RecordID {
		return nil, fmt.Errorf("%w: payload id %q does not match record %q", table.ErrInvalidPayload, id, m.RecordID)
	}

	existing, err := c.replica.GetByID(ctx, m.Table, m.RecordID)
	if err != nil && !errors.Is(err, replica.ErrNotFound) {
		return nil, fmt.Errorf("failed to load replica row: %w", err)
	}
	if existing != nil && existing.Meta.LocalDeleted && !allowDeleted {
		existing = nil
	}

	now := c.now()
	stamp := table.FormatTime(now)

	var (
		merged  table.Row
		payload table.Row
		base    *time.Time
		meta    replica.Meta
	)

	switch m.Op {
	case outbox.OpInsert:
		if existing != nil {
			return nil, fmt.Errorf("%w: %s/%s", ErrRecordExists, m.Table, m.RecordID)
		}
		merged = m.Payload.Merge(table.Row{
			table.ColumnID:        m.RecordID,
			table.ColumnUpdatedAt: stamp,
			table.ColumnDeletedAt: nil,
		})
		if _, ok := merged.CreatedAt(); !ok {
			merged[table.ColumnCreatedAt] = stamp
		}
		payload = merged.Clone()
		delete(payload, table.ColumnUpdatedAt)

	case outbox.OpUpdate, outbox.OpDelete:
		if existing == nil {
			return nil, fmt.Errorf("%w: %s/%s", replica.ErrNotFound, m.Table, m.RecordID)
		}
		meta = existing.Meta
		base = baseOf(*existing)

		if m.Op == outbox.OpDelete {
			payload = table.Row{table.ColumnDeletedAt: stamp}
		} else {
			payload = stripSystem(m.Payload)
		}
		merged = existing.Data.Merge(payload)
		merged[table.ColumnUpdatedAt] = stamp
	}

	if err := c.factory.Validate(m.Table, merged); err != nil {
		return nil, err
	}

	row := replica.Row{
		Table: m.Table,
		Data:  merged,
		Meta: replica.Meta{
			LocalLastAccessedAt: now,
			LocalDirty:          true,
			LocalDeleted:        m.Op == outbox.OpDelete,
			BaseUpdatedAt:       base,
			LastPulledAt:        meta.LastPulledAt,
		},
	}

	err = c.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := c.replica.PutLocal(ctx, row); err != nil {
			return err
		}
		_, err := c.outbox.Enqueue(ctx, outbox.Transaction{
			CreatedAt:     now,
			Table:         m.Table,
			Op:            m.Op,
			RecordID:      m.RecordID,
			Payload:       payload,
			BaseUpdatedAt: base,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit %s on %s/%s: %w", m.Op, m.Table, m.RecordID, err)
	}

	c.log.Debug("local mutation committed", "table", m.Table, "record_id", m.RecordID, "op", m.Op)
	return &row, nil
}

// Reapply turns the local side of a pending conflict into a new mutation
// against the current replica row and marks the conflict resolved. Both
// happen in one transaction, so a conflict is never reapplied twice.
func (c *Committer) Reapply(ctx context.Context, conflictID string) (*replica.Row, error) {
	var (
		row   *replica.Row
		entry *conflict.Entry
	)

	err := c.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		entry, err = c.conflicts.Get(ctx, conflictID)
		if err != nil {
			return err
		}
		if entry.Status != conflict.StatusPendingReview {
			return fmt.Errorf("%w: %s", ErrConflictClosed, entry.Status)
		}

		current, err := c.replica.GetByID(ctx, entry.Table, entry.RecordID)
		if err != nil && !errors.Is(err, replica.ErrNotFound) {
			return fmt.Errorf("failed to load replica row: %w", err)
		}

		var note string
		switch {
		case current == nil:
			fields := stripSystem(entry.LocalRow)
			delete(fields, table.ColumnDeletedAt)
			fields[table.ColumnID] = entry.RecordID
			row, err = c.commit(ctx, Mutation{
				Table:    entry.Table,
				Op:       outbox.OpInsert,
				RecordID: entry.RecordID,
				Payload:  fields,
			}, false)
			note = "reapplied as insert"

		default:
			patch := diff(current.Data, entry.LocalRow)
			if len(patch) == 0 {
				note = "nothing to reapply"
				break
			}
			op := outbox.OpUpdate
			if _, ok := patch[table.ColumnDeletedAt]; ok && entry.LocalRow.IsDeleted() {
				op = outbox.OpDelete
			}
			row, err = c.commit(ctx, Mutation{
				Table:    entry.Table,
				Op:       op,
				RecordID: entry.RecordID,
				Payload:  patch,
			}, true)
			note = "reapplied as " + string(op)
		}
		if err != nil {
			return err
		}

		return c.conflicts.Resolve(ctx, conflictID, note)
	})
	if err != nil {
		return nil, err
	}

	c.log.Info("conflict reapplied", "conflict_id", conflictID, "table", entry.Table, "record_id", entry.RecordID)
	return row, nil
}

// baseOf returns the server version a new mutation is based on. A row that is
// already dirty keeps the base of its first unsynced edit, and so does a
// discarded row still waiting for its server copy.
func baseOf(r replica.Row) *time.Time {
	if r.Meta.LocalDirty || r.Meta.BaseUpdatedAt != nil {
		return r.Meta.BaseUpdatedAt
	}
	if at, ok := r.Data.UpdatedAt(); ok {
		return &at
	}
	return nil
}

func stripSystem(row table.Row) table.Row {
	out := row.Clone()
	if out == nil {
		out = table.Row{}
	}
	for _, col := range systemColumns {
		delete(out, col)
	}
	return out
}

// diff returns the non-system columns of want that differ from have.
func diff(have, want table.Row) table.Row {
	out := table.Row{}
	for k, v := range stripSystem(want) {
		if cur, ok := have[k]; !ok || fmt.Sprint(cur) != fmt.Sprint(v) {
			out[k] = v
		}
	}
	return out
}
