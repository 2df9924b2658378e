package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tether/internal/domain/outbox"
	"tether/internal/domain/table"
)

type OutboxRepository struct {
	s *Storage
}

func NewOutboxRepository(s *Storage) *OutboxRepository {
	return &OutboxRepository{s: s}
}

const outboxColumns = `tx_id, created_at, table_name, op, record_id, payload, base_updated_at,
	status, attempt_count, last_error, next_retry_at, synced_at`

func (r *OutboxRepository) Insert(ctx context.Context, tx outbox.Transaction) error {
	payload, err := marshalJSON(tx.Payload)
	if err != nil {
		return err
	}

	_, err = r.s.conn(ctx).ExecContext(ctx,
		`INSERT INTO outbox (`+outboxColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.TxID, formatTime(tx.CreatedAt), string(tx.Table), string(tx.Op), tx.RecordID, payload,
		formatTimePtr(tx.BaseUpdatedAt), string(tx.Status), tx.AttemptCount,
		nullString(tx.LastError), formatTimePtr(tx.NextRetryAt), formatTimePtr(tx.SyncedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox transaction: %w", err)
	}
	return nil
}

func (r *OutboxRepository) Get(ctx context.Context, txID string) (*outbox.Transaction, error) {
	row := r.s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+outboxColumns+` FROM outbox WHERE tx_id = ?`, txID)

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, outbox.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox transaction: %w", err)
	}
	return tx, nil
}

func (r *OutboxRepository) Update(ctx context.Context, tx outbox.Transaction) error {
	payload, err := marshalJSON(tx.Payload)
	if err != nil {
		return err
	}

	res, err := r.s.conn(ctx).ExecContext(ctx, `
		UPDATE outbox SET
			payload = ?, base_updated_at = ?, status = ?, attempt_count = ?,
			last_error = ?, next_retry_at = ?, synced_at = ?
		WHERE tx_id = ?`,
		payload, formatTimePtr(tx.BaseUpdatedAt), string(tx.Status), tx.AttemptCount,
		nullString(tx.LastError), formatTimePtr(tx.NextRetryAt), formatTimePtr(tx.SyncedAt),
		tx.TxID,
	)
	if err != nil {
		return fmt.Errorf("failed to update outbox transaction: %w", err)
	}
	if n, err := rowsAffected(res); err == nil && n == 0 {
		return outbox.ErrNotFound
	}
	return nil
}

func (r *OutboxRepository) ListByStatus(ctx context.Context, statuses []outbox.Status, limit int) ([]outbox.Transaction, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox`
	var args []any

	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, st := range statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY created_at, tx_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	return r.query(ctx, query, args...)
}

func (r *OutboxRepository) ListRetryable(ctx context.Context, now time.Time, limit int) ([]outbox.Transaction, error) {
	return r.query(ctx, `
		SELECT `+outboxColumns+` FROM outbox
		WHERE status = ? AND next_retry_at IS NOT NULL AND next_retry_at <= ?
		ORDER BY created_at, tx_id
		LIMIT ?`,
		string(outbox.StatusError), formatTime(now), limit)
}

func (r *OutboxRepository) ListByTableRecord(ctx context.Context, name table.Name, recordID string) ([]outbox.Transaction, error) {
	return r.query(ctx, `
		SELECT `+outboxColumns+` FROM outbox
		WHERE table_name = ? AND record_id = ?
		ORDER BY created_at, tx_id`,
		string(name), recordID)
}

func (r *OutboxRepository) CountByStatus(ctx context.Context, status outbox.Status) (int, error) {
	var n int
	err := r.s.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return n, nil
}

func (r *OutboxRepository) Rebase(ctx context.Context, name table.Name, recordID string, base time.Time) (int, error) {
	res, err := r.s.conn(ctx).ExecContext(ctx, `
		UPDATE outbox SET base_updated_at = ?
		WHERE table_name = ? AND record_id = ? AND op != ?
		  AND status IN (?, ?)`,
		formatTime(base), string(name), recordID, string(outbox.OpInsert),
		string(outbox.StatusPending), string(outbox.StatusError))
	if err != nil {
		return 0, fmt.Errorf("failed to rebase outbox: %w", err)
	}
	return rowsAffected(res)
}

func (r *OutboxRepository) Claim(ctx context.Context, txID string) (bool, error) {
	res, err := r.s.conn(ctx).ExecContext(ctx,
		`UPDATE outbox SET status = ? WHERE tx_id = ? AND status IN (?, ?)`,
		string(outbox.StatusSyncing), txID, string(outbox.StatusPending), string(outbox.StatusError))
	if err != nil {
		return false, fmt.Errorf("failed to claim outbox transaction: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *OutboxRepository) ResetStatus(ctx context.Context, from, to outbox.Status) (int, error) {
	res, err := r.s.conn(ctx).ExecContext(ctx,
		`UPDATE outbox SET status = ? WHERE status = ?`, string(to), string(from))
	if err != nil {
		return 0, fmt.Errorf("failed to reset outbox status: %w", err)
	}
	return rowsAffected(res)
}

func (r *OutboxRepository) query(ctx context.Context, query string, args ...any) ([]outbox.Transaction, error) {
	rows, err := r.s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox: %w", err)
	}
	defer rows.Close()

	var out []outbox.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *tx)
	}
	return out, rows.Err()
}

func scanTransaction(sc scanner) (*outbox.Transaction, error) {
	var (
		tx                                   outbox.Transaction
		createdAt, name, op, payload, status string
		base, lastErr, nextRetry, syncedAt   sql.NullString
	)
	err := sc.Scan(&tx.TxID, &createdAt, &name, &op, &tx.RecordID, &payload, &base,
		&status, &tx.AttemptCount, &lastErr, &nextRetry, &syncedAt)
	if err != nil {
		return nil, err
	}

	tx.Table = table.Name(name)
	tx.Op = outbox.Op(op)
	tx.Status = outbox.Status(status)
	tx.LastError = stringPtr(lastErr)

	if err := json.Unmarshal([]byte(payload), &tx.Payload); err != nil {
		return nil, fmt.Errorf("failed to decode payload of %s: %w", tx.TxID, err)
	}
	if tx.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if tx.BaseUpdatedAt, err = parseNullTime(base); err != nil {
		return nil, err
	}
	if tx.NextRetryAt, err = parseNullTime(nextRetry); err != nil {
		return nil, err
	}
	if tx.SyncedAt, err = parseNullTime(syncedAt); err != nil {
		return nil, err
	}
	return &tx, nil
}
