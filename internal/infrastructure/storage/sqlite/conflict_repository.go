package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tether/internal/domain/conflict"
	"tether/internal/domain/table"
)

type ConflictRepository struct {
	s *Storage
}

func NewConflictRepository(s *Storage) *ConflictRepository {
	return &ConflictRepository{s: s}
}

const conflictColumns = `conflict_id, created_at, table_name, record_id, server_row, local_row,
	reason, status, note, resolved_at`

func (r *ConflictRepository) Insert(ctx context.Context, e conflict.Entry) error {
	server, err := encodeRow(e.ServerRow)
	if err != nil {
		return err
	}
	local, err := encodeRow(e.LocalRow)
	if err != nil {
		return err
	}

	_, err = r.s.conn(ctx).ExecContext(ctx,
		`INSERT INTO conflict_log (`+conflictColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ConflictID, formatTime(e.CreatedAt), string(e.Table), e.RecordID, server, local,
		string(e.Reason), string(e.Status), nullString(e.Note), formatTimePtr(e.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert conflict: %w", err)
	}
	return nil
}

func (r *ConflictRepository) Get(ctx context.Context, conflictID string) (*conflict.Entry, error) {
	row := r.s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+conflictColumns+` FROM conflict_log WHERE conflict_id = ?`, conflictID)

	e, err := scanConflict(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conflict.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}
	return e, nil
}

// Update only touches the review fields; captured rows are immutable.
func (r *ConflictRepository) Update(ctx context.Context, e conflict.Entry) error {
	res, err := r.s.conn(ctx).ExecContext(ctx,
		`UPDATE conflict_log SET status = ?, note = ?, resolved_at = ? WHERE conflict_id = ?`,
		string(e.Status), nullString(e.Note), formatTimePtr(e.ResolvedAt), e.ConflictID)
	if err != nil {
		return fmt.Errorf("failed to update conflict: %w", err)
	}
	if n, err := rowsAffected(res); err == nil && n == 0 {
		return conflict.ErrNotFound
	}
	return nil
}

func (r *ConflictRepository) ListByStatus(ctx context.Context, status conflict.Status, limit int) ([]conflict.Entry, error) {
	query := `SELECT ` + conflictColumns + ` FROM conflict_log`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, conflict_id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return r.query(ctx, query, args...)
}

func (r *ConflictRepository) ListByTableRecord(ctx context.Context, name table.Name, recordID string) ([]conflict.Entry, error) {
	return r.query(ctx, `
		SELECT `+conflictColumns+` FROM conflict_log
		WHERE table_name = ? AND record_id = ?
		ORDER BY created_at DESC, conflict_id`,
		string(name), recordID)
}

func (r *ConflictRepository) CountByStatus(ctx context.Context, status conflict.Status) (int, error) {
	var n int
	err := r.s.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conflict_log WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count conflicts: %w", err)
	}
	return n, nil
}

func (r *ConflictRepository) query(ctx context.Context, query string, args ...any) ([]conflict.Entry, error) {
	rows, err := r.s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var out []conflict.Entry
	for rows.Next() {
		e, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanConflict(sc scanner) (*conflict.Entry, error) {
	var (
		e                               conflict.Entry
		createdAt, name, reason, status string
		server, local, note, resolved   sql.NullString
	)
	err := sc.Scan(&e.ConflictID, &createdAt, &name, &e.RecordID, &server, &local,
		&reason, &status, &note, &resolved)
	if err != nil {
		return nil, err
	}

	e.Table = table.Name(name)
	e.Reason = conflict.Reason(reason)
	e.Status = conflict.Status(status)
	e.Note = stringPtr(note)

	if e.ServerRow, err = decodeRow(server); err != nil {
		return nil, err
	}
	if e.LocalRow, err = decodeRow(local); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.ResolvedAt, err = parseNullTime(resolved); err != nil {
		return nil, err
	}
	return &e, nil
}

func encodeRow(row table.Row) (any, error) {
	if row == nil {
		return nil, nil
	}
	return marshalJSON(row)
}

func decodeRow(raw sql.NullString) (table.Row, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var row table.Row
	if err := json.Unmarshal([]byte(raw.String), &row); err != nil {
		return nil, fmt.Errorf("failed to decode row: %w", err)
	}
	return row, nil
}
