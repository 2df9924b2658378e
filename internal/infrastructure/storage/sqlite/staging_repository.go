package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tether/internal/domain/staging"
	"tether/internal/domain/table"
)

type StagingRepository struct {
	s *Storage
}

func NewStagingRepository(s *Storage) *StagingRepository {
	return &StagingRepository{s: s}
}

const itemColumns = `input_id, created_at, text, context, status, position, result, error, updated_at`

func (r *StagingRepository) InsertItem(ctx context.Context, item staging.QueueItem) error {
	meta, err := encodeContext(item.Context)
	if err != nil {
		return err
	}

	_, err = r.s.conn(ctx).ExecContext(ctx,
		`INSERT INTO input_queue (`+itemColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.InputID, formatTime(item.CreatedAt), item.Text, meta, string(item.Status),
		item.Position, nullString(item.Result), nullString(item.Error), formatTime(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert input: %w", err)
	}
	return nil
}

func (r *StagingRepository) GetItem(ctx context.Context, inputID string) (*staging.QueueItem, error) {
	row := r.s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM input_queue WHERE input_id = ?`, inputID)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, staging.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get input: %w", err)
	}
	return item, nil
}

func (r *StagingRepository) UpdateItem(ctx context.Context, item staging.QueueItem) error {
	res, err := r.s.conn(ctx).ExecContext(ctx, `
		UPDATE input_queue SET status = ?, result = ?, error = ?, updated_at = ?
		WHERE input_id = ?`,
		string(item.Status), nullString(item.Result), nullString(item.Error),
		formatTime(item.UpdatedAt), item.InputID)
	if err != nil {
		return fmt.Errorf("failed to update input: %w", err)
	}
	if n, err := rowsAffected(res); err == nil && n == 0 {
		return staging.ErrNotFound
	}
	return nil
}

func (r *StagingRepository) ListItems(ctx context.Context, status staging.QueueStatus) ([]staging.QueueItem, error) {
	query := `SELECT ` + itemColumns + ` FROM input_queue`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY position`

	rows, err := r.s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list inputs: %w", err)
	}
	defer rows.Close()

	var out []staging.QueueItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, rows.Err()
}

func (r *StagingRepository) NextPending(ctx context.Context) (*staging.QueueItem, error) {
	row := r.s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM input_queue WHERE status = ? ORDER BY position LIMIT 1`,
		string(staging.QueuePending))

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, staging.ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue head: %w", err)
	}
	return item, nil
}

func (r *StagingRepository) NextPosition(ctx context.Context) (int, error) {
	var pos int
	err := r.s.conn(ctx).QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) + 1 FROM input_queue`).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("failed to read queue position: %w", err)
	}
	return pos, nil
}

const stagedColumns = `staged_id, created_at, input_id, table_name, proposed_row, status,
	validation_errors, origin_label`

func (r *StagingRepository) InsertStaged(ctx context.Context, row staging.StagedRow) error {
	proposed, err := marshalJSON(row.ProposedRow)
	if err != nil {
		return err
	}
	errs, err := encodeErrors(row.ValidationErrors)
	if err != nil {
		return err
	}

	_, err = r.s.conn(ctx).ExecContext(ctx,
		`INSERT INTO staged_rows (`+stagedColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.StagedID, formatTime(row.CreatedAt), row.InputID, string(row.Table), proposed,
		string(row.Status), errs, nullString(row.OriginLabel),
	)
	if err != nil {
		return fmt.Errorf("failed to insert staged row: %w", err)
	}
	return nil
}

func (r *StagingRepository) GetStaged(ctx context.Context, stagedID string) (*staging.StagedRow, error) {
	row := r.s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+stagedColumns+` FROM staged_rows WHERE staged_id = ?`, stagedID)

	staged, err := scanStaged(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, staging.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get staged row: %w", err)
	}
	return staged, nil
}

func (r *StagingRepository) UpdateStaged(ctx context.Context, row staging.StagedRow) error {
	proposed, err := marshalJSON(row.ProposedRow)
	if err != nil {
		return err
	}
	errs, err := encodeErrors(row.ValidationErrors)
	if err != nil {
		return err
	}

	res, err := r.s.conn(ctx).ExecContext(ctx, `
		UPDATE staged_rows SET proposed_row = ?, status = ?, validation_errors = ?
		WHERE staged_id = ?`,
		proposed, string(row.Status), errs, row.StagedID)
	if err != nil {
		return fmt.Errorf("failed to update staged row: %w", err)
	}
	if n, err := rowsAffected(res); err == nil && n == 0 {
		return staging.ErrNotFound
	}
	return nil
}

func (r *StagingRepository) ListStaged(ctx context.Context, status staging.StagedStatus, inputID string) ([]staging.StagedRow, error) {
	query := `SELECT ` + stagedColumns + ` FROM staged_rows WHERE 1=1`
	var args []any
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	if inputID != "" {
		query += ` AND input_id = ?`
		args = append(args, inputID)
	}
	query += ` ORDER BY created_at, staged_id`

	rows, err := r.s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list staged rows: %w", err)
	}
	defer rows.Close()

	var out []staging.StagedRow
	for rows.Next() {
		staged, err := scanStaged(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *staged)
	}
	return out, rows.Err()
}

func scanItem(sc scanner) (*staging.QueueItem, error) {
	var (
		item                         staging.QueueItem
		createdAt, status, updatedAt string
		meta, result, errMsg         sql.NullString
	)
	err := sc.Scan(&item.InputID, &createdAt, &item.Text, &meta, &status, &item.Position,
		&result, &errMsg, &updatedAt)
	if err != nil {
		return nil, err
	}

	item.Status = staging.QueueStatus(status)
	item.Result = stringPtr(result)
	item.Error = stringPtr(errMsg)

	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &item.Context); err != nil {
			return nil, fmt.Errorf("failed to decode input context: %w", err)
		}
	}
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &item, nil
}

func scanStaged(sc scanner) (*staging.StagedRow, error) {
	var (
		row                               staging.StagedRow
		createdAt, name, proposed, status string
		errs, origin                      sql.NullString
	)
	err := sc.Scan(&row.StagedID, &createdAt, &row.InputID, &name, &proposed, &status, &errs, &origin)
	if err != nil {
		return nil, err
	}

	row.Table = table.Name(name)
	row.Status = staging.StagedStatus(status)
	row.OriginLabel = stringPtr(origin)

	if err := json.Unmarshal([]byte(proposed), &row.ProposedRow); err != nil {
		return nil, fmt.Errorf("failed to decode staged row: %w", err)
	}
	if errs.Valid && errs.String != "" {
		if err := json.Unmarshal([]byte(errs.String), &row.ValidationErrors); err != nil {
			return nil, fmt.Errorf("failed to decode validation errors: %w", err)
		}
	}
	if row.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &row, nil
}

func encodeContext(meta map[string]any) (any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	return marshalJSON(meta)
}

func encodeErrors(errs []string) (any, error) {
	if len(errs) == 0 {
		return nil, nil
	}
	return marshalJSON(errs)
}
