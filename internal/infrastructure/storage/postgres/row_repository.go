package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"tether/internal/domain/sync"
	"tether/internal/domain/table"
)

const rowColumns = `table_name, id, data, created_at, updated_at, deleted_at`

// syncLogLock serializes change-log appends. sync_log.seq is taken at insert
// but becomes visible at commit, so without it a later seq could commit
// first and a client cursor would step over the earlier one.
const syncLogLock int64 = 0x7465746865720001

// RowRepository is the canonical store for every replicated table. Each
// write appends its change-log entry in the same transaction.
type RowRepository struct {
	pool     *pgxpool.Pool
	log      *slog.Logger
	onChange func(sync.ChangeLogEntry)
}

func NewRowRepository(s *Storage, log *slog.Logger) *RowRepository {
	return &RowRepository{
		pool:     s.pool,
		log:      log.With("component", "row_repository"),
		onChange: func(sync.ChangeLogEntry) {},
	}
}

// OnChange registers a callback run after every committed write.
func (r *RowRepository) OnChange(fn func(sync.ChangeLogEntry)) {
	if fn == nil {
		fn = func(sync.ChangeLogEntry) {}
	}
	r.onChange = fn
}

// Insert stores a new row. Inserting an id that already exists returns the
// stored row unchanged, so a retried insert is harmless.
func (r *RowRepository) Insert(ctx context.Context, name table.Name, row table.Row) (table.Row, error) {
	id := row.ID()
	if id == "" {
		return nil, table.ErrMissingID
	}

	data, err := encodeData(row)
	if err != nil {
		return nil, err
	}
	createdAt, ok := row.CreatedAt()
	if !ok {
		createdAt = time.Now().UTC()
	}

	var (
		out   table.Row
		entry *sync.ChangeLogEntry
	)
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		stored, err := scanRow(tx.QueryRow(ctx, `
			INSERT INTO rows (`+rowColumns+`)
			VALUES ($1, $2, $3, $4, clock_timestamp(), $5)
			ON CONFLICT (table_name, id) DO NOTHING
			RETURNING `+rowColumns,
			string(name), id, data, createdAt, timePtr(row.DeletedAt()),
		))
		if errors.Is(err, pgx.ErrNoRows) {
			out, err = r.get(ctx, tx, name, id)
			return err
		}
		if err != nil {
			return err
		}

		out = stored
		entry, err = appendLog(ctx, tx, name, id, sync.OperationInsert, stored)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert %s/%s: %w", name, id, err)
	}

	r.notify(entry)
	return out, nil
}

// UpdateIf applies patch only when the stored updated_at still equals base.
func (r *RowRepository) UpdateIf(ctx context.Context, name table.Name, id string, base time.Time, patch table.Row) (table.Row, error) {
	setDeleted := false
	var deletedAt *time.Time
	if _, ok := patch[table.ColumnDeletedAt]; ok {
		setDeleted = true
		deletedAt = timePtr(patch.DeletedAt())
	}

	data, err := encodeData(patch)
	if err != nil {
		return nil, err
	}

	var (
		out   table.Row
		entry *sync.ChangeLogEntry
	)
	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		stored, err := scanRow(tx.QueryRow(ctx, `
			UPDATE rows SET
				data = data || $4::jsonb,
				deleted_at = CASE WHEN $5::boolean THEN $6::timestamptz ELSE deleted_at END,
				updated_at = clock_timestamp()
			WHERE table_name = $1 AND id = $2 AND updated_at = $3
			RETURNING `+rowColumns,
			string(name), id, base, data, setDeleted, deletedAt,
		))
		if errors.Is(err, pgx.ErrNoRows) {
			return sync.ErrPreconditionFailed
		}
		if err != nil {
			return err
		}

		out = stored
		entry, err = appendLog(ctx, tx, name, id, sync.OperationUpdate, stored)
		return err
	})
	if err != nil {
		if errors.Is(err, sync.ErrPreconditionFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("update %s/%s: %w", name, id, err)
	}

	r.notify(entry)
	return out, nil
}

// Purge hard-deletes a row and logs a DELETE without row data.
func (r *RowRepository) Purge(ctx context.Context, name table.Name, id string) error {
	var entry *sync.ChangeLogEntry
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM rows WHERE table_name = $1 AND id = $2`, string(name), id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return sync.ErrRemoteNotFound
		}
		entry, err = appendLog(ctx, tx, name, id, sync.OperationDelete, nil)
		return err
	})
	if err != nil {
		if errors.Is(err, sync.ErrRemoteNotFound) {
			return err
		}
		return fmt.Errorf("purge %s/%s: %w", name, id, err)
	}

	r.notify(entry)
	return nil
}

// Get returns the row, soft-deleted ones included.
func (r *RowRepository) Get(ctx context.Context, name table.Name, id string) (table.Row, error) {
	return r.get(ctx, r.pool, name, id)
}

// ListTable pages through a table by id.
func (r *RowRepository) ListTable(ctx context.Context, name table.Name, after string, limit int) ([]table.Row, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+rowColumns+` FROM rows
		WHERE table_name = $1 AND id > $2
		ORDER BY id
		LIMIT $3`, string(name), after, limit)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", name, err)
	}
	defer rows.Close()

	out := make([]table.Row, 0, limit)
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s row: %w", name, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *RowRepository) ChangesSince(ctx context.Context, seq int64, limit int) ([]sync.ChangeLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT seq, table_name, record_id, operation, row_data, created_at
		FROM sync_log
		WHERE seq > $1
		ORDER BY seq
		LIMIT $2`, seq, limit)
	if err != nil {
		return nil, fmt.Errorf("list changes since %d: %w", seq, err)
	}
	defer rows.Close()

	out := make([]sync.ChangeLogEntry, 0, limit)
	for rows.Next() {
		var (
			e   sync.ChangeLogEntry
			op  string
			raw []byte
		)
		if err := rows.Scan(&e.Seq, &e.TableName, &e.RecordID, &op, &raw, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		e.Operation = sync.Operation(op)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.RowData); err != nil {
				return nil, fmt.Errorf("decode change %d: %w", e.Seq, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *RowRepository) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM sync_log`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("read max seq: %w", err)
	}
	return seq, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *RowRepository) get(ctx context.Context, q queryRower, name table.Name, id string) (table.Row, error) {
	row, err := scanRow(q.QueryRow(ctx,
		`SELECT `+rowColumns+` FROM rows WHERE table_name = $1 AND id = $2`, string(name), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sync.ErrRemoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", name, id, err)
	}
	return row, nil
}

func (r *RowRepository) notify(entry *sync.ChangeLogEntry) {
	if entry != nil {
		r.onChange(*entry)
	}
}

type logAppender interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// appendLog must run last in its transaction: the advisory lock is held
// until commit and no row locks may be taken after it.
func appendLog(ctx context.Context, tx logAppender, name table.Name, id string, op sync.Operation, row table.Row) (*sync.ChangeLogEntry, error) {
	var raw []byte
	if row != nil {
		var err error
		if raw, err = json.Marshal(row); err != nil {
			return nil, fmt.Errorf("encode change: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, syncLogLock); err != nil {
		return nil, fmt.Errorf("lock change log: %w", err)
	}

	entry := sync.ChangeLogEntry{TableName: string(name), RecordID: id, Operation: op, RowData: row}
	err := tx.QueryRow(ctx, `
		INSERT INTO sync_log (table_name, record_id, operation, row_data)
		VALUES ($1, $2, $3, $4)
		RETURNING seq, created_at`,
		string(name), id, string(op), raw,
	).Scan(&entry.Seq, &entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("append change log: %w", err)
	}
	return &entry, nil
}

// encodeData keeps everything but the system columns, which live in their
// own SQL columns.
func encodeData(row table.Row) ([]byte, error) {
	data := make(table.Row, len(row))
	for k, v := range row {
		switch k {
		case table.ColumnID, table.ColumnCreatedAt, table.ColumnUpdatedAt, table.ColumnDeletedAt:
			continue
		}
		data[k] = v
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", table.ErrInvalidPayload, err)
	}
	return raw, nil
}

// composeRow rebuilds the wire row from the stored columns.
func composeRow(id string, data []byte, createdAt, updatedAt time.Time, deletedAt *time.Time) (table.Row, error) {
	row := table.Row{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &row); err != nil {
			return nil, fmt.Errorf("decode row data: %w", err)
		}
	}
	row[table.ColumnID] = id
	row[table.ColumnCreatedAt] = table.FormatTime(createdAt)
	row[table.ColumnUpdatedAt] = table.FormatTime(updatedAt)
	if deletedAt != nil {
		row[table.ColumnDeletedAt] = table.FormatTime(*deletedAt)
	} else {
		row[table.ColumnDeletedAt] = nil
	}
	return row, nil
}

func scanRow(sc pgx.Row) (table.Row, error) {
	var (
		name, id             string
		data                 []byte
		createdAt, updatedAt time.Time
		deletedAt            *time.Time
	)
	if err := sc.Scan(&name, &id, &data, &createdAt, &updatedAt, &deletedAt); err != nil {
		return nil, err
	}
	return composeRow(id, data, createdAt, updatedAt, deletedAt)
}

func timePtr(t time.Time, ok bool) *time.Time {
	if !ok {
		return nil
	}
	return &t
}
