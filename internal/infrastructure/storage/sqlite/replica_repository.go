package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tether/internal/domain/replica"
	"tether/internal/domain/table"
)

type ReplicaRepository struct {
	s *Storage
}

func NewReplicaRepository(s *Storage) *ReplicaRepository {
	return &ReplicaRepository{s: s}
}

const replicaColumns = `table_name, id, data, local_last_accessed_at, local_dirty, local_deleted, base_updated_at, last_pulled_at`

func (r *ReplicaRepository) Get(ctx context.Context, name table.Name, id string) (*replica.Row, error) {
	row := r.s.conn(ctx).QueryRowContext(ctx,
		`SELECT `+replicaColumns+` FROM replica_rows WHERE table_name = ? AND id = ?`,
		string(name), id)

	rec, err := scanReplicaRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, replica.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get replica row: %w", err)
	}
	return rec, nil
}

func (r *ReplicaRepository) Touch(ctx context.Context, name table.Name, id string, at time.Time) error {
	_, err := r.s.conn(ctx).ExecContext(ctx,
		`UPDATE replica_rows SET local_last_accessed_at = ? WHERE table_name = ? AND id = ?`,
		formatTime(at), string(name), id)
	if err != nil {
		return fmt.Errorf("failed to touch replica row: %w", err)
	}
	return nil
}

func (r *ReplicaRepository) Put(ctx context.Context, row replica.Row) error {
	data, err := marshalJSON(row.Data)
	if err != nil {
		return err
	}

	_, err = r.s.conn(ctx).ExecContext(ctx, `
		INSERT INTO replica_rows (`+replicaColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(table_name, id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at,
			local_last_accessed_at = excluded.local_last_accessed_at,
			local_dirty = excluded.local_dirty,
			local_deleted = excluded.local_deleted,
			base_updated_at = excluded.base_updated_at,
			last_pulled_at = excluded.last_pulled_at`,
		string(row.Table), row.ID(), data,
		formatTime(row.Meta.LocalLastAccessedAt),
		boolInt(row.Meta.LocalDirty), boolInt(row.Meta.LocalDeleted),
		formatTimePtr(row.Meta.BaseUpdatedAt), formatTimePtr(row.Meta.LastPulledAt),
		rowUpdatedAt(row.Data),
	)
	if err != nil {
		return fmt.Errorf("failed to put replica row: %w", err)
	}
	return nil
}

// PutClean writes server rows. The conflict clause leaves dirty rows alone,
// so they do not count as written. The access time of existing rows is kept.
func (r *ReplicaRepository) PutClean(ctx context.Context, name table.Name, rows []table.Row, at time.Time) (int, error) {
	written := 0
	err := r.s.WithinTx(ctx, func(ctx context.Context) error {
		for _, row := range rows {
			data, err := marshalJSON(row)
			if err != nil {
				return err
			}

			res, err := r.s.conn(ctx).ExecContext(ctx, `
				INSERT INTO replica_rows (`+replicaColumns+`, updated_at)
				VALUES (?, ?, ?, ?, 0, ?, NULL, ?, ?)
				ON CONFLICT(table_name, id) DO UPDATE SET
					data = excluded.data,
					updated_at = excluded.updated_at,
					local_dirty = 0,
					local_deleted = excluded.local_deleted,
					base_updated_at = NULL,
					last_pulled_at = excluded.last_pulled_at
				WHERE replica_rows.local_dirty = 0`,
				string(name), row.ID(), data,
				formatTime(at), boolInt(row.IsDeleted()), formatTime(at),
				rowUpdatedAt(row),
			)
			if err != nil {
				return fmt.Errorf("failed to upsert %s/%s: %w", name, row.ID(), err)
			}

			n, err := rowsAffected(res)
			if err != nil {
				return err
			}
			written += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func (r *ReplicaRepository) DeleteClean(ctx context.Context, name table.Name, ids []string) (int, error) {
	removed := 0
	err := r.s.WithinTx(ctx, func(ctx context.Context) error {
		for _, id := range ids {
			res, err := r.s.conn(ctx).ExecContext(ctx,
				`DELETE FROM replica_rows WHERE table_name = ? AND id = ? AND local_dirty = 0`,
				string(name), id)
			if err != nil {
				return fmt.Errorf("failed to delete %s/%s: %w", name, id, err)
			}
			n, err := rowsAffected(res)
			if err != nil {
				return err
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (r *ReplicaRepository) ListByUpdatedAt(ctx context.Context, name table.Name, limit int) ([]replica.Row, error) {
	return r.query(ctx, `
		SELECT `+replicaColumns+` FROM replica_rows
		WHERE table_name = ? AND local_deleted = 0
		ORDER BY updated_at DESC, id
		LIMIT ?`, string(name), limit)
}

func (r *ReplicaRepository) ListDirty(ctx context.Context, name table.Name) ([]replica.Row, error) {
	return r.query(ctx, `
		SELECT `+replicaColumns+` FROM replica_rows
		WHERE table_name = ? AND local_dirty = 1
		ORDER BY updated_at, id`, string(name))
}

func (r *ReplicaRepository) Count(ctx context.Context, name table.Name) (int, error) {
	var n int
	err := r.s.conn(ctx).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM replica_rows WHERE table_name = ? AND local_deleted = 0`,
		string(name)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", name, err)
	}
	return n, nil
}

func (r *ReplicaRepository) EvictionCandidates(ctx context.Context, limit int) ([]replica.Key, error) {
	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT r.table_name, r.id FROM replica_rows r
		WHERE r.local_dirty = 0 AND r.local_deleted = 0
		  AND NOT EXISTS (
			SELECT 1 FROM outbox o
			WHERE o.table_name = r.table_name AND o.record_id = r.id
			  AND o.status IN ('pending', 'syncing', 'error')
		  )
		ORDER BY r.local_last_accessed_at, r.table_name, r.id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select eviction candidates: %w", err)
	}
	defer rows.Close()

	var keys []replica.Key
	for rows.Next() {
		var name, id string
		if err := rows.Scan(&name, &id); err != nil {
			return nil, err
		}
		keys = append(keys, replica.Key{Table: table.Name(name), ID: id})
	}
	return keys, rows.Err()
}

func (r *ReplicaRepository) DeleteKeys(ctx context.Context, keys []replica.Key) (int, error) {
	removed := 0
	err := r.s.WithinTx(ctx, func(ctx context.Context) error {
		for _, k := range keys {
			res, err := r.s.conn(ctx).ExecContext(ctx,
				`DELETE FROM replica_rows WHERE table_name = ? AND id = ?`, string(k.Table), k.ID)
			if err != nil {
				return fmt.Errorf("failed to delete %s/%s: %w", k.Table, k.ID, err)
			}
			n, err := rowsAffected(res)
			if err != nil {
				return err
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// MarkStale keeps base_updated_at: it is the last server version the row
// was seen at.
func (r *ReplicaRepository) MarkStale(ctx context.Context, key replica.Key, at time.Time) error {
	return r.s.WithinTx(ctx, func(ctx context.Context) error {
		_, err := r.s.conn(ctx).ExecContext(ctx,
			`UPDATE replica_rows SET local_dirty = 0 WHERE table_name = ? AND id = ?`,
			string(key.Table), key.ID)
		if err != nil {
			return fmt.Errorf("failed to clear dirty flag: %w", err)
		}
		_, err = r.s.conn(ctx).ExecContext(ctx, `
			INSERT INTO replica_refresh (table_name, id, marked_at) VALUES (?, ?, ?)
			ON CONFLICT(table_name, id) DO NOTHING`,
			string(key.Table), key.ID, formatTime(at))
		if err != nil {
			return fmt.Errorf("failed to queue refresh: %w", err)
		}
		return nil
	})
}

func (r *ReplicaRepository) ListStale(ctx context.Context, limit int) ([]replica.Key, error) {
	rows, err := r.s.conn(ctx).QueryContext(ctx, `
		SELECT table_name, id FROM replica_refresh
		ORDER BY marked_at, table_name, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale rows: %w", err)
	}
	defer rows.Close()

	var keys []replica.Key
	for rows.Next() {
		var name, id string
		if err := rows.Scan(&name, &id); err != nil {
			return nil, err
		}
		keys = append(keys, replica.Key{Table: table.Name(name), ID: id})
	}
	return keys, rows.Err()
}

func (r *ReplicaRepository) ClearStale(ctx context.Context, key replica.Key) error {
	_, err := r.s.conn(ctx).ExecContext(ctx,
		`DELETE FROM replica_refresh WHERE table_name = ? AND id = ?`, string(key.Table), key.ID)
	if err != nil {
		return fmt.Errorf("failed to clear stale mark: %w", err)
	}
	return nil
}

func (r *ReplicaRepository) query(ctx context.Context, query string, args ...any) ([]replica.Row, error) {
	rows, err := r.s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query replica rows: %w", err)
	}
	defer rows.Close()

	var out []replica.Row
	for rows.Next() {
		rec, err := scanReplicaRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReplicaRow(sc scanner) (*replica.Row, error) {
	var (
		name, id, data, accessed string
		dirty, deleted           int
		base, pulled             sql.NullString
	)
	if err := sc.Scan(&name, &id, &data, &accessed, &dirty, &deleted, &base, &pulled); err != nil {
		return nil, err
	}

	rec := replica.Row{Table: table.Name(name)}
	if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
		return nil, fmt.Errorf("failed to decode %s/%s: %w", name, id, err)
	}

	var err error
	if rec.Meta.LocalLastAccessedAt, err = parseTime(accessed); err != nil {
		return nil, err
	}
	if rec.Meta.BaseUpdatedAt, err = parseNullTime(base); err != nil {
		return nil, err
	}
	if rec.Meta.LastPulledAt, err = parseNullTime(pulled); err != nil {
		return nil, err
	}
	rec.Meta.LocalDirty = dirty != 0
	rec.Meta.LocalDeleted = deleted != 0

	return &rec, nil
}

// rowUpdatedAt normalises the row's updated_at for the sortable column.
func rowUpdatedAt(row table.Row) any {
	t, ok := row.UpdatedAt()
	if !ok {
		return nil
	}
	return formatTime(t)
}
