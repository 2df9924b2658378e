package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/exp/slog"
)

// timeLayout keeps a fixed width so TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Storage struct {
	db  *sql.DB
	log *slog.Logger
}

// New opens (or creates) the replica database at path.
func New(path string, log *slog.Logger) (*Storage, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serialises writers; everything goes through conn(ctx).
	db.SetMaxOpenConns(1)

	s := &Storage{db: db, log: log.With("component", "sqlite")}

	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init tables: %w", err)
	}

	return s, nil
}

func (s *Storage) initTables() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS replica_rows (
			table_name TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			updated_at TEXT,
			local_last_accessed_at TEXT NOT NULL,
			local_dirty INTEGER NOT NULL DEFAULT 0,
			local_deleted INTEGER NOT NULL DEFAULT 0,
			base_updated_at TEXT,
			last_pulled_at TEXT,
			PRIMARY KEY (table_name, id)
		);

		CREATE INDEX IF NOT EXISTS idx_replica_updated ON replica_rows(table_name, updated_at);
		CREATE INDEX IF NOT EXISTS idx_replica_dirty ON replica_rows(table_name, local_dirty);
		CREATE INDEX IF NOT EXISTS idx_replica_accessed ON replica_rows(local_last_accessed_at);

		CREATE TABLE IF NOT EXISTS replica_refresh (
			table_name TEXT NOT NULL,
			id TEXT NOT NULL,
			marked_at TEXT NOT NULL,
			PRIMARY KEY (table_name, id)
		);

		CREATE TABLE IF NOT EXISTS outbox (
			tx_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			table_name TEXT NOT NULL,
			op TEXT NOT NULL,
			record_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			base_updated_at TEXT,
			status TEXT NOT NULL,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			next_retry_at TEXT,
			synced_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox(status, created_at);
		CREATE INDEX IF NOT EXISTS idx_outbox_record ON outbox(table_name, record_id);

		CREATE TABLE IF NOT EXISTS conflict_log (
			conflict_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			table_name TEXT NOT NULL,
			record_id TEXT NOT NULL,
			server_row TEXT,
			local_row TEXT,
			reason TEXT NOT NULL,
			status TEXT NOT NULL,
			note TEXT,
			resolved_at TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_conflict_status ON conflict_log(status, created_at);
		CREATE INDEX IF NOT EXISTS idx_conflict_record ON conflict_log(table_name, record_id);

		CREATE TABLE IF NOT EXISTS sync_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS input_queue (
			input_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			text TEXT NOT NULL,
			context TEXT,
			status TEXT NOT NULL,
			position INTEGER NOT NULL,
			result TEXT,
			error TEXT,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_input_status ON input_queue(status, position);

		CREATE TABLE IF NOT EXISTS staged_rows (
			staged_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			input_id TEXT NOT NULL,
			table_name TEXT NOT NULL,
			proposed_row TEXT NOT NULL,
			status TEXT NOT NULL,
			validation_errors TEXT,
			origin_label TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_staged_status ON staged_rows(status, created_at);
		CREATE INDEX IF NOT EXISTS idx_staged_input ON staged_rows(input_id);
	`)
	return err
}

func (s *Storage) Close() error {
	return s.db.Close()
}

type txKey struct{}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn returns the transaction carried by ctx, or the database.
func (s *Storage) conn(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// WithinTx runs fn in a transaction. Calls nested inside fn reuse it.
func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Error("rollback failed", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", raw, err)
	}
	return t.UTC(), nil
}

func parseNullTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func stringPtr(raw sql.NullString) *string {
	if !raw.Valid {
		return nil
	}
	v := raw.String
	return &v
}

func marshalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode json: %w", err)
	}
	return string(raw), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func rowsAffected(res sql.Result) (int, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
