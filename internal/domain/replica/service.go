package replica

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"tether/internal/domain/table"
)

type Servicer interface {
	GetByID(ctx context.Context, name table.Name, id string) (*Row, error)
	UpsertMany(ctx context.Context, name table.Name, rows []table.Row) (int, error)
	ListByUpdatedAt(ctx context.Context, name table.Name, limit int) ([]Row, error)
	PutLocal(ctx context.Context, row Row) error
	Acknowledge(ctx context.Context, name table.Name, serverRow table.Row, keepDirty bool) error
	ForceOverwrite(ctx context.Context, name table.Name, serverRow table.Row) error
	RemoveMany(ctx context.Context, name table.Name, ids []string) (int, error)
	ForceRemove(ctx context.Context, name table.Name, id string) error
	ListDirty(ctx context.Context, name table.Name) ([]Row, error)
	Discard(ctx context.Context, name table.Name, id string) error
	ListStale(ctx context.Context, limit int) ([]Key, error)
	ClearStale(ctx context.Context, key Key) error
}

// Service is the only writer of replica rows. Pull and realtime paths go
// through UpsertMany/RemoveMany, which never touch locally dirty rows; only
// Acknowledge and ForceOverwrite (push) may clear dirtiness.
type Service struct {
	repo Repository
	log  *slog.Logger
	now  func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With("component", "replica"),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// GetByID returns the replica row and records the access for LRU eviction.
func (s *Service) GetByID(ctx context.Context, name table.Name, id string) (*Row, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}

	row, err := s.repo.Get(ctx, name, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.repo.Touch(ctx, name, id, now); err != nil {
		return nil, fmt.Errorf("failed to touch replica row: %w", err)
	}
	row.Meta.LocalLastAccessedAt = now

	return row, nil
}

// UpsertMany mirrors server rows into the replica, silently skipping rows
// that carry an unsynced local edit.
func (s *Service) UpsertMany(ctx context.Context, name table.Name, rows []table.Row) (int, error) {
	if err := name.Validate(); err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	valid := make([]table.Row, 0, len(rows))
	for _, row := range rows {
		if row.ID() == "" {
			s.log.Warn("skipping server row without id", "table", name)
			continue
		}
		valid = append(valid, row)
	}

	written, err := s.repo.PutClean(ctx, name, valid, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to upsert %s rows: %w", name, err)
	}

	if skipped := len(valid) - written; skipped > 0 {
		s.log.Debug("dirty rows kept over server copies", "table", name, "skipped", skipped)
	}

	return written, nil
}

func (s *Service) ListByUpdatedAt(ctx context.Context, name table.Name, limit int) ([]Row, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	rows, err := s.repo.ListByUpdatedAt(ctx, name, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", name, err)
	}
	return rows, nil
}

func (s *Service) ListDirty(ctx context.Context, name table.Name) ([]Row, error) {
	if err := name.Validate(); err != nil {
		return nil, err
	}
	return s.repo.ListDirty(ctx, name)
}

// PutLocal stores a locally mutated row as is.
func (s *Service) PutLocal(ctx context.Context, row Row) error {
	if err := row.Table.Validate(); err != nil {
		return err
	}
	if row.ID() == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRow)
	}
	if err := s.repo.Put(ctx, row); err != nil {
		return fmt.Errorf("failed to write local row: %w", err)
	}
	return nil
}

// Acknowledge replaces the row with its server-confirmed version. With
// keepDirty the local content stays (more local edits are still queued) and
// only the concurrency base moves to the confirmed updated_at.
func (s *Service) Acknowledge(ctx context.Context, name table.Name, serverRow table.Row, keepDirty bool) error {
	if serverRow.ID() == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRow)
	}

	now := s.now()

	if keepDirty {
		existing, err := s.repo.Get(ctx, name, serverRow.ID())
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to load row for ack: %w", err)
		}
		if existing != nil && existing.Meta.LocalDirty {
			if base, ok := serverRow.UpdatedAt(); ok {
				existing.Meta.BaseUpdatedAt = &base
			}
			existing.Meta.LocalLastAccessedAt = now
			return s.repo.Put(ctx, *existing)
		}
	}

	return s.overwrite(ctx, name, serverRow, now)
}

// ForceOverwrite makes the server row authoritative after a conflict.
func (s *Service) ForceOverwrite(ctx context.Context, name table.Name, serverRow table.Row) error {
	if serverRow.ID() == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRow)
	}
	return s.overwrite(ctx, name, serverRow, s.now())
}

func (s *Service) overwrite(ctx context.Context, name table.Name, serverRow table.Row, now time.Time) error {
	row := Row{
		Table: name,
		Data:  serverRow,
		Meta:  cleanMeta(serverRow, now),
	}
	if err := s.repo.Put(ctx, row); err != nil {
		return fmt.Errorf("failed to overwrite replica row: %w", err)
	}
	return nil
}

// RemoveMany physically deletes rows removed on the server unless dirty.
func (s *Service) RemoveMany(ctx context.Context, name table.Name, ids []string) (int, error) {
	if err := name.Validate(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	removed, err := s.repo.DeleteClean(ctx, name, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to remove %s rows: %w", name, err)
	}
	return removed, nil
}

// ForceRemove drops a row that no longer exists on the server, dirty or not.
func (s *Service) ForceRemove(ctx context.Context, name table.Name, id string) error {
	if _, err := s.repo.DeleteKeys(ctx, []Key{{Table: name, ID: id}}); err != nil {
		return fmt.Errorf("failed to remove replica row: %w", err)
	}
	return nil
}

// Discard gives up the local edits of a row once none of them is queued any
// more. The row turns clean, so pulls may replace it, and stays listed by
// ListStale until the server copy has been fetched. Its base version is kept
// for the next local edit.
func (s *Service) Discard(ctx context.Context, name table.Name, id string) error {
	if err := name.Validate(); err != nil {
		return err
	}
	if err := s.repo.MarkStale(ctx, Key{Table: name, ID: id}, s.now()); err != nil {
		return fmt.Errorf("failed to discard local edits: %w", err)
	}
	s.log.Info("local edits discarded", "table", name, "record_id", id)
	return nil
}

func (s *Service) ListStale(ctx context.Context, limit int) ([]Key, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	keys, err := s.repo.ListStale(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale rows: %w", err)
	}
	return keys, nil
}

func (s *Service) ClearStale(ctx context.Context, key Key) error {
	if err := s.repo.ClearStale(ctx, key); err != nil {
		return fmt.Errorf("failed to clear stale mark: %w", err)
	}
	return nil
}
