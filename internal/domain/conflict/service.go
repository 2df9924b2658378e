package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"tether/internal/domain/table"
)

type Servicer interface {
	Add(ctx context.Context, entry Entry) (*Entry, error)
	Get(ctx context.Context, conflictID string) (*Entry, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Entry, error)
	ListByTableRecord(ctx context.Context, name table.Name, recordID string) ([]Entry, error)
	CountPending(ctx context.Context) (int, error)
	Resolve(ctx context.Context, conflictID, note string) error
	Dismiss(ctx context.Context, conflictID, note string) error
}

type Service struct {
	repo Repository
	log  *slog.Logger
	now  func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With("component", "conflict"),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Add records a new conflict in pending_review.
func (s *Service) Add(ctx context.Context, entry Entry) (*Entry, error) {
	if err := entry.Table.Validate(); err != nil {
		return nil, err
	}
	if entry.RecordID == "" {
		return nil, fmt.Errorf("%w: missing record id", ErrInvalidEntry)
	}

	entry.ConflictID = uuid.NewString()
	entry.CreatedAt = s.now()
	entry.Status = StatusPendingReview
	entry.ResolvedAt = nil
	if entry.Reason == "" {
		entry.Reason = ReasonOther
	}

	if err := s.repo.Insert(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record conflict: %w", err)
	}

	s.log.Warn("conflict recorded",
		"conflict_id", entry.ConflictID,
		"table", entry.Table,
		"record_id", entry.RecordID,
		"reason", entry.Reason,
	)
	return &entry, nil
}

func (s *Service) Get(ctx context.Context, conflictID string) (*Entry, error) {
	return s.repo.Get(ctx, conflictID)
}

func (s *Service) ListByStatus(ctx context.Context, status Status, limit int) ([]Entry, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	entries, err := s.repo.ListByStatus(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	return entries, nil
}

func (s *Service) ListByTableRecord(ctx context.Context, name table.Name, recordID string) ([]Entry, error) {
	entries, err := s.repo.ListByTableRecord(ctx, name, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts for %s/%s: %w", name, recordID, err)
	}
	return entries, nil
}

func (s *Service) CountPending(ctx context.Context) (int, error) {
	return s.repo.CountByStatus(ctx, StatusPendingReview)
}

func (s *Service) Resolve(ctx context.Context, conflictID, note string) error {
	return s.close(ctx, conflictID, StatusManuallyResolved, note)
}

func (s *Service) Dismiss(ctx context.Context, conflictID, note string) error {
	return s.close(ctx, conflictID, StatusDismissed, note)
}

func (s *Service) close(ctx context.Context, conflictID string, status Status, note string) error {
	entry, err := s.repo.Get(ctx, conflictID)
	if err != nil {
		return err
	}
	if entry.Status != StatusPendingReview {
		return fmt.Errorf("%w: %s is %s", ErrAlreadyClosed, conflictID, entry.Status)
	}

	now := s.now()
	entry.Status = status
	entry.ResolvedAt = &now
	if note != "" {
		entry.Note = &note
	}

	if err := s.repo.Update(ctx, *entry); err != nil {
		return fmt.Errorf("failed to update conflict: %w", err)
	}

	s.log.Info("conflict closed", "conflict_id", conflictID, "status", status)
	return nil
}
