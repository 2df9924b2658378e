package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"tether/internal/domain/table"
)

type Servicer interface {
	Enqueue(ctx context.Context, tx Transaction) (int, error)
	Get(ctx context.Context, txID string) (*Transaction, error)
	GetPending(ctx context.Context, limit int) ([]Transaction, error)
	GetRetryable(ctx context.Context, limit int, now time.Time) ([]Transaction, error)
	UpdateStatus(ctx context.Context, txID string, status Status, patch Patch) error
	Claim(ctx context.Context, txID string) (bool, error)
	FindByTableRecord(ctx context.Context, name table.Name, recordID string) ([]Transaction, error)
	PendingCount(ctx context.Context) (int, error)
	List(ctx context.Context, status Status) ([]Transaction, error)
	Retry(ctx context.Context, txID string) error
	Cancel(ctx context.Context, txID string) error
	HasUnsynced(ctx context.Context, name table.Name, recordID string) (bool, error)
	Rebase(ctx context.Context, name table.Name, recordID string, base time.Time) error
	RecoverInFlight(ctx context.Context) (int, error)
}

type Service struct {
	repo Repository
	log  *slog.Logger
	now  func() time.Time
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With("component", "outbox"),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Enqueue stores tx as pending and returns the recomputed pending count.
func (s *Service) Enqueue(ctx context.Context, tx Transaction) (int, error) {
	if err := tx.Table.Validate(); err != nil {
		return 0, err
	}
	if !tx.Op.Valid() {
		return 0, fmt.Errorf("%w: unknown op %q", ErrInvalidTransaction, tx.Op)
	}
	if tx.RecordID == "" {
		return 0, fmt.Errorf("%w: missing record id", ErrInvalidTransaction)
	}

	if tx.TxID == "" {
		tx.TxID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = s.now()
	}
	tx.Status = StatusPending
	tx.AttemptCount = 0
	tx.LastError = nil
	tx.NextRetryAt = nil
	tx.SyncedAt = nil

	if err := s.repo.Insert(ctx, tx); err != nil {
		return 0, fmt.Errorf("failed to enqueue transaction: %w", err)
	}

	s.log.Debug("transaction enqueued",
		"tx_id", tx.TxID, "table", tx.Table, "op", tx.Op, "record_id", tx.RecordID)

	return s.PendingCount(ctx)
}

func (s *Service) Get(ctx context.Context, txID string) (*Transaction, error) {
	return s.repo.Get(ctx, txID)
}

func (s *Service) GetPending(ctx context.Context, limit int) ([]Transaction, error) {
	txs, err := s.repo.ListByStatus(ctx, []Status{StatusPending}, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	return txs, nil
}

// GetRetryable returns errored transactions whose backoff has elapsed.
func (s *Service) GetRetryable(ctx context.Context, limit int, now time.Time) ([]Transaction, error) {
	txs, err := s.repo.ListRetryable(ctx, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable transactions: %w", err)
	}
	return txs, nil
}

// UpdateStatus moves tx to status and merges patch. Unknown ids are ignored.
func (s *Service) UpdateStatus(ctx context.Context, txID string, status Status, patch Patch) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
	}

	tx, err := s.repo.Get(ctx, txID)
	if errors.Is(err, ErrNotFound) {
		s.log.Debug("status update for unknown transaction ignored", "tx_id", txID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load transaction: %w", err)
	}

	if tx.Status == StatusSynced {
		return ErrImmutable
	}

	tx.Status = status
	patch.apply(tx)

	if err := s.repo.Update(ctx, *tx); err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return nil
}

// Claim marks tx as syncing unless another worker already took it.
func (s *Service) Claim(ctx context.Context, txID string) (bool, error) {
	ok, err := s.repo.Claim(ctx, txID)
	if err != nil {
		return false, fmt.Errorf("failed to claim transaction: %w", err)
	}
	if !ok {
		s.log.Debug("transaction already claimed", "tx_id", txID)
	}
	return ok, nil
}

func (s *Service) FindByTableRecord(ctx context.Context, name table.Name, recordID string) ([]Transaction, error) {
	txs, err := s.repo.ListByTableRecord(ctx, name, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for %s/%s: %w", name, recordID, err)
	}
	return txs, nil
}

func (s *Service) PendingCount(ctx context.Context) (int, error) {
	n, err := s.repo.CountByStatus(ctx, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending transactions: %w", err)
	}
	return n, nil
}

// List returns transactions in one status, or all of them for an empty status.
func (s *Service) List(ctx context.Context, status Status) ([]Transaction, error) {
	var statuses []Status
	if status != "" {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, status)
		}
		statuses = []Status{status}
	}
	return s.repo.ListByStatus(ctx, statuses, 0)
}

// Retry puts an errored transaction back in the pending queue.
func (s *Service) Retry(ctx context.Context, txID string) error {
	tx, err := s.repo.Get(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Status != StatusError {
		return fmt.Errorf("%w: cannot retry %s transaction", ErrInvalidTransition, tx.Status)
	}

	tx.Status = StatusPending
	tx.NextRetryAt = nil
	if err := s.repo.Update(ctx, *tx); err != nil {
		return fmt.Errorf("failed to requeue transaction: %w", err)
	}

	s.log.Info("transaction requeued", "tx_id", txID, "attempts", tx.AttemptCount)
	return nil
}

// Cancel abandons a transaction that has not been delivered.
func (s *Service) Cancel(ctx context.Context, txID string) error {
	tx, err := s.repo.Get(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Status != StatusPending && tx.Status != StatusError {
		return fmt.Errorf("%w: cannot cancel %s transaction", ErrInvalidTransition, tx.Status)
	}

	tx.Status = StatusCanceled
	tx.NextRetryAt = nil
	if err := s.repo.Update(ctx, *tx); err != nil {
		return fmt.Errorf("failed to cancel transaction: %w", err)
	}

	s.log.Info("transaction canceled", "tx_id", txID)
	return nil
}

func (s *Service) HasUnsynced(ctx context.Context, name table.Name, recordID string) (bool, error) {
	txs, err := s.FindByTableRecord(ctx, name, recordID)
	if err != nil {
		return false, err
	}
	for _, tx := range txs {
		switch tx.Status {
		case StatusPending, StatusSyncing, StatusError:
			return true, nil
		}
	}
	return false, nil
}

// Rebase points queued transactions of a record at the server version just acknowledged.
func (s *Service) Rebase(ctx context.Context, name table.Name, recordID string, base time.Time) error {
	n, err := s.repo.Rebase(ctx, name, recordID, base)
	if err != nil {
		return fmt.Errorf("failed to rebase transactions: %w", err)
	}
	if n > 0 {
		s.log.Debug("queued transactions rebased", "table", name, "record_id", recordID, "count", n)
	}
	return nil
}

// RecoverInFlight returns transactions left in syncing by an interrupted push to pending.
func (s *Service) RecoverInFlight(ctx context.Context) (int, error) {
	n, err := s.repo.ResetStatus(ctx, StatusSyncing, StatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to recover in-flight transactions: %w", err)
	}
	if n > 0 {
		s.log.Warn("recovered interrupted transactions", "count", n)
	}
	return n, nil
}
