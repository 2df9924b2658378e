package outbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"tether/internal/domain/table"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Insert(ctx context.Context, tx Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockRepository) Get(ctx context.Context, txID string) (*Transaction, error) {
	args := m.Called(ctx, txID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Transaction), args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, tx Transaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *MockRepository) ListByStatus(ctx context.Context, statuses []Status, limit int) ([]Transaction, error) {
	args := m.Called(ctx, statuses, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Transaction), args.Error(1)
}

func (m *MockRepository) ListRetryable(ctx context.Context, now time.Time, limit int) ([]Transaction, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Transaction), args.Error(1)
}

func (m *MockRepository) ListByTableRecord(ctx context.Context, name table.Name, recordID string) ([]Transaction, error) {
	args := m.Called(ctx, name, recordID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Transaction), args.Error(1)
}

func (m *MockRepository) CountByStatus(ctx context.Context, status Status) (int, error) {
	args := m.Called(ctx, status)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) Rebase(ctx context.Context, name table.Name, recordID string, base time.Time) (int, error) {
	args := m.Called(ctx, name, recordID, base)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) Claim(ctx context.Context, txID string) (bool, error) {
	args := m.Called(ctx, txID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) ResetStatus(ctx context.Context, from, to Status) (int, error) {
	args := m.Called(ctx, from, to)
	return args.Int(0), args.Error(1)
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo Repository) *Service {
	s := NewService(repo, slog.Default())
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestService_Enqueue(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		tx      Transaction
		wantErr error
	}{
		{
			name:    "unknown table",
			tx:      Transaction{Table: "users", Op: OpInsert, RecordID: "1"},
			wantErr: table.ErrUnknownTable,
		},
		{
			name:    "unknown op",
			tx:      Transaction{Table: table.Entities, Op: "upsert", RecordID: "1"},
			wantErr: ErrInvalidTransaction,
		},
		{
			name:    "missing record id",
			tx:      Transaction{Table: table.Entities, Op: OpInsert},
			wantErr: ErrInvalidTransaction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			_, err := newTestService(repo).Enqueue(ctx, tt.tx)
			assert.ErrorIs(t, err, tt.wantErr)
			repo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
		})
	}

	t.Run("stores pending and returns count", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Insert", ctx, mock.MatchedBy(func(tx Transaction) bool {
			return tx.TxID != "" && tx.Status == StatusPending && tx.CreatedAt.Equal(fixedNow) && tx.AttemptCount == 0
		})).Return(nil)
		repo.On("CountByStatus", ctx, StatusPending).Return(3, nil)

		count, err := newTestService(repo).Enqueue(ctx, Transaction{
			Table:        table.Entities,
			Op:           OpUpdate,
			RecordID:     "e-1",
			Status:       StatusSynced,
			AttemptCount: 7,
		})

		require.NoError(t, err)
		assert.Equal(t, 3, count)
		repo.AssertExpectations(t)
	})
}

func TestService_UpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown id is a no-op", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Get", ctx, "missing").Return(nil, ErrNotFound)

		err := newTestService(repo).UpdateStatus(ctx, "missing", StatusSyncing, Patch{})

		require.NoError(t, err)
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("synced is immutable", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Get", ctx, "tx-1").Return(&Transaction{TxID: "tx-1", Status: StatusSynced}, nil)

		err := newTestService(repo).UpdateStatus(ctx, "tx-1", StatusError, Patch{})

		assert.ErrorIs(t, err, ErrImmutable)
	})

	t.Run("merges patch", func(t *testing.T) {
		repo := new(MockRepository)
		retryAt := fixedNow.Add(10 * time.Second)
		attempts := 2
		msg := "boom"
		repo.On("Get", ctx, "tx-1").Return(&Transaction{TxID: "tx-1", Status: StatusSyncing, AttemptCount: 1}, nil)
		repo.On("Update", ctx, mock.MatchedBy(func(tx Transaction) bool {
			return tx.Status == StatusError && tx.AttemptCount == 2 &&
				tx.LastError != nil && *tx.LastError == "boom" &&
				tx.NextRetryAt != nil && tx.NextRetryAt.Equal(retryAt)
		})).Return(nil)

		err := newTestService(repo).UpdateStatus(ctx, "tx-1", StatusError, Patch{
			AttemptCount: &attempts,
			LastError:    &msg,
			NextRetryAt:  &retryAt,
		})

		require.NoError(t, err)
		repo.AssertExpectations(t)
	})
}

func TestService_RetryAndCancel(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		status  Status
		action  func(*Service) error
		want    Status
		wantErr error
	}{
		{
			name:   "retry errored",
			status: StatusError,
			action: func(s *Service) error { return s.Retry(ctx, "tx") },
			want:   StatusPending,
		},
		{
			name:    "retry pending rejected",
			status:  StatusPending,
			action:  func(s *Service) error { return s.Retry(ctx, "tx") },
			wantErr: ErrInvalidTransition,
		},
		{
			name:   "cancel pending",
			status: StatusPending,
			action: func(s *Service) error { return s.Cancel(ctx, "tx") },
			want:   StatusCanceled,
		},
		{
			name:   "cancel errored",
			status: StatusError,
			action: func(s *Service) error { return s.Cancel(ctx, "tx") },
			want:   StatusCanceled,
		},
		{
			name:    "cancel synced rejected",
			status:  StatusSynced,
			action:  func(s *Service) error { return s.Cancel(ctx, "tx") },
			wantErr: ErrInvalidTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			repo.On("Get", ctx, "tx").Return(&Transaction{TxID: "tx", Status: tt.status}, nil)
			if tt.wantErr == nil {
				repo.On("Update", ctx, mock.MatchedBy(func(tx Transaction) bool {
					return tx.Status == tt.want && tx.NextRetryAt == nil
				})).Return(nil)
			}

			err := tt.action(newTestService(repo))

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			repo.AssertExpectations(t)
		})
	}
}

func TestService_HasUnsynced(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		statuses []Status
		want     bool
	}{
		{name: "none", want: false},
		{name: "only synced and canceled", statuses: []Status{StatusSynced, StatusCanceled}, want: false},
		{name: "errored counts", statuses: []Status{StatusSynced, StatusError}, want: true},
		{name: "syncing counts", statuses: []Status{StatusSyncing}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			txs := make([]Transaction, 0, len(tt.statuses))
			for _, st := range tt.statuses {
				txs = append(txs, Transaction{Status: st})
			}
			repo := new(MockRepository)
			repo.On("ListByTableRecord", ctx, table.Tags, "t-1").Return(txs, nil)

			got, err := newTestService(repo).HasUnsynced(ctx, table.Tags, "t-1")

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_Claim(t *testing.T) {
	ctx := context.Background()

	repo := new(MockRepository)
	repo.On("Claim", ctx, "tx-1").Return(true, nil).Once()
	repo.On("Claim", ctx, "tx-1").Return(false, nil).Once()
	svc := newTestService(repo)

	ok, err := svc.Claim(ctx, "tx-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.Claim(ctx, "tx-1")
	require.NoError(t, err)
	assert.False(t, ok)

	repo.AssertExpectations(t)
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{Base: 5 * time.Second, Max: 60 * time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 0, want: 5 * time.Second},
		{attempt: 1, want: 5 * time.Second},
		{attempt: 2, want: 10 * time.Second},
		{attempt: 4, want: 40 * time.Second},
		{attempt: 5, want: 60 * time.Second},
		{attempt: 30, want: 60 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}
