package staging

import (
	"context"

	"github.com/stretchr/testify/mock"

	"tether/internal/domain/replica"
	"tether/internal/domain/table"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) InsertItem(ctx context.Context, item QueueItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockRepository) GetItem(ctx context.Context, inputID string) (*QueueItem, error) {
	args := m.Called(ctx, inputID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*QueueItem), args.Error(1)
}

func (m *MockRepository) UpdateItem(ctx context.Context, item QueueItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockRepository) ListItems(ctx context.Context, status QueueStatus) ([]QueueItem, error) {
	args := m.Called(ctx, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]QueueItem), args.Error(1)
}

func (m *MockRepository) NextPending(ctx context.Context) (*QueueItem, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*QueueItem), args.Error(1)
}

func (m *MockRepository) NextPosition(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) InsertStaged(ctx context.Context, row StagedRow) error {
	args := m.Called(ctx, row)
	return args.Error(0)
}

func (m *MockRepository) GetStaged(ctx context.Context, stagedID string) (*StagedRow, error) {
	args := m.Called(ctx, stagedID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*StagedRow), args.Error(1)
}

func (m *MockRepository) UpdateStaged(ctx context.Context, row StagedRow) error {
	args := m.Called(ctx, row)
	return args.Error(0)
}

func (m *MockRepository) ListStaged(ctx context.Context, status StagedStatus, inputID string) ([]StagedRow, error) {
	args := m.Called(ctx, status, inputID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]StagedRow), args.Error(1)
}

type MockCommitter struct {
	mock.Mock
}

func (m *MockCommitter) Create(ctx context.Context, name table.Name, fields table.Row) (*replica.Row, error) {
	args := m.Called(ctx, name, fields)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*replica.Row), args.Error(1)
}

type extractFunc func(ctx context.Context, item QueueItem) ([]Candidate, error)

func (f extractFunc) Extract(ctx context.Context, item QueueItem) ([]Candidate, error) {
	return f(ctx, item)
}

func withStatus(status QueueStatus) any {
	return mock.MatchedBy(func(item QueueItem) bool { return item.Status == status })
}
