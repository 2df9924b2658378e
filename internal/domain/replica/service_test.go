package replica

import (
	"context"
	"errors"
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

func (m *MockRepository) Get(ctx context.Context, name table.Name, id string) (*Row, error) {
	args := m.Called(ctx, name, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Row), args.Error(1)
}

func (m *MockRepository) Touch(ctx context.Context, name table.Name, id string, at time.Time) error {
	args := m.Called(ctx, name, id, at)
	return args.Error(0)
}

func (m *MockRepository) Put(ctx context.Context, row Row) error {
	args := m.Called(ctx, row)
	return args.Error(0)
}

func (m *MockRepository) PutClean(ctx context.Context, name table.Name, rows []table.Row, at time.Time) (int, error) {
	args := m.Called(ctx, name, rows, at)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) DeleteClean(ctx context.Context, name table.Name, ids []string) (int, error) {
	args := m.Called(ctx, name, ids)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) ListByUpdatedAt(ctx context.Context, name table.Name, limit int) ([]Row, error) {
	args := m.Called(ctx, name, limit)
	return args.Get(0).([]Row), args.Error(1)
}

func (m *MockRepository) ListDirty(ctx context.Context, name table.Name) ([]Row, error) {
	args := m.Called(ctx, name)
	return args.Get(0).([]Row), args.Error(1)
}

func (m *MockRepository) Count(ctx context.Context, name table.Name) (int, error) {
	args := m.Called(ctx, name)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) EvictionCandidates(ctx context.Context, limit int) ([]Key, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]Key), args.Error(1)
}

func (m *MockRepository) DeleteKeys(ctx context.Context, keys []Key) (int, error) {
	args := m.Called(ctx, keys)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) MarkStale(ctx context.Context, key Key, at time.Time) error {
	args := m.Called(ctx, key, at)
	return args.Error(0)
}

func (m *MockRepository) ListStale(ctx context.Context, limit int) ([]Key, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]Key), args.Error(1)
}

func (m *MockRepository) ClearStale(ctx context.Context, key Key) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(repo Repository) *Service {
	s := NewService(repo, slog.Default())
	s.now = func() time.Time { return fixedNow }
	return s
}

func TestService_GetByID(t *testing.T) {
	ctx := context.Background()

	t.Run("touches access time", func(t *testing.T) {
		repo := new(MockRepository)
		stored := &Row{Table: table.Entities, Data: table.Row{"id": "e-1"}}
		repo.On("Get", ctx, table.Entities, "e-1").Return(stored, nil)
		repo.On("Touch", ctx, table.Entities, "e-1", fixedNow).Return(nil)

		row, err := newTestService(repo).GetByID(ctx, table.Entities, "e-1")

		require.NoError(t, err)
		assert.Equal(t, fixedNow, row.Meta.LocalLastAccessedAt)
		repo.AssertExpectations(t)
	})

	t.Run("missing row", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Get", ctx, table.Entities, "nope").Return(nil, ErrNotFound)

		_, err := newTestService(repo).GetByID(ctx, table.Entities, "nope")

		assert.ErrorIs(t, err, ErrNotFound)
		repo.AssertNotCalled(t, "Touch", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown table", func(t *testing.T) {
		_, err := newTestService(new(MockRepository)).GetByID(ctx, "users", "1")
		assert.ErrorIs(t, err, table.ErrUnknownTable)
	})
}

func TestService_UpsertMany(t *testing.T) {
	ctx := context.Background()
	rows := []table.Row{{"id": "a"}, {"name": "no id"}, {"id": "b"}}

	repo := new(MockRepository)
	repo.On("PutClean", ctx, table.Tags, []table.Row{{"id": "a"}, {"id": "b"}}, fixedNow).Return(1, nil)

	written, err := newTestService(repo).UpsertMany(ctx, table.Tags, rows)

	require.NoError(t, err)
	assert.Equal(t, 1, written)
	repo.AssertExpectations(t)
}

func TestService_UpsertManyPropagatesStorageErrors(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	repo.On("PutClean", ctx, table.Tags, mock.Anything, fixedNow).Return(0, errors.New("disk full"))

	_, err := newTestService(repo).UpsertMany(ctx, table.Tags, []table.Row{{"id": "a"}})

	assert.ErrorContains(t, err, "disk full")
}

func TestService_Acknowledge(t *testing.T) {
	ctx := context.Background()
	serverRow := table.Row{"id": "e-1", "type": "org", "updated_at": "2024-06-01T11:00:00Z"}

	t.Run("clean overwrite clears dirtiness", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Put", ctx, mock.MatchedBy(func(r Row) bool {
			return !r.Meta.LocalDirty && r.Meta.BaseUpdatedAt == nil && r.Data["type"] == "org"
		})).Return(nil)

		err := newTestService(repo).Acknowledge(ctx, table.Entities, serverRow, false)

		require.NoError(t, err)
		repo.AssertExpectations(t)
	})

	t.Run("keep dirty rebases", func(t *testing.T) {
		repo := new(MockRepository)
		local := &Row{
			Table: table.Entities,
			Data:  table.Row{"id": "e-1", "type": "local edit"},
			Meta:  Meta{LocalDirty: true},
		}
		repo.On("Get", ctx, table.Entities, "e-1").Return(local, nil)
		repo.On("Put", ctx, mock.MatchedBy(func(r Row) bool {
			want := time.Date(2024, 6, 1, 11, 0, 0, 0, time.UTC)
			return r.Meta.LocalDirty && r.Data["type"] == "local edit" &&
				r.Meta.BaseUpdatedAt != nil && r.Meta.BaseUpdatedAt.Equal(want)
		})).Return(nil)

		err := newTestService(repo).Acknowledge(ctx, table.Entities, serverRow, true)

		require.NoError(t, err)
		repo.AssertExpectations(t)
	})
}

func TestService_ForceOverwriteMarksServerDeletes(t *testing.T) {
	ctx := context.Background()
	repo := new(MockRepository)
	repo.On("Put", ctx, mock.MatchedBy(func(r Row) bool {
		return r.Meta.LocalDeleted && !r.Meta.LocalDirty
	})).Return(nil)

	err := newTestService(repo).ForceOverwrite(ctx, table.Tags, table.Row{
		"id":         "t-1",
		"deleted_at": "2024-06-01T10:00:00Z",
	})

	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestService_ListByUpdatedAtRejectsBadLimit(t *testing.T) {
	_, err := newTestService(new(MockRepository)).ListByUpdatedAt(context.Background(), table.Tags, 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)
}

func TestService_Discard(t *testing.T) {
	ctx := context.Background()
	key := Key{Table: table.Tags, ID: "t-1"}

	repo := new(MockRepository)
	repo.On("MarkStale", ctx, key, fixedNow).Return(nil).Once()
	repo.On("ListStale", ctx, 10).Return([]Key{key}, nil).Once()
	repo.On("ClearStale", ctx, key).Return(nil).Once()
	svc := newTestService(repo)

	require.NoError(t, svc.Discard(ctx, table.Tags, "t-1"))
	assert.Error(t, svc.Discard(ctx, table.Name("nope"), "t-1"))

	keys, err := svc.ListStale(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []Key{key}, keys)

	_, err = svc.ListStale(ctx, 0)
	assert.ErrorIs(t, err, ErrInvalidLimit)

	require.NoError(t, svc.ClearStale(ctx, key))
	repo.AssertExpectations(t)
}
