package replica

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"tether/internal/domain/table"
)

type MockEstimator struct {
	mock.Mock
}

func (m *MockEstimator) Estimate(ctx context.Context) (Estimate, error) {
	args := m.Called(ctx)
	return args.Get(0).(Estimate), args.Error(1)
}

func TestEvictor_Run(t *testing.T) {
	ctx := context.Background()
	cfg := EvictionConfig{Threshold: 0.9, Target: 0.5, BatchSize: 2}

	t.Run("below threshold does nothing", func(t *testing.T) {
		repo := new(MockRepository)
		est := new(MockEstimator)
		est.On("Estimate", ctx).Return(Estimate{Quota: 100, Usage: 50}, nil)

		res, err := NewEvictor(repo, est, cfg, slog.Default()).Run(ctx)

		require.NoError(t, err)
		assert.Zero(t, res.Evicted)
		repo.AssertNotCalled(t, "EvictionCandidates", mock.Anything, mock.Anything)
	})

	t.Run("evicts until target", func(t *testing.T) {
		repo := new(MockRepository)
		est := new(MockEstimator)
		keys := []Key{{Table: table.Entities, ID: "a"}, {Table: table.Tags, ID: "b"}}

		est.On("Estimate", ctx).Return(Estimate{Quota: 100, Usage: 95}, nil).Once()
		est.On("Estimate", ctx).Return(Estimate{Quota: 100, Usage: 70}, nil).Once()
		est.On("Estimate", ctx).Return(Estimate{Quota: 100, Usage: 40}, nil).Once()
		repo.On("EvictionCandidates", ctx, 2).Return(keys, nil)
		repo.On("DeleteKeys", ctx, keys).Return(2, nil)

		res, err := NewEvictor(repo, est, cfg, slog.Default()).Run(ctx)

		require.NoError(t, err)
		assert.Equal(t, 4, res.Evicted)
		assert.Equal(t, int64(40), res.After.Usage)
		est.AssertExpectations(t)
	})

	t.Run("stops when no candidates remain", func(t *testing.T) {
		repo := new(MockRepository)
		est := new(MockEstimator)
		est.On("Estimate", ctx).Return(Estimate{Quota: 100, Usage: 99}, nil)
		repo.On("EvictionCandidates", ctx, 2).Return([]Key{}, nil)

		res, err := NewEvictor(repo, est, cfg, slog.Default()).Run(ctx)

		require.NoError(t, err)
		assert.Zero(t, res.Evicted)
		repo.AssertNotCalled(t, "DeleteKeys", mock.Anything, mock.Anything)
	})
}

func TestEstimate_Ratio(t *testing.T) {
	assert.Equal(t, 0.0, Estimate{}.Ratio())
	assert.Equal(t, 0.25, Estimate{Quota: 4, Usage: 1}.Ratio())
}
