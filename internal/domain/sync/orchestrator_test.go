package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"tether/internal/domain/outbox"
	"tether/internal/domain/table"
)

func newTestOrchestrator(h *harness, auth AuthProvider) *Orchestrator {
	return NewOrchestrator(h.pusher, h.puller, h.reconciler, auth, OrchestratorConfig{}, slog.Default())
}

func TestOrchestrator_RequiresAuth(t *testing.T) {
	h := newHarness(t)
	o := newTestOrchestrator(h, staticAuth(false))

	_, err := o.Tick(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	h.remote.AssertNotCalled(t, "ChangesSince", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrchestrator_RejectsOverlappingTicks(t *testing.T) {
	h := newHarness(t)
	o := newTestOrchestrator(h, staticAuth(true))

	o.mu.Lock()
	_, err := o.Tick(context.Background())
	o.mu.Unlock()

	assert.ErrorIs(t, err, ErrTickInProgress)
}

func TestOrchestrator_PushesThenPulls(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.seed(t, table.Entities, entityRow("e-1", "person", t1))
	_, err := h.puller.advance(ctx, 3)
	require.NoError(t, err)

	_, err = h.committer.Commit(ctx, Mutation{Table: table.Entities, Op: outbox.OpUpdate, RecordID: "e-1", Payload: table.Row{"type": "org"}})
	require.NoError(t, err)

	var calls []string
	h.remote.On("UpdateIf", mock.Anything, table.Entities, "e-1", t1, mock.Anything).
		Run(func(mock.Arguments) { calls = append(calls, "push") }).
		Return(entityRow("e-1", "org", t2), nil).Once()
	h.remote.On("ChangesSince", mock.Anything, int64(3), 500).
		Run(func(mock.Arguments) { calls = append(calls, "pull") }).
		Return([]ChangeLogEntry{
			{Seq: 4, TableName: "entities", RecordID: "e-1", Operation: OperationUpdate, RowData: entityRow("e-1", "org", t2)},
		}, nil).Once()

	o := newTestOrchestrator(h, staticAuth(true))
	var phases []Phase
	o.OnPhase(func(p Phase) { phases = append(phases, p) })

	res, err := o.Tick(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"push", "pull"}, calls)
	assert.Equal(t, []Phase{PhasePush, PhasePull, PhaseReconcile, PhaseIdle}, phases)
	assert.Equal(t, 1, res.Push.Applied)
	assert.Equal(t, int64(4), res.Pull.Cursor)
	assert.False(t, h.get(t, table.Entities, "e-1").Meta.LocalDirty)
}

func TestOrchestrator_PullErrorIsWrapped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.puller.advance(ctx, 3)
	require.NoError(t, err)

	cause := errors.New("gateway timeout")
	h.remote.On("ChangesSince", mock.Anything, int64(3), 500).Return(nil, cause).Once()

	o := newTestOrchestrator(h, staticAuth(true))
	_, err = o.Tick(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "pull:")
}
