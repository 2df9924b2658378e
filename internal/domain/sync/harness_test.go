package sync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"tether/internal/domain/conflict"
	"tether/internal/domain/outbox"
	"tether/internal/domain/replica"
	"tether/internal/domain/table"
	"tether/internal/infrastructure/storage/sqlite"
)

type MockRemote struct {
	mock.Mock
}

func (m *MockRemote) Insert(ctx context.Context, name table.Name, row table.Row) (table.Row, error) {
	args := m.Called(ctx, name, row)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(table.Row), args.Error(1)
}

func (m *MockRemote) UpdateIf(ctx context.Context, name table.Name, id string, base time.Time, patch table.Row) (table.Row, error) {
	args := m.Called(ctx, name, id, base, patch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(table.Row), args.Error(1)
}

func (m *MockRemote) Fetch(ctx context.Context, name table.Name, id string) (table.Row, error) {
	args := m.Called(ctx, name, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(table.Row), args.Error(1)
}

func (m *MockRemote) FetchTable(ctx context.Context, name table.Name, after string, limit int) ([]table.Row, error) {
	args := m.Called(ctx, name, after, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]table.Row), args.Error(1)
}

func (m *MockRemote) ChangesSince(ctx context.Context, seq int64, limit int) ([]ChangeLogEntry, error) {
	args := m.Called(ctx, seq, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]ChangeLogEntry), args.Error(1)
}

func (m *MockRemote) MaxSeq(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type staticAuth bool

func (a staticAuth) IsAuthenticated() bool { return bool(a) }

var (
	t1 = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	t2 = t1.Add(time.Hour)
	t3 = t2.Add(time.Hour)
)

type harness struct {
	store      *sqlite.Storage
	remote     *MockRemote
	replica    *replica.Service
	outbox     *outbox.Service
	conflicts  *conflict.Service
	committer  *Committer
	pusher     *Pusher
	puller     *Puller
	acker      *Acker
	reconciler *Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := slog.Default()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "replica.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		store:     store,
		remote:    new(MockRemote),
		replica:   replica.NewService(sqlite.NewReplicaRepository(store), log),
		outbox:    outbox.NewService(sqlite.NewOutboxRepository(store), log),
		conflicts: conflict.NewService(sqlite.NewConflictRepository(store), log),
	}
	h.committer = NewCommitter(h.replica, h.outbox, h.conflicts, store, log)
	h.pusher = NewPusher(h.remote, h.replica, h.outbox, h.conflicts, store, DefaultPushConfig(), log)
	h.puller = NewPuller(h.remote, h.replica, sqlite.NewStateRepository(store), store, log)
	h.acker = NewAcker(h.replica, h.outbox, store, log)
	h.reconciler = NewReconciler(h.remote, h.replica, h.outbox, store, log)
	return h
}

func entityRow(id, typ string, updated time.Time) table.Row {
	return table.Row{
		"id":         id,
		"type":       typ,
		"created_at": table.FormatTime(t1),
		"updated_at": table.FormatTime(updated),
		"deleted_at": nil,
	}
}

// seed mirrors rows as if they had been pulled from the server.
func (h *harness) seed(t *testing.T, name table.Name, rows ...table.Row) {
	t.Helper()
	_, err := h.replica.UpsertMany(context.Background(), name, rows)
	require.NoError(t, err)
}

func (h *harness) get(t *testing.T, name table.Name, id string) *replica.Row {
	t.Helper()
	row, err := h.replica.GetByID(context.Background(), name, id)
	require.NoError(t, err)
	return row
}

func (h *harness) txs(t *testing.T, name table.Name, id string) []outbox.Transaction {
	t.Helper()
	txs, err := h.outbox.FindByTableRecord(context.Background(), name, id)
	require.NoError(t, err)
	return txs
}
