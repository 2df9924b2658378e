package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"tether/internal/domain/conflict"
	"tether/internal/domain/outbox"
	"tether/internal/domain/replica"
	"tether/internal/domain/staging"
	"tether/internal/domain/table"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "replica.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func serverRow(id string, updated time.Time) table.Row {
	return table.Row{
		"id":         id,
		"type":       "person",
		"created_at": table.FormatTime(t0),
		"updated_at": table.FormatTime(updated),
		"deleted_at": nil,
	}
}

func TestReplicaRepository_PutAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewReplicaRepository(newTestStorage(t))

	base := t0.Add(-time.Hour)
	want := replica.Row{
		Table: table.Entities,
		Data:  serverRow("e-1", t0),
		Meta: replica.Meta{
			LocalLastAccessedAt: t0,
			LocalDirty:          true,
			BaseUpdatedAt:       &base,
		},
	}
	require.NoError(t, repo.Put(ctx, want))

	got, err := repo.Get(ctx, table.Entities, "e-1")
	require.NoError(t, err)
	assert.Equal(t, "person", got.Data["type"])
	assert.True(t, got.Meta.LocalDirty)
	require.NotNil(t, got.Meta.BaseUpdatedAt)
	assert.True(t, got.Meta.BaseUpdatedAt.Equal(base))
	assert.Nil(t, got.Meta.LastPulledAt)

	_, err = repo.Get(ctx, table.Tags, "e-1")
	assert.ErrorIs(t, err, replica.ErrNotFound)
}

func TestReplicaRepository_PutCleanKeepsDirtyRows(t *testing.T) {
	ctx := context.Background()
	repo := NewReplicaRepository(newTestStorage(t))

	local := serverRow("e-1", t0)
	local["type"] = "local edit"
	require.NoError(t, repo.Put(ctx, replica.Row{
		Table: table.Entities,
		Data:  local,
		Meta:  replica.Meta{LocalLastAccessedAt: t0, LocalDirty: true},
	}))

	written, err := repo.PutClean(ctx, table.Entities, []table.Row{
		serverRow("e-1", t0.Add(time.Minute)),
		serverRow("e-2", t0.Add(time.Minute)),
	}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	kept, err := repo.Get(ctx, table.Entities, "e-1")
	require.NoError(t, err)
	assert.Equal(t, "local edit", kept.Data["type"])
	assert.True(t, kept.Meta.LocalDirty)

	fresh, err := repo.Get(ctx, table.Entities, "e-2")
	require.NoError(t, err)
	assert.False(t, fresh.Meta.LocalDirty)
	require.NotNil(t, fresh.Meta.LastPulledAt)
	assert.True(t, fresh.Meta.LastPulledAt.Equal(t0.Add(time.Hour)))
}

func TestReplicaRepository_PutCleanPreservesAccessTime(t *testing.T) {
	ctx := context.Background()
	repo := NewReplicaRepository(newTestStorage(t))

	_, err := repo.PutClean(ctx, table.Tags, []table.Row{{"id": "t-1", "name": "a"}}, t0)
	require.NoError(t, err)
	require.NoError(t, repo.Touch(ctx, table.Tags, "t-1", t0.Add(time.Minute)))

	_, err = repo.PutClean(ctx, table.Tags, []table.Row{{"id": "t-1", "name": "b"}}, t0.Add(time.Hour))
	require.NoError(t, err)

	got, err := repo.Get(ctx, table.Tags, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Data["name"])
	assert.True(t, got.Meta.LocalLastAccessedAt.Equal(t0.Add(time.Minute)))
}

func TestReplicaRepository_DeleteCleanSkipsDirty(t *testing.T) {
	ctx := context.Background()
	repo := NewReplicaRepository(newTestStorage(t))

	_, err := repo.PutClean(ctx, table.Tags, []table.Row{{"id": "clean"}}, t0)
	require.NoError(t, err)
	require.NoError(t, repo.Put(ctx, replica.Row{
		Table: table.Tags,
		Data:  table.Row{"id": "dirty"},
		Meta:  replica.Meta{LocalLastAccessedAt: t0, LocalDirty: true},
	}))

	removed, err := repo.DeleteClean(ctx, table.Tags, []string{"clean", "dirty", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = repo.Get(ctx, table.Tags, "dirty")
	assert.NoError(t, err)
}

func TestReplicaRepository_ListByUpdatedAt(t *testing.T) {
	ctx := context.Background()
	repo := NewReplicaRepository(newTestStorage(t))

	deleted := serverRow("gone", t0.Add(3*time.Hour))
	deleted["deleted_at"] = table.FormatTime(t0.Add(3 * time.Hour))

	_, err := repo.PutClean(ctx, table.Entities, []table.Row{
		serverRow("old", t0),
		serverRow("new", t0.Add(2*time.Hour)),
		serverRow("mid", t0.Add(time.Hour)),
		deleted,
	}, t0)
	require.NoError(t, err)

	rows, err := repo.ListByUpdatedAt(ctx, table.Entities, 10)
	require.NoError(t, err)

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID())
	}
	assert.Equal(t, []string{"new", "mid", "old"}, ids)

	n, err := repo.Count(ctx, table.Entities)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestReplicaRepository_EvictionCandidates(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	repo := NewReplicaRepository(s)
	outboxRepo := NewOutboxRepository(s)

	for i, id := range []string{"a", "b", "c", "d"} {
		_, err := repo.PutClean(ctx, table.Tags, []table.Row{{"id": id}}, t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	require.NoError(t, repo.Put(ctx, replica.Row{
		Table: table.Tags,
		Data:  table.Row{"id": "dirty"},
		Meta:  replica.Meta{LocalLastAccessedAt: t0.Add(-time.Hour), LocalDirty: true},
	}))
	require.NoError(t, outboxRepo.Insert(ctx, outbox.Transaction{
		TxID:      "tx-1",
		CreatedAt: t0,
		Table:     table.Tags,
		Op:        outbox.OpUpdate,
		RecordID:  "a",
		Payload:   table.Row{"name": "x"},
		Status:    outbox.StatusError,
	}))

	keys, err := repo.EvictionCandidates(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []replica.Key{{Table: table.Tags, ID: "b"}, {Table: table.Tags, ID: "c"}}, keys)

	removed, err := repo.DeleteKeys(ctx, keys)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
}

func TestReplicaRepository_StaleRows(t *testing.T) {
	ctx := context.Background()
	repo := NewReplicaRepository(newTestStorage(t))

	base := t0.Add(-time.Hour)
	local := serverRow("e-1", t0)
	local["type"] = "org"
	require.NoError(t, repo.Put(ctx, replica.Row{
		Table: table.Entities,
		Data:  local,
		Meta:  replica.Meta{LocalLastAccessedAt: t0, LocalDirty: true, BaseUpdatedAt: &base},
	}))

	key := replica.Key{Table: table.Entities, ID: "e-1"}
	require.NoError(t, repo.MarkStale(ctx, key, t0))
	require.NoError(t, repo.MarkStale(ctx, key, t0.Add(time.Minute)))

	got, err := repo.Get(ctx, table.Entities, "e-1")
	require.NoError(t, err)
	assert.False(t, got.Meta.LocalDirty)
	assert.Equal(t, "org", got.Data["type"])
	require.NotNil(t, got.Meta.BaseUpdatedAt)
	assert.True(t, got.Meta.BaseUpdatedAt.Equal(base))

	keys, err := repo.ListStale(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []replica.Key{key}, keys)

	// Clean again, so the next server copy goes through.
	n, err := repo.PutClean(ctx, table.Entities, []table.Row{serverRow("e-1", t0.Add(time.Hour))}, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, repo.ClearStale(ctx, key))
	keys, err = repo.ListStale(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestStorage_WithinTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	repo := NewReplicaRepository(s)

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := repo.PutClean(ctx, table.Tags, []table.Row{{"id": "t-1"}}, t0); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = repo.Get(ctx, table.Tags, "t-1")
	assert.ErrorIs(t, err, replica.ErrNotFound)
}

func TestOutboxRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository(newTestStorage(t))

	base := t0.Add(-time.Hour)
	txs := []outbox.Transaction{
		{TxID: "tx-2", CreatedAt: t0.Add(time.Second), Table: table.Entities, Op: outbox.OpUpdate, RecordID: "e-1", Payload: table.Row{"type": "b"}, BaseUpdatedAt: &base, Status: outbox.StatusPending},
		{TxID: "tx-1", CreatedAt: t0, Table: table.Entities, Op: outbox.OpInsert, RecordID: "e-1", Payload: table.Row{"id": "e-1"}, Status: outbox.StatusPending},
		{TxID: "tx-3", CreatedAt: t0.Add(2 * time.Second), Table: table.Tags, Op: outbox.OpDelete, RecordID: "t-1", Payload: table.Row{}, Status: outbox.StatusSynced},
	}
	for _, tx := range txs {
		require.NoError(t, repo.Insert(ctx, tx))
	}

	t.Run("list by status in creation order", func(t *testing.T) {
		pending, err := repo.ListByStatus(ctx, []outbox.Status{outbox.StatusPending}, 0)
		require.NoError(t, err)
		require.Len(t, pending, 2)
		assert.Equal(t, "tx-1", pending[0].TxID)
		assert.Equal(t, "tx-2", pending[1].TxID)
		assert.Equal(t, "b", pending[1].Payload["type"])

		all, err := repo.ListByStatus(ctx, nil, 2)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("rebase skips inserts", func(t *testing.T) {
		n, err := repo.Rebase(ctx, table.Entities, "e-1", t0.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		tx, err := repo.Get(ctx, "tx-2")
		require.NoError(t, err)
		require.NotNil(t, tx.BaseUpdatedAt)
		assert.True(t, tx.BaseUpdatedAt.Equal(t0.Add(time.Minute)))
	})

	t.Run("retryable honours next_retry_at", func(t *testing.T) {
		tx, err := repo.Get(ctx, "tx-2")
		require.NoError(t, err)
		retryAt := t0.Add(time.Minute)
		msg := "timeout"
		tx.Status = outbox.StatusError
		tx.AttemptCount = 1
		tx.LastError = &msg
		tx.NextRetryAt = &retryAt
		require.NoError(t, repo.Update(ctx, *tx))

		due, err := repo.ListRetryable(ctx, t0, 10)
		require.NoError(t, err)
		assert.Empty(t, due)

		due, err = repo.ListRetryable(ctx, t0.Add(2*time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "timeout", *due[0].LastError)
	})

	t.Run("count and reset", func(t *testing.T) {
		n, err := repo.CountByStatus(ctx, outbox.StatusPending)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		moved, err := repo.ResetStatus(ctx, outbox.StatusPending, outbox.StatusSyncing)
		require.NoError(t, err)
		assert.Equal(t, 1, moved)
	})

	t.Run("claim is won once", func(t *testing.T) {
		ok, err := repo.Claim(ctx, "tx-2")
		require.NoError(t, err)
		assert.True(t, ok)

		tx, err := repo.Get(ctx, "tx-2")
		require.NoError(t, err)
		assert.Equal(t, outbox.StatusSyncing, tx.Status)

		for _, id := range []string{"tx-2", "tx-1", "tx-3", "nope"} {
			ok, err := repo.Claim(ctx, id)
			require.NoError(t, err)
			assert.False(t, ok, id)
		}
	})

	t.Run("update unknown", func(t *testing.T) {
		err := repo.Update(ctx, outbox.Transaction{TxID: "nope", Status: outbox.StatusPending})
		assert.ErrorIs(t, err, outbox.ErrNotFound)
	})
}

func TestConflictRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewConflictRepository(newTestStorage(t))

	require.NoError(t, repo.Insert(ctx, conflict.Entry{
		ConflictID: "c-1",
		CreatedAt:  t0,
		Table:      table.Entities,
		RecordID:   "42",
		ServerRow:  nil,
		LocalRow:   table.Row{"id": "42", "type": "local"},
		Reason:     conflict.ReasonDeletedOnServer,
		Status:     conflict.StatusPendingReview,
	}))

	got, err := repo.Get(ctx, "c-1")
	require.NoError(t, err)
	assert.Nil(t, got.ServerRow)
	assert.Equal(t, "local", got.LocalRow["type"])

	note := "checked"
	resolved := t0.Add(time.Hour)
	got.Status = conflict.StatusDismissed
	got.Note = &note
	got.ResolvedAt = &resolved
	require.NoError(t, repo.Update(ctx, *got))

	pending, err := repo.CountByStatus(ctx, conflict.StatusPendingReview)
	require.NoError(t, err)
	assert.Zero(t, pending)

	byRecord, err := repo.ListByTableRecord(ctx, table.Entities, "42")
	require.NoError(t, err)
	require.Len(t, byRecord, 1)
	assert.Equal(t, conflict.StatusDismissed, byRecord[0].Status)
	assert.Equal(t, "checked", *byRecord[0].Note)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, conflict.ErrNotFound)
}

func TestStateRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewStateRepository(newTestStorage(t))

	_, ok, err := repo.GetState(ctx, "sync_log.last_seq")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.SetState(ctx, "sync_log.last_seq", "10"))
	require.NoError(t, repo.SetState(ctx, "sync_log.last_seq", "12"))

	v, ok, err := repo.GetState(ctx, "sync_log.last_seq")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "12", v)
}

func TestStagingRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewStagingRepository(newTestStorage(t))

	for _, id := range []string{"in-1", "in-2"} {
		pos, err := repo.NextPosition(ctx)
		require.NoError(t, err)
		require.NoError(t, repo.InsertItem(ctx, staging.QueueItem{
			InputID:   id,
			CreatedAt: t0,
			Text:      "tags: []",
			Context:   map[string]any{"source": "cli"},
			Status:    staging.QueuePending,
			Position:  pos,
			UpdatedAt: t0,
		}))
	}

	head, err := repo.NextPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, "in-1", head.InputID)
	assert.Equal(t, 1, head.Position)
	assert.Equal(t, "cli", head.Context["source"])

	head.Status = staging.QueueCanceled
	head.UpdatedAt = t0.Add(time.Minute)
	require.NoError(t, repo.UpdateItem(ctx, *head))

	head, err = repo.NextPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, "in-2", head.InputID)

	origin := "tags[0]"
	require.NoError(t, repo.InsertStaged(ctx, staging.StagedRow{
		StagedID:         "s-1",
		CreatedAt:        t0,
		InputID:          "in-2",
		Table:            table.Tags,
		ProposedRow:      table.Row{"id": "t-1"},
		Status:           staging.StagedProposed,
		ValidationErrors: []string{"name is required"},
		OriginLabel:      &origin,
	}))

	rows, err := repo.ListStaged(ctx, staging.StagedProposed, "in-2")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"name is required"}, rows[0].ValidationErrors)
	assert.Equal(t, "tags[0]", *rows[0].OriginLabel)

	rows, err = repo.ListStaged(ctx, staging.StagedAccepted, "")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestEstimator(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	est, err := NewEstimator(s, 1<<20).Estimate(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), est.Quota)
	assert.Positive(t, est.Usage)
}
