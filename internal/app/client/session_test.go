package client

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func TestSession_SaveLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token")

	s, err := NewSession(path, slog.Default())
	require.NoError(t, err)
	assert.False(t, s.IsAuthenticated())

	require.NoError(t, s.Save("  abc123  "))
	assert.Equal(t, "abc123", s.Token())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened, err := NewSession(path, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "abc123", reopened.Token())

	require.NoError(t, s.Clear())
	assert.False(t, s.IsAuthenticated())
	require.NoError(t, s.Clear())
}

func TestSession_SaveRejectsEmpty(t *testing.T) {
	s, err := NewSession(filepath.Join(t.TempDir(), "token"), slog.Default())
	require.NoError(t, err)

	assert.Error(t, s.Save("   "))
}

func TestSession_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	s, err := NewSession(path, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan bool, 4)
	require.NoError(t, s.Watch(ctx, func(authenticated bool) { changes <- authenticated }))

	require.NoError(t, os.WriteFile(path, []byte("from-another-process"), 0600))
	select {
	case got := <-changes:
		assert.True(t, got)
	case <-time.After(5 * time.Second):
		t.Fatal("login was not observed")
	}
	assert.Equal(t, "from-another-process", s.Token())

	require.NoError(t, os.Remove(path))
	select {
	case got := <-changes:
		assert.False(t, got)
	case <-time.After(5 * time.Second):
		t.Fatal("logout was not observed")
	}
	assert.False(t, s.IsAuthenticated())
}
