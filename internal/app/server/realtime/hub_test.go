package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	syncdomain "tether/internal/domain/sync"
	"tether/internal/domain/table"
)

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(slog.Default())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(syncdomain.ChangeLogEntry{
		Seq:       7,
		TableName: "tags",
		RecordID:  "t-1",
		Operation: syncdomain.OperationInsert,
		RowData:   table.Row{"id": "t-1", "name": "watchlist"},
	})

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var got syncdomain.ChangeLogEntry
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, int64(7), got.Seq)
	assert.Equal(t, "watchlist", got.RowData["name"])
}

func TestHub_ClientDisconnect(t *testing.T) {
	hub := NewHub(slog.Default())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	_ = conn.Close(websocket.StatusNormalClosure, "bye")

	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
