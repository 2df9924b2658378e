package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func TestLogger_Middleware(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantLevel string
	}{
		{name: "no content", status: http.StatusNoContent, wantLevel: "INFO"},
		{name: "client error", status: http.StatusPreconditionFailed, wantLevel: "WARN"},
		{name: "server error", status: http.StatusInternalServerError, wantLevel: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			_, api := humatest.New(t)
			huma.Register(api, huma.Operation{
				OperationID: "ping",
				Method:      http.MethodGet,
				Path:        "/ping",
				Middlewares: huma.Middlewares{New(log).Middleware()},
			}, func(context.Context, *struct{}) (*struct{}, error) {
				if tt.status >= http.StatusBadRequest {
					return nil, huma.NewError(tt.status, "boom")
				}
				return nil, nil
			})

			api.Get("/ping")

			var entry map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Equal(t, "/ping", entry["path"])
			assert.Equal(t, float64(tt.status), entry["status"])
		})
	}
}

func TestLogger_SlowRequest(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	mw := New(log)
	mw.slow = 0

	_, api := humatest.New(t)
	huma.Register(api, huma.Operation{
		OperationID: "ping",
		Method:      http.MethodGet,
		Path:        "/ping",
		Middlewares: huma.Middlewares{mw.Middleware()},
	}, func(context.Context, *struct{}) (*struct{}, error) {
		return nil, nil
	})

	api.Get("/ping", "User-Agent: tether-client/1.0")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "tether-client/1.0", entry["user_agent"])
	assert.NotContains(t, entry, "request_id")
}
