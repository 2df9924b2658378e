package health

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type MockPinger struct {
	mock.Mock
}

func (m *MockPinger) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockLogHead struct {
	mock.Mock
}

func (m *MockLogHead) MaxSeq(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func TestHandler_healthCheck(t *testing.T) {
	tests := []struct {
		name       string
		pingErr    error
		seqErr     error
		wantStatus int
	}{
		{name: "healthy", wantStatus: http.StatusOK},
		{name: "database down", pingErr: errors.New("connection refused"), wantStatus: http.StatusServiceUnavailable},
		{name: "change log unreadable", seqErr: errors.New("relation does not exist"), wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := new(MockPinger)
			db.On("Ping", mock.Anything).Return(tt.pingErr).Once()
			head := new(MockLogHead)
			if tt.pingErr == nil {
				head.On("MaxSeq", mock.Anything).Return(int64(42), tt.seqErr).Once()
			}

			_, api := humatest.New(t)
			NewHandler(db, head, slog.Default(), huma.Middlewares{}).SetupRoutes(api)

			resp := api.Get("/api/v1/health")

			assert.Equal(t, tt.wantStatus, resp.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Contains(t, resp.Body.String(), `"status":"OK"`)
				assert.Contains(t, resp.Body.String(), `"max_seq":42`)
			}
			db.AssertExpectations(t)
			head.AssertExpectations(t)
		})
	}
}

func TestHandler_healthCheckWithoutDependencies(t *testing.T) {
	handler := NewHandler(nil, nil, slog.Default(), huma.Middlewares{})
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	handler.now = func() time.Time { return now }

	out, err := handler.healthCheck(context.Background(), &Input{})

	require.NoError(t, err)
	assert.Equal(t, "OK", out.Body.Status)
	assert.Equal(t, int64(0), out.Body.MaxSeq)
	assert.True(t, out.Body.ServerTime.Equal(now))
}
