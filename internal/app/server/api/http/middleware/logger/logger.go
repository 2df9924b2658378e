package logger

import (
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/exp/slog"
)

// slowRequest поднимает уровень успешных, но долгих запросов до warn
const slowRequest = 2 * time.Second

// Logger пишет одну запись журнала на каждый запрос к API
type Logger struct {
	log  *slog.Logger
	slow time.Duration
}

func New(log *slog.Logger) *Logger {
	return &Logger{
		log:  log.With(slog.String("component", "http_logger")),
		slow: slowRequest,
	}
}

// Middleware: 5xx пишутся с уровнем error, 4xx и медленные запросы с уровнем warn.
// request_id берется из chi RequestID, если он подключен.
func (l *Logger) Middleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		start := time.Now()

		method := ctx.Method()
		path := ctx.URL().Path

		next(ctx)

		status := ctx.Status()
		if status == 0 {
			status = http.StatusOK
		}
		took := time.Since(start)

		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest, took >= l.slow:
			level = slog.LevelWarn
		}

		attrs := []any{
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Duration("duration", took),
			slog.String("remote_addr", ctx.RemoteAddr()),
			slog.String("user_agent", ctx.Header("User-Agent")),
		}
		if id := chimw.GetReqID(ctx.Context()); id != "" {
			attrs = append(attrs, slog.String("request_id", id))
		}

		l.log.Log(ctx.Context(), level, "HTTP request", attrs...)
	}
}
