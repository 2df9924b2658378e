package health

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"
)

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// LogHead reads the newest change log sequence.
type LogHead interface {
	MaxSeq(ctx context.Context) (int64, error)
}

type Handler struct {
	db         Pinger
	head       LogHead
	log        *slog.Logger
	middleware huma.Middlewares
	now        func() time.Time
}

func NewHandler(db Pinger, head LogHead, log *slog.Logger, middleware huma.Middlewares) *Handler {
	return &Handler{
		db:         db,
		head:       head,
		log:        log.With("component", "health"),
		middleware: middleware,
		now:        time.Now,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.healthCheckOp(), h.healthCheck)
}

func (h *Handler) healthCheck(ctx context.Context, _ *Input) (*Output, error) {
	out := &Output{Body: Response{Status: "OK", Database: "OK", ServerTime: h.now().UTC()}}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.log.Error("database ping failed", "error", err)
			return nil, huma.Error503ServiceUnavailable("database unavailable")
		}
	}

	if h.head != nil {
		seq, err := h.head.MaxSeq(ctx)
		if err != nil {
			h.log.Error("failed to read change log head", "error", err)
			return nil, huma.Error503ServiceUnavailable("change log unavailable")
		}
		out.Body.MaxSeq = seq
	}

	return out, nil
}
