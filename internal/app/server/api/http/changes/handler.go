package changes

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"tether/internal/domain/sync"
)

type Log interface {
	ChangesSince(ctx context.Context, seq int64, limit int) ([]sync.ChangeLogEntry, error)
	MaxSeq(ctx context.Context) (int64, error)
}

type Handler struct {
	log        Log
	logger     *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(changeLog Log, log *slog.Logger, mws huma.Middlewares) *Handler {
	return &Handler{
		log:        changeLog,
		logger:     log.With("component", "changes_handler"),
		middleware: mws,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.listOp(), h.list)
	huma.Register(api, h.maxSeqOp(), h.maxSeq)
}

func (h *Handler) list(ctx context.Context, input *listInput) (*listOutput, error) {
	entries, err := h.log.ChangesSince(ctx, input.Since, input.Limit)
	if err != nil {
		h.logger.Error("failed to read change log", "since", input.Since, "error", err)
		return nil, huma.Error500InternalServerError("failed to read change log")
	}
	return &listOutput{Body: listResponse{Changes: entries}}, nil
}

func (h *Handler) maxSeq(ctx context.Context, _ *struct{}) (*maxSeqOutput, error) {
	seq, err := h.log.MaxSeq(ctx)
	if err != nil {
		h.logger.Error("failed to read change log head", "error", err)
		return nil, huma.Error500InternalServerError("failed to read change log head")
	}
	return &maxSeqOutput{Body: maxSeqResponse{MaxSeq: seq}}, nil
}
