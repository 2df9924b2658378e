package rows

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"tether/internal/domain/sync"
	"tether/internal/domain/table"
)

// Store is the canonical row storage.
type Store interface {
	Insert(ctx context.Context, name table.Name, row table.Row) (table.Row, error)
	UpdateIf(ctx context.Context, name table.Name, id string, base time.Time, patch table.Row) (table.Row, error)
	Purge(ctx context.Context, name table.Name, id string) error
	Get(ctx context.Context, name table.Name, id string) (table.Row, error)
	ListTable(ctx context.Context, name table.Name, after string, limit int) ([]table.Row, error)
}

type Handler struct {
	store      Store
	factory    *table.Factory
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(store Store, log *slog.Logger, mws huma.Middlewares) *Handler {
	return &Handler{
		store:      store,
		factory:    table.NewFactory(),
		log:        log.With("component", "rows_handler"),
		middleware: mws,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.listOp(), h.list)
	huma.Register(api, h.getOp(), h.get)
	huma.Register(api, h.insertOp(), h.insert)
	huma.Register(api, h.updateOp(), h.update)
	huma.Register(api, h.purgeOp(), h.purge)
}

func (h *Handler) list(ctx context.Context, input *listInput) (*listOutput, error) {
	if err := input.Table.Validate(); err != nil {
		return nil, h.toHTTP(err)
	}

	rows, err := h.store.ListTable(ctx, input.Table, input.After, input.Limit)
	if err != nil {
		return nil, h.toHTTP(err)
	}
	return &listOutput{Body: listResponse{Rows: rows}}, nil
}

func (h *Handler) get(ctx context.Context, input *rowInput) (*rowOutput, error) {
	if err := input.Table.Validate(); err != nil {
		return nil, h.toHTTP(err)
	}

	row, err := h.store.Get(ctx, input.Table, input.ID)
	if err != nil {
		return nil, h.toHTTP(err)
	}
	return &rowOutput{Body: row}, nil
}

func (h *Handler) insert(ctx context.Context, input *insertInput) (*rowOutput, error) {
	if err := h.factory.Validate(input.Table, input.Body); err != nil {
		return nil, h.toHTTP(err)
	}

	row, err := h.store.Insert(ctx, input.Table, input.Body)
	if err != nil {
		return nil, h.toHTTP(err)
	}
	return &rowOutput{Body: row}, nil
}

func (h *Handler) update(ctx context.Context, input *updateInput) (*rowOutput, error) {
	if err := input.Table.Validate(); err != nil {
		return nil, h.toHTTP(err)
	}

	current, err := h.store.Get(ctx, input.Table, input.ID)
	if errors.Is(err, sync.ErrRemoteNotFound) {
		// Nothing left to match the base against.
		return nil, h.toHTTP(sync.ErrPreconditionFailed)
	}
	if err != nil {
		return nil, h.toHTTP(err)
	}

	patch := input.Body.Patch.Clone()
	for _, col := range []string{table.ColumnID, table.ColumnCreatedAt, table.ColumnUpdatedAt} {
		delete(patch, col)
	}
	if err := h.factory.Validate(input.Table, current.Merge(patch)); err != nil {
		return nil, h.toHTTP(err)
	}

	row, err := h.store.UpdateIf(ctx, input.Table, input.ID, input.Body.BaseUpdatedAt, patch)
	if err != nil {
		return nil, h.toHTTP(err)
	}
	return &rowOutput{Body: row}, nil
}

func (h *Handler) purge(ctx context.Context, input *rowInput) (*struct{}, error) {
	if err := input.Table.Validate(); err != nil {
		return nil, h.toHTTP(err)
	}
	if err := h.store.Purge(ctx, input.Table, input.ID); err != nil {
		return nil, h.toHTTP(err)
	}
	return nil, nil
}

func (h *Handler) toHTTP(err error) error {
	switch {
	case errors.Is(err, sync.ErrPreconditionFailed):
		return huma.Error412PreconditionFailed("row changed since base_updated_at")
	case errors.Is(err, sync.ErrRemoteNotFound):
		return huma.Error404NotFound("row not found")
	case errors.Is(err, table.ErrUnknownTable):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, table.ErrInvalidPayload), errors.Is(err, table.ErrMissingID):
		return huma.Error400BadRequest(err.Error())
	default:
		h.log.Error("request failed", "error", err)
		return huma.Error500InternalServerError("internal error")
	}
}
