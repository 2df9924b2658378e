package rows

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

var bearer = []map[string][]string{{"bearer": {}}}

func (h *Handler) listOp() huma.Operation {
	return huma.Operation{
		OperationID: "rows-list",
		Method:      http.MethodGet,
		Path:        "/api/v1/tables/{table}/rows",
		Summary:     "Page through a table",
		Description: "Keyset pagination by id. Soft-deleted rows are included.",
		Tags:        []string{"rows"},
		Security:    bearer,
		Middlewares: h.middleware,
	}
}

func (h *Handler) getOp() huma.Operation {
	return huma.Operation{
		OperationID: "rows-get",
		Method:      http.MethodGet,
		Path:        "/api/v1/tables/{table}/rows/{id}",
		Summary:     "Fetch one row",
		Tags:        []string{"rows"},
		Security:    bearer,
		Middlewares: h.middleware,
	}
}

func (h *Handler) insertOp() huma.Operation {
	return huma.Operation{
		OperationID:   "rows-insert",
		Method:        http.MethodPost,
		Path:          "/api/v1/tables/{table}/rows",
		Summary:       "Insert a row",
		Description:   "Inserting an id that already exists returns the stored row.",
		DefaultStatus: http.StatusCreated,
		Tags:          []string{"rows"},
		Security:      bearer,
		Middlewares:   h.middleware,
	}
}

func (h *Handler) updateOp() huma.Operation {
	return huma.Operation{
		OperationID: "rows-update",
		Method:      http.MethodPatch,
		Path:        "/api/v1/tables/{table}/rows/{id}",
		Summary:     "Conditionally update a row",
		Description: "Applies the patch only when base_updated_at equals the stored updated_at, otherwise 412.",
		Errors:      []int{http.StatusBadRequest, http.StatusPreconditionFailed},
		Tags:        []string{"rows"},
		Security:    bearer,
		Middlewares: h.middleware,
	}
}

func (h *Handler) purgeOp() huma.Operation {
	return huma.Operation{
		OperationID:   "rows-purge",
		Method:        http.MethodDelete,
		Path:          "/api/v1/tables/{table}/rows/{id}",
		Summary:       "Hard-delete a row",
		Description:   "Removes the row and records a DELETE in the change log. Clients soft-delete through PATCH instead.",
		DefaultStatus: http.StatusNoContent,
		Tags:          []string{"rows"},
		Security:      bearer,
		Middlewares:   h.middleware,
	}
}
