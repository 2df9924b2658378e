package changes

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) listOp() huma.Operation {
	return huma.Operation{
		OperationID: "changes-list",
		Method:      http.MethodGet,
		Path:        "/api/v1/changes",
		Summary:     "Read the change log",
		Tags:        []string{"changes"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}

func (h *Handler) maxSeqOp() huma.Operation {
	return huma.Operation{
		OperationID: "changes-max-seq",
		Method:      http.MethodGet,
		Path:        "/api/v1/changes/max-seq",
		Summary:     "Current change-log head",
		Tags:        []string{"changes"},
		Security:    []map[string][]string{{"bearer": {}}},
		Middlewares: h.middleware,
	}
}
