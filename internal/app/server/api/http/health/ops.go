package health

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) healthCheckOp() huma.Operation {
	return huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/v1/health",
		Summary:     "Server and change log status",
		Description: "Public endpoint used by clients to detect connectivity. Reports database reachability, the change log head and the server clock.",
		Errors:      []int{http.StatusServiceUnavailable},
		Tags:        []string{"health"},
		Middlewares: h.middleware,
	}
}
