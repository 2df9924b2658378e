package rows

import (
	"time"

	"tether/internal/domain/table"
)

type tableInput struct {
	Table table.Name `path:"table" doc:"Replicated table"`
}

type rowInput struct {
	Table table.Name `path:"table" doc:"Replicated table"`
	ID    string     `path:"id" example:"9f1c2d4e-0a7b-4c55-9d43-5b1f0f6e2a11" doc:"Row id"`
}

type listInput struct {
	Table table.Name `path:"table" doc:"Replicated table"`
	After string     `query:"after" doc:"Return rows with id greater than this one"`
	Limit int        `query:"limit" default:"500" minimum:"1" maximum:"1000" doc:"Page size"`
}

type listOutput struct {
	Body listResponse
}

type listResponse struct {
	Rows []table.Row `json:"rows" doc:"Rows ordered by id"`
}

type insertInput struct {
	Table table.Name `path:"table" doc:"Replicated table"`
	Body  table.Row
}

type updateInput struct {
	Table table.Name `path:"table" doc:"Replicated table"`
	ID    string     `path:"id" doc:"Row id"`
	Body  updateRequest
}

type updateRequest struct {
	BaseUpdatedAt time.Time `json:"base_updated_at" doc:"updated_at the client last saw; the update applies only if it still matches"`
	Patch         table.Row `json:"patch" doc:"Columns to change"`
}

type rowOutput struct {
	Body table.Row
}
