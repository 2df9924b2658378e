package replica

import (
	"time"

	"tether/internal/domain/table"
)

// Meta is the sync envelope stored next to every replica row.
type Meta struct {
	LocalLastAccessedAt time.Time  `json:"local_last_accessed_at"`
	LocalDirty          bool       `json:"local_dirty"`
	LocalDeleted        bool       `json:"local_deleted"`
	BaseUpdatedAt       *time.Time `json:"base_updated_at"`
	LastPulledAt        *time.Time `json:"last_pulled_at"`
}

// Row is a remote row mirrored locally.
type Row struct {
	Table table.Name `json:"table"`
	Data  table.Row  `json:"data"`
	Meta  Meta       `json:"meta"`
}

func (r Row) ID() string {
	return r.Data.ID()
}

// Key addresses one replica row.
type Key struct {
	Table table.Name
	ID    string
}

// Visible reports whether list views should show the row.
func (r Row) Visible() bool {
	return !r.Meta.LocalDeleted && !r.Data.IsDeleted()
}

// cleanMeta builds the envelope of a row that mirrors server state.
func cleanMeta(data table.Row, now time.Time) Meta {
	pulled := now
	return Meta{
		LocalLastAccessedAt: now,
		LocalDirty:          false,
		LocalDeleted:        data.IsDeleted(),
		BaseUpdatedAt:       nil,
		LastPulledAt:        &pulled,
	}
}
