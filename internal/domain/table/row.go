package table

import (
	"time"
)

// Column names shared by every remote table.
const (
	ColumnID        = "id"
	ColumnCreatedAt = "created_at"
	ColumnUpdatedAt = "updated_at"
	ColumnDeletedAt = "deleted_at"
)

// Row is a remote row as it travels over the wire and sits in the replica.
type Row map[string]any

// FormatTime renders timestamps the way rows carry them.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTime accepts RFC 3339 timestamps with or without fractional seconds.
func ParseTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func (r Row) ID() string {
	id, _ := r[ColumnID].(string)
	return id
}

// Time reads a timestamp column; false when the column is null, absent or unparsable.
func (r Row) Time(column string) (time.Time, bool) {
	switch v := r[column].(type) {
	case string:
		if v == "" {
			return time.Time{}, false
		}
		t, err := ParseTime(v)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case time.Time:
		return v.UTC(), !v.IsZero()
	case *time.Time:
		if v == nil {
			return time.Time{}, false
		}
		return v.UTC(), true
	default:
		return time.Time{}, false
	}
}

func (r Row) CreatedAt() (time.Time, bool) { return r.Time(ColumnCreatedAt) }

func (r Row) UpdatedAt() (time.Time, bool) { return r.Time(ColumnUpdatedAt) }

func (r Row) DeletedAt() (time.Time, bool) { return r.Time(ColumnDeletedAt) }

// IsDeleted reports a server-side soft delete.
func (r Row) IsDeleted() bool {
	_, ok := r.DeletedAt()
	return ok
}

// Clone copies the top level of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a new row with patch applied over r.
func (r Row) Merge(patch Row) Row {
	out := r.Clone()
	if out == nil {
		out = make(Row, len(patch))
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
