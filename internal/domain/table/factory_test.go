package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactory_Parse(t *testing.T) {
	f := NewFactory()

	tests := []struct {
		name    string
		table   Name
		row     Row
		wantErr error
	}{
		{
			name:  "valid entity",
			table: Entities,
			row: Row{
				"id":         "e-1",
				"type":       "person",
				"created_at": "2024-05-01T10:00:00Z",
				"updated_at": "2024-05-01T10:00:00.123456+00:00",
				"deleted_at": nil,
				"data":       map[string]any{"name": "Ada"},
			},
		},
		{
			name:    "entity without type",
			table:   Entities,
			row:     Row{"id": "e-1"},
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "unknown column",
			table:   Tags,
			row:     Row{"id": "t-1", "name": "red", "shade": "dark"},
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "missing id",
			table:   Tags,
			row:     Row{"name": "red"},
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "self relation",
			table:   Relations,
			row:     Row{"id": "r-1", "source_id": "e-1", "target_id": "e-1", "type": "knows"},
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "record tag pointing at unknown table",
			table:   RecordTags,
			row:     Row{"id": "rt-1", "record_id": "e-1", "record_table": "users", "tag_id": "t-1"},
			wantErr: ErrInvalidPayload,
		},
		{
			name:    "unknown table",
			table:   Name("users"),
			row:     Row{"id": "u-1"},
			wantErr: ErrUnknownTable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := f.Parse(tt.table, tt.row)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, payload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.table, payload.Table())
		})
	}
}

func TestFactory_ParseTypedPayload(t *testing.T) {
	payload, err := NewFactory().Parse(Identifiers, Row{
		"id":        "i-1",
		"entity_id": "e-1",
		"type":      "email",
		"value":     "ada@example.com",
	})
	require.NoError(t, err)

	ident, ok := payload.(*Identifier)
	require.True(t, ok)
	assert.Equal(t, "ada@example.com", ident.Value)
	assert.Equal(t, "i-1", ident.ID)
}

func TestName_PushOrder(t *testing.T) {
	assert.Less(t, Entities.PushOrder(), Identifiers.PushOrder())
	assert.Less(t, Intel.PushOrder(), IntelEntities.PushOrder())
	assert.Less(t, Tags.PushOrder(), RecordTags.PushOrder())
	assert.Equal(t, 9, Name("audit").PushOrder())

	for _, n := range All {
		assert.True(t, n.Valid(), n)
	}
}

func TestParse(t *testing.T) {
	n, err := Parse("sources")
	require.NoError(t, err)
	assert.Equal(t, Sources, n)

	_, err = Parse("sync_log")
	assert.ErrorIs(t, err, ErrUnknownTable)
}
