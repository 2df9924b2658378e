package staging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tether/internal/domain/table"
)

func TestYAMLExtractor_Extract(t *testing.T) {
	text := `
tags:
  - name: watchlist
entities:
  - type: person
    status: active
  - type: org
`
	got, err := NewYAMLExtractor().Extract(context.Background(), QueueItem{Text: text})
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Candidates follow table dependency order, not document order.
	assert.Equal(t, table.Entities, got[0].Table)
	assert.Equal(t, "entities[0]", got[0].Origin)
	assert.Equal(t, "person", got[0].Row["type"])
	assert.Equal(t, "entities[1]", got[1].Origin)
	assert.Equal(t, table.Tags, got[2].Table)
	assert.Equal(t, "tags[0]", got[2].Origin)
}

func TestYAMLExtractor_Errors(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr error
	}{
		{
			name:    "unknown table",
			text:    "people:\n  - name: x\nusers:\n  - id: 1\n",
			wantErr: table.ErrUnknownTable,
		},
		{
			name: "not a table map",
			text: "- just\n- a list\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewYAMLExtractor().Extract(context.Background(), QueueItem{Text: tt.text})
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Contains(t, err.Error(), "people, users")
			}
		})
	}
}

func TestYAMLExtractor_AcceptsJSON(t *testing.T) {
	got, err := NewYAMLExtractor().Extract(context.Background(), QueueItem{Text: `{"tags": [{"name": "a"}, {"name": "b"}]}`})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
