package staging

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"tether/internal/domain/table"
)

// Extractor turns free-form input into candidate rows.
type Extractor interface {
	Extract(ctx context.Context, item QueueItem) ([]Candidate, error)
}

// YAMLExtractor reads structured input keyed by table name:
//
//	entities:
//	  - type: person
//	    status: active
//	tags:
//	  - name: watchlist
//
// JSON documents are accepted too since they are valid YAML.
type YAMLExtractor struct{}

func NewYAMLExtractor() *YAMLExtractor {
	return &YAMLExtractor{}
}

func (e *YAMLExtractor) Extract(ctx context.Context, item QueueItem) ([]Candidate, error) {
	var doc map[string][]map[string]any
	if err := yaml.Unmarshal([]byte(item.Text), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse input: %w", err)
	}

	var out []Candidate
	for _, name := range table.All {
		rows, ok := doc[name.String()]
		if !ok {
			continue
		}
		for i, raw := range rows {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out = append(out, Candidate{
				Table:  name,
				Row:    table.Row(raw),
				Origin: fmt.Sprintf("%s[%d]", name, i),
			})
		}
		delete(doc, name.String())
	}

	if len(doc) > 0 {
		unknown := make([]string, 0, len(doc))
		for k := range doc {
			unknown = append(unknown, k)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s", table.ErrUnknownTable, strings.Join(unknown, ", "))
	}

	return out, nil
}
