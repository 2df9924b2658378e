package table

import (
	"fmt"

	"github.com/danielgtaylor/huma/v2"
)

// Name is a replicated remote table.
type Name string

const (
	Sources          Name = "sources"
	Entities         Name = "entities"
	Identifiers      Name = "identifiers"
	Relations        Name = "relations"
	Intel            Name = "intel"
	IntelEntities    Name = "intel_entities"
	EntityAttributes Name = "entity_attributes"
	Tags             Name = "tags"
	RecordTags       Name = "record_tags"
)

// All lists every tracked table in push order.
var All = []Name{
	Sources,
	Entities,
	Tags,
	Identifiers,
	Relations,
	Intel,
	EntityAttributes,
	IntelEntities,
	RecordTags,
}

// unknownOrder sorts unrecognised tables after everything else.
const unknownOrder = 9

// pushOrder: parent tables must reach the server before the child tables referencing them by FK.
var pushOrder = map[Name]int{
	Sources:          0,
	Entities:         0,
	Tags:             0,
	Identifiers:      1,
	Relations:        1,
	Intel:            1,
	EntityAttributes: 1,
	IntelEntities:    2,
	RecordTags:       2,
}

// PushOrder returns the dependency rank of the table.
func (n Name) PushOrder() int {
	if order, ok := pushOrder[n]; ok {
		return order
	}
	return unknownOrder
}

// Valid reports whether n is a tracked table.
func (n Name) Valid() bool {
	_, ok := pushOrder[n]
	return ok
}

// Validate returns ErrUnknownTable for names that are not replicated.
func (n Name) Validate() error {
	if !n.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownTable, n)
	}
	return nil
}

func (n Name) String() string {
	return string(n)
}

func (Name) Schema(_ huma.Registry) *huma.Schema {
	enum := make([]any, 0, len(All))
	for _, n := range All {
		enum = append(enum, string(n))
	}
	return &huma.Schema{
		Type:        "string",
		Enum:        enum,
		Description: "Replicated table name",
		Examples:    []any{string(Entities)},
	}
}

// Parse converts a raw table name, rejecting tables that are not replicated.
func Parse(raw string) (Name, error) {
	n := Name(raw)
	if err := n.Validate(); err != nil {
		return "", err
	}
	return n, nil
}
