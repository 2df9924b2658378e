package table

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Factory maps table names onto their payload schemas.
type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

// Create returns an empty payload for the table.
func (f *Factory) Create(name Name) (Payload, error) {
	switch name {
	case Sources:
		return &Source{}, nil
	case Entities:
		return &Entity{}, nil
	case Identifiers:
		return &Identifier{}, nil
	case Relations:
		return &Relation{}, nil
	case Intel:
		return &IntelRecord{}, nil
	case IntelEntities:
		return &IntelEntity{}, nil
	case EntityAttributes:
		return &EntityAttribute{}, nil
	case Tags:
		return &Tag{}, nil
	case RecordTags:
		return &RecordTag{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
}

// Parse decodes a full row into its typed payload and validates it.
// Columns the table does not declare are rejected.
func (f *Factory) Parse(name Name, row Row) (Payload, error) {
	payload, err := f.Create(name)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, name, err)
	}

	if err := payload.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, name, err)
	}

	return payload, nil
}

// Validate checks a row against its table schema.
func (f *Factory) Validate(name Name, row Row) error {
	_, err := f.Parse(name, row)
	return err
}
