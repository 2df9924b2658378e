package table

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Payload is the typed form of a row, one concrete type per table.
type Payload interface {
	Table() Name
	Validate() error
}

// Base holds the columns every table shares.
type Base struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at"`
}

func (b Base) validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return ErrMissingID
	}
	return nil
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New(field + " is required")
	}
	return nil
}

type Source struct {
	Base
	Code        string          `json:"code"`
	Type        string          `json:"type"`
	Reliability string          `json:"reliability"`
	Sensitivity string          `json:"sensitivity,omitempty"`
	Active      *bool           `json:"active"`
	Data        json.RawMessage `json:"data,omitempty"`
}

func (Source) Table() Name { return Sources }

func (s *Source) Validate() error {
	if err := s.validate(); err != nil {
		return err
	}
	if err := required("code", s.Code); err != nil {
		return err
	}
	if err := required("type", s.Type); err != nil {
		return err
	}
	return required("reliability", s.Reliability)
}

type Entity struct {
	Base
	Type        string          `json:"type"`
	Status      string          `json:"status,omitempty"`
	Sensitivity string          `json:"sensitivity,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	CreatedBy   *string         `json:"created_by"`
	Geom        json.RawMessage `json:"geom,omitempty"`
}

func (Entity) Table() Name { return Entities }

func (e *Entity) Validate() error {
	if err := e.validate(); err != nil {
		return err
	}
	return required("type", e.Type)
}

type Identifier struct {
	Base
	EntityID string          `json:"entity_id"`
	Type     string          `json:"type"`
	Value    string          `json:"value"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func (Identifier) Table() Name { return Identifiers }

func (i *Identifier) Validate() error {
	if err := i.validate(); err != nil {
		return err
	}
	if err := required("entity_id", i.EntityID); err != nil {
		return err
	}
	if err := required("type", i.Type); err != nil {
		return err
	}
	return required("value", i.Value)
}

type Relation struct {
	Base
	SourceID    string          `json:"source_id"`
	TargetID    string          `json:"target_id"`
	Type        string          `json:"type"`
	Strength    *float64        `json:"strength"`
	Sensitivity string          `json:"sensitivity,omitempty"`
	ValidFrom   *string         `json:"valid_from"`
	ValidTo     *string         `json:"valid_to"`
	Data        json.RawMessage `json:"data,omitempty"`
}

func (Relation) Table() Name { return Relations }

func (r *Relation) Validate() error {
	if err := r.validate(); err != nil {
		return err
	}
	if err := required("source_id", r.SourceID); err != nil {
		return err
	}
	if err := required("target_id", r.TargetID); err != nil {
		return err
	}
	if r.SourceID == r.TargetID {
		return errors.New("relation cannot point to itself")
	}
	if r.Strength != nil && (*r.Strength < 0 || *r.Strength > 1) {
		return errors.New("strength must be within [0, 1]")
	}
	return required("type", r.Type)
}

type IntelRecord struct {
	Base
	Type         string          `json:"type"`
	OccurredAt   string          `json:"occurred_at"`
	Data         json.RawMessage `json:"data"`
	Confidence   string          `json:"confidence,omitempty"`
	Sensitivity  string          `json:"sensitivity,omitempty"`
	SourceID     *string         `json:"source_id"`
	CreatedBy    *string         `json:"created_by"`
	Geom         json.RawMessage `json:"geom,omitempty"`
	SearchVector json.RawMessage `json:"search_vector,omitempty"`
}

func (IntelRecord) Table() Name { return Intel }

func (i *IntelRecord) Validate() error {
	if err := i.validate(); err != nil {
		return err
	}
	if err := required("type", i.Type); err != nil {
		return err
	}
	if err := required("occurred_at", i.OccurredAt); err != nil {
		return err
	}
	if len(i.Data) == 0 || string(i.Data) == "null" {
		return errors.New("data is required")
	}
	return nil
}

type IntelEntity struct {
	Base
	IntelID  string  `json:"intel_id"`
	EntityID string  `json:"entity_id"`
	Role     *string `json:"role"`
}

func (IntelEntity) Table() Name { return IntelEntities }

func (i *IntelEntity) Validate() error {
	if err := i.validate(); err != nil {
		return err
	}
	if err := required("intel_id", i.IntelID); err != nil {
		return err
	}
	return required("entity_id", i.EntityID)
}

type EntityAttribute struct {
	Base
	EntityID   string  `json:"entity_id"`
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence string  `json:"confidence,omitempty"`
	Notes      *string `json:"notes"`
	SourceID   *string `json:"source_id"`
	ValidFrom  *string `json:"valid_from"`
	ValidTo    *string `json:"valid_to"`
}

func (EntityAttribute) Table() Name { return EntityAttributes }

func (a *EntityAttribute) Validate() error {
	if err := a.validate(); err != nil {
		return err
	}
	if err := required("entity_id", a.EntityID); err != nil {
		return err
	}
	if err := required("key", a.Key); err != nil {
		return err
	}
	return required("value", a.Value)
}

type Tag struct {
	Base
	Name     string  `json:"name"`
	Category string  `json:"category,omitempty"`
	Color    *string `json:"color"`
}

func (Tag) Table() Name { return Tags }

func (t *Tag) Validate() error {
	if err := t.validate(); err != nil {
		return err
	}
	return required("name", t.Name)
}

type RecordTag struct {
	Base
	RecordID    string `json:"record_id"`
	RecordTable string `json:"record_table"`
	TagID       string `json:"tag_id"`
}

func (RecordTag) Table() Name { return RecordTags }

func (r *RecordTag) Validate() error {
	if err := r.validate(); err != nil {
		return err
	}
	if err := required("record_id", r.RecordID); err != nil {
		return err
	}
	if err := required("tag_id", r.TagID); err != nil {
		return err
	}
	if !Name(r.RecordTable).Valid() {
		return errors.New("record_table must name a replicated table")
	}
	return nil
}
