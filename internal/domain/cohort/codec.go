package cohort

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

type leafJSON struct {
	ID          int             `json:"id"`
	Title       string          `json:"title"`
	Type        ResourceKind    `json:"type"`
	IsInclusive *bool           `json:"isInclusive,omitempty"`
	Occurrence  *Occurrence     `json:"occurrence,omitempty"`
	Fields      json.RawMessage `json:"fields,omitempty"`
	Invalid     bool            `json:"invalid,omitempty"`
}

// MarshalJSON writes the field bag under "fields". Invalid leaves write back
// the payload they were read with.
func (l LeafNode) MarshalJSON() ([]byte, error) {
	inclusive := l.Inclusive
	out := leafJSON{
		ID:          l.ID,
		Title:       l.Title,
		Type:        l.Kind,
		IsInclusive: &inclusive,
		Occurrence:  l.Occurrence,
		Invalid:     l.Invalid,
	}
	switch {
	case l.Invalid:
		out.Fields = l.RawFields
	case l.Fields != nil:
		raw, err := json.Marshal(l.Fields)
		if err != nil {
			return nil, fmt.Errorf("marshal criterion %d fields: %w", l.ID, err)
		}
		out.Fields = raw
		if out.Type == "" {
			out.Type = l.Fields.Kind()
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a leaf against the current field schema for its
// type. A payload with unknown fields, mistyped values or an unknown type
// yields a leaf flagged Invalid that keeps the raw fields.
func (l *LeafNode) UnmarshalJSON(data []byte) error {
	var in leafJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode criterion: %w", err)
	}
	*l = LeafNode{
		ID:         in.ID,
		Title:      in.Title,
		Kind:       in.Type,
		Inclusive:  in.IsInclusive == nil || *in.IsInclusive,
		Occurrence: in.Occurrence,
	}

	fields, err := decodeCriterion(in.Type, in.Fields)
	if err != nil {
		l.Invalid = true
		l.RawFields = append(json.RawMessage(nil), in.Fields...)
		return nil
	}
	l.Fields = fields
	return nil
}

// decodeCriterion strictly decodes raw into the field bag for kind. An
// absent payload decodes to the zero bag.
func decodeCriterion(kind ResourceKind, raw json.RawMessage) (Criterion, error) {
	target := newCriterion(kind)
	if target == nil {
		return nil, fmt.Errorf("unknown resource type %q", kind)
	}
	if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(target); err != nil {
			return nil, fmt.Errorf("decode %s fields: %w", kind, err)
		}
		if dec.More() {
			return nil, fmt.Errorf("decode %s fields: trailing data", kind)
		}
	}
	return reflect.ValueOf(target).Elem().Interface().(Criterion), nil
}

// DecodeState reads a State from JSON. Leaves that no longer match their
// schema come back flagged Invalid rather than failing the whole document.
func DecodeState(data []byte) (State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("decode cohort state: %w", err)
	}
	for i := range s.Groups {
		if s.Groups[i].ChildIDs == nil {
			s.Groups[i].ChildIDs = []int{}
		}
	}
	if s.Criteria == nil {
		s.Criteria = []LeafNode{}
	}
	return s, nil
}
