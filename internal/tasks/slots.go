package tasks

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Slots is an ordered set of slots with unique names. It encodes as a JSON
// object keyed by slot name, preserving order in both directions.
type Slots []Slot

// NewSlots builds a Slots set, rejecting empty or duplicate names.
func NewSlots(list ...Slot) (Slots, error) {
	out := make(Slots, 0, len(list))
	for _, s := range list {
		if s.Name == "" {
			return nil, errors.New("slot name is required")
		}
		if out.index(s.Name) >= 0 {
			return nil, fmt.Errorf("duplicate slot %q", s.Name)
		}
		if s.Type == "" {
			s.Type = SlotTypeString
		}
		out = append(out, s)
	}
	return out, nil
}

func (s Slots) index(name string) int {
	for i := range s {
		if s[i].Name == name {
			return i
		}
	}
	return -1
}

func (s Slots) Names() []string {
	out := make([]string, len(s))
	for i := range s {
		out[i] = s[i].Name
	}
	return out
}

func (s Slots) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, slot := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(slot.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(slot)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *Slots) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = nil
		return nil
	}
	out := Slots{}
	err := EachObjectField(data, func(key string, raw json.RawMessage) error {
		var slot Slot
		if err := json.Unmarshal(raw, &slot); err != nil {
			return fmt.Errorf("slot %q: %w", key, err)
		}
		slot.Name = key
		if out.index(key) >= 0 {
			return fmt.Errorf("duplicate slot %q", key)
		}
		out = append(out, slot)
		return nil
	})
	if err != nil {
		return err
	}
	*s = out
	return nil
}

// EachObjectField walks the members of a JSON object in document order.
func EachObjectField(data []byte, fn func(key string, raw json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("expected JSON object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return errors.New("expected object key")
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		if err := fn(key, raw); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}
