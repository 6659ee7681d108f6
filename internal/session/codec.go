package session

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Encode serializes a Session into its persisted document form.
func Encode(s *Session) ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	return append(data, '\n'), nil
}

// Decode parses a persisted document. Unknown fields and trailing data are
// rejected so a damaged file is never half-loaded.
func Decode(data []byte) (*Session, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var s Session
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, errors.New("decode session: trailing data after document")
	}
	if s.ID == "" {
		return nil, errors.New("decode session: missing id")
	}
	if s.Tasks == nil {
		s.Tasks = []*Task{}
	}
	if s.Capabilities == nil {
		s.Capabilities = []Capability{}
	}
	if s.WorldModel == nil {
		s.WorldModel = []WorldModelEntry{}
	}
	return &s, nil
}

// UnmarshalJSON accepts either a bare description string or a full object.
func (s *TaskSpec) UnmarshalJSON(data []byte) error {
	var desc string
	if err := json.Unmarshal(data, &desc); err == nil {
		*s = TaskSpec{Description: desc}
		return nil
	}
	type plain TaskSpec
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = TaskSpec(p)
	return nil
}

// Clone returns a deep copy of s through its persisted form.
func (s *Session) Clone() (*Session, error) {
	data, err := Encode(s)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
