package config

import "encoding/json"

const redacted = "[REDACTED]"

// Secret is a string that never prints or serializes its value. Use Value()
// to read it.
type Secret string

// String always hides a non-empty value.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString covers %#v.
func (s Secret) GoString() string {
	return "Secret([REDACTED])"
}

// Value returns the secret.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether the secret is non-empty.
func (s Secret) IsSet() bool {
	return s != ""
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s Secret) MarshalYAML() (any, error) {
	return s.String(), nil
}

// UnmarshalJSON accepts the raw value. A redacted placeholder never becomes
// a credential.
func (s *Secret) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == redacted {
		raw = ""
	}
	*s = Secret(raw)
	return nil
}

// UnmarshalText accepts the raw value, as read from YAML or the environment.
func (s *Secret) UnmarshalText(text []byte) error {
	if string(text) == redacted {
		text = nil
	}
	*s = Secret(text)
	return nil
}
