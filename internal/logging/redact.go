// internal/logging/redact.go
package logging

import (
	"strings"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

// minScrubLen skips the scrubber for values too short to hold a credential.
const minScrubLen = 8

// redactingEncoder hides values of sensitive keys and scrubs every other
// string value. Agent-supplied text (evidence, review findings, error
// details) reaches the logs through these fields.
type redactingEncoder struct {
	zapcore.Encoder
	keys     map[string]bool
	scrubber Scrubber
}

func newRedactingEncoder(base zapcore.Encoder, keys []string, scrubber Scrubber) *redactingEncoder {
	m := make(map[string]bool, len(keys))
	for _, k := range keys {
		m[strings.ToLower(k)] = true
	}
	return &redactingEncoder{Encoder: base, keys: m, scrubber: scrubber}
}

func (e *redactingEncoder) sensitive(key string) bool {
	return e.keys[strings.ToLower(key)]
}

func (e *redactingEncoder) scrub(val string) string {
	if e.scrubber == nil || len(val) < minScrubLen {
		return val
	}
	return e.scrubber.Redact(val)
}

func (e *redactingEncoder) AddString(key, val string) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddString(key, e.scrub(val))
}

func (e *redactingEncoder) AddByteString(key string, val []byte) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddString(key, e.scrub(string(val)))
}

func (e *redactingEncoder) AddBinary(key string, val []byte) {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return
	}
	e.Encoder.AddBinary(key, val)
}

// AddReflected hides the whole value of a sensitive key. Nested values are
// not inspected.
func (e *redactingEncoder) AddReflected(key string, val any) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *redactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *redactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.sensitive(key) {
		e.Encoder.AddString(key, redacted)
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *redactingEncoder) Clone() zapcore.Encoder {
	return &redactingEncoder{Encoder: e.Encoder.Clone(), keys: e.keys, scrubber: e.scrubber}
}

// EncodeEntry routes per-entry fields through the redacting Add methods; the
// wrapped encoder would otherwise add them to itself directly.
func (e *redactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	clone := e.Clone().(*redactingEncoder)
	for _, f := range fields {
		f.AddTo(clone)
	}
	ent.Message = e.scrub(ent.Message)
	return clone.Encoder.EncodeEntry(ent, nil)
}
