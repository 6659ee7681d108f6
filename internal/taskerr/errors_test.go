package taskerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "message only",
			err:  SessionError(CodeSessionNotFound, "session %q not found", "abc"),
			want: `[SESSION_NOT_FOUND] session "abc" not found`,
		},
		{
			name: "with details sorted",
			err: CommandError(CodeInvalidPayload, "missing field").
				WithDetail("field", "session_name").
				WithDetail("action", "create_session"),
			want: "[INVALID_PAYLOAD] missing field (action=create_session, field=session_name)",
		},
		{
			name: "with cause",
			err:  Wrap(KindSession, CodePersistFailed, errors.New("disk full"), "commit failed"),
			want: "[PERSIST_FAILED] commit failed: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(KindGeneric, CodeInternal, cause, "boom")

	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestError_Is(t *testing.T) {
	err := fmt.Errorf("load: %w", SessionError(CodeSessionNotFound, "missing"))

	assert.True(t, errors.Is(err, &Error{Code: CodeSessionNotFound}))
	assert.True(t, errors.Is(err, &Error{Kind: KindSession, Code: CodeSessionNotFound}))
	assert.False(t, errors.Is(err, &Error{Kind: KindTask, Code: CodeSessionNotFound}))
	assert.False(t, errors.Is(err, &Error{Code: CodeTaskNotFound}))
}

func TestKindAndCodeOf(t *testing.T) {
	typed := CapabilityError(CodeCapabilitiesNotDeclared, "declare first")
	wrapped := fmt.Errorf("dispatch: %w", typed)
	foreign := errors.New("plain")

	assert.Equal(t, KindCapability, KindOf(wrapped))
	assert.Equal(t, CodeCapabilitiesNotDeclared, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, CodeCapabilitiesNotDeclared))

	assert.Equal(t, KindGeneric, KindOf(foreign))
	assert.Equal(t, CodeInternal, CodeOf(foreign))
	assert.False(t, IsCode(foreign, CodeInternal))
}

func TestFrom(t *testing.T) {
	assert.Nil(t, From(nil))

	typed := TaskError(CodeNoActiveTask, "nothing to do")
	assert.Same(t, typed, From(typed))

	foreign := errors.New("plain")
	got := From(foreign)
	require.NotNil(t, got)
	assert.Equal(t, KindGeneric, got.Kind)
	assert.Equal(t, CodeInternal, got.Code)
	assert.ErrorIs(t, got, foreign)
}

func TestConfigError(t *testing.T) {
	err := ConfigError("port %d out of range", 70000)
	assert.Equal(t, KindConfiguration, err.Kind)
	assert.Equal(t, CodeConfigInvalid, err.Code)
	assert.Contains(t, err.Error(), "70000")
}
