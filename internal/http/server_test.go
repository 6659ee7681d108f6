package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskmaster/internal/logging"
	"github.com/fyrsmithlabs/taskmaster/internal/orchestrator"
	"github.com/fyrsmithlabs/taskmaster/internal/session"
	"github.com/fyrsmithlabs/taskmaster/internal/store"
	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
	"github.com/fyrsmithlabs/taskmaster/internal/telemetry"
)

func newTestServer(t *testing.T, cfg *Config, opts ...Option) *Server {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	d := orchestrator.New(st, orchestrator.WithLogger(logging.NewTestLogger().Logger))
	s, err := NewServer(d, st, zap.NewNop(), cfg, opts...)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func command(t *testing.T, s *Server, body any) (int, *orchestrator.Response) {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/api/v1/command", body)
	var resp orchestrator.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, &resp
}

func TestNewServer(t *testing.T) {
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	d := orchestrator.New(st)

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		s, err := NewServer(d, st, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1", s.config.Host)
		assert.Equal(t, 8765, s.config.Port)
		assert.Nil(t, s.limiter)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(d, st, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when handler is nil", func(t *testing.T) {
		_, err := NewServer(nil, st, zap.NewNop(), nil)
		require.Error(t, err)
	})

	t.Run("returns error when sessions are nil", func(t *testing.T) {
		_, err := NewServer(d, nil, zap.NewNop(), nil)
		require.Error(t, err)
	})
}

func TestHealth(t *testing.T) {
	t.Run("ok without telemetry", func(t *testing.T) {
		s := newTestServer(t, nil)
		rec := do(t, s, http.MethodGet, "/health", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Nil(t, resp.Telemetry)
	})

	t.Run("reports telemetry health", func(t *testing.T) {
		tel, err := telemetry.New(context.Background(), nil)
		require.NoError(t, err)

		s := newTestServer(t, nil, WithTelemetry(tel))
		rec := do(t, s, http.MethodGet, "/health", nil)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		require.NotNil(t, resp.Telemetry)
		assert.True(t, resp.Telemetry.Healthy)
	})
}

func TestCommand_SessionLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	code, resp := command(t, s, map[string]any{"action": "create_session", "session_name": "http"})
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, resp.SessionID)
	sid := resp.SessionID

	code, resp = command(t, s, map[string]any{
		"action":        "declare_capabilities",
		"session_id":    sid,
		"builtin_tools": []any{"Read", "Bash"},
	})
	require.Equal(t, http.StatusOK, code, "%+v", resp.Error)

	code, resp = command(t, s, map[string]any{
		"action":     "create_tasklist",
		"session_id": sid,
		"tasklist":   []any{map[string]any{"description": "write the readme"}},
	})
	require.Equal(t, http.StatusOK, code, "%+v", resp.Error)
	require.NotNil(t, resp.CurrentTask)
	assert.Equal(t, "write the readme", resp.CurrentTask.Description)

	rec := do(t, s, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list SessionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, sid, list.Sessions[0].ID)
	assert.Equal(t, 1, list.Sessions[0].Tasks)

	rec = do(t, s, http.MethodGet, "/api/v1/sessions/"+sid, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sess session.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, "http", sess.Name)
	assert.Len(t, sess.Tasks, 1)
}

func TestCommand_ErrorStatus(t *testing.T) {
	s := newTestServer(t, nil)

	tests := []struct {
		name     string
		body     any
		wantCode int
		wantErr  taskerr.Code
	}{
		{
			name:     "unknown action",
			body:     map[string]any{"action": "fly_to_moon"},
			wantCode: http.StatusBadRequest,
			wantErr:  taskerr.CodeUnknownCommand,
		},
		{
			name:     "malformed json",
			body:     `{"action": `,
			wantCode: http.StatusBadRequest,
			wantErr:  taskerr.CodeInvalidPayload,
		},
		{
			name:     "missing session",
			body:     map[string]any{"action": "execute_next", "session_id": "does-not-exist"},
			wantCode: http.StatusNotFound,
			wantErr:  taskerr.CodeSessionNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := command(t, s, tt.body)
			assert.Equal(t, tt.wantCode, code)
			assert.Equal(t, orchestrator.StatusError, resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantErr, resp.Error.Code)
		})
	}
}

func TestCommand_BodyTooLarge(t *testing.T) {
	s := newTestServer(t, nil)
	body := `{"action":"create_session","session_name":"` + strings.Repeat("a", maxBodyBytes) + `"}`
	rec := do(t, s, http.MethodPost, "/api/v1/command", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestGetSession_Errors(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(t, s, http.MethodGet, "/api/v1/sessions/_hidden", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/sessions/unknown-id", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body struct {
		Error orchestrator.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, taskerr.CodeSessionNotFound, body.Error.Code)
}

func TestListSessions_Empty(t *testing.T) {
	s := newTestServer(t, nil)
	rec := do(t, s, http.MethodGet, "/api/v1/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sessions":[]}`, rec.Body.String())
}

type failingSessions struct{}

func (failingSessions) List(context.Context) ([]store.Summary, error) {
	return nil, errors.New("disk on fire")
}

func (failingSessions) Load(context.Context, string) (*session.Session, error) {
	return nil, errors.New("disk on fire")
}

func TestListSessions_StoreFailure(t *testing.T) {
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	s, err := NewServer(orchestrator.New(st), failingSessions{}, zap.NewNop(), nil)
	require.NoError(t, err)

	rec := do(t, s, http.MethodGet, "/api/v1/sessions", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), string(taskerr.CodeInternal))
}

func TestBearerToken(t *testing.T) {
	s := newTestServer(t, &Config{Host: "127.0.0.1", Port: 8765, APIToken: "s3cret"})

	rec := do(t, s, http.MethodGet, "/api/v1/sessions", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/sessions", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/v1/sessions", nil, "Authorization", "Bearer s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open.
	rec = do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, &Config{Host: "127.0.0.1", Port: 8765, RateLimit: 0.001, RateBurst: 2})

	for i := 0; i < 2; i++ {
		rec := do(t, s, http.MethodGet, "/api/v1/sessions", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, s, http.MethodGet, "/api/v1/sessions", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Forwarding headers are ignored.
	rec = do(t, s, http.MethodGet, "/api/v1/sessions", nil, "X-Real-IP", "10.0.0.9")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.RemoteAddr = "10.0.0.9:4000"
	rec = httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestClientLimiter_SweepsIdleClients(t *testing.T) {
	l := newClientLimiter(1, 1)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("b"))
	assert.Equal(t, 2, l.size())

	now = now.Add(2 * idleLimiterTTL)
	assert.True(t, l.allow("c"))
	assert.Equal(t, 1, l.size())
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	_, resp := command(t, s, map[string]any{"action": "create_session", "session_name": "scraped"})
	require.NotEmpty(t, resp.SessionID)

	n, err := testutil.GatherAndCount(s.Registry(), "taskmaster_sessions")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "one series per status")

	rec := do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `taskmaster_sessions{status="active"} 1`)
	assert.Contains(t, rec.Body.String(), `taskmaster_sessions_collect_errors 0`)
}

func TestStatusForCode(t *testing.T) {
	tests := []struct {
		code taskerr.Code
		want int
	}{
		{taskerr.CodeInvalidPayload, http.StatusBadRequest},
		{taskerr.CodeInvalidSessionID, http.StatusBadRequest},
		{taskerr.CodeTaskNotFound, http.StatusNotFound},
		{taskerr.CodeStaleSession, http.StatusConflict},
		{taskerr.CodePersistFailed, http.StatusInternalServerError},
		{taskerr.CodePhaseOrder, http.StatusUnprocessableEntity},
		{taskerr.CodeCapabilitiesNotDeclared, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, statusForCode(tt.code))
		})
	}
}
