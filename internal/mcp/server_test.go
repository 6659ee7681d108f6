package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskmaster/internal/logging"
	"github.com/fyrsmithlabs/taskmaster/internal/orchestrator"
	"github.com/fyrsmithlabs/taskmaster/internal/store"
	"github.com/fyrsmithlabs/taskmaster/internal/taskerr"
	"github.com/fyrsmithlabs/taskmaster/internal/telemetry"
)

// connect serves s over in-memory transports and returns a client session.
func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	serverT, clientT := mcp.NewInMemoryTransports()

	ss, err := s.Connect(ctx, serverT)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})
	return cs
}

func newDispatcherServer(t *testing.T) *Server {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	d := orchestrator.New(st, orchestrator.WithLogger(logging.NewTestLogger().Logger))
	s, err := NewServer(&Config{Logger: zap.NewNop()}, d)
	require.NoError(t, err)
	return s
}

func call(t *testing.T, cs *mcp.ClientSession, args map[string]any) (*mcp.CallToolResult, *orchestrator.Response) {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{Name: ToolName, Arguments: args})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)

	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])

	var resp orchestrator.Response
	require.NoError(t, json.Unmarshal([]byte(text.Text), &resp))
	return res, &resp
}

func TestNewServer_RequiresHandler(t *testing.T) {
	_, err := NewServer(nil, nil)
	require.Error(t, err)
}

func TestServer_ListsSingleTool(t *testing.T) {
	cs := connect(t, newDispatcherServer(t))

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, res.Tools, 1)
	assert.Equal(t, ToolName, res.Tools[0].Name)
	assert.Contains(t, res.Tools[0].Description, "create_session")
}

func TestServer_SessionLifecycle(t *testing.T) {
	cs := connect(t, newDispatcherServer(t))

	res, resp := call(t, cs, map[string]any{"action": "create_session", "session_name": "hello"})
	require.False(t, res.IsError)
	require.NotEmpty(t, resp.SessionID)
	sid := resp.SessionID

	res, resp = call(t, cs, map[string]any{
		"action":        "declare_capabilities",
		"session_id":    sid,
		"builtin_tools": []any{"Read", map[string]any{"name": "Bash", "description": "run commands"}},
	})
	require.False(t, res.IsError, "%+v", resp.Error)

	res, resp = call(t, cs, map[string]any{
		"action":     "create_tasklist",
		"session_id": sid,
		"tasklist": []any{
			map[string]any{"description": "print hello world", "validation_criteria": []any{"command_succeeded"}},
		},
	})
	require.False(t, res.IsError, "%+v", resp.Error)
	require.NotNil(t, resp.CurrentTask)
	assert.Equal(t, "print hello world", resp.CurrentTask.Description)
	assert.Equal(t, orchestrator.ActionExecuteNext, resp.NextAction)

	res, resp = call(t, cs, map[string]any{"action": "get_status", "session_id": sid, "next_action_needed": false})
	require.False(t, res.IsError)
	assert.Empty(t, resp.Guidance)
}

func TestServer_RejectionIsToolError(t *testing.T) {
	cs := connect(t, newDispatcherServer(t))

	res, resp := call(t, cs, map[string]any{"action": "fly_to_moon"})
	assert.True(t, res.IsError)
	assert.Equal(t, orchestrator.StatusError, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, taskerr.CodeUnknownCommand, resp.Error.Code)

	res, resp = call(t, cs, map[string]any{"action": "execute_next", "session_id": "does-not-exist"})
	assert.True(t, res.IsError)
	assert.Equal(t, taskerr.CodeSessionNotFound, resp.Error.Code)
}

type recordingHandler struct {
	got []orchestrator.FlatRequest
}

func (h *recordingHandler) HandleFlat(ctx context.Context, f orchestrator.FlatRequest) *orchestrator.Response {
	h.got = append(h.got, f)
	if logging.RequestIDFromContext(ctx) == "" {
		return orchestrator.Rejected(orchestrator.Action(f.Action), taskerr.Internal(nil, "missing request id"))
	}
	return &orchestrator.Response{Status: orchestrator.StatusSuccess, Action: orchestrator.Action(f.Action)}
}

func TestServer_MalformedArguments(t *testing.T) {
	h := &recordingHandler{}
	s, err := NewServer(nil, h)
	require.NoError(t, err)

	res, err := s.handle(context.Background(), &mcp.CallToolRequest{
		Params: &mcp.CallToolParamsRaw{Name: ToolName, Arguments: json.RawMessage(`{"action":`)},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Empty(t, h.got)

	var resp orchestrator.Response
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].(*mcp.TextContent).Text), &resp))
	assert.Equal(t, taskerr.CodeInvalidPayload, resp.Error.Code)
}

func TestServer_RecordsMetrics(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	tt.Install(t)

	h := &recordingHandler{}
	s, err := NewServer(&Config{Metrics: NewMetrics(zap.NewNop())}, h)
	require.NoError(t, err)
	cs := connect(t, s)

	res, _ := call(t, cs, map[string]any{"action": "get_status"})
	require.False(t, res.IsError)
	require.Len(t, h.got, 1)

	assert.Equal(t, int64(1), tt.CounterValue(t, "taskmaster.mcp.tool.invocations_total",
		attribute.String("action", "get_status")))
	assert.Zero(t, tt.CounterValue(t, "taskmaster.mcp.tool.errors_total"))
}
