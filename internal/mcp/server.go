package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskmaster/internal/logging"
	"github.com/fyrsmithlabs/taskmaster/internal/orchestrator"
)

// ToolName is the single tool the server registers.
const ToolName = "taskmaster"

const toolDescription = `Supervise a task session through planning, execution and validation.

Start with create_session, then declare_capabilities with the tools you have,
then create_tasklist. Loop execute_next and validate_task until every task is
completed. Each response names the next_action and the tools to use for the
current phase. Set next_action_needed=false to drop guidance text.`

// Handler executes flat requests.
type Handler interface {
	HandleFlat(ctx context.Context, f orchestrator.FlatRequest) *orchestrator.Response
}

// Config configures the MCP server.
type Config struct {
	// Name is the implementation name (default: "taskmaster")
	Name string

	// Version is the implementation version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// Metrics is optional
	Metrics *Metrics
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "taskmaster",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// Server serves the taskmaster tool.
type Server struct {
	mcp     *mcp.Server
	handler Handler
	metrics *Metrics
	logger  *zap.Logger
}

// NewServer registers the taskmaster tool backed by h.
func NewServer(cfg *Config, h Handler) (*Server, error) {
	if h == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}

	s := &Server{
		mcp: mcp.NewServer(
			&mcp.Implementation{Name: cfg.Name, Version: cfg.Version},
			&mcp.ServerOptions{Instructions: toolDescription},
		),
		handler: h,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}

	s.mcp.AddTool(&mcp.Tool{
		Name:        ToolName,
		Description: toolDescription,
		InputSchema: inputSchema(),
	}, s.handle)

	return s, nil
}

func (s *Server) handle(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ctx = logging.WithRequestID(ctx, uuid.NewString())
	done := s.metrics.begin(ctx)

	var raw json.RawMessage
	if req != nil && req.Params != nil {
		raw = req.Params.Arguments
	}

	var resp *orchestrator.Response
	f, err := orchestrator.DecodeFlat(raw)
	if err != nil {
		s.logger.Warn("rejected malformed tool arguments", zap.Error(err))
		resp = orchestrator.Rejected("", err)
	} else {
		resp = s.handler.HandleFlat(ctx, f)
	}
	done(orchestrator.Action(f.Action), resp)

	return toolResult(resp)
}

// toolResult renders resp as JSON text plus structured content.
func toolResult(resp *orchestrator.Response) (*mcp.CallToolResult, error) {
	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return &mcp.CallToolResult{
		Content:           []mcp.Content{&mcp.TextContent{Text: string(body)}},
		StructuredContent: json.RawMessage(body),
		IsError:           !resp.OK(),
	}, nil
}

// Run serves on stdin/stdout until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Connect serves one session on t.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcp.Connect(ctx, t, nil)
}
