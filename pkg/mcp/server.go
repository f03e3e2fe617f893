package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/engine"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/store"
	"github.com/martinzahumensky-bigz/amygdala-sub000/internal/validation"
	"github.com/martinzahumensky-bigz/amygdala-sub000/pkg/schema"
)

// Runner drives automation executions and previews. *engine.Engine
// satisfies it.
type Runner interface {
	Execute(ctx context.Context, automationID string, triggerData map[string]any, opts engine.ExecuteOptions) (*schema.AutomationRun, error)
	Preview(ctx context.Context, automationID string, triggerData map[string]any) (*engine.Preview, error)
}

// AmygdalaServerDeps holds the dependencies for creating an AmygdalaServer.
type AmygdalaServerDeps struct {
	Runner    Runner
	Store     store.Store
	Validator validation.Validator
	Logger    *slog.Logger
}

// AmygdalaServer wraps an MCP server with automation tool handlers.
type AmygdalaServer struct {
	runner    Runner
	store     store.Store
	validator validation.Validator
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewAmygdalaServer creates a new AmygdalaServer with all 4 tools registered.
func NewAmygdalaServer(deps AmygdalaServerDeps) *AmygdalaServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &AmygdalaServer{
		runner:    deps.Runner,
		store:     deps.Store,
		validator: deps.Validator,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"amygdala",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Amygdala is an automation engine for data catalog records. Use automation.execute to run an automation (optionally as a dry run), automation.preview to see what a run would do without side effects, automation.define to create or update an automation definition, and automation.query to list automations and run history."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *AmygdalaServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom
// transports.
func (s *AmygdalaServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 4 registered MCP tools as ServerTool entries.
func (s *AmygdalaServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: previewTool(), Handler: s.handlePreview},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func executeTool() mcp.Tool {
	return mcp.NewTool("automation.execute",
		mcp.WithDescription("Execute an automation and return its run record"),
		mcp.WithString("automation_id", mcp.Required(), mcp.Description("ID of the automation to execute")),
		mcp.WithObject("trigger_data", mcp.Description("Trigger payload; a 'record' key supplies the record the run operates on")),
		mcp.WithBoolean("dry_run", mcp.Description("Preview every action without side effects (default: false)")),
	)
}

func previewTool() mcp.Tool {
	return mcp.NewTool("automation.preview",
		mcp.WithDescription("Report which records an automation would touch and a coarse duration estimate, without executing anything"),
		mcp.WithString("automation_id", mcp.Required(), mcp.Description("ID of the automation to preview")),
		mcp.WithObject("trigger_data", mcp.Description("Trigger payload; a 'record' key supplies the record the run would operate on")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("automation.define",
		mcp.WithDescription("Create or update an automation definition. Definitions are validated before being stored; include an 'id' to update an existing automation"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Full automation document: name, trigger, conditions, actions, settings")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("automation.query",
		mcp.WithDescription("Query automations or run history"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("automations", "runs", "run"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (enabled, trigger_type, automation_id, run_id, status, since, limit, offset)")),
	)
}
