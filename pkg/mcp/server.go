package mcp

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lockstep-run/lockstep/internal/validation"
	"github.com/lockstep-run/lockstep/internal/workspace"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// LockstepServerDeps holds the dependencies for creating a LockstepServer.
type LockstepServerDeps struct {
	Workspaces     workspace.Resolver
	Definitions    *validation.DefinitionValidator
	DefaultTimeout time.Duration
	MaxOutputSize  int64
	Logger         *slog.Logger
}

// LockstepServer wraps an MCP server with the lockstep.run tool.
type LockstepServer struct {
	workspaces     workspace.Resolver
	definitions    *validation.DefinitionValidator
	defaultTimeout time.Duration
	maxOutputSize  int64
	logger         *slog.Logger
	mcpServer      *server.MCPServer
}

// NewLockstepServer creates a LockstepServer with the run tool registered.
func NewLockstepServer(deps LockstepServerDeps) *LockstepServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &LockstepServer{
		workspaces:     deps.Workspaces,
		definitions:    deps.Definitions,
		defaultTimeout: deps.DefaultTimeout,
		maxOutputSize:  deps.MaxOutputSize,
		logger:         logger,
	}

	mcpSrv := server.NewMCPServer(
		"lockstep",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Lockstep is a deterministic workflow interpreter. Call lockstep.run with a workflow document to execute it; when the result is status=needs_agent, produce JSON matching each request's schema, then call lockstep.run again with the same run_id, the returned results and attempts, and your output keyed by requestId under agentOutputs."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or
// stdin closes.
func (s *LockstepServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *LockstepServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *LockstepServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
	}
}

func runTool() mcp.Tool {
	return mcp.NewTool("lockstep.run",
		mcp.WithDescription("Run or resume a workflow. Returns status=done with results, or status=needs_agent with pause requests to fulfill via agentOutputs on the next call."),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Caller identity; resolves the workspace root")),
		mcp.WithString("run_id", mcp.Description("Run identifier; generated when absent, required to resume")),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow document: name?, version?, vars?, steps[]")),
		mcp.WithObject("vars", mcp.Description("Variable overrides merged over the workflow's declared vars")),
		mcp.WithObject("results", mcp.Description("Prior step results from the last call (resume state)")),
		mcp.WithObject("agentOutputs", mcp.Description("Produced agent output keyed by requestId")),
		mcp.WithObject("attempts", mcp.Description("Prior attempt counters from the last call (resume state)")),
		mcp.WithObject("ref", mcp.Description("Reference resolution settings: schemaPaths is an array of workspace-relative directories searched for $ref schemas")),
	)
}
