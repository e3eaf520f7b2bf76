package mcp

import (
	"context"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hpungsan/mcpeval/internal/bench"
	"github.com/hpungsan/mcpeval/internal/catalog"
	"github.com/hpungsan/mcpeval/internal/config"
	"github.com/hpungsan/mcpeval/internal/db"
	"github.com/hpungsan/mcpeval/internal/metrics"
)

// ServerName is reported to clients during initialization.
const ServerName = "mcpeval"

const instructions = "This server benchmarks MCP client capabilities by walking through a restaurant reservation. " +
	"Call start_benchmark to begin; tools and resources appear as each step becomes available."

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
// Tools are never registered globally; each session gets the ones its state
// enables.
var toolRegistry = map[string]toolEntry{
	bench.ToolStartBenchmark: {
		def:     startToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStart },
	},
	bench.ToolChooseCategory: {
		def:     chooseCategoryToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleChooseCategory },
	},
	bench.ToolSelectMenu: {
		def:     selectMenuToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSelectMenu },
	},
	bench.ToolSubmitDetails: {
		def:     submitDetailsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSubmitDetails },
	},
	bench.ToolGetConfirmation: {
		def:     getConfirmationToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGetConfirmation },
	},
	bench.ToolVerifyCode: {
		def:     verifyCodeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleVerifyCode },
	},
	bench.ToolTryAgain: {
		def:     tryAgainToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleTryAgain },
	},
}

// AllToolNames returns a sorted list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// Deps are the collaborators the server wires into every session.
type Deps struct {
	Store   *db.Store
	Catalog *catalog.Catalog
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Recorder
}

// NewServer creates the MCP server with benchmark resources registered and
// session hooks installed. Tools are added per session as the run advances;
// those listed in cfg.DisabledTools are never exposed.
func NewServer(deps Deps, version string) (*server.MCPServer, *Handlers) {
	h := NewHandlers(deps)

	s := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithElicitation(),
		server.WithHooks(h.hooks()),
		server.WithInstructions(instructions),
	)
	s.EnableSampling()

	h.bind(s)
	for _, res := range resourceRegistry {
		s.AddResource(res.def, res.handler(h))
	}
	return s, h
}

// Run serves MCP over stdio until stdin closes.
func Run(deps Deps, version string) error {
	s, _ := NewServer(deps, version)
	return server.ServeStdio(s, server.WithErrorLogger(zap.NewStdLog(deps.logger())))
}

// HTTPServer serves MCP over streamable HTTP.
type HTTPServer struct {
	inner *server.StreamableHTTPServer
	addr  string
	log   *zap.Logger
}

// NewHTTPServer builds the streamable HTTP transport on addr.
func NewHTTPServer(deps Deps, version, addr string) *HTTPServer {
	s, _ := NewServer(deps, version)
	return &HTTPServer{
		inner: server.NewStreamableHTTPServer(s),
		addr:  addr,
		log:   deps.logger(),
	}
}

// Start blocks serving requests until Shutdown is called.
func (h *HTTPServer) Start() error {
	h.log.Info("mcp http server listening", zap.String("addr", h.addr))
	return h.inner.Start(h.addr)
}

// Shutdown stops the server, closing live sessions.
func (h *HTTPServer) Shutdown(ctx context.Context) error {
	return h.inner.Shutdown(ctx)
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}
