package mcp

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/hpungsan/mcpeval/internal/bench"
	"github.com/hpungsan/mcpeval/internal/catalog"
	"github.com/hpungsan/mcpeval/internal/errors"
	"github.com/hpungsan/mcpeval/internal/logging"
)

// Handlers holds dependencies for MCP tool and resource handlers.
type Handlers struct {
	srv      *server.MCPServer
	peer     bench.Peer
	registry *bench.Registry
	opts     bench.Options
	catalog  *catalog.Catalog
	disabled map[string]bool
	log      *zap.Logger

	mu       sync.Mutex
	togglers map[string]*sessionToggler
}

// NewHandlers creates a new Handlers instance. Unknown names in
// cfg.DisabledTools are logged and otherwise ignored.
func NewHandlers(deps Deps) *Handlers {
	log := deps.logger()
	cat := deps.Catalog
	if cat == nil {
		cat = catalog.Default()
	}

	h := &Handlers{
		registry: bench.NewRegistry(deps.Metrics),
		catalog:  cat,
		disabled: make(map[string]bool),
		log:      log,
		togglers: make(map[string]*sessionToggler),
		opts: bench.Options{
			Catalog: cat,
			Logger:  log,
			Metrics: deps.Metrics,
		},
	}
	if deps.Store != nil {
		h.opts.Store = deps.Store
	}
	if cfg := deps.Config; cfg != nil {
		h.opts.SamplingTimeout = cfg.SamplingTimeout()
		h.opts.SamplingMaxTokens = cfg.SamplingMaxTokens
		if unknown := ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
			log.Warn("unknown tools in disabled_tools", zap.Strings("tools", unknown))
		}
		for _, name := range cfg.DisabledTools {
			h.disabled[name] = true
		}
	}
	return h
}

// bind attaches the server the handlers issue client requests through.
func (h *Handlers) bind(s *server.MCPServer) {
	h.srv = s
	h.peer = clientPeer{srv: s}
}

// Registry exposes the live sessions.
func (h *Handlers) Registry() *bench.Registry { return h.registry }

// Request types for each tool

// ChooseCategoryRequest represents the arguments for choose_food_category.
type ChooseCategoryRequest struct {
	Category string `json:"category"`
}

// SelectMenuRequest represents the arguments for select_menu.
type SelectMenuRequest struct {
	MenuID string `json:"menu_id"`
}

// VerifyCodeRequest represents the arguments for verify_confirmation_code.
type VerifyCodeRequest struct {
	Code string `json:"code"`
}

// Handler implementations

// HandleStart handles the start_benchmark tool call.
func (h *Handlers) HandleStart(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.act(ctx, bench.ToolStartBenchmark, func(s *bench.Session) (*bench.Reply, error) {
		return s.Start(ctx)
	})
}

// HandleChooseCategory handles the choose_food_category tool call.
func (h *Handlers) HandleChooseCategory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ChooseCategoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.act(ctx, bench.ToolChooseCategory, func(s *bench.Session) (*bench.Reply, error) {
		return s.ChooseCategory(ctx, input.Category)
	})
}

// HandleSelectMenu handles the select_menu tool call. On the elicitation
// path the call stays open until the client answers the elicitation request.
func (h *Handlers) HandleSelectMenu(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SelectMenuRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.act(ctx, bench.ToolSelectMenu, func(s *bench.Session) (*bench.Reply, error) {
		return s.SelectOption(ctx, input.MenuID)
	})
}

// HandleSubmitDetails handles the submit_reservation_details tool call.
func (h *Handlers) HandleSubmitDetails(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[map[string]any](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	return h.act(ctx, bench.ToolSubmitDetails, func(s *bench.Session) (*bench.Reply, error) {
		return s.SubmitDetails(ctx, input)
	})
}

// HandleGetConfirmation handles the get_confirmation_email tool call.
func (h *Handlers) HandleGetConfirmation(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.act(ctx, bench.ToolGetConfirmation, func(s *bench.Session) (*bench.Reply, error) {
		return s.GetConfirmation(ctx)
	})
}

// HandleVerifyCode handles the verify_confirmation_code tool call. An empty
// code is a malformed call, not a wrong answer, and never ends the run.
func (h *Handlers) HandleVerifyCode(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[VerifyCodeRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if input.Code == "" {
		return errorResult(errors.NewValidation("code is required", map[string]string{"code": "required"})), nil
	}
	return h.act(ctx, bench.ToolVerifyCode, func(s *bench.Session) (*bench.Reply, error) {
		return s.VerifyCode(ctx, input.Code)
	})
}

// HandleTryAgain handles the try_again tool call.
func (h *Handlers) HandleTryAgain(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return h.act(ctx, bench.ToolTryAgain, func(s *bench.Session) (*bench.Reply, error) {
		return s.TryAgain(ctx)
	})
}

// act runs one action with exclusive access to the caller's session.
func (h *Handlers) act(ctx context.Context, tool string, fn func(*bench.Session) (*bench.Reply, error)) (*mcp.CallToolResult, error) {
	id := sessionID(ctx)
	var reply *bench.Reply
	err := h.registry.Do(id, func(s *bench.Session) error {
		r, err := fn(s)
		reply = r
		return err
	})
	if err != nil {
		h.logFailure(id, tool, err)
		return errorResult(err), nil
	}
	return successResult(reply)
}

func (h *Handlers) logFailure(sessionID, tool string, err error) {
	fields := []zap.Field{zap.String(logging.KeySessionID, sessionID), zap.String("tool", tool), zap.Error(err)}
	if errors.Is(err, errors.ErrInternal) || errors.Is(err, errors.ErrUnknownState) {
		h.log.Error("tool call failed", fields...)
		return
	}
	h.log.Debug("tool call rejected", fields...)
}

// sessionID returns the id of the client session behind ctx, or "" outside
// of a session.
func sessionID(ctx context.Context) string {
	if cs := server.ClientSessionFromContext(ctx); cs != nil {
		return cs.SessionID()
	}
	return ""
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	content, _ := json.Marshal(map[string]any{"error": errorPayload(err)})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

func errorPayload(err error) map[string]any {
	evalErr, ok := errors.As(err)
	if !ok || evalErr.Code == errors.ErrInternal {
		return map[string]any{
			"code":    errors.ErrInternal,
			"message": "an internal error occurred",
			"status":  500,
		}
	}
	obj := map[string]any{
		"code":    evalErr.Code,
		"message": evalErr.Message,
		"status":  evalErr.Status,
	}
	if evalErr.Details != nil {
		obj["details"] = evalErr.Details
	}
	return obj
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
