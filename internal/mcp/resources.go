package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/mcpeval/internal/bench"
	"github.com/hpungsan/mcpeval/internal/errors"
)

// Resource URIs.
const (
	RestaurantListURI    = "mcp://benchmark/restaurants"
	ConfirmationEmailURI = "mcp://benchmark-server/confirmation_email"
	ResultsURI           = "mcp://benchmark-server/results"
)

type resourceEntry struct {
	def     mcp.Resource
	handler func(*Handlers) server.ResourceHandlerFunc
}

// resourceRegistry lists every resource. All are registered up front; reads
// are refused unless the session's state has enabled the handle.
var resourceRegistry = map[string]resourceEntry{
	bench.ResourceRestaurantList: {
		def: mcp.NewResource(RestaurantListURI, bench.ResourceRestaurantList,
			mcp.WithResourceDescription("Food categories, or the restaurants of the chosen category."),
			mcp.WithMIMEType("application/json"),
		),
		handler: func(h *Handlers) server.ResourceHandlerFunc { return h.ReadRestaurantList },
	},
	bench.ResourceConfirmationEmail: {
		def: mcp.NewResource(ConfirmationEmailURI, bench.ResourceConfirmationEmail,
			mcp.WithResourceDescription("The confirmation email for the current reservation."),
			mcp.WithMIMEType("text/plain"),
		),
		handler: func(h *Handlers) server.ResourceHandlerFunc { return h.ReadConfirmationEmail },
	},
	bench.ResourceResults: {
		def: mcp.NewResource(ResultsURI, bench.ResourceResults,
			mcp.WithResourceDescription("Score, timing and leaderboard rank of the latest run."),
			mcp.WithMIMEType("text/plain"),
		),
		handler: func(h *Handlers) server.ResourceHandlerFunc { return h.ReadResults },
	},
}

// ReadRestaurantList serves the catalog as this session sees it.
func (h *Handlers) ReadRestaurantList(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id, err := h.gate(ctx, bench.ResourceRestaurantList)
	if err != nil {
		return nil, err
	}

	var category string
	if err := h.registry.Do(id, func(s *bench.Session) error {
		category = s.Reservation().Category
		return nil
	}); err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(h.catalog.List(id, category), "", "  ")
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return textContents(req.Params.URI, "application/json", string(data)), nil
}

// ReadConfirmationEmail serves the generated email.
func (h *Handlers) ReadConfirmationEmail(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id, err := h.gate(ctx, bench.ResourceConfirmationEmail)
	if err != nil {
		return nil, err
	}

	var email string
	if err := h.registry.Do(id, func(s *bench.Session) error {
		email = s.Reservation().ConfirmationEmail
		return nil
	}); err != nil {
		return nil, err
	}
	return textContents(req.Params.URI, "text/plain", email), nil
}

// ReadResults serves the outcome of the session's latest run.
func (h *Handlers) ReadResults(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id, err := h.gate(ctx, bench.ResourceResults)
	if err != nil {
		return nil, err
	}

	out, err := bench.LoadOutcome(ctx, h.opts.Store, id)
	if err != nil {
		return nil, err
	}
	return textContents(req.Params.URI, "text/plain", out.Text()), nil
}

// gate returns the caller's session id if the resource is enabled for it.
func (h *Handlers) gate(ctx context.Context, name string) (string, error) {
	id := sessionID(ctx)
	board := h.board(id)
	if board == nil {
		return "", errors.NewNotFound("session", id)
	}
	if !board.Enabled(name) {
		return "", errors.NewInvalidState("", fmt.Sprintf("resource %s is not available at this step", name))
	}
	return id, nil
}

func textContents(uri, mimeType, text string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{URI: uri, MIMEType: mimeType, Text: text},
	}
}
