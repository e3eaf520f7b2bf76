package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hpungsan/mcpeval/internal/bench"
)

// clientPeer issues elicitation and sampling requests to the client session
// carried by ctx.
type clientPeer struct {
	srv *server.MCPServer
}

func (p clientPeer) Elicit(ctx context.Context, req bench.ElicitRequest) (*bench.ElicitResponse, error) {
	res, err := p.srv.RequestElicitation(ctx, mcp.ElicitationRequest{
		Params: mcp.ElicitationParams{
			Message:         req.Message,
			RequestedSchema: req.Schema,
		},
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("empty elicitation result")
	}

	content, err := asObject(res.Content)
	if err != nil {
		return nil, fmt.Errorf("elicitation content: %w", err)
	}
	return &bench.ElicitResponse{Action: bench.ElicitAction(res.Action), Content: content}, nil
}

func (p clientPeer) Sample(ctx context.Context, req bench.SampleRequest) (string, error) {
	res, err := p.srv.RequestSampling(ctx, mcp.CreateMessageRequest{
		CreateMessageParams: mcp.CreateMessageParams{
			Messages: []mcp.SamplingMessage{
				{Role: mcp.RoleUser, Content: mcp.NewTextContent(req.Prompt)},
			},
			MaxTokens: req.MaxTokens,
		},
	})
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", nil
	}
	return textOf(res.Content), nil
}

// asObject normalizes decoded elicitation content to a JSON object.
func asObject(v any) (map[string]any, error) {
	switch c := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return c, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// textOf extracts text from sampling content, which arrives typed or as a
// raw JSON object depending on the transport.
func textOf(content any) string {
	switch c := content.(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		if c != nil {
			return c.Text
		}
	case map[string]any:
		if t, _ := c["type"].(string); t == "text" {
			s, _ := c["text"].(string)
			return s
		}
	}
	return ""
}
