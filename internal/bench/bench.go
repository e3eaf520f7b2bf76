// Package bench is the benchmark engine: the per-session state machine that
// decides which client actions are legal, scores optional protocol
// capabilities against the rubric, and checkpoints every transition so a
// session can resume after a restart.
//
// The engine never talks to the wire. Storage, the tool/resource registry,
// the connected client and the restaurant catalog are reached through the
// interfaces declared here.
package bench

import (
	"context"

	"github.com/hpungsan/mcpeval/internal/catalog"
	"github.com/hpungsan/mcpeval/internal/model"
	"github.com/hpungsan/mcpeval/internal/scorecard"
)

// Tool and resource handles toggled as the session advances. Tool handles are
// also the action names used in rejections and metrics.
const (
	ToolStartBenchmark  = "start_benchmark"
	ToolChooseCategory  = "choose_food_category"
	ToolSelectMenu      = "select_menu"
	ToolSubmitDetails   = "submit_reservation_details"
	ToolGetConfirmation = "get_confirmation_email"
	ToolVerifyCode      = "verify_confirmation_code"
	ToolTryAgain        = "try_again"

	ResourceRestaurantList    = "restaurant_list"
	ResourceConfirmationEmail = "confirmation_email"
	ResourceResults           = "benchmark_results"
)

// Tools lists every tool handle.
var Tools = []string{
	ToolStartBenchmark,
	ToolChooseCategory,
	ToolSelectMenu,
	ToolSubmitDetails,
	ToolGetConfirmation,
	ToolVerifyCode,
	ToolTryAgain,
}

// Resources lists every resource handle.
var Resources = []string{
	ResourceRestaurantList,
	ResourceConfirmationEmail,
	ResourceResults,
}

// Handles returns every tool and resource handle.
func Handles() []string {
	out := make([]string, 0, len(Tools)+len(Resources))
	out = append(out, Tools...)
	return append(out, Resources...)
}

// Toggle enables or disables one handle.
type Toggle struct {
	Name   string
	Enable bool
}

func enable(names ...string) []Toggle {
	out := make([]Toggle, len(names))
	for i, n := range names {
		out[i] = Toggle{Name: n, Enable: true}
	}
	return out
}

func disable(names ...string) []Toggle {
	out := make([]Toggle, len(names))
	for i, n := range names {
		out[i] = Toggle{Name: n}
	}
	return out
}

// Toggler applies a batch of toggles as one synchronous unit, in order.
// Implementations must be idempotent: enabling an enabled handle or
// disabling a disabled one is a no-op.
type Toggler interface {
	Apply(batch []Toggle)
}

// Store is the persistence the engine depends on.
type Store interface {
	GetOrCreateSession(ctx context.Context, sessionID string, init model.InitParams) (*model.Session, error)
	CreateRunForSession(ctx context.Context, sessionID string) (string, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	UpdateRunResult(ctx context.Context, runID string, details scorecard.Scorecard) error
	UpdateSession(ctx context.Context, sessionID string, state model.StateTag, res model.Reservation) error
	FinalizeRun(ctx context.Context, sessionID string, result model.RunResult) error
	ResetSessionData(ctx context.Context, sessionID string) (string, error)
	GetLatestRunForSession(ctx context.Context, sessionID string) (*model.Run, error)
	GetAllSuccessfulRunsRanked(ctx context.Context) ([]model.Run, error)
}

// Catalog resolves categories and per-session option ids.
type Catalog interface {
	Categories() []string
	Category(name string) (string, bool)
	Find(sessionID, category, id string) (catalog.Option, bool)
}

// ElicitAction is the client's answer to an elicitation request.
type ElicitAction string

const (
	ElicitAccept  ElicitAction = "accept"
	ElicitDecline ElicitAction = "decline"
	ElicitCancel  ElicitAction = "cancel"
)

// ElicitRequest asks the client for structured input.
type ElicitRequest struct {
	Message string
	Schema  map[string]any
}

// ElicitResponse is what the client sent back.
type ElicitResponse struct {
	Action  ElicitAction
	Content map[string]any
}

// SampleRequest asks the client to generate text.
type SampleRequest struct {
	Prompt    string
	MaxTokens int
}

// Peer issues server-initiated requests to the connected client. Both calls
// block until the client answers or ctx ends.
type Peer interface {
	Elicit(ctx context.Context, req ElicitRequest) (*ElicitResponse, error)
	// Sample returns the generated text, or "" if the client answered
	// without text content.
	Sample(ctx context.Context, req SampleRequest) (string, error)
}

// Reply is the result of a successful action.
type Reply struct {
	Message string         `json:"message"`
	State   model.StateTag `json:"state"`
	RunID   string         `json:"run_id,omitempty"`
}
