// Package model defines the records shared by the benchmark engine and its
// storage layer: sessions, runs, reservation data and declared capabilities.
package model

import "github.com/hpungsan/mcpeval/internal/scorecard"

// StateTag identifies a benchmark state. Tags are persisted, so existing
// values must never be renamed.
type StateTag string

const (
	StateIdle                StateTag = "IdleState"
	StateAwaitingCategory    StateTag = "AwaitingCategoryState"
	StateAwaitingMenu        StateTag = "AwaitingMenuState"
	StateAwaitingElicitation StateTag = "AwaitingElicitationState"
	StateAwaitingDetailsTool StateTag = "AwaitingDetailsToolState"
	StateAwaitingConfirm     StateTag = "AwaitingConfirmationState"
	StateAwaitingVerify      StateTag = "AwaitingVerificationState"
	StateFinished            StateTag = "FinishedState"
)

// AllStates lists every valid tag in flow order.
var AllStates = []StateTag{
	StateIdle,
	StateAwaitingCategory,
	StateAwaitingMenu,
	StateAwaitingElicitation,
	StateAwaitingDetailsTool,
	StateAwaitingConfirm,
	StateAwaitingVerify,
	StateFinished,
}

// Valid reports whether t is one of AllStates.
func (t StateTag) Valid() bool {
	for _, s := range AllStates {
		if s == t {
			return true
		}
	}
	return false
}

// Run statuses.
const (
	RunInProgress = "in_progress"
	RunCompleted  = "completed"
)

// Capabilities records which optional protocol features a client declared
// during initialization. Immutable for the lifetime of a run.
type Capabilities struct {
	Elicitation bool `json:"elicitation,omitempty"`
	Sampling    bool `json:"sampling,omitempty"`
	Roots       bool `json:"roots,omitempty"`
}

// ClientInfo identifies the client implementation.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitParams is what the client sent in its initialize request.
type InitParams struct {
	ProtocolVersion string       `json:"protocol_version,omitempty"`
	ClientInfo      ClientInfo   `json:"client_info"`
	Capabilities    Capabilities `json:"capabilities"`
}

// Reservation is the data collected during a run. Fields fill in as the
// flow advances and are cleared when the session starts over.
type Reservation struct {
	Category          string `json:"category,omitempty"`
	Menu              string `json:"menu,omitempty"`
	Guests            int    `json:"guests,omitempty"`
	Time              string `json:"time,omitempty"`
	ConfirmationEmail string `json:"confirmation_email,omitempty"`
	ConfirmationCode  string `json:"confirmation_code,omitempty"`
}

// IsZero reports whether no field has been set.
func (r Reservation) IsZero() bool {
	return r == Reservation{}
}

// Session is the stored per-connection record.
type Session struct {
	ID          string      `json:"id"`
	RunID       *string     `json:"run_id,omitempty"`
	State       StateTag    `json:"state"`
	Reservation Reservation `json:"reservation"`
	InitParams  InitParams  `json:"init_params"`
	CreatedAt   int64       `json:"created_at"`
	UpdatedAt   int64       `json:"updated_at"`
}

// Run is one attempt at the benchmark.
type Run struct {
	ID                   string              `json:"id"`
	SessionID            string              `json:"session_id"`
	ClientID             string              `json:"client_id"`
	ClientName           string              `json:"client_name,omitempty"`
	ClientVersion        string              `json:"client_version,omitempty"`
	DeclaredCapabilities Capabilities        `json:"declared_capabilities"`
	Status               string              `json:"status"`
	Success              *bool               `json:"success,omitempty"`
	Score                int                 `json:"score"`
	Details              scorecard.Scorecard `json:"details,omitempty"`
	TimeToCompletionMS   *int64              `json:"time_to_completion_ms,omitempty"`
	CreatedAt            int64               `json:"created_at"`
	CompletedAt          *int64              `json:"completed_at,omitempty"`
}

// Completed reports whether the run has been finalized.
func (r *Run) Completed() bool {
	return r != nil && r.Status == RunCompleted
}

// Succeeded reports whether the run finished successfully.
func (r *Run) Succeeded() bool {
	return r != nil && r.Success != nil && *r.Success
}

// RunResult is the final outcome written when a run is finalized.
type RunResult struct {
	Success bool                `json:"success"`
	Score   int                 `json:"score"`
	Details scorecard.Scorecard `json:"details"`
}
