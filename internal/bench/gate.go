package bench

import "github.com/hpungsan/mcpeval/internal/model"

// Path is the continuation chosen after a menu is selected.
type Path int

const (
	// ToolPath collects details through the submit_reservation_details tool.
	ToolPath Path = iota
	// ElicitationPath asks the client for details with an elicitation request.
	ElicitationPath
)

func (p Path) String() string {
	if p == ElicitationPath {
		return "elicitation"
	}
	return "tool"
}

// ChooseContinuation picks how reservation details are collected.
func ChooseContinuation(caps model.Capabilities) Path {
	if caps.Elicitation {
		return ElicitationPath
	}
	return ToolPath
}

// ShouldAttemptGeneration reports whether the confirmation email is requested
// from the client through sampling.
func ShouldAttemptGeneration(caps model.Capabilities) bool {
	return caps.Sampling
}
