package bench

import (
	"context"

	"github.com/hpungsan/mcpeval/internal/model"
)

type idleState struct{ base }

// EnterToggles resets the registry to a clean slate with only
// start_benchmark exposed, whatever the previous state left enabled.
func (idleState) EnterToggles() []Toggle {
	var others []string
	for _, h := range Handles() {
		if h != ToolStartBenchmark {
			others = append(others, h)
		}
	}
	return append(disable(others...), enable(ToolStartBenchmark)...)
}

func (idleState) ExitToggles() []Toggle {
	return disable(ToolStartBenchmark)
}

func (idleState) Start(ctx context.Context, s *Session) (*Reply, error) {
	if err := s.ensureRun(ctx); err != nil {
		return nil, err
	}
	if err := s.advance(ctx, stateOf(model.StateAwaitingCategory), nil); err != nil {
		return nil, err
	}
	return s.reply("Benchmark started. Please choose a food category from the restaurant list."), nil
}
