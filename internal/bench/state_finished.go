package bench

import "context"

type finishedState struct{ base }

func (finishedState) EnterToggles() []Toggle {
	return enable(ToolTryAgain, ResourceResults)
}

func (finishedState) ExitToggles() []Toggle {
	return disable(ToolTryAgain, ResourceResults)
}

func (finishedState) TryAgain(ctx context.Context, s *Session) (*Reply, error) {
	return s.restart(ctx)
}
