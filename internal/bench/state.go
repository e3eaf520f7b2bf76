package bench

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hpungsan/mcpeval/internal/errors"
	"github.com/hpungsan/mcpeval/internal/model"
)

// State is one phase of a run. Each variant owns its legal actions, the
// handles it enables and disables, and its outgoing transitions. Actions a
// variant does not override are rejected with INVALID_STATE.
type State interface {
	Tag() model.StateTag

	// EnterToggles and ExitToggles are applied in one batch per transition:
	// all exit toggles of the outgoing state, then all entry toggles.
	EnterToggles() []Toggle
	ExitToggles() []Toggle

	// Enter runs after the new state is persisted and may block.
	Enter(ctx context.Context, s *Session) error
	// Exit runs before the swap. It only logs and cannot fail a transition.
	Exit(ctx context.Context, s *Session)

	Start(ctx context.Context, s *Session) (*Reply, error)
	ChooseCategory(ctx context.Context, s *Session, category string) (*Reply, error)
	SelectOption(ctx context.Context, s *Session, id string) (*Reply, error)
	SubmitDetails(ctx context.Context, s *Session, data map[string]any) (*Reply, error)
	GetConfirmation(ctx context.Context, s *Session) (*Reply, error)
	VerifyCode(ctx context.Context, s *Session, code string) (*Reply, error)
	TryAgain(ctx context.Context, s *Session) (*Reply, error)
}

// stateFor resolves a persisted tag through the closed set of variants.
// Unknown tags are fatal for the session.
func stateFor(tag model.StateTag) (State, error) {
	switch tag {
	case model.StateIdle:
		return idleState{base{tag, "Call start_benchmark to begin."}}, nil
	case model.StateAwaitingCategory:
		return categoryState{base{tag, "Choose a food category with choose_food_category."}}, nil
	case model.StateAwaitingMenu:
		return menuState{base{tag, "Select a menu with select_menu."}}, nil
	case model.StateAwaitingElicitation:
		return elicitationState{base{tag, "Answer the pending elicitation request."}}, nil
	case model.StateAwaitingDetailsTool:
		return detailsState{base{tag, "Submit the reservation details with submit_reservation_details."}}, nil
	case model.StateAwaitingConfirm:
		return confirmationState{base{tag, "Call get_confirmation_email next."}}, nil
	case model.StateAwaitingVerify:
		return verificationState{base{tag, "Read the confirmation_email resource and call verify_confirmation_code."}}, nil
	case model.StateFinished:
		return finishedState{base{tag, "Read the benchmark_results resource or call try_again."}}, nil
	}
	return nil, errors.NewUnknownState(string(tag))
}

// stateOf returns the variant for a tag known at compile time.
func stateOf(tag model.StateTag) State {
	st, err := stateFor(tag)
	if err != nil {
		panic(err)
	}
	return st
}

// base supplies the default behavior: log on enter/exit, toggle nothing,
// reject every action.
type base struct {
	tag  model.StateTag
	hint string
}

func (b base) Tag() model.StateTag { return b.tag }

func (b base) EnterToggles() []Toggle { return nil }

func (b base) ExitToggles() []Toggle { return nil }

func (b base) Enter(_ context.Context, s *Session) error {
	s.log.Debug("entering state", zap.String("state", string(b.tag)))
	return nil
}

func (b base) Exit(_ context.Context, s *Session) {
	s.log.Debug("exiting state", zap.String("state", string(b.tag)))
}

func (b base) reject(s *Session, action string) error {
	s.metrics.Rejected(string(b.tag), action)
	s.log.Info("action rejected", zap.String("state", string(b.tag)), zap.String("action", action))
	return errors.NewInvalidState(string(b.tag), fmt.Sprintf("%s is not available in %s. %s", action, b.tag, b.hint))
}

func (b base) Start(_ context.Context, s *Session) (*Reply, error) {
	return nil, b.reject(s, ToolStartBenchmark)
}

func (b base) ChooseCategory(_ context.Context, s *Session, _ string) (*Reply, error) {
	return nil, b.reject(s, ToolChooseCategory)
}

func (b base) SelectOption(_ context.Context, s *Session, _ string) (*Reply, error) {
	return nil, b.reject(s, ToolSelectMenu)
}

func (b base) SubmitDetails(_ context.Context, s *Session, _ map[string]any) (*Reply, error) {
	return nil, b.reject(s, ToolSubmitDetails)
}

func (b base) GetConfirmation(_ context.Context, s *Session) (*Reply, error) {
	return nil, b.reject(s, ToolGetConfirmation)
}

func (b base) VerifyCode(_ context.Context, s *Session, _ string) (*Reply, error) {
	return nil, b.reject(s, ToolVerifyCode)
}

func (b base) TryAgain(_ context.Context, s *Session) (*Reply, error) {
	return nil, b.reject(s, ToolTryAgain)
}
