package bench

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hpungsan/mcpeval/internal/errors"
	"github.com/hpungsan/mcpeval/internal/model"
)

type menuState struct{ base }

func (menuState) EnterToggles() []Toggle {
	return enable(ToolSelectMenu, ResourceRestaurantList)
}

func (menuState) ExitToggles() []Toggle {
	return disable(ToolSelectMenu, ResourceRestaurantList)
}

func (menuState) SelectOption(ctx context.Context, s *Session, id string) (*Reply, error) {
	category := s.res.Category
	opt, ok := s.catalog.Find(s.id, category, id)
	if !ok {
		return nil, errors.NewValidation(
			fmt.Sprintf("menu with id %q not found in category %q", id, category),
			map[string]string{"menu_id": "read the restaurant_list resource for valid ids"},
		)
	}

	path := ChooseContinuation(s.caps)
	s.log.Info("menu selected", zap.String("menu", opt.Name), zap.Stringer("path", path))

	next := stateOf(model.StateAwaitingDetailsTool)
	if path == ElicitationPath {
		next = stateOf(model.StateAwaitingElicitation)
	}

	// On the elicitation path the request runs inside this call, so the
	// session may already have moved on when advance returns.
	err := s.advance(ctx, next, func(r *model.Reservation) {
		r.Menu = opt.Name
	})
	if err != nil {
		return nil, err
	}

	switch s.state.Tag() {
	case model.StateAwaitingConfirm:
		return s.reply(fmt.Sprintf("Menu '%s' selected and reservation details received. Call get_confirmation_email next.", opt.Name)), nil
	case model.StateFinished:
		return s.reply(fmt.Sprintf("Menu '%s' selected, but the reservation details could not be collected. The run has ended; read benchmark_results or call try_again.", opt.Name)), nil
	default:
		return s.reply(fmt.Sprintf("Menu '%s' selected. Please provide details for your reservation using submit_reservation_details.", opt.Name)), nil
	}
}
