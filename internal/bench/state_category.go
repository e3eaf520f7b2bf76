package bench

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/mcpeval/internal/errors"
	"github.com/hpungsan/mcpeval/internal/model"
)

type categoryState struct{ base }

func (categoryState) EnterToggles() []Toggle {
	return enable(ToolChooseCategory, ResourceRestaurantList)
}

func (categoryState) ExitToggles() []Toggle {
	return disable(ToolChooseCategory)
}

func (categoryState) ChooseCategory(ctx context.Context, s *Session, category string) (*Reply, error) {
	name, ok := s.catalog.Category(category)
	if !ok {
		return nil, errors.NewValidation(
			fmt.Sprintf("unknown food category %q", category),
			map[string]string{"category": "must be one of " + strings.Join(s.catalog.Categories(), ", ")},
		)
	}

	err := s.advance(ctx, stateOf(model.StateAwaitingMenu), func(r *model.Reservation) {
		r.Category = name
	})
	if err != nil {
		return nil, err
	}
	return s.reply(fmt.Sprintf("Category '%s' selected. Please select a menu from the restaurant list.", name)), nil
}
