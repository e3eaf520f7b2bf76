package bench

import (
	"context"

	"github.com/hpungsan/mcpeval/internal/errors"
	"github.com/hpungsan/mcpeval/internal/model"
	"github.com/hpungsan/mcpeval/internal/scorecard"
)

type detailsState struct{ base }

func (detailsState) EnterToggles() []Toggle {
	return enable(ToolSubmitDetails)
}

func (detailsState) ExitToggles() []Toggle {
	return disable(ToolSubmitDetails)
}

// SubmitDetails is the manual fallback for clients without elicitation.
// Invalid data is rejected without scoring; valid data still earns no
// elicitation credit.
func (detailsState) SubmitDetails(ctx context.Context, s *Session, data map[string]any) (*Reply, error) {
	details, fields := ValidateDetails(data)
	if fields != nil {
		return nil, errors.NewValidation("invalid reservation details: "+describeFields(fields), fields)
	}

	if err := s.award(ctx, scorecard.CheckElicitation, scorecard.StatusFailed, 0, "Client submitted data via a tool call instead of elicitation."); err != nil {
		return nil, err
	}

	err := s.advance(ctx, stateOf(model.StateAwaitingConfirm), func(r *model.Reservation) {
		r.Guests = details.Guests
		r.Time = details.Time
	})
	if err != nil {
		return nil, err
	}
	return s.reply("Reservation details accepted. Call get_confirmation_email next."), nil
}
