package bench

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hpungsan/mcpeval/internal/model"
	"github.com/hpungsan/mcpeval/internal/scorecard"
)

const elicitationMessage = "Please provide the reservation details."

type elicitationState struct{ base }

// Enter asks the client for the details. The request is sent whatever the
// client declared; the outcome alone decides the score and the next state.
func (elicitationState) Enter(ctx context.Context, s *Session) error {
	s.log.Debug("entering state", zap.String("state", string(model.StateAwaitingElicitation)))

	if s.peer == nil {
		return failElicitation(ctx, s, "Client connection cannot receive server requests.")
	}

	resp, err := s.peer.Elicit(ctx, ElicitRequest{Message: elicitationMessage, Schema: DetailsSchema()})
	if err != nil {
		s.log.Warn("elicitation request failed", zap.Error(err))
		return failElicitation(ctx, s, "Elicitation request failed: "+err.Error())
	}
	if resp == nil || resp.Action != ElicitAccept {
		action := "no response"
		if resp != nil {
			action = string(resp.Action)
		}
		return failElicitation(ctx, s, fmt.Sprintf("Client did not accept the elicitation request (%s).", action))
	}

	details, fields := ValidateDetails(resp.Content)
	if fields != nil {
		return failElicitation(ctx, s, "Client returned invalid elicitation data: "+describeFields(fields))
	}

	if err := s.award(ctx, scorecard.CheckElicitation, scorecard.StatusPassed, 25, "Client provided valid reservation details via elicitation."); err != nil {
		return err
	}
	return s.advance(ctx, stateOf(model.StateAwaitingConfirm), func(r *model.Reservation) {
		r.Guests = details.Guests
		r.Time = details.Time
	})
}

// failElicitation scores the failure, ends the run and moves to Finished.
func failElicitation(ctx context.Context, s *Session, note string) error {
	if err := s.award(ctx, scorecard.CheckElicitation, scorecard.StatusFailed, 0, note); err != nil {
		return err
	}
	if err := s.finalize(ctx, false); err != nil {
		return err
	}
	return s.advance(ctx, stateOf(model.StateFinished), clearReservation)
}
