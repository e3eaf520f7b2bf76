package bench

import (
	"context"
	"fmt"

	"github.com/hpungsan/mcpeval/internal/errors"
	"github.com/hpungsan/mcpeval/internal/model"
	"github.com/hpungsan/mcpeval/internal/scorecard"
)

type verificationState struct{ base }

func (verificationState) EnterToggles() []Toggle {
	return enable(ToolVerifyCode, ResourceConfirmationEmail)
}

func (verificationState) ExitToggles() []Toggle {
	return disable(ToolVerifyCode, ResourceConfirmationEmail)
}

// VerifyCode compares the submitted code with the generated one, exactly and
// case-sensitively. A mismatch ends the run as failed but leaves the session
// here; try_again and the results resource become available.
func (verificationState) VerifyCode(ctx context.Context, s *Session, code string) (*Reply, error) {
	if s.completed {
		return nil, errors.NewRunCompleted(s.runIDString())
	}

	expected := s.res.ConfirmationCode
	if code == expected {
		if err := s.award(ctx, scorecard.CheckResourceReading, scorecard.StatusPassed, 25, "Inferred from correct code submission."); err != nil {
			return nil, err
		}
		if err := s.award(ctx, scorecard.CheckCodeVerify, scorecard.StatusPassed, 25, "Client submitted the correct code."); err != nil {
			return nil, err
		}
		if err := s.finalize(ctx, true); err != nil {
			return nil, err
		}
		if err := s.advance(ctx, stateOf(model.StateFinished), clearReservation); err != nil {
			return nil, err
		}
		return s.reply("Verification successful! Your reservation is confirmed."), nil
	}

	if err := s.award(ctx, scorecard.CheckResourceReading, scorecard.StatusFailed, 0, "Cannot confirm resource was read due to incorrect code."); err != nil {
		return nil, err
	}
	if err := s.award(ctx, scorecard.CheckCodeVerify, scorecard.StatusFailed, 0, fmt.Sprintf("Incorrect code. Expected %s, got %s.", expected, code)); err != nil {
		return nil, err
	}
	if err := s.finalize(ctx, false); err != nil {
		return nil, err
	}
	s.toggler.Apply(enable(ToolTryAgain, ResourceResults))

	return s.reply(fmt.Sprintf("Verification failed. Incorrect code provided. Expected %s but got %s. Call try_again to start a new run.", expected, code)), nil
}

// TryAgain is legal here once a mismatch has completed the run.
func (v verificationState) TryAgain(ctx context.Context, s *Session) (*Reply, error) {
	if !s.completed {
		return v.base.TryAgain(ctx, s)
	}
	return s.restart(ctx)
}
