package bench

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/mcpeval/internal/errors"
	"github.com/hpungsan/mcpeval/internal/model"
	"github.com/hpungsan/mcpeval/internal/scorecard"
)

type confirmationState struct{ base }

func (confirmationState) EnterToggles() []Toggle {
	return enable(ToolGetConfirmation)
}

func (confirmationState) ExitToggles() []Toggle {
	return disable(ToolGetConfirmation)
}

// GetConfirmation generates the verification code and the email carrying it,
// then always advances to verification. Sampling outcomes only affect the score.
func (confirmationState) GetConfirmation(ctx context.Context, s *Session) (*Reply, error) {
	code, err := NewCode()
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	email, err := s.confirmationEmail(ctx, code)
	if err != nil {
		return nil, err
	}

	err = s.advance(ctx, stateOf(model.StateAwaitingVerify), func(r *model.Reservation) {
		r.ConfirmationEmail = email
		r.ConfirmationCode = code
	})
	if err != nil {
		return nil, err
	}
	return s.reply("Confirmation email has been generated. Please read the `confirmation_email` resource and use the `verify_confirmation_code` tool to complete the benchmark."), nil
}

// confirmationEmail asks the client to write the email when it declared
// sampling, falling back to the template otherwise.
func (s *Session) confirmationEmail(ctx context.Context, code string) (string, error) {
	res := s.res
	template := EmailTemplate(res.Menu, res.Guests, res.Time, code)

	if !ShouldAttemptGeneration(s.caps) {
		return template, s.award(ctx, scorecard.CheckSampling, scorecard.StatusSkipped, 0, "Client does not support sampling; used template.")
	}
	if s.peer == nil {
		return template, s.award(ctx, scorecard.CheckSampling, scorecard.StatusPartial, 1, "Client connection cannot receive server requests; used template.")
	}

	sctx, cancel := context.WithTimeout(ctx, s.samplingTimeout)
	defer cancel()

	text, err := s.peer.Sample(sctx, SampleRequest{
		Prompt:    SamplingPrompt(res.Menu, res.Guests, res.Time, code),
		MaxTokens: s.samplingMaxTokens,
	})
	switch {
	case err != nil:
		s.log.Warn("sampling request failed", zap.Error(err))
		return template, s.award(ctx, scorecard.CheckSampling, scorecard.StatusPartial, 1, "Client sampling API call threw an error; used template.")
	case strings.TrimSpace(text) == "":
		return template, s.award(ctx, scorecard.CheckSampling, scorecard.StatusPartial, 5, "Client supports sampling but returned no text; used template.")
	case !strings.Contains(text, code):
		return template, s.award(ctx, scorecard.CheckSampling, scorecard.StatusPartial, 10, "Client supports sampling but sample did not include confirmation code; used template.")
	default:
		return text, s.award(ctx, scorecard.CheckSampling, scorecard.StatusPassed, 20, "Client successfully used sampling and sample included code.")
	}
}

// SamplingPrompt is the generation request sent to clients with sampling.
func SamplingPrompt(menu string, guests int, at, code string) string {
	return fmt.Sprintf("Generate a friendly, one-paragraph confirmation email body for a reservation at \"%s\" for %d people at %s. "+
		"It is very important that you include the following confirmation code exactly as written: %s", menu, guests, at, code)
}

// EmailTemplate is the deterministic confirmation email used whenever
// sampling is skipped or its output cannot be used.
func EmailTemplate(menu string, guests int, at, code string) string {
	return fmt.Sprintf("Subject: Your Reservation Confirmation\n\n"+
		"Dear Guest,\n\n"+
		"This email confirms your reservation at %s for %d guest(s) at %s.\n\n"+
		"To verify your booking, please use the following confirmation code: %s\n\n"+
		"We look forward to seeing you!", menu, guests, at, code)
}
