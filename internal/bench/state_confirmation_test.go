package bench

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/mcpeval/internal/model"
	"github.com/hpungsan/mcpeval/internal/scorecard"
)

// sessionAtConfirmation walks a tool-path session to AwaitingConfirmation.
func sessionAtConfirmation(t *testing.T, h *harness, id string, caps model.Capabilities, peer Peer) *Session {
	t.Helper()
	require.False(t, caps.Elicitation, "helper only drives the tool path")
	s := h.open(id, caps, nil, peer)
	walkToMenu(t, s)
	ctx := context.Background()
	_, err := s.SelectOption(ctx, sushiID(id))
	require.NoError(t, err)
	_, err = s.SubmitDetails(ctx, map[string]any{"guests": 4, "time": "19:30"})
	require.NoError(t, err)
	require.Equal(t, model.StateAwaitingConfirm, s.State())
	return s
}

func TestConfirmationSamplingBranches(t *testing.T) {
	tests := []struct {
		name       string
		caps       model.Capabilities
		nilPeer    bool
		sample     func(context.Context, SampleRequest) (string, error)
		wantStatus scorecard.Status
		wantPoints int
		wantSample bool
	}{
		{
			name:       "generated text with code",
			caps:       model.Capabilities{Sampling: true},
			sample:     echoCode,
			wantStatus: scorecard.StatusPassed,
			wantPoints: 20,
		},
		{
			name: "generated text without code",
			caps: model.Capabilities{Sampling: true},
			sample: func(context.Context, SampleRequest) (string, error) {
				return "See you soon!", nil
			},
			wantStatus: scorecard.StatusPartial,
			wantPoints: 10,
		},
		{
			name: "empty text",
			caps: model.Capabilities{Sampling: true},
			sample: func(context.Context, SampleRequest) (string, error) {
				return "  ", nil
			},
			wantStatus: scorecard.StatusPartial,
			wantPoints: 5,
		},
		{
			name: "request error",
			caps: model.Capabilities{Sampling: true},
			sample: func(context.Context, SampleRequest) (string, error) {
				return "", fmt.Errorf("method not found")
			},
			wantStatus: scorecard.StatusPartial,
			wantPoints: 1,
		},
		{
			name:       "no connection",
			caps:       model.Capabilities{Sampling: true},
			nilPeer:    true,
			wantStatus: scorecard.StatusPartial,
			wantPoints: 1,
		},
		{
			name:       "not declared",
			caps:       model.Capabilities{},
			sample:     echoCode,
			wantStatus: scorecard.StatusSkipped,
			wantPoints: 0,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			var peer Peer
			if !tt.nilPeer {
				peer = &fakePeer{sample: tt.sample}
			}
			s := sessionAtConfirmation(t, h, fmt.Sprintf("conf-%d", i), tt.caps, peer)

			reply, err := s.GetConfirmation(context.Background())
			require.NoError(t, err)
			assert.Equal(t, model.StateAwaitingVerify, reply.State, "sampling never blocks the flow")

			item := s.Scorecard()[scorecard.CheckSampling]
			assert.Equal(t, tt.wantStatus, item.Status)
			assert.Equal(t, tt.wantPoints, item.PointsEarned)

			res := s.Reservation()
			assert.Regexp(t, `^[A-Z0-9]{6}$`, res.ConfirmationCode)
			assert.Contains(t, res.ConfirmationEmail, res.ConfirmationCode)
			if tt.wantStatus != scorecard.StatusPassed {
				assert.Equal(t, EmailTemplate("Tokyo Sushi Bar", 4, "19:30", res.ConfirmationCode), res.ConfirmationEmail)
			}
		})
	}
}

func TestConfirmationSamplingTimeout(t *testing.T) {
	h := newHarness(t)
	h.opts.SamplingTimeout = 10 * time.Millisecond
	peer := &fakePeer{sample: func(ctx context.Context, _ SampleRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	s := sessionAtConfirmation(t, h, "conf-timeout", model.Capabilities{Sampling: true}, peer)

	_, err := s.GetConfirmation(context.Background())
	require.NoError(t, err)
	item := s.Scorecard()[scorecard.CheckSampling]
	assert.Equal(t, 1, item.PointsEarned)
	assert.Equal(t, 1, h.logs.FilterMessage("sampling request failed").Len())
}

func TestSamplingPrompt(t *testing.T) {
	p := SamplingPrompt("Napoli Pizza Place", 3, "18:45", "X1Y2Z3")
	assert.Contains(t, p, `"Napoli Pizza Place"`)
	assert.Contains(t, p, "for 3 people at 18:45")
	assert.True(t, strings.HasSuffix(p, "exactly as written: X1Y2Z3"))
}

func TestEmailTemplate(t *testing.T) {
	got := EmailTemplate("Green Earth Cafe", 2, "12:00", "ABC123")
	assert.True(t, strings.HasPrefix(got, "Subject: Your Reservation Confirmation\n\n"))
	assert.Contains(t, got, "reservation at Green Earth Cafe for 2 guest(s) at 12:00.")
	assert.Contains(t, got, "confirmation code: ABC123")
}
