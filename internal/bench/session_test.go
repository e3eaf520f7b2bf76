package bench

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/mcpeval/internal/catalog"
	"github.com/hpungsan/mcpeval/internal/errors"
	"github.com/hpungsan/mcpeval/internal/model"
	"github.com/hpungsan/mcpeval/internal/scorecard"
)

func TestToolPathCompletesWithoutElicitationCredit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	peer := &fakePeer{}
	s := h.open("sess-a", model.Capabilities{}, nil, peer)

	walkToMenu(t, s)
	reply, err := s.SelectOption(ctx, sushiID("sess-a"))
	require.NoError(t, err)
	assert.Equal(t, model.StateAwaitingDetailsTool, reply.State)
	assert.Zero(t, peer.elicitCalls)

	_, err = s.SubmitDetails(ctx, map[string]any{"guests": float64(4), "time": "19:30"})
	require.NoError(t, err)
	assert.Equal(t, model.StateAwaitingConfirm, s.State())
	assert.Equal(t, 4, s.Reservation().Guests)
	assert.Equal(t, "19:30", s.Reservation().Time)

	_, err = s.GetConfirmation(ctx)
	require.NoError(t, err)
	assert.Zero(t, peer.sampleCalls, "no sampling without the capability")
	code := s.Reservation().ConfirmationCode
	assert.Contains(t, s.Reservation().ConfirmationEmail, "Tokyo Sushi Bar")

	reply, err = s.VerifyCode(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, model.StateFinished, reply.State)

	card := s.Scorecard()
	assert.Equal(t, scorecard.StatusFailed, card[scorecard.CheckElicitation].Status)
	assert.Zero(t, card[scorecard.CheckElicitation].PointsEarned)
	assert.Equal(t, scorecard.StatusSkipped, card[scorecard.CheckSampling].Status)

	run, err := h.store.GetRun(ctx, s.RunID())
	require.NoError(t, err)
	assert.True(t, run.Succeeded())
	assert.GreaterOrEqual(t, run.Score, 50)
	assert.Equal(t, model.RunCompleted, run.Status)

	stored, err := h.store.GetSession(ctx, "sess-a")
	require.NoError(t, err)
	assert.Equal(t, model.StateFinished, stored.State)
	assert.True(t, stored.Reservation.IsZero())
}

func TestInvalidElicitationEndsRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	peer := &fakePeer{elicit: acceptWith(map[string]any{"guests": float64(25), "time": "19:30"})}
	board := newRecordingToggler()
	s := h.open("sess-b", model.Capabilities{Elicitation: true}, board, peer)

	walkToMenu(t, s)
	reply, err := s.SelectOption(ctx, sushiID("sess-b"))
	require.NoError(t, err)
	assert.Equal(t, model.StateFinished, reply.State)
	assert.Equal(t, 1, peer.elicitCalls)

	for _, entry := range h.logs.FilterMessage("state transition").All() {
		assert.NotEqual(t, string(model.StateAwaitingConfirm), entry.ContextMap()["to"])
	}
	for _, batch := range board.batches {
		assert.NotContains(t, batch, Toggle{Name: ToolGetConfirmation, Enable: true})
	}

	card := s.Scorecard()
	assert.Equal(t, scorecard.StatusFailed, card[scorecard.CheckElicitation].Status)
	assert.Contains(t, card[scorecard.CheckElicitation].Notes, "guests")

	run, err := h.store.GetRun(ctx, s.RunID())
	require.NoError(t, err)
	assert.False(t, run.Succeeded())
	assert.LessOrEqual(t, run.Score, 50)
	assert.Equal(t, []string{ResourceResults, ToolTryAgain}, board.List())
}

func TestSampledEmailIsUsed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	peer := &fakePeer{
		elicit: acceptWith(map[string]any{"guests": float64(2), "time": "20:00"}),
		sample: echoCode,
	}
	s := h.open("sess-c", model.Capabilities{Elicitation: true, Sampling: true}, nil, peer)

	walkToMenu(t, s)
	reply, err := s.SelectOption(ctx, sushiID("sess-c"))
	require.NoError(t, err)
	assert.Equal(t, model.StateAwaitingConfirm, reply.State)

	_, err = s.GetConfirmation(ctx)
	require.NoError(t, err)
	res := s.Reservation()
	assert.Equal(t, "Dear guest, your code is "+res.ConfirmationCode+".", res.ConfirmationEmail)
	assert.Equal(t, DefaultSamplingMaxTokens, peer.lastSample.MaxTokens)

	card := s.Scorecard()
	assert.Equal(t, scorecard.StatusPassed, card[scorecard.CheckSampling].Status)
	assert.Equal(t, 20, card[scorecard.CheckSampling].PointsEarned)
	assert.Equal(t, 25, card[scorecard.CheckElicitation].PointsEarned)

	_, err = s.VerifyCode(ctx, res.ConfirmationCode)
	require.NoError(t, err)
	run, err := h.store.GetRun(ctx, s.RunID())
	require.NoError(t, err)
	assert.Equal(t, scorecard.MaxTotal(), run.Score)
}

func TestWrongCodeFailsRunWithoutTransition(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	board := newRecordingToggler()
	s := h.open("sess-d", model.Capabilities{}, board, &fakePeer{})

	walkToMenu(t, s)
	_, err := s.SelectOption(ctx, sushiID("sess-d"))
	require.NoError(t, err)
	_, err = s.SubmitDetails(ctx, map[string]any{"guests": 3, "time": "18:00"})
	require.NoError(t, err)
	_, err = s.GetConfirmation(ctx)
	require.NoError(t, err)
	expected := s.Reservation().ConfirmationCode

	reply, err := s.VerifyCode(ctx, "wrong!")
	require.NoError(t, err)
	assert.Contains(t, reply.Message, expected)
	assert.Equal(t, model.StateAwaitingVerify, s.State())
	assert.True(t, s.Completed())

	card := s.Scorecard()
	assert.Equal(t, scorecard.StatusFailed, card[scorecard.CheckResourceReading].Status)
	assert.Equal(t, scorecard.StatusFailed, card[scorecard.CheckCodeVerify].Status)
	assert.Contains(t, card[scorecard.CheckCodeVerify].Notes, "Expected "+expected+", got wrong!.")

	run, err := h.store.GetRun(ctx, s.RunID())
	require.NoError(t, err)
	assert.False(t, run.Succeeded())
	assert.True(t, run.Completed())

	assert.True(t, board.Enabled(ToolTryAgain))
	assert.True(t, board.Enabled(ResourceResults))

	// The email stays readable while the session waits in verification
	assert.True(t, board.Enabled(ResourceConfirmationEmail))
	res := s.Reservation()
	assert.Equal(t, expected, res.ConfirmationCode)
	assert.Contains(t, res.ConfirmationEmail, expected)

	// Second verification would finalize twice
	_, err = s.VerifyCode(ctx, expected)
	assert.True(t, errors.Is(err, errors.ErrRunCompleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.rec.RunsFinalized.WithLabelValues("false")))
	assert.Zero(t, testutil.ToFloat64(h.rec.RunsFinalized.WithLabelValues("true")))

	_, err = s.TryAgain(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, s.State())
	assert.Equal(t, model.Reservation{}, s.Reservation())
}

func TestPaddedCodeIsAMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.open("sess-pad", model.Capabilities{}, newRecordingToggler(), &fakePeer{})

	walkToMenu(t, s)
	_, err := s.SelectOption(ctx, sushiID("sess-pad"))
	require.NoError(t, err)
	_, err = s.SubmitDetails(ctx, map[string]any{"guests": 2, "time": "20:00"})
	require.NoError(t, err)
	_, err = s.GetConfirmation(ctx)
	require.NoError(t, err)
	expected := s.Reservation().ConfirmationCode

	_, err = s.VerifyCode(ctx, " "+expected+" ")
	require.NoError(t, err)
	assert.Equal(t, model.StateAwaitingVerify, s.State())

	run, err := h.store.GetRun(ctx, s.RunID())
	require.NoError(t, err)
	assert.True(t, run.Completed())
	assert.False(t, run.Succeeded())
	assert.Equal(t, scorecard.StatusFailed, s.Scorecard()[scorecard.CheckCodeVerify].Status)
}

func TestTryAgainStartsFreshRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	board := newRecordingToggler()
	s := h.open("sess-e", model.Capabilities{Elicitation: true}, board, &fakePeer{})

	walkToMenu(t, s)
	_, err := s.SelectOption(ctx, sushiID("sess-e"))
	require.NoError(t, err)
	require.Equal(t, model.StateFinished, s.State(), "cancelled elicitation ends the run")
	prevRun := s.RunID()

	reply, err := s.TryAgain(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, reply.State)
	assert.NotEmpty(t, s.RunID())
	assert.NotEqual(t, prevRun, s.RunID())
	assert.True(t, s.Reservation().IsZero())
	assert.False(t, s.Completed())
	assert.Equal(t, scorecard.New(), s.Scorecard())
	assert.Equal(t, []string{ToolStartBenchmark}, board.List())

	old, err := h.store.GetRun(ctx, prevRun)
	require.NoError(t, err)
	assert.True(t, old.Completed(), "previous run keeps its result")

	stored, err := h.store.GetSession(ctx, "sess-e")
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, stored.State)
	assert.Equal(t, s.RunID(), *stored.RunID)
}

// seedState stores a session already in tag, with a run unless it is Idle.
func (h *harness) seedState(id string, tag model.StateTag, res model.Reservation) {
	h.t.Helper()
	ctx := context.Background()
	_, err := h.store.GetOrCreateSession(ctx, id, initParams(model.Capabilities{}))
	require.NoError(h.t, err)
	if tag == model.StateIdle {
		return
	}
	_, err = h.store.CreateRunForSession(ctx, id)
	require.NoError(h.t, err)
	if tag == model.StateFinished {
		require.NoError(h.t, h.store.FinalizeRun(ctx, id, model.RunResult{Details: scorecard.New()}))
		return
	}
	require.NoError(h.t, h.store.UpdateSession(ctx, id, tag, res))
}

func TestIllegalActionsAreInert(t *testing.T) {
	ctx := context.Background()
	booked := model.Reservation{Category: "Sushi", Menu: "Tokyo Sushi Bar", Guests: 2, Time: "19:00"}
	confirmed := booked
	confirmed.ConfirmationEmail = "Your confirmation code: ABC123"
	confirmed.ConfirmationCode = "ABC123"

	tests := []struct {
		tag   model.StateTag
		res   model.Reservation
		legal string
	}{
		{model.StateIdle, model.Reservation{}, ToolStartBenchmark},
		{model.StateAwaitingCategory, model.Reservation{}, ToolChooseCategory},
		{model.StateAwaitingMenu, model.Reservation{Category: "Sushi"}, ToolSelectMenu},
		{model.StateAwaitingElicitation, model.Reservation{Category: "Sushi", Menu: "Tokyo Sushi Bar"}, ""},
		{model.StateAwaitingDetailsTool, model.Reservation{Category: "Sushi", Menu: "Tokyo Sushi Bar"}, ToolSubmitDetails},
		{model.StateAwaitingConfirm, booked, ToolGetConfirmation},
		{model.StateAwaitingVerify, confirmed, ToolVerifyCode},
		{model.StateFinished, model.Reservation{}, ToolTryAgain},
	}
	require.Len(t, tests, len(model.AllStates))

	for _, tt := range tests {
		t.Run(string(tt.tag), func(t *testing.T) {
			h := newHarness(t)
			id := "sess-" + string(tt.tag)
			h.seedState(id, tt.tag, tt.res)

			board := newRecordingToggler()
			s := h.open(id, model.Capabilities{}, board, &fakePeer{})
			require.Equal(t, tt.tag, s.State())

			before := struct {
				res   model.Reservation
				card  scorecard.Scorecard
				run   string
				board []string
			}{s.Reservation(), s.Scorecard(), s.RunID(), board.List()}
			stored, err := h.store.GetSession(ctx, id)
			require.NoError(t, err)

			actions := map[string]func() (*Reply, error){
				ToolStartBenchmark:  func() (*Reply, error) { return s.Start(ctx) },
				ToolChooseCategory:  func() (*Reply, error) { return s.ChooseCategory(ctx, "Sushi") },
				ToolSelectMenu:      func() (*Reply, error) { return s.SelectOption(ctx, sushiID(id)) },
				ToolSubmitDetails:   func() (*Reply, error) { return s.SubmitDetails(ctx, map[string]any{"guests": 2, "time": "10:00"}) },
				ToolGetConfirmation: func() (*Reply, error) { return s.GetConfirmation(ctx) },
				ToolVerifyCode:      func() (*Reply, error) { return s.VerifyCode(ctx, "ABC123") },
				ToolTryAgain:        func() (*Reply, error) { return s.TryAgain(ctx) },
			}
			for name, act := range actions {
				if name == tt.legal {
					continue
				}
				reply, err := act()
				assert.Nil(t, reply, name)
				assert.True(t, errors.Is(err, errors.ErrInvalidState), "%s: got %v", name, err)
				assert.Equal(t, tt.tag, s.State(), name)
				assert.Equal(t, before.res, s.Reservation(), name)
				assert.Equal(t, before.card, s.Scorecard(), name)
				assert.Equal(t, before.run, s.RunID(), "%s: rejections never create a run", name)
				assert.Equal(t, before.board, board.List(), name)
				assert.Equal(t, 1.0, testutil.ToFloat64(h.rec.RejectedActions.WithLabelValues(string(tt.tag), name)), name)
			}

			after, err := h.store.GetSession(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, stored.State, after.State)
			assert.Equal(t, stored.RunID, after.RunID)
			assert.Equal(t, stored.Reservation, after.Reservation)
		})
	}
}

func TestValidationRejectionsKeepState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.open("sess-v", model.Capabilities{}, nil, &fakePeer{})

	_, err := s.Start(ctx)
	require.NoError(t, err)

	_, err = s.ChooseCategory(ctx, "Tacos")
	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrInvalidRequest, e.Code)
	assert.Equal(t, model.StateAwaitingCategory, s.State())

	reply, err := s.ChooseCategory(ctx, "sushi")
	require.NoError(t, err)
	assert.Contains(t, reply.Message, "'Sushi'")
	assert.Equal(t, "Sushi", s.Reservation().Category)

	// Raw ids, other sessions' ids and other categories' ids are not accepted
	pizza := catalog.ObfuscateID("sess-v", "pizza-1")
	for _, id := range []string{"sushi-1", sushiID("someone-else"), pizza} {
		_, err = s.SelectOption(ctx, id)
		assert.True(t, errors.Is(err, errors.ErrInvalidRequest), id)
		assert.Equal(t, model.StateAwaitingMenu, s.State())
	}

	_, err = s.SelectOption(ctx, sushiID("sess-v"))
	require.NoError(t, err)
	before := s.Scorecard()

	_, err = s.SubmitDetails(ctx, map[string]any{"guests": 0, "time": "7pm"})
	e, ok = errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrInvalidRequest, e.Code)
	assert.Contains(t, e.Details["fields"], "guests")
	assert.Equal(t, model.StateAwaitingDetailsTool, s.State())
	assert.Equal(t, before, s.Scorecard(), "invalid details are not scored")
}

func TestResumeRestoresStateAndHandles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.open("sess-r", model.Capabilities{}, nil, &fakePeer{})

	walkToMenu(t, s)
	_, err := s.SelectOption(ctx, sushiID("sess-r"))
	require.NoError(t, err)
	_, err = s.SubmitDetails(ctx, map[string]any{"guests": 6, "time": "12:15"})
	require.NoError(t, err)

	board := newRecordingToggler()
	board.Apply(enable(ToolVerifyCode, ResourceResults))
	resumed := h.open("sess-r", model.Capabilities{}, board, &fakePeer{})

	assert.Equal(t, model.StateAwaitingConfirm, resumed.State())
	assert.Equal(t, s.Reservation(), resumed.Reservation())
	assert.Equal(t, s.RunID(), resumed.RunID())
	assert.Equal(t, s.Scorecard(), resumed.Scorecard())
	assert.Equal(t, model.Capabilities{}, resumed.Capabilities())
	assert.Equal(t, []string{ToolGetConfirmation}, board.List())
	assert.False(t, resumed.NeedsReplay())

	_, err = resumed.GetConfirmation(ctx)
	require.NoError(t, err)
	assert.Equal(t, scorecard.StatusSkipped, resumed.Scorecard()[scorecard.CheckSampling].Status)
}

func TestOpenWithDifferentHandshakeStartsFreshRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// client-a finishes a run without elicitation or sampling
	a := h.open("stdio", model.Capabilities{}, nil, &fakePeer{})
	walkToMenu(t, a)
	_, err := a.SelectOption(ctx, sushiID("stdio"))
	require.NoError(t, err)
	_, err = a.SubmitDetails(ctx, map[string]any{"guests": 2, "time": "19:00"})
	require.NoError(t, err)
	_, err = a.GetConfirmation(ctx)
	require.NoError(t, err)
	_, err = a.VerifyCode(ctx, a.Reservation().ConfirmationCode)
	require.NoError(t, err)
	require.Equal(t, model.StateFinished, a.State())
	prevRun := a.RunID()

	cases := []struct {
		name string
		init model.InitParams
	}{
		{
			name: "other client",
			init: model.InitParams{
				ClientInfo:   model.ClientInfo{Name: "client-b", Version: "2.0.0"},
				Capabilities: model.Capabilities{Elicitation: true, Sampling: true},
			},
		},
		{
			name: "same client with new capabilities",
			init: initParams(model.Capabilities{Elicitation: true, Sampling: true}),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			board := newRecordingToggler()
			b, err := Open(ctx, h.opts, "stdio", tc.init, board, &fakePeer{})
			require.NoError(t, err)

			assert.Equal(t, model.StateIdle, b.State())
			assert.NotEmpty(t, b.RunID())
			assert.NotEqual(t, prevRun, b.RunID())
			assert.Equal(t, tc.init.Capabilities, b.Capabilities())
			assert.False(t, b.Completed())
			assert.True(t, b.Reservation().IsZero())
			assert.Equal(t, scorecard.New(), b.Scorecard())
			assert.Equal(t, []string{ToolStartBenchmark}, board.List())

			run, err := h.store.GetRun(ctx, b.RunID())
			require.NoError(t, err)
			assert.Equal(t, tc.init.ClientInfo.Name, run.ClientName)
			assert.Equal(t, tc.init.Capabilities, run.DeclaredCapabilities)

			_, err = b.Start(ctx)
			require.NoError(t, err)
			assert.Equal(t, model.StateAwaitingCategory, b.State())
			prevRun = b.RunID()
		})
	}

	old, err := h.store.GetRun(ctx, a.RunID())
	require.NoError(t, err)
	assert.Equal(t, "test-client", old.ClientName)
	assert.True(t, old.Succeeded(), "the earlier run keeps its result")
}

func TestResumeReplaysElicitation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	caps := model.Capabilities{Elicitation: true}

	_, err := h.store.GetOrCreateSession(ctx, "sess-p", initParams(caps))
	require.NoError(t, err)
	_, err = h.store.CreateRunForSession(ctx, "sess-p")
	require.NoError(t, err)
	require.NoError(t, h.store.UpdateSession(ctx, "sess-p", model.StateAwaitingElicitation,
		model.Reservation{Category: "Sushi", Menu: "Tokyo Sushi Bar"}))

	peer := &fakePeer{elicit: acceptWith(map[string]any{"guests": 5, "time": "21:00"})}
	s := h.open("sess-p", caps, nil, peer)
	require.True(t, s.NeedsReplay())
	assert.Zero(t, peer.elicitCalls, "opening does not block on the client")

	require.NoError(t, s.Replay(ctx))
	assert.False(t, s.NeedsReplay())
	assert.Equal(t, 1, peer.elicitCalls)
	assert.Equal(t, model.StateAwaitingConfirm, s.State())
	assert.Equal(t, "Tokyo Sushi Bar", s.Reservation().Menu)
	assert.Equal(t, 5, s.Reservation().Guests)

	require.NoError(t, s.Replay(ctx))
	assert.Equal(t, 1, peer.elicitCalls, "replay runs once")
}

func TestOpenUnknownStateIsFatal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.store.GetOrCreateSession(ctx, "sess-u", initParams(model.Capabilities{}))
	require.NoError(t, err)
	require.NoError(t, h.store.UpdateSession(ctx, "sess-u", "SomeRetiredState", model.Reservation{}))

	_, err = Open(ctx, h.opts, "sess-u", initParams(model.Capabilities{}), nil, nil)
	assert.True(t, errors.Is(err, errors.ErrUnknownState))
}

func TestOpenRequiresCollaborators(t *testing.T) {
	_, err := Open(context.Background(), Options{}, "s", model.InitParams{}, nil, nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestDoubleFinalizeRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.open("sess-f", model.Capabilities{}, nil, nil)

	require.NoError(t, s.finalize(ctx, false))
	err := s.finalize(ctx, true)
	assert.True(t, errors.Is(err, errors.ErrRunCompleted))

	run, err := h.store.GetRun(ctx, s.RunID())
	require.NoError(t, err)
	assert.False(t, run.Succeeded(), "first result stands")
}

func TestAwardPersistsAndClamps(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.open("sess-w", model.Capabilities{}, nil, nil)

	require.NoError(t, s.Award(ctx, scorecard.CheckSampling, scorecard.StatusPassed, 99, "over"))
	require.NoError(t, s.Award(ctx, "not_a_check", scorecard.StatusPassed, 10, ""))
	require.NotEmpty(t, s.RunID(), "awarding creates the run")

	run, err := h.store.GetRun(ctx, s.RunID())
	require.NoError(t, err)
	assert.Equal(t, 20, run.Details[scorecard.CheckSampling].PointsEarned)
	assert.NotContains(t, run.Details, "not_a_check")
	assert.Equal(t, 1, h.logs.FilterMessage("points awarded").Len())
}

func TestMissingPeerDowngradesToPenalties(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.open("sess-n", model.Capabilities{Elicitation: true, Sampling: true}, nil, nil)

	walkToMenu(t, s)
	_, err := s.SelectOption(ctx, sushiID("sess-n"))
	require.NoError(t, err)
	assert.Equal(t, model.StateFinished, s.State())
	assert.Contains(t, s.Scorecard()[scorecard.CheckElicitation].Notes, "cannot receive server requests")
}
