package bench

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/mcpeval/internal/errors"
	"github.com/hpungsan/mcpeval/internal/logging"
	"github.com/hpungsan/mcpeval/internal/metrics"
	"github.com/hpungsan/mcpeval/internal/model"
	"github.com/hpungsan/mcpeval/internal/scorecard"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultSamplingTimeout   = 2 * time.Minute
	DefaultSamplingMaxTokens = 500
)

// Options holds the collaborators shared by every session.
type Options struct {
	Store   Store
	Catalog Catalog
	Logger  *zap.Logger
	Metrics *metrics.Recorder

	// SamplingTimeout bounds the confirmation email generation request.
	SamplingTimeout time.Duration
	// SamplingMaxTokens is sent with the generation request.
	SamplingMaxTokens int
}

// Session drives one client through the benchmark. It owns the current state,
// the reservation record, the run's scorecard and the run identity.
//
// A Session is not safe for concurrent use; callers serialize access per
// session (see Registry).
type Session struct {
	id        string
	runID     *string
	caps      model.Capabilities
	state     State
	res       model.Reservation
	card      scorecard.Scorecard
	completed bool
	replay    bool

	store             Store
	catalog           Catalog
	toggler           Toggler
	peer              Peer
	log               *zap.Logger
	metrics           *metrics.Recorder
	samplingTimeout   time.Duration
	samplingMaxTokens int
}

// Open loads the stored session (creating it in IdleState on first contact),
// restores the run's scorecard, and re-applies the current state's handles
// from a clean slate. A stored tag outside the state table fails with
// UNKNOWN_STATE.
//
// A run belongs to the client that started it. If the handshake names another
// client, or declares other capabilities, than the session's current run, the
// session starts over on a fresh run in IdleState.
//
// If the session was persisted in AwaitingElicitation, its request died with
// the previous process; NeedsReplay reports this and Replay re-issues it.
func Open(ctx context.Context, opts Options, sessionID string, init model.InitParams, toggler Toggler, peer Peer) (*Session, error) {
	if opts.Store == nil || opts.Catalog == nil {
		return nil, errors.NewInvalidRequest("store and catalog are required")
	}
	if toggler == nil {
		toggler = NewSwitchboard()
	}

	stored, err := opts.Store.GetOrCreateSession(ctx, sessionID, init)
	if err != nil {
		return nil, err
	}

	st, err := stateFor(stored.State)
	if err != nil {
		return nil, err
	}

	s := &Session{
		id:                stored.ID,
		runID:             stored.RunID,
		caps:              stored.InitParams.Capabilities,
		state:             st,
		res:               stored.Reservation,
		card:              scorecard.New(),
		store:             opts.Store,
		catalog:           opts.Catalog,
		toggler:           toggler,
		peer:              peer,
		log:               opts.Logger,
		metrics:           opts.Metrics,
		samplingTimeout:   opts.SamplingTimeout,
		samplingMaxTokens: opts.SamplingMaxTokens,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.samplingTimeout <= 0 {
		s.samplingTimeout = DefaultSamplingTimeout
	}
	if s.samplingMaxTokens <= 0 {
		s.samplingMaxTokens = DefaultSamplingMaxTokens
	}

	if s.runID != nil {
		run, err := opts.Store.GetRun(ctx, *s.runID)
		if err != nil {
			return nil, err
		}
		s.caps = run.DeclaredCapabilities
		s.completed = run.Completed()
		if run.Details != nil {
			s.card = scorecard.Restore(run.Details)
		}

		if !sameHandshake(run, stored.InitParams) {
			runID, err := opts.Store.ResetSessionData(ctx, s.id)
			if err != nil {
				return nil, err
			}
			s.log.Info("handshake changed; starting a new run",
				zap.String(logging.KeySessionID, s.id),
				zap.String("previous_run_id", run.ID),
				zap.String(logging.KeyRunID, runID),
				zap.String("client", stored.InitParams.ClientInfo.Name),
			)
			st = stateOf(model.StateIdle)
			s.runID = &runID
			s.state = st
			s.res = model.Reservation{}
			s.caps = stored.InitParams.Capabilities
			s.card = scorecard.New()
			s.completed = false
		}
	}

	s.log = s.log.With(zap.String(logging.KeySessionID, s.id))
	s.toggler.Apply(append(disable(Handles()...), st.EnterToggles()...))
	s.replay = st.Tag() == model.StateAwaitingElicitation

	s.log.Info("session opened",
		zap.String(logging.KeyState, string(st.Tag())),
		zap.String(logging.KeyRunID, s.runIDString()),
		zap.Bool("elicitation", s.caps.Elicitation),
		zap.Bool("sampling", s.caps.Sampling),
	)
	return s, nil
}

// sameHandshake reports whether init comes from the client the run was
// started for, with the same declared capabilities.
func sameHandshake(run *model.Run, init model.InitParams) bool {
	return run.ClientName == init.ClientInfo.Name &&
		run.ClientVersion == init.ClientInfo.Version &&
		run.DeclaredCapabilities == init.Capabilities
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the current state tag.
func (s *Session) State() model.StateTag { return s.state.Tag() }

// RunID returns the current run id, or "" before the first run exists.
func (s *Session) RunID() string { return s.runIDString() }

// Capabilities returns the capability set the current run is scored against.
func (s *Session) Capabilities() model.Capabilities { return s.caps }

// Reservation returns a copy of the reservation record.
func (s *Session) Reservation() model.Reservation { return s.res }

// Scorecard returns a copy of the live scorecard.
func (s *Session) Scorecard() scorecard.Scorecard { return s.card.Clone() }

// Completed reports whether the current run has been finalized.
func (s *Session) Completed() bool { return s.completed }

// NeedsReplay reports whether Replay has a pending entry hook to run.
func (s *Session) NeedsReplay() bool { return s.replay }

// Replay runs the current state's entry hook once after a resume.
func (s *Session) Replay(ctx context.Context) error {
	if !s.replay {
		return nil
	}
	s.replay = false
	s.log.Info("replaying entry hook", zap.String(logging.KeyState, string(s.state.Tag())))
	return s.state.Enter(ctx, s)
}

// Start begins the benchmark, creating a run if none exists.
func (s *Session) Start(ctx context.Context) (*Reply, error) {
	return s.state.Start(ctx, s)
}

// ChooseCategory records the food category.
func (s *Session) ChooseCategory(ctx context.Context, category string) (*Reply, error) {
	return s.state.ChooseCategory(ctx, s, category)
}

// SelectOption records the restaurant by its per-session id.
func (s *Session) SelectOption(ctx context.Context, id string) (*Reply, error) {
	return s.state.SelectOption(ctx, s, id)
}

// SubmitDetails records guests and time through the fallback tool.
func (s *Session) SubmitDetails(ctx context.Context, data map[string]any) (*Reply, error) {
	return s.state.SubmitDetails(ctx, s, data)
}

// GetConfirmation generates the confirmation email and code.
func (s *Session) GetConfirmation(ctx context.Context) (*Reply, error) {
	return s.state.GetConfirmation(ctx, s)
}

// VerifyCode checks the code read from the confirmation email.
func (s *Session) VerifyCode(ctx context.Context, code string) (*Reply, error) {
	return s.state.VerifyCode(ctx, s, code)
}

// TryAgain starts a fresh run on the same session.
func (s *Session) TryAgain(ctx context.Context) (*Reply, error) {
	return s.state.TryAgain(ctx, s)
}

// Award scores one rubric check and persists the scorecard snapshot to the
// run, creating the run first if needed. Points are clamped to the check's
// range; unknown check ids are ignored.
func (s *Session) Award(ctx context.Context, checkID string, status scorecard.Status, points int, notes string) error {
	return s.award(ctx, checkID, status, points, notes)
}

func (s *Session) award(ctx context.Context, checkID string, status scorecard.Status, points int, notes string) error {
	if err := s.ensureRun(ctx); err != nil {
		return err
	}

	item, ok := s.card.Award(checkID, status, points, notes)
	if !ok {
		s.log.Debug("award for unknown check ignored", zap.String("check", checkID))
		return nil
	}

	s.metrics.Award(checkID, string(status))
	s.log.Info("points awarded",
		zap.String(logging.KeyRunID, *s.runID),
		zap.String("check", checkID),
		zap.String("status", string(status)),
		zap.Int("points", item.PointsEarned),
		zap.Int("max_points", item.MaxPoints),
	)
	return s.store.UpdateRunResult(ctx, *s.runID, s.card)
}

// ensureRun creates the run from the stored handshake if the session has none.
func (s *Session) ensureRun(ctx context.Context) error {
	if s.runID != nil {
		return nil
	}
	id, err := s.store.CreateRunForSession(ctx, s.id)
	if err != nil {
		return err
	}
	s.runID = &id
	s.card = scorecard.New()
	s.completed = false
	s.log.Info("run created", zap.String(logging.KeyRunID, id))
	return nil
}

// finalize completes the run with the live total. A run can be finalized
// once. The in-memory reservation record is kept so the confirmation email
// stays readable until the session leaves its current state.
func (s *Session) finalize(ctx context.Context, success bool) error {
	if err := s.ensureRun(ctx); err != nil {
		return err
	}
	if s.completed {
		return errors.NewRunCompleted(*s.runID)
	}

	score := s.card.Total()
	result := model.RunResult{Success: success, Score: score, Details: s.card.Clone()}
	if err := s.store.FinalizeRun(ctx, s.id, result); err != nil {
		return err
	}

	s.completed = true
	s.metrics.Finalized(success)
	s.log.Info("run finalized",
		zap.String(logging.KeyRunID, *s.runID),
		zap.Bool("success", success),
		zap.Int("score", score),
	)
	return nil
}

// restart moves the session onto a new run and back to Idle.
func (s *Session) restart(ctx context.Context) (*Reply, error) {
	runID, err := s.store.ResetSessionData(ctx, s.id)
	if err != nil {
		return nil, err
	}
	s.runID = &runID
	s.card = scorecard.New()
	s.completed = false

	err = s.advance(ctx, stateOf(model.StateIdle), clearReservation)
	if err != nil {
		return nil, err
	}
	s.log.Info("session reset", zap.String(logging.KeyRunID, runID))
	return s.reply("Session reset. Ready to start a new benchmark."), nil
}

// advance performs a transition:
//  1. apply the outgoing exit toggles and incoming entry toggles as one batch,
//  2. run the outgoing exit hook,
//  3. persist the new tag with the reservation record and swap the state,
//  4. run the incoming entry hook.
//
// mutate, if set, updates the reservation record persisted in step 3. If the
// write fails the record and the handles are put back and the state is kept.
func (s *Session) advance(ctx context.Context, next State, mutate func(*model.Reservation)) error {
	prev := s.state
	prevRes := s.res
	if mutate != nil {
		mutate(&s.res)
	}

	s.toggler.Apply(append(prev.ExitToggles(), next.EnterToggles()...))
	prev.Exit(ctx, s)

	if err := s.store.UpdateSession(ctx, s.id, next.Tag(), s.res); err != nil {
		s.res = prevRes
		s.toggler.Apply(append(undo(next.EnterToggles()), prev.EnterToggles()...))
		return err
	}
	s.state = next

	s.metrics.Transition(string(prev.Tag()), string(next.Tag()))
	s.log.Info("state transition",
		zap.String("from", string(prev.Tag())),
		zap.String("to", string(next.Tag())),
		zap.String(logging.KeyRunID, s.runIDString()),
	)
	return next.Enter(ctx, s)
}

// clearReservation empties the record, matching what FinalizeRun stores.
func clearReservation(r *model.Reservation) { *r = model.Reservation{} }

// undo turns the enables of a batch into disables.
func undo(batch []Toggle) []Toggle {
	out := make([]Toggle, 0, len(batch))
	for _, t := range batch {
		if t.Enable {
			out = append(out, Toggle{Name: t.Name})
		}
	}
	return out
}

func (s *Session) reply(msg string) *Reply {
	return &Reply{Message: msg, State: s.state.Tag(), RunID: s.runIDString()}
}

func (s *Session) runIDString() string {
	if s.runID == nil {
		return ""
	}
	return *s.runID
}
