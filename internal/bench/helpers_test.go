package bench

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hpungsan/mcpeval/internal/catalog"
	"github.com/hpungsan/mcpeval/internal/db"
	"github.com/hpungsan/mcpeval/internal/metrics"
	"github.com/hpungsan/mcpeval/internal/model"
)

// fakePeer answers server requests with canned functions and counts calls.
type fakePeer struct {
	mu          sync.Mutex
	elicit      func(ctx context.Context, req ElicitRequest) (*ElicitResponse, error)
	sample      func(ctx context.Context, req SampleRequest) (string, error)
	elicitCalls int
	sampleCalls int
	lastElicit  ElicitRequest
	lastSample  SampleRequest
}

func (p *fakePeer) Elicit(ctx context.Context, req ElicitRequest) (*ElicitResponse, error) {
	p.mu.Lock()
	p.elicitCalls++
	p.lastElicit = req
	p.mu.Unlock()
	if p.elicit == nil {
		return &ElicitResponse{Action: ElicitCancel}, nil
	}
	return p.elicit(ctx, req)
}

func (p *fakePeer) Sample(ctx context.Context, req SampleRequest) (string, error) {
	p.mu.Lock()
	p.sampleCalls++
	p.lastSample = req
	p.mu.Unlock()
	if p.sample == nil {
		return "", nil
	}
	return p.sample(ctx, req)
}

// acceptWith returns an elicit func that accepts with content.
func acceptWith(content map[string]any) func(context.Context, ElicitRequest) (*ElicitResponse, error) {
	return func(context.Context, ElicitRequest) (*ElicitResponse, error) {
		return &ElicitResponse{Action: ElicitAccept, Content: content}, nil
	}
}

// echoCode writes an email that includes the code from the prompt.
func echoCode(_ context.Context, req SampleRequest) (string, error) {
	return "Dear guest, your code is " + codeFromPrompt(req.Prompt) + ".", nil
}

func codeFromPrompt(prompt string) string {
	return prompt[strings.LastIndex(prompt, " ")+1:]
}

// recordingToggler is a Switchboard that also keeps every batch applied.
type recordingToggler struct {
	*Switchboard
	batches [][]Toggle
}

func newRecordingToggler() *recordingToggler {
	return &recordingToggler{Switchboard: NewSwitchboard()}
}

func (r *recordingToggler) Apply(batch []Toggle) {
	r.batches = append(r.batches, append([]Toggle(nil), batch...))
	r.Switchboard.Apply(batch)
}

type harness struct {
	t     *testing.T
	store *db.Store
	opts  Options
	logs  *observer.ObservedLogs
	rec   *metrics.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	core, logs := observer.New(zapcore.DebugLevel)
	rec := metrics.New(prometheus.NewRegistry())
	store := db.NewStore(database)

	return &harness{
		t:     t,
		store: store,
		logs:  logs,
		rec:   rec,
		opts: Options{
			Store:   store,
			Catalog: catalog.Default(),
			Logger:  zap.New(core),
			Metrics: rec,
		},
	}
}

func initParams(caps model.Capabilities) model.InitParams {
	return model.InitParams{
		ProtocolVersion: "2025-06-18",
		ClientInfo:      model.ClientInfo{Name: "test-client", Version: "0.1.0"},
		Capabilities:    caps,
	}
}

func (h *harness) open(id string, caps model.Capabilities, toggler Toggler, peer Peer) *Session {
	h.t.Helper()
	s, err := Open(context.Background(), h.opts, id, initParams(caps), toggler, peer)
	require.NoError(h.t, err)
	return s
}

// walkToMenu drives a session from Idle to AwaitingMenu in Sushi.
func walkToMenu(t *testing.T, s *Session) {
	t.Helper()
	ctx := context.Background()
	_, err := s.Start(ctx)
	require.NoError(t, err)
	_, err = s.ChooseCategory(ctx, "Sushi")
	require.NoError(t, err)
}

// sushiID is the id session sees for the first sushi restaurant.
func sushiID(sessionID string) string {
	return catalog.ObfuscateID(sessionID, "sushi-1")
}
