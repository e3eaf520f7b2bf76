package web

import (
	"context"
	"encoding/json"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hpungsan/mcpeval/internal/db"
	"github.com/hpungsan/mcpeval/internal/metrics"
	"github.com/hpungsan/mcpeval/internal/model"
	"github.com/hpungsan/mcpeval/internal/scorecard"
)

func setupTest(t *testing.T) (*Handlers, *db.Store) {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	templateSub, err := fs.Sub(templateFS, "templates")
	if err != nil {
		t.Fatalf("template sub-FS: %v", err)
	}

	store := db.NewStore(database)
	return &Handlers{
		store:    store,
		renderer: NewRenderer(templateSub, "test", zap.NewNop()),
	}, store
}

// seedRun opens a session for client, starts a run and optionally finalizes it.
func seedRun(t *testing.T, store *db.Store, sessionID, client string, finish bool, success bool, score int) string {
	t.Helper()
	ctx := context.Background()

	_, err := store.GetOrCreateSession(ctx, sessionID, model.InitParams{
		ProtocolVersion: "2025-06-18",
		ClientInfo:      model.ClientInfo{Name: client, Version: "0.9.1"},
		Capabilities:    model.Capabilities{Elicitation: true, Sampling: true},
	})
	if err != nil {
		t.Fatalf("seed session %q: %v", sessionID, err)
	}
	runID, err := store.CreateRunForSession(ctx, sessionID)
	if err != nil {
		t.Fatalf("seed run %q: %v", sessionID, err)
	}
	if !finish {
		return runID
	}

	card := scorecard.New()
	card.Award(scorecard.CheckElicitation, scorecard.StatusPassed, 100, "")
	if err := store.FinalizeRun(ctx, sessionID, model.RunResult{Success: success, Score: score, Details: card}); err != nil {
		t.Fatalf("finalize %q: %v", sessionID, err)
	}
	return runID
}

func get(h http.HandlerFunc, target string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

// --- HandleLeaderboard ---

func TestHandleLeaderboard_OrdersByScore(t *testing.T) {
	h, store := setupTest(t)
	seedRun(t, store, "s-low", "low-client", true, true, 120)
	seedRun(t, store, "s-high", "high-client", true, true, 300)
	seedRun(t, store, "s-fail", "failing-client", true, false, 500)

	rec := get(h.HandleLeaderboard, "/leaderboard")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	hi := strings.Index(body, "high-client")
	lo := strings.Index(body, "low-client")
	if hi < 0 || lo < 0 {
		t.Fatalf("expected both successful clients in body")
	}
	if hi > lo {
		t.Error("higher score should be listed first")
	}
	if strings.Contains(body, "failing-client") {
		t.Error("failed runs must not appear on the leaderboard")
	}
}

func TestHandleLeaderboard_Empty(t *testing.T) {
	h, _ := setupTest(t)

	rec := get(h.HandleLeaderboard, "/leaderboard")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No successful runs yet") {
		t.Error("expected empty state message")
	}
}

func TestHandleLeaderboard_JSON(t *testing.T) {
	h, store := setupTest(t)
	seedRun(t, store, "s1", "only-client", true, true, 200)

	rec := get(h.HandleLeaderboard, "/leaderboard", "Accept", "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Entries []struct {
			Rank       int     `json:"rank"`
			Total      int     `json:"total"`
			TopPercent float64 `json:"top_percent"`
		} `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(resp.Entries))
	}
	if resp.Entries[0].Rank != 1 || resp.Entries[0].Total != 1 || resp.Entries[0].TopPercent != 100 {
		t.Errorf("entry = %+v, want rank 1 of 1 at 100%%", resp.Entries[0])
	}
}

// --- HandleRuns ---

func TestHandleRuns_ListsEveryOutcome(t *testing.T) {
	h, store := setupTest(t)
	seedRun(t, store, "s-ok", "ok-client", true, true, 100)
	seedRun(t, store, "s-bad", "bad-client", true, false, 0)
	seedRun(t, store, "s-live", "live-client", false, false, 0)

	rec := get(h.HandleRuns, "/runs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"ok-client", "bad-client", "live-client", "in progress", "failed", "success"} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in runs page", want)
		}
	}
}

func TestHandleRuns_Limit(t *testing.T) {
	h, store := setupTest(t)
	seedRun(t, store, "s1", "c1", false, false, 0)
	seedRun(t, store, "s2", "c2", false, false, 0)

	rec := get(h.HandleRuns, "/runs?limit=1", "Accept", "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Runs []model.Run `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Runs) != 1 {
		t.Errorf("runs = %d, want 1", len(resp.Runs))
	}
}

func TestHandleRuns_InvalidLimit(t *testing.T) {
	h, _ := setupTest(t)

	for _, target := range []string{"/runs?limit=abc", "/runs?limit=0", "/runs?limit=5000"} {
		rec := get(h.HandleRuns, target, "Accept", "application/json")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
			continue
		}
		if !strings.Contains(rec.Body.String(), "INVALID_REQUEST") {
			t.Errorf("%s: expected INVALID_REQUEST code", target)
		}
	}
}

// --- HandleRun ---

func runRequest(h *Handlers, id string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/runs/"+id, nil)
	req.SetPathValue("id", id)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.HandleRun(rec, req)
	return rec
}

func TestHandleRun_RendersScorecard(t *testing.T) {
	h, store := setupTest(t)
	runID := seedRun(t, store, "s1", "detail-client", true, true, 100)

	rec := runRequest(h, runID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<table>") {
		t.Error("expected the scorecard rendered as an HTML table")
	}
	if !strings.Contains(body, scorecard.CheckElicitation) {
		t.Error("expected check ids in the scorecard")
	}
	if !strings.Contains(body, "Rank: 1 out of 1") {
		t.Error("expected leaderboard placement")
	}
}

func TestHandleRun_EscapesClientName(t *testing.T) {
	h, store := setupTest(t)
	runID := seedRun(t, store, "s1", "<script>alert(1)</script>", true, true, 100)

	rec := runRequest(h, runID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "<script>alert(1)</script>") {
		t.Error("client name must not be rendered as raw HTML")
	}
}

func TestHandleRun_JSON(t *testing.T) {
	h, store := setupTest(t)
	runID := seedRun(t, store, "s1", "json-client", false, false, 0)

	rec := runRequest(h, runID, "Accept", "application/json")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Run  model.Run `json:"run"`
		Rank int       `json:"rank"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Run.ID != runID {
		t.Errorf("run id = %q, want %q", resp.Run.ID, runID)
	}
	if resp.Rank != 0 {
		t.Errorf("in-progress run rank = %d, want 0", resp.Rank)
	}
}

func TestHandleRun_NotFound(t *testing.T) {
	h, _ := setupTest(t)

	rec := runRequest(h, "01NOPE")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Error 404") {
		t.Error("expected the HTML error page")
	}

	rec = runRequest(h, "01NOPE", "Accept", "application/json")
	if !strings.Contains(rec.Body.String(), "NOT_FOUND") {
		t.Error("expected NOT_FOUND in JSON error")
	}
}

// --- HandleSession ---

func TestHandleSession(t *testing.T) {
	h, store := setupTest(t)
	seedRun(t, store, "sess-1", "c", false, false, 0)

	req := httptest.NewRequest("GET", "/sessions/sess-1", nil)
	req.SetPathValue("id", "sess-1")
	rec := httptest.NewRecorder()
	h.HandleSession(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var sess model.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sess.ID != "sess-1" || sess.RunID == nil {
		t.Errorf("session = %+v, want sess-1 with a run", sess)
	}
}

func TestHandleSession_NotFoundIsJSON(t *testing.T) {
	h, _ := setupTest(t)

	req := httptest.NewRequest("GET", "/sessions/missing", nil)
	req.SetPathValue("id", "missing")
	rec := httptest.NewRecorder()
	h.HandleSession(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}
}

// --- Server wiring ---

func TestServer_Routes(t *testing.T) {
	_, store := setupTest(t)

	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	rec.SessionOpened()

	srv, err := NewServer(store, Options{Addr: "127.0.0.1:0", Version: "test", Gatherer: reg})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	cases := []struct {
		path   string
		status int
		want   string
	}{
		{"/", http.StatusFound, ""},
		{"/leaderboard", http.StatusOK, "Leaderboard"},
		{"/runs", http.StatusOK, "Recent runs"},
		{"/static/style.css", http.StatusOK, "--accent"},
		{"/metrics", http.StatusOK, "mcpeval_sessions_active 1"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest("GET", tc.path, nil)
		w := httptest.NewRecorder()
		srv.Handler.ServeHTTP(w, req)

		if w.Code != tc.status {
			t.Errorf("%s: status = %d, want %d", tc.path, w.Code, tc.status)
			continue
		}
		if tc.want != "" && !strings.Contains(w.Body.String(), tc.want) {
			t.Errorf("%s: body missing %q", tc.path, tc.want)
		}
		if w.Header().Get("X-Frame-Options") != "DENY" {
			t.Errorf("%s: missing security headers", tc.path)
		}
	}
}

func TestServer_NoGathererNoMetrics(t *testing.T) {
	_, store := setupTest(t)

	srv, err := NewServer(store, Options{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	w := httptest.NewRecorder()
	srv.Handler.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}
