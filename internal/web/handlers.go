package web

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/hpungsan/mcpeval/internal/bench"
	"github.com/hpungsan/mcpeval/internal/errors"
	"github.com/hpungsan/mcpeval/internal/model"
)

// maxListLimit caps the ?limit parameter on /runs.
const maxListLimit = 200

// Store is the read side of the run database the pages need.
type Store interface {
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	GetSession(ctx context.Context, sessionID string) (*model.Session, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
	GetAllSuccessfulRunsRanked(ctx context.Context) ([]model.Run, error)
}

// Handlers holds the dependencies for HTTP handlers.
type Handlers struct {
	store    Store
	renderer *Renderer
}

// HandleLeaderboard renders successful runs in rank order.
func (h *Handlers) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	ranked, err := h.store.GetAllSuccessfulRunsRanked(r.Context())
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	entries := make([]bench.Outcome, len(ranked))
	for i := range ranked {
		entries[i] = bench.Outcome{
			Run:        &ranked[i],
			Rank:       i + 1,
			Total:      len(ranked),
			TopPercent: bench.TopPercent(i+1, len(ranked)),
		}
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{"entries": entries})
		return
	}

	h.renderer.renderPage(w, "leaderboard", LeaderboardPageData{
		PageData: PageData{Title: "Leaderboard", Version: h.renderer.version, Nav: "leaderboard"},
		Entries:  entries,
	})
}

// HandleRuns lists the most recent runs regardless of outcome.
func (h *Handlers) HandleRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseIntParam(r, "limit", 20)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	if limit < 1 || limit > maxListLimit {
		h.renderer.renderError(w, r, errors.NewInvalidRequest(fmt.Sprintf("limit must be between 1 and %d", maxListLimit)))
		return
	}

	runs, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, map[string]any{"runs": runs})
		return
	}

	h.renderer.renderPage(w, "runs", RunsPageData{
		PageData: PageData{Title: "Recent runs", Version: h.renderer.version, Nav: "runs"},
		Runs:     runs,
		Limit:    limit,
	})
}

// HandleRun shows one run with its scorecard and leaderboard placement.
func (h *Handlers) HandleRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	outcome, err := bench.OutcomeFor(r.Context(), h.store, run)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, outcome)
		return
	}

	h.renderer.renderPage(w, "run", RunPageData{
		PageData:     PageData{Title: "Run " + run.ID, Version: h.renderer.version, Nav: "runs"},
		Outcome:      outcome,
		RenderedHTML: h.renderer.renderMarkdown(outcome.Markdown()),
	})
}

// HandleSession returns the persisted session row as JSON.
func (h *Handlers) HandleSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		// Session lookups are API-only.
		r.Header.Set("Accept", "application/json")
		h.renderer.renderError(w, r, err)
		return
	}
	renderJSON(w, http.StatusOK, sess)
}

func parseIntParam(r *http.Request, name string, def int) (int, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.NewInvalidRequest(fmt.Sprintf("%s must be an integer", name))
	}
	return v, nil
}
