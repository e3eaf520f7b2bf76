package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hpungsan/mcpeval/internal/errors"
	"github.com/hpungsan/mcpeval/internal/model"
	"github.com/hpungsan/mcpeval/internal/scorecard"
)

// Ranker lists successful runs in leaderboard order.
type Ranker interface {
	GetAllSuccessfulRunsRanked(ctx context.Context) ([]model.Run, error)
}

// Outcome is a run placed on the leaderboard.
type Outcome struct {
	Run        *model.Run `json:"run"`
	Rank       int        `json:"rank"`
	Total      int        `json:"total"`
	TopPercent float64    `json:"top_percent"`
}

// Ranked reports whether the run appears on the leaderboard.
func (o *Outcome) Ranked() bool { return o.Rank > 0 }

// Rank returns the 1-based position of runID in runs, or 0 if absent.
func Rank(runs []model.Run, runID string) int {
	for i := range runs {
		if runs[i].ID == runID {
			return i + 1
		}
	}
	return 0
}

// TopPercent is rank / total × 100. Zero for unranked runs.
func TopPercent(rank, total int) float64 {
	if rank <= 0 || total <= 0 {
		return 0
	}
	return float64(rank) / float64(total) * 100
}

// OutcomeFor ranks run against every successful run.
func OutcomeFor(ctx context.Context, r Ranker, run *model.Run) (*Outcome, error) {
	ranked, err := r.GetAllSuccessfulRunsRanked(ctx)
	if err != nil {
		return nil, err
	}
	rank := Rank(ranked, run.ID)
	return &Outcome{
		Run:        run,
		Rank:       rank,
		Total:      len(ranked),
		TopPercent: TopPercent(rank, len(ranked)),
	}, nil
}

// LoadOutcome ranks the latest run of a session.
func LoadOutcome(ctx context.Context, store Store, sessionID string) (*Outcome, error) {
	run, err := store.GetLatestRunForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, errors.NewNotFound("run for session", sessionID)
	}
	return OutcomeFor(ctx, store, run)
}

// Text renders the outcome as the plain-text results resource.
func (o *Outcome) Text() string {
	var b strings.Builder
	b.WriteString("--- Benchmark Results ---\n")
	fmt.Fprintf(&b, "Status: %s\n", o.status())
	fmt.Fprintf(&b, "Score: %d\n", o.Run.Score)
	fmt.Fprintf(&b, "Time: %s\n", o.duration())
	if o.Ranked() {
		fmt.Fprintf(&b, "Rank: %d out of %d successful runs.\n", o.Rank, o.Total)
		fmt.Fprintf(&b, "Percentile: top %.1f%%\n", o.TopPercent)
	} else {
		b.WriteString("Rank: not ranked.\n")
	}
	fmt.Fprintf(&b, "Results: %s", o.detailsJSON())
	return b.String()
}

// Markdown renders the outcome as a report for the web UI.
func (o *Outcome) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", o.Run.ID)
	if o.Run.ClientName != "" {
		fmt.Fprintf(&b, "Client **%s** %s\n\n", o.Run.ClientName, o.Run.ClientVersion)
	}
	fmt.Fprintf(&b, "- Status: **%s**\n", o.status())
	fmt.Fprintf(&b, "- Score: **%d** / %d\n", o.Run.Score, scorecard.MaxTotal())
	fmt.Fprintf(&b, "- Time: %s\n", o.duration())
	if o.Ranked() {
		fmt.Fprintf(&b, "- Rank: %d out of %d successful runs (top %.1f%%)\n", o.Rank, o.Total, o.TopPercent)
	}

	b.WriteString("\n## Scorecard\n\n")
	b.WriteString("| Check | Status | Points | Notes |\n")
	b.WriteString("|---|---|---|---|\n")
	card := o.Run.Details
	if card == nil {
		card = scorecard.New()
	}
	for _, id := range card.IDs() {
		item := card[id]
		if item == nil {
			continue
		}
		fmt.Fprintf(&b, "| `%s` | %s | %d / %d | %s |\n",
			id, item.Status, item.PointsEarned, item.MaxPoints, escapeCell(item.Notes))
	}
	return b.String()
}

func (o *Outcome) status() string {
	switch {
	case !o.Run.Completed():
		return "IN PROGRESS"
	case o.Run.Succeeded():
		return "SUCCESS"
	default:
		return "FAILED"
	}
}

func (o *Outcome) duration() string {
	if o.Run.TimeToCompletionMS == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2fs", float64(*o.Run.TimeToCompletionMS)/1000)
}

func (o *Outcome) detailsJSON() string {
	data, err := json.MarshalIndent(o.Run.Details, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
