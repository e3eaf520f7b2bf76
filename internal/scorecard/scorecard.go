// Package scorecard holds the benchmark rubric and the point-capping logic
// applied whenever a check is scored.
package scorecard

import "sort"

// Status is the outcome recorded for a single rubric check.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPassed  Status = "PASSED"
	StatusFailed  Status = "FAILED"
	StatusPartial Status = "PARTIAL"
	StatusSkipped Status = "SKIPPED"
)

// Rubric check IDs.
const (
	CheckElicitation     = "elicitation_support"
	CheckSampling        = "sampling_support"
	CheckResourceReading = "resource_reading"
	CheckCodeVerify      = "code_verification"
)

// LineItem is one scored check.
type LineItem struct {
	Description  string `json:"description"`
	Status       Status `json:"status"`
	PointsEarned int    `json:"points_earned"`
	MaxPoints    int    `json:"max_points"`
	Notes        string `json:"notes,omitempty"`
}

// Scorecard maps check IDs to their line items.
type Scorecard map[string]*LineItem

// Check is a static rubric definition.
type Check struct {
	ID          string
	Description string
	MaxPoints   int
}

// Rubric is the fixed list of checks every run is scored against.
var Rubric = []Check{
	{ID: CheckElicitation, Description: "Client correctly handles an elicitation request.", MaxPoints: 25},
	{ID: CheckSampling, Description: "Client uses sampling to generate confirmation email.", MaxPoints: 20},
	{ID: CheckResourceReading, Description: "Client can read from a dynamically enabled resource.", MaxPoints: 25},
	{ID: CheckCodeVerify, Description: "Client submits correct data from a resource to a tool.", MaxPoints: 25},
}

// New builds a fresh scorecard from the rubric with every check PENDING.
func New() Scorecard {
	sc := make(Scorecard, len(Rubric))
	for _, c := range Rubric {
		sc[c.ID] = &LineItem{
			Description: c.Description,
			Status:      StatusPending,
			MaxPoints:   c.MaxPoints,
		}
	}
	return sc
}

// MaxTotal returns the highest score the rubric allows.
func MaxTotal() int {
	total := 0
	for _, c := range Rubric {
		total += c.MaxPoints
	}
	return total
}

// Award records an outcome for checkID. Points are clamped to [0, MaxPoints].
// Unknown check IDs are ignored; the returned bool reports whether the check exists.
func (sc Scorecard) Award(checkID string, status Status, points int, notes string) (LineItem, bool) {
	item, ok := sc[checkID]
	if !ok || item == nil {
		return LineItem{}, false
	}
	item.Status = status
	item.Notes = notes
	item.PointsEarned = clamp(points, item.MaxPoints)
	return *item, true
}

// Total sums PointsEarned across all checks.
func (sc Scorecard) Total() int {
	total := 0
	for _, item := range sc {
		if item != nil {
			total += item.PointsEarned
		}
	}
	return total
}

// Clone returns a deep copy.
func (sc Scorecard) Clone() Scorecard {
	out := make(Scorecard, len(sc))
	for id, item := range sc {
		if item == nil {
			continue
		}
		cp := *item
		out[id] = &cp
	}
	return out
}

// IDs returns check IDs in rubric order, followed by any extra IDs sorted.
func (sc Scorecard) IDs() []string {
	ids := make([]string, 0, len(sc))
	seen := make(map[string]bool, len(sc))
	for _, c := range Rubric {
		if _, ok := sc[c.ID]; ok {
			ids = append(ids, c.ID)
			seen[c.ID] = true
		}
	}
	extra := make([]string, 0)
	for id := range sc {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	sort.Strings(extra)
	return append(ids, extra...)
}

// Restore rebuilds a scorecard from a persisted snapshot. Rubric checks missing
// from the snapshot come back PENDING and stored points are re-clamped against
// the current rubric maximums.
func Restore(details Scorecard) Scorecard {
	sc := New()
	for id, stored := range details {
		if stored == nil {
			continue
		}
		item, ok := sc[id]
		if !ok {
			cp := *stored
			cp.PointsEarned = clamp(cp.PointsEarned, cp.MaxPoints)
			sc[id] = &cp
			continue
		}
		item.Status = stored.Status
		item.Notes = stored.Notes
		item.PointsEarned = clamp(stored.PointsEarned, item.MaxPoints)
	}
	return sc
}

func clamp(points, max int) int {
	if points > max {
		return max
	}
	if points < 0 {
		return 0
	}
	return points
}
