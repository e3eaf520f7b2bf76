package bench

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

const (
	minGuests = 1
	maxGuests = 20
)

var timePattern = regexp.MustCompile(`^\d{2}:\d{2}$`)

// DetailsSchema is the JSON schema for reservation details, shared by the
// elicitation request and the submit_reservation_details tool.
func DetailsSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"guests": map[string]any{
				"type":        "integer",
				"description": fmt.Sprintf("Number of guests (%d-%d)", minGuests, maxGuests),
				"minimum":     minGuests,
				"maximum":     maxGuests,
			},
			"time": map[string]any{
				"type":        "string",
				"description": "Reservation time (HH:MM)",
				"pattern":     timePattern.String(),
			},
		},
		"required":             []string{"guests", "time"},
		"additionalProperties": false,
	}
}

// Details are validated reservation details.
type Details struct {
	Guests int
	Time   string
}

// ValidateDetails checks a decoded payload against DetailsSchema. On failure
// it returns a field name to message map. Unknown fields are ignored.
func ValidateDetails(data map[string]any) (Details, map[string]string) {
	fields := make(map[string]string)
	var d Details

	raw, ok := data["guests"]
	switch {
	case !ok || raw == nil:
		fields["guests"] = "required"
	default:
		n, ok := asInteger(raw)
		switch {
		case !ok:
			fields["guests"] = "must be an integer"
		case n < minGuests || n > maxGuests:
			fields["guests"] = fmt.Sprintf("must be between %d and %d", minGuests, maxGuests)
		default:
			d.Guests = int(n)
		}
	}

	rawTime, ok := data["time"]
	switch {
	case !ok || rawTime == nil:
		fields["time"] = "required"
	default:
		s, ok := rawTime.(string)
		switch {
		case !ok:
			fields["time"] = "must be a string"
		case !timePattern.MatchString(s):
			fields["time"] = "must be in HH:MM format"
		default:
			d.Time = s
		}
	}

	if len(fields) > 0 {
		return Details{}, fields
	}
	return d, nil
}

// asInteger accepts the numeric forms a JSON decoder may produce, as long as
// the value is integral.
func asInteger(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) || n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

// describeFields renders field errors in a stable order for notes and replies.
func describeFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + fields[k]
	}
	return strings.Join(parts, "; ")
}
