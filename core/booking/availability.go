package booking

import (
	"sort"
	"time"

	"github.com/trezcool/tutorly/core"
)

const (
	slotStep = 30 * time.Minute

	// EndOfDay closes a window at midnight. It is only valid as a window end.
	EndOfDay = "24:00"
)

// Window is a range of wall-clock times ("HH:MM") on a given date during which a tutor takes sessions.
type Window struct {
	Start string `json:"start" validate:"required,hhmm,halfhour"`
	End   string `json:"end" validate:"required,windowend,halfhour"`
}

// Availability is the set of windows a tutor declared for one date.
type Availability struct {
	TutorID string   `json:"tutor_id"`
	Date    string   `json:"date"`
	Windows []Window `json:"windows"`
	Slots   []string `json:"slots"`
}

type SetAvailability struct {
	Date    string   `json:"date" validate:"required,date"`
	Windows []Window `json:"windows" validate:"dive"`
}

// Slots enumerates the half-hour slot starts of windows, from each start (inclusive) to its end (exclusive).
// Malformed windows are skipped.
func Slots(windows []Window) []string {
	seen := make(map[string]bool)
	var slots []string
	for _, w := range windows {
		start, err1 := time.Parse(core.ClockLayout, w.Start)
		end, err2 := parseWindowEnd(w.End)
		if err1 != nil || err2 != nil {
			continue
		}
		for t := start; t.Before(end); t = t.Add(slotStep) {
			s := t.Format(core.ClockLayout)
			if !seen[s] {
				seen[s] = true
				slots = append(slots, s)
			}
		}
	}
	sort.Strings(slots)
	return slots
}

func parseWindowEnd(s string) (time.Time, error) {
	if s == EndOfDay {
		midnight, err := time.Parse(core.ClockLayout, "00:00")
		return midnight.Add(24 * time.Hour), err
	}
	return time.Parse(core.ClockLayout, s)
}

// checkWindows refuses empty or overlapping windows.
func checkWindows(windows []Window) error {
	sorted := make([]Window, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	for i, w := range sorted {
		if w.Start >= w.End {
			return core.NewValidationError(ErrInvalidAvailability, core.FieldError{
				Field: "windows", Error: "window " + w.Start + "-" + w.End + " ends before it starts",
			})
		}
		if i > 0 && w.Start < sorted[i-1].End {
			return core.NewValidationError(ErrInvalidAvailability, core.FieldError{
				Field: "windows", Error: "window " + w.Start + "-" + w.End + " overlaps " + sorted[i-1].Start + "-" + sorted[i-1].End,
			})
		}
	}
	return nil
}

func containsSlot(slots []string, slot string) bool {
	i := sort.SearchStrings(slots, slot)
	return i < len(slots) && slots[i] == slot
}
