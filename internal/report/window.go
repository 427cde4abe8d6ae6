package report

import (
	"fmt"
	"strings"
	"time"

	"fx-ledger/internal/ledger"
	"fx-ledger/pkg/db"
)

const dayLayout = "02/01/2006"

// Window is an inclusive reporting period.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) span() db.Window {
	return db.Window{From: w.Start, To: w.End}
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Millisecond), t.Location())
}

// CurrentMonth is the calendar month containing now, in loc.
func CurrentMonth(now time.Time, loc *time.Location) Window {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	return Window{Start: start, End: endOfDay(start.AddDate(0, 1, -1))}
}

// ParseWindow reads "DD/MM/YYYY-DD/MM/YYYY" or a single "DD/MM/YYYY". The end day
// is included in full. An empty string means the current month.
func ParseWindow(s string, now time.Time, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return CurrentMonth(now, loc), nil
	}

	startText, endText, isRange := strings.Cut(s, "-")
	start, err := time.ParseInLocation(dayLayout, strings.TrimSpace(startText), loc)
	if err != nil {
		return Window{}, badRange(s)
	}
	end := start
	if isRange {
		if end, err = time.ParseInLocation(dayLayout, strings.TrimSpace(endText), loc); err != nil {
			return Window{}, badRange(s)
		}
	}
	if end.Before(start) {
		return Window{}, &ledger.ValidationError{Field: "range", Reason: fmt.Sprintf("%q ends before it starts", s)}
	}
	return Window{Start: start, End: endOfDay(end)}, nil
}

func badRange(s string) error {
	return &ledger.ValidationError{Field: "range", Reason: fmt.Sprintf("%q is not DD/MM/YYYY or DD/MM/YYYY-DD/MM/YYYY", s)}
}
