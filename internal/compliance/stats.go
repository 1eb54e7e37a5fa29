package compliance

import (
	"math"
	"sort"
	"time"
)

// Stats summarizes a set of tracking records.
type Stats struct {
	Total          int `json:"total"`
	Completed      int `json:"completed"`
	InProgress     int `json:"in_progress"`
	NotStarted     int `json:"not_started"`
	Skipped        int `json:"skipped"`
	Overdue        int `json:"overdue"`
	CompletionRate int `json:"completion_rate"`
}

// ComputeStats counts records by status and flags overdue deadlines.
// Overdue means a non-nil due date strictly before now on a record that is
// neither completed nor skipped. CompletionRate is round(completed/total*100)
// and 0 for an empty input.
func ComputeStats(records []TrackingRecord, now time.Time) Stats {
	st := Stats{Total: len(records)}
	for _, r := range records {
		switch r.Status {
		case StatusCompleted:
			st.Completed++
		case StatusInProgress:
			st.InProgress++
		case StatusSkipped:
			st.Skipped++
		default:
			st.NotStarted++
		}
		if r.NextDueDate != nil && r.NextDueDate.Before(now) &&
			r.Status != StatusCompleted && r.Status != StatusSkipped {
			st.Overdue++
		}
	}
	if st.Total > 0 {
		st.CompletionRate = int(math.Round(float64(st.Completed) / float64(st.Total) * 100))
	}
	return st
}

// Deadline pairs a record with the number of days until its due date.
type Deadline struct {
	Record       TrackingRecord `json:"record"`
	DaysUntilDue int            `json:"days_until_due"`
}

// UpcomingDeadlines returns open records whose due date falls inside the
// inclusive window [now, now+daysAhead days], soonest first. Days are rounded
// up, so a deadline later today counts as 1. Ties keep input order.
func UpcomingDeadlines(records []TrackingRecord, daysAhead int, now time.Time) []Deadline {
	end := now.AddDate(0, 0, daysAhead)
	var out []Deadline
	for _, r := range records {
		if r.NextDueDate == nil || r.Status == StatusCompleted || r.Status == StatusSkipped {
			continue
		}
		due := *r.NextDueDate
		if due.Before(now) || due.After(end) {
			continue
		}
		days := int(math.Ceil(due.Sub(now).Hours() / 24))
		out = append(out, Deadline{Record: r, DaysUntilDue: days})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DaysUntilDue < out[j].DaysUntilDue
	})
	return out
}
