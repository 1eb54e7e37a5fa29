package compliance

import (
	"fmt"
	"time"
)

// AddMonthsClamped advances t by the given number of calendar months,
// clamping the day to the last day of the target month instead of letting it
// spill over (Jan 31 + 1 month = Feb 28/29, not Mar 2/3).
func AddMonthsClamped(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	target := first.AddDate(0, months, 0)
	lastDay := daysIn(target.Month(), target.Year())
	if day > lastDay {
		day = lastDay
	}
	return time.Date(target.Year(), target.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// NextDueDate projects the next due date for a recurring obligation. A
// one-time (or unset) frequency has no recurrence and returns nil. Otherwise
// the last due date, or now when absent, advances by 1/3/12 calendar months.
func NextDueDate(freq Frequency, last *time.Time, now time.Time) *time.Time {
	var months int
	switch freq {
	case FreqMonthly:
		months = 1
	case FreqQuarterly:
		months = 3
	case FreqAnnually:
		months = 12
	default:
		return nil
	}
	base := now
	if last != nil {
		base = *last
	}
	next := AddMonthsClamped(base, months)
	return &next
}

// quarterlyTaxDeadlines returns the four fixed IRS estimated-tax deadlines
// for the given calendar year. Q4 falls in January of the following year.
func quarterlyTaxDeadlines(year int) [4]time.Time {
	return [4]time.Time{
		time.Date(year, time.April, 15, 0, 0, 0, 0, time.UTC),
		time.Date(year, time.June, 15, 0, 0, 0, 0, time.UTC),
		time.Date(year, time.September, 15, 0, 0, 0, 0, time.UTC),
		time.Date(year+1, time.January, 15, 0, 0, 0, 0, time.UTC),
	}
}

func quarterlyTaxMessage(quarter int, due time.Time) string {
	return fmt.Sprintf("Q%d estimated tax payment due %s", quarter, due.Format("January 2, 2006"))
}

// QuarterlyTaxReminders builds email reminders seven days before each
// estimated-tax deadline of now's calendar year that is still in the future.
// IDs and CreatedAt are left for the store to assign.
func QuarterlyTaxReminders(tenantID, recordID string, now time.Time) []Reminder {
	var out []Reminder
	for i, due := range quarterlyTaxDeadlines(now.Year()) {
		if !due.After(now) {
			continue
		}
		out = append(out, Reminder{
			TenantID:     tenantID,
			RecordID:     recordID,
			Channel:      ChannelEmail,
			ScheduledFor: due.AddDate(0, 0, -7),
			Message:      quarterlyTaxMessage(i+1, due),
			Metadata: map[string]string{
				"kind":    "quarterly_tax",
				"quarter": fmt.Sprintf("Q%d", i+1),
			},
		})
	}
	return out
}
