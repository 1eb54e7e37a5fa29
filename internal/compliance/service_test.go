package compliance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func fixedClock(t time.Time) Option {
	return WithClock(func() time.Time { return t })
}

// testTemplate matches the three-item scenario used throughout: a one-time
// item with a literal due date, a quarterly item and an annual item.
func testTemplate(t *testing.T, s *InMemory) ChecklistTemplate {
	t.Helper()
	tpl, err := s.UpsertTemplate(context.Background(), ChecklistTemplate{
		Title:        "General Business Compliance",
		Region:       "US",
		BusinessType: "home_services",
		IsActive:     true,
		Sections: []Section{
			{
				Title: "Licensing",
				Items: []Item{
					{ID: "A1", Label: "Renew business license", Frequency: FreqOnce, DueDate: datePtr(2025, 1, 31)},
				},
			},
			{
				Title: "Taxes",
				Items: []Item{
					{ID: "B1", Label: "File quarterly estimated taxes", Frequency: FreqQuarterly},
					{ID: "C1", Label: "File annual return", Frequency: FreqAnnually},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("UpsertTemplate: %v", err)
	}
	return tpl
}

func TestUpsertTemplateRejectsDuplicateItemIDs(t *testing.T) {
	s := NewInMemory()
	_, err := s.UpsertTemplate(context.Background(), ChecklistTemplate{
		Title: "Broken",
		Sections: []Section{
			{Title: "One", Items: []Item{{ID: "X", Label: "a"}}},
			{Title: "Two", Items: []Item{{ID: "X", Label: "b"}}},
		},
	})
	if !errors.Is(err, ErrDuplicateItemID) {
		t.Fatalf("expected ErrDuplicateItemID, got %v", err)
	}
}

func TestListActiveTemplatesFilters(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	testTemplate(t, s)
	if _, err := s.UpsertTemplate(ctx, ChecklistTemplate{
		Title: "EU Checklist", Region: "EU", IsActive: true,
		Sections: []Section{{Items: []Item{{ID: "E1", Label: "x"}}}},
	}); err != nil {
		t.Fatalf("UpsertTemplate: %v", err)
	}
	if _, err := s.UpsertTemplate(ctx, ChecklistTemplate{
		Title: "Inactive", Region: "US", IsActive: false,
		Sections: []Section{{Items: []Item{{ID: "I1", Label: "x"}}}},
	}); err != nil {
		t.Fatalf("UpsertTemplate: %v", err)
	}

	all, err := s.ListActiveTemplates(ctx, "", "")
	if err != nil || len(all) != 2 {
		t.Fatalf("expected 2 active templates, got %d (%v)", len(all), err)
	}
	us, _ := s.ListActiveTemplates(ctx, "US", "")
	if len(us) != 1 || us[0].Region != "US" {
		t.Fatalf("unexpected US filter result: %+v", us)
	}
	hs, _ := s.ListActiveTemplates(ctx, "US", "home_services")
	if len(hs) != 1 {
		t.Fatalf("unexpected region+type filter result: %+v", hs)
	}
	none, err := s.ListActiveTemplates(ctx, "APAC", "")
	if err != nil {
		t.Fatalf("empty filter result should not error: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected empty result, got %+v", none)
	}
}

func TestInitializeTracking(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	tpl := testTemplate(t, s)

	records, err := s.InitializeTracking(ctx, "T1", tpl.ID)
	if err != nil {
		t.Fatalf("InitializeTracking: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected one record per item, got %d", len(records))
	}
	for _, r := range records {
		if r.Status != StatusNotStarted {
			t.Fatalf("record %s status = %s", r.ItemID, r.Status)
		}
		if r.TenantID != "T1" || r.ChecklistID != tpl.ID {
			t.Fatalf("record misattributed: %+v", r)
		}
	}
	if records[0].NextDueDate == nil || !records[0].NextDueDate.Equal(*datePtr(2025, 1, 31)) {
		t.Fatalf("literal due date not carried over: %v", records[0].NextDueDate)
	}
	if records[1].NextDueDate != nil || records[2].NextDueDate != nil {
		t.Fatal("items without a literal due date should start with none")
	}

	// Re-initialization is an explicit error, not a duplicate set.
	if _, err := s.InitializeTracking(ctx, "T1", tpl.ID); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	// A different tenant is unaffected.
	if _, err := s.InitializeTracking(ctx, "T2", tpl.ID); err != nil {
		t.Fatalf("second tenant init: %v", err)
	}

	if _, err := s.InitializeTracking(ctx, "T1", "no-such-template"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestScenarioStatsAfterInit(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC) // past the 2025-01-31 due date
	s := NewInMemory(fixedClock(now))
	tpl := testTemplate(t, s)

	records, err := s.InitializeTracking(context.Background(), "T1", tpl.ID)
	if err != nil {
		t.Fatalf("InitializeTracking: %v", err)
	}
	st := ComputeStats(records, now)
	want := Stats{Total: 3, NotStarted: 3, Overdue: 1, CompletionRate: 0}
	if st != want {
		t.Fatalf("stats = %+v, want %+v", st, want)
	}

	before := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if st := ComputeStats(records, before); st.Overdue != 0 {
		t.Fatalf("overdue before the due date = %d, want 0", st.Overdue)
	}
}

func TestUpdateStatusCompletion(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := NewInMemory(fixedClock(now))
	ctx := context.Background()
	tpl := testTemplate(t, s)
	records, _ := s.InitializeTracking(ctx, "T1", tpl.ID)

	rec, err := s.UpdateStatus(ctx, records[0].ID, StatusCompleted, "U1", StatusUpdate{})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if rec.Status != StatusCompleted || rec.CompletedBy != "U1" {
		t.Fatalf("completion not stamped: %+v", rec)
	}
	if rec.CompletedAt == nil || !rec.CompletedAt.Equal(now) {
		t.Fatalf("completed_at = %v, want %v", rec.CompletedAt, now)
	}
	// One-time item completed: the deadline goes away.
	if rec.NextDueDate != nil {
		t.Fatalf("one-time item should lose its due date, got %v", rec.NextDueDate)
	}

	all, _ := s.ListTracking(ctx, "T1", tpl.ID)
	st := ComputeStats(all, now)
	if st.Completed != 1 || st.CompletionRate != 33 {
		t.Fatalf("stats after completion = %+v", st)
	}
}

func TestUpdateStatusRecurringRollsForward(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := NewInMemory(fixedClock(now))
	ctx := context.Background()
	tpl := testTemplate(t, s)
	records, _ := s.InitializeTracking(ctx, "T1", tpl.ID)

	// records[1] is the quarterly item with no literal due date.
	rec, err := s.UpdateStatus(ctx, records[1].ID, StatusCompleted, "U1", StatusUpdate{})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	want := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	if rec.NextDueDate == nil || !rec.NextDueDate.Equal(want) {
		t.Fatalf("quarterly next due = %v, want %v", rec.NextDueDate, want)
	}
	if rec.ReminderSent {
		t.Fatal("reminder flag should reset for the next occurrence")
	}
}

func TestUpdateStatusReopenKeepsFirstCompletion(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := NewInMemory(fixedClock(now))
	ctx := context.Background()
	tpl := testTemplate(t, s)
	records, _ := s.InitializeTracking(ctx, "T1", tpl.ID)

	first, _ := s.UpdateStatus(ctx, records[0].ID, StatusCompleted, "U1", StatusUpdate{})
	reopened, err := s.UpdateStatus(ctx, records[0].ID, StatusInProgress, "U2", StatusUpdate{})
	if err != nil {
		t.Fatalf("UpdateStatus reopen: %v", err)
	}
	if reopened.Status != StatusInProgress {
		t.Fatalf("status = %s", reopened.Status)
	}
	if reopened.CompletedAt == nil || !reopened.CompletedAt.Equal(*first.CompletedAt) || reopened.CompletedBy != "U1" {
		t.Fatalf("first completion was not preserved: %+v", reopened)
	}
	if len(reopened.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(reopened.History))
	}
	if reopened.History[1].From != StatusCompleted || reopened.History[1].To != StatusInProgress || reopened.History[1].Actor != "U2" {
		t.Fatalf("unexpected history entry: %+v", reopened.History[1])
	}

	// Completing again must not overwrite the first completion.
	again, _ := s.UpdateStatus(ctx, records[0].ID, StatusCompleted, "U3", StatusUpdate{})
	if again.CompletedBy != "U1" {
		t.Fatalf("first completer overwritten: %s", again.CompletedBy)
	}
}

func TestUpdateStatusPartialUpdates(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	tpl := testTemplate(t, s)
	records, _ := s.InitializeTracking(ctx, "T1", tpl.ID)

	notes := "waiting on the county office"
	rec, err := s.UpdateStatus(ctx, records[0].ID, StatusInProgress, "U1", StatusUpdate{
		Notes:       &notes,
		Attachments: []Attachment{{Name: "application.pdf", URL: "https://files.test/app.pdf"}},
	})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if rec.Notes != notes || len(rec.Attachments) != 1 {
		t.Fatalf("explicit fields not applied: %+v", rec)
	}

	// Omitted fields stay untouched.
	rec, err = s.UpdateStatus(ctx, records[0].ID, StatusInProgress, "U1", StatusUpdate{})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if rec.Notes != notes || len(rec.Attachments) != 1 {
		t.Fatalf("omitted fields were clobbered: %+v", rec)
	}

	if _, err := s.UpdateStatus(ctx, records[0].ID, Status("bogus"), "U1", StatusUpdate{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad status, got %v", err)
	}
	if _, err := s.UpdateStatus(ctx, "missing", StatusCompleted, "U1", StatusUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestScheduleQuarterlyTaxReminders(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := NewInMemory(fixedClock(now))
	ctx := context.Background()
	tpl := testTemplate(t, s)
	records, _ := s.InitializeTracking(ctx, "T1", tpl.ID)

	rems, err := s.ScheduleQuarterlyTaxReminders(ctx, "T1", records[1].ID)
	if err != nil {
		t.Fatalf("ScheduleQuarterlyTaxReminders: %v", err)
	}
	if len(rems) != 4 {
		t.Fatalf("expected 4 reminders on 2025-03-01, got %d", len(rems))
	}
	wantDue := []time.Time{
		time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 9, 15, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
	}
	for i, rem := range rems {
		if !rem.ScheduledFor.Equal(wantDue[i].AddDate(0, 0, -7)) {
			t.Fatalf("reminder %d scheduled for %v, want 7 days before %v", i, rem.ScheduledFor, wantDue[i])
		}
		if !strings.Contains(rem.Message, "Q"+string(rune('1'+i))) {
			t.Fatalf("reminder %d message does not name its quarter: %q", i, rem.Message)
		}
	}

	// Mid-July: Q1 and Q2 have passed.
	later := NewInMemory(fixedClock(time.Date(2025, 7, 20, 0, 0, 0, 0, time.UTC)))
	tpl2 := testTemplate(t, later)
	recs2, _ := later.InitializeTracking(ctx, "T1", tpl2.ID)
	rems2, err := later.ScheduleQuarterlyTaxReminders(ctx, "T1", recs2[1].ID)
	if err != nil {
		t.Fatalf("ScheduleQuarterlyTaxReminders: %v", err)
	}
	if len(rems2) != 2 {
		t.Fatalf("expected 2 future reminders mid-July, got %d", len(rems2))
	}
}

func TestPendingRemindersAndMarkSent(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s := NewInMemory(fixedClock(now))
	ctx := context.Background()
	tpl := testTemplate(t, s)
	records, _ := s.InitializeTracking(ctx, "T1", tpl.ID)

	past, err := s.ScheduleReminder(ctx, Reminder{
		TenantID: "T1", RecordID: records[0].ID, Channel: ChannelEmail,
		ScheduledFor: now.AddDate(0, 0, -1), Message: "license renewal is due",
	})
	if err != nil {
		t.Fatalf("ScheduleReminder: %v", err)
	}
	if _, err := s.ScheduleReminder(ctx, Reminder{
		TenantID: "T1", RecordID: records[0].ID, Channel: ChannelSMS,
		ScheduledFor: now.AddDate(0, 0, 5), Message: "coming up",
	}); err != nil {
		t.Fatalf("ScheduleReminder future: %v", err)
	}

	pending, err := s.ListPendingReminders(ctx)
	if err != nil {
		t.Fatalf("ListPendingReminders: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != past.ID {
		t.Fatalf("expected only the past reminder, got %+v", pending)
	}

	if err := s.MarkSent(ctx, past.ID); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	// Idempotent.
	if err := s.MarkSent(ctx, past.ID); err != nil {
		t.Fatalf("MarkSent twice: %v", err)
	}
	pending, _ = s.ListPendingReminders(ctx)
	if len(pending) != 0 {
		t.Fatalf("sent reminder still pending: %+v", pending)
	}

	rec, _ := s.GetRecord(ctx, records[0].ID)
	if !rec.ReminderSent {
		t.Fatal("record reminder flag not set after dispatch")
	}

	if err := s.MarkSent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestScheduleReminderValidation(t *testing.T) {
	s := NewInMemory()
	ctx := context.Background()
	tpl := testTemplate(t, s)
	records, _ := s.InitializeTracking(ctx, "T1", tpl.ID)

	if _, err := s.ScheduleReminder(ctx, Reminder{
		TenantID: "T1", RecordID: records[0].ID, Channel: Channel("pigeon"),
		ScheduledFor: time.Now(),
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown channel, got %v", err)
	}
	if _, err := s.ScheduleReminder(ctx, Reminder{
		TenantID: "T1", RecordID: "missing", Channel: ChannelEmail,
		ScheduledFor: time.Now(),
	}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown record, got %v", err)
	}
}

func TestClaimDueReminders(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	current := base
	s := NewInMemory(WithClock(func() time.Time { return current }))
	ctx := context.Background()
	tpl := testTemplate(t, s)
	records, _ := s.InitializeTracking(ctx, "T1", tpl.ID)

	for i := 0; i < 3; i++ {
		if _, err := s.ScheduleReminder(ctx, Reminder{
			TenantID: "T1", RecordID: records[0].ID, Channel: ChannelEmail,
			ScheduledFor: base.Add(-time.Hour), Message: "due",
		}); err != nil {
			t.Fatalf("ScheduleReminder: %v", err)
		}
	}

	first, err := s.ClaimDueReminders(ctx, 2)
	if err != nil {
		t.Fatalf("ClaimDueReminders: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 claims, got %d", len(first))
	}

	// A competing dispatcher only sees the remaining one.
	second, _ := s.ClaimDueReminders(ctx, 10)
	if len(second) != 1 {
		t.Fatalf("expected 1 remaining claim, got %d", len(second))
	}

	// Nothing is claimable while claims are fresh.
	third, _ := s.ClaimDueReminders(ctx, 10)
	if len(third) != 0 {
		t.Fatalf("expected no claims, got %d", len(third))
	}

	// Claims lapse: an unacknowledged reminder is re-delivered.
	current = base.Add(10 * time.Minute)
	if err := s.MarkSent(ctx, first[0].ID); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	reclaimed, _ := s.ClaimDueReminders(ctx, 10)
	if len(reclaimed) != 2 {
		t.Fatalf("expected 2 lapsed claims, got %d", len(reclaimed))
	}
}
