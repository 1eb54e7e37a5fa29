package compliance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"veriflow.io/internal/ids"
)

// reclaimAfter is how long a claimed reminder stays invisible to other
// dispatchers before it may be claimed again. Delivery is at-least-once: a
// dispatcher that crashes between sending and MarkSent causes a re-send once
// the claim lapses.
const reclaimAfter = 5 * time.Minute

// Service defines the compliance engine operations.
type Service interface {
	UpsertTemplate(ctx context.Context, tpl ChecklistTemplate) (ChecklistTemplate, error)
	GetTemplate(ctx context.Context, id string) (ChecklistTemplate, error)
	ListActiveTemplates(ctx context.Context, region, businessType string) ([]ChecklistTemplate, error)

	InitializeTracking(ctx context.Context, tenantID, templateID string) ([]TrackingRecord, error)
	ListTracking(ctx context.Context, tenantID, checklistID string) ([]TrackingRecord, error)
	GetRecord(ctx context.Context, id string) (TrackingRecord, error)
	UpdateStatus(ctx context.Context, recordID string, newStatus Status, actingUserID string, upd StatusUpdate) (TrackingRecord, error)

	ScheduleReminder(ctx context.Context, rem Reminder) (Reminder, error)
	ScheduleQuarterlyTaxReminders(ctx context.Context, tenantID, recordID string) ([]Reminder, error)
	ListPendingReminders(ctx context.Context) ([]Reminder, error)
	ClaimDueReminders(ctx context.Context, limit int) ([]Reminder, error)
	MarkSent(ctx context.Context, reminderID string) error
}

// InMemory implements Service with in-process state. Tests and local
// development run against it; production uses the Postgres store.
type InMemory struct {
	mu        sync.RWMutex
	templates map[string]*ChecklistTemplate
	tplOrder  []string
	records   map[string]*TrackingRecord
	recOrder  []string
	reminders map[string]*Reminder
	remOrder  []string

	now func() time.Time
}

// Option configures InMemory.
type Option func(*InMemory)

// WithClock overrides the time source, used by tests.
func WithClock(fn func() time.Time) Option {
	return func(s *InMemory) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewInMemory creates an empty compliance engine.
func NewInMemory(opts ...Option) *InMemory {
	s := &InMemory{
		templates: make(map[string]*ChecklistTemplate),
		records:   make(map[string]*TrackingRecord),
		reminders: make(map[string]*Reminder),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpsertTemplate inserts a template. Templates are append-only: an update is
// a new row with an incremented version, the old one gets deactivated by the
// operator tooling.
func (s *InMemory) UpsertTemplate(ctx context.Context, tpl ChecklistTemplate) (ChecklistTemplate, error) {
	if err := tpl.Validate(); err != nil {
		return ChecklistTemplate{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if tpl.ID == "" {
		tpl.ID = ids.New()
	}
	if tpl.Version <= 0 {
		tpl.Version = 1
	}
	tpl.CreatedAt = s.now().UTC()
	cp := tpl
	s.templates[cp.ID] = &cp
	s.tplOrder = append(s.tplOrder, cp.ID)
	return cp, nil
}

func (s *InMemory) GetTemplate(ctx context.Context, id string) (ChecklistTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.templates[id]
	if !ok {
		return ChecklistTemplate{}, ErrNotFound
	}
	return *tpl, nil
}

// ListActiveTemplates returns active templates, optionally narrowed by
// exact-match region and business type. No match is an empty slice.
func (s *InMemory) ListActiveTemplates(ctx context.Context, region, businessType string) ([]ChecklistTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []ChecklistTemplate{}
	for _, id := range s.tplOrder {
		tpl := s.templates[id]
		if !tpl.IsActive {
			continue
		}
		if region != "" && tpl.Region != region {
			continue
		}
		if businessType != "" && tpl.BusinessType != businessType {
			continue
		}
		out = append(out, *tpl)
	}
	return out, nil
}

// InitializeTracking creates one not_started record per template item.
// Creation is all-or-nothing, and initializing the same tenant/template pair
// twice is an explicit error rather than a source of duplicate records.
func (s *InMemory) InitializeTracking(ctx context.Context, tenantID, templateID string) ([]TrackingRecord, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tpl, ok := s.templates[templateID]
	if !ok {
		return nil, ErrNotFound
	}
	for _, id := range s.recOrder {
		r := s.records[id]
		if r.TenantID == tenantID && r.ChecklistID == templateID {
			return nil, ErrAlreadyInitialized
		}
	}

	now := s.now().UTC()
	var out []TrackingRecord
	for _, item := range tpl.Items() {
		rec := &TrackingRecord{
			ID:          ids.New(),
			TenantID:    tenantID,
			ChecklistID: templateID,
			ItemID:      item.ID,
			Status:      StatusNotStarted,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if item.DueDate != nil {
			due := *item.DueDate
			rec.NextDueDate = &due
		}
		s.records[rec.ID] = rec
		s.recOrder = append(s.recOrder, rec.ID)
		out = append(out, *rec)
	}
	return out, nil
}

func (s *InMemory) ListTracking(ctx context.Context, tenantID, checklistID string) ([]TrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []TrackingRecord{}
	for _, id := range s.recOrder {
		r := s.records[id]
		if r.TenantID != tenantID {
			continue
		}
		if checklistID != "" && r.ChecklistID != checklistID {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (s *InMemory) GetRecord(ctx context.Context, id string) (TrackingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return TrackingRecord{}, ErrNotFound
	}
	return *r, nil
}

// UpdateStatus applies a status transition. Any state is reachable from any
// state. Completing stamps the first completion and, for recurring items,
// rolls the due date forward; notes and attachments are applied only when
// explicitly provided.
func (s *InMemory) UpdateStatus(ctx context.Context, recordID string, newStatus Status, actingUserID string, upd StatusUpdate) (TrackingRecord, error) {
	if !ValidStatus(newStatus) {
		return TrackingRecord{}, fmt.Errorf("%w: unknown status %q", ErrValidation, newStatus)
	}
	if strings.TrimSpace(actingUserID) == "" {
		return TrackingRecord{}, fmt.Errorf("%w: acting user is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[recordID]
	if !ok {
		return TrackingRecord{}, ErrNotFound
	}

	now := s.now().UTC()
	r.History = append(r.History, StatusChange{From: r.Status, To: newStatus, Actor: actingUserID, At: now})
	r.Status = newStatus

	if newStatus == StatusCompleted {
		// First completion wins; reopening later does not clear it.
		if r.CompletedAt == nil {
			completed := now
			r.CompletedAt = &completed
			r.CompletedBy = actingUserID
		}
		s.rollDueDateLocked(r, now)
	}

	if upd.Notes != nil {
		r.Notes = *upd.Notes
	}
	if upd.Attachments != nil {
		r.Attachments = append(r.Attachments, upd.Attachments...)
	}
	r.UpdatedAt = now
	return *r, nil
}

// rollDueDateLocked advances the record's due date after completion. Recurring
// items move to the next occurrence and become eligible for a fresh reminder;
// one-time items are done and lose their deadline.
func (s *InMemory) rollDueDateLocked(r *TrackingRecord, now time.Time) {
	tpl, ok := s.templates[r.ChecklistID]
	if !ok {
		return
	}
	item, ok := tpl.ItemByID(r.ItemID)
	if !ok {
		return
	}
	next := NextDueDate(item.Frequency, r.NextDueDate, now)
	r.NextDueDate = next
	if next != nil {
		r.ReminderSent = false
	}
}

// ScheduleReminder inserts a reminder as given. There is deliberately no
// dedup and no requirement that the date is in the future; callers own that.
func (s *InMemory) ScheduleReminder(ctx context.Context, rem Reminder) (Reminder, error) {
	if !ValidChannel(rem.Channel) {
		return Reminder{}, fmt.Errorf("%w: unknown channel %q", ErrValidation, rem.Channel)
	}
	if strings.TrimSpace(rem.TenantID) == "" || strings.TrimSpace(rem.RecordID) == "" {
		return Reminder{}, fmt.Errorf("%w: tenant and record ids are required", ErrValidation)
	}
	if rem.ScheduledFor.IsZero() {
		return Reminder{}, fmt.Errorf("%w: scheduled_for is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rem.RecordID]; !ok {
		return Reminder{}, ErrNotFound
	}

	rem.ID = ids.New()
	rem.Sent = false
	rem.SentAt = nil
	rem.ClaimedAt = nil
	rem.CreatedAt = s.now().UTC()
	cp := rem
	s.reminders[cp.ID] = &cp
	s.remOrder = append(s.remOrder, cp.ID)
	return cp, nil
}

// ScheduleQuarterlyTaxReminders schedules one reminder seven days before each
// IRS estimated-tax deadline of the current calendar year that is still in
// the future.
func (s *InMemory) ScheduleQuarterlyTaxReminders(ctx context.Context, tenantID, recordID string) ([]Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[recordID]; !ok {
		return nil, ErrNotFound
	}

	now := s.now().UTC()
	out := QuarterlyTaxReminders(tenantID, recordID, now)
	for i := range out {
		out[i].ID = ids.New()
		out[i].CreatedAt = now
		rem := out[i]
		s.reminders[rem.ID] = &rem
		s.remOrder = append(s.remOrder, rem.ID)
	}
	return out, nil
}

// ListPendingReminders returns unsent reminders whose scheduled time has
// passed. This is a read-only view; dispatchers should use ClaimDueReminders.
func (s *InMemory) ListPendingReminders(ctx context.Context) ([]Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now().UTC()
	out := []Reminder{}
	for _, id := range s.remOrder {
		rem := s.reminders[id]
		if !rem.Sent && rem.ScheduledFor.Before(now) {
			out = append(out, *rem)
		}
	}
	return out, nil
}

// ClaimDueReminders atomically claims up to limit due reminders so that
// concurrent dispatchers never pick up the same one. A claim lapses after
// reclaimAfter, which re-exposes reminders whose dispatcher died mid-send.
func (s *InMemory) ClaimDueReminders(ctx context.Context, limit int) ([]Reminder, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	out := []Reminder{}
	for _, id := range s.remOrder {
		if len(out) >= limit {
			break
		}
		rem := s.reminders[id]
		if rem.Sent || !rem.ScheduledFor.Before(now) {
			continue
		}
		if rem.ClaimedAt != nil && now.Sub(*rem.ClaimedAt) < reclaimAfter {
			continue
		}
		claimed := now
		rem.ClaimedAt = &claimed
		out = append(out, *rem)
	}
	return out, nil
}

// MarkSent stamps a reminder as delivered. Idempotent: marking an already
// sent reminder keeps the original sent_at.
func (s *InMemory) MarkSent(ctx context.Context, reminderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rem, ok := s.reminders[reminderID]
	if !ok {
		return ErrNotFound
	}
	if rem.Sent {
		return nil
	}
	now := s.now().UTC()
	rem.Sent = true
	rem.SentAt = &now

	if rec, ok := s.records[rem.RecordID]; ok {
		rec.ReminderSent = true
	}
	return nil
}
