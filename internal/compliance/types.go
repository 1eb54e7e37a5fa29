package compliance

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is a tracking record's progress state. The transition graph is
// unrestricted: any state is reachable from any state.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped"
)

// ValidStatus reports whether s is one of the tracking statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted, StatusSkipped:
		return true
	}
	return false
}

// Frequency describes how often an obligation recurs.
type Frequency string

const (
	FreqOnce      Frequency = "once"
	FreqMonthly   Frequency = "monthly"
	FreqQuarterly Frequency = "quarterly"
	FreqAnnually  Frequency = "annually"
)

// ValidFrequency reports whether f is a known recurrence frequency. The empty
// string is allowed: items without recurrence leave it unset.
func ValidFrequency(f Frequency) bool {
	switch f {
	case "", FreqOnce, FreqMonthly, FreqQuarterly, FreqAnnually:
		return true
	}
	return false
}

// Channel is a reminder delivery channel.
type Channel string

const (
	ChannelEmail        Channel = "email"
	ChannelNotification Channel = "notification"
	ChannelSMS          Channel = "sms"
)

// ValidChannel reports whether c is a known delivery channel.
func ValidChannel(c Channel) bool {
	switch c {
	case ChannelEmail, ChannelNotification, ChannelSMS:
		return true
	}
	return false
}

// Item is a single obligation definition inside a template section.
type Item struct {
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	Details   string     `json:"details,omitempty"`
	Link      string     `json:"link,omitempty"`
	Note      string     `json:"note,omitempty"`
	Frequency Frequency  `json:"frequency,omitempty"`
	DueDate   *time.Time `json:"due_date,omitempty"`
}

// Section groups items within a template. Pure value data.
type Section struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Items       []Item `json:"items"`
}

// ChecklistTemplate is an immutable-once-published definition of compliance
// obligations for a region/business-type combination. Shared across tenants,
// owned by the platform operator. Updates create a new version; superseded
// templates are deactivated, never deleted.
type ChecklistTemplate struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Version      int               `json:"version"`
	Region       string            `json:"region,omitempty"`
	BusinessType string            `json:"business_type,omitempty"`
	Sections     []Section         `json:"sections"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	IsActive     bool              `json:"is_active"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Items returns the template's items flattened in section order.
func (t ChecklistTemplate) Items() []Item {
	var out []Item
	for _, s := range t.Sections {
		out = append(out, s.Items...)
	}
	return out
}

// ItemByID finds an item by its id within the template.
func (t ChecklistTemplate) ItemByID(id string) (Item, bool) {
	for _, s := range t.Sections {
		for _, it := range s.Items {
			if it.ID == id {
				return it, true
			}
		}
	}
	return Item{}, false
}

// Validate checks structural invariants enforced at write time: a non-empty
// title, at least one item, unique item ids, and known frequencies.
func (t ChecklistTemplate) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	seen := make(map[string]struct{})
	n := 0
	for _, s := range t.Sections {
		for _, it := range s.Items {
			n++
			if strings.TrimSpace(it.ID) == "" {
				return fmt.Errorf("%w: item id is required", ErrValidation)
			}
			if _, dup := seen[it.ID]; dup {
				return fmt.Errorf("%w: item id %q", ErrDuplicateItemID, it.ID)
			}
			seen[it.ID] = struct{}{}
			if !ValidFrequency(it.Frequency) {
				return fmt.Errorf("%w: unknown frequency %q on item %q", ErrValidation, it.Frequency, it.ID)
			}
		}
	}
	if n == 0 {
		return fmt.Errorf("%w: template has no items", ErrValidation)
	}
	return nil
}

// Attachment references an uploaded evidence file on a tracking record.
type Attachment struct {
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// StatusChange is one entry in a record's append-only transition history.
type StatusChange struct {
	From  Status    `json:"from"`
	To    Status    `json:"to"`
	Actor string    `json:"actor"`
	At    time.Time `json:"at"`
}

// TrackingRecord is the mutable per-tenant instantiation of one template item.
// Records are never deleted; they form the tenant's audit trail.
//
// CompletedAt/CompletedBy record the first completion and are preserved when
// an item is reopened; History holds every transition, so the current state
// is always reconstructable.
type TrackingRecord struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	ChecklistID  string         `json:"checklist_id"`
	ItemID       string         `json:"item_id"`
	Status       Status         `json:"status"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	CompletedBy  string         `json:"completed_by,omitempty"`
	Notes        string         `json:"notes,omitempty"`
	Attachments  []Attachment   `json:"attachments,omitempty"`
	History      []StatusChange `json:"history,omitempty"`
	NextDueDate  *time.Time     `json:"next_due_date,omitempty"`
	ReminderSent bool           `json:"reminder_sent"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// StatusUpdate carries the optional fields of an UpdateStatus call. Nil
// means "leave untouched" (partial update semantics).
type StatusUpdate struct {
	Notes       *string
	Attachments []Attachment
}

// Reminder is a scheduled notification tied to one tracking record. Mutated
// once (sent=false -> true); never deleted.
type Reminder struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id"`
	RecordID     string            `json:"record_id"`
	Channel      Channel           `json:"channel"`
	ScheduledFor time.Time         `json:"scheduled_for"`
	Sent         bool              `json:"sent"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	ClaimedAt    *time.Time        `json:"claimed_at,omitempty"`
	Message      string            `json:"message"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

var (
	ErrNotFound           = errors.New("compliance: not found")
	ErrValidation         = errors.New("compliance: validation failed")
	ErrDuplicateItemID    = errors.New("compliance: duplicate item id")
	ErrAlreadyInitialized = errors.New("compliance: tracking already initialized")
)
