package crm

import (
	"errors"
	"time"
)

// ContactStatus tracks where a contact sits in the pipeline.
type ContactStatus string

const (
	StatusLead     ContactStatus = "lead"
	StatusProspect ContactStatus = "prospect"
	StatusCustomer ContactStatus = "customer"
	StatusInactive ContactStatus = "inactive"
)

// ValidContactStatus reports whether s is a known pipeline status.
func ValidContactStatus(s ContactStatus) bool {
	switch s {
	case StatusLead, StatusProspect, StatusCustomer, StatusInactive:
		return true
	}
	return false
}

// Contact is a tenant-scoped CRM record.
type Contact struct {
	ID        string        `json:"id"`
	TenantID  string        `json:"tenant_id"`
	FirstName string        `json:"first_name"`
	LastName  string        `json:"last_name,omitempty"`
	Email     string        `json:"email,omitempty"`
	Phone     string        `json:"phone,omitempty"`
	Status    ContactStatus `json:"status"`
	Tags      []string      `json:"tags,omitempty"`
	Notes     string        `json:"notes,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ContactUpdate carries a partial update; nil fields are left untouched.
type ContactUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
	Phone     *string
	Status    *ContactStatus
	Tags      []string
	Notes     *string
}

// Filter narrows contact listings. Zero values match everything.
type Filter struct {
	Status ContactStatus
	Tag    string
}

var (
	ErrNotFound     = errors.New("crm: not found")
	ErrInvalidInput = errors.New("crm: invalid input")
)
