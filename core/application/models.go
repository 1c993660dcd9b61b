package application

import (
	"time"

	"github.com/google/uuid"

	"github.com/chuoapp/chuo/core"
)

const Collection = "applications"

// Statuses
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Categories
const (
	CategoryAcademic       = "academic"
	CategoryFinancial      = "financial"
	CategoryAdministrative = "administrative"
)

// Priorities
const (
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

var (
	Statuses   = []string{StatusPending, StatusApproved, StatusRejected}
	Categories = []string{CategoryAcademic, CategoryFinancial, CategoryAdministrative}

	// A record may only be edited or deleted by its owner while it still is
	// in one of these statuses.
	mutableStatuses = map[string]bool{
		StatusPending:  true,
		StatusRejected: true,
	}
)

type Application struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	OwnerName   string     `json:"owner_name"`
	Category    string     `json:"category"`
	Subject     string     `json:"subject"`
	Description string     `json:"description"`
	Amount      float64    `json:"amount,omitempty"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	Note        string     `json:"note,omitempty"` // reviewer note
	EvidenceURL string     `json:"evidence_url,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"` // UTC
	CreatedAt   time.Time  `json:"created_at"`            // UTC
}

func (a Application) RecordID() string         { return a.ID }
func (a Application) RecordCreated() time.Time { return a.CreatedAt }

func (a Application) IsMutable() bool { return mutableStatuses[a.Status] }

// NewApplication contains information needed to submit a new Application.
type NewApplication struct {
	Category    string  `json:"category" validate:"required,oneof=academic financial administrative"`
	Subject     string  `json:"subject" validate:"required"`
	Description string  `json:"description" validate:"required"`
	Amount      float64 `json:"amount" validate:"omitempty,gt=0"`
	Priority    string  `json:"priority" validate:"omitempty,oneof=normal high"`
	EvidenceURL string  `json:"evidence_url" validate:"omitempty,url"`
}

func (na *NewApplication) Validate() error {
	na.Category = core.CleanString(na.Category, true /* lower */)
	na.Subject = core.CleanString(na.Subject)
	na.Description = core.CleanString(na.Description)
	na.Priority = core.CleanString(na.Priority, true /* lower */)
	if na.Priority == "" {
		na.Priority = PriorityNormal
	}
	return core.Validate.Struct(na)
}

// UpdateApplication defines what an owner may change while the record is
// still mutable.
type UpdateApplication struct {
	Subject     string  `json:"subject"`
	Description string  `json:"description"`
	Amount      float64 `json:"amount" validate:"omitempty,gt=0"`
	Priority    string  `json:"priority" validate:"omitempty,oneof=normal high"`
	EvidenceURL string  `json:"evidence_url" validate:"omitempty,url"`
}

func (ua *UpdateApplication) Validate() error {
	ua.Subject = core.CleanString(ua.Subject)
	ua.Description = core.CleanString(ua.Description)
	ua.Priority = core.CleanString(ua.Priority, true /* lower */)
	return core.Validate.Struct(ua)
}

// StatusChange is a reviewer's verdict on a pending Application.
type StatusChange struct {
	Status string `json:"status" validate:"required,oneof=approved rejected"`
	Note   string `json:"note"`
}

func (sc *StatusChange) Validate() error {
	sc.Status = core.CleanString(sc.Status, true /* lower */)
	sc.Note = core.CleanString(sc.Note)
	return core.Validate.Struct(sc)
}

type QueryFilter struct {
	OwnerID  string `query:"owner_id"`
	Category string `query:"category"`
	Status   string `query:"status"`
}

func newID() string { return uuid.NewString() }
