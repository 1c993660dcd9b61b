package complaint

import (
	"time"

	"github.com/google/uuid"

	"github.com/chuoapp/chuo/core"
)

const Collection = "complaints"

// Statuses
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusResolved   = "resolved"
	StatusRejected   = "rejected"
)

// Categories
const (
	CategoryAcademic       = "academic"
	CategoryFinancial      = "financial"
	CategoryAdministrative = "administrative"
)

var (
	Statuses   = []string{StatusPending, StatusInProgress, StatusResolved, StatusRejected}
	Categories = []string{CategoryAcademic, CategoryFinancial, CategoryAdministrative}

	mutableStatuses = map[string]bool{
		StatusPending:  true,
		StatusRejected: true,
	}
)

type Complaint struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	OwnerName   string     `json:"owner_name"`
	Category    string     `json:"category"`
	Subject     string     `json:"subject"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Response    string     `json:"response,omitempty"` // handler's reply
	EvidenceURL string     `json:"evidence_url,omitempty"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"` // UTC; set on any final verdict
	CreatedAt   time.Time  `json:"created_at"`            // UTC
}

func (c Complaint) RecordID() string         { return c.ID }
func (c Complaint) RecordCreated() time.Time { return c.CreatedAt }

func (c Complaint) IsMutable() bool { return mutableStatuses[c.Status] }

// NewComplaint contains information needed to file a new Complaint.
type NewComplaint struct {
	Category    string `json:"category" validate:"required,oneof=academic financial administrative"`
	Subject     string `json:"subject" validate:"required"`
	Description string `json:"description" validate:"required"`
	EvidenceURL string `json:"evidence_url" validate:"omitempty,url"`
}

func (nc *NewComplaint) Validate() error {
	nc.Category = core.CleanString(nc.Category, true /* lower */)
	nc.Subject = core.CleanString(nc.Subject)
	nc.Description = core.CleanString(nc.Description)
	return core.Validate.Struct(nc)
}

// UpdateComplaint defines what an owner may change while the record is
// still mutable.
type UpdateComplaint struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
	EvidenceURL string `json:"evidence_url" validate:"omitempty,url"`
}

func (uc *UpdateComplaint) Validate() error {
	uc.Subject = core.CleanString(uc.Subject)
	uc.Description = core.CleanString(uc.Description)
	return core.Validate.Struct(uc)
}

// StatusChange is a handler's update on a filed Complaint.
type StatusChange struct {
	Status   string `json:"status" validate:"required,oneof=in_progress resolved rejected"`
	Response string `json:"response"`
}

func (sc *StatusChange) Validate() error {
	sc.Status = core.CleanString(sc.Status, true /* lower */)
	sc.Response = core.CleanString(sc.Response)
	return core.Validate.Struct(sc)
}

type QueryFilter struct {
	OwnerID  string `query:"owner_id"`
	Category string `query:"category"`
	Status   string `query:"status"`
}

func newID() string { return uuid.NewString() }
