package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/chuoapp/chuo/core"
)

const (
	Collection         = "bookings"
	FacilityCollection = "facilities"
)

// Statuses
const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

// Facility categories
const (
	CategorySports     = "sports"
	CategoryAuditorium = "auditorium"
	CategoryLab        = "lab"
	CategoryLibrary    = "library"
)

var (
	Statuses   = []string{StatusPending, StatusApproved, StatusRejected, StatusCancelled}
	Categories = []string{CategorySports, CategoryAuditorium, CategoryLab, CategoryLibrary}

	mutableStatuses = map[string]bool{
		StatusPending:  true,
		StatusRejected: true,
	}

	// statuses that hold a facility slot
	blockingStatuses = map[string]bool{
		StatusPending:  true,
		StatusApproved: true,
	}
)

type Facility struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Location string `json:"location,omitempty"`
	Capacity int    `json:"capacity,omitempty"`
	IsActive bool   `json:"is_active"`
}

type Booking struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"owner_id"`
	OwnerName        string     `json:"owner_name"`
	FacilityID       string     `json:"facility_id"`
	FacilityName     string     `json:"facility_name"`
	FacilityCategory string     `json:"facility_category"`
	Purpose          string     `json:"purpose"`
	StartsAt         time.Time  `json:"starts_at"` // UTC
	EndsAt           time.Time  `json:"ends_at"`   // UTC
	Status           string     `json:"status"`
	Note             string     `json:"note,omitempty"` // reviewer note
	ReviewedAt       *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"` // UTC
}

func (b Booking) RecordID() string         { return b.ID }
func (b Booking) RecordCreated() time.Time { return b.CreatedAt }

func (b Booking) IsMutable() bool { return mutableStatuses[b.Status] }

// Blocks reports whether the booking holds its facility slot against
// overlapping requests.
func (b Booking) Blocks() bool { return blockingStatuses[b.Status] }

// Overlaps reports whether two time ranges intersect. Touching edges do not
// overlap.
func (b Booking) Overlaps(start, end time.Time) bool {
	return b.StartsAt.Before(end) && start.Before(b.EndsAt)
}

// NewFacility contains information needed to register a Facility.
type NewFacility struct {
	Name     string `json:"name" validate:"required"`
	Category string `json:"category" validate:"required,oneof=sports auditorium lab library"`
	Location string `json:"location"`
	Capacity int    `json:"capacity" validate:"omitempty,gt=0"`
}

func (nf *NewFacility) Validate() error {
	nf.Name = core.CleanString(nf.Name)
	nf.Category = core.CleanString(nf.Category, true /* lower */)
	nf.Location = core.CleanString(nf.Location)
	return core.Validate.Struct(nf)
}

// NewBooking contains information needed to request a Booking.
type NewBooking struct {
	FacilityID string    `json:"facility_id" validate:"required"`
	Purpose    string    `json:"purpose" validate:"required"`
	StartsAt   time.Time `json:"starts_at" validate:"required"`
	EndsAt     time.Time `json:"ends_at" validate:"required,gtfield=StartsAt"`
}

func (nb *NewBooking) Validate() error {
	nb.Purpose = core.CleanString(nb.Purpose)
	return core.Validate.Struct(nb)
}

// StatusChange is a reviewer's verdict on a pending Booking.
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
	OwnerID    string `query:"owner_id"`
	FacilityID string `query:"facility_id"`
	Status     string `query:"status"`
}

func newID() string { return uuid.NewString() }
