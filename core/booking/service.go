// Package booking implements facility bookings: a facility catalog, slot
// requests with overlap checks, a review workflow and live views.
package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/chuoapp/chuo/core"
	"github.com/chuoapp/chuo/core/notification"
	"github.com/chuoapp/chuo/core/stream"
	"github.com/chuoapp/chuo/core/user"
	"github.com/chuoapp/chuo/storage/store"
)

var errSlotTaken = errors.New("facility is already booked for this time slot")

type Service struct {
	db     store.Store
	outbox *notification.Outbox
	usrSvc user.Service
	logger core.Logger
}

func NewService(db store.Store, outbox *notification.Outbox, usrSvc user.Service, logger core.Logger) *Service {
	return &Service{
		db:     db,
		outbox: outbox,
		usrSvc: usrSvc,
		logger: logger,
	}
}

func decode(raw json.RawMessage) (Booking, error) {
	var b Booking
	err := json.Unmarshal(raw, &b)
	return b, err
}

// Request creates a new pending booking after checking the facility exists,
// is active and has no blocking booking overlapping the requested slot.
func (svc *Service) Request(ctx context.Context, owner user.User, nb NewBooking) (Booking, error) {
	if err := nb.Validate(); err != nil {
		return Booking{}, err
	}

	fac, err := svc.GetFacility(ctx, nb.FacilityID)
	if err != nil {
		return Booking{}, err
	}
	if !fac.IsActive {
		return Booking{}, core.NewValidationError(
			errors.New("facility is not available"),
			core.FieldError{Field: "facility_id", Error: "facility is not available"},
		)
	}
	if err = svc.checkOverlap(ctx, fac.ID, nb.StartsAt, nb.EndsAt); err != nil {
		return Booking{}, err
	}

	b := Booking{
		ID:               newID(),
		OwnerID:          owner.ID,
		OwnerName:        owner.Name,
		FacilityID:       fac.ID,
		FacilityName:     fac.Name,
		FacilityCategory: fac.Category,
		Purpose:          nb.Purpose,
		StartsAt:         nb.StartsAt.UTC(),
		EndsAt:           nb.EndsAt.UTC(),
		Status:           StatusPending,
		CreatedAt:        time.Now().UTC(),
	}
	if err = svc.db.Create(ctx, Collection, b.ID, b); err != nil {
		return Booking{}, errors.Wrap(err, "creating booking")
	}

	svc.notifyRequest(ctx, b)
	return b, nil
}

// notifyRequest queues an in-app notification for every active staff member,
// so reviewers hear about new booking requests without polling. Best effort.
func (svc *Service) notifyRequest(ctx context.Context, b Booking) {
	active := true
	staff, err := svc.usrSvc.Filter(ctx, user.QueryFilter{Roles: user.StaffRoles, IsActive: &active})
	if err != nil {
		svc.logger.Warn("looking up booking reviewers", err)
		return
	}

	msg := fmt.Sprintf("%s requested to book %s", b.OwnerName, b.FacilityName)
	notes := make([]notification.Notification, 0, len(staff))
	for _, reviewer := range staff {
		if reviewer.ID == b.OwnerID {
			continue
		}
		notes = append(notes, notification.New(reviewer.ID, notification.TypeSubmission, msg, b.ID))
	}
	if len(notes) == 0 {
		return
	}
	svc.outbox.Enqueue(notification.Event{Notes: notes})
}

// SetStatus records a reviewer's verdict and notifies the owner. Only
// faculty and admins may review.
func (svc *Service) SetStatus(ctx context.Context, actor user.User, id string, sc StatusChange) (Booking, error) {
	if !(actor.IsFaculty() || actor.IsAdmin()) {
		return Booking{}, core.NewPermissionError("only faculty or admins may review bookings")
	}
	if err := sc.Validate(); err != nil {
		return Booking{}, err
	}

	b, err := svc.Get(ctx, id)
	if err != nil {
		return Booking{}, err
	}

	now := time.Now().UTC()
	b.Status = sc.Status
	b.Note = sc.Note
	b.ReviewedAt = &now
	err = svc.db.Update(ctx, Collection, id, map[string]interface{}{
		"status":      b.Status,
		"note":        b.Note,
		"reviewed_at": b.ReviewedAt,
	})
	if err != nil {
		return Booking{}, errors.Wrap(err, "updating booking")
	}

	msg := fmt.Sprintf("Your booking of %s was %s", b.FacilityName, b.Status)
	svc.outbox.Enqueue(notification.Event{
		Notes: []notification.Notification{
			notification.New(b.OwnerID, notification.TypeBooking, msg, b.ID),
		},
	})
	return b, nil
}

// Cancel releases a pending or approved booking. Only the owner or an admin
// may cancel, and only before the slot starts.
func (svc *Service) Cancel(ctx context.Context, actor user.User, id string) (Booking, error) {
	b, err := svc.Get(ctx, id)
	if err != nil {
		return Booking{}, err
	}
	if !(actor.ID == b.OwnerID || actor.IsAdmin()) {
		return Booking{}, core.NewPermissionError("booking belongs to another user")
	}
	if !b.Blocks() {
		return Booking{}, core.NewPermissionError("booking is " + b.Status + " and cannot be cancelled")
	}
	if !b.StartsAt.After(time.Now().UTC()) {
		return Booking{}, core.NewPermissionError("booking has already started")
	}

	b.Status = StatusCancelled
	if err = svc.db.Update(ctx, Collection, id, map[string]interface{}{"status": b.Status}); err != nil {
		return Booking{}, errors.Wrap(err, "updating booking")
	}
	return b, nil
}

// Delete removes a still-mutable booking.
func (svc *Service) Delete(ctx context.Context, actor user.User, id string) error {
	b, err := svc.Get(ctx, id)
	if err != nil {
		return err
	}
	if !(actor.ID == b.OwnerID || actor.IsAdmin()) {
		return core.NewPermissionError("booking belongs to another user")
	}
	if !b.IsMutable() {
		return core.NewPermissionError("booking is " + b.Status + " and can no longer be changed")
	}
	return errors.Wrap(svc.db.Delete(ctx, Collection, id), "deleting booking")
}

func (svc *Service) Get(ctx context.Context, id string) (Booking, error) {
	raw, err := svc.db.Get(ctx, Collection, id)
	if err != nil {
		return Booking{}, errors.Wrap(err, "getting booking")
	}
	b, err := decode(raw)
	if err != nil {
		return Booking{}, errors.Wrap(err, "unmarshalling booking")
	}
	return b, nil
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]Booking, error) {
	where := store.Where{}
	if filter.OwnerID != "" {
		where["owner_id"] = filter.OwnerID
	}
	if filter.FacilityID != "" {
		where["facility_id"] = filter.FacilityID
	}
	if filter.Status != "" {
		where["status"] = filter.Status
	}

	raws, err := svc.db.Find(ctx, store.Query{Collection: Collection, Where: where})
	if err != nil {
		return nil, errors.Wrap(err, "querying bookings")
	}
	bookings := make([]Booking, 0, len(raws))
	for _, raw := range raws {
		b, err := decode(raw)
		if err != nil {
			return nil, errors.Wrap(err, "unmarshalling booking")
		}
		bookings = append(bookings, b)
	}
	return bookings, nil
}

// LiveView opens a merged live view over all facility-category partitions,
// newest first. A non-empty ownerID narrows every partition to that owner's
// records. Stats are recomputed on each change.
func (svc *Service) LiveView(ownerID string, onChange func([]Booking, Stats)) (*stream.LiveView[Booking], error) {
	partitions := make([]stream.Partition, 0, len(Categories))
	for _, cat := range Categories {
		where := store.Where{"facility_category": cat}
		if ownerID != "" {
			where["owner_id"] = ownerID
		}
		partitions = append(partitions, stream.Partition{
			Key:   cat,
			Query: store.Query{Collection: Collection, Where: where},
		})
	}

	var wrapped func([]Booking)
	if onChange != nil {
		wrapped = func(bookings []Booking) { onChange(bookings, ComputeStats(bookings)) }
	}
	return stream.Open(stream.Options[Booking]{
		Source:     svc.db,
		Partitions: partitions,
		Decode:     decode,
		OnChange:   wrapped,
		Logger:     svc.logger,
	})
}

func (svc *Service) checkOverlap(ctx context.Context, facilityID string, start, end time.Time) error {
	bookings, err := svc.Query(ctx, QueryFilter{FacilityID: facilityID})
	if err != nil {
		return err
	}
	for _, b := range bookings {
		if b.Blocks() && b.Overlaps(start, end) {
			return core.NewValidationError(errSlotTaken, core.FieldError{Field: "starts_at", Error: errSlotTaken.Error()})
		}
	}
	return nil
}
