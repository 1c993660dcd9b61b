// Package complaint implements student complaints with a handling workflow
// (pending, in progress, resolved or rejected), live views and stats.
package complaint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"
	"time"

	"github.com/pkg/errors"

	"github.com/chuoapp/chuo/core"
	"github.com/chuoapp/chuo/core/notification"
	"github.com/chuoapp/chuo/core/stream"
	"github.com/chuoapp/chuo/core/user"
	"github.com/chuoapp/chuo/storage/store"
)

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

func decode(raw json.RawMessage) (Complaint, error) {
	var c Complaint
	err := json.Unmarshal(raw, &c)
	return c, err
}

// Submit files a new pending complaint owned by the caller.
func (svc *Service) Submit(ctx context.Context, owner user.User, nc NewComplaint) (Complaint, error) {
	if err := nc.Validate(); err != nil {
		return Complaint{}, err
	}

	c := Complaint{
		ID:          newID(),
		OwnerID:     owner.ID,
		OwnerName:   owner.Name,
		Category:    nc.Category,
		Subject:     nc.Subject,
		Description: nc.Description,
		Status:      StatusPending,
		EvidenceURL: nc.EvidenceURL,
		CreatedAt:   time.Now().UTC(),
	}
	if err := svc.db.Create(ctx, Collection, c.ID, c); err != nil {
		return Complaint{}, errors.Wrap(err, "creating complaint")
	}

	svc.notifySubmission(ctx, c)
	return c, nil
}

// SetStatus records a handler's update and notifies the owner. Only faculty
// and admins may handle complaints. Resolved and rejected verdicts stamp
// ResolvedAt.
func (svc *Service) SetStatus(ctx context.Context, actor user.User, id string, sc StatusChange) (Complaint, error) {
	if !(actor.IsFaculty() || actor.IsAdmin()) {
		return Complaint{}, core.NewPermissionError("only faculty or admins may handle complaints")
	}
	if err := sc.Validate(); err != nil {
		return Complaint{}, err
	}

	c, err := svc.Get(ctx, id)
	if err != nil {
		return Complaint{}, err
	}

	c.Status = sc.Status
	c.Response = sc.Response
	fields := map[string]interface{}{
		"status":   c.Status,
		"response": c.Response,
	}
	if sc.Status == StatusResolved || sc.Status == StatusRejected {
		now := time.Now().UTC()
		c.ResolvedAt = &now
		fields["resolved_at"] = c.ResolvedAt
	}
	if err = svc.db.Update(ctx, Collection, id, fields); err != nil {
		return Complaint{}, errors.Wrap(err, "updating complaint")
	}

	svc.notifyStatusChange(ctx, c)
	return c, nil
}

// Edit updates a still-mutable complaint. Only the owner or an admin may
// edit, and only while the record is pending or rejected.
func (svc *Service) Edit(ctx context.Context, actor user.User, id string, uc UpdateComplaint) (Complaint, error) {
	if err := uc.Validate(); err != nil {
		return Complaint{}, err
	}

	c, err := svc.Get(ctx, id)
	if err != nil {
		return Complaint{}, err
	}
	if err = svc.checkMutable(actor, c); err != nil {
		return Complaint{}, err
	}

	if uc.Subject != "" {
		c.Subject = uc.Subject
	}
	if uc.Description != "" {
		c.Description = uc.Description
	}
	if uc.EvidenceURL != "" {
		c.EvidenceURL = uc.EvidenceURL
	}
	err = svc.db.Update(ctx, Collection, id, map[string]interface{}{
		"subject":      c.Subject,
		"description":  c.Description,
		"evidence_url": c.EvidenceURL,
	})
	if err != nil {
		return Complaint{}, errors.Wrap(err, "updating complaint")
	}
	return c, nil
}

// Delete removes a still-mutable complaint and, best effort, the
// notifications that reference it.
func (svc *Service) Delete(ctx context.Context, actor user.User, id string) error {
	c, err := svc.Get(ctx, id)
	if err != nil {
		return err
	}
	if err = svc.checkMutable(actor, c); err != nil {
		return err
	}
	if err = svc.db.Delete(ctx, Collection, id); err != nil {
		return errors.Wrap(err, "deleting complaint")
	}

	svc.cascadeNotifications(ctx, id)
	return nil
}

func (svc *Service) Get(ctx context.Context, id string) (Complaint, error) {
	raw, err := svc.db.Get(ctx, Collection, id)
	if err != nil {
		return Complaint{}, errors.Wrap(err, "getting complaint")
	}
	c, err := decode(raw)
	if err != nil {
		return Complaint{}, errors.Wrap(err, "unmarshalling complaint")
	}
	return c, nil
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]Complaint, error) {
	where := store.Where{}
	if filter.OwnerID != "" {
		where["owner_id"] = filter.OwnerID
	}
	if filter.Category != "" {
		where["category"] = filter.Category
	}
	if filter.Status != "" {
		where["status"] = filter.Status
	}

	raws, err := svc.db.Find(ctx, store.Query{Collection: Collection, Where: where})
	if err != nil {
		return nil, errors.Wrap(err, "querying complaints")
	}
	complaints := make([]Complaint, 0, len(raws))
	for _, raw := range raws {
		c, err := decode(raw)
		if err != nil {
			return nil, errors.Wrap(err, "unmarshalling complaint")
		}
		complaints = append(complaints, c)
	}
	return complaints, nil
}

// LiveView opens a merged live view over all category partitions, newest
// first. A non-empty ownerID narrows every partition to that owner's
// records. Stats are recomputed on each change.
func (svc *Service) LiveView(ownerID string, onChange func([]Complaint, Stats)) (*stream.LiveView[Complaint], error) {
	partitions := make([]stream.Partition, 0, len(Categories))
	for _, cat := range Categories {
		where := store.Where{"category": cat}
		if ownerID != "" {
			where["owner_id"] = ownerID
		}
		partitions = append(partitions, stream.Partition{
			Key:   cat,
			Query: store.Query{Collection: Collection, Where: where},
		})
	}

	var wrapped func([]Complaint)
	if onChange != nil {
		wrapped = func(complaints []Complaint) { onChange(complaints, ComputeStats(complaints)) }
	}
	return stream.Open(stream.Options[Complaint]{
		Source:     svc.db,
		Partitions: partitions,
		Decode:     decode,
		OnChange:   wrapped,
		Logger:     svc.logger,
	})
}

func (svc *Service) checkMutable(actor user.User, c Complaint) error {
	if !(actor.ID == c.OwnerID || actor.IsAdmin()) {
		return core.NewPermissionError("complaint belongs to another user")
	}
	if !c.IsMutable() {
		return core.NewPermissionError("complaint is " + c.Status + " and can no longer be changed")
	}
	return nil
}

func (svc *Service) notifyStatusChange(ctx context.Context, c Complaint) {
	msg := fmt.Sprintf("Your complaint %q is now %s", c.Subject, c.Status)
	evt := notification.Event{
		Notes: []notification.Notification{
			notification.New(c.OwnerID, notification.TypeStatusChange, msg, c.ID),
		},
	}

	if owner, err := svc.usrSvc.GetByID(ctx, c.OwnerID); err != nil {
		svc.logger.Warn("looking up complaint owner", err)
	} else if owner.Email != "" {
		evt.Mail = &core.EmailMessage{
			To:           []mail.Address{{Name: owner.Name, Address: owner.Email}},
			Subject:      core.Conf.AppName + " - Complaint " + c.Status,
			TemplateName: "status-change",
			TemplateData: struct {
				User    user.User
				Kind    string
				Subject string
				Status  string
				Note    string
			}{owner, "complaint", c.Subject, c.Status, c.Response},
		}
	}
	svc.outbox.Enqueue(evt)
}

// notifySubmission queues an in-app notification for every active staff
// member, so handlers hear about new complaints without polling. Best effort.
func (svc *Service) notifySubmission(ctx context.Context, c Complaint) {
	active := true
	staff, err := svc.usrSvc.Filter(ctx, user.QueryFilter{Roles: user.StaffRoles, IsActive: &active})
	if err != nil {
		svc.logger.Warn("looking up complaint handlers", err)
		return
	}

	msg := fmt.Sprintf("%s filed a new complaint %q", c.OwnerName, c.Subject)
	notes := make([]notification.Notification, 0, len(staff))
	for _, handler := range staff {
		if handler.ID == c.OwnerID {
			continue
		}
		notes = append(notes, notification.New(handler.ID, notification.TypeSubmission, msg, c.ID))
	}
	if len(notes) == 0 {
		return
	}
	svc.outbox.Enqueue(notification.Event{Notes: notes})
}

func (svc *Service) cascadeNotifications(ctx context.Context, refID string) {
	raws, err := svc.db.Find(ctx, store.Query{
		Collection: notification.Collection,
		Where:      store.Where{"ref_id": refID},
	})
	if err != nil {
		svc.logger.Warn("querying stale notifications", err)
		return
	}
	if len(raws) == 0 {
		return
	}

	ops := make([]store.Op, 0, len(raws))
	for _, raw := range raws {
		var note notification.Notification
		if err = json.Unmarshal(raw, &note); err != nil {
			svc.logger.Warn("unmarshalling stale notification", err)
			continue
		}
		ops = append(ops, store.DeleteOp(notification.Collection, note.ID))
	}
	if err = svc.db.Batch(ctx, ops...); err != nil {
		svc.logger.Warn("deleting stale notifications", err)
	}
}
