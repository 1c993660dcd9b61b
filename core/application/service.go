// Package application implements student applications (academic, financial
// and administrative requests) with live views, review workflow and stats.
package application

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

func decode(raw json.RawMessage) (Application, error) {
	var app Application
	err := json.Unmarshal(raw, &app)
	return app, err
}

// Submit creates a new pending application owned by the caller.
func (svc *Service) Submit(ctx context.Context, owner user.User, na NewApplication) (Application, error) {
	if err := na.Validate(); err != nil {
		return Application{}, err
	}

	app := Application{
		ID:          newID(),
		OwnerID:     owner.ID,
		OwnerName:   owner.Name,
		Category:    na.Category,
		Subject:     na.Subject,
		Description: na.Description,
		Amount:      na.Amount,
		Priority:    na.Priority,
		Status:      StatusPending,
		EvidenceURL: na.EvidenceURL,
		CreatedAt:   time.Now().UTC(),
	}
	if err := svc.db.Create(ctx, Collection, app.ID, app); err != nil {
		return Application{}, errors.Wrap(err, "creating application")
	}

	svc.notifySubmission(ctx, app)
	return app, nil
}

// SetStatus records a reviewer's verdict and notifies the owner. Only
// faculty and admins may review.
func (svc *Service) SetStatus(ctx context.Context, actor user.User, id string, sc StatusChange) (Application, error) {
	if !(actor.IsFaculty() || actor.IsAdmin()) {
		return Application{}, core.NewPermissionError("only faculty or admins may review applications")
	}
	if err := sc.Validate(); err != nil {
		return Application{}, err
	}

	app, err := svc.Get(ctx, id)
	if err != nil {
		return Application{}, err
	}

	now := time.Now().UTC()
	app.Status = sc.Status
	app.Note = sc.Note
	app.ReviewedAt = &now
	err = svc.db.Update(ctx, Collection, id, map[string]interface{}{
		"status":      app.Status,
		"note":        app.Note,
		"reviewed_at": app.ReviewedAt,
	})
	if err != nil {
		return Application{}, errors.Wrap(err, "updating application")
	}

	svc.notifyStatusChange(ctx, app)
	return app, nil
}

// Edit updates a still-mutable application. Only the owner or an admin may
// edit, and only while the record is pending or rejected.
func (svc *Service) Edit(ctx context.Context, actor user.User, id string, ua UpdateApplication) (Application, error) {
	if err := ua.Validate(); err != nil {
		return Application{}, err
	}

	app, err := svc.Get(ctx, id)
	if err != nil {
		return Application{}, err
	}
	if err = svc.checkMutable(actor, app); err != nil {
		return Application{}, err
	}

	if ua.Subject != "" {
		app.Subject = ua.Subject
	}
	if ua.Description != "" {
		app.Description = ua.Description
	}
	if ua.Amount > 0 {
		app.Amount = ua.Amount
	}
	if ua.Priority != "" {
		app.Priority = ua.Priority
	}
	if ua.EvidenceURL != "" {
		app.EvidenceURL = ua.EvidenceURL
	}
	err = svc.db.Update(ctx, Collection, id, map[string]interface{}{
		"subject":      app.Subject,
		"description":  app.Description,
		"amount":       app.Amount,
		"priority":     app.Priority,
		"evidence_url": app.EvidenceURL,
	})
	if err != nil {
		return Application{}, errors.Wrap(err, "updating application")
	}
	return app, nil
}

// Delete removes a still-mutable application and, best effort, the
// notifications that reference it.
func (svc *Service) Delete(ctx context.Context, actor user.User, id string) error {
	app, err := svc.Get(ctx, id)
	if err != nil {
		return err
	}
	if err = svc.checkMutable(actor, app); err != nil {
		return err
	}
	if err = svc.db.Delete(ctx, Collection, id); err != nil {
		return errors.Wrap(err, "deleting application")
	}

	svc.cascadeNotifications(ctx, id)
	return nil
}

func (svc *Service) Get(ctx context.Context, id string) (Application, error) {
	raw, err := svc.db.Get(ctx, Collection, id)
	if err != nil {
		return Application{}, errors.Wrap(err, "getting application")
	}
	app, err := decode(raw)
	if err != nil {
		return Application{}, errors.Wrap(err, "unmarshalling application")
	}
	return app, nil
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]Application, error) {
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
		return nil, errors.Wrap(err, "querying applications")
	}
	apps := make([]Application, 0, len(raws))
	for _, raw := range raws {
		app, err := decode(raw)
		if err != nil {
			return nil, errors.Wrap(err, "unmarshalling application")
		}
		apps = append(apps, app)
	}
	return apps, nil
}

// LiveView opens a merged live view over all category partitions, newest
// first. A non-empty ownerID narrows every partition to that owner's
// records. Stats are recomputed on each change.
func (svc *Service) LiveView(ownerID string, onChange func([]Application, Stats)) (*stream.LiveView[Application], error) {
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

	var wrapped func([]Application)
	if onChange != nil {
		wrapped = func(apps []Application) { onChange(apps, ComputeStats(apps)) }
	}
	return stream.Open(stream.Options[Application]{
		Source:     svc.db,
		Partitions: partitions,
		Decode:     decode,
		OnChange:   wrapped,
		Logger:     svc.logger,
	})
}

func (svc *Service) checkMutable(actor user.User, app Application) error {
	if !(actor.ID == app.OwnerID || actor.IsAdmin()) {
		return core.NewPermissionError("application belongs to another user")
	}
	if !app.IsMutable() {
		return core.NewPermissionError("application is " + app.Status + " and can no longer be changed")
	}
	return nil
}

// notifyStatusChange queues the owner's in-app notification and email. Both
// are best effort and never fail the review itself.
func (svc *Service) notifyStatusChange(ctx context.Context, app Application) {
	msg := fmt.Sprintf("Your application %q was %s", app.Subject, app.Status)
	evt := notification.Event{
		Notes: []notification.Notification{
			notification.New(app.OwnerID, notification.TypeStatusChange, msg, app.ID),
		},
	}

	if owner, err := svc.usrSvc.GetByID(ctx, app.OwnerID); err != nil {
		svc.logger.Warn("looking up application owner", err)
	} else if owner.Email != "" {
		evt.Mail = &core.EmailMessage{
			To:           []mail.Address{{Name: owner.Name, Address: owner.Email}},
			Subject:      core.Conf.AppName + " - Application " + app.Status,
			TemplateName: "status-change",
			TemplateData: struct {
				User    user.User
				Kind    string
				Subject string
				Status  string
				Note    string
			}{owner, "application", app.Subject, app.Status, app.Note},
		}
	}
	svc.outbox.Enqueue(evt)
}

// notifySubmission queues an in-app notification for every active staff
// member, so reviewers hear about new submissions without polling. Best
// effort, like all outbox traffic.
func (svc *Service) notifySubmission(ctx context.Context, app Application) {
	active := true
	staff, err := svc.usrSvc.Filter(ctx, user.QueryFilter{Roles: user.StaffRoles, IsActive: &active})
	if err != nil {
		svc.logger.Warn("looking up reviewers", err)
		return
	}

	msg := fmt.Sprintf("%s submitted a new application %q", app.OwnerName, app.Subject)
	notes := make([]notification.Notification, 0, len(staff))
	for _, reviewer := range staff {
		if reviewer.ID == app.OwnerID {
			continue
		}
		notes = append(notes, notification.New(reviewer.ID, notification.TypeSubmission, msg, app.ID))
	}
	if len(notes) == 0 {
		return
	}
	svc.outbox.Enqueue(notification.Event{Notes: notes})
}

// cascadeNotifications deletes notifications referencing a removed record.
// Failures are logged and otherwise ignored.
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
