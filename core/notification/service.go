// Package notification keeps per-user notification inboxes: unread counts,
// read receipts and the last-seen marker that gates arrival toasts.
package notification

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/chuoapp/chuo/core"
	"github.com/chuoapp/chuo/core/stream"
	"github.com/chuoapp/chuo/storage/store"
)

type Service struct {
	db     store.Store
	logger core.Logger
}

func NewService(db store.Store, logger core.Logger) *Service {
	return &Service{db: db, logger: logger}
}

func decode(raw json.RawMessage) (Notification, error) {
	var note Notification
	err := json.Unmarshal(raw, &note)
	return note, err
}

// Inbox opens a live view over the user's notifications, newest first.
func (svc *Service) Inbox(userID string, onChange func([]Notification)) (*stream.LiveView[Notification], error) {
	return stream.Open(stream.Options[Notification]{
		Source: svc.db,
		Partitions: []stream.Partition{
			{Key: "inbox", Query: store.Query{Collection: Collection, Where: store.Where{"user_id": userID}}},
		},
		Decode:   decode,
		OnChange: onChange,
		Logger:   svc.logger,
	})
}

// Query returns the user's notifications, newest first.
func (svc *Service) Query(ctx context.Context, userID string) ([]Notification, error) {
	raws, err := svc.db.Find(ctx, store.Query{Collection: Collection, Where: store.Where{"user_id": userID}})
	if err != nil {
		return nil, errors.Wrap(err, "querying notifications")
	}
	notes := make([]Notification, 0, len(raws))
	for _, raw := range raws {
		note, err := decode(raw)
		if err != nil {
			return nil, errors.Wrap(err, "unmarshalling notification")
		}
		notes = append(notes, note)
	}
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].CreatedAt.After(notes[j].CreatedAt) })
	return notes, nil
}

func (svc *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	raws, err := svc.db.Find(ctx, store.Query{
		Collection: Collection,
		Where:      store.Where{"user_id": userID, "read": "false"},
	})
	if err != nil {
		return 0, errors.Wrap(err, "querying unread notifications")
	}
	return len(raws), nil
}

// MarkRead flags one notification as read. Only the owner may do so.
func (svc *Service) MarkRead(ctx context.Context, userID, id string) error {
	raw, err := svc.db.Get(ctx, Collection, id)
	if err != nil {
		return errors.Wrap(err, "getting notification")
	}
	note, err := decode(raw)
	if err != nil {
		return errors.Wrap(err, "unmarshalling notification")
	}
	if note.UserID != userID {
		return core.NewPermissionError("notification belongs to another user")
	}
	return errors.Wrap(svc.db.Update(ctx, Collection, id, map[string]interface{}{"read": true}), "marking notification read")
}

// MarkAllRead flags every unread notification of the user as read, atomically.
func (svc *Service) MarkAllRead(ctx context.Context, userID string) error {
	raws, err := svc.db.Find(ctx, store.Query{
		Collection: Collection,
		Where:      store.Where{"user_id": userID, "read": "false"},
	})
	if err != nil {
		return errors.Wrap(err, "querying unread notifications")
	}
	if len(raws) == 0 {
		return nil
	}

	ops := make([]store.Op, 0, len(raws))
	for _, raw := range raws {
		note, err := decode(raw)
		if err != nil {
			return errors.Wrap(err, "unmarshalling notification")
		}
		ops = append(ops, store.UpdateOp(Collection, note.ID, map[string]interface{}{"read": true}))
	}
	return errors.Wrap(svc.db.Batch(ctx, ops...), "marking notifications read")
}

// LastSeen returns when the user last opened their tray; zero if never.
func (svc *Service) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	raw, err := svc.db.Get(ctx, LastSeenCollection, userID)
	if err != nil {
		if errors.Cause(err) == store.ErrNotFound {
			return time.Time{}, nil
		}
		return time.Time{}, errors.Wrap(err, "getting last seen")
	}
	var doc lastSeenDoc
	if err = json.Unmarshal(raw, &doc); err != nil {
		return time.Time{}, errors.Wrap(err, "unmarshalling last seen")
	}
	return doc.SeenAt, nil
}

// TouchLastSeen moves the user's last-seen marker to now.
func (svc *Service) TouchLastSeen(ctx context.Context, userID string) error {
	now := time.Now().UTC()
	err := svc.db.Update(ctx, LastSeenCollection, userID, map[string]interface{}{"seen_at": now})
	if errors.Cause(err) == store.ErrNotFound {
		err = svc.db.Create(ctx, LastSeenCollection, userID, lastSeenDoc{ID: userID, SeenAt: now})
	}
	return errors.Wrap(err, "touching last seen")
}

// NewArrivals returns unread notifications created after the user's last-seen
// marker, newest first. These are the ones worth a toast.
func (svc *Service) NewArrivals(ctx context.Context, userID string) ([]Notification, error) {
	seenAt, err := svc.LastSeen(ctx, userID)
	if err != nil {
		return nil, err
	}
	notes, err := svc.Query(ctx, userID)
	if err != nil {
		return nil, err
	}

	fresh := make([]Notification, 0, len(notes))
	for _, note := range notes {
		if !note.Read && note.CreatedAt.After(seenAt) {
			fresh = append(fresh, note)
		}
	}
	return fresh, nil
}
