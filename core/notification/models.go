package notification

import (
	"time"

	"github.com/google/uuid"
)

const (
	Collection         = "notifications"
	LastSeenCollection = "last_seen"
)

// Types
const (
	TypeSubmission   = "submission"
	TypeStatusChange = "status_change"
	TypeBooking      = "booking"
	TypeGeneral      = "general"
)

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	RefID     string    `json:"ref_id,omitempty"` // related record, if any
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

func (n Notification) RecordID() string         { return n.ID }
func (n Notification) RecordCreated() time.Time { return n.CreatedAt }

func New(userID, typ, message, refID string) Notification {
	return Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Message:   message,
		RefID:     refID,
		CreatedAt: time.Now().UTC(),
	}
}

// lastSeenDoc records when a user last opened their notification tray. It
// gates "new arrival" toasts so reconnects do not replay old ones.
type lastSeenDoc struct {
	ID     string    `json:"id"` // the user ID
	SeenAt time.Time `json:"seen_at"`
}
