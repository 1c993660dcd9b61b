package notification

import (
	"context"
	"testing"
	"time"

	"github.com/chuoapp/chuo/core"
	logsvc "github.com/chuoapp/chuo/services/logger"
	inmemdb "github.com/chuoapp/chuo/storage/store/inmem"
)

func newTestService(t *testing.T) (*Service, *inmemdb.DB) {
	t.Helper()
	db := inmemdb.Open(nil)
	t.Cleanup(func() { _ = db.Close() })
	return NewService(db, logsvc.NewNopLogger()), db
}

func seed(t *testing.T, db *inmemdb.DB, notes ...Notification) {
	t.Helper()
	for _, note := range notes {
		if err := db.Create(context.Background(), Collection, note.ID, note); err != nil {
			t.Fatalf("Create(%s) failed, %v", note.ID, err)
		}
	}
}

func TestQueryNewestFirst(t *testing.T) {
	svc, db := newTestService(t)
	now := time.Now().UTC()
	seed(t, db,
		Notification{ID: "n1", UserID: "u1", Type: TypeGeneral, Message: "old", CreatedAt: now.Add(-time.Hour)},
		Notification{ID: "n2", UserID: "u1", Type: TypeGeneral, Message: "new", CreatedAt: now},
		Notification{ID: "n3", UserID: "u2", Type: TypeGeneral, Message: "other", CreatedAt: now},
	)

	notes, err := svc.Query(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Query() failed, %v", err)
	}
	if len(notes) != 2 {
		t.Fatalf("got %d notes, want 2", len(notes))
	}
	if notes[0].ID != "n2" || notes[1].ID != "n1" {
		t.Errorf("order = [%s %s], want [n2 n1]", notes[0].ID, notes[1].ID)
	}
}

func TestUnreadCountAndMarkRead(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	seed(t, db,
		Notification{ID: "n1", UserID: "u1", CreatedAt: now},
		Notification{ID: "n2", UserID: "u1", CreatedAt: now},
		Notification{ID: "n3", UserID: "u1", Read: true, CreatedAt: now},
	)

	count, err := svc.UnreadCount(ctx, "u1")
	if err != nil {
		t.Fatalf("UnreadCount() failed, %v", err)
	}
	if count != 2 {
		t.Errorf("UnreadCount() = %d, want 2", count)
	}

	// only the owner may mark
	if err = svc.MarkRead(ctx, "u2", "n1"); !core.IsPermission(err) {
		t.Errorf("MarkRead() as other user error = %v, want permission error", err)
	}

	if err = svc.MarkRead(ctx, "u1", "n1"); err != nil {
		t.Fatalf("MarkRead() failed, %v", err)
	}
	if count, _ = svc.UnreadCount(ctx, "u1"); count != 1 {
		t.Errorf("UnreadCount() after MarkRead = %d, want 1", count)
	}

	if err = svc.MarkAllRead(ctx, "u1"); err != nil {
		t.Fatalf("MarkAllRead() failed, %v", err)
	}
	if count, _ = svc.UnreadCount(ctx, "u1"); count != 0 {
		t.Errorf("UnreadCount() after MarkAllRead = %d, want 0", count)
	}

	// no unread left; a second call is a no-op
	if err = svc.MarkAllRead(ctx, "u1"); err != nil {
		t.Fatalf("second MarkAllRead() failed, %v", err)
	}
}

func TestLastSeenGatesNewArrivals(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	// never opened the tray: zero time, everything unread is new
	seenAt, err := svc.LastSeen(ctx, "u1")
	if err != nil {
		t.Fatalf("LastSeen() failed, %v", err)
	}
	if !seenAt.IsZero() {
		t.Errorf("LastSeen() = %v, want zero", seenAt)
	}

	now := time.Now().UTC()
	seed(t, db,
		Notification{ID: "n1", UserID: "u1", CreatedAt: now.Add(-time.Hour)},
		Notification{ID: "n2", UserID: "u1", Read: true, CreatedAt: now.Add(-time.Minute)},
	)

	fresh, err := svc.NewArrivals(ctx, "u1")
	if err != nil {
		t.Fatalf("NewArrivals() failed, %v", err)
	}
	if len(fresh) != 1 || fresh[0].ID != "n1" {
		t.Fatalf("NewArrivals() = %+v, want [n1]", fresh)
	}

	// opening the tray swallows n1; only later arrivals toast
	if err = svc.TouchLastSeen(ctx, "u1"); err != nil {
		t.Fatalf("TouchLastSeen() failed, %v", err)
	}
	fresh, err = svc.NewArrivals(ctx, "u1")
	if err != nil {
		t.Fatalf("NewArrivals() failed, %v", err)
	}
	if len(fresh) != 0 {
		t.Errorf("NewArrivals() after touch = %+v, want none", fresh)
	}

	seed(t, db, Notification{ID: "n3", UserID: "u1", CreatedAt: time.Now().UTC().Add(time.Second)})
	fresh, err = svc.NewArrivals(ctx, "u1")
	if err != nil {
		t.Fatalf("NewArrivals() failed, %v", err)
	}
	if len(fresh) != 1 || fresh[0].ID != "n3" {
		t.Errorf("NewArrivals() = %+v, want [n3]", fresh)
	}

	// touching again is an update, not a create
	if err = svc.TouchLastSeen(ctx, "u1"); err != nil {
		t.Fatalf("second TouchLastSeen() failed, %v", err)
	}
}

func TestInboxStreamsUserNotifications(t *testing.T) {
	svc, db := newTestService(t)

	seed(t, db,
		Notification{ID: "n1", UserID: "u1", CreatedAt: time.Now().UTC()},
		Notification{ID: "n2", UserID: "u2", CreatedAt: time.Now().UTC()},
	)

	view, err := svc.Inbox("u1", nil)
	if err != nil {
		t.Fatalf("Inbox() failed, %v", err)
	}
	defer view.Close()

	deadline := time.Now().Add(time.Second)
	for {
		notes := view.Records()
		if len(notes) == 1 && notes[0].ID == "n1" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("inbox = %+v, want only n1", notes)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
