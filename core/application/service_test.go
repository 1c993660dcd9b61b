package application

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/chuoapp/chuo/core"
	"github.com/chuoapp/chuo/core/notification"
	"github.com/chuoapp/chuo/core/user"
	emailsvc "github.com/chuoapp/chuo/services/email"
	logsvc "github.com/chuoapp/chuo/services/logger"
	"github.com/chuoapp/chuo/storage/store"
	inmemdb "github.com/chuoapp/chuo/storage/store/inmem"
	usersdb "github.com/chuoapp/chuo/storage/users"
)

var (
	student = user.User{ID: "std-1", Name: "Jo Student", Roles: user.StudentRoles}
	other   = user.User{ID: "std-2", Name: "Sam Student", Roles: user.StudentRoles}
	faculty = user.User{ID: "fac-1", Name: "Dr Dean", Roles: user.FacultyRoles}
)

func newTestService(t *testing.T) (*Service, *inmemdb.DB) {
	t.Helper()
	db := inmemdb.Open(nil)
	t.Cleanup(func() { _ = db.Close() })

	mailSvc := emailsvc.NewConsoleServiceMock()
	usrSvc := user.NewServiceMock(usersdb.NewUserRepository(db), mailSvc)
	outbox := notification.NewOutbox(db, mailSvc, logsvc.NewNopLogger())
	t.Cleanup(outbox.Close)

	return NewService(db, outbox, usrSvc, logsvc.NewNopLogger()), db
}

func submit(t *testing.T, svc *Service, owner user.User) Application {
	t.Helper()
	app, err := svc.Submit(context.Background(), owner, NewApplication{
		Category:    CategoryFinancial,
		Subject:     "Tuition fee waiver",
		Description: "Requesting a waiver for this semester",
		Amount:      150,
	})
	if err != nil {
		t.Fatalf("Submit() failed, %v", err)
	}
	return app
}

func TestServiceSubmit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	app := submit(t, svc, student)
	if app.Status != StatusPending {
		t.Errorf("Status = %q, want %q", app.Status, StatusPending)
	}
	if app.Priority != PriorityNormal {
		t.Errorf("Priority = %q, want %q", app.Priority, PriorityNormal)
	}
	if app.OwnerID != student.ID {
		t.Errorf("OwnerID = %q, want %q", app.OwnerID, student.ID)
	}

	got, err := svc.Get(ctx, app.ID)
	if err != nil {
		t.Fatalf("Get() failed, %v", err)
	}
	if got.Subject != app.Subject {
		t.Errorf("Subject = %q, want %q", got.Subject, app.Subject)
	}

	// invalid category never reaches the store
	_, err = svc.Submit(ctx, student, NewApplication{Category: "sports", Subject: "x", Description: "y"})
	if err == nil {
		t.Error("Submit() with bad category expected error, got nil")
	}
}

func TestServiceSubmitNotifiesReviewers(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	// one active reviewer, one deactivated account that must stay quiet
	repo := usersdb.NewUserRepository(db)
	for _, usr := range []user.User{
		{ID: faculty.ID, Name: faculty.Name, Username: "dean", Email: "dean@chuo.ac", IsActive: true, Roles: user.FacultyRoles},
		{ID: "fac-2", Name: "On Leave", Username: "leave", Email: "leave@chuo.ac", Roles: user.FacultyRoles},
	} {
		if _, err := repo.CreateUser(ctx, usr); err != nil {
			t.Fatalf("CreateUser() failed, %v", err)
		}
	}

	app := submit(t, svc, student)
	waitForNotifications(t, db, app.ID, 1)

	raws, err := db.Find(ctx, store.Query{
		Collection: notification.Collection,
		Where:      store.Where{"ref_id": app.ID},
	})
	if err != nil {
		t.Fatalf("Find() failed, %v", err)
	}
	var note notification.Notification
	if err = json.Unmarshal(raws[0], &note); err != nil {
		t.Fatalf("unmarshalling notification: %v", err)
	}
	if note.UserID != faculty.ID {
		t.Errorf("notified %s, want reviewer %s", note.UserID, faculty.ID)
	}
	if note.Type != notification.TypeSubmission {
		t.Errorf("Type = %q, want %q", note.Type, notification.TypeSubmission)
	}

	// the review verdict still notifies the owner on top
	if _, err = svc.SetStatus(ctx, faculty, app.ID, StatusChange{Status: StatusApproved}); err != nil {
		t.Fatalf("SetStatus() failed, %v", err)
	}
	waitForNotifications(t, db, app.ID, 2)
}

func TestServiceSetStatus(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	app := submit(t, svc, student)

	// students may not review
	if _, err := svc.SetStatus(ctx, student, app.ID, StatusChange{Status: StatusApproved}); !core.IsPermission(err) {
		t.Errorf("SetStatus() as student error = %v, want permission error", err)
	}
	got, err := svc.Get(ctx, app.ID)
	if err != nil {
		t.Fatalf("Get() failed, %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q after denied review, want %q", got.Status, StatusPending)
	}

	// faculty verdict lands and stamps the review time
	reviewed, err := svc.SetStatus(ctx, faculty, app.ID, StatusChange{Status: StatusApproved, Note: "ok"})
	if err != nil {
		t.Fatalf("SetStatus() failed, %v", err)
	}
	if reviewed.Status != StatusApproved || reviewed.ReviewedAt == nil {
		t.Errorf("got status %q, reviewedAt %v", reviewed.Status, reviewed.ReviewedAt)
	}

	// the owner gets an in-app notification, delivered in the background
	waitForNotifications(t, db, app.ID, 1)
}

func TestServiceEditGuards(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	app := submit(t, svc, student)

	// another student may not touch it
	if _, err := svc.Edit(ctx, other, app.ID, UpdateApplication{Subject: "hijack"}); !core.IsPermission(err) {
		t.Errorf("Edit() as non-owner error = %v, want permission error", err)
	}

	// owner edit while pending
	edited, err := svc.Edit(ctx, student, app.ID, UpdateApplication{Subject: "Tuition fee waiver (updated)"})
	if err != nil {
		t.Fatalf("Edit() failed, %v", err)
	}
	if edited.Subject != "Tuition fee waiver (updated)" {
		t.Errorf("Subject = %q", edited.Subject)
	}

	// once approved, even the owner can no longer edit
	if _, err = svc.SetStatus(ctx, faculty, app.ID, StatusChange{Status: StatusApproved}); err != nil {
		t.Fatalf("SetStatus() failed, %v", err)
	}
	if _, err = svc.Edit(ctx, student, app.ID, UpdateApplication{Subject: "too late"}); !core.IsPermission(err) {
		t.Errorf("Edit() after approval error = %v, want permission error", err)
	}
	got, err := svc.Get(ctx, app.ID)
	if err != nil {
		t.Fatalf("Get() failed, %v", err)
	}
	if got.Subject != "Tuition fee waiver (updated)" {
		t.Errorf("Subject = %q changed by guarded edit", got.Subject)
	}
}

func TestServiceDeleteGuards(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	app := submit(t, svc, student)
	if _, err := svc.SetStatus(ctx, faculty, app.ID, StatusChange{Status: StatusApproved}); err != nil {
		t.Fatalf("SetStatus() failed, %v", err)
	}

	// approved records are frozen
	if err := svc.Delete(ctx, student, app.ID); !core.IsPermission(err) {
		t.Errorf("Delete() of approved record error = %v, want permission error", err)
	}

	// rejected records become mutable again
	rejected := submit(t, svc, student)
	if _, err := svc.SetStatus(ctx, faculty, rejected.ID, StatusChange{Status: StatusRejected}); err != nil {
		t.Fatalf("SetStatus() failed, %v", err)
	}
	waitForNotifications(t, db, rejected.ID, 1)

	if err := svc.Delete(ctx, student, rejected.ID); err != nil {
		t.Fatalf("Delete() of rejected record failed, %v", err)
	}
	if _, err := svc.Get(ctx, rejected.ID); err == nil {
		t.Error("Get() after delete expected error, got nil")
	}
	// its notifications went with it
	waitForNotifications(t, db, rejected.ID, 0)
}

func TestServiceLiveViewScoping(t *testing.T) {
	svc, _ := newTestService(t)

	mine := submit(t, svc, student)
	submit(t, svc, other)

	var (
		mu       sync.Mutex
		gotStats Stats
	)
	view, err := svc.LiveView(student.ID, func(apps []Application, stats Stats) {
		mu.Lock()
		gotStats = stats
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("LiveView() failed, %v", err)
	}
	defer view.Close()

	deadline := time.Now().Add(time.Second)
	for {
		recs := view.Records()
		if len(recs) == 1 && recs[0].ID == mine.ID {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scoped view = %+v, want only %s", recs, mine.ID)
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotStats.Total != 1 || gotStats.Pending != 1 {
		t.Errorf("stats = %+v, want total 1 pending 1", gotStats)
	}
}

// waitForNotifications polls until the record has exactly n notifications
// referencing it.
func waitForNotifications(t *testing.T, db store.Store, refID string, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		raws, err := db.Find(context.Background(), store.Query{
			Collection: notification.Collection,
			Where:      store.Where{"ref_id": refID},
		})
		if err != nil {
			t.Fatalf("Find() failed, %v", err)
		}
		if len(raws) == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d notifications for %s, want %d", len(raws), refID, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
