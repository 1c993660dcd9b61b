package booking

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"

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
	admin   = user.User{ID: "adm-1", Name: "Root", Roles: user.AdminRoles}
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

func createFacility(t *testing.T, svc *Service) Facility {
	t.Helper()
	fac, err := svc.CreateFacility(context.Background(), admin, NewFacility{
		Name:     "Main Auditorium",
		Category: CategoryAuditorium,
		Location: "Block C",
		Capacity: 300,
	})
	if err != nil {
		t.Fatalf("CreateFacility() failed, %v", err)
	}
	return fac
}

func request(t *testing.T, svc *Service, owner user.User, facilityID string, start, end time.Time) Booking {
	t.Helper()
	b, err := svc.Request(context.Background(), owner, NewBooking{
		FacilityID: facilityID,
		Purpose:    "Guild meeting",
		StartsAt:   start,
		EndsAt:     end,
	})
	if err != nil {
		t.Fatalf("Request() failed, %v", err)
	}
	return b
}

func TestFacilityManagement(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// non-admins may not manage the catalog
	if _, err := svc.CreateFacility(ctx, faculty, NewFacility{Name: "Lab 1", Category: CategoryLab}); !core.IsPermission(err) {
		t.Errorf("CreateFacility() as faculty error = %v, want permission error", err)
	}

	fac := createFacility(t, svc)
	if !fac.IsActive {
		t.Error("new facility should be active")
	}

	facilities, err := svc.QueryFacilities(ctx, CategoryAuditorium)
	if err != nil {
		t.Fatalf("QueryFacilities() failed, %v", err)
	}
	if len(facilities) != 1 {
		t.Errorf("got %d facilities, want 1", len(facilities))
	}

	// deactivation blocks new requests
	if _, err = svc.SetFacilityActive(ctx, admin, fac.ID, false); err != nil {
		t.Fatalf("SetFacilityActive() failed, %v", err)
	}
	start := time.Now().UTC().Add(24 * time.Hour)
	_, err = svc.Request(ctx, student, NewBooking{FacilityID: fac.ID, Purpose: "x", StartsAt: start, EndsAt: start.Add(time.Hour)})
	if verr, ok := errors.Cause(err).(*core.ValidationError); !ok {
		t.Errorf("Request() on inactive facility error = %v, want validation error", err)
	} else if len(verr.Fields) == 0 || verr.Fields[0].Field != "facility_id" {
		t.Errorf("validation fields = %+v", verr.Fields)
	}
}

func TestRequestOverlap(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	fac := createFacility(t, svc)

	start := time.Now().UTC().Add(24 * time.Hour)
	end := start.Add(2 * time.Hour)
	request(t, svc, student, fac.ID, start, end)

	// overlapping slot on a blocking booking is refused
	_, err := svc.Request(ctx, other, NewBooking{
		FacilityID: fac.ID,
		Purpose:    "Rehearsal",
		StartsAt:   start.Add(time.Hour),
		EndsAt:     end.Add(time.Hour),
	})
	if verr, ok := errors.Cause(err).(*core.ValidationError); !ok {
		t.Errorf("overlapping Request() error = %v, want validation error", err)
	} else if len(verr.Fields) == 0 || verr.Fields[0].Field != "starts_at" {
		t.Errorf("validation fields = %+v", verr.Fields)
	}

	// back-to-back slots touch but do not overlap
	request(t, svc, other, fac.ID, end, end.Add(time.Hour))
}

func TestRequestNotifiesReviewers(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	fac := createFacility(t, svc)

	repo := usersdb.NewUserRepository(db)
	reviewer := user.User{ID: faculty.ID, Name: faculty.Name, Username: "dean", Email: "dean@chuo.ac", IsActive: true, Roles: user.FacultyRoles}
	if _, err := repo.CreateUser(ctx, reviewer); err != nil {
		t.Fatalf("CreateUser() failed, %v", err)
	}

	start := time.Now().UTC().Add(24 * time.Hour)
	b := request(t, svc, student, fac.ID, start, start.Add(time.Hour))

	// the reviewer's in-app notification lands in the background
	deadline := time.Now().Add(time.Second)
	for {
		raws, err := db.Find(ctx, store.Query{
			Collection: notification.Collection,
			Where:      store.Where{"ref_id": b.ID},
		})
		if err != nil {
			t.Fatalf("Find() failed, %v", err)
		}
		if len(raws) == 1 {
			var note notification.Notification
			if err = json.Unmarshal(raws[0], &note); err != nil {
				t.Fatalf("unmarshalling notification: %v", err)
			}
			if note.UserID != faculty.ID || note.Type != notification.TypeSubmission {
				t.Errorf("note = %+v, want submission note for %s", note, faculty.ID)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d notifications for %s, want 1", len(raws), b.ID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRejectedBookingFreesSlot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	fac := createFacility(t, svc)

	start := time.Now().UTC().Add(24 * time.Hour)
	end := start.Add(time.Hour)
	b := request(t, svc, student, fac.ID, start, end)

	if _, err := svc.SetStatus(ctx, faculty, b.ID, StatusChange{Status: StatusRejected}); err != nil {
		t.Fatalf("SetStatus() failed, %v", err)
	}

	// the rejected booking no longer blocks the slot
	request(t, svc, other, fac.ID, start, end)
}

func TestCancel(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	fac := createFacility(t, svc)

	start := time.Now().UTC().Add(24 * time.Hour)
	b := request(t, svc, student, fac.ID, start, start.Add(time.Hour))

	if _, err := svc.Cancel(ctx, other, b.ID); !core.IsPermission(err) {
		t.Errorf("Cancel() as non-owner error = %v, want permission error", err)
	}

	cancelled, err := svc.Cancel(ctx, student, b.ID)
	if err != nil {
		t.Fatalf("Cancel() failed, %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("Status = %q, want %q", cancelled.Status, StatusCancelled)
	}

	// a cancelled booking cannot be cancelled again
	if _, err = svc.Cancel(ctx, student, b.ID); !core.IsPermission(err) {
		t.Errorf("second Cancel() error = %v, want permission error", err)
	}

	// and it frees the slot
	request(t, svc, other, fac.ID, start, start.Add(time.Hour))
}

func TestCancelStartedBooking(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	fac := createFacility(t, svc)

	start := time.Now().UTC().Add(-time.Minute)
	b := request(t, svc, student, fac.ID, start, start.Add(2*time.Hour))

	if _, err := svc.Cancel(ctx, student, b.ID); !core.IsPermission(err) {
		t.Errorf("Cancel() of started booking error = %v, want permission error", err)
	}
}

func TestOverlaps(t *testing.T) {
	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	b := Booking{StartsAt: base, EndsAt: base.Add(2 * time.Hour)}

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"inside", base.Add(30 * time.Minute), base.Add(time.Hour), true},
		{"straddles start", base.Add(-time.Hour), base.Add(time.Hour), true},
		{"straddles end", base.Add(time.Hour), base.Add(3 * time.Hour), true},
		{"covers", base.Add(-time.Hour), base.Add(3 * time.Hour), true},
		{"before", base.Add(-2 * time.Hour), base.Add(-time.Hour), false},
		{"after", base.Add(3 * time.Hour), base.Add(4 * time.Hour), false},
		{"touches start", base.Add(-time.Hour), base, false},
		{"touches end", base.Add(2 * time.Hour), base.Add(3 * time.Hour), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.Overlaps(tt.start, tt.end); got != tt.want {
				t.Errorf("Overlaps() = %v, want %v", got, tt.want)
			}
		})
	}
}
