package echoapi

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/chuoapp/chuo/core/booking"
	"github.com/chuoapp/chuo/core/user"
)

func TestBookingAPI(t *testing.T) {
	student := createTestUser(t, "Book Student", "bookstd", "bookstd@chuo.ac", "LePassword", user.StudentRoles)
	admin := createTestUser(t, "Book Admin", "bookadm", "bookadm@chuo.ac", "LePassword", user.AdminRoles)

	// only admins manage the catalog
	body := marchallObj(t, booking.NewFacility{Name: "Chem Lab", Category: booking.CategoryLab, Capacity: 40})
	req, rec := newAuthRequest(http.MethodPost, "/v1/facilities", getToken(t, student), body)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("create facility as student: code = %d, want 403", rec.Code)
	}

	req, rec = newAuthRequest(http.MethodPost, "/v1/facilities", getToken(t, admin), body)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create facility: code = %d, body %s", rec.Code, rec.Body.String())
	}
	var fac booking.Facility
	if err := json.Unmarshal(rec.Body.Bytes(), &fac); err != nil {
		t.Fatalf("unmarshalling: %v", err)
	}

	// request a slot
	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour)
	body = marchallObj(t, booking.NewBooking{
		FacilityID: fac.ID,
		Purpose:    "Practical session",
		StartsAt:   start,
		EndsAt:     start.Add(2 * time.Hour),
	})
	req, rec = newAuthRequest(http.MethodPost, "/v1/bookings", getToken(t, student), body)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("request booking: code = %d, body %s", rec.Code, rec.Body.String())
	}
	var b booking.Booking
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("unmarshalling: %v", err)
	}
	if b.Status != booking.StatusPending || b.FacilityCategory != booking.CategoryLab {
		t.Errorf("booking = %+v", b)
	}

	// the same slot is refused while the first request blocks it
	req, rec = newAuthRequest(http.MethodPost, "/v1/bookings", getToken(t, student), body)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("overlapping booking: code = %d, want 400; body %s", rec.Code, rec.Body.String())
	}

	// cancel releases it
	req, rec = newAuthRequest(http.MethodPut, "/v1/bookings/"+b.ID+"/cancel", getToken(t, student))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel: code = %d, body %s", rec.Code, rec.Body.String())
	}

	req, rec = newAuthRequest(http.MethodPost, "/v1/bookings", getToken(t, student), body)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Errorf("rebooking after cancel: code = %d, body %s", rec.Code, rec.Body.String())
	}
}
