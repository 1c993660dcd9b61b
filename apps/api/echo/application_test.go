package echoapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/chuoapp/chuo/core/application"
	"github.com/chuoapp/chuo/core/user"
)

func submitApplication(t *testing.T, owner user.User, category, subject string) application.Application {
	t.Helper()
	rec, err := deps.AppSvc.Submit(context.Background(), owner, application.NewApplication{
		Category:    category,
		Subject:     subject,
		Description: "some details",
	})
	if err != nil {
		t.Fatalf("Submit(): %v", err)
	}
	return rec
}

func TestApplicationAPI(t *testing.T) {
	student := createTestUser(t, "App Student", "appstd", "appstd@chuo.ac", "LePassword", user.StudentRoles)
	peer := createTestUser(t, "App Peer", "apppeer", "apppeer@chuo.ac", "LePassword", user.StudentRoles)
	faculty := createTestUser(t, "App Faculty", "appfac", "appfac@chuo.ac", "LePassword", user.FacultyRoles)

	t.Run("auth required", func(t *testing.T) {
		req, rec := newRequest(http.MethodGet, "/v1/applications")
		app.ServeHTTP(rec, req)
		tt := httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)}
		checkCodeAndData(t, tt, rec)
	})

	t.Run("submit", func(t *testing.T) {
		body := marchallObj(t, application.NewApplication{
			Category:    application.CategoryAcademic,
			Subject:     "Course registration appeal",
			Description: "Missed the deadline due to illness",
		})
		req, rec := newAuthRequest(http.MethodPost, "/v1/applications", getToken(t, student), body)
		app.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
		}
		var created application.Application
		if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
			t.Fatalf("unmarshalling: %v", err)
		}
		if created.Status != application.StatusPending || created.OwnerID != student.ID {
			t.Errorf("created = %+v", created)
		}
	})

	t.Run("submit invalid category", func(t *testing.T) {
		body := marchallObj(t, application.NewApplication{Category: "sports", Subject: "x", Description: "y"})
		req, rec := newAuthRequest(http.MethodPost, "/v1/applications", getToken(t, student), body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("code = %d, want 400; body %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("students only see their own", func(t *testing.T) {
		mine := submitApplication(t, student, application.CategoryFinancial, "Scholarship request")
		submitApplication(t, peer, application.CategoryFinancial, "Peer request")

		req, rec := newAuthRequest(http.MethodGet, "/v1/applications?category=financial", getToken(t, student))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
		}
		var apps []application.Application
		if err := json.Unmarshal(rec.Body.Bytes(), &apps); err != nil {
			t.Fatalf("unmarshalling: %v", err)
		}
		for _, a := range apps {
			if a.OwnerID != student.ID {
				t.Errorf("leaked record %s owned by %s", a.ID, a.OwnerID)
			}
		}
		found := false
		for _, a := range apps {
			if a.ID == mine.ID {
				found = true
			}
		}
		if !found {
			t.Errorf("own record %s missing from %+v", mine.ID, apps)
		}
	})

	t.Run("review guard", func(t *testing.T) {
		target := submitApplication(t, student, application.CategoryAdministrative, "ID card replacement")
		body := marchallObj(t, application.StatusChange{Status: application.StatusApproved})

		req, rec := newAuthRequest(http.MethodPut, "/v1/applications/"+target.ID+"/status", getToken(t, student), body)
		app.ServeHTTP(rec, req)
		tt := httpTest{wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"})}
		checkCodeAndData(t, tt, rec)

		req, rec = newAuthRequest(http.MethodPut, "/v1/applications/"+target.ID+"/status", getToken(t, faculty), body)
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
		}
		var reviewed application.Application
		if err := json.Unmarshal(rec.Body.Bytes(), &reviewed); err != nil {
			t.Fatalf("unmarshalling: %v", err)
		}
		if reviewed.Status != application.StatusApproved || reviewed.ReviewedAt == nil {
			t.Errorf("reviewed = %+v", reviewed)
		}

		// frozen once approved
		req, rec = newAuthRequest(http.MethodDelete, "/v1/applications/"+target.ID, getToken(t, student))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("delete of approved record: code = %d, want 403", rec.Code)
		}
	})

	t.Run("retrieve hides others' records", func(t *testing.T) {
		theirs := submitApplication(t, peer, application.CategoryAcademic, "Peer only")

		req, rec := newAuthRequest(http.MethodGet, "/v1/applications/"+theirs.ID, getToken(t, student))
		app.ServeHTTP(rec, req)
		tt := httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"})}
		checkCodeAndData(t, tt, rec)

		req, rec = newAuthRequest(http.MethodGet, "/v1/applications/"+theirs.ID, getToken(t, faculty))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("faculty retrieve: code = %d, want 200", rec.Code)
		}
	})

	t.Run("stats", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/applications/stats", getToken(t, student))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
		}
		var stats application.Stats
		if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
			t.Fatalf("unmarshalling: %v", err)
		}
		if stats.Total == 0 {
			t.Error("stats.Total = 0, want student's own records counted")
		}
	})
}
