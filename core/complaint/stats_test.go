package complaint

import (
	"testing"
	"time"
)

func TestComputeStats(t *testing.T) {
	now := time.Now().UTC()
	resolvedAt := now.Add(-time.Hour)

	complaints := []Complaint{
		{ID: "c1", Category: CategoryAcademic, Status: StatusInProgress, CreatedAt: now.Add(-3 * 24 * time.Hour)},
		{ID: "c2", Category: CategoryAcademic, Status: StatusPending, CreatedAt: now.Add(-24 * time.Hour)},
		{ID: "c3", Category: CategoryAdministrative, Status: StatusResolved, ResolvedAt: &resolvedAt, CreatedAt: now.Add(-2 * time.Hour)},
	}

	stats := ComputeStats(complaints)
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.Pending != 1 {
		t.Errorf("Pending = %d, want 1", stats.Pending)
	}
	if stats.InProgress != 1 {
		t.Errorf("InProgress = %d, want 1", stats.InProgress)
	}
	if stats.Resolved != 1 {
		t.Errorf("Resolved = %d, want 1", stats.Resolved)
	}
	if stats.Rejected != 0 {
		t.Errorf("Rejected = %d, want 0", stats.Rejected)
	}
	// c3 was filed 2h ago and resolved 1h ago
	if stats.AverageResolutionTime != "1 hour" {
		t.Errorf("AverageResolutionTime = %q, want %q", stats.AverageResolutionTime, "1 hour")
	}
}

func TestComputeStatsNoResolved(t *testing.T) {
	now := time.Now().UTC()
	complaints := []Complaint{
		{ID: "c1", Status: StatusPending, CreatedAt: now},
		{ID: "c2", Status: StatusInProgress, CreatedAt: now},
		{ID: "c3", Status: StatusRejected, CreatedAt: now},
	}

	stats := ComputeStats(complaints)
	if stats.AverageResolutionTime != "N/A" {
		t.Errorf("AverageResolutionTime = %q, want %q", stats.AverageResolutionTime, "N/A")
	}
	if stats.Pending != 1 || stats.InProgress != 1 || stats.Rejected != 1 {
		t.Errorf("unexpected counts: %+v", stats)
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	stats := ComputeStats(nil)
	if stats.Total != 0 {
		t.Errorf("Total = %d, want 0", stats.Total)
	}
	if stats.AverageResolutionTime != "N/A" {
		t.Errorf("AverageResolutionTime = %q, want %q", stats.AverageResolutionTime, "N/A")
	}
}

// a rejected record with a final verdict timestamp must not skew the average,
// which covers resolved complaints only
func TestComputeStatsIgnoresRejectedVerdicts(t *testing.T) {
	now := time.Now().UTC()
	rejectedAt := now.Add(-30 * 24 * time.Hour)
	resolvedAt := now

	complaints := []Complaint{
		{ID: "c1", Status: StatusRejected, ResolvedAt: &rejectedAt, CreatedAt: now.Add(-60 * 24 * time.Hour)},
		{ID: "c2", Status: StatusResolved, ResolvedAt: &resolvedAt, CreatedAt: now.Add(-2 * 24 * time.Hour)},
	}

	stats := ComputeStats(complaints)
	if stats.AverageResolutionTime != "2 days" {
		t.Errorf("AverageResolutionTime = %q, want %q", stats.AverageResolutionTime, "2 days")
	}
}

func TestComputeStatsAveragesAcrossResolved(t *testing.T) {
	now := time.Now().UTC()
	r1 := now.Add(-time.Hour)  // resolved in 2h
	r2 := now                  // resolved in 4h

	complaints := []Complaint{
		{ID: "c1", Status: StatusResolved, ResolvedAt: &r1, CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "c2", Status: StatusResolved, ResolvedAt: &r2, CreatedAt: now.Add(-4 * time.Hour)},
	}

	stats := ComputeStats(complaints)
	if stats.AverageResolutionTime != "3 hours" {
		t.Errorf("AverageResolutionTime = %q, want %q", stats.AverageResolutionTime, "3 hours")
	}
}
