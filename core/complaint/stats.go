package complaint

import (
	"time"

	"github.com/chuoapp/chuo/core"
)

// Stats summarizes a merged view of complaints, recomputed from scratch on
// every snapshot.
type Stats struct {
	Total                 int    `json:"total"`
	Pending               int    `json:"pending"`
	InProgress            int    `json:"in_progress"`
	Resolved              int    `json:"resolved"`
	Rejected              int    `json:"rejected"`
	Today                 int    `json:"today"`
	AverageResolutionTime string `json:"average_resolution_time"`
}

// ComputeStats derives Stats from complaints in a single pass. The average
// resolution time covers resolved records only; "N/A" when there is none.
func ComputeStats(complaints []Complaint) Stats {
	stats := Stats{Total: len(complaints), AverageResolutionTime: core.ResolutionTimeNA}

	var (
		resolved      int
		resolutionSum time.Duration
	)
	today := time.Now().UTC().Truncate(24 * time.Hour)

	for _, c := range complaints {
		switch c.Status {
		case StatusPending:
			stats.Pending++
		case StatusInProgress:
			stats.InProgress++
		case StatusResolved:
			stats.Resolved++
		case StatusRejected:
			stats.Rejected++
		}
		if !c.CreatedAt.Before(today) {
			stats.Today++
		}
		if c.Status == StatusResolved && c.ResolvedAt != nil {
			resolved++
			resolutionSum += c.ResolvedAt.Sub(c.CreatedAt)
		}
	}

	if resolved > 0 {
		stats.AverageResolutionTime = core.HumanizeResolutionTime(resolutionSum / time.Duration(resolved))
	}
	return stats
}
