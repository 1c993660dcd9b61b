package application

import (
	"time"

	"github.com/chuoapp/chuo/core"
)

// Stats summarizes a merged view of applications. It is recomputed from
// scratch on every snapshot; no counters are carried over between updates.
type Stats struct {
	Total                 int    `json:"total"`
	Pending               int    `json:"pending"`
	Approved              int    `json:"approved"`
	Rejected              int    `json:"rejected"`
	HighPriority          int    `json:"high_priority"`
	Today                 int    `json:"today"`
	AverageResolutionTime string `json:"average_resolution_time"`
}

// ComputeStats derives Stats from apps in a single pass. The average
// resolution time covers approved records only and reads "N/A" when there is
// none.
func ComputeStats(apps []Application) Stats {
	stats := Stats{Total: len(apps), AverageResolutionTime: core.ResolutionTimeNA}

	var (
		resolved      int
		resolutionSum time.Duration
	)
	today := time.Now().UTC().Truncate(24 * time.Hour)

	for _, app := range apps {
		switch app.Status {
		case StatusPending:
			stats.Pending++
		case StatusApproved:
			stats.Approved++
		case StatusRejected:
			stats.Rejected++
		}
		if app.Priority == PriorityHigh {
			stats.HighPriority++
		}
		if !app.CreatedAt.Before(today) {
			stats.Today++
		}
		if app.Status == StatusApproved && app.ReviewedAt != nil {
			resolved++
			resolutionSum += app.ReviewedAt.Sub(app.CreatedAt)
		}
	}

	if resolved > 0 {
		stats.AverageResolutionTime = core.HumanizeResolutionTime(resolutionSum / time.Duration(resolved))
	}
	return stats
}
