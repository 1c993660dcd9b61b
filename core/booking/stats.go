package booking

import (
	"time"

	"github.com/chuoapp/chuo/core"
)

// Stats summarizes a merged view of bookings, recomputed from scratch on
// every snapshot.
type Stats struct {
	Total                 int    `json:"total"`
	Pending               int    `json:"pending"`
	Approved              int    `json:"approved"`
	Rejected              int    `json:"rejected"`
	Cancelled             int    `json:"cancelled"`
	Upcoming              int    `json:"upcoming"` // approved, not yet started
	AverageResolutionTime string `json:"average_resolution_time"`
}

// ComputeStats derives Stats from bookings in a single pass. The average
// resolution time covers reviewed records only; "N/A" when there is none.
func ComputeStats(bookings []Booking) Stats {
	stats := Stats{Total: len(bookings), AverageResolutionTime: core.ResolutionTimeNA}

	var (
		reviewed      int
		resolutionSum time.Duration
	)
	now := time.Now().UTC()

	for _, b := range bookings {
		switch b.Status {
		case StatusPending:
			stats.Pending++
		case StatusApproved:
			stats.Approved++
			if b.StartsAt.After(now) {
				stats.Upcoming++
			}
		case StatusRejected:
			stats.Rejected++
		case StatusCancelled:
			stats.Cancelled++
		}
		if b.ReviewedAt != nil {
			reviewed++
			resolutionSum += b.ReviewedAt.Sub(b.CreatedAt)
		}
	}

	if reviewed > 0 {
		stats.AverageResolutionTime = core.HumanizeResolutionTime(resolutionSum / time.Duration(reviewed))
	}
	return stats
}
