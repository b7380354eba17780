package engine

import (
	"sort"

	"github.com/coffersTech/attendance/internal/model"
)

// DeviceCount is the number of detections reported by one device.
type DeviceCount struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Count      int    `json:"count"`
}

// ResultStats contains high-level figures about one query result for the API response.
type ResultStats struct {
	TotalEvents    int           `json:"total_events"`
	DistinctPeople int           `json:"distinct_people"`
	Earliest       int64         `json:"earliest"` // epoch ms, 0 when empty
	Latest         int64         `json:"latest"`   // epoch ms, 0 when empty
	Devices        []DeviceCount `json:"devices"`  // busiest first
}

// ComputeStats summarizes the raw events and their per-person summaries.
func ComputeStats(events []model.CheckinEvent, summaries []model.PersonAttendanceSummary) ResultStats {
	stats := ResultStats{
		TotalEvents:    len(events),
		DistinctPeople: len(summaries),
		Devices:        make([]DeviceCount, 0),
	}

	// 1. Time bounds come from the summaries, which already fold min/max per person
	for i, s := range summaries {
		if i == 0 || s.FirstSeen < stats.Earliest {
			stats.Earliest = s.FirstSeen
		}
		if i == 0 || s.LastSeen > stats.Latest {
			stats.Latest = s.LastSeen
		}
	}

	// 2. Per-device distribution
	byDevice := make(map[string]*DeviceCount)
	for _, ev := range events {
		dc, ok := byDevice[ev.DeviceID]
		if !ok {
			dc = &DeviceCount{DeviceID: ev.DeviceID, DeviceName: ev.DeviceName}
			byDevice[ev.DeviceID] = dc
		}
		dc.Count++
	}
	for _, dc := range byDevice {
		stats.Devices = append(stats.Devices, *dc)
	}

	sort.Slice(stats.Devices, func(i, j int) bool {
		if stats.Devices[i].Count != stats.Devices[j].Count {
			return stats.Devices[i].Count > stats.Devices[j].Count
		}
		return stats.Devices[i].DeviceID < stats.Devices[j].DeviceID
	})

	return stats
}
