package engine

import (
	"sort"
	"time"

	"github.com/coffersTech/attendance/internal/model"
)

// HistogramPoint is the number of check-ins in the bucket starting at Time.
type HistogramPoint struct {
	Time  int64 `json:"time"` // epoch ms, bucket start
	Count int   `json:"count"`
}

// ComputeHistogram buckets check-ins by interval (ms). Bucket edges fall on
// local clock boundaries in loc, using the zone offset in effect at each
// check-in. A non-positive interval yields no points.
func ComputeHistogram(events []model.CheckinEvent, interval int64, loc *time.Location) []HistogramPoint {
	points := make([]HistogramPoint, 0)
	if interval <= 0 {
		return points
	}
	if loc == nil {
		loc = time.UTC
	}

	buckets := make(map[int64]int)
	for _, ev := range events {
		_, off := time.UnixMilli(ev.Timestamp).In(loc).Zone()
		offset := int64(off) * 1000
		local := ev.Timestamp + offset
		bucket := local - mod(local, interval) - offset
		buckets[bucket]++
	}

	for t, c := range buckets {
		points = append(points, HistogramPoint{Time: t, Count: c})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Time < points[j].Time
	})
	return points
}

// mod is a floored modulo so timestamps before the epoch bucket downwards.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
