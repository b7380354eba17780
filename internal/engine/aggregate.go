package engine

import (
	"github.com/coffersTech/attendance/internal/model"
)

// Aggregate reduces raw check-in events into one summary per person.
//
// The first event seen for a person fixes the descriptive fields (name, alias,
// title, place); later events only widen the FirstSeen/LastSeen window.
// Summaries are returned in first-occurrence order of each person.
func Aggregate(events []model.CheckinEvent) []model.PersonAttendanceSummary {
	summaries := make([]model.PersonAttendanceSummary, 0, len(events))
	index := make(map[string]int, len(events))

	for _, ev := range events {
		i, seen := index[ev.PersonID]
		if !seen {
			ev = ev.WithDefaults()
			index[ev.PersonID] = len(summaries)
			summaries = append(summaries, model.PersonAttendanceSummary{
				PersonID:   ev.PersonID,
				PersonName: ev.PersonName,
				AliasID:    ev.AliasID,
				PlaceID:    ev.PlaceID,
				Title:      ev.Title,
				FirstSeen:  ev.Timestamp,
				LastSeen:   ev.Timestamp,
				Events:     1,
			})
			continue
		}

		s := &summaries[i]
		if ev.Timestamp < s.FirstSeen {
			s.FirstSeen = ev.Timestamp
		}
		if ev.Timestamp > s.LastSeen {
			s.LastSeen = ev.Timestamp
		}
		s.Events++
	}

	return summaries
}
