// Package query turns the raw form fields of an attendance query into a
// validated QueryDescriptor.
package query

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/coffersTech/attendance/internal/model"
)

// Validation fields.
const (
	FieldPlace = "placeId"
	FieldFrom  = "from"
	FieldTo    = "to"
	FieldRange = "range"
)

// layouts accepted for datetime-local inputs, most specific first.
var layouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

// Form holds the user-entered query fields as they arrive from the client.
type Form struct {
	PlaceID      string `json:"placeId"`
	DeviceID     string `json:"deviceId"`
	FromDateTime string `json:"from"`
	ToDateTime   string `json:"to"`
}

// ValidationError reports malformed or inconsistent input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Built is the outcome of a successful Build.
type Built struct {
	Descriptor model.QueryDescriptor
	// Rendering is an indented JSON view of the descriptor for display.
	// It never contains the credential.
	Rendering string
}

// Build validates the form and produces the query descriptor.
// A missing from defaults to the start of now's day in loc, a missing to
// defaults to now.
func Build(f Form, now time.Time, loc *time.Location) (Built, error) {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc)

	placeID := strings.TrimSpace(f.PlaceID)
	if placeID == "" {
		return Built{}, &ValidationError{Field: FieldPlace, Message: "a place must be selected"}
	}

	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	to := now

	if strings.TrimSpace(f.FromDateTime) != "" {
		t, err := parseLocal(f.FromDateTime, loc)
		if err != nil {
			return Built{}, &ValidationError{Field: FieldFrom, Message: "invalid date/time format"}
		}
		from = t
	}

	if strings.TrimSpace(f.ToDateTime) != "" {
		t, err := parseLocal(f.ToDateTime, loc)
		if err != nil {
			return Built{}, &ValidationError{Field: FieldTo, Message: "invalid date/time format"}
		}
		to = t
	}

	// Defaults can invert the window too (a from in the future, or a to
	// before today), so the ordering is checked on the resolved bounds.
	if from.After(to) {
		return Built{}, &ValidationError{Field: FieldRange, Message: "start time must not be after end time"}
	}

	d := model.QueryDescriptor{
		PlaceID:  placeID,
		DeviceID: strings.TrimSpace(f.DeviceID),
		FromMs:   from.UnixMilli(),
		ToMs:     to.UnixMilli(),
	}

	rendering, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return Built{}, err
	}

	return Built{Descriptor: d, Rendering: string(rendering)}, nil
}

func parseLocal(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	var err error
	for _, layout := range layouts {
		var t time.Time
		if t, err = time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}
