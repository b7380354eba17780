// Package session coordinates catalog loading, query validation, query
// execution and aggregation into one observable state per viewer.
//
// State is a value. It only changes through Reduce, which takes one Event
// and returns the next State plus the Effects (remote calls) to start.
// Session owns a State, applies events one at a time on its own goroutine
// and feeds effect results back in as events.
package session

import (
	"github.com/coffersTech/attendance/internal/model"
	"github.com/coffersTech/attendance/internal/query"
)

// Phase is the submit-side status of a session.
type Phase string

const (
	PhaseReady             Phase = "ready"
	PhaseSubmitting        Phase = "submitting"
	PhaseSuccess           Phase = "success"
	PhaseSubmitError       Phase = "submit_error"
	PhaseValidationBlocked Phase = "validation_blocked"
)

// CatalogPhase is the load status of the place or device list.
type CatalogPhase string

const (
	CatalogIdle    CatalogPhase = "idle"
	CatalogLoading CatalogPhase = "loading"
	CatalogReady   CatalogPhase = "ready"
	CatalogError   CatalogPhase = "error"
)

// Messages shown after a successful query.
const (
	MsgNoResults = "No results found."
	msgFound     = "Found %d results."
)

// FieldError is a validation failure attached to one form field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// State is the complete observable state of one session.
type State struct {
	// Version increases by one for every event that is applied.
	Version uint64 `json:"version"`

	Form query.Form `json:"form"`

	Places        []model.Place `json:"places"`
	PlacesLoading bool          `json:"placesLoading"`
	PlaceError    string        `json:"placeError,omitempty"`
	placesLoaded  bool

	Devices        []model.Device `json:"devices"`
	DevicesLoading bool           `json:"devicesLoading"`
	DeviceError    string         `json:"deviceError,omitempty"`

	Submitting     bool        `json:"submitting"`
	SubmitError    string      `json:"submitError,omitempty"`
	Validation     *FieldError `json:"validation,omitempty"`
	SuccessMessage string      `json:"successMessage,omitempty"`
	QueryString    string      `json:"queryString,omitempty"`

	// Results is nil when there is nothing to show, and empty after a
	// successful query that matched no events.
	Results []model.PersonAttendanceSummary `json:"results"`
	Events  []model.CheckinEvent            `json:"events"`
	Query   *model.QueryDescriptor          `json:"query,omitempty"`

	// formVersion changes on every field edit; a submit result is applied
	// only if the form is still the one that was submitted.
	formVersion   uint64
	submitVersion uint64
	submitSeq     uint64
	// deviceGen identifies the device fetch whose result may be applied.
	deviceGen uint64
}

// Initial is the state of a session before anything is loaded.
func Initial() State {
	return State{}
}

// CanSubmit reports whether a submit would be accepted.
func (s State) CanSubmit() bool {
	return !s.Submitting && !s.PlacesLoading
}

// Phase derives the submit-side phase.
func (s State) Phase() Phase {
	switch {
	case s.Submitting:
		return PhaseSubmitting
	case s.Validation != nil:
		return PhaseValidationBlocked
	case s.SubmitError != "":
		return PhaseSubmitError
	case s.Results != nil:
		return PhaseSuccess
	default:
		return PhaseReady
	}
}

// PlacesPhase derives the place catalog status.
func (s State) PlacesPhase() CatalogPhase {
	return catalogPhase(s.PlacesLoading, s.PlaceError, s.placesLoaded)
}

// DevicesPhase derives the device catalog status.
func (s State) DevicesPhase() CatalogPhase {
	if s.Form.PlaceID == "" {
		return CatalogIdle
	}
	return catalogPhase(s.DevicesLoading, s.DeviceError, true)
}

func catalogPhase(loading bool, errMsg string, loaded bool) CatalogPhase {
	switch {
	case loading:
		return CatalogLoading
	case errMsg != "":
		return CatalogError
	case loaded:
		return CatalogReady
	default:
		return CatalogIdle
	}
}
