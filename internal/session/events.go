package session

import (
	"time"

	"github.com/coffersTech/attendance/internal/model"
)

// Event is a single cause of a state change.
type Event interface {
	event()
}

// PlacesRequested starts a place catalog load.
type PlacesRequested struct{}

// PlacesResolved carries the outcome of a place catalog load.
type PlacesResolved struct {
	Places []model.Place
	Err    error
}

// PlaceChanged selects a place. An empty id clears the selection.
type PlaceChanged struct {
	PlaceID string
}

// DeviceChanged selects a device. An empty id means all devices.
type DeviceChanged struct {
	DeviceID string
}

// RangeChanged sets the raw from/to datetime fields.
type RangeChanged struct {
	From string
	To   string
}

// DevicesResolved carries the outcome of the device fetch identified by Gen.
type DevicesResolved struct {
	PlaceID string
	Gen     uint64
	Devices []model.Device
	Err     error
}

// SubmitRequested asks to run the query. Now also fixes the time zone used
// for the form's local datetimes.
type SubmitRequested struct {
	Now time.Time
}

// SubmitResolved carries the outcome of the query identified by Seq.
type SubmitResolved struct {
	Seq    uint64
	Events []model.CheckinEvent
	Err    error
}

func (PlacesRequested) event() {}
func (PlacesResolved) event()  {}
func (PlaceChanged) event()    {}
func (DeviceChanged) event()   {}
func (RangeChanged) event()    {}
func (DevicesResolved) event() {}
func (SubmitRequested) event() {}
func (SubmitResolved) event()  {}

// Effect is a remote call requested by Reduce.
type Effect interface {
	effect()
}

// FetchPlaces loads the place catalog.
type FetchPlaces struct{}

// FetchDevices loads the device catalog of PlaceID.
type FetchDevices struct {
	PlaceID string
	Gen     uint64
}

// ExecuteQuery runs the attendance query.
type ExecuteQuery struct {
	Descriptor model.QueryDescriptor
	Seq        uint64
}

func (FetchPlaces) effect()  {}
func (FetchDevices) effect() {}
func (ExecuteQuery) effect() {}
