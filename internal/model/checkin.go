package model

import (
	"net/url"
	"strconv"
)

// DefaultTitle is used when the remote service omits a person's title.
const DefaultTitle = "N/A"

// Place is a physical site with its own device set.
type Place struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Device is an entry-detection unit (camera, reader) belonging to one place.
type Device struct {
	DeviceID   string `json:"deviceID"`
	DeviceName string `json:"deviceName"`
	PlaceID    string `json:"placeID"`
}

// CheckinEvent is a single detected entry of a person.
// Timestamp is epoch milliseconds.
type CheckinEvent struct {
	PersonID   string `json:"personID"`
	PersonName string `json:"personName"`
	AliasID    string `json:"aliasID"`
	PlaceID    string `json:"placeID"`
	Title      string `json:"title"`
	DeviceID   string `json:"deviceID,omitempty"`
	DeviceName string `json:"deviceName,omitempty"`
	Timestamp  int64  `json:"checkinTime"`
}

// WithDefaults fills the optional descriptive fields the remote service may omit.
func (e CheckinEvent) WithDefaults() CheckinEvent {
	if e.Title == "" {
		e.Title = DefaultTitle
	}
	return e
}

// PersonAttendanceSummary is the per-person aggregate of a query window.
type PersonAttendanceSummary struct {
	PersonID   string `json:"personID"`
	PersonName string `json:"personName"`
	AliasID    string `json:"aliasID"`
	PlaceID    string `json:"placeID"`
	Title      string `json:"title"`
	FirstSeen  int64  `json:"firstSeen"`
	LastSeen   int64  `json:"lastSeen"`
	Events     int    `json:"events"`
}

// QueryDescriptor is a validated attendance query. FromMs <= ToMs.
type QueryDescriptor struct {
	PlaceID  string `json:"placeID"`
	DeviceID string `json:"deviceID,omitempty"`
	FromMs   int64  `json:"from,string"`
	ToMs     int64  `json:"to,string"`
}

// Form renders the descriptor as the remote form body.
// Optional ids are left out when empty.
func (d QueryDescriptor) Form(credential string) url.Values {
	v := url.Values{}
	v.Set("token", credential)
	if d.PlaceID != "" {
		v.Set("placeID", d.PlaceID)
	}
	if d.DeviceID != "" {
		v.Set("deviceID", d.DeviceID)
	}
	v.Set("from", strconv.FormatInt(d.FromMs, 10))
	v.Set("to", strconv.FormatInt(d.ToMs, 10))
	return v
}
