package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/coffersTech/attendance/internal/engine"
	"github.com/coffersTech/attendance/internal/query"
	"github.com/coffersTech/attendance/internal/remote"
)

// Reduce applies ev to s. It never mutates s or the slices it holds.
// Events that are stale or not allowed in the current state leave the
// state unchanged apart from Version.
func Reduce(s State, ev Event) (State, []Effect) {
	var effects []Effect
	s.Version++

	switch e := ev.(type) {
	case PlacesRequested:
		if s.PlacesLoading {
			return s, nil
		}
		s.PlacesLoading = true
		s.PlaceError = ""
		effects = append(effects, FetchPlaces{})

	case PlacesResolved:
		if !s.PlacesLoading {
			return s, nil
		}
		s.PlacesLoading = false
		s.placesLoaded = true
		if e.Err != nil {
			s.Places = nil
			s.PlaceError = describe(e.Err)
		} else {
			s.Places = nonNil(e.Places)
			s.PlaceError = ""
		}

	case PlaceChanged:
		placeID := strings.TrimSpace(e.PlaceID)
		changed := placeID != s.Form.PlaceID
		s = edited(s)
		if !changed {
			return s, nil
		}
		s.Form.PlaceID = placeID
		s.Form.DeviceID = ""
		s.Devices = nil
		s.DeviceError = ""
		// Bumping the generation retires any fetch still in flight.
		s.deviceGen++
		if placeID == "" {
			s.DevicesLoading = false
			return s, nil
		}
		s.DevicesLoading = true
		effects = append(effects, FetchDevices{PlaceID: placeID, Gen: s.deviceGen})

	case DevicesResolved:
		if e.Gen != s.deviceGen || e.PlaceID != s.Form.PlaceID {
			return s, nil
		}
		s.DevicesLoading = false
		if e.Err != nil {
			s.Devices = nil
			s.DeviceError = describe(e.Err)
		} else {
			s.Devices = nonNil(e.Devices)
			s.DeviceError = ""
		}

	case DeviceChanged:
		s = edited(s)
		s.Form.DeviceID = strings.TrimSpace(e.DeviceID)

	case RangeChanged:
		s = edited(s)
		s.Form.FromDateTime = e.From
		s.Form.ToDateTime = e.To

	case SubmitRequested:
		if !s.CanSubmit() {
			return s, nil
		}
		s.SubmitError = ""
		s.SuccessMessage = ""
		s.Validation = nil
		s.Results = nil
		s.Events = nil

		built, err := query.Build(s.Form, e.Now, e.Now.Location())
		if err != nil {
			var verr *query.ValidationError
			if errors.As(err, &verr) {
				s.Validation = &FieldError{Field: verr.Field, Message: verr.Message}
			} else {
				s.SubmitError = describe(err)
			}
			return s, nil
		}

		d := built.Descriptor
		s.Query = &d
		s.QueryString = built.Rendering
		s.Submitting = true
		s.submitSeq++
		s.submitVersion = s.formVersion
		effects = append(effects, ExecuteQuery{Descriptor: d, Seq: s.submitSeq})

	case SubmitResolved:
		if !s.Submitting || e.Seq != s.submitSeq {
			return s, nil
		}
		s.Submitting = false
		if s.submitVersion != s.formVersion {
			// The form changed while the query ran; its result no longer
			// matches what is on screen.
			return s, nil
		}
		if e.Err != nil {
			s.SubmitError = describe(e.Err)
			s.Results = nil
			s.Events = nil
			return s, nil
		}
		s.Events = nonNil(e.Events)
		s.Results = engine.Aggregate(s.Events)
		if len(s.Results) == 0 {
			s.SuccessMessage = MsgNoResults
		} else {
			s.SuccessMessage = fmt.Sprintf(msgFound, len(s.Results))
		}
	}

	return s, effects
}

// edited applies the invalidation shared by every field edit.
func edited(s State) State {
	s.formVersion++
	s.SubmitError = ""
	s.SuccessMessage = ""
	s.Validation = nil
	s.Results = nil
	s.Events = nil
	return s
}

// describe converts an error into the message shown to the user.
func describe(err error) string {
	var (
		verr *query.ValidationError
		cerr *remote.CatalogError
		qerr *remote.QueryError
		terr *remote.TransportError
	)
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.As(err, &cerr):
		return cerr.Message
	case errors.As(err, &qerr):
		return qerr.Message
	case errors.As(err, &terr):
		return terr.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "the request timed out"
	default:
		return err.Error()
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
