package remote

import "fmt"

// Generic fallback messages used when the remote service gives none.
const (
	msgPlacesUnavailable  = "unable to load the place list"
	msgDevicesUnavailable = "unable to load the device list"
	msgPlacesInvalid      = "invalid place data returned"
	msgDevicesInvalid     = "invalid device data returned"
	msgQueryFailed        = "unable to fetch check-in data"
	msgQueryUnparseable   = "unparseable check-in payload"
)

// Catalog names.
const (
	CatalogPlaces  = "places"
	CatalogDevices = "devices"
)

// CatalogError reports a place or device list that came back with an
// unexpected shape.
type CatalogError struct {
	Catalog string
	Message string
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("%s catalog: %s", e.Catalog, e.Message)
}

// QueryError reports an attendance query the remote service answered but
// rejected, or answered with an unusable payload.
type QueryError struct {
	Code    int
	Message string
}

func (e *QueryError) Error() string {
	return e.Message
}

// TransportError reports an HTTP-level failure reaching an endpoint.
// Status is 0 when no response was received.
type TransportError struct {
	Status  int
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
