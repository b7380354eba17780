package remote

import (
	"context"
	"net/http"
	"net/url"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/attendance/internal/model"
)

// catalogSpec describes how one catalog envelope is read.
type catalogSpec struct {
	name        string
	idKey       string
	nameKey     string
	unavailable string
	invalid     string
}

var (
	placeCatalog  = catalogSpec{CatalogPlaces, "id", "name", msgPlacesUnavailable, msgPlacesInvalid}
	deviceCatalog = catalogSpec{CatalogDevices, "deviceID", "deviceName", msgDevicesUnavailable, msgDevicesInvalid}
)

// Places fetches the selectable places.
func (c *Client) Places(ctx context.Context) ([]model.Place, error) {
	items, err := c.fetchCatalog(ctx, c.opts.PlacesURL, placeCatalog)
	if err != nil {
		return nil, err
	}

	places := make([]model.Place, 0, len(items))
	for _, it := range items {
		places = append(places, model.Place{ID: it.id, Name: it.name})
	}
	return places, nil
}

// Devices fetches the devices installed at placeID.
func (c *Client) Devices(ctx context.Context, placeID string) ([]model.Device, error) {
	target, err := url.Parse(c.opts.DevicesURL)
	if err != nil {
		return nil, &TransportError{Message: msgDevicesUnavailable, Err: err}
	}
	q := target.Query()
	q.Set("placeId", placeID)
	target.RawQuery = q.Encode()

	items, err := c.fetchCatalog(ctx, target.String(), deviceCatalog)
	if err != nil {
		return nil, err
	}

	devices := make([]model.Device, 0, len(items))
	for _, it := range items {
		devices = append(devices, model.Device{DeviceID: it.id, DeviceName: it.name, PlaceID: placeID})
	}
	return devices, nil
}

type catalogItem struct {
	id   string
	name string
}

// fetchCatalog reads a {success, data: [...]} envelope.
func (c *Client) fetchCatalog(ctx context.Context, target string, spec catalogSpec) ([]catalogItem, error) {
	req, err := newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	body, status, err := c.do(req, spec.unavailable)
	if err != nil {
		return nil, err
	}
	if !ok(status) {
		return nil, c.statusError(status, body, spec.unavailable)
	}

	p := c.parser.Get()
	defer c.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, &TransportError{Message: spec.unavailable, Err: err}
	}

	data := v.Get("data")
	if !v.GetBool("success") || data == nil || data.Type() != fastjson.TypeArray {
		return nil, &CatalogError{Catalog: spec.name, Message: spec.invalid}
	}

	arr, _ := data.Array()
	items := make([]catalogItem, 0, len(arr))
	for _, el := range arr {
		if el.Type() != fastjson.TypeObject {
			return nil, &CatalogError{Catalog: spec.name, Message: spec.invalid}
		}
		id := idString(el.Get(spec.idKey))
		if id == "" {
			c.log.Debug().Str("catalog", spec.name).Msg("skipping entry without id")
			continue
		}
		items = append(items, catalogItem{id: id, name: string(el.GetStringBytes(spec.nameKey))})
	}

	return items, nil
}
