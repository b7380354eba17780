package remote

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/valyala/fastjson"

	"github.com/coffersTech/attendance/internal/model"
)

// returnCodeOK is the attendance endpoint's success indicator.
const returnCodeOK = 1

// Checkins runs an attendance query and returns the raw events, normalized
// and with optional fields defaulted. An empty or absent payload yields an
// empty list.
func (c *Client) Checkins(ctx context.Context, d model.QueryDescriptor) ([]model.CheckinEvent, error) {
	form := d.Form(c.opts.Credential)

	req, err := newRequest(ctx, http.MethodPost, c.opts.CheckinURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, status, err := c.do(req, msgQueryFailed)
	if err != nil {
		return nil, err
	}
	if !ok(status) {
		return nil, c.statusError(status, body, msgQueryFailed)
	}

	p := c.parser.Get()
	defer c.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, &TransportError{Message: msgQueryFailed, Err: err}
	}

	if code := v.GetInt("returnCode"); code != returnCodeOK {
		msg := strings.TrimSpace(string(v.GetStringBytes("returnMessage")))
		if msg == "" {
			msg = msgQueryFailed
		}
		return nil, &QueryError{Code: code, Message: msg}
	}

	data := v.Get("data")
	if data == nil || data.Type() == fastjson.TypeNull {
		return []model.CheckinEvent{}, nil
	}
	if data.Type() != fastjson.TypeArray {
		return nil, &QueryError{Code: returnCodeOK, Message: msgQueryUnparseable}
	}

	arr, _ := data.Array()
	events := make([]model.CheckinEvent, 0, len(arr))
	for _, el := range arr {
		ev, ok := parseEvent(el)
		if !ok {
			return nil, &QueryError{Code: returnCodeOK, Message: msgQueryUnparseable}
		}
		events = append(events, ev)
	}

	c.log.Debug().
		Str("place", d.PlaceID).
		Str("device", d.DeviceID).
		Int64("from", d.FromMs).
		Int64("to", d.ToMs).
		Int("events", len(events)).
		Msg("attendance query")

	return events, nil
}

// parseEvent reads one check-in. personID and checkinTime are required.
func parseEvent(v *fastjson.Value) (model.CheckinEvent, bool) {
	if v.Type() != fastjson.TypeObject {
		return model.CheckinEvent{}, false
	}

	ts, ok := epochMillis(v.Get("checkinTime"))
	if !ok {
		return model.CheckinEvent{}, false
	}

	ev := model.CheckinEvent{
		PersonID:   idString(v.Get("personID")),
		PersonName: string(v.GetStringBytes("personName")),
		AliasID:    idString(v.Get("aliasID")),
		PlaceID:    idString(v.Get("placeID")),
		Title:      string(v.GetStringBytes("title")),
		DeviceID:   idString(v.Get("deviceID")),
		DeviceName: string(v.GetStringBytes("deviceName")),
		Timestamp:  ts,
	}
	if ev.PersonID == "" {
		return model.CheckinEvent{}, false
	}

	return ev.WithDefaults(), true
}

// epochMillis accepts a JSON number or a numeric string.
func epochMillis(v *fastjson.Value) (int64, bool) {
	if v == nil {
		return 0, false
	}
	switch v.Type() {
	case fastjson.TypeNumber:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0, false
			}
			return int64(f), true
		}
		return n, true
	case fastjson.TypeString:
		n, err := strconv.ParseInt(strings.TrimSpace(string(v.GetStringBytes())), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
