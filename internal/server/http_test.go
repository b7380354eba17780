package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/coffersTech/attendance/internal/model"
	"github.com/coffersTech/attendance/internal/remote"
	"github.com/coffersTech/attendance/internal/session"
)

type stubBackend struct {
	events []model.CheckinEvent
	err    error
}

func (stubBackend) Places(ctx context.Context) ([]model.Place, error) {
	return []model.Place{{ID: "p1", Name: "HQ"}}, nil
}

func (stubBackend) Devices(ctx context.Context, placeID string) ([]model.Device, error) {
	return []model.Device{{DeviceID: "d1", DeviceName: "Gate", PlaceID: placeID}}, nil
}

func (b stubBackend) Checkins(ctx context.Context, d model.QueryDescriptor) ([]model.CheckinEvent, error) {
	return b.events, b.err
}

type viewResponse struct {
	ID             string                          `json:"id"`
	Version        uint64                          `json:"version"`
	Phase          string                          `json:"phase"`
	CanSubmit      bool                            `json:"canSubmit"`
	PlacesPhase    string                          `json:"placesPhase"`
	Places         []model.Place                   `json:"places"`
	Devices        []model.Device                  `json:"devices"`
	SubmitError    string                          `json:"submitError"`
	SuccessMessage string                          `json:"successMessage"`
	QueryString    string                          `json:"queryString"`
	Results        []model.PersonAttendanceSummary `json:"results"`
	Validation     *session.FieldError             `json:"validation"`
}

func newTestServer(t *testing.T, b session.Backend, opts Options) (*httptest.Server, *session.Registry) {
	t.Helper()
	reg := session.NewRegistry(b, session.Options{Location: time.UTC})
	srv := httptest.NewServer(NewAPIServer(reg, opts).Handler())
	t.Cleanup(func() {
		srv.Close()
		reg.CloseAll()
	})
	return srv, reg
}

func call(t *testing.T, method, url, body string, headers ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeView(t *testing.T, resp *http.Response) viewResponse {
	t.Helper()
	defer resp.Body.Close()
	var v viewResponse
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

// openReady opens a session and long-polls until its places are loaded.
func openReady(t *testing.T, base string) viewResponse {
	t.Helper()
	resp := call(t, http.MethodPost, base+"/api/sessions", "")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	v := decodeView(t, resp)
	for v.PlacesPhase != "ready" {
		v = decodeView(t, call(t, http.MethodGet, base+"/api/sessions/"+v.ID+"?wait="+itoa(v.Version), ""))
	}
	return v
}

func itoa(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, stubBackend{}, Options{})

	resp := call(t, http.MethodGet, srv.URL+"/healthz", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a request id")
	}
}

func TestQueryFlow(t *testing.T) {
	b := stubBackend{events: []model.CheckinEvent{
		{PersonID: "A", PersonName: "Alice", Timestamp: 1704070800000},
		{PersonID: "A", PersonName: "Alice", Timestamp: 1704103200000},
	}}
	srv, _ := newTestServer(t, b, Options{Location: time.UTC})

	v := openReady(t, srv.URL)
	if len(v.Places) != 1 || !v.CanSubmit {
		t.Fatalf("unexpected initial view %+v", v)
	}
	base := srv.URL + "/api/sessions/" + v.ID

	// Nothing to export before a query ran.
	resp := call(t, http.MethodGet, base+"/export.xlsx", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", resp.StatusCode)
	}

	v = decodeView(t, call(t, http.MethodPost, base+"/place", `{"placeId":"p1"}`))
	if v.Phase != "ready" {
		t.Errorf("unexpected phase %s", v.Phase)
	}
	decodeView(t, call(t, http.MethodPost, base+"/range", `{"from":"2024-01-01T00:00","to":"2024-01-02T00:00"}`))

	resp = call(t, http.MethodPost, base+"/submit", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	v = decodeView(t, resp)
	for v.Phase != "success" {
		v = decodeView(t, call(t, http.MethodGet, base+"?wait="+itoa(v.Version), ""))
	}

	if len(v.Results) != 1 || v.Results[0].FirstSeen != 1704070800000 || v.Results[0].LastSeen != 1704103200000 {
		t.Errorf("unexpected results %+v", v.Results)
	}
	if v.SuccessMessage != "Found 1 results." || !strings.Contains(v.QueryString, `"placeID": "p1"`) {
		t.Errorf("unexpected view %+v", v)
	}

	resp = call(t, http.MethodGet, base+"/stats", "")
	var stats map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&stats)
	resp.Body.Close()
	if stats["total_events"] != float64(2) || stats["distinct_people"] != float64(1) {
		t.Errorf("unexpected stats %v", stats)
	}

	resp = call(t, http.MethodGet, base+"/histogram?interval=24h", "")
	var points []map[string]int64
	json.NewDecoder(resp.Body).Decode(&points)
	resp.Body.Close()
	if len(points) != 1 || points[0]["time"] != 1704067200000 || points[0]["count"] != 2 {
		t.Errorf("unexpected histogram %v", points)
	}

	resp = call(t, http.MethodGet, base+"/export.xlsx", "")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("export is not a workbook: %v", err)
	}
	f.Close()
}

func TestQueryError(t *testing.T) {
	srv, _ := newTestServer(t, stubBackend{err: &remote.QueryError{Message: "bad token"}}, Options{})

	v := openReady(t, srv.URL)
	base := srv.URL + "/api/sessions/" + v.ID
	decodeView(t, call(t, http.MethodPost, base+"/place", `{"placeId":"p1"}`))

	v = decodeView(t, call(t, http.MethodPost, base+"/submit", ""))
	for v.Phase == "submitting" {
		v = decodeView(t, call(t, http.MethodGet, base+"?wait="+itoa(v.Version), ""))
	}
	if v.Phase != "submit_error" || v.SubmitError != "bad token" || v.Results != nil {
		t.Errorf("unexpected view %+v", v)
	}
}

func TestValidationBlocked(t *testing.T) {
	srv, _ := newTestServer(t, stubBackend{}, Options{})

	v := openReady(t, srv.URL)
	base := srv.URL + "/api/sessions/" + v.ID
	decodeView(t, call(t, http.MethodPost, base+"/place", `{"placeId":"p1"}`))
	decodeView(t, call(t, http.MethodPost, base+"/range", `{"from":"2024-01-02T00:00","to":"2024-01-01T00:00"}`))

	v = decodeView(t, call(t, http.MethodPost, base+"/submit", ""))
	if v.Phase != "validation_blocked" || v.Validation == nil || v.Validation.Field != "range" {
		t.Errorf("unexpected view %+v", v)
	}
}

func TestErrors(t *testing.T) {
	srv, _ := newTestServer(t, stubBackend{}, Options{})
	v := openReady(t, srv.URL)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown session", http.MethodGet, "/api/sessions/nope", "", http.StatusNotFound},
		{"invalid json", http.MethodPost, "/api/sessions/" + v.ID + "/place", "{", http.StatusBadRequest},
		{"invalid wait", http.MethodGet, "/api/sessions/" + v.ID + "?wait=x", "", http.StatusBadRequest},
		{"invalid interval", http.MethodGet, "/api/sessions/" + v.ID + "/histogram?interval=1s", "", http.StatusBadRequest},
		{"wrong method", http.MethodPut, "/api/sessions/" + v.ID + "/submit", "", http.StatusMethodNotAllowed},
		{"close", http.MethodDelete, "/api/sessions/" + v.ID, "", http.StatusNoContent},
		{"closed", http.MethodDelete, "/api/sessions/" + v.ID, "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, tt.method, srv.URL+tt.path, tt.body)
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestAuthMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sk-dashboard"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	srv, _ := newTestServer(t, stubBackend{}, Options{AccessKeyHash: string(hash)})

	tests := []struct {
		name    string
		headers []string
		status  int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"not bearer", []string{"Authorization", "sk-dashboard"}, http.StatusUnauthorized},
		{"wrong key", []string{"Authorization", "Bearer sk-other"}, http.StatusUnauthorized},
		{"valid", []string{"Authorization", "Bearer sk-dashboard"}, http.StatusCreated},
		{"valid again", []string{"Authorization", "Bearer sk-dashboard"}, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := call(t, http.MethodPost, srv.URL+"/api/sessions", "", tt.headers...)
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("expected %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}

	// Health stays open for probes.
	resp := call(t, http.MethodGet, srv.URL+"/healthz", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected open health endpoint, got %d", resp.StatusCode)
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	reg := session.NewRegistry(stubBackend{}, session.Options{})
	defer reg.CloseAll()
	s := NewAPIServer(reg, Options{})

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := s.Start("127.0.0.1:0"); err != nil {
		t.Errorf("expected a closed server to return cleanly, got %v", err)
	}
}

// blockedPlaces holds the place load until release is closed.
type blockedPlaces struct {
	stubBackend
	release chan struct{}
}

func (b blockedPlaces) Places(ctx context.Context) ([]model.Place, error) {
	select {
	case <-b.release:
		return b.stubBackend.Places(ctx)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestOpenReportsPlacesLoading(t *testing.T) {
	b := blockedPlaces{release: make(chan struct{})}
	defer close(b.release)
	srv, _ := newTestServer(t, b, Options{})

	v := decodeView(t, call(t, http.MethodPost, srv.URL+"/api/sessions", ""))
	if v.Version == 0 || v.PlacesPhase != "loading" || v.CanSubmit {
		t.Errorf("expected the place load in the first snapshot, got %+v", v)
	}
}

func TestAuthMiddleware_Throttle(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sk-dashboard"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	reg := session.NewRegistry(stubBackend{}, session.Options{Location: time.UTC})
	defer reg.CloseAll()

	s := NewAPIServer(reg, Options{AccessKeyHash: string(hash)})
	s.keyCheck = rate.NewLimiter(0, 2) // two compares, never refilled
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	steps := []struct {
		key    string
		status int
	}{
		{"sk-dashboard", http.StatusCreated},
		{"sk-other", http.StatusUnauthorized},
		{"sk-guess", http.StatusTooManyRequests},
		{"sk-dashboard", http.StatusCreated}, // verified keys skip the compare
	}

	for i, st := range steps {
		resp := call(t, http.MethodPost, srv.URL+"/api/sessions", "", "Authorization", "Bearer "+st.key)
		resp.Body.Close()
		if resp.StatusCode != st.status {
			t.Errorf("step %d (%s): expected %d, got %d", i, st.key, st.status, resp.StatusCode)
		}
	}
}
