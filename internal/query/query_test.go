package query

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

var hcm = time.FixedZone("ICT", 7*3600)

func TestBuild_Validation(t *testing.T) {
	now := time.Date(2024, 1, 3, 10, 30, 0, 0, hcm)

	tests := []struct {
		name  string
		form  Form
		field string
	}{
		{"missing place", Form{FromDateTime: "2024-01-01T00:00"}, FieldPlace},
		{"blank place", Form{PlaceID: "   "}, FieldPlace},
		{"inverted range", Form{PlaceID: "p1", FromDateTime: "2024-01-02T00:00", ToDateTime: "2024-01-01T00:00"}, FieldRange},
		{"bad from", Form{PlaceID: "p1", FromDateTime: "yesterday"}, FieldFrom},
		{"bad to", Form{PlaceID: "p1", ToDateTime: "2024-13-01T00:00"}, FieldTo},
		{"from in the future", Form{PlaceID: "p1", FromDateTime: "2024-01-04T00:00"}, FieldRange},
		{"to before today", Form{PlaceID: "p1", ToDateTime: "2024-01-02T23:59"}, FieldRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.form, now, hcm)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("expected field %q, got %q", tt.field, verr.Field)
			}
		})
	}
}

func TestBuild_Defaults(t *testing.T) {
	now := time.Date(2024, 1, 3, 10, 30, 15, 0, hcm)

	built, err := Build(Form{PlaceID: "p1"}, now, hcm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := built.Descriptor
	wantFrom := time.Date(2024, 1, 3, 0, 0, 0, 0, hcm).UnixMilli()
	if d.FromMs != wantFrom {
		t.Errorf("expected from %d, got %d", wantFrom, d.FromMs)
	}
	if d.ToMs != now.UnixMilli() {
		t.Errorf("expected to %d, got %d", now.UnixMilli(), d.ToMs)
	}
	if d.FromMs > d.ToMs {
		t.Error("from must not exceed to")
	}
	if d.DeviceID != "" {
		t.Errorf("expected no device, got %q", d.DeviceID)
	}
}

func TestBuild_ExplicitRange(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, hcm)
	form := Form{
		PlaceID:      " 42 ",
		DeviceID:     "cam-7",
		FromDateTime: "2024-01-01T08:00",
		ToDateTime:   "2024-01-01T17:30:45",
	}

	built, err := Build(form, now, hcm)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := built.Descriptor
	if d.PlaceID != "42" || d.DeviceID != "cam-7" {
		t.Errorf("unexpected ids: %+v", d)
	}
	if want := time.Date(2024, 1, 1, 8, 0, 0, 0, hcm).UnixMilli(); d.FromMs != want {
		t.Errorf("expected from %d, got %d", want, d.FromMs)
	}
	if want := time.Date(2024, 1, 1, 17, 30, 45, 0, hcm).UnixMilli(); d.ToMs != want {
		t.Errorf("expected to %d, got %d", want, d.ToMs)
	}

	// The rendering is what the client displays, with epoch-ms strings.
	var rendered map[string]string
	if err := json.Unmarshal([]byte(built.Rendering), &rendered); err != nil {
		t.Fatalf("rendering is not JSON: %v", err)
	}
	if rendered["from"] != "1704070800000" {
		t.Errorf("unexpected rendered from %q", rendered["from"])
	}
	if strings.Contains(built.Rendering, "token") {
		t.Error("rendering must not contain the credential")
	}
}

func TestBuild_EqualBounds(t *testing.T) {
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, hcm)
	form := Form{PlaceID: "p1", FromDateTime: "2024-01-01T08:00", ToDateTime: "2024-01-01T08:00"}

	if _, err := Build(form, now, hcm); err != nil {
		t.Fatalf("equal bounds should be accepted: %v", err)
	}
}
