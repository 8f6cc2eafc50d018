package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/DK-com2/GPV-gif/internal/anim"
	"github.com/DK-com2/GPV-gif/internal/fetch"
	"github.com/DK-com2/GPV-gif/internal/forecast"
	"github.com/DK-com2/GPV-gif/internal/grid"
	"github.com/DK-com2/GPV-gif/internal/render"
	"github.com/DK-com2/GPV-gif/internal/update"
)

var testRunHours = []int{0, 3, 6, 9, 12, 15, 18, 21}

// newTestApp wires routes against a fake pipeline whose acquisition blocks
// until gate closes, keeping cycles in fetching for as long as a test needs.
func newTestApp(gate chan struct{}) (*fiber.App, *update.Updater) {
	pipeline := update.Pipeline{
		Acquire: func(ctx context.Context) (string, forecast.Run, error) {
			if gate != nil {
				<-gate
			}
			return "/tmp/raw.nc", forecast.Run{}, nil
		},
		AcquireRun: func(ctx context.Context, run forecast.Run) (string, error) {
			if gate != nil {
				<-gate
			}
			return "/tmp/raw.nc", nil
		},
		Decode: func(path string) (*grid.LayerSeries, error) {
			return &grid.LayerSeries{Upper: make([][][]float64, 1)}, nil
		},
		Render: func(series *grid.LayerSeries, run forecast.Run) (map[render.Variant][]render.Frame, error) {
			return nil, nil
		},
		Assemble: func(frames map[render.Variant][]render.Frame) ([]anim.Artifact, error) {
			return nil, nil
		},
	}
	updater := update.New(pipeline)

	app := fiber.New()
	RegisterRoutes(app, updater, fetch.NewHistory(10), testRunHours)
	return app, updater
}

func TestStatusEndpoint(t *testing.T) {
	app, _ := newTestApp(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Phase string `json:"phase"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Phase != "idle" {
		t.Errorf("phase = %q, want idle", body.Phase)
	}
}

func TestRefreshSingleFlightResponses(t *testing.T) {
	gate := make(chan struct{})
	app, _ := newTestApp(gate)
	defer close(gate)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first refresh status = %d, want 202", resp.StatusCode)
	}

	// The cycle is parked at the gate; a second request must be rejected.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second refresh status = %d, want 409", resp.StatusCode)
	}

	var body struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Result != "already-running" {
		t.Errorf("result = %q, want already-running", body.Result)
	}
}

func TestRefreshManualValidation(t *testing.T) {
	app, _ := newTestApp(nil)

	cases := []string{
		"/api/v1/refresh?date=20250601",         // hour missing
		"/api/v1/refresh?hour=3",                // date missing
		"/api/v1/refresh?date=2025-06&hour=3",   // malformed date
		"/api/v1/refresh?date=20250601&hour=4",  // hour not in configured set
		"/api/v1/refresh?date=20250601&hour=xx", // non-numeric hour
	}
	for _, target := range cases {
		req := httptest.NewRequest(http.MethodPost, target, nil)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, resp.StatusCode)
		}
	}
}

func TestRefreshManualAccepted(t *testing.T) {
	app, updater := newTestApp(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/refresh?date=20250601&hour=3", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := updater.Status(); s.Phase == update.PhaseDone || s.Phase == update.PhaseFailed {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("manual cycle never finished")
}

func TestAttemptsEndpoint(t *testing.T) {
	history := fetch.NewHistory(10)
	history.Append(fetch.Attempt{Filename: "MSM2025060100S.nc", Outcome: fetch.OutcomeSuccess, Bytes: 42})

	app := fiber.New()
	RegisterRoutes(app, update.New(update.Pipeline{}), history, testRunHours)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/attempts?limit=5", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Attempts []fetch.Attempt `json:"attempts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Attempts) != 1 || body.Attempts[0].Filename != "MSM2025060100S.nc" {
		t.Errorf("attempts = %+v", body.Attempts)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/attempts?limit=-1", nil)
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative limit status = %d, want 400", resp.StatusCode)
	}
}
