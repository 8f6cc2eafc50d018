package update

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DK-com2/GPV-gif/internal/anim"
	"github.com/DK-com2/GPV-gif/internal/fetch"
	"github.com/DK-com2/GPV-gif/internal/forecast"
	"github.com/DK-com2/GPV-gif/internal/grid"
	"github.com/DK-com2/GPV-gif/internal/render"
)

var testRun = forecast.Run{Date: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), Hour: 0}

// okPipeline returns a pipeline where every stage succeeds instantly.
func okPipeline() Pipeline {
	return Pipeline{
		Acquire: func(ctx context.Context) (string, forecast.Run, error) {
			return "/tmp/raw.nc", testRun, nil
		},
		AcquireRun: func(ctx context.Context, run forecast.Run) (string, error) {
			return "/tmp/raw.nc", nil
		},
		Decode: func(path string) (*grid.LayerSeries, error) {
			return &grid.LayerSeries{Upper: make([][][]float64, 8)}, nil
		},
		Render: func(series *grid.LayerSeries, run forecast.Run) (map[render.Variant][]render.Frame, error) {
			return map[render.Variant][]render.Frame{}, nil
		},
		Assemble: func(frames map[render.Variant][]render.Frame) ([]anim.Artifact, error) {
			return []anim.Artifact{{Variant: render.VariantAll, Path: "cloud_all_layers.gif", Frames: 8}}, nil
		},
	}
}

// waitTerminal polls until the updater leaves the active phases.
func waitTerminal(t *testing.T, u *Updater) Status {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s := u.Status()
		if s.Phase == PhaseDone || s.Phase == PhaseFailed {
			return s
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("cycle did not reach a terminal phase; status %+v", u.Status())
	return Status{}
}

func TestCycleRunsToDone(t *testing.T) {
	u := New(okPipeline())

	if u.Status().Phase != PhaseIdle {
		t.Fatalf("initial phase = %s, want idle", u.Status().Phase)
	}
	if got := u.Trigger(); got != TriggerAccepted {
		t.Fatalf("Trigger = %s, want accepted", got)
	}

	s := waitTerminal(t, u)
	if s.Phase != PhaseDone {
		t.Fatalf("phase = %s, want done (err %s)", s.Phase, s.LastError)
	}
	if s.CurrentRun != testRun.String() {
		t.Errorf("current run = %q, want %q", s.CurrentRun, testRun.String())
	}
	if s.StartedAt == nil || s.FinishedAt == nil {
		t.Error("timestamps not recorded")
	}
	if len(s.Artifacts) != 1 {
		t.Errorf("artifacts = %v", s.Artifacts)
	}
	if s.CycleID == "" {
		t.Error("cycle id not set")
	}
}

func TestSingleFlight(t *testing.T) {
	gate := make(chan struct{})
	p := okPipeline()
	p.Acquire = func(ctx context.Context) (string, forecast.Run, error) {
		<-gate
		return "/tmp/raw.nc", testRun, nil
	}
	u := New(p)

	if got := u.Trigger(); got != TriggerAccepted {
		t.Fatalf("first Trigger = %s", got)
	}
	// The first cycle is parked in fetching; a second request must be
	// rejected, not queued.
	if got := u.Trigger(); got != TriggerBusy {
		t.Fatalf("second Trigger = %s, want already-running", got)
	}
	if s := u.Status(); s.Phase != PhaseFetching {
		t.Errorf("phase during cycle = %s, want fetching", s.Phase)
	}

	close(gate)
	s := waitTerminal(t, u)
	if s.Phase != PhaseDone {
		t.Fatalf("phase = %s, want done", s.Phase)
	}

	// Terminal state accepts a fresh cycle again.
	gate = make(chan struct{})
	close(gate)
	if got := u.Trigger(); got != TriggerAccepted {
		t.Errorf("Trigger after done = %s, want accepted", got)
	}
	waitTerminal(t, u)
}

func TestFailedAcquisitionKeepsArtifacts(t *testing.T) {
	p := okPipeline()
	u := New(p)

	u.Trigger()
	first := waitTerminal(t, u)
	if len(first.Artifacts) != 1 {
		t.Fatalf("setup cycle produced no artifacts")
	}

	u.pipeline.Acquire = func(ctx context.Context) (string, forecast.Run, error) {
		return "", forecast.Run{}, &fetch.AcquisitionError{Failures: []fetch.CandidateFailure{
			{Run: testRun, Err: &fetch.Error{Run: testRun, Outcome: fetch.OutcomeNotFound, Status: 404}},
		}}
	}
	u.Trigger()
	s := waitTerminal(t, u)

	if s.Phase != PhaseFailed {
		t.Fatalf("phase = %s, want failed", s.Phase)
	}
	if s.LastErrorKind != ErrKindNotYetPublished {
		t.Errorf("error kind = %s, want not_yet_published", s.LastErrorKind)
	}
	if len(s.Artifacts) != 1 {
		t.Errorf("previous artifacts were dropped: %v", s.Artifacts)
	}
}

func TestDecodeFailureIsTerminal(t *testing.T) {
	p := okPipeline()
	p.Decode = func(path string) (*grid.LayerSeries, error) {
		return nil, &grid.DecodeError{Msg: "missing cloud variable ncld_mid"}
	}
	u := New(p)

	u.Trigger()
	s := waitTerminal(t, u)
	if s.Phase != PhaseFailed || s.LastErrorKind != ErrKindDecode {
		t.Errorf("status = %s/%s, want failed/decode_error", s.Phase, s.LastErrorKind)
	}
}

func TestRenderFailureAbortsCycle(t *testing.T) {
	assembled := false
	p := okPipeline()
	p.Render = func(series *grid.LayerSeries, run forecast.Run) (map[render.Variant][]render.Frame, error) {
		return nil, fmt.Errorf("draw failed")
	}
	p.Assemble = func(frames map[render.Variant][]render.Frame) ([]anim.Artifact, error) {
		assembled = true
		return nil, nil
	}
	u := New(p)

	u.Trigger()
	s := waitTerminal(t, u)
	if s.Phase != PhaseFailed || s.LastErrorKind != ErrKindRender {
		t.Errorf("status = %s/%s, want failed/render_error", s.Phase, s.LastErrorKind)
	}
	if assembled {
		t.Error("assembler must not run after a render failure")
	}
}

func TestPanicInStageReleasesFlag(t *testing.T) {
	p := okPipeline()
	p.Render = func(series *grid.LayerSeries, run forecast.Run) (map[render.Variant][]render.Frame, error) {
		panic("boom")
	}
	u := New(p)

	u.Trigger()
	s := waitTerminal(t, u)
	if s.Phase != PhaseFailed || s.LastErrorKind != ErrKindPanic {
		t.Fatalf("status = %s/%s, want failed/panic", s.Phase, s.LastErrorKind)
	}

	// The flag must have been released: a new cycle starts.
	p2 := okPipeline()
	u.pipeline = p2
	if got := u.Trigger(); got != TriggerAccepted {
		t.Errorf("Trigger after panic = %s, want accepted", got)
	}
	waitTerminal(t, u)
}

func TestManualRunTrigger(t *testing.T) {
	var gotRun forecast.Run
	p := okPipeline()
	p.AcquireRun = func(ctx context.Context, run forecast.Run) (string, error) {
		gotRun = run
		return "/tmp/raw.nc", nil
	}
	u := New(p)

	manual := forecast.Run{Date: time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC), Hour: 12}
	if got := u.TriggerRun(manual); got != TriggerAccepted {
		t.Fatalf("TriggerRun = %s", got)
	}
	s := waitTerminal(t, u)
	if s.Phase != PhaseDone {
		t.Fatalf("phase = %s", s.Phase)
	}
	if gotRun != manual {
		t.Errorf("acquired run = %s, want %s", gotRun, manual)
	}
}

func TestManualFetchErrorKind(t *testing.T) {
	p := okPipeline()
	p.AcquireRun = func(ctx context.Context, run forecast.Run) (string, error) {
		return "", errors.New("disk full")
	}
	u := New(p)

	u.TriggerRun(testRun)
	s := waitTerminal(t, u)
	if s.LastErrorKind != ErrKindAcquisition {
		t.Errorf("error kind = %s, want acquisition_failed", s.LastErrorKind)
	}
}
