package update

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DK-com2/GPV-gif/internal/anim"
	"github.com/DK-com2/GPV-gif/internal/fetch"
	"github.com/DK-com2/GPV-gif/internal/forecast"
	"github.com/DK-com2/GPV-gif/internal/grid"
	"github.com/DK-com2/GPV-gif/internal/render"
)

// Phase is the state of the refresh cycle state machine.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseFetching  Phase = "fetching"
	PhaseRendering Phase = "rendering"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
)

// ErrorKind classifies a failed cycle so operators can tell "try again
// later" from "needs manual cleanup" from "rendering bug".
type ErrorKind string

const (
	ErrKindNotYetPublished ErrorKind = "not_yet_published"
	ErrKindAcquisition     ErrorKind = "acquisition_failed"
	ErrKindDecode          ErrorKind = "decode_error"
	ErrKindRender          ErrorKind = "render_error"
	ErrKindAssemble        ErrorKind = "assemble_error"
	ErrKindPanic           ErrorKind = "panic"
)

// Status is the queryable snapshot of the refresh state machine. It is
// terminal at done/failed until the next cycle begins.
type Status struct {
	Phase         Phase           `json:"phase"`
	CycleID       string          `json:"cycleId,omitempty"`
	CurrentRun    string          `json:"currentRun,omitempty"`
	StartedAt     *time.Time      `json:"startedAt,omitempty"`
	FinishedAt    *time.Time      `json:"finishedAt,omitempty"`
	LastErrorKind ErrorKind       `json:"lastErrorKind,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
	Artifacts     []anim.Artifact `json:"artifacts,omitempty"`
}

// TriggerResult is the answer to a refresh request.
type TriggerResult string

const (
	TriggerAccepted TriggerResult = "accepted"
	TriggerBusy     TriggerResult = "already-running"
)

// Pipeline provides the cycle stages. Function fields keep the updater
// decoupled from the concrete acquisition and rendering machinery and make
// each stage trivial to fake in tests.
type Pipeline struct {
	Acquire    func(ctx context.Context) (string, forecast.Run, error)
	AcquireRun func(ctx context.Context, run forecast.Run) (string, error)
	Decode     func(path string) (*grid.LayerSeries, error)
	Render     func(series *grid.LayerSeries, run forecast.Run) (map[render.Variant][]render.Frame, error)
	Assemble   func(frames map[render.Variant][]render.Frame) ([]anim.Artifact, error)
}

// Updater coordinates one refresh cycle at a time: acquisition, decoding,
// rendering, and assembly, with the single-flight guarantee and a
// queryable status. All state lives on the struct; there are no package
// globals.
type Updater struct {
	pipeline Pipeline

	mu     sync.Mutex
	busy   bool
	status Status
}

// New creates an idle Updater.
func New(p Pipeline) *Updater {
	return &Updater{
		pipeline: p,
		status:   Status{Phase: PhaseIdle},
	}
}

// Trigger requests a refresh cycle for the currently-expected run. It
// returns immediately: TriggerAccepted when a new cycle started on a
// background goroutine, TriggerBusy when one is already fetching or
// rendering. A running cycle is never queued behind or interrupted.
func (u *Updater) Trigger() TriggerResult {
	return u.start(nil)
}

// TriggerRun requests a refresh cycle for one explicit run, bypassing the
// time resolver (manual mode).
func (u *Updater) TriggerRun(run forecast.Run) TriggerResult {
	return u.start(&run)
}

func (u *Updater) start(run *forecast.Run) TriggerResult {
	u.mu.Lock()
	if u.busy {
		u.mu.Unlock()
		return TriggerBusy
	}
	u.busy = true

	started := time.Now().UTC()
	u.status = Status{
		Phase:     PhaseFetching,
		CycleID:   uuid.NewString(),
		StartedAt: &started,
		// A failed cycle must leave the previous animations serving;
		// carry the artifact list forward until this cycle replaces it.
		Artifacts: u.status.Artifacts,
	}
	id := u.status.CycleID
	u.mu.Unlock()

	log.Printf("updater: cycle %s started", id)
	go u.cycle(run)
	return TriggerAccepted
}

// Status returns an eventually-consistent snapshot without blocking the
// active cycle beyond the brief field copy.
func (u *Updater) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()

	snap := u.status
	snap.Artifacts = append([]anim.Artifact(nil), u.status.Artifacts...)
	return snap
}

// cycle runs the four stages to completion or failure. No cancellation is
// supported mid-cycle; the only timeouts are the fetcher's own.
func (u *Updater) cycle(manual *forecast.Run) {
	defer func() {
		if r := recover(); r != nil {
			u.finish(PhaseFailed, ErrKindPanic, fmt.Sprintf("%v", r), nil, "")
		}
	}()

	ctx := context.Background()

	var (
		path string
		run  forecast.Run
		err  error
	)
	if manual != nil {
		run = *manual
		path, err = u.pipeline.AcquireRun(ctx, run)
	} else {
		path, run, err = u.pipeline.Acquire(ctx)
	}
	if err != nil {
		u.finish(PhaseFailed, acquisitionKind(err), err.Error(), nil, "")
		return
	}

	u.setPhase(PhaseRendering, run.String())

	series, err := u.pipeline.Decode(path)
	if err != nil {
		u.finish(PhaseFailed, ErrKindDecode, err.Error(), nil, run.String())
		return
	}

	frames, err := u.pipeline.Render(series, run)
	if err != nil {
		u.finish(PhaseFailed, ErrKindRender, err.Error(), nil, run.String())
		return
	}

	artifacts, err := u.pipeline.Assemble(frames)
	if err != nil {
		u.finish(PhaseFailed, ErrKindAssemble, err.Error(), artifacts, run.String())
		return
	}

	u.finish(PhaseDone, "", "", artifacts, run.String())
}

func (u *Updater) setPhase(phase Phase, run string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.status.Phase = phase
	u.status.CurrentRun = run
}

// finish records the terminal state and releases the single-flight flag.
// Every cycle exit path, including panics, funnels through here.
func (u *Updater) finish(phase Phase, kind ErrorKind, msg string, artifacts []anim.Artifact, run string) {
	finished := time.Now().UTC()

	u.mu.Lock()
	defer u.mu.Unlock()

	u.status.Phase = phase
	u.status.FinishedAt = &finished
	u.status.LastErrorKind = kind
	u.status.LastError = msg
	if run != "" {
		u.status.CurrentRun = run
	}
	if len(artifacts) > 0 {
		u.status.Artifacts = artifacts
	}
	u.busy = false

	if phase == PhaseDone {
		log.Printf("updater: cycle %s done, run %s, %d artifact(s)", u.status.CycleID, run, len(artifacts))
	} else {
		log.Printf("updater: cycle %s failed (%s): %s", u.status.CycleID, kind, msg)
	}
}

// acquisitionKind distinguishes "the archive simply has nothing new yet"
// from a genuine acquisition failure.
func acquisitionKind(err error) ErrorKind {
	var acqErr *fetch.AcquisitionError
	if errors.As(err, &acqErr) && len(acqErr.Failures) > 0 && fetch.IsNotYetPublished(acqErr.Newest().Err) {
		return ErrKindNotYetPublished
	}
	if fetch.IsNotYetPublished(err) {
		return ErrKindNotYetPublished
	}
	return ErrKindAcquisition
}
