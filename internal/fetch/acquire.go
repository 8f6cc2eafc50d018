package fetch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DK-com2/GPV-gif/internal/common"
	"github.com/DK-com2/GPV-gif/internal/forecast"
)

// CandidateFailure records why one candidate run could not be acquired.
type CandidateFailure struct {
	Run forecast.Run
	Err error
}

// AcquisitionError is returned when every candidate in the fallback chain
// failed. Failures are ordered newest candidate first.
type AcquisitionError struct {
	Failures []CandidateFailure
}

func (e *AcquisitionError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Run, f.Err))
	}
	return fmt.Sprintf("no candidate run could be acquired (tried %d): %s",
		len(e.Failures), strings.Join(parts, "; "))
}

// Newest returns the failure of the newest candidate, the one an operator
// most likely cares about.
func (e *AcquisitionError) Newest() CandidateFailure {
	return e.Failures[0]
}

// Acquirer walks the resolver's candidate chain, fetching the newest
// run that the archive actually has, and keeps the raw directory at exactly
// one retained file.
type Acquirer struct {
	Resolver forecast.Resolver
	Fetcher  *Fetcher
	RawDir   string

	// Now is the clock, overridable in tests. Nil means time.Now.
	Now func() time.Time
}

func (a *Acquirer) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Acquire returns the path of the newest fetchable run's file. The newest
// nominal run is often not published yet; a 404 there is the normal case
// that the fallback chain exists for, not an error worth retrying.
func (a *Acquirer) Acquire(ctx context.Context) (string, forecast.Run, error) {
	candidates := a.Resolver.Candidates(a.now())

	var failures []CandidateFailure
	for _, run := range candidates {
		if path, ok := a.existing(ctx, run); ok {
			log.Printf("acquire: reusing already-downloaded %s", run.Filename())
			a.retain(run)
			return path, run, nil
		}

		path, err := a.Fetcher.Fetch(ctx, run)
		if err == nil {
			a.retain(run)
			return path, run, nil
		}
		failures = append(failures, CandidateFailure{Run: run, Err: err})

		if ctx.Err() != nil {
			break
		}
		if IsNotYetPublished(err) {
			log.Printf("acquire: %s not yet published, falling back", run)
		}
	}
	return "", forecast.Run{}, &AcquisitionError{Failures: failures}
}

// AcquireRun fetches one explicit run (manual mode), bypassing resolution
// but applying the same retention policy.
func (a *Acquirer) AcquireRun(ctx context.Context, run forecast.Run) (string, error) {
	if path, ok := a.existing(ctx, run); ok {
		log.Printf("acquire: reusing already-downloaded %s", run.Filename())
		a.retain(run)
		return path, nil
	}
	path, err := a.Fetcher.Fetch(ctx, run)
	if err != nil {
		return "", err
	}
	a.retain(run)
	return path, nil
}

// existing reports whether the run's file is already present with the size
// the archive advertises for it. A HEAD failure or a size mismatch means the
// local copy cannot be trusted, so the caller falls through to a fresh fetch
// that replaces it.
func (a *Acquirer) existing(ctx context.Context, run forecast.Run) (string, bool) {
	path := filepath.Join(a.RawDir, run.Filename())
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return "", false
	}
	remote, err := a.Fetcher.RemoteSize(ctx, run)
	if err != nil {
		return "", false
	}
	if remote >= 0 && remote != info.Size() {
		log.Printf("acquire: %s is %d bytes locally but %d on the archive, re-downloading",
			run.Filename(), info.Size(), remote)
		return "", false
	}
	return path, true
}

// retain enforces the single-slot cache: every raw file other than keep's is
// deleted. Only called after keep's file has been fully validated.
func (a *Acquirer) retain(keep forecast.Run) {
	entries, err := os.ReadDir(a.RawDir)
	if err != nil {
		log.Printf("acquire: cleanup skipped: %v", err)
		return
	}

	var freed int64
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == keep.Filename() {
			continue
		}
		if _, ok := forecast.ParseFilename(entry.Name()); !ok {
			continue
		}
		path := filepath.Join(a.RawDir, entry.Name())
		if info, err := entry.Info(); err == nil {
			freed += info.Size()
		}
		if err := os.Remove(path); err != nil {
			log.Printf("acquire: could not delete superseded %s: %v", entry.Name(), err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		log.Printf("acquire: removed %d superseded file(s), freed %s", deleted, common.FormatBytes(freed))
	}
}
