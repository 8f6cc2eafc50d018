package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sony/gobreaker"

	"github.com/DK-com2/GPV-gif/internal/common"
	"github.com/DK-com2/GPV-gif/internal/forecast"
)

// Error is the terminal result of a failed fetch, carrying the last
// attempt's classification so callers can decide between fallback and
// giving up.
type Error struct {
	Run     forecast.Run
	Outcome Outcome
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.Run, e.Outcome, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.Run, e.Outcome, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.Run, e.Outcome)
}

func (e *Error) Unwrap() error { return e.Err }

// IsNotYetPublished reports whether err is a fetch failure caused by the
// archive not yet carrying the requested run (manifests as HTTP 404).
func IsNotYetPublished(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Outcome == OutcomeNotFound
}

// Options configures a Fetcher.
type Options struct {
	BaseURL    string
	RawDir     string
	UserAgent  string
	MaxRetries int           // attempts per run, >= 1
	RetryDelay time.Duration // flat delay between attempts; the archive rate limits, so no exponential growth
}

// Fetcher downloads one run's NetCDF file into the raw data directory.
// Writes go to a temporary file first and are renamed into place only after
// validation, so the canonical path never holds a partial download.
type Fetcher struct {
	opts    Options
	client  *http.Client
	circuit *gobreaker.CircuitBreaker
	logFile *AttemptLog
	history *History
}

// NewFetcher creates a Fetcher sharing the given HTTP client. Attempts are
// recorded to both the file log and the in-memory history; either may be nil.
func NewFetcher(client *http.Client, opts Options, logFile *AttemptLog, history *History) *Fetcher {
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gpv-archive",
		MaxRequests: 2,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
	return &Fetcher{
		opts:    opts,
		client:  client,
		circuit: cb,
		logFile: logFile,
		history: history,
	}
}

// Fetch retrieves the file for run, retrying transient failures up to
// MaxRetries times with a flat delay. A 404 is terminal for the run: the
// file is simply not published yet and retrying the same URL will not help.
func (f *Fetcher) Fetch(ctx context.Context, run forecast.Run) (string, error) {
	dest := filepath.Join(f.opts.RawDir, run.Filename())

	if err := os.MkdirAll(f.opts.RawDir, 0o755); err != nil {
		return "", fmt.Errorf("create raw dir: %w", err)
	}

	var last *Error
	for attempt := 1; attempt <= f.opts.MaxRetries; attempt++ {
		size, ferr := f.tryOnce(ctx, run, dest)

		rec := Attempt{
			Run:       run,
			Filename:  run.Filename(),
			Timestamp: time.Now().UTC(),
			Bytes:     size,
		}
		if ferr == nil {
			rec.Outcome = OutcomeSuccess
			f.record(rec)
			log.Printf("fetcher: downloaded %s (%s, attempt %d/%d)",
				run.Filename(), common.FormatBytes(size), attempt, f.opts.MaxRetries)
			return dest, nil
		}

		rec.Outcome = ferr.Outcome
		rec.HTTPStatus = ferr.Status
		if ferr.Err != nil {
			rec.Error = ferr.Err.Error()
		}
		f.record(rec)
		last = ferr

		if terminal(ferr) {
			log.Printf("fetcher: %s failed: %v (not retrying)", run.Filename(), ferr)
			return "", ferr
		}
		log.Printf("fetcher: %s attempt %d/%d failed: %v", run.Filename(), attempt, f.opts.MaxRetries, ferr)

		if attempt < f.opts.MaxRetries {
			timer := time.NewTimer(f.opts.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}
	}
	return "", last
}

// serverError carries a 5xx status through the circuit breaker so the
// attempt record keeps the code.
type serverError struct {
	status int
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server error: status %d", e.status)
}

// terminal reports whether the failure makes further attempts on the same
// run pointless: missing file, client error, or an open circuit breaker.
func terminal(e *Error) bool {
	if e.Outcome == OutcomeNotFound {
		return true
	}
	if e.Outcome == OutcomeHTTPError && e.Status >= 400 && e.Status < 500 {
		return true
	}
	return errors.Is(e.Err, gobreaker.ErrOpenState) || errors.Is(e.Err, gobreaker.ErrTooManyRequests)
}

func (f *Fetcher) record(a Attempt) {
	if f.history != nil {
		f.history.Append(a)
	}
	f.logFile.Record(a)
}

// RemoteSize asks the archive for the run's advertised size without
// downloading the body. Returns -1 when the server sends no Content-Length.
func (f *Fetcher) RemoteSize(ctx context.Context, run forecast.Run) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, run.URL(f.opts.BaseURL), nil)
	if err != nil {
		return 0, err
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("head %s: status %d", run.Filename(), resp.StatusCode)
	}
	return resp.ContentLength, nil
}

// tryOnce performs a single GET and, on success, leaves the validated file
// at dest. The returned size is the downloaded byte count when known.
func (f *Fetcher) tryOnce(ctx context.Context, run forecast.Run, dest string) (int64, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, run.URL(f.opts.BaseURL), nil)
	if err != nil {
		return 0, &Error{Run: run, Outcome: OutcomeNetworkError, Err: err}
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}

	// Transport failures and 5xx count against the breaker; a 404 is an
	// expected outcome (run not yet published) and must not trip it.
	result, err := f.circuit.Execute(func() (interface{}, error) {
		resp, execErr := f.client.Do(req)
		if execErr != nil {
			return nil, execErr
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return nil, &serverError{status: resp.StatusCode}
		}
		return resp, nil
	})
	if err != nil {
		return 0, classifyTransport(run, err)
	}

	resp := result.(*http.Response)
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, &Error{Run: run, Outcome: OutcomeNotFound, Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return 0, &Error{Run: run, Outcome: OutcomeHTTPError, Status: resp.StatusCode}
	}

	tmp, err := os.CreateTemp(f.opts.RawDir, run.Filename()+".tmp-*")
	if err != nil {
		return 0, &Error{Run: run, Outcome: OutcomeNetworkError, Err: err}
	}
	tmpName := tmp.Name()

	n, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		os.Remove(tmpName)
		if copyErr == nil {
			copyErr = closeErr
		}
		return n, classifyTransport(run, copyErr)
	}

	if n == 0 {
		os.Remove(tmpName)
		return 0, &Error{Run: run, Outcome: OutcomeSizeMismatch, Err: errors.New("empty response body")}
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		os.Remove(tmpName)
		return n, &Error{Run: run, Outcome: OutcomeSizeMismatch,
			Err: fmt.Errorf("expected %d bytes, got %d", resp.ContentLength, n)}
	}

	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return n, &Error{Run: run, Outcome: OutcomeNetworkError, Err: err}
	}
	return n, nil
}

func classifyTransport(run forecast.Run, err error) *Error {
	var srv *serverError
	if errors.As(err, &srv) {
		return &Error{Run: run, Outcome: OutcomeHTTPError, Status: srv.status, Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &Error{Run: run, Outcome: OutcomeTimeout, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Run: run, Outcome: OutcomeTimeout, Err: err}
	}
	return &Error{Run: run, Outcome: OutcomeNetworkError, Err: err}
}
