package fetch

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/DK-com2/GPV-gif/internal/common"
	"github.com/DK-com2/GPV-gif/internal/forecast"
)

// Outcome classifies a single retrieval attempt.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeNotFound     Outcome = "not_found"
	OutcomeHTTPError    Outcome = "http_error"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeNetworkError Outcome = "network_error"
	OutcomeSizeMismatch Outcome = "size_mismatch"
)

// Attempt is one append-only record of a fetch attempt. Attempts are never
// mutated after being recorded.
type Attempt struct {
	Run        forecast.Run `json:"run"`
	Filename   string       `json:"filename"`
	Timestamp  time.Time    `json:"timestamp"`
	Outcome    Outcome      `json:"outcome"`
	HTTPStatus int          `json:"httpStatus,omitempty"`
	Bytes      int64        `json:"bytes,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// History is a concurrency-safe bounded in-memory record of recent attempts,
// newest last. It backs the attempts API endpoint.
type History struct {
	mu         sync.RWMutex
	attempts   []Attempt
	maxHistory int
}

// NewHistory creates a History keeping at most maxHistory entries.
// maxHistory <= 0 means unlimited.
func NewHistory(maxHistory int) *History {
	return &History{maxHistory: maxHistory}
}

// Append records an attempt and enforces retention by count.
func (h *History) Append(a Attempt) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.attempts = append(h.attempts, a)
	if h.maxHistory > 0 && len(h.attempts) > h.maxHistory {
		over := len(h.attempts) - h.maxHistory
		h.attempts = h.attempts[over:]
	}
}

// Recent returns up to n attempts, newest first. n <= 0 returns all.
func (h *History) Recent(n int) []Attempt {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > len(h.attempts) {
		n = len(h.attempts)
	}
	out := make([]Attempt, 0, n)
	for i := len(h.attempts) - 1; i >= len(h.attempts)-n; i-- {
		out = append(out, h.attempts[i])
	}
	return out
}

// AttemptLog appends one structured line per attempt to a log file:
//
//	2025-06-01 05:30:12 | SUCCESS | MSM2025060100S.nc | 189.2MB
//	2025-06-01 05:32:40 | FAILED  | MSM2025060103S.nc | not_found: status 404
type AttemptLog struct {
	path string
}

// NewAttemptLog creates the log directory if needed and returns the logger.
// An empty path disables file logging.
func NewAttemptLog(path string) (*AttemptLog, error) {
	if path == "" {
		return &AttemptLog{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	return &AttemptLog{path: path}, nil
}

// Record appends the attempt to the log file. Logging failures are reported
// but never fail the attempt itself.
func (l *AttemptLog) Record(a Attempt) {
	if l == nil || l.path == "" {
		return
	}

	status := "SUCCESS"
	detail := common.FormatBytes(a.Bytes)
	if a.Outcome != OutcomeSuccess {
		status = "FAILED "
		detail = string(a.Outcome)
		switch {
		case a.Error != "":
			detail += ": " + a.Error
		case a.HTTPStatus != 0:
			detail += fmt.Sprintf(": status %d", a.HTTPStatus)
		}
	}
	line := fmt.Sprintf("%s | %s | %s | %s\n",
		a.Timestamp.UTC().Format("2006-01-02 15:04:05"), status, a.Filename, detail)

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("fetch: could not open attempt log: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		log.Printf("fetch: could not write attempt log: %v", err)
	}
}
