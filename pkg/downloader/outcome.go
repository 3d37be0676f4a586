package downloader

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/inhies/go-bytesize"
	"github.com/pkg/errors"

	"github.com/ndelvalle/papertrail-downloader/pkg/timerange"
)

// maxDiagnosticBytes caps how much of an error response body is kept.
const maxDiagnosticBytes = 4 * 1024

// StatusError is the failure reported for a non-2xx archive response.
type StatusError struct {
	Hour       time.Time
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("archive %s: unexpected status %d", timerange.Format(e.Hour), e.StatusCode)
	}
	return fmt.Sprintf("archive %s: unexpected status %d: %s", timerange.Format(e.Hour), e.StatusCode, body)
}

// Outcome is the terminal result of one hour. A nil Err means success.
type Outcome struct {
	Hour     time.Time
	Path     string
	Bytes    int64
	Skipped  bool
	Duration time.Duration
	Err      error
}

// Success reports whether the hour was downloaded or skipped.
func (o Outcome) Success() bool {
	return o.Err == nil
}

// Name returns the hour in archive naming form, e.g. 2023-01-01-02.
func (o Outcome) Name() string {
	return timerange.Format(o.Hour)
}

// Summary aggregates the outcomes of a run.
type Summary struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
	Bytes     int64
	Duration  time.Duration
	Failures  []Outcome
}

func (s *Summary) add(o Outcome) {
	switch {
	case !o.Success():
		s.Failed++
		s.Failures = append(s.Failures, o)
	case o.Skipped:
		s.Skipped++
	default:
		s.Succeeded++
		s.Bytes += o.Bytes
	}
}

func (s *Summary) sortFailures() {
	sort.Slice(s.Failures, func(i, j int) bool {
		return s.Failures[i].Hour.Before(s.Failures[j].Hour)
	})
}

// Err returns a non-nil error when at least one hour failed.
func (s Summary) Err() error {
	if s.Failed == 0 {
		return nil
	}
	names := make([]string, 0, len(s.Failures))
	for _, f := range s.Failures {
		names = append(names, f.Name())
	}
	return errors.Errorf("%d of %d archives failed: %s", s.Failed, s.Total, strings.Join(names, ", "))
}

// String returns a one-line description of the run.
func (s Summary) String() string {
	return fmt.Sprintf("%d archives: %d downloaded (%s), %d skipped, %d failed in %s",
		s.Total, s.Succeeded, bytesize.New(float64(s.Bytes)), s.Skipped, s.Failed, s.Duration.Round(time.Millisecond))
}
