// Package transport downloads a single remote resource to a local temporary
// location, retrying on transient failure. The upstream server is known to
// fail intermittently and recover immediately, so attempts are not spaced
// out with backoff; exhausting the attempt budget is a reportable status,
// not a hard error.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"
)

// DefaultMaxAttempts bounds the retry loop when the caller does not choose
// a budget.
const DefaultMaxAttempts = 5

// Status is the overall outcome of a Fetch.
type Status int

const (
	// Success means the payload was fully written to the destination.
	Success Status = iota
	// Exhausted means every attempt failed; the destination was not
	// written.
	Exhausted
)

func (s Status) String() string {
	if s == Success {
		return "success"
	}
	return "exhausted"
}

// Result reports what a Fetch did. Callers must check Status: an exhausted
// transfer is a skip, not a panic-worthy defect.
type Result struct {
	Status   Status
	Attempts int
	Err      error // last attempt's failure, nil on success
}

// Exhausted reports whether the transfer ran out of attempts.
func (r Result) Exhausted() bool {
	return r.Status == Exhausted
}

// ExhaustedError carries the failing URL for callers that want the
// non-success status as an error value.
type ExhaustedError struct {
	URL      string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("transfer exhausted after %d attempts: %s: %v", e.Attempts, e.URL, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Err converts a Result into an error for the given URL, or nil on success.
func (r Result) AsError(url string) error {
	if r.Status == Success {
		return nil
	}
	return &ExhaustedError{URL: url, Attempts: r.Attempts, Last: r.Err}
}

// per-attempt outcome
type outcome int

const (
	attemptOK outcome = iota
	attemptTransient
	attemptFatal
)

// Fetcher performs binary-safe transfers with bounded retry.
type Fetcher struct {
	Client      *http.Client
	MaxAttempts int
}

// NewFetcher returns a Fetcher with the default attempt budget.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{Client: client, MaxAttempts: DefaultMaxAttempts}
}

// Fetch transfers url to destPath. The file is written in full or not at
// all: a failed attempt removes the partial file before the next attempt.
// Fetch stops early only on success or when the context is cancelled.
func (f *Fetcher) Fetch(ctx context.Context, url, destPath string) Result {
	max := f.MaxAttempts
	if max <= 0 {
		max = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		out, err := f.attempt(ctx, url, destPath)
		switch out {
		case attemptOK:
			return Result{Status: Success, Attempts: attempt}
		case attemptFatal:
			return Result{Status: Exhausted, Attempts: attempt, Err: err}
		}
		lastErr = err
		log.Warn().Str("url", url).Int("attempt", attempt).Err(err).Msg("transfer failed")
	}
	return Result{Status: Exhausted, Attempts: max, Err: lastErr}
}

func (f *Fetcher) attempt(ctx context.Context, url, destPath string) (outcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return attemptFatal, err
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return attemptFatal, err
		}
		return attemptTransient, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// The upstream intermittently serves error pages for files
		// that exist; every non-200 is retried.
		return attemptTransient, fmt.Errorf("unexpected status %s", resp.Status)
	}

	dest, err := os.Create(destPath)
	if err != nil {
		return attemptFatal, err
	}
	if _, err := io.Copy(dest, resp.Body); err != nil {
		dest.Close()
		os.Remove(destPath)
		return attemptTransient, err
	}
	if err := dest.Close(); err != nil {
		os.Remove(destPath)
		return attemptTransient, err
	}
	return attemptOK, nil
}
