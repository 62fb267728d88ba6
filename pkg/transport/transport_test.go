package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// flakyHandler fails the first failures requests and then serves the body.
type flakyHandler struct {
	failures int
	body     []byte
	hits     int
}

func (h *flakyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.hits++
	if h.hits <= h.failures {
		http.Error(w, "temporarily unavailable", http.StatusInternalServerError)
		return
	}
	w.Write(h.body)
}

func TestFetchFirstAttempt(t *testing.T) {
	require := require.New(t)
	h := &flakyHandler{body: []byte("payload")}
	srv := httptest.NewServer(h)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.xpt")
	res := NewFetcher(srv.Client()).Fetch(context.Background(), srv.URL, dest)
	require.Equal(Success, res.Status)
	require.Equal(1, res.Attempts)
	require.NoError(res.AsError(srv.URL))

	got, err := os.ReadFile(dest)
	require.NoError(err)
	require.Equal([]byte("payload"), got)
}

func TestFetchRecoversWithinBudget(t *testing.T) {
	require := require.New(t)
	h := &flakyHandler{failures: 3, body: []byte("payload")}
	srv := httptest.NewServer(h)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.xpt")
	res := NewFetcher(srv.Client()).Fetch(context.Background(), srv.URL, dest)
	require.Equal(Success, res.Status)
	require.Equal(4, res.Attempts)
	require.Equal(4, h.hits)
}

func TestFetchExhausted(t *testing.T) {
	require := require.New(t)
	h := &flakyHandler{failures: 100}
	srv := httptest.NewServer(h)
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out.xpt")
	res := NewFetcher(srv.Client()).Fetch(context.Background(), srv.URL, dest)
	require.True(res.Exhausted())
	require.Equal(DefaultMaxAttempts, res.Attempts)
	require.Equal(DefaultMaxAttempts, h.hits, "attempt budget is a hard cap")
	require.Error(res.Err)

	// No partial file is left behind.
	_, err := os.Stat(dest)
	require.True(os.IsNotExist(err))

	asErr := res.AsError(srv.URL)
	require.Error(asErr)
	var ex *ExhaustedError
	require.ErrorAs(asErr, &ex)
	require.Equal(srv.URL, ex.URL)
	require.Equal(DefaultMaxAttempts, ex.Attempts)
}

func TestFetchContextCancel(t *testing.T) {
	require := require.New(t)
	h := &flakyHandler{failures: 100}
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dest := filepath.Join(t.TempDir(), "out.xpt")
	res := NewFetcher(srv.Client()).Fetch(ctx, srv.URL, dest)
	require.True(res.Exhausted())
	require.Equal(1, res.Attempts, "cancellation stops the loop")
}

func TestFetchCustomBudget(t *testing.T) {
	require := require.New(t)
	h := &flakyHandler{failures: 100}
	srv := httptest.NewServer(h)
	defer srv.Close()

	f := NewFetcher(srv.Client())
	f.MaxAttempts = 2
	res := f.Fetch(context.Background(), srv.URL, filepath.Join(t.TempDir(), "out.xpt"))
	require.True(res.Exhausted())
	require.Equal(2, res.Attempts)
}
