package downloader

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndelvalle/papertrail-downloader/pkg/timerange"
)

// mockArchiveServer serves archives whose content is derived from the
// requested hour and fails the hours listed in failing.
type mockArchiveServer struct {
	*httptest.Server

	mu      sync.Mutex
	paths   []string
	failing map[string]bool
}

func newMockArchiveServer(t *testing.T, failing ...string) *mockArchiveServer {
	t.Helper()

	m := &mockArchiveServer{failing: make(map[string]bool)}
	for _, f := range failing {
		m.failing[f] = true
	}

	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.paths = append(m.paths, r.URL.Path)
		m.mu.Unlock()

		if r.Header.Get(TokenHeader) != "token" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("missing token"))
			return
		}

		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/archives/"), "/download")
		if m.failing[name] {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("archive " + name + " is unavailable"))
			return
		}
		w.Write([]byte("archive-content-" + name))
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *mockArchiveServer) requested() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := append([]string(nil), m.paths...)
	sort.Strings(paths)
	return paths
}

func newTestDownloader(serverURL, dir string, cfg Config, opts ...Option) *Downloader {
	cfg.BaseURL = serverURL
	cfg.Token = "token"
	cfg.OutputDir = dir
	cfg.ProgressOutput = io.Discard
	return NewDownloader(cfg, opts...)
}

func listDir(t *testing.T, dir string) map[string]string {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	files := make(map[string]string, len(entries))
	for _, e := range entries {
		content, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		files[e.Name()] = string(content)
	}
	return files
}

func threeHours() timerange.Range {
	return timerange.New(
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 1, 3, 0, 0, 0, time.UTC),
	)
}

func TestDownloadThreeHours(t *testing.T) {
	server := newMockArchiveServer(t)
	dir := t.TempDir()

	d := newTestDownloader(server.URL, dir, Config{})
	summary, err := d.Download(context.Background(), threeHours())
	require.NoError(t, err)
	require.NoError(t, summary.Err())

	assert.Equal(t, []string{
		"/archives/2023-01-01-00/download",
		"/archives/2023-01-01-01/download",
		"/archives/2023-01-01-02/download",
	}, server.requested())

	assert.Equal(t, map[string]string{
		"2023-01-01-00.tsv.gz": "archive-content-2023-01-01-00",
		"2023-01-01-01.tsv.gz": "archive-content-2023-01-01-01",
		"2023-01-01-02.tsv.gz": "archive-content-2023-01-01-02",
	}, listDir(t, dir))

	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Contains(t, summary.String(), "3 archives: 3 downloaded")
}

func TestDownloadFailureIsolation(t *testing.T) {
	server := newMockArchiveServer(t, "2023-01-01-02")
	dir := t.TempDir()

	var mu sync.Mutex
	var outcomes []Outcome
	d := newTestDownloader(server.URL, dir, Config{}, WithHook(func(o Outcome) {
		mu.Lock()
		outcomes = append(outcomes, o)
		mu.Unlock()
	}))

	rng := timerange.New(
		time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 1, 5, 0, 0, 0, time.UTC),
	)
	summary, err := d.Download(context.Background(), rng)
	require.NoError(t, err)

	files := listDir(t, dir)
	assert.Len(t, files, 4)
	for _, name := range []string{"2023-01-01-00", "2023-01-01-01", "2023-01-01-03", "2023-01-01-04"} {
		assert.Contains(t, files, name+".tsv.gz")
	}
	assert.NotContains(t, files, "2023-01-01-02.tsv.gz")

	assert.Len(t, outcomes, 5)
	assert.Equal(t, 4, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	var statusErr *StatusError
	require.True(t, errors.As(summary.Failures[0].Err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, "archive 2023-01-01-02 is unavailable", statusErr.Body)
	assert.Error(t, summary.Err())
}

func TestDownloadHookField(t *testing.T) {
	server := newMockArchiveServer(t)
	dir := t.TempDir()

	var mu sync.Mutex
	var names []string
	d := newTestDownloader(server.URL, dir, Config{})
	d.Hook = func(o Outcome) {
		mu.Lock()
		names = append(names, o.Name())
		mu.Unlock()
	}

	_, err := d.Download(context.Background(), threeHours())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"2023-01-01-00", "2023-01-01-01", "2023-01-01-02"}, names)
}

func TestDownloadIdempotent(t *testing.T) {
	server := newMockArchiveServer(t)
	dir := t.TempDir()

	d := newTestDownloader(server.URL, dir, Config{Concurrency: 2})

	_, err := d.Download(context.Background(), threeHours())
	require.NoError(t, err)
	first := listDir(t, dir)

	_, err = d.Download(context.Background(), threeHours())
	require.NoError(t, err)
	second := listDir(t, dir)

	assert.Equal(t, first, second)
	assert.Len(t, server.requested(), 6)
}

func TestDownloadSkipExisting(t *testing.T) {
	server := newMockArchiveServer(t)
	dir := t.TempDir()

	_, err := newTestDownloader(server.URL, dir, Config{}).Download(context.Background(), threeHours())
	require.NoError(t, err)

	d := newTestDownloader(server.URL, dir, Config{SkipExisting: true})
	summary, err := d.Download(context.Background(), threeHours())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, 0, summary.Succeeded)
	assert.Len(t, server.requested(), 3, "second run must not hit the API")
}

func TestDownloadEmptyRange(t *testing.T) {
	server := newMockArchiveServer(t)
	dir := filepath.Join(t.TempDir(), "out")

	d := newTestDownloader(server.URL, dir, Config{})

	for _, rng := range []timerange.Range{
		timerange.New(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)),
		timerange.New(time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)),
	} {
		summary, err := d.Download(context.Background(), rng)
		require.NoError(t, err)
		assert.Equal(t, 0, summary.Total)
	}

	assert.Empty(t, server.requested())
	assert.NoDirExists(t, dir)
}

func TestDownloadCreatesOutputDir(t *testing.T) {
	server := newMockArchiveServer(t)
	dir := filepath.Join(t.TempDir(), "a", "b")

	_, err := newTestDownloader(server.URL, dir, Config{}).Download(context.Background(), threeHours())
	require.NoError(t, err)
	assert.Len(t, listDir(t, dir), 3)
}

func TestDownloadCancelled(t *testing.T) {
	server := newMockArchiveServer(t)
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := newTestDownloader(server.URL, dir, Config{}).Download(ctx, threeHours())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, summary.Failed)
	assert.Empty(t, listDir(t, dir))
}

func TestDownloadWithFetcher(t *testing.T) {
	f := newFakeFetcher()
	d := NewDownloader(Config{OutputDir: t.TempDir(), ProgressOutput: io.Discard}, WithFetcher(f))

	summary, err := d.Download(context.Background(), threeHours())
	require.NoError(t, err)
	assert.Equal(t, 3, f.callCount())
	assert.Equal(t, 3, summary.Succeeded)
}

func TestNewDownloaderDefaults(t *testing.T) {
	d := NewDownloader(Config{})

	cfg := d.Config()
	assert.Equal(t, DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.Equal(t, ".", d.Store().Dir())
	assert.Equal(t, 0, cfg.RetryMax)
}
