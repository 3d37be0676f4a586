package downloader

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/inhies/go-bytesize"
	"github.com/pkg/errors"

	"github.com/ndelvalle/papertrail-downloader/pkg/archive"
	"github.com/ndelvalle/papertrail-downloader/pkg/timerange"
)

// TokenHeader carries the API token on every archive request.
const TokenHeader = "X-Papertrail-Token"

// ArchiveURL returns the download URL of the archive for hour.
func ArchiveURL(baseURL string, hour time.Time) string {
	return strings.TrimRight(baseURL, "/") + "/archives/" + timerange.Format(hour) + "/download"
}

// Fetcher downloads a single hourly archive.
type Fetcher interface {
	Fetch(ctx context.Context, hour time.Time) Outcome
}

// ArchiveFetcher fetches archives from the Papertrail API into a Store.
type ArchiveFetcher struct {
	client         Doer
	baseURL        string
	token          string
	store          *archive.Store
	copyBufferSize int
	skipExisting   bool
	log            *slog.Logger
}

// NewArchiveFetcher returns a fetcher that requests archives with client
// and writes them to store.
func NewArchiveFetcher(client Doer, store *archive.Store, cfg Config, log *slog.Logger) *ArchiveFetcher {
	cfg.setDefaults()
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &ArchiveFetcher{
		client:         client,
		baseURL:        cfg.BaseURL,
		token:          cfg.Token,
		store:          store,
		copyBufferSize: cfg.CopyBufferSize,
		skipExisting:   cfg.SkipExisting,
		log:            log.With(slog.String("component", "fetcher")),
	}
}

// Fetch downloads the archive for hour. Every failure is reported through
// the returned Outcome.
func (f *ArchiveFetcher) Fetch(ctx context.Context, hour time.Time) Outcome {
	start := time.Now()
	outcome := Outcome{Hour: hour}

	if f.skipExisting && f.store.Exists(hour) {
		outcome.Path = f.store.Path(hour)
		outcome.Skipped = true
		f.log.Debug("Archive already stored, skipping", slog.String("hour", outcome.Name()))
		return outcome
	}

	outcome.Bytes, outcome.Path, outcome.Err = f.fetch(ctx, hour)
	outcome.Duration = time.Since(start)

	if outcome.Err == nil {
		f.log.Debug("Archive downloaded",
			slog.String("hour", outcome.Name()),
			slog.String("size", bytesize.New(float64(outcome.Bytes)).String()),
			slog.Duration("duration", outcome.Duration))
	}
	return outcome
}

func (f *ArchiveFetcher) fetch(ctx context.Context, hour time.Time) (int64, string, error) {
	req, err := f.makeRequest(ctx, hour)
	if err != nil {
		return 0, "", err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, "", errors.Wrapf(err, "request archive %s", timerange.Format(hour))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxDiagnosticBytes))
		return 0, "", &StatusError{Hour: hour, StatusCode: resp.StatusCode, Body: string(body)}
	}

	written, path, err := f.store.Write(hour, resp.Body, make([]byte, f.copyBufferSize))
	if err != nil {
		return written, "", err
	}
	return written, path, nil
}

func (f *ArchiveFetcher) makeRequest(ctx context.Context, hour time.Time) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ArchiveURL(f.baseURL, hour), nil)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set(TokenHeader, f.token)
	return req, nil
}
