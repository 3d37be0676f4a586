package downloader

import (
	"context"
	"io"
	"log/slog"

	"github.com/inhies/go-bytesize"

	"github.com/ndelvalle/papertrail-downloader/pkg/archive"
	"github.com/ndelvalle/papertrail-downloader/pkg/progress"
	"github.com/ndelvalle/papertrail-downloader/pkg/timerange"
)

// Downloader is the main struct
type Downloader struct {
	cfg     Config
	client  Doer
	store   *archive.Store
	fetcher Fetcher
	// Hook, if set, is called once per terminal outcome. Set it through
	// WithHook or directly before calling Download.
	Hook Hook
	log     *slog.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithHTTPClient replaces the retryablehttp backed client.
func WithHTTPClient(client Doer) Option {
	return func(d *Downloader) { d.client = client }
}

// WithStore replaces the store built from Config.OutputDir.
func WithStore(store *archive.Store) Option {
	return func(d *Downloader) { d.store = store }
}

// WithFetcher replaces the archive fetcher entirely. The HTTP client and
// store are not used in that case.
func WithFetcher(fetcher Fetcher) Option {
	return func(d *Downloader) { d.fetcher = fetcher }
}

// WithLogger sets the logger. Default: output is discarded
func WithLogger(log *slog.Logger) Option {
	return func(d *Downloader) { d.log = log }
}

// WithHook registers a callback invoked once per terminal outcome.
func WithHook(hook Hook) Option {
	return func(d *Downloader) { d.Hook = hook }
}

// NewDownloader creates a Downloader for the given configuration.
func NewDownloader(cfg Config, opts ...Option) *Downloader {
	cfg.setDefaults()

	d := &Downloader{cfg: cfg}
	for _, opt := range opts {
		opt(d)
	}

	if d.log == nil {
		d.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.client == nil {
		d.client = NewHTTPClient(cfg, d.log)
	}
	if d.store == nil {
		d.store = archive.NewStore(cfg.OutputDir)
	}
	if d.fetcher == nil {
		d.fetcher = NewArchiveFetcher(d.client, d.store, cfg, d.log)
	}
	return d
}

// Config returns the configuration with defaults applied.
func (d *Downloader) Config() Config {
	return d.cfg
}

// Store returns the archive store downloads are written to.
func (d *Downloader) Store() *archive.Store {
	return d.store
}

// Download fetches every hourly archive in rng. The returned error is only
// set when the run could not start or was cancelled; individual hour
// failures are reported through the Summary.
func (d *Downloader) Download(ctx context.Context, rng timerange.Range) (Summary, error) {
	hours := rng.Hours()
	if len(hours) == 0 {
		d.log.Info("Nothing to download", slog.String("range", rng.String()))
		return Summary{}, nil
	}

	// ensure the output path exists or create it.
	if err := d.store.EnsureDir(); err != nil {
		return Summary{Total: len(hours)}, err
	}

	d.log.Info("Downloading archives",
		slog.String("range", rng.String()),
		slog.Int("archives", len(hours)),
		slog.String("output", d.store.Dir()),
		slog.Int("concurrency", d.cfg.Concurrency))

	bar := progress.New(len(hours), progress.Options{
		Output: d.cfg.ProgressOutput,
		Silent: !d.cfg.ShowProgress,
	})
	advance := func(Outcome) { bar.Advance() }

	scheduler := NewScheduler(d.fetcher, d.cfg, chainHooks(advance, d.Hook), d.log)
	summary := scheduler.Run(ctx, hours)
	bar.Finish()

	d.log.Info("Download finished",
		slog.Int("downloaded", summary.Succeeded),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.String("size", bytesize.New(float64(summary.Bytes)).String()),
		slog.Duration("duration", summary.Duration))

	return summary, ctx.Err()
}
