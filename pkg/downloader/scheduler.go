package downloader

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Scheduler runs hours through a Fetcher with a bounded number of fetches
// in flight. Failures stay with the hour that produced them.
type Scheduler struct {
	fetcher     Fetcher
	concurrency int
	limiter     *rate.Limiter
	unitTimeout time.Duration
	hook        Hook
	log         *slog.Logger
}

// NewScheduler returns a Scheduler running at most cfg.Concurrency fetches
// at once. hook may be nil.
func NewScheduler(fetcher Fetcher, cfg Config, hook Hook, log *slog.Logger) *Scheduler {
	cfg.setDefaults()
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Scheduler{
		fetcher:     fetcher,
		concurrency: cfg.Concurrency,
		unitTimeout: cfg.UnitTimeout,
		hook:        hook,
		log:         log.With(slog.String("component", "scheduler")),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return s
}

// Run attempts every hour exactly once and returns when all of them have
// reached a terminal outcome. Hours that have not started when ctx is
// cancelled fail without a request being made.
func (s *Scheduler) Run(ctx context.Context, hours []time.Time) Summary {
	start := time.Now()
	summary := Summary{Total: len(hours)}

	s.log.Debug("Number of concurrency", slog.Int("concurrency", s.concurrency), slog.Int("units", len(hours)))

	var mu sync.Mutex
	// A plain Group: one failed hour must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(s.concurrency)

	for _, hour := range hours {
		hour := hour
		g.Go(func() error {
			outcome := s.runUnit(ctx, hour)

			mu.Lock()
			summary.add(outcome)
			mu.Unlock()

			if s.hook != nil {
				s.hook(outcome)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.sortFailures()
	summary.Duration = time.Since(start)
	return summary
}

func (s *Scheduler) runUnit(ctx context.Context, hour time.Time) Outcome {
	if err := ctx.Err(); err != nil {
		return s.failed(Outcome{Hour: hour, Err: errors.Wrap(err, "not started")})
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return s.failed(Outcome{Hour: hour, Err: errors.Wrap(err, "wait for rate limiter")})
		}
	}

	if s.unitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.unitTimeout)
		defer cancel()
	}

	outcome := s.fetcher.Fetch(ctx, hour)
	outcome.Hour = hour
	if !outcome.Success() {
		return s.failed(outcome)
	}
	return outcome
}

func (s *Scheduler) failed(outcome Outcome) Outcome {
	s.log.Error("Cannot download archive", slog.String("hour", outcome.Name()), slog.Any("error", outcome.Err))
	return outcome
}
