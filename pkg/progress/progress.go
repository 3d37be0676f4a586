package progress

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/schollz/progressbar/v3"
)

// Options configures a Reporter.
type Options struct {
	// Description is shown in front of the bar.
	Description string
	// Output receives the rendered bar. Default: os.Stderr
	Output io.Writer
	// Silent disables rendering. Counting still happens.
	Silent bool
}

// Reporter counts terminal unit outcomes against a fixed total and renders
// them as a progress bar. It is safe for concurrent use.
type Reporter struct {
	total     int
	completed atomic.Int64
	bar       *progressbar.ProgressBar
	finish    sync.Once
}

// New returns a Reporter for total units. A negative total is treated as
// zero.
func New(total int, opts Options) *Reporter {
	if total < 0 {
		total = 0
	}
	if opts.Output == nil {
		opts.Output = os.Stderr
	}
	if opts.Description == "" {
		opts.Description = "Downloading archives"
	}

	r := &Reporter{total: total}
	r.bar = progressbar.NewOptions(total,
		progressbar.OptionSetWriter(opts.Output),
		progressbar.OptionSetVisibility(!opts.Silent),
		progressbar.OptionSetDescription(opts.Description),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionOnCompletion(func() {
			_, _ = io.WriteString(opts.Output, "\n")
		}),
	)
	if total == 0 {
		// nothing to render
		r.finish.Do(func() {})
	}
	return r
}

// Advance records one more terminal outcome. Once every unit is accounted
// for the bar is finalised.
func (r *Reporter) Advance() {
	n := r.completed.Add(1)
	_ = r.bar.Add(1)
	if int(n) >= r.total {
		r.Finish()
	}
}

// Finish finalises the display. It is idempotent and is called
// automatically when the last unit completes.
func (r *Reporter) Finish() {
	r.finish.Do(func() {
		_ = r.bar.Finish()
	})
}

// Completed returns the number of units accounted for so far.
func (r *Reporter) Completed() int {
	return int(r.completed.Load())
}

// Total returns the number of units expected.
func (r *Reporter) Total() int {
	return r.total
}

// Done reports whether every unit has been accounted for.
func (r *Reporter) Done() bool {
	return r.Completed() >= r.total
}
