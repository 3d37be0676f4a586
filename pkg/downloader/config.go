package downloader

import (
	"io"
	"runtime"
	"time"
)

const (
	// DefaultBaseURL is the Papertrail API endpoint archives are fetched from.
	DefaultBaseURL = "https://papertrailapp.com/api/v1"

	// DefaultConcurrency follows the Papertrail limit of 10 new connections
	// per second per source IP. Transfers are short enough for a cap on
	// in-flight requests to stay within it.
	DefaultConcurrency = 10

	DefaultUnitTimeout    = 5 * time.Minute
	DefaultCopyBufferSize = 32 * 1024
)

type Config struct {
	BaseURL           string
	Token             string
	OutputDir         string
	Concurrency       int
	RequestsPerSecond float64       // 0 disables the limiter
	UnitTimeout       time.Duration // deadline for a single archive, negative disables it
	CopyBufferSize    int
	RetryWaitMin      time.Duration // Minimum time to wait
	RetryWaitMax      time.Duration // Maximum time to wait
	RetryMax          int           // Maximum number of retries, 0 sends each request once
	SkipExisting      bool
	ShowProgress      bool
	ProgressOutput    io.Writer
	Debug             bool
}

func (c *Config) setDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.OutputDir == "" {
		c.OutputDir = "."
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.UnitTimeout == 0 {
		c.UnitTimeout = DefaultUnitTimeout
	}
	if c.CopyBufferSize <= 0 {
		c.CopyBufferSize = DefaultCopyBufferSize
	}
	if c.RetryWaitMin == 0 {
		c.RetryWaitMin = 1 * time.Second
	}
	if c.RetryWaitMax == 0 {
		c.RetryWaitMax = 10 * time.Second
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
}

// maxIdleConns sizes the transport pool so every worker can keep its
// connection between archives.
func (c *Config) maxIdleConns() int {
	if c.Concurrency > runtime.NumCPU() {
		return c.Concurrency
	}
	return runtime.NumCPU()
}
