package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/inhies/go-bytesize"
	"github.com/joho/godotenv"
	"github.com/k0kubun/pp"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/spf13/pflag"

	"github.com/ndelvalle/papertrail-downloader/pkg/config"
	"github.com/ndelvalle/papertrail-downloader/pkg/downloader"
)

const lowDiskSpace = 1 << 30

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := pflag.NewFlagSet("papertrail-downloader", pflag.ContinueOnError)
	fs.SetOutput(stderr)

	var flags config.Config
	fs.StringVarP(&flags.StartDate, "start-date", "s", "", "Start Date using 'YYYY-MM-DD' format")
	fs.StringVarP(&flags.EndDate, "end-date", "e", "", "End Date using 'YYYY-MM-DD' format (exclusive)")
	fs.StringVarP(&flags.ApiToken, "api-token", "a", "", "Papertrail API token (env "+config.EnvName("ApiToken")+")")
	fs.StringVarP(&flags.OutputFolder, "output-folder", "c", "", `Output folder to store downloaded logs (default "./")`)
	fs.StringVar(&flags.BaseURL, "base-url", "", "Papertrail API base URL")
	fs.IntVar(&flags.Concurrency, "concurrency", 0, "Maximum archives downloaded at once (default 10)")
	fs.Float64Var(&flags.RequestsPerSecond, "rate", 0, "Maximum new requests per second, 0 for no limit")
	fs.DurationVar(&flags.Timeout, "timeout", 0, "Deadline for a single archive (default 5m)")
	fs.IntVar(&flags.Retries, "retries", 0, "Retries for failed requests")
	fs.BoolVar(&flags.SkipExisting, "skip-existing", false, "Skip hours whose archive is already stored")
	fs.BoolVar(&flags.NoProgress, "no-progress", false, "Hide the progress bar")
	fs.BoolVar(&flags.Debug, "debug", false, "Verbose logging")
	fs.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	configPath := fs.String("config", "", "Path to a YAML config file")
	envFile := fs.String("env-file", ".env", "Path to a .env file")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: papertrail-downloader -s YYYY-MM-DD -e YYYY-MM-DD -a TOKEN [options]

Download hourly Papertrail log archives for [start-date, end-date).

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return ExitSuccess
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fs.Usage()
		return ExitInvalidArgs
	}

	if err := loadEnvFile(*envFile); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	var set []string
	fs.Visit(func(f *pflag.Flag) {
		if field, ok := flagFields[f.Name]; ok {
			set = append(set, field)
		}
	})

	cfg, err := resolveConfig(*configPath, flags, set)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		fs.Usage()
		return ExitInvalidArgs
	}

	log := newLogger(cfg, stderr)
	if cfg.Debug {
		pp.Fprintln(stderr, cfg.Redacted())
	}

	rng, err := cfg.Range()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	outputDir, err := expandPath(cfg.OutputFolder)
	if err != nil {
		log.Error("Cannot resolve output folder", slog.String("path", cfg.OutputFolder), slog.Any("error", err))
		return ExitGeneralError
	}
	checkDiskSpace(ctx, outputDir, log)

	dcfg := cfg.DownloaderConfig(outputDir)
	dcfg.ProgressOutput = stderr
	d := downloader.NewDownloader(dcfg, downloader.WithLogger(log))

	summary, err := d.Download(ctx, rng)
	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintf(stderr, "Interrupted: %s\n", summary)
			return ExitInterrupted
		}
		log.Error("Download failed", slog.Any("error", err))
		return ExitGeneralError
	}

	fmt.Fprintln(stderr, summary)
	if err := summary.Err(); err != nil {
		for _, f := range summary.Failures {
			fmt.Fprintf(stderr, "  %s: %v\n", f.Name(), f.Err)
		}
		return ExitPartialFailure
	}
	return ExitSuccess
}

// flagFields maps flag names to the Config fields they set.
var flagFields = map[string]string{
	"start-date":    "StartDate",
	"end-date":      "EndDate",
	"api-token":     "ApiToken",
	"output-folder": "OutputFolder",
	"base-url":      "BaseURL",
	"concurrency":   "Concurrency",
	"rate":          "RequestsPerSecond",
	"timeout":       "Timeout",
	"retries":       "Retries",
	"skip-existing": "SkipExisting",
	"no-progress":   "NoProgress",
	"debug":         "Debug",
	"log-level":     "LogLevel",
}

// resolveConfig layers defaults, the config file, the environment and the
// flags explicitly given on the command line, in that order.
func resolveConfig(path string, flags config.Config, set []string) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.LoadFromFile(path); err != nil {
			return config.Config{}, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	return cfg.MergeFields(flags, set...), nil
}

func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

func newLogger(cfg config.Config, w io.Writer) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return log.With(slog.String("run_id", uuid.NewString()))
}

// expandPath resolves a leading ~ to the user's home directory.
func expandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return filepath.Clean(path), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// checkDiskSpace logs the free space on the volume holding dir. The output
// directory may not exist yet, so the closest existing parent is used.
func checkDiskSpace(ctx context.Context, dir string, log *slog.Logger) {
	existing := dir
	for {
		if _, err := os.Stat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			return
		}
		existing = parent
	}

	usage, err := disk.UsageWithContext(ctx, existing)
	if err != nil {
		log.Debug("Cannot read disk usage", slog.String("path", existing), slog.Any("error", err))
		return
	}

	free := bytesize.New(float64(usage.Free)).String()
	if usage.Free < lowDiskSpace {
		log.Warn("Low disk space on output volume", slog.String("path", existing), slog.String("free", free))
		return
	}
	log.Debug("Free disk space", slog.String("path", existing), slog.String("free", free))
}
