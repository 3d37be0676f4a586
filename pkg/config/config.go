package config

import (
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/stoewer/go-strcase"
	"gopkg.in/yaml.v3"

	"github.com/ndelvalle/papertrail-downloader/pkg/downloader"
	"github.com/ndelvalle/papertrail-downloader/pkg/timerange"
)

// EnvPrefix is prepended to every environment variable, e.g.
// PAPERTRAIL_API_TOKEN.
const EnvPrefix = "PAPERTRAIL_"

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

var (
	ErrMissingToken = errors.New("config: api token is required")
	ErrMissingDates = errors.New("config: start and end date are required")
)

// Config holds everything the CLI needs for a run. Fields are tagged with
// their YAML key; environment variable names are derived from the field
// name (ApiToken -> PAPERTRAIL_API_TOKEN).
type Config struct {
	StartDate         string        `yaml:"start_date"`
	EndDate           string        `yaml:"end_date"`
	ApiToken          string        `yaml:"api_token"`
	OutputFolder      string        `yaml:"output_folder"`
	BaseURL           string        `yaml:"base_url"`
	Concurrency       int           `yaml:"concurrency"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
	Retries           int           `yaml:"retries"`
	RetryWaitMin      time.Duration `yaml:"retry_wait_min"`
	RetryWaitMax      time.Duration `yaml:"retry_wait_max"`
	SkipExisting      bool          `yaml:"skip_existing"`
	NoProgress        bool          `yaml:"no_progress"`
	Debug             bool          `yaml:"debug"`
	LogLevel          string        `yaml:"log_level"`
}

// Default returns a Config with the documented defaults.
func Default() Config {
	return Config{
		OutputFolder: "./",
		BaseURL:      downloader.DefaultBaseURL,
		Concurrency:  downloader.DefaultConcurrency,
		Timeout:      downloader.DefaultUnitTimeout,
		RetryWaitMin: time.Second,
		RetryWaitMax: 10 * time.Second,
		LogLevel:     LogLevelInfo,
	}
}

// LoadFromFile reads a YAML file on top of the defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config file")
	}
	return cfg, nil
}

// EnvName returns the environment variable that sets field.
func EnvName(field string) string {
	return EnvPrefix + strcase.UpperSnakeCase(field)
}

// LoadFromEnv overrides c with any PAPERTRAIL_* variables that are set.
func (c *Config) LoadFromEnv() error {
	v := reflect.ValueOf(c).Elem()
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		name := EnvName(t.Field(i).Name)
		raw, ok := os.LookupEnv(name)
		if !ok || raw == "" {
			continue
		}
		if err := setField(v.Field(i), raw); err != nil {
			return errors.Wrapf(err, "parse %s", name)
		}
	}
	return nil
}

func setField(f reflect.Value, raw string) error {
	switch f.Interface().(type) {
	case time.Duration:
		d, err := cast.ToDurationE(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(d))
	case string:
		f.SetString(raw)
	case int:
		n, err := cast.ToIntE(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(n))
	case float64:
		n, err := cast.ToFloat64E(raw)
		if err != nil {
			return err
		}
		f.SetFloat(n)
	case bool:
		b, err := cast.ToBoolE(raw)
		if err != nil {
			return err
		}
		f.SetBool(b)
	default:
		return errors.Errorf("unsupported field type %s", f.Type())
	}
	return nil
}

// MergeFields copies the named fields of override into c, zero values
// included, returning a new Config. Unknown names are ignored.
func (c Config) MergeFields(override Config, fields ...string) Config {
	dst := reflect.ValueOf(&c).Elem()
	src := reflect.ValueOf(override)
	for _, name := range fields {
		if f := src.FieldByName(name); f.IsValid() {
			dst.FieldByName(name).Set(f)
		}
	}
	return c
}

// Validate checks the configuration before a run.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ApiToken) == "" {
		return ErrMissingToken
	}
	if c.StartDate == "" || c.EndDate == "" {
		return ErrMissingDates
	}
	if _, err := timerange.ParseDate(c.StartDate); err != nil {
		return errors.Wrap(err, "config: start date")
	}
	if _, err := timerange.ParseDate(c.EndDate); err != nil {
		return errors.Wrap(err, "config: end date")
	}
	if c.Concurrency <= 0 {
		return errors.New("config: concurrency must be positive")
	}
	if c.RequestsPerSecond < 0 {
		return errors.New("config: requests per second must not be negative")
	}
	if c.Retries < 0 {
		return errors.New("config: retries must not be negative")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Range returns the parsed [StartDate, EndDate) range. Call Validate first.
func (c *Config) Range() (timerange.Range, error) {
	start, err := timerange.ParseDate(c.StartDate)
	if err != nil {
		return timerange.Range{}, err
	}
	end, err := timerange.ParseDate(c.EndDate)
	if err != nil {
		return timerange.Range{}, err
	}
	return timerange.New(start, end), nil
}

// DownloaderConfig maps c onto the downloader configuration. outputDir must
// already be expanded.
func (c *Config) DownloaderConfig(outputDir string) downloader.Config {
	return downloader.Config{
		BaseURL:           c.BaseURL,
		Token:             c.ApiToken,
		OutputDir:         outputDir,
		Concurrency:       c.Concurrency,
		RequestsPerSecond: c.RequestsPerSecond,
		UnitTimeout:       c.Timeout,
		RetryMax:          c.Retries,
		RetryWaitMin:      c.RetryWaitMin,
		RetryWaitMax:      c.RetryWaitMax,
		SkipExisting:      c.SkipExisting,
		ShowProgress:      !c.NoProgress,
		Debug:             c.Debug,
	}
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.ApiToken != "" {
		c.ApiToken = "****"
	}
	return c
}

// ParseLogLevel maps a level name onto a slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case LogLevelDebug:
		return slog.LevelDebug, nil
	case LogLevelInfo, "":
		return slog.LevelInfo, nil
	case LogLevelWarn:
		return slog.LevelWarn, nil
	case LogLevelError:
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.Errorf("config: unknown log level %q", level)
	}
}
