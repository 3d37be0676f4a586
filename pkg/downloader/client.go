package downloader

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

// Doer is the HTTP capability the fetcher depends on.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns an *http.Client backed by retryablehttp. The final
// response is always handed back to the caller, even when it is an error
// status, so the server's diagnostic body is not lost.
func NewHTTPClient(cfg Config, log *slog.Logger) *http.Client {
	cfg.setDefaults()

	retryablehttpClient := retryablehttp.NewClient()
	retryablehttpClient.RetryMax = cfg.RetryMax
	retryablehttpClient.RetryWaitMax = cfg.RetryWaitMax
	retryablehttpClient.RetryWaitMin = cfg.RetryWaitMin
	retryablehttpClient.CheckRetry = checkRetry
	retryablehttpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.Debug && log != nil {
		retryablehttpClient.Logger = log.With(slog.String("component", "http"))
	} else {
		retryablehttpClient.Logger = nil
	}

	if t, ok := retryablehttpClient.HTTPClient.Transport.(*http.Transport); ok {
		t.MaxIdleConnsPerHost = cfg.maxIdleConns()
		// archives are already gzipped
		t.DisableCompression = true
	}

	return retryablehttpClient.StandardClient()
}

// checkRetry keeps the default retry decisions but does not turn an error
// status into an error. http.Client discards a response that comes back
// together with an error, and the body is what explains the failure.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	retry, checkErr := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	if err == nil && ctx.Err() == nil {
		return retry, nil
	}
	return retry, checkErr
}
