// Package netutil holds the retrying HTTP client shared by the registry
// catalog, remote manifest fetches and archive downloads.
package netutil

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/vrsandeep/plugman/internal/plugins"
)

// MaxBodyBytes caps JSON bodies read by GetBytes.
const MaxBodyBytes = 8 << 20

// NewClient returns a retrying client. Connection errors and 5xx/429
// responses are retried up to retryMax times with exponential backoff.
func NewClient(retryMax int, timeout time.Duration) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = timeout
	client.Logger = log.Default()
	return client
}

// Get issues a GET and returns the response when the status is 200. Any
// other outcome is reported as a *plugins.FetchError.
func Get(ctx context.Context, client *retryablehttp.Client, url string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &plugins.FetchError{URL: url, Cause: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &plugins.FetchError{URL: url, Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &plugins.FetchError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// GetBytes fetches url and returns its body, capped at MaxBodyBytes.
func GetBytes(ctx context.Context, client *retryablehttp.Client, url string) ([]byte, error) {
	resp, err := Get(ctx, client, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes+1))
	if err != nil {
		return nil, &plugins.FetchError{URL: url, Cause: fmt.Errorf("failed to read body: %w", err)}
	}
	if len(data) > MaxBodyBytes {
		return nil, &plugins.FetchError{URL: url, Cause: fmt.Errorf("body exceeds %d bytes", MaxBodyBytes)}
	}
	return data, nil
}
