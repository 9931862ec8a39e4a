// Package extractor talks to the external extraction service that scrapes
// one page of a media timeline per call.
package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"magpie/internal/metrics"
	"magpie/internal/model"
)

// Extractor defines the operations the fetch pipeline needs from the
// extraction service. ExtractPage returns one page plus a continuation
// cursor; ExtractRange is a single-shot date-bounded query with no cursor.
// Cleanup asks the service to terminate any leftover worker processes and is
// best-effort: callers log its error and move on.
type Extractor interface {
	ExtractPage(ctx context.Context, req model.TimelineRequest) (model.Response, error)
	ExtractRange(ctx context.Context, req model.DateRangeRequest) (model.Response, error)
	Cleanup(ctx context.Context) error
}

// HTTPClient is a JSON-over-HTTP client for the extractor daemon.
type HTTPClient struct {
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 120 * time.Second},
		limiter:     newDefaultLimiter(),
		maxAttempts: getEnvInt("MAGPIE_EXTRACT_MAX_ATTEMPTS", 5),
		baseBackoff: time.Duration(getEnvInt("MAGPIE_EXTRACT_BASE_BACKOFF_MS", 500)) * time.Millisecond,
	}
}

// ExtractPage fetches one page of the subject's timeline.
func (c *HTTPClient) ExtractPage(ctx context.Context, req model.TimelineRequest) (model.Response, error) {
	var out model.Response
	if err := c.postJSON(ctx, "/timeline", req, &out); err != nil {
		return out, err
	}
	return out, nil
}

// ExtractRange fetches a complete date-bounded result in one call.
func (c *HTTPClient) ExtractRange(ctx context.Context, req model.DateRangeRequest) (model.Response, error) {
	var out model.Response
	if err := c.postJSON(ctx, "/range", req, &out); err != nil {
		return out, err
	}
	return out, nil
}

// Cleanup terminates leftover extractor workers.
func (c *HTTPClient) Cleanup(ctx context.Context) error {
	return c.postJSON(ctx, "/cleanup", struct{}{}, nil)
}

func (c *HTTPClient) postJSON(ctx context.Context, endpoint string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	resp, err := c.doWithRetry(ctx, req, endpoint)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("extractor status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) doWithRetry(ctx context.Context, req *http.Request, endpoint string) (*http.Response, error) {
	var bodyBytes []byte
	if req.Body != nil {
		bodyBytes, _ = io.ReadAll(req.Body)
	}
	backoff := c.baseBackoff
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		r := req.Clone(ctx)
		if bodyBytes != nil {
			r.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}
		resp, err := c.httpClient.Do(r)
		if err == nil {
			if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599) {
				ra := resp.Header.Get("Retry-After")
				_ = resp.Body.Close()
				lastErr = fmt.Errorf("extractor status %d", resp.StatusCode)
				metrics.IncExtractRetry(endpoint)
				wait := backoff
				if ra != "" {
					if secs, err := strconv.Atoi(ra); err == nil {
						wait = time.Duration(secs) * time.Second
					} else if t, err := http.ParseTime(ra); err == nil {
						if d := time.Until(t); d > 0 {
							wait = d
						}
					}
				}
				// jitter +/-20%
				jitter := time.Duration(float64(wait) * 0.2)
				if jitter > 0 {
					wait = wait - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter))
				}
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				backoff *= 2
				continue
			}
			return resp, nil
		}
		lastErr = err
		metrics.IncExtractRetry(endpoint)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
	return nil, fmt.Errorf("request failed after %d attempts: %v", c.maxAttempts, lastErr)
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil && i > 0 {
		return i
	}
	return def
}
