// Package httpx provides the resilient HTTP client used by the venue
// clients: a failsafe retry + circuit breaker pipeline around net/http,
// with a per-request signing hook and prometheus instrumentation.
package httpx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/prometheus/client_golang/prometheus"
)

// APIError is a non-2xx response surfaced to the caller with its body.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// SignFunc signs one request; body is the exact serialized payload.
// A nil SignFunc sends the request unauthenticated.
type SignFunc func(req *http.Request, body []byte) error

// Instruments are the optional prometheus collectors fed by the client.
type Instruments struct {
	Requests *prometheus.CounterVec   // labels: method, path, status
	Seconds  *prometheus.HistogramVec // labels: method, path
}

// Client wraps net/http with resilience policies.
type Client struct {
	client      *http.Client
	baseURL     string
	pipeline    failsafe.Executor[*http.Response]
	instruments Instruments
}

// NewClient creates a client with the default retry and breaker policies:
// retry on network errors and 5xx up to 3 times with backoff, open the
// breaker after 5 failures out of 10. Rate-limit responses (429) are not
// retried; the venue layer surfaces them with their back-off hint.
func NewClient(baseURL string, timeout time.Duration, instruments Instruments) *Client {
	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	return &Client{
		client:      &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		pipeline:    failsafe.With[*http.Response](retryPolicy, breaker),
		instruments: instruments,
	}
}

// Do issues one request. Query keys are encoded in insertion-stable sorted
// order by url.Values. The response body is returned for any 2xx status;
// other statuses yield an APIError.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body []byte, sign SignFunc) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	build := func() (*http.Request, error) {
		var reader io.Reader
		if len(body) > 0 {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, u, reader)
		if err != nil {
			return nil, err
		}
		if len(body) > 0 {
			req.Header.Set("Content-Type", "application/json")
		}
		if sign != nil {
			if err := sign(req, body); err != nil {
				return nil, fmt.Errorf("sign request: %w", err)
			}
		}
		return req, nil
	}

	start := time.Now()
	resp, err := c.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		// Rebuild per attempt: signatures embed timestamps and the body
		// reader is consumed by each send.
		req, err := build()
		if err != nil {
			return nil, err
		}
		return c.client.Do(req)
	})
	c.observe(method, path, resp, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: payload}
	}
	return payload, nil
}

func (c *Client) observe(method, path string, resp *http.Response, elapsed time.Duration) {
	status := "error"
	if resp != nil {
		status = strconv.Itoa(resp.StatusCode / 100 * 100)
	}
	if c.instruments.Requests != nil {
		c.instruments.Requests.WithLabelValues(method, path, status).Inc()
	}
	if c.instruments.Seconds != nil {
		c.instruments.Seconds.WithLabelValues(method, path).Observe(elapsed.Seconds())
	}
}
