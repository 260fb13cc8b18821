package poller

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"code.cloudfoundry.org/clock"
)

const maxResponseBodySize = 1 << 20 // 1MB

// connection pooling limits for groups with many watches on few hosts
const (
	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultMaxConnsPerHost     = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

const userAgent = "pollwatch"

// Response holds what a watch condition needs from one HTTP exchange.
type Response struct {
	// Body is limited to 1MB.
	Body []byte

	// StatusCode is zero if no response was received.
	StatusCode int

	Latency time.Duration
}

// Client performs the HTTP request behind each poll invocation.
//
// Timeouts are applied per request via context so each watch can carry its
// own. Bodies are truncated at 1MB.
type Client struct {
	httpClient *http.Client
	clock      clock.Clock
}

// NewClient creates a Client with pooled connections. Latency is measured
// with clk.
func NewClient(clk clock.Clock) *Client {
	if clk == nil {
		clk = clock.NewClock()
	}
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				MaxConnsPerHost:     defaultMaxConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
		clock: clk,
	}
}

// Fetch performs a request and reads up to 1MB of the body. An empty method
// means GET.
//
// A non-nil error means no usable response was received; the returned
// Response still carries the latency and, when known, the status code.
func (c *Client) Fetch(ctx context.Context, method, url string, headers map[string]string, timeout time.Duration) (Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if method == "" {
		method = http.MethodGet
	}

	start := c.clock.Now()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return Response{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{Latency: c.clock.Since(start)}, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return Response{StatusCode: resp.StatusCode, Latency: c.clock.Since(start)},
			fmt.Errorf("failed to read response body: %w", err)
	}

	return Response{
		Body:       body,
		StatusCode: resp.StatusCode,
		Latency:    c.clock.Since(start),
	}, nil
}

// Close releases idle connections. The client stays usable afterwards.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}
