package memory

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"
	"unicode/utf8"
)

const maxHistoryBytes = 1 << 20

// Client talks to the external memory/log service.
type Client struct {
	queryURL      string
	transcriptURL string
	queryTimeout  time.Duration
	httpClient    *http.Client
	location      *time.Location
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client. Deadlines come from the
// request context, so c should not set its own Timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithLocation sets the zone transcript timestamps are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(cl *Client) {
		if loc != nil {
			cl.location = loc
		}
	}
}

// NewClient creates a client. Either URL may be empty to disable that side.
// queryTimeout bounds Query only; Deliver runs until its context ends.
func NewClient(queryURL, transcriptURL string, queryTimeout time.Duration, opts ...Option) *Client {
	if queryTimeout <= 0 {
		queryTimeout = 10 * time.Second
	}
	c := &Client{
		queryURL:      queryURL,
		transcriptURL: transcriptURL,
		queryTimeout:  queryTimeout,
		httpClient:    &http.Client{},
		location:      time.UTC,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query fetches prior call history. Every failure collapses to "", which
// callers read as "no history yet".
func (c *Client) Query(ctx context.Context) string {
	if c.queryURL == "" {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.queryURL, nil)
	if err != nil {
		log.Printf("[memory] build query request failed: %v", err)
		return ""
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[memory] query unreachable: %v", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[memory] query returned status %d", resp.StatusCode)
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHistoryBytes+1))
	if err != nil {
		log.Printf("[memory] read query body failed: %v", err)
		return ""
	}
	if len(body) > maxHistoryBytes {
		log.Printf("[memory] malformed query body: larger than %d bytes", maxHistoryBytes)
		return ""
	}
	if !utf8.Valid(body) {
		log.Printf("[memory] malformed query body (%d bytes)", len(body))
		return ""
	}
	return string(body)
}
