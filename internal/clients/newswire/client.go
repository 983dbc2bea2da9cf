// Package newswire provides a client for the news summarization service.
package newswire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/tiller/internal/common"
	"github.com/bobmcallan/tiller/internal/models"
)

const (
	DefaultBaseURL   = "http://localhost:9090"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second
)

// Client fetches analyzed market news batches over HTTP. It implements
// interfaces.NewsSource.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
	retry      common.RetryPolicy
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the per-attempt timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.retry.AttemptTimeout = timeout
	}
}

// WithRetryPolicy replaces the full retry policy
func WithRetryPolicy(p common.RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = p
	}
}

// NewClient creates a new newswire client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:     common.NewSilentLogger(),
		retry:      common.DefaultRetryPolicy(DefaultTimeout),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// batchResponse is the wire shape of one fetched news batch.
type batchResponse struct {
	Items []struct {
		Source    string    `json:"source"`
		Timestamp time.Time `json:"timestamp"`
		Headlines []string  `json:"headlines"`
		Insights  string    `json:"insights"`
	} `json:"items"`
}

// Fetch retrieves the latest analyzed news batch. An empty batch is a
// normal result. Errors are classified after retries are exhausted:
// deadline exhaustion maps to ErrCollaboratorTimeout, everything else to
// ErrCollaboratorUnavailable.
func (c *Client) Fetch(ctx context.Context) ([]models.NewsItem, error) {
	var batch batchResponse

	err := c.retry.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.fetchOnce(ctx, &batch)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: newswire fetch: %v", models.ErrCollaboratorTimeout, err)
		}
		return nil, fmt.Errorf("%w: newswire fetch: %v", models.ErrCollaboratorUnavailable, err)
	}

	items := make([]models.NewsItem, 0, len(batch.Items))
	for _, it := range batch.Items {
		ts := it.Timestamp
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		items = append(items, models.NewsItem{
			Source:    it.Source,
			Timestamp: ts,
			Headlines: it.Headlines,
			Insights:  it.Insights,
		})
	}

	c.logger.Debug().Int("items", len(items)).Msg("Fetched news batch")
	return items, nil
}

func (c *Client) fetchOnce(ctx context.Context, out *batchResponse) error {
	url := c.baseURL + "/api/news/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("newswire request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read newswire response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("newswire returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode newswire response: %w", err)
	}
	return nil
}
