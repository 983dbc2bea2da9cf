// Package yahoo provides the Yahoo Finance price feed.
package yahoo

import (
	"context"
	"fmt"
	"time"

	"github.com/piquette/finance-go/quote"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/tiller/internal/common"
	"github.com/bobmcallan/tiller/internal/models"
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultRateLimit = 5 // requests per second
)

// Client implements the PriceFeed interface over Yahoo Finance quotes.
type Client struct {
	logger  *common.Logger
	limiter *rate.Limiter
	retry   common.RetryPolicy
}

// ClientOption configures the client
type ClientOption func(*Client)

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

// NewClient creates a new Yahoo Finance client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		logger:  common.NewSilentLogger(),
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		retry:   common.DefaultRetryPolicy(DefaultTimeout),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// CurrentPrice returns the live market price for ticker, falling back to
// the previous close when the market is closed. A ticker with no usable
// quote after retries returns ErrStalePrice; the caller skips only that
// ticker.
func (c *Client) CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	var price decimal.Decimal

	err := c.retry.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		q, err := quote.Get(ticker)
		if err != nil {
			return fmt.Errorf("quote fetch for %s failed: %w", ticker, err)
		}
		if q == nil {
			return fmt.Errorf("no quote returned for %s", ticker)
		}

		switch {
		case q.RegularMarketPrice > 0:
			price = decimal.NewFromFloat(q.RegularMarketPrice)
		case q.RegularMarketPreviousClose > 0:
			price = decimal.NewFromFloat(q.RegularMarketPreviousClose)
			c.logger.Debug().Str("ticker", ticker).Msg("Using previous close price")
		default:
			return fmt.Errorf("quote for %s carries no price", ticker)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", models.ErrStalePrice, ticker, err)
	}

	return price, nil
}
