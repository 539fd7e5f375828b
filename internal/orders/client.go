// Package orders provides bounded-retry order execution against the broker.
package orders

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/arjunvm/pivot_sentry/internal/broker"
	"github.com/arjunvm/pivot_sentry/internal/models"
)

// Config tunes retry behavior for order placement.
type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

// DefaultConfig is the default retry configuration.
var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	Timeout:        2 * time.Minute,
}

// Client wraps a broker with bounded retries for order placement. Only
// transient failures are retried; a rejection comes back immediately.
type Client struct {
	broker broker.Broker
	logger *log.Logger
	config Config
}

// NewClient creates an order execution client.
func NewClient(b broker.Broker, logger *log.Logger, config ...Config) *Client {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	return &Client{
		broker: b,
		logger: logger,
		config: cfg,
	}
}

// PlaceWithRetry submits an entry order, retrying transient failures.
func (c *Client) PlaceWithRetry(ctx context.Context, symbol string,
	direction models.Direction, quantity int) (*broker.OrderResult, error) {
	return c.withRetry(ctx, "entry "+symbol, func(ctx context.Context) (*broker.OrderResult, error) {
		return c.broker.PlaceOrder(ctx, symbol, direction, quantity)
	})
}

// ExitWithRetry submits an exit order, retrying transient failures.
func (c *Client) ExitWithRetry(ctx context.Context, symbol string,
	quantity int) (*broker.OrderResult, error) {
	return c.withRetry(ctx, "exit "+symbol, func(ctx context.Context) (*broker.OrderResult, error) {
		return c.broker.ExitOrder(ctx, symbol, quantity)
	})
}

func (c *Client) withRetry(ctx context.Context, label string,
	place func(context.Context) (*broker.OrderResult, error)) (*broker.OrderResult, error) {
	opCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := opCtx.Err(); err != nil {
			return nil, fmt.Errorf("order %s timed out: %w", label, err)
		}

		c.logger.Printf("Order attempt %d/%d for %s", attempt+1, c.config.MaxRetries+1, label)

		result, err := place(opCtx)
		if err == nil {
			c.logger.Printf("Order %s placed on attempt %d: %s", label, attempt+1, result.OrderID)
			return result, nil
		}

		lastErr = err
		c.logger.Printf("Order attempt %d for %s failed: %v", attempt+1, label, err)

		if !isTransientError(err) || attempt == c.config.MaxRetries {
			break
		}

		c.logger.Printf("Transient error, retrying in %v", backoff)
		select {
		case <-time.After(backoff):
			backoff = c.nextBackoff(backoff)
		case <-opCtx.Done():
			return nil, fmt.Errorf("order %s timed out during backoff: %w", label, opCtx.Err())
		}
	}

	return nil, fmt.Errorf("order %s failed after %d attempts: %w", label, c.config.MaxRetries+1, lastErr)
}

func (c *Client) nextBackoff(current time.Duration) time.Duration {
	backoff := time.Duration(float64(current) * 1.5)
	if backoff > c.config.MaxBackoff {
		backoff = c.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			c.logger.Printf("Failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
