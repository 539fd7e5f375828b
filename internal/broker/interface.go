package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/arjunvm/pivot_sentry/internal/models"
)

// Broker defines the interface for market data and order execution.
// All methods take a context and honor its deadline; the HTTP client
// additionally enforces its own bounded timeout.
type Broker interface {
	// Market data
	// FetchDailyCandle returns the daily candle for one calendar day, or
	// ErrNoCandleData when the exchange has no bar for that day (holiday).
	FetchDailyCandle(ctx context.Context, token int64, day time.Time) (models.Candle, error)
	// FetchIntervalCandles returns the intraday candles for [from, to] at the
	// given minute interval, oldest first.
	FetchIntervalCandles(ctx context.Context, token int64, intervalMinutes int,
		from, to time.Time) ([]models.Candle, error)

	// Order placement
	PlaceOrder(ctx context.Context, symbol string, direction models.Direction,
		quantity int) (*OrderResult, error)
	ExitOrder(ctx context.Context, symbol string, quantity int) (*OrderResult, error)

	// Positions returns the broker-side net positions, used to reconcile the
	// in-memory slot after a failed order sequence.
	Positions(ctx context.Context) ([]PositionItem, error)
}

// OrderResult is the broker's acknowledgement of a placed order.
type OrderResult struct {
	OrderID string `json:"order_id"`
}

// PositionItem is one broker-side net position.
type PositionItem struct {
	Symbol   string `json:"tradingsymbol"`
	Quantity int    `json:"quantity"`
}

// ErrNoCandleData is returned when the feed has no bar for the requested day.
var ErrNoCandleData = errors.New("no candle data for requested day")

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality so
// a flapping feed cannot hammer the API from the 1s scheduler loop.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a new CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// FetchDailyCandle wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) FetchDailyCandle(ctx context.Context, token int64,
	day time.Time) (models.Candle, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (models.Candle, error) {
		return b.FetchDailyCandle(ctx, token, day)
	})
}

// FetchIntervalCandles wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) FetchIntervalCandles(ctx context.Context, token int64,
	intervalMinutes int, from, to time.Time) ([]models.Candle, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]models.Candle, error) {
		return b.FetchIntervalCandles(ctx, token, intervalMinutes, from, to)
	})
}

// PlaceOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) PlaceOrder(ctx context.Context, symbol string,
	direction models.Direction, quantity int) (*OrderResult, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResult, error) {
		return b.PlaceOrder(ctx, symbol, direction, quantity)
	})
}

// ExitOrder wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) ExitOrder(ctx context.Context, symbol string,
	quantity int) (*OrderResult, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResult, error) {
		return b.ExitOrder(ctx, symbol, quantity)
	})
}

// Positions wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) Positions(ctx context.Context) ([]PositionItem, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]PositionItem, error) {
		return b.Positions(ctx)
	})
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)
