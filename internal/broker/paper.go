package broker

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/arjunvm/pivot_sentry/internal/models"
)

// PaperBroker delegates market data to a real client but simulates order
// placement, tracking fills locally. No real money at risk.
type PaperBroker struct {
	data   Broker
	logger *log.Logger

	mu        sync.Mutex
	nextID    int
	positions map[string]int // symbol -> net quantity
}

// NewPaperBroker wraps a data-only broker with simulated order execution.
func NewPaperBroker(data Broker, logger *log.Logger) *PaperBroker {
	return &PaperBroker{
		data:      data,
		logger:    logger,
		nextID:    1,
		positions: make(map[string]int),
	}
}

// FetchDailyCandle delegates to the underlying data client.
func (p *PaperBroker) FetchDailyCandle(ctx context.Context, token int64,
	day time.Time) (models.Candle, error) {
	return p.data.FetchDailyCandle(ctx, token, day)
}

// FetchIntervalCandles delegates to the underlying data client.
func (p *PaperBroker) FetchIntervalCandles(ctx context.Context, token int64,
	intervalMinutes int, from, to time.Time) ([]models.Candle, error) {
	return p.data.FetchIntervalCandles(ctx, token, intervalMinutes, from, to)
}

// PlaceOrder records a simulated fill.
func (p *PaperBroker) PlaceOrder(_ context.Context, symbol string,
	direction models.Direction, quantity int) (*OrderResult, error) {
	if !direction.Valid() {
		return nil, fmt.Errorf("invalid direction %q", direction)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("paper-%d", p.nextID)
	p.nextID++
	p.positions[symbol] += quantity
	p.logger.Printf("[PAPER] BUY %d x %s (order %s)", quantity, symbol, id)
	return &OrderResult{OrderID: id}, nil
}

// ExitOrder records a simulated close.
func (p *PaperBroker) ExitOrder(_ context.Context, symbol string,
	quantity int) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("paper-%d", p.nextID)
	p.nextID++
	p.positions[symbol] -= quantity
	if p.positions[symbol] == 0 {
		delete(p.positions, symbol)
	}
	p.logger.Printf("[PAPER] SELL %d x %s (order %s)", quantity, symbol, id)
	return &OrderResult{OrderID: id}, nil
}

// Positions returns the simulated net positions.
func (p *PaperBroker) Positions(_ context.Context) ([]PositionItem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	items := make([]PositionItem, 0, len(p.positions))
	for symbol, qty := range p.positions {
		items = append(items, PositionItem{Symbol: symbol, Quantity: qty})
	}
	return items, nil
}

// Ensure PaperBroker implements Broker at compile time.
var _ Broker = (*PaperBroker)(nil)
