// Package positions holds the single-slot position book. It applies
// evaluator decisions: entering when flat, exiting on exit signals, and
// flipping when a signal points the other way.
package positions

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arjunvm/pivot_sentry/internal/broker"
	"github.com/arjunvm/pivot_sentry/internal/config"
	"github.com/arjunvm/pivot_sentry/internal/models"
	"github.com/arjunvm/pivot_sentry/internal/storage"
	"github.com/arjunvm/pivot_sentry/internal/util"
)

// OrderExecutor places and exits orders, absorbing transient broker failures.
type OrderExecutor interface {
	PlaceWithRetry(ctx context.Context, symbol string, direction models.Direction, quantity int) (*broker.OrderResult, error)
	ExitWithRetry(ctx context.Context, symbol string, quantity int) (*broker.OrderResult, error)
}

// Recorder receives trade audit events. Failures are logged, never fatal.
type Recorder interface {
	Record(event models.TradeEvent) error
}

// Book tracks the one position the bot may hold and applies decisions to it.
// All transitions run under a single mutex so concurrent ticks cannot race
// the slot.
type Book struct {
	mu       sync.Mutex
	orders   OrderExecutor
	broker   broker.Broker
	store    storage.Interface
	recorder Recorder // nil disables the audit trail
	logger   *log.Logger
	quantity int

	current *models.Position
}

// NewBook creates a position book. The broker is used only for position
// reconciliation; order flow goes through the executor.
func NewBook(orders OrderExecutor, b broker.Broker, store storage.Interface,
	recorder Recorder, logger *log.Logger, quantity int) *Book {
	return &Book{
		orders:   orders,
		broker:   b,
		store:    store,
		recorder: recorder,
		logger:   logger,
		quantity: quantity,
	}
}

// Reload restores the open position slot from storage. Called once at
// startup so a restart mid-session does not orphan an open trade.
func (b *Book) Reload() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = b.store.CurrentPosition()
	if b.current != nil {
		b.logger.Printf("Restored open position: %s", b.current)
	}
}

// Current returns a copy of the open position, or nil when flat.
func (b *Book) Current() *models.Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return nil
	}
	cp := *b.current
	return &cp
}

// Apply executes one evaluator decision against the slot. price is the index
// close that produced the decision; inst supplies the option symbol grid.
//
// Transitions:
//   - flat  + buy/sell  -> enter
//   - open  + exit      -> exit
//   - open  + same side -> no-op
//   - open  + opposite  -> exit then enter (flip)
//
// Anything else is a no-op.
func (b *Book) Apply(ctx context.Context, decision models.Decision,
	price float64, inst config.Instrument, now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch decision.Signal {
	case models.SignalNoAction:
		return nil

	case models.SignalExit:
		if b.current == nil {
			return nil
		}
		return b.exitLocked(ctx, price, now, decision.Reason)

	case models.SignalBuy, models.SignalSell:
		if !decision.Direction.Valid() {
			return fmt.Errorf("decision %s carries invalid direction %q", decision.Signal, decision.Direction)
		}

		if b.current != nil {
			if b.current.Direction == decision.Direction {
				b.logger.Printf("Already holding %s, ignoring %s signal", b.current.Direction, decision.Signal)
				return nil
			}
			// Opposite side: flip. The exit must land before the entry so
			// the slot never holds two positions.
			b.logger.Printf("Flipping %s -> %s: %s", b.current.Direction, decision.Direction, decision.Reason)
			if err := b.exitLocked(ctx, price, now, decision.Reason); err != nil {
				return fmt.Errorf("flip aborted, exit leg failed: %w", err)
			}
		}
		return b.enterLocked(ctx, decision, price, inst, now)

	default:
		return fmt.Errorf("unknown signal %q", decision.Signal)
	}
}

func (b *Book) enterLocked(ctx context.Context, decision models.Decision,
	price float64, inst config.Instrument, now time.Time) error {
	symbol := optionSymbol(inst, price, decision.Direction)

	result, err := b.orders.PlaceWithRetry(ctx, symbol, decision.Direction, b.quantity)
	if err != nil {
		b.reconcileLocked(ctx)
		return fmt.Errorf("entry order for %s failed: %w", symbol, err)
	}

	pos := &models.Position{
		ID:         uuid.New().String(),
		Direction:  decision.Direction,
		Symbol:     symbol,
		EntryPrice: price,
		EntryTime:  now,
	}
	if err := b.store.SetCurrentPosition(pos); err != nil {
		return fmt.Errorf("failed to persist position %s: %w", pos.ID, err)
	}
	b.current = pos

	b.logger.Printf("Entered %s (order %s): %s", pos, result.OrderID, decision.Reason)
	b.recordEvent(models.TradeEvent{
		PositionID: pos.ID,
		Kind:       models.TradeEntry,
		Symbol:     symbol,
		Direction:  pos.Direction,
		Price:      price,
		Time:       now,
		Reason:     decision.Reason,
	})
	return nil
}

func (b *Book) exitLocked(ctx context.Context, price float64, now time.Time, reason string) error {
	pos := b.current

	result, err := b.orders.ExitWithRetry(ctx, pos.Symbol, b.quantity)
	if err != nil {
		b.reconcileLocked(ctx)
		return fmt.Errorf("exit order for %s failed: %w", pos.Symbol, err)
	}

	if err := b.store.ClearPosition(); err != nil {
		return fmt.Errorf("failed to clear position %s: %w", pos.ID, err)
	}
	b.current = nil

	b.logger.Printf("Exited %s (order %s): %s", pos, result.OrderID, reason)
	b.recordEvent(models.TradeEvent{
		PositionID: pos.ID,
		Kind:       models.TradeExit,
		Symbol:     pos.Symbol,
		Direction:  pos.Direction,
		Price:      price,
		Time:       now,
		Reason:     reason,
	})
	return nil
}

// reconcileLocked re-syncs the slot with the broker after an order failure.
// If the broker no longer reports our symbol, the slot is cleared; if it
// does, the slot is kept. A broker error leaves the slot untouched.
func (b *Book) reconcileLocked(ctx context.Context) {
	if b.current == nil {
		return
	}

	held, err := b.broker.Positions(ctx)
	if err != nil {
		b.logger.Printf("Reconciliation failed, keeping local position %s: %v", b.current.Symbol, err)
		return
	}

	for _, p := range held {
		if p.Symbol == b.current.Symbol && p.Quantity != 0 {
			b.logger.Printf("Broker still holds %s (qty %d), keeping position", p.Symbol, p.Quantity)
			return
		}
	}

	b.logger.Printf("Broker no longer holds %s, clearing position", b.current.Symbol)
	if err := b.store.ClearPosition(); err != nil {
		b.logger.Printf("Failed to clear reconciled position: %v", err)
		return
	}
	b.current = nil
}

func (b *Book) recordEvent(event models.TradeEvent) {
	if err := b.store.AppendTrade(event); err != nil {
		b.logger.Printf("Failed to append trade event: %v", err)
	}
	if b.recorder == nil {
		return
	}
	if err := b.recorder.Record(event); err != nil {
		b.logger.Printf("Failed to journal trade event: %v", err)
	}
}

// optionSymbol builds the tradable weekly option symbol for an index price,
// e.g. NIFTY25O0724800CE.
func optionSymbol(inst config.Instrument, price float64, direction models.Direction) string {
	strike := int64(util.NearestStrike(price, inst.StrikeWidth))
	return fmt.Sprintf("%s%s%d%s", inst.OptionPrefix, inst.ExpiryCode, strike, direction)
}
