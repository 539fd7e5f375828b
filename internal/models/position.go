package models

import (
	"fmt"
	"time"
)

// Direction is the option side a trade is taken on.
type Direction string

const (
	// DirectionCE is a call option entry (long bias on the index).
	DirectionCE Direction = "CE"
	// DirectionPE is a put option entry (short bias on the index).
	DirectionPE Direction = "PE"
)

// Valid returns true if the Direction is one of the defined constants.
func (d Direction) Valid() bool {
	return d == DirectionCE || d == DirectionPE
}

// Signal is the action the evaluator recommends for the current candle.
type Signal string

const (
	SignalBuy      Signal = "buy"
	SignalSell     Signal = "sell"
	SignalExit     Signal = "exit"
	SignalNoAction Signal = "no_action"
)

// Decision is the evaluator's output for one candle: what to do, on which
// option side, and why. It is advisory; the position book applies it.
type Decision struct {
	Signal    Signal
	Direction Direction
	Reason    string
}

// NoAction is the zero decision returned when no rule fires.
var NoAction = Decision{Signal: SignalNoAction, Reason: "price is in a neutral zone"}

// Position is the single open trade slot. At most one position exists at a
// time; the book enforces that.
type Position struct {
	ID         string    `json:"id"`
	Direction  Direction `json:"direction"`
	Symbol     string    `json:"symbol"` // tradable option symbol, e.g. NIFTY25O0724800CE
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
}

func (p *Position) String() string {
	return fmt.Sprintf("%s %s @ %.2f", p.Symbol, p.Direction, p.EntryPrice)
}

// TradeEventKind distinguishes entry and exit audit records.
type TradeEventKind string

const (
	TradeEntry TradeEventKind = "entry"
	TradeExit  TradeEventKind = "exit"
)

// TradeEvent is a one-way audit record of an order the book placed.
type TradeEvent struct {
	PositionID string         `json:"position_id"`
	Kind       TradeEventKind `json:"kind"`
	Symbol     string         `json:"symbol"`
	Direction  Direction      `json:"direction"`
	Price      float64        `json:"price"` // index close that triggered the order
	Time       time.Time      `json:"time"`
	Reason     string         `json:"reason"`
}
