// Package signal holds the pure decision function that turns a candle, the
// day's level set and the current position into a Buy/Sell/Exit decision.
package signal

import (
	"fmt"

	"github.com/arjunvm/pivot_sentry/internal/models"
)

// Evaluate decides the action for one interval candle. It is advisory and
// side-effect free; the position book applies the result.
//
// Rules fire in this precedence, first match wins:
//  1. TC band:  tc <= close <= tc+buffer            -> Buy/CE
//  2. BC band:  bc-buffer <= close <= bc            -> Sell/PE
//  3. Neutral zone with an open position:
//     bc < close < tc                               -> Exit
//  4. Resistance/support bands r1..r4,s1..s4; within this set a later
//     level's match overrides an earlier one (last wins).
//  5. Crossing exit: with an open position, the first level of
//     r1..r4,s1..s4,tc,bc the candle body crossed against the position.
func Evaluate(candle models.Candle, levels *models.LevelSet, open *models.Position) models.Decision {
	price := candle.Close
	buffer := levels.Buffer

	if price >= levels.TC && price <= levels.TC+buffer {
		return models.Decision{
			Signal:    models.SignalBuy,
			Direction: models.DirectionCE,
			Reason:    "price is above TC within buffer",
		}
	}

	if price <= levels.BC && price >= levels.BC-buffer {
		return models.Decision{
			Signal:    models.SignalSell,
			Direction: models.DirectionPE,
			Reason:    "price is below BC within buffer",
		}
	}

	if open != nil && price > levels.BC && price < levels.TC {
		return models.Decision{
			Signal:    models.SignalExit,
			Direction: open.Direction,
			Reason:    "price is within CPR range",
		}
	}

	// Band scan over r1..s4. The last matching level wins; the iteration
	// order is fixed, so the override behavior is deterministic.
	decision := models.NoAction
	for _, level := range levels.BandLevels() {
		switch {
		case price > level.Value && price <= level.Value+buffer:
			decision = models.Decision{
				Signal:    models.SignalBuy,
				Direction: models.DirectionCE,
				Reason:    fmt.Sprintf("price is above %s (%.2f) within buffer", level.Name, level.Value),
			}
		case price < level.Value && price >= level.Value-buffer:
			decision = models.Decision{
				Signal:    models.SignalSell,
				Direction: models.DirectionPE,
				Reason:    fmt.Sprintf("price is below %s (%.2f) within buffer", level.Name, level.Value),
			}
		}
	}
	if decision.Signal != models.SignalNoAction {
		return decision
	}

	if open != nil {
		for _, level := range levels.CrossingLevels() {
			if crossedAgainst(candle, level.Value, open.Direction) {
				return models.Decision{
					Signal:    models.SignalExit,
					Direction: open.Direction,
					Reason:    fmt.Sprintf("price crossed the level %s", level.Name),
				}
			}
		}
	}

	return models.NoAction
}

// crossedAgainst reports whether the candle body crossed the level in the
// direction that hurts the open position: upward through it for a PE
// position, downward for a CE position.
func crossedAgainst(candle models.Candle, level float64, dir models.Direction) bool {
	if dir == models.DirectionPE {
		return candle.Close > level && candle.Open < level
	}
	return candle.Close < level && candle.Open > level
}
