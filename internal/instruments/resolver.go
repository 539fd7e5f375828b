// Package instruments resolves which index the bot trades on a given day.
// The exchange runs different weekly expiries on different weekdays, so
// Monday or Friday may map to a different index than midweek.
package instruments

import (
	"fmt"
	"log"
	"time"

	"github.com/arjunvm/pivot_sentry/internal/config"
)

// Resolver picks the instrument for a trading day from configuration.
type Resolver struct {
	cfg    *config.Config
	logger *log.Logger
}

// NewResolver creates an instrument resolver.
func NewResolver(cfg *config.Config, logger *log.Logger) *Resolver {
	return &Resolver{cfg: cfg, logger: logger}
}

// ForDay returns the instrument tradable on the given day in the exchange
// zone. Weekends resolve to an error; the scheduler never trades them.
func (r *Resolver) ForDay(day time.Time) (config.Instrument, error) {
	wd := day.In(r.cfg.Location()).Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return config.Instrument{}, fmt.Errorf("no tradable instrument on %s", wd)
	}

	inst := r.cfg.InstrumentFor(wd)
	r.logger.Printf("Instrument for %s: %s (token %d)", wd, inst.Symbol, inst.Token)
	return inst, nil
}
