package levels

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/arjunvm/pivot_sentry/internal/broker"
	"github.com/arjunvm/pivot_sentry/internal/models"
)

// ErrNoTradingData is returned when the backward walk exhausts its budget
// without finding a daily candle. Callers treat the day as unleveled.
var ErrNoTradingData = errors.New("no trading data found within lookback budget")

// Locator finds the most recent completed trading day's OHLC, tolerating
// weekends, market holidays and feed gaps.
type Locator struct {
	broker   broker.Broker
	logger   *log.Logger
	location *time.Location
	maxDays  int
}

// NewLocator creates a locator walking back at most maxDays calendar days.
func NewLocator(b broker.Broker, logger *log.Logger, location *time.Location, maxDays int) *Locator {
	return &Locator{
		broker:   b,
		logger:   logger,
		location: location,
		maxDays:  maxDays,
	}
}

// LastTradingDayOHLC walks backward from yesterday (exchange zone), one
// calendar day per iteration. Saturdays and Sundays are skipped without a
// fetch but still consume budget. A fetch failure is logged and treated the
// same as an empty day; the walk never retries the same date.
func (l *Locator) LastTradingDayOHLC(ctx context.Context, token int64) (models.Candle, error) {
	return l.LastTradingDayOHLCBefore(ctx, token, time.Now())
}

// LastTradingDayOHLCBefore is LastTradingDayOHLC anchored at an explicit
// reference time instead of the wall clock.
func (l *Locator) LastTradingDayOHLCBefore(ctx context.Context, token int64,
	ref time.Time) (models.Candle, error) {
	day := ref.In(l.location).AddDate(0, 0, -1)

	for i := 0; i < l.maxDays; i++ {
		if err := ctx.Err(); err != nil {
			return models.Candle{}, fmt.Errorf("historical lookup canceled: %w", err)
		}

		wd := day.Weekday()
		if wd != time.Saturday && wd != time.Sunday {
			candle, err := l.broker.FetchDailyCandle(ctx, token, day)
			switch {
			case err == nil && !candle.IsZero():
				return candle, nil
			case err != nil && !errors.Is(err, broker.ErrNoCandleData):
				l.logger.Printf("Error fetching daily candle for %s: %v",
					day.Format("2006-01-02"), err)
			}
		}

		day = day.AddDate(0, 0, -1)
	}

	l.logger.Printf("No trading data found in the last %d days", l.maxDays)
	return models.Candle{}, ErrNoTradingData
}
