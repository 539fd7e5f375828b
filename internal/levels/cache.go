package levels

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/arjunvm/pivot_sentry/internal/models"
	"github.com/arjunvm/pivot_sentry/internal/storage"
)

// Cache guarantees at-most-once-per-day level computation. The first request
// for a trading day runs locate+calculate+persist; every later request (same
// process or after a restart) returns the persisted set unchanged, even if
// recomputation would now differ.
type Cache struct {
	locator  *Locator
	store    storage.Interface
	logger   *log.Logger
	location *time.Location
	group    singleflight.Group
}

// NewCache creates a daily level cache backed by the given store. The
// location is the exchange zone the trading day is keyed in.
func NewCache(locator *Locator, store storage.Interface, logger *log.Logger,
	location *time.Location) *Cache {
	return &Cache{
		locator:  locator,
		store:    store,
		logger:   logger,
		location: location,
	}
}

// Resolve returns the level set for forDay's trading day, computing and
// persisting it on first request. Concurrent calls for the same day are
// collapsed into one locate+calculate pass. The instant is normalized to
// exchange-zone midnight first, so two instants inside the same trading
// day always share one key no matter what zone the caller's clock is in.
func (c *Cache) Resolve(ctx context.Context, token int64, forDay time.Time) (*models.LevelSet, error) {
	local := forDay.In(c.location)
	forDay = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.location)
	key := forDay.Format("2006-01-02")

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if existing, err := c.store.LevelSet(forDay); err == nil {
			return existing, nil
		} else if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("loading level set: %w", err)
		}

		ohlc, err := c.locator.LastTradingDayOHLCBefore(ctx, token, forDay)
		if err != nil {
			return nil, err
		}

		levels := Calculate(ohlc, forDay)
		if err := c.store.SaveLevelSet(&levels); err != nil {
			return nil, fmt.Errorf("persisting level set: %w", err)
		}

		c.logger.Printf("Levels for %s from %s candle: pivot=%.2f tc=%.2f bc=%.2f buffer=%.0f",
			key, ohlc.Timestamp.Format("2006-01-02"), levels.Pivot, levels.TC, levels.BC, levels.Buffer)
		return &levels, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.LevelSet), nil
}
