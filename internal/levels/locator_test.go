package levels

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunvm/pivot_sentry/internal/broker"
	"github.com/arjunvm/pivot_sentry/internal/models"
)

// stubBroker implements broker.Broker for locator and cache tests.
type stubBroker struct {
	daily      func(day time.Time) (models.Candle, error)
	dailyCalls []time.Time
}

func (s *stubBroker) FetchDailyCandle(_ context.Context, _ int64, day time.Time) (models.Candle, error) {
	s.dailyCalls = append(s.dailyCalls, day)
	return s.daily(day)
}

func (s *stubBroker) FetchIntervalCandles(context.Context, int64, int, time.Time, time.Time) ([]models.Candle, error) {
	return nil, errors.New("not implemented")
}

func (s *stubBroker) PlaceOrder(context.Context, string, models.Direction, int) (*broker.OrderResult, error) {
	return nil, errors.New("not implemented")
}

func (s *stubBroker) ExitOrder(context.Context, string, int) (*broker.OrderResult, error) {
	return nil, errors.New("not implemented")
}

func (s *stubBroker) Positions(context.Context) ([]broker.PositionItem, error) {
	return nil, errors.New("not implemented")
}

var _ broker.Broker = (*stubBroker)(nil)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestLocator_FindsYesterday(t *testing.T) {
	want := models.Candle{
		Timestamp: time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
		Open:      24650, High: 24800, Low: 24600, Close: 24750,
	}
	stub := &stubBroker{daily: func(time.Time) (models.Candle, error) { return want, nil }}
	loc := NewLocator(stub, quietLogger(), time.UTC, 10)

	// Wednesday; yesterday is a trading day.
	ref := time.Date(2025, 6, 4, 10, 0, 0, 0, time.UTC)
	got, err := loc.LastTradingDayOHLCBefore(context.Background(), 256265, ref)
	require.NoError(t, err)
	assert.Equal(t, want.Close, got.Close)
	require.Len(t, stub.dailyCalls, 1)
	assert.Equal(t, time.Tuesday, stub.dailyCalls[0].Weekday())
}

func TestLocator_SkipsWeekendWithoutFetching(t *testing.T) {
	want := models.Candle{High: 24800, Low: 24600, Close: 24750,
		Timestamp: time.Date(2025, 6, 6, 0, 0, 0, 0, time.UTC)}
	stub := &stubBroker{daily: func(time.Time) (models.Candle, error) { return want, nil }}
	loc := NewLocator(stub, quietLogger(), time.UTC, 10)

	// Monday; Sunday and Saturday are skipped, Friday is fetched.
	ref := time.Date(2025, 6, 9, 10, 0, 0, 0, time.UTC)
	got, err := loc.LastTradingDayOHLCBefore(context.Background(), 256265, ref)
	require.NoError(t, err)
	assert.Equal(t, want.Close, got.Close)
	require.Len(t, stub.dailyCalls, 1)
	assert.Equal(t, time.Friday, stub.dailyCalls[0].Weekday())
}

func TestLocator_HolidayGapAdvances(t *testing.T) {
	tradingDay := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC) // Monday
	stub := &stubBroker{daily: func(day time.Time) (models.Candle, error) {
		if day.Year() == 2025 && day.Month() == time.June && day.Day() == 2 {
			return models.Candle{Timestamp: tradingDay, High: 24800, Low: 24600, Close: 24750}, nil
		}
		return models.Candle{}, broker.ErrNoCandleData
	}}
	loc := NewLocator(stub, quietLogger(), time.UTC, 10)

	// Wednesday; Tuesday is a holiday, Monday has data.
	ref := time.Date(2025, 6, 4, 10, 0, 0, 0, time.UTC)
	got, err := loc.LastTradingDayOHLCBefore(context.Background(), 256265, ref)
	require.NoError(t, err)
	assert.Equal(t, 24750.0, got.Close)
	assert.Len(t, stub.dailyCalls, 2)
}

func TestLocator_FetchErrorTreatedAsNoData(t *testing.T) {
	calls := 0
	stub := &stubBroker{daily: func(day time.Time) (models.Candle, error) {
		calls++
		if calls == 1 {
			return models.Candle{}, errors.New("connection reset")
		}
		return models.Candle{Timestamp: day, High: 24800, Low: 24600, Close: 24750}, nil
	}}
	loc := NewLocator(stub, quietLogger(), time.UTC, 10)

	ref := time.Date(2025, 6, 5, 10, 0, 0, 0, time.UTC) // Thursday
	got, err := loc.LastTradingDayOHLCBefore(context.Background(), 256265, ref)
	require.NoError(t, err)
	assert.Equal(t, 24750.0, got.Close)
	// No same-day retry: the failed Wednesday is not revisited.
	assert.Equal(t, 2, calls)
}

func TestLocator_BudgetExhausted(t *testing.T) {
	stub := &stubBroker{daily: func(time.Time) (models.Candle, error) {
		return models.Candle{}, broker.ErrNoCandleData
	}}
	loc := NewLocator(stub, quietLogger(), time.UTC, 10)

	// Wednesday anchor: the 10 calendar days walked back (Jun 3 .. May 25)
	// contain 7 weekdays and 3 weekend days; only weekdays are fetched but
	// weekend days still consume budget.
	ref := time.Date(2025, 6, 4, 10, 0, 0, 0, time.UTC)
	_, err := loc.LastTradingDayOHLCBefore(context.Background(), 256265, ref)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoTradingData)
	assert.Len(t, stub.dailyCalls, 7)
}

func TestLocator_ContextCancellation(t *testing.T) {
	stub := &stubBroker{daily: func(time.Time) (models.Candle, error) {
		return models.Candle{}, broker.ErrNoCandleData
	}}
	loc := NewLocator(stub, quietLogger(), time.UTC, 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := loc.LastTradingDayOHLCBefore(ctx, 256265, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
