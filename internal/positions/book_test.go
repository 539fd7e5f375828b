package positions

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arjunvm/pivot_sentry/internal/broker"
	"github.com/arjunvm/pivot_sentry/internal/config"
	"github.com/arjunvm/pivot_sentry/internal/models"
	"github.com/arjunvm/pivot_sentry/internal/storage"
)

type orderCall struct {
	kind      string // "place" | "exit"
	symbol    string
	direction models.Direction
	quantity  int
}

type fakeExecutor struct {
	calls    []orderCall
	placeErr error
	exitErr  error
}

func (f *fakeExecutor) PlaceWithRetry(_ context.Context, symbol string,
	direction models.Direction, quantity int) (*broker.OrderResult, error) {
	f.calls = append(f.calls, orderCall{kind: "place", symbol: symbol, direction: direction, quantity: quantity})
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return &broker.OrderResult{OrderID: "order-1"}, nil
}

func (f *fakeExecutor) ExitWithRetry(_ context.Context, symbol string,
	quantity int) (*broker.OrderResult, error) {
	f.calls = append(f.calls, orderCall{kind: "exit", symbol: symbol, quantity: quantity})
	if f.exitErr != nil {
		return nil, f.exitErr
	}
	return &broker.OrderResult{OrderID: "order-2"}, nil
}

type fakeBroker struct {
	positions    []broker.PositionItem
	positionsErr error
}

func (f *fakeBroker) FetchDailyCandle(context.Context, int64, time.Time) (models.Candle, error) {
	return models.Candle{}, errors.New("not implemented")
}

func (f *fakeBroker) FetchIntervalCandles(context.Context, int64, int, time.Time, time.Time) ([]models.Candle, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBroker) PlaceOrder(context.Context, string, models.Direction, int) (*broker.OrderResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBroker) ExitOrder(context.Context, string, int) (*broker.OrderResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBroker) Positions(context.Context) ([]broker.PositionItem, error) {
	return f.positions, f.positionsErr
}

type fakeRecorder struct {
	events []models.TradeEvent
}

func (f *fakeRecorder) Record(event models.TradeEvent) error {
	f.events = append(f.events, event)
	return nil
}

func testInstrument() config.Instrument {
	return config.Instrument{
		Symbol:       "NIFTY",
		Token:        256265,
		OptionPrefix: "NIFTY",
		ExpiryCode:   "25O07",
		StrikeWidth:  100,
	}
}

func testBook(t *testing.T, exec *fakeExecutor, b *fakeBroker) (*Book, storage.Interface, *fakeRecorder) {
	t.Helper()

	store, err := storage.NewJSONStorage(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	recorder := &fakeRecorder{}
	logger := log.New(os.Stderr, "[test] ", log.LstdFlags)
	return NewBook(exec, b, store, recorder, logger, 75), store, recorder
}

var tickTime = time.Date(2025, 6, 4, 10, 30, 0, 0, time.UTC)

func TestApply_FlatBuyEnters(t *testing.T) {
	exec := &fakeExecutor{}
	book, store, recorder := testBook(t, exec, &fakeBroker{})

	decision := models.Decision{Signal: models.SignalBuy, Direction: models.DirectionCE, Reason: "price is above TC within buffer"}
	err := book.Apply(context.Background(), decision, 24851, testInstrument(), tickTime)
	require.NoError(t, err)

	require.Len(t, exec.calls, 1)
	assert.Equal(t, "place", exec.calls[0].kind)
	assert.Equal(t, "NIFTY25O0724900CE", exec.calls[0].symbol)
	assert.Equal(t, models.DirectionCE, exec.calls[0].direction)
	assert.Equal(t, 75, exec.calls[0].quantity)

	pos := book.Current()
	require.NotNil(t, pos)
	assert.Equal(t, models.DirectionCE, pos.Direction)
	assert.Equal(t, 24851.0, pos.EntryPrice)
	assert.NotEmpty(t, pos.ID)

	require.NotNil(t, store.CurrentPosition())
	require.Len(t, recorder.events, 1)
	assert.Equal(t, models.TradeEntry, recorder.events[0].Kind)
	assert.Equal(t, pos.ID, recorder.events[0].PositionID)
}

func TestApply_FlatSellEntersPE(t *testing.T) {
	exec := &fakeExecutor{}
	book, _, _ := testBook(t, exec, &fakeBroker{})

	decision := models.Decision{Signal: models.SignalSell, Direction: models.DirectionPE, Reason: "price is below BC within buffer"}
	err := book.Apply(context.Background(), decision, 24820, testInstrument(), tickTime)
	require.NoError(t, err)

	require.Len(t, exec.calls, 1)
	assert.Equal(t, "NIFTY25O0724800PE", exec.calls[0].symbol)
}

func TestApply_SameDirectionIsNoOp(t *testing.T) {
	exec := &fakeExecutor{}
	book, _, _ := testBook(t, exec, &fakeBroker{})

	buy := models.Decision{Signal: models.SignalBuy, Direction: models.DirectionCE, Reason: "r"}
	require.NoError(t, book.Apply(context.Background(), buy, 24851, testInstrument(), tickTime))
	require.NoError(t, book.Apply(context.Background(), buy, 24880, testInstrument(), tickTime))

	require.Len(t, exec.calls, 1)
	pos := book.Current()
	require.NotNil(t, pos)
	assert.Equal(t, 24851.0, pos.EntryPrice, "repeated signal must not refresh the entry")
}

func TestApply_ExitClearsSlot(t *testing.T) {
	exec := &fakeExecutor{}
	book, store, recorder := testBook(t, exec, &fakeBroker{})

	buy := models.Decision{Signal: models.SignalBuy, Direction: models.DirectionCE, Reason: "r"}
	require.NoError(t, book.Apply(context.Background(), buy, 24851, testInstrument(), tickTime))

	exit := models.Decision{Signal: models.SignalExit, Direction: models.DirectionCE, Reason: "price is within CPR range"}
	require.NoError(t, book.Apply(context.Background(), exit, 24700, testInstrument(), tickTime))

	require.Len(t, exec.calls, 2)
	assert.Equal(t, "exit", exec.calls[1].kind)
	assert.Equal(t, "NIFTY25O0724900CE", exec.calls[1].symbol)

	assert.Nil(t, book.Current())
	assert.Nil(t, store.CurrentPosition())
	require.Len(t, recorder.events, 2)
	assert.Equal(t, models.TradeExit, recorder.events[1].Kind)
}

func TestApply_ExitWhenFlatIsNoOp(t *testing.T) {
	exec := &fakeExecutor{}
	book, _, _ := testBook(t, exec, &fakeBroker{})

	exit := models.Decision{Signal: models.SignalExit, Reason: "r"}
	require.NoError(t, book.Apply(context.Background(), exit, 24700, testInstrument(), tickTime))
	assert.Empty(t, exec.calls)
}

func TestApply_OppositeDirectionFlips(t *testing.T) {
	exec := &fakeExecutor{}
	book, _, recorder := testBook(t, exec, &fakeBroker{})

	buy := models.Decision{Signal: models.SignalBuy, Direction: models.DirectionCE, Reason: "r"}
	require.NoError(t, book.Apply(context.Background(), buy, 24851, testInstrument(), tickTime))

	sell := models.Decision{Signal: models.SignalSell, Direction: models.DirectionPE, Reason: "price is below s1 (24633.33) within buffer"}
	require.NoError(t, book.Apply(context.Background(), sell, 24620, testInstrument(), tickTime))

	require.Len(t, exec.calls, 3)
	assert.Equal(t, "exit", exec.calls[1].kind)
	assert.Equal(t, "NIFTY25O0724900CE", exec.calls[1].symbol)
	assert.Equal(t, "place", exec.calls[2].kind)
	assert.Equal(t, "NIFTY25O0724600PE", exec.calls[2].symbol)

	pos := book.Current()
	require.NotNil(t, pos)
	assert.Equal(t, models.DirectionPE, pos.Direction)

	require.Len(t, recorder.events, 3)
	assert.Equal(t, models.TradeExit, recorder.events[1].Kind)
	assert.Equal(t, models.TradeEntry, recorder.events[2].Kind)
}

func TestApply_FlipAbortsWhenExitFails(t *testing.T) {
	exec := &fakeExecutor{}
	bk := &fakeBroker{positions: []broker.PositionItem{{Symbol: "NIFTY25O0724900CE", Quantity: 75}}}
	book, _, _ := testBook(t, exec, bk)

	buy := models.Decision{Signal: models.SignalBuy, Direction: models.DirectionCE, Reason: "r"}
	require.NoError(t, book.Apply(context.Background(), buy, 24851, testInstrument(), tickTime))

	exec.exitErr = errors.New("order rejected")
	sell := models.Decision{Signal: models.SignalSell, Direction: models.DirectionPE, Reason: "r"}
	err := book.Apply(context.Background(), sell, 24620, testInstrument(), tickTime)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flip aborted")

	// Broker still holds the CE leg, so the slot is kept and no PE entry
	// was attempted.
	pos := book.Current()
	require.NotNil(t, pos)
	assert.Equal(t, models.DirectionCE, pos.Direction)
	require.Len(t, exec.calls, 2)
	assert.Equal(t, "exit", exec.calls[1].kind)
}

func TestApply_EntryFailureReconcilesToFlat(t *testing.T) {
	exec := &fakeExecutor{placeErr: errors.New("insufficient funds")}
	book, store, recorder := testBook(t, exec, &fakeBroker{})

	buy := models.Decision{Signal: models.SignalBuy, Direction: models.DirectionCE, Reason: "r"}
	err := book.Apply(context.Background(), buy, 24851, testInstrument(), tickTime)
	require.Error(t, err)

	assert.Nil(t, book.Current())
	assert.Nil(t, store.CurrentPosition())
	assert.Empty(t, recorder.events)
}

func TestApply_ExitFailureKeepsSlotWhenBrokerErrs(t *testing.T) {
	exec := &fakeExecutor{}
	bk := &fakeBroker{positionsErr: errors.New("unavailable")}
	book, _, _ := testBook(t, exec, bk)

	buy := models.Decision{Signal: models.SignalBuy, Direction: models.DirectionCE, Reason: "r"}
	require.NoError(t, book.Apply(context.Background(), buy, 24851, testInstrument(), tickTime))

	exec.exitErr = errors.New("order rejected")
	exit := models.Decision{Signal: models.SignalExit, Reason: "r"}
	err := book.Apply(context.Background(), exit, 24700, testInstrument(), tickTime)
	require.Error(t, err)

	// Reconciliation could not reach the broker; the local slot stands.
	assert.NotNil(t, book.Current())
}

func TestApply_ExitFailureClearsWhenBrokerIsFlat(t *testing.T) {
	exec := &fakeExecutor{}
	bk := &fakeBroker{} // broker reports no holdings
	book, store, _ := testBook(t, exec, bk)

	buy := models.Decision{Signal: models.SignalBuy, Direction: models.DirectionCE, Reason: "r"}
	require.NoError(t, book.Apply(context.Background(), buy, 24851, testInstrument(), tickTime))

	exec.exitErr = errors.New("order rejected")
	exit := models.Decision{Signal: models.SignalExit, Reason: "r"}
	err := book.Apply(context.Background(), exit, 24700, testInstrument(), tickTime)
	require.Error(t, err)

	assert.Nil(t, book.Current())
	assert.Nil(t, store.CurrentPosition())
}

func TestApply_NoActionDoesNothing(t *testing.T) {
	exec := &fakeExecutor{}
	book, _, _ := testBook(t, exec, &fakeBroker{})

	require.NoError(t, book.Apply(context.Background(), models.NoAction, 24700, testInstrument(), tickTime))
	assert.Empty(t, exec.calls)
}

func TestReload_RestoresOpenPosition(t *testing.T) {
	store, err := storage.NewJSONStorage(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)

	saved := &models.Position{
		ID:         "pos-1",
		Direction:  models.DirectionPE,
		Symbol:     "NIFTY25O0724600PE",
		EntryPrice: 24620,
		EntryTime:  tickTime,
	}
	require.NoError(t, store.SetCurrentPosition(saved))

	logger := log.New(os.Stderr, "[test] ", log.LstdFlags)
	book := NewBook(&fakeExecutor{}, &fakeBroker{}, store, nil, logger, 75)
	book.Reload()

	pos := book.Current()
	require.NotNil(t, pos)
	assert.Equal(t, "pos-1", pos.ID)
	assert.Equal(t, models.DirectionPE, pos.Direction)
}

func TestOptionSymbol(t *testing.T) {
	inst := testInstrument()

	tests := []struct {
		price     float64
		direction models.Direction
		want      string
	}{
		{24851, models.DirectionCE, "NIFTY25O0724900CE"},
		{24850, models.DirectionCE, "NIFTY25O0724800CE"},
		{24820, models.DirectionPE, "NIFTY25O0724800PE"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, optionSymbol(inst, tt.price, tt.direction))
	}
}
