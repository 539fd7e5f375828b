// Package broker provides trading API clients for market data and order
// execution. It includes the Kite Connect REST client used for index candle
// fetches and option order placement.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arjunvm/pivot_sentry/internal/models"
)

const (
	defaultBaseURL = "https://api.kite.trade"
	// kiteVersion is the API version header Kite Connect requires.
	kiteVersion = "3"
	// defaultTimeout bounds every HTTP call; the scheduler treats a timeout
	// as a fetch failure, never as fatal.
	defaultTimeout = 10 * time.Second

	// kiteTimeFormat is the candle timestamp layout, e.g. 2025-06-03T09:15:00+0530.
	kiteTimeFormat = "2006-01-02T15:04:05-0700"
	// kiteQueryFormat is the from/to query parameter layout.
	kiteQueryFormat = "2006-01-02 15:04:05"
)

// APIError represents an API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// KiteAPI is a Kite Connect REST client implementing the Broker interface.
type KiteAPI struct {
	client   *http.Client
	baseURL  string
	apiKey   string
	exchange string // option order exchange, e.g. NFO
	product  string // MIS | NRML
	timeout  time.Duration

	mu          sync.RWMutex
	accessToken string
}

// NewKiteAPI creates a Kite Connect client with default settings.
func NewKiteAPI(apiKey, accessToken string) *KiteAPI {
	return NewKiteAPIWithBaseURL(apiKey, accessToken, "")
}

// NewKiteAPIWithBaseURL creates a Kite Connect client against a custom base
// URL (tests point this at an httptest server).
func NewKiteAPIWithBaseURL(apiKey, accessToken, baseURL string) *KiteAPI {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &KiteAPI{
		client:      &http.Client{Timeout: defaultTimeout},
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		accessToken: accessToken,
		exchange:    "NFO",
		product:     "MIS",
		timeout:     defaultTimeout,
	}
}

// WithExchange sets the exchange option orders are routed to.
func (k *KiteAPI) WithExchange(exchange string) *KiteAPI {
	if exchange != "" {
		k.exchange = exchange
	}
	return k
}

// WithProduct sets the product type for option orders.
func (k *KiteAPI) WithProduct(product string) *KiteAPI {
	if product != "" {
		k.product = product
	}
	return k
}

// SetAccessToken swaps in a fresh session token. Safe for concurrent use;
// the daily credential refresh calls this from the scheduler tick.
func (k *KiteAPI) SetAccessToken(token string) {
	k.mu.Lock()
	k.accessToken = token
	k.mu.Unlock()
}

func (k *KiteAPI) authHeader() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return "token " + k.apiKey + ":" + k.accessToken
}

// kiteEnvelope is the common Kite Connect response wrapper.
type kiteEnvelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

func (k *KiteAPI) do(ctx context.Context, method, path string, query url.Values,
	form url.Values) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	u := k.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Kite-Version", kiteVersion)
	req.Header.Set("Authorization", k.authHeader())
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var env kiteEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if env.Status != "success" {
		return nil, fmt.Errorf("kite %s: %s", env.ErrorType, env.Message)
	}
	return env.Data, nil
}

// historicalData mirrors the Kite historical candles payload: each candle is
// a positional array [timestamp, open, high, low, close, volume].
type historicalData struct {
	Candles [][]json.RawMessage `json:"candles"`
}

func parseCandle(raw []json.RawMessage) (models.Candle, error) {
	var c models.Candle
	if len(raw) < 5 {
		return c, fmt.Errorf("candle has %d fields, expected at least 5", len(raw))
	}

	var ts string
	if err := json.Unmarshal(raw[0], &ts); err != nil {
		return c, fmt.Errorf("candle timestamp: %w", err)
	}
	t, err := time.Parse(kiteTimeFormat, ts)
	if err != nil {
		// Daily candles come back date-only on some feeds.
		t, err = time.Parse("2006-01-02", ts)
		if err != nil {
			return c, fmt.Errorf("parsing candle timestamp %q: %w", ts, err)
		}
	}
	c.Timestamp = t

	fields := []*float64{&c.Open, &c.High, &c.Low, &c.Close}
	for i, dst := range fields {
		if err := json.Unmarshal(raw[i+1], dst); err != nil {
			return c, fmt.Errorf("candle field %d: %w", i+1, err)
		}
	}
	return c, nil
}

func (k *KiteAPI) fetchCandles(ctx context.Context, token int64, interval string,
	from, to time.Time) ([]models.Candle, error) {
	query := url.Values{}
	query.Set("from", from.Format(kiteQueryFormat))
	query.Set("to", to.Format(kiteQueryFormat))

	path := fmt.Sprintf("/instruments/historical/%d/%s", token, interval)
	data, err := k.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return nil, err
	}

	var hist historicalData
	if err := json.Unmarshal(data, &hist); err != nil {
		return nil, fmt.Errorf("decoding candles: %w", err)
	}

	candles := make([]models.Candle, 0, len(hist.Candles))
	for _, raw := range hist.Candles {
		c, err := parseCandle(raw)
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// FetchDailyCandle returns the daily bar for one calendar day.
func (k *KiteAPI) FetchDailyCandle(ctx context.Context, token int64,
	day time.Time) (models.Candle, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	to := from.Add(24*time.Hour - time.Second)

	candles, err := k.fetchCandles(ctx, token, "day", from, to)
	if err != nil {
		return models.Candle{}, err
	}
	if len(candles) == 0 {
		return models.Candle{}, ErrNoCandleData
	}
	return candles[0], nil
}

// FetchIntervalCandles returns intraday bars at the given minute interval.
func (k *KiteAPI) FetchIntervalCandles(ctx context.Context, token int64,
	intervalMinutes int, from, to time.Time) ([]models.Candle, error) {
	interval := strconv.Itoa(intervalMinutes) + "minute"
	return k.fetchCandles(ctx, token, interval, from, to)
}

// PlaceOrder submits a market buy for the option symbol. Entries are always
// long the option; the Direction only selects which symbol was built.
func (k *KiteAPI) PlaceOrder(ctx context.Context, symbol string,
	direction models.Direction, quantity int) (*OrderResult, error) {
	if !direction.Valid() {
		return nil, fmt.Errorf("invalid direction %q", direction)
	}
	return k.placeRegularOrder(ctx, symbol, "BUY", quantity)
}

// ExitOrder submits a market sell closing the held option symbol.
func (k *KiteAPI) ExitOrder(ctx context.Context, symbol string,
	quantity int) (*OrderResult, error) {
	return k.placeRegularOrder(ctx, symbol, "SELL", quantity)
}

func (k *KiteAPI) placeRegularOrder(ctx context.Context, symbol, txnType string,
	quantity int) (*OrderResult, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be > 0, got %d", quantity)
	}

	form := url.Values{}
	form.Set("tradingsymbol", symbol)
	form.Set("exchange", k.exchange)
	form.Set("transaction_type", txnType)
	form.Set("order_type", "MARKET")
	form.Set("quantity", strconv.Itoa(quantity))
	form.Set("product", k.product)
	form.Set("validity", "DAY")

	data, err := k.do(ctx, http.MethodPost, "/orders/regular", nil, form)
	if err != nil {
		return nil, fmt.Errorf("placing %s order for %s: %w", txnType, symbol, err)
	}

	var result OrderResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding order response: %w", err)
	}
	if result.OrderID == "" {
		return nil, fmt.Errorf("broker returned empty order id for %s", symbol)
	}
	return &result, nil
}

// positionsData mirrors the Kite net positions payload.
type positionsData struct {
	Net []PositionItem `json:"net"`
}

// Positions returns the broker-side net positions.
func (k *KiteAPI) Positions(ctx context.Context) ([]PositionItem, error) {
	data, err := k.do(ctx, http.MethodGet, "/portfolio/positions", nil, nil)
	if err != nil {
		return nil, err
	}
	var pos positionsData
	if err := json.Unmarshal(data, &pos); err != nil {
		return nil, fmt.Errorf("decoding positions: %w", err)
	}
	return pos.Net, nil
}

// Ensure KiteAPI implements Broker at compile time.
var _ Broker = (*KiteAPI)(nil)
