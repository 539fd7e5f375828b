// Package scheduler drives the polling loop. A one-second cron tick checks
// the clock against the configured market windows: the pre-market window
// resolves the day's instrument, credential, and level set; the trading
// window evaluates the latest interval candle and applies the decision to
// the position book.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/arjunvm/pivot_sentry/internal/broker"
	"github.com/arjunvm/pivot_sentry/internal/config"
	"github.com/arjunvm/pivot_sentry/internal/instruments"
	"github.com/arjunvm/pivot_sentry/internal/levels"
	"github.com/arjunvm/pivot_sentry/internal/models"
	"github.com/arjunvm/pivot_sentry/internal/positions"
	"github.com/arjunvm/pivot_sentry/internal/signal"
	"github.com/arjunvm/pivot_sentry/internal/storage"
)

// tickTimeout bounds one full tick: candle fetch, evaluation, order flow.
const tickTimeout = 45 * time.Second

// TokenSink receives the day's access token once the stored credential is
// resolved. The live Kite client implements it; the paper broker does not
// need it.
type TokenSink interface {
	SetAccessToken(token string)
}

// dailyState is everything resolved once per trading day before the open.
type dailyState struct {
	day        string // "2006-01-02" in the exchange zone
	instrument config.Instrument
	levels     *models.LevelSet
}

// Scheduler runs the 1s polling loop.
type Scheduler struct {
	cron   *cron.Cron
	cfg    *config.Config
	cache  *levels.Cache
	book   *positions.Book
	broker broker.Broker
	store  storage.Interface
	inst   *instruments.Resolver
	tokens TokenSink // nil when the broker needs no daily token
	logger *log.Logger
	now    func() time.Time

	mu         sync.Mutex
	today      *dailyState
	lastBucket time.Time
}

// New creates a scheduler. The cron job is registered but not started.
func New(cfg *config.Config, cache *levels.Cache, book *positions.Book,
	b broker.Broker, store storage.Interface, inst *instruments.Resolver,
	tokens TokenSink, logger *log.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cfg:    cfg,
		cache:  cache,
		book:   book,
		broker: b,
		store:  store,
		inst:   inst,
		tokens: tokens,
		logger: logger,
		now:    time.Now,
	}

	// SkipIfStillRunning guarantees ticks never overlap: a slow candle
	// fetch or order retry simply swallows the next second's fire.
	cronLogger := cron.PrintfLogger(logger)
	s.cron = cron.New(
		cron.WithSeconds(),
		cron.WithLocation(cfg.Location()),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := s.cron.AddFunc("* * * * * *", s.tickNow); err != nil {
		return nil, err
	}
	return s, nil
}

// Start starts the polling loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Println("Scheduler started, polling every second")
}

// Stop stops the loop and blocks until the in-flight tick finishes.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Println("Scheduler stopped")
}

func (s *Scheduler) tickNow() {
	s.tick(s.now())
}

// tick is one pass of the loop. Failures are logged and the next tick
// proceeds; nothing here may take the loop down.
func (s *Scheduler) tick(now time.Time) {
	if !s.cfg.IsWorkingDay(now) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()

	if s.cfg.IsWithinPreMarket(now) {
		if !s.resolveDailyState(ctx, now) {
			return
		}
	}

	if !s.cfg.IsWithinTradingHours(now) {
		return
	}

	s.mu.Lock()
	today := s.today
	s.mu.Unlock()
	if today == nil || today.day != now.In(s.cfg.Location()).Format("2006-01-02") {
		return
	}

	bucket, ok := s.intervalBucket(now)
	if !ok {
		return
	}

	s.mu.Lock()
	if bucket.Equal(s.lastBucket) {
		s.mu.Unlock()
		return
	}
	s.lastBucket = bucket
	s.mu.Unlock()

	s.processBucket(ctx, today, bucket, now)
}

// resolveDailyState makes sure the day's instrument, credential, and level
// set exist before any trading tick runs. It is cheap on repeat calls: the
// level cache collapses same-day lookups.
func (s *Scheduler) resolveDailyState(ctx context.Context, now time.Time) bool {
	day := now.In(s.cfg.Location()).Format("2006-01-02")

	s.mu.Lock()
	current := s.today
	s.mu.Unlock()
	if current != nil && current.day == day {
		return true
	}

	inst, err := s.inst.ForDay(now)
	if err != nil {
		s.logger.Printf("Daily state: %v", err)
		return false
	}

	if s.tokens != nil {
		cred, err := s.store.ActiveCredential()
		if err != nil {
			s.logger.Printf("Daily state: no active credential: %v", err)
			return false
		}
		if cred.TokenDate.In(s.cfg.Location()).Format("2006-01-02") != day {
			s.logger.Printf("Daily state: credential dated %s is stale for %s",
				cred.TokenDate.Format("2006-01-02"), day)
			return false
		}
		s.tokens.SetAccessToken(cred.AccessToken)
	}

	set, err := s.cache.Resolve(ctx, inst.Token, s.cfg.MidnightFor(now))
	if err != nil {
		s.logger.Printf("Daily state: level resolution failed: %v", err)
		return false
	}

	s.mu.Lock()
	s.today = &dailyState{day: day, instrument: inst, levels: set}
	s.mu.Unlock()
	s.logger.Printf("Daily state ready for %s: %s pivot %.2f", day, inst.Symbol, set.Pivot)
	return true
}

// intervalBucket maps a time to the start of the interval candle that just
// closed. Ticks fire only in the first seconds of a boundary minute so one
// candle is evaluated at most once.
func (s *Scheduler) intervalBucket(now time.Time) (time.Time, bool) {
	local := now.In(s.cfg.Location())
	interval := s.cfg.Schedule.IntervalMinutes
	if local.Minute()%interval != 0 {
		return time.Time{}, false
	}
	boundary := local.Truncate(time.Minute)
	return boundary.Add(-time.Duration(interval) * time.Minute), true
}

func (s *Scheduler) processBucket(ctx context.Context, today *dailyState,
	bucket time.Time, now time.Time) {
	interval := s.cfg.Schedule.IntervalMinutes
	from := bucket
	to := bucket.Add(time.Duration(interval) * time.Minute)

	candles, err := s.broker.FetchIntervalCandles(ctx, today.instrument.Token, interval, from, to)
	if err != nil {
		s.logger.Printf("Tick: interval candle fetch failed: %v", err)
		return
	}
	if len(candles) == 0 {
		s.logger.Printf("Tick: no interval candle for %s", bucket.Format("15:04"))
		return
	}

	candle := candles[len(candles)-1]
	if candle.Close <= 0 {
		s.logger.Printf("Tick: discarding candle with invalid close %.2f", candle.Close)
		return
	}

	decision := signal.Evaluate(candle, today.levels, s.book.Current())
	if decision.Signal == models.SignalNoAction {
		return
	}

	s.logger.Printf("Tick %s: close %.2f -> %s %s (%s)",
		bucket.Format("15:04"), candle.Close, decision.Signal, decision.Direction, decision.Reason)
	if err := s.book.Apply(ctx, decision, candle.Close, today.instrument, now); err != nil {
		s.logger.Printf("Tick: apply failed: %v", err)
	}
}
