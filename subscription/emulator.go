package subscription

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/spooky-finn/go-streambridge/config"
	"github.com/spooky-finn/go-streambridge/domain"
	promclient "github.com/spooky-finn/go-streambridge/infrastructure/prometheus"
	"github.com/spooky-finn/go-streambridge/logger"
)

const (
	pollErrBackoff = 5 * time.Second

	// Poll delay for candles when the provider does not report the time
	// remaining until the current candle closes.
	klineUnknownRemainingDelay = 10 * time.Second
)

// Emulator substitutes timed REST polling for entities a provider cannot
// push. One loop runs per (entity, pair[, interval]); each loop deduplicates
// against the last data it emitted so consumers cannot tell emulation from a
// quiet push stream.
type Emulator struct {
	provider string
	syncAPI  domain.SyncAPI
	feed     *Feed
	cfg      config.EmulationConfig
	limiter  *rate.Limiter
	log      *logrus.Entry

	mu    sync.Mutex
	loops map[string]*pollLoop
}

type pollLoop struct {
	entity       domain.EntityType
	symbol       *domain.MarketSymbol
	interval     string
	registeredAt time.Time

	timer *time.Timer

	lastTradeID int64
	lastTradeTS int64
	lastKline   *domain.Kline
}

func NewEmulator(provider string, syncAPI domain.SyncAPI, feed *Feed, cfg config.EmulationConfig) *Emulator {
	rps := cfg.RestRateLimit
	if rps <= 0 {
		rps = 5
	}

	return &Emulator{
		provider: provider,
		syncAPI:  syncAPI,
		feed:     feed,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(rps), 1),
		loops:    make(map[string]*pollLoop),
		log:      logger.WithProvider("emulator", provider),
	}
}

func loopKey(entity domain.EntityType, symbol *domain.MarketSymbol, interval string) string {
	if interval != "" {
		return fmt.Sprintf("%s:%s@%s", entity, symbol.String(), interval)
	}
	return fmt.Sprintf("%s:%s", entity, symbol.String())
}

// Register starts a polling loop. Registering an already-running loop is a
// no-op. The first poll fires immediately.
func (e *Emulator) Register(entity domain.EntityType, symbol *domain.MarketSymbol, interval string) {
	key := loopKey(entity, symbol, interval)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.loops[key]; ok {
		return
	}

	loop := &pollLoop{
		entity:       entity,
		symbol:       symbol,
		interval:     interval,
		registeredAt: time.Now(),
	}
	e.loops[key] = loop
	e.scheduleLocked(key, loop, 0)

	promclient.EmulationLoopsGauge.WithLabelValues(e.provider, string(entity)).Inc()
	if config.DebugMode {
		e.log.Debugf("registered polling loop %s", key)
	}
}

// Unregister cancels the loop's timer and discards its dedup state.
func (e *Emulator) Unregister(entity domain.EntityType, symbol *domain.MarketSymbol, interval string) {
	key := loopKey(entity, symbol, interval)

	e.mu.Lock()
	defer e.mu.Unlock()
	loop, ok := e.loops[key]
	if !ok {
		return
	}

	if loop.timer != nil {
		loop.timer.Stop()
	}
	delete(e.loops, key)
	promclient.EmulationLoopsGauge.WithLabelValues(e.provider, string(entity)).Dec()
}

// Resync forgets a loop's dedup state and polls again immediately. The old
// loop object is replaced wholesale so an in-flight tick of it cannot
// reschedule itself alongside the fresh one.
func (e *Emulator) Resync(entity domain.EntityType, symbol *domain.MarketSymbol, interval string) {
	key := loopKey(entity, symbol, interval)

	e.mu.Lock()
	defer e.mu.Unlock()
	old, ok := e.loops[key]
	if !ok {
		return
	}
	if old.timer != nil {
		old.timer.Stop()
	}

	loop := &pollLoop{
		entity:       old.entity,
		symbol:       old.symbol,
		interval:     old.interval,
		registeredAt: old.registeredAt,
	}
	e.loops[key] = loop
	e.scheduleLocked(key, loop, 0)
}

// Stop tears down every loop.
func (e *Emulator) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, loop := range e.loops {
		if loop.timer != nil {
			loop.timer.Stop()
		}
		promclient.EmulationLoopsGauge.WithLabelValues(e.provider, string(loop.entity)).Dec()
		delete(e.loops, key)
	}
}

// Connections reports the live loops for introspection.
func (e *Emulator) Connections() map[string]ConnectionInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]ConnectionInfo, len(e.loops))
	for key, loop := range e.loops {
		out["emulation:"+key] = ConnectionInfo{
			Timestamp: loop.registeredAt,
			Data: map[string]any{
				"entity": string(loop.entity),
				"pair":   loop.symbol.String(),
			},
		}
	}
	return out
}

func (e *Emulator) scheduleLocked(key string, loop *pollLoop, delay time.Duration) {
	loop.timer = time.AfterFunc(delay, func() {
		e.tick(key, loop)
	})
}

// isCurrent reports whether the loop still owns its key. A loop superseded
// by an unregister or resync must discard its result instead of emitting it
// out of order.
func (e *Emulator) isCurrent(key string, loop *pollLoop) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loops[key] == loop
}

func (e *Emulator) tick(key string, loop *pollLoop) {
	if !e.isCurrent(key, loop) {
		return
	}
	_ = e.limiter.Wait(context.Background())
	if !e.isCurrent(key, loop) {
		return
	}

	var next time.Duration
	var err error

	switch loop.entity {
	case domain.EntityTicker:
		next, err = e.pollTicker(loop)
	case domain.EntityTrades:
		next, err = e.pollTrades(loop)
	case domain.EntityKline:
		next, err = e.pollKline(loop)
	default:
		e.log.Warnf("no polling strategy for entity %s, loop stopped", loop.entity)
		return
	}

	if err != nil {
		e.log.WithError(err).Debugf("poll failed for %s", key)
		next = e.errBackoff(loop.entity)
	}

	e.mu.Lock()
	if current, ok := e.loops[key]; ok && current == loop {
		e.scheduleLocked(key, loop, next)
	}
	e.mu.Unlock()
}

// errBackoff is the retry delay after a failed poll: short, but never faster
// than the loop's normal period.
func (e *Emulator) errBackoff(entity domain.EntityType) time.Duration {
	period := e.period(entity)
	if period < pollErrBackoff {
		return period
	}
	return pollErrBackoff
}

func (e *Emulator) period(entity domain.EntityType) time.Duration {
	switch entity {
	case domain.EntityTicker:
		return e.cfg.TickerPeriod
	case domain.EntityTrades:
		return e.cfg.TradesPeriod
	case domain.EntityKline:
		return e.cfg.KlinePeriod
	}
	return 30 * time.Second
}

func (e *Emulator) pollTicker(loop *pollLoop) (time.Duration, error) {
	period := e.period(domain.EntityTicker)

	tickers, err := e.syncAPI.Tickers([]*domain.MarketSymbol{loop.symbol})
	if err != nil {
		return period, err
	}

	ticker, ok := tickers[loop.symbol.String()]
	if !ok {
		return period, fmt.Errorf("ticker for %s missing in response", loop.symbol.String())
	}

	if !e.isCurrent(loopKey(loop.entity, loop.symbol, loop.interval), loop) {
		return period, nil
	}

	// tickers are emitted unconditionally, once per period
	e.feed.Tickers <- &domain.TickerEvent{
		Provider: e.provider,
		Symbol:   loop.symbol,
		Ticker:   ticker,
	}
	promclient.EmittedEventsCounter.WithLabelValues(e.provider, string(domain.EntityTicker)).Inc()
	return period, nil
}

func (e *Emulator) pollTrades(loop *pollLoop) (time.Duration, error) {
	period := e.period(domain.EntityTrades)

	trades, err := e.syncAPI.Trades(loop.symbol)
	if err != nil {
		return period, err
	}

	fresh := selectNewTrades(trades, loop.lastTradeID, loop.lastTradeTS)
	if len(fresh) == 0 {
		return period, nil
	}

	if !e.isCurrent(loopKey(loop.entity, loop.symbol, loop.interval), loop) {
		return period, nil
	}

	last := fresh[len(fresh)-1]
	loop.lastTradeID = last.Id
	if last.Timestamp > loop.lastTradeTS {
		loop.lastTradeTS = last.Timestamp
	}

	e.feed.Trades <- &domain.TradesEvent{
		Provider: e.provider,
		Symbol:   loop.symbol,
		Trades:   fresh,
	}
	promclient.EmittedEventsCounter.WithLabelValues(e.provider, string(domain.EntityTrades)).Inc()
	return period, nil
}

// selectNewTrades keeps only trades newer than the last emitted one, ordered
// oldest first. Trade ids are the primary comparator; timestamps are the
// fallback for providers without usable ids.
func selectNewTrades(trades []domain.Trade, lastID, lastTS int64) []domain.Trade {
	haveIDs := false
	for _, t := range trades {
		if t.Id > 0 {
			haveIDs = true
			break
		}
	}

	fresh := make([]domain.Trade, 0, len(trades))
	for _, t := range trades {
		if haveIDs {
			if t.Id > lastID {
				fresh = append(fresh, t)
			}
		} else if t.Timestamp > lastTS {
			fresh = append(fresh, t)
		}
	}

	if haveIDs {
		sort.Slice(fresh, func(i, j int) bool { return fresh[i].Id < fresh[j].Id })
	} else {
		sort.Slice(fresh, func(i, j int) bool { return fresh[i].Timestamp < fresh[j].Timestamp })
	}
	return fresh
}

func (e *Emulator) pollKline(loop *pollLoop) (time.Duration, error) {
	period := e.period(domain.EntityKline)

	klines, err := e.syncAPI.Klines(loop.symbol, loop.interval, 1)
	if err != nil {
		return period, err
	}
	if len(klines) == 0 {
		return period, fmt.Errorf("empty klines response for %s", loop.symbol.String())
	}

	kline := klines[len(klines)-1]
	next := e.klineDelay(kline, period)

	if !klineChanged(loop.lastKline, kline) {
		return next, nil
	}

	if !e.isCurrent(loopKey(loop.entity, loop.symbol, loop.interval), loop) {
		return next, nil
	}

	loop.lastKline = kline
	e.feed.Klines <- &domain.KlineEvent{
		Provider: e.provider,
		Symbol:   loop.symbol,
		Interval: loop.interval,
		Kline:    kline,
	}
	promclient.EmittedEventsCounter.WithLabelValues(e.provider, string(domain.EntityKline)).Inc()
	return next, nil
}

// klineDelay adapts the next poll to the time remaining until the candle
// closes, so the closing update is observed promptly.
func (e *Emulator) klineDelay(k *domain.Kline, period time.Duration) time.Duration {
	if k.RemainingTime <= 0 {
		return klineUnknownRemainingDelay
	}

	remaining := time.Duration(k.RemainingTime) * time.Millisecond
	if remaining > period {
		return period
	}
	if remaining < time.Second {
		return time.Second
	}
	return remaining
}

// klineChanged reports whether the candle moved versus the last emitted one.
// Numeric fields are compared as decimals: providers are not consistent
// about trailing zeros.
func klineChanged(prev, next *domain.Kline) bool {
	if prev == nil {
		return true
	}
	return prev.Timestamp != next.Timestamp ||
		prev.Closed != next.Closed ||
		!decimalEqual(prev.Volume, next.Volume) ||
		!decimalEqual(prev.Close, next.Close)
}

func decimalEqual(a, b string) bool {
	da, errA := decimal.NewFromString(a)
	db, errB := decimal.NewFromString(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return da.Equal(db)
}
