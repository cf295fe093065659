package subscription

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/go-streambridge/config"
	"github.com/spooky-finn/go-streambridge/domain"
)

// pollingSyncAPI serves scripted responses, advancing through them one poll
// at a time and repeating the last one.
type pollingSyncAPI struct {
	mu        sync.Mutex
	tickers   []*domain.Ticker
	trades    [][]domain.Trade
	klines    [][]*domain.Kline
	tickerIdx int
	tradeIdx  int
	klineIdx  int
}

func (f *pollingSyncAPI) Tickers(symbols []*domain.MarketSymbol) (map[string]*domain.Ticker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tickers) == 0 {
		return map[string]*domain.Ticker{}, nil
	}
	t := f.tickers[f.tickerIdx]
	if f.tickerIdx < len(f.tickers)-1 {
		f.tickerIdx++
	}
	out := make(map[string]*domain.Ticker, len(symbols))
	for _, s := range symbols {
		out[s.String()] = t
	}
	return out, nil
}

func (f *pollingSyncAPI) OrderBookSnapshot(symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	return &domain.OrderBookSnapshot{Source: domain.OrderBookSource_Provider, LastUpdateId: 1}, nil
}

func (f *pollingSyncAPI) Trades(symbol *domain.MarketSymbol) ([]domain.Trade, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.trades) == 0 {
		return nil, nil
	}
	t := f.trades[f.tradeIdx]
	if f.tradeIdx < len(f.trades)-1 {
		f.tradeIdx++
	}
	return t, nil
}

func (f *pollingSyncAPI) Klines(symbol *domain.MarketSymbol, interval string, limit int) ([]*domain.Kline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.klines) == 0 {
		return nil, nil
	}
	k := f.klines[f.klineIdx]
	if f.klineIdx < len(f.klines)-1 {
		f.klineIdx++
	}
	return k, nil
}

func fastEmulationConfig() config.EmulationConfig {
	return config.EmulationConfig{
		TickerPeriod:  20 * time.Millisecond,
		TradesPeriod:  20 * time.Millisecond,
		KlinePeriod:   20 * time.Millisecond,
		RestRateLimit: 1000,
	}
}

func newTestEmulator(t *testing.T, api domain.SyncAPI) (*Emulator, *Feed) {
	t.Helper()
	feed := NewFeed(64)
	e := NewEmulator("fake", api, feed, fastEmulationConfig())
	t.Cleanup(e.Stop)
	return e, feed
}

func emSymbol(t *testing.T) *domain.MarketSymbol {
	t.Helper()
	sym, err := domain.NewMarketSymbolFromString("btc-usdt")
	require.NoError(t, err)
	return sym
}

func TestEmulator_TickerEmitsEveryPeriod(t *testing.T) {
	api := &pollingSyncAPI{tickers: []*domain.Ticker{{Last: "50000"}}}
	e, feed := newTestEmulator(t, api)
	sym := emSymbol(t)

	e.Register(domain.EntityTicker, sym, "")

	// unchanged data still flows: tickers have no dedup
	for i := 0; i < 3; i++ {
		select {
		case ev := <-feed.Tickers:
			assert.Equal(t, "50000", ev.Ticker.Last)
			assert.Equal(t, "fake", ev.Provider)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for ticker %d", i)
		}
	}
}

func TestEmulator_TradesAreDeduplicatedByID(t *testing.T) {
	api := &pollingSyncAPI{trades: [][]domain.Trade{
		{{Id: 1, Price: "1"}, {Id: 2, Price: "2"}, {Id: 3, Price: "3"}},
		{{Id: 2, Price: "2"}, {Id: 3, Price: "3"}, {Id: 4, Price: "4"}},
	}}
	e, feed := newTestEmulator(t, api)
	sym := emSymbol(t)

	e.Register(domain.EntityTrades, sym, "")

	ev := <-feed.Trades
	require.Len(t, ev.Trades, 3)
	assert.Equal(t, int64(1), ev.Trades[0].Id)
	assert.Equal(t, int64(3), ev.Trades[2].Id)

	// the overlap with the first batch is filtered out
	ev = <-feed.Trades
	require.Len(t, ev.Trades, 1)
	assert.Equal(t, int64(4), ev.Trades[0].Id)
}

func TestEmulator_TradesFallBackToTimestamps(t *testing.T) {
	api := &pollingSyncAPI{trades: [][]domain.Trade{
		{{Timestamp: 100, Price: "1"}, {Timestamp: 200, Price: "2"}},
		{{Timestamp: 200, Price: "2"}, {Timestamp: 300, Price: "3"}},
	}}
	e, feed := newTestEmulator(t, api)
	sym := emSymbol(t)

	e.Register(domain.EntityTrades, sym, "")

	ev := <-feed.Trades
	require.Len(t, ev.Trades, 2)

	ev = <-feed.Trades
	require.Len(t, ev.Trades, 1)
	assert.Equal(t, int64(300), ev.Trades[0].Timestamp)
}

func TestEmulator_KlineEmitsOnlyOnChange(t *testing.T) {
	unchanged := &domain.Kline{Timestamp: 1000, Close: "50000", Volume: "10", RemainingTime: 60000}
	moved := &domain.Kline{Timestamp: 1000, Close: "50100", Volume: "11", RemainingTime: 60000}

	api := &pollingSyncAPI{klines: [][]*domain.Kline{
		{unchanged},
		{unchanged},
		{moved},
	}}
	e, feed := newTestEmulator(t, api)
	sym := emSymbol(t)

	e.Register(domain.EntityKline, sym, "1m")

	ev := <-feed.Klines
	assert.Equal(t, "50000", ev.Kline.Close)
	assert.Equal(t, "1m", ev.Interval)

	// the identical middle poll is swallowed, the moved candle comes through
	select {
	case ev = <-feed.Klines:
		assert.Equal(t, "50100", ev.Kline.Close)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the changed candle")
	}
}

func TestEmulator_KlineTrailingZerosAreNotAChange(t *testing.T) {
	api := &pollingSyncAPI{klines: [][]*domain.Kline{
		{{Timestamp: 1000, Close: "50000", Volume: "10", RemainingTime: 60000}},
		{{Timestamp: 1000, Close: "50000.00", Volume: "10.0", RemainingTime: 60000}},
	}}
	e, feed := newTestEmulator(t, api)
	sym := emSymbol(t)

	e.Register(domain.EntityKline, sym, "1m")

	<-feed.Klines
	select {
	case ev := <-feed.Klines:
		t.Fatalf("reformatted candle treated as a change: %+v", ev.Kline)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEmulator_UnregisterStopsTheLoop(t *testing.T) {
	api := &pollingSyncAPI{tickers: []*domain.Ticker{{Last: "1"}}}
	e, feed := newTestEmulator(t, api)
	sym := emSymbol(t)

	e.Register(domain.EntityTicker, sym, "")
	<-feed.Tickers

	e.Unregister(domain.EntityTicker, sym, "")
	assert.Empty(t, e.Connections())

	// let any in-flight tick finish, drain it, then expect silence
	time.Sleep(100 * time.Millisecond)
	for {
		select {
		case <-feed.Tickers:
			continue
		default:
		}
		break
	}

	select {
	case ev := <-feed.Tickers:
		t.Fatalf("loop kept polling after unregister: %+v", ev)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestEmulator_ResyncResetsDedupState(t *testing.T) {
	api := &pollingSyncAPI{trades: [][]domain.Trade{
		{{Id: 1, Price: "1"}, {Id: 2, Price: "2"}},
	}}
	e, feed := newTestEmulator(t, api)
	sym := emSymbol(t)

	e.Register(domain.EntityTrades, sym, "")
	ev := <-feed.Trades
	require.Len(t, ev.Trades, 2)

	e.Resync(domain.EntityTrades, sym, "")

	// the same trades come again: the resync forgot they were emitted
	select {
	case ev = <-feed.Trades:
		require.Len(t, ev.Trades, 2)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the re-emitted trades")
	}
}

func TestEmulator_RegisterIsIdempotent(t *testing.T) {
	api := &pollingSyncAPI{tickers: []*domain.Ticker{{Last: "1"}}}
	e, _ := newTestEmulator(t, api)
	sym := emSymbol(t)

	e.Register(domain.EntityTicker, sym, "")
	e.Register(domain.EntityTicker, sym, "")

	assert.Len(t, e.Connections(), 1)
}
