package binance

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/go-streambridge/domain"
)

func TestAdapter_SubscribeFramesBatchTopics(t *testing.T) {
	a := NewAdapter()
	btc, _ := domain.NewMarketSymbolFromString("btc-usdt")
	eth, _ := domain.NewMarketSymbolFromString("eth-usdt")

	frames := a.SubscribeFrames([]domain.Change{
		{Type: domain.ChangeSubscribe, Entity: domain.EntityOrderBook, Symbol: btc},
		{Type: domain.ChangeSubscribe, Entity: domain.EntityTrades, Symbol: eth},
		{Type: domain.ChangeSubscribe, Entity: domain.EntityKline, Symbol: btc, Interval: "1m"},
		{Type: domain.ChangeSubscribe, Entity: domain.EntityTickers},
	})
	require.Len(t, frames, 1, "all changes batch into one request")

	var req wsRequest
	require.NoError(t, json.Unmarshal(frames[0], &req))
	assert.Equal(t, "SUBSCRIBE", req.Method)
	assert.NotZero(t, req.ID)
	assert.Equal(t, []string{"btcusdt@depth", "ethusdt@aggTrade", "btcusdt@kline_1m", "!ticker@arr"}, req.Params)
}

func TestAdapter_EmptyChangesProduceNoFrames(t *testing.T) {
	a := NewAdapter()
	assert.Nil(t, a.SubscribeFrames(nil))
	assert.Nil(t, a.UnsubscribeFrames(nil))
}

func TestAdapter_DecodeDepthUpdate(t *testing.T) {
	a := NewAdapter()
	raw := []byte(`{
		"stream": "btcusdt@depth",
		"data": {
			"e": "depthUpdate", "E": 1710000000000, "s": "BTCUSDT",
			"U": 157, "u": 160,
			"b": [["50000.00", "1.5"]],
			"a": [["50001.00", "0.5"]]
		}
	}`)

	events, err := a.Decode(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, domain.EntityOrderBook, ev.Entity)
	assert.Equal(t, "btc-usdt", ev.Symbol.String())
	require.NotNil(t, ev.Update)
	assert.Equal(t, int64(157), ev.Update.SequenceStart)
	assert.Equal(t, int64(160), ev.Update.SequenceEnd)
	assert.Equal(t, [][]string{{"50000.00", "1.5"}}, ev.Update.Bids)
}

func TestAdapter_DecodeAggTrade(t *testing.T) {
	a := NewAdapter()
	raw := []byte(`{
		"stream": "ethusdt@aggTrade",
		"data": {
			"e": "aggTrade", "s": "ETHUSDT", "a": 12345,
			"p": "3000.10", "q": "2", "T": 1710000000123, "m": true
		}
	}`)

	events, err := a.Decode(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, domain.EntityTrades, ev.Entity)
	require.Len(t, ev.Trades, 1)
	assert.Equal(t, int64(12345), ev.Trades[0].Id)
	assert.Equal(t, "sell", ev.Trades[0].OrderType)
	assert.Equal(t, "3000.10", ev.Trades[0].Price)
}

func TestAdapter_DecodeKline(t *testing.T) {
	a := NewAdapter()
	raw := []byte(`{
		"stream": "btcusdt@kline_1m",
		"data": {
			"E": 1710000030000, "s": "BTCUSDT",
			"k": {
				"t": 1710000000000, "T": 1710000059999, "i": "1m",
				"o": "50000", "c": "50050", "h": "50100", "l": "49900",
				"v": "12.5", "x": false
			}
		}
	}`)

	events, err := a.Decode(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, domain.EntityKline, ev.Entity)
	assert.Equal(t, "1m", ev.Interval)
	assert.Equal(t, "50050", ev.Kline.Close)
	assert.False(t, ev.Kline.Closed)
	assert.Equal(t, int64(29999), ev.Kline.RemainingTime)
}

func TestAdapter_DecodeTickerBatch(t *testing.T) {
	a := NewAdapter()
	raw := []byte(`{
		"stream": "!ticker@arr",
		"data": [
			{"E": 1710000000000, "s": "BTCUSDT", "c": "50000", "h": "51000", "l": "49000", "v": "1000", "P": "1.5"},
			{"E": 1710000000000, "s": "WEIRDPAIR", "c": "1"},
			{"E": 1710000000000, "s": "ETHBTC", "c": "0.05", "h": "0.06", "l": "0.04", "v": "500", "P": "-0.2"}
		]
	}`)

	events, err := a.Decode(raw)
	require.NoError(t, err)
	// the unparsable symbol is skipped, not fatal
	require.Len(t, events, 2)

	assert.Equal(t, "btc-usdt", events[0].Symbol.String())
	assert.Equal(t, "50000", events[0].Ticker.Last)
	assert.Equal(t, "eth-btc", events[1].Symbol.String())
}

func TestAdapter_DecodeAckIsSilent(t *testing.T) {
	a := NewAdapter()

	events, err := a.Decode([]byte(`{"result": null, "id": 312}`))
	require.NoError(t, err)
	assert.Nil(t, events)
}

func TestAdapter_DecodeGarbageErrors(t *testing.T) {
	a := NewAdapter()

	_, err := a.Decode([]byte(`not json at all`))
	assert.Error(t, err)
}

func TestParsePair(t *testing.T) {
	cases := map[string]string{
		"BTCUSDT":  "btc-usdt",
		"ethbtc":   "eth-btc",
		"SOLFDUSD": "sol-fdusd",
		"DOGETRY":  "doge-try",
	}
	for in, want := range cases {
		symbol, err := parsePair(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, symbol.String())
	}

	_, err := parsePair("USDT")
	assert.Error(t, err, "a bare quote asset is not a pair")

	_, err = parsePair("ABCXYZ")
	assert.Error(t, err)
}
