package kucoin

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/go-streambridge/domain"
)

func TestAdapter_MarketChangeExpandsToBothTopics(t *testing.T) {
	a := NewAdapter(nil)
	btc, _ := domain.NewMarketSymbolFromString("btc-usdt")

	frames := a.SubscribeFrames([]domain.Change{
		{Type: domain.ChangeSubscribe, Entity: domain.EntityMarket, Symbol: btc},
	})
	require.Len(t, frames, 2, "the bundled market channel spans level2 and match")

	topics := make([]string, 0, 2)
	for _, raw := range frames {
		var msg wsMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, "subscribe", msg.Type)
		assert.NotEmpty(t, msg.ID)
		assert.True(t, msg.Response)
		topics = append(topics, msg.Topic)
	}
	assert.ElementsMatch(t, []string{"/market/level2:BTC-USDT", "/market/match:BTC-USDT"}, topics)
}

func TestAdapter_TickerChangeIsPerPair(t *testing.T) {
	a := NewAdapter(nil)
	eth, _ := domain.NewMarketSymbolFromString("eth-usdt")

	frames := a.UnsubscribeFrames([]domain.Change{
		{Type: domain.ChangeUnsubscribe, Entity: domain.EntityTicker, Symbol: eth},
	})
	require.Len(t, frames, 1)

	var msg wsMessage
	require.NoError(t, json.Unmarshal(frames[0], &msg))
	assert.Equal(t, "unsubscribe", msg.Type)
	assert.Equal(t, "/market/ticker:ETH-USDT", msg.Topic)
}

func TestAdapter_DecodeLevel2Update(t *testing.T) {
	a := NewAdapter(nil)
	raw := []byte(`{
		"type": "message",
		"topic": "/market/level2:BTC-USDT",
		"subject": "trade.l2update",
		"data": {
			"changes": {
				"asks": [["18906", "0.25", "16582"]],
				"bids": [["18905", "0.32", "16582"]]
			},
			"sequenceEnd": 16582,
			"sequenceStart": 16580,
			"symbol": "BTC-USDT",
			"time": 1663747970273
		}
	}`)

	events, err := a.Decode(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, domain.EntityOrderBook, ev.Entity)
	assert.Equal(t, "btc-usdt", ev.Symbol.String())
	require.NotNil(t, ev.Update)
	assert.Equal(t, int64(16580), ev.Update.SequenceStart)
	assert.Equal(t, int64(16582), ev.Update.SequenceEnd)
}

func TestAdapter_DecodeMatch(t *testing.T) {
	a := NewAdapter(nil)
	raw := []byte(`{
		"type": "message",
		"topic": "/market/match:BTC-USDT",
		"subject": "trade.l3match",
		"data": {
			"sequence": "1545896669145",
			"price": "0.08",
			"size": "0.011",
			"side": "buy",
			"time": "1545914149935808589"
		}
	}`)

	events, err := a.Decode(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, domain.EntityTrades, ev.Entity)
	require.Len(t, ev.Trades, 1)
	assert.Equal(t, int64(1545896669145), ev.Trades[0].Id)
	assert.Equal(t, "buy", ev.Trades[0].OrderType)
	assert.Equal(t, int64(1545914149935), ev.Trades[0].Timestamp)
}

func TestAdapter_DecodeTicker(t *testing.T) {
	a := NewAdapter(nil)
	raw := []byte(`{
		"type": "message",
		"topic": "/market/ticker:ETH-USDT",
		"subject": "trade.ticker",
		"data": {
			"sequence": "1545896668986",
			"price": "3000.52",
			"size": "0.011",
			"bestAsk": "3000.60",
			"bestBid": "3000.50",
			"time": 1704067200000
		}
	}`)

	events, err := a.Decode(raw)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, domain.EntityTicker, ev.Entity)
	assert.Equal(t, "eth-usdt", ev.Symbol.String())
	assert.Equal(t, "3000.52", ev.Ticker.Last)
	assert.Equal(t, int64(1704067200000), ev.Ticker.Timestamp)
}

func TestAdapter_ControlMessagesAreSilent(t *testing.T) {
	a := NewAdapter(nil)

	for _, raw := range []string{
		`{"id": "hQvf8jkno", "type": "welcome"}`,
		`{"id": "hQvf8jkno", "type": "ack"}`,
		`{"id": "hQvf8jkno", "type": "pong"}`,
	} {
		events, err := a.Decode([]byte(raw))
		require.NoError(t, err, raw)
		assert.Nil(t, events, raw)
	}
}

func TestAdapter_PingFrame(t *testing.T) {
	a := NewAdapter(nil)

	var msg wsMessage
	require.NoError(t, json.Unmarshal(a.PingFrame(), &msg))
	assert.Equal(t, "ping", msg.Type)
	assert.NotEmpty(t, msg.ID)
}

func TestDepthUpdateValidator(t *testing.T) {
	v := &DepthUpdateValidator{}
	btc := &domain.MarketSymbol{BaseAsset: "btc", QuoteAsset: "usdt"}

	covered := &domain.OrderBookUpdate{SequenceStart: 10, SequenceEnd: 15, Symbol: btc}
	assert.Equal(t, domain.ErrUpdateOutdated, v.IsValidUpd(covered, 15))

	overlapping := &domain.OrderBookUpdate{SequenceStart: 14, SequenceEnd: 18, Symbol: btc}
	assert.Nil(t, v.IsValidUpd(overlapping, 15))

	contiguous := &domain.OrderBookUpdate{SequenceStart: 16, SequenceEnd: 18, Symbol: btc}
	assert.Nil(t, v.IsValidUpd(contiguous, 15))

	gapped := &domain.OrderBookUpdate{SequenceStart: 20, SequenceEnd: 25, Symbol: btc}
	assert.Equal(t, domain.ErrUpdateOutOfSequence, v.IsValidUpd(gapped, 15))
}

func TestKlineTypes_IntervalMapping(t *testing.T) {
	assert.Equal(t, "1min", klineTypes["1m"])
	assert.Equal(t, "1hour", klineTypes["1h"])
	assert.Equal(t, "1week", klineTypes["1w"])

	_, ok := klineTypes["42m"]
	assert.False(t, ok, "unknown intervals must not map to anything")
}
