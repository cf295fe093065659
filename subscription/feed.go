package subscription

import (
	"time"

	"github.com/spooky-finn/go-streambridge/domain"
)

// Feed is the bounded set of output channels consumers read normalized
// events from. All managers of one bridge write into the same feed; the
// Provider field of every event tells the origin. Consumers must drain the
// channels: order-book consistency relies on lossless, in-order delivery.
type Feed struct {
	Tickers          chan *domain.TickerEvent
	OrderBooks       chan *domain.OrderBookEvent
	OrderBookUpdates chan *domain.OrderBookUpdateEvent
	Trades           chan *domain.TradesEvent
	Klines           chan *domain.KlineEvent
	Lifecycle        chan *domain.LifecycleEvent
}

func NewFeed(buffer int) *Feed {
	return &Feed{
		Tickers:          make(chan *domain.TickerEvent, buffer),
		OrderBooks:       make(chan *domain.OrderBookEvent, buffer),
		OrderBookUpdates: make(chan *domain.OrderBookUpdateEvent, buffer),
		Trades:           make(chan *domain.TradesEvent, buffer),
		Klines:           make(chan *domain.KlineEvent, buffer),
		Lifecycle:        make(chan *domain.LifecycleEvent, buffer),
	}
}

// KlineTopic is one candle subscription target.
type KlineTopic struct {
	Symbol   *domain.MarketSymbol
	Interval string
}

// PairSubscription is the introspection view of one subscribed pair.
type PairSubscription struct {
	Timestamp time.Time `json:"timestamp"`
}

// EntitySubscriptions is the introspection view of one entity type.
type EntitySubscriptions struct {
	Timestamp time.Time                   `json:"timestamp"`
	Pairs     map[string]PairSubscription `json:"pairs"`
}

// ConnectionInfo describes one live transport or emulation loop. Purely
// observational, never authoritative state.
type ConnectionInfo struct {
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}
