package domain

// EntityType names one subscribable kind of market data.
type EntityType string

const (
	EntityTicker    EntityType = "ticker"
	EntityOrderBook EntityType = "orderBook"
	EntityTrades    EntityType = "trades"
	EntityKline     EntityType = "kline"

	// EntityMarket is the bundled order-book+trades channel used by providers
	// whose wire protocol couples the two into one stream.
	EntityMarket EntityType = "market"

	// EntityTickers is the single firehose ticker channel of providers that
	// do not expose per-pair ticker streams.
	EntityTickers EntityType = "tickers"
)

type ChangeType string

const (
	ChangeSubscribe   ChangeType = "subscribe"
	ChangeUnsubscribe ChangeType = "unsubscribe"
	ChangeResync      ChangeType = "resync"
)

// Change is one exchange-level operation produced by diffing subscription
// state. Symbol is nil for the firehose EntityTickers channel, Interval is
// empty for everything but klines.
type Change struct {
	Type     ChangeType
	Entity   EntityType
	Symbol   *MarketSymbol
	Interval string
}

// Capabilities describes what a provider's wire protocol can push natively.
// Entities absent from Push fall back to REST polling emulation.
type Capabilities struct {
	Push map[EntityType]bool

	// BundlesMarket marks providers that deliver order-book and trades
	// through one bundled "market" channel.
	BundlesMarket bool

	// GlobalTickers marks providers with one firehose channel for all
	// tickers instead of per-pair ticker streams.
	GlobalTickers bool
}

func (c Capabilities) HasPush(entity EntityType) bool {
	return c.Push[entity]
}
