package domain

type Ticker struct {
	Last      string
	High      string
	Low       string
	Volume    string
	Change    string
	Timestamp int64
}

type TickerEvent struct {
	Provider string
	Symbol   *MarketSymbol
	Ticker   *Ticker
}

type Trade struct {
	Id        int64
	Rate      string
	Quantity  string
	Price     string
	OrderType string // "buy" or "sell"
	Timestamp int64
}

type TradesEvent struct {
	Provider string
	Symbol   *MarketSymbol
	Trades   []Trade
}

type Kline struct {
	Timestamp int64
	Open      string
	High      string
	Low       string
	Close     string
	Volume    string
	Closed    bool
	// RemainingTime is the number of milliseconds until the candle closes,
	// zero when the provider does not report it.
	RemainingTime int64
}

type KlineEvent struct {
	Provider string
	Symbol   *MarketSymbol
	Interval string
	Kline    *Kline
}

// OrderBookEvent carries a full, consistent book delivered after a snapshot
// is installed.
type OrderBookEvent struct {
	Provider string
	Symbol   *MarketSymbol
	CSeq     int64
	Snapshot *OrderBookSnapshot
}

// OrderBookUpdateEvent carries one incremental update already applied to the
// local mirror. CSeq values per symbol are strictly increasing.
type OrderBookUpdateEvent struct {
	Provider string
	Symbol   *MarketSymbol
	CSeq     int64
	Bids     [][]string
	Asks     [][]string
}

type LifecycleKind string

const (
	LifecycleConnected       LifecycleKind = "connected"
	LifecycleDisconnected    LifecycleKind = "disconnected"
	LifecycleConnectionError LifecycleKind = "connectionError"
	LifecycleTerminated      LifecycleKind = "terminated"
)

type LifecycleEvent struct {
	Provider string
	Kind     LifecycleKind
	Code     int
	Reason   string
	Attempts int
	Err      error
}

// NativeEvent is one normalized event decoded from a provider's wire frame.
// Exactly one payload field is set, selected by Entity.
type NativeEvent struct {
	Entity   EntityType
	Symbol   *MarketSymbol
	Interval string

	Ticker *Ticker
	Update *OrderBookUpdate
	Trades []Trade
	Kline  *Kline
}
