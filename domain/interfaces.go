package domain

import "net/http"

// ProtocolAdapter translates between one provider's wire protocol and the
// bridge's canonical event vocabulary.
type ProtocolAdapter interface {
	Provider() string
	Capabilities() Capabilities

	// Endpoint resolves the streaming endpoint. Providers that hand out
	// session tokens do the token dance here.
	Endpoint() (url string, header http.Header, err error)

	// SubscribeFrames / UnsubscribeFrames build the raw outbound messages
	// for a set of subscribe/unsubscribe changes. One change may expand to
	// several frames (bundled channels), several changes may collapse into
	// one frame (batched params).
	SubscribeFrames(changes []Change) [][]byte
	UnsubscribeFrames(changes []Change) [][]byte

	// Decode converts one raw inbound frame into normalized events.
	// Heartbeats, acks and anything else the adapter does not model decode
	// to (nil, nil). Errors are diagnostic only: the caller drops the frame.
	Decode(raw []byte) ([]NativeEvent, error)

	// Validator returns the provider's depth-update sequence contract.
	Validator() DepthUpdateValidator
}

// SyncAPI is the REST collaborator consumed by emulation loops and snapshot
// fetches.
type SyncAPI interface {
	Tickers(symbols []*MarketSymbol) (map[string]*Ticker, error)
	OrderBookSnapshot(symbol *MarketSymbol, limit int) (*OrderBookSnapshot, error)
	Trades(symbol *MarketSymbol) ([]Trade, error)
	Klines(symbol *MarketSymbol, interval string, limit int) ([]*Kline, error)
}

// SnapshotFetcher is the subset of SyncAPI the order-book maintainer needs.
type SnapshotFetcher interface {
	OrderBookSnapshot(symbol *MarketSymbol, limit int) (*OrderBookSnapshot, error)
}
