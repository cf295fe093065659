package binance

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"

	"github.com/spooky-finn/go-streambridge/domain"
)

const wsEndpoint = "wss://stream.binance.com:9443/stream"

// Quote assets recognized when splitting the exchange's concatenated symbol
// form back into a pair. Ordered longest first so "btcusdt" resolves to
// btc/usdt, not btc-usd + trailing t.
var knownQuoteAssets = []string{
	"fdusd", "usdt", "usdc", "busd", "tusd", "bnb", "btc", "eth", "eur", "try", "dai",
}

// Adapter speaks the exchange's combined-stream websocket dialect: outbound
// SUBSCRIBE/UNSUBSCRIBE batches with numeric request ids, inbound
// {stream, data} envelopes.
type Adapter struct{}

func NewAdapter() *Adapter {
	return &Adapter{}
}

func (a *Adapter) Provider() string { return "binance" }

func (a *Adapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Push: map[domain.EntityType]bool{
			domain.EntityTickers:   true,
			domain.EntityOrderBook: true,
			domain.EntityTrades:    true,
			domain.EntityKline:     true,
		},
		// per-pair ticker interest rides the all-market ticker firehose
		GlobalTickers: true,
	}
}

func (a *Adapter) Endpoint() (string, http.Header, error) {
	return wsEndpoint, nil, nil
}

type wsRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

func (a *Adapter) SubscribeFrames(changes []domain.Change) [][]byte {
	return a.frames("SUBSCRIBE", changes)
}

func (a *Adapter) UnsubscribeFrames(changes []domain.Change) [][]byte {
	return a.frames("UNSUBSCRIBE", changes)
}

func (a *Adapter) frames(method string, changes []domain.Change) [][]byte {
	params := make([]string, 0, len(changes))
	for _, c := range changes {
		if topic := topicFor(c); topic != "" {
			params = append(params, topic)
		}
	}
	if len(params) == 0 {
		return nil
	}

	raw, err := json.Marshal(wsRequest{
		Method: method,
		Params: params,
		ID:     requestID(),
	})
	if err != nil {
		return nil
	}
	return [][]byte{raw}
}

func topicFor(c domain.Change) string {
	switch c.Entity {
	case domain.EntityTickers:
		return "!ticker@arr"
	case domain.EntityOrderBook:
		return fmt.Sprintf("%s@depth", c.Symbol.Join(""))
	case domain.EntityTrades:
		return fmt.Sprintf("%s@aggTrade", c.Symbol.Join(""))
	case domain.EntityKline:
		return fmt.Sprintf("%s@kline_%s", c.Symbol.Join(""), c.Interval)
	}
	return ""
}

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
	ID     *int            `json:"id"`
}

type depthUpdateData struct {
	Event         string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateId int64      `json:"U"`
	FinalUpdateId int64      `json:"u"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

type aggTradeData struct {
	TradeID      int64  `json:"a"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

type klineData struct {
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     struct {
		StartTime int64  `json:"t"`
		CloseTime int64  `json:"T"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		Close     string `json:"c"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

type tickerData struct {
	EventTime     int64  `json:"E"`
	Symbol        string `json:"s"`
	LastPrice     string `json:"c"`
	HighPrice     string `json:"h"`
	LowPrice      string `json:"l"`
	Volume        string `json:"v"`
	PercentChange string `json:"P"`
}

// Decode turns one combined-stream frame into normalized events. Command
// acks carry an id and no stream; they decode to nothing.
func (a *Adapter) Decode(raw []byte) ([]domain.NativeEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("malformed stream frame: %w", err)
	}
	if env.Stream == "" {
		return nil, nil
	}

	switch {
	case env.Stream == "!ticker@arr":
		return decodeTickerBatch(env.Data)

	case strings.HasSuffix(env.Stream, "@depth"):
		return decodeDepthUpdate(env.Data)

	case strings.HasSuffix(env.Stream, "@aggTrade"):
		return decodeAggTrade(env.Data)

	case strings.Contains(env.Stream, "@kline_"):
		return decodeKline(env.Data)
	}
	return nil, nil
}

func decodeTickerBatch(data json.RawMessage) ([]domain.NativeEvent, error) {
	var tickers []tickerData
	if err := json.Unmarshal(data, &tickers); err != nil {
		return nil, fmt.Errorf("malformed ticker batch: %w", err)
	}

	events := make([]domain.NativeEvent, 0, len(tickers))
	for _, t := range tickers {
		symbol, err := parsePair(t.Symbol)
		if err != nil {
			continue
		}
		events = append(events, domain.NativeEvent{
			Entity: domain.EntityTicker,
			Symbol: symbol,
			Ticker: &domain.Ticker{
				Last:      t.LastPrice,
				High:      t.HighPrice,
				Low:       t.LowPrice,
				Volume:    t.Volume,
				Change:    t.PercentChange,
				Timestamp: t.EventTime,
			},
		})
	}
	return events, nil
}

func decodeDepthUpdate(data json.RawMessage) ([]domain.NativeEvent, error) {
	var d depthUpdateData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("malformed depth update: %w", err)
	}
	symbol, err := parsePair(d.Symbol)
	if err != nil {
		return nil, err
	}

	return []domain.NativeEvent{{
		Entity: domain.EntityOrderBook,
		Symbol: symbol,
		Update: domain.NewOrderBookUpdate(d.Bids, d.Asks, d.FirstUpdateId, d.FinalUpdateId, symbol),
	}}, nil
}

func decodeAggTrade(data json.RawMessage) ([]domain.NativeEvent, error) {
	var d aggTradeData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("malformed trade: %w", err)
	}
	symbol, err := parsePair(d.Symbol)
	if err != nil {
		return nil, err
	}

	orderType := "buy"
	if d.IsBuyerMaker {
		orderType = "sell"
	}

	return []domain.NativeEvent{{
		Entity: domain.EntityTrades,
		Symbol: symbol,
		Trades: []domain.Trade{{
			Id:        d.TradeID,
			Price:     d.Price,
			Rate:      d.Price,
			Quantity:  d.Quantity,
			OrderType: orderType,
			Timestamp: d.TradeTime,
		}},
	}}, nil
}

func decodeKline(data json.RawMessage) ([]domain.NativeEvent, error) {
	var d klineData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("malformed kline: %w", err)
	}
	symbol, err := parsePair(d.Symbol)
	if err != nil {
		return nil, err
	}

	remaining := d.Kline.CloseTime - d.EventTime
	if remaining < 0 {
		remaining = 0
	}

	return []domain.NativeEvent{{
		Entity:   domain.EntityKline,
		Symbol:   symbol,
		Interval: d.Kline.Interval,
		Kline: &domain.Kline{
			Timestamp:     d.Kline.StartTime,
			Open:          d.Kline.Open,
			High:          d.Kline.High,
			Low:           d.Kline.Low,
			Close:         d.Kline.Close,
			Volume:        d.Kline.Volume,
			Closed:        d.Kline.Closed,
			RemainingTime: remaining,
		},
	}}, nil
}

func (a *Adapter) Validator() domain.DepthUpdateValidator {
	return &DepthUpdateValidator{}
}

// parsePair splits the exchange's concatenated symbol ("BTCUSDT") back into
// a pair by matching a known quote asset suffix.
func parsePair(concatenated string) (*domain.MarketSymbol, error) {
	s := strings.ToLower(concatenated)
	for _, quote := range knownQuoteAssets {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return domain.NewMarketSymbol(s[:len(s)-len(quote)], quote)
		}
	}
	return nil, fmt.Errorf("unrecognized quote asset in symbol %q", concatenated)
}

func requestID() int {
	min := 10000
	max := 9999999
	return min + rand.Intn(max-min)
}
