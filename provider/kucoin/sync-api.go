package kucoin

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Kucoin/kucoin-go-sdk"

	"github.com/spooky-finn/go-streambridge/domain"
)

// Candle type names the exchange's REST api understands, keyed by the
// bridge-wide interval notation.
var klineTypes = map[string]string{
	"1m":  "1min",
	"3m":  "3min",
	"5m":  "5min",
	"15m": "15min",
	"30m": "30min",
	"1h":  "1hour",
	"2h":  "2hour",
	"4h":  "4hour",
	"6h":  "6hour",
	"8h":  "8hour",
	"12h": "12hour",
	"1d":  "1day",
	"1w":  "1week",
}

var intervalDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// SyncAPI serves the request/response side of the exchange. Credentials are
// optional: every endpoint used here is public.
type SyncAPI struct {
	apiService *kucoin.ApiService
}

func NewSyncAPI() *SyncAPI {
	return &SyncAPI{
		apiService: kucoin.NewApiService(
			kucoin.ApiKeyOption(os.Getenv("KUCOIN_API_KEY")),
			kucoin.ApiSecretOption(os.Getenv("KUCOIN_SECRET_KEY")),
			kucoin.ApiPassPhraseOption(os.Getenv("KUCOIN_PASSPHRASE")),
		),
	}
}

func restSymbol(symbol *domain.MarketSymbol) string {
	return strings.ToUpper(symbol.Join("-"))
}

// WsConnOpts does the websocket token dance: the streaming endpoint is only
// reachable with a short-lived token handed out over REST.
func (api *SyncAPI) WsConnOpts() (*kucoin.WebSocketTokenModel, error) {
	resp, err := api.apiService.WebSocketPublicToken()
	if err != nil {
		return nil, fmt.Errorf("failed to get ws connection options: %w", err)
	}

	data := &kucoin.WebSocketTokenModel{}
	if err = json.Unmarshal([]byte(resp.RawData), data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response body: %w, response: %s", err, resp.Message)
	}

	return data, nil
}

type orderBookSnapshot struct {
	Sequence string     `json:"sequence"`
	Time     int64      `json:"time"`
	Bids     [][]string `json:"bids"`
	Asks     [][]string `json:"asks"`
}

func (api *SyncAPI) OrderBookSnapshot(symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	resp, err := api.apiService.AggregatedFullOrderBookV3(restSymbol(symbol))
	if err != nil {
		return nil, fmt.Errorf("failed to get order book snapshot: %w", err)
	}

	data := &orderBookSnapshot{}
	if err = json.Unmarshal(resp.RawData, data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response body: %w, response: %s", err, resp.RawData)
	}

	lastUpdId, err := strconv.ParseInt(data.Sequence, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to convert sequence to int: %w, response: %s", err, resp.RawData)
	}

	return &domain.OrderBookSnapshot{
		Source:       domain.OrderBookSource_Provider,
		LastUpdateId: lastUpdId,
		Bids:         data.Bids,
		Asks:         data.Asks,
	}, nil
}

type marketStats struct {
	Symbol     string `json:"symbol"`
	High       string `json:"high"`
	Low        string `json:"low"`
	Vol        string `json:"vol"`
	Last       string `json:"last"`
	ChangeRate string `json:"changeRate"`
	Time       int64  `json:"time"`
}

func (api *SyncAPI) Tickers(symbols []*domain.MarketSymbol) (map[string]*domain.Ticker, error) {
	out := make(map[string]*domain.Ticker, len(symbols))
	for _, symbol := range symbols {
		resp, err := api.apiService.Stats24hr(restSymbol(symbol))
		if err != nil {
			return nil, fmt.Errorf("failed to get 24h stats for %s: %w", symbol.String(), err)
		}

		data := &marketStats{}
		if err = json.Unmarshal(resp.RawData, data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response body: %w, response: %s", err, resp.RawData)
		}

		out[symbol.String()] = &domain.Ticker{
			Last:      data.Last,
			High:      data.High,
			Low:       data.Low,
			Volume:    data.Vol,
			Change:    data.ChangeRate,
			Timestamp: data.Time,
		}
	}
	return out, nil
}

type tradeHistory struct {
	Sequence string `json:"sequence"`
	Price    string `json:"price"`
	Size     string `json:"size"`
	Side     string `json:"side"`
	Time     int64  `json:"time"` // nanoseconds
}

func (api *SyncAPI) Trades(symbol *domain.MarketSymbol) ([]domain.Trade, error) {
	resp, err := api.apiService.TradeHistories(restSymbol(symbol))
	if err != nil {
		return nil, fmt.Errorf("failed to get trade histories: %w", err)
	}

	var data []tradeHistory
	if err = json.Unmarshal(resp.RawData, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response body: %w, response: %s", err, resp.RawData)
	}

	trades := make([]domain.Trade, 0, len(data))
	for _, t := range data {
		id, err := strconv.ParseInt(t.Sequence, 10, 64)
		if err != nil {
			continue
		}
		trades = append(trades, domain.Trade{
			Id:        id,
			Price:     t.Price,
			Rate:      t.Price,
			Quantity:  t.Size,
			OrderType: t.Side,
			Timestamp: t.Time / int64(time.Millisecond),
		})
	}
	return trades, nil
}

func (api *SyncAPI) Klines(symbol *domain.MarketSymbol, interval string, limit int) ([]*domain.Kline, error) {
	typo, ok := klineTypes[interval]
	if !ok {
		return nil, fmt.Errorf("unsupported kline interval %q", interval)
	}

	period := intervalDurations[interval]
	endAt := time.Now()
	startAt := endAt.Add(-time.Duration(limit) * period)

	resp, err := api.apiService.KLines(restSymbol(symbol), typo, startAt.Unix(), endAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to get klines: %w", err)
	}

	// rows are [time, open, close, high, low, volume, turnover], newest first
	var data [][]string
	if err = json.Unmarshal(resp.RawData, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response body: %w, response: %s", err, resp.RawData)
	}

	klines := make([]*domain.Kline, 0, len(data))
	for i := len(data) - 1; i >= 0; i-- {
		row := data[i]
		if len(row) < 6 {
			continue
		}
		openAt, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}

		openTime := time.Unix(openAt, 0)
		closeTime := openTime.Add(period)
		remaining := time.Until(closeTime).Milliseconds()
		closed := remaining <= 0
		if remaining < 0 {
			remaining = 0
		}

		klines = append(klines, &domain.Kline{
			Timestamp:     openTime.UnixMilli(),
			Open:          row[1],
			Close:         row[2],
			High:          row[3],
			Low:           row[4],
			Volume:        row[5],
			Closed:        closed,
			RemainingTime: remaining,
		})
	}
	return klines, nil
}
