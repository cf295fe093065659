package binance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"

	"github.com/spooky-finn/go-streambridge/domain"
)

const restTimeout = 10 * time.Second

// SyncAPI serves the request/response side of the exchange: snapshots for
// the order book maintainers and the polled data behind emulation loops.
type SyncAPI struct {
	client *binance.Client
}

func NewSyncAPI() *SyncAPI {
	// public market data needs no credentials
	return &SyncAPI{client: binance.NewClient("", "")}
}

func restSymbol(symbol *domain.MarketSymbol) string {
	return strings.ToUpper(symbol.Join(""))
}

func (api *SyncAPI) OrderBookSnapshot(symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
	defer cancel()

	res, err := api.client.NewDepthService().
		Symbol(restSymbol(symbol)).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get order book snapshot: %w", err)
	}

	bids := make([][]string, 0, len(res.Bids))
	for _, b := range res.Bids {
		bids = append(bids, []string{b.Price, b.Quantity})
	}
	asks := make([][]string, 0, len(res.Asks))
	for _, a := range res.Asks {
		asks = append(asks, []string{a.Price, a.Quantity})
	}

	return &domain.OrderBookSnapshot{
		Source:       domain.OrderBookSource_Provider,
		LastUpdateId: res.LastUpdateID,
		Bids:         bids,
		Asks:         asks,
	}, nil
}

func (api *SyncAPI) Tickers(symbols []*domain.MarketSymbol) (map[string]*domain.Ticker, error) {
	ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
	defer cancel()

	out := make(map[string]*domain.Ticker, len(symbols))
	for _, symbol := range symbols {
		stats, err := api.client.NewListPriceChangeStatsService().
			Symbol(restSymbol(symbol)).
			Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get ticker for %s: %w", symbol.String(), err)
		}
		if len(stats) == 0 {
			continue
		}

		s := stats[0]
		out[symbol.String()] = &domain.Ticker{
			Last:      s.LastPrice,
			High:      s.HighPrice,
			Low:       s.LowPrice,
			Volume:    s.Volume,
			Change:    s.PriceChangePercent,
			Timestamp: s.CloseTime,
		}
	}
	return out, nil
}

func (api *SyncAPI) Trades(symbol *domain.MarketSymbol) ([]domain.Trade, error) {
	ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
	defer cancel()

	res, err := api.client.NewRecentTradesService().
		Symbol(restSymbol(symbol)).
		Limit(100).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent trades: %w", err)
	}

	trades := make([]domain.Trade, 0, len(res))
	for _, t := range res {
		orderType := "buy"
		if t.IsBuyerMaker {
			orderType = "sell"
		}
		trades = append(trades, domain.Trade{
			Id:        t.ID,
			Price:     t.Price,
			Rate:      t.Price,
			Quantity:  t.Quantity,
			OrderType: orderType,
			Timestamp: t.Time,
		})
	}
	return trades, nil
}

func (api *SyncAPI) Klines(symbol *domain.MarketSymbol, interval string, limit int) ([]*domain.Kline, error) {
	ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
	defer cancel()

	res, err := api.client.NewKlinesService().
		Symbol(restSymbol(symbol)).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get klines: %w", err)
	}

	now := time.Now().UnixMilli()
	klines := make([]*domain.Kline, 0, len(res))
	for _, k := range res {
		remaining := k.CloseTime - now
		closed := remaining <= 0
		if remaining < 0 {
			remaining = 0
		}
		klines = append(klines, &domain.Kline{
			Timestamp:     k.OpenTime,
			Open:          k.Open,
			High:          k.High,
			Low:           k.Low,
			Close:         k.Close,
			Volume:        k.Volume,
			Closed:        closed,
			RemainingTime: remaining,
		})
	}
	return klines, nil
}
