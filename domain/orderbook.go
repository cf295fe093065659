package domain

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

type OrderBookSource string

const (
	OrderBookSource_Provider       OrderBookSource = "Provider"
	OrderBookSource_LocalOrderBook OrderBookSource = "LocalOrderBook"
)

type OrderBookSnapshot struct {
	Source       OrderBookSource `json:"source"`
	LastUpdateId int64           `json:"lastUpdateId"`
	Bids         [][]string      `json:"bids"`
	Asks         [][]string      `json:"asks"`
}

// OrderBookUpdate is one incremental depth change. Levels are [price, quantity]
// string pairs; a zero quantity removes the price level. Providers that version
// every level individually may append the level's own sequence as a third element.
type OrderBookUpdate struct {
	Symbol        *MarketSymbol
	Bids          [][]string
	Asks          [][]string
	SequenceStart int64
	SequenceEnd   int64
}

func NewOrderBookUpdate(bids, asks [][]string, seqStart, seqEnd int64, symbol *MarketSymbol) *OrderBookUpdate {
	return &OrderBookUpdate{
		Symbol:        symbol,
		Bids:          bids,
		Asks:          asks,
		SequenceStart: seqStart,
		SequenceEnd:   seqEnd,
	}
}

// OrderBook is the locally reconstructed mirror of one instrument's book.
// It reflects exactly one installed snapshot plus every accepted update with
// a sequence greater than the snapshot's.
type OrderBook struct {
	Provider       string
	Symbol         *MarketSymbol
	Asks           [][]float64
	Bids           [][]float64
	LastUpdateID   int64
	LastUpdateTime int64

	updateMx *sync.Mutex
}

func NewOrderBook(provider string, symbol *MarketSymbol, snapshot *OrderBookSnapshot) *OrderBook {
	return &OrderBook{
		Provider:       provider,
		Symbol:         symbol,
		Asks:           parsePriceLevel(snapshot.Asks),
		Bids:           parsePriceLevel(snapshot.Bids),
		LastUpdateID:   snapshot.LastUpdateId,
		LastUpdateTime: time.Now().Unix(),

		updateMx: &sync.Mutex{},
	}
}

// ApplyUpdate mutates the mirror with one incremental update. Updates whose
// sequence does not advance the book are dropped.
func (ob *OrderBook) ApplyUpdate(update *OrderBookUpdate) bool {
	ob.updateMx.Lock()
	defer ob.updateMx.Unlock()

	if update.SequenceEnd <= ob.LastUpdateID {
		return false
	}

	ob.LastUpdateID = update.SequenceEnd
	ob.LastUpdateTime = time.Now().Unix()

	ob.updateDepth(parsePriceLevel(update.Asks), true)
	ob.updateDepth(parsePriceLevel(update.Bids), false)
	return true
}

func (ob *OrderBook) TakeSnapshot(limit int) *OrderBookSnapshot {
	ob.updateMx.Lock()
	defer ob.updateMx.Unlock()

	bids := make([][]float64, len(ob.Bids))
	asks := make([][]float64, len(ob.Asks))

	copy(bids, ob.Bids)
	copy(asks, ob.Asks)

	bids = limitDepth(bids, limit)
	asks = limitDepth(asks, limit)

	return &OrderBookSnapshot{
		Source:       OrderBookSource_LocalOrderBook,
		LastUpdateId: ob.LastUpdateID,
		Bids:         serializePriceLevel(bids),
		Asks:         serializePriceLevel(asks),
	}
}

func limitDepth(depth [][]float64, limit int) [][]float64 {
	if limit > 0 && len(depth) > limit {
		return depth[:limit]
	}

	return depth
}

func (ob *OrderBook) updateDepth(updateDepth [][]float64, isAsks bool) {
	var depth [][]float64

	if isAsks {
		depth = ob.Asks
	} else {
		depth = ob.Bids
	}

	for _, level := range updateDepth {
		price := level[0]
		quantity := level[1]

		if quantity == 0 {
			// remove price level
			for i, lvl := range depth {
				if lvl[0] == price {
					depth[i] = depth[len(depth)-1]
					depth = depth[:len(depth)-1]
					break
				}
			}
		} else {
			// replace the level's quantity, or add the level
			updated := false
			for i, lvl := range depth {
				if lvl[0] == price {
					depth[i][1] = quantity
					updated = true
					break
				}
			}

			if !updated {
				depth = append(depth, []float64{price, quantity})
			}
		}
	}

	if isAsks {
		sort.Slice(depth, func(i, j int) bool {
			return depth[i][0] < depth[j][0]
		})
		ob.Asks = depth
	} else {
		sort.Slice(depth, func(i, j int) bool {
			return depth[i][0] > depth[j][0]
		})
		ob.Bids = depth
	}
}

// parsePriceLevel converts [price, quantity, ...] string levels to floats.
// Malformed levels are skipped, never fatal: providers routinely pad updates
// with markers the mirror does not model.
func parsePriceLevel(depth [][]string) [][]float64 {
	result := make([][]float64, 0, len(depth))
	for _, level := range depth {
		if len(level) < 2 {
			continue
		}
		price, err := strconv.ParseFloat(level[0], 64)
		if err != nil {
			continue
		}
		quantity, err := strconv.ParseFloat(level[1], 64)
		if err != nil {
			continue
		}

		result = append(result, []float64{price, quantity})
	}

	return result
}

func serializePriceLevel(depth [][]float64) [][]string {
	result := make([][]string, len(depth))
	for i, level := range depth {
		result[i] = []string{
			strconv.FormatFloat(level[0], 'f', -1, 64),
			strconv.FormatFloat(level[1], 'f', -1, 64),
		}
	}

	return result
}
