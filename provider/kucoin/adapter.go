package kucoin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spooky-finn/go-streambridge/domain"
)

// Adapter speaks the exchange's token-gated websocket dialect: topic-based
// subscribe envelopes with uuid ids, typed inbound messages and a mandatory
// application-level ping.
type Adapter struct {
	syncAPI *SyncAPI
}

func NewAdapter(syncAPI *SyncAPI) *Adapter {
	return &Adapter{syncAPI: syncAPI}
}

func (a *Adapter) Provider() string { return "kucoin" }

func (a *Adapter) Capabilities() domain.Capabilities {
	return domain.Capabilities{
		Push: map[domain.EntityType]bool{
			// order book and trades arrive through the bundled market channel
			domain.EntityMarket: true,
			domain.EntityTicker: true,
		},
		BundlesMarket: true,
	}
}

// Endpoint resolves the streaming endpoint through the REST token dance.
func (a *Adapter) Endpoint() (string, http.Header, error) {
	opts, err := a.syncAPI.WsConnOpts()
	if err != nil {
		return "", nil, err
	}
	if len(opts.Servers) == 0 {
		return "", nil, fmt.Errorf("no websocket instance servers offered")
	}

	url := fmt.Sprintf("%s?token=%s&connectId=%s",
		opts.Servers[0].Endpoint, opts.Token, uuid.NewString())
	return url, nil, nil
}

type wsMessage struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	Topic          string `json:"topic,omitempty"`
	PrivateChannel bool   `json:"privateChannel,omitempty"`
	Response       bool   `json:"response,omitempty"`
}

func (a *Adapter) SubscribeFrames(changes []domain.Change) [][]byte {
	return frames("subscribe", changes)
}

func (a *Adapter) UnsubscribeFrames(changes []domain.Change) [][]byte {
	return frames("unsubscribe", changes)
}

func frames(msgType string, changes []domain.Change) [][]byte {
	var out [][]byte
	for _, c := range changes {
		for _, topic := range topicsFor(c) {
			raw, err := json.Marshal(wsMessage{
				ID:       uuid.NewString(),
				Type:     msgType,
				Topic:    topic,
				Response: true,
			})
			if err != nil {
				continue
			}
			out = append(out, raw)
		}
	}
	return out
}

// topicsFor expands one change into wire topics. The bundled market channel
// spans two of them.
func topicsFor(c domain.Change) []string {
	switch c.Entity {
	case domain.EntityMarket:
		symbol := wsSymbol(c.Symbol)
		return []string{
			"/market/level2:" + symbol,
			"/market/match:" + symbol,
		}
	case domain.EntityTicker:
		return []string{"/market/ticker:" + wsSymbol(c.Symbol)}
	}
	return nil
}

func wsSymbol(symbol *domain.MarketSymbol) string {
	return strings.ToUpper(symbol.Join("-"))
}

// PingFrame is the application-level ping the exchange expects; websocket
// pings alone get the connection dropped.
func (a *Adapter) PingFrame() []byte {
	raw, _ := json.Marshal(wsMessage{ID: uuid.NewString(), Type: "ping"})
	return raw
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

type level2Update struct {
	SequenceStart int64  `json:"sequenceStart"`
	SequenceEnd   int64  `json:"sequenceEnd"`
	Symbol        string `json:"symbol"`
	Changes       struct {
		Asks [][]string `json:"asks"`
		Bids [][]string `json:"bids"`
	} `json:"changes"`
}

type matchData struct {
	Sequence string `json:"sequence"`
	Price    string `json:"price"`
	Size     string `json:"size"`
	Side     string `json:"side"`
	Time     string `json:"time"` // nanoseconds
}

type tickerData struct {
	Price string `json:"price"`
	Size  string `json:"size"`
	Time  int64  `json:"time"`
}

// Decode turns one inbound frame into normalized events. Welcome, ack and
// pong messages decode to nothing.
func (a *Adapter) Decode(raw []byte) ([]domain.NativeEvent, error) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("malformed stream frame: %w", err)
	}
	if msg.Type != "message" {
		return nil, nil
	}

	switch {
	case strings.HasPrefix(msg.Topic, "/market/level2:"):
		return decodeLevel2(msg.Data)

	case strings.HasPrefix(msg.Topic, "/market/match:"):
		return decodeMatch(msg.Topic, msg.Data)

	case strings.HasPrefix(msg.Topic, "/market/ticker:"):
		return decodeTicker(msg.Topic, msg.Data)
	}
	return nil, nil
}

func decodeLevel2(data json.RawMessage) ([]domain.NativeEvent, error) {
	var d level2Update
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("malformed level2 update: %w", err)
	}
	symbol, err := domain.NewMarketSymbolFromString(strings.ToLower(d.Symbol))
	if err != nil {
		return nil, err
	}

	return []domain.NativeEvent{{
		Entity: domain.EntityOrderBook,
		Symbol: symbol,
		Update: domain.NewOrderBookUpdate(d.Changes.Bids, d.Changes.Asks, d.SequenceStart, d.SequenceEnd, symbol),
	}}, nil
}

func decodeMatch(topic string, data json.RawMessage) ([]domain.NativeEvent, error) {
	var d matchData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("malformed match: %w", err)
	}
	symbol, err := topicSymbol(topic)
	if err != nil {
		return nil, err
	}

	id, _ := strconv.ParseInt(d.Sequence, 10, 64)
	ts, _ := strconv.ParseInt(d.Time, 10, 64)

	return []domain.NativeEvent{{
		Entity: domain.EntityTrades,
		Symbol: symbol,
		Trades: []domain.Trade{{
			Id:        id,
			Price:     d.Price,
			Rate:      d.Price,
			Quantity:  d.Size,
			OrderType: d.Side,
			Timestamp: ts / int64(time.Millisecond),
		}},
	}}, nil
}

func decodeTicker(topic string, data json.RawMessage) ([]domain.NativeEvent, error) {
	var d tickerData
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("malformed ticker: %w", err)
	}
	symbol, err := topicSymbol(topic)
	if err != nil {
		return nil, err
	}

	// the push ticker carries the trade price only; high/low/volume come
	// from the 24h stats endpoint
	return []domain.NativeEvent{{
		Entity: domain.EntityTicker,
		Symbol: symbol,
		Ticker: &domain.Ticker{
			Last:      d.Price,
			Timestamp: d.Time,
		},
	}}, nil
}

func topicSymbol(topic string) (*domain.MarketSymbol, error) {
	idx := strings.LastIndex(topic, ":")
	if idx < 0 || idx == len(topic)-1 {
		return nil, fmt.Errorf("topic %q carries no symbol", topic)
	}
	return domain.NewMarketSymbolFromString(strings.ToLower(topic[idx+1:]))
}

func (a *Adapter) Validator() domain.DepthUpdateValidator {
	return &DepthUpdateValidator{}
}
