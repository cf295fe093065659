package hub

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-streambridge/domain"
	"github.com/spooky-finn/go-streambridge/logger"
	"github.com/spooky-finn/go-streambridge/subscription"
)

// Hub is the single entry point of the bridge: it validates requests, fans
// them out to the per-provider subscription managers and exposes the shared
// event feed. Validation fails fast: a malformed pair or unknown provider
// rejects the whole request before any state changes.
type Hub struct {
	managers   map[string]*subscription.Manager
	validation *ValidationService
	feed       *subscription.Feed
	log        *logrus.Entry
}

func New(managers []*subscription.Manager, feed *subscription.Feed) *Hub {
	byProvider := make(map[string]*subscription.Manager, len(managers))
	providers := make([]string, 0, len(managers))
	for _, m := range managers {
		byProvider[m.Provider()] = m
		providers = append(providers, m.Provider())
	}

	return &Hub{
		managers:   byProvider,
		validation: NewValidationService(providers),
		feed:       feed,
		log:        logger.WithComponent("hub"),
	}
}

// Feed returns the shared output channels all providers emit into.
func (h *Hub) Feed() *subscription.Feed {
	return h.feed
}

func (h *Hub) manager(provider string) (*subscription.Manager, error) {
	if !h.validation.IsSupportedProvider(provider) {
		return nil, fmt.Errorf("provider %s is not supported", provider)
	}
	return h.managers[provider], nil
}

// ParsePairs converts request-level pair strings into market symbols,
// rejecting the whole batch on the first malformed one.
func ParsePairs(pairs []string) ([]*domain.MarketSymbol, error) {
	symbols := make([]*domain.MarketSymbol, 0, len(pairs))
	for _, p := range pairs {
		symbol, err := domain.NewMarketSymbolFromString(p)
		if err != nil {
			return nil, fmt.Errorf("invalid market symbol %q: %w", p, err)
		}
		symbols = append(symbols, symbol)
	}
	return symbols, nil
}

func (h *Hub) UpdateTickersSubscriptions(provider, sessionID string, subscribe, unsubscribe []*domain.MarketSymbol, connect bool) error {
	m, err := h.manager(provider)
	if err != nil {
		return err
	}
	return m.UpdateTickersSubscriptions(sessionID, subscribe, unsubscribe, connect)
}

func (h *Hub) UpdateOrderBooksSubscriptions(provider, sessionID string, subscribe, unsubscribe, resync []*domain.MarketSymbol, connect bool) error {
	m, err := h.manager(provider)
	if err != nil {
		return err
	}
	return m.UpdateOrderBooksSubscriptions(sessionID, subscribe, unsubscribe, resync, connect)
}

func (h *Hub) UpdateTradesSubscriptions(provider, sessionID string, subscribe, unsubscribe []*domain.MarketSymbol, connect bool) error {
	m, err := h.manager(provider)
	if err != nil {
		return err
	}
	return m.UpdateTradesSubscriptions(sessionID, subscribe, unsubscribe, connect)
}

func (h *Hub) UpdateKlinesSubscriptions(provider, sessionID string, subscribe, unsubscribe, resync []subscription.KlineTopic, connect bool) error {
	m, err := h.manager(provider)
	if err != nil {
		return err
	}
	return m.UpdateKlinesSubscriptions(sessionID, subscribe, unsubscribe, resync, connect)
}

// DropSession removes every subscription one session holds, across all
// providers and entities.
func (h *Hub) DropSession(sessionID string) {
	for provider, m := range h.managers {
		for entity, subs := range m.GetSubscriptions() {
			if err := h.dropEntity(m, sessionID, entity, subs); err != nil {
				h.log.WithError(err).WithField("provider", provider).
					Warn("failed to drop session subscriptions")
			}
		}
	}
}

func (h *Hub) dropEntity(m *subscription.Manager, sessionID string, entity domain.EntityType, subs subscription.EntitySubscriptions) error {
	var symbols []*domain.MarketSymbol
	var klines []subscription.KlineTopic

	for key := range subs.Pairs {
		pair, interval := splitPairKey(key)
		symbol, err := domain.NewMarketSymbolFromString(pair)
		if err != nil {
			continue
		}
		if entity == domain.EntityKline {
			klines = append(klines, subscription.KlineTopic{Symbol: symbol, Interval: interval})
		} else {
			symbols = append(symbols, symbol)
		}
	}

	switch entity {
	case domain.EntityTicker:
		return m.UpdateTickersSubscriptions(sessionID, nil, symbols, false)
	case domain.EntityOrderBook:
		return m.UpdateOrderBooksSubscriptions(sessionID, nil, symbols, nil, false)
	case domain.EntityTrades:
		return m.UpdateTradesSubscriptions(sessionID, nil, symbols, false)
	case domain.EntityKline:
		return m.UpdateKlinesSubscriptions(sessionID, nil, klines, nil, false)
	}
	return nil
}

func splitPairKey(key string) (pair, interval string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '@' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// GetSubscriptions reports the live interest sets of every provider.
func (h *Hub) GetSubscriptions() map[string]map[domain.EntityType]subscription.EntitySubscriptions {
	out := make(map[string]map[domain.EntityType]subscription.EntitySubscriptions, len(h.managers))
	for provider, m := range h.managers {
		out[provider] = m.GetSubscriptions()
	}
	return out
}

// GetConnections reports every live streaming connection and emulation loop.
func (h *Hub) GetConnections() map[string]map[string]subscription.ConnectionInfo {
	out := make(map[string]map[string]subscription.ConnectionInfo, len(h.managers))
	for provider, m := range h.managers {
		out[provider] = m.GetConnections()
	}
	return out
}

// OrderBookSnapshot serves a book snapshot for one provider's pair, from the
// local mirror when one is live.
func (h *Hub) OrderBookSnapshot(provider string, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	m, err := h.manager(provider)
	if err != nil {
		return nil, err
	}
	return m.OrderBookSnapshot(symbol, limit)
}

// Close tears down every provider manager.
func (h *Hub) Close() {
	for _, m := range h.managers {
		m.Close()
	}
}
