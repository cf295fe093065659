package subscription

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-streambridge/config"
	"github.com/spooky-finn/go-streambridge/domain"
	promclient "github.com/spooky-finn/go-streambridge/infrastructure/prometheus"
	"github.com/spooky-finn/go-streambridge/logger"
	"github.com/spooky-finn/go-streambridge/transport"
)

// streamConn is the transport surface the manager drives. Satisfied by
// *transport.Transport; narrowed to an interface so tests can substitute a
// scripted connection.
type streamConn interface {
	Connect()
	Disconnect()
	Reconnect(immediate bool)
	Send(msgs [][]byte)
	IsConnected() bool
	State() transport.State
	Events() <-chan transport.Event
}

// framePinger is implemented by adapters whose exchange expects an
// application-level ping message instead of websocket pings.
type framePinger interface {
	PingFrame() []byte
}

// record is the interest state of one subscribed key: which sessions want it
// and since when. A record exists if and only if at least one session holds
// interest.
type record struct {
	timestamp time.Time
	sessions  map[string]time.Time
}

// Manager owns all subscription state of one provider: the session interest
// sets, the streaming connection, the per-pair order book maintainers and the
// REST emulation loops. All mutations go through the Update* methods, which
// diff the interest sets and translate the transitions into wire frames,
// maintainer lifecycles and emulation registrations.
type Manager struct {
	adapter  domain.ProtocolAdapter
	syncAPI  domain.SyncAPI
	feed     *Feed
	emulator *Emulator
	cfg      config.TransportConfig
	log      *logrus.Entry

	newConn func(opts transport.Options) streamConn

	// wireMu serializes an interest diff together with the dispatch of its
	// frames, so changes reach the exchange in the order the interest sets
	// changed. Held across update and replay; never while holding mu alone.
	wireMu sync.Mutex

	mu          sync.Mutex
	records     map[domain.EntityType]map[string]*record
	changed     map[domain.EntityType]time.Time
	marketRefs  map[string]int
	maintainers map[string]*domain.OrderbookMaintainer
	conn        streamConn
	connectedAt time.Time
	closed      bool
}

func NewManager(
	adapter domain.ProtocolAdapter,
	syncAPI domain.SyncAPI,
	feed *Feed,
	transportCfg config.TransportConfig,
	emulationCfg config.EmulationConfig,
) *Manager {
	return &Manager{
		adapter:  adapter,
		syncAPI:  syncAPI,
		feed:     feed,
		emulator: NewEmulator(adapter.Provider(), syncAPI, feed, emulationCfg),
		cfg:      transportCfg,
		newConn: func(opts transport.Options) streamConn {
			return transport.New(opts)
		},
		records:     make(map[domain.EntityType]map[string]*record),
		changed:     make(map[domain.EntityType]time.Time),
		marketRefs:  make(map[string]int),
		maintainers: make(map[string]*domain.OrderbookMaintainer),
		log:         logger.WithProvider("subscription-manager", adapter.Provider()),
	}
}

func (m *Manager) Provider() string {
	return m.adapter.Provider()
}

func keyFor(symbol *domain.MarketSymbol, interval string) string {
	if interval != "" {
		return symbol.String() + "@" + interval
	}
	return symbol.String()
}

// dispatch is the side-effect plan produced by one locked diff of the
// interest sets. It is executed outside the lock.
type dispatch struct {
	// wire holds the wire-level changes in the order the diff produced them.
	wire []domain.Change

	newMaintainers    []*domain.OrderbookMaintainer
	closedMaintainers []*domain.OrderbookMaintainer
	resyncMaintainers []*domain.OrderbookMaintainer

	emulatorOn     []domain.Change
	emulatorOff    []domain.Change
	emulatorResync []domain.Change

	connect bool
}

// addWire queues one wire change, cancelling a pending opposite change for
// the same channel instead. A subscribe and unsubscribe of one key inside a
// single update must never reach the exchange.
func (d *dispatch) addWire(change domain.Change) {
	for i, c := range d.wire {
		if c.Type != change.Type && sameWireChannel(c, change) {
			d.wire = append(d.wire[:i], d.wire[i+1:]...)
			return
		}
	}
	d.wire = append(d.wire, change)
}

func sameWireChannel(a, b domain.Change) bool {
	if a.Entity != b.Entity || a.Interval != b.Interval {
		return false
	}
	if a.Symbol == nil || b.Symbol == nil {
		return a.Symbol == nil && b.Symbol == nil
	}
	return a.Symbol.Equal(b.Symbol)
}

func (m *Manager) UpdateTickersSubscriptions(sessionID string, subscribe, unsubscribe []*domain.MarketSymbol, connect bool) error {
	return m.update(sessionID, domain.EntityTicker, symbolTopics(subscribe), symbolTopics(unsubscribe), nil, connect)
}

func (m *Manager) UpdateOrderBooksSubscriptions(sessionID string, subscribe, unsubscribe, resync []*domain.MarketSymbol, connect bool) error {
	return m.update(sessionID, domain.EntityOrderBook, symbolTopics(subscribe), symbolTopics(unsubscribe), symbolTopics(resync), connect)
}

func (m *Manager) UpdateTradesSubscriptions(sessionID string, subscribe, unsubscribe []*domain.MarketSymbol, connect bool) error {
	return m.update(sessionID, domain.EntityTrades, symbolTopics(subscribe), symbolTopics(unsubscribe), nil, connect)
}

func (m *Manager) UpdateKlinesSubscriptions(sessionID string, subscribe, unsubscribe, resync []KlineTopic, connect bool) error {
	return m.update(sessionID, domain.EntityKline, subscribe, unsubscribe, resync, connect)
}

func symbolTopics(symbols []*domain.MarketSymbol) []KlineTopic {
	topics := make([]KlineTopic, 0, len(symbols))
	for _, s := range symbols {
		topics = append(topics, KlineTopic{Symbol: s})
	}
	return topics
}

func (m *Manager) update(sessionID string, entity domain.EntityType, subscribe, unsubscribe, resync []KlineTopic, connect bool) error {
	if sessionID == "" {
		return fmt.Errorf("session id must not be empty")
	}
	for _, t := range append(append(append([]KlineTopic{}, subscribe...), unsubscribe...), resync...) {
		if t.Symbol == nil {
			return fmt.Errorf("market pair must not be nil")
		}
		if entity == domain.EntityKline && t.Interval == "" {
			return fmt.Errorf("kline interval must not be empty")
		}
	}

	m.wireMu.Lock()
	defer m.wireMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("subscription manager for %s is closed", m.Provider())
	}

	d := &dispatch{connect: connect}
	for _, t := range subscribe {
		m.subscribeLocked(sessionID, entity, t, d)
	}
	for _, t := range unsubscribe {
		m.unsubscribeLocked(sessionID, entity, t, d)
	}
	for _, t := range resync {
		m.resyncLocked(entity, t, d)
	}
	m.mu.Unlock()

	return m.execute(d)
}

// subscribeLocked registers one session's interest in one key. Only the
// first interested session produces external effects.
func (m *Manager) subscribeLocked(sessionID string, entity domain.EntityType, t KlineTopic, d *dispatch) {
	key := keyFor(t.Symbol, t.Interval)

	if m.records[entity] == nil {
		m.records[entity] = make(map[string]*record)
	}
	now := time.Now()
	rec := m.records[entity][key]
	if rec != nil {
		// already live, only remember this session's interest
		if _, known := rec.sessions[sessionID]; !known {
			rec.timestamp = now
			m.changed[entity] = now
		}
		rec.sessions[sessionID] = now
		return
	}

	rec = &record{
		timestamp: now,
		sessions:  map[string]time.Time{sessionID: now},
	}
	m.records[entity][key] = rec
	m.changed[entity] = now

	change := domain.Change{Type: domain.ChangeSubscribe, Entity: entity, Symbol: t.Symbol, Interval: t.Interval}

	if entity == domain.EntityOrderBook {
		mnt := domain.NewOrderbookMaintainer(m.Provider(), t.Symbol, m.syncAPI, m.adapter.Validator())
		m.maintainers[key] = mnt
		d.newMaintainers = append(d.newMaintainers, mnt)
	}

	if m.isEmulated(entity) {
		d.emulatorOn = append(d.emulatorOn, change)
		return
	}

	if wire, ok := m.wireSubscribeLocked(change); ok {
		d.addWire(wire)
	}
}

// unsubscribeLocked drops one session's interest. Only the last session's
// departure produces external effects.
func (m *Manager) unsubscribeLocked(sessionID string, entity domain.EntityType, t KlineTopic, d *dispatch) {
	key := keyFor(t.Symbol, t.Interval)

	rec := m.records[entity][key]
	if rec == nil {
		return
	}
	if _, known := rec.sessions[sessionID]; !known {
		return
	}
	now := time.Now()
	delete(rec.sessions, sessionID)
	m.changed[entity] = now
	if len(rec.sessions) > 0 {
		rec.timestamp = now
		return
	}

	delete(m.records[entity], key)
	if len(m.records[entity]) == 0 {
		delete(m.records, entity)
		delete(m.changed, entity)
	}

	change := domain.Change{Type: domain.ChangeUnsubscribe, Entity: entity, Symbol: t.Symbol, Interval: t.Interval}

	if entity == domain.EntityOrderBook {
		if mnt, ok := m.maintainers[key]; ok {
			delete(m.maintainers, key)
			d.closedMaintainers = append(d.closedMaintainers, mnt)
		}
	}

	if m.isEmulated(entity) {
		d.emulatorOff = append(d.emulatorOff, change)
		return
	}

	if wire, ok := m.wireUnsubscribeLocked(change); ok {
		d.addWire(wire)
	}
}

// resyncLocked re-establishes one key's data from scratch. Keys without live
// interest are skipped: a resync never creates a subscription.
func (m *Manager) resyncLocked(entity domain.EntityType, t KlineTopic, d *dispatch) {
	key := keyFor(t.Symbol, t.Interval)
	if m.records[entity][key] == nil {
		return
	}

	if entity == domain.EntityOrderBook {
		if mnt, ok := m.maintainers[key]; ok {
			d.resyncMaintainers = append(d.resyncMaintainers, mnt)
		}
		return
	}

	if m.isEmulated(entity) {
		d.emulatorResync = append(d.emulatorResync, domain.Change{
			Type: domain.ChangeResync, Entity: entity, Symbol: t.Symbol, Interval: t.Interval,
		})
	}
	// pushed non-book streams carry no state to rebuild
}

// wireEntity maps a logical entity to the channel the provider actually
// speaks: the global tickers firehose, the bundled market channel, or the
// entity itself.
func (m *Manager) wireEntity(entity domain.EntityType) domain.EntityType {
	caps := m.adapter.Capabilities()
	switch entity {
	case domain.EntityTicker:
		if caps.GlobalTickers {
			return domain.EntityTickers
		}
	case domain.EntityOrderBook, domain.EntityTrades:
		if caps.BundlesMarket {
			return domain.EntityMarket
		}
	}
	return entity
}

func (m *Manager) isEmulated(entity domain.EntityType) bool {
	return !m.adapter.Capabilities().HasPush(m.wireEntity(entity))
}

// wireSubscribeLocked collapses a logical subscribe into the wire-level
// change, deduplicating shared channels. The firehose is subscribed once for
// all ticker pairs; a bundled market channel is reference-counted across the
// order book and trades interest in the same pair.
func (m *Manager) wireSubscribeLocked(change domain.Change) (domain.Change, bool) {
	switch m.wireEntity(change.Entity) {
	case domain.EntityTickers:
		if len(m.records[domain.EntityTicker]) > 1 {
			// the firehose is already subscribed for an earlier pair
			return domain.Change{}, false
		}
		return domain.Change{Type: domain.ChangeSubscribe, Entity: domain.EntityTickers}, true

	case domain.EntityMarket:
		key := change.Symbol.String()
		m.marketRefs[key]++
		if m.marketRefs[key] > 1 {
			return domain.Change{}, false
		}
		return domain.Change{Type: domain.ChangeSubscribe, Entity: domain.EntityMarket, Symbol: change.Symbol}, true
	}
	return change, true
}

func (m *Manager) wireUnsubscribeLocked(change domain.Change) (domain.Change, bool) {
	switch m.wireEntity(change.Entity) {
	case domain.EntityTickers:
		if len(m.records[domain.EntityTicker]) > 0 {
			return domain.Change{}, false
		}
		return domain.Change{Type: domain.ChangeUnsubscribe, Entity: domain.EntityTickers}, true

	case domain.EntityMarket:
		key := change.Symbol.String()
		m.marketRefs[key]--
		if m.marketRefs[key] > 0 {
			return domain.Change{}, false
		}
		delete(m.marketRefs, key)
		return domain.Change{Type: domain.ChangeUnsubscribe, Entity: domain.EntityMarket, Symbol: change.Symbol}, true
	}
	return change, true
}

// execute applies a dispatch plan: maintainer teardown first, then new
// maintainers and emulation loops, then the wire frames.
func (m *Manager) execute(d *dispatch) error {
	for _, mnt := range d.closedMaintainers {
		mnt.Close()
		promclient.OpenOrderBooksGauge.WithLabelValues(m.Provider()).Dec()
	}
	for _, mnt := range d.newMaintainers {
		go m.forwardBookEvents(mnt)
		promclient.OpenOrderBooksGauge.WithLabelValues(m.Provider()).Inc()
	}

	for _, c := range d.emulatorOff {
		m.emulator.Unregister(c.Entity, c.Symbol, c.Interval)
	}
	for _, c := range d.emulatorOn {
		m.emulator.Register(c.Entity, c.Symbol, c.Interval)
	}
	for _, c := range d.emulatorResync {
		m.emulator.Resync(c.Entity, c.Symbol, c.Interval)
	}

	needWire := len(d.wire) > 0 || len(d.newMaintainers) > 0

	conn, connected, err := m.ensureConn(d.connect && needWire)
	if err != nil {
		return err
	}

	if conn != nil && connected {
		m.sendWire(conn, d.wire)
		// only now that the update stream is live does a snapshot make sense
		for _, mnt := range d.newMaintainers {
			mnt.Resync()
		}
	}

	for _, mnt := range d.resyncMaintainers {
		mnt.Resync()
	}
	return nil
}

// sendWire flushes wire changes in the order the diff produced them,
// batching consecutive runs of the same direction into one adapter call.
func (m *Manager) sendWire(conn streamConn, changes []domain.Change) {
	for start := 0; start < len(changes); {
		end := start + 1
		for end < len(changes) && changes[end].Type == changes[start].Type {
			end++
		}

		var frames [][]byte
		if changes[start].Type == domain.ChangeSubscribe {
			frames = m.adapter.SubscribeFrames(changes[start:end])
		} else {
			frames = m.adapter.UnsubscribeFrames(changes[start:end])
		}
		if len(frames) > 0 {
			conn.Send(frames)
		}
		start = end
	}
}

// ensureConn resolves the streaming connection. With connect=false an absent
// or down connection stays down: the replay on the next connect re-derives
// the full changeset from the interest sets.
func (m *Manager) ensureConn(connect bool) (streamConn, bool, error) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		if !connect {
			return nil, false, nil
		}

		url, header, err := m.adapter.Endpoint()
		if err != nil {
			return nil, false, fmt.Errorf("failed to resolve %s endpoint: %w", m.Provider(), err)
		}

		opts := transport.Options{
			Name:          m.Provider(),
			URL:           url,
			Header:        header,
			RetryLimit:    m.cfg.RetryLimit,
			RetryDelay:    m.cfg.RetryDelay,
			QueueOutbound: m.cfg.QueueOutbound,
			PingInterval:  m.cfg.PingInterval,
		}
		if p, ok := m.adapter.(framePinger); ok {
			opts.PingPayload = p.PingFrame
		}
		conn = m.newConn(opts)

		m.mu.Lock()
		if m.conn != nil {
			// lost the race to a concurrent update
			conn = m.conn
			m.mu.Unlock()
		} else {
			m.conn = conn
			m.mu.Unlock()
			go m.runConnEvents(conn)
		}
	}

	if connect {
		if conn.State() == transport.StateTerminated {
			conn.Reconnect(true)
		} else {
			conn.Connect()
		}
	}
	return conn, conn.IsConnected(), nil
}

// runConnEvents consumes the transport event stream for the lifetime of one
// connection object.
func (m *Manager) runConnEvents(conn streamConn) {
	for ev := range conn.Events() {
		switch ev.Type {
		case transport.EventMessage:
			m.handleFrame(ev.Raw)

		case transport.EventConnected:
			promclient.TransportReconnectsCounter.WithLabelValues(m.Provider()).Inc()
			m.mu.Lock()
			m.connectedAt = time.Now()
			m.mu.Unlock()
			m.replay(conn)
			m.emitLifecycle(domain.LifecycleConnected, ev)

		case transport.EventDisconnected:
			m.emitLifecycle(domain.LifecycleDisconnected, ev)

		case transport.EventConnectionError:
			m.emitLifecycle(domain.LifecycleConnectionError, ev)

		case transport.EventTerminated:
			m.log.WithField("attempts", ev.Attempts).Warn("streaming connection terminated")
			m.emitLifecycle(domain.LifecycleTerminated, ev)
		}
	}
}

func (m *Manager) emitLifecycle(kind domain.LifecycleKind, ev transport.Event) {
	m.feed.Lifecycle <- &domain.LifecycleEvent{
		Provider: m.Provider(),
		Kind:     kind,
		Code:     ev.Code,
		Reason:   ev.Reason,
		Attempts: ev.Attempts,
		Err:      ev.Err,
	}
}

// replay re-derives the full wire changeset from the interest sets and
// replays it onto a freshly established connection. Emulated entities are
// excluded: their loops never stopped. Every order book resyncs afterwards,
// since updates were lost during the gap.
func (m *Manager) replay(conn streamConn) {
	m.wireMu.Lock()
	defer m.wireMu.Unlock()

	m.mu.Lock()
	changes := m.wireChangesetLocked()
	maintainers := make([]*domain.OrderbookMaintainer, 0, len(m.maintainers))
	for _, mnt := range m.maintainers {
		maintainers = append(maintainers, mnt)
	}
	m.mu.Unlock()

	if len(changes) > 0 {
		if frames := m.adapter.SubscribeFrames(changes); len(frames) > 0 {
			conn.Send(frames)
		}
	}
	for _, mnt := range maintainers {
		mnt.Resync()
	}
}

// wireChangesetLocked flattens the interest sets into the wire-level
// subscribe set: the firehose once, each bundled market once, every other
// pushed key individually.
func (m *Manager) wireChangesetLocked() []domain.Change {
	var changes []domain.Change
	seenMarkets := make(map[string]bool)

	for entity, recs := range m.records {
		if m.isEmulated(entity) {
			continue
		}

		switch m.wireEntity(entity) {
		case domain.EntityTickers:
			if len(recs) > 0 {
				changes = append(changes, domain.Change{Type: domain.ChangeSubscribe, Entity: domain.EntityTickers})
			}

		case domain.EntityMarket:
			for key := range recs {
				if seenMarkets[key] {
					continue
				}
				seenMarkets[key] = true
				symbol, err := domain.NewMarketSymbolFromString(key)
				if err != nil {
					continue
				}
				changes = append(changes, domain.Change{Type: domain.ChangeSubscribe, Entity: domain.EntityMarket, Symbol: symbol})
			}

		default:
			for key := range recs {
				symbol, interval := splitKey(key)
				s, err := domain.NewMarketSymbolFromString(symbol)
				if err != nil {
					continue
				}
				changes = append(changes, domain.Change{Type: domain.ChangeSubscribe, Entity: entity, Symbol: s, Interval: interval})
			}
		}
	}
	return changes
}

func splitKey(key string) (symbol, interval string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '@' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// handleFrame decodes one inbound frame and routes the resulting events to
// the feed. Undecodable frames are dropped and counted: one malformed frame
// must never take the stream down.
func (m *Manager) handleFrame(raw []byte) {
	events, err := m.adapter.Decode(raw)
	if err != nil {
		promclient.DecodeErrorsCounter.WithLabelValues(m.Provider()).Inc()
		if config.DebugMode {
			m.log.WithError(err).Debug("dropped undecodable frame")
		}
		return
	}

	for i := range events {
		m.routeNative(&events[i])
	}
}

// routeNative forwards one decoded event, filtered by live interest. Events
// for keys nobody subscribed to are discarded, which also covers firehose
// tickers for pairs outside the interest set and late frames racing an
// unsubscribe.
func (m *Manager) routeNative(ev *domain.NativeEvent) {
	if ev.Symbol == nil {
		return
	}
	key := keyFor(ev.Symbol, ev.Interval)

	m.mu.Lock()
	rec := m.records[ev.Entity][key]
	var mnt *domain.OrderbookMaintainer
	if ev.Entity == domain.EntityOrderBook {
		mnt = m.maintainers[key]
	}
	m.mu.Unlock()

	if rec == nil {
		return
	}

	switch ev.Entity {
	case domain.EntityTicker:
		m.feed.Tickers <- &domain.TickerEvent{Provider: m.Provider(), Symbol: ev.Symbol, Ticker: ev.Ticker}
		promclient.EmittedEventsCounter.WithLabelValues(m.Provider(), string(domain.EntityTicker)).Inc()

	case domain.EntityOrderBook:
		if mnt != nil && ev.Update != nil {
			mnt.HandleUpdate(ev.Update)
		}

	case domain.EntityTrades:
		if len(ev.Trades) > 0 {
			m.feed.Trades <- &domain.TradesEvent{Provider: m.Provider(), Symbol: ev.Symbol, Trades: ev.Trades}
			promclient.EmittedEventsCounter.WithLabelValues(m.Provider(), string(domain.EntityTrades)).Inc()
		}

	case domain.EntityKline:
		m.feed.Klines <- &domain.KlineEvent{Provider: m.Provider(), Symbol: ev.Symbol, Interval: ev.Interval, Kline: ev.Kline}
		promclient.EmittedEventsCounter.WithLabelValues(m.Provider(), string(domain.EntityKline)).Inc()
	}
}

// forwardBookEvents pumps one maintainer's consistent book transitions into
// the shared feed until the maintainer closes.
func (m *Manager) forwardBookEvents(mnt *domain.OrderbookMaintainer) {
	symbol := mnt.Symbol()
	for {
		select {
		case ev := <-mnt.Out():
			switch ev.Kind {
			case domain.BookSnapshotEvent:
				m.feed.OrderBooks <- &domain.OrderBookEvent{
					Provider: m.Provider(),
					Symbol:   symbol,
					CSeq:     ev.CSeq,
					Snapshot: ev.Snapshot,
				}
			case domain.BookUpdateEvent:
				m.feed.OrderBookUpdates <- &domain.OrderBookUpdateEvent{
					Provider: m.Provider(),
					Symbol:   symbol,
					CSeq:     ev.CSeq,
					Bids:     ev.Bids,
					Asks:     ev.Asks,
				}
			}
			promclient.EmittedEventsCounter.WithLabelValues(m.Provider(), string(domain.EntityOrderBook)).Inc()

		case <-mnt.Done():
			return
		}
	}
}

// GetSubscriptions reports the live interest sets per entity. The entity
// timestamp is the time of the last membership change, a pair timestamp the
// last change of that pair's sessions.
func (m *Manager) GetSubscriptions() map[domain.EntityType]EntitySubscriptions {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[domain.EntityType]EntitySubscriptions, len(m.records))
	for entity, recs := range m.records {
		pairs := make(map[string]PairSubscription, len(recs))
		for key, rec := range recs {
			pairs[key] = PairSubscription{Timestamp: rec.timestamp}
		}
		out[entity] = EntitySubscriptions{Timestamp: m.changed[entity], Pairs: pairs}
	}
	return out
}

// GetConnections reports the streaming connection and every emulation loop.
func (m *Manager) GetConnections() map[string]ConnectionInfo {
	out := m.emulator.Connections()

	m.mu.Lock()
	conn := m.conn
	connectedAt := m.connectedAt
	m.mu.Unlock()

	if conn != nil {
		state := "disconnected"
		switch conn.State() {
		case transport.StateConnected:
			state = "connected"
		case transport.StateConnecting:
			state = "connecting"
		case transport.StateTerminated:
			state = "terminated"
		}
		out["stream"] = ConnectionInfo{
			Timestamp: connectedAt,
			Data:      map[string]any{"state": state},
		}
	}
	return out
}

// OrderBookSnapshot serves a book snapshot, preferring the local mirror over
// a round trip to the provider.
func (m *Manager) OrderBookSnapshot(symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	m.mu.Lock()
	mnt := m.maintainers[symbol.String()]
	m.mu.Unlock()

	if mnt != nil {
		if book := mnt.Book(); book != nil {
			return book.TakeSnapshot(limit), nil
		}
	}
	return m.syncAPI.OrderBookSnapshot(symbol, limit)
}

// Close tears down the connection, every maintainer and every emulation loop.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	conn := m.conn
	m.conn = nil
	maintainers := m.maintainers
	m.maintainers = make(map[string]*domain.OrderbookMaintainer)
	m.mu.Unlock()

	if conn != nil {
		conn.Disconnect()
	}
	for range maintainers {
		promclient.OpenOrderBooksGauge.WithLabelValues(m.Provider()).Dec()
	}
	for _, mnt := range maintainers {
		mnt.Close()
	}
	m.emulator.Stop()
}
