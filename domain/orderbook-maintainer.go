package domain

import (
	"errors"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-streambridge/config"
	"github.com/spooky-finn/go-streambridge/logger"
)

const (
	// Consecutive out-of-sequence updates tolerated before the book is
	// rebuilt from a fresh snapshot.
	outOfSeqUpdatesLimit = 10

	snapshotRetryDelay = 5 * time.Second

	// Updates buffered while a snapshot is in flight. The oldest are shed
	// first: anything they carried is covered by the eventual snapshot.
	maxQueuedUpdates = 4096

	defaultSnapshotLimit = 1000
)

type BookEventKind int

const (
	BookSnapshotEvent BookEventKind = iota
	BookUpdateEvent
)

// BookEvent is one consumer-visible order-book transition: a full book after
// a snapshot install, or one applied incremental update.
type BookEvent struct {
	Kind     BookEventKind
	CSeq     int64
	Snapshot *OrderBookSnapshot
	Bids     [][]string
	Asks     [][]string
}

// OrderbookMaintainer merges the one-shot snapshot fetch with the concurrent
// incremental-update stream for one instrument.
//
// The mirror is either absent (awaiting a snapshot, updates buffered) or
// consistent (snapshot plus every accepted update applied in sequence order).
// Every snapshot fetch carries a generation id; only the response matching
// the latest generation is honored, which makes resubscribe/resync bursts and
// teardown races safe.
type OrderbookMaintainer struct {
	provider  string
	symbol    *MarketSymbol
	syncAPI   SnapshotFetcher
	validator DepthUpdateValidator

	mu            sync.Mutex
	book          *OrderBook
	queue         deque.Deque[*OrderBookUpdate]
	maxSeenSeq    int64
	fetchID       int64
	outOfSeqCount int
	closed        bool

	out       chan *BookEvent
	done      chan struct{}
	closeOnce sync.Once

	log *logrus.Entry
}

func NewOrderbookMaintainer(
	provider string,
	symbol *MarketSymbol,
	syncAPI SnapshotFetcher,
	validator DepthUpdateValidator,
) *OrderbookMaintainer {
	return &OrderbookMaintainer{
		provider:  provider,
		symbol:    symbol,
		syncAPI:   syncAPI,
		validator: validator,

		out:  make(chan *BookEvent, 64),
		done: make(chan struct{}),
		log: logger.WithProvider("orderbook-maintainer", provider).
			WithField("symbol", symbol.String()),
	}
}

// Out delivers book events in non-decreasing sequence order. The channel is
// never closed while the maintainer is alive; consumers stop reading after
// Close.
func (m *OrderbookMaintainer) Out() <-chan *BookEvent {
	return m.out
}

func (m *OrderbookMaintainer) Symbol() *MarketSymbol {
	return m.symbol
}

// Done is closed when the maintainer is torn down.
func (m *OrderbookMaintainer) Done() <-chan struct{} {
	return m.done
}

// Book returns the live mirror, or nil while a snapshot is awaited.
func (m *OrderbookMaintainer) Book() *OrderBook {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book
}

// Resync drops the mirror and re-establishes it from a fresh snapshot.
// Incoming updates are buffered until the new snapshot is installed.
func (m *OrderbookMaintainer) Resync() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.resyncLocked()
}

func (m *OrderbookMaintainer) resyncLocked() {
	m.book = nil
	m.outOfSeqCount = 0
	m.fetchID++
	go m.fetchSnapshot(m.fetchID)
}

// HandleUpdate feeds one decoded incremental update into the maintainer.
func (m *OrderbookMaintainer) HandleUpdate(update *OrderBookUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	if update.SequenceEnd > m.maxSeenSeq {
		m.maxSeenSeq = update.SequenceEnd
	}

	if m.book == nil {
		if m.queue.Len() >= maxQueuedUpdates {
			m.queue.PopFront()
		}
		m.queue.PushBack(update)
		return
	}

	m.applyLocked(update)
}

// Close tears the maintainer down. In-flight snapshot fetches are superseded
// and their responses discarded.
func (m *OrderbookMaintainer) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.fetchID++
	m.book = nil
	m.queue.Clear()
}

func (m *OrderbookMaintainer) fetchSnapshot(id int64) {
	for {
		if !m.isCurrent(id) {
			return
		}

		snapshot, err := m.syncAPI.OrderBookSnapshot(m.symbol, defaultSnapshotLimit)
		if err != nil {
			m.log.WithError(err).Debug("snapshot fetch failed, will retry")
			select {
			case <-m.done:
				return
			case <-time.After(snapshotRetryDelay):
			}
			continue
		}

		m.mu.Lock()
		if m.closed || id != m.fetchID {
			// superseded by a later resync or by teardown
			m.mu.Unlock()
			return
		}

		if m.maxSeenSeq >= snapshot.LastUpdateId {
			// The update stream already ran ahead of this snapshot: the
			// snapshot cannot account for updates we have observed. Not a
			// failure, just a race; fetch again under a fresh generation.
			m.log.WithFields(logrus.Fields{
				"snapshotSeq": snapshot.LastUpdateId,
				"maxSeenSeq":  m.maxSeenSeq,
			}).Debug("stale snapshot discarded")
			m.fetchID++
			id = m.fetchID
			m.mu.Unlock()
			continue
		}

		m.installLocked(snapshot)
		m.mu.Unlock()
		return
	}
}

func (m *OrderbookMaintainer) isCurrent(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && id == m.fetchID
}

func (m *OrderbookMaintainer) installLocked(snapshot *OrderBookSnapshot) {
	m.book = NewOrderBook(m.provider, m.symbol, snapshot)
	m.outOfSeqCount = 0

	if config.DebugMode {
		m.log.WithField("cseq", snapshot.LastUpdateId).Debug("snapshot installed")
	}

	m.emit(&BookEvent{
		Kind:     BookSnapshotEvent,
		CSeq:     snapshot.LastUpdateId,
		Snapshot: snapshot,
	})

	// Replay updates buffered while the snapshot was in flight. The
	// validator drops everything the snapshot already covers.
	for m.queue.Len() > 0 {
		m.applyLocked(m.queue.PopFront())
	}
}

func (m *OrderbookMaintainer) applyLocked(update *OrderBookUpdate) {
	err := m.validator.IsValidUpd(update, m.book.LastUpdateID)
	if errors.Is(err, ErrUpdateOutdated) {
		return
	}
	if err != nil {
		m.outOfSeqCount++
		m.log.WithFields(logrus.Fields{
			"seqStart": update.SequenceStart,
			"seqEnd":   update.SequenceEnd,
			"lastSeq":  m.book.LastUpdateID,
		}).Debug("out of sequence update")

		if m.outOfSeqCount > outOfSeqUpdatesLimit {
			m.log.Warn("out of sequence limit reached, resyncing order book")
			m.resyncLocked()
		}
		return
	}

	if !m.book.ApplyUpdate(update) {
		return
	}

	m.emit(&BookEvent{
		Kind: BookUpdateEvent,
		CSeq: m.book.LastUpdateID,
		Bids: update.Bids,
		Asks: update.Asks,
	})
}

func (m *OrderbookMaintainer) emit(ev *BookEvent) {
	select {
	case m.out <- ev:
	case <-m.done:
	}
}
