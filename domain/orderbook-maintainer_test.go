package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetcherFunc func() (*OrderBookSnapshot, error)

func (f fetcherFunc) OrderBookSnapshot(symbol *MarketSymbol, limit int) (*OrderBookSnapshot, error) {
	return f()
}

// seqValidator mirrors the plain global-sequence contract: every accepted
// update must continue right after the mirror's last sequence.
type seqValidator struct{}

func (seqValidator) IsValidUpd(u *OrderBookUpdate, last int64) error {
	if u.SequenceEnd <= last {
		return ErrUpdateOutdated
	}
	if u.SequenceStart > last+1 {
		return ErrUpdateOutOfSequence
	}
	return nil
}

func snapshotWithSeq(seq int64) *OrderBookSnapshot {
	return &OrderBookSnapshot{
		Source:       OrderBookSource_Provider,
		LastUpdateId: seq,
		Bids:         [][]string{{"100", "1"}},
		Asks:         [][]string{{"101", "1"}},
	}
}

func update(start, end int64) *OrderBookUpdate {
	return &OrderBookUpdate{
		SequenceStart: start,
		SequenceEnd:   end,
		Bids:          [][]string{{"100", "2"}},
	}
}

func recvBookEvent(t *testing.T, m *OrderbookMaintainer) *BookEvent {
	t.Helper()
	select {
	case ev := <-m.Out():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for book event")
		return nil
	}
}

func assertNoBookEvent(t *testing.T, m *OrderbookMaintainer) {
	t.Helper()
	select {
	case ev := <-m.Out():
		t.Fatalf("unexpected book event: %+v", ev)
	case <-time.After(200 * time.Millisecond):
	}
}

func newTestMaintainer(t *testing.T, fetch fetcherFunc) *OrderbookMaintainer {
	t.Helper()
	symbol, err := NewMarketSymbol("btc", "eth")
	require.NoError(t, err)

	m := NewOrderbookMaintainer("test", symbol, fetch, seqValidator{})
	t.Cleanup(m.Close)
	return m
}

func TestMaintainer_SnapshotThenUpdates(t *testing.T) {
	m := newTestMaintainer(t, func() (*OrderBookSnapshot, error) {
		return snapshotWithSeq(100), nil
	})

	m.Resync()

	ev := recvBookEvent(t, m)
	assert.Equal(t, BookSnapshotEvent, ev.Kind)
	assert.Equal(t, int64(100), ev.CSeq)
	require.NotNil(t, ev.Snapshot)

	// already covered by the snapshot: dropped
	m.HandleUpdate(update(100, 100))
	assertNoBookEvent(t, m)

	m.HandleUpdate(update(101, 101))
	ev = recvBookEvent(t, m)
	assert.Equal(t, BookUpdateEvent, ev.Kind)
	assert.Equal(t, int64(101), ev.CSeq)
	assert.Equal(t, int64(101), m.Book().LastUpdateID)
}

func TestMaintainer_Monotonicity(t *testing.T) {
	m := newTestMaintainer(t, func() (*OrderBookSnapshot, error) {
		return snapshotWithSeq(10), nil
	})

	m.Resync()
	last := recvBookEvent(t, m).CSeq

	for seq := int64(11); seq <= 20; seq++ {
		m.HandleUpdate(update(seq, seq))
		ev := recvBookEvent(t, m)
		assert.Greater(t, ev.CSeq, last, "cseq must be strictly increasing")
		last = ev.CSeq
	}

	assert.Equal(t, int64(20), m.Book().LastUpdateID)
}

func TestMaintainer_StaleSnapshotRejected(t *testing.T) {
	release := make(chan struct{})
	calls := make(chan int64, 4)
	call := 0

	m := newTestMaintainer(t, func() (*OrderBookSnapshot, error) {
		call++
		calls <- int64(call)
		if call == 1 {
			<-release
			return snapshotWithSeq(100), nil
		}
		return snapshotWithSeq(200), nil
	})

	m.Resync()
	<-calls // first fetch in flight

	// updates observed while awaiting run ahead of the first snapshot
	m.HandleUpdate(update(101, 101))
	m.HandleUpdate(update(102, 102))
	close(release)

	<-calls // stale snapshot forced a refetch

	ev := recvBookEvent(t, m)
	assert.Equal(t, BookSnapshotEvent, ev.Kind)
	assert.Equal(t, int64(200), ev.CSeq, "consumer must never see the stale snapshot")

	// the buffered updates are covered by the fresh snapshot: dropped
	assertNoBookEvent(t, m)

	m.HandleUpdate(update(201, 201))
	assert.Equal(t, int64(201), recvBookEvent(t, m).CSeq)
}

func TestMaintainer_SupersededFetchDiscarded(t *testing.T) {
	releaseFirst := make(chan struct{})
	started := make(chan struct{}, 1)
	call := 0

	m := newTestMaintainer(t, func() (*OrderBookSnapshot, error) {
		call++
		if call == 1 {
			started <- struct{}{}
			<-releaseFirst
			return snapshotWithSeq(100), nil
		}
		return snapshotWithSeq(300), nil
	})

	m.Resync()
	<-started
	m.Resync() // supersedes the first fetch

	ev := recvBookEvent(t, m)
	assert.Equal(t, int64(300), ev.CSeq)

	close(releaseFirst)

	// the late response of the superseded fetch must not reinstall the book
	assertNoBookEvent(t, m)
	assert.Equal(t, int64(300), m.Book().LastUpdateID)
}

func TestMaintainer_OutOfSequenceLimitForcesResync(t *testing.T) {
	call := 0
	m := newTestMaintainer(t, func() (*OrderBookSnapshot, error) {
		call++
		if call == 1 {
			return snapshotWithSeq(100), nil
		}
		return snapshotWithSeq(500), nil
	})

	m.Resync()
	require.Equal(t, int64(100), recvBookEvent(t, m).CSeq)

	// a persistent gap: every update starts far beyond lastSeq+1
	for i := 0; i <= outOfSeqUpdatesLimit; i++ {
		m.HandleUpdate(update(200, 201))
	}

	ev := recvBookEvent(t, m)
	assert.Equal(t, BookSnapshotEvent, ev.Kind)
	assert.Equal(t, int64(500), ev.CSeq, "book should be rebuilt from a fresh snapshot")
}

func TestMaintainer_CloseSupersedesFetch(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	m := newTestMaintainer(t, func() (*OrderBookSnapshot, error) {
		started <- struct{}{}
		<-release
		return snapshotWithSeq(100), nil
	})

	m.Resync()
	<-started
	m.Close()
	close(release)

	assertNoBookEvent(t, m)
	assert.Nil(t, m.Book())
}
