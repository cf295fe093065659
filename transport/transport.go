// Package transport implements a reconnecting streaming connection to one
// exchange endpoint. Connection failures are retried a bounded number of
// times with a fixed delay; exhausting retries emits a terminated event and
// stops all automatic activity until the owner calls Reconnect. A drop by the
// remote peer is not terminal and reconnects automatically.
package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"

	"github.com/spooky-finn/go-streambridge/logger"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateTerminated
)

type EventType string

const (
	EventConnected       EventType = "connected"
	EventDisconnected    EventType = "disconnected"
	EventConnectionError EventType = "connectionError"
	EventTerminated      EventType = "terminated"
	EventMessage         EventType = "message"
)

type Event struct {
	Type     EventType
	Code     int
	Reason   string
	Attempts int
	Err      error
	Raw      []byte
}

type Options struct {
	Name   string
	URL    string
	Header http.Header

	// RetryLimit bounds consecutive failed connection attempts.
	RetryLimit int
	// RetryDelay is the fixed inter-attempt delay, floored at one second.
	RetryDelay time.Duration
	// QueueOutbound keeps messages sent while disconnected and flushes them
	// once the connection is established.
	QueueOutbound bool
	PingInterval  time.Duration
	// PingPayload, when set, is sent as a text message instead of a
	// protocol-level ping. Some exchanges only honor application pings.
	PingPayload func() []byte
}

const (
	minRetryDelay     = time.Second
	defaultRetryLimit = 5
)

type Transport struct {
	opts Options
	log  *logrus.Entry

	mu       sync.Mutex
	conn     *websocket.Conn
	state    State
	gen      uint64
	explicit bool
	queue    deque.Deque[[]byte]

	writeMu sync.Mutex
	events  chan Event
}

func New(opts Options) *Transport {
	if opts.RetryDelay < minRetryDelay {
		opts.RetryDelay = minRetryDelay
	}
	if opts.RetryLimit <= 0 {
		opts.RetryLimit = defaultRetryLimit
	}

	return &Transport{
		opts:   opts,
		events: make(chan Event, 1024),
		log:    logger.WithComponent("transport").WithField("name", opts.Name),
	}
}

// Events delivers lifecycle and message events in the order they occurred.
// The owner must drain this channel.
func (t *Transport) Events() <-chan Event {
	return t.events
}

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) IsConnected() bool {
	return t.State() == StateConnected
}

// Connect establishes the connection. It is idempotent: a no-op while
// already connecting or connected.
func (t *Transport) Connect() {
	t.mu.Lock()
	if t.state == StateConnecting || t.state == StateConnected {
		t.mu.Unlock()
		return
	}
	t.explicit = false
	t.state = StateConnecting
	t.gen++
	gen := t.gen
	t.mu.Unlock()

	go t.dialLoop(gen, true)
}

// Send writes the messages in order. While disconnected, messages are queued
// (when queueing is enabled) and a connection attempt is triggered.
func (t *Transport) Send(msgs [][]byte) {
	t.mu.Lock()
	if t.state == StateConnected && t.conn != nil {
		conn := t.conn
		t.mu.Unlock()
		for _, msg := range msgs {
			if err := t.write(conn, msg); err != nil {
				// The read loop will observe the broken connection and
				// drive the reconnect.
				t.log.WithError(err).Debug("send failed")
				return
			}
		}
		return
	}

	if t.opts.QueueOutbound {
		for _, msg := range msgs {
			t.queue.PushBack(msg)
		}
	}
	shouldConnect := t.state == StateDisconnected || t.state == StateTerminated
	t.mu.Unlock()

	if shouldConnect {
		t.Connect()
	}
}

// Disconnect releases the connection. It is terminal: no automatic activity
// happens until Connect or Reconnect is called.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.explicit = true
	t.gen++
	conn := t.conn
	t.conn = nil
	t.state = StateDisconnected
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
		t.emit(Event{Type: EventDisconnected, Code: websocket.CloseNormalClosure, Reason: "disconnect requested"})
	}
}

// Reconnect forces a fresh connection, immediately or after the retry delay.
func (t *Transport) Reconnect(immediate bool) {
	t.mu.Lock()
	t.explicit = false
	t.gen++
	gen := t.gen
	conn := t.conn
	t.conn = nil
	t.state = StateConnecting
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	go t.dialLoop(gen, immediate)
}

func (t *Transport) dialLoop(gen uint64, immediate bool) {
	delay := &backoff.Backoff{
		Min:    t.opts.RetryDelay,
		Max:    t.opts.RetryDelay,
		Factor: 1,
	}

	if !immediate {
		time.Sleep(delay.Duration())
	}

	attempts := 0
	for {
		if !t.isCurrent(gen) {
			return
		}

		conn, resp, err := websocket.DefaultDialer.Dial(t.opts.URL, t.opts.Header)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			attempts++
			t.emit(Event{Type: EventConnectionError, Attempts: attempts, Err: err})

			if attempts >= t.opts.RetryLimit {
				t.mu.Lock()
				if gen == t.gen {
					t.state = StateTerminated
				}
				t.mu.Unlock()
				t.emit(Event{Type: EventTerminated, Attempts: attempts, Err: err})
				return
			}

			time.Sleep(delay.Duration())
			continue
		}

		t.mu.Lock()
		if gen != t.gen {
			t.mu.Unlock()
			_ = conn.Close()
			return
		}
		t.conn = conn
		t.state = StateConnected
		pending := make([][]byte, 0, t.queue.Len())
		for t.queue.Len() > 0 {
			pending = append(pending, t.queue.PopFront())
		}
		t.mu.Unlock()

		for _, msg := range pending {
			if err := t.write(conn, msg); err != nil {
				t.log.WithError(err).Debug("flush of queued message failed")
				break
			}
		}

		t.emit(Event{Type: EventConnected})
		go t.readLoop(gen, conn)
		if t.opts.PingInterval > 0 {
			go t.pingLoop(gen, conn)
		}
		return
	}
}

func (t *Transport) readLoop(gen uint64, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			t.handleReadError(gen, err)
			return
		}
		t.emit(Event{Type: EventMessage, Raw: raw})
	}
}

func (t *Transport) handleReadError(gen uint64, err error) {
	t.mu.Lock()
	if gen != t.gen {
		// a newer connection already took over
		t.mu.Unlock()
		return
	}
	t.conn = nil
	t.state = StateDisconnected
	explicit := t.explicit
	var nextGen uint64
	if !explicit {
		t.gen++
		nextGen = t.gen
		t.state = StateConnecting
	}
	t.mu.Unlock()

	code, reason := closeInfo(err)
	t.emit(Event{Type: EventDisconnected, Code: code, Reason: reason})

	if !explicit {
		// a drop by the remote peer is not terminal
		go t.dialLoop(nextGen, false)
	}
}

func (t *Transport) pingLoop(gen uint64, conn *websocket.Conn) {
	ticker := time.NewTicker(t.opts.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		if !t.isCurrent(gen) {
			return
		}
		var payload []byte
		if t.opts.PingPayload != nil {
			payload = t.opts.PingPayload()
		}
		if err := t.write(conn, payload); err != nil {
			return
		}
	}
}

func (t *Transport) write(conn *websocket.Conn, msg []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if msg == nil {
		return conn.WriteMessage(websocket.PingMessage, nil)
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (t *Transport) isCurrent(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen == t.gen
}

func (t *Transport) emit(ev Event) {
	t.events <- ev
}

func closeInfo(err error) (int, string) {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text
	}
	return websocket.CloseAbnormalClosure, err.Error()
}
