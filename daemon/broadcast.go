package daemon

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Subscriber receives streamed trace lines and in-band "#"-prefixed
// control comments. It is the per-client half of Broadcaster, adapted from
// the teacher's WebSocket Client: a dedicated buffered channel fed by
// non-blocking sends so one slow client never backpressures the poller.
type Subscriber struct {
	id      string
	send    chan string
	Dropped atomic.Int64

	// Session is the TRACE RUN/START state machine owned by this
	// subscriber, consulted by the poller to route and filter events.
	Session *Session
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber) ID() string { return s.id }

// Lines returns a receive-only channel of text lines. It is closed when
// the subscriber is unregistered.
func (s *Subscriber) Lines() <-chan string { return s.send }

// Broadcaster fans formatted trace lines out to every subscribed session,
// generalized from the teacher's websocket.Broadcaster (alert JSON frames
// to *Client) into (trace/control lines to *Subscriber).
type Broadcaster struct {
	subs      sync.Map // map[string]*Subscriber
	count     atomic.Int64
	bufSize   int
	logger    *slog.Logger
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewBroadcaster creates a Broadcaster. bufSize ≤ 0 defaults to 256 lines,
// generous enough to absorb a burst of up to 64 events per poll cycle for
// several cycles before a slow consumer starts dropping.
func NewBroadcaster(logger *slog.Logger, bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Broadcaster{bufSize: bufSize, logger: logger}
}

// Register creates and returns a new Subscriber bound to session.
func (b *Broadcaster) Register(id string, session *Session) *Subscriber {
	s := &Subscriber{id: id, send: make(chan string, b.bufSize), Session: session}
	if b.closed.Load() {
		close(s.send)
		return s
	}
	b.subs.Store(id, s)
	b.count.Add(1)
	return s
}

// Unregister removes and closes the subscriber with id. A no-op for an
// unknown id.
func (b *Broadcaster) Unregister(id string) {
	if v, loaded := b.subs.LoadAndDelete(id); loaded {
		close(v.(*Subscriber).send)
		b.count.Add(-1)
	}
}

// Count returns the number of currently registered subscribers.
func (b *Broadcaster) Count() int { return int(b.count.Load()) }

// Send delivers line to one subscriber by id via a non-blocking send,
// incrementing Dropped on a full buffer.
func (b *Broadcaster) Send(id, line string) {
	v, ok := b.subs.Load(id)
	if !ok {
		return
	}
	s := v.(*Subscriber)
	select {
	case s.send <- line:
	default:
		s.Dropped.Add(1)
		b.logger.Warn("daemon: subscriber buffer full, dropping line", slog.String("subscriber", id))
	}
}

// Broadcast delivers line to every currently registered subscriber for
// which match(sub) reports true.
func (b *Broadcaster) Broadcast(line string, match func(*Subscriber) bool) {
	if b.closed.Load() {
		return
	}
	b.subs.Range(func(_, v any) bool {
		s := v.(*Subscriber)
		if match != nil && !match(s) {
			return true
		}
		select {
		case s.send <- line:
		default:
			s.Dropped.Add(1)
			b.logger.Warn("daemon: subscriber buffer full, dropping line", slog.String("subscriber", s.id))
		}
		return true
	})
}

// Range calls fn for every currently registered subscriber.
func (b *Broadcaster) Range(fn func(*Subscriber) bool) {
	b.subs.Range(func(_, v any) bool { return fn(v.(*Subscriber)) })
}

// Close unregisters and closes every subscriber. After Close, Broadcast and
// Send are no-ops and Register returns an already-closed Subscriber.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		b.subs.Range(func(k, v any) bool {
			b.subs.Delete(k)
			close(v.(*Subscriber).send)
			b.count.Add(-1)
			return true
		})
	})
}
