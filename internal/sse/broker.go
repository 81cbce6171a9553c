// Package sse streams vault and scan events to connected clients as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeNoteCreated      = "note.created"
	TypeNoteUpdated      = "note.updated"
	TypeNoteDeleted      = "note.deleted"
	TypeSuggestionsStale = "suggestions.stale"
	TypeScanProgress     = "scan.progress"
	TypeScanCompleted    = "scan.completed"
)

const clientBuffer = 64

// Event is one message broadcast to every client.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// StaleSuggestions is the payload of suggestions.stale: the documents whose
// suggestions changed since the previous stale event.
type StaleSuggestions struct {
	Paths []string `json:"paths"`
}

type message struct {
	id  uint64
	raw []byte
}

// state is owned by the loop goroutine.
type state struct {
	clients map[chan []byte]struct{}
	seq     uint64
	history []message

	stalePaths map[string]struct{}
	lastStale  time.Time
	staleTimer *time.Timer
}

// Broker fans events out to SSE clients.
//
// One loop goroutine owns the client set, the sequence, the replay history
// and the stale-suggestions batch; every public method hands it a closure.
type Broker struct {
	staleMin  time.Duration
	keepalive time.Duration
	replay    int

	ops     chan func(*state)
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithKeepalive sends a comment line to every client at the given interval.
// Zero disables it.
func WithKeepalive(d time.Duration) Option {
	return func(b *Broker) { b.keepalive = d }
}

// WithReplay keeps the last n events so reconnecting clients that send
// Last-Event-ID receive what they missed. Zero disables replay.
func WithReplay(n int) Option {
	return func(b *Broker) { b.replay = n }
}

// NewBroker starts a broker. suggestions.stale is sent at most once per
// staleThrottle; note events inside the window are batched into the next one.
func NewBroker(staleThrottle time.Duration, opts ...Option) *Broker {
	if staleThrottle <= 0 {
		staleThrottle = 2 * time.Second
	}
	b := &Broker{
		staleMin: staleThrottle,
		replay:   128,
		ops:      make(chan func(*state), 256),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	s := &state{
		clients:    make(map[chan []byte]struct{}),
		stalePaths: make(map[string]struct{}),
		staleTimer: time.NewTimer(time.Hour),
	}
	s.staleTimer.Stop()
	defer s.staleTimer.Stop()

	var tick <-chan time.Time
	if b.keepalive > 0 {
		t := time.NewTicker(b.keepalive)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range s.clients {
				close(ch)
			}
			return
		case op := <-b.ops:
			op(s)
		case <-s.staleTimer.C:
			b.flushStale(s, time.Now())
		case <-tick:
			s.fanout([]byte(": keepalive\n\n"))
		}
	}
}

// fanout drops messages for clients whose buffer is full instead of
// stalling the loop.
func (s *state) fanout(raw []byte) {
	for ch := range s.clients {
		select {
		case ch <- raw:
		default:
		}
	}
}

func (b *Broker) broadcast(s *state, event Event) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return
	}
	s.seq++
	raw := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", s.seq, event.Type, payload))
	if b.replay > 0 {
		s.history = append(s.history, message{id: s.seq, raw: raw})
		if over := len(s.history) - b.replay; over > 0 {
			s.history = s.history[over:]
		}
	}
	s.fanout(raw)
}

func (b *Broker) markStale(s *state, path string, now time.Time) {
	s.stalePaths[path] = struct{}{}
	if wait := b.staleMin - now.Sub(s.lastStale); wait > 0 {
		if len(s.stalePaths) == 1 {
			s.staleTimer.Reset(wait)
		}
		return
	}
	b.flushStale(s, now)
}

func (b *Broker) flushStale(s *state, now time.Time) {
	if len(s.stalePaths) == 0 {
		return
	}
	paths := make([]string, 0, len(s.stalePaths))
	for p := range s.stalePaths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	clear(s.stalePaths)
	s.lastStale = now
	b.broadcast(s, Event{Type: TypeSuggestionsStale, Data: StaleSuggestions{Paths: paths}})
}

// submit hands op to the loop. It reports false once the broker is closed.
func (b *Broker) submit(op func(*state)) bool {
	if b.closed.Load() {
		return false
	}
	select {
	case b.ops <- op:
		return true
	case <-b.stopped:
		return false
	}
}

// Close stops the loop and closes every client channel. It is idempotent.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client that receives events from now on.
func (b *Broker) Subscribe() chan []byte {
	return b.SubscribeAfter(0)
}

// SubscribeAfter registers a client and first queues the retained events
// with an id above lastID. lastID 0 replays nothing.
func (b *Broker) SubscribeAfter(lastID uint64) chan []byte {
	ch := make(chan []byte, clientBuffer)
	registered := make(chan struct{})
	ok := b.submit(func(s *state) {
		if lastID > 0 {
			for _, m := range s.history {
				if m.id <= lastID {
					continue
				}
				select {
				case ch <- m.raw:
				default:
				}
			}
		}
		s.clients[ch] = struct{}{}
		close(registered)
	})
	if !ok {
		close(ch)
		return ch
	}
	select {
	case <-registered:
	case <-b.stopped:
		select {
		case <-registered:
			// Registered before the loop stopped; it closed ch.
		default:
			close(ch)
		}
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.submit(func(s *state) {
		if _, ok := s.clients[ch]; ok {
			delete(s.clients, ch)
			close(ch)
		}
	})
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	resp := make(chan int, 1)
	if !b.submit(func(s *state) { resp <- len(s.clients) }) {
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish broadcasts event.
func (b *Broker) Publish(event Event) {
	b.submit(func(s *state) { b.broadcast(s, event) })
}

// PublishNoteEvent broadcasts a vault change and schedules suggestions.stale
// for path. Unknown kinds are ignored.
func (b *Broker) PublishNoteEvent(kind, path string) {
	typ := noteEventType(kind)
	if typ == "" {
		return
	}
	b.submit(func(s *state) {
		b.broadcast(s, Event{Type: typ, Data: map[string]string{"path": path}})
		b.markStale(s, path, time.Now())
	})
}

func noteEventType(kind string) string {
	switch kind {
	case "created":
		return TypeNoteCreated
	case "updated":
		return TypeNoteUpdated
	case "deleted":
		return TypeNoteDeleted
	}
	return ""
}

// PublishScan broadcasts scan progress, or scan.completed when done is set.
func (b *Broker) PublishScan(done bool, data any) {
	typ := TypeScanProgress
	if done {
		typ = TypeScanCompleted
	}
	b.Publish(Event{Type: typ, Data: data})
}

// ServeHTTP streams events until the client disconnects (GET /api/events).
// A Last-Event-ID header resumes from the retained history.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	lastID, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.SubscribeAfter(lastID)
	defer b.Unsubscribe(ch)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
