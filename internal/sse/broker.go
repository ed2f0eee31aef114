// Package sse streams layer changes and geocoding progress to browsers as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

const (
	clientBuffer     = 64
	defaultHeartbeat = 25 * time.Second
	reconnectHint    = 3 * time.Second
)

// Event is one message sent to subscribed clients.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeat sets how often idle streams receive a comment line.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.heartbeat = d
		}
	}
}

// hub is the state owned by the broker goroutine.
type hub struct {
	// clients maps each stream to its project filter; "" receives every project.
	clients     map[chan []byte]string
	lastRefresh map[string]time.Time
	seq         uint64
	refreshMin  time.Duration
}

// send frames ev and offers it to every client interested in projectID.
// Clients whose buffer is full miss the frame.
func (h *hub) send(projectID string, ev Event) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return
	}
	h.seq++
	frame := fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", h.seq, ev.Type, payload)
	for ch, filter := range h.clients {
		if filter != "" && projectID != "" && filter != projectID {
			continue
		}
		select {
		case ch <- frame:
		default:
		}
	}
}

func (h *hub) layerChanged(kind, projectID, layerID string) {
	h.send(projectID, Event{
		Type: "layer." + kind,
		Data: map[string]string{"projectId": projectID, "layerId": layerID},
	})
	now := time.Now()
	if now.Sub(h.lastRefresh[projectID]) < h.refreshMin {
		return
	}
	h.lastRefresh[projectID] = now
	h.send(projectID, Event{Type: "layers.updated", Data: map[string]string{"projectId": projectID}})
}

// Broker fans layer and geocoding events out to SSE streams. One goroutine
// owns the hub; every public method hands it a closure over ops.
type Broker struct {
	heartbeat time.Duration

	ops     chan func(*hub)
	quit    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker starts a broker. refreshThrottle is the minimum gap between two
// layers.updated events of the same project.
func NewBroker(refreshThrottle time.Duration, opts ...Option) *Broker {
	if refreshThrottle <= 0 {
		refreshThrottle = 2 * time.Second
	}
	b := &Broker{
		heartbeat: defaultHeartbeat,
		ops:       make(chan func(*hub)),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	go b.loop(&hub{
		clients:     make(map[chan []byte]string),
		lastRefresh: make(map[string]time.Time),
		refreshMin:  refreshThrottle,
	})
	return b
}

func (b *Broker) loop(h *hub) {
	defer close(b.stopped)
	for {
		select {
		case <-b.quit:
			for ch := range h.clients {
				close(ch)
			}
			return
		case op := <-b.ops:
			op(h)
		}
	}
}

// do runs op on the broker goroutine. It reports false once the broker is
// closed.
func (b *Broker) do(op func(*hub)) bool {
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

// Close stops the broker and closes every client stream.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.quit)
	}
	<-b.stopped
}

// Subscribe registers a stream for projectID ("" for all projects). The
// returned channel is closed by Unsubscribe or Close.
func (b *Broker) Subscribe(projectID string) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if !b.do(func(h *hub) { h.clients[ch] = projectID }) {
		close(ch)
	}
	return ch
}

// Unsubscribe removes a stream and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.do(func(h *hub) {
		if _, ok := h.clients[ch]; ok {
			delete(h.clients, ch)
			close(ch)
		}
	})
}

// ClientCount returns the number of open streams.
func (b *Broker) ClientCount() int {
	n := make(chan int, 1)
	if !b.do(func(h *hub) { n <- len(h.clients) }) {
		return 0
	}
	return <-n
}

// Publish sends ev to every stream regardless of its project filter.
func (b *Broker) Publish(ev Event) {
	b.do(func(h *hub) { h.send("", ev) })
}

// PublishLayerEvent emits layer.<kind> followed by a layers.updated event,
// at most one per project per throttle interval.
func (b *Broker) PublishLayerEvent(kind, projectID, layerID string) {
	b.do(func(h *hub) { h.layerChanged(kind, projectID, layerID) })
}

// PublishGeocodeProgress emits geocode.progress for a running batch.
func (b *Broker) PublishGeocodeProgress(projectID string, done, total int) {
	ev := Event{
		Type: "geocode.progress",
		Data: map[string]any{"projectId": projectID, "done": done, "total": total},
	}
	b.do(func(h *hub) { h.send(projectID, ev) })
}

// ServeHTTP streams events (GET /api/events). An optional projectId query
// parameter limits the stream to that project.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "retry: %d\n\n", reconnectHint.Milliseconds())
	flusher.Flush()

	ch := b.Subscribe(r.URL.Query().Get("projectId"))
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.heartbeat)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case frame, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(frame)
			flusher.Flush()
		}
	}
}
