// Package hub fans content events out to the sinks that act on them.
// It is transport-agnostic: sinks register, receive events through a
// non-blocking Send, and the hub remembers the latest event for status
// queries.
package hub

import (
	"log/slog"
	"slices"
	"sync"

	"go.klb.dev/echolink/internal/monitor"
	"go.klb.dev/echolink/internal/source"
)

// Sink is anything that acts on content events.
type Sink interface {
	ID() string
	// Send delivers an event to the sink. Must be non-blocking.
	Send(monitor.Event)
}

// FilteredSink is an optional interface a Sink may implement to receive
// only events from some source kinds. An empty Accepts means all kinds.
type FilteredSink interface {
	Sink
	Accepts() []source.Kind
}

// SinkChangeListener is notified whenever the set of registered sinks
// changes.
type SinkChangeListener interface {
	OnSinkChange(ids []string)
}

// Hub routes content events to all registered sinks.
type Hub struct {
	mu       sync.RWMutex
	sinks    map[string]Sink
	latest   monitor.Event
	hasLast  bool
	received uint64

	listenerMu sync.RWMutex
	listener   SinkChangeListener
}

// New returns an empty Hub.
func New() *Hub {
	return &Hub{sinks: make(map[string]Sink)}
}

// SetSinkChangeListener registers a listener that is called whenever the
// sink set changes. Calling again replaces it.
func (h *Hub) SetSinkChangeListener(l SinkChangeListener) {
	h.listenerMu.Lock()
	h.listener = l
	h.listenerMu.Unlock()
}

// Register adds a sink. Events published before registration are not
// replayed.
func (h *Hub) Register(s Sink) {
	h.mu.Lock()
	h.sinks[s.ID()] = s
	total := len(h.sinks)
	ids := h.idsLocked()
	h.mu.Unlock()

	slog.Info("sink registered", "sink", s.ID(), "total", total)
	h.notifyListener(ids)
}

// Unregister removes a sink from the hub.
func (h *Hub) Unregister(s Sink) {
	h.mu.Lock()
	delete(h.sinks, s.ID())
	total := len(h.sinks)
	ids := h.idsLocked()
	h.mu.Unlock()

	slog.Info("sink unregistered", "sink", s.ID(), "total", total)
	h.notifyListener(ids)
}

// Publish stores ev as the latest event and fans it out to every sink that
// accepts its source kind. It has the monitor.Handler signature.
func (h *Hub) Publish(ev monitor.Event) {
	h.mu.Lock()
	h.latest = ev
	h.hasLast = true
	h.received++
	var targets []Sink
	for _, s := range h.sinks {
		if accepts(s, ev.Source) {
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	LogEvent("content received", ev)

	for _, s := range targets {
		s.Send(ev)
	}
}

// Latest returns the most recently published event, if any.
func (h *Hub) Latest() (monitor.Event, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest, h.hasLast
}

// Received returns how many events have been published.
func (h *Hub) Received() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.received
}

// Sinks returns the sorted IDs of the registered sinks.
func (h *Hub) Sinks() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.idsLocked()
}

// Must be called with h.mu held.
func (h *Hub) idsLocked() []string {
	ids := make([]string, 0, len(h.sinks))
	for id := range h.sinks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (h *Hub) notifyListener(ids []string) {
	h.listenerMu.RLock()
	l := h.listener
	h.listenerMu.RUnlock()
	if l != nil {
		l.OnSinkChange(ids)
	}
}

func accepts(s Sink, kind source.Kind) bool {
	f, ok := s.(FilteredSink)
	if !ok {
		return true
	}
	kinds := f.Accepts()
	return len(kinds) == 0 || slices.Contains(kinds, kind)
}
