// Package monitor turns a raw, possibly repeating stream of source reads into
// a stream of distinct, qualifying content events.
//
// A Monitor polls its source on a fixed interval. Each poll normalizes the
// text, drops it if it matches what was last seen or anything recently
// emitted, remembers but suppresses text shorter than the configured
// minimum, and otherwise emits an Event to the handler. Polls never overlap:
// a poll that starts while another is running is skipped.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"go.klb.dev/echolink/internal/metrics"
	"go.klb.dev/echolink/internal/source"
)

var (
	// ErrPollInProgress is returned when a poll is requested while another
	// one is still running. The request is dropped, not queued.
	ErrPollInProgress = errors.New("poll already in progress")

	// ErrStopped is returned once the monitor has been stopped.
	ErrStopped = errors.New("monitor stopped")
)

// Event is a piece of new content. It is immutable once emitted.
type Event struct {
	ID         string      `json:"id"`
	Text       string      `json:"text"`
	Source     source.Kind `json:"source"`
	ObservedAt time.Time   `json:"observed_at"`
}

// Handler receives emitted events. It runs on the polling goroutine and
// must not block; hand the event off if processing is slow.
type Handler func(Event)

// State is the monitor's lifecycle position.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateEmitting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateEmitting:
		return "emitting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Verdict is what a poll decided about the text it read.
type Verdict string

const (
	VerdictEmitted   Verdict = "emitted"
	VerdictEmpty     Verdict = "empty"
	VerdictUnchanged Verdict = "unchanged"
	VerdictDuplicate Verdict = "duplicate"
	VerdictShort     Verdict = "short"
)

// Stats is a copy of the monitor state. Mutating it has no effect.
type Stats struct {
	State          State     `json:"state"`
	Source         string    `json:"source"`
	ProcessedCount uint64    `json:"processed_count"`
	Duplicates     uint64    `json:"duplicates"`
	Suppressed     uint64    `json:"suppressed"`
	Failures       uint64    `json:"failures"`
	LastEmitAt     time.Time `json:"last_emit_at"`
	LastSeen       Signature `json:"-"`
	HasSeen        bool      `json:"-"`
	HistoryLen     int       `json:"history_len"`
	LastError      string    `json:"last_error,omitempty"`
	Interval       string    `json:"interval"`
	MinTextLength  int       `json:"min_text_length"`
	Enabled        bool      `json:"enabled"`
	// Position is the read offset of a file source.
	Position       int64     `json:"position,omitempty"`
	HasPosition    bool      `json:"-"`
}

// state is mutated only while pollMu is held.
type state struct {
	lastSeen    Signature
	hasSeen     bool
	lastEmitted Signature
	hasEmitted  bool
	lastEmitAt  time.Time

	processed  uint64
	duplicates uint64
	suppressed uint64
	failures   uint64
	lastErr    string
}

// Monitor polls a source and emits deduplicated events.
type Monitor struct {
	src     source.Source
	cfg     Config
	handler Handler
	metrics *metrics.Metrics
	now     func() time.Time

	// pollMu serializes polls, Offer and Reset.
	pollMu  sync.Mutex
	history *lru.Cache[Signature, struct{}]

	mu    sync.Mutex // guards st and phase for Snapshot
	st    state
	phase State

	done     chan struct{}
	stopOnce sync.Once

	// unavailable is owned by the Run goroutine.
	unavailable bool
}

// New returns a monitor over src. h may be nil.
func New(src source.Source, cfg Config, h Handler) (*Monitor, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: no source", ErrConfigInvalid)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Monitor{
		src:     src,
		cfg:     cfg,
		handler: h,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if cfg.HistorySize > 0 {
		c, err := lru.New[Signature, struct{}](cfg.HistorySize)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
		}
		m.history = c
	}
	return m, nil
}

// SetMetrics attaches Prometheus collectors. Call before Run.
func (m *Monitor) SetMetrics(mt *metrics.Metrics) { m.metrics = mt }

// Poll performs one read-filter-emit step. It returns the emitted event, or
// nil when nothing qualified. Source errors are returned to the caller; a
// malformed record may still come with text from the records before it.
func (m *Monitor) Poll(ctx context.Context) (*Event, error) {
	if m.stopped() {
		return nil, ErrStopped
	}
	if !m.pollMu.TryLock() {
		m.metrics.Poll(metrics.PollSkipped)
		return nil, ErrPollInProgress
	}
	defer m.pollMu.Unlock()

	m.setPhase(StatePolling)
	defer m.setPhase(StateIdle)

	text, err := m.src.Read(ctx)
	if err != nil {
		m.recordFailure(err)
		if text == "" {
			m.metrics.Poll(metrics.PollFailed)
			return nil, err
		}
	}
	ev, _ := m.consider(text, m.src.Kind())
	return ev, err
}

// Offer runs manually supplied text through the emission filters. It never
// changes what the monitor last saw from its source, so clipboard content that
// is still unchanged stays quiet afterwards. Repeating the last emission or
// anything in the history is a duplicate. Offer waits for a running poll to
// finish rather than being skipped.
func (m *Monitor) Offer(text string) (*Event, Verdict, error) {
	if m.stopped() {
		return nil, "", ErrStopped
	}
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	m.setPhase(StatePolling)
	defer m.setPhase(StateIdle)

	ev, v := m.consider(text, source.KindManual)
	return ev, v, nil
}

// Prime reads the source once and records its content as seen without
// emitting it.
func (m *Monitor) Prime(ctx context.Context) error {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	text, err := m.src.Read(ctx)
	if norm := Normalize(text); norm != "" {
		m.mu.Lock()
		m.st.lastSeen = Sign(norm)
		m.st.hasSeen = true
		m.mu.Unlock()
		slog.Debug("primed with existing content", "source", m.src.Kind(), "chars", utf8.RuneCountInString(norm))
	}
	return err
}

// Reset forgets every emitted signature so previously announced content can
// be announced again. The last seen source content is kept: nothing is
// re-announced until the source changes. Counters are kept.
func (m *Monitor) Reset() {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	if m.history != nil {
		m.history.Purge()
	}
	m.mu.Lock()
	m.st.lastEmitted, m.st.hasEmitted = Signature{}, false
	m.mu.Unlock()
	slog.Info("cleared processed text cache")
}

// consider applies the dedupe and length filters. Manual text is compared
// with emissions only. pollMu must be held.
func (m *Monitor) consider(text string, kind source.Kind) (*Event, Verdict) {
	norm := Normalize(text)
	if norm == "" {
		m.metrics.Poll(string(VerdictEmpty))
		return nil, VerdictEmpty
	}
	sig := Sign(norm)

	manual := kind == source.KindManual

	m.mu.Lock()
	unchanged := !manual && m.st.hasSeen && sig == m.st.lastSeen
	repeat := (m.st.hasEmitted && sig == m.st.lastEmitted) ||
		(m.history != nil && m.history.Contains(sig))
	if !manual {
		m.st.lastSeen, m.st.hasSeen = sig, true
	}

	switch {
	case unchanged:
		m.mu.Unlock()
		m.metrics.Poll(string(VerdictUnchanged))
		return nil, VerdictUnchanged
	case repeat:
		m.st.duplicates++
		m.mu.Unlock()
		m.metrics.Poll(string(VerdictDuplicate))
		slog.Debug("text already processed, skipping", "source", kind, "sig", sig)
		return nil, VerdictDuplicate
	}

	if n := utf8.RuneCountInString(norm); n < m.cfg.MinTextLength {
		m.st.suppressed++
		m.mu.Unlock()
		m.metrics.Poll(string(VerdictShort))
		slog.Debug("text too short, skipping", "source", kind, "chars", n, "min", m.cfg.MinTextLength)
		return nil, VerdictShort
	}

	now := m.now()
	ev := Event{
		ID:         uuid.NewString(),
		Text:       strings.TrimSpace(text),
		Source:     kind,
		ObservedAt: now,
	}
	m.st.lastEmitted, m.st.hasEmitted = sig, true
	m.st.lastEmitAt = now
	m.st.processed++
	if m.phase != StateStopped {
		m.phase = StateEmitting
	}
	m.mu.Unlock()

	if m.history != nil {
		m.history.Add(sig, struct{}{})
	}
	m.metrics.Poll(string(VerdictEmitted))
	m.metrics.Emitted(string(kind))

	if m.handler != nil {
		m.handler(ev)
	}
	return &ev, VerdictEmitted
}

func (m *Monitor) recordFailure(err error) {
	kind := "other"
	switch {
	case errors.Is(err, source.ErrSourceUnavailable):
		kind = "unavailable"
	case errors.Is(err, source.ErrMalformedRecord):
		kind = "malformed"
	}
	m.metrics.PollError(kind)

	m.mu.Lock()
	m.st.failures++
	m.st.lastErr = err.Error()
	m.mu.Unlock()
}

// Snapshot returns a copy of the current state.
func (m *Monitor) Snapshot() Stats {
	// Asked before taking mu; the source has its own lock.
	pos, hasPos := m.position()

	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Position:       pos,
		HasPosition:    hasPos,
		State:          m.phase,
		Source:         string(m.src.Kind()),
		ProcessedCount: m.st.processed,
		Duplicates:     m.st.duplicates,
		Suppressed:     m.st.suppressed,
		Failures:       m.st.failures,
		LastEmitAt:     m.st.lastEmitAt,
		LastSeen:       m.st.lastSeen,
		HasSeen:        m.st.hasSeen,
		LastError:      m.st.lastErr,
		Interval:       m.cfg.Interval.String(),
		MinTextLength:  m.cfg.MinTextLength,
		Enabled:        m.cfg.Enabled,
	}
	if m.history != nil {
		s.HistoryLen = m.history.Len()
	}
	return s
}

func (m *Monitor) position() (int64, bool) {
	if p, ok := m.src.(interface{ Offset() int64 }); ok {
		return p.Offset(), true
	}
	return 0, false
}

// Run polls on the configured interval until ctx is cancelled or Stop is
// called. Sources that implement source.Watcher also trigger a poll when
// they signal a change. Poll failures are logged and never end the loop.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.cfg.Enabled {
		slog.Info("monitoring is disabled in settings")
		return nil
	}
	if m.stopped() {
		return ErrStopped
	}

	if m.cfg.PrimeOnStart {
		if err := m.Prime(ctx); err != nil {
			slog.Warn("failed to read initial content", "source", m.src.Kind(), "err", err)
		}
	}

	var notify <-chan struct{}
	if w, ok := m.src.(source.Watcher); ok {
		ch, err := w.Watch(ctx)
		if err != nil {
			slog.Warn("change notifications unavailable, polling only", "err", err)
		} else {
			notify = ch
		}
	}

	t := time.NewTicker(m.cfg.Interval)
	defer t.Stop()

	slog.Info("monitor started",
		"source", m.src.Kind(),
		"interval", m.cfg.Interval,
		"min_text_length", m.cfg.MinTextLength,
	)
	defer slog.Info("monitor stopped", "source", m.src.Kind())

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return nil
		case <-m.done:
			return nil
		case <-t.C:
			m.tick(ctx)
		case _, ok := <-notify:
			if !ok {
				notify = nil
				continue
			}
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	_, err := m.Poll(ctx)
	switch {
	case err == nil:
	case errors.Is(err, ErrStopped):
		return
	case errors.Is(err, ErrPollInProgress):
		slog.Debug("previous poll still running, tick skipped")
		return
	case errors.Is(err, source.ErrSourceUnavailable):
		if !m.unavailable {
			slog.Warn("source unavailable, retrying on next tick", "source", m.src.Kind(), "err", err)
			m.unavailable = true
		} else {
			slog.Debug("source still unavailable", "source", m.src.Kind(), "err", err)
		}
		return
	case errors.Is(err, source.ErrMalformedRecord):
		slog.Warn("skipped malformed record", "source", m.src.Kind(), "err", err)
	default:
		slog.Error("poll failed", "source", m.src.Kind(), "err", err)
	}
	if m.unavailable {
		slog.Info("source available again", "source", m.src.Kind())
		m.unavailable = false
	}
}

// Stop ends Run before its next tick. Later polls return ErrStopped.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		m.phase = StateStopped
		m.mu.Unlock()
	})
}

func (m *Monitor) stopped() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *Monitor) setPhase(s State) {
	m.mu.Lock()
	if m.phase != StateStopped {
		m.phase = s
	}
	m.mu.Unlock()
}
