// Package speaker is the hub sink that turns content events into speech:
// each event is prepared for voice, synthesized, and saved as an audio
// file.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.klb.dev/echolink/internal/logging"
	"go.klb.dev/echolink/internal/metrics"
	"go.klb.dev/echolink/internal/monitor"
	"go.klb.dev/echolink/internal/summarize"
	"go.klb.dev/echolink/internal/tts"
)

// Config controls the speaker queue and output.
type Config struct {
	// AudioDir receives one file per spoken event.
	AudioDir string
	// QueueSize bounds how many events wait for synthesis. Further events
	// are dropped.
	QueueSize int
	Retry     RetryConfig
}

// Stats is a snapshot of speaker activity.
type Stats struct {
	Queued   int    `json:"queued"`
	Spoken   uint64 `json:"spoken"`
	Failed   uint64 `json:"failed"`
	Dropped  uint64 `json:"dropped"`
	LastFile string `json:"last_file,omitempty"`
}

// Speaker queues events and synthesizes them one at a time.
type Speaker struct {
	cfg     Config
	sum     *summarize.Summarizer
	synth   tts.Synthesizer
	metrics *metrics.Metrics
	now     func() time.Time

	queue chan monitor.Event

	mu    sync.Mutex
	stats Stats
}

// New returns a speaker writing into cfg.AudioDir, creating it if needed.
func New(sum *summarize.Summarizer, synth tts.Synthesizer, cfg Config) (*Speaker, error) {
	if synth == nil {
		return nil, errors.New("speaker: no synthesizer")
	}
	if sum == nil {
		sum = summarize.New(summarize.DefaultConfig(), nil)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.AudioDir == "" {
		return nil, errors.New("speaker: audio directory is required")
	}
	if err := os.MkdirAll(cfg.AudioDir, 0o755); err != nil {
		return nil, fmt.Errorf("speaker: create audio dir: %w", err)
	}
	return &Speaker{
		cfg:   cfg,
		sum:   sum,
		synth: synth,
		now:   time.Now,
		queue: make(chan monitor.Event, cfg.QueueSize),
	}, nil
}

// SetMetrics attaches Prometheus collectors. Call before Run.
func (s *Speaker) SetMetrics(m *metrics.Metrics) { s.metrics = m }

func (s *Speaker) ID() string { return "speaker" }

// Send queues ev for synthesis. It never blocks; when the queue is full the
// event is dropped.
func (s *Speaker) Send(ev monitor.Event) {
	select {
	case s.queue <- ev:
	default:
		s.mu.Lock()
		s.stats.Dropped++
		s.mu.Unlock()
		s.metrics.Dropped()
		slog.Warn("speech queue full, dropping event", "id", ev.ID, "queue", cap(s.queue))
	}
}

// Run synthesizes queued events until ctx is cancelled. Events still queued
// at that point are discarded.
func (s *Speaker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if n := len(s.queue); n > 0 {
				slog.Info("speaker stopping with queued events", "discarded", n)
			}
			return nil
		case ev := <-s.queue:
			if _, err := s.Speak(ctx, ev); err != nil && ctx.Err() == nil {
				slog.Error("speech synthesis failed", "id", ev.ID, "err", err)
			}
		}
	}
}

// Speak prepares ev for voice and synthesizes it, returning the path of the
// saved audio file.
func (s *Speaker) Speak(ctx context.Context, ev monitor.Event) (string, error) {
	text := s.sum.ForVoice(ctx, ev.Text)
	if text == "" {
		return "", tts.ErrEmptyText
	}
	slog.Info("speaking", "id", ev.ID, "source", ev.Source, "preview", logging.Preview(text, 60))
	if st := summarize.Compare(ev.Text, text); st.SummaryLength < st.OriginalLength {
		slog.Debug("text shortened for voice",
			"id", ev.ID,
			"from", st.OriginalLength,
			"to", st.SummaryLength,
			"ratio", fmt.Sprintf("%.2f", st.Ratio),
		)
	}

	name := fmt.Sprintf("%d-%s.mp3", s.now().UnixMilli(), ev.ID)
	path := filepath.Join(s.cfg.AudioDir, name)

	start := time.Now()
	err := retry(ctx, s.cfg.Retry, func(attempt int) error {
		if attempt > 0 {
			slog.Warn("retrying speech synthesis", "id", ev.ID, "attempt", attempt+1)
		}
		return s.synthesizeTo(ctx, text, path)
	})
	s.metrics.Synthesis(err == nil, time.Since(start))

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.stats.Failed++
		return "", err
	}
	s.stats.Spoken++
	s.stats.LastFile = path
	slog.Info("audio saved", "id", ev.ID, "path", path, "took", time.Since(start).Round(time.Millisecond))
	return path, nil
}

// synthesizeTo writes into a temp file and renames it into place so a
// failed attempt never leaves a partial file behind.
func (s *Speaker) synthesizeTo(ctx context.Context, text, path string) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return fmt.Errorf("create audio file: %w", err)
	}
	tmp := f.Name()

	err = s.synth.Synthesize(ctx, text, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close audio file: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("save audio file: %w", err)
	}
	return nil
}

// Snapshot returns current speaker statistics.
func (s *Speaker) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Queued = len(s.queue)
	return st
}
