package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/echolink/internal/clip"
	"go.klb.dev/echolink/internal/control"
	"go.klb.dev/echolink/internal/hub"
	"go.klb.dev/echolink/internal/ipc"
	"go.klb.dev/echolink/internal/metrics"
	"go.klb.dev/echolink/internal/monitor"
	"go.klb.dev/echolink/internal/source"
	"go.klb.dev/echolink/internal/speaker"
	"go.klb.dev/echolink/internal/summarize"
	"go.klb.dev/echolink/internal/tlsconf"
	"go.klb.dev/echolink/internal/tts"
)

const (
	modeClipboard = "clipboard"
	modeFile      = "file"
)

func newRunCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch for new content and speak it",
		Long: `Starts the monitor. New clipboard text (or text appended to --file) that
is long enough and not a repeat is summarized and synthesized to an audio file
under --audio-dir.

Without an ElevenLabs API key the monitor still runs and logs what it would
have spoken.

Precedence (lowest → highest): defaults → config file → env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runDaemon(v) },
	}

	f := cmd.Flags()
	f.String("mode", modeClipboard, "content source: clipboard|file")
	f.Float64("interval", 1.0, "poll interval in seconds")
	f.Int("min-text-length", 50, "shortest text (in characters) that is spoken")
	f.Bool("enabled", true, "poll the source (disabled still accepts 'echolink say')")
	f.Int("history-size", 1000, "emitted texts remembered for duplicate detection")
	f.Bool("announce-existing", false, "speak content already present at start")

	f.String("file", "", "file to tail in file mode")
	f.String("format", string(source.FormatText), "file format: text|json")
	f.Bool("from-start", false, "read the file from the beginning instead of its end")
	f.StringSlice("record-types", nil, "json mode: only accept records of these types")

	f.Bool("summarize", true, "shorten long text before speaking")
	f.Int("max-summary-length", 150, "target summary length in characters")
	f.String("summarizer", "", "AI summarizer: openai|ollama|gemini (empty = built-in)")
	f.String("summarizer-url", "", "OpenAI-compatible base URL")
	f.String("summarizer-model", "", "summarizer model name")
	f.String("summarizer-api-key", "", "summarizer API key")

	f.String("elevenlabs-api-key", "", "ElevenLabs API key")
	f.String("voice-id", "default", "ElevenLabs voice ID")
	f.String("tts-model", tts.DefaultModelID, "ElevenLabs model ID")
	f.String("audio-dir", defaultAudioDir(), "directory for synthesized audio")
	f.Int("queue-size", 16, "events waiting for synthesis before new ones are dropped")

	f.String("listen", "", "TCP address for the gRPC + HTTP control API, e.g. localhost:8753 (empty = local socket only)")
	f.String("control-token", "", "shared secret for the TCP control API (enables TLS)")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func defaultAudioDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "echolink", "audio")
	}
	return filepath.Join(os.TempDir(), "echolink-audio")
}

func runDaemon(v *viper.Viper) error {
	logCloser, err := setupLogging(v)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := monitorConfig(v)
	if err != nil {
		return err
	}
	src, closeSrc, err := buildSource(v)
	if err != nil {
		return err
	}
	defer closeSrc()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mt := metrics.New(reg)

	h := hub.New()
	h.SetSinkChangeListener(sinkLogger{})

	mon, err := monitor.New(src, cfg, h.Publish)
	if err != nil {
		return err
	}
	mon.SetMetrics(mt)

	provider, closeProvider, err := buildProvider(ctx, v)
	if err != nil {
		return err
	}
	defer closeProvider()
	sum := summarize.New(summarize.Config{
		Enabled:       v.GetBool("summarize"),
		MaxLength:     v.GetInt("max-summary-length"),
		MinTextLength: cfg.MinTextLength,
	}, provider)

	ipcLn, err := ipc.Listen()
	if err != nil {
		slog.Warn("control socket unavailable", "err", err)
	}
	tcpLn, tlsCfg, err := listenTCP(v)
	if err != nil {
		closeListeners(ipcLn)
		return err
	}

	var (
		wg     sync.WaitGroup
		errMu  sync.Mutex
		runErr error
	)
	// goRun runs fn until ctx ends. A failure shuts everything down.
	goRun := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				slog.Error(name+" failed", "err", err)
				errMu.Lock()
				if runErr == nil {
					runErr = fmt.Errorf("%s: %w", name, err)
				}
				errMu.Unlock()
				stop()
			}
		}()
	}

	opts := control.Options{Version: Version, Token: v.GetString("control-token"), Hub: h}

	if key := v.GetString("elevenlabs-api-key"); key != "" {
		synth, err := tts.NewElevenLabs(tts.ElevenLabsConfig{
			APIKey:  key,
			VoiceID: v.GetString("voice-id"),
			ModelID: v.GetString("tts-model"),
		})
		if err != nil {
			closeListeners(ipcLn, tcpLn)
			return err
		}
		sp, err := speaker.New(sum, synth, speaker.Config{
			AudioDir:  v.GetString("audio-dir"),
			QueueSize: v.GetInt("queue-size"),
		})
		if err != nil {
			closeListeners(ipcLn, tcpLn)
			return err
		}
		sp.SetMetrics(mt)
		h.Register(sp)
		opts.Speaker = sp
		goRun("speaker", func(ctx context.Context) error {
			defer h.Unregister(sp)
			return sp.Run(ctx)
		})
	} else {
		slog.Warn("no ElevenLabs API key configured, speech disabled")
	}

	srv := control.NewServer(control.NewService(mon, opts), reg, tlsCfg)
	goRun("control", func(ctx context.Context) error { return srv.Serve(ctx, ipcLn, tcpLn) })

	slog.Info("echolink starting",
		"version", Version,
		"mode", v.GetString("mode"),
		"interval", cfg.Interval,
		"min_text_length", cfg.MinTextLength,
		"summarizer", sum.Provider(),
		"speech", opts.Speaker != nil,
	)

	if err := mon.Run(ctx); err != nil {
		errMu.Lock()
		runErr = err
		errMu.Unlock()
	}
	if !cfg.Enabled {
		// Manual text still arrives through the control API.
		<-ctx.Done()
	}
	stop()
	wg.Wait()

	slog.Info("echolink stopped", "processed", mon.Snapshot().ProcessedCount)
	return runErr
}

// monitorConfig builds the monitor settings from v. Every failure wraps
// monitor.ErrConfigInvalid.
func monitorConfig(v *viper.Viper) (monitor.Config, error) {
	mode := strings.ToLower(v.GetString("mode"))
	if mode != modeClipboard && mode != modeFile {
		return monitor.Config{}, fmt.Errorf("%w: unknown mode %q", monitor.ErrConfigInvalid, mode)
	}
	cfg := monitor.Config{
		Interval:      monitor.IntervalFromSeconds(v.GetFloat64("interval")),
		MinTextLength: v.GetInt("min-text-length"),
		Enabled:       v.GetBool("enabled"),
		HistorySize:   v.GetInt("history-size"),
		// A file source starts at its end instead.
		PrimeOnStart: mode == modeClipboard && !v.GetBool("announce-existing"),
	}
	if err := cfg.Validate(); err != nil {
		return monitor.Config{}, err
	}
	return cfg, nil
}

// buildSource returns the configured source and a func releasing it.
func buildSource(v *viper.Viper) (source.Source, func(), error) {
	switch strings.ToLower(v.GetString("mode")) {
	case modeFile:
		f, err := source.NewFile(source.FileConfig{
			Path:        v.GetString("file"),
			Format:      source.Format(v.GetString("format")),
			FromStart:   v.GetBool("from-start") || v.GetBool("announce-existing"),
			RecordTypes: v.GetStringSlice("record-types"),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", monitor.ErrConfigInvalid, err)
		}
		slog.Info("watching file", "path", f.Path())
		return f, func() {}, nil
	default:
		b := clip.New()
		slog.Info("watching clipboard", "backend", b.Name())
		return source.NewClipboard(b), b.Close, nil
	}
}

// buildProvider returns the AI summarizer named by "summarizer", or nil for
// the built-in one.
func buildProvider(ctx context.Context, v *viper.Viper) (summarize.Provider, func(), error) {
	noop := func() {}
	url := v.GetString("summarizer-url")
	model := v.GetString("summarizer-model")
	key := v.GetString("summarizer-api-key")

	switch name := strings.ToLower(v.GetString("summarizer")); name {
	case "", "none", "simple":
		return nil, noop, nil
	case "openai":
		if key == "" {
			return nil, nil, fmt.Errorf("%w: openai summarizer needs an API key", monitor.ErrConfigInvalid)
		}
		if url == "" {
			url = summarize.DefaultOpenAIURL
		}
		if model == "" {
			model = summarize.DefaultOpenAIModel
		}
		return summarize.NewOpenAI(name, url, model, key), noop, nil
	case "ollama":
		if url == "" {
			url = summarize.DefaultOllamaURL
		}
		if model == "" {
			model = summarize.DefaultOllamaModel
		}
		return summarize.NewOpenAI(name, url, model, key), noop, nil
	case "gemini":
		if key == "" {
			return nil, nil, fmt.Errorf("%w: gemini summarizer needs an API key", monitor.ErrConfigInvalid)
		}
		g, err := summarize.NewGemini(ctx, key, model)
		if err != nil {
			return nil, nil, err
		}
		return g, func() { _ = g.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("%w: unknown summarizer %q", monitor.ErrConfigInvalid, name)
	}
}

// listenTCP opens the optional TCP control listener. With a control token the
// returned TLS config wraps it.
func listenTCP(v *viper.Viper) (net.Listener, *tls.Config, error) {
	addr := v.GetString("listen")
	if addr == "" {
		return nil, nil, nil
	}
	var tlsCfg *tls.Config
	if token := v.GetString("control-token"); token != "" {
		pair, err := tlsconf.FromToken(token)
		if err != nil {
			return nil, nil, err
		}
		tlsCfg = pair.Server
	} else {
		slog.Warn("control API listening without a token", "addr", addr)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return ln, tlsCfg, nil
}

func closeListeners(lns ...net.Listener) {
	for _, ln := range lns {
		if ln != nil {
			_ = ln.Close()
		}
	}
}

type sinkLogger struct{}

func (sinkLogger) OnSinkChange(ids []string) {
	slog.Debug("sinks changed", "sinks", ids)
}
