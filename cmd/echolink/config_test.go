package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/protobuf/types/known/structpb"

	"go.klb.dev/echolink/internal/monitor"
	"go.klb.dev/echolink/internal/source"
)

func runViper(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	cmd := newRunCmd()
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatal(err)
	}
	v := viper.New()
	if err := bindViper(cmd, v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestMonitorConfigDefaults(t *testing.T) {
	cfg, err := monitorConfig(runViper(t))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Interval != time.Second || cfg.MinTextLength != 50 || cfg.HistorySize != 1000 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if !cfg.Enabled || !cfg.PrimeOnStart {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestMonitorConfigPrime(t *testing.T) {
	cases := []struct {
		args []string
		want bool
	}{
		{[]string{"--announce-existing"}, false},
		{[]string{"--mode=file", "--file=x.log"}, false},
		{[]string{"--mode=CLIPBOARD"}, true},
	}
	for _, tc := range cases {
		cfg, err := monitorConfig(runViper(t, tc.args...))
		if err != nil {
			t.Fatalf("%v: %v", tc.args, err)
		}
		if cfg.PrimeOnStart != tc.want {
			t.Errorf("%v: PrimeOnStart = %v, want %v", tc.args, cfg.PrimeOnStart, tc.want)
		}
	}
}

func TestMonitorConfigInvalid(t *testing.T) {
	for _, args := range [][]string{
		{"--interval=0"},
		{"--interval=-1.5"},
		{"--min-text-length=-1"},
		{"--history-size=-1"},
		{"--mode=stdin"},
	} {
		_, err := monitorConfig(runViper(t, args...))
		if !errors.Is(err, monitor.ErrConfigInvalid) {
			t.Errorf("%v: err = %v, want ErrConfigInvalid", args, err)
		}
	}
}

func TestEnvPrecedence(t *testing.T) {
	t.Setenv("MIN_TEXT_LENGTH", "12")
	if got := runViper(t).GetInt("min-text-length"); got != 12 {
		t.Fatalf("legacy env: got %d", got)
	}

	t.Setenv("ECHOLINK_MIN_TEXT_LENGTH", "20")
	if got := runViper(t).GetInt("min-text-length"); got != 20 {
		t.Fatalf("prefixed env: got %d", got)
	}

	if got := runViper(t, "--min-text-length=30").GetInt("min-text-length"); got != 30 {
		t.Fatalf("flag: got %d", got)
	}
}

func TestLegacyInterval(t *testing.T) {
	t.Setenv("CLIPBOARD_MONITOR_INTERVAL", "0.25")
	cfg, err := monitorConfig(runViper(t))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Interval != 250*time.Millisecond {
		t.Fatalf("interval = %s", cfg.Interval)
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "echolink.toml")
	if err := os.WriteFile(path, []byte("min-text-length = 7\nmode = \"file\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	v := runViper(t, "--config", path)
	if v.GetInt("min-text-length") != 7 || v.GetString("mode") != "file" {
		t.Fatalf("config file not applied: %d %q", v.GetInt("min-text-length"), v.GetString("mode"))
	}
}

func TestDotEnvSearchedUpward(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, ".env"), []byte("ECHOLINK_HISTORY_SIZE=7\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	t.Chdir(sub)
	t.Cleanup(func() { _ = os.Unsetenv("ECHOLINK_HISTORY_SIZE") })

	if got := runViper(t).GetInt("history-size"); got != 7 {
		t.Fatalf("history-size = %d, want 7 from .env", got)
	}
}

func TestBuildSourceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	src, closeSrc, err := buildSource(runViper(t, "--mode=file", "--file="+path, "--format=json"))
	if err != nil {
		t.Fatal(err)
	}
	defer closeSrc()
	if src.Kind() != source.KindFile {
		t.Fatalf("kind = %s", src.Kind())
	}

	_, _, err = buildSource(runViper(t, "--mode=file"))
	if !errors.Is(err, monitor.ErrConfigInvalid) {
		t.Fatalf("missing path: err = %v", err)
	}
	_, _, err = buildSource(runViper(t, "--mode=file", "--file="+path, "--format=xml"))
	if !errors.Is(err, monitor.ErrConfigInvalid) {
		t.Fatalf("bad format: err = %v", err)
	}
}

func TestBuildProvider(t *testing.T) {
	ctx := context.Background()

	p, _, err := buildProvider(ctx, runViper(t))
	if err != nil || p != nil {
		t.Fatalf("default: %v %v", p, err)
	}

	p, closeP, err := buildProvider(ctx, runViper(t, "--summarizer=ollama"))
	if err != nil {
		t.Fatal(err)
	}
	defer closeP()
	if p.Name() != "ollama" {
		t.Fatalf("name = %s", p.Name())
	}

	if _, _, err := buildProvider(ctx, runViper(t, "--summarizer=openai")); !errors.Is(err, monitor.ErrConfigInvalid) {
		t.Fatalf("openai without key: %v", err)
	}
	if _, _, err := buildProvider(ctx, runViper(t, "--summarizer=markov")); !errors.Is(err, monitor.ErrConfigInvalid) {
		t.Fatalf("unknown: %v", err)
	}
}

func TestListenTCPDisabled(t *testing.T) {
	ln, tlsCfg, err := listenTCP(runViper(t))
	if err != nil || ln != nil || tlsCfg != nil {
		t.Fatalf("got %v %v %v", ln, tlsCfg, err)
	}
}

func TestListenTCPWithToken(t *testing.T) {
	ln, tlsCfg, err := listenTCP(runViper(t, "--listen=127.0.0.1:0", "--control-token=s3cret"))
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	if tlsCfg == nil || len(tlsCfg.Certificates) != 1 {
		t.Fatal("expected TLS config derived from the token")
	}
}

func TestPrintStatus(t *testing.T) {
	st, err := structpb.NewStruct(map[string]any{
		"version": "1.2.3",
		"uptime":  "1m0s",
		"monitor": map[string]any{
			"state":           "idle",
			"source":          "clipboard",
			"interval":        "1s",
			"enabled":         true,
			"min_text_length": 50.0,
			"processed_count": 3.0,
			"duplicates":      2.0,
			"suppressed":      1.0,
			"failures":        0.0,
			"position":        128.0,
		},
		"sinks":    []any{"speaker"},
		"received": 4.0,
		"speaker": map[string]any{
			"spoken": 3.0, "failed": 0.0, "dropped": 0.0, "queued": 0.0,
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	printStatus(&buf, st, "ipc (/tmp/echolink.sock)")
	out := buf.String()
	for _, want := range []string{"1.2.3", "ipc (/tmp/echolink.sock)", "idle", "Processed:", "3", "speaker", "3 spoken", "128", "4 events published"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Latest:") {
		t.Errorf("no latest event expected:\n%s", out)
	}
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "echolink dev\n" {
		t.Fatalf("version = %q", got)
	}
}
