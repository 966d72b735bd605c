package tts

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeElevenLabs answers a stream-input session with the given audio
// chunks, then a final message.
func fakeElevenLabs(t *testing.T, chunks [][]byte, gotText *string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if !strings.Contains(r.URL.Path, "/stream-input") || r.URL.Query().Get("model_id") == "" {
			http.NotFound(w, r)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var text strings.Builder
		for {
			var m streamMessage
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			if m.Text == "" {
				break
			}
			text.WriteString(m.Text)
		}
		if gotText != nil {
			*gotText = strings.TrimSpace(text.String())
		}

		for _, c := range chunks {
			_ = conn.WriteJSON(map[string]any{"audio": base64.StdEncoding.EncodeToString(c)})
		}
		_ = conn.WriteJSON(map[string]any{"isFinal": true})
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestElevenLabsSynthesize(t *testing.T) {
	var gotText string
	srv := fakeElevenLabs(t, [][]byte{[]byte("ID3"), []byte("audio-bytes")}, &gotText)
	defer srv.Close()

	el, err := NewElevenLabs(ElevenLabsConfig{APIKey: "key", BaseURL: wsURL(srv)})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := el.Synthesize(context.Background(), "hello there", &buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "ID3audio-bytes" {
		t.Fatalf("audio = %q", buf.String())
	}
	if gotText != "hello there" {
		t.Fatalf("server got text %q", gotText)
	}
}

func TestElevenLabsRejectsEmptyText(t *testing.T) {
	el, err := NewElevenLabs(ElevenLabsConfig{APIKey: "key"})
	if err != nil {
		t.Fatal(err)
	}
	if err := el.Synthesize(context.Background(), "  ", &bytes.Buffer{}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("err = %v, want ErrEmptyText", err)
	}
}

func TestElevenLabsRequiresKey(t *testing.T) {
	if _, err := NewElevenLabs(ElevenLabsConfig{}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestElevenLabsBadKey(t *testing.T) {
	srv := fakeElevenLabs(t, nil, nil)
	defer srv.Close()

	el, _ := NewElevenLabs(ElevenLabsConfig{APIKey: "wrong", BaseURL: wsURL(srv)})
	err := el.Synthesize(context.Background(), "hello", &bytes.Buffer{})
	if !errors.Is(err, ErrRejected) || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v, want 401 rejection", err)
	}
}

func TestElevenLabsServerErrorIsNotRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	el, _ := NewElevenLabs(ElevenLabsConfig{APIKey: "key", BaseURL: wsURL(srv)})
	err := el.Synthesize(context.Background(), "hello", &bytes.Buffer{})
	if err == nil || errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want a transient failure", err)
	}
}

func TestElevenLabsInterruptedAfterAudio(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			var m streamMessage
			if err := conn.ReadJSON(&m); err != nil || m.Text == "" {
				break
			}
		}
		_ = conn.WriteJSON(map[string]any{"audio": base64.StdEncoding.EncodeToString([]byte("abc"))})
		// Drop the connection without a close frame.
		_ = conn.Close()
	}))
	defer srv.Close()

	el, _ := NewElevenLabs(ElevenLabsConfig{APIKey: "key", BaseURL: wsURL(srv)})
	var buf bytes.Buffer
	err := el.Synthesize(context.Background(), "hello", &buf)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}
	if buf.String() != "abc" {
		t.Fatalf("audio = %q", buf.String())
	}
}

func TestElevenLabsNoAudio(t *testing.T) {
	srv := fakeElevenLabs(t, nil, nil)
	defer srv.Close()

	el, _ := NewElevenLabs(ElevenLabsConfig{APIKey: "key", BaseURL: wsURL(srv)})
	if err := el.Synthesize(context.Background(), "hello", &bytes.Buffer{}); err == nil {
		t.Fatal("expected error when no audio arrives")
	}
}

func TestElevenLabsContextCancel(t *testing.T) {
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// Never answer.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	el, _ := NewElevenLabs(ElevenLabsConfig{APIKey: "key", BaseURL: wsURL(srv)})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := el.Synthesize(ctx, "hello", &bytes.Buffer{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestEndpoint(t *testing.T) {
	el, _ := NewElevenLabs(ElevenLabsConfig{APIKey: "k", VoiceID: "default"})
	got := el.endpoint()
	want := "wss://api.elevenlabs.io/v1/text-to-speech/" + DefaultVoiceID +
		"/stream-input?model_id=" + DefaultModelID + "&output_format=" + DefaultOutputFormat
	if got != want {
		t.Fatalf("endpoint = %s\nwant %s", got, want)
	}
}
