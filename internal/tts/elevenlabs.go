package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultBaseURL      = "wss://api.elevenlabs.io"
	DefaultVoiceID      = "21m00Tcm4TlvDq8ikWAM" // Rachel
	DefaultModelID      = "eleven_flash_v2_5"
	DefaultOutputFormat = "mp3_44100_128"
)

// VoiceSettings tunes the ElevenLabs voice.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// DefaultVoiceSettings returns a balanced, expressive voice.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
		Style:           0.5,
		UseSpeakerBoost: true,
	}
}

// ElevenLabsConfig configures the ElevenLabs client. Zero fields take the
// package defaults.
type ElevenLabsConfig struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	BaseURL      string
	Voice        *VoiceSettings
}

// ElevenLabs synthesizes speech over the stream-input websocket API. Each
// call opens its own connection.
type ElevenLabs struct {
	cfg    ElevenLabsConfig
	dialer *websocket.Dialer
}

// NewElevenLabs returns a client. The API key is required.
func NewElevenLabs(cfg ElevenLabsConfig) (*ElevenLabs, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("elevenlabs: api key is required")
	}
	if cfg.VoiceID == "" || cfg.VoiceID == "default" {
		cfg.VoiceID = DefaultVoiceID
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = DefaultOutputFormat
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Voice == nil {
		v := DefaultVoiceSettings()
		cfg.Voice = &v
	}
	return &ElevenLabs{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

func (e *ElevenLabs) endpoint() string {
	q := url.Values{}
	q.Set("model_id", e.cfg.ModelID)
	q.Set("output_format", e.cfg.OutputFormat)
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?%s",
		strings.TrimRight(e.cfg.BaseURL, "/"), url.PathEscape(e.cfg.VoiceID), q.Encode())
}

type streamMessage struct {
	Text                 string         `json:"text"`
	VoiceSettings        *VoiceSettings `json:"voice_settings,omitempty"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
}

type streamResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Synthesize streams text to ElevenLabs and writes the decoded audio to w.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string, w io.Writer) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}

	header := http.Header{}
	header.Set("xi-api-key", e.cfg.APIKey)

	conn, resp, err := e.dialer.DialContext(ctx, e.endpoint(), header)
	if err != nil {
		if resp != nil {
			if rejected(resp.StatusCode) {
				return fmt.Errorf("elevenlabs connect: %s: %w", resp.Status, ErrRejected)
			}
			return fmt.Errorf("elevenlabs connect: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("elevenlabs connect: %w", err)
	}
	defer conn.Close()

	// Unblock ReadMessage when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	msgs := []streamMessage{
		{Text: " ", VoiceSettings: e.cfg.Voice},
		{Text: text + " ", TryTriggerGeneration: true},
		{Text: ""},
	}
	for _, m := range msgs {
		if err := conn.WriteJSON(m); err != nil {
			return e.wrap(ctx, "send", err)
		}
	}

	var total int
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && total > 0 {
				break
			}
			if total > 0 && ctx.Err() == nil {
				return fmt.Errorf("elevenlabs read after %d bytes: %w: %v", total, ErrInterrupted, err)
			}
			return e.wrap(ctx, "read", err)
		}

		var r streamResponse
		if err := json.Unmarshal(message, &r); err != nil {
			slog.Debug("elevenlabs: unexpected message", "err", err)
			continue
		}
		if r.Error != "" {
			return fmt.Errorf("elevenlabs: %s: %s", r.Error, r.Message)
		}
		if r.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(r.Audio)
			if err != nil {
				return fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			n, err := w.Write(chunk)
			total += n
			if err != nil {
				return fmt.Errorf("elevenlabs: write audio: %w", err)
			}
		}
		if r.IsFinal {
			break
		}
	}

	if total == 0 {
		return errors.New("elevenlabs: no audio received")
	}
	slog.Debug("elevenlabs: synthesis complete", "bytes", total, "voice", e.cfg.VoiceID)
	return nil
}

// rejected reports whether a handshake status is a client error that a retry
// can't fix. 429 is a rate limit and may clear.
func rejected(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

func (e *ElevenLabs) wrap(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("elevenlabs %s: %w", op, err)
}
