package hub

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"go.klb.dev/echolink/internal/logging"
	"go.klb.dev/echolink/internal/monitor"
)

// LogEvent logs a content event at INFO (source, id, length) and DEBUG
// (text preview up to 120 chars).
func LogEvent(msg string, ev monitor.Event) {
	slog.Info(msg, "source", ev.Source, "id", ev.ID, "chars", utf8.RuneCountInString(ev.Text))

	if !slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	slog.Debug("content preview", "id", ev.ID, "preview", logging.Preview(ev.Text, 120))
}
