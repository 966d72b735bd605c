package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
)

// Format selects how appended file content is interpreted.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name. Empty means FormatText.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown file format %q (want text or json)", s)
	}
}

// MaxChunk is the most a single Read consumes; anything beyond it is left
// for the next poll.
const MaxChunk = 1 << 20

// FileConfig describes a watched file.
type FileConfig struct {
	Path   string
	Format Format
	// FromStart reads content already in the file on the first poll instead
	// of starting at its current end.
	FromStart bool
	// RecordTypes limits JSON mode to records whose type is listed.
	// Empty accepts every type.
	RecordTypes []string
}

// File tails a file, returning only what was appended since the previous
// Read. The offset lives in memory; a restart begins again at the end of the
// file (or the start with FromStart).
type File struct {
	path   string
	format Format
	types  map[string]struct{}

	mu     sync.Mutex
	offset int64
}

// NewFile validates cfg and positions the read offset.
func NewFile(cfg FileConfig) (*File, error) {
	if cfg.Path == "" {
		return nil, errors.New("file path is required")
	}
	format, err := ParseFormat(string(cfg.Format))
	if err != nil {
		return nil, err
	}
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", cfg.Path, err)
	}
	f := &File{
		path:   path,
		format: format,
	}
	if len(cfg.RecordTypes) > 0 {
		f.types = make(map[string]struct{}, len(cfg.RecordTypes))
		for _, t := range cfg.RecordTypes {
			f.types[t] = struct{}{}
		}
	}
	if !cfg.FromStart {
		if fi, err := os.Stat(f.path); err == nil {
			f.offset = fi.Size()
		}
	}
	return f, nil
}

func (f *File) Kind() Kind { return KindFile }

// Path returns the watched path.
func (f *File) Path() string { return f.path }

// Offset returns the byte offset the next Read starts from.
func (f *File) Offset() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.offset
}

// Read returns the text appended since the last call. In JSON mode the
// content of each accepted record is joined by a blank line; a malformed
// line is skipped and reported with ErrMalformedRecord while the other lines
// are still returned. A trailing line that is not yet complete JSON is left
// for the next Read.
func (f *File) Read(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fh, err := os.Open(f.path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	defer fh.Close()

	fi, err := fh.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	size := fi.Size()
	if size < f.offset {
		slog.Info("watched file shrank, reading from start",
			"path", f.path,
			"size", size,
			"offset", f.offset,
		)
		f.offset = 0
	}

	pending := size - f.offset
	if pending == 0 {
		return "", nil
	}
	capped := pending > MaxChunk
	if capped {
		pending = MaxChunk
	}

	buf := make([]byte, pending)
	n, err := fh.ReadAt(buf, f.offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("%w: read %s: %v", ErrSourceUnavailable, f.path, err)
	}
	buf = buf[:n]

	switch {
	case f.format == FormatJSON:
		buf = completeLines(buf, capped)
	case capped:
		buf = buf[:runeBoundary(buf)]
	}
	if len(buf) == 0 {
		return "", nil
	}
	f.offset += int64(len(buf))

	if f.format == FormatJSON {
		return f.recordText(buf)
	}
	return string(buf), nil
}

// completeLines drops an unterminated trailing line that may still be
// mid-write. A trailing line that is already valid JSON is kept. A capped
// chunk with no line break at all is consumed whole so one oversized line
// can't stall the file.
func completeLines(buf []byte, capped bool) []byte {
	i := bytes.LastIndexByte(buf, '\n')
	tail := buf[i+1:]
	if !capped && (len(bytes.TrimSpace(tail)) == 0 || json.Valid(tail)) {
		return buf
	}
	if i < 0 {
		if capped {
			return buf
		}
		return buf[:0]
	}
	return buf[:i+1]
}

// runeBoundary returns the length of buf without a trailing partial UTF-8
// sequence.
func runeBoundary(buf []byte) int {
	for i := len(buf) - 1; i >= 0 && i >= len(buf)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(buf[i]) {
			continue
		}
		if utf8.FullRune(buf[i:]) || i == 0 {
			return len(buf)
		}
		return i
	}
	return len(buf)
}

func (f *File) recordText(chunk []byte) (string, error) {
	recs, err := DecodeRecords(chunk)
	var texts []string
	for _, r := range recs {
		if r.Content == "" {
			continue
		}
		if f.types != nil {
			if _, ok := f.types[r.Type]; !ok {
				continue
			}
		}
		texts = append(texts, r.Content)
	}
	return strings.Join(texts, "\n\n"), err
}

// Watch signals when the file is written or created, so the monitor can
// poll without waiting for the next tick. The parent directory is watched so
// the file may appear after startup.
func (f *File) Watch(ctx context.Context) (<-chan struct{}, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	ch := make(chan struct{}, 1)
	go func() {
		defer close(ch)
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != f.path {
					continue
				}
				if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
					continue
				}
				select {
				case ch <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("file watch error", "path", f.path, "err", err)
			}
		}
	}()
	return ch, nil
}
