package source

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func appendFile(t *testing.T, path, s string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.WriteString(s); err != nil {
		t.Fatal(err)
	}
}

func TestFileTextReturnsOnlyAppended(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	appendFile(t, path, "already here\n")

	src, err := NewFile(FileConfig{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	got, err := src.Read(ctx)
	if err != nil || got != "" {
		t.Fatalf("first read = %q, %v; want empty", got, err)
	}

	appendFile(t, path, "new answer\n")
	got, err = src.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != "new answer\n" {
		t.Fatalf("got %q", got)
	}

	got, _ = src.Read(ctx)
	if got != "" {
		t.Fatalf("expected nothing new, got %q", got)
	}
}

func TestFileFromStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	appendFile(t, path, "backlog")

	src, err := NewFile(FileConfig{Path: path, FromStart: true})
	if err != nil {
		t.Fatal(err)
	}
	got, err := src.Read(context.Background())
	if err != nil || got != "backlog" {
		t.Fatalf("got %q, %v", got, err)
	}
	if src.Offset() != int64(len("backlog")) {
		t.Fatalf("offset = %d", src.Offset())
	}
}

func TestFileMissingIsUnavailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-yet.txt")
	src, err := NewFile(FileConfig{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	_, err = src.Read(context.Background())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}

	// Once the file appears everything in it is new.
	appendFile(t, path, "hello")
	got, err := src.Read(context.Background())
	if err != nil || got != "hello" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestFileTruncationResetsOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	src, err := NewFile(FileConfig{Path: path, FromStart: true})
	if err != nil {
		t.Fatal(err)
	}
	appendFile(t, path, "a fairly long first line\n")
	if _, err := src.Read(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("short\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := src.Read(context.Background())
	if err != nil || got != "short\n" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestFileJSONRecordThenMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	src, err := NewFile(FileConfig{Path: path, Format: FormatJSON, FromStart: true})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	appendFile(t, path, `{"content":"ok","type":"response"}`+"\n")
	got, err := src.Read(ctx)
	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}

	before := src.Offset()
	appendFile(t, path, "{bad json\n")
	got, err = src.Read(ctx)
	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("err = %v, want ErrMalformedRecord", err)
	}
	if got != "" {
		t.Fatalf("malformed chunk produced %q", got)
	}
	if src.Offset() != before+int64(len("{bad json\n")) {
		t.Fatalf("offset did not advance past malformed chunk: %d", src.Offset())
	}

	// The next read doesn't see the bad bytes again.
	got, err = src.Read(ctx)
	if err != nil || got != "" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestFileJSONJoinsAndFiltersTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	src, err := NewFile(FileConfig{
		Path:        path,
		Format:      FormatJSON,
		FromStart:   true,
		RecordTypes: []string{"response"},
	})
	if err != nil {
		t.Fatal(err)
	}
	appendFile(t, path, strings.Join([]string{
		`{"timestamp":"2025-01-01T00:00:00Z","type":"response","content":"first"}`,
		`{"timestamp":1735689600,"type":"prompt","content":"ignored"}`,
		`{"type":"response","content":"second","metadata":{"model":"x"}}`,
		`{"type":"response","content":""}`,
	}, "\n"))

	got, err := src.Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "first\n\nsecond" {
		t.Fatalf("got %q", got)
	}
}

func TestFileJSONRecordAfterMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	src, err := NewFile(FileConfig{Path: path, Format: FormatJSON, FromStart: true})
	if err != nil {
		t.Fatal(err)
	}
	appendFile(t, path, "{bad json\n"+`{"content":"good answer","type":"response"}`+"\n")

	got, err := src.Read(context.Background())
	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("err = %v, want ErrMalformedRecord", err)
	}
	if got != "good answer" {
		t.Fatalf("got %q, want the record after the bad line", got)
	}
	got, err = src.Read(context.Background())
	if err != nil || got != "" {
		t.Fatalf("second read = %q, %v", got, err)
	}
}

func TestFileJSONRecordSplitAcrossWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	src, err := NewFile(FileConfig{Path: path, Format: FormatJSON, FromStart: true})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	appendFile(t, path, `{"content":"half of a`)
	got, err := src.Read(ctx)
	if err != nil || got != "" {
		t.Fatalf("partial record read = %q, %v", got, err)
	}
	if src.Offset() != 0 {
		t.Fatalf("offset = %d, partial record should stay unread", src.Offset())
	}

	appendFile(t, path, ` sentence","type":"response"}`+"\n")
	got, err = src.Read(ctx)
	if err != nil || got != "half of a sentence" {
		t.Fatalf("completed record read = %q, %v", got, err)
	}
}

func TestFileJSONCompleteRecordWithoutNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	src, err := NewFile(FileConfig{Path: path, Format: FormatJSON, FromStart: true})
	if err != nil {
		t.Fatal(err)
	}
	appendFile(t, path, `{"content":"no trailing newline"}`)
	got, err := src.Read(context.Background())
	if err != nil || got != "no trailing newline" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestFileTextCapKeepsRunesWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	src, err := NewFile(FileConfig{Path: path, FromStart: true})
	if err != nil {
		t.Fatal(err)
	}
	// The two-byte rune straddles the chunk limit.
	appendFile(t, path, strings.Repeat("a", MaxChunk-1)+"é tail")

	first, err := src.Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != MaxChunk-1 || !utf8.ValidString(first) {
		t.Fatalf("first read: %d bytes, valid=%v", len(first), utf8.ValidString(first))
	}
	second, err := src.Read(context.Background())
	if err != nil || second != "é tail" {
		t.Fatalf("second read = %q, %v", second, err)
	}
}

func TestDecodeRecordsSkipsBadLines(t *testing.T) {
	recs, err := DecodeRecords([]byte("{\"content\":\"a\"}\nnot json\n\n{\"content\":\"b\"}\n[1,2]\n"))
	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "2 bad lines") || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("err = %v", err)
	}
	if len(recs) != 2 || recs[0].Content != "a" || recs[1].Content != "b" {
		t.Fatalf("recs = %+v", recs)
	}
}

func TestDecodeRecordsKeepsRecordsBeforeError(t *testing.T) {
	recs, err := DecodeRecords([]byte(`{"content":"a"} {"content":"b"} [1,2]`))
	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("err = %v", err)
	}
	if len(recs) != 2 || recs[1].Content != "b" {
		t.Fatalf("recs = %+v", recs)
	}
}

func TestNewFileValidation(t *testing.T) {
	if _, err := NewFile(FileConfig{}); err == nil {
		t.Fatal("expected error for empty path")
	}
	if _, err := NewFile(FileConfig{Path: "x", Format: "yaml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestFileWatchSignalsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	src, err := NewFile(FileConfig{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := src.Watch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	appendFile(t, path, "x")

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("no notification after write")
	}

	cancel()
	for range ch {
	}
}
