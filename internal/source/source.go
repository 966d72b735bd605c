// Package source abstracts where new text comes from: the system clipboard
// or a file that an assistant appends its output to.
package source

import (
	"context"
	"errors"
)

// Kind identifies the origin of a piece of text.
type Kind string

const (
	KindClipboard Kind = "clipboard"
	KindFile      Kind = "file"
	KindManual    Kind = "manual"
)

var (
	// ErrSourceUnavailable reports a transient failure to reach the
	// underlying OS resource (clipboard service, file handle). Callers retry
	// on the next tick.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrMalformedRecord reports structured file content that failed to
	// parse. The read offset has already moved past it.
	ErrMalformedRecord = errors.New("malformed record")
)

// Source yields the text currently available from its origin. Read returns
// "" when there is nothing new.
type Source interface {
	Kind() Kind
	Read(ctx context.Context) (string, error)
}

// Watcher is implemented by sources that can signal that new content may be
// available before the next scheduled poll. The channel is closed when ctx
// is done.
type Watcher interface {
	Watch(ctx context.Context) (<-chan struct{}, error)
}
