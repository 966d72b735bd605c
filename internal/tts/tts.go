// Package tts converts text to speech audio.
package tts

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrEmptyText is returned when there is nothing to synthesize.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrRejected marks a request the service refused outright, such as a
	// bad API key or an unknown voice. Sending it again won't help.
	ErrRejected = errors.New("request rejected")
	// ErrInterrupted marks a stream that failed after audio had already
	// arrived. The characters were billed.
	ErrInterrupted = errors.New("audio stream interrupted")
)

// Synthesizer converts text to audio and writes the encoded bytes to w as
// they arrive.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, w io.Writer) error
}
