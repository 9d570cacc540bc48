// Package media acquires the local microphone and plays assistant audio.
//
// Capture and playback run through ffmpeg/ffplay subprocesses speaking raw
// little-endian PCM16 on stdin/stdout.
package media

import (
	"context"
	"io"

	"github.com/vango-go/tranceguide/pkg/core/live"
)

// Stream is an acquired microphone: PCM16 frames plus Stop, which releases
// every track held by the capture. Stop is safe to call more than once.
type Stream interface {
	io.Reader
	Stop() error
}

// Acquirer requests exclusive access to the microphone.
type Acquirer interface {
	Acquire(ctx context.Context, constraints live.MicConstraints) (Stream, error)
}

// Sink receives assistant audio. Reset drops whatever is buffered.
type Sink interface {
	io.Writer
	Reset() error
	Close() error
}

// Discard is a Sink that drops all audio.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Write(p []byte) (int, error) { return len(p), nil }
func (discardSink) Reset() error                { return nil }
func (discardSink) Close() error                { return nil }
