package asr

import (
	"context"
	"errors"
	"time"

	"github.com/voxbridge/asr-gateway/internal/audio"
)

// ErrBackendUnavailable is returned when the recognition backend cannot be
// reached after exhausting reconnection attempts.
var ErrBackendUnavailable = errors.New("recognition backend unavailable")

// ErrSegmentTimeout is returned as a per-segment failure when the backend
// does not deliver a final result within the segment timeout. The stream
// itself stays usable.
var ErrSegmentTimeout = errors.New("segment recognition timed out")

// Word is a single recognized word with timing relative to segment start.
type Word struct {
	Word       string  `json:"word"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Result is one recognition event for a segment. Partials carry IsFinal
// false and may be superseded; exactly one final (or one failed Result
// with Err set) terminates each segment.
type Result struct {
	SegmentID  uint64
	Text       string
	Words      []Word
	Confidence float64
	IsFinal    bool
	Synthetic  bool
	Latency    time.Duration // Submit-to-result time, set by the client
	Err        error         // Non-nil marks the segment failed; IsFinal is true
}

// AudioFormat describes the PCM the client will stream.
type AudioFormat struct {
	Encoding   string // "pcm_s16le"
	SampleRate int
	Channels   int
}

// Options holds per-stream recognition options.
type Options struct {
	Language       string
	EnablePartials bool
}

// StreamClient is the interface for streaming recognition backends.
// A client is opened once; after a mid-stream failure the implementation
// reopens transparently on the next SendSegment. The in-flight segment at
// the moment of failure is not retried.
type StreamClient interface {
	// Open establishes the recognition stream
	Open(ctx context.Context, format AudioFormat, opts Options) error

	// SendSegment submits one sealed segment for recognition
	SendSegment(ctx context.Context, seg *audio.Segment) error

	// Results returns the channel recognition events are delivered on
	Results() <-chan *Result

	// Close tears down the stream and releases resources
	Close() error
}
