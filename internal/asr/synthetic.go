package asr

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/voxbridge/asr-gateway/internal/audio"
)

// syntheticPhrases are cycled deterministically, one per segment, so
// tests and demos get stable transcripts without a live backend.
var syntheticPhrases = []string{
	"hello this is a test transcription",
	"the quick brown fox jumps over the lazy dog",
	"speech recognition is working correctly",
	"testing the audio streaming pipeline",
	"voice activity detection segmented this audio",
}

// Synthetic implements StreamClient without a backend. Every segment
// yields one partial (when enabled) followed by a final whose word
// timings are spread evenly across the segment duration. Results are
// tagged Synthetic so downstream summaries stay honest.
type Synthetic struct {
	results chan *Result

	mu        sync.Mutex
	opened    bool
	opts      Options
	phraseIdx int

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewSynthetic creates a synthetic recognition client
func NewSynthetic() *Synthetic {
	ctx, cancel := context.WithCancel(context.Background())
	return &Synthetic{
		results: make(chan *Result, 100),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Open records the stream options; no connection is made.
func (s *Synthetic) Open(ctx context.Context, format AudioFormat, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	s.opts = opts
	return nil
}

// SendSegment emits a partial then a final for the segment.
func (s *Synthetic) SendSegment(ctx context.Context, seg *audio.Segment) error {
	s.mu.Lock()
	if !s.opened {
		s.mu.Unlock()
		return fmt.Errorf("recognition stream not open")
	}
	phrase := syntheticPhrases[s.phraseIdx%len(syntheticPhrases)]
	s.phraseIdx++
	partials := s.opts.EnablePartials
	s.mu.Unlock()

	sentAt := time.Now()
	words := strings.Fields(phrase)

	if partials && len(words) > 1 {
		partial := strings.Join(words[:len(words)/2], " ") + "..."
		s.emit(&Result{
			SegmentID:  seg.Seq,
			Text:       partial,
			Confidence: 0.95,
			IsFinal:    false,
			Synthetic:  true,
			Latency:    time.Since(sentAt),
		})
	}

	// Spread word timings evenly across the segment's audio
	dur := seg.Duration.Seconds()
	if dur <= 0 {
		dur = 1.0
	}
	step := dur / float64(len(words))
	timed := make([]Word, len(words))
	for i, w := range words {
		timed[i] = Word{
			Word:       w,
			Start:      float64(i) * step,
			End:        float64(i+1) * step,
			Confidence: 0.95,
		}
	}

	s.emit(&Result{
		SegmentID:  seg.Seq,
		Text:       phrase,
		Words:      timed,
		Confidence: 0.95,
		IsFinal:    true,
		Synthetic:  true,
		Latency:    time.Since(sentAt),
	})

	return nil
}

func (s *Synthetic) emit(r *Result) {
	select {
	case s.results <- r:
	case <-s.ctx.Done():
	}
}

// Results returns the channel recognition events are delivered on
func (s *Synthetic) Results() <-chan *Result {
	return s.results
}

// Close releases resources
func (s *Synthetic) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		go func() {
			time.Sleep(100 * time.Millisecond)
			close(s.results)
		}()
	})
	return nil
}
