package audio

import (
	"sync"
	"time"
)

// Frame is a single binary audio chunk as received from the client.
type Frame struct {
	PCM        []byte
	ReceivedAt time.Time
}

// Segment is a sealed utterance ready for recognition. Seq numbers are
// assigned in order starting at 1 with no gaps.
type Segment struct {
	Seq         uint64
	PCM         []byte
	StartedAt   time.Time
	Duration    time.Duration
	ForceSealed bool // true when sealed by the max-length cap rather than silence
}

// SegmenterConfig holds configuration for utterance segmentation
type SegmenterConfig struct {
	SampleRate int
	VAD        *VADConfig
	MaxSegment time.Duration // Force-seal cap for continuous speech
}

// DefaultSegmenterConfig returns a default segmenter configuration
func DefaultSegmenterConfig() *SegmenterConfig {
	return &SegmenterConfig{
		SampleRate: 16000,
		VAD:        DefaultVADConfig(),
		MaxSegment: 5 * time.Second,
	}
}

// Segmenter accumulates PCM frames and cuts them into speech segments
// using the VAD detector. Audio arriving during the onset hold window is
// kept in a pending buffer so the start of an utterance is not clipped.
type Segmenter struct {
	config          *SegmenterConfig
	vad             *VADDetector
	maxSegmentBytes int

	mu           sync.Mutex
	pending      []byte
	pendingStart time.Time
	active       []byte
	activeStart  time.Time
	nextSeq      uint64
	sealedCount  uint64
}

// NewSegmenter creates a new segmenter
func NewSegmenter(config *SegmenterConfig) *Segmenter {
	if config == nil {
		config = DefaultSegmenterConfig()
	}
	return &Segmenter{
		config:          config,
		vad:             NewVADDetector(config.VAD),
		maxSegmentBytes: DurationToBytes(config.MaxSegment, config.SampleRate),
		nextSeq:         1,
	}
}

// Ingest processes one audio frame and returns any segments sealed by it.
// Zero-length frames are ignored. Returns ErrFormat for malformed PCM.
func (s *Segmenter) Ingest(frame Frame) ([]*Segment, error) {
	if len(frame.PCM) == 0 {
		return nil, nil
	}

	samples, err := DecodeSamples(frame.PCM)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	speaking, started, ended := s.vad.ProcessChunk(samples)

	var sealed []*Segment

	switch {
	case started:
		// Promote the hold-window audio into the new segment
		s.active = append(s.active, s.pending...)
		s.active = append(s.active, frame.PCM...)
		s.activeStart = s.pendingStart
		if s.activeStart.IsZero() {
			s.activeStart = frame.ReceivedAt
		}
		s.pending = nil
		s.pendingStart = time.Time{}

	case speaking || ended:
		// In-segment audio, including the silence tail that closes it
		s.active = append(s.active, frame.PCM...)

	default:
		// Not speaking: track candidate onset audio, discard stale silence
		rms := CalculateRMS(samples)
		if rms > s.vad.config.EnergyThreshold {
			if len(s.pending) == 0 {
				s.pendingStart = frame.ReceivedAt
			}
			s.pending = append(s.pending, frame.PCM...)
		} else {
			s.pending = nil
			s.pendingStart = time.Time{}
		}
	}

	if ended && len(s.active) > 0 {
		sealed = append(sealed, s.sealLocked(false))
	} else if speaking && s.maxSegmentBytes > 0 && len(s.active) >= s.maxSegmentBytes {
		// Continuous speech hit the cap; seal and keep recording into
		// a fresh segment without losing the speaking state
		seg := s.sealLocked(true)
		sealed = append(sealed, seg)
		s.activeStart = frame.ReceivedAt
	}

	return sealed, nil
}

// Flush seals any in-progress segment. Called on stop_recording so audio
// captured before the client released the mic is not dropped.
func (s *Segmenter) Flush() *Segment {
	s.mu.Lock()
	defer s.mu.Unlock()

	var seg *Segment
	if len(s.active) > 0 {
		seg = s.sealLocked(false)
	}
	s.pending = nil
	s.pendingStart = time.Time{}
	s.vad.Reset()
	return seg
}

// Reset clears all buffered audio and VAD state without sealing.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active = nil
	s.pending = nil
	s.pendingStart = time.Time{}
	s.vad.Reset()
}

// Configure applies live tuning from a configure control message.
// Takes effect on the next frame; the in-progress segment is not disturbed.
func (s *Segmenter) Configure(energyThreshold float64, silenceDuration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if energyThreshold > 0 {
		s.vad.SetThreshold(energyThreshold)
	}
	if silenceDuration > 0 {
		samples := int(silenceDuration.Seconds() * float64(s.config.SampleRate))
		if samples > 0 {
			s.vad.SetSilenceSamples(samples)
		}
	}
}

// NextSeq returns the seq number the next sealed segment will carry.
func (s *Segmenter) NextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}

// SealedCount returns how many segments have been sealed so far.
func (s *Segmenter) SealedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealedCount
}

// IsSpeaking reports whether the detector is inside an utterance.
func (s *Segmenter) IsSpeaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.vad.IsSpeaking()
}

func (s *Segmenter) sealLocked(forced bool) *Segment {
	seg := &Segment{
		Seq:         s.nextSeq,
		PCM:         s.active,
		StartedAt:   s.activeStart,
		Duration:    BytesToDuration(len(s.active), s.config.SampleRate),
		ForceSealed: forced,
	}
	s.nextSeq++
	s.sealedCount++
	s.active = nil
	s.activeStart = time.Time{}
	return seg
}
