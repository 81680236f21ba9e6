package audio

import (
	"testing"
	"time"
)

func newTestSegmenter() *Segmenter {
	return NewSegmenter(&SegmenterConfig{
		SampleRate: 16000,
		VAD: &VADConfig{
			EnergyThreshold: 500.0,
			HoldSamples:     320,
			SilenceSamples:  1600,
		},
		MaxSegment: 5 * time.Second,
	})
}

func ingestTone(t *testing.T, s *Segmenter, numSamples int) []*Segment {
	t.Helper()
	segs, err := s.Ingest(Frame{PCM: EncodeSamples(makeTone(8000, numSamples)), ReceivedAt: time.Now()})
	if err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	return segs
}

func ingestSilence(t *testing.T, s *Segmenter, numSamples int) []*Segment {
	t.Helper()
	segs, err := s.Ingest(Frame{PCM: EncodeSamples(makeSilence(numSamples)), ReceivedAt: time.Now()})
	if err != nil {
		t.Fatalf("Ingest() failed: %v", err)
	}
	return segs
}

func TestSegmenter_SingleUtterance(t *testing.T) {
	s := newTestSegmenter()

	// Leading silence produces nothing
	if segs := ingestSilence(t, s, 1600); len(segs) != 0 {
		t.Fatalf("Expected no segments from silence, got %d", len(segs))
	}

	// One second of speech
	for i := 0; i < 50; i++ {
		if segs := ingestTone(t, s, 320); len(segs) != 0 {
			t.Fatalf("Expected no segment mid-speech, got %d", len(segs))
		}
	}
	if !s.IsSpeaking() {
		t.Fatal("Expected speaking state during tone")
	}

	// Trailing silence seals the segment
	var sealed []*Segment
	for i := 0; i < 10 && len(sealed) == 0; i++ {
		sealed = ingestSilence(t, s, 320)
	}
	if len(sealed) != 1 {
		t.Fatalf("Expected exactly 1 sealed segment, got %d", len(sealed))
	}

	seg := sealed[0]
	if seg.Seq != 1 {
		t.Errorf("Expected Seq 1, got %d", seg.Seq)
	}
	if seg.ForceSealed {
		t.Error("Expected silence-sealed segment, got force-sealed")
	}
	// 50 speech chunks plus the silence tail
	if seg.Duration < time.Second {
		t.Errorf("Expected at least 1s of audio, got %v", seg.Duration)
	}
}

func TestSegmenter_SequenceNumbersAreGapless(t *testing.T) {
	s := newTestSegmenter()

	var seqs []uint64
	for utterance := 0; utterance < 3; utterance++ {
		ingestTone(t, s, 3200)
		for i := 0; i < 10; i++ {
			for _, seg := range ingestSilence(t, s, 320) {
				seqs = append(seqs, seg.Seq)
			}
		}
	}

	if len(seqs) != 3 {
		t.Fatalf("Expected 3 segments, got %d", len(seqs))
	}
	for i, seq := range seqs {
		if seq != uint64(i+1) {
			t.Errorf("Expected Seq %d at position %d, got %d", i+1, i, seq)
		}
	}
	if s.SealedCount() != 3 {
		t.Errorf("Expected SealedCount 3, got %d", s.SealedCount())
	}
}

func TestSegmenter_HoldWindowAudioIsKept(t *testing.T) {
	s := newTestSegmenter()

	// Two 160-sample chunks accumulate toward the 320-sample hold;
	// both must appear in the sealed segment
	ingestTone(t, s, 160)
	ingestTone(t, s, 160)
	ingestTone(t, s, 1600)

	var sealed []*Segment
	for i := 0; i < 10 && len(sealed) == 0; i++ {
		sealed = ingestSilence(t, s, 320)
	}
	if len(sealed) != 1 {
		t.Fatalf("Expected 1 segment, got %d", len(sealed))
	}

	// 160+160+1600 speech samples plus 1600 silence tail = 3520 samples
	wantBytes := 3520 * 2
	if len(sealed[0].PCM) != wantBytes {
		t.Errorf("Expected %d PCM bytes, got %d", wantBytes, len(sealed[0].PCM))
	}
}

func TestSegmenter_MaxSegmentForceSeal(t *testing.T) {
	s := NewSegmenter(&SegmenterConfig{
		SampleRate: 16000,
		VAD: &VADConfig{
			EnergyThreshold: 500.0,
			HoldSamples:     320,
			SilenceSamples:  1600,
		},
		MaxSegment: 500 * time.Millisecond,
	})

	// Continuous speech well past the cap
	var sealed []*Segment
	for i := 0; i < 60; i++ {
		sealed = append(sealed, ingestTone(t, s, 320)...)
	}

	if len(sealed) < 2 {
		t.Fatalf("Expected multiple force-sealed segments, got %d", len(sealed))
	}
	for _, seg := range sealed {
		if !seg.ForceSealed {
			t.Errorf("Expected segment %d to be force-sealed", seg.Seq)
		}
	}
	if !s.IsSpeaking() {
		t.Error("Expected speaking state to survive a force seal")
	}
}

func TestSegmenter_FormatError(t *testing.T) {
	s := newTestSegmenter()

	_, err := s.Ingest(Frame{PCM: []byte{0x01, 0x02, 0x03}, ReceivedAt: time.Now()})
	if err != ErrFormat {
		t.Errorf("Expected ErrFormat for odd-length frame, got %v", err)
	}
}

func TestSegmenter_EmptyFrameIgnored(t *testing.T) {
	s := newTestSegmenter()

	segs, err := s.Ingest(Frame{PCM: nil, ReceivedAt: time.Now()})
	if err != nil {
		t.Fatalf("Ingest() failed on empty frame: %v", err)
	}
	if len(segs) != 0 {
		t.Errorf("Expected no segments from empty frame, got %d", len(segs))
	}
}

func TestSegmenter_FlushSealsInProgressSegment(t *testing.T) {
	s := newTestSegmenter()

	ingestTone(t, s, 3200)
	if !s.IsSpeaking() {
		t.Fatal("Expected speaking state")
	}

	seg := s.Flush()
	if seg == nil {
		t.Fatal("Expected Flush to seal the in-progress segment")
	}
	if seg.Seq != 1 {
		t.Errorf("Expected Seq 1, got %d", seg.Seq)
	}
	if s.IsSpeaking() {
		t.Error("Expected VAD reset after Flush")
	}

	// Nothing left to flush
	if seg := s.Flush(); seg != nil {
		t.Errorf("Expected nil from second Flush, got segment %d", seg.Seq)
	}
}

func TestSegmenter_FlushWithoutSpeechReturnsNil(t *testing.T) {
	s := newTestSegmenter()
	ingestSilence(t, s, 1600)
	if seg := s.Flush(); seg != nil {
		t.Errorf("Expected nil flush after silence only, got segment %d", seg.Seq)
	}
}

func TestSegmenter_ConfigureTakesEffect(t *testing.T) {
	s := newTestSegmenter()

	// Raise the threshold so the tone no longer counts as speech
	s.Configure(20000.0, 0)
	ingestTone(t, s, 3200)
	if s.IsSpeaking() {
		t.Error("Expected no onset after raising threshold")
	}

	// Lower it back and shorten the silence window
	s.Configure(500.0, 100*time.Millisecond)
	ingestTone(t, s, 3200)
	sealed := ingestSilence(t, s, 1600)
	if len(sealed) != 1 {
		t.Fatalf("Expected 1 segment with shortened silence window, got %d", len(sealed))
	}
}

func TestSegmenter_ResetDropsBufferedAudio(t *testing.T) {
	s := newTestSegmenter()

	ingestTone(t, s, 3200)
	s.Reset()

	if s.IsSpeaking() {
		t.Error("Expected not speaking after Reset")
	}
	if seg := s.Flush(); seg != nil {
		t.Errorf("Expected no segment after Reset, got segment %d", seg.Seq)
	}
}

func TestBytesToDuration(t *testing.T) {
	// 32000 bytes = 16000 samples = 1s at 16kHz
	if d := BytesToDuration(32000, 16000); d != time.Second {
		t.Errorf("Expected 1s, got %v", d)
	}
	if d := BytesToDuration(100, 0); d != 0 {
		t.Errorf("Expected 0 for zero sample rate, got %v", d)
	}
}
