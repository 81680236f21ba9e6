package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/voxbridge/asr-gateway/internal/asr"
	"github.com/voxbridge/asr-gateway/internal/audio"
	"github.com/voxbridge/asr-gateway/internal/config"
	"github.com/voxbridge/asr-gateway/internal/observability"
)

// ErrBusy is surfaced as a transient error envelope when sealed segments
// arrive faster than the backend drains them.
var ErrBusy = errors.New("segment queue full, audio dropped")

// State represents the lifecycle of a transcription session
type State int

const (
	StateReady State = iota
	StateRecording
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRecording:
		return "recording"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session owns one client connection's transcription lifecycle: it feeds
// audio through the segmenter, submits sealed segments to the recognition
// backend one at a time in seq order, routes results back by segment
// number, and assembles the end-of-recording summary.
type Session struct {
	id      string
	config  *config.Config
	logger  zerolog.Logger
	metrics *observability.Metrics

	segmenter *audio.Segmenter
	out       chan interface{}
	pending   chan *audio.Segment
	terminal  chan uint64

	mu              sync.Mutex
	state           State
	client          asr.StreamClient
	clients         []asr.StreamClient
	clientOpen      bool
	synthetic       bool
	finalized       map[uint64]bool
	finalTexts      []string
	outstanding     int
	segmentsSealed  int
	recordingMinSeq uint64
	recordingStart  time.Time
	drainDone       chan struct{}
	drainClosed     bool
	effThreshold    float64
	effSilence      time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates a session for one connection. The recognition client is
// injected so the gateway can choose real, synthetic, or a test double.
func New(id string, cfg *config.Config, client asr.StreamClient, logger zerolog.Logger, metrics *observability.Metrics) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	silence := time.Duration(cfg.SilenceDurationMs) * time.Millisecond
	s := &Session{
		id:      id,
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		segmenter: audio.NewSegmenter(&audio.SegmenterConfig{
			SampleRate: cfg.SampleRate,
			VAD: &audio.VADConfig{
				EnergyThreshold: cfg.VADEnergyThreshold,
				HoldSamples:     cfg.VADHoldMs * cfg.SampleRate / 1000,
				SilenceSamples:  cfg.SilenceDurationMs * cfg.SampleRate / 1000,
			},
			MaxSegment: time.Duration(cfg.MaxSegmentSeconds) * time.Second,
		}),
		out:          make(chan interface{}, 256),
		pending:      make(chan *audio.Segment, cfg.MaxPendingSegments),
		terminal:     make(chan uint64, cfg.MaxPendingSegments*2),
		state:        StateReady,
		client:       client,
		clients:      []asr.StreamClient{client},
		finalized:    make(map[uint64]bool),
		effThreshold: cfg.VADEnergyThreshold,
		effSilence:   silence,
		ctx:          ctx,
		cancel:       cancel,
	}

	go s.dispatch()
	go s.consumeResults(client)

	return s
}

// Out returns the outbound envelope channel consumed by the gateway writer.
func (s *Session) Out() <-chan interface{} {
	return s.out
}

// Done is closed when the session shuts down.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// State returns the current session state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleControl processes one inbound control message.
func (s *Session) HandleControl(msg *ControlMessage) {
	switch msg.Type {
	case TypeStartRecording:
		s.startRecording(msg.Config)
	case TypeStopRecording:
		s.stopRecording()
	case TypeConfigure:
		s.configure(msg)
	case TypePing:
		s.emit(PongMessage{Type: TypePong})
	default:
		s.logger.Warn().Str("type", msg.Type).Msg("Unknown control message type, ignoring")
	}
}

// HandleAudio processes one binary audio frame. Frames outside Recording
// are dropped; a malformed frame returns audio.ErrFormat, which the
// gateway treats as fatal for the connection.
func (s *Session) HandleAudio(data []byte) error {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state != StateRecording {
		s.logger.Warn().Str("state", state.String()).Int("bytes", len(data)).Msg("Dropping audio frame outside recording")
		return nil
	}

	segments, err := s.segmenter.Ingest(audio.Frame{PCM: data, ReceivedAt: time.Now()})
	if err != nil {
		return err
	}
	s.metrics.RecordAudioBytes("in", int64(len(data)))

	for _, seg := range segments {
		s.enqueue(seg)
	}
	return nil
}

func (s *Session) startRecording(cc *ControlConfig) {
	s.mu.Lock()
	switch s.state {
	case StateRecording:
		s.mu.Unlock()
		s.logger.Debug().Msg("start_recording while already recording, ignoring")
		return
	case StateDraining:
		s.mu.Unlock()
		s.emit(ErrorMessage{Type: TypeError, Error: "stop in progress, retry after summary"})
		return
	case StateClosed:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if cc != nil && cc.SampleRate != 0 && cc.SampleRate != s.config.SampleRate {
		s.emit(ErrorMessage{
			Type:  TypeError,
			Error: fmt.Sprintf("unsupported sample_rate %d, expected %d", cc.SampleRate, s.config.SampleRate),
		})
		return
	}

	if err := s.ensureClientOpen(); err != nil {
		s.logger.Error().Err(err).Msg("Cannot start recording, backend unavailable")
		s.metrics.RecordError("backend_unavailable", "session")
		s.emit(ErrorMessage{Type: TypeError, Error: "recognition backend unavailable"})
		return
	}

	s.segmenter.Reset()

	s.mu.Lock()
	s.state = StateRecording
	s.recordingStart = time.Now()
	s.recordingMinSeq = s.segmenter.NextSeq()
	s.segmentsSealed = 0
	s.finalTexts = nil
	s.outstanding = 0
	s.mu.Unlock()

	s.logger.Info().Msg("Recording started")
	s.emit(RecordingStartedMessage{
		Type: TypeRecordingStarted,
		Config: RecordingConfig{
			SampleRate: s.config.SampleRate,
			Channels:   s.config.Channels,
			Encoding:   "pcm_s16le",
		},
	})
}

func (s *Session) stopRecording() {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		s.logger.Debug().Msg("stop_recording while not recording, ignoring")
		return
	}
	s.state = StateDraining
	s.drainDone = make(chan struct{})
	s.drainClosed = false
	start := s.recordingStart
	s.mu.Unlock()

	// Seal whatever speech was in progress when the client released the mic
	if seg := s.segmenter.Flush(); seg != nil {
		s.enqueue(seg)
	}

	s.mu.Lock()
	s.maybeFinishDrainLocked()
	s.mu.Unlock()

	go s.finishDrain(start)
}

// finishDrain waits (bounded) for outstanding finals, then emits the summary.
func (s *Session) finishDrain(start time.Time) {
	timeout := time.Duration(s.config.DrainTimeoutSeconds) * time.Second

	s.mu.Lock()
	done := s.drainDone
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		s.mu.Lock()
		left := s.outstanding
		s.mu.Unlock()
		s.logger.Warn().Int("outstanding", left).Dur("timeout", timeout).Msg("Drain timed out with segments outstanding")
	case <-s.ctx.Done():
		return
	}

	s.mu.Lock()
	transcript := strings.Join(s.finalTexts, " ")
	total := s.segmentsSealed
	if s.state == StateDraining {
		s.state = StateReady
	}
	s.mu.Unlock()

	s.logger.Info().Int("segments", total).Msg("Recording stopped")
	s.emit(RecordingStoppedMessage{
		Type:            TypeRecordingStopped,
		FinalTranscript: transcript,
		TotalDuration:   time.Since(start).Seconds(),
		TotalSegments:   total,
	})
}

func (s *Session) configure(msg *ControlMessage) {
	var silence time.Duration
	if msg.SilenceDuration > 0 {
		silence = time.Duration(msg.SilenceDuration * float64(time.Second))
	}
	s.segmenter.Configure(msg.VADThreshold, silence)

	s.mu.Lock()
	if msg.VADThreshold > 0 {
		s.effThreshold = msg.VADThreshold
	}
	if silence > 0 {
		s.effSilence = silence
	}
	threshold := s.effThreshold
	effSilence := s.effSilence
	s.mu.Unlock()

	s.logger.Info().Float64("vad_threshold", threshold).Dur("silence_duration", effSilence).Msg("Detection parameters updated")
	s.emit(ConfiguredMessage{
		Type: TypeConfigured,
		Config: ConfiguredValues{
			VADThreshold:    threshold,
			SilenceDuration: effSilence.Seconds(),
		},
	})
}

// ensureClientOpen opens the recognition stream on first use, applying
// the degraded-mode policy when the backend is unreachable.
func (s *Session) ensureClientOpen() error {
	s.mu.Lock()
	if s.clientOpen {
		s.mu.Unlock()
		return nil
	}
	client := s.client
	s.mu.Unlock()

	err := client.Open(s.ctx, s.audioFormat(), s.recognitionOptions())
	if err == nil {
		s.mu.Lock()
		s.clientOpen = true
		s.mu.Unlock()
		return nil
	}

	if errors.Is(err, asr.ErrBackendUnavailable) && s.config.DegradedFallback == "synthetic" {
		s.fallbackToSynthetic(err)
		return nil
	}
	return err
}

// fallbackToSynthetic swaps in the synthetic backend so the session keeps
// serving results while the real backend is down.
func (s *Session) fallbackToSynthetic(cause error) {
	s.logger.Warn().Err(cause).Msg("Backend unavailable, falling back to synthetic recognition")
	s.metrics.RecordError("backend_unavailable", "session")

	syn := asr.NewSynthetic()
	syn.Open(s.ctx, s.audioFormat(), s.recognitionOptions())

	s.mu.Lock()
	s.client = syn
	s.clients = append(s.clients, syn)
	s.clientOpen = true
	s.synthetic = true
	s.mu.Unlock()

	go s.consumeResults(syn)
}

func (s *Session) audioFormat() asr.AudioFormat {
	return asr.AudioFormat{
		Encoding:   "pcm_s16le",
		SampleRate: s.config.SampleRate,
		Channels:   s.config.Channels,
	}
}

func (s *Session) recognitionOptions() asr.Options {
	return asr.Options{
		Language:       s.config.BackendLanguage,
		EnablePartials: s.config.EnablePartials,
	}
}

// enqueue hands a sealed segment to the dispatcher, rejecting with a
// transient error envelope when the bounded queue is full.
func (s *Session) enqueue(seg *audio.Segment) {
	s.mu.Lock()
	s.outstanding++
	s.segmentsSealed++
	s.mu.Unlock()
	s.metrics.RecordSegmentSealed(seg.Seq)

	select {
	case s.pending <- seg:
	default:
		s.mu.Lock()
		s.outstanding--
		s.maybeFinishDrainLocked()
		s.mu.Unlock()

		s.logger.Warn().Uint64("segment_id", seg.Seq).Msg("Pending segment queue full, dropping segment")
		s.metrics.RecordSegmentOutcome(seg.Seq, "rejected")
		s.metrics.RecordError("busy", "session")
		s.emit(ErrorMessage{Type: TypeError, Error: ErrBusy.Error()})
	}
}

// dispatch submits segments to the backend strictly in order with at most
// one in flight, which keeps result routing trivial and ordering exact.
func (s *Session) dispatch() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case seg := <-s.pending:
			s.submit(seg)

			waiting := true
			for waiting {
				select {
				case <-s.ctx.Done():
					return
				case seq := <-s.terminal:
					if seq == seg.Seq {
						waiting = false
					}
				}
			}
		}
	}
}

func (s *Session) submit(seg *audio.Segment) {
	s.mu.Lock()
	client := s.client
	syntheticActive := s.synthetic
	s.mu.Unlock()

	err := client.SendSegment(s.ctx, seg)
	if err == nil {
		return
	}

	if errors.Is(err, asr.ErrBackendUnavailable) && s.config.DegradedFallback == "synthetic" && !syntheticActive {
		s.fallbackToSynthetic(err)

		s.mu.Lock()
		client = s.client
		s.mu.Unlock()
		if err = client.SendSegment(s.ctx, seg); err == nil {
			return
		}
	}

	s.logger.Error().Err(err).Uint64("segment_id", seg.Seq).Msg("Segment submission failed")
	s.handleResult(&asr.Result{SegmentID: seg.Seq, IsFinal: true, Err: err})
}

func (s *Session) consumeResults(client asr.StreamClient) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case r, ok := <-client.Results():
			if !ok {
				return
			}
			s.handleResult(r)
		}
	}
}

// handleResult routes one recognition event. Partials for a finalized
// segment are discarded; the first terminal event per segment wins.
func (s *Session) handleResult(r *asr.Result) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	if s.finalized[r.SegmentID] {
		s.mu.Unlock()
		if !r.IsFinal {
			s.logger.Debug().Uint64("segment_id", r.SegmentID).Msg("Discarding partial after final")
		}
		return
	}

	// A result for a segment sealed before the current recording started
	// is a straggler from a timed-out drain. It must not reach the client
	// or the current recording's summary, but the dispatcher may still be
	// waiting on it.
	if r.SegmentID < s.recordingMinSeq {
		if r.IsFinal {
			s.finalized[r.SegmentID] = true
		}
		s.mu.Unlock()
		s.logger.Debug().Uint64("segment_id", r.SegmentID).Msg("Discarding result from previous recording")
		if r.IsFinal {
			select {
			case s.terminal <- r.SegmentID:
			default:
			}
		}
		return
	}

	if !r.IsFinal {
		s.mu.Unlock()
		s.metrics.RecordResult(false)
		s.emit(PartialMessage{
			Type:      TypePartial,
			SegmentID: r.SegmentID,
			Text:      r.Text,
			IsFinal:   false,
		})
		return
	}

	s.finalized[r.SegmentID] = true
	s.outstanding--
	if r.Err == nil && r.Text != "" {
		s.finalTexts = append(s.finalTexts, r.Text)
	}
	s.maybeFinishDrainLocked()
	s.mu.Unlock()

	if r.Err != nil {
		status := "error"
		if errors.Is(r.Err, asr.ErrSegmentTimeout) {
			status = "timeout"
		}
		s.metrics.RecordSegmentOutcome(r.SegmentID, status)
		s.metrics.RecordError(status, "asr")
		s.emit(ErrorMessage{
			Type:  TypeError,
			Error: fmt.Sprintf("segment %d failed: %v", r.SegmentID, r.Err),
		})
	} else {
		s.metrics.RecordSegmentOutcome(r.SegmentID, "final")
		s.metrics.RecordResult(true)

		words := r.Words
		if words == nil {
			words = []asr.Word{}
		}
		s.emit(TranscriptionMessage{
			Type:             TypeTranscription,
			SegmentID:        r.SegmentID,
			Text:             r.Text,
			IsFinal:          true,
			Words:            words,
			ProcessingTimeMs: float64(r.Latency.Microseconds()) / 1000.0,
		})
	}

	select {
	case s.terminal <- r.SegmentID:
	default:
	}
}

// maybeFinishDrainLocked releases the drain waiter once nothing is outstanding.
func (s *Session) maybeFinishDrainLocked() {
	if s.state == StateDraining && s.outstanding == 0 && s.drainDone != nil && !s.drainClosed {
		s.drainClosed = true
		close(s.drainDone)
	}
}

func (s *Session) emit(msg interface{}) {
	select {
	case s.out <- msg:
	case <-s.ctx.Done():
	}
}

// Close shuts the session down. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		clients := s.clients
		s.mu.Unlock()

		s.cancel()
		for _, c := range clients {
			c.Close()
		}
		s.logger.Info().Msg("Session closed")
	})
}
