package asr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/voxbridge/asr-gateway/internal/audio"
	"github.com/voxbridge/asr-gateway/internal/config"
	"github.com/voxbridge/asr-gateway/internal/observability"
	"github.com/voxbridge/asr-gateway/internal/resilience"
)

// ClientState represents the state of the backend stream
type ClientState int

const (
	StateIdle ClientState = iota
	StateConnecting
	StateStreaming
	StateClosing
	StateFailed
)

func (s ClientState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

type inFlightSegment struct {
	sentAt time.Time
	done   chan struct{}
}

// Client implements StreamClient against the recognition backend's
// WebSocket endpoint. A failed stream is reopened transparently on the
// next SendSegment; the segment that was in flight when the transport
// died is reported failed and never retried.
type Client struct {
	config  *config.Config
	results chan *Result

	mu       sync.Mutex
	state    ClientState
	opened   bool
	conn     *websocket.Conn
	format   AudioFormat
	opts     Options
	inFlight map[uint64]*inFlightSegment

	circuitBreaker *resilience.CircuitBreaker
	ctx            context.Context
	cancel         context.CancelFunc
	closeOnce      sync.Once
}

// NewClient creates a new backend stream client
func NewClient(cfg *config.Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config:   cfg,
		results:  make(chan *Result, 100),
		state:    StateIdle,
		inFlight: make(map[uint64]*inFlightSegment),
		circuitBreaker: resilience.NewCircuitBreaker(
			"asr-backend",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Open establishes the recognition stream. Connection attempts use
// exponential backoff; exhaustion surfaces ErrBackendUnavailable.
func (c *Client) Open(ctx context.Context, format AudioFormat, opts Options) error {
	c.mu.Lock()
	if c.state == StateStreaming {
		c.mu.Unlock()
		return nil
	}
	c.format = format
	c.opts = opts
	c.opened = true
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.connectWithBackoff(ctx); err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.mu.Unlock()
		return fmt.Errorf("open recognition stream: %w", err)
	}

	return nil
}

// connectWithBackoff dials the backend, retrying with exponential backoff.
func (c *Client) connectWithBackoff(ctx context.Context) error {
	reconnectConfig := &resilience.ReconnectConfig{
		MaxAttempts: c.config.ReconnectMaxAttempts,
		Backoff:     time.Duration(c.config.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}

	err := resilience.Reconnect(ctx, func() error {
		return c.connect(ctx)
	}, reconnectConfig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

// connect performs a single dial and recognition handshake.
func (c *Client) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(c.config.ConnectTimeoutSeconds)*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.config.BackendURL, nil)
	if err != nil {
		return fmt.Errorf("dial backend at %s: %w", c.config.BackendURL, err)
	}

	startMsg := startRecognitionMessage{
		Message: msgStartRecognition,
		AudioFormat: backendAudioFormat{
			Encoding:   c.format.Encoding,
			SampleRate: c.format.SampleRate,
			Channels:   c.format.Channels,
		},
		Language:       c.opts.Language,
		EnablePartials: c.opts.EnablePartials,
	}
	if err := conn.WriteJSON(startMsg); err != nil {
		conn.Close()
		return fmt.Errorf("send start_recognition: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateStreaming
	c.mu.Unlock()

	go c.readLoop(conn)

	log.Debug().Str("url", c.config.BackendURL).Msg("Recognition stream established")
	return nil
}

// SendSegment submits one sealed segment. The PCM is written as binary
// frames of at most ChunkSizeBytes, framed by begin_segment and
// end_of_segment control messages.
func (c *Client) SendSegment(ctx context.Context, seg *audio.Segment) error {
	c.mu.Lock()
	if !c.opened || c.state == StateClosing {
		c.mu.Unlock()
		return fmt.Errorf("recognition stream not open")
	}
	needsReopen := c.state != StateStreaming || c.conn == nil
	c.mu.Unlock()

	if needsReopen {
		observability.RecordBackendReconnect()
		if err := c.connectWithBackoff(ctx); err != nil {
			return err
		}
	}

	err := c.circuitBreaker.Call(func() error {
		return c.writeSegment(seg)
	})
	observability.UpdateCircuitBreakerState("asr-backend", int(c.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("asr-backend")
		c.failStream(err)
		return fmt.Errorf("send segment %d: %w", seg.Seq, err)
	}

	c.trackSegment(seg.Seq)
	return nil
}

func (c *Client) writeSegment(seg *audio.Segment) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("no backend connection")
	}

	if err := c.conn.WriteJSON(beginSegmentMessage{Message: msgBeginSegment, SegmentID: seg.Seq}); err != nil {
		return err
	}

	chunkSize := c.config.ChunkSizeBytes
	if chunkSize <= 0 {
		chunkSize = 8192
	}
	for offset := 0; offset < len(seg.PCM); offset += chunkSize {
		end := offset + chunkSize
		if end > len(seg.PCM) {
			end = len(seg.PCM)
		}
		if err := c.conn.WriteMessage(websocket.BinaryMessage, seg.PCM[offset:end]); err != nil {
			return err
		}
	}
	observability.RecordBackendAudioBytes(len(seg.PCM))

	return c.conn.WriteJSON(endOfSegmentMessage{Message: msgEndOfSegment, SegmentID: seg.Seq})
}

// trackSegment registers a watchdog that fails the segment if no final
// arrives within the segment timeout.
func (c *Client) trackSegment(seq uint64) {
	entry := &inFlightSegment{
		sentAt: time.Now(),
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.inFlight[seq] = entry
	c.mu.Unlock()

	timeout := time.Duration(c.config.SegmentTimeoutSeconds) * time.Second
	go func() {
		select {
		case <-entry.done:
			return
		case <-c.ctx.Done():
			return
		case <-time.After(timeout):
		}

		c.mu.Lock()
		current, ok := c.inFlight[seq]
		if !ok || current != entry {
			c.mu.Unlock()
			return
		}
		delete(c.inFlight, seq)
		c.mu.Unlock()

		log.Warn().Uint64("segment_id", seq).Dur("timeout", timeout).Msg("Segment timed out waiting for final")
		c.emit(&Result{
			SegmentID: seq,
			IsFinal:   true,
			Latency:   time.Since(entry.sentAt),
			Err:       ErrSegmentTimeout,
		})
	}()
}

// readLoop consumes backend events for one connection. A read error fails
// the stream and every in-flight segment; the next SendSegment reopens.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var event backendEvent
		if err := conn.ReadJSON(&event); err != nil {
			c.mu.Lock()
			stale := c.conn != conn
			c.mu.Unlock()
			if stale || c.ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("Backend stream read failed")
			c.failStream(err)
			return
		}

		switch event.Message {
		case msgRecognitionStarted:
			log.Debug().Msg("Backend acknowledged recognition start")

		case msgPartial:
			c.mu.Lock()
			entry, ok := c.inFlight[event.SegmentID]
			c.mu.Unlock()
			if !ok {
				// Final already delivered (or timed out); stale partial
				continue
			}
			c.emit(&Result{
				SegmentID:  event.SegmentID,
				Text:       event.Transcript,
				Confidence: event.Confidence,
				IsFinal:    false,
				Latency:    time.Since(entry.sentAt),
			})

		case msgFinal:
			c.mu.Lock()
			entry, ok := c.inFlight[event.SegmentID]
			if ok {
				delete(c.inFlight, event.SegmentID)
				close(entry.done)
			}
			c.mu.Unlock()
			if !ok {
				continue
			}
			c.emit(&Result{
				SegmentID:  event.SegmentID,
				Text:       event.Transcript,
				Words:      event.Words,
				Confidence: event.Confidence,
				IsFinal:    true,
				Latency:    time.Since(entry.sentAt),
			})

		case msgError:
			c.handleBackendError(&event)

		default:
			log.Warn().Str("message", event.Message).Msg("Unknown backend event")
		}
	}
}

func (c *Client) handleBackendError(event *backendEvent) {
	if event.SegmentID == 0 {
		log.Error().Str("error", event.Error).Msg("Backend stream error")
		return
	}

	c.mu.Lock()
	entry, ok := c.inFlight[event.SegmentID]
	if ok {
		delete(c.inFlight, event.SegmentID)
		close(entry.done)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	c.emit(&Result{
		SegmentID: event.SegmentID,
		IsFinal:   true,
		Latency:   time.Since(entry.sentAt),
		Err:       fmt.Errorf("backend rejected segment: %s", event.Error),
	})
}

// failStream tears down the current connection and reports every
// in-flight segment failed. Segments are never resubmitted.
func (c *Client) failStream(cause error) {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.state != StateClosing {
		c.state = StateFailed
	}
	failed := c.inFlight
	c.inFlight = make(map[uint64]*inFlightSegment)
	c.mu.Unlock()

	for seq, entry := range failed {
		close(entry.done)
		c.emit(&Result{
			SegmentID: seq,
			IsFinal:   true,
			Latency:   time.Since(entry.sentAt),
			Err:       fmt.Errorf("stream failed before final: %w", cause),
		})
	}
}

func (c *Client) emit(r *Result) {
	select {
	case c.results <- r:
	case <-c.ctx.Done():
	}
}

// Results returns the channel recognition events are delivered on
func (c *Client) Results() <-chan *Result {
	return c.results
}

// State returns the current stream state
func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close tears down the stream and releases resources
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosing
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()

		if conn != nil {
			conn.WriteJSON(endOfStreamMessage{Message: msgEndOfStream})
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
		}

		c.cancel()

		// Let pending reads finish before the channel goes away
		go func() {
			time.Sleep(100 * time.Millisecond)
			close(c.results)
		}()
	})
	return nil
}
