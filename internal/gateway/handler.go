package gateway

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxbridge/asr-gateway/internal/asr"
	"github.com/voxbridge/asr-gateway/internal/audio"
	"github.com/voxbridge/asr-gateway/internal/config"
	"github.com/voxbridge/asr-gateway/internal/observability"
	"github.com/voxbridge/asr-gateway/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Browser clients connect from arbitrary origins; auth happens
		// elsewhere. Tighten per deployment if needed.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

const writeTimeout = 10 * time.Second

// Gateway accepts client WebSocket connections, enforces connection
// limits, and bridges each connection to its transcription session.
type Gateway struct {
	config *config.Config

	mu    sync.Mutex
	conns map[string]*connectionInfo
}

type connectionInfo struct {
	id        string
	startedAt time.Time
	sess      *session.Session
}

// New creates a gateway
func New(cfg *config.Config) *Gateway {
	return &Gateway{
		config: cfg,
		conns:  make(map[string]*connectionInfo),
	}
}

// newRecognitionClient builds the backend client for one connection.
func (g *Gateway) newRecognitionClient() asr.StreamClient {
	if g.config.BackendMode == "synthetic" {
		return asr.NewSynthetic()
	}
	return asr.NewClient(g.config)
}

// HandleWS is the main entry point for client WebSocket connections
func (g *Gateway) HandleWS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			l := observability.GetLogger()
			l.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}
		defer conn.Close()

		connectionID := observability.NewCorrelationID()
		logger := observability.WithConnectionID(connectionID)

		if !g.tryRegister(connectionID) {
			// Over the limit: say why, then close
			observability.RecordConnectionRejected()
			logger.Warn().Int("max_connections", g.config.MaxConnections).Msg("Connection refused, limit reached")
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			conn.WriteJSON(session.ErrorMessage{Type: session.TypeError, Error: "server at connection capacity"})
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "connection limit reached"))
			return
		}

		metrics := observability.NewConnectionMetrics(connectionID)
		metrics.RecordConnectionStart()

		sess := session.New(connectionID, g.config, g.newRecognitionClient(), logger, metrics)

		g.attachSession(connectionID, sess)
		defer func() {
			sess.Close()
			g.unregister(connectionID)
			metrics.RecordConnectionEnd()
			logger.Info().Msg("Connection closed")
		}()

		conn.SetReadLimit(int64(g.config.MaxMessageSizeMB) * 1024 * 1024)

		// Welcome goes out before the writer starts, so there is always
		// exactly one goroutine writing to the socket
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(session.WelcomeMessage{
			Type:            session.TypeConnection,
			ClientID:        connectionID,
			ProtocolVersion: config.ProtocolVersion,
		}); err != nil {
			logger.Warn().Err(err).Msg("Failed to send welcome message")
			return
		}

		logger.Info().Msg("Client connected")

		gwOut := make(chan interface{}, 8)
		writerDone := make(chan struct{})
		go g.writeLoop(conn, sess, gwOut, logger, writerDone)

		g.readLoop(conn, sess, gwOut, logger, metrics)

		sess.Close()
		<-writerDone
	}
}

// readLoop demuxes inbound frames: text frames carry control messages,
// binary frames carry audio. Binary frames that start with '{' are
// treated as control, some clients ship JSON over binary.
func (g *Gateway) readLoop(conn *websocket.Conn, sess *session.Session, gwOut chan<- interface{}, logger zerolog.Logger, metrics *observability.Metrics) {
	idle := time.Duration(g.config.IdleTimeoutSeconds) * time.Second

	for {
		conn.SetReadDeadline(time.Now().Add(idle))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// Tell the client why before tearing down
				logger.Info().Dur("idle", idle).Msg("Closing idle connection")
				metrics.RecordError("idle_timeout", "gateway")
				select {
				case gwOut <- session.ErrorMessage{Type: session.TypeError, Error: "idle timeout, no audio or control messages received"}:
				default:
				}
				time.Sleep(50 * time.Millisecond)
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		switch msgType {
		case websocket.TextMessage:
			g.handleControl(sess, data, logger, metrics)

		case websocket.BinaryMessage:
			if len(data) > 0 && data[0] == '{' {
				g.handleControl(sess, data, logger, metrics)
				continue
			}
			if err := sess.HandleAudio(data); err != nil {
				// Format violations are fatal for the connection
				logger.Error().Err(err).Int("bytes", len(data)).Msg("Rejecting connection, invalid audio frame")
				metrics.RecordError("format", "gateway")
				if err == audio.ErrFormat {
					select {
					case gwOut <- session.ErrorMessage{Type: session.TypeError, Error: "invalid audio format, expected 16-bit little-endian PCM"}:
					default:
					}
					// Let the writer flush the error before teardown
					time.Sleep(50 * time.Millisecond)
				}
				return
			}
		}
	}
}

// handleControl parses one control message. Malformed JSON is a protocol
// error: logged and ignored, the connection continues.
func (g *Gateway) handleControl(sess *session.Session, data []byte, logger zerolog.Logger, metrics *observability.Metrics) {
	var msg session.ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warn().Err(err).Int("bytes", len(data)).Msg("Malformed control message, ignoring")
		metrics.RecordError("protocol", "gateway")
		return
	}
	sess.HandleControl(&msg)
}

// writeLoop is the single writer for one connection. It relays session
// envelopes, gateway-level errors, and enforces the session duration cap.
func (g *Gateway) writeLoop(conn *websocket.Conn, sess *session.Session, gwOut <-chan interface{}, logger zerolog.Logger, done chan<- struct{}) {
	defer close(done)

	maxSession := time.NewTimer(time.Duration(g.config.MaxSessionSeconds) * time.Second)
	defer maxSession.Stop()

	for {
		select {
		case env := <-gwOut:
			if !g.write(conn, env, logger) {
				return
			}

		case env := <-sess.Out():
			if !g.write(conn, env, logger) {
				return
			}

		case <-sess.Done():
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-maxSession.C:
			logger.Info().Int("max_session_seconds", g.config.MaxSessionSeconds).Msg("Session duration limit reached")
			g.write(conn, session.ErrorMessage{Type: session.TypeError, Error: "maximum session duration reached"}, logger)
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session duration limit"))
			conn.Close()
			return
		}
	}
}

func (g *Gateway) write(conn *websocket.Conn, env interface{}, logger zerolog.Logger) bool {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(env); err != nil {
		logger.Warn().Err(err).Msg("WebSocket write failed")
		return false
	}
	return true
}

// tryRegister reserves a connection slot, refusing over the limit.
func (g *Gateway) tryRegister(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.conns) >= g.config.MaxConnections {
		return false
	}
	g.conns[id] = &connectionInfo{id: id, startedAt: time.Now()}
	return true
}

func (g *Gateway) attachSession(id string, sess *session.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if info, ok := g.conns[id]; ok {
		info.sess = sess
	}
}

func (g *Gateway) unregister(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, id)
}

// ActiveConnections returns the current connection count
func (g *Gateway) ActiveConnections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}
