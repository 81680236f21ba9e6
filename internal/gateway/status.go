package gateway

import (
	"encoding/json"
	"net/http"
	"time"
)

// StatusSnapshot is the read-only /status payload.
type StatusSnapshot struct {
	ActiveConnections int                `json:"active_connections"`
	MaxConnections    int                `json:"max_connections"`
	Connections       []ConnectionStatus `json:"connections"`
	Timestamp         string             `json:"timestamp"`
}

// ConnectionStatus describes one live connection.
type ConnectionStatus struct {
	ID            string  `json:"id"`
	State         string  `json:"state"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// Snapshot captures the current connection set.
func (g *Gateway) Snapshot() StatusSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	snapshot := StatusSnapshot{
		ActiveConnections: len(g.conns),
		MaxConnections:    g.config.MaxConnections,
		Connections:       make([]ConnectionStatus, 0, len(g.conns)),
		Timestamp:         time.Now().UTC().Format(time.RFC3339),
	}

	for _, info := range g.conns {
		state := "connecting"
		if info.sess != nil {
			state = info.sess.State().String()
		}
		snapshot.Connections = append(snapshot.Connections, ConnectionStatus{
			ID:            info.id,
			State:         state,
			UptimeSeconds: time.Since(info.startedAt).Seconds(),
		})
	}

	return snapshot
}

// StatusHandler serves the read-only status snapshot
func (g *Gateway) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(g.Snapshot())
	}
}
