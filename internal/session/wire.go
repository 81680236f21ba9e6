package session

import "github.com/voxbridge/asr-gateway/internal/asr"

// Client wire contract. Field names are load-bearing: the browser client
// matches on them exactly.

// ControlMessage is any inbound text-frame message from the client.
type ControlMessage struct {
	Type            string         `json:"type"` // start_recording, stop_recording, configure, ping
	Config          *ControlConfig `json:"config,omitempty"`
	VADThreshold    float64        `json:"vad_threshold,omitempty"`
	SilenceDuration float64        `json:"silence_duration,omitempty"` // seconds
}

// ControlConfig carries client-declared audio parameters on start_recording.
type ControlConfig struct {
	SampleRate int `json:"sample_rate"`
}

// WelcomeMessage is sent once immediately after the WebSocket upgrade.
type WelcomeMessage struct {
	Type            string `json:"type"` // "connection"
	ClientID        string `json:"client_id"`
	ProtocolVersion string `json:"protocol_version"`
}

// RecordingConfig echoes the effective audio contract back to the client.
type RecordingConfig struct {
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Encoding   string `json:"encoding"`
}

// RecordingStartedMessage acknowledges start_recording.
type RecordingStartedMessage struct {
	Type   string          `json:"type"` // "recording_started"
	Config RecordingConfig `json:"config"`
}

// RecordingStoppedMessage is the end-of-recording summary.
type RecordingStoppedMessage struct {
	Type            string  `json:"type"` // "recording_stopped"
	FinalTranscript string  `json:"final_transcript"`
	TotalDuration   float64 `json:"total_duration"` // seconds
	TotalSegments   int     `json:"total_segments"`
}

// PartialMessage is an interim hypothesis for an unsealed or in-flight segment.
type PartialMessage struct {
	Type      string `json:"type"` // "partial"
	SegmentID uint64 `json:"segment_id"`
	Text      string `json:"text"`
	IsFinal   bool   `json:"is_final"` // always false
}

// TranscriptionMessage is the final recognition result for one segment.
type TranscriptionMessage struct {
	Type             string     `json:"type"` // "transcription"
	SegmentID        uint64     `json:"segment_id"`
	Text             string     `json:"text"`
	IsFinal          bool       `json:"is_final"` // always true
	Words            []asr.Word `json:"words"`
	ProcessingTimeMs float64    `json:"processing_time_ms"`
}

// ErrorMessage reports an error to the client without closing the connection
// unless the producer decides otherwise.
type ErrorMessage struct {
	Type  string `json:"type"` // "error"
	Error string `json:"error"`
}

// ConfiguredMessage acknowledges a configure message with the effective values.
type ConfiguredMessage struct {
	Type   string           `json:"type"` // "configured"
	Config ConfiguredValues `json:"config"`
}

// ConfiguredValues are the live-tunable detection parameters.
type ConfiguredValues struct {
	VADThreshold    float64 `json:"vad_threshold"`
	SilenceDuration float64 `json:"silence_duration"` // seconds
}

// PongMessage answers a ping.
type PongMessage struct {
	Type string `json:"type"` // "pong"
}

const (
	TypeStartRecording = "start_recording"
	TypeStopRecording  = "stop_recording"
	TypeConfigure      = "configure"
	TypePing           = "ping"

	TypeConnection       = "connection"
	TypeRecordingStarted = "recording_started"
	TypeRecordingStopped = "recording_stopped"
	TypePartial          = "partial"
	TypeTranscription    = "transcription"
	TypeError            = "error"
	TypeConfigured       = "configured"
	TypePong             = "pong"
)
