package asr

// Backend wire protocol: a JSON control channel multiplexed with binary
// audio frames over a single WebSocket. The bridge opens a recognition
// stream with start_recognition, streams each segment's PCM as binary
// frames, and marks the segment boundary with end_of_segment. The backend
// answers with partial and final events tagged by segment_id.

type startRecognitionMessage struct {
	Message        string             `json:"message"` // "start_recognition"
	AudioFormat    backendAudioFormat `json:"audio_format"`
	Language       string             `json:"language"`
	EnablePartials bool               `json:"enable_partials"`
}

type backendAudioFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type beginSegmentMessage struct {
	Message   string `json:"message"` // "begin_segment"
	SegmentID uint64 `json:"segment_id"`
}

type endOfSegmentMessage struct {
	Message   string `json:"message"` // "end_of_segment"
	SegmentID uint64 `json:"segment_id"`
}

type endOfStreamMessage struct {
	Message string `json:"message"` // "end_of_stream"
}

// backendEvent is any inbound event from the backend.
type backendEvent struct {
	Message    string  `json:"message"` // "recognition_started", "partial", "final", "error"
	SegmentID  uint64  `json:"segment_id,omitempty"`
	Transcript string  `json:"transcript,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Words      []Word  `json:"words,omitempty"`
	Error      string  `json:"error,omitempty"`
}

const (
	msgStartRecognition   = "start_recognition"
	msgBeginSegment       = "begin_segment"
	msgEndOfSegment       = "end_of_segment"
	msgEndOfStream        = "end_of_stream"
	msgRecognitionStarted = "recognition_started"
	msgPartial            = "partial"
	msgFinal              = "final"
	msgError              = "error"
)
