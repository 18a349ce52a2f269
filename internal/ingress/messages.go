package ingress

// Client control events arrive as websocket text frames
const (
	EventStart = "start"
	EventStop  = "stop"
)

// Server events are written as text frames
const (
	EventStarted   = "started"
	EventAssistant = "assistant"
	EventStopped   = "stopped"
	EventError     = "error"
)

// Sample encodings accepted on binary frames
const (
	EncodingPCM16   = "pcm16"
	EncodingFloat32 = "float32"
)

// ControlMessage is a client text frame
type ControlMessage struct {
	Type         string   `json:"type"`
	MeetingID    string   `json:"meeting_id,omitempty"`
	Participants []string `json:"participants,omitempty"`

	// Encoding of the binary frames that follow; pcm16 when empty
	Encoding string `json:"encoding,omitempty"`

	// SampleRate of the client audio; the server rate when zero
	SampleRate int `json:"sample_rate,omitempty"`
}

// ServerEvent is a server text frame
type ServerEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text,omitempty"`
	Error     string `json:"error,omitempty"`
}
