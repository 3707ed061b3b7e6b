package session

// Envelope is the tagged JSON message exchanged on the voice channel,
// both directions. Only the fields relevant to a given type are set.
type Envelope struct {
	// Type discriminates the message.
	Type string `json:"type"`

	// Data carries base64 little-endian PCM16 mono audio at the wire
	// rate, for "audio" messages.
	Data string `json:"data,omitempty"`

	// Text carries transcript content for "transcript" and
	// "user_transcript" messages.
	Text string `json:"text,omitempty"`

	// Message carries the description for "error" messages.
	Message string `json:"message,omitempty"`
}

// Message types. Client sends only MsgAudio; the rest arrive from the
// server. Unknown types are ignored, not fatal.
const (
	MsgAudio           = "audio"
	MsgTranscript      = "transcript"
	MsgTranscriptDone  = "transcript_done"
	MsgUserTranscript  = "user_transcript"
	MsgSpeechStarted   = "speech_started"
	MsgSpeechStopped   = "speech_stopped"
	MsgResponseCreated = "response_created"
	MsgResponseDone    = "response_done"
	MsgConnected       = "connected"
	MsgError           = "error"
)
