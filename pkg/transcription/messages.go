package transcription

import "example.com/live_transcriber/pkg/stt"

// Server-to-client message types.
const (
	TypeTranscriptUpdate = "transcript_update"
	TypeSessionEnded     = "session_ended"
	TypeError            = "error"
)

// TranscriptUpdate relays one transcript event. The event's fields are
// flattened into the message.
type TranscriptUpdate struct {
	Type         string `json:"type"`
	RecordingID  string `json:"recordingId"`
	SegmentIndex int    `json:"segmentIndex"`
	stt.TranscriptEvent
}

// SessionEnded announces that the recording has been finalized.
type SessionEnded struct {
	Type        string `json:"type"`
	RecordingID string `json:"recordingId"`
	Reason      string `json:"reason"`
}

// ErrorMessage reports a session fault to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Client-facing error messages.
const (
	msgStartFailed    = "Failed to start transcription service."
	msgProcessFailed  = "Error processing transcript."
	msgFinalizeFailed = "Error finalizing recording."
	reasonCompleted   = "Transcription completed"
)

// ClientSink delivers JSON messages to the connected client.
type ClientSink interface {
	SendJSON(v any) error
}
