package main

// Client-to-server text frame types.
const (
	TypeStop = "stop"
)

// InitMessage is the first frame a client sends, binding the connection to a
// recording.
type InitMessage struct {
	RecordingID string `json:"recordingId"`
}

// ClientMessage is any later text frame from the client.
type ClientMessage struct {
	Type string `json:"type"`
}
