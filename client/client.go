// Package client is a Go client for the live transcription relay.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"example.com/live_transcriber/pkg/logger"
	"example.com/live_transcriber/pkg/transcription"
)

// TranscriptCallback is called for every transcript update.
type TranscriptCallback func(update transcription.TranscriptUpdate)

// SessionEndedCallback is called once the recording is finalized.
type SessionEndedCallback func(msg transcription.SessionEnded)

// ErrorCallback is called when the server reports a session fault.
type ErrorCallback func(message string)

// Client streams audio to the relay and receives transcript updates.
type Client struct {
	ServerURL   string
	RecordingID string

	conn *websocket.Conn
	log  *logger.Logger

	onTranscript   TranscriptCallback
	onSessionEnded SessionEndedCallback
	onError        ErrorCallback

	mu        sync.Mutex
	writeMu   sync.Mutex // separate mutex for WebSocket writes
	connected bool
	done      chan struct{}
}

// NewClient creates a client for the relay's WebSocket endpoint, for example
// ws://localhost:5000/ws/transcription.
func NewClient(serverURL string, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		ServerURL: serverURL,
		log:       log.WithComponent("client"),
		done:      make(chan struct{}),
	}
}

// OnTranscript sets the transcript update callback. Set callbacks before
// Connect.
func (c *Client) OnTranscript(callback TranscriptCallback) {
	c.onTranscript = callback
}

// OnSessionEnded sets the session ended callback.
func (c *Client) OnSessionEnded(callback SessionEndedCallback) {
	c.onSessionEnded = callback
}

// OnError sets the error callback.
func (c *Client) OnError(callback ErrorCallback) {
	c.onError = callback
}

// Connect dials the relay and binds the connection to recordingID.
func (c *Client) Connect(ctx context.Context, recordingID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return fmt.Errorf("already connected")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.ServerURL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	c.conn = conn
	c.RecordingID = recordingID

	if err := c.writeJSON(map[string]string{"recordingId": recordingID}); err != nil {
		conn.Close()
		return fmt.Errorf("send init message: %w", err)
	}

	c.connected = true
	go c.handleMessages()

	c.log.Info("Connected", map[string]interface{}{logger.FieldRecordingID: recordingID})
	return nil
}

// SendAudio sends one binary audio chunk.
func (c *Client) SendAudio(chunk []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

// Stop asks the server to finalize the recording. The session_ended message
// follows.
func (c *Client) Stop() error {
	return c.writeJSON(map[string]string{"type": "stop"})
}

// Done is closed when the server closes the connection.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the connection ends or ctx is done.
func (c *Client) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the connection without asking the server to stop first.
// The server still finalizes the recording.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil
	}
	c.connected = false

	c.writeMu.Lock()
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()

	c.log.Info("Disconnected")
	return c.conn.Close()
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteJSON(v)
}

func (c *Client) handleMessages() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn("Read error", map[string]interface{}{"error": err})
			}
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			return
		}

		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			c.log.Debug("Ignoring unparseable message", map[string]interface{}{"error": err})
			continue
		}

		switch envelope.Type {
		case transcription.TypeTranscriptUpdate:
			var msg transcription.TranscriptUpdate
			if err := json.Unmarshal(data, &msg); err == nil && c.onTranscript != nil {
				c.onTranscript(msg)
			}
		case transcription.TypeSessionEnded:
			var msg transcription.SessionEnded
			if err := json.Unmarshal(data, &msg); err == nil && c.onSessionEnded != nil {
				c.onSessionEnded(msg)
			}
		case transcription.TypeError:
			var msg transcription.ErrorMessage
			if err := json.Unmarshal(data, &msg); err == nil {
				c.log.Warn("Server reported an error", map[string]interface{}{"message": msg.Message})
				if c.onError != nil {
					c.onError(msg.Message)
				}
			}
		}
	}
}

// CreateRecording registers a new recording over the relay's HTTP API and
// returns its id. baseURL is the HTTP origin, for example
// http://localhost:5000.
func CreateRecording(ctx context.Context, baseURL, userID, language string) (string, error) {
	body, err := json.Marshal(map[string]string{"userId": userID, "language": language})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(baseURL, "/")+"/recordings", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create recording: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create recording: unexpected status %d", resp.StatusCode)
	}

	var out struct {
		RecordingID string `json:"recordingId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode create recording response: %w", err)
	}
	return out.RecordingID, nil
}
