package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"example.com/live_transcriber/pkg/errors"
	"example.com/live_transcriber/pkg/logger"
	"example.com/live_transcriber/pkg/stt"
)

const (
	// DefaultURL is Deepgram's streaming endpoint.
	DefaultURL = "wss://api.deepgram.com/v1/listen"

	providerName = "deepgram"

	// Close frame payloads are limited to 125 bytes, two of which hold the code.
	maxCloseReason = 123
)

// ErrLinkClosed is returned by SendAudio when the link is not connected.
var ErrLinkClosed = stt.ErrLinkClosed

// Config holds Deepgram connection settings.
type Config struct {
	APIKey           string        `mapstructure:"api_key" validate:"required"`
	URL              string        `mapstructure:"url" validate:"required,url"`
	Encoding         string        `mapstructure:"encoding" validate:"required"`
	SampleRate       int           `mapstructure:"sample_rate" validate:"gt=0"`
	Channels         int           `mapstructure:"channels" validate:"gt=0"`
	Punctuate        bool          `mapstructure:"punctuate"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// EventBuffer bounds the queue between the listen loop and its consumer.
	EventBuffer int `mapstructure:"event_buffer" validate:"gt=0"`
	// DrainTimeout bounds how long Close waits for results the provider
	// flushes after CloseStream.
	DrainTimeout time.Duration `mapstructure:"drain_timeout"`
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Encoding == "" {
		c.Encoding = "opus"
	}
	if c.SampleRate == 0 {
		c.SampleRate = 48000
	}
	if c.Channels == 0 {
		c.Channels = 1
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = 64
	}
	if c.DrainTimeout == 0 {
		c.DrainTimeout = 2 * time.Second
	}
}

// State is the lifecycle position of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// Client is a Deepgram streaming link bound to one recording.
type Client struct {
	cfg         Config
	recordingID string
	log         *logger.Logger

	// mu guards conn, state and listening and serializes writes on conn.
	mu        sync.Mutex
	conn      *websocket.Conn
	state     State
	listening bool

	events     chan stt.TranscriptEvent
	listenOnce sync.Once
	listenDone chan struct{}
}

var _ stt.Link = (*Client)(nil)

// NewClient creates a new Deepgram client for a recording.
func NewClient(cfg Config, recordingID string, log *logger.Logger) *Client {
	cfg.ApplyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Client{
		cfg:         cfg,
		recordingID: recordingID,
		log:         log.WithComponent(providerName).WithRecording(recordingID),
		events:      make(chan stt.TranscriptEvent, cfg.EventBuffer),
		listenDone:  make(chan struct{}),
	}
}

// ListenURL returns the streaming URL with the fixed query parameters.
func (c *Client) ListenURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse deepgram url: %w", err)
	}
	q := u.Query()
	q.Set("encoding", c.cfg.Encoding)
	q.Set("sample_rate", strconv.Itoa(c.cfg.SampleRate))
	q.Set("channels", strconv.Itoa(c.cfg.Channels))
	q.Set("interim_results", "true")
	q.Set("word_timestamps", "true")
	q.Set("punctuate", strconv.FormatBool(c.cfg.Punctuate))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect establishes the WebSocket connection to Deepgram. A link that has
// been closed cannot be reconnected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateConnected:
		return nil
	case StateDisconnected:
	default:
		return errors.UpstreamConnect(providerName, ErrLinkClosed)
	}
	c.state = StateConnecting

	listenURL, err := c.ListenURL()
	if err != nil {
		c.state = StateClosed
		return errors.UpstreamConnect(providerName, err)
	}

	header := http.Header{}
	header.Set("Authorization", "Token "+c.cfg.APIKey)

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, listenURL, header)
	if err != nil {
		c.state = StateClosed
		appErr := errors.UpstreamConnect(providerName, err)
		if resp != nil {
			appErr.WithDetail("status", resp.StatusCode)
		}
		c.log.Error("Connection failed", map[string]interface{}{"error": err})
		return appErr
	}

	c.conn = conn
	c.state = StateConnected
	c.log.Info("Connected to speech-to-text service")
	return nil
}

// SendAudio writes one binary audio frame. Audio sent while the link is not
// connected is dropped and ErrLinkClosed returned. A write fault marks the
// link closed.
func (c *Client) SendAudio(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.conn == nil {
		return ErrLinkClosed
	}

	if err := c.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		c.state = StateClosed
		c.conn.Close()
		c.log.Warn("Audio write failed, link marked closed", map[string]interface{}{"error": err})
		return errors.UpstreamTransport(providerName, err)
	}
	return nil
}

// Events returns the channel normalized events are delivered on.
func (c *Client) Events() <-chan stt.TranscriptEvent {
	return c.events
}

// Listen runs the listen loop. It returns on provider close, a provider Error
// message, a transport fault or ctx cancellation, and closes Events on return.
// Only the first call runs the loop.
func (c *Client) Listen(ctx context.Context) {
	c.listenOnce.Do(func() {
		defer close(c.listenDone)
		defer close(c.events)
		c.listen(ctx)
	})
}

func (c *Client) listen(ctx context.Context) {
	c.mu.Lock()
	conn, state := c.conn, c.state
	if state == StateConnected && conn != nil {
		c.listening = true
	}
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		c.log.Warn("Listen called but link is not connected", map[string]interface{}{"state": state.String()})
		return
	}
	defer c.markClosed()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || c.isShuttingDown() {
				c.log.Info("Connection closed", map[string]interface{}{"reason": err.Error()})
				return
			}
			c.log.Error("Read error", map[string]interface{}{"error": errors.UpstreamTransport(providerName, err)})
			return
		}

		if !c.handleMessage(ctx, message) {
			return
		}
	}
}

// handleMessage processes one provider frame and reports whether the loop
// should continue.
func (c *Client) handleMessage(ctx context.Context, message []byte) bool {
	var msgType MessageType
	if err := json.Unmarshal(message, &msgType); err != nil {
		c.log.Debug("Dropping malformed message", map[string]interface{}{"error": errors.MalformedEvent(err)})
		return true
	}

	switch msgType.Type {
	case TypeError:
		var e ErrorResponse
		_ = json.Unmarshal(message, &e)
		c.log.Error("Provider reported an error", map[string]interface{}{
			"description": e.Description,
			"message":     e.Message,
			"variant":     e.Variant,
		})
		return false
	case TypeMetadata:
		var m MetadataResponse
		if err := json.Unmarshal(message, &m); err == nil {
			c.log.Debug("Stream metadata", map[string]interface{}{"request_id": m.RequestID})
		}
		return true
	case TypeUtteranceEnd, TypeSpeechStarted:
		c.log.Debug("Speech activity", map[string]interface{}{"type": msgType.Type})
		return true
	}

	var resp TranscriptResponse
	if err := json.Unmarshal(message, &resp); err != nil {
		c.log.Debug("Dropping malformed transcript", map[string]interface{}{"error": errors.MalformedEvent(err)})
		return true
	}
	if resp.Channel == nil {
		return true
	}

	ev, ok := NormalizeResponse(&resp)
	if !ok {
		return true
	}

	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close sends CloseStream, waits up to DrainTimeout for the listen loop to
// deliver the results the provider flushes in response, then closes the
// transport. It is idempotent and always leaves the link closed.
func (c *Client) Close(reason string) error {
	c.mu.Lock()
	switch {
	case c.state == StateClosing:
		c.mu.Unlock()
		return nil
	case c.state != StateConnected || c.conn == nil:
		c.state = StateClosed
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosing
	conn, listening := c.conn, c.listening

	if err := conn.WriteMessage(websocket.TextMessage, closeStreamMessage); err != nil {
		c.log.Debug("CloseStream not delivered", map[string]interface{}{"error": err})
		listening = false
	}
	c.mu.Unlock()

	if listening {
		select {
		case <-c.listenDone:
		case <-time.After(c.cfg.DrainTimeout):
			c.log.Warn("Provider did not finish before drain timeout", map[string]interface{}{
				"drain_timeout": c.cfg.DrainTimeout.String(),
			})
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	reason = truncateReason(reason)
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	if err := conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second)); err != nil && err != websocket.ErrCloseSent {
		c.log.Debug("Close frame not delivered", map[string]interface{}{"error": err})
	}

	conn.Close()
	c.state = StateClosed
	c.log.Info("Disconnected", map[string]interface{}{"reason": reason})
	return nil
}

// truncateReason shortens reason to fit a close frame without splitting a
// UTF-8 sequence.
func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) isShuttingDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateClosing || c.state == StateClosed
}

func (c *Client) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnected {
		c.state = StateClosed
		c.conn.Close()
	}
}
