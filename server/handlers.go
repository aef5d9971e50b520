package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"example.com/live_transcriber/pkg/deepgram"
	"example.com/live_transcriber/pkg/logger"
	"example.com/live_transcriber/pkg/transcription"
)

// handleTranscription upgrades the request and runs one transcription session
// for the lifetime of the connection.
func (s *Server) handleTranscription(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("WebSocket upgrade failed", map[string]interface{}{"error": err})
		return
	}
	defer conn.Close()

	client := newClientConn(uuid.NewString(), conn)
	log := s.log.WithComponent("ws").WithFields(map[string]interface{}{logger.FieldConnID: client.ID})
	log.Info("Client connected", map[string]interface{}{"remote": conn.RemoteAddr().String()})

	recordingID, err := s.readInit(conn)
	if err != nil {
		log.Warn("Rejecting connection", map[string]interface{}{"error": err})
		client.CloseWith(websocket.ClosePolicyViolation, "recordingId is required")
		return
	}
	log = log.WithRecording(recordingID)

	link := deepgram.NewClient(s.cfg.Deepgram, recordingID, s.log)
	session := transcription.New(transcription.Options{
		RecordingID:   recordingID,
		Link:          link,
		Store:         s.store,
		Client:        client,
		RecordingsDir: s.cfg.Session.RecordingsDir,
		Logger:        s.log,
	})

	ctx := c.Request.Context()
	s.sessions.Add(conn, session)
	defer func() {
		session.Stop(context.WithoutCancel(ctx))
		s.sessions.Remove(conn)
		if err := client.CloseWith(websocket.CloseNormalClosure, "session ended"); err != nil {
			log.Debug("Close frame not delivered", map[string]interface{}{"error": err})
		}
		log.Info("Client disconnected")
	}()

	// A failed start has already been reported to the client. The connection
	// stays open so the client decides when to leave.
	_ = session.Start(ctx)

	s.readLoop(conn, session, log)
}

// readInit waits for the init frame and returns its recording id.
func (s *Server) readInit(conn *websocket.Conn) (string, error) {
	conn.SetReadDeadline(time.Now().Add(s.cfg.Session.InitTimeout))
	defer conn.SetReadDeadline(time.Time{})

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("read init message: %w", err)
	}
	if msgType != websocket.TextMessage {
		return "", fmt.Errorf("init message must be text")
	}

	var msg InitMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", fmt.Errorf("decode init message: %w", err)
	}
	id := strings.TrimSpace(msg.RecordingID)
	if id == "" {
		return "", fmt.Errorf("init message has no recordingId")
	}
	return id, nil
}

// readLoop dispatches client frames until the client stops or disconnects.
func (s *Server) readLoop(conn *websocket.Conn, session *transcription.Session, log *logger.Logger) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Warn("WebSocket read error", map[string]interface{}{"error": err})
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			session.HandleAudioChunk(data)

		case websocket.TextMessage:
			var msg ClientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Debug("Ignoring unparseable text frame", map[string]interface{}{"error": err})
				continue
			}
			if msg.Type == TypeStop {
				log.Info("Client requested stop")
				return
			}
		}
	}
}
