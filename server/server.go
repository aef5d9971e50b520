package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"example.com/live_transcriber/pkg/config"
	"example.com/live_transcriber/pkg/logger"
	"example.com/live_transcriber/pkg/store"
)

// Server holds the dependencies shared by every request.
type Server struct {
	cfg      *config.Config
	store    store.Store
	log      *logger.Logger
	sessions *SessionRegistry
	upgrader websocket.Upgrader
}

// NewServer wires a Server from loaded configuration and an open store.
func NewServer(cfg *config.Config, st store.Store, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		cfg:      cfg,
		store:    st,
		log:      log,
		sessions: NewSessionRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Sessions returns the live session registry.
func (s *Server) Sessions() *SessionRegistry {
	return s.sessions
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.log.WithComponent("http")))

	r.GET("/health", s.handleHealth)
	r.POST("/recordings", s.handleCreateRecording)
	r.GET("/recordings/:id", s.handleGetRecording)
	r.GET("/ws/transcription", s.handleTranscription)
	return r
}
