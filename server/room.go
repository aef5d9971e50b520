package main

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"example.com/live_transcriber/pkg/transcription"
)

// SessionRegistry maps live client connections to their sessions.
type SessionRegistry struct {
	sessions map[*websocket.Conn]*transcription.Session
	mu       sync.RWMutex
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[*websocket.Conn]*transcription.Session),
	}
}

// Add registers the session for conn.
func (r *SessionRegistry) Add(conn *websocket.Conn, session *transcription.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[conn] = session
}

// Remove drops conn from the registry.
func (r *SessionRegistry) Remove(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, conn)
}

// Get returns the session for conn, if any.
func (r *SessionRegistry) Get(conn *websocket.Conn) (*transcription.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[conn]
	return s, ok
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// StopAll finalizes every live session and closes its connection. Used on
// shutdown, since hijacked connections outlive http.Server.Shutdown.
func (r *SessionRegistry) StopAll(ctx context.Context) {
	r.mu.RLock()
	live := make(map[*websocket.Conn]*transcription.Session, len(r.sessions))
	for conn, s := range r.sessions {
		live[conn] = s
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for conn, s := range live {
		conn, s := conn, s
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Stop(ctx)
			conn.Close()
		}()
	}
	wg.Wait()
}
