package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultExtension matches the container browsers' MediaRecorder produces.
const DefaultExtension = ".webm"

// FileSink writes opaque audio chunks to a file. The file is created on the
// first Write, so a session that never receives audio leaves no artifact.
type FileSink struct {
	path string

	mu      sync.Mutex
	file    *os.File
	written int64
	closed  bool
}

// NewFileSink returns a sink for <dir>/<recordingID><DefaultExtension>.
func NewFileSink(dir, recordingID string) *FileSink {
	return &FileSink{
		path: filepath.Join(dir, SafeName(recordingID)+DefaultExtension),
	}
}

// SafeName maps an arbitrary id onto a single path element. Ids made only of
// [A-Za-z0-9_-] are kept as is; any other id is rewritten and suffixed with a
// hash of the original so distinct ids never share a file.
func SafeName(id string) string {
	rewritten := false
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			rewritten = true
			return '_'
		}
	}, id)
	if name != "" && !rewritten {
		return name
	}
	return fmt.Sprintf("%s-%016x", name, xxhash.Sum64String(id))
}

// Path returns the artifact location.
func (s *FileSink) Path() string {
	return s.path
}

// Write appends one chunk, creating the file and its directory on first use.
func (s *FileSink) Write(chunk []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, os.ErrClosed
	}
	if s.file == nil {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return 0, fmt.Errorf("create recordings dir: %w", err)
		}
		f, err := os.Create(s.path)
		if err != nil {
			return 0, fmt.Errorf("create audio file: %w", err)
		}
		s.file = f
	}

	n, err := s.file.Write(chunk)
	s.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("write audio: %w", err)
	}
	return n, nil
}

// Opened reports whether the file was ever created.
func (s *FileSink) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file != nil
}

// BytesWritten returns the total bytes written.
func (s *FileSink) BytesWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Close flushes and closes the file. Safe to call more than once.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.file == nil {
		return nil
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close audio file: %w", err)
	}
	return nil
}
