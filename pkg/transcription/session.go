// Package transcription runs one live transcription session: it forwards
// client audio to a speech-to-text link, relays transcript events back to the
// client, persists finalized segments and finalizes the recording on stop.
package transcription

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"example.com/live_transcriber/pkg/audio"
	"example.com/live_transcriber/pkg/errors"
	"example.com/live_transcriber/pkg/logger"
	"example.com/live_transcriber/pkg/store"
	"example.com/live_transcriber/pkg/stt"
)

const closeReason = "client requested close"

// Options configures a Session.
type Options struct {
	RecordingID   string
	Link          stt.Link
	Store         store.Store
	Client        ClientSink
	RecordingsDir string
	Logger        *logger.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Session is the per-connection state machine binding one client, one
// upstream link and one recording.
type Session struct {
	recordingID   string
	link          stt.Link
	store         store.Store
	client        ClientSink
	recordingsDir string
	log           *logger.Logger
	now           func() time.Time

	// audioMu guards the sink, the start time and stopped.
	audioMu   sync.Mutex
	sink      *audio.FileSink
	startedAt time.Time
	stopped   bool

	// indexMu guards segmentIndex. Only the consumer goroutine writes it.
	indexMu      sync.Mutex
	segmentIndex int

	// consumerDone is closed when the event consumer exits. Nil until Start
	// succeeds.
	consumerDone chan struct{}
	stopOnce     sync.Once
}

// New creates a Session. It does not touch the network.
func New(opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		recordingID:   opts.RecordingID,
		link:          opts.Link,
		store:         opts.Store,
		client:        opts.Client,
		recordingsDir: opts.RecordingsDir,
		log:           log.WithComponent("session").WithRecording(opts.RecordingID),
		now:           now,
	}
}

// RecordingID returns the recording this session is bound to.
func (s *Session) RecordingID() string {
	return s.recordingID
}

// SegmentIndex returns the index the next transcript update will carry.
func (s *Session) SegmentIndex() int {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	return s.segmentIndex
}

// Start connects the upstream link and begins relaying events. On failure the
// client is told and the session stays inert; Stop must still be called.
func (s *Session) Start(ctx context.Context) error {
	if err := s.link.Connect(ctx); err != nil {
		s.log.Error("Failed to start transcription", map[string]interface{}{"error": err})
		s.send(ErrorMessage{Type: TypeError, Message: msgStartFailed})
		return err
	}

	done := make(chan struct{})
	s.audioMu.Lock()
	s.consumerDone = done
	s.audioMu.Unlock()

	// Events must drain after the caller's context ends so Stop sees every
	// segment persisted.
	bg := context.WithoutCancel(ctx)
	go s.link.Listen(bg)
	go s.consume(bg, done)

	s.log.Info("Transcription started")
	return nil
}

func (s *Session) consume(ctx context.Context, done chan struct{}) {
	defer close(done)
	for ev := range s.link.Events() {
		s.onTranscriptEvent(ctx, ev)
	}
}

func (s *Session) onTranscriptEvent(ctx context.Context, ev stt.TranscriptEvent) {
	index := s.SegmentIndex()

	if ev.IsFinal {
		_, err := s.store.AppendSegment(ctx, s.recordingID, store.SegmentInput{
			Index:   index,
			Text:    ev.Transcript,
			Words:   ev.Words,
			Start:   ev.Start,
			End:     ev.End,
			IsFinal: true,
		})
		if err != nil {
			s.log.Error("Failed to persist segment", map[string]interface{}{
				"error":         errors.Persistence("append segment", err),
				"segment_index": index,
			})
			s.send(ErrorMessage{Type: TypeError, Message: msgProcessFailed})
		}
	}

	s.send(TranscriptUpdate{
		Type:            TypeTranscriptUpdate,
		RecordingID:     s.recordingID,
		SegmentIndex:    index,
		TranscriptEvent: ev,
	})

	if ev.SpeechFinal {
		s.indexMu.Lock()
		s.segmentIndex++
		s.indexMu.Unlock()
	}
}

// HandleAudioChunk tees one client audio chunk to the local artifact and the
// upstream link. Faults on either side are logged and never stop the other.
func (s *Session) HandleAudioChunk(chunk []byte) {
	s.audioMu.Lock()
	if s.stopped {
		s.audioMu.Unlock()
		return
	}
	if s.sink == nil {
		s.startedAt = s.now()
		s.sink = audio.NewFileSink(s.recordingsDir, s.recordingID)
		s.log.Info("Receiving audio", map[string]interface{}{"path": s.sink.Path()})
	}
	sink := s.sink
	s.audioMu.Unlock()

	if _, err := sink.Write(chunk); err != nil {
		s.log.Warn("Failed to write audio chunk", map[string]interface{}{"error": err})
	}

	if err := s.link.SendAudio(chunk); err != nil {
		if stderrors.Is(err, stt.ErrLinkClosed) {
			s.log.Debug("Dropped audio chunk, link not connected")
			return
		}
		s.log.Warn("Failed to forward audio chunk", map[string]interface{}{"error": err})
	}
}

// Stop closes the link, drains pending events, closes the audio artifact and
// finalizes the recording. Only the first call has any effect.
func (s *Session) Stop(ctx context.Context) {
	s.stopOnce.Do(func() { s.stop(ctx) })
}

func (s *Session) stop(ctx context.Context) {
	s.log.Info("Stopping transcription")

	if err := s.link.Close(closeReason); err != nil {
		s.log.Warn("Failed to close upstream link", map[string]interface{}{"error": err})
	}

	s.audioMu.Lock()
	done := s.consumerDone
	s.audioMu.Unlock()
	if done != nil {
		<-done
	}

	s.audioMu.Lock()
	s.stopped = true
	sink, startedAt := s.sink, s.startedAt
	s.audioMu.Unlock()

	var audioPath *string
	if sink != nil {
		if err := sink.Close(); err != nil {
			s.log.Warn("Failed to close audio file", map[string]interface{}{"error": err})
		}
		if sink.Opened() {
			p := sink.Path()
			audioPath = &p
		}
	}

	var durationMs int64
	if !startedAt.IsZero() {
		durationMs = s.now().Sub(startedAt).Milliseconds()
	}

	if err := s.finalize(ctx, durationMs, audioPath); err != nil {
		s.log.Error("Failed to finalize recording", map[string]interface{}{"error": err})
		s.send(ErrorMessage{Type: TypeError, Message: msgFinalizeFailed})
		return
	}

	s.send(SessionEnded{
		Type:        TypeSessionEnded,
		RecordingID: s.recordingID,
		Reason:      reasonCompleted,
	})
	s.log.Info("Recording completed", map[string]interface{}{"duration_ms": durationMs})
}

func (s *Session) finalize(ctx context.Context, durationMs int64, audioPath *string) error {
	segments, err := s.store.GetSegmentsForRecording(ctx, s.recordingID)
	if err != nil {
		return errors.Persistence("get segments", err)
	}
	finalText := FinalText(segments)

	err = s.store.UpdateRecordingStatus(ctx, s.recordingID, store.StatusUpdate{
		Status:     store.StatusCompleted,
		FinalText:  &finalText,
		DurationMs: &durationMs,
		AudioPath:  audioPath,
	})
	if err != nil {
		return errors.Persistence("update recording status", err)
	}
	return nil
}

// FinalText joins the text of final segments with single spaces. Segments
// are expected in index order.
func FinalText(segments []store.Segment) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg.IsFinal {
			parts = append(parts, seg.Text)
		}
	}
	return strings.Join(parts, " ")
}

func (s *Session) send(msg any) {
	if s.client == nil {
		return
	}
	if err := s.client.SendJSON(msg); err != nil {
		s.log.Warn("Failed to send message to client", map[string]interface{}{"error": errors.ClientChannel(err)})
	}
}
