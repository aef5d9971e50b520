package transcription

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"example.com/live_transcriber/pkg/store"
	"example.com/live_transcriber/pkg/stt"
)

type fakeLink struct {
	connectErr error
	events     chan stt.TranscriptEvent

	mu         sync.Mutex
	connected  bool
	audio      [][]byte
	closeCalls int

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		events: make(chan stt.TranscriptEvent, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeLink) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeLink) SendAudio(chunk []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return stt.ErrLinkClosed
	}
	f.audio = append(f.audio, append([]byte(nil), chunk...))
	return nil
}

func (f *fakeLink) Listen(ctx context.Context) {
	defer close(f.events)
	<-f.closed
}

func (f *fakeLink) Events() <-chan stt.TranscriptEvent {
	return f.events
}

func (f *fakeLink) Close(reason string) error {
	f.mu.Lock()
	f.connected = false
	f.closeCalls++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeLink) emit(ev stt.TranscriptEvent) {
	f.events <- ev
}

func (f *fakeLink) audioChunks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

type recordingClient struct {
	mu   sync.Mutex
	msgs []any
}

func (c *recordingClient) SendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, v)
	return nil
}

func (c *recordingClient) messages() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.msgs...)
}

func (c *recordingClient) updates() []TranscriptUpdate {
	var out []TranscriptUpdate
	for _, m := range c.messages() {
		if u, ok := m.(TranscriptUpdate); ok {
			out = append(out, u)
		}
	}
	return out
}

func (c *recordingClient) errorMessages() []string {
	var out []string
	for _, m := range c.messages() {
		if e, ok := m.(ErrorMessage); ok {
			out = append(out, e.Message)
		}
	}
	return out
}

func (c *recordingClient) ended() int {
	n := 0
	for _, m := range c.messages() {
		if _, ok := m.(SessionEnded); ok {
			n++
		}
	}
	return n
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// failingStore rejects segment appends.
type failingStore struct {
	store.Store
}

func (failingStore) AppendSegment(ctx context.Context, recordingID string, in store.SegmentInput) (string, error) {
	return "", stderrors.New("disk full")
}

type fixture struct {
	store   store.Store
	link    *fakeLink
	client  *recordingClient
	clock   *fakeClock
	dir     string
	recID   string
	session *Session
}

func newFixture(t *testing.T, st store.Store) *fixture {
	t.Helper()
	if st == nil {
		st = store.NewMemoryStore()
	}
	id, err := st.CreateRecording(context.Background(), "user-1", "en-US")
	if err != nil {
		t.Fatalf("CreateRecording: %v", err)
	}
	f := &fixture{
		store:  st,
		link:   newFakeLink(),
		client: &recordingClient{},
		clock:  &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		dir:    t.TempDir(),
		recID:  id,
	}
	f.session = New(Options{
		RecordingID:   id,
		Link:          f.link,
		Store:         st,
		Client:        f.client,
		RecordingsDir: f.dir,
		Now:           f.clock.Now,
	})
	return f
}

func (f *fixture) recording(t *testing.T) *store.Recording {
	t.Helper()
	rec, err := f.store.GetRecording(context.Background(), f.recID)
	if err != nil {
		t.Fatalf("GetRecording: %v", err)
	}
	return rec
}

func words(texts ...string) []stt.Word {
	out := make([]stt.Word, len(texts))
	for i, w := range texts {
		out[i] = stt.Word{ID: "word_" + string(rune('0'+i)), Text: w, Start: float64(i), End: float64(i) + 0.5, Trusted: true}
	}
	return out
}

func TestSessionStopWithoutEvents(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.session.HandleAudioChunk([]byte("chunk-1"))
	f.clock.Advance(1500 * time.Millisecond)
	f.session.Stop(ctx)

	rec := f.recording(t)
	if rec.Status != store.StatusCompleted {
		t.Errorf("expected completed, got %s", rec.Status)
	}
	if rec.FinalText == nil || *rec.FinalText != "" {
		t.Errorf("expected empty final text, got %v", rec.FinalText)
	}
	if rec.DurationMs == nil || *rec.DurationMs != 1500 {
		t.Errorf("expected 1500ms, got %v", rec.DurationMs)
	}
	if len(rec.SegmentIDs) != 0 {
		t.Errorf("expected no segments, got %v", rec.SegmentIDs)
	}

	wantPath := filepath.Join(f.dir, f.recID+".webm")
	if rec.AudioPath == nil || *rec.AudioPath != wantPath {
		t.Errorf("expected audio path %s, got %v", wantPath, rec.AudioPath)
	}
	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "chunk-1" {
		t.Errorf("unexpected audio contents %q", data)
	}

	if f.link.audioChunks() != 1 {
		t.Errorf("expected 1 chunk forwarded, got %d", f.link.audioChunks())
	}
	if f.client.ended() != 1 {
		t.Errorf("expected one session_ended, got %d", f.client.ended())
	}
}

func TestSessionRelaysAndPersists(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.session.HandleAudioChunk([]byte("a"))

	f.link.emit(stt.TranscriptEvent{Transcript: "hel", Words: words("hel"), Start: 0, End: 0.5})
	f.link.emit(stt.TranscriptEvent{Transcript: "hello world", Words: words("hello", "world"), Start: 0, End: 1.5, IsFinal: true, SpeechFinal: true})
	f.link.emit(stt.TranscriptEvent{Transcript: "how are you", Words: words("how", "are", "you"), Start: 2, End: 3.5, IsFinal: true, SpeechFinal: true})

	f.session.Stop(ctx)

	updates := f.client.updates()
	if len(updates) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(updates))
	}
	wantIdx := []int{0, 0, 1}
	for i, u := range updates {
		if u.Type != TypeTranscriptUpdate || u.RecordingID != f.recID {
			t.Errorf("update %d: unexpected envelope %+v", i, u)
		}
		if u.SegmentIndex != wantIdx[i] {
			t.Errorf("update %d: expected index %d, got %d", i, wantIdx[i], u.SegmentIndex)
		}
	}
	if updates[0].IsFinal {
		t.Error("interim update should not be final")
	}

	segs, err := f.store.GetSegmentsForRecording(ctx, f.recID)
	if err != nil {
		t.Fatalf("GetSegmentsForRecording: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if segs[0].Index != 0 || segs[0].Text != "hello world" || len(segs[0].Words) != 2 {
		t.Errorf("unexpected first segment %+v", segs[0])
	}
	if segs[1].Index != 1 || segs[1].Start != 2 || segs[1].End != 3.5 {
		t.Errorf("unexpected second segment %+v", segs[1])
	}

	rec := f.recording(t)
	if rec.FinalText == nil || *rec.FinalText != "hello world how are you" {
		t.Errorf("unexpected final text %v", rec.FinalText)
	}
	if f.session.SegmentIndex() != 2 {
		t.Errorf("expected segment index 2, got %d", f.session.SegmentIndex())
	}

	msgs := f.client.messages()
	if _, ok := msgs[len(msgs)-1].(SessionEnded); !ok {
		t.Errorf("expected session_ended last, got %T", msgs[len(msgs)-1])
	}
}

func TestSessionFinalsWithoutSpeechFinalShareIndex(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.link.emit(stt.TranscriptEvent{Transcript: "one", Words: words("one"), IsFinal: true})
	f.link.emit(stt.TranscriptEvent{Transcript: "two", Words: words("two"), IsFinal: true})
	f.session.Stop(ctx)

	segs, err := f.store.GetSegmentsForRecording(ctx, f.recID)
	if err != nil {
		t.Fatalf("GetSegmentsForRecording: %v", err)
	}
	if len(segs) != 2 || segs[0].Index != 0 || segs[1].Index != 0 {
		t.Fatalf("expected two segments at index 0, got %+v", segs)
	}
	rec := f.recording(t)
	if rec.FinalText == nil || *rec.FinalText != "one two" {
		t.Errorf("unexpected final text %v", rec.FinalText)
	}
	if f.session.SegmentIndex() != 0 {
		t.Errorf("index should not advance, got %d", f.session.SegmentIndex())
	}
}

func TestSessionStartFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.link.connectErr = stderrors.New("401 unauthorized")
	ctx := context.Background()

	if err := f.session.Start(ctx); err == nil {
		t.Fatal("expected Start to fail")
	}
	errs := f.client.errorMessages()
	if len(errs) != 1 || errs[0] != msgStartFailed {
		t.Errorf("unexpected error messages %v", errs)
	}

	// Audio after a failed start is tolerated and still saved locally.
	f.session.HandleAudioChunk([]byte("late"))
	if f.link.audioChunks() != 0 {
		t.Error("no audio should reach an unconnected link")
	}

	f.session.Stop(ctx)
	rec := f.recording(t)
	if rec.Status != store.StatusCompleted {
		t.Errorf("expected completed, got %s", rec.Status)
	}
	if rec.AudioPath == nil {
		t.Error("expected audio path for written chunk")
	}
}

func TestSessionStopIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.session.Stop(ctx)
	f.session.Stop(ctx)

	if f.client.ended() != 1 {
		t.Errorf("expected one session_ended, got %d", f.client.ended())
	}
	if f.link.closeCalls != 1 {
		t.Errorf("expected one link close, got %d", f.link.closeCalls)
	}
	if len(f.client.errorMessages()) != 0 {
		t.Errorf("unexpected errors %v", f.client.errorMessages())
	}
}

func TestSessionStopWithoutAudio(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.session.Stop(ctx)

	rec := f.recording(t)
	if rec.AudioPath != nil {
		t.Errorf("expected no audio path, got %s", *rec.AudioPath)
	}
	if rec.DurationMs == nil || *rec.DurationMs != 0 {
		t.Errorf("expected zero duration, got %v", rec.DurationMs)
	}
}

func TestSessionAudioAfterStopDropped(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.session.HandleAudioChunk([]byte("a"))
	f.session.Stop(ctx)
	f.session.HandleAudioChunk([]byte("b"))

	data, err := os.ReadFile(filepath.Join(f.dir, f.recID+".webm"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "a" {
		t.Errorf("expected only pre-stop audio, got %q", data)
	}
}

func TestSessionPersistenceFaultStillRelays(t *testing.T) {
	f := newFixture(t, failingStore{Store: store.NewMemoryStore()})
	ctx := context.Background()

	if err := f.session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.link.emit(stt.TranscriptEvent{Transcript: "hello", Words: words("hello"), IsFinal: true, SpeechFinal: true})
	f.session.Stop(ctx)

	errs := f.client.errorMessages()
	if len(errs) != 1 || errs[0] != msgProcessFailed {
		t.Errorf("unexpected error messages %v", errs)
	}
	if len(f.client.updates()) != 1 {
		t.Errorf("expected the update to be relayed, got %d", len(f.client.updates()))
	}
	rec := f.recording(t)
	if rec.Status != store.StatusCompleted || rec.FinalText == nil || *rec.FinalText != "" {
		t.Errorf("unexpected recording %+v", rec)
	}
}

func TestSessionFinalizeFault(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if err := f.session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// A recording already in a terminal status cannot be finalized again.
	if err := f.store.UpdateRecordingStatus(ctx, f.recID, store.StatusUpdate{Status: store.StatusFailed}); err != nil {
		t.Fatalf("UpdateRecordingStatus: %v", err)
	}
	f.session.Stop(ctx)

	errs := f.client.errorMessages()
	if len(errs) != 1 || errs[0] != msgFinalizeFailed {
		t.Errorf("unexpected error messages %v", errs)
	}
	if f.client.ended() != 0 {
		t.Error("session_ended must not be sent when finalization fails")
	}
}

func TestSessionAudioWriteFaultStillForwards(t *testing.T) {
	f := newFixture(t, nil)
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	f.session.recordingsDir = blocker
	ctx := context.Background()

	if err := f.session.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.session.HandleAudioChunk([]byte("a"))
	f.session.HandleAudioChunk([]byte("b"))
	if f.link.audioChunks() != 2 {
		t.Errorf("expected 2 chunks forwarded, got %d", f.link.audioChunks())
	}
	f.session.Stop(ctx)

	rec := f.recording(t)
	if rec.AudioPath != nil {
		t.Errorf("expected no audio path when the file was never created, got %s", *rec.AudioPath)
	}
}

func TestFinalText(t *testing.T) {
	segs := []store.Segment{
		{Index: 0, Text: "hello", IsFinal: true},
		{Index: 0, Text: "interim", IsFinal: false},
		{Index: 1, Text: "world", IsFinal: true},
	}
	if got := FinalText(segs); got != "hello world" {
		t.Errorf("unexpected final text %q", got)
	}
	if got := FinalText(nil); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}
