// Package stt defines the provider-independent transcript types and the
// streaming link contract used by transcription sessions.
package stt

import (
	"context"
	"errors"
)

// ErrLinkClosed is returned by Link.SendAudio when audio is dropped because
// the link is not connected.
var ErrLinkClosed = errors.New("stt: link is not connected")

// Word is one timed token inside a transcript event.
type Word struct {
	// ID is unique only within the enclosing event.
	ID    string  `json:"id"`
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	// Trusted is true for provider-emitted words.
	Trusted bool `json:"trusted"`
}

// TranscriptEvent is the provider-independent shape of one transcript result.
// Start and End are seconds relative to the start of the audio stream.
type TranscriptEvent struct {
	Transcript  string  `json:"transcript"`
	Words       []Word  `json:"words"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	IsFinal     bool    `json:"isFinal"`
	SpeechFinal bool    `json:"speechFinal"`
}

// Link is one streaming connection to a speech-to-text provider.
type Link interface {
	// Connect establishes the provider connection. Audio must not be sent
	// before it succeeds.
	Connect(ctx context.Context) error

	// SendAudio forwards one opaque audio chunk. Chunks sent after the link
	// has failed or closed are dropped.
	SendAudio(chunk []byte) error

	// Listen reads provider messages until the link closes, delivering
	// normalized events to Events. It closes the Events channel on return.
	Listen(ctx context.Context)

	// Events returns the channel Listen delivers to.
	Events() <-chan TranscriptEvent

	// Close shuts the link down. Safe to call more than once.
	Close(reason string) error
}
