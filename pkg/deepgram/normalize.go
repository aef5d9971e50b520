package deepgram

import (
	"encoding/json"
	"fmt"

	"example.com/live_transcriber/pkg/stt"
)

// Normalize decodes a raw Deepgram message and converts it to a
// TranscriptEvent. ok is false when the message cannot be decoded or carries
// no usable transcript.
func Normalize(raw []byte) (ev stt.TranscriptEvent, ok bool) {
	var resp TranscriptResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return stt.TranscriptEvent{}, false
	}
	return NormalizeResponse(&resp)
}

// NormalizeResponse converts a decoded Results message. Only the first
// alternative is used; events with an empty transcript or no words produce
// no output.
func NormalizeResponse(resp *TranscriptResponse) (stt.TranscriptEvent, bool) {
	if resp == nil || resp.Channel == nil || len(resp.Channel.Alternatives) == 0 {
		return stt.TranscriptEvent{}, false
	}

	alt := resp.Channel.Alternatives[0]
	if alt.Transcript == "" || len(alt.Words) == 0 {
		return stt.TranscriptEvent{}, false
	}

	words := make([]stt.Word, len(alt.Words))
	for i, w := range alt.Words {
		words[i] = stt.Word{
			ID:      fmt.Sprintf("word_%d", i),
			Text:    w.Word,
			Start:   w.Start,
			End:     w.End,
			Trusted: true,
		}
	}

	return stt.TranscriptEvent{
		Transcript:  alt.Transcript,
		Words:       words,
		Start:       alt.Words[0].Start,
		End:         alt.Words[len(alt.Words)-1].End,
		IsFinal:     resp.IsFinal,
		SpeechFinal: resp.SpeechFinal,
	}, true
}
