package deepgram

// MessageType is used to determine the type of a Deepgram message.
type MessageType struct {
	Type string `json:"type"`
}

// TranscriptResponse is a Deepgram "Results" message. Channel is nil when the
// message carries no transcript payload.
type TranscriptResponse struct {
	Type        string   `json:"type"`
	Channel     *Channel `json:"channel"`
	IsFinal     bool     `json:"is_final"`
	SpeechFinal bool     `json:"speech_final"`
	Start       float64  `json:"start"`
	Duration    float64  `json:"duration"`
}

// Channel holds the recognition alternatives for one audio channel.
type Channel struct {
	Alternatives []Alternative `json:"alternatives"`
}

// Alternative is one recognition hypothesis.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words"`
}

// Word is a word-level timing entry.
type Word struct {
	Word           string  `json:"word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	PunctuatedWord string  `json:"punctuated_word,omitempty"`
}

// ErrorResponse is sent by Deepgram when it rejects the stream.
type ErrorResponse struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Message     string `json:"message"`
	Variant     string `json:"variant"`
}

// MetadataResponse is sent once per stream.
type MetadataResponse struct {
	Type      string  `json:"type"`
	RequestID string  `json:"request_id"`
	Duration  float64 `json:"duration"`
	Channels  int     `json:"channels"`
}

// Message types.
const (
	TypeResults       = "Results"
	TypeError         = "Error"
	TypeMetadata      = "Metadata"
	TypeUtteranceEnd  = "UtteranceEnd"
	TypeSpeechStarted = "SpeechStarted"
)

// closeStreamMessage asks Deepgram to flush and end the stream.
var closeStreamMessage = []byte(`{"type":"CloseStream"}`)
