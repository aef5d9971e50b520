package deepgram

import "testing"

func TestNormalizeFinalEvent(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"speech_final": true,
		"channel": {"alternatives": [
			{"transcript": "hello world", "words": [
				{"word": "hello", "start": 0.0, "end": 0.3},
				{"word": "world", "start": 0.3, "end": 0.6}
			]},
			{"transcript": "yellow world", "words": [
				{"word": "yellow", "start": 0.0, "end": 0.3}
			]}
		]}
	}`)

	ev, ok := Normalize(raw)
	if !ok {
		t.Fatal("expected an event")
	}
	if ev.Transcript != "hello world" {
		t.Errorf("expected first alternative, got %q", ev.Transcript)
	}
	if !ev.IsFinal || !ev.SpeechFinal {
		t.Errorf("expected final flags, got isFinal=%v speechFinal=%v", ev.IsFinal, ev.SpeechFinal)
	}
	if ev.Start != 0.0 || ev.End != 0.6 {
		t.Errorf("expected span [0.0, 0.6], got [%v, %v]", ev.Start, ev.End)
	}
	if len(ev.Words) != 2 {
		t.Fatalf("expected 2 words, got %d", len(ev.Words))
	}
	for i, want := range []string{"hello", "world"} {
		w := ev.Words[i]
		if w.Text != want {
			t.Errorf("word %d: expected %q, got %q", i, want, w.Text)
		}
		if !w.Trusted {
			t.Errorf("word %d: expected trusted", i)
		}
	}
	if ev.Words[0].ID != "word_0" || ev.Words[1].ID != "word_1" {
		t.Errorf("unexpected word ids %q %q", ev.Words[0].ID, ev.Words[1].ID)
	}
}

func TestNormalizeInterimEvent(t *testing.T) {
	raw := []byte(`{"is_final": false, "speech_final": false, "channel": {"alternatives": [
		{"transcript": "hel", "words": [{"word": "hel", "start": 1.2, "end": 1.4}]}
	]}}`)

	ev, ok := Normalize(raw)
	if !ok {
		t.Fatal("expected interim event to normalize")
	}
	if ev.IsFinal || ev.SpeechFinal {
		t.Error("expected interim flags to be false")
	}
	if ev.Start != 1.2 || ev.End != 1.4 {
		t.Errorf("unexpected span [%v, %v]", ev.Start, ev.End)
	}
}

func TestNormalizeNoOutput(t *testing.T) {
	cases := map[string]string{
		"empty transcript final":   `{"is_final": true, "channel": {"alternatives": [{"transcript": "", "words": [{"word": "a", "start": 0, "end": 1}]}]}}`,
		"empty transcript interim": `{"is_final": false, "channel": {"alternatives": [{"transcript": "", "words": [{"word": "a", "start": 0, "end": 1}]}]}}`,
		"no words final":           `{"is_final": true, "channel": {"alternatives": [{"transcript": "hi", "words": []}]}}`,
		"no words interim":         `{"is_final": false, "channel": {"alternatives": [{"transcript": "hi"}]}}`,
		"no alternatives":          `{"is_final": true, "channel": {"alternatives": []}}`,
		"no channel":               `{"type": "Metadata", "request_id": "abc"}`,
		"not json":                 `{"is_final": tru`,
		"wrong field type":         `{"is_final": true, "channel": {"alternatives": [{"transcript": "hi", "words": [{"word": "hi", "start": "zero"}]}]}}`,
		"channel is a string":      `{"channel": "oops"}`,
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if ev, ok := Normalize([]byte(raw)); ok {
				t.Errorf("expected no output, got %+v", ev)
			}
		})
	}
}

func TestNormalizeResponseNil(t *testing.T) {
	if _, ok := NormalizeResponse(nil); ok {
		t.Error("expected no output for nil response")
	}
}
