package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONOutputCarriesComponentAndRecording(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "debug", Format: "json"}, "relay", &buf)

	l.WithComponent("session").WithRecording("R1").Info("started", map[string]interface{}{"chunks": 3})

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line: %v (%s)", err, buf.String())
	}
	if entry[FieldComponent] != "session" {
		t.Errorf("expected component 'session', got %v", entry[FieldComponent])
	}
	if entry[FieldRecordingID] != "R1" {
		t.Errorf("expected recording_id 'R1', got %v", entry[FieldRecordingID])
	}
	if entry[FieldService] != "relay" {
		t.Errorf("expected service 'relay', got %v", entry[FieldService])
	}
	if entry["chunks"] != float64(3) {
		t.Errorf("expected chunks field 3, got %v", entry["chunks"])
	}
	if entry["message"] != "started" {
		t.Errorf("expected message 'started', got %v", entry["message"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "warn", Format: "json"}, "", &buf)

	l.Info("hidden")
	l.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected info/debug to be filtered, got %q", buf.String())
	}

	l.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected warn line, got %q", buf.String())
	}
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "loud", Format: "json"}, "", &buf)

	l.Debug("hidden")
	l.Info("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Errorf("expected info level, got %q", buf.String())
	}
}

func TestErrorFieldsAreRendered(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Format: "json"}, "", &buf)

	l.Error("send failed", map[string]interface{}{"error": errors.New("broken pipe")})
	if !strings.Contains(buf.String(), "broken pipe") {
		t.Errorf("expected error text in output, got %q", buf.String())
	}
}

func TestNopDiscards(t *testing.T) {
	l := Nop()
	l.WithComponent("x").WithError(errors.New("boom")).Error("nothing")
}
