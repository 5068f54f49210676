package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageText(t *testing.T) {
	raw := []byte(`{"type":"client_text","session_id":"s1","text":"hello nova","ts_ms":123}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	text, ok := msg.(ClientText)
	if !ok {
		t.Fatalf("message type = %T, want ClientText", msg)
	}
	if text.SessionID != "s1" || text.Text != "hello nova" {
		t.Fatalf("unexpected client text: %+v", text)
	}
}

func TestParseClientMessageAudio(t *testing.T) {
	raw := []byte(`{"type":"client_audio","session_id":"s1","pcm16_base64":"AQID","sample_rate":16000}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	audio, ok := msg.(ClientAudio)
	if !ok {
		t.Fatalf("message type = %T, want ClientAudio", msg)
	}
	if audio.SessionID != "s1" || audio.SampleRate != 16000 {
		t.Fatalf("unexpected client audio: %+v", audio)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","session_id":"s1","action":"end"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	if ctrl, ok := msg.(ClientControl); !ok || ctrl.Action != "end" {
		t.Fatalf("unexpected control message: %+v", msg)
	}
}

func TestParseClientMessageRejectsBlankText(t *testing.T) {
	raw := []byte(`{"type":"client_text","session_id":"s1","text":"   "}`)
	if _, err := ParseClientMessage(raw); err == nil {
		t.Fatalf("ParseClientMessage() accepted blank text")
	}
}

func TestParseClientMessageUnsupportedType(t *testing.T) {
	raw := []byte(`{"type":"assistant_reply","session_id":"s1"}`)
	_, err := ParseClientMessage(raw)
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("ParseClientMessage() error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageInvalidJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{`)); err == nil {
		t.Fatalf("ParseClientMessage() accepted invalid JSON")
	}
}
