package sanitize

import (
	"testing"

	"github.com/opencode-studio/gateway/internal/model"
)

func partText(text string) model.Part {
	return model.Part{ID: "p1", Type: model.PartText, Text: text}
}

func TestSessionWhitelist(t *testing.T) {
	s := Session(SessionInput{
		ID: "ses_1", Directory: "/a", Title: "hi",
		ShareURL: "https://x", RevertMessageID: "msg_1", RevertDiff: "d",
	})
	if s.ID != "ses_1" || s.Share.URL != "https://x" || s.Revert.MessageID != "msg_1" {
		t.Fatalf("unexpected narrowed session: %+v", s)
	}
}

func TestKeepPartText(t *testing.T) {
	s := DefaultSettings()
	if KeepPart(partText(""), s) {
		t.Error("empty text part should be dropped")
	}
	if !KeepPart(partText("hello"), s) {
		t.Error("non-empty text part should be kept")
	}
}

func TestToolInputSummary(t *testing.T) {
	got := ToolInputSummary("bash", map[string]interface{}{"command": "ls -la\necho done"})
	if got != "ls -la" {
		t.Errorf("ToolInputSummary = %q, want %q", got, "ls -la")
	}
}

func TestSanitizeEventUnknownPassthrough(t *testing.T) {
	ev := Event{Type: "some.unknown.event", Properties: map[string]interface{}{"x": 1}}
	got := SanitizeEvent(ev, DefaultSettings())
	if got.Type != ev.Type || got.Properties["x"] != 1 {
		t.Errorf("unknown event should pass through unchanged, got %+v", got)
	}
}
