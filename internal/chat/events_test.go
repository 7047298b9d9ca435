package chat

import (
	"encoding/json"
	"testing"
)

func TestEventTerminal(t *testing.T) {
	tests := []struct {
		ev   Event
		want bool
	}{
		{textEvent("hi"), false},
		{toolStartEvent("search_notes"), false},
		{toolResultEvent("search_notes", json.RawMessage(`{}`)), false},
		{doneEvent(1, 2), true},
		{errorEvent("boom"), true},
	}
	for _, tt := range tests {
		t.Run(string(tt.ev.Type), func(t *testing.T) {
			if got := tt.ev.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}
