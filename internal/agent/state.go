package agent

import (
	"time"

	"github.com/chadiek/historia/internal/conversation"
	"github.com/chadiek/historia/internal/gateway"
	"github.com/chadiek/historia/internal/transcript"
	"github.com/chadiek/historia/internal/tts"
)

// ChatSummary is one History entry as listed to the presentation layer.
type ChatSummary struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Messages    int       `json:"messageCount"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// State is a point-in-time copy of everything the presentation layer renders.
type State struct {
	SessionID        string                 `json:"sessionId"`
	Messages         []conversation.Message `json:"messages"`
	History          []ChatSummary          `json:"history"`
	Input            string                 `json:"input"`
	Recording        RecordingState         `json:"recording"`
	RecordingSeconds int                    `json:"recordingSeconds"`
	Strategy         transcript.Strategy    `json:"strategy,omitempty"`
	Connectivity     gateway.Connectivity   `json:"connectivity"`
	Generating       bool                   `json:"generating"`
	SpeechEnabled    bool                   `json:"speechEnabled"`
	Speaking         bool                   `json:"speaking"`
	SpeechMode       tts.Mode               `json:"speechMode"`
	LastSaved        *time.Time             `json:"lastSaved,omitempty"`
	Error            string                 `json:"error,omitempty"`
}

// summarize drops message bodies from History for listing.
func summarize(h []conversation.Session) []ChatSummary {
	out := make([]ChatSummary, len(h))
	for i, s := range h {
		out[i] = ChatSummary{
			ID:          s.ID,
			Title:       s.Title,
			Messages:    len(s.Messages),
			CreatedAt:   s.CreatedAt,
			LastUpdated: s.LastUpdated,
		}
	}
	return out
}
