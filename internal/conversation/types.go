package conversation

import (
	"time"
	"unicode/utf8"
)

// Sender identifies who wrote a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Category is the topic a message was classified under.
type Category string

const (
	CategoryNone       Category = ""
	CategoryPhilosophy Category = "philosophy"
	CategoryHistory    Category = "history"
	CategoryGeneral    Category = "general"
)

// ParseCategory maps a backend-provided label onto a known Category.
func ParseCategory(s string) (Category, bool) {
	switch Category(s) {
	case CategoryPhilosophy, CategoryHistory, CategoryGeneral:
		return Category(s), true
	}
	return CategoryNone, false
}

// Message is one entry in a conversation. Text is append-only while Streaming is true.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Category  Category  `json:"category,omitempty"`
	Streaming bool      `json:"isStreaming,omitempty"`
}

// Session is a saved conversation.
type Session struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Messages    []Message `json:"messages"`
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
}

const (
	titleLimit   = 40
	defaultTitle = "New Chat"
)

// Title derives a session title from the first user message.
func Title(msgs []Message) string {
	for _, m := range msgs {
		if m.Sender != SenderUser {
			continue
		}
		if utf8.RuneCountInString(m.Text) <= titleLimit {
			return m.Text
		}
		return string([]rune(m.Text)[:titleLimit]) + "..."
	}
	return defaultTitle
}

func cloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out
}

func cloneSession(s Session) Session {
	s.Messages = cloneMessages(s.Messages)
	return s
}
