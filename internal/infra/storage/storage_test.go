package storage

import (
	"context"
	"testing"
	"time"

	"github.com/chadiek/historia/internal/conversation"
)

func sampleHistory() []conversation.Session {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return []conversation.Session{
		{
			ID:    "s2",
			Title: "Explain Stoic philosophy",
			Messages: []conversation.Message{
				{ID: "m1", Text: "Explain Stoic philosophy", Sender: conversation.SenderUser, Timestamp: ts, Category: conversation.CategoryPhilosophy},
				{ID: "m2", Text: "Philosophy invites us", Sender: conversation.SenderAssistant, Timestamp: ts, Category: conversation.CategoryPhilosophy},
			},
			CreatedAt:   ts,
			LastUpdated: ts.Add(time.Minute),
		},
		{ID: "s1", Title: "New Chat", CreatedAt: ts, LastUpdated: ts},
	}
}

func TestBadgerHistory_EmptyThenRoundTrip(t *testing.T) {
	b, err := OpenBadgerHistory("", "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()
	ctx := context.Background()

	got, err := b.LoadHistory(ctx)
	if err != nil {
		t.Fatalf("load empty: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty history, got %d", len(got))
	}

	if err := b.SaveHistory(ctx, sampleHistory()); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = b.LoadHistory(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0].ID != "s2" || len(got[0].Messages) != 2 {
		t.Fatalf("unexpected history: %+v", got)
	}
	if !got[0].CreatedAt.Equal(sampleHistory()[0].CreatedAt) {
		t.Fatalf("createdAt not preserved")
	}

	// whole-array overwrite
	if err := b.SaveHistory(ctx, nil); err != nil {
		t.Fatalf("save empty: %v", err)
	}
	got, _ = b.LoadHistory(ctx)
	if len(got) != 0 {
		t.Fatalf("expected overwrite to empty, got %d", len(got))
	}
}

func TestBadgerHistory_BacksConversationStore(t *testing.T) {
	b, err := OpenBadgerHistory("", "custom-key")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer b.Close()
	ctx := context.Background()

	s := conversation.NewStore(ctx, b)
	s.Append(conversation.Message{ID: "m1", Text: "the fall of the Roman Empire", Sender: conversation.SenderUser})
	id := s.ActiveID()
	s.NewChat(ctx)

	reloaded := conversation.NewStore(ctx, b)
	if !reloaded.Has(id) {
		t.Fatalf("expected saved session to survive a reload")
	}
}

func TestMemoryHistory_RoundTrip(t *testing.T) {
	m := NewMemoryHistory()
	ctx := context.Background()
	if err := m.SaveHistory(ctx, sampleHistory()); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := m.LoadHistory(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[1].ID != "s1" {
		t.Fatalf("unexpected history: %+v", got)
	}
}

func TestDecodeHistory_WireShape(t *testing.T) {
	raw := `[{"id":"abc","title":"Hi","messages":[{"id":"m","text":"Hi","sender":"user","timestamp":"2024-05-01T12:00:00Z","category":"general","isStreaming":false}],"createdAt":"2024-05-01T12:00:00Z","lastUpdated":"2024-05-01T12:00:00Z"}]`
	h, err := decodeHistory([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(h) != 1 || h[0].Messages[0].Sender != conversation.SenderUser || h[0].Messages[0].Category != conversation.CategoryGeneral {
		t.Fatalf("unexpected decode: %+v", h)
	}
	if _, err := decodeHistory([]byte("not-json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestNewSupabaseHistory_RequiresConfig(t *testing.T) {
	if _, err := NewSupabaseHistory(SupabaseConfig{}); err == nil {
		t.Fatalf("expected error with missing configuration")
	}
}
