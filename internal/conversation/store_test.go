package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

type fakePersister struct {
	loaded  []Session
	loadErr error
	saveErr error
	saves   [][]Session
}

func (f *fakePersister) LoadHistory(context.Context) ([]Session, error) {
	return f.loaded, f.loadErr
}

func (f *fakePersister) SaveHistory(_ context.Context, h []Session) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves = append(f.saves, h)
	return nil
}

func newTestStore(p Persister) *Store {
	s := NewStore(context.Background(), p)
	var n int
	s.newID = func() string { n++; return fmt.Sprintf("id-%d", n) }
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { clock = clock.Add(time.Minute); return clock }
	s.activeID = s.newID()
	return s
}

func userMsg(id, text string) Message {
	return Message{ID: id, Text: text, Sender: SenderUser, Category: Classify(text)}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in   string
		want Category
	}{
		{"Tell me about Kant's ethics", CategoryPhilosophy},
		{"the fall of the Roman Empire", CategoryHistory},
		{"what's the weather", CategoryGeneral},
		{"the ethics of the Roman Empire", CategoryPhilosophy},
		{"Explain Stoic philosophy", CategoryPhilosophy},
		{"MEDIEVAL castles", CategoryHistory},
	}
	for _, tc := range cases {
		if got := Classify(tc.in); got != tc.want {
			t.Fatalf("Classify(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTitle(t *testing.T) {
	if got := Title(nil); got != "New Chat" {
		t.Fatalf("empty title = %q", got)
	}
	short := []Message{{Sender: SenderAssistant, Text: "hi"}, userMsg("1", "What is virtue?")}
	if got := Title(short); got != "What is virtue?" {
		t.Fatalf("short title = %q", got)
	}
	long := strings.Repeat("a", 41)
	if got := Title([]Message{userMsg("1", long)}); got != strings.Repeat("a", 40)+"..." {
		t.Fatalf("long title = %q", got)
	}
	exact := strings.Repeat("b", 40)
	if got := Title([]Message{userMsg("1", exact)}); got != exact {
		t.Fatalf("40-char title should not be truncated, got %q", got)
	}
}

func TestStore_SaveTwiceReplacesAndKeepsCreatedAt(t *testing.T) {
	p := &fakePersister{}
	s := newTestStore(p)
	s.Append(userMsg("m1", "hello"))
	s.SaveActive(context.Background())
	first := s.History()[0]

	s.Append(userMsg("m2", "again"))
	s.SaveActive(context.Background())
	h := s.History()
	if len(h) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(h))
	}
	if !h[0].CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("createdAt changed: %v -> %v", first.CreatedAt, h[0].CreatedAt)
	}
	if !h[0].LastUpdated.After(first.LastUpdated) {
		t.Fatalf("expected lastUpdated to advance")
	}
	if len(h[0].Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(h[0].Messages))
	}
	if len(p.saves) != 2 {
		t.Fatalf("expected write-through on each save, got %d writes", len(p.saves))
	}
	if s.LastSaved().IsZero() {
		t.Fatalf("expected lastSaved to be set")
	}
}

func TestStore_NewChatTwiceWithoutMessagesSavesNothing(t *testing.T) {
	p := &fakePersister{}
	s := newTestStore(p)
	first := s.ActiveID()
	s.NewChat(context.Background())
	s.NewChat(context.Background())
	if len(s.History()) != 0 {
		t.Fatalf("expected empty history, got %d", len(s.History()))
	}
	if s.ActiveID() == first {
		t.Fatalf("expected a fresh session id")
	}
	if len(p.saves) != 0 {
		t.Fatalf("expected no durable writes, got %d", len(p.saves))
	}
}

func TestStore_SelectUnknownIsNoop(t *testing.T) {
	s := newTestStore(&fakePersister{})
	s.Append(userMsg("m1", "hello"))
	active := s.ActiveID()
	if s.Select(context.Background(), "missing") {
		t.Fatalf("expected select of unknown id to fail")
	}
	if s.ActiveID() != active || len(s.Messages()) != 1 || len(s.History()) != 0 {
		t.Fatalf("select of unknown id mutated state")
	}
}

func TestStore_SelectSavesCurrentAndNormalizesStreaming(t *testing.T) {
	s := newTestStore(&fakePersister{})
	s.Append(userMsg("m1", "first chat"))
	s.Append(Message{ID: "m2", Sender: SenderAssistant, Text: "partial", Streaming: true})
	firstID := s.ActiveID()
	s.NewChat(context.Background())
	s.Append(userMsg("m3", "second chat"))
	secondID := s.ActiveID()

	if !s.Select(context.Background(), firstID) {
		t.Fatalf("expected select to succeed")
	}
	if s.ActiveID() != firstID {
		t.Fatalf("active id = %s, want %s", s.ActiveID(), firstID)
	}
	if !s.Has(secondID) {
		t.Fatalf("expected second chat saved on switch-away")
	}
	for _, m := range s.Messages() {
		if m.Streaming {
			t.Fatalf("expected loaded messages to be final")
		}
	}
	if len(s.History()) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(s.History()))
	}
	if s.History()[0].ID != secondID {
		t.Fatalf("expected newest session first")
	}
}

func TestStore_DeleteActiveResets(t *testing.T) {
	s := newTestStore(&fakePersister{})
	s.Append(userMsg("m1", "hello"))
	s.SaveActive(context.Background())
	active := s.ActiveID()
	if !s.Delete(context.Background(), active) {
		t.Fatalf("expected delete of active session to report reset")
	}
	if s.ActiveID() == active {
		t.Fatalf("expected new session id")
	}
	if len(s.Messages()) != 0 || len(s.History()) != 0 {
		t.Fatalf("expected empty state after delete")
	}
}

func TestStore_DeleteUnsavedActiveResets(t *testing.T) {
	s := newTestStore(&fakePersister{})
	s.Append(userMsg("m1", "hello"))
	active := s.ActiveID()
	if !s.Delete(context.Background(), active) {
		t.Fatalf("expected reset")
	}
	if s.ActiveID() == active || len(s.Messages()) != 0 {
		t.Fatalf("expected cleared active session")
	}
}

func TestStore_DeleteOtherKeepsActive(t *testing.T) {
	s := newTestStore(&fakePersister{})
	s.Append(userMsg("m1", "one"))
	s.NewChat(context.Background())
	other := s.History()[0].ID
	s.Append(userMsg("m2", "two"))
	active := s.ActiveID()
	if s.Delete(context.Background(), other) {
		t.Fatalf("deleting another session must not reset the active one")
	}
	if s.ActiveID() != active || len(s.Messages()) != 1 {
		t.Fatalf("active session changed")
	}
	if s.Has(other) {
		t.Fatalf("expected session removed")
	}
}

func TestStore_ClearHistory(t *testing.T) {
	p := &fakePersister{}
	s := newTestStore(p)
	s.Append(userMsg("m1", "one"))
	s.NewChat(context.Background())
	s.Append(userMsg("m2", "two"))
	s.Clear(context.Background())
	if len(s.History()) != 0 || len(s.Messages()) != 0 {
		t.Fatalf("expected everything cleared")
	}
	last := p.saves[len(p.saves)-1]
	if len(last) != 0 {
		t.Fatalf("expected empty history persisted, got %d", len(last))
	}
}

func TestStore_PersistenceFailureIsNotFatal(t *testing.T) {
	p := &fakePersister{saveErr: errors.New("disk full")}
	s := newTestStore(p)
	s.Append(userMsg("m1", "hello"))
	s.SaveActive(context.Background())
	if len(s.History()) != 1 {
		t.Fatalf("expected in-memory history to survive a failed write")
	}
	if !s.LastSaved().IsZero() {
		t.Fatalf("lastSaved must not advance on failure")
	}
}

func TestStore_LoadCollapsesDuplicates(t *testing.T) {
	p := &fakePersister{loaded: []Session{
		{ID: "a", Title: "first"},
		{ID: "b"},
		{ID: "a", Title: "dup"},
	}}
	s := NewStore(context.Background(), p)
	h := s.History()
	if len(h) != 2 || h[0].Title != "first" {
		t.Fatalf("unexpected history after load: %+v", h)
	}
}

func TestStore_LoadFailureStartsEmpty(t *testing.T) {
	s := NewStore(context.Background(), &fakePersister{loadErr: errors.New("corrupt")})
	if len(s.History()) != 0 || s.ActiveID() == "" {
		t.Fatalf("expected empty history and a fresh session")
	}
}

func TestStore_UpdateMarksDirty(t *testing.T) {
	s := newTestStore(&fakePersister{})
	s.Append(Message{ID: "a1", Sender: SenderAssistant, Streaming: true})
	s.SaveActive(context.Background())
	if s.Dirty() {
		t.Fatalf("expected clean after save")
	}
	if !s.Update("a1", func(m *Message) { m.Text += "word" }) {
		t.Fatalf("expected update to find message")
	}
	if !s.Dirty() {
		t.Fatalf("expected dirty after update")
	}
	if s.Update("missing", func(*Message) {}) {
		t.Fatalf("expected update of missing message to fail")
	}
}
