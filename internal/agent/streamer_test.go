package agent

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/chadiek/historia/internal/conversation"
	"github.com/chadiek/historia/internal/loop"
)

func TestStreamer_FinalTextIsNormalized(t *testing.T) {
	l := loop.New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer func() { cancel(); <-l.Done() }()

	store := conversation.NewStore(context.Background(), nil)
	s := NewStreamer(l, store, rand.New(rand.NewPCG(1, 2)), 0, time.Millisecond, nil)
	done := make(chan bool, 1)
	l.Do(func() {
		store.Append(conversation.Message{ID: "a", Sender: conversation.SenderAssistant, Streaming: true})
		s.Reveal(store.ActiveID(), "a", "  Know\tthyself,\n said   Socrates ", func(ok bool) { done <- ok })
	})
	select {
	case ok := <-done:
		if !ok {
			t.Fatalf("expected reveal to complete")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reveal did not finish")
	}
	var m conversation.Message
	l.Do(func() { m, _ = store.Message("a") })
	if m.Text != "Know thyself, said Socrates" || m.Streaming {
		t.Fatalf("unexpected final message %+v", m)
	}
}

func TestStreamer_StopsWhenSessionChanges(t *testing.T) {
	l := loop.New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	defer func() { cancel(); <-l.Done() }()

	store := conversation.NewStore(context.Background(), nil)
	s := NewStreamer(l, store, rand.New(rand.NewPCG(1, 2)), 5*time.Millisecond, 6*time.Millisecond, nil)
	done := make(chan bool, 1)
	l.Do(func() {
		store.Append(conversation.Message{ID: "a", Sender: conversation.SenderAssistant, Streaming: true})
		s.Reveal(store.ActiveID(), "a", "one two three four", func(ok bool) { done <- ok })
		store.NewChat(context.Background())
	})
	select {
	case ok := <-done:
		if ok {
			t.Fatalf("reveal must not complete after a session switch")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reveal did not stop")
	}
	var saved []conversation.Session
	l.Do(func() { saved = store.History() })
	if len(saved) != 1 || saved[0].Messages[0].Text != "one" {
		t.Fatalf("saved session mutated by stale reveal: %+v", saved)
	}
}
