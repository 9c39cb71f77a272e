package agent

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chadiek/historia/internal/conversation"
	"github.com/chadiek/historia/internal/gateway"
	"github.com/chadiek/historia/internal/loop"
	"github.com/chadiek/historia/internal/transcript"
	"github.com/chadiek/historia/internal/tts"
)

type chatCall struct {
	message   string
	category  conversation.Category
	sessionID string
}

type fakeChat struct {
	mu    sync.Mutex
	reply gateway.ChatReply
	err   error
	calls []chatCall
}

func (f *fakeChat) Chat(_ context.Context, message string, category conversation.Category, sessionID string) (gateway.ChatReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, chatCall{message, category, sessionID})
	return f.reply, f.err
}

func (f *fakeChat) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeConn struct{ v atomic.Value }

func newFakeConn(c gateway.Connectivity) *fakeConn {
	f := &fakeConn{}
	f.v.Store(c)
	return f
}

func (f *fakeConn) State() gateway.Connectivity { return f.v.Load().(gateway.Connectivity) }

type fakeSpeech struct {
	mu     sync.Mutex
	spoken []string
	stops  int
	done   func(error)
}

func (f *fakeSpeech) Speak(text string, done func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	f.done = done
}

func (f *fakeSpeech) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.done = nil
}

func (f *fakeSpeech) Mode() tts.Mode { return tts.ModeLocal }

func (f *fakeSpeech) finish() {
	f.mu.Lock()
	done := f.done
	f.done = nil
	f.mu.Unlock()
	if done != nil {
		done(nil)
	}
}

func (f *fakeSpeech) snapshot() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...), f.stops
}

type fakeSource struct {
	strategy transcript.Strategy

	mu       sync.Mutex
	h        transcript.Handler
	begins   int
	finishes int
	cancels  int
}

func (f *fakeSource) Strategy() transcript.Strategy { return f.strategy }

func (f *fakeSource) Begin(_ context.Context, h transcript.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.h = h
	f.begins++
}

func (f *fakeSource) Finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishes++
}

func (f *fakeSource) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
}

func (f *fakeSource) handler() transcript.Handler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h
}

type harness struct {
	loop   *loop.Loop
	store  *conversation.Store
	o      *Orchestrator
	chat   *fakeChat
	conn   *fakeConn
	speech *fakeSpeech
	source *fakeSource
}

func fastOptions() Options {
	return Options{
		DemoDelayMin:  40 * time.Millisecond,
		DemoDelayMax:  60 * time.Millisecond,
		TokenDelayMin: time.Millisecond,
		TokenDelayMax: 2 * time.Millisecond,
		SpeakDelay:    5 * time.Millisecond,
		Seed:          7,
	}
}

func newHarness(t *testing.T, opts Options, c gateway.Connectivity) *harness {
	t.Helper()
	l := loop.New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	h := &harness{
		loop:   l,
		store:  conversation.NewStore(context.Background(), nil),
		chat:   &fakeChat{},
		conn:   newFakeConn(c),
		speech: &fakeSpeech{},
		source: &fakeSource{strategy: transcript.LiveRecognition},
	}
	h.o = New(l, h.store, Deps{Chat: h.chat, Connectivity: h.conn, Source: h.source, Speech: h.speech}, opts)
	h.o.Start()
	return h
}

func (h *harness) waitFor(t *testing.T, what string, cond func(State) bool) State {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s := h.o.Snapshot(); cond(s) {
			return s
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; state: %+v", what, h.o.Snapshot())
	return State{}
}

func replyDone(s State) bool {
	return !s.Generating && len(s.Messages) == 2 && !s.Messages[1].Streaming
}
