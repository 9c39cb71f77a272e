package agent

import (
	"context"
	"log"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/chadiek/historia/internal/conversation"
	"github.com/chadiek/historia/internal/gateway"
	"github.com/chadiek/historia/internal/loop"
	"github.com/chadiek/historia/internal/transcript"
	"github.com/chadiek/historia/internal/tts"
)

// ApologyText replaces the reply when a chat turn fails.
const ApologyText = "I apologize, but I'm having trouble connecting right now. Please check that the Historia backend is running and try again, or continue in demo mode."

// demoResponses answer while the backend is unreachable.
var demoResponses = map[conversation.Category]string{
	conversation.CategoryPhilosophy: "Philosophy invites us to question our fundamental assumptions about existence, knowledge, and ethics. From ancient Stoics like Marcus Aurelius who taught us that 'you have power over your mind—not outside events,' to modern thinkers exploring consciousness and meaning, philosophical inquiry helps us live more examined lives. What specific philosophical question intrigues you most?",
	conversation.CategoryHistory:    "History reveals the fascinating tapestry of human civilization—from the rise and fall of empires to the quiet revolutions of ideas that shaped our world. Each era offers lessons about human nature, power, and progress. The patterns of history often rhyme, as Mark Twain suggested, showing us both our potential for greatness and our recurring challenges.",
	conversation.CategoryGeneral:    "Every great question bridges philosophy and history, revealing how human thought has evolved across cultures and centuries. Whether exploring ethics, politics, or the meaning of existence, we can trace these conversations through time—from ancient dialogues in Athens to modern debates about technology and consciousness.",
}

// DemoResponse is the offline reply for a category.
func DemoResponse(c conversation.Category) string {
	if r, ok := demoResponses[c]; ok {
		return r
	}
	return demoResponses[conversation.CategoryGeneral]
}

// Options tune timing and defaults. Zero durations take the defaults below.
type Options struct {
	SpeechEnabled    bool
	AutoSend         bool
	AutosaveInterval time.Duration
	DemoDelayMin     time.Duration
	DemoDelayMax     time.Duration
	TokenDelayMin    time.Duration
	TokenDelayMax    time.Duration
	SpeakDelay       time.Duration
	Seed             uint64
}

func (o *Options) applyDefaults() {
	if o.DemoDelayMin == 0 && o.DemoDelayMax == 0 {
		o.DemoDelayMin, o.DemoDelayMax = time.Second, 3*time.Second
	}
	if o.TokenDelayMin == 0 && o.TokenDelayMax == 0 {
		o.TokenDelayMin, o.TokenDelayMax = 30*time.Millisecond, 100*time.Millisecond
	}
	if o.SpeakDelay == 0 {
		o.SpeakDelay = 300 * time.Millisecond
	}
	if o.Seed == 0 {
		o.Seed = uint64(time.Now().UnixNano())
	}
}

// Deps are the collaborators of an Orchestrator. Source and Speech may be nil.
type Deps struct {
	Chat         ChatBackend
	Connectivity ConnectivitySource
	Source       transcript.Source
	Speech       SpeechOutput
}

// Orchestrator is the session actor: every intent, timer and network completion
// is applied on its loop. Exported methods are safe from any goroutine except the loop.
type Orchestrator struct {
	loop     *loop.Loop
	store    *conversation.Store
	chat     ChatBackend
	conn     ConnectivitySource
	speech   SpeechOutput
	recorder *Recorder
	streamer *Streamer
	opts     Options
	rng      *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc

	input         string
	errMsg        string
	generating    bool
	turn          uint64
	replyTimer    *loop.Timer
	speechEnabled bool
	speaking      bool
	speechToken   uint64
	speakTimer    *loop.Timer
	autosave      *loop.Timer
	closed        bool

	subs   map[int]chan State
	nextID int
}

// New builds an Orchestrator. Call Start once the loop is running.
func New(l *loop.Loop, store *conversation.Store, deps Deps, opts Options) *Orchestrator {
	opts.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		loop:          l,
		store:         store,
		chat:          deps.Chat,
		conn:          deps.Connectivity,
		speech:        deps.Speech,
		opts:          opts,
		rng:           rand.New(rand.NewPCG(opts.Seed, opts.Seed>>1|1)),
		ctx:           ctx,
		cancel:        cancel,
		speechEnabled: opts.SpeechEnabled,
		subs:          make(map[int]chan State),
	}
	o.recorder = NewRecorder(l, deps.Source, RecorderEvents{
		OnTranscript: o.onTranscript,
		OnError:      o.onRecorderError,
		OnChange:     o.publish,
	})
	o.streamer = NewStreamer(l, store, o.rng, opts.TokenDelayMin, opts.TokenDelayMax, o.publish)
	return o
}

// Start arms the autosave ticker.
func (o *Orchestrator) Start() {
	o.loop.Do(func() {
		if o.opts.AutosaveInterval > 0 {
			o.autosave = o.loop.Every(o.opts.AutosaveInterval, o.autosaveTick)
		}
	})
}

// Close tears down capture, reveals, speech and timers, then saves the active session.
func (o *Orchestrator) Close() {
	o.loop.Do(func() {
		if o.closed {
			return
		}
		o.closed = true
		o.recorder.Cancel()
		o.abandonTurn()
		o.autosave.Stop()
		o.store.SaveActive(context.Background())
		for id, ch := range o.subs {
			close(ch)
			delete(o.subs, id)
		}
	})
	o.cancel()
}

func (o *Orchestrator) do(fn func() error) error {
	var err error
	ok := o.loop.Do(func() {
		if o.closed {
			err = ErrClosed
			return
		}
		err = fn()
	})
	if !ok {
		return ErrClosed
	}
	return err
}

// Send submits text as a user turn.
func (o *Orchestrator) Send(text string) error { return o.do(func() error { return o.send(text) }) }

// SetInput replaces the input draft.
func (o *Orchestrator) SetInput(text string) error {
	return o.do(func() error {
		o.input = text
		o.publish()
		return nil
	})
}

// StartRecording begins capturing speech.
func (o *Orchestrator) StartRecording() error {
	return o.do(func() error {
		o.errMsg = ""
		return o.recorder.Start(o.ctx)
	})
}

// StopRecording finishes the capture in progress.
func (o *Orchestrator) StopRecording() error {
	return o.do(func() error {
		o.recorder.Stop()
		return nil
	})
}

// NewChat saves the active session and starts an empty one.
func (o *Orchestrator) NewChat() error {
	return o.do(func() error {
		o.abandonTurn()
		o.store.NewChat(o.ctx)
		o.input = ""
		o.errMsg = ""
		o.publish()
		return nil
	})
}

// SelectChat makes a saved session active.
func (o *Orchestrator) SelectChat(id string) error {
	return o.do(func() error {
		if id == o.store.ActiveID() {
			return nil
		}
		if !o.store.Has(id) {
			return ErrUnknownChat
		}
		o.abandonTurn()
		o.store.Select(o.ctx, id)
		o.publish()
		return nil
	})
}

// DeleteChat removes a session; deleting the active one starts a fresh session.
func (o *Orchestrator) DeleteChat(id string) error {
	return o.do(func() error {
		if id != o.store.ActiveID() && !o.store.Has(id) {
			return ErrUnknownChat
		}
		if id == o.store.ActiveID() {
			o.abandonTurn()
		}
		o.store.Delete(o.ctx, id)
		o.publish()
		return nil
	})
}

// ClearHistory deletes every session and starts a fresh one.
func (o *Orchestrator) ClearHistory() error {
	return o.do(func() error {
		o.abandonTurn()
		o.store.Clear(o.ctx)
		o.publish()
		return nil
	})
}

// ToggleSpeechOutput flips automatic speech of replies. Turning it off silences output.
func (o *Orchestrator) ToggleSpeechOutput() error {
	return o.do(func() error {
		o.speechEnabled = !o.speechEnabled
		if !o.speechEnabled {
			o.stopSpeech()
		}
		o.publish()
		return nil
	})
}

// StopSpeech silences output. It is safe when nothing is playing.
func (o *Orchestrator) StopSpeech() error {
	return o.do(func() error {
		o.stopSpeech()
		o.publish()
		return nil
	})
}

// Replay speaks a finished assistant message again.
func (o *Orchestrator) Replay(messageID string) error {
	return o.do(func() error {
		m, ok := o.store.Message(messageID)
		if !ok {
			return ErrUnknownMessage
		}
		if m.Sender != conversation.SenderAssistant || m.Streaming {
			return ErrNotReplayable
		}
		if o.speechEnabled {
			o.speak(m.Text)
		}
		return nil
	})
}

// DismissError clears the error banner.
func (o *Orchestrator) DismissError() error {
	return o.do(func() error {
		o.errMsg = ""
		o.publish()
		return nil
	})
}

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot() State {
	var s State
	o.loop.Do(func() { s = o.snapshot() })
	return s
}

// Subscribe delivers the latest State after every change. Slow readers only see
// the newest snapshot. The channel closes on Close or when cancel is called.
func (o *Orchestrator) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	var id int
	ok := o.loop.Do(func() {
		if o.closed {
			close(ch)
			return
		}
		id = o.nextID
		o.nextID++
		o.subs[id] = ch
		ch <- o.snapshot()
	})
	if !ok {
		return closedStates(), func() {}
	}
	cancel := func() {
		o.loop.Do(func() {
			if c, ok := o.subs[id]; ok {
				close(c)
				delete(o.subs, id)
			}
		})
	}
	return ch, cancel
}

func closedStates() <-chan State {
	ch := make(chan State)
	close(ch)
	return ch
}

// ConnectivityChanged must be called on the loop when connectivity changes.
func (o *Orchestrator) ConnectivityChanged(c gateway.Connectivity) {
	log.Printf("session: backend %s", c)
	o.publish()
}

func (o *Orchestrator) send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if o.generating {
		return ErrAlreadyGenerating
	}
	category := conversation.Classify(text)
	o.store.Append(conversation.Message{
		ID:        o.store.NewID(),
		Text:      text,
		Sender:    conversation.SenderUser,
		Timestamp: time.Now(),
		Category:  category,
	})
	o.input = ""
	o.errMsg = ""
	o.generating = true
	turn := o.turn
	sessionID := o.store.ActiveID()

	if o.online() {
		ctx := o.ctx
		go func() {
			reply, err := o.chat.Chat(ctx, text, category, sessionID)
			o.loop.Post(func() { o.onReply(turn, sessionID, category, reply, err) })
		}()
	} else {
		reply := gateway.ChatReply{Response: DemoResponse(category), Category: string(category)}
		o.replyTimer = o.loop.AfterFunc(o.demoDelay(), func() {
			o.onReply(turn, sessionID, category, reply, nil)
		})
	}
	o.publish()
	return nil
}

func (o *Orchestrator) onReply(turn uint64, sessionID string, local conversation.Category, reply gateway.ChatReply, err error) {
	if turn != o.turn || o.closed {
		return
	}
	o.replyTimer = nil
	if err == nil && strings.TrimSpace(reply.Response) == "" {
		err = errEmptyReply
	}
	if err != nil {
		log.Printf("session: %v", &ChatRequestError{Err: err})
		o.store.Append(conversation.Message{
			ID:        o.store.NewID(),
			Text:      ApologyText,
			Sender:    conversation.SenderAssistant,
			Timestamp: time.Now(),
			Category:  conversation.CategoryGeneral,
		})
		o.generating = false
		o.publish()
		return
	}

	category := local
	if c, ok := conversation.ParseCategory(reply.Category); ok {
		category = c
	}
	id := o.store.NewID()
	o.store.Append(conversation.Message{
		ID:        id,
		Sender:    conversation.SenderAssistant,
		Timestamp: time.Now(),
		Category:  category,
		Streaming: true,
	})
	o.publish()
	text := reply.Response
	o.streamer.Reveal(sessionID, id, text, func(completed bool) {
		if turn != o.turn {
			return
		}
		o.generating = false
		if completed && o.speechEnabled {
			o.speakTimer.Stop()
			o.speakTimer = o.loop.AfterFunc(o.opts.SpeakDelay, func() { o.speak(text) })
		}
		o.publish()
	})
}

// abandonTurn detaches everything tied to the visible session: pending replies
// become stale, reveals stop and speech is silenced.
func (o *Orchestrator) abandonTurn() {
	o.turn++
	o.generating = false
	o.replyTimer.Stop()
	o.replyTimer = nil
	o.streamer.CancelAll()
	o.stopSpeech()
}

func (o *Orchestrator) speak(text string) {
	if o.speech == nil || o.speech.Mode() == tts.ModeUnavailable || strings.TrimSpace(text) == "" {
		return
	}
	o.speechToken++
	token := o.speechToken
	o.speaking = true
	o.speech.Speak(text, func(err error) {
		o.loop.Post(func() {
			if token != o.speechToken {
				return
			}
			o.speaking = false
			o.publish()
		})
	})
	o.publish()
}

func (o *Orchestrator) stopSpeech() {
	o.speakTimer.Stop()
	o.speakTimer = nil
	o.speechToken++
	o.speaking = false
	if o.speech != nil {
		o.speech.Stop()
	}
}

func (o *Orchestrator) onTranscript(text string) {
	o.input = text
	if o.opts.AutoSend {
		if err := o.send(text); err != nil {
			log.Printf("session: auto-send: %v", err)
		}
	}
	o.publish()
}

func (o *Orchestrator) onRecorderError(err error) {
	o.errMsg = UserMessage(err)
	o.publish()
}

func (o *Orchestrator) autosaveTick() {
	if !o.store.Dirty() {
		return
	}
	o.store.SaveActive(o.ctx)
	o.publish()
}

func (o *Orchestrator) online() bool {
	return o.chat != nil && o.conn != nil && o.conn.State() == gateway.Connected
}

func (o *Orchestrator) demoDelay() time.Duration {
	lo, hi := o.opts.DemoDelayMin, o.opts.DemoDelayMax
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(o.rng.Int64N(int64(hi-lo)))
}

func (o *Orchestrator) snapshot() State {
	s := State{
		SessionID:        o.store.ActiveID(),
		Messages:         o.store.Messages(),
		History:          summarize(o.store.History()),
		Input:            o.input,
		Recording:        o.recorder.State(),
		RecordingSeconds: o.recorder.Seconds(),
		Strategy:         o.recorder.Strategy(),
		Connectivity:     gateway.Disconnected,
		Generating:       o.generating,
		SpeechEnabled:    o.speechEnabled,
		Speaking:         o.speaking,
		SpeechMode:       tts.ModeUnavailable,
		Error:            o.errMsg,
	}
	if s.Messages == nil {
		s.Messages = []conversation.Message{}
	}
	if o.conn != nil {
		s.Connectivity = o.conn.State()
	}
	if o.speech != nil {
		s.SpeechMode = o.speech.Mode()
	}
	if t := o.store.LastSaved(); !t.IsZero() {
		s.LastSaved = &t
	}
	return s
}

// publish pushes a fresh snapshot to every subscriber, replacing any unread one.
func (o *Orchestrator) publish() {
	if len(o.subs) == 0 {
		return
	}
	s := o.snapshot()
	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		ch <- s
	}
}
