package agent

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/chadiek/historia/internal/conversation"
	"github.com/chadiek/historia/internal/loop"
)

// Streamer reveals a finished reply word by word on the loop.
type Streamer struct {
	loop     *loop.Loop
	store    *conversation.Store
	rng      *rand.Rand
	min, max time.Duration
	onUpdate func()

	timers map[string]*loop.Timer
}

// NewStreamer paces tokens by a random delay in [min, max].
func NewStreamer(l *loop.Loop, store *conversation.Store, rng *rand.Rand, min, max time.Duration, onUpdate func()) *Streamer {
	return &Streamer{
		loop:     l,
		store:    store,
		rng:      rng,
		min:      min,
		max:      max,
		onUpdate: onUpdate,
		timers:   make(map[string]*loop.Timer),
	}
}

// Reveal appends the whitespace-separated tokens of text to messageID, one per
// step. Each step is skipped when sessionID is no longer active. done reports
// whether the whole text was revealed.
func (s *Streamer) Reveal(sessionID, messageID, text string, done func(completed bool)) {
	tokens := strings.Fields(text)
	finish := func(completed bool) {
		delete(s.timers, messageID)
		if done != nil {
			done(completed)
		}
	}
	if len(tokens) == 0 {
		s.store.Update(messageID, func(m *conversation.Message) { m.Streaming = false })
		finish(true)
		return
	}

	var step func(i int)
	step = func(i int) {
		if s.store.ActiveID() != sessionID {
			finish(false)
			return
		}
		last := i == len(tokens)-1
		ok := s.store.Update(messageID, func(m *conversation.Message) {
			if i > 0 {
				m.Text += " "
			}
			m.Text += tokens[i]
			if last {
				m.Streaming = false
			}
		})
		if !ok {
			finish(false)
			return
		}
		if s.onUpdate != nil {
			s.onUpdate()
		}
		if last {
			finish(true)
			return
		}
		s.timers[messageID] = s.loop.AfterFunc(s.delay(), func() { step(i + 1) })
	}
	step(0)
}

// CancelAll stops every reveal in flight. Their done callbacks do not run.
func (s *Streamer) CancelAll() {
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// Active reports how many reveals are in flight.
func (s *Streamer) Active() int { return len(s.timers) }

func (s *Streamer) delay() time.Duration {
	if s.max <= s.min {
		return s.min
	}
	return s.min + time.Duration(s.rng.Int64N(int64(s.max-s.min)))
}
