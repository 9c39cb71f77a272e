package tts

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/chadiek/historia/internal/audio"
)

// ErrUnavailable means neither local nor remote speech can run right now.
var ErrUnavailable = errors.New("speech output unavailable")

// Mode is the speech path chosen at startup.
type Mode string

const (
	ModeLocal       Mode = "local"
	ModeRemote      Mode = "remote"
	ModeUnavailable Mode = "unavailable"
)

// Voice speaks text on the local device, blocking until done.
type Voice interface {
	Speak(ctx context.Context, text string) error
}

// Renderer turns text into a playable clip.
type Renderer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Speaker is the single audio output. Starting an utterance always stops the
// previous one first.
type Speaker struct {
	voice    Voice
	renderer Renderer
	player   audio.Player
	online   func() bool

	mu       sync.Mutex
	gen      uint64
	cancel   context.CancelFunc
	finished chan struct{}
}

// NewSpeaker prefers voice, falling back to renderer+player while online.
// Any argument may be nil.
func NewSpeaker(voice Voice, renderer Renderer, player audio.Player, online func() bool) *Speaker {
	return &Speaker{voice: voice, renderer: renderer, player: player, online: online}
}

// Mode reports which path Speak will take.
func (s *Speaker) Mode() Mode {
	switch {
	case s.voice != nil:
		return ModeLocal
	case s.renderer != nil && s.player != nil:
		return ModeRemote
	default:
		return ModeUnavailable
	}
}

// Speak starts text in the background. done runs on a background goroutine when
// the utterance ends, unless Stop or a later Speak superseded it.
func (s *Speaker) Speak(text string, done func(error)) {
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	gen := s.gen
	prev := s.finished
	s.cancel, s.finished = cancel, finished
	s.mu.Unlock()

	go func() {
		defer close(finished)
		if prev != nil {
			<-prev
		}
		err := s.render(ctx, text)
		cancel()

		s.mu.Lock()
		current := s.gen == gen
		if current {
			s.cancel = nil
		}
		s.mu.Unlock()
		if !current {
			return
		}
		if err != nil {
			log.Printf("speech: %v", err)
		}
		if done != nil {
			done(err)
		}
	}()
}

func (s *Speaker) render(ctx context.Context, text string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if s.voice != nil {
		return s.voice.Speak(ctx, text)
	}
	if s.renderer == nil || s.player == nil || s.online == nil || !s.online() {
		return ErrUnavailable
	}
	clip, err := s.renderer.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	return s.player.Play(ctx, clip)
}

// Stop silences the current utterance. It is idempotent and never calls done.
func (s *Speaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
}

// Playing reports whether an utterance is in progress.
func (s *Speaker) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Wait blocks until the last started utterance has fully released the output.
func (s *Speaker) Wait() {
	s.mu.Lock()
	f := s.finished
	s.mu.Unlock()
	if f != nil {
		<-f
	}
}
