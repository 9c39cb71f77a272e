package transcript

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/chadiek/historia/internal/audio"
)

// Failure classes reported through Handler.OnError.
var (
	ErrPermissionDenied  = errors.New("microphone permission denied")
	ErrRecognitionFailed = errors.New("speech recognition failed")
	ErrNetwork           = errors.New("transcription network error")
)

// Strategy names the capture path chosen at startup.
type Strategy string

const (
	LiveRecognition Strategy = "live-recognition"
	ManualCapture   Strategy = "manual-capture"
)

// Handler receives the outcome of one capture. Callbacks arrive on a background
// goroutine. At most one of OnResult/OnError fires, OnProcessing may precede it,
// and OnEnd always fires last exactly once unless the capture was cancelled.
type Handler struct {
	OnProcessing func()
	OnResult     func(text string)
	OnError      func(err error)
	OnEnd        func()
}

func (h Handler) processing() {
	if h.OnProcessing != nil {
		h.OnProcessing()
	}
}

func (h Handler) result(text string) {
	if h.OnResult != nil {
		h.OnResult(text)
	}
}

func (h Handler) error(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

func (h Handler) end() {
	if h.OnEnd != nil {
		h.OnEnd()
	}
}

// Source turns one spoken utterance into text.
type Source interface {
	Strategy() Strategy
	// Begin starts capturing without blocking.
	Begin(ctx context.Context, h Handler)
	// Finish asks the capture in progress to produce its result.
	Finish()
	// Cancel abandons the capture in progress; no further callbacks fire.
	Cancel()
}

// Uploader transcribes a recorded clip server-side.
type Uploader interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// DetectConfig describes the capabilities available at startup.
type DetectConfig struct {
	AssemblyAIKey string
	Locale        string
	Mic           audio.Microphone
	Uploader      Uploader
	Online        func() bool
	Seed          uint64
}

// Detect picks live recognition when a streaming key is configured for an English
// locale, and manual capture otherwise.
func Detect(cfg DetectConfig) Source {
	if cfg.AssemblyAIKey != "" && strings.HasPrefix(strings.ToLower(cfg.Locale), "en") {
		return NewLiveRecognizer(cfg.AssemblyAIKey, cfg.Mic)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return NewManualCapturer(cfg.Mic, cfg.Uploader, cfg.Online, seed)
}

// DemoQuestions are offered in place of a transcription while offline.
var DemoQuestions = []string{
	"What is the meaning of life according to Aristotle?",
	"Tell me about the fall of the Roman Empire",
	"Explain Stoic philosophy",
	"What can history teach us about leadership?",
	"How did ancient philosophers view happiness?",
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
