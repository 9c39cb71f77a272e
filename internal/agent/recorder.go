package agent

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/chadiek/historia/internal/loop"
	"github.com/chadiek/historia/internal/transcript"
)

// RecordingState is the capture lifecycle: idle -> listening -> processing -> idle.
type RecordingState string

const (
	RecordingIdle       RecordingState = "idle"
	RecordingListening  RecordingState = "listening"
	RecordingProcessing RecordingState = "processing"
)

// RecorderEvents are invoked on the loop.
type RecorderEvents struct {
	OnTranscript func(text string)
	OnError      func(err error)
	OnChange     func()
}

// Recorder owns the microphone lifecycle and its duration ticker.
// All methods must be called on the loop.
type Recorder struct {
	loop   *loop.Loop
	source transcript.Source
	events RecorderEvents
	tick   time.Duration

	state    RecordingState
	seconds  int
	ticker   *loop.Timer
	gen      uint64
}

// NewRecorder binds src to l. src may be nil when no capture path exists.
func NewRecorder(l *loop.Loop, src transcript.Source, ev RecorderEvents) *Recorder {
	return &Recorder{loop: l, source: src, events: ev, tick: time.Second, state: RecordingIdle}
}

func (r *Recorder) State() RecordingState { return r.state }

// Seconds is the elapsed capture time, for display only.
func (r *Recorder) Seconds() int { return r.seconds }

// Strategy is the capture path in use, or "" when none is available.
func (r *Recorder) Strategy() transcript.Strategy {
	if r.source == nil {
		return ""
	}
	return r.source.Strategy()
}

// Start begins a capture. It is rejected unless idle; capability failures are
// reported through OnError and leave the recorder idle.
func (r *Recorder) Start(ctx context.Context) error {
	if r.state != RecordingIdle {
		return ErrAlreadyRecording
	}
	if r.source == nil {
		r.emitError(&MicrophoneAccessError{Err: transcript.ErrPermissionDenied})
		return nil
	}
	r.gen++
	gen := r.gen
	r.state = RecordingListening
	r.seconds = 0
	r.ticker = r.loop.Every(r.tick, func() {
		r.seconds++
		r.changed()
	})
	log.Printf("recorder: listening (%s)", r.source.Strategy())

	r.source.Begin(ctx, transcript.Handler{
		OnProcessing: r.guard(gen, r.onProcessing),
		OnResult: func(text string) {
			r.loop.Post(func() {
				if r.gen == gen {
					r.onResult(text)
				}
			})
		},
		OnError: func(err error) {
			r.loop.Post(func() {
				if r.gen == gen {
					r.onError(err)
				}
			})
		},
		OnEnd: r.guard(gen, r.onEnd),
	})
	r.changed()
	return nil
}

// Stop ends capture. Live recognition resolves on its own; manual capture moves
// to processing while the clip is transcribed. Stop is a no-op unless listening.
func (r *Recorder) Stop() {
	if r.state != RecordingListening {
		return
	}
	r.stopTicker()
	if r.source.Strategy() == transcript.ManualCapture {
		r.state = RecordingProcessing
	}
	r.source.Finish()
	r.changed()
}

// Cancel abandons any capture without reporting and returns to idle.
func (r *Recorder) Cancel() {
	r.gen++
	r.stopTicker()
	if r.source != nil && r.state != RecordingIdle {
		r.source.Cancel()
	}
	r.state = RecordingIdle
}

func (r *Recorder) guard(gen uint64, fn func()) func() {
	return func() {
		r.loop.Post(func() {
			if r.gen == gen {
				fn()
			}
		})
	}
}

func (r *Recorder) onProcessing() {
	r.stopTicker()
	r.state = RecordingProcessing
	r.changed()
}

func (r *Recorder) onResult(text string) {
	log.Printf("recorder: transcript %q", text)
	if r.events.OnTranscript != nil {
		r.events.OnTranscript(text)
	}
}

func (r *Recorder) onError(err error) {
	r.emitError(r.classify(err))
}

func (r *Recorder) onEnd() {
	r.gen++
	r.stopTicker()
	r.state = RecordingIdle
	r.seconds = 0
	r.changed()
}

func (r *Recorder) classify(err error) error {
	switch {
	case errors.Is(err, transcript.ErrPermissionDenied):
		return &MicrophoneAccessError{Err: err}
	case errors.Is(err, transcript.ErrNetwork) && r.Strategy() == transcript.ManualCapture:
		return &TranscriptionUploadError{Err: err}
	default:
		return &RecognitionError{Err: err}
	}
}

func (r *Recorder) emitError(err error) {
	log.Printf("recorder: %v", err)
	if r.events.OnError != nil {
		r.events.OnError(err)
	}
}

func (r *Recorder) stopTicker() {
	r.ticker.Stop()
	r.ticker = nil
}

func (r *Recorder) changed() {
	if r.events.OnChange != nil {
		r.events.OnChange()
	}
}
