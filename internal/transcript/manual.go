package transcript

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/chadiek/historia/internal/audio"
)

const (
	defaultDemoDelay = 1500 * time.Millisecond
	// RecordingFilename is the multipart filename of uploaded clips.
	RecordingFilename = "recording.wav"
)

// ManualCapturer records until Finish, then uploads the clip for transcription.
// While offline it answers with one of DemoQuestions instead.
type ManualCapturer struct {
	Mic       audio.Microphone
	Uploader  Uploader
	Online    func() bool
	DemoDelay time.Duration

	rngMu sync.Mutex
	rng   *rand.Rand

	mu     sync.Mutex
	active *capture
}

// NewManualCapturer seeds the offline question picker with seed.
func NewManualCapturer(mic audio.Microphone, up Uploader, online func() bool, seed uint64) *ManualCapturer {
	return &ManualCapturer{
		Mic:       mic,
		Uploader:  up,
		Online:    online,
		DemoDelay: defaultDemoDelay,
		rng:       newRand(seed),
	}
}

func (m *ManualCapturer) Strategy() Strategy { return ManualCapture }

type capture struct {
	cancel context.CancelFunc

	mu       sync.Mutex
	stream   io.ReadCloser
	stopping bool
	aborted  bool
}

// Begin opens the microphone and buffers PCM in the background.
func (m *ManualCapturer) Begin(ctx context.Context, h Handler) {
	ctx, cancel := context.WithCancel(ctx)
	c := &capture{cancel: cancel}
	m.mu.Lock()
	prev := m.active
	m.active = c
	m.mu.Unlock()
	if prev != nil {
		prev.abort()
	}
	go m.run(ctx, c, h)
}

// Finish stops recording; the clip is then transcribed.
func (m *ManualCapturer) Finish() {
	m.mu.Lock()
	c := m.active
	m.mu.Unlock()
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stopping = true
	stream := c.stream
	c.mu.Unlock()
	if stream != nil {
		go stream.Close()
	}
}

// Cancel abandons recording and any upload in flight.
func (m *ManualCapturer) Cancel() {
	m.mu.Lock()
	c := m.active
	m.active = nil
	m.mu.Unlock()
	if c != nil {
		c.abort()
	}
}

func (c *capture) abort() {
	c.mu.Lock()
	c.aborted = true
	stream := c.stream
	c.mu.Unlock()
	c.cancel()
	if stream != nil {
		go stream.Close()
	}
}

func (c *capture) isAborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

func (m *ManualCapturer) run(ctx context.Context, c *capture, h Handler) {
	defer func() {
		m.mu.Lock()
		if m.active == c {
			m.active = nil
		}
		m.mu.Unlock()
		c.cancel()
	}()

	stream, err := audio.OpenMicrophone(ctx, m.Mic)
	if err != nil {
		if !c.isAborted() {
			h.error(fmt.Errorf("%w: %v", ErrPermissionDenied, err))
			h.end()
		}
		return
	}
	c.mu.Lock()
	c.stream = stream
	closeNow := c.stopping || c.aborted
	c.mu.Unlock()
	if closeNow {
		go stream.Close()
	}

	var pcm bytes.Buffer
	_, err = io.Copy(&pcm, stream)
	c.mu.Lock()
	stopping, aborted := c.stopping, c.aborted
	c.mu.Unlock()
	if aborted {
		return
	}
	if err != nil && !stopping {
		_ = stream.Close()
		h.error(fmt.Errorf("%w: %v", ErrPermissionDenied, err))
		h.end()
		return
	}

	h.processing()
	text, err := m.transcribe(ctx, pcm.Bytes())
	if c.isAborted() {
		return
	}
	switch {
	case err != nil:
		h.error(err)
	case text != "":
		h.result(text)
	}
	h.end()
}

func (m *ManualCapturer) transcribe(ctx context.Context, pcm []byte) (string, error) {
	if m.Online == nil || !m.Online() {
		t := time.NewTimer(m.demoDelay())
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
		return m.demoQuestion(), nil
	}
	if m.Uploader == nil {
		return "", fmt.Errorf("%w: no transcription endpoint", ErrNetwork)
	}
	wav := audio.EncodeWAV(pcm, audio.SampleRate, audio.Channels)
	text, err := m.Uploader.Transcribe(ctx, wav, RecordingFilename)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		log.Printf("transcribe: upload of %d bytes failed: %v", len(wav), err)
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return text, nil
}

func (m *ManualCapturer) demoQuestion() string {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	if m.rng == nil {
		m.rng = newRand(uint64(time.Now().UnixNano()))
	}
	return DemoQuestions[m.rng.IntN(len(DemoQuestions))]
}

func (m *ManualCapturer) demoDelay() time.Duration {
	if m.DemoDelay > 0 {
		return m.DemoDelay
	}
	return defaultDemoDelay
}
