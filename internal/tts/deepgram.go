package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"

	"github.com/chadiek/historia/internal/audio"
)

const (
	deepgramSampleRate = 48000
	deepgramIdleWindow = 400 * time.Millisecond
	deepgramDeadline   = 12 * time.Second
)

// DeepgramRenderer renders replies through Deepgram's websocket speak API and
// returns them as a mono 48 kHz WAV clip.
type DeepgramRenderer struct {
	apiKey string
	model  string
}

func NewDeepgramRenderer(apiKey, model string) *DeepgramRenderer {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramRenderer{apiKey: apiKey, model: model}
}

// Synthesize collects linear16 audio until the stream goes idle.
func (d *DeepgramRenderer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if d.apiKey == "" {
		return nil, errors.New("deepgram: API key missing")
	}
	if text == "" {
		return nil, errors.New("deepgram: empty text")
	}

	var (
		mu       sync.Mutex
		pcm      bytes.Buffer
		lastRecv time.Time
	)
	cb := &speakCallback{onBinary: func(data []byte) error {
		mu.Lock()
		pcm.Write(data)
		lastRecv = time.Now()
		mu.Unlock()
		return nil
	}}

	options := &clientinterfaces.WSSpeakOptions{
		Model:      d.model,
		Encoding:   "linear16",
		SampleRate: deepgramSampleRate,
	}
	dg, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
	if err != nil {
		return nil, fmt.Errorf("deepgram: create ws client: %w", err)
	}
	defer dg.Stop()

	if ok := dg.Connect(); !ok {
		return nil, errors.New("deepgram: connect failed")
	}
	if err := dg.SpeakWithText(text); err != nil {
		return nil, fmt.Errorf("deepgram: speak text: %w", err)
	}
	if err := dg.Flush(); err != nil {
		log.Printf("deepgram: flush: %v", err)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(deepgramDeadline)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		mu.Lock()
		idle := !lastRecv.IsZero() && time.Since(lastRecv) > deepgramIdleWindow
		mu.Unlock()
		if idle || time.Now().After(deadline) {
			break
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if pcm.Len() == 0 {
		return nil, errors.New("deepgram: no audio received")
	}
	return audio.EncodeWAV(pcm.Bytes(), deepgramSampleRate, 1), nil
}

type speakCallback struct{ onBinary func([]byte) error }

func (s *speakCallback) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *speakCallback) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *speakCallback) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *speakCallback) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *speakCallback) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *speakCallback) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *speakCallback) UnhandledEvent([]byte) error                    { return nil }
func (s *speakCallback) Error(*msginterfaces.ErrorResponse) error {
	log.Printf("deepgram: error response from speak stream")
	return nil
}
func (s *speakCallback) Binary(data []byte) error {
	if s.onBinary != nil && len(data) > 0 {
		return s.onBinary(data)
	}
	return nil
}
