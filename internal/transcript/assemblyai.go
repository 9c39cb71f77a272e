package transcript

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gorilla/websocket"

	"github.com/chadiek/historia/internal/audio"
)

// DefaultStreamingURL is the AssemblyAI v3 realtime endpoint.
const DefaultStreamingURL = "wss://streaming.assemblyai.com/v3/ws"

// SilenceThreshold is the inactivity window after the last partial before the
// utterance is considered complete.
const SilenceThreshold = 700 * time.Millisecond

// ContinuationExtension is added to the silence window when the last word
// suggests the speaker will continue ("and", "or", "if").
const ContinuationExtension = 1200 * time.Millisecond

const (
	defaultNoSpeechTimeout = 8 * time.Second
	terminateFallback      = 2 * time.Second
	chunkBytes             = 3200 // 100ms of 16kHz mono s16le
)

// LiveRecognizer streams microphone PCM to AssemblyAI and resolves a single
// utterance: no continuous mode, one final transcript per capture.
type LiveRecognizer struct {
	APIKey          string
	Endpoint        string
	Mic             audio.Microphone
	Silence         time.Duration
	NoSpeechTimeout time.Duration

	mu     sync.Mutex
	active *liveSession
}

// NewLiveRecognizer returns a recognizer with default timings.
func NewLiveRecognizer(apiKey string, mic audio.Microphone) *LiveRecognizer {
	return &LiveRecognizer{
		APIKey:          apiKey,
		Endpoint:        DefaultStreamingURL,
		Mic:             mic,
		Silence:         SilenceThreshold,
		NoSpeechTimeout: defaultNoSpeechTimeout,
	}
}

func (r *LiveRecognizer) Strategy() Strategy { return LiveRecognition }

// Begin opens the microphone and the streaming session in the background.
func (r *LiveRecognizer) Begin(ctx context.Context, h Handler) {
	ctx, cancel := context.WithCancel(ctx)
	s := &liveSession{rec: r, h: h, cancel: cancel}
	r.mu.Lock()
	prev := r.active
	r.active = s
	r.mu.Unlock()
	if prev != nil {
		prev.abort()
	}
	go s.run(ctx)
}

// Finish stops the microphone and asks the engine for its final transcript.
func (r *LiveRecognizer) Finish() {
	if s := r.current(); s != nil {
		s.finish()
	}
}

// Cancel drops the capture in progress without reporting.
func (r *LiveRecognizer) Cancel() {
	r.mu.Lock()
	s := r.active
	r.active = nil
	r.mu.Unlock()
	if s != nil {
		s.abort()
	}
}

func (r *LiveRecognizer) current() *liveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *LiveRecognizer) release(s *liveSession) {
	r.mu.Lock()
	if r.active == s {
		r.active = nil
	}
	r.mu.Unlock()
}

func (r *LiveRecognizer) dial(ctx context.Context) (*websocket.Conn, error) {
	if r.APIKey == "" {
		return nil, errors.New("assemblyai: API key is empty")
	}
	endpoint := r.Endpoint
	if endpoint == "" {
		endpoint = DefaultStreamingURL
	}
	params := url.Values{}
	params.Set("sample_rate", strconv.Itoa(audio.SampleRate))
	params.Set("encoding", "pcm_s16le")
	params.Set("format_turns", "true")
	headers := http.Header{"Authorization": {r.APIKey}}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, endpoint+"?"+params.Encode(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("assemblyai: dial: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("assemblyai: dial: %w", err)
	}
	return conn, nil
}

type beginMessage struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Transcript    string `json:"transcript"`
	EndOfTurn     bool   `json:"end_of_turn"`
	TurnFormatted bool   `json:"turn_is_formatted"`
}

type terminationMessage struct {
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Error string `json:"error"`
}

// liveSession is one capture. Timers and the socket are released on every exit path.
type liveSession struct {
	rec    *LiveRecognizer
	h      Handler
	cancel context.CancelFunc

	wmu  sync.Mutex // serializes websocket writes
	conn *websocket.Conn

	mu         sync.Mutex
	stream     io.ReadCloser
	finishing  bool
	terminated bool
	closed     bool
	latest     string
	lastUpdate time.Time
	lastVoice  time.Time
	silence    *time.Timer
	noSpeech   *time.Timer
	fallback   *time.Timer

	endOnce sync.Once
}

func (s *liveSession) run(ctx context.Context) {
	stream, err := audio.OpenMicrophone(ctx, s.rec.Mic)
	if err != nil {
		s.fail(fmt.Errorf("%w: %v", ErrPermissionDenied, err))
		return
	}
	conn, err := s.rec.dial(ctx)
	if err != nil {
		go stream.Close()
		s.fail(fmt.Errorf("%w: %v", ErrNetwork, err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		go stream.Close()
		conn.Close()
		return
	}
	s.stream = stream
	s.wmu.Lock()
	s.conn = conn
	s.wmu.Unlock()
	now := time.Now()
	s.lastUpdate, s.lastVoice = now, now
	s.noSpeech = time.AfterFunc(s.rec.noSpeechTimeout(), s.noSpeechElapsed)
	finishing := s.finishing
	s.mu.Unlock()

	if finishing {
		go stream.Close()
	}
	go s.pump(stream)
	s.read(conn)
}

// pump forwards microphone audio until the stream ends, then asks the engine to terminate.
func (s *liveSession) pump(stream io.Reader) {
	buf := make([]byte, chunkBytes)
	for {
		n, err := stream.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if detectVoiceActivity(chunk) {
				s.mu.Lock()
				s.lastVoice = time.Now()
				s.mu.Unlock()
			}
			if werr := s.write(websocket.BinaryMessage, chunk); werr != nil {
				if !s.isClosed() {
					s.fail(fmt.Errorf("%w: send audio: %v", ErrNetwork, werr))
				}
				return
			}
		}
		if err != nil {
			s.mu.Lock()
			expected := s.finishing || s.closed || errors.Is(err, io.EOF)
			s.mu.Unlock()
			if !expected {
				s.fail(fmt.Errorf("%w: %v", ErrPermissionDenied, err))
				return
			}
			s.terminate()
			return
		}
	}
}

func (s *liveSession) read(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.isClosed() {
				return
			}
			s.mu.Lock()
			terminated := s.terminated
			latest := s.latest
			s.mu.Unlock()
			if terminated {
				s.complete(latest)
				return
			}
			s.fail(fmt.Errorf("%w: %v", ErrNetwork, err))
			return
		}
		if s.handle(data) {
			return
		}
	}
}

// handle processes one engine message and reports whether the capture is over.
func (s *liveSession) handle(data []byte) bool {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		log.Printf("assemblyai: bad message: %v", err)
		return false
	}
	switch base.Type {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			log.Printf("assemblyai: session %s began, expires %s", msg.ID, time.Unix(msg.ExpiresAt, 0).Format(time.RFC3339))
		}
	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("assemblyai: bad turn: %v", err)
			return false
		}
		text := strings.TrimSpace(msg.Transcript)
		if msg.EndOfTurn && msg.TurnFormatted && text != "" {
			s.complete(text)
			return true
		}
		if text != "" {
			s.partial(text)
		}
	case "Termination":
		var msg terminationMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			log.Printf("assemblyai: terminated, audio=%.2fs session=%.2fs", msg.AudioDurationSeconds, msg.SessionDurationSeconds)
		}
		s.mu.Lock()
		latest := s.latest
		s.mu.Unlock()
		s.complete(latest)
		return true
	case "Error":
		var msg errorMessage
		_ = json.Unmarshal(data, &msg)
		s.fail(fmt.Errorf("%w: %s", ErrRecognitionFailed, msg.Error))
		return true
	default:
		log.Printf("assemblyai: unknown message type %q", base.Type)
	}
	return false
}

// partial records an interim transcript and restarts the silence window.
func (s *liveSession) partial(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.latest = text
	s.lastUpdate = time.Now()
	if s.noSpeech != nil {
		s.noSpeech.Stop()
		s.noSpeech = nil
	}
	wait := s.thresholdLocked()
	if s.silence == nil {
		s.silence = time.AfterFunc(wait, s.silenceElapsed)
	} else {
		s.silence.Reset(wait)
	}
}

func (s *liveSession) thresholdLocked() time.Duration {
	th := s.rec.silence()
	if isContinuationLikely(s.latest) {
		th += ContinuationExtension
	}
	return th
}

// silenceElapsed finalizes once neither transcript updates nor voice energy
// were seen for the whole window, rescheduling itself otherwise.
func (s *liveSession) silenceElapsed() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	th := s.thresholdLocked()
	now := time.Now()
	sinceText := now.Sub(s.lastUpdate)
	sinceVoice := now.Sub(s.lastVoice)
	var wait time.Duration
	if rem := th - sinceText; rem > wait {
		wait = rem
	}
	if rem := th - sinceVoice; rem > wait {
		wait = rem
	}
	if wait > 0 {
		if wait < 10*time.Millisecond {
			wait = 10 * time.Millisecond
		}
		s.silence.Reset(wait)
		s.mu.Unlock()
		return
	}
	latest := s.latest
	s.mu.Unlock()
	s.complete(latest)
}

func (s *liveSession) noSpeechElapsed() {
	s.mu.Lock()
	idle := s.latest == "" && !s.closed
	s.mu.Unlock()
	if idle {
		log.Printf("assemblyai: no speech detected")
		s.complete("")
	}
}

// finish stops capture; the pump then sends Terminate.
func (s *liveSession) finish() {
	s.mu.Lock()
	if s.closed || s.finishing {
		s.mu.Unlock()
		return
	}
	s.finishing = true
	stream := s.stream
	s.mu.Unlock()
	if stream != nil {
		go stream.Close()
	}
}

func (s *liveSession) terminate() {
	s.mu.Lock()
	if s.closed || s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	s.fallback = time.AfterFunc(terminateFallback, func() {
		s.mu.Lock()
		latest := s.latest
		s.mu.Unlock()
		s.complete(latest)
	})
	s.mu.Unlock()
	if err := s.writeJSON(map[string]string{"type": "Terminate"}); err != nil {
		log.Printf("assemblyai: terminate: %v", err)
	}
}

func (s *liveSession) write(kind int, data []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if s.conn == nil {
		return errors.New("not connected")
	}
	return s.conn.WriteMessage(kind, data)
}

func (s *liveSession) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, b)
}

func (s *liveSession) complete(text string) {
	s.endOnce.Do(func() {
		s.shutdown()
		if text != "" {
			s.h.processing()
			s.h.result(text)
		}
		s.h.end()
	})
}

func (s *liveSession) fail(err error) {
	s.endOnce.Do(func() {
		s.shutdown()
		s.h.error(err)
		s.h.end()
	})
}

func (s *liveSession) abort() {
	s.endOnce.Do(s.shutdown)
}

// shutdown releases timers, the microphone and the socket.
func (s *liveSession) shutdown() {
	s.mu.Lock()
	s.closed = true
	for _, t := range []*time.Timer{s.silence, s.noSpeech, s.fallback} {
		if t != nil {
			t.Stop()
		}
	}
	s.silence, s.noSpeech, s.fallback = nil, nil, nil
	stream := s.stream
	s.mu.Unlock()

	s.cancel()
	if stream != nil {
		go stream.Close()
	}
	s.wmu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.wmu.Unlock()
	s.rec.release(s)
}

func (s *liveSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (r *LiveRecognizer) silence() time.Duration {
	if r.Silence > 0 {
		return r.Silence
	}
	return SilenceThreshold
}

func (r *LiveRecognizer) noSpeechTimeout() time.Duration {
	if r.NoSpeechTimeout > 0 {
		return r.NoSpeechTimeout
	}
	return defaultNoSpeechTimeout
}

// detectVoiceActivity reports whether a 16-bit little-endian mono buffer carries
// voice energy above a fixed RMS threshold.
func detectVoiceActivity(pcm []byte) bool {
	const minSamples = 160 // 10ms at 16kHz
	if len(pcm) < minSamples*2 {
		return false
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return false
	}
	const voiceRMS = 250.0
	return math.Sqrt(sumSquares/float64(count)) >= voiceRMS
}

func isContinuationLikely(text string) bool {
	w := lastWord(text)
	if w == "" {
		return false
	}
	_, ok := continuationWords[w]
	return ok
}

func lastWord(text string) string {
	fields := strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	// coordinating conjunctions
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	// subordinating conjunctions
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	// fillers
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	// prepositions
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}
