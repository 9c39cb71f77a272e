package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDeviceUnavailable means no capture device could be opened or it failed while recording.
var ErrDeviceUnavailable = errors.New("audio device unavailable")

// Microphone opens a raw PCM16LE capture stream. Closing the stream stops capture;
// reads then drain what was recorded and end with io.EOF.
type Microphone interface {
	Open(ctx context.Context, sampleRate, channels int) (io.ReadCloser, error)
}

// OpenMicrophone opens m, treating a missing microphone as an unavailable device.
func OpenMicrophone(ctx context.Context, m Microphone) (io.ReadCloser, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: no microphone", ErrDeviceUnavailable)
	}
	return m.Open(ctx, SampleRate, Channels)
}

// CommandMicrophone captures through an OS recorder command.
type CommandMicrophone struct {
	Name string
	args func(sampleRate, channels int) []string
}

var recorders = []struct {
	name string
	args func(sampleRate, channels int) []string
}{
	{"arecord", func(sr, ch int) []string {
		return []string{"-q", "-f", "S16_LE", "-r", strconv.Itoa(sr), "-c", strconv.Itoa(ch), "-t", "raw"}
	}},
	{"rec", func(sr, ch int) []string {
		return []string{"-q", "-t", "raw", "-r", strconv.Itoa(sr), "-c", strconv.Itoa(ch), "-b", "16", "-e", "signed-integer", "-L", "-"}
	}},
}

// DetectMicrophone returns the first recorder found on PATH.
func DetectMicrophone() (*CommandMicrophone, error) {
	for _, r := range recorders {
		if _, err := exec.LookPath(r.name); err == nil {
			return &CommandMicrophone{Name: r.name, args: r.args}, nil
		}
	}
	return nil, fmt.Errorf("%w: no recorder (arecord, rec) on PATH", ErrDeviceUnavailable)
}

// Open starts the recorder.
func (m *CommandMicrophone) Open(ctx context.Context, sampleRate, channels int) (io.ReadCloser, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: no recorder configured", ErrDeviceUnavailable)
	}
	pr, pw := io.Pipe()
	cmd := exec.CommandContext(ctx, m.Name, m.args(sampleRate, channels)...)
	cmd.Stdout = pw
	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, m.Name, err)
	}
	s := &commandStream{cmd: cmd, pr: pr, waitDone: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		if err != nil && !s.stopping.Load() {
			pw.CloseWithError(fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, m.Name, err))
		} else {
			pw.Close()
		}
		close(s.waitDone)
	}()
	return s, nil
}

type commandStream struct {
	cmd      *exec.Cmd
	pr       *io.PipeReader
	stopping atomic.Bool
	waitDone chan struct{}
	once     sync.Once
}

func (s *commandStream) Read(p []byte) (int, error) { return s.pr.Read(p) }

// Close interrupts the recorder so it flushes, killing it if it does not exit promptly.
func (s *commandStream) Close() error {
	s.once.Do(func() {
		s.stopping.Store(true)
		_ = s.cmd.Process.Signal(os.Interrupt)
		select {
		case <-s.waitDone:
		case <-time.After(time.Second):
			_ = s.cmd.Process.Kill()
		}
	})
	return nil
}
