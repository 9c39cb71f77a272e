package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
)

// Player plays a complete audio clip, returning when playback ends or ctx is cancelled.
type Player interface {
	Play(ctx context.Context, clip []byte) error
}

// CommandPlayer plays clips through an OS player command reading from a temp file.
type CommandPlayer struct {
	Name string
	Args []string
}

var players = []CommandPlayer{
	{Name: "afplay"},
	{Name: "paplay"},
	{Name: "aplay", Args: []string{"-q"}},
	{Name: "ffplay", Args: []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}},
}

// DetectPlayer returns the first player found on PATH.
func DetectPlayer() (*CommandPlayer, error) {
	for _, p := range players {
		if _, err := exec.LookPath(p.Name); err == nil {
			p := p
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: no player (afplay, paplay, aplay, ffplay) on PATH", ErrDeviceUnavailable)
}

// Play writes clip to a temp file, plays it, and removes the file.
func (p *CommandPlayer) Play(ctx context.Context, clip []byte) error {
	ext := ".mp3"
	if IsWAV(clip) {
		ext = ".wav"
	}
	f, err := os.CreateTemp("", "historia-*"+ext)
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(clip); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	args := append(append([]string{}, p.Args...), f.Name())
	if err := exec.CommandContext(ctx, p.Name, args...).Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", p.Name, err)
	}
	return nil
}
