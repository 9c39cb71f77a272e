package tts

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

// Local voice defaults, relative to each engine's nominal speed and loudness.
const (
	DefaultRate   = 0.9
	DefaultVolume = 0.8
)

// ErrNoVoiceEngine means no local speech engine is installed.
var ErrNoVoiceEngine = errors.New("no local speech engine")

// VoiceInfo describes one installed voice.
type VoiceInfo struct {
	Name   string
	Locale string
}

// CommandVoice speaks through an OS speech command (say, espeak-ng or espeak).
type CommandVoice struct {
	Engine string
	Voice  string
	Rate   float64
	Volume float64
}

// DetectVoice finds a local engine and picks its voice from prefs.
func DetectVoice(ctx context.Context, prefs []string) (*CommandVoice, error) {
	for _, engine := range []string{"say", "espeak-ng", "espeak"} {
		if _, err := exec.LookPath(engine); err != nil {
			continue
		}
		v := &CommandVoice{Engine: engine, Rate: DefaultRate, Volume: DefaultVolume}
		voices, err := listVoices(ctx, engine)
		if err != nil {
			log.Printf("speech: listing %s voices: %v", engine, err)
		}
		if pick, ok := pickVoice(voices, prefs); ok {
			v.Voice = pick.Name
			log.Printf("speech: using %s voice %q (%s)", engine, pick.Name, pick.Locale)
		} else {
			log.Printf("speech: using %s default voice", engine)
		}
		return v, nil
	}
	return nil, ErrNoVoiceEngine
}

// Speak blocks until the utterance finishes or ctx is cancelled.
func (v *CommandVoice) Speak(ctx context.Context, text string) error {
	name, args := v.command(text)
	if err := exec.CommandContext(ctx, name, args...).Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (v *CommandVoice) command(text string) (string, []string) {
	var args []string
	switch v.Engine {
	case "say":
		if v.Voice != "" {
			args = append(args, "-v", v.Voice)
		}
		args = append(args, "-r", strconv.Itoa(int(math.Round(175*v.Rate))))
		text = fmt.Sprintf("[[volm %.2f]] %s", v.Volume, text)
	default:
		if v.Voice != "" {
			args = append(args, "-v", v.Voice)
		}
		args = append(args, "-s", strconv.Itoa(int(math.Round(175*v.Rate))), "-a", strconv.Itoa(int(math.Round(100*v.Volume))))
	}
	args = append(args, "--", text)
	return v.Engine, args
}

func listVoices(ctx context.Context, engine string) ([]VoiceInfo, error) {
	var args []string
	if engine == "say" {
		args = []string{"-v", "?"}
	} else {
		args = []string{"--voices"}
	}
	out, err := exec.CommandContext(ctx, engine, args...).Output()
	if err != nil {
		return nil, err
	}
	if engine == "say" {
		return parseSayVoices(string(out)), nil
	}
	return parseEspeakVoices(string(out)), nil
}

var sayVoiceLine = regexp.MustCompile(`^(.+?)\s+([a-z]{2,3}[_-][A-Za-z0-9]+)\s+#`)

// parseSayVoices reads `say -v ?` lines such as "Alex   en_US   # Hello".
func parseSayVoices(out string) []VoiceInfo {
	var voices []VoiceInfo
	for _, line := range strings.Split(out, "\n") {
		m := sayVoiceLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		voices = append(voices, VoiceInfo{Name: strings.TrimSpace(m[1]), Locale: normalizeLocale(m[2])})
	}
	return voices
}

// parseEspeakVoices reads the `espeak --voices` table:
// "Pty Language Age/Gender VoiceName File Other".
func parseEspeakVoices(out string) []VoiceInfo {
	var voices []VoiceInfo
	for i, line := range strings.Split(out, "\n") {
		f := strings.Fields(line)
		if i == 0 || len(f) < 4 {
			continue
		}
		voices = append(voices, VoiceInfo{Name: f[3], Locale: normalizeLocale(f[1])})
	}
	return voices
}

// normalizeLocale turns en_us or en-us into en-US.
func normalizeLocale(s string) string {
	s = strings.ReplaceAll(s, "_", "-")
	lang, region, ok := strings.Cut(s, "-")
	if !ok {
		return strings.ToLower(s)
	}
	return strings.ToLower(lang) + "-" + strings.ToUpper(region)
}

// pickVoice returns the first voice whose name contains, or whose locale equals,
// any preference.
func pickVoice(voices []VoiceInfo, prefs []string) (VoiceInfo, bool) {
	for _, v := range voices {
		for _, p := range prefs {
			if p == "" {
				continue
			}
			if strings.Contains(v.Name, p) || v.Locale == normalizeLocale(p) {
				return v, true
			}
		}
	}
	return VoiceInfo{}, false
}
