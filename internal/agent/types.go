package agent

import (
	"context"

	"github.com/chadiek/historia/internal/conversation"
	"github.com/chadiek/historia/internal/gateway"
	"github.com/chadiek/historia/internal/tts"
)

// ChatBackend answers one chat turn.
type ChatBackend interface {
	Chat(ctx context.Context, message string, category conversation.Category, sessionID string) (gateway.ChatReply, error)
}

// ConnectivitySource reports the last probed backend reachability.
type ConnectivitySource interface {
	State() gateway.Connectivity
}

// SpeechOutput is the single audio output. done is not called for utterances
// superseded by Stop or a later Speak.
type SpeechOutput interface {
	Speak(text string, done func(error))
	Stop()
	Mode() tts.Mode
}
