package agent

import (
	"errors"
	"fmt"
)

// Intent guards.
var (
	ErrAlreadyRecording  = errors.New("a recording is already in progress")
	ErrAlreadyGenerating = errors.New("a response is already being generated")
	ErrEmptyMessage      = errors.New("message is empty")
	ErrUnknownChat       = errors.New("unknown chat")
	ErrUnknownMessage    = errors.New("unknown message")
	ErrNotReplayable     = errors.New("only finished assistant messages can be replayed")
	ErrClosed            = errors.New("session closed")
)

// MicrophoneAccessError is a permission or device failure while starting capture.
type MicrophoneAccessError struct{ Err error }

func (e *MicrophoneAccessError) Error() string { return fmt.Sprintf("microphone access: %v", e.Err) }
func (e *MicrophoneAccessError) Unwrap() error { return e.Err }

// RecognitionError is a failure of the speech engine itself.
type RecognitionError struct{ Err error }

func (e *RecognitionError) Error() string { return fmt.Sprintf("speech recognition: %v", e.Err) }
func (e *RecognitionError) Unwrap() error { return e.Err }

// TranscriptionUploadError is a failed upload of a captured clip.
type TranscriptionUploadError struct{ Err error }

func (e *TranscriptionUploadError) Error() string { return fmt.Sprintf("transcription upload: %v", e.Err) }
func (e *TranscriptionUploadError) Unwrap() error { return e.Err }

// ChatRequestError is a failed chat call. It never reaches the user as such;
// an apology message is shown instead.
type ChatRequestError struct{ Err error }

func (e *ChatRequestError) Error() string { return fmt.Sprintf("chat request: %v", e.Err) }
func (e *ChatRequestError) Unwrap() error { return e.Err }

// UserMessage is the banner text for a recording-path error.
func UserMessage(err error) string {
	var (
		mic    *MicrophoneAccessError
		rec    *RecognitionError
		upload *TranscriptionUploadError
	)
	switch {
	case errors.As(err, &mic):
		return "Failed to access microphone. Please check permissions."
	case errors.As(err, &upload):
		return "Failed to transcribe audio. Please try again."
	case errors.As(err, &rec):
		return fmt.Sprintf("Speech recognition error: %v", rec.Err)
	}
	return err.Error()
}

var errEmptyReply = errors.New("backend returned an empty reply")
