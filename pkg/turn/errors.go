package turn

import (
	"errors"
	"fmt"
)

// Kind classifies a turn failure by the stage that produced it.
type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindTranscription
	KindReplyGeneration
	KindSynthesis
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindTranscription:
		return "transcription"
	case KindReplyGeneration:
		return "reply_generation"
	case KindSynthesis:
		return "synthesis"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by Pipeline.Run.
type Error struct {
	Kind      Kind
	State     State // state the turn was in when it failed
	SessionID string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("turn: %s error", e.Kind)
	}
	return fmt.Sprintf("turn: %s error in %s (session %s): %v", e.Kind, e.State, e.SessionID, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels below, so errors.Is(err, ErrSynthesis) works
// on any synthesis failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrConfiguration   = &Error{Kind: KindConfiguration}
	ErrTranscription   = &Error{Kind: KindTranscription}
	ErrReplyGeneration = &Error{Kind: KindReplyGeneration}
	ErrSynthesis       = &Error{Kind: KindSynthesis}
)

// Configuration causes.
var (
	ErrMissingLLMToken = errors.New("HF Token is required")
	ErrMissingTTSToken = errors.New("RIME Token is required")
)

// KindOf returns the kind of err, or 0 if err is not a turn error.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return 0
}

// UserMessage renders err as the text shown to the caller.
func UserMessage(err error) string {
	var te *Error
	if !errors.As(err, &te) {
		return err.Error()
	}
	if te.Err == nil {
		return te.Error()
	}
	switch te.Kind {
	case KindConfiguration:
		return te.Err.Error()
	case KindTranscription:
		return fmt.Sprintf("Error occurred while transcribing speech: %v", te.Err)
	case KindReplyGeneration:
		return fmt.Sprintf("Error occurred while generating a reply: %v", te.Err)
	case KindSynthesis:
		return fmt.Sprintf("Error occurred while streaming speech: %v", te.Err)
	default:
		return te.Error()
	}
}
