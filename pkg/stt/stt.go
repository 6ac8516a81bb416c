// Package stt converts a finished utterance into text.
//
// The Whisper provider talks to any OpenAI-compatible /audio/transcriptions
// endpoint (OpenAI, faster-whisper-server, whisper.cpp server, vLLM). Audio
// the engine cannot make sense of yields an empty transcript rather than an
// error; only transport and service failures are reported as errors.
package stt

import (
	"context"
	"errors"
	"fmt"
)

// Provider transcribes utterances.
type Provider interface {
	// Transcribe returns the text spoken in u, or "" when nothing was recognised.
	Transcribe(ctx context.Context, u Utterance) (string, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Utterance is one finished stretch of caller speech: mono signed 16-bit samples.
type Utterance struct {
	SampleRate int
	Samples    []int16
}

// ErrInvalidUtterance is returned for an utterance with no samples or a non-positive rate.
var ErrInvalidUtterance = errors.New("stt: utterance needs a positive sample rate and at least one sample")

// Validate checks the utterance input constraints.
func (u Utterance) Validate() error {
	if u.SampleRate <= 0 || len(u.Samples) == 0 {
		return fmt.Errorf("%w (rate=%d samples=%d)", ErrInvalidUtterance, u.SampleRate, len(u.Samples))
	}
	return nil
}

// Duration returns the utterance length in seconds.
func (u Utterance) Duration() float64 {
	if u.SampleRate <= 0 {
		return 0
	}
	return float64(len(u.Samples)) / float64(u.SampleRate)
}
