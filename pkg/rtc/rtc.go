// Package rtc terminates browser WebRTC sessions for the voice agent.
//
// Each session decodes the caller's Opus audio, segments it into utterances
// with a pause detector, and runs one turn at a time through a Runner. Reply
// audio is resampled to 48 kHz, Opus encoded and paced onto the outbound
// track. History and error events go to the caller over the "events" data
// channel and to an optional EventSink.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-arcana/pkg/history"
	"github.com/teslashibe/go-arcana/pkg/stt"
	"github.com/teslashibe/go-arcana/pkg/turn"
	"github.com/teslashibe/go-arcana/pkg/vad"
)

// Runner runs one turn. *turn.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context, sessionID string, u stt.Utterance, s turn.Settings, out turn.Output) error
}

// Offer is a caller's SDP offer plus the session's turn settings.
type Offer struct {
	Type     string
	SDP      string
	Settings turn.Settings
}

// Answer is the SDP answer for an accepted offer.
type Answer struct {
	Type      string `json:"type"`
	SDP       string `json:"sdp"`
	SessionID string `json:"session_id"`
}

var (
	// ErrInvalidOffer is returned for an offer with the wrong type or no SDP.
	ErrInvalidOffer = errors.New("rtc: invalid offer")

	// ErrTooManySessions is returned when the concurrency limit is reached.
	ErrTooManySessions = errors.New("rtc: too many concurrent sessions")

	// ErrClosed is returned after the manager has been closed.
	ErrClosed = errors.New("rtc: manager closed")

	// ErrWriterClosed is returned when writing to a stopped PacedWriter.
	ErrWriterClosed = errors.New("rtc: audio writer closed")
)

// Event types sent to the caller.
const (
	EventHistory = "history"
	EventError   = "error"
	EventState   = "state"
	EventClosed  = "closed"
)

// Event is a JSON message on the events data channel.
type Event struct {
	Type      string            `json:"type"`
	SessionID string            `json:"session_id"`
	Messages  []history.Message `json:"messages,omitempty"`
	Error     string            `json:"error,omitempty"`
	State     string            `json:"state,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// EventSink receives a copy of every session event.
type EventSink func(Event)

// Config holds manager configuration.
type Config struct {
	ICEServers  []string
	TimeLimit   time.Duration
	Concurrency int
	QueueDepth  int // utterances waiting behind the running turn
	VAD         vad.Config
	EventSink   EventSink
	Logger      *slog.Logger
}

// Option configures a Manager.
type Option func(*Config)

// WithICEServers sets the STUN/TURN URLs offered to peers.
func WithICEServers(urls ...string) Option {
	return func(c *Config) { c.ICEServers = urls }
}

// WithTimeLimit sets the wall-clock lifetime of a session.
func WithTimeLimit(d time.Duration) Option {
	return func(c *Config) { c.TimeLimit = d }
}

// WithConcurrency sets the maximum number of live sessions.
func WithConcurrency(n int) Option {
	return func(c *Config) { c.Concurrency = n }
}

// WithQueueDepth sets how many utterances may wait for the running turn.
func WithQueueDepth(n int) Option {
	return func(c *Config) { c.QueueDepth = n }
}

// WithVAD sets the pause detector configuration.
func WithVAD(cfg vad.Config) Option {
	return func(c *Config) { c.VAD = cfg }
}

// WithEventSink registers fn to receive every session event.
func WithEventSink(fn EventSink) Option {
	return func(c *Config) { c.EventSink = fn }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns a 90 second, five session configuration.
func DefaultConfig() *Config {
	return &Config{
		ICEServers:  []string{"stun:stun.l.google.com:19302"},
		TimeLimit:   90 * time.Second,
		Concurrency: 5,
		QueueDepth:  4,
		VAD:         vad.DefaultConfig(),
		Logger:      slog.Default(),
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.TimeLimit <= 0 {
		return errors.New("rtc: time limit must be positive")
	}
	if c.Concurrency <= 0 {
		return errors.New("rtc: concurrency must be positive")
	}
	if c.QueueDepth <= 0 {
		return errors.New("rtc: queue depth must be positive")
	}
	switch c.VAD.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("rtc: opus cannot decode at %d Hz", c.VAD.SampleRate)
	}
	return c.VAD.Validate()
}
