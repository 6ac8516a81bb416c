package turn

import "log/slog"

// EmptyTranscriptPolicy decides what happens when transcription yields no text.
type EmptyTranscriptPolicy int

const (
	// SkipEmpty ends the turn without touching history or calling the model.
	SkipEmpty EmptyTranscriptPolicy = iota

	// ProceedOnEmpty records an empty user message and asks for a reply anyway.
	ProceedOnEmpty
)

// ParseEmptyTranscriptPolicy maps "skip" and "proceed" to a policy.
func ParseEmptyTranscriptPolicy(s string) (EmptyTranscriptPolicy, bool) {
	switch s {
	case "", "skip":
		return SkipEmpty, true
	case "proceed":
		return ProceedOnEmpty, true
	default:
		return SkipEmpty, false
	}
}

// StateObserver is told about every state a turn enters.
type StateObserver func(sessionID string, s State)

type options struct {
	logger     *slog.Logger
	observer   StateObserver
	empty      EmptyTranscriptPolicy
	metrics    *MetricsCollector
	model      string
	maxTokens  int
	sampleRate int
}

// Option configures a Pipeline.
type Option func(*options)

func defaultOptions() options {
	return options{
		logger:     slog.Default(),
		empty:      SkipEmpty,
		sampleRate: DefaultSampleRate,
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithStateObserver registers fn to receive state transitions.
func WithStateObserver(fn StateObserver) Option {
	return func(o *options) { o.observer = fn }
}

// WithEmptyTranscript sets the empty transcript policy.
func WithEmptyTranscript(p EmptyTranscriptPolicy) Option {
	return func(o *options) { o.empty = p }
}

// WithMetrics records every finished turn into c.
func WithMetrics(c *MetricsCollector) Option {
	return func(o *options) { o.metrics = c }
}

// WithModel overrides the generator's default model.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithMaxTokens overrides the generator's default reply length bound.
func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}

// WithSampleRate sets the rate assumed for synthesized audio whose stream
// does not report one.
func WithSampleRate(hz int) Option {
	return func(o *options) {
		if hz > 0 {
			o.sampleRate = hz
		}
	}
}
