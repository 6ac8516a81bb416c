package history

import (
	"log/slog"
	"time"
)

// DefaultTTL is how long an idle session's history is retained.
const DefaultTTL = 30 * time.Minute

const defaultSystemPrompt = "You are a helpful assistant."

type options struct {
	ttl          time.Duration
	systemPrompt string
	now          func() time.Time
	keyPrefix    string
	logger       *slog.Logger
}

// Option configures a Store.
type Option func(*options)

// WithTTL sets the idle retention for a session's history.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithSystemPrompt sets the content of the system message that opens every history.
func WithSystemPrompt(prompt string) Option {
	return func(o *options) { o.systemPrompt = prompt }
}

// WithClock overrides time.Now. Used by tests of expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithKeyPrefix sets the Redis key prefix.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) { o.keyPrefix = prefix }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func buildOptions(opts []Option) options {
	o := options{
		ttl:          DefaultTTL,
		systemPrompt: defaultSystemPrompt,
		now:          time.Now,
		keyPrefix:    "arcana:history:",
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl <= 0 {
		o.ttl = DefaultTTL
	}
	return o
}
