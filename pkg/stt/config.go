package stt

import (
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// ErrNoBaseURL is returned when the transcription endpoint is not configured.
var ErrNoBaseURL = errors.New("stt: base URL required")

// Config holds transcription provider configuration.
type Config struct {
	BaseURL  string
	APIKey   string // optional for self-hosted servers
	Model    string
	Language string // ISO-639-1 hint, empty for auto-detect

	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Option is a functional option for configuring providers.
type Option func(*Config)

// WithBaseURL sets the API base URL, e.g. "http://localhost:8000/v1".
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithModel sets the transcription model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithLanguage sets a language hint.
func WithLanguage(lang string) Option {
	return func(c *Config) { c.Language = lang }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Config) { c.HTTPClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults for a local faster-whisper-server.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "http://localhost:8000/v1",
		Model:   "Systran/faster-whisper-small",
		Timeout: 30 * time.Second,
		Logger:  slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoBaseURL
	}
	return nil
}
