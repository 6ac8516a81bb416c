package tts

import (
	"log/slog"
	"time"
)

// Config holds TTS provider configuration.
// Use functional options (WithXxx) to set these values.
type Config struct {
	// BaseURL overrides the provider endpoint.
	BaseURL string

	// ModelID selects the provider model (arcana for Rime).
	ModelID string

	// Audio output
	OutputFormat Encoding

	// Rime sampling parameters
	RepetitionPenalty float64
	Temperature       float64
	TopP              float64
	MaxTokens         int

	// ElevenLabs voice characteristics
	VoiceSettings VoiceSettings

	// ChunkSize bounds each Read.
	ChunkSize int

	// StreamTimeout is the wall-clock limit for one synthesis request.
	// Zero leaves the request bounded only by its context.
	StreamTimeout time.Duration

	// Observability
	Logger *slog.Logger
}

// VoiceSettings controls ElevenLabs voice characteristics.
type VoiceSettings struct {
	Stability       float64
	SimilarityBoost float64
	Style           float64
	SpeakerBoost    bool
}

// DefaultVoiceSettings returns sensible defaults for ElevenLabs synthesis.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
		SpeakerBoost:    true,
	}
}

// Option is a functional option for configuring TTS providers.
type Option func(*Config)

// WithBaseURL overrides the default API endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithModel sets the model ID.
func WithModel(modelID string) Option {
	return func(c *Config) {
		c.ModelID = modelID
	}
}

// WithOutputFormat sets the audio output format.
func WithOutputFormat(format Encoding) Option {
	return func(c *Config) {
		c.OutputFormat = format
	}
}

// WithSampling sets the Rime sampling parameters.
func WithSampling(repetitionPenalty, temperature, topP float64) Option {
	return func(c *Config) {
		c.RepetitionPenalty = repetitionPenalty
		c.Temperature = temperature
		c.TopP = topP
	}
}

// WithMaxTokens bounds the length of generated audio.
func WithMaxTokens(n int) Option {
	return func(c *Config) {
		c.MaxTokens = n
	}
}

// WithVoiceSettings sets ElevenLabs voice characteristics.
func WithVoiceSettings(settings VoiceSettings) Option {
	return func(c *Config) {
		c.VoiceSettings = settings
	}
}

// WithChunkSize sets the maximum chunk size returned by Read.
func WithChunkSize(n int) Option {
	return func(c *Config) {
		c.ChunkSize = n
	}
}

// WithStreamTimeout sets the timeout for streaming requests.
func WithStreamTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.StreamTimeout = timeout
	}
}

// WithLogger sets the structured logger for the provider.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// DefaultConfig returns the Rime arcana defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:           RimeBaseURL,
		ModelID:           RimeModelArcana,
		OutputFormat:      EncodingPCM24,
		RepetitionPenalty: 1.5,
		Temperature:       0.5,
		TopP:              1,
		MaxTokens:         1200,
		VoiceSettings:     DefaultVoiceSettings(),
		ChunkSize:         4096,
		Logger:            slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that the configuration is usable.
// Credentials are not checked here: they arrive with each Request.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoBaseURL
	}
	if c.ChunkSize <= 0 {
		return ErrInvalidChunkSize
	}
	return nil
}
