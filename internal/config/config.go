// Package config loads arcana configuration.
//
// Values are layered: compiled defaults, then an optional YAML file, then a
// .env file, then the process environment. Command-line flags are applied on
// top by cmd/arcana.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default values.
const (
	DefaultAddr            = ":7860"
	DefaultLLMBaseURL      = "https://router.huggingface.co/v1"
	DefaultLLMModel        = "openai/gpt-oss-20b"
	DefaultLLMMaxTokens    = 1024
	DefaultSTTBaseURL      = "http://localhost:8000/v1"
	DefaultSTTModel        = "Systran/faster-whisper-small"
	DefaultTimeLimit       = 90 * time.Second
	DefaultConcurrency     = 5
	DefaultSessionTTL      = 30 * time.Minute
	DefaultSpeaker         = "Luna"
	DefaultEmptyTranscript = "skip"

	DefaultSystemPrompt = "You are a helpful assistant that can have engaging conversations." +
		"Your responses must be very short and concise. No more than two sentences. " +
		"Reasoning: low"
)

// TTS provider names.
const (
	ProviderRime       = "rime"
	ProviderElevenLabs = "elevenlabs"
)

// Config is the full server configuration.
type Config struct {
	Addr     string `yaml:"addr"`
	LogLevel string `yaml:"log_level"`

	LLM     LLMConfig     `yaml:"llm"`
	STT     STTConfig     `yaml:"stt"`
	TTS     TTSConfig     `yaml:"tts"`
	Session SessionConfig `yaml:"session"`
	Redis   RedisConfig   `yaml:"redis"`
	RTC     RTCConfig     `yaml:"rtc"`
}

// LLMConfig configures the reply generator.
type LLMConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	// Token is the default per-session credential (HF_TOKEN).
	Token string `yaml:"token"`
}

// STTConfig configures the transcription engine.
type STTConfig struct {
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	Language string `yaml:"language"`
}

// TTSConfig configures speech synthesis.
type TTSConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	// Token is the default per-session credential (RIME_API_KEY or ELEVENLABS_API_KEY).
	Token string `yaml:"token"`
}

// SessionConfig bounds each conversation session.
type SessionConfig struct {
	TimeLimit       time.Duration `yaml:"time_limit"`
	Concurrency     int           `yaml:"concurrency"`
	TTL             time.Duration `yaml:"ttl"`
	DefaultSpeaker  string        `yaml:"default_speaker"`
	SystemPrompt    string        `yaml:"system_prompt"`
	EmptyTranscript string        `yaml:"empty_transcript"`
}

// RedisConfig selects the Redis-backed history store when URL is set.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// RTCConfig configures WebRTC peers.
type RTCConfig struct {
	ICEServers []string `yaml:"ice_servers"`
}

// Default returns the compiled-in configuration.
func Default() *Config {
	return &Config{
		Addr:     DefaultAddr,
		LogLevel: "info",
		LLM: LLMConfig{
			BaseURL:   DefaultLLMBaseURL,
			Model:     DefaultLLMModel,
			MaxTokens: DefaultLLMMaxTokens,
		},
		STT: STTConfig{
			BaseURL: DefaultSTTBaseURL,
			Model:   DefaultSTTModel,
		},
		TTS: TTSConfig{
			Provider: ProviderRime,
		},
		Session: SessionConfig{
			TimeLimit:       DefaultTimeLimit,
			Concurrency:     DefaultConcurrency,
			TTL:             DefaultSessionTTL,
			DefaultSpeaker:  DefaultSpeaker,
			SystemPrompt:    DefaultSystemPrompt,
			EmptyTranscript: DefaultEmptyTranscript,
		},
		RTC: RTCConfig{
			ICEServers: []string{"stun:stun.l.google.com:19302"},
		},
	}
}

// Load builds the configuration. path names an optional YAML file; envFiles
// default to ".env" and missing files are ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Addr, "ARCANA_ADDR")
	setString(&c.LogLevel, "LOG_LEVEL")

	setString(&c.LLM.BaseURL, "LLM_BASE_URL")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.LLM.Token, "HF_TOKEN")

	setString(&c.STT.BaseURL, "STT_BASE_URL")
	setString(&c.STT.Model, "STT_MODEL")
	setString(&c.STT.APIKey, "STT_API_KEY")
	setString(&c.STT.Language, "STT_LANGUAGE")

	setString(&c.TTS.Provider, "TTS_PROVIDER")
	setString(&c.TTS.BaseURL, "TTS_BASE_URL")
	if c.TTS.Provider == ProviderElevenLabs {
		setString(&c.TTS.Token, "ELEVENLABS_API_KEY")
	} else {
		setString(&c.TTS.Token, "RIME_API_KEY")
	}

	setString(&c.Session.DefaultSpeaker, "DEFAULT_SPEAKER")
	setString(&c.Session.SystemPrompt, "SYSTEM_PROMPT")
	setString(&c.Session.EmptyTranscript, "EMPTY_TRANSCRIPT")
	setString(&c.Redis.URL, "REDIS_URL")

	if v := os.Getenv("ICE_SERVERS"); v != "" {
		c.RTC.ICEServers = splitList(v)
	}

	if err := setInt(&c.LLM.MaxTokens, "LLM_MAX_TOKENS"); err != nil {
		return err
	}
	if err := setInt(&c.Session.Concurrency, "SESSION_CONCURRENCY"); err != nil {
		return err
	}
	if err := setDuration(&c.Session.TimeLimit, "SESSION_TIME_LIMIT"); err != nil {
		return err
	}
	return setDuration(&c.Session.TTL, "SESSION_TTL")
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: addr required")
	}
	if c.LLM.BaseURL == "" || c.LLM.Model == "" {
		return errors.New("config: llm base_url and model required")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("config: llm max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.STT.BaseURL == "" {
		return errors.New("config: stt base_url required")
	}
	if c.Session.Concurrency <= 0 {
		return fmt.Errorf("config: session concurrency must be positive, got %d", c.Session.Concurrency)
	}
	if c.Session.TimeLimit <= 0 {
		return fmt.Errorf("config: session time_limit must be positive, got %s", c.Session.TimeLimit)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("config: session ttl must be positive, got %s", c.Session.TTL)
	}
	switch c.Session.EmptyTranscript {
	case "skip", "proceed":
	default:
		return fmt.Errorf("config: empty_transcript must be skip or proceed, got %q", c.Session.EmptyTranscript)
	}
	switch c.TTS.Provider {
	case ProviderRime, ProviderElevenLabs:
	default:
		return fmt.Errorf("config: unknown tts provider %q", c.TTS.Provider)
	}
	if strings.TrimSpace(c.Session.DefaultSpeaker) == "" {
		return errors.New("config: default_speaker required")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
