package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/go-arcana/internal/httpc"
)

const (
	// RimeBaseURL is the Rime streaming synthesis endpoint.
	RimeBaseURL = "https://users.rime.ai/v1/rime-tts"

	// RimeModelArcana is the arcana model variant.
	RimeModelArcana = "arcana"

	providerRime = "rime"
)

// Rime implements Provider for Rime TTS.
type Rime struct {
	config *Config
	client *http.Client
	logger *slog.Logger
}

// NewRime creates a Rime provider.
func NewRime(opts ...Option) (*Rime, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Rime{
		config: cfg,
		client: httpc.NewClient(cfg.StreamTimeout),
		logger: cfg.Logger.With("component", "tts.rime"),
	}, nil
}

// rimeRequest is the arcana request body.
type rimeRequest struct {
	Speaker           string  `json:"speaker"`
	Text              string  `json:"text"`
	ModelID           string  `json:"modelId"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	SamplingRate      int     `json:"samplingRate"`
	MaxTokens         int     `json:"max_tokens"`
}

// Stream issues one synthesis request and returns the PCM body as a stream.
func (r *Rime) Stream(ctx context.Context, req Request) (AudioStream, error) {
	if req.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if req.Speaker == "" {
		return nil, ErrNoSpeaker
	}

	start := time.Now()
	format := pcmFormat(r.config.OutputFormat)

	body, err := json.Marshal(rimeRequest{
		Speaker:           req.Speaker,
		Text:              req.Text,
		ModelID:           r.config.ModelID,
		RepetitionPenalty: r.config.RepetitionPenalty,
		Temperature:       r.config.Temperature,
		TopP:              r.config.TopP,
		SamplingRate:      format.SampleRate,
		MaxTokens:         r.config.MaxTokens,
	})
	if err != nil {
		return nil, WrapError(providerRime, fmt.Errorf("marshal payload: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(providerRime, fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Accept", "audio/pcm")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, WrapError(providerRime, fmt.Errorf("stream request: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, r.parseError(resp)
	}

	r.logger.Debug("synthesis started",
		"speaker", req.Speaker,
		"chars", len(req.Text),
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return newHTTPStream(providerRime, resp.Body, format, r.config.ChunkSize), nil
}

// Close releases resources held by the provider.
func (r *Rime) Close() error {
	r.client.CloseIdleConnections()
	return nil
}

// parseError reads and parses an error response.
func (r *Rime) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}

	message := string(bytes.TrimSpace(body))
	if json.Unmarshal(body, &errResp) == nil {
		switch {
		case errResp.Message != "":
			message = errResp.Message
		case errResp.Error != "":
			message = errResp.Error
		}
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Provider:   providerRime,
	}
}

// Verify Rime implements Provider at compile time.
var _ Provider = (*Rime)(nil)
