package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/teslashibe/go-arcana/internal/httpc"
)

const providerWhisper = "whisper"

// Whisper implements Provider against an OpenAI-compatible transcription API.
type Whisper struct {
	config  *Config
	client  *http.Client
	logger  *slog.Logger
	baseURL string
}

// NewWhisper creates a Whisper transcription provider.
func NewWhisper(opts ...Option) (*Whisper, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := cfg.HTTPClient
	if client == nil {
		client = httpc.NewClient(cfg.Timeout)
	}

	return &Whisper{
		config:  cfg,
		client:  client,
		logger:  cfg.Logger.With("component", "stt.whisper"),
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
	}, nil
}

// Transcribe implements Provider.
func (w *Whisper) Transcribe(ctx context.Context, u Utterance) (string, error) {
	if err := u.Validate(); err != nil {
		return "", err
	}

	body, contentType, err := w.buildForm(u)
	if err != nil {
		return "", WrapError(providerWhisper, fmt.Errorf("build form: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", WrapError(providerWhisper, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", contentType)
	if w.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.config.APIKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", WrapError(providerWhisper, fmt.Errorf("transcription request: %w", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", WrapError(providerWhisper, fmt.Errorf("read response: %w", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case undecodableAudio(resp.StatusCode, data):
		w.logger.Debug("engine rejected audio, treating as no speech",
			"status", resp.StatusCode,
			"seconds", u.Duration(),
		)
		return "", nil
	default:
		return "", &APIError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(data),
			Provider:   providerWhisper,
		}
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", WrapError(providerWhisper, fmt.Errorf("decode response: %w", err))
	}

	text := strings.TrimSpace(out.Text)
	w.logger.Debug("transcribed",
		"seconds", u.Duration(),
		"chars", len(text),
	)
	return text, nil
}

// Close releases resources.
func (w *Whisper) Close() error {
	w.client.CloseIdleConnections()
	return nil
}

func (w *Whisper) buildForm(u Utterance) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(EncodeWAV(u)); err != nil {
		return nil, "", err
	}
	fields := [][2]string{
		{"model", w.config.Model},
		{"language", w.config.Language},
		{"response_format", "json"},
		{"temperature", "0"},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &body, mw.FormDataContentType(), nil
}

// decodeFailureHints are substrings servers put in a 400 body when the audio
// itself could not be read.
var decodeFailureHints = []string{
	"could not decode",
	"failed to decode",
	"invalid audio",
	"invalid file format",
	"unsupported audio",
	"unsupported file",
	"audio file is too short",
	"no audio",
}

// undecodableAudio reports responses that mean the engine could not read the
// audio. A 400 only counts when its message says so; other 400s are
// configuration or request errors.
func undecodableAudio(status int, body []byte) bool {
	switch status {
	case http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		return true
	case http.StatusBadRequest:
		msg := strings.ToLower(errorMessage(body))
		for _, hint := range decodeFailureHints {
			if strings.Contains(msg, hint) {
				return true
			}
		}
	}
	return false
}

func errorMessage(body []byte) string {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &errResp) == nil {
		if errResp.Error.Message != "" {
			return errResp.Error.Message
		}
		if errResp.Detail != "" {
			return errResp.Detail
		}
	}
	return strings.TrimSpace(string(body))
}

var _ Provider = (*Whisper)(nil)
