package stt_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/teslashibe/go-arcana/pkg/stt"
)

func utterance() stt.Utterance {
	return stt.Utterance{SampleRate: 16000, Samples: make([]int16, 1600)}
}

func TestEncodeWAV(t *testing.T) {
	u := stt.Utterance{SampleRate: 16000, Samples: []int16{1, -1, 300}}
	wav := stt.EncodeWAV(u)

	if len(wav) != 44+6 {
		t.Fatalf("len = %d, want 50", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("bad header: %q", wav[:44])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 6 {
		t.Errorf("data size = %d", got)
	}
	if got := int16(binary.LittleEndian.Uint16(wav[46:48])); got != -1 {
		t.Errorf("second sample = %d", got)
	}
}

func TestUtteranceValidate(t *testing.T) {
	tests := []struct {
		name string
		u    stt.Utterance
		ok   bool
	}{
		{"valid", utterance(), true},
		{"zero rate", stt.Utterance{Samples: []int16{1}}, false},
		{"negative rate", stt.Utterance{SampleRate: -1, Samples: []int16{1}}, false},
		{"no samples", stt.Utterance{SampleRate: 16000}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.u.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, stt.ErrInvalidUtterance) {
				t.Errorf("expected ErrInvalidUtterance, got %v", err)
			}
		})
	}
}

func TestWhisperTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer stt-key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q", got)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("file: %v", err)
		}
		data, _ := io.ReadAll(f)
		if string(data[:4]) != "RIFF" {
			t.Errorf("expected WAV upload")
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":"  hello there \n"}`)
	}))
	defer server.Close()

	w, err := stt.NewWhisper(
		stt.WithBaseURL(server.URL+"/v1/"),
		stt.WithAPIKey("stt-key"),
		stt.WithModel("whisper-1"),
	)
	if err != nil {
		t.Fatalf("NewWhisper: %v", err)
	}
	defer w.Close()

	text, err := w.Transcribe(context.Background(), utterance())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello there" {
		t.Errorf("text = %q", text)
	}
}

func TestWhisperEmptyResults(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"silence", http.StatusOK, `{"text":""}`},
		{"whitespace", http.StatusOK, `{"text":"   "}`},
		{"undecodable audio", http.StatusBadRequest, `{"error":{"message":"could not decode"}}`},
		{"unprocessable", http.StatusUnprocessableEntity, `{"detail":"bad audio"}`},
		{"unsupported media", http.StatusUnsupportedMediaType, `unsupported`},
		{"invalid audio detail", http.StatusBadRequest, `{"detail":"Invalid audio: file is empty"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			w, _ := stt.NewWhisper(stt.WithBaseURL(server.URL))
			text, err := w.Transcribe(context.Background(), utterance())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if text != "" {
				t.Errorf("text = %q, want empty", text)
			}
		})
	}
}

func TestWhisperBadRequestIsNotSilence(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"unknown model", `{"error":{"message":"model 'whisper-2' does not exist"}}`, "model 'whisper-2' does not exist"},
		{"bad language", `{"detail":"language 'xx' is not supported"}`, "language 'xx' is not supported"},
		{"plain text", `missing field: file`, "missing field: file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			w, _ := stt.NewWhisper(stt.WithBaseURL(server.URL), stt.WithModel("whisper-2"))
			text, err := w.Transcribe(context.Background(), utterance())
			if text != "" {
				t.Errorf("text = %q, want empty", text)
			}
			var apiErr *stt.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.StatusCode != http.StatusBadRequest || apiErr.Message != tt.message {
				t.Errorf("unexpected error: %+v", apiErr)
			}
		})
	}
}

func TestWhisperFormFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		want := map[string]string{
			"model":           "whisper-1",
			"language":        "en",
			"response_format": "json",
			"temperature":     "0",
		}
		for k, v := range want {
			if got := r.FormValue(k); got != v {
				t.Errorf("%s = %q, want %q", k, got, v)
			}
		}
		io.WriteString(w, `{"text":"ok"}`)
	}))
	defer server.Close()

	w, _ := stt.NewWhisper(stt.WithBaseURL(server.URL), stt.WithModel("whisper-1"), stt.WithLanguage("en"))
	if _, err := w.Transcribe(context.Background(), utterance()); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
}

func TestWhisperErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			io.WriteString(w, `{"error":{"message":"overloaded"}}`)
		}))
		defer server.Close()

		w, _ := stt.NewWhisper(stt.WithBaseURL(server.URL))
		_, err := w.Transcribe(context.Background(), utterance())

		var apiErr *stt.APIError
		if !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
		if !apiErr.IsServerError() || apiErr.Message != "overloaded" {
			t.Errorf("unexpected error: %+v", apiErr)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()

		w, _ := stt.NewWhisper(stt.WithBaseURL(url))
		_, err := w.Transcribe(context.Background(), utterance())

		var provErr *stt.ProviderError
		if !errors.As(err, &provErr) {
			t.Fatalf("expected ProviderError, got %v", err)
		}
	})

	t.Run("invalid utterance makes no request", func(t *testing.T) {
		called := false
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		defer server.Close()

		w, _ := stt.NewWhisper(stt.WithBaseURL(server.URL))
		_, err := w.Transcribe(context.Background(), stt.Utterance{SampleRate: 16000})
		if !errors.Is(err, stt.ErrInvalidUtterance) {
			t.Errorf("expected ErrInvalidUtterance, got %v", err)
		}
		if called {
			t.Error("server should not be called")
		}
	})

	t.Run("missing base url", func(t *testing.T) {
		_, err := stt.NewWhisper(stt.WithBaseURL(""))
		if !errors.Is(err, stt.ErrNoBaseURL) {
			t.Errorf("expected ErrNoBaseURL, got %v", err)
		}
	})
}

func TestMock(t *testing.T) {
	m := stt.NewMock("hi")
	text, err := m.Transcribe(context.Background(), utterance())
	if err != nil || text != "hi" {
		t.Fatalf("got %q, %v", text, err)
	}
	if m.CallCount("Transcribe") != 1 {
		t.Errorf("CallCount = %d", m.CallCount("Transcribe"))
	}
	m.Reset()
	if len(m.Calls()) != 0 {
		t.Error("Reset should clear calls")
	}

	boom := errors.New("boom")
	if _, err := stt.WithError(boom).Transcribe(context.Background(), utterance()); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
}
