package stt

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for testing.
type Mock struct {
	// TranscribeFunc is called when Transcribe is invoked.
	// If nil, returns "hello".
	TranscribeFunc func(ctx context.Context, u Utterance) (string, error)

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method  string
	Samples int
	Time    time.Time
}

// NewMock creates a mock that always returns text.
func NewMock(text string) *Mock {
	return &Mock{
		TranscribeFunc: func(ctx context.Context, u Utterance) (string, error) {
			return text, nil
		},
	}
}

// WithError returns a mock that always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		TranscribeFunc: func(ctx context.Context, u Utterance) (string, error) {
			return "", err
		},
	}
}

// Transcribe calls TranscribeFunc and records the call.
func (m *Mock) Transcribe(ctx context.Context, u Utterance) (string, error) {
	m.recordCall("Transcribe", len(u.Samples))
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, u)
	}
	return "hello", nil
}

// Close records the call.
func (m *Mock) Close() error {
	m.recordCall("Close", 0)
	return nil
}

func (m *Mock) recordCall(method string, samples int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Samples: samples, Time: time.Now()})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

var _ Provider = (*Mock)(nil)
