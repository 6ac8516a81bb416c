package tts

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for testing.
type Mock struct {
	// StreamFunc is called when Stream is invoked.
	// If nil, Chunks are streamed back.
	StreamFunc func(ctx context.Context, req Request) (AudioStream, error)

	// Chunks is the default audio returned by Stream.
	Chunks [][]byte

	// CloseFunc is called when Close is invoked.
	// If nil, returns nil.
	CloseFunc func() error

	// Tracking
	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method  string
	Request Request
	Time    time.Time
}

// NewMock creates a mock provider that streams chunks for every request.
func NewMock(chunks ...[]byte) *Mock {
	return &Mock{Chunks: chunks}
}

// Stream calls StreamFunc and records the call.
func (m *Mock) Stream(ctx context.Context, req Request) (AudioStream, error) {
	m.recordCall("Stream", req)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	return ChunkStream(m.Chunks...), nil
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.recordCall("Close", Request{})
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// recordCall adds a call to the tracking list.
func (m *Mock) recordCall(method string, req Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method:  method,
		Request: req,
		Time:    time.Now(),
	})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// LastCall returns the most recent call, or nil if none.
func (m *Mock) LastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// WithError returns a mock whose Stream always fails with err.
func WithError(err error) *Mock {
	return &Mock{
		StreamFunc: func(ctx context.Context, req Request) (AudioStream, error) {
			return nil, err
		},
	}
}

// ChunkStream returns an AudioStream yielding chunks in order.
// Empty chunks are skipped, matching the HTTP providers.
func ChunkStream(chunks ...[]byte) AudioStream {
	return &chunkStream{chunks: chunks}
}

// FailingChunkStream yields chunks, then fails with err.
func FailingChunkStream(err error, chunks ...[]byte) AudioStream {
	return &chunkStream{chunks: chunks, err: err}
}

type chunkStream struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
	pos    int
	closed bool
}

func (s *chunkStream) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}
	for s.pos < len(s.chunks) {
		c := s.chunks[s.pos]
		s.pos++
		if len(c) > 0 {
			return c, nil
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, nil
}

func (s *chunkStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *chunkStream) Format() AudioFormat {
	return pcmFormat(EncodingPCM24)
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
