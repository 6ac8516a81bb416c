package tts

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// httpStream wraps a response body as AudioStream.
type httpStream struct {
	provider string
	body     io.ReadCloser
	format   AudioFormat
	buf      []byte

	mu     sync.Mutex
	eof    bool
	closed bool
	bytes  int64
}

func newHTTPStream(provider string, body io.ReadCloser, format AudioFormat, chunkSize int) *httpStream {
	return &httpStream{
		provider: provider,
		body:     body,
		format:   format,
		buf:      make([]byte, chunkSize),
	}
}

// Read returns the next audio chunk. Zero-length reads are skipped and bytes
// delivered together with io.EOF are kept.
func (s *httpStream) Read() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStreamClosed
	}
	for !s.eof {
		n, err := s.body.Read(s.buf)
		if errors.Is(err, io.EOF) {
			s.eof = true
		} else if err != nil {
			return nil, WrapError(s.provider, fmt.Errorf("read stream: %w", err))
		}
		if n > 0 {
			s.bytes += int64(n)
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])
			return chunk, nil
		}
	}
	return nil, nil
}

// Close stops the stream.
func (s *httpStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

// Format returns the audio format.
func (s *httpStream) Format() AudioFormat {
	return s.format
}
