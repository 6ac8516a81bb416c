package inference

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Stream returns a streaming chat response.
func (c *Client) Stream(ctx context.Context, req *ChatRequest) (Stream, error) {
	payload := c.buildChatPayload(req, true)

	resp, err := c.post(ctx, c.streamHTTP, "/chat/completions", payload, c.credential(req))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.parseError(resp)
	}

	return &clientStream{
		reader: bufio.NewReader(resp.Body),
		body:   resp.Body,
	}, nil
}

// clientStream implements Stream for SSE responses.
type clientStream struct {
	reader *bufio.Reader
	body   io.ReadCloser
	done   bool
}

// Recv returns the next stream chunk.
func (s *clientStream) Recv() (*StreamChunk, error) {
	if s.done {
		return &StreamChunk{Done: true}, nil
	}
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, WrapError(providerClient, fmt.Errorf("read stream: %w", err))
			}
			// An unterminated last line is still processed; the next read sees EOF again.
			if strings.TrimSpace(line) == "" {
				s.done = true
				return &StreamChunk{Done: true}, nil
			}
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.done = true
			return &StreamChunk{Done: true}, nil
		}

		var event streamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			// Skip malformed events
			continue
		}

		if event.Error != nil && event.Error.Message != "" {
			return nil, WrapError(providerClient, fmt.Errorf("stream error: %s", event.Error.Message))
		}

		if len(event.Choices) == 0 {
			continue
		}

		choice := event.Choices[0]
		if choice.FinishReason != "" {
			s.done = true
		}
		return &StreamChunk{
			Delta:        choice.Delta.Content,
			FinishReason: choice.FinishReason,
			Done:         choice.FinishReason != "",
		}, nil
	}
}

// Close stops the stream.
func (s *clientStream) Close() error {
	return s.body.Close()
}

// streamEvent is the SSE event format. A null content decodes to "".
type streamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}
