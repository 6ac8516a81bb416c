package inference

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Streamer is the part of Provider the Generator needs.
type Streamer interface {
	Stream(ctx context.Context, req *ChatRequest) (Stream, error)
}

// GenerateRequest asks for one assistant reply.
type GenerateRequest struct {
	// Messages is the full conversation, system message first.
	Messages []Message

	// Model overrides the provider default.
	Model string

	// APIKey is the caller's credential. Required.
	APIKey string

	// MaxTokens overrides the provider default.
	MaxTokens int

	// OnDelta, if set, receives the accumulated text after every non-empty delta.
	OnDelta func(partial string)
}

// Generator turns a streamed completion into one reply string.
type Generator struct {
	provider Streamer
	logger   *slog.Logger
}

// NewGenerator creates a Generator over p. A nil logger uses slog.Default.
func NewGenerator(p Streamer, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		provider: p,
		logger:   logger.With("component", "inference.generator"),
	}
}

// Generate streams a completion and returns the concatenation of every delta
// in arrival order. The reply may be empty. A missing credential fails before
// any network call; a failure mid-stream discards the partial text.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	if req.APIKey == "" {
		return "", ErrNoAPIKey
	}
	if len(req.Messages) == 0 {
		return "", ErrEmptyConversation
	}
	if req.Messages[len(req.Messages)-1].Role != RoleUser {
		return "", ErrNoUserTurn
	}

	start := time.Now()
	stream, err := g.provider.Stream(ctx, &ChatRequest{
		Messages:  req.Messages,
		Model:     req.Model,
		APIKey:    req.APIKey,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var (
		sb         strings.Builder
		firstToken time.Duration
		chunks     int
	)
	for {
		chunk, err := stream.Recv()
		if err != nil {
			return "", err
		}
		if chunk == nil {
			break
		}
		if chunk.Delta != "" {
			if chunks == 0 {
				firstToken = time.Since(start)
			}
			chunks++
			sb.WriteString(chunk.Delta)
			if req.OnDelta != nil {
				req.OnDelta(sb.String())
			}
		}
		if chunk.Done {
			break
		}
	}

	g.logger.Debug("reply generated",
		"chunks", chunks,
		"chars", sb.Len(),
		"first_token_ms", firstToken.Milliseconds(),
		"total_ms", time.Since(start).Milliseconds(),
	)
	return sb.String(), nil
}
