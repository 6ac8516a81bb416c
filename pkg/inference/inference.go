// Package inference generates assistant replies from a conversation using any
// OpenAI-compatible chat completions API (Hugging Face router, OpenAI, vLLM,
// Ollama, Together, Groq).
//
// Example usage:
//
//	client, _ := inference.NewClient(
//	    inference.WithBaseURL("https://router.huggingface.co/v1"),
//	    inference.WithModel("openai/gpt-oss-20b"),
//	)
//	defer client.Close()
//
//	gen := inference.NewGenerator(client, nil)
//	reply, _ := gen.Generate(ctx, inference.GenerateRequest{
//	    Messages: []inference.Message{inference.NewUserMessage("Hello!")},
//	    APIKey:   os.Getenv("HF_TOKEN"),
//	})
package inference

import "context"

// Provider is the chat inference interface.
type Provider interface {
	// Chat generates a complete response from a sequence of messages.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Stream generates a streaming response for real-time output.
	Stream(ctx context.Context, req *ChatRequest) (Stream, error)

	// Health checks provider connectivity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// Stream is a streaming response for real-time output.
type Stream interface {
	// Recv returns the next chunk. A chunk with Done set, or a nil chunk,
	// marks the end of the stream.
	Recv() (*StreamChunk, error)

	// Close stops the stream and releases resources.
	Close() error
}

// StreamChunk is a piece of a streaming response.
type StreamChunk struct {
	// Delta is the incremental text content. Empty when the provider sent
	// no text (including an explicit null).
	Delta string

	// FinishReason indicates why generation stopped (stop, length).
	FinishReason string

	// Done is true when the stream is complete.
	Done bool
}

// ChatRequest for chat completions.
type ChatRequest struct {
	// Messages is the conversation history.
	Messages []Message

	// Model overrides the default model.
	Model string

	// APIKey overrides the client's credential for this request.
	APIKey string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0).
	Temperature float64

	// TopP controls nucleus sampling.
	TopP float64

	// Stop sequences that halt generation.
	Stop []string
}

// ChatResponse from chat completion.
type ChatResponse struct {
	Message      Message
	FinishReason string
	Usage        Usage
	Model        string
	LatencyMs    int64
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
