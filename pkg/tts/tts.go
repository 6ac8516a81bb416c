// Package tts streams synthesized speech from a text reply.
//
// Rime "arcana" is the default backend; ElevenLabs is available as an
// alternate. Both return raw 16-bit little-endian mono PCM at 24 kHz through
// the same AudioStream contract, so callers never branch on the provider.
//
// Example usage:
//
//	provider, _ := tts.NewRime()
//	defer provider.Close()
//
//	stream, _ := provider.Stream(ctx, tts.Request{
//	    Text:    "Hello world",
//	    Speaker: "Luna",
//	    APIKey:  os.Getenv("RIME_API_KEY"),
//	})
//	defer stream.Close()
//	for {
//	    chunk, err := stream.Read()
//	    if err != nil || chunk == nil {
//	        break
//	    }
//	    // chunk holds raw PCM bytes
//	}
package tts

import "context"

// Provider defines the TTS provider interface.
type Provider interface {
	// Stream issues one synthesis request and returns its audio as it
	// arrives. A non-success response fails here, before any chunk.
	Stream(ctx context.Context, req Request) (AudioStream, error)

	// Close releases any resources held by the provider.
	Close() error
}

// Request is one synthesis call.
type Request struct {
	// Text to speak.
	Text string

	// Speaker is the provider's voice name or ID.
	Speaker string

	// APIKey is the caller's credential. Required.
	APIKey string
}

// AudioStream represents a streaming audio response.
// Callers should read until Read returns nil, then call Close.
type AudioStream interface {
	// Read returns the next non-empty audio chunk.
	// Returns nil when the stream is complete (not an error).
	Read() ([]byte, error)

	// Close stops the stream and releases resources.
	Close() error

	// Format returns the audio format metadata.
	Format() AudioFormat
}

// AudioFormat describes the audio encoding parameters.
type AudioFormat struct {
	// Encoding specifies the audio codec (e.g., pcm_24000).
	Encoding Encoding

	// SampleRate in Hz.
	SampleRate int

	// Channels is 1 for mono, 2 for stereo.
	Channels int

	// BitDepth for PCM formats (e.g., 16 for PCM16).
	BitDepth int
}

// Encoding represents audio encoding types.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_16000" // 16kHz mono PCM16
	EncodingPCM22 Encoding = "pcm_22050" // 22.05kHz mono PCM16
	EncodingPCM24 Encoding = "pcm_24000" // 24kHz mono PCM16
	EncodingPCM44 Encoding = "pcm_44100" // 44.1kHz mono PCM16
)

// SampleRateFromEncoding extracts the sample rate from an encoding type.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM44:
		return 44100
	default:
		return 24000
	}
}

// pcmFormat returns mono PCM16 metadata for enc.
func pcmFormat(enc Encoding) AudioFormat {
	return AudioFormat{
		Encoding:   enc,
		SampleRate: SampleRateFromEncoding(enc),
		Channels:   1,
		BitDepth:   16,
	}
}
