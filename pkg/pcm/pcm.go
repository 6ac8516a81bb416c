// Package pcm handles raw 16-bit little-endian mono PCM: reassembling a byte
// stream with arbitrary chunk boundaries into whole samples, and converting,
// resampling and measuring sample buffers.
package pcm

import "time"

// BytesPerSample is the width of one 16-bit PCM sample.
const BytesPerSample = 2

// Frame is a run of whole samples tagged with its sample rate.
type Frame struct {
	SampleRate int
	Samples    []int16
}

// Bytes returns the frame as little-endian PCM16.
func (f Frame) Bytes() []byte {
	return SamplesToBytes(f.Samples)
}

// Duration returns the playback length of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}
