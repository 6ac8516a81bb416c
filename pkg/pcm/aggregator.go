package pcm

import (
	"context"
	"encoding/binary"
)

// Aggregator turns byte chunks of arbitrary length into whole 16-bit samples.
// At most one byte is carried between chunks; the concatenation of every
// emitted sample, re-encoded, equals the input stream minus a trailing odd byte.
type Aggregator struct {
	carry    byte
	hasCarry bool
}

// NewAggregator creates an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Push appends chunk to the carried byte and returns every complete sample.
// Returns nil when fewer than two bytes are available.
func (a *Aggregator) Push(chunk []byte) []int16 {
	if len(chunk) == 0 {
		return nil
	}

	buf := chunk
	if a.hasCarry {
		buf = make([]byte, 0, len(chunk)+1)
		buf = append(buf, a.carry)
		buf = append(buf, chunk...)
		a.hasCarry = false
	}

	n := len(buf) / BytesPerSample
	if len(buf)%BytesPerSample == 1 {
		a.carry = buf[len(buf)-1]
		a.hasCarry = true
	}
	if n == 0 {
		return nil
	}

	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(buf[i*BytesPerSample:]))
	}
	return samples
}

// Pending reports whether a byte is carried.
func (a *Aggregator) Pending() bool {
	return a.hasCarry
}

// Flush ends the stream, discarding a carried byte. It returns the number of
// bytes dropped (0 or 1).
func (a *Aggregator) Flush() int {
	if !a.hasCarry {
		return 0
	}
	a.hasCarry = false
	return 1
}

// ChunkReader yields byte chunks. Read returns (nil, nil) at end of stream.
type ChunkReader interface {
	Read() ([]byte, error)
}

// Frames reads r to completion, calling fn with a Frame for every chunk that
// completes at least one sample. It returns the first error from r or fn, or
// ctx.Err() if ctx is cancelled between chunks.
func Frames(ctx context.Context, r ChunkReader, sampleRate int, fn func(Frame) error) error {
	agg := NewAggregator()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := r.Read()
		if err != nil {
			return err
		}
		if chunk == nil {
			agg.Flush()
			return nil
		}
		samples := agg.Push(chunk)
		if samples == nil {
			continue
		}
		if err := fn(Frame{SampleRate: sampleRate, Samples: samples}); err != nil {
			return err
		}
	}
}
