package pcm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-arcana/pkg/pcm"
)

func ramp(n int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(i * 10)
	}
	return out
}

func resampleChunks(r *pcm.Resampler, in []int16, size int) []int16 {
	var out []int16
	for len(in) > 0 {
		n := size
		if n > len(in) {
			n = len(in)
		}
		out = append(out, r.Process(in[:n])...)
		in = in[n:]
	}
	return append(out, r.Flush()...)
}

func TestResamplerChunkBoundaries(t *testing.T) {
	r := pcm.NewResampler(1, 2)
	out := r.Process([]int16{0, 100})
	out = append(out, r.Process([]int16{200, 300})...)
	out = append(out, r.Flush()...)

	// Split per chunk the boundary would repeat 100 and skip 150.
	assert.Equal(t, []int16{0, 50, 100, 150, 200, 250, 300, 300}, out)
}

func TestResamplerMatchesWholeBuffer(t *testing.T) {
	tests := []struct {
		name     string
		from, to int
		n, chunk int
	}{
		{"tts frames to opus", 24000, 48000, 4800, 480},
		{"odd chunks up", 24000, 48000, 1000, 7},
		{"single samples", 16000, 48000, 300, 1},
		{"down", 48000, 16000, 4800, 960},
		{"down odd chunks", 48000, 16000, 999, 13},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := ramp(tt.n)
			whole := resampleChunks(pcm.NewResampler(tt.from, tt.to), in, len(in))
			chunked := resampleChunks(pcm.NewResampler(tt.from, tt.to), in, tt.chunk)
			assert.Equal(t, whole, chunked)
		})
	}
}

func TestResamplerAgreesWithResample(t *testing.T) {
	in := ramp(480)
	got := resampleChunks(pcm.NewResampler(24000, 48000), in, 160)
	assert.Equal(t, pcm.Resample(in, 24000, 48000), got)
	assert.Len(t, got, 960)
}

func TestResamplerReset(t *testing.T) {
	r := pcm.NewResampler(1, 2)
	r.Process([]int16{500, 600})
	r.Reset()

	assert.Equal(t, []int16{0, 50}, r.Process([]int16{0, 100}))
	assert.Nil(t, pcm.NewResampler(1, 2).Flush())
}

func TestResamplerPassthrough(t *testing.T) {
	in := []int16{1, 2, 3}
	r := pcm.NewResampler(48000, 48000)
	require.Equal(t, in, r.Process(in))
	assert.Nil(t, r.Flush())
	assert.Equal(t, 48000, r.From())
}
