package pcm

// Resampler converts a stream of chunks from one sample rate to another
// with linear interpolation. Unlike Resample it carries its position and the
// last input sample between calls, so chunk boundaries add no artefacts.
// A Resampler is not safe for concurrent use.
type Resampler struct {
	from, to int

	// pos is the next output position in units of 1/to input samples,
	// measured from prev when primed and from the chunk start otherwise.
	pos    int64
	prev   int16
	primed bool
}

// NewResampler returns a Resampler from fromRate to toRate. Non-positive or
// equal rates make Process a pass-through.
func NewResampler(fromRate, toRate int) *Resampler {
	return &Resampler{from: fromRate, to: toRate}
}

// From returns the input sample rate.
func (r *Resampler) From() int { return r.from }

func (r *Resampler) passthrough() bool {
	return r.from == r.to || r.from <= 0 || r.to <= 0
}

// Process resamples the next chunk of the stream. Output positions that
// need the following input sample are held back until the next call or
// Flush.
func (r *Resampler) Process(samples []int16) []int16 {
	if r.passthrough() || len(samples) == 0 {
		return samples
	}

	at := func(i int) int16 {
		if r.primed {
			if i == 0 {
				return r.prev
			}
			return samples[i-1]
		}
		return samples[i]
	}
	n := len(samples)
	if r.primed {
		n++
	}

	step, unit := int64(r.from), int64(r.to)
	limit := int64(n-1) * unit
	out := make([]int16, 0, int64(len(samples))*unit/step+1)
	for ; r.pos < limit; r.pos += step {
		i := int(r.pos / unit)
		frac := float64(r.pos%unit) / float64(unit)
		s1, s2 := float64(at(i)), float64(at(i+1))
		out = append(out, int16(s1+frac*(s2-s1)))
	}

	r.pos -= limit
	r.prev = samples[len(samples)-1]
	r.primed = true
	return out
}

// Flush emits the positions held back by Process, holding the last input
// sample, and resets the stream.
func (r *Resampler) Flush() []int16 {
	if r.passthrough() || !r.primed {
		r.Reset()
		return nil
	}
	var out []int16
	for ; r.pos < int64(r.to); r.pos += int64(r.from) {
		out = append(out, r.prev)
	}
	r.Reset()
	return out
}

// Reset forgets the stream so the next Process starts a new one.
func (r *Resampler) Reset() {
	r.pos = 0
	r.prev = 0
	r.primed = false
}
