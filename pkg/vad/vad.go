// Package vad splits a live stream of PCM samples into utterances by pausing.
//
// The detector is energy based: a frame is voiced when its RMS level crosses
// Threshold, smoothed by a majority vote over the last few frames. An
// utterance ends after Pause of unvoiced audio, or when it reaches
// MaxUtterance. Utterances shorter than MinSpeech of voiced audio are dropped
// as noise.
//
// Detector is not safe for concurrent use; callers push from one goroutine
// and callbacks run synchronously on it.
package vad

import (
	"errors"
	"time"

	"github.com/teslashibe/go-arcana/pkg/pcm"
	"github.com/teslashibe/go-arcana/pkg/stt"
)

// Config holds detector thresholds.
type Config struct {
	SampleRate    int
	FrameDuration time.Duration
	Threshold     float64 // RMS level in [0, 1]
	SmoothFrames  int
	MinSpeech     time.Duration
	Pause         time.Duration
	PreRoll       time.Duration
	MaxUtterance  time.Duration
}

// DefaultConfig returns thresholds tuned for a WebRTC headset at 48 kHz.
func DefaultConfig() Config {
	return Config{
		SampleRate:    48000,
		FrameDuration: 20 * time.Millisecond,
		Threshold:     0.01,
		SmoothFrames:  4,
		MinSpeech:     250 * time.Millisecond,
		Pause:         600 * time.Millisecond,
		PreRoll:       200 * time.Millisecond,
		MaxUtterance:  30 * time.Second,
	}
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return errors.New("vad: sample rate must be positive")
	case c.FrameDuration <= 0 || c.frameLen() == 0:
		return errors.New("vad: frame duration too short for sample rate")
	case c.Threshold <= 0 || c.Threshold >= 1:
		return errors.New("vad: threshold must be between 0 and 1")
	case c.SmoothFrames <= 0:
		return errors.New("vad: smoothing window must be positive")
	case c.Pause < c.FrameDuration:
		return errors.New("vad: pause must be at least one frame")
	case c.MaxUtterance <= c.MinSpeech:
		return errors.New("vad: max utterance must exceed min speech")
	}
	return nil
}

func (c Config) frameLen() int {
	return int(int64(c.SampleRate) * int64(c.FrameDuration) / int64(time.Second))
}

func (c Config) frames(d time.Duration) int {
	return int(d / c.FrameDuration)
}

// Callbacks are invoked synchronously from Push. All fields are optional.
type Callbacks struct {
	OnSpeechStart func()
	OnSpeechEnd   func(u stt.Utterance)
}

// Detector turns samples into utterances.
type Detector struct {
	cfg       Config
	cb        Callbacks
	frameLen  int
	maxLen    int
	preFrames int
	pauseLen  int
	minSpeech int

	pending  []int16   // partial frame
	preRoll  [][]int16 // recent unvoiced frames while idle
	votes    []bool
	speaking bool
	buf      []int16
	voiced   int
	silent   int
}

// New creates a Detector.
func New(cfg Config, cb Callbacks) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{
		cfg:       cfg,
		cb:        cb,
		frameLen:  cfg.frameLen(),
		maxLen:    int(int64(cfg.SampleRate) * int64(cfg.MaxUtterance) / int64(time.Second)),
		preFrames: cfg.frames(cfg.PreRoll),
		pauseLen:  cfg.frames(cfg.Pause),
		minSpeech: cfg.frames(cfg.MinSpeech),
	}, nil
}

// Speaking reports whether an utterance is in progress.
func (d *Detector) Speaking() bool {
	return d.speaking
}

// Push feeds samples and returns every utterance they complete.
func (d *Detector) Push(samples []int16) []stt.Utterance {
	var out []stt.Utterance
	d.pending = append(d.pending, samples...)
	for len(d.pending) >= d.frameLen {
		frame := make([]int16, d.frameLen)
		copy(frame, d.pending[:d.frameLen])
		d.pending = d.pending[d.frameLen:]
		if u, ok := d.frame(frame); ok {
			out = append(out, u)
		}
	}
	// Reclaim the consumed prefix.
	d.pending = append([]int16(nil), d.pending...)
	return out
}

// Flush ends the stream, returning an in-progress utterance if it holds
// enough speech. The partial frame is discarded.
func (d *Detector) Flush() []stt.Utterance {
	d.pending = nil
	var out []stt.Utterance
	if d.speaking {
		if u, ok := d.finish(); ok {
			out = append(out, u)
		}
	}
	d.Reset()
	return out
}

// Reset clears all state.
func (d *Detector) Reset() {
	d.pending = nil
	d.preRoll = nil
	d.votes = nil
	d.speaking = false
	d.buf = nil
	d.voiced = 0
	d.silent = 0
}

func (d *Detector) vote(frame []int16) bool {
	d.votes = append(d.votes, pcm.RMS(frame) >= d.cfg.Threshold)
	if len(d.votes) > d.cfg.SmoothFrames {
		d.votes = d.votes[len(d.votes)-d.cfg.SmoothFrames:]
	}
	n := 0
	for _, v := range d.votes {
		if v {
			n++
		}
	}
	return n*2 >= len(d.votes)
}

func (d *Detector) frame(frame []int16) (stt.Utterance, bool) {
	voiced := d.vote(frame)

	if !d.speaking {
		if !voiced {
			d.preRoll = append(d.preRoll, frame)
			if len(d.preRoll) > d.preFrames {
				d.preRoll = d.preRoll[len(d.preRoll)-d.preFrames:]
			}
			return stt.Utterance{}, false
		}
		d.speaking = true
		d.buf = d.buf[:0]
		for _, f := range d.preRoll {
			d.buf = append(d.buf, f...)
		}
		d.preRoll = nil
		d.voiced, d.silent = 0, 0
		if d.cb.OnSpeechStart != nil {
			d.cb.OnSpeechStart()
		}
	}

	d.buf = append(d.buf, frame...)
	if voiced {
		d.voiced++
		d.silent = 0
	} else {
		d.silent++
	}

	if d.silent >= d.pauseLen || len(d.buf) >= d.maxLen {
		return d.finish()
	}
	return stt.Utterance{}, false
}

// finish closes the current utterance and returns to idle.
func (d *Detector) finish() (stt.Utterance, bool) {
	samples := d.buf
	voiced := d.voiced
	d.speaking = false
	d.buf = nil
	d.voiced, d.silent = 0, 0
	d.votes = nil

	if voiced < d.minSpeech {
		return stt.Utterance{}, false
	}
	u := stt.Utterance{SampleRate: d.cfg.SampleRate, Samples: samples}
	if d.cb.OnSpeechEnd != nil {
		d.cb.OnSpeechEnd(u)
	}
	return u, true
}
