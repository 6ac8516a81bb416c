package rtc

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"
	"gopkg.in/hraban/opus.v2"
)

const (
	opusRate         = 48000
	opusFrameSamples = 960 // 20ms at 48kHz
	opusFrameTime    = 20 * time.Millisecond
	opusMaxPacket    = 4000
	tailFrames       = 10 // ~200ms of silence after each reply
)

// sampleWriter is the part of *webrtc.TrackLocalStaticSample the writer needs.
type sampleWriter interface {
	WriteSample(s media.Sample) error
}

// frameEncoder is the part of *opus.Encoder the writer needs.
type frameEncoder interface {
	Encode(pcm []int16, data []byte) (int, error)
}

// PacedWriter encodes 48kHz mono PCM to Opus and writes one frame to the
// track every 20ms, so replies play in real time however fast they arrive.
type PacedWriter struct {
	enc    frameEncoder
	track  sampleWriter
	logger *slog.Logger

	mu      sync.Mutex
	pcmBuf  []int16
	opusBuf []byte

	frames   chan []byte
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPacedWriter creates a writer for track and starts its pacer.
func NewPacedWriter(track sampleWriter, logger *slog.Logger) (*PacedWriter, error) {
	enc, err := opus.NewEncoder(opusRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	w := newPacedWriter(enc, track, logger)
	go w.pacer()
	return w, nil
}

func newPacedWriter(enc frameEncoder, track sampleWriter, logger *slog.Logger) *PacedWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PacedWriter{
		enc:     enc,
		track:   track,
		logger:  logger,
		opusBuf: make([]byte, opusMaxPacket),
		frames:  make(chan []byte, 512),
		stopCh:  make(chan struct{}),
	}
}

// Write buffers samples and queues every full frame. It blocks while the
// queue is full, returning early if ctx ends or the writer is closed.
func (w *PacedWriter) Write(ctx context.Context, samples []int16) error {
	w.mu.Lock()
	w.pcmBuf = append(w.pcmBuf, samples...)
	var pkts [][]byte
	for len(w.pcmBuf) >= opusFrameSamples {
		if pkt := w.encode(w.pcmBuf[:opusFrameSamples]); pkt != nil {
			pkts = append(pkts, pkt)
		}
		w.pcmBuf = w.pcmBuf[opusFrameSamples:]
	}
	w.pcmBuf = append([]int16(nil), w.pcmBuf...)
	w.mu.Unlock()

	return w.push(ctx, pkts)
}

// FlushTail pads the remaining PCM to a full frame and adds a short silence
// tail so the end of a reply is not clipped.
func (w *PacedWriter) FlushTail(ctx context.Context) error {
	w.mu.Lock()
	var pkts [][]byte
	if len(w.pcmBuf) > 0 {
		pad := make([]int16, opusFrameSamples)
		copy(pad, w.pcmBuf)
		if pkt := w.encode(pad); pkt != nil {
			pkts = append(pkts, pkt)
		}
		w.pcmBuf = nil
	}
	silence := make([]int16, opusFrameSamples)
	for i := 0; i < tailFrames; i++ {
		if pkt := w.encode(silence); pkt != nil {
			pkts = append(pkts, pkt)
		}
	}
	w.mu.Unlock()

	return w.push(ctx, pkts)
}

// Reset drops queued frames and buffered PCM.
func (w *PacedWriter) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pcmBuf = nil
	for {
		select {
		case <-w.frames:
		default:
			return
		}
	}
}

// Pending returns the number of queued frames.
func (w *PacedWriter) Pending() int {
	return len(w.frames)
}

// Close stops the pacer. Queued frames are discarded.
func (w *PacedWriter) Close() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// encode must be called with mu held.
func (w *PacedWriter) encode(frame []int16) []byte {
	n, err := w.enc.Encode(frame, w.opusBuf)
	if err != nil {
		w.logger.Debug("opus encode failed", "error", err)
		return nil
	}
	if n == 0 {
		return nil
	}
	pkt := make([]byte, n)
	copy(pkt, w.opusBuf[:n])
	return pkt
}

func (w *PacedWriter) push(ctx context.Context, pkts [][]byte) error {
	select {
	case <-w.stopCh:
		return ErrWriterClosed
	default:
	}
	for _, pkt := range pkts {
		select {
		case <-w.stopCh:
			return ErrWriterClosed
		case <-ctx.Done():
			return ctx.Err()
		case w.frames <- pkt:
		}
	}
	return nil
}

func (w *PacedWriter) pacer() {
	ticker := time.NewTicker(opusFrameTime)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-w.frames:
				if err := w.track.WriteSample(media.Sample{Data: frame, Duration: opusFrameTime}); err != nil {
					w.logger.Debug("write sample failed", "error", err)
				}
			default:
			}
		}
	}
}
