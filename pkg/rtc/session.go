package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-arcana/pkg/history"
	"github.com/teslashibe/go-arcana/pkg/pcm"
	"github.com/teslashibe/go-arcana/pkg/stt"
	"github.com/teslashibe/go-arcana/pkg/turn"
	"github.com/teslashibe/go-arcana/pkg/vad"
)

// eventsLabel is the data channel the caller opens to receive events.
const eventsLabel = "events"

// frameDecoder is the part of *opus.Decoder a session needs.
type frameDecoder interface {
	Decode(data []byte, pcm []int16) (int, error)
}

// session is one peer connection. Utterances are queued to a single worker,
// so at most one turn runs per session.
type session struct {
	id       string
	m        *Manager
	settings turn.Settings
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	pc     *webrtc.PeerConnection
	out    *PacedWriter
	events atomic.Pointer[webrtc.DataChannel]

	detector   *vad.Detector
	seq        seqTracker
	utterances chan stt.Utterance

	// upsampler is only touched by the turn worker.
	upsampler *pcm.Resampler
	// muted drops the rest of the current reply after the caller asks to
	// stop. Cleared when the next turn starts.
	muted atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(m *Manager, id string, settings turn.Settings) (*session, error) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.TimeLimit)
	s := &session{
		id:         id,
		m:          m,
		settings:   settings,
		logger:     m.logger.With("component", "rtc.session", "session_id", id),
		ctx:        ctx,
		cancel:     cancel,
		utterances: make(chan stt.Utterance, m.cfg.QueueDepth),
		done:       make(chan struct{}),
	}
	det, err := vad.New(m.cfg.VAD, vad.Callbacks{
		OnSpeechStart: func() { s.logger.Debug("speech started") },
	})
	if err != nil {
		cancel()
		return nil, err
	}
	s.detector = det
	return s, nil
}

// run executes queued turns until the session ends.
func (s *session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			reason := "closed"
			if errors.Is(s.ctx.Err(), context.DeadlineExceeded) {
				reason = "time limit reached"
			}
			s.close(reason)
			return
		case u := <-s.utterances:
			s.turn(u)
		}
	}
}

func (s *session) turn(u stt.Utterance) {
	start := time.Now()
	s.muted.Store(false)
	if s.upsampler != nil {
		s.upsampler.Reset()
	}
	err := s.m.runner.Run(s.ctx, s.id, u, s.settings, s)
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.emit(Event{Type: EventError, Error: turn.UserMessage(err)})
		return
	}
	if s.out != nil && !s.muted.Load() {
		var err error
		if s.upsampler != nil {
			err = s.out.Write(s.ctx, s.upsampler.Flush())
		}
		if err == nil {
			err = s.out.FlushTail(s.ctx)
		}
		if err != nil && s.ctx.Err() == nil {
			s.logger.Debug("flush tail failed", "error", err)
		}
	}
	s.logger.Debug("turn finished", "audio_s", u.Duration(), "elapsed_ms", time.Since(start).Milliseconds())
}

// History implements turn.Output.
func (s *session) History(ctx context.Context, msgs []history.Message) error {
	s.emit(Event{Type: EventHistory, Messages: msgs})
	return nil
}

// Audio implements turn.Output.
func (s *session) Audio(ctx context.Context, f pcm.Frame) error {
	if s.out == nil {
		return ErrWriterClosed
	}
	if s.muted.Load() {
		return nil
	}
	if s.upsampler == nil || s.upsampler.From() != f.SampleRate {
		s.upsampler = pcm.NewResampler(f.SampleRate, opusRate)
	}
	return s.out.Write(ctx, s.upsampler.Process(f.Samples))
}

// stopSpeaking drops queued reply audio and any the current turn still
// produces. The turn itself runs to completion so its reply lands in history.
func (s *session) stopSpeaking() {
	s.muted.Store(true)
	if s.out != nil {
		s.out.Reset()
	}
	s.logger.Debug("caller stopped playback")
}

// observeState forwards turn state changes to the caller.
func (s *session) observeState(st turn.State) {
	s.emit(Event{Type: EventState, State: st.String()})
}

// emit sends ev on the events channel when open, and to the manager's sink.
func (s *session) emit(ev Event) {
	ev.SessionID = s.id
	if dc := s.events.Load(); dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen {
		data, err := json.Marshal(ev)
		if err == nil {
			err = dc.SendText(string(data))
		}
		if err != nil {
			s.logger.Debug("event send failed", "type", ev.Type, "error", err)
		}
	}
	if s.m.cfg.EventSink != nil {
		s.m.cfg.EventSink(ev)
	}
}

// attachEvents adopts the caller's events channel.
func (s *session) attachEvents(dc *webrtc.DataChannel) {
	if dc.Label() != eventsLabel {
		return
	}
	s.events.Store(dc)
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		switch strings.ToLower(strings.TrimSpace(string(msg.Data))) {
		case "stop", "stop-speaking", "cancel":
			s.stopSpeaking()
		}
	})
}

// readAudio decodes the caller's track until it ends.
func (s *session) readAudio(remote *webrtc.TrackRemote, dec frameDecoder) {
	buf := make([]int16, s.m.cfg.VAD.SampleRate*120/1000) // longest Opus frame
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			s.logger.Debug("remote track ended", "error", err)
			return
		}
		s.handlePacket(pkt, dec, buf)
	}
}

// handlePacket decodes one RTP packet and queues any finished utterance.
func (s *session) handlePacket(pkt *rtp.Packet, dec frameDecoder, buf []int16) {
	s.seq.observe(pkt.SequenceNumber)
	if len(pkt.Payload) == 0 {
		return
	}
	n, err := dec.Decode(pkt.Payload, buf)
	if err != nil {
		s.logger.Debug("opus decode failed", "error", err)
		return
	}
	for _, u := range s.detector.Push(buf[:n]) {
		s.enqueue(u)
	}
}

// enqueue hands u to the worker, dropping it if the queue is full.
func (s *session) enqueue(u stt.Utterance) {
	select {
	case s.utterances <- u:
	default:
		s.logger.Warn("turn queue full, dropping utterance", "audio_s", u.Duration())
	}
}

// close tears the session down once: stops audio, closes the peer, deletes
// the history and frees the concurrency slot.
func (s *session) close(reason string) {
	s.closeOnce.Do(func() {
		s.cancel()
		s.emit(Event{Type: EventClosed, Reason: reason})
		if s.out != nil {
			s.out.Close()
		}
		if s.pc != nil {
			if err := s.pc.Close(); err != nil {
				s.logger.Debug("peer close failed", "error", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.m.store.Delete(ctx, s.id); err != nil {
			s.logger.Warn("history delete failed", "error", err)
		}

		s.m.remove(s.id)
		s.logger.Info("session closed",
			"reason", reason,
			"packets", s.seq.received.Load(),
			"packets_lost", s.seq.lost.Load(),
		)
	})
}

// seqTracker counts RTP packets and sequence gaps. observe is called from
// the track reader only; the counters may be read from anywhere.
type seqTracker struct {
	started  bool
	last     uint16
	received atomic.Uint64
	lost     atomic.Uint64
}

func (t *seqTracker) observe(seq uint16) {
	t.received.Add(1)
	if !t.started {
		t.started = true
		t.last = seq
		return
	}
	diff := seq - t.last
	if diff == 0 || diff >= 0x8000 {
		// duplicate or late
		return
	}
	t.lost.Add(uint64(diff - 1))
	t.last = seq
}
