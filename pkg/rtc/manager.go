package rtc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	"golang.org/x/sync/semaphore"
	"gopkg.in/hraban/opus.v2"

	"github.com/teslashibe/go-arcana/pkg/history"
	"github.com/teslashibe/go-arcana/pkg/turn"
)

// Manager accepts offers and owns the live sessions.
type Manager struct {
	runner Runner
	store  history.Store
	cfg    *Config
	logger *slog.Logger
	sem    *semaphore.Weighted

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// NewManager creates a Manager that runs turns with runner and deletes a
// session's history from store when the session ends.
func NewManager(runner Runner, store history.Store, opts ...Option) (*Manager, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		runner:   runner,
		store:    store,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "rtc.manager"),
		sem:      semaphore.NewWeighted(int64(cfg.Concurrency)),
		sessions: make(map[string]*session),
	}, nil
}

// HandleOffer creates a session for offer and returns the SDP answer once ICE
// gathering completes. The session outlives ctx; it ends when the peer
// disconnects, the time limit passes, or the manager closes.
func (m *Manager) HandleOffer(ctx context.Context, offer Offer) (Answer, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return Answer{}, ErrInvalidOffer
	}
	if m.isClosed() {
		return Answer{}, ErrClosed
	}
	if !m.sem.TryAcquire(1) {
		return Answer{}, ErrTooManySessions
	}

	id := uuid.NewString()
	s, err := newSession(m, id, offer.Settings)
	if err != nil {
		m.sem.Release(1)
		return Answer{}, err
	}

	answer, err := m.connect(ctx, s, offer.SDP)
	if err != nil {
		s.cancel()
		if s.out != nil {
			s.out.Close()
		}
		if s.pc != nil {
			_ = s.pc.Close()
		}
		m.sem.Release(1)
		return Answer{}, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.close("manager closed")
		m.sem.Release(1)
		return Answer{}, ErrClosed
	}
	m.sessions[id] = s
	m.mu.Unlock()

	go s.run()

	m.logger.Info("session started", "session_id", id, "speaker", offer.Settings.Speaker, "active", m.Active())
	return answer, nil
}

// connect builds the peer connection for s and negotiates the answer.
func (m *Manager) connect(ctx context.Context, s *session, sdp string) (Answer, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return Answer{}, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return Answer{}, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	var iceServers []webrtc.ICEServer
	if len(m.cfg.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: m.cfg.ICEServers}}
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return Answer{}, err
	}
	s.pc = pc

	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusRate, Channels: 1},
		"agent-audio", "agent",
	)
	if err != nil {
		return Answer{}, err
	}
	sender, err := pc.AddTrack(outTrack)
	if err != nil {
		return Answer{}, err
	}
	// Drain RTCP so interceptors keep working.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	out, err := NewPacedWriter(outTrack, s.logger)
	if err != nil {
		return Answer{}, fmt.Errorf("rtc: opus encoder: %w", err)
	}
	s.out = out

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		dec, err := opus.NewDecoder(m.cfg.VAD.SampleRate, 1)
		if err != nil {
			s.logger.Error("opus decoder", "error", err)
			return
		}
		s.logger.Debug("remote audio track", "codec", remote.Codec().MimeType)
		go s.readAudio(remote, dec)
	})
	pc.OnDataChannel(s.attachEvents)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debug("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			go s.close("peer " + state.String())
		}
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp}); err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrInvalidOffer, err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return Answer{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return Answer{}, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return Answer{}, ctx.Err()
	}

	local := pc.LocalDescription()
	if local == nil {
		return Answer{}, fmt.Errorf("rtc: no local description")
	}
	return Answer{Type: "answer", SDP: local.SDP, SessionID: s.id}, nil
}

// ObserveState forwards turn states to the session's caller. It matches
// turn.StateObserver.
func (m *Manager) ObserveState(sessionID string, st turn.State) {
	m.mu.Lock()
	s := m.sessions[sessionID]
	m.mu.Unlock()
	if s != nil {
		s.observeState(st)
	}
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Has reports whether sessionID is live.
func (m *Manager) Has(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	return ok
}

// Close ends every session and rejects further offers.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	live := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.Unlock()

	for _, s := range live {
		s.close("shutdown")
		<-s.done
	}
	return nil
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// remove forgets a session and frees its slot.
func (m *Manager) remove(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		m.sem.Release(1)
	}
}
