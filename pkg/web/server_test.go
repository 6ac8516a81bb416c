package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-arcana/pkg/history"
	"github.com/teslashibe/go-arcana/pkg/hub"
	"github.com/teslashibe/go-arcana/pkg/rtc"
)

type fakeSessions struct {
	mu     sync.Mutex
	offers []rtc.Offer
	err    error
	active int
}

func (f *fakeSessions) HandleOffer(ctx context.Context, offer rtc.Offer) (rtc.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offers = append(f.offers, offer)
	if f.err != nil {
		return rtc.Answer{}, f.err
	}
	return rtc.Answer{Type: "answer", SDP: "v=0 answer", SessionID: "sess-1"}, nil
}

func (f *fakeSessions) Active() int { return f.active }

func (f *fakeSessions) lastOffer(t *testing.T) rtc.Offer {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.offers) == 0 {
		t.Fatal("no offer received")
	}
	return f.offers[len(f.offers)-1]
}

func newTestServer(t *testing.T, sessions Sessions, opts ...Option) (*Server, *history.MemoryStore, *hub.Hub) {
	t.Helper()
	store := history.NewMemoryStore()
	h := hub.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return NewServer(sessions, store, h, opts...), store, h
}

func postOffer(t *testing.T, s *Server, body string) (*http.Response, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/offer", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	data, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return resp, out
}

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeSessions{active: 2})

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	if body["status"] != "ok" || body["sessions"] != float64(2) {
		t.Errorf("body = %v", body)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Error("missing request id header")
	}
}

func TestSpeakers(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeSessions{})

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/api/speakers", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	var body SpeakersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Default != "Luna" {
		t.Errorf("default = %q", body.Default)
	}
	want := []string{"Luna", "Pola", "Ursa", "Sirius", "Andromeda"}
	if fmt.Sprint(body.Speakers) != fmt.Sprint(want) {
		t.Errorf("speakers = %v, want %v", body.Speakers, want)
	}
}

func TestOffer(t *testing.T) {
	sessions := &fakeSessions{}
	s, _, _ := newTestServer(t, sessions, WithDefaultTokens("hf-default", "rime-default"))

	resp, body := postOffer(t, s, `{"type":"offer","sdp":"v=0","speaker":"ursa","hf_token":"hf-own"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	if body["session_id"] != "sess-1" || body["type"] != "answer" {
		t.Errorf("answer = %v", body)
	}

	offer := sessions.lastOffer(t)
	if offer.SDP != "v=0" || offer.Type != "offer" {
		t.Errorf("offer = %+v", offer)
	}
	if offer.Settings.Speaker != "Ursa" {
		t.Errorf("speaker = %q, want catalogue spelling", offer.Settings.Speaker)
	}
	if offer.Settings.LLMToken != "hf-own" {
		t.Errorf("LLMToken = %q, offer token should win", offer.Settings.LLMToken)
	}
	if offer.Settings.TTSToken != "rime-default" {
		t.Errorf("TTSToken = %q, want default", offer.Settings.TTSToken)
	}
}

func TestOfferDefaults(t *testing.T) {
	sessions := &fakeSessions{}
	s, _, _ := newTestServer(t, sessions)

	resp, _ := postOffer(t, s, `{"sdp":"v=0"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	offer := sessions.lastOffer(t)
	if offer.Type != "offer" || offer.Settings.Speaker != "Luna" {
		t.Errorf("offer = %+v", offer)
	}
	// No defaults configured: the turn reports the missing token later.
	if offer.Settings.LLMToken != "" || offer.Settings.TTSToken != "" {
		t.Errorf("tokens should stay empty, got %+v", offer.Settings)
	}
}

func TestOfferErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantCalls  int
	}{
		{"bad body", `{not json`, nil, http.StatusBadRequest, 0},
		{"invalid offer", `{"type":"answer","sdp":"v=0"}`, rtc.ErrInvalidOffer, http.StatusBadRequest, 1},
		{"too many sessions", `{"type":"offer","sdp":"v=0"}`, rtc.ErrTooManySessions, http.StatusTooManyRequests, 1},
		{"shutting down", `{"type":"offer","sdp":"v=0"}`, rtc.ErrClosed, http.StatusServiceUnavailable, 1},
		{"timeout", `{"type":"offer","sdp":"v=0"}`, context.DeadlineExceeded, http.StatusGatewayTimeout, 1},
		{"internal", `{"type":"offer","sdp":"v=0"}`, fmt.Errorf("boom"), http.StatusInternalServerError, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &fakeSessions{err: tt.err}
			s, _, _ := newTestServer(t, sessions)

			resp, body := postOffer(t, s, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if _, ok := body["error"]; !ok {
				t.Errorf("body has no error: %v", body)
			}
			if len(sessions.offers) != tt.wantCalls {
				t.Errorf("HandleOffer calls = %d, want %d", len(sessions.offers), tt.wantCalls)
			}
		})
	}
}

func TestOfferSpeakerOutsideCatalogue(t *testing.T) {
	sessions := &fakeSessions{}
	s, _, _ := newTestServer(t, sessions, WithDefaultTokens("hf", "rime"))

	resp, body := postOffer(t, s, `{"type":"offer","sdp":"v=0","speaker":"marsh"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d body = %v", resp.StatusCode, body)
	}
	if got := sessions.lastOffer(t).Settings.Speaker; got != "marsh" {
		t.Errorf("speaker = %q, want it forwarded unchanged", got)
	}
}

func TestOfferCustomSpeakerCheck(t *testing.T) {
	sessions := &fakeSessions{}
	s, _, _ := newTestServer(t, sessions,
		WithSpeakers("voice-1", "voice-1"),
		WithSpeakerCheck(func(name string) bool { return strings.HasPrefix(name, "voice-") }),
	)

	resp, _ := postOffer(t, s, `{"type":"offer","sdp":"v=0","speaker":"voice-2"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := sessions.lastOffer(t).Settings.Speaker; got != "voice-2" {
		t.Errorf("speaker = %q", got)
	}

	resp, body := postOffer(t, s, `{"type":"offer","sdp":"v=0","speaker":"Bob"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if body["error"] != "unknown speaker: Bob" {
		t.Errorf("error = %v", body["error"])
	}
	if len(sessions.offers) != 1 {
		t.Errorf("HandleOffer calls = %d, want 1", len(sessions.offers))
	}
}

func TestHistory(t *testing.T) {
	s, store, _ := newTestServer(t, &fakeSessions{})
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "sess-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Append(ctx, "sess-1", history.NewUserMessage("hello")); err != nil {
		t.Fatal(err)
	}

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/api/sessions/sess-1/history", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body HistoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.SessionID != "sess-1" || len(body.Messages) != 2 {
		t.Fatalf("body = %+v", body)
	}
	if body.Messages[0].Role != history.RoleSystem || body.Messages[1].Content != "hello" {
		t.Errorf("messages = %+v", body.Messages)
	}

	resp, err = s.App().Test(httptest.NewRequest(http.MethodGet, "/api/sessions/missing/history", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing session status = %d, want 404", resp.StatusCode)
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s, _, _ := newTestServer(t, &fakeSessions{})

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/ws/sessions/sess-1", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}
}

func TestEventFeed(t *testing.T) {
	s, _, h := newTestServer(t, &fakeSessions{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go s.Serve(ln)
	defer s.Shutdown(context.Background())

	url := fmt.Sprintf("ws://%s/ws/sessions/sess-1", ln.Addr())
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	// Wait for the subscription before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if h.ClientCount() != 1 {
		t.Fatalf("ClientCount = %d", h.ClientCount())
	}

	sink := EventSink(h)
	sink(rtc.Event{Type: rtc.EventError, SessionID: "other", Error: "not for us"})
	sink(rtc.Event{
		Type:      rtc.EventHistory,
		SessionID: "sess-1",
		Messages:  []history.Message{history.NewUserMessage("hi")},
	})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev rtc.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	if ev.Type != rtc.EventHistory || ev.SessionID != "sess-1" {
		t.Errorf("event = %+v", ev)
	}
	if len(ev.Messages) != 1 || ev.Messages[0].Content != "hi" {
		t.Errorf("messages = %+v", ev.Messages)
	}
}
