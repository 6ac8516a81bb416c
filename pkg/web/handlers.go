package web

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-arcana/pkg/history"
	"github.com/teslashibe/go-arcana/pkg/hub"
	"github.com/teslashibe/go-arcana/pkg/rtc"
	"github.com/teslashibe/go-arcana/pkg/turn"
)

// OfferRequest is the body of POST /api/offer.
type OfferRequest struct {
	Type     string `json:"type"`
	SDP      string `json:"sdp"`
	Speaker  string `json:"speaker"`
	HFToken  string `json:"hf_token"`
	TTSToken string `json:"tts_token"`
}

// SpeakersResponse is the body of GET /api/speakers.
type SpeakersResponse struct {
	Default  string   `json:"default"`
	Speakers []string `json:"speakers"`
}

// HistoryResponse is the body of GET /api/sessions/:id/history.
type HistoryResponse struct {
	SessionID string            `json:"session_id"`
	Messages  []history.Message `json:"messages"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"sessions": s.sessions.Active(),
	})
}

func (s *Server) handleSpeakers(c *fiber.Ctx) error {
	return c.JSON(SpeakersResponse{
		Default:  s.cfg.DefaultSpeaker,
		Speakers: s.cfg.Speakers,
	})
}

// handleOffer negotiates a new session. Blank credentials fall back to the
// server defaults; a turn without any still fails with a configuration error
// delivered over the session's events.
func (s *Server) handleOffer(c *fiber.Ctx) error {
	var req OfferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid offer body")
	}
	if req.Type == "" {
		req.Type = "offer"
	}

	speaker := strings.TrimSpace(req.Speaker)
	if speaker == "" {
		speaker = s.cfg.DefaultSpeaker
	}
	if s.cfg.AllowSpeaker != nil && !s.cfg.AllowSpeaker(speaker) {
		return fiber.NewError(fiber.StatusBadRequest, "unknown speaker: "+speaker)
	}

	settings := turn.Settings{
		LLMToken: firstNonEmpty(req.HFToken, s.cfg.LLMToken),
		TTSToken: firstNonEmpty(req.TTSToken, s.cfg.TTSToken),
		Speaker:  s.canonicalSpeaker(speaker),
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), s.cfg.OfferTimeout)
	defer cancel()

	answer, err := s.sessions.HandleOffer(ctx, rtc.Offer{Type: req.Type, SDP: req.SDP, Settings: settings})
	switch {
	case err == nil:
		return c.JSON(answer)
	case errors.Is(err, rtc.ErrInvalidOffer):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, rtc.ErrTooManySessions):
		return fiber.NewError(fiber.StatusTooManyRequests, err.Error())
	case errors.Is(err, rtc.ErrClosed):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.NewError(fiber.StatusGatewayTimeout, "negotiation timed out")
	default:
		return err
	}
}

func (s *Server) handleHistory(c *fiber.Ctx) error {
	id := c.Params("id")
	msgs, err := s.store.Messages(c.UserContext(), id)
	if errors.Is(err, history.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "session not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(HistoryResponse{SessionID: id, Messages: msgs})
}

// handleEventsWS subscribes the connection to one session's events.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	id := c.Params("id")
	s.logger.Debug("event feed opened", "session_id", id)
	hub.NewClient(s.hub, c, id).Run()
	s.logger.Debug("event feed closed", "session_id", id)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
