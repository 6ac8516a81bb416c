// Package web serves the arcana HTTP API: WebRTC offer/answer, the speaker
// catalogue, session history, and a per-session websocket event feed.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-arcana/pkg/history"
	"github.com/teslashibe/go-arcana/pkg/hub"
	"github.com/teslashibe/go-arcana/pkg/rtc"
	"github.com/teslashibe/go-arcana/pkg/tts"
)

// Sessions accepts WebRTC offers. *rtc.Manager implements it.
type Sessions interface {
	HandleOffer(ctx context.Context, offer rtc.Offer) (rtc.Answer, error)
	Active() int
}

// Config holds server configuration.
type Config struct {
	// LLMToken and TTSToken fill offers that carry no credentials.
	LLMToken string
	TTSToken string

	DefaultSpeaker string
	// Speakers is what /api/speakers advertises. Offers may name others;
	// the synthesis backend rejects voices it does not know.
	Speakers []string
	// AllowSpeaker decides whether an offer's speaker is accepted.
	AllowSpeaker func(string) bool

	OfferTimeout time.Duration
	Debug        bool
	Logger       *slog.Logger
}

// Option configures a Server.
type Option func(*Config)

// WithDefaultTokens sets the credentials used when an offer has none.
func WithDefaultTokens(llm, tts string) Option {
	return func(c *Config) {
		c.LLMToken = llm
		c.TTSToken = tts
	}
}

// WithSpeakers sets the advertised speakers and the default.
func WithSpeakers(def string, speakers ...string) Option {
	return func(c *Config) {
		c.DefaultSpeaker = def
		c.Speakers = speakers
	}
}

// WithSpeakerCheck replaces the speaker validation.
func WithSpeakerCheck(fn func(string) bool) Option {
	return func(c *Config) { c.AllowSpeaker = fn }
}

// WithOfferTimeout bounds SDP negotiation per request.
func WithOfferTimeout(d time.Duration) Option {
	return func(c *Config) { c.OfferTimeout = d }
}

// WithDebug enables request logging.
func WithDebug(debug bool) Option {
	return func(c *Config) { c.Debug = debug }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig advertises the Rime speaker catalogue and accepts any
// non-blank speaker.
func DefaultConfig() *Config {
	return &Config{
		DefaultSpeaker: tts.DefaultSpeaker,
		Speakers:       tts.RimeSpeakers,
		AllowSpeaker:   nonBlank,
		OfferTimeout:   15 * time.Second,
		Logger:         slog.Default(),
	}
}

// Server is the HTTP front end.
type Server struct {
	app      *fiber.App
	cfg      *Config
	sessions Sessions
	store    history.Store
	hub      *hub.Hub
	logger   *slog.Logger
}

// NewServer creates the server and registers its routes.
func NewServer(sessions Sessions, store history.Store, h *hub.Hub, opts ...Option) *Server {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		store:    store,
		hub:      h,
		logger:   cfg.Logger.With("component", "web"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "arcana",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if cfg.Debug {
		app.Use(logger.New())
	}

	app.Get("/healthz", s.handleHealth)

	api := app.Group("/api")
	api.Get("/speakers", s.handleSpeakers)
	api.Post("/offer", s.handleOffer)
	api.Get("/sessions/:id/history", s.handleHistory)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/sessions/:id", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// App exposes the fiber app for tests and embedding.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// Serve serves on an existing listener until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func nonBlank(name string) bool {
	return strings.TrimSpace(name) != ""
}

// canonicalSpeaker returns the catalogue spelling of name when it has one.
func (s *Server) canonicalSpeaker(name string) string {
	for _, sp := range s.cfg.Speakers {
		if strings.EqualFold(sp, name) {
			return sp
		}
	}
	return name
}

// handleError renders every error as {"error": "..."}.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "request_id", c.Locals("requestid"), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// EventSink publishes session events to the hub under their session id.
func EventSink(h *hub.Hub) rtc.EventSink {
	return func(ev rtc.Event) {
		if err := h.PublishJSON(ev.SessionID, ev); err != nil {
			slog.Default().Warn("encode event", "type", ev.Type, "error", err)
		}
	}
}
