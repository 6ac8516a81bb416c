package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-arcana/internal/config"
	"github.com/teslashibe/go-arcana/internal/log"
	"github.com/teslashibe/go-arcana/pkg/history"
	"github.com/teslashibe/go-arcana/pkg/hub"
	"github.com/teslashibe/go-arcana/pkg/inference"
	"github.com/teslashibe/go-arcana/pkg/rtc"
	"github.com/teslashibe/go-arcana/pkg/stt"
	"github.com/teslashibe/go-arcana/pkg/tts"
	"github.com/teslashibe/go-arcana/pkg/turn"
	"github.com/teslashibe/go-arcana/pkg/web"
)

const (
	janitorInterval = time.Minute
	shutdownTimeout = 10 * time.Second
)

// app owns every long-lived component.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store   history.Store
	memory  *history.MemoryStore // nil with Redis
	stt     stt.Provider
	llm     *inference.Client
	tts     tts.Provider
	metrics *turn.MetricsCollector
	hub     *hub.Hub
	manager *rtc.Manager
	server  *web.Server
}

func newApp(ctx context.Context, cfg *config.Config, debug bool) (*app, error) {
	logger := log.L()
	a := &app{cfg: cfg, logger: logger.With("component", "arcana")}

	histOpts := []history.Option{
		history.WithTTL(cfg.Session.TTL),
		history.WithSystemPrompt(cfg.Session.SystemPrompt),
		history.WithLogger(logger),
	}
	if cfg.Redis.URL != "" {
		rs, err := history.OpenRedis(ctx, cfg.Redis.URL, histOpts...)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		a.store = rs
	} else {
		a.memory = history.NewMemoryStore(histOpts...)
		a.store = a.memory
	}

	whisper, err := stt.NewWhisper(
		stt.WithBaseURL(cfg.STT.BaseURL),
		stt.WithModel(cfg.STT.Model),
		stt.WithAPIKey(cfg.STT.APIKey),
		stt.WithLanguage(cfg.STT.Language),
		stt.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("stt: %w", err)
	}
	a.stt = whisper

	a.llm, err = inference.NewClient(
		inference.WithBaseURL(cfg.LLM.BaseURL),
		inference.WithModel(cfg.LLM.Model),
		inference.WithMaxTokens(cfg.LLM.MaxTokens),
		inference.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}

	ttsOpts := []tts.Option{tts.WithLogger(logger)}
	if cfg.TTS.BaseURL != "" {
		ttsOpts = append(ttsOpts, tts.WithBaseURL(cfg.TTS.BaseURL))
	}
	switch cfg.TTS.Provider {
	case config.ProviderElevenLabs:
		a.tts, err = tts.NewElevenLabs(ttsOpts...)
	default:
		a.tts, err = tts.NewRime(ttsOpts...)
	}
	if err != nil {
		return nil, fmt.Errorf("tts: %w", err)
	}

	policy, ok := turn.ParseEmptyTranscriptPolicy(cfg.Session.EmptyTranscript)
	if !ok {
		return nil, fmt.Errorf("unknown empty transcript policy %q", cfg.Session.EmptyTranscript)
	}
	a.metrics = turn.NewMetricsCollector()

	pipeline := turn.New(a.store, a.stt, inference.NewGenerator(a.llm, logger), a.tts,
		turn.WithLogger(logger),
		turn.WithEmptyTranscript(policy),
		turn.WithMetrics(a.metrics),
		turn.WithModel(cfg.LLM.Model),
		turn.WithMaxTokens(cfg.LLM.MaxTokens),
		turn.WithStateObserver(func(sessionID string, s turn.State) {
			if a.manager != nil {
				a.manager.ObserveState(sessionID, s)
			}
		}),
	)

	a.hub = hub.New(logger)
	a.manager, err = rtc.NewManager(pipeline, a.store,
		rtc.WithICEServers(cfg.RTC.ICEServers...),
		rtc.WithTimeLimit(cfg.Session.TimeLimit),
		rtc.WithConcurrency(cfg.Session.Concurrency),
		rtc.WithEventSink(web.EventSink(a.hub)),
		rtc.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("rtc: %w", err)
	}

	a.server = web.NewServer(a.manager, a.store, a.hub,
		web.WithDefaultTokens(cfg.LLM.Token, cfg.TTS.Token),
		web.WithSpeakers(cfg.Session.DefaultSpeaker, tts.RimeSpeakers...),
		web.WithDebug(debug),
		web.WithLogger(logger),
	)
	return a, nil
}

// run serves until ctx ends, then shuts everything down.
func (a *app) run(ctx context.Context) error {
	a.logger.Info("starting",
		"addr", a.cfg.Addr,
		"tts", a.cfg.TTS.Provider,
		"model", a.cfg.LLM.Model,
		"concurrency", a.cfg.Session.Concurrency,
		"time_limit", a.cfg.Session.TimeLimit,
		"redis", a.cfg.Redis.URL != "",
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})

	if a.memory != nil {
		g.Go(func() error {
			return a.memory.RunJanitor(gctx, janitorInterval)
		})
	}

	g.Go(func() error {
		if err := a.server.Listen(a.cfg.Addr); err != nil {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})

	return g.Wait()
}

func (a *app) shutdown() {
	a.logger.Info("shutting down", "active_sessions", a.manager.Active())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.logger.Warn("http shutdown", "error", err)
	}
	if err := a.manager.Close(); err != nil {
		a.logger.Warn("session shutdown", "error", err)
	}

	if n := a.metrics.Len(); n > 0 {
		avg := a.metrics.Average()
		a.logger.Info("turn latency", "turns", n, "average", avg.FormatLatency())
	}

	a.llm.Close()
	a.tts.Close()
	a.stt.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("history close", "error", err)
	}
	a.logger.Info("goodbye")
}
