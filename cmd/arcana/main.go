// arcana serves a browser voice agent: speech in over WebRTC, a transcribed
// and answered turn, and Rime arcana speech streamed back.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-arcana/internal/config"
	"github.com/teslashibe/go-arcana/internal/log"
)

func main() {
	addr := flag.String("addr", "", "listen address (overrides ARCANA_ADDR)")
	configPath := flag.String("config", "", "optional YAML config file")
	logLevel := flag.String("log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	debug := flag.Bool("debug", false, "debug logging and request logs")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.L().Error("configuration error", "error", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	log.Init(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, *debug)
	if err != nil {
		log.L().Error("initialization failed", "error", err)
		os.Exit(1)
	}
	if err := a.run(ctx); err != nil {
		log.L().Error("runtime error", "error", err)
		os.Exit(1)
	}
}
