package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sttmesh/server/internal/config"
	"sttmesh/server/internal/manager"
	"sttmesh/server/internal/transcriber"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	host := flag.String("host", cfg.Server.Host, "listen host")
	port := flag.Int("port", cfg.Server.Port, "listen port")
	provider := flag.String("provider", cfg.Server.Provider, "inference execution provider: cuda, tensorrt")
	modelPath := flag.String("model", os.Getenv("STT_MODEL_PATH"), "path to the ONNX acoustic model")
	verbose := flag.Bool("v", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	engine, err := transcriber.NewONNXEngine(*modelPath, *provider)
	if err != nil {
		log.Error("GPU unavailable", "err", err)
		return 1
	}

	tr := transcriber.New(engine)
	mgr := manager.New(tr, cfg.Server.MaxConnections, cfg.Server.RejectWhenFull, cfg.Server.WorkerPoolSize, log)

	shutdownTimeout, err := time.ParseDuration(cfg.Server.ShutdownTimeout)
	if err != nil {
		shutdownTimeout = 5 * time.Second
	}

	addr := fmt.Sprintf("%s:%d", *host, *port)
	srv := NewServer(addr, mgr, shutdownTimeout, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	go func() {
		sig := <-sigCh
		log.Info("shutting down", "signal", sig.String())
		if sig == os.Interrupt {
			exitCode = 130
		}
		cancel()
	}()

	go runMetrics(ctx, mgr, 5*time.Second, log)

	if err := srv.Run(ctx); err != nil {
		log.Error("server", "err", err)
		mgr.Shutdown()
		return 1
	}
	mgr.Shutdown()
	return exitCode
}
