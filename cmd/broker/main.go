package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaytext/session-broker/pkg/broker"
	"github.com/relaytext/session-broker/pkg/correction"
	"github.com/relaytext/session-broker/pkg/sttclient"
	"github.com/relaytext/session-broker/pkg/transport"
	"github.com/relaytext/session-broker/pkg/vtt"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: No .env file found, using system environment variables")
	}

	sttURL := os.Getenv("STT_UPSTREAM_URL")
	if sttURL == "" {
		log.Fatal("Error: STT_UPSTREAM_URL must be set")
	}
	sttKey := os.Getenv("STT_API_KEY")

	ollamaURL := os.Getenv("OLLAMA_BASE_URL")
	if ollamaURL == "" {
		ollamaURL = "http://localhost:11434"
	}
	ollamaModel := os.Getenv("CORRECTION_MODEL")

	qwenKey := os.Getenv("DASHSCOPE_API_KEY")
	qwenURL := os.Getenv("DASHSCOPE_BASE_URL")
	if qwenURL == "" {
		qwenURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	}

	addr := os.Getenv("BROKER_LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	configPath := os.Getenv("BROKER_CONFIG_FILE")
	cfg, err := broker.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Error: load config: %v", err)
	}

	logger := broker.NewSlogLogger(slog.Default())

	registry := broker.NewConnectionRegistry()
	artifacts := vtt.NewWriter(cfg.ArtifactRoot, logger)

	sttBuild := func(sessionID string) broker.STTStreamFactory {
		return func() broker.STTStream {
			stc := sttclient.DefaultConfig(sttKey, cfg.DefaultTargetLanguage)
			stc.PingIntervalSeconds = cfg.STTPingIntervalSeconds
			stc.PingTimeoutSeconds = cfg.STTPingTimeoutSeconds
			return sttclient.NewProvider(sttURL, stc, logger)
		}
	}

	corrBuild := func(sessionID string, b *broker.Broadcaster) broker.CorrectionSink {
		model := correction.NewOllamaModel(ollamaURL, ollamaModel)
		translator := correction.NewQwenTranslator(qwenKey, qwenURL, "", "", cfg.DefaultTargetLanguage)
		engine := correction.NewEngine(sessionID, cfg.CorrectionContextSize, model, translator, b, logger)
		return correction.NewEngineSink(engine)
	}

	manager := broker.NewManager(cfg, registry, artifacts, sttBuild, corrBuild, logger)

	validator := transport.AllowAllValidator{}
	producer := transport.NewProducerHandler(validator, manager, "zoom", logger)
	viewer := transport.NewViewerHandler(manager, logger)
	sessions := transport.NewSessionsHandler(registry)

	mux := http.NewServeMux()
	mux.Handle("/producer", producer)
	mux.Handle("/viewer", viewer)
	mux.Handle("/sessions", sessions)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Printf("session broker listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Error: http server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
}
