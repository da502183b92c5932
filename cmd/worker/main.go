// Package main is the entry point for the relay worker process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go/jetstream"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/relaystack/sms-relay/internal/agent"
	"github.com/relaystack/sms-relay/internal/config"
	"github.com/relaystack/sms-relay/internal/natsq"
	"github.com/relaystack/sms-relay/internal/weather"
	"github.com/relaystack/sms-relay/internal/worker"
	"github.com/relaystack/sms-relay/pkg/logger"
	"github.com/relaystack/sms-relay/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting SMS relay worker", zap.String("model", cfg.OpenAIModel))

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "sms-relay-worker", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	if cfg.OpenAIAPIKey == "" {
		log.Warn("OPENAI_API_KEY not set, turns will fail")
	}

	// Connect to NATS
	natsClient, err := natsq.Connect(natsq.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer natsClient.Close()

	streamManager := natsq.NewStreamManager(natsClient)
	if err := streamManager.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}

	consumer, err := streamManager.EnsureConsumer(ctx)
	if err != nil {
		log.Error("failed to ensure consumer", zap.Error(err))
		os.Exit(1)
	}

	// Agent + processor
	llmClient := openai.NewClient(cfg.OpenAIAPIKey)
	smsAgent := agent.New(llmClient, cfg.OpenAIModel, weather.NewClient(), log)
	processor := worker.NewProcessor(smsAgent, log)

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		// Each job is one isolated turn. The job is acked regardless of
		// outcome: the worker never retries a turn on its own.
		if err := processor.Process(ctx, msg.Data()); err != nil {
			log.Error("job aborted", zap.Error(err))
		}
		if err := msg.Ack(); err != nil {
			log.Warn("failed to ack job", zap.Error(err))
		}
	})
	if err != nil {
		log.Error("failed to start consuming", zap.Error(err))
		os.Exit(1)
	}

	log.Info("worker consuming", zap.String("stream", natsq.StreamName))

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down worker")
	cc.Stop()
	log.Info("worker stopped")
}
