// Package main is the entry point for the relay dispatcher server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/relaystack/sms-relay/internal/config"
	"github.com/relaystack/sms-relay/internal/dispatch"
	"github.com/relaystack/sms-relay/internal/handler"
	"github.com/relaystack/sms-relay/internal/middleware"
	"github.com/relaystack/sms-relay/internal/model"
	"github.com/relaystack/sms-relay/internal/natsq"
	"github.com/relaystack/sms-relay/internal/store"
	"github.com/relaystack/sms-relay/internal/twilio"
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

	log.Info("starting SMS relay dispatcher",
		zap.String("port", cfg.ServerPort),
		zap.String("webhook_base_url", cfg.WebhookBaseURL),
	)

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "sms-relay-dispatcher", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
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

	// Ensure the dispatch stream exists
	streamManager := natsq.NewStreamManager(natsClient)
	if err := streamManager.EnsureStream(ctx); err != nil {
		log.Error("failed to ensure stream", zap.Error(err))
		os.Exit(1)
	}

	// Context store
	contextStore := store.New(cfg.ContextStorePath, log)
	log.Info("context store loaded",
		zap.String("path", cfg.ContextStorePath),
		zap.Int("conversations", contextStore.Len()),
	)

	twilioCreds := model.TwilioCredentials{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		FromNumber: cfg.TwilioFromNumber,
	}
	if !twilioCreds.Configured() {
		log.Warn("Twilio not configured, outbound sends will be skipped")
	}
	if cfg.WebhookBaseURL == "" {
		log.Warn("WEBHOOK_URL not set, workers will not be able to call back")
	}

	// Dispatcher
	dispatcher := dispatch.New(streamManager, dispatch.Config{
		CallbackURL: cfg.WebhookBaseURL + "/webhook/agent/complete",
		TokenSecret: cfg.CallbackTokenSecret,
		TokenTTL:    cfg.CallbackTokenTTL,
		Twilio:      twilioCreds,
	}, log)

	// Handlers
	healthHandler := handler.NewHealthHandler(natsClient)
	webhookHandler := handler.NewWebhookHandler(contextStore, dispatcher, log)
	completeHandler := handler.NewCompleteHandler(contextStore, cfg.CallbackTokenSecret, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Twilio-Signature"},
		ExposedHeaders: []string{"X-Correlation-ID"},
		MaxAge:         300,
	}))

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Webhook endpoints
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		if cfg.TwilioValidateSignature && cfg.TwilioAuthToken != "" {
			r.Use(middleware.TwilioSignature(cfg.TwilioAuthToken, cfg.WebhookBaseURL, log))
		}
		r.Post("/webhook/receive", webhookHandler.Receive)
		r.Post("/webhook/twilio/receive", webhookHandler.Receive)
	})
	r.Post("/webhook/agent/complete", completeHandler.Complete)

	// Auto-configure the Twilio SMS webhook to point here
	if cfg.WebhookBaseURL != "" && twilioCreds.Configured() {
		go func() {
			configureCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			twilioClient := twilio.NewClient(twilioCreds, log)
			webhookURL := cfg.WebhookBaseURL + "/webhook/twilio/receive"
			if err := twilioClient.EnsureSMSWebhook(configureCtx, webhookURL); err != nil {
				log.Error("failed to configure Twilio webhook", zap.Error(err))
			}
		}()
	} else {
		log.Warn("skipping Twilio webhook auto-configuration")
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
