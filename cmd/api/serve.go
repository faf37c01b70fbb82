package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/helpdesk/internal/assistant"
	"github.com/capitalize-ai/helpdesk/internal/bot"
	"github.com/capitalize-ai/helpdesk/internal/config"
	"github.com/capitalize-ai/helpdesk/internal/handler"
	"github.com/capitalize-ai/helpdesk/internal/llm"
	"github.com/capitalize-ai/helpdesk/internal/middleware"
	natsclient "github.com/capitalize-ai/helpdesk/internal/nats"
	"github.com/capitalize-ai/helpdesk/internal/presence"
	"github.com/capitalize-ai/helpdesk/internal/realtime"
	"github.com/capitalize-ai/helpdesk/internal/service"
	"github.com/capitalize-ai/helpdesk/internal/store"
	"github.com/capitalize-ai/helpdesk/internal/whatsapp"
	"github.com/capitalize-ai/helpdesk/pkg/logger"
	"github.com/capitalize-ai/helpdesk/pkg/tracing"
)

func serve(ctx context.Context, envFile string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Initialize logger
	log, err := logger.NewWithOptions(cfg.LogLevel, logger.Options{File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)
	log = log.With(zap.String("instance_id", cfg.InstanceID))

	log.Info("starting helpdesk server")

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "helpdesk", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	// Persistence
	db, err := store.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	// Presence store
	kv, err := presence.NewRedisKV(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect presence store: %w", err)
	}
	defer kv.Close()
	presenceStore := presence.New(kv)

	checks := []handler.Check{
		{Name: "database", Ping: db.Ping},
		{Name: "redis", Ping: kv.Ping},
	}

	// Event log and cross-instance relay
	var (
		events     service.EventLog
		relay      *natsclient.Relay
		natsClient *natsclient.Client
	)
	if cfg.NATSEnabled {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Name:     "helpdesk-" + cfg.InstanceID,
		}, log)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			return fmt.Errorf("ensure stream: %w", err)
		}
		events = streamManager
		relay = natsclient.NewRelay(natsClient, cfg.InstanceID, log)

		checks = append(checks, handler.Check{Name: "nats", Ping: func(context.Context) error {
			if !natsClient.IsConnected() {
				return errors.New("nats disconnected")
			}
			return nil
		}})
	} else {
		log.Warn("NATS disabled: conversation history and multi-instance fan-out are off")
	}

	// AI responder
	responder := assistant.New(newLLMClient(cfg, log), log,
		assistant.WithModel(cfg.AIModel),
		assistant.WithTimeout(cfg.AITimeout),
	)

	// Bot
	tree, err := bot.LoadTree(cfg.BotMenuFile)
	if err != nil {
		return fmt.Errorf("load bot menu: %w", err)
	}
	engine := bot.NewEngine(responder, log)

	// WhatsApp
	wa := whatsapp.NewClient(whatsapp.Config{
		APIURL:        cfg.WhatsAppAPIURL,
		Token:         cfg.WhatsAppToken,
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		MaxRetries:    uint64(cfg.WhatsAppMaxRetries),
	}, log)
	if !wa.Configured() {
		log.Warn("WhatsApp credentials missing: outbound messages will not be delivered")
	}

	// Realtime gateway
	validator := middleware.NewTokenValidator(cfg.JWTSecret)
	gatewayOpts := []realtime.Option{realtime.WithConfig(realtime.Config{AllowedOrigins: cfg.AllowedOrigins})}
	if relay != nil {
		gatewayOpts = append(gatewayOpts, realtime.WithRelay(relay))
	}
	gateway := realtime.NewGateway(validator, db, presenceStore, log, gatewayOpts...)
	if relay != nil {
		if err := relay.Subscribe(gateway.DeliverRelayed); err != nil {
			return err
		}
		defer relay.Close()
	}

	// Initialize services
	conversationSvc := service.NewConversationService(db, events, gateway, log)
	messageSvc := service.NewMessageService(db, conversationSvc, engine, tree, wa, gateway, log)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(checks...)
	conversationHandler := handler.NewConversationHandler(conversationSvc, log)
	messageHandler := handler.NewMessageHandler(messageSvc, conversationSvc, log)
	webhookHandler := handler.NewWebhookHandler(messageSvc, cfg.WhatsAppVerifyToken, cfg.WhatsAppAppSecret, log)
	presenceHandler := handler.NewPresenceHandler(presenceStore, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// WhatsApp webhook, authenticated by signature
	r.Route("/webhook/whatsapp", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests*10, cfg.RateLimitWindow))
		r.Get("/", webhookHandler.Verify)
		r.Post("/", webhookHandler.Receive)
	})

	// Console websocket, authenticated by token
	r.Handle("/ws", gateway)

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(validator))
		r.Use(middleware.AttendantRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/conversations", handler.ConversationRoutes(conversationHandler, messageHandler))
		r.Get("/attendants/online", presenceHandler.Online)
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	gateway.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

// newLLMClient picks the configured provider, falling back to whichever key
// is present. It returns nil when no provider can be built.
func newLLMClient(cfg *config.Config, log *logger.Logger) llm.Client {
	provider := llm.Provider(cfg.DefaultLLM)
	key := cfg.OpenAIAPIKey
	if provider == llm.ProviderAnthropic {
		key = cfg.AnthropicAPIKey
	}
	if key == "" {
		switch {
		case cfg.OpenAIAPIKey != "":
			provider, key = llm.ProviderOpenAI, cfg.OpenAIAPIKey
		case cfg.AnthropicAPIKey != "":
			provider, key = llm.ProviderAnthropic, cfg.AnthropicAPIKey
		default:
			log.Info("no AI provider configured: bot falls back to attendant transfer")
			return nil
		}
	}

	client, err := llm.NewClient(provider, key)
	if err != nil {
		log.Warn("failed to create LLM client, AI responder disabled",
			zap.String("provider", string(provider)),
			zap.Error(err),
		)
		return nil
	}
	return client
}
