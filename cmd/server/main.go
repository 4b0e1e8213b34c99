package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"collab-relay/internal/auth"
	"collab-relay/internal/cache"
	"collab-relay/internal/config"
	"collab-relay/internal/database"
	"collab-relay/internal/handlers"
	"collab-relay/internal/metrics"
	"collab-relay/internal/registry"
	"collab-relay/internal/relay"
	"collab-relay/internal/rooms"
	"collab-relay/internal/services"
	"collab-relay/internal/stream"
	"collab-relay/internal/telemetry"
	"collab-relay/internal/websocket"
	"collab-relay/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.GlobalLogger.Configure(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Fatal("Failed to initialise tracing: %v", err)
	}

	// Initialize database
	db, err := database.NewPostgresDB(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database: %v", err)
	}

	rdb, err := cache.Open(ctx, cfg.Redis.URL)
	if err != nil {
		logger.Fatal("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()
	unread := cache.NewRedisUnread(rdb, "unread:")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Relay core
	connections := registry.New()
	membership := rooms.NewManager()
	hub := websocket.NewHub(connections, membership, m, cfg.WebSocket)

	relayOpts := []relay.Option{relay.WithMetrics(m)}
	if len(cfg.Kafka.Brokers) > 0 {
		writer := stream.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer writer.Close()
		relayOpts = append(relayOpts, relay.WithSink(writer))
		logger.Info("Streaming events to Kafka topic %s", cfg.Kafka.Topic)
	}
	events := relay.New(membership, connections, hub, relayOpts...)

	// Initialize services
	authService := auth.NewService(cfg)
	messageService := services.NewMessageService(db, events, unread)

	// Initialize handlers
	messageHandlers := handlers.NewMessageHandlers(messageService, authService)
	wsHandlers := handlers.NewWebSocketHandlers(authService, hub, messageService, cfg.Server.AllowedOrigins)
	healthHandlers := handlers.NewHealthHandlers(map[string]handlers.Pinger{
		"postgres": db,
		"redis":    handlers.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	})

	// Setup routes
	mux := http.NewServeMux()
	setupRoutes(mux, messageHandlers, wsHandlers, healthHandlers)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	hubCtx, stopHub := context.WithCancel(context.Background())
	go hub.Run(hubCtx)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      otelhttp.NewHandler(corsMiddleware(cfg.Server.AllowedOrigins, mux), "http.server"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("🚀 Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("📡 WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)
	printAPIEndpoints()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	<-ctx.Done()
	logger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error: %v", err)
	}
	// Hijacked WebSocket connections are not tracked by Shutdown.
	stopHub()
	select {
	case <-hub.Done():
	case <-shutdownCtx.Done():
		logger.Warn("Hub did not stop before the shutdown deadline")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("Tracing shutdown error: %v", err)
	}
}

func setupRoutes(mux *http.ServeMux, messageHandlers *handlers.MessageHandlers, wsHandlers *handlers.WebSocketHandlers, healthHandlers *handlers.HealthHandlers) {
	mux.HandleFunc("POST /api/messages", messageHandlers.SendMessage)
	mux.HandleFunc("GET /api/messages", messageHandlers.History)
	mux.HandleFunc("GET /api/conversations", messageHandlers.Conversations)
	mux.HandleFunc("POST /api/rooms/read", messageHandlers.MarkRead)
	mux.HandleFunc("PATCH /api/tasks/{id}", messageHandlers.UpdateTask)

	mux.HandleFunc("GET /healthz", healthHandlers.Healthz)

	// WebSocket route
	mux.HandleFunc("GET /ws", wsHandlers.HandleWebSocket)
}

func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	anyOrigin := len(allowed) == 0 || slices.Contains(allowed, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case anyOrigin:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(allowed, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func printAPIEndpoints() {
	endpoints := []string{
		"POST  /api/messages",
		"GET   /api/messages?room={key}&limit={n}",
		"GET   /api/conversations",
		"POST  /api/rooms/read",
		"PATCH /api/tasks/{id}",
		"GET   /healthz",
		"GET   /metrics",
	}
	logger.Info("🔗 API endpoints:")
	for _, e := range endpoints {
		logger.Info("   %s", e)
	}
}
