package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/inoue-kamui/20match/internal/chat"
	"github.com/inoue-kamui/20match/internal/httpapi"
	"github.com/inoue-kamui/20match/internal/match"
	"github.com/inoue-kamui/20match/internal/messaging"
	"github.com/inoue-kamui/20match/internal/metrics"
	"github.com/inoue-kamui/20match/internal/post"
	"github.com/inoue-kamui/20match/internal/ratelimit"
	"github.com/inoue-kamui/20match/internal/realtime"
	"github.com/inoue-kamui/20match/internal/store"
	"github.com/inoue-kamui/20match/internal/user"
	"github.com/inoue-kamui/20match/internal/ws"
)

func main() {
	listenAddr := ":8080"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		listenAddr = v
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		databaseURL = "postgres://localhost:5432/match20?sslmode=disable"
	}

	wsConfig := ws.DefaultServerConfig()
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			wsConfig.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			wsConfig.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			wsConfig.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			wsConfig.WriteTimeout = d
		}
	}

	// --- PostgreSQL ---
	db, err := store.Open(databaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := store.Migrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// --- Redis (rate limiting) ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("failed to connect to Redis at %s: %v", redisAddr, err)
	}
	pingCancel()
	limiter := ratelimit.NewLimiter(redisClient)

	// --- NATS ---
	natsConfig := messaging.DefaultNATSConfig()
	if v := os.Getenv("NATS_URL"); v != "" {
		natsConfig.URL = v
	}
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Domain services ---
	users := user.NewStore(db)
	posts := post.NewStore(db)
	matches := match.NewService(match.NewSQLStore(db), users, posts)
	chatSvc := chat.NewService(chat.NewSQLStore(db))

	log.Printf("match/chat server starting")
	log.Printf("  listen_addr:     %s", listenAddr)
	log.Printf("  worker_pool:     %d", wsConfig.WorkerPoolSize)
	log.Printf("  max_connections: %d", wsConfig.MaxConnections)
	log.Printf("  read_timeout:    %s", wsConfig.ReadTimeout)
	log.Printf("  write_timeout:   %s", wsConfig.WriteTimeout)
	log.Printf("  nats_url:        %s", natsConfig.URL)
	log.Printf("  redis_addr:      %s", redisAddr)

	// --- WebSocket layer ---
	dispatcher := ws.NewMessageDispatcher(nil)
	server := ws.NewServer(wsConfig, ws.Identify, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	server.SetConnectGate(func(ip string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		allowed, err := limiter.Allow(ctx, ip, ratelimit.RuleConnect)
		if err == nil && !allowed {
			return errTooManyConnects
		}
		return nil
	})

	handlers := realtime.NewHandlers(chatSvc, realtime.NewRegistry(), natsClient, server, limiter)
	handlers.Register(dispatcher)
	server.SetOnDisconnect(handlers.OnDisconnect)

	if err := server.Start(); err != nil {
		log.Fatalf("failed to start websocket server: %v", err)
	}

	// --- HTTP surface ---
	api := httpapi.New(users, posts, matches, limiter)

	mux := http.NewServeMux()
	api.Register(mux)
	mux.Handle("/ws", server.Handler())
	mux.Handle("/health", server.HealthHandler())
	mux.Handle("/metrics", metrics.Handler())

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("websocket shutdown error: %v", err)
		}
		natsClient.Close()
		if err := redisClient.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

// errTooManyConnects is returned by the connect gate when an IP exceeds the
// connection rate limit.
var errTooManyConnects = errors.New("connection rate limit exceeded")
