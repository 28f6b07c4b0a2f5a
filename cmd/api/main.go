package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/xelth-com/propcount/internal/buildinfo"
	"github.com/xelth-com/propcount/internal/config"
	"github.com/xelth-com/propcount/internal/database"
	"github.com/xelth-com/propcount/internal/handlers"
	"github.com/xelth-com/propcount/internal/locking"
	"github.com/xelth-com/propcount/internal/logging"
	"github.com/xelth-com/propcount/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.LoadServer()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	// 2. Initialize database (Detects Embedded vs External automatically)
	db, err := database.Connect(cfg.Database, log)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema (Critical for Zero-Config)
	log.Info("🚀 Synchronizing database schema...")
	if err := db.Migrate(); err != nil {
		log.Warnf("⚠️ Migration warning: %v", err)
	} else {
		log.Info("✅ Schema synchronized successfully")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 4. Room fan-out and write locks: Redis when configured, in-process otherwise
	var (
		broker websocket.Broker
		locker locking.Locker = locking.NewLocal()
		rdb    *redis.Client
	)
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.WithError(err).WithField("addr", cfg.Redis.Addr).Fatal("Failed to connect to Redis")
		}
		broker = websocket.NewRedisBroker(rdb)
		locker = locking.NewRedis(rdb, log)
		log.WithField("addr", cfg.Redis.Addr).Info("✅ Redis room broker and locks enabled")
	} else {
		log.Info("📦 Redis not configured: rooms and locks are local to this instance")
	}

	hub := websocket.NewHub(broker, log)
	if err := hub.Start(ctx); err != nil {
		log.Fatalf("Failed to start websocket hub: %v", err)
	}

	// 5. Set up HTTP router
	router := handlers.NewRouter(handlers.Deps{
		DB:        db.DB,
		Hub:       hub,
		Locker:    locker,
		JWTSecret: cfg.JWTSecret,
		Log:       log,
	})

	// 6. Start server with graceful shutdown
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start server in goroutine
	go func() {
		log.Infof("🚀 Physical count API %s starting on port %s", buildinfo.Version, cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Warnf("⚠️  Received signal: %v. Shutting down gracefully...", sig)

	// Create context with timeout for graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP server shutdown error: %v", err)
	}

	// Stop the hub; open sockets get a close frame
	stop()

	if rdb != nil {
		rdb.Close()
	}

	// Close database (this also stops embedded PostgreSQL)
	log.Info("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Errorf("Database close error: %v", err)
	}

	log.Info("✅ Shutdown complete")
}
