/*
Package main is the entry point for the CryptoChat relay.

It is responsible for loading configuration, initializing the global logging system,
opening the database and the optional Redis and object storage backends, starting the
relay hub and the HTTP server, and gracefully handling operating system interrupt
signals (SIGINT, SIGTERM) to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cryptochat/internal/app/db"
	"cryptochat/internal/app/relay"
	"cryptochat/internal/app/storage"
	"cryptochat/internal/app/store"
	"cryptochat/internal/configs"
	"cryptochat/internal/handler"
	"cryptochat/internal/pkg/auth/jwt"
	"cryptochat/internal/pkg/logx"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Bool("postgres", cfg.DatabaseDSN != "").
		Bool("redis", cfg.RedisURL != "").
		Bool("s3", cfg.S3Enabled()).
		Dur("heartbeat_interval", cfg.HeartbeatInterval).
		Int("max_missed_probes", cfg.MaxMissedProbes).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to open database")
	}
	defer st.Close()

	deps := &handler.AppDeps{Config: cfg, Store: st}
	hubDeps := relay.Deps{
		Users:    st,
		Chats:    st,
		Messages: st,
		Tokens: func(userID int64, address string) (string, error) {
			return jwt.GenerateToken(&jwt.Payload{UserID: userID, Address: address}, cfg.JWTSecret, jwt.SessionExpiration)
		},
	}

	if cfg.RedisURL != "" {
		presence, err := store.NewRedisPresence(ctx, cfg.RedisURL, 3*cfg.HeartbeatInterval)
		if err != nil {
			logx.Fatal(err, "Failed to connect to Redis")
		}
		defer presence.Close()

		hubDeps.Mirror = presence
		deps.Presence = presence
	}

	if cfg.S3Enabled() {
		signer, err := storage.NewSigner(ctx, storage.Config{
			BucketName:      cfg.S3BucketName,
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			logx.Fatal(err, "Failed to initialize object storage")
		}
		deps.Files = signer
	}

	// Start the relay hub
	hub := relay.NewHub(hubDeps, relay.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		MaxMissedProbes:   cfg.MaxMissedProbes,
	})
	hub.Start()
	deps.Hub = hub

	// Setup HTTP server and routes
	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      handler.Router(deps),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("CryptoChat relay starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	hub.Shutdown()

	logx.Info("Server gracefully stopped.")
}

// openStore connects to PostgreSQL when DATABASE_URL is set and falls back to SQLite.
func openStore(ctx context.Context, cfg *configs.AppConfig) (store.Store, error) {
	if cfg.DatabaseDSN != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		return store.NewPostgres(pool), nil
	}

	sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	logx.Info("Using embedded SQLite database", "path", cfg.SQLitePath)
	return store.NewSQLite(sqlDB), nil
}
