package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvcrn/restream-bridge/internal/app"
	"github.com/dvcrn/restream-bridge/internal/config"
	"github.com/dvcrn/restream-bridge/internal/credentials"
	"github.com/dvcrn/restream-bridge/internal/logger"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	backend := flag.String("backend", "", "Credentials backend: fs, redis, keychain or memory (overrides CREDENTIALS_BACKEND)")
	fsPath := flag.String("creds-path", "", "Path to the credentials file for the fs backend (overrides CREDENTIALS_PATH)")
	interactive := flag.Bool("interactive", false, "Authorize through the browser and a local callback listener")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *backend != "" {
		cfg.CredentialsBackend = *backend
	}
	if *fsPath != "" {
		cfg.CredentialsPath = *fsPath
	}
	if *interactive {
		cfg.AuthMode = config.AuthModeInteractive
	}

	log := logger.New(cfg.LogLevel)

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.CredentialsBackend).Msg("Failed to open credentials store")
	}
	defer closeStore()

	bridge, err := app.New(ctx, cfg, store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bridge")
	}
	if err := bridge.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise bridge")
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           bridge.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Str("auth_mode", string(cfg.AuthMode)).Msg("Starting server")
		serverErrors <- httpServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		bridge.Destroy()
		log.Fatal().Err(err).Msg("Server failed")

	case sig := <-shutdown:
		log.Info().Str("signal", sig.String()).Msg("Starting shutdown")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Error shutting down server")
			if err := httpServer.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing server")
			}
		}
		bridge.Destroy()
	}
}

// openStore selects the credential backend. The returned func releases it.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (credentials.Store, func(), error) {
	noop := func() {}

	switch cfg.CredentialsBackend {
	case "fs":
		path := cfg.CredentialsPath
		if path == "" {
			path = credentials.DefaultCredsPath()
		}
		log.Info().Str("path", path).Msg("📄 Using filesystem credentials store")
		if !credentials.FileExists(path) {
			log.Info().Str("path", path).Msg("No credentials file yet, it is created once tokens are obtained")
		}
		return credentials.NewFSStore(path), noop, nil

	case "redis":
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		store := credentials.NewRedisStore(client)
		if err := store.CheckHealth(ctx); err != nil {
			client.Close()
			return nil, nil, err
		}
		log.Info().Str("addr", opts.Addr).Msg("🗄️  Using Redis credentials store")
		return store, func() {
			if err := client.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing Redis connection")
			}
		}, nil

	case "keychain":
		log.Info().Msg("🔑 Using keychain credentials store")
		return credentials.NewKeychainStore(log), noop, nil

	case "memory":
		log.Warn().Msg("📝 Using in-memory credentials store, refreshed tokens are lost on restart")
		return credentials.NewMemoryStore(), noop, nil

	default:
		return nil, nil, fmt.Errorf("credentials backend %q is not available in this build", cfg.CredentialsBackend)
	}
}
