//go:build js && wasm

package main

import (
	"context"
	"os"

	"github.com/dvcrn/restream-bridge/internal/app"
	"github.com/dvcrn/restream-bridge/internal/config"
	"github.com/dvcrn/restream-bridge/internal/credentials"
	"github.com/dvcrn/restream-bridge/internal/logger"
	"github.com/syumai/workers"
	"github.com/syumai/workers/cloudflare"
)

const kvBinding = "RESTREAM_KV"

func main() {
	// Worker vars are not process environment variables.
	for _, key := range config.Keys() {
		if v := cloudflare.Getenv(key); v != "" {
			os.Setenv(key, v)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	// Workers cannot open a browser or keep a ticker alive between requests.
	cfg.AuthMode = config.AuthModeWebhook
	cfg.PollInterval = 0
	cfg.CredentialsBackend = "kv"

	log := logger.New(cfg.LogLevel)

	log.Info().Str("binding", kvBinding).Msg("📦 Using Cloudflare KV credentials store")
	store, err := credentials.NewKVStore(kvBinding)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Cloudflare KV store")
	}

	ctx := context.Background()
	bridge, err := app.New(ctx, cfg, store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bridge")
	}
	if err := bridge.Init(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise bridge")
	}

	// Serve using workers - it handles all the HTTP server setup
	workers.Serve(bridge.Handler())
}
