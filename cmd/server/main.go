// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// docinbox server
//
// Entry point for the inbound document service. It:
//  1. Loads configuration from config.yaml, the environment and .env
//  2. Connects to PostgreSQL and Redis
//  3. Wires the webhook, the review API and the batch trigger
//  4. Optionally runs the batch processor on a ticker
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/crmworks/docinbox/internal/api"
	"github.com/crmworks/docinbox/internal/batch"
	"github.com/crmworks/docinbox/internal/blob"
	"github.com/crmworks/docinbox/internal/config"
	"github.com/crmworks/docinbox/internal/dedup"
	"github.com/crmworks/docinbox/internal/inbox"
	"github.com/crmworks/docinbox/internal/linker"
	"github.com/crmworks/docinbox/internal/match"
	"github.com/crmworks/docinbox/internal/normalize"
	"github.com/crmworks/docinbox/internal/provider"
	"github.com/crmworks/docinbox/internal/ratelimit"
	"github.com/crmworks/docinbox/internal/webhook"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	slog.Info("starting docinbox service")

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"environment", cfg.Environment,
		"mailboxes", len(cfg.Mailboxes),
		"linker", cfg.Linker.Mode,
		"rate_limit", cfg.RateLimit.Backend,
		"batch_interval", cfg.Batch.Interval,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	filter := dedup.NewFilter(rdb, cfg.DedupTTL)
	if err := filter.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Stores ---
	store, err := inbox.NewPostgresStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise inbox store", "error", err)
		os.Exit(1)
	}
	blobs, err := blob.NewPostgresStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise blob store", "error", err)
		os.Exit(1)
	}

	// --- Review workflow ---
	matcher := match.New(match.Config{
		PreassignThreshold: cfg.Matching.PreassignThreshold,
		AmbiguityMargin:    cfg.Matching.AmbiguityMargin,
	})
	svc := inbox.NewService(store, matcher, newLinker(ctx, cfg, rdb))

	proc := batch.NewProcessor(svc, store, batch.NewRedisLock(rdb, cfg.Batch.LockTTL),
		cfg.Batch.DefaultLimit, cfg.Batch.MaxLimit)

	// --- Webhook ---
	norm, err := normalize.New()
	if err != nil {
		slog.Error("failed to compile inbound payload schema", "error", err)
		os.Exit(1)
	}

	auth := webhook.NewAuthenticator(webhook.AuthConfig{
		Secret:          cfg.Webhook.Secret,
		SigningSecret:   cfg.Webhook.SigningSecret,
		MaxSkew:         cfg.Webhook.MaxSkew,
		Production:      cfg.IsProduction(),
		CronSecret:      cfg.Cron.Secret,
		CronHeader:      cfg.Cron.Header,
		CronHeaderValue: cfg.Cron.HeaderValue,
	})

	hook := webhook.NewHandler(webhook.Deps{
		Auth:    auth,
		Limiter: newRateLimiter(ctx, cfg, rdb),
		Hydrator: provider.NewResendHydrator(&http.Client{Timeout: 30 * time.Second}, provider.ResendConfig{
			BaseURL:            cfg.Resend.BaseURL,
			APIKey:             cfg.Resend.APIKey,
			MaxAttachmentBytes: cfg.Attachments.MaxSizeBytes,
		}),
		Normalizer: norm,
		Mailboxes:  webhook.NewMailboxResolver(cfg.Mailboxes, cfg.DefaultOwner),
		Policy: webhook.AttachmentPolicy{
			MaxSizeBytes: cfg.Attachments.MaxSizeBytes,
			AllowedTypes: cfg.Attachments.AllowedMIMETypes,
		},
		Seen:  filter,
		Blobs: blobs,
		Inbox: svc,
	})

	server := api.NewServer(api.Deps{
		Inbox:     svc,
		Processor: proc,
		Auth:      api.NewStaticTokens(cfg.APITokens),
		Cron:      auth,
		Webhook:   hook,
		Health: map[string]api.HealthCheck{
			"postgres": store.Ping,
			"redis":    filter.Ping,
		},
	})

	ready, err := webhook.Serve(ctx, cfg.Port, server)
	if err != nil {
		slog.Error("failed to start http server", "error", err)
		os.Exit(1)
	}
	<-ready

	if cfg.Batch.Interval > 0 {
		go batch.NewRunner(proc, cfg.Batch.Interval, cfg.Batch.DefaultLimit).Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel()

	// Give the http server a moment to drain in-flight requests
	time.Sleep(500 * time.Millisecond)
	slog.Info("shutdown complete")
}

func newLinker(ctx context.Context, cfg *config.Config, rdb *redis.Client) inbox.Linker {
	switch cfg.Linker.Mode {
	case "http":
		return linker.NewHTTPLinker(ctx, linker.HTTPConfig{
			BaseURL:           cfg.Linker.BaseURL,
			TokenURL:          cfg.Linker.TokenURL,
			ClientID:          cfg.Linker.ClientID,
			ClientSecret:      cfg.Linker.ClientSecret,
			Scopes:            cfg.Linker.Scopes,
			RequestsPerSecond: cfg.Linker.RequestsPerSecond,
			Burst:             cfg.Linker.Burst,
		})
	case "queue":
		return linker.NewQueueLinker(rdb, cfg.Linker.Queue)
	}
	slog.Warn("no linker configured, confirmations only update the inbox")
	return nil
}

func newRateLimiter(ctx context.Context, cfg *config.Config, rdb *redis.Client) ratelimit.Limiter {
	switch cfg.RateLimit.Backend {
	case "redis":
		return ratelimit.NewRedisLimiter(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window)
	case "off":
		return ratelimit.Unlimited{}
	}
	limiter := ratelimit.NewMemoryLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	limiter.StartJanitor(ctx, cfg.RateLimit.Window)
	return limiter
}

func logLevel(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
