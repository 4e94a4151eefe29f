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

// inboxctl: operational CLI for the document inbox
//
// Usage:
//
//	inboxctl classify --subject "Rechnung RE-1" body.txt
//	inboxctl process --limit 50
//	inboxctl events <inbox-item-id>
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/crmworks/docinbox/internal/config"
	"github.com/crmworks/docinbox/internal/inbox"
	"github.com/crmworks/docinbox/internal/match"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:           "inboxctl",
	Short:         "Inspect and operate the inbound document inbox",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// backend is the storage a command talks to.
type backend struct {
	cfg   *config.Config
	pool  *pgxpool.Pool
	rdb   *redis.Client
	store *inbox.PostgresStore
	svc   *inbox.Service
}

func openBackend(ctx context.Context) (*backend, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create Postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}

	store, err := inbox.NewPostgresStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	matcher := match.New(match.Config{
		PreassignThreshold: cfg.Matching.PreassignThreshold,
		AmbiguityMargin:    cfg.Matching.AmbiguityMargin,
	})
	return &backend{
		cfg:   cfg,
		pool:  pool,
		rdb:   redis.NewClient(opt),
		store: store,
		svc:   inbox.NewService(store, matcher, nil),
	}, nil
}

func (b *backend) Close() {
	b.rdb.Close()
	b.pool.Close()
}
