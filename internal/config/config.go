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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "/app/config/config.yaml"

// MailboxConfig maps inbound recipient addresses to the business account
// that owns the documents sent to them.
type MailboxConfig struct {
	Alias     string
	OwnerID   string
	CompanyID string
	Addresses []string
}

// WebhookConfig holds webhook authentication settings.
type WebhookConfig struct {
	Secret        string
	SigningSecret string
	MaxSkew       time.Duration
}

// CronConfig holds scheduler authentication for the batch trigger.
type CronConfig struct {
	Secret      string
	Header      string
	HeaderValue string
}

// AttachmentConfig is the attachment acceptance policy.
type AttachmentConfig struct {
	MaxSizeBytes     int64
	AllowedMIMETypes []string
}

// MatchingConfig holds the assignment matcher's tunables.
type MatchingConfig struct {
	PreassignThreshold float64
	AmbiguityMargin    float64
}

// BatchConfig controls the batch processor.
type BatchConfig struct {
	DefaultLimit int
	MaxLimit     int
	Interval     time.Duration // 0 disables the in-process runner
	LockTTL      time.Duration
}

// RateLimitConfig controls webhook rate limiting.
type RateLimitConfig struct {
	Backend  string // "memory", "redis" or "off"
	Requests int
	Window   time.Duration
}

// LinkerConfig selects how confirmed documents reach the business system.
type LinkerConfig struct {
	Mode              string // "http", "queue" or "none"
	BaseURL           string
	TokenURL          string
	ClientID          string
	ClientSecret      string
	Scopes            []string
	Queue             string
	RequestsPerSecond float64
	Burst             int
}

// ResendConfig holds Resend API access for payload hydration.
type ResendConfig struct {
	APIKey  string
	BaseURL string
}

// APIToken is a static review-API credential.
type APIToken struct {
	Token       string
	UserID      string
	Permissions []string
}

// Config holds all configuration for the inbound document service.
type Config struct {
	Environment string
	Port        int

	DatabaseURL string
	RedisURL    string
	DedupTTL    time.Duration

	Webhook      WebhookConfig
	Cron         CronConfig
	Mailboxes    []MailboxConfig
	DefaultOwner string

	Attachments AttachmentConfig
	Matching    MatchingConfig
	Batch       BatchConfig
	RateLimit   RateLimitConfig
	Linker      LinkerConfig
	Resend      ResendConfig
	APITokens   []APIToken
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL      string `yaml:"url"`
		DedupTTL string `yaml:"dedup_ttl"`
	} `yaml:"redis"`
	Webhook struct {
		Secret        string `yaml:"secret"`
		SigningSecret string `yaml:"signing_secret"`
		MaxSkew       string `yaml:"max_skew"`
	} `yaml:"webhook"`
	Cron struct {
		Secret      string `yaml:"secret"`
		Header      string `yaml:"header"`
		HeaderValue string `yaml:"header_value"`
	} `yaml:"cron"`
	Mailboxes []struct {
		Alias     string   `yaml:"alias"`
		OwnerID   string   `yaml:"owner_id"`
		CompanyID string   `yaml:"company_id"`
		Addresses []string `yaml:"addresses"`
	} `yaml:"mailboxes"`
	DefaultOwnerID string `yaml:"default_owner_id"`
	Attachments    struct {
		MaxSizeBytes     int64    `yaml:"max_size_bytes"`
		AllowedMIMETypes []string `yaml:"allowed_mime_types"`
	} `yaml:"attachments"`
	Matching struct {
		PreassignThreshold *float64 `yaml:"preassign_threshold"`
		AmbiguityMargin    *float64 `yaml:"ambiguity_margin"`
	} `yaml:"matching"`
	Batch struct {
		DefaultLimit int    `yaml:"default_limit"`
		MaxLimit     int    `yaml:"max_limit"`
		Interval     string `yaml:"interval"`
		LockTTL      string `yaml:"lock_ttl"`
	} `yaml:"batch"`
	RateLimit struct {
		Backend  string `yaml:"backend"`
		Requests int    `yaml:"requests"`
		Window   string `yaml:"window"`
	} `yaml:"rate_limit"`
	Linker struct {
		Mode              string   `yaml:"mode"`
		BaseURL           string   `yaml:"base_url"`
		TokenURL          string   `yaml:"token_url"`
		ClientID          string   `yaml:"client_id"`
		ClientSecret      string   `yaml:"client_secret"`
		Scopes            []string `yaml:"scopes"`
		Queue             string   `yaml:"queue"`
		RequestsPerSecond float64  `yaml:"requests_per_second"`
		Burst             int      `yaml:"burst"`
	} `yaml:"linker"`
	Resend struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"resend"`
	APITokens []struct {
		Token       string   `yaml:"token"`
		UserID      string   `yaml:"user_id"`
		Permissions []string `yaml:"permissions"`
	} `yaml:"api_tokens"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables. A missing file at the default path is not an
// error; the service then runs from environment variables alone.
func Load() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	explicit := configPath != ""
	if !explicit {
		configPath = defaultConfigPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
		data = nil
	}

	return Parse(data)
}

// Parse builds a Config from YAML bytes (may be empty) and the environment.
func Parse(data []byte) (*Config, error) {
	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Environment: firstNonEmpty(envOrDefault("APP_ENV", ""), raw.Environment, "development"),
		Port:        envOrDefaultInt("PORT", firstPositive(raw.Server.Port, 8080)),
		DatabaseURL: firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "")),
		RedisURL:    firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		DedupTTL:    envOrDefaultDuration("DEDUP_TTL", parseDuration(raw.Redis.DedupTTL, 24*time.Hour)),
		Webhook: WebhookConfig{
			Secret:        strings.TrimSpace(firstNonEmpty(raw.Webhook.Secret, envOrDefault("INBOUND_EMAIL_WEBHOOK_SECRET", ""))),
			SigningSecret: strings.TrimSpace(firstNonEmpty(raw.Webhook.SigningSecret, envOrDefault("RESEND_WEBHOOK_SECRET", ""))),
			MaxSkew:       envOrDefaultDuration("WEBHOOK_MAX_SKEW", parseDuration(raw.Webhook.MaxSkew, 5*time.Minute)),
		},
		Cron: CronConfig{
			Secret:      strings.TrimSpace(firstNonEmpty(raw.Cron.Secret, envOrDefault("CRON_SECRET", ""))),
			Header:      firstNonEmpty(raw.Cron.Header, "X-Vercel-Cron"),
			HeaderValue: firstNonEmpty(raw.Cron.HeaderValue, "1"),
		},
		DefaultOwner: strings.TrimSpace(firstNonEmpty(raw.DefaultOwnerID, envOrDefault("INBOUND_DEFAULT_USER_ID", ""))),
		Attachments: AttachmentConfig{
			MaxSizeBytes:     firstPositive64(raw.Attachments.MaxSizeBytes, 15<<20),
			AllowedMIMETypes: raw.Attachments.AllowedMIMETypes,
		},
		Matching: MatchingConfig{
			PreassignThreshold: floatOrDefault(raw.Matching.PreassignThreshold, 0.9),
			AmbiguityMargin:    floatOrDefault(raw.Matching.AmbiguityMargin, 0.05),
		},
		Batch: BatchConfig{
			DefaultLimit: firstPositive(raw.Batch.DefaultLimit, 20),
			MaxLimit:     firstPositive(raw.Batch.MaxLimit, 100),
			Interval:     envOrDefaultDuration("BATCH_INTERVAL", parseDuration(raw.Batch.Interval, 0)),
			LockTTL:      parseDuration(raw.Batch.LockTTL, 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Backend:  strings.ToLower(firstNonEmpty(envOrDefault("RATE_LIMIT_BACKEND", ""), raw.RateLimit.Backend, "memory")),
			Requests: firstPositive(raw.RateLimit.Requests, 100),
			Window:   parseDuration(raw.RateLimit.Window, time.Minute),
		},
		Linker: LinkerConfig{
			Mode:              strings.ToLower(firstNonEmpty(raw.Linker.Mode, "none")),
			BaseURL:           raw.Linker.BaseURL,
			TokenURL:          raw.Linker.TokenURL,
			ClientID:          raw.Linker.ClientID,
			ClientSecret:      raw.Linker.ClientSecret,
			Scopes:            raw.Linker.Scopes,
			Queue:             firstNonEmpty(raw.Linker.Queue, "inbound:link"),
			RequestsPerSecond: raw.Linker.RequestsPerSecond,
			Burst:             raw.Linker.Burst,
		},
		Resend: ResendConfig{
			APIKey:  strings.TrimSpace(firstNonEmpty(raw.Resend.APIKey, envOrDefault("RESEND_API_KEY", ""))),
			BaseURL: firstNonEmpty(raw.Resend.BaseURL, "https://api.resend.com"),
		},
	}

	if len(cfg.Attachments.AllowedMIMETypes) == 0 {
		cfg.Attachments.AllowedMIMETypes = []string{"application/pdf", "image/png", "image/jpeg", "image/webp"}
	}

	for _, m := range raw.Mailboxes {
		mb := MailboxConfig{
			Alias:     m.Alias,
			OwnerID:   strings.TrimSpace(m.OwnerID),
			CompanyID: strings.TrimSpace(m.CompanyID),
		}
		for _, addr := range m.Addresses {
			if addr = strings.ToLower(strings.TrimSpace(addr)); addr != "" {
				mb.Addresses = append(mb.Addresses, addr)
			}
		}

		// Skip mailboxes with empty owner or addresses (commented out in YAML)
		if mb.OwnerID == "" || len(mb.Addresses) == 0 {
			continue
		}
		if mb.Alias == "" {
			mb.Alias = mb.Addresses[0]
		}
		cfg.Mailboxes = append(cfg.Mailboxes, mb)
	}

	for _, t := range raw.APITokens {
		if strings.TrimSpace(t.Token) == "" || t.UserID == "" {
			continue
		}
		cfg.APITokens = append(cfg.APITokens, APIToken{
			Token:       strings.TrimSpace(t.Token),
			UserID:      t.UserID,
			Permissions: t.Permissions,
		})
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database url is required (database.url or DATABASE_URL)")
	}
	m := c.Matching
	if m.PreassignThreshold <= 0 || m.PreassignThreshold > 1 {
		return fmt.Errorf("matching.preassign_threshold must be in (0,1], got %v", m.PreassignThreshold)
	}
	if m.AmbiguityMargin < 0 || m.AmbiguityMargin > 1 {
		return fmt.Errorf("matching.ambiguity_margin must be in [0,1], got %v", m.AmbiguityMargin)
	}
	if c.Batch.DefaultLimit > c.Batch.MaxLimit {
		c.Batch.DefaultLimit = c.Batch.MaxLimit
	}
	switch c.RateLimit.Backend {
	case "memory", "redis", "off":
	default:
		return fmt.Errorf("rate_limit.backend must be memory, redis or off, got %q", c.RateLimit.Backend)
	}
	switch c.Linker.Mode {
	case "none", "queue":
	case "http":
		if c.Linker.BaseURL == "" {
			return fmt.Errorf("linker.base_url is required for http mode")
		}
	default:
		return fmt.Errorf("linker.mode must be http, queue or none, got %q", c.Linker.Mode)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return d
}

func floatOrDefault(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstPositive64(values ...int64) int64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
