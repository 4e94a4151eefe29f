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

package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps attachment bytes in a bytea table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the store and ensures its table exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure blob schema: %w", err)
	}
	slog.Info("blob store initialised")
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS inbound_blobs (
			ref        TEXT PRIMARY KEY,
			mime_type  TEXT NOT NULL DEFAULT 'application/octet-stream',
			size       BIGINT NOT NULL DEFAULT 0,
			content    BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// Put writes content under path, replacing any previous object.
func (s *PostgresStore) Put(ctx context.Context, path, mimeType string, content []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("blob path is empty")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO inbound_blobs (ref, mime_type, size, content)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ref) DO UPDATE SET
			mime_type = EXCLUDED.mime_type,
			size = EXCLUDED.size,
			content = EXCLUDED.content,
			created_at = NOW()
	`, path, mimeType, len(content), content)
	if err != nil {
		return "", fmt.Errorf("put blob %s: %w", path, err)
	}
	return path, nil
}

func (s *PostgresStore) Get(ctx context.Context, ref string) (*Object, error) {
	obj := &Object{Ref: ref}
	err := s.pool.QueryRow(ctx, `
		SELECT mime_type, content FROM inbound_blobs WHERE ref = $1
	`, ref).Scan(&obj.MIMEType, &obj.Content)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", ref, err)
	}
	return obj, nil
}

func (s *PostgresStore) Delete(ctx context.Context, ref string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM inbound_blobs WHERE ref = $1`, ref); err != nil {
		return fmt.Errorf("delete blob %s: %w", ref, err)
	}
	return nil
}
