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

package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crmworks/docinbox/internal/models"
)

const uniqueViolation = "23505"

// PostgresStore is the Repository and CandidateSource backed by Postgres.
// Candidate records are read from the CRM tables supplier_orders, projects
// and suppliers, which this service does not own.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates the store and ensures the inbox tables exist.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure inbox schema: %w", err)
	}
	slog.Info("inbox store initialised")
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS inbound_inbox_items (
			id                           TEXT PRIMARY KEY,
			owner_id                     TEXT NOT NULL,
			company_id                   TEXT DEFAULT '',
			source_provider              TEXT NOT NULL,
			source_message_id            TEXT NOT NULL,
			source_attachment_id         TEXT NOT NULL,
			dedupe_key                   TEXT NOT NULL UNIQUE,
			sender_email                 TEXT DEFAULT '',
			sender_name                  TEXT DEFAULT '',
			recipient_email              TEXT DEFAULT '',
			subject                      TEXT DEFAULT '',
			body_text                    TEXT DEFAULT '',
			received_at                  TIMESTAMPTZ NOT NULL,
			file_name                    TEXT NOT NULL,
			mime_type                    TEXT NOT NULL,
			file_size                    BIGINT DEFAULT 0,
			storage_ref                  TEXT DEFAULT '',
			content_sha256               TEXT DEFAULT '',
			document_kind                TEXT NOT NULL DEFAULT 'unknown',
			processing_status            TEXT NOT NULL DEFAULT 'received',
			extracted_signals            JSONB,
			assignment_candidates        JSONB NOT NULL DEFAULT '[]',
			assignment_confidence        DOUBLE PRECISION NOT NULL DEFAULT 0
			                             CHECK (assignment_confidence >= 0 AND assignment_confidence <= 1),
			assigned_supplier_order_id   TEXT DEFAULT '',
			assigned_project_id          TEXT DEFAULT '',
			assigned_supplier_invoice_id TEXT DEFAULT '',
			confirmed_at                 TIMESTAMPTZ,
			confirmed_by                 TEXT DEFAULT '',
			rejected_reason              TEXT DEFAULT '',
			processing_error             TEXT DEFAULT '',
			created_at                   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at                   TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_inbox_owner ON inbound_inbox_items(owner_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_inbox_status ON inbound_inbox_items(processing_status, created_at);

		CREATE TABLE IF NOT EXISTS inbound_events (
			id            TEXT PRIMARY KEY,
			inbox_item_id TEXT NOT NULL REFERENCES inbound_inbox_items(id),
			owner_id      TEXT NOT NULL,
			event_type    TEXT NOT NULL,
			from_status   TEXT DEFAULT '',
			to_status     TEXT NOT NULL,
			actor         TEXT DEFAULT '',
			payload       JSONB NOT NULL DEFAULT '{}',
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_events_item ON inbound_events(inbox_item_id, created_at);
	`)
	return err
}

const itemColumns = `
	id, owner_id, company_id, source_provider, source_message_id, source_attachment_id,
	dedupe_key, sender_email, sender_name, recipient_email, subject, body_text, received_at,
	file_name, mime_type, file_size, storage_ref, content_sha256, document_kind,
	processing_status, extracted_signals, assignment_candidates, assignment_confidence,
	assigned_supplier_order_id, assigned_project_id, assigned_supplier_invoice_id,
	confirmed_at, confirmed_by, rejected_reason, processing_error, created_at, updated_at`

// Insert stores item and its first event in one transaction.
func (s *PostgresStore) Insert(ctx context.Context, item *models.InboxItem, ev models.InboundEvent) error {
	signals, candidates, err := marshalAnalysis(item)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO inbound_inbox_items (`+itemColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			        $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32)
		`,
			item.ID, item.OwnerID, item.CompanyID, string(item.SourceProvider), item.SourceMessageID,
			item.SourceAttachmentID, item.DedupeKey, item.SenderEmail, item.SenderName,
			item.RecipientEmail, item.Subject, item.BodyText, item.ReceivedAt, item.FileName,
			item.MIMEType, item.FileSize, item.StorageRef, item.ContentSHA256,
			string(item.DocumentKind), string(item.Status), signals, candidates, item.Confidence,
			item.AssignedSupplierOrderID, item.AssignedProjectID, item.AssignedSupplierInvoiceID,
			item.ConfirmedAt, item.ConfirmedBy, item.RejectedReason, item.ProcessingError,
			item.CreatedAt, item.UpdatedAt,
		)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.InboxItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM inbound_inbox_items WHERE id = $1`, id)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]models.InboxItem, error) {
	var (
		where []string
		args  []any
	)
	if f.OwnerID != "" {
		args = append(args, f.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if len(f.Kinds) > 0 {
		kinds := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			kinds[i] = string(k)
		}
		args = append(args, kinds)
		where = append(where, fmt.Sprintf("document_kind = ANY($%d)", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("processing_status = ANY($%d)", len(args)))
	}

	query := `SELECT ` + itemColumns + ` FROM inbound_inbox_items`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if f.WorkOrder {
		query += ` ORDER BY (processing_status = 'failed') ASC,
			CASE WHEN processing_status = 'failed' THEN updated_at ELSE created_at END ASC,
			id ASC`
	} else {
		query += ` ORDER BY created_at DESC, id ASC`
	}
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

// SaveTransition writes the mutable columns of item and appends ev in one
// transaction.
func (s *PostgresStore) SaveTransition(ctx context.Context, item *models.InboxItem, ev models.InboundEvent) error {
	signals, candidates, err := marshalAnalysis(item)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE inbound_inbox_items SET
				document_kind                = $2,
				processing_status            = $3,
				extracted_signals            = $4,
				assignment_candidates        = $5,
				assignment_confidence        = $6,
				assigned_supplier_order_id   = $7,
				assigned_project_id          = $8,
				assigned_supplier_invoice_id = $9,
				confirmed_at                 = $10,
				confirmed_by                 = $11,
				rejected_reason              = $12,
				processing_error             = $13,
				updated_at                   = $14
			WHERE id = $1
		`,
			item.ID, string(item.DocumentKind), string(item.Status), signals, candidates,
			item.Confidence, item.AssignedSupplierOrderID, item.AssignedProjectID,
			item.AssignedSupplierInvoiceID, item.ConfirmedAt, item.ConfirmedBy,
			item.RejectedReason, item.ProcessingError, item.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return insertEvent(ctx, tx, ev)
	})
}

func (s *PostgresStore) Events(ctx context.Context, itemID string) ([]models.InboundEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, inbox_item_id, owner_id, event_type, from_status, to_status, actor, payload, created_at
		FROM inbound_events
		WHERE inbox_item_id = $1
		ORDER BY created_at ASC, id ASC
	`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.InboundEvent
	for rows.Next() {
		var (
			ev       models.InboundEvent
			typ      string
			from, to string
			payload  []byte
		)
		if err := rows.Scan(&ev.ID, &ev.InboxItemID, &ev.OwnerID, &typ, &from, &to, &ev.Actor, &payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.EventType = models.EventType(typ)
		ev.FromStatus = models.ProcessingStatus(from)
		ev.ToStatus = models.ProcessingStatus(to)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("decode event payload %s: %w", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListCandidates returns the owner's supplier orders joined with their
// project and supplier.
func (s *PostgresStore) ListCandidates(ctx context.Context, ownerID string) ([]models.CandidateRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT so.id::text, so.order_number, so.project_id::text,
		       COALESCE(p.order_number, ''),
		       COALESCE(su.name, ''), COALESCE(su.order_email, ''), COALESCE(su.email, '')
		FROM supplier_orders so
		LEFT JOIN projects p ON p.id = so.project_id
		LEFT JOIN suppliers su ON su.id = so.supplier_id
		WHERE so.user_id = $1
		ORDER BY so.order_number
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.CandidateRecord
	for rows.Next() {
		var r models.CandidateRecord
		if err := rows.Scan(&r.OrderID, &r.OrderNumber, &r.ProjectID, &r.ProjectOrderNumber,
			&r.SupplierName, &r.SupplierOrderEmail, &r.SupplierEmail); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev models.InboundEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode event payload: %w", err)
	}
	if ev.Payload == nil {
		payload = []byte("{}")
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO inbound_events
			(id, inbox_item_id, owner_id, event_type, from_status, to_status, actor, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, ev.ID, ev.InboxItemID, ev.OwnerID, string(ev.EventType), string(ev.FromStatus),
		string(ev.ToStatus), ev.Actor, payload, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func marshalAnalysis(item *models.InboxItem) (signals, candidates []byte, err error) {
	if item.Signals != nil {
		if signals, err = json.Marshal(item.Signals); err != nil {
			return nil, nil, fmt.Errorf("encode signals: %w", err)
		}
	}
	list := item.Candidates
	if list == nil {
		list = []models.ScoredCandidate{}
	}
	if candidates, err = json.Marshal(list); err != nil {
		return nil, nil, fmt.Errorf("encode candidates: %w", err)
	}
	return signals, candidates, nil
}

// scanItem scans a single row into an InboxItem.
func scanItem(row pgx.Row) (*models.InboxItem, error) {
	var (
		item                models.InboxItem
		provider, kind, st  string
		signals, candidates []byte
		confirmedAt         *time.Time
	)
	err := row.Scan(
		&item.ID, &item.OwnerID, &item.CompanyID, &provider, &item.SourceMessageID,
		&item.SourceAttachmentID, &item.DedupeKey, &item.SenderEmail, &item.SenderName,
		&item.RecipientEmail, &item.Subject, &item.BodyText, &item.ReceivedAt, &item.FileName,
		&item.MIMEType, &item.FileSize, &item.StorageRef, &item.ContentSHA256, &kind, &st,
		&signals, &candidates, &item.Confidence, &item.AssignedSupplierOrderID,
		&item.AssignedProjectID, &item.AssignedSupplierInvoiceID, &confirmedAt,
		&item.ConfirmedBy, &item.RejectedReason, &item.ProcessingError, &item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.SourceProvider = models.Provider(provider)
	item.DocumentKind = models.DocumentKind(kind)
	item.Status = models.ProcessingStatus(st)
	item.ConfirmedAt = confirmedAt
	if len(signals) > 0 {
		item.Signals = &models.DocumentSignals{}
		if err := json.Unmarshal(signals, item.Signals); err != nil {
			return nil, fmt.Errorf("decode signals of %s: %w", item.ID, err)
		}
	}
	item.Candidates = []models.ScoredCandidate{}
	if len(candidates) > 0 {
		if err := json.Unmarshal(candidates, &item.Candidates); err != nil {
			return nil, fmt.Errorf("decode candidates of %s: %w", item.ID, err)
		}
	}
	return &item, nil
}

// collectItems scans multiple rows into a slice of InboxItems.
func collectItems(rows pgx.Rows) ([]models.InboxItem, error) {
	var items []models.InboxItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}
