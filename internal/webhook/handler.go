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

// Package webhook receives inbound e-mail deliveries from the mail
// provider. Each accepted attachment is stored as a blob and recorded as an
// inbox item in status received; classification happens later in batches.
package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/crmworks/docinbox/internal/apperr"
	"github.com/crmworks/docinbox/internal/blob"
	"github.com/crmworks/docinbox/internal/inbox"
	"github.com/crmworks/docinbox/internal/models"
	"github.com/crmworks/docinbox/internal/normalize"
	"github.com/crmworks/docinbox/internal/ratelimit"
	"github.com/crmworks/docinbox/internal/respond"
)

const maxBodyBytes = 64 << 20

// Hydrator completes provider payloads that only carry metadata.
type Hydrator interface {
	Hydrate(ctx context.Context, raw []byte) ([]byte, error)
}

// Ingester records a received item.
type Ingester interface {
	Ingest(ctx context.Context, item *models.InboxItem) error
}

// SeenFilter is the dedup fast path in front of the database constraint.
type SeenFilter interface {
	IsNew(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// AttachmentPolicy limits which attachments are accepted.
type AttachmentPolicy struct {
	MaxSizeBytes int64
	AllowedTypes []string
}

func (p AttachmentPolicy) allows(mimeType string) bool {
	for _, t := range p.AllowedTypes {
		if strings.EqualFold(t, mimeType) {
			return true
		}
	}
	return false
}

// Deps groups the collaborators of a Handler. Hydrator and Seen may be nil.
type Deps struct {
	Auth       *Authenticator
	Limiter    ratelimit.Limiter
	Hydrator   Hydrator
	Normalizer *normalize.Normalizer
	Mailboxes  *MailboxResolver
	Policy     AttachmentPolicy
	Seen       SeenFilter
	Blobs      blob.Store
	Inbox      Ingester
}

// Handler serves the inbound e-mail webhook.
type Handler struct {
	Deps
	now func() time.Time
}

// NewHandler creates a Handler. A nil Limiter means no rate limit.
func NewHandler(deps Deps) *Handler {
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.Unlimited{}
	}
	return &Handler{Deps: deps, now: func() time.Time { return time.Now().UTC() }}
}

// Result is the webhook response body.
type Result struct {
	Success    bool   `json:"success"`
	Received   int    `json:"received"`
	Skipped    int    `json:"skipped"`
	Duplicates int    `json:"duplicates"`
	Message    string `json:"message,omitempty"`
}

// ServeHTTP authenticates, normalizes and ingests one delivery.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	decision, err := h.Limiter.Allow(ctx, "webhook:"+clientIP(r))
	if err != nil {
		slog.Warn("rate limit check failed, proceeding", "error", err)
	} else if !decision.Allowed {
		if wait := decision.RetryAfter(time.Now()); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Seconds()+0.999)))
		}
		respond.Error(w, apperr.New(apperr.CodeRateLimited, "too many requests"))
		return
	}

	if err := h.Auth.VerifySecret(r); err != nil {
		respond.Error(w, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respond.Error(w, apperr.Wrap(apperr.CodeValidation, "could not read request body", err))
		return
	}

	if err := h.Auth.VerifySignature(r, body); err != nil {
		slog.Warn("inbound webhook signature rejected", "error", err)
		respond.Error(w, err)
		return
	}

	if h.Hydrator != nil {
		body, err = h.Hydrator.Hydrate(ctx, body)
		if err != nil {
			respond.Error(w, err)
			return
		}
	}

	email, err := h.Normalizer.Normalize(body)
	if err != nil {
		respond.Error(w, err)
		return
	}

	res, err := h.ingest(ctx, email)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, res)
}

func (h *Handler) ingest(ctx context.Context, email *models.NormalizedInboundEmail) (Result, error) {
	res := Result{Success: true}

	rcpt, ok := h.Mailboxes.Resolve(email.To)
	if !ok {
		slog.Warn("inbound document skipped, no recipient mapping",
			"message_id", email.MessageID,
			"recipients", len(email.To),
		)
		res.Skipped = len(email.Attachments)
		res.Message = "recipient is not mapped to an account"
		return res, nil
	}

	now := h.now()
	basePath := fmt.Sprintf("inbound-documents/%s/%04d/%02d/%s",
		rcpt.OwnerID, now.Year(), int(now.Month()), pathSegment(email.MessageID))

	for i, att := range email.Attachments {
		fileName := normalize.SanitizeFileName(att.FileName, i)
		mimeType := inferMIMEType(fileName, att.MIMEType)
		size := att.Size
		if size <= 0 {
			size = int64(len(att.Content))
		}

		if len(att.Content) == 0 || size > h.Policy.MaxSizeBytes {
			res.Skipped++
			continue
		}
		if mimeType == "" || !h.Policy.allows(mimeType) {
			res.Skipped++
			continue
		}

		sum := sha256.Sum256(att.Content)
		dedupeKey := DedupeKey(rcpt.OwnerID, email.Provider, email.MessageID, att.ExternalID)

		if h.Seen != nil {
			isNew, err := h.Seen.IsNew(ctx, dedupeKey)
			if err != nil {
				slog.Warn("dedup check failed, proceeding", "error", err)
			} else if !isNew {
				res.Duplicates++
				continue
			}
		}

		storagePath := fmt.Sprintf("%s/%s_%d_%s", basePath, pathSegment(att.ExternalID), now.UnixMilli(), fileName)
		ref, err := h.Blobs.Put(ctx, storagePath, mimeType, att.Content)
		if err != nil {
			slog.Error("inbound document upload failed", "message_id", email.MessageID, "error", err)
			h.forget(ctx, dedupeKey)
			res.Skipped++
			continue
		}

		item := &models.InboxItem{
			OwnerID:            rcpt.OwnerID,
			CompanyID:          rcpt.CompanyID,
			SourceProvider:     email.Provider,
			SourceMessageID:    email.MessageID,
			SourceAttachmentID: att.ExternalID,
			DedupeKey:          dedupeKey,
			SenderEmail:        email.FromEmail,
			SenderName:         email.FromName,
			RecipientEmail:     firstNonEmpty(rcpt.Address, firstRecipient(email.To)),
			Subject:            email.Subject,
			BodyText:           email.Text,
			ReceivedAt:         email.ReceivedAt,
			FileName:           fileName,
			MIMEType:           mimeType,
			FileSize:           size,
			StorageRef:         ref,
			ContentSHA256:      hex.EncodeToString(sum[:]),
		}

		if err := h.Inbox.Ingest(ctx, item); err != nil {
			h.removeBlob(ctx, ref)
			if errors.Is(err, inbox.ErrDuplicate) {
				res.Duplicates++
				continue
			}
			h.forget(ctx, dedupeKey)
			return Result{}, fmt.Errorf("ingest attachment %s: %w", att.ExternalID, err)
		}

		slog.Info("inbound document received",
			"inbox_item_id", item.ID,
			"owner_id", rcpt.OwnerID,
			"mailbox", rcpt.Mailbox,
			"message_id", email.MessageID,
			"mime_type", mimeType,
		)
		res.Received++
	}
	return res, nil
}

func (h *Handler) forget(ctx context.Context, key string) {
	if h.Seen == nil {
		return
	}
	if err := h.Seen.Forget(ctx, key); err != nil {
		slog.Warn("failed to release dedup key", "error", err)
	}
}

func (h *Handler) removeBlob(ctx context.Context, ref string) {
	if err := h.Blobs.Delete(ctx, ref); err != nil {
		slog.Warn("failed to remove orphaned blob", "storage_ref", ref, "error", err)
	}
}

// DedupeKey identifies one attachment of one message for one owner.
func DedupeKey(ownerID string, provider models.Provider, messageID, attachmentID string) string {
	sum := sha256.Sum256([]byte(ownerID + "|" + string(provider) + "|" + messageID + "|" + attachmentID))
	return hex.EncodeToString(sum[:])
}

var mimeByExtension = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
}

func inferMIMEType(fileName, declared string) string {
	if declared = strings.ToLower(strings.TrimSpace(declared)); declared != "" {
		if mt, _, ok := strings.Cut(declared, ";"); ok {
			return strings.TrimSpace(mt)
		}
		return declared
	}
	return mimeByExtension[strings.ToLower(path.Ext(fileName))]
}

func pathSegment(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(strings.Trim(s, "<>"))
}

func firstRecipient(to []string) string {
	if len(to) == 0 {
		return ""
	}
	return to[0]
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Serve starts the HTTP server on the given port. It binds the port
// immediately and signals readiness via the returned channel before
// starting to accept connections.
func Serve(ctx context.Context, port int, handler http.Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind http port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
		}
	}()

	go func() {
		slog.Info("http server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	return ready, nil
}
