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

// Package provider hydrates metadata-only webhook events by fetching the
// full message and its attachments from the mail provider's API.
package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/crmworks/docinbox/internal/apperr"
)

// resendReceivedEvent is the event type whose payload carries metadata only.
const resendReceivedEvent = "email.received"

// ResendConfig configures a ResendHydrator.
type ResendConfig struct {
	BaseURL string
	APIKey  string
	// MaxAttachmentBytes skips larger downloads; 0 means no limit.
	MaxAttachmentBytes int64
}

// ResendHydrator rebuilds full payloads for Resend email.received events.
type ResendHydrator struct {
	httpClient *http.Client
	cfg        ResendConfig
}

// NewResendHydrator creates a hydrator using httpClient for API calls.
func NewResendHydrator(httpClient *http.Client, cfg ResendConfig) *ResendHydrator {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.resend.com"
	}
	return &ResendHydrator{httpClient: httpClient, cfg: cfg}
}

type resendEvent struct {
	Type string `json:"type"`
	Data struct {
		EmailID   string          `json:"email_id"`
		MessageID string          `json:"message_id"`
		From      string          `json:"from"`
		To        json.RawMessage `json:"to"`
		Subject   string          `json:"subject"`
		CreatedAt string          `json:"created_at"`
	} `json:"data"`
}

// resendEmail is the relevant part of GET /emails/receiving/{id}.
type resendEmail struct {
	MessageID string          `json:"message_id"`
	From      string          `json:"from"`
	To        json.RawMessage `json:"to"`
	Subject   string          `json:"subject"`
	Text      string          `json:"text"`
	HTML      string          `json:"html"`
	CreatedAt string          `json:"created_at"`
}

type resendAttachment struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        *int64 `json:"size"`
	DownloadURL string `json:"download_url"`
}

// hydratedAttachment uses the field names the normalizer accepts.
type hydratedAttachment struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type,omitempty"`
	Size        *int64 `json:"size,omitempty"`
	Content     string `json:"content"`
}

type hydratedData struct {
	ID          string               `json:"id"`
	MessageID   string               `json:"message_id"`
	From        string               `json:"from,omitempty"`
	To          json.RawMessage      `json:"to,omitempty"`
	Subject     string               `json:"subject"`
	Text        string               `json:"text,omitempty"`
	HTML        string               `json:"html,omitempty"`
	CreatedAt   string               `json:"created_at,omitempty"`
	Attachments []hydratedAttachment `json:"attachments"`
}

// NeedsHydration reports whether raw is a Resend metadata-only event.
func NeedsHydration(raw []byte) bool {
	var ev resendEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return false
	}
	return ev.Type == resendReceivedEvent && strings.TrimSpace(ev.Data.EmailID) != ""
}

// Hydrate returns raw unchanged unless it is a metadata-only Resend event,
// in which case the message body and attachments are fetched and a full
// payload is returned.
func (h *ResendHydrator) Hydrate(ctx context.Context, raw []byte) ([]byte, error) {
	if !NeedsHydration(raw) {
		return raw, nil
	}
	if h.cfg.APIKey == "" {
		return nil, apperr.New(apperr.CodeUnavailable, "resend API key is not configured")
	}

	var ev resendEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, "decode resend event", err)
	}
	emailID := strings.TrimSpace(ev.Data.EmailID)

	var email resendEmail
	if err := h.getJSON(ctx, "/emails/receiving/"+url.PathEscape(emailID), &email); err != nil {
		return nil, fmt.Errorf("fetch resend email %s: %w", emailID, err)
	}

	attachments, err := h.loadAttachments(ctx, emailID)
	if err != nil {
		return nil, fmt.Errorf("fetch resend attachments %s: %w", emailID, err)
	}

	to := email.To
	if isEmptyJSON(to) {
		to = ev.Data.To
	}
	data := hydratedData{
		ID:          emailID,
		MessageID:   firstNonEmpty(email.MessageID, ev.Data.MessageID, emailID),
		From:        firstNonEmpty(email.From, ev.Data.From),
		To:          to,
		Subject:     firstNonEmpty(email.Subject, ev.Data.Subject),
		Text:        email.Text,
		HTML:        email.HTML,
		CreatedAt:   firstNonEmpty(email.CreatedAt, ev.Data.CreatedAt),
		Attachments: attachments,
	}

	out, err := json.Marshal(struct {
		Type string       `json:"type"`
		Data hydratedData `json:"data"`
	}{Type: ev.Type, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode hydrated payload: %w", err)
	}
	return out, nil
}

func (h *ResendHydrator) loadAttachments(ctx context.Context, emailID string) ([]hydratedAttachment, error) {
	var list struct {
		Data        []resendAttachment `json:"data"`
		Attachments []resendAttachment `json:"attachments"`
	}
	if err := h.getJSON(ctx, "/emails/receiving/"+url.PathEscape(emailID)+"/attachments", &list); err != nil {
		return nil, err
	}
	entries := list.Data
	if len(entries) == 0 {
		entries = list.Attachments
	}

	out := make([]hydratedAttachment, 0, len(entries))
	for _, a := range entries {
		name := firstNonEmpty(a.FileName, a.Filename)
		if a.ID == "" || name == "" || a.DownloadURL == "" {
			continue
		}
		if h.cfg.MaxAttachmentBytes > 0 && a.Size != nil && *a.Size > h.cfg.MaxAttachmentBytes {
			slog.Info("skipping oversized resend attachment", "email_id", emailID, "attachment_id", a.ID, "size", *a.Size)
			continue
		}
		content, err := h.download(ctx, a.DownloadURL)
		if err != nil {
			slog.Warn("resend attachment download failed", "email_id", emailID, "attachment_id", a.ID, "error", err)
			continue
		}
		if len(content) == 0 {
			continue
		}
		out = append(out, hydratedAttachment{
			ID:          a.ID,
			FileName:    name,
			ContentType: a.ContentType,
			Size:        a.Size,
			Content:     base64.StdEncoding.EncodeToString(content),
		})
	}
	return out, nil
}

func (h *ResendHydrator) getJSON(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.CodeUnavailable, "resend API unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &apiErr)
		msg := firstNonEmpty(apiErr.Message, fmt.Sprintf("resend API returned HTTP %d", resp.StatusCode))
		return apperr.New(apperr.CodeUnavailable, msg)
	}

	// Single-object responses may be wrapped in {"data": {...}}.
	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Data) > 0 && wrapped.Data[0] == '{' {
		body = wrapped.Data
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (h *ResendHydrator) download(ctx context.Context, downloadURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.cfg.APIKey)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned HTTP %d", resp.StatusCode)
	}

	r := io.Reader(resp.Body)
	if h.cfg.MaxAttachmentBytes > 0 {
		r = io.LimitReader(resp.Body, h.cfg.MaxAttachmentBytes+1)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if h.cfg.MaxAttachmentBytes > 0 && int64(len(content)) > h.cfg.MaxAttachmentBytes {
		return nil, fmt.Errorf("attachment exceeds %d bytes", h.cfg.MaxAttachmentBytes)
	}
	return content, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("[]")) || bytes.Equal(raw, []byte(`""`))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
