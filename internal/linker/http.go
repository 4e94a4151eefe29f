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

package linker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"

	"github.com/crmworks/docinbox/internal/apperr"
	"github.com/crmworks/docinbox/internal/inbox"
	"github.com/crmworks/docinbox/internal/models"
)

// HTTPConfig configures the REST linker. Without a token URL requests are
// sent unauthenticated.
type HTTPConfig struct {
	BaseURL           string
	TokenURL          string
	ClientID          string
	ClientSecret      string
	Scopes            []string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// HTTPLinker posts confirmed documents to the business API.
type HTTPLinker struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
	now     func() time.Time
}

// clientError marks downstream 4xx answers, which must not trip the breaker.
type clientError struct{ err error }

func (e *clientError) Error() string { return e.err.Error() }
func (e *clientError) Unwrap() error { return e.err }

// NewHTTPLinker creates a linker for cfg.BaseURL. With a TokenURL set, requests
// carry client-credentials tokens obtained under ctx.
func NewHTTPLinker(ctx context.Context, cfg HTTPConfig) *HTTPLinker {
	client := &http.Client{}
	if cfg.TokenURL != "" {
		creds := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		client = creds.Client(ctx)
	}
	client.Timeout = cfg.Timeout
	if client.Timeout <= 0 {
		client.Timeout = 15 * time.Second
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &HTTPLinker{
		client:  client,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		limiter: rate.NewLimiter(limit, burst),
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "linker",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				var ce *clientError
				return err == nil || errors.As(err, &ce)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
		now: time.Now,
	}
}

type linkResponse struct {
	ID                string `json:"id"`
	SupplierInvoiceID string `json:"supplier_invoice_id"`
	DeliveryNoteID    string `json:"delivery_note_id"`
	Error             string `json:"error"`
	Message           string `json:"message"`
}

// Link posts the request to the endpoint for its kind.
func (l *HTTPLinker) Link(ctx context.Context, req inbox.LinkRequest) (inbox.LinkResult, error) {
	payload := NewPayload(req, l.now())
	path, err := endpoint(payload)
	if err != nil {
		return inbox.LinkResult{}, apperr.Wrap(apperr.CodeValidation, "document kind cannot be linked", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return inbox.LinkResult{}, fmt.Errorf("marshal link payload: %w", err)
	}

	if err := l.limiter.Wait(ctx); err != nil {
		return inbox.LinkResult{}, fmt.Errorf("wait for linker rate limit: %w", err)
	}

	out, err := l.cb.Execute(func() (interface{}, error) {
		resp, err := l.post(ctx, path, body)
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		var ce *clientError
		switch {
		case errors.As(err, &ce):
			return inbox.LinkResult{}, ce.err
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return inbox.LinkResult{}, apperr.Wrap(apperr.CodeUnavailable, "business system temporarily unavailable", err)
		}
		return inbox.LinkResult{}, apperr.Wrap(apperr.CodeUnavailable, "linking document failed", err)
	}

	resp := out.(*linkResponse)
	res := inbox.LinkResult{
		SupplierInvoiceID: resp.SupplierInvoiceID,
		DeliveryNoteID:    resp.DeliveryNoteID,
	}
	switch payload.Kind {
	case models.KindSupplierInvoice:
		res.SupplierInvoiceID = firstNonEmpty(res.SupplierInvoiceID, resp.ID)
	case models.KindSupplierDeliveryNote:
		res.DeliveryNoteID = firstNonEmpty(res.DeliveryNoteID, resp.ID)
	}

	slog.Info("inbox item linked",
		"inbox_item_id", req.Item.ID,
		"kind", payload.Kind,
		"supplier_invoice_id", res.SupplierInvoiceID,
		"delivery_note_id", res.DeliveryNoteID,
	)
	return res, nil
}

func (l *HTTPLinker) post(ctx context.Context, path string, body []byte) (*linkResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build link request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read link response: %w", err)
	}

	var decoded struct {
		linkResponse
		Data *linkResponse `json:"data"`
	}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil && resp.StatusCode < 300 {
			return nil, fmt.Errorf("decode link response: %w", err)
		}
	}
	out := &decoded.linkResponse
	if decoded.Data != nil {
		out = decoded.Data
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return out, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		msg := firstNonEmpty(decoded.Message, decoded.Error, out.Message, out.Error, http.StatusText(resp.StatusCode))
		return nil, &clientError{err: downstreamError(resp.StatusCode, msg)}
	}
	return nil, fmt.Errorf("POST %s returned %d", path, resp.StatusCode)
}

func downstreamError(status int, msg string) error {
	switch status {
	case http.StatusNotFound:
		return apperr.NotFound(msg)
	case http.StatusConflict:
		return apperr.Conflict(msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.New(apperr.CodeUnavailable, "business system rejected the linker credentials")
	}
	return apperr.Validation(msg)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
