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

// Package api exposes the review workflow, the batch trigger and health
// checks over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crmworks/docinbox/internal/apperr"
	"github.com/crmworks/docinbox/internal/batch"
	"github.com/crmworks/docinbox/internal/inbox"
	"github.com/crmworks/docinbox/internal/models"
	"github.com/crmworks/docinbox/internal/respond"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxRequestBytes  = 1 << 20
)

// CronVerifier authenticates scheduler calls.
type CronVerifier interface {
	VerifyCron(r *http.Request) error
}

// HealthCheck pings one dependency.
type HealthCheck func(ctx context.Context) error

// Deps groups the collaborators of a Server. Webhook is mounted as-is.
type Deps struct {
	Inbox     *inbox.Service
	Processor *batch.Processor
	Auth      Authenticator
	Cron      CronVerifier
	Webhook   http.Handler
	Health    map[string]HealthCheck
}

// Server routes every HTTP endpoint of the service.
type Server struct {
	deps Deps
	mux  *http.ServeMux
}

// NewServer registers every route on a fresh mux.
func NewServer(deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux()}

	if deps.Webhook != nil {
		s.mux.Handle("POST /api/inbound/email/webhook", deps.Webhook)
	}
	s.mux.HandleFunc("GET /api/cron/inbound/process", s.handleProcess)
	s.mux.HandleFunc("POST /api/cron/inbound/process", s.handleProcess)
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.Handle("GET /api/document-inbox", s.reviewer(s.handleList))
	s.mux.Handle("GET /api/document-inbox/{id}", s.reviewer(s.handleGet))
	s.mux.Handle("GET /api/document-inbox/{id}/events", s.reviewer(s.handleEvents))
	s.mux.Handle("POST /api/document-inbox/{id}/confirm", s.reviewer(s.handleConfirm))
	s.mux.Handle("POST /api/document-inbox/{id}/reject", s.reviewer(s.handleReject))
	s.mux.Handle("POST /api/document-inbox/{id}/reassign", s.reviewer(s.handleReassign))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	slog.Debug("http request",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// reviewer requires a caller holding one of the inbox permissions.
func (s *Server) reviewer(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.deps.Auth.Authenticate(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if !p.Has(PermSupplierOrdersWrite) && !p.Has(PermSupplierInvoicesWrite) {
			writeError(w, apperr.Forbidden("missing permission for the document inbox"))
			return
		}
		next(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

type processResponse struct {
	Success bool `json:"success"`
	batch.Result
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Cron.VerifyCron(r); err != nil {
		writeError(w, err)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, apperr.Validation("limit must be an integer"))
			return
		}
		limit = n
		if limit == 0 {
			limit = 1
		}
	}

	res, err := s.deps.Processor.Run(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, processResponse{Success: true, Result: res})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.deps.Health))
	for name, check := range s.deps.Health {
		if err := check(ctx); err != nil {
			slog.Warn("health check failed", "dependency", name, "error", err)
			checks[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	respond.JSON(w, status, map[string]any{"status": overall, "checks": checks})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := inbox.ListFilter{
		OwnerID: principalFrom(r.Context()).UserID,
		Limit:   defaultListLimit,
	}
	for _, k := range splitList(q.Get("kinds")) {
		f.Kinds = append(f.Kinds, models.DocumentKind(k))
	}
	for _, st := range splitList(q.Get("statuses")) {
		f.Statuses = append(f.Statuses, models.ProcessingStatus(st))
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, apperr.Validation("limit must be a positive integer"))
			return
		}
		f.Limit = min(n, maxListLimit)
	}

	items, err := s.deps.Inbox.List(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	if items == nil {
		items = []models.InboxItem{}
	}
	respond.OK(w, items)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	item, err := s.deps.Inbox.Get(r.Context(), principalFrom(r.Context()).UserID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	respond.OK(w, item)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Inbox.Events(r.Context(), principalFrom(r.Context()).UserID, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []models.InboundEvent{}
	}
	respond.OK(w, events)
}

type confirmRequest struct {
	Kind            models.DocumentKind `json:"kind"`
	SupplierOrderID string              `json:"supplier_order_id"`
	ProjectID       string              `json:"project_id"`
	InvoiceNumber   string              `json:"invoice_number"`
	NetAmount       *decimal.Decimal    `json:"net_amount"`
	Notes           string              `json:"notes"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p := principalFrom(r.Context())
	item, err := s.deps.Inbox.Confirm(r.Context(), inbox.ConfirmInput{
		ID:              r.PathValue("id"),
		OwnerID:         p.UserID,
		Actor:           p.UserID,
		Kind:            req.Kind,
		SupplierOrderID: strings.TrimSpace(req.SupplierOrderID),
		ProjectID:       strings.TrimSpace(req.ProjectID),
		InvoiceNumber:   strings.TrimSpace(req.InvoiceNumber),
		NetAmount:       req.NetAmount,
		Notes:           req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	respond.OK(w, item)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p := principalFrom(r.Context())
	item, err := s.deps.Inbox.Reject(r.Context(), inbox.RejectInput{
		ID:      r.PathValue("id"),
		OwnerID: p.UserID,
		Actor:   p.UserID,
		Reason:  req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	respond.OK(w, item)
}

type reassignRequest struct {
	SupplierOrderID   string   `json:"supplier_order_id"`
	ProjectID         string   `json:"project_id"`
	SupplierInvoiceID string   `json:"supplier_invoice_id"`
	Confidence        *float64 `json:"confidence"`
}

func (s *Server) handleReassign(w http.ResponseWriter, r *http.Request) {
	var req reassignRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p := principalFrom(r.Context())
	item, err := s.deps.Inbox.Reassign(r.Context(), inbox.ReassignInput{
		ID:                r.PathValue("id"),
		OwnerID:           p.UserID,
		Actor:             p.UserID,
		SupplierOrderID:   strings.TrimSpace(req.SupplierOrderID),
		ProjectID:         strings.TrimSpace(req.ProjectID),
		SupplierInvoiceID: strings.TrimSpace(req.SupplierInvoiceID),
		Confidence:        req.Confidence,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	respond.OK(w, item)
}

// decodeBody reads an optional JSON body. An empty body leaves dst as is.
func decodeBody(r *http.Request, dst any) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return apperr.Wrap(apperr.CodeValidation, "could not read request body", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "request body is not valid JSON", err)
	}
	return nil
}

// writeError maps domain errors onto the response envelope.
func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, inbox.ErrNotFound) && !apperr.Is(err, apperr.CodeNotFound) {
		err = apperr.Wrap(apperr.CodeNotFound, "inbox item not found", err)
	}
	respond.Error(w, err)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
