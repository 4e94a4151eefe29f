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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmworks/docinbox/internal/apperr"
	"github.com/crmworks/docinbox/internal/batch"
	"github.com/crmworks/docinbox/internal/config"
	"github.com/crmworks/docinbox/internal/inbox"
	"github.com/crmworks/docinbox/internal/models"
)

const (
	reviewerToken = "tok-reviewer"
	readerToken   = "tok-reader"
	otherToken    = "tok-other"
)

type stubCron struct{}

func (stubCron) VerifyCron(r *http.Request) error {
	if r.Header.Get("Authorization") != "Bearer cron" {
		return apperr.AuthFailure("unauthorized")
	}
	return nil
}

type env struct {
	server *Server
	svc    *inbox.Service
	store  *inbox.MemoryStore
}

func newEnv(t *testing.T, health map[string]HealthCheck) *env {
	t.Helper()
	store := inbox.NewMemoryStore()
	store.SetCandidates("owner-1", []models.CandidateRecord{
		{OrderID: "o1", OrderNumber: "2026-LAB01", ProjectID: "p1", SupplierOrderEmail: "ab@supplier.test"},
	})
	svc := inbox.NewService(store, nil, nil)
	srv := NewServer(Deps{
		Inbox:     svc,
		Processor: batch.NewProcessor(svc, store, nil, 0, 0),
		Auth: NewStaticTokens([]config.APIToken{
			{Token: reviewerToken, UserID: "owner-1", Permissions: []string{PermSupplierOrdersWrite}},
			{Token: readerToken, UserID: "owner-1", Permissions: []string{"projects:read"}},
			{Token: otherToken, UserID: "owner-2", Permissions: []string{PermSupplierInvoicesWrite}},
		}),
		Cron:   stubCron{},
		Health: health,
	})
	return &env{server: srv, svc: svc, store: store}
}

func (e *env) ingest(t *testing.T, key, owner, subject string) *models.InboxItem {
	t.Helper()
	item := &models.InboxItem{
		OwnerID:            owner,
		SourceProvider:     models.ProviderGeneric,
		SourceMessageID:    "msg-" + key,
		SourceAttachmentID: "a1",
		DedupeKey:          key,
		SenderEmail:        "ab@supplier.test",
		Subject:            subject,
		BodyText:           "Liefertermin: 15.03.2026",
		FileName:           "AB.pdf",
		MIMEType:           "application/pdf",
	}
	require.NoError(t, e.svc.Ingest(context.Background(), item))
	return item
}

func (e *env) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var out envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func decodeItem(t *testing.T, rec *httptest.ResponseRecorder) models.InboxItem {
	t.Helper()
	var item models.InboxItem
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &item))
	return item
}

func TestReviewAuth(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(http.MethodGet, "/api/document-inbox", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTH_FAILURE", decode(t, rec).Error.Code)

	rec = e.do(http.MethodGet, "/api/document-inbox", "unknown", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(http.MethodGet, "/api/document-inbox", readerToken, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decode(t, rec).Error.Code)

	rec = e.do(http.MethodGet, "/api/document-inbox", otherToken, "")
	assert.Equal(t, http.StatusOK, rec.Code, "either write permission is enough")
}

func TestList(t *testing.T) {
	e := newEnv(t, nil)
	e.ingest(t, "k1", "owner-1", "Auftragsbestätigung 2026-LAB01")
	e.ingest(t, "k2", "owner-1", "Rechnung")
	e.ingest(t, "k3", "owner-2", "Rechnung")

	rec := e.do(http.MethodGet, "/api/document-inbox?statuses=received&limit=500", reviewerToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var items []models.InboxItem
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &items))
	assert.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, "owner-1", item.OwnerID)
	}

	rec = e.do(http.MethodGet, "/api/document-inbox?kinds=ab", reviewerToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, string(decode(t, rec).Data))

	rec = e.do(http.MethodGet, "/api/document-inbox?statuses=archived", reviewerToken, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodGet, "/api/document-inbox?limit=abc", reviewerToken, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGet_OwnerScoped(t *testing.T) {
	e := newEnv(t, nil)
	item := e.ingest(t, "k1", "owner-1", "Auftragsbestätigung 2026-LAB01")

	rec := e.do(http.MethodGet, "/api/document-inbox/"+item.ID, reviewerToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, item.ID, decodeItem(t, rec).ID)

	rec = e.do(http.MethodGet, "/api/document-inbox/"+item.ID, otherToken, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(http.MethodGet, "/api/document-inbox/missing", reviewerToken, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReviewFlow(t *testing.T) {
	e := newEnv(t, nil)
	item := e.ingest(t, "k1", "owner-1", "Auftragsbestätigung 2026-LAB01")

	rec := e.do(http.MethodGet, "/api/cron/inbound/process", "cron", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var processed map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &processed))
	assert.Equal(t, map[string]any{"success": true, "processed": 1.0, "succeeded": 1.0, "failed": 0.0}, processed)

	rec = e.do(http.MethodPost, "/api/document-inbox/"+item.ID+"/confirm", reviewerToken, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	confirmed := decodeItem(t, rec)
	assert.Equal(t, models.StatusConfirmed, confirmed.Status)
	assert.Equal(t, "o1", confirmed.AssignedSupplierOrderID)
	assert.Equal(t, "owner-1", confirmed.ConfirmedBy)

	rec = e.do(http.MethodPost, "/api/document-inbox/"+item.ID+"/reject", reviewerToken, `{"reason":"wrong"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(http.MethodPost, "/api/document-inbox/"+item.ID+"/reassign", reviewerToken, `{"supplier_order_id":"o2","supplier_invoice_id":"inv-9","confidence":1.7}`)
	require.Equal(t, http.StatusOK, rec.Code)
	reassigned := decodeItem(t, rec)
	assert.Equal(t, models.StatusNeedsReview, reassigned.Status)
	assert.Equal(t, "o2", reassigned.AssignedSupplierOrderID)
	assert.Equal(t, "inv-9", reassigned.AssignedSupplierInvoiceID)
	assert.Equal(t, 1.0, reassigned.Confidence)

	rec = e.do(http.MethodPost, "/api/document-inbox/"+item.ID+"/reject", reviewerToken, `{"reason":"duplicate scan"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "duplicate scan", decodeItem(t, rec).RejectedReason)

	rec = e.do(http.MethodGet, "/api/document-inbox/"+item.ID+"/events", reviewerToken, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var events []models.InboundEvent
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &events))
	var types []models.EventType
	for _, ev := range events {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []models.EventType{
		models.EventReceived, models.EventClassified, models.EventConfirmed,
		models.EventReassigned, models.EventRejected,
	}, types)
}

func TestConfirm_Validation(t *testing.T) {
	e := newEnv(t, nil)
	item := e.ingest(t, "k1", "owner-1", "Eingangspost")

	rec := e.do(http.MethodPost, "/api/document-inbox/"+item.ID+"/confirm", reviewerToken, `{"kind":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/api/document-inbox/"+item.ID+"/confirm", reviewerToken, `{"kind":"supplier_invoice","invoice_number":"RE-1","net_amount":"0"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION", decode(t, rec).Error.Code)

	rec = e.do(http.MethodPost, "/api/document-inbox/"+item.ID+"/confirm", reviewerToken, `{"kind":"supplier_invoice","invoice_number":"RE-1","net_amount":"99.90"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.KindSupplierInvoice, decodeItem(t, rec).DocumentKind)
}

func TestProcess_RequiresScheduler(t *testing.T) {
	e := newEnv(t, nil)
	rec := e.do(http.MethodGet, "/api/cron/inbound/process?limit=5", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(http.MethodGet, "/api/cron/inbound/process?limit=x", "cron", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	e := newEnv(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
	})
	rec := e.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	e = newEnv(t, map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("dial tcp: refused") },
	})
	rec = e.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"degraded","checks":{"postgres":"ok","redis":"unavailable"}}`, rec.Body.String())
}
