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

package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crmworks/docinbox/internal/blob"
	"github.com/crmworks/docinbox/internal/config"
	"github.com/crmworks/docinbox/internal/inbox"
	"github.com/crmworks/docinbox/internal/models"
	"github.com/crmworks/docinbox/internal/normalize"
	"github.com/crmworks/docinbox/internal/ratelimit"
)

const testSecret = "s3cret"

var pdfContent = base64.StdEncoding.EncodeToString([]byte("%PDF-1.7 invoice"))

func payload(to string) string {
	return `{
		"messageId": "<m-100@supplier.test>",
		"from": "Holzbau Meier <rechnung@supplier.test>",
		"to": "` + to + `",
		"subject": "Rechnung RE-2026-0042",
		"text": "Rechnungsnummer RE-2026-0042",
		"attachments": [
			{"id": "a1", "filename": "Rechnung.pdf", "content": "` + pdfContent + `"},
			{"id": "a2", "filename": "setup.exe", "content": "` + pdfContent + `"}
		]
	}`
}

// mockSeen records dedup calls.
type mockSeen struct {
	mu      sync.Mutex
	seen    map[string]bool
	forgot  []string
	failErr error
}

func (m *mockSeen) IsNew(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return false, m.failErr
	}
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[key] {
		return false, nil
	}
	m.seen[key] = true
	return true, nil
}

func (m *mockSeen) Forget(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, key)
	m.forgot = append(m.forgot, key)
	return nil
}

// failingIngester rejects every item.
type failingIngester struct{}

func (failingIngester) Ingest(context.Context, *models.InboxItem) error {
	return errors.New("connection reset")
}

type fixture struct {
	handler *Handler
	store   *inbox.MemoryStore
	blobs   *blob.MemoryStore
	seen    *mockSeen
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	norm, err := normalize.New()
	if err != nil {
		t.Fatalf("normalize.New: %v", err)
	}
	store := inbox.NewMemoryStore()
	blobs := blob.NewMemoryStore()
	seen := &mockSeen{}
	deps := Deps{
		Auth:       NewAuthenticator(AuthConfig{Secret: testSecret, Production: true}),
		Normalizer: norm,
		Mailboxes: NewMailboxResolver([]config.MailboxConfig{
			{Alias: "docs", OwnerID: "owner-1", CompanyID: "company-1", Addresses: []string{"docs@crm.test"}},
		}, ""),
		Policy: AttachmentPolicy{MaxSizeBytes: 1 << 20, AllowedTypes: []string{"application/pdf", "image/png"}},
		Seen:   seen,
		Blobs:  blobs,
		Inbox:  inbox.NewService(store, nil, nil),
	}
	if mutate != nil {
		mutate(&deps)
	}
	h := NewHandler(deps)
	clock := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	h.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return &fixture{handler: h, store: store, blobs: blobs, seen: seen}
}

func (f *fixture) post(body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/inbound/email/webhook", strings.NewReader(body))
	req.Header.Set("X-Inbound-Email-Secret", testSecret)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) Result {
	t.Helper()
	var res Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return res
}

// TestServeHTTP_StoresAllowedAttachments verifies the happy path.
func TestServeHTTP_StoresAllowedAttachments(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.post(payload("docs@crm.test"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	res := decodeResult(t, rec)
	if !res.Success || res.Received != 1 || res.Skipped != 1 || res.Duplicates != 0 {
		t.Fatalf("result = %+v, want received=1 skipped=1", res)
	}

	items, err := f.store.List(context.Background(), inbox.ListFilter{OwnerID: "owner-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("stored %d items, want 1", len(items))
	}
	item := items[0]
	if item.Status != models.StatusReceived {
		t.Errorf("status = %s, want received", item.Status)
	}
	if item.CompanyID != "company-1" || item.RecipientEmail != "docs@crm.test" {
		t.Errorf("recipient context = %q/%q", item.CompanyID, item.RecipientEmail)
	}
	if item.MIMEType != "application/pdf" {
		t.Errorf("mime type = %q, inferred from extension want application/pdf", item.MIMEType)
	}
	if item.DedupeKey != DedupeKey("owner-1", models.ProviderGeneric, "<m-100@supplier.test>", "a1") {
		t.Errorf("unexpected dedupe key %q", item.DedupeKey)
	}
	if len(item.ContentSHA256) != 64 {
		t.Errorf("content sha256 = %q", item.ContentSHA256)
	}
	wantPrefix := "inbound-documents/owner-1/2026/03/m-100@supplier.test/a1_"
	if !strings.HasPrefix(item.StorageRef, wantPrefix) || !strings.HasSuffix(item.StorageRef, "_Rechnung.pdf") {
		t.Errorf("storage ref = %q, want prefix %q", item.StorageRef, wantPrefix)
	}
	if f.blobs.Len() != 1 {
		t.Errorf("blobs stored = %d, want 1", f.blobs.Len())
	}
}

// TestServeHTTP_DuplicateDelivery verifies both dedup layers.
func TestServeHTTP_DuplicateDelivery(t *testing.T) {
	t.Run("fast path", func(t *testing.T) {
		f := newFixture(t, nil)
		f.post(payload("docs@crm.test"), nil)

		res := decodeResult(t, f.post(payload("docs@crm.test"), nil))
		if res.Received != 0 || res.Duplicates != 1 {
			t.Fatalf("result = %+v, want duplicates=1", res)
		}
		if f.blobs.Len() != 1 {
			t.Errorf("blobs stored = %d, want 1", f.blobs.Len())
		}
	})

	t.Run("database constraint", func(t *testing.T) {
		f := newFixture(t, func(d *Deps) { d.Seen = nil })
		f.post(payload("docs@crm.test"), nil)

		res := decodeResult(t, f.post(payload("docs@crm.test"), nil))
		if res.Received != 0 || res.Duplicates != 1 {
			t.Fatalf("result = %+v, want duplicates=1", res)
		}
		if f.blobs.Len() != 1 {
			t.Errorf("duplicate blob not removed, blobs stored = %d", f.blobs.Len())
		}
	})
}

// TestServeHTTP_UnmappedRecipient verifies mail for unknown mailboxes is
// acknowledged without being stored.
func TestServeHTTP_UnmappedRecipient(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.post(payload("someone@elsewhere.test"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	res := decodeResult(t, rec)
	if res.Received != 0 || res.Skipped != 2 {
		t.Fatalf("result = %+v, want skipped=2", res)
	}
	if f.blobs.Len() != 0 {
		t.Errorf("blobs stored = %d, want 0", f.blobs.Len())
	}
}

// TestServeHTTP_Rejections verifies the error statuses.
func TestServeHTTP_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Deps)
		body    string
		headers map[string]string
		want    int
	}{
		{
			name:    "wrong secret",
			body:    payload("docs@crm.test"),
			headers: map[string]string{"X-Inbound-Email-Secret": "nope"},
			want:    http.StatusUnauthorized,
		},
		{
			name: "missing secret in production",
			mutate: func(d *Deps) {
				d.Auth = NewAuthenticator(AuthConfig{Production: true})
			},
			body: payload("docs@crm.test"),
			want: http.StatusUnauthorized,
		},
		{
			name: "bad signature",
			mutate: func(d *Deps) {
				d.Auth = NewAuthenticator(AuthConfig{Secret: testSecret, SigningSecret: "plain-secret"})
			},
			body:    payload("docs@crm.test"),
			headers: map[string]string{"X-Resend-Signature": "00ff"},
			want:    http.StatusForbidden,
		},
		{
			name: "invalid json",
			body: "{not json",
			want: http.StatusBadRequest,
		},
		{
			name: "no readable attachment",
			body: `{"messageId":"m1","from":"a@b.test","to":"docs@crm.test","attachments":[]}`,
			want: http.StatusBadRequest,
		},
		{
			name:   "ingest failure",
			mutate: func(d *Deps) { d.Inbox = failingIngester{} },
			body:   payload("docs@crm.test"),
			want:   http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.mutate)
			rec := f.post(tt.body, tt.headers)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body["success"] != false {
				t.Errorf("success = %v, want false", body["success"])
			}
		})
	}
}

// TestServeHTTP_IngestFailureReleasesDedupKey verifies a failed delivery can
// be retried by the provider.
func TestServeHTTP_IngestFailureReleasesDedupKey(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Inbox = failingIngester{} })

	f.post(payload("docs@crm.test"), nil)
	if len(f.seen.forgot) != 1 {
		t.Fatalf("forgot %d keys, want 1", len(f.seen.forgot))
	}
	if f.blobs.Len() != 0 {
		t.Errorf("blob left behind after failed ingest")
	}
}

// TestServeHTTP_RateLimited verifies the limiter runs before anything else.
func TestServeHTTP_RateLimited(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Limiter = ratelimit.NewMemoryLimiter(1, time.Minute) })

	if rec := f.post(payload("docs@crm.test"), nil); rec.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", rec.Code)
	}
	rec := f.post(payload("docs@crm.test"), nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestMailboxResolver(t *testing.T) {
	mailboxes := []config.MailboxConfig{
		{Alias: "docs", OwnerID: "owner-1", Addresses: []string{"docs@crm.test"}},
	}

	r := NewMailboxResolver(mailboxes, "")
	got, ok := r.Resolve([]string{"other@crm.test", "DOCS@crm.test"})
	if !ok || got.OwnerID != "owner-1" || got.Address != "docs@crm.test" {
		t.Errorf("Resolve = %+v, %v", got, ok)
	}
	if _, ok := r.Resolve([]string{"other@crm.test"}); ok {
		t.Error("unmapped recipient resolved without default owner")
	}

	r = NewMailboxResolver(mailboxes, "fallback")
	got, ok = r.Resolve([]string{"other@crm.test"})
	if !ok || got.OwnerID != "fallback" {
		t.Errorf("Resolve with default = %+v, %v", got, ok)
	}
}

func TestInferMIMEType(t *testing.T) {
	tests := map[string][2]string{
		"scan.JPG":     {"", "image/jpeg"},
		"a.pdf":        {"Application/PDF; name=a.pdf", "application/pdf"},
		"notes.txt":    {"", ""},
		"image.webp":   {"", "image/webp"},
		"declared.bin": {"image/png", "image/png"},
	}
	for name, tc := range tests {
		if got := inferMIMEType(name, tc[0]); got != tc[1] {
			t.Errorf("inferMIMEType(%q, %q) = %q, want %q", name, tc[0], got, tc[1])
		}
	}
}
