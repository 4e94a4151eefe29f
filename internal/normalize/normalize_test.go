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

package normalize

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmworks/docinbox/internal/apperr"
	"github.com/crmworks/docinbox/internal/models"
)

var pdf = base64.StdEncoding.EncodeToString([]byte("%PDF-1.7 test"))

func newNormalizer(t *testing.T) *Normalizer {
	t.Helper()
	n, err := New()
	require.NoError(t, err)
	n.now = func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }
	return n
}

func TestNormalize_Generic(t *testing.T) {
	n := newNormalizer(t)

	got, err := n.Normalize([]byte(`{
		"messageId": "<abc@mail.test>",
		"from": "Holzbau Meier <AB@Supplier.test>",
		"to": ["Inbox <docs@crm.test>", "docs@crm.test"],
		"recipients": "other@crm.test",
		"subject": "Auftragsbestätigung",
		"textBody": "Liefertermin 15.03.2026",
		"received_at": "2026-02-28T10:15:00+01:00",
		"attachments": [
			{"fileName": "../AB 4711.pdf", "content_base64": "` + pdf + `", "mimeType": "Application/PDF"}
		]
	}`))
	require.NoError(t, err)

	assert.Equal(t, models.ProviderGeneric, got.Provider)
	assert.Equal(t, "<abc@mail.test>", got.MessageID)
	assert.Equal(t, "Holzbau Meier", got.FromName)
	assert.Equal(t, "ab@supplier.test", got.FromEmail)
	assert.Equal(t, []string{"docs@crm.test", "other@crm.test"}, got.To)
	assert.Equal(t, "Auftragsbestätigung", got.Subject)
	assert.Equal(t, "Liefertermin 15.03.2026", got.Text)
	assert.True(t, got.ReceivedAt.Equal(time.Date(2026, 2, 28, 9, 15, 0, 0, time.UTC)))

	require.Len(t, got.Attachments, 1)
	att := got.Attachments[0]
	assert.Equal(t, "AB 4711.pdf", att.FileName)
	assert.Equal(t, "application/pdf", att.MIMEType)
	assert.Equal(t, []byte("%PDF-1.7 test"), att.Content)
	assert.Equal(t, int64(len("%PDF-1.7 test")), att.Size)
	assert.Len(t, att.ExternalID, 64)
}

func TestNormalize_ResendEnvelope(t *testing.T) {
	n := newNormalizer(t)

	got, err := n.Normalize([]byte(`{
		"type": "email.received",
		"created_at": "2026-03-01T07:00:00Z",
		"data": {
			"id": "em_123",
			"message_id": "msg-1",
			"from": "ab@supplier.test",
			"to": "docs@crm.test",
			"html": "<p>Rechnung</p><p>Netto&nbsp;100,00</p>",
			"attachments": [
				{"id": "att_1", "file_name": "RE-1.pdf", "content": "` + pdf + `", "content_type": "application/pdf", "size": 99}
			]
		}
	}`))
	require.NoError(t, err)

	assert.Equal(t, models.ProviderResend, got.Provider)
	assert.Equal(t, "msg-1", got.MessageID)
	assert.Equal(t, DefaultSubject, got.Subject)
	assert.Equal(t, "Rechnung\nNetto 100,00", got.Text)
	assert.Equal(t, n.now(), got.ReceivedAt)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "att_1", got.Attachments[0].ExternalID)
	assert.Equal(t, int64(99), got.Attachments[0].Size)
}

func TestNormalize_SkipsUndecodableAttachments(t *testing.T) {
	n := newNormalizer(t)

	got, err := n.Normalize([]byte(`{
		"id": "m1",
		"sender": "ab@supplier.test",
		"to": "docs@crm.test",
		"attachments": [
			{"name": "broken.pdf", "content": "%%%"},
			{"name": "empty.pdf"},
			{"name": "ok.pdf", "data": "` + base64.RawURLEncoding.EncodeToString([]byte{0xfb, 0xff, 0x01}) + `"}
		]
	}`))
	require.NoError(t, err)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, "ok.pdf", got.Attachments[0].FileName)
	assert.Equal(t, []byte{0xfb, 0xff, 0x01}, got.Attachments[0].Content)
}

func TestNormalize_IgnoresWronglyTypedFields(t *testing.T) {
	n := newNormalizer(t)

	got, err := n.Normalize([]byte(`{
		"id": "m1",
		"from": {"email": "ignored@supplier.test"},
		"sender": "ab@supplier.test",
		"to": ["docs@crm.test", 7, null],
		"subject": 12,
		"received_at": false,
		"attachments": [
			"not an object",
			{"name": 5, "content": "` + pdf + `", "size": "large", "mimeType": ["application/pdf"]},
			{"name": "b.pdf", "content": "` + pdf + `", "size": -1}
		]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "ab@supplier.test", got.FromEmail)
	assert.Equal(t, []string{"docs@crm.test"}, got.To)
	assert.Equal(t, DefaultSubject, got.Subject)
	assert.Equal(t, n.now(), got.ReceivedAt)
	require.Len(t, got.Attachments, 2)
	first := got.Attachments[0]
	assert.Equal(t, "attachment-2", first.FileName)
	assert.Empty(t, first.MIMEType)
	assert.Equal(t, int64(len("%PDF-1.7 test")), first.Size)
	assert.Equal(t, "b.pdf", got.Attachments[1].FileName)
	assert.Equal(t, int64(len("%PDF-1.7 test")), got.Attachments[1].Size)
}

func TestNormalize_Rejections(t *testing.T) {
	n := newNormalizer(t)
	att := `[{"name": "a.pdf", "content": "` + pdf + `"}]`

	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{"id":`},
		{"not an object", `[1,2]`},
		{"empty object", `{}`},
		{"sender not a string", `{"id": "m1", "from": 42, "to": "docs@crm.test", "attachments": ` + att + `}`},
		{"attachments not an array", `{"id": "m1", "from": "a@b.test", "to": "docs@crm.test", "attachments": {"name": "a.pdf"}}`},
		{"missing message id", `{"from": "a@b.test", "to": "docs@crm.test", "attachments": ` + att + `}`},
		{"missing sender", `{"id": "m1", "to": "docs@crm.test", "attachments": ` + att + `}`},
		{"invalid sender", `{"id": "m1", "from": "not an address", "to": "docs@crm.test", "attachments": ` + att + `}`},
		{"no recipient", `{"id": "m1", "from": "a@b.test", "attachments": ` + att + `}`},
		{"no attachments", `{"id": "m1", "from": "a@b.test", "to": "docs@crm.test"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize([]byte(tt.payload))
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.CodeValidation), "got %v", err)
		})
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Rechnung 2026.pdf", "Rechnung 2026.pdf"},
		{`C:\temp\AB.pdf`, "AB.pdf"},
		{"../../etc/passwd", "passwd"},
		{"Lieferschein<>|*.pdf", "Lieferschein_.pdf"},
		{"Auftragsbestätigung.pdf", "Auftragsbestätigung.pdf"},
		{"   ", "attachment-3"},
		{"..", "attachment-3"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFileName(tt.in, 2))
		})
	}
}

func TestStripHTML(t *testing.T) {
	got := stripHTML("<html><body><div>Lieferschein   LS-1</div><br>Datum: 01.02.2026 &amp; mehr</body></html>")
	assert.Equal(t, "Lieferschein LS-1\nDatum: 01.02.2026 & mehr", got)
}
