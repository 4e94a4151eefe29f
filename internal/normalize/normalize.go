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

// Package normalize turns provider webhook payloads into a
// models.NormalizedInboundEmail. Payloads are checked against an embedded
// JSON schema first, then decoded as either a Resend envelope or a generic
// payload with fields at the root or under "data".
package normalize

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/mail"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/crmworks/docinbox/internal/apperr"
	"github.com/crmworks/docinbox/internal/models"
)

// DefaultSubject is used when a message has no subject.
const DefaultSubject = "(ohne Betreff)"

const schemaURL = "https://docinbox.internal/schemas/inbound-email.json"

//go:embed schema.json
var schemaJSON []byte

// Normalizer validates and decodes inbound payloads.
type Normalizer struct {
	schema *jsonschema.Schema
	now    func() time.Time
}

// New compiles the embedded payload schema.
func New() (*Normalizer, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse payload schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("add payload schema: %w", err)
	}
	sch, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile payload schema: %w", err)
	}
	return &Normalizer{
		schema: sch,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// fields is one JSON object with lazily decoded members. Members of an
// unexpected JSON type read as absent.
type fields map[string]json.RawMessage

// objectFields decodes raw when it is a JSON object and nil otherwise.
func objectFields(raw json.RawMessage) fields {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil
	}
	return f
}

// str returns the trimmed string member key, or "" when it is not a string.
func (f fields) str(key string) string {
	var s string
	if err := json.Unmarshal(f[key], &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// strs accepts a single string or an array; non-string entries are dropped.
func (f fields) strs(key string) []string {
	if s := f.str(key); s != "" {
		return []string{s}
	}
	var list []json.RawMessage
	if err := json.Unmarshal(f[key], &list); err != nil {
		return nil
	}
	var out []string
	for _, entry := range list {
		var s string
		if json.Unmarshal(entry, &s) == nil && strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

func (f fields) num(key string) (float64, bool) {
	var v float64
	if err := json.Unmarshal(f[key], &v); err != nil {
		return 0, false
	}
	return v, true
}

// array returns the members of an array value; ok is false for any other type.
func (f fields) array(key string) (entries []json.RawMessage, ok bool) {
	if err := json.Unmarshal(f[key], &entries); err != nil || entries == nil {
		return nil, false
	}
	return entries, true
}

// Normalize validates raw and returns the normalized email. Every rejection
// is an apperr VALIDATION error. Known fields of the wrong type are ignored
// rather than failing the whole payload.
func (n *Normalizer) Normalize(raw []byte) (*models.NormalizedInboundEmail, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, "payload is not valid JSON", err)
	}
	if err := n.schema.Validate(inst); err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, "payload does not match the inbound email schema", err)
	}

	root := objectFields(raw)
	if root == nil {
		return nil, apperr.Validation("payload is not a JSON object")
	}
	source := root
	nested := objectFields(root["data"])
	if len(nested) > 0 {
		source = nested
	} else {
		nested = nil
	}

	email := &models.NormalizedInboundEmail{
		Provider: models.ProviderGeneric,
		To:       []string{},
	}
	if root.str("type") != "" {
		email.Provider = models.ProviderResend
	}

	email.MessageID = firstNonEmpty(source.str("messageId"), source.str("message_id"), source.str("id"))
	if email.MessageID == "" {
		return nil, apperr.Validation("payload has no message id")
	}

	name, addr, ok := parseAddress(firstNonEmpty(source.str("from"), source.str("sender")))
	if !ok {
		return nil, apperr.Validation("payload has no valid sender address")
	}
	email.FromName, email.FromEmail = name, addr

	var recipients []string
	recipients = append(recipients, source.strs("to")...)
	recipients = append(recipients, source.strs("recipients")...)
	if nested != nil {
		recipients = append(recipients, root.strs("to")...)
	}
	seen := make(map[string]bool, len(recipients))
	for _, r := range recipients {
		_, addr, ok := parseAddress(r)
		if !ok || seen[addr] {
			continue
		}
		seen[addr] = true
		email.To = append(email.To, addr)
	}
	if len(email.To) == 0 {
		return nil, apperr.Validation("payload has no recipient")
	}

	email.Subject = firstNonEmpty(source.str("subject"), DefaultSubject)
	email.HTML = firstNonEmpty(source.str("html"), source.str("htmlBody"))
	email.Text = firstNonEmpty(source.str("text"), source.str("textBody"))
	if email.Text == "" && email.HTML != "" {
		email.Text = stripHTML(email.HTML)
	}

	email.ReceivedAt = n.now()
	if ts := firstNonEmpty(source.str("receivedAt"), source.str("received_at"), source.str("created_at")); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			email.ReceivedAt = t.UTC()
		}
	}

	attachments, ok := source.array("attachments")
	if !ok {
		attachments, _ = root.array("attachments")
	}
	for i, a := range attachments {
		if att, ok := normalizeAttachment(objectFields(a), i); ok {
			email.Attachments = append(email.Attachments, att)
		}
	}
	if len(email.Attachments) == 0 {
		return nil, apperr.Validation("payload has no attachment with readable content")
	}
	return email, nil
}

func normalizeAttachment(a fields, index int) (models.InboundAttachment, bool) {
	content, ok := decodeBase64(firstNonEmpty(a.str("content"), a.str("content_base64"), a.str("base64"), a.str("data")))
	if !ok {
		return models.InboundAttachment{}, false
	}

	name := firstNonEmpty(a.str("filename"), a.str("fileName"), a.str("file_name"), a.str("name"), fmt.Sprintf("attachment-%d", index+1))
	id := firstNonEmpty(a.str("id"), a.str("attachmentId"))
	if id == "" {
		sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", name, index)))
		id = hex.EncodeToString(sum[:])
	}

	size := int64(len(content))
	if v, ok := a.num("size"); ok && v > 0 {
		size = int64(v)
	}

	return models.InboundAttachment{
		ExternalID: id,
		FileName:   SanitizeFileName(name, index),
		MIMEType:   strings.ToLower(firstNonEmpty(a.str("contentType"), a.str("content_type"), a.str("mimeType"))),
		Size:       size,
		Content:    content,
	}, true
}

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// decodeBase64 accepts std or URL alphabet, padded or not, and data URLs.
func decodeBase64(s string) ([]byte, bool) {
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return nil, false
	}
	for _, enc := range base64Encodings {
		if b, err := enc.DecodeString(s); err == nil && len(b) > 0 {
			return b, true
		}
	}
	return nil, false
}

var angleAddress = regexp.MustCompile(`^(.*)<([^>]+)>$`)

// parseAddress reads "Name <addr>" or a bare address and returns the
// lower-cased address.
func parseAddress(s string) (name, addr string, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", "", false
	}
	if a, err := mail.ParseAddress(s); err == nil {
		return strings.TrimSpace(a.Name), strings.ToLower(a.Address), true
	}
	if m := angleAddress.FindStringSubmatch(s); m != nil {
		name = strings.Trim(strings.TrimSpace(m[1]), `"`)
		s = strings.TrimSpace(m[2])
	}
	addr = strings.ToLower(s)
	if !validAddress(addr) {
		return "", "", false
	}
	return name, addr, true
}

func validAddress(addr string) bool {
	local, domain, ok := strings.Cut(addr, "@")
	return ok && local != "" && domain != "" &&
		!strings.ContainsAny(addr, " \t<>,;") && !strings.Contains(domain, "@")
}

var unsafeFileChars = regexp.MustCompile(`[^\p{L}\p{N}._() -]+`)

// SanitizeFileName strips directories and characters that are unsafe in a
// storage path. An empty result falls back to attachment-<index+1>.
func SanitizeFileName(name string, index int) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(strings.TrimSpace(name))
	name = unsafeFileChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, " .")
	if len(name) > 180 {
		ext := path.Ext(name)
		if len(ext) > 10 {
			ext = ""
		}
		name = name[:180-len(ext)] + ext
	}
	if name == "" || name == "/" {
		return fmt.Sprintf("attachment-%d", index+1)
	}
	return name
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
