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
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/crmworks/docinbox/internal/apperr"
)

// AuthConfig holds the secrets used to authenticate inbound requests.
type AuthConfig struct {
	Secret        string
	SigningSecret string
	MaxSkew       time.Duration // 0 disables the replay window
	Production    bool

	CronSecret      string
	CronHeader      string
	CronHeaderValue string
}

// Authenticator verifies webhook deliveries and scheduler calls.
type Authenticator struct {
	cfg AuthConfig
	now func() time.Time
}

// NewAuthenticator creates an Authenticator for cfg.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	return &Authenticator{cfg: cfg, now: time.Now}
}

// VerifySecret checks the shared secret carried by the request. Without a
// configured secret only non-production environments are let through.
func (a *Authenticator) VerifySecret(r *http.Request) error {
	if a.cfg.Secret == "" {
		if a.cfg.Production {
			return apperr.AuthFailure("inbound webhook secret is not configured")
		}
		slog.Warn("inbound webhook secret not configured, accepting unauthenticated request")
		return nil
	}
	provided := firstNonEmpty(
		r.Header.Get("X-Inbound-Email-Secret"),
		r.Header.Get("X-Webhook-Secret"),
		bearerToken(r),
		r.URL.Query().Get("secret"),
	)
	if provided == "" || !constantTimeEqual(provided, a.cfg.Secret) {
		return apperr.AuthFailure("invalid webhook secret")
	}
	return nil
}

// VerifySignature checks the svix-style HMAC envelope, or the hex
// X-Resend-Signature header when no svix headers are present. It is a no-op
// when no signing secret is configured.
func (a *Authenticator) VerifySignature(r *http.Request, body []byte) error {
	if a.cfg.SigningSecret == "" {
		return nil
	}

	id := r.Header.Get("svix-id")
	ts := r.Header.Get("svix-timestamp")
	sigs := r.Header.Get("svix-signature")
	if id == "" && ts == "" && sigs == "" {
		if legacy := r.Header.Get("X-Resend-Signature"); legacy != "" {
			return a.verifyHexSignature(legacy, body)
		}
		return signatureFailure("missing signature headers")
	}
	if id == "" || ts == "" || sigs == "" {
		return signatureFailure("incomplete signature headers")
	}

	if a.cfg.MaxSkew > 0 {
		sec, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return signatureFailure("malformed signature timestamp")
		}
		skew := a.now().Sub(time.Unix(sec, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > a.cfg.MaxSkew {
			return signatureFailure("signature timestamp outside tolerance")
		}
	}

	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(a.cfg.SigningSecret, "whsec_"))
	if err != nil || len(key) == 0 {
		return signatureFailure("signing secret is not valid base64")
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id + "." + ts + "."))
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, part := range strings.Fields(sigs) {
		version, value, ok := strings.Cut(part, ",")
		if !ok || version != "v1" {
			continue
		}
		got, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			continue
		}
		if hmac.Equal(got, expected) {
			return nil
		}
	}
	return signatureFailure("signature mismatch")
}

func (a *Authenticator) verifyHexSignature(sig string, body []byte) error {
	got, err := hex.DecodeString(strings.TrimSpace(sig))
	if err != nil {
		return signatureFailure("malformed signature")
	}
	mac := hmac.New(sha256.New, []byte(a.cfg.SigningSecret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return signatureFailure("signature mismatch")
	}
	return nil
}

// VerifyCron accepts the scheduler's bearer secret or its marker header.
func (a *Authenticator) VerifyCron(r *http.Request) error {
	if a.cfg.CronHeader != "" && a.cfg.CronHeaderValue != "" &&
		r.Header.Get(a.cfg.CronHeader) == a.cfg.CronHeaderValue {
		return nil
	}
	if a.cfg.CronSecret != "" {
		if token := bearerToken(r); token != "" && constantTimeEqual(token, a.cfg.CronSecret) {
			return nil
		}
	}
	return apperr.AuthFailure("unauthorized")
}

func signatureFailure(msg string) error {
	return apperr.AuthFailure(msg).WithStatus(http.StatusForbidden)
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
