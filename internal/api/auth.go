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
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/crmworks/docinbox/internal/apperr"
	"github.com/crmworks/docinbox/internal/config"
)

// Permissions that grant access to the document inbox.
const (
	PermSupplierOrdersWrite   = "supplier_orders:write"
	PermSupplierInvoicesWrite = "supplier_invoices:write"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID      string
	Permissions []string
}

// Has reports whether the principal holds perm.
func (p Principal) Has(perm string) bool {
	for _, held := range p.Permissions {
		if held == perm {
			return true
		}
	}
	return false
}

// Authenticator resolves the caller of a request.
type Authenticator interface {
	Authenticate(r *http.Request) (Principal, error)
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFrom(ctx context.Context) Principal {
	p, _ := ctx.Value(principalKey{}).(Principal)
	return p
}

type staticToken struct {
	digest    [32]byte
	principal Principal
}

// StaticTokens authenticates bearer or X-API-Key tokens from configuration.
type StaticTokens struct {
	tokens []staticToken
}

// NewStaticTokens keeps only sha256 digests of the configured tokens.
func NewStaticTokens(tokens []config.APIToken) *StaticTokens {
	s := &StaticTokens{}
	for _, t := range tokens {
		s.tokens = append(s.tokens, staticToken{
			digest:    sha256.Sum256([]byte(t.Token)),
			principal: Principal{UserID: t.UserID, Permissions: append([]string(nil), t.Permissions...)},
		})
	}
	return s
}

// Authenticate matches an X-API-Key or Bearer token in constant time.
func (s *StaticTokens) Authenticate(r *http.Request) (Principal, error) {
	token := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if scheme, value, ok := strings.Cut(r.Header.Get("Authorization"), " "); ok && strings.EqualFold(scheme, "Bearer") {
		token = strings.TrimSpace(value)
	}
	if token == "" {
		return Principal{}, apperr.AuthFailure("authentication required")
	}

	digest := sha256.Sum256([]byte(token))
	for _, t := range s.tokens {
		if subtle.ConstantTimeCompare(digest[:], t.digest[:]) == 1 {
			return t.principal, nil
		}
	}
	return Principal{}, apperr.AuthFailure("invalid API token")
}
