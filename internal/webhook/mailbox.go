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
	"strings"

	"github.com/crmworks/docinbox/internal/config"
)

// Recipient is the account an inbound mailbox delivers to.
type Recipient struct {
	OwnerID   string
	CompanyID string
	Mailbox   string
	Address   string
}

// MailboxResolver maps recipient addresses to owners using the configured
// mailboxes, falling back to a default owner when one is set.
type MailboxResolver struct {
	byAddress    map[string]config.MailboxConfig
	defaultOwner string
}

// NewMailboxResolver indexes mailboxes by lowercased address. defaultOwner,
// when set, receives mail for addresses no mailbox lists.
func NewMailboxResolver(mailboxes []config.MailboxConfig, defaultOwner string) *MailboxResolver {
	r := &MailboxResolver{
		byAddress:    make(map[string]config.MailboxConfig),
		defaultOwner: strings.TrimSpace(defaultOwner),
	}
	for _, mb := range mailboxes {
		for _, addr := range mb.Addresses {
			r.byAddress[strings.ToLower(addr)] = mb
		}
	}
	return r
}

// Resolve returns the first recipient with a known mailbox. ok is false
// when nothing matches and no default owner is configured.
func (r *MailboxResolver) Resolve(recipients []string) (Recipient, bool) {
	for _, addr := range recipients {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if mb, found := r.byAddress[addr]; found {
			return Recipient{OwnerID: mb.OwnerID, CompanyID: mb.CompanyID, Mailbox: mb.Alias, Address: addr}, true
		}
	}
	if r.defaultOwner == "" {
		return Recipient{}, false
	}
	rcpt := Recipient{OwnerID: r.defaultOwner, Mailbox: "default"}
	if len(recipients) > 0 {
		rcpt.Address = strings.ToLower(recipients[0])
	}
	return rcpt, true
}
