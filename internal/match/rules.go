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

package match

import (
	"strings"

	"github.com/crmworks/docinbox/internal/models"
)

// rule is one scoring signal. unless names a rule that, when it already
// fired for the candidate, suppresses this one.
type rule struct {
	name   string
	weight float64
	reason string
	unless string
	match  func(f facts, c models.CandidateRecord) bool
}

// minSupplierNameLen keeps short names like "AG" from matching everywhere.
const minSupplierNameLen = 3

var rules = []rule{
	{
		name:   "order_number",
		weight: 0.55,
		reason: "order number matches exactly",
		match: func(f facts, c models.CandidateRecord) bool {
			return c.OrderNumber != "" && f.orders[strings.ToLower(c.OrderNumber)]
		},
	},
	{
		name:   "project_order_number",
		weight: 0.25,
		reason: "project order number matches exactly",
		match: func(f facts, c models.CandidateRecord) bool {
			return c.ProjectOrderNumber != "" && f.projects[strings.ToLower(c.ProjectOrderNumber)]
		},
	},
	{
		name:   "sender_email",
		weight: 0.35,
		reason: "sender address is a known supplier address",
		match: func(f facts, c models.CandidateRecord) bool {
			if f.senderEmail == "" {
				return false
			}
			return f.senderEmail == normalizeEmail(c.SupplierOrderEmail) ||
				f.senderEmail == normalizeEmail(c.SupplierEmail)
		},
	},
	{
		name:   "sender_domain",
		weight: 0.10,
		reason: "sender domain matches supplier",
		unless: "sender_email",
		match: func(f facts, c models.CandidateRecord) bool {
			if f.senderDomain == "" {
				return false
			}
			return f.senderDomain == emailDomain(normalizeEmail(c.SupplierOrderEmail)) ||
				f.senderDomain == emailDomain(normalizeEmail(c.SupplierEmail))
		},
	},
	{
		name:   "supplier_name",
		weight: 0.05,
		reason: "supplier name found in document",
		match: func(f facts, c models.CandidateRecord) bool {
			name := strings.ToLower(strings.TrimSpace(c.SupplierName))
			return len(name) >= minSupplierNameLen && strings.Contains(f.text, name)
		},
	},
}
