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

package models

import "github.com/shopspring/decimal"

// DocumentKind is the classified type of an inbound document.
type DocumentKind string

const (
	KindAB                   DocumentKind = "ab"
	KindSupplierDeliveryNote DocumentKind = "supplier_delivery_note"
	KindSupplierInvoice      DocumentKind = "supplier_invoice"
	KindUnknown              DocumentKind = "unknown"
)

// Valid reports whether k is one of the known kinds (including unknown).
func (k DocumentKind) Valid() bool {
	switch k {
	case KindAB, KindSupplierDeliveryNote, KindSupplierInvoice, KindUnknown:
		return true
	}
	return false
}

// SignalSource records which extractor produced a DocumentSignals value.
type SignalSource string

const (
	SourceHeuristic SignalSource = "heuristic"
	SourceExternal  SignalSource = "external"
)

// DetectorEvidence is the strength breakdown of one classifier detector.
type DetectorEvidence struct {
	Kind            DocumentKind `json:"kind"`
	Keyword         string       `json:"keyword,omitempty"`
	Specificity     int          `json:"specificity"`
	HeaderHit       bool         `json:"header_hit"`
	FieldsExtracted int          `json:"fields_extracted"`
	FieldsExpected  int          `json:"fields_expected"`
	Strength        int          `json:"strength"`
}

// DocumentSignals is the structured output of the classifier.
// Dates are ISO calendar dates (YYYY-MM-DD); absent fields are empty.
type DocumentSignals struct {
	Kind                DocumentKind `json:"kind"`
	Confidence          float64      `json:"confidence"`
	OrderNumbers        []string     `json:"order_numbers"`
	ProjectOrderNumbers []string     `json:"project_order_numbers"`

	ABNumber              string `json:"ab_number,omitempty"`
	ConfirmedDeliveryDate string `json:"confirmed_delivery_date,omitempty"`

	DeliveryNoteNumber string `json:"delivery_note_number,omitempty"`
	DeliveryDate       string `json:"delivery_date,omitempty"`

	InvoiceNumber string           `json:"invoice_number,omitempty"`
	InvoiceDate   string           `json:"invoice_date,omitempty"`
	DueDate       string           `json:"due_date,omitempty"`
	NetAmount     *decimal.Decimal `json:"net_amount,omitempty"`
	TaxRate       *decimal.Decimal `json:"tax_rate,omitempty"`

	Warnings []string           `json:"warnings"`
	Source   SignalSource       `json:"source"`
	Evidence []DetectorEvidence `json:"evidence,omitempty"`
}

// CandidateRecord is a read-only projection of an open supplier order.
type CandidateRecord struct {
	OrderID            string `json:"order_id"`
	OrderNumber        string `json:"order_number"`
	ProjectID          string `json:"project_id"`
	ProjectOrderNumber string `json:"project_order_number,omitempty"`
	SupplierName       string `json:"supplier_name,omitempty"`
	SupplierOrderEmail string `json:"supplier_order_email,omitempty"`
	SupplierEmail      string `json:"supplier_email,omitempty"`
}

// ScoredCandidate is a CandidateRecord with the matcher's verdict attached.
type ScoredCandidate struct {
	CandidateRecord
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// AssignmentDecision is the matcher's output for one document.
type AssignmentDecision struct {
	Status                  ProcessingStatus  `json:"status"`
	AssignedSupplierOrderID string            `json:"assigned_supplier_order_id,omitempty"`
	AssignedProjectID       string            `json:"assigned_project_id,omitempty"`
	Confidence              float64           `json:"confidence"`
	Reasons                 []string          `json:"reasons"`
	Candidates              []ScoredCandidate `json:"candidates"`
}
