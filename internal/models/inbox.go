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

import (
	"math"
	"time"
)

// ProcessingStatus is the state of an inbox item in the review workflow.
type ProcessingStatus string

const (
	StatusReceived    ProcessingStatus = "received"
	StatusClassified  ProcessingStatus = "classified"
	StatusPreassigned ProcessingStatus = "preassigned"
	StatusNeedsReview ProcessingStatus = "needs_review"
	StatusConfirmed   ProcessingStatus = "confirmed"
	StatusRejected    ProcessingStatus = "rejected"
	StatusFailed      ProcessingStatus = "failed"
)

// AllStatuses lists every processing status in workflow order.
var AllStatuses = []ProcessingStatus{
	StatusReceived,
	StatusClassified,
	StatusPreassigned,
	StatusNeedsReview,
	StatusConfirmed,
	StatusRejected,
	StatusFailed,
}

// Valid reports whether s is a known status.
func (s ProcessingStatus) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends the review workflow.
// A rejected item can still be brought back through reassignment.
func (s ProcessingStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusRejected
}

// EventType labels an InboundEvent.
type EventType string

const (
	EventReceived   EventType = "received"
	EventClassified EventType = "classified"
	EventFailed     EventType = "failed"
	EventConfirmed  EventType = "confirmed"
	EventRejected   EventType = "rejected"
	EventReassigned EventType = "reassigned"
)

// InboxItem is one ingested document (email + attachment).
type InboxItem struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	CompanyID string `json:"company_id,omitempty"`

	SourceProvider     Provider `json:"source_provider"`
	SourceMessageID    string   `json:"source_message_id"`
	SourceAttachmentID string   `json:"source_attachment_id"`
	DedupeKey          string   `json:"dedupe_key"`

	SenderEmail    string    `json:"sender_email,omitempty"`
	SenderName     string    `json:"sender_name,omitempty"`
	RecipientEmail string    `json:"recipient_email,omitempty"`
	Subject        string    `json:"subject"`
	BodyText       string    `json:"body_text,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`

	FileName      string `json:"file_name"`
	MIMEType      string `json:"mime_type"`
	FileSize      int64  `json:"file_size"`
	StorageRef    string `json:"storage_ref"`
	ContentSHA256 string `json:"content_sha256"`

	DocumentKind DocumentKind      `json:"document_kind"`
	Status       ProcessingStatus  `json:"processing_status"`
	Signals      *DocumentSignals  `json:"extracted_signals,omitempty"`
	Candidates   []ScoredCandidate `json:"assignment_candidates"`
	Confidence   float64           `json:"assignment_confidence"`

	AssignedSupplierOrderID   string `json:"assigned_supplier_order_id,omitempty"`
	AssignedProjectID         string `json:"assigned_project_id,omitempty"`
	AssignedSupplierInvoiceID string `json:"assigned_supplier_invoice_id,omitempty"`

	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	ConfirmedBy     string     `json:"confirmed_by,omitempty"`
	RejectedReason  string     `json:"rejected_reason,omitempty"`
	ProcessingError string     `json:"processing_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ClearAssignment drops every assigned record id.
func (i *InboxItem) ClearAssignment() {
	i.AssignedSupplierOrderID = ""
	i.AssignedProjectID = ""
	i.AssignedSupplierInvoiceID = ""
}

// InboundEvent is an append-only audit record of one state transition.
type InboundEvent struct {
	ID          string           `json:"id"`
	InboxItemID string           `json:"inbox_item_id"`
	OwnerID     string           `json:"owner_id"`
	EventType   EventType        `json:"event_type"`
	FromStatus  ProcessingStatus `json:"from_status,omitempty"`
	ToStatus    ProcessingStatus `json:"to_status"`
	Actor       string           `json:"actor,omitempty"`
	Payload     map[string]any   `json:"payload"`
	CreatedAt   time.Time        `json:"created_at"`
}

// ClampConfidence bounds v to [0,1]. NaN becomes 0.
func ClampConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
