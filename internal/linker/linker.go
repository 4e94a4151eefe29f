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

// Package linker hands confirmed inbox items to the business system that
// owns supplier orders, delivery notes and supplier invoices.
package linker

import (
	"fmt"
	"time"

	"github.com/crmworks/docinbox/internal/inbox"
	"github.com/crmworks/docinbox/internal/models"
)

// Document is the attachment reference sent downstream.
type Document struct {
	InboxItemID   string `json:"inbox_item_id"`
	StorageRef    string `json:"storage_ref"`
	FileName      string `json:"file_name"`
	MIMEType      string `json:"mime_type"`
	ContentSHA256 string `json:"content_sha256,omitempty"`
}

// Payload is the wire form of a link request.
type Payload struct {
	Kind            models.DocumentKind `json:"kind"`
	OwnerID         string              `json:"owner_id"`
	CompanyID       string              `json:"company_id,omitempty"`
	SupplierOrderID string              `json:"supplier_order_id,omitempty"`
	ProjectID       string              `json:"project_id,omitempty"`
	Confidence      float64             `json:"assignment_confidence"`
	Document        Document            `json:"document"`

	ABNumber              string `json:"ab_number,omitempty"`
	ConfirmedDeliveryDate string `json:"confirmed_delivery_date,omitempty"`

	DeliveryNoteNumber string `json:"delivery_note_number,omitempty"`
	DeliveryDate       string `json:"delivery_date,omitempty"`

	InvoiceNumber string `json:"invoice_number,omitempty"`
	InvoiceDate   string `json:"invoice_date,omitempty"`
	DueDate       string `json:"due_date,omitempty"`
	NetAmount     string `json:"net_amount,omitempty"`
	TaxRate       string `json:"tax_rate,omitempty"`

	Supplier    string    `json:"supplier_name,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	ConfirmedBy string    `json:"confirmed_by"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// NewPayload builds the wire form of req.
func NewPayload(req inbox.LinkRequest, now time.Time) Payload {
	item := req.Item
	p := Payload{
		Kind:            req.Kind,
		OwnerID:         item.OwnerID,
		CompanyID:       item.CompanyID,
		SupplierOrderID: req.SupplierOrderID,
		ProjectID:       req.ProjectID,
		Confidence:      item.Confidence,
		Document: Document{
			InboxItemID:   item.ID,
			StorageRef:    item.StorageRef,
			FileName:      item.FileName,
			MIMEType:      item.MIMEType,
			ContentSHA256: item.ContentSHA256,
		},
		Supplier:    supplierName(item, req.SupplierOrderID),
		Notes:       req.Notes,
		ConfirmedBy: req.Actor,
		ConfirmedAt: now.UTC(),
	}

	if s := item.Signals; s != nil {
		switch req.Kind {
		case models.KindAB:
			p.ABNumber = s.ABNumber
			p.ConfirmedDeliveryDate = s.ConfirmedDeliveryDate
		case models.KindSupplierDeliveryNote:
			p.DeliveryNoteNumber = s.DeliveryNoteNumber
			p.DeliveryDate = s.DeliveryDate
		case models.KindSupplierInvoice:
			p.InvoiceDate = s.InvoiceDate
			p.DueDate = s.DueDate
		}
	}
	if req.Kind == models.KindSupplierInvoice {
		p.InvoiceNumber = req.InvoiceNumber
		p.NetAmount = req.NetAmount.StringFixed(2)
		if req.TaxRate != nil {
			p.TaxRate = req.TaxRate.String()
		}
	}
	return p
}

// endpoint returns the downstream path for a kind.
func endpoint(p Payload) (string, error) {
	switch p.Kind {
	case models.KindAB:
		return fmt.Sprintf("/supplier-orders/%s/order-confirmation", p.SupplierOrderID), nil
	case models.KindSupplierDeliveryNote:
		return "/delivery-notes", nil
	case models.KindSupplierInvoice:
		return "/supplier-invoices", nil
	}
	return "", fmt.Errorf("no downstream endpoint for kind %q", p.Kind)
}

func supplierName(item models.InboxItem, orderID string) string {
	for _, c := range item.Candidates {
		if c.OrderID == orderID && c.SupplierName != "" {
			return c.SupplierName
		}
	}
	return item.SenderName
}
