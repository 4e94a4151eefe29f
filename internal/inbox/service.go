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

package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/crmworks/docinbox/internal/apperr"
	"github.com/crmworks/docinbox/internal/classify"
	"github.com/crmworks/docinbox/internal/match"
	"github.com/crmworks/docinbox/internal/models"
)

// LinkRequest describes the downstream record a confirmation creates or
// updates.
type LinkRequest struct {
	Item            models.InboxItem
	Kind            models.DocumentKind
	SupplierOrderID string
	ProjectID       string
	InvoiceNumber   string
	NetAmount       decimal.Decimal
	TaxRate         *decimal.Decimal
	Notes           string
	Actor           string
}

// LinkResult carries ids of records created downstream.
type LinkResult struct {
	SupplierInvoiceID string
	DeliveryNoteID    string
}

// Linker pushes a confirmed document into the supplier order, delivery note
// or invoice records it belongs to.
type Linker interface {
	Link(ctx context.Context, req LinkRequest) (LinkResult, error)
}

// Service implements the review workflow on top of a Repository.
type Service struct {
	repo    Repository
	matcher *match.Matcher
	linker  Linker
	now     func() time.Time
}

// NewService wires a Service. linker may be nil, in which case confirmations
// only update the inbox.
func NewService(repo Repository, matcher *match.Matcher, linker Linker) *Service {
	if matcher == nil {
		matcher = match.New(match.DefaultConfig())
	}
	return &Service{
		repo:    repo,
		matcher: matcher,
		linker:  linker,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Ingest stores a freshly received item in status received. It returns
// ErrDuplicate (unwrapped) when the dedupe key was seen before.
func (s *Service) Ingest(ctx context.Context, item *models.InboxItem) error {
	now := s.now()
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.Status = models.StatusReceived
	if item.DocumentKind == "" {
		item.DocumentKind = models.KindUnknown
	}
	item.Confidence = 0
	item.ClearAssignment()
	item.CreatedAt = now
	item.UpdatedAt = now

	ev := s.event(item, models.EventReceived, "", "system", map[string]any{
		"file_name": item.FileName,
		"mime_type": item.MIMEType,
		"file_size": item.FileSize,
	})
	if err := s.repo.Insert(ctx, item, ev); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert inbox item: %w", err)
	}
	return nil
}

// Get returns one item. ownerID, when set, must match the item owner.
func (s *Service) Get(ctx context.Context, ownerID, id string) (*models.InboxItem, error) {
	item, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.Wrap(apperr.CodeNotFound, "inbox item not found", err)
	}
	if err != nil {
		return nil, fmt.Errorf("get inbox item %s: %w", id, err)
	}
	if ownerID != "" && item.OwnerID != ownerID {
		return nil, apperr.Wrap(apperr.CodeNotFound, "inbox item not found", ErrNotFound)
	}
	return item, nil
}

// List returns items matching f in the order ListFilter describes.
func (s *Service) List(ctx context.Context, f ListFilter) ([]models.InboxItem, error) {
	for _, k := range f.Kinds {
		if !k.Valid() {
			return nil, apperr.Newf(apperr.CodeValidation, "unknown document kind %q", k)
		}
	}
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, apperr.Newf(apperr.CodeValidation, "unknown processing status %q", st)
		}
	}
	items, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list inbox items: %w", err)
	}
	return items, nil
}

// Events returns the audit trail of one item, oldest first.
func (s *Service) Events(ctx context.Context, ownerID, id string) ([]models.InboundEvent, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	events, err := s.repo.Events(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list events for %s: %w", id, err)
	}
	return events, nil
}

// Classify runs the classifier and matcher on a received or failed item.
// candidates are the owner's open supplier orders; an empty list leaves the
// item in status classified because there was nothing to rank.
func (s *Service) Classify(ctx context.Context, id string, candidates []models.CandidateRecord) (*models.InboxItem, error) {
	item, err := s.Get(ctx, "", id)
	if err != nil {
		return nil, err
	}
	if item.Status != models.StatusReceived && item.Status != models.StatusFailed {
		return nil, apperr.Newf(apperr.CodeConflict, "item is %s, only received or failed items can be classified", item.Status)
	}

	from := item.Status
	signals := classify.Classify(classify.Input{
		FileName: item.FileName,
		Subject:  item.Subject,
		BodyText: item.BodyText,
	})

	item.Signals = &signals
	item.DocumentKind = signals.Kind
	item.ProcessingError = ""
	item.ClearAssignment()

	var reasons []string
	if len(candidates) == 0 {
		item.Status = models.StatusClassified
		item.Candidates = []models.ScoredCandidate{}
		item.Confidence = models.ClampConfidence(signals.Confidence)
		reasons = []string{"no open supplier orders to match against"}
	} else {
		decision := s.matcher.Decide(match.Input{
			Signals:        signals,
			SenderEmail:    item.SenderEmail,
			SearchableText: strings.Join([]string{item.FileName, item.Subject, item.BodyText}, "\n"),
			Candidates:     candidates,
		})
		item.Status = decision.Status
		item.Candidates = decision.Candidates
		item.Confidence = models.ClampConfidence(decision.Confidence)
		reasons = decision.Reasons
		if decision.Status == models.StatusPreassigned {
			item.AssignedSupplierOrderID = decision.AssignedSupplierOrderID
			item.AssignedProjectID = decision.AssignedProjectID
		}
	}
	item.UpdatedAt = s.now()

	ev := s.event(item, models.EventClassified, from, "system", map[string]any{
		"kind":       string(signals.Kind),
		"confidence": item.Confidence,
		"reasons":    reasons,
		"warnings":   signals.Warnings,
	})
	if err := s.repo.SaveTransition(ctx, item, ev); err != nil {
		return nil, fmt.Errorf("save classification of %s: %w", id, err)
	}
	return item, nil
}

// Fail moves a non-terminal item to failed and records cause.
func (s *Service) Fail(ctx context.Context, id string, cause error) (*models.InboxItem, error) {
	item, err := s.Get(ctx, "", id)
	if err != nil {
		return nil, err
	}
	if item.Status.Terminal() {
		return nil, apperr.Newf(apperr.CodeConflict, "item is %s and cannot fail", item.Status)
	}

	from := item.Status
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	item.Status = models.StatusFailed
	item.ProcessingError = msg
	item.ClearAssignment()
	item.UpdatedAt = s.now()

	ev := s.event(item, models.EventFailed, from, "system", map[string]any{"error": msg})
	if err := s.repo.SaveTransition(ctx, item, ev); err != nil {
		return nil, fmt.Errorf("save failure of %s: %w", id, err)
	}
	return item, nil
}

// ConfirmInput is a reviewer's confirmation. Empty fields fall back to what
// the item already carries.
type ConfirmInput struct {
	ID              string
	OwnerID         string
	Actor           string
	Kind            models.DocumentKind
	SupplierOrderID string
	ProjectID       string
	InvoiceNumber   string
	NetAmount       *decimal.Decimal
	Notes           string
}

// Confirm finalises an item. Confirming a confirmed item is a no-op.
func (s *Service) Confirm(ctx context.Context, in ConfirmInput) (*models.InboxItem, error) {
	item, err := s.Get(ctx, in.OwnerID, in.ID)
	if err != nil {
		return nil, err
	}
	switch item.Status {
	case models.StatusConfirmed:
		return item, nil
	case models.StatusRejected:
		return nil, apperr.New(apperr.CodeConflict, "rejected items must be reassigned before confirming")
	}

	req, err := buildLinkRequest(item, in)
	if err != nil {
		return nil, err
	}

	var linked LinkResult
	if s.linker != nil {
		linked, err = s.linker.Link(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("link %s: %w", item.ID, err)
		}
	}

	from := item.Status
	now := s.now()
	item.Status = models.StatusConfirmed
	item.DocumentKind = req.Kind
	item.AssignedSupplierOrderID = req.SupplierOrderID
	item.AssignedProjectID = req.ProjectID
	if linked.SupplierInvoiceID != "" {
		item.AssignedSupplierInvoiceID = linked.SupplierInvoiceID
	}
	item.ConfirmedAt = &now
	item.ConfirmedBy = in.Actor
	item.RejectedReason = ""
	item.ProcessingError = ""
	item.UpdatedAt = now

	payload := map[string]any{
		"kind":              string(req.Kind),
		"supplier_order_id": req.SupplierOrderID,
		"project_id":        req.ProjectID,
	}
	if linked.SupplierInvoiceID != "" {
		payload["supplier_invoice_id"] = linked.SupplierInvoiceID
	}
	if linked.DeliveryNoteID != "" {
		payload["delivery_note_id"] = linked.DeliveryNoteID
	}
	ev := s.event(item, models.EventConfirmed, from, in.Actor, payload)
	if err := s.repo.SaveTransition(ctx, item, ev); err != nil {
		return nil, fmt.Errorf("save confirmation of %s: %w", item.ID, err)
	}
	slog.Info("inbox item confirmed", "inbox_item_id", item.ID, "kind", req.Kind, "actor", in.Actor)
	return item, nil
}

// buildLinkRequest merges reviewer input with the item and enforces the
// per-kind requirements.
func buildLinkRequest(item *models.InboxItem, in ConfirmInput) (LinkRequest, error) {
	req := LinkRequest{
		Item:            *item,
		Kind:            item.DocumentKind,
		SupplierOrderID: firstNonEmpty(in.SupplierOrderID, item.AssignedSupplierOrderID),
		ProjectID:       firstNonEmpty(in.ProjectID, item.AssignedProjectID),
		Notes:           in.Notes,
		Actor:           in.Actor,
	}
	if in.Kind != "" {
		if !in.Kind.Valid() {
			return req, apperr.Newf(apperr.CodeValidation, "unknown document kind %q", in.Kind)
		}
		req.Kind = in.Kind
	}

	var signals models.DocumentSignals
	if item.Signals != nil {
		signals = *item.Signals
	}

	switch req.Kind {
	case models.KindAB:
		if req.SupplierOrderID == "" {
			return req, apperr.Validation("confirming an order confirmation requires a supplier order")
		}
	case models.KindSupplierDeliveryNote:
		if req.ProjectID == "" {
			return req, apperr.Validation("confirming a delivery note requires a project")
		}
	case models.KindSupplierInvoice:
		req.InvoiceNumber = firstNonEmpty(in.InvoiceNumber, signals.InvoiceNumber)
		if req.InvoiceNumber == "" {
			return req, apperr.Validation("confirming an invoice requires an invoice number")
		}
		switch {
		case in.NetAmount != nil:
			req.NetAmount = *in.NetAmount
		case signals.NetAmount != nil:
			req.NetAmount = *signals.NetAmount
		}
		if !req.NetAmount.IsPositive() {
			return req, apperr.Validation("confirming an invoice requires a net amount greater than zero")
		}
		req.TaxRate = signals.TaxRate
	default:
		return req, apperr.Validation("document kind is unknown and cannot be confirmed")
	}
	return req, nil
}

// RejectInput is a reviewer's rejection.
type RejectInput struct {
	ID      string
	OwnerID string
	Actor   string
	Reason  string
}

// Reject discards an item. Confirmed items cannot be rejected; rejecting a
// rejected item is a no-op.
func (s *Service) Reject(ctx context.Context, in RejectInput) (*models.InboxItem, error) {
	item, err := s.Get(ctx, in.OwnerID, in.ID)
	if err != nil {
		return nil, err
	}
	switch item.Status {
	case models.StatusConfirmed:
		return nil, apperr.New(apperr.CodeConflict, "confirmed items cannot be rejected")
	case models.StatusRejected:
		return item, nil
	}

	from := item.Status
	item.Status = models.StatusRejected
	item.RejectedReason = strings.TrimSpace(in.Reason)
	item.ConfirmedAt = nil
	item.ConfirmedBy = ""
	item.ClearAssignment()
	item.UpdatedAt = s.now()

	ev := s.event(item, models.EventRejected, from, in.Actor, map[string]any{"reason": item.RejectedReason})
	if err := s.repo.SaveTransition(ctx, item, ev); err != nil {
		return nil, fmt.Errorf("save rejection of %s: %w", item.ID, err)
	}
	return item, nil
}

// ReassignInput moves an item back into review with reviewer-chosen ids.
// A nil Confidence keeps the current value.
type ReassignInput struct {
	ID                string
	OwnerID           string
	Actor             string
	SupplierOrderID   string
	ProjectID         string
	SupplierInvoiceID string
	Confidence        *float64
}

// Reassign moves an item from any status, confirmed included, to
// needs_review.
func (s *Service) Reassign(ctx context.Context, in ReassignInput) (*models.InboxItem, error) {
	item, err := s.Get(ctx, in.OwnerID, in.ID)
	if err != nil {
		return nil, err
	}

	from := item.Status
	item.Status = models.StatusNeedsReview
	item.AssignedSupplierOrderID = strings.TrimSpace(in.SupplierOrderID)
	item.AssignedProjectID = strings.TrimSpace(in.ProjectID)
	item.AssignedSupplierInvoiceID = strings.TrimSpace(in.SupplierInvoiceID)
	if in.Confidence != nil {
		item.Confidence = models.ClampConfidence(*in.Confidence)
	}
	item.ProcessingError = ""
	item.RejectedReason = ""
	item.ConfirmedAt = nil
	item.ConfirmedBy = ""
	item.UpdatedAt = s.now()

	ev := s.event(item, models.EventReassigned, from, in.Actor, map[string]any{
		"supplier_order_id":   item.AssignedSupplierOrderID,
		"project_id":          item.AssignedProjectID,
		"supplier_invoice_id": item.AssignedSupplierInvoiceID,
		"confidence":          item.Confidence,
	})
	if err := s.repo.SaveTransition(ctx, item, ev); err != nil {
		return nil, fmt.Errorf("save reassignment of %s: %w", item.ID, err)
	}
	return item, nil
}

func (s *Service) event(item *models.InboxItem, typ models.EventType, from models.ProcessingStatus, actor string, payload map[string]any) models.InboundEvent {
	return models.InboundEvent{
		ID:          uuid.NewString(),
		InboxItemID: item.ID,
		OwnerID:     item.OwnerID,
		EventType:   typ,
		FromStatus:  from,
		ToStatus:    item.Status,
		Actor:       actor,
		Payload:     payload,
		CreatedAt:   s.now(),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
