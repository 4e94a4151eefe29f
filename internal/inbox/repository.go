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

// Package inbox owns the document inbox: persisted items, their audit
// trail, and the review state machine that moves them between statuses.
package inbox

import (
	"context"
	"errors"

	"github.com/crmworks/docinbox/internal/models"
)

var (
	// ErrNotFound is returned when no inbox item has the requested id.
	ErrNotFound = errors.New("inbox item not found")
	// ErrDuplicate is returned by Insert when the dedupe key already exists.
	ErrDuplicate = errors.New("inbox item already exists")
)

// ListFilter narrows a List query. Empty slices match everything.
//
// Results are newest first. With WorkOrder set, received items come first
// (oldest first), followed by failed items least recently attempted first,
// so retries never crowd out new work.
type ListFilter struct {
	OwnerID   string
	Kinds     []models.DocumentKind
	Statuses  []models.ProcessingStatus
	Limit     int
	WorkOrder bool
}

// Repository persists inbox items and their events.
type Repository interface {
	// Insert stores a new item together with its first event.
	Insert(ctx context.Context, item *models.InboxItem, ev models.InboundEvent) error
	Get(ctx context.Context, id string) (*models.InboxItem, error)
	List(ctx context.Context, f ListFilter) ([]models.InboxItem, error)
	// SaveTransition updates the item row and appends ev in one atomic step.
	SaveTransition(ctx context.Context, item *models.InboxItem, ev models.InboundEvent) error
	Events(ctx context.Context, itemID string) ([]models.InboundEvent, error)
}

// CandidateSource lists the open supplier orders an owner could receive
// documents for.
type CandidateSource interface {
	ListCandidates(ctx context.Context, ownerID string) ([]models.CandidateRecord, error)
}
