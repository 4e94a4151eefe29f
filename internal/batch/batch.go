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

// Package batch classifies received and failed inbox items in bounded,
// sequential batches. A failure on one item never stops the batch.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/crmworks/docinbox/internal/apperr"
	"github.com/crmworks/docinbox/internal/inbox"
	"github.com/crmworks/docinbox/internal/models"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Locker guards a batch run against overlapping invocations.
type Locker interface {
	// Acquire returns a release func when the lock was taken, or nil when
	// another holder has it.
	Acquire(ctx context.Context) (release func(), err error)
}

// Result summarizes one batch run.
type Result struct {
	Processed int  `json:"processed"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
	Locked    bool `json:"locked,omitempty"`
}

// Processor runs batches against the inbox service.
type Processor struct {
	svc          *inbox.Service
	candidates   inbox.CandidateSource
	lock         Locker
	defaultLimit int
	maxLimit     int
}

// NewProcessor wires a Processor. lock may be nil.
func NewProcessor(svc *inbox.Service, candidates inbox.CandidateSource, lock Locker, defaultLimit, maxLimit int) *Processor {
	if maxLimit <= 0 || maxLimit > MaxLimit {
		maxLimit = MaxLimit
	}
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	return &Processor{
		svc:          svc,
		candidates:   candidates,
		lock:         lock,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// Limit clamps a requested batch size. Zero means the default.
func (p *Processor) Limit(requested int) int {
	switch {
	case requested == 0:
		return p.defaultLimit
	case requested < 1:
		return 1
	case requested > p.maxLimit:
		return p.maxLimit
	}
	return requested
}

// Run processes up to limit of the oldest received or failed items.
func (p *Processor) Run(ctx context.Context, limit int) (Result, error) {
	if p.lock != nil {
		release, err := p.lock.Acquire(ctx)
		if err != nil {
			return Result{}, apperr.Wrap(apperr.CodeUnavailable, "batch lock unavailable", err)
		}
		if release == nil {
			slog.Info("batch already running elsewhere, skipping")
			return Result{Locked: true}, nil
		}
		defer release()
	}

	items, err := p.svc.List(ctx, inbox.ListFilter{
		Statuses:  []models.ProcessingStatus{models.StatusReceived, models.StatusFailed},
		Limit:     p.Limit(limit),
		WorkOrder: true,
	})
	if err != nil {
		return Result{}, apperr.Wrap(apperr.CodeUnavailable, "inbox store unavailable", err)
	}

	var res Result
	cache := make(map[string][]models.CandidateRecord)
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		res.Processed++
		if err := p.processOne(ctx, item, cache); err != nil {
			res.Failed++
			slog.Warn("inbox item processing failed",
				"inbox_item_id", item.ID,
				"error", err,
			)
			if _, ferr := p.svc.Fail(ctx, item.ID, err); ferr != nil {
				slog.Error("failed to record processing failure",
					"inbox_item_id", item.ID,
					"error", ferr,
				)
			}
			continue
		}
		res.Succeeded++
	}

	if res.Processed > 0 {
		slog.Info("inbox batch processed",
			"processed", res.Processed,
			"succeeded", res.Succeeded,
			"failed", res.Failed,
		)
	}
	return res, nil
}

func (p *Processor) processOne(ctx context.Context, item models.InboxItem, cache map[string][]models.CandidateRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while classifying: %v", r)
		}
	}()

	candidates, ok := cache[item.OwnerID]
	if !ok {
		candidates, err = p.candidates.ListCandidates(ctx, item.OwnerID)
		if err != nil {
			return fmt.Errorf("load candidates for %s: %w", item.OwnerID, err)
		}
		cache[item.OwnerID] = candidates
	}

	updated, err := p.svc.Classify(ctx, item.ID, candidates)
	if err != nil {
		return err
	}
	slog.Debug("inbox item classified",
		"inbox_item_id", updated.ID,
		"kind", updated.DocumentKind,
		"status", updated.Status,
		"confidence", updated.Confidence,
	)
	return nil
}

// Runner triggers the processor on a fixed interval, for deployments
// without an external scheduler.
type Runner struct {
	proc     *Processor
	interval time.Duration
	limit    int
}

// NewRunner runs proc every interval with the given limit.
func NewRunner(proc *Processor, interval time.Duration, limit int) *Runner {
	return &Runner{proc: proc, interval: interval, limit: limit}
}

// Run blocks until the context is cancelled.
func (r *Runner) Run(ctx context.Context) {
	slog.Info("batch runner starting", "interval", r.interval, "limit", r.limit)

	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("batch runner stopping")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if _, err := r.proc.Run(ctx, r.limit); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("batch run failed", "error", err)
	}
}
