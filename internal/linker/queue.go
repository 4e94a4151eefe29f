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

package linker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/crmworks/docinbox/internal/apperr"
	"github.com/crmworks/docinbox/internal/inbox"
)

const linkTaskName = "inbound.link_document"

// QueueLinker publishes link requests to a Redis list for an asynchronous
// worker. It never returns downstream ids.
type QueueLinker struct {
	rdb       *redis.Client
	queueName string
	now       func() time.Time
}

// NewQueueLinker pushes link tasks onto the Redis list queueName.
func NewQueueLinker(rdb *redis.Client, queueName string) *QueueLinker {
	return &QueueLinker{rdb: rdb, queueName: queueName, now: time.Now}
}

// task is the message a link worker pops from the queue.
type task struct {
	ID         string    `json:"id"`
	Task       string    `json:"task"`
	Payload    Payload   `json:"payload"`
	Retries    int       `json:"retries"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func newTask(req inbox.LinkRequest, now time.Time) task {
	return task{
		ID:         uuid.NewString(),
		Task:       linkTaskName,
		Payload:    NewPayload(req, now),
		EnqueuedAt: now.UTC(),
	}
}

func (q *QueueLinker) Link(ctx context.Context, req inbox.LinkRequest) (inbox.LinkResult, error) {
	t := newTask(req, q.now())
	if _, err := endpoint(t.Payload); err != nil {
		return inbox.LinkResult{}, apperr.Wrap(apperr.CodeValidation, "document kind cannot be linked", err)
	}

	msg, err := json.Marshal(t)
	if err != nil {
		return inbox.LinkResult{}, fmt.Errorf("marshal link task: %w", err)
	}

	// Workers BRPOP, so LPUSH keeps the queue FIFO.
	if err := q.rdb.LPush(ctx, q.queueName, msg).Err(); err != nil {
		return inbox.LinkResult{}, fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("queued link task",
		"task_id", t.ID,
		"inbox_item_id", req.Item.ID,
		"kind", t.Payload.Kind,
		"queue", q.queueName,
	)
	return inbox.LinkResult{}, nil
}

// Ping checks the Redis connection.
func (q *QueueLinker) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return q.rdb.Ping(ctx).Err()
}
