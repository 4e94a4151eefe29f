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

// Package blob stores attachment bytes under a storage path and hands back
// the reference kept on the inbox item.
package blob

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned when no object is stored under a reference.
var ErrNotFound = errors.New("blob not found")

// Object is one stored attachment.
type Object struct {
	Ref      string
	MIMEType string
	Content  []byte
}

// Store is the put/get contract for attachment storage.
type Store interface {
	Put(ctx context.Context, path, mimeType string, content []byte) (string, error)
	Get(ctx context.Context, ref string) (*Object, error)
	Delete(ctx context.Context, ref string) error
}

// MemoryStore keeps objects in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]Object
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]Object)}
}

func (m *MemoryStore) Put(_ context.Context, path, mimeType string, content []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("blob path is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = Object{Ref: path, MIMEType: mimeType, Content: append([]byte(nil), content...)}
	return path, nil
}

func (m *MemoryStore) Get(_ context.Context, ref string) (*Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[ref]
	if !ok {
		return nil, ErrNotFound
	}
	obj.Content = append([]byte(nil), obj.Content...)
	return &obj, nil
}

func (m *MemoryStore) Delete(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, ref)
	return nil
}

// Len reports how many objects are stored.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
