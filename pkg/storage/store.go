// Copyright 2023 The emqx-go Authors
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

// package storage provides a typed key-value store interface and an
// in-memory implementation, used for the gateway's connection and session
// registries.
package storage

import (
	"errors"
	"sync"
)

var (
	// ErrNotFound is returned when a key is not found in the store.
	ErrNotFound = errors.New("not found")
)

// Store is a key-value store keyed by string.
type Store[V any] interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(key string) (V, error)
	// Set adds or replaces the value stored under key.
	Set(key string, value V) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

// MemStore is an in-memory Store safe for concurrent use.
type MemStore[V any] struct {
	data map[string]V
	mu   sync.RWMutex
}

// NewMemStore creates an empty MemStore.
func NewMemStore[V any]() *MemStore[V] {
	return &MemStore[V]{
		data: make(map[string]V),
	}
}

// Get retrieves a value under a read lock.
func (s *MemStore[V]) Get(key string) (V, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.data[key]
	if !ok {
		var zero V
		return zero, ErrNotFound
	}
	return value, nil
}

// Set adds or updates a value.
func (s *MemStore[V]) Set(key string, value V) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

// Delete removes a value.
func (s *MemStore[V]) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Swap stores value under key and returns the previous value, if any, in a
// single atomic step.
func (s *MemStore[V]) Swap(key string, value V) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.data[key]
	s.data[key] = value
	return prev, ok
}

// CompareAndDelete deletes key only while keep reports true for the stored
// value. It reports whether the key was deleted.
func (s *MemStore[V]) CompareAndDelete(key string, keep func(V) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.data[key]
	if !ok || !keep(value) {
		return false
	}
	delete(s.data, key)
	return true
}

// Len returns the number of stored keys.
func (s *MemStore[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Range calls fn for each entry until fn returns false. fn must not modify
// the store.
func (s *MemStore[V]) Range(fn func(key string, value V) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.data {
		if !fn(k, v) {
			return
		}
	}
}
