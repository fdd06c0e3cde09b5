// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package observer provides a keyed publish/subscribe registry.
package observer

import (
	"fmt"
	"sync"
	"sync/atomic"
)

type Listener[T any] func(T)

// Subscription identifies exactly one registered listener.
type Subscription struct {
	key    string
	id     uint64
	cancel func(key string, id uint64)
}

// Unsubscribe removes the listener. Calling it more than once is a no-op.
func (s Subscription) Unsubscribe() {
	if s.cancel != nil {
		s.cancel(s.key, s.id)
	}
}

type entry[T any] struct {
	id uint64
	fn Listener[T]
}

// Subject fans values out to listeners registered per key. Listeners are
// invoked outside the internal lock so they may subscribe or unsubscribe.
type Subject[T any] struct {
	mu        sync.RWMutex
	listeners map[string][]entry[T]
	nextID    atomic.Uint64

	// OnPanic receives recovered listener panics. Nil drops them silently.
	OnPanic func(key string, recovered any)
}

func NewSubject[T any]() *Subject[T] {
	return &Subject[T]{listeners: make(map[string][]entry[T])}
}

func (s *Subject[T]) Subscribe(key string, fn Listener[T]) Subscription {
	id := s.nextID.Add(1)

	s.mu.Lock()
	if s.listeners == nil {
		s.listeners = make(map[string][]entry[T])
	}
	s.listeners[key] = append(s.listeners[key], entry[T]{id: id, fn: fn})
	s.mu.Unlock()

	return Subscription{key: key, id: id, cancel: s.remove}
}

func (s *Subject[T]) remove(key string, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.listeners[key]
	for i, e := range entries {
		if e.id != id {
			continue
		}
		entries = append(entries[:i:i], entries[i+1:]...)
		break
	}

	if len(entries) == 0 {
		delete(s.listeners, key)
		return
	}
	s.listeners[key] = entries
}

// Publish delivers value to every listener of key and returns the number of
// listeners that panicked.
func (s *Subject[T]) Publish(key string, value T) int {
	s.mu.RLock()
	entries := append([]entry[T](nil), s.listeners[key]...)
	s.mu.RUnlock()

	failed := 0
	for _, e := range entries {
		if !s.invoke(key, e.fn, value) {
			failed++
		}
	}
	return failed
}

func (s *Subject[T]) invoke(key string, fn Listener[T], value T) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			if s.OnPanic != nil {
				s.OnPanic(key, r)
			}
		}
	}()
	fn(value)
	return true
}

// Count returns the number of listeners registered for key.
func (s *Subject[T]) Count(key string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners[key])
}

// keys returns the number of keys with at least one listener.
func (s *Subject[T]) keys() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.listeners)
}

// Clear drops every listener.
func (s *Subject[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = make(map[string][]entry[T])
}

// PanicError wraps a recovered listener panic value.
type PanicError struct {
	Key   string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("listener for %q panicked: %v", e.Key, e.Value)
}
