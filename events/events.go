// Copyright 2015 Matthew Holt and The Caddy Authors
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

// Package events implements the small named pub/sub bus the transport
// and dispatcher use to emit lifecycle notifications (request-received,
// response-sent, server-listening, and so on).
package events

import "sync"

// Event is a single named occurrence with arbitrary structured data.
type Event struct {
	Name string
	Data map[string]any
}

// Handler receives emitted events. Handlers run synchronously, in
// subscription order, on the emitting goroutine — the same way a
// logging middleware would run inline in a request's chain.
type Handler func(Event)

// Bus is a name-keyed set of subscriber lists. The zero value is not
// usable; construct one with NewBus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// On subscribes handler to every event named name.
func (b *Bus) On(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], handler)
}

// Emit synchronously invokes every handler subscribed to name.
func (b *Bus) Emit(name string, data map[string]any) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[name]...)
	b.mu.RUnlock()

	evt := Event{Name: name, Data: data}
	for _, h := range handlers {
		h(evt)
	}
}
