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

package kixx

import (
	"context"
	"fmt"
	"sync"
)

// Skip is passed to every Handler invocation in a chain. Calling Skip
// marks the chain as finished early; the executor checks Skipped()
// immediately after the handler returns and, if true, stops iterating.
type Skip struct {
	skipped bool
}

// Skip marks the chain as finished; the current handler's return value
// is used as the final response.
func (s *Skip) Skip() { s.skipped = true }

// Skipped reports whether Skip was called.
func (s *Skip) Skipped() bool { return s.skipped }

// Handler is a single step in a target's middleware chain: inbound
// middleware, the target's own handlers, and outbound middleware are
// all Handlers, composed in declared order. A Handler may mutate res
// and return it, or return a new Response. Any
// Handler may call skip.Skip() to end the chain early.
type Handler func(ctx context.Context, req *Request, res *Response, skip *Skip) (*Response, error)

// ErrorHandler is the error-cascade analogue of Handler: it gets the
// error that aborted the chain instead of a skip signal, and reports
// whether it produced a response at all.
type ErrorHandler func(ctx context.Context, req *Request, res *Response, err error) (*Response, bool)

// MiddlewareFactory builds a Handler from plugin options. Registered
// factories are looked up by name at route-composition time and are
// never consulted again once a route's references have been resolved
// to callables.
type MiddlewareFactory func(options map[string]any) (Handler, error)

// HandlerFactory builds a target-level Handler from plugin options.
type HandlerFactory func(options map[string]any) (Handler, error)

// ErrorHandlerFactory builds an ErrorHandler from plugin options.
type ErrorHandlerFactory func(options map[string]any) (ErrorHandler, error)

// Registry holds the three name-keyed factory maps that plugin
// directories populate at startup. Registration is expected to
// complete before serving begins; after that the maps are
// only read; a sync.RWMutex nonetheless guards them the same way a
// package-level module registry would.
type Registry struct {
	mu            sync.RWMutex
	middleware    map[string]MiddlewareFactory
	handlers      map[string]HandlerFactory
	errorHandlers map[string]ErrorHandlerFactory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		middleware:    make(map[string]MiddlewareFactory),
		handlers:      make(map[string]HandlerFactory),
		errorHandlers: make(map[string]ErrorHandlerFactory),
	}
}

// RegisterMiddleware adds a named middleware factory. name must be
// non-empty and factory non-nil, or this panics: a malformed
// registration is a programming error in a plugin, not a runtime
// condition to recover from.
func (r *Registry) RegisterMiddleware(name string, factory MiddlewareFactory) {
	if name == "" {
		panic("middleware name must not be empty")
	}
	if factory == nil {
		panic(fmt.Sprintf("middleware %q: factory must not be nil", name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware[name] = factory
}

// RegisterHandler adds a named handler factory.
func (r *Registry) RegisterHandler(name string, factory HandlerFactory) {
	if name == "" {
		panic("handler name must not be empty")
	}
	if factory == nil {
		panic(fmt.Sprintf("handler %q: factory must not be nil", name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = factory
}

// RegisterErrorHandler adds a named error-handler factory.
func (r *Registry) RegisterErrorHandler(name string, factory ErrorHandlerFactory) {
	if name == "" {
		panic("error handler name must not be empty")
	}
	if factory == nil {
		panic(fmt.Sprintf("error handler %q: factory must not be nil", name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errorHandlers[name] = factory
}

// Middleware looks up a registered middleware factory by name.
func (r *Registry) Middleware(name string) (MiddlewareFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.middleware[name]
	return f, ok
}

// HandlerFactoryByName looks up a registered handler factory by name.
func (r *Registry) HandlerFactoryByName(name string) (HandlerFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.handlers[name]
	return f, ok
}

// ErrorHandlerFactoryByName looks up a registered error-handler factory
// by name.
func (r *Registry) ErrorHandlerFactoryByName(name string) (ErrorHandlerFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.errorHandlers[name]
	return f, ok
}
