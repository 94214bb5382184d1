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
	"encoding/json"
	"fmt"
)

// AllMethods is the fixed set of methods a TargetSpec's "*" expands to.
var AllMethods = []string{"GET", "HEAD", "POST", "PUT", "PATCH", "DELETE"}

func isKnownMethod(method string) bool {
	for _, m := range AllMethods {
		if m == method {
			return true
		}
	}
	return false
}

// MiddlewareRef is either an unresolved [name, options] reference or,
// once assignMiddleware has run, a resolved Handler. JSON configuration
// only ever produces unresolved refs; resolved refs exist so tests and
// programmatic callers can build specs without a registry round-trip.
type MiddlewareRef struct {
	Name     string
	Options  map[string]any
	Resolved Handler
}

// ResolvedMiddlewareRef wraps an already-built Handler.
func ResolvedMiddlewareRef(h Handler) MiddlewareRef {
	return MiddlewareRef{Resolved: h}
}

func (r MiddlewareRef) isResolved() bool {
	return r.Resolved != nil
}

// UnmarshalJSON accepts either `"name"` or `["name", {"opt": "val"}]`.
func (r *MiddlewareRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		r.Name = name
		return nil
	}

	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("middleware reference must be a string or [name, options] array: %w", err)
	}
	if len(tuple) == 0 || len(tuple) > 2 {
		return fmt.Errorf("middleware reference array must have 1 or 2 elements, got %d", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &r.Name); err != nil {
		return fmt.Errorf("middleware reference name must be a string: %w", err)
	}
	if len(tuple) == 2 {
		if err := json.Unmarshal(tuple[1], &r.Options); err != nil {
			return fmt.Errorf("middleware reference options must be an object: %w", err)
		}
	}
	return nil
}

// ErrorHandlerRef is the error-handler analogue of MiddlewareRef.
type ErrorHandlerRef struct {
	Name     string
	Options  map[string]any
	Resolved ErrorHandler
}

// ResolvedErrorHandlerRef wraps an already-built ErrorHandler.
func ResolvedErrorHandlerRef(h ErrorHandler) ErrorHandlerRef {
	return ErrorHandlerRef{Resolved: h}
}

func (r ErrorHandlerRef) isResolved() bool {
	return r.Resolved != nil
}

// UnmarshalJSON mirrors MiddlewareRef.UnmarshalJSON.
func (r *ErrorHandlerRef) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		r.Name = name
		return nil
	}

	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("error handler reference must be a string or [name, options] array: %w", err)
	}
	if len(tuple) == 0 || len(tuple) > 2 {
		return fmt.Errorf("error handler reference array must have 1 or 2 elements, got %d", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &r.Name); err != nil {
		return fmt.Errorf("error handler reference name must be a string: %w", err)
	}
	if len(tuple) == 2 {
		if err := json.Unmarshal(tuple[1], &r.Options); err != nil {
			return fmt.Errorf("error handler reference options must be an object: %w", err)
		}
	}
	return nil
}

// rawMethods accepts either the literal string "*" or a JSON array of
// method names.
type rawMethods []string

func (m *rawMethods) UnmarshalJSON(data []byte) error {
	var star string
	if err := json.Unmarshal(data, &star); err == nil {
		if star != "*" {
			return fmt.Errorf("methods string must be \"*\", got %q", star)
		}
		*m = append([]string(nil), AllMethods...)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("methods must be \"*\" or an array of strings: %w", err)
	}
	*m = list
	return nil
}

// TargetSpec is the validation-time description of a single
// method-bound handler chain within a route.
type TargetSpec struct {
	Name          string
	Methods       []string
	Handlers      []MiddlewareRef
	ErrorHandlers []ErrorHandlerRef
}

// rawTargetSpec mirrors the JSON shape of a TargetSpec document.
type rawTargetSpec struct {
	Name          string            `json:"name"`
	Methods       rawMethods        `json:"methods"`
	Handlers      []MiddlewareRef   `json:"handlers"`
	ErrorHandlers []ErrorHandlerRef `json:"errorHandlers"`
}

// ValidateTargetSpec parses and validates a single target document,
// enforcing TargetSpec's invariants. reportingPath locates
// this target within its enclosing route/vhost for AssertionError
// messages, e.g. "vhost.name[0]:route.name[1]:target.name[2]".
func ValidateTargetSpec(data json.RawMessage, reportingPath string) (*TargetSpec, error) {
	var raw rawTargetSpec
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewAssertionError(reportingPath, fmt.Sprintf("invalid target document: %s", err))
	}

	if raw.Name == "" {
		return nil, NewAssertionError(reportingPath, "target.name is required and must be non-empty")
	}
	if len(raw.Methods) == 0 {
		return nil, NewAssertionError(reportingPath, "target.methods must be \"*\" or a non-empty list")
	}
	for _, m := range raw.Methods {
		if !isKnownMethod(m) {
			return nil, NewAssertionError(reportingPath, fmt.Sprintf("target.methods contains unknown method %q", m))
		}
	}
	if len(raw.Handlers) == 0 {
		return nil, NewAssertionError(reportingPath, "target.handlers must contain at least one entry")
	}

	return &TargetSpec{
		Name:          raw.Name,
		Methods:       raw.Methods,
		Handlers:      raw.Handlers,
		ErrorHandlers: raw.ErrorHandlers,
	}, nil
}

// acceptsMethod reports whether this target handles method.
func (t *TargetSpec) acceptsMethod(method string) bool {
	for _, m := range t.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// assignMiddleware replaces every unresolved handler/error-handler
// reference in place with the callable produced by looking it up in
// registry and invoking the factory with its options. Unknown names
// are a hard configuration error.
func (t *TargetSpec) assignMiddleware(registry *Registry, reportingPath string) error {
	for i := range t.Handlers {
		ref := &t.Handlers[i]
		if ref.isResolved() {
			continue
		}
		factory, ok := registry.HandlerFactoryByName(ref.Name)
		if !ok {
			return NewAssertionError(reportingPath, fmt.Sprintf("unknown handler %q", ref.Name))
		}
		h, err := factory(ref.Options)
		if err != nil {
			return NewWrappedError(fmt.Sprintf("%s: building handler %q", reportingPath, ref.Name), err)
		}
		ref.Resolved = h
	}

	for i := range t.ErrorHandlers {
		ref := &t.ErrorHandlers[i]
		if ref.isResolved() {
			continue
		}
		factory, ok := registry.ErrorHandlerFactoryByName(ref.Name)
		if !ok {
			return NewAssertionError(reportingPath, fmt.Sprintf("unknown error handler %q", ref.Name))
		}
		h, err := factory(ref.Options)
		if err != nil {
			return NewWrappedError(fmt.Sprintf("%s: building error handler %q", reportingPath, ref.Name), err)
		}
		ref.Resolved = h
	}

	return nil
}

// HTTPTarget is the executable, fully-resolved form of a TargetSpec
// merged with its owning route: its Handlers chain is
// route.inbound ++ target.handlers ++ route.outbound, and its
// ErrorHandlers chain is target.errorHandlers ++ route.errorHandlers.
type HTTPTarget struct {
	Name          string
	Methods       []string
	Handlers      []Handler
	ErrorHandlers []ErrorHandler
}

// acceptsMethod reports whether this compiled target handles method.
func (t *HTTPTarget) acceptsMethod(method string) bool {
	for _, m := range t.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// toHTTPTarget assembles the executable HTTPTarget for t within the
// context of its already-flattened, middleware-resolved owning route.
func (t *TargetSpec) toHTTPTarget(routeInbound, routeOutbound []Handler, routeErrorHandlers []ErrorHandler) *HTTPTarget {
	chain := make([]Handler, 0, len(routeInbound)+len(t.Handlers)+len(routeOutbound))
	chain = append(chain, routeInbound...)
	for _, ref := range t.Handlers {
		chain = append(chain, ref.Resolved)
	}
	chain = append(chain, routeOutbound...)

	errChain := make([]ErrorHandler, 0, len(t.ErrorHandlers)+len(routeErrorHandlers))
	for _, ref := range t.ErrorHandlers {
		errChain = append(errChain, ref.Resolved)
	}
	errChain = append(errChain, routeErrorHandlers...)

	return &HTTPTarget{
		Name:          t.Name,
		Methods:       append([]string(nil), t.Methods...),
		Handlers:      chain,
		ErrorHandlers: errChain,
	}
}
