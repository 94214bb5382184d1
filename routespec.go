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
	"encoding/json"
	"fmt"
	"strings"
)

// RouteSpec is the validation-time description of a route: either an
// intermediate node with child Routes, or a leaf node with Targets,
// never both.
type RouteSpec struct {
	Name               string
	Pattern            string
	InboundMiddleware  []MiddlewareRef
	OutboundMiddleware []MiddlewareRef
	ErrorHandlers      []ErrorHandlerRef
	Routes             []*RouteSpec
	Targets            []*TargetSpec
}

type rawRouteSpec struct {
	Name               string            `json:"name"`
	Pattern            string            `json:"pattern"`
	InboundMiddleware  []MiddlewareRef   `json:"inboundMiddleware"`
	OutboundMiddleware []MiddlewareRef   `json:"outboundMiddleware"`
	ErrorHandlers      []ErrorHandlerRef `json:"errorHandlers"`
	Routes             []json.RawMessage `json:"routes"`
	Targets            []json.RawMessage `json:"targets"`
}

// ValidateRouteSpec parses and validates a single route document (and,
// recursively, every nested route or target), enforcing RouteSpec's
// invariants. reportingPath locates this node for AssertionError
// messages, e.g. "vhost.name[0]:route.name[1]".
func ValidateRouteSpec(data json.RawMessage, reportingPath string) (*RouteSpec, error) {
	var raw rawRouteSpec
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, NewAssertionError(reportingPath, fmt.Sprintf("invalid route document: %s", err))
	}

	if raw.Pattern == "" {
		return nil, NewAssertionError(reportingPath, "route.pattern is required and must be non-empty")
	}
	name := raw.Name
	if name == "" {
		name = raw.Pattern
	}

	if len(raw.Routes) == 0 && len(raw.Targets) == 0 {
		return nil, NewAssertionError(reportingPath, "route must have either routes or targets, got neither")
	}
	if len(raw.Routes) > 0 && len(raw.Targets) > 0 {
		return nil, NewAssertionError(reportingPath, "route must have either routes or targets, not both")
	}

	spec := &RouteSpec{
		Name:               name,
		Pattern:            raw.Pattern,
		InboundMiddleware:  raw.InboundMiddleware,
		OutboundMiddleware: raw.OutboundMiddleware,
		ErrorHandlers:      raw.ErrorHandlers,
	}

	if len(raw.Targets) > 0 {
		spec.Targets = make([]*TargetSpec, len(raw.Targets))
		for i, t := range raw.Targets {
			target, err := ValidateTargetSpec(t, fmt.Sprintf("%s:target.name[%d]", reportingPath, i))
			if err != nil {
				return nil, err
			}
			spec.Targets[i] = target
		}
		return spec, nil
	}

	spec.Routes = make([]*RouteSpec, len(raw.Routes))
	for i, r := range raw.Routes {
		child, err := ValidateRouteSpec(r, fmt.Sprintf("%s:route.name[%d]", reportingPath, i))
		if err != nil {
			return nil, err
		}
		spec.Routes[i] = child
	}
	return spec, nil
}

// assignMiddleware resolves every [name, options] reference in this
// route and, recursively, every nested route or target.
func (r *RouteSpec) assignMiddleware(registry *Registry, reportingPath string) error {
	for i := range r.InboundMiddleware {
		ref := &r.InboundMiddleware[i]
		if ref.isResolved() {
			continue
		}
		factory, ok := registry.Middleware(ref.Name)
		if !ok {
			return NewAssertionError(reportingPath, fmt.Sprintf("unknown inbound middleware %q", ref.Name))
		}
		h, err := factory(ref.Options)
		if err != nil {
			return NewWrappedError(fmt.Sprintf("%s: building inbound middleware %q", reportingPath, ref.Name), err)
		}
		ref.Resolved = h
	}

	for i := range r.OutboundMiddleware {
		ref := &r.OutboundMiddleware[i]
		if ref.isResolved() {
			continue
		}
		factory, ok := registry.Middleware(ref.Name)
		if !ok {
			return NewAssertionError(reportingPath, fmt.Sprintf("unknown outbound middleware %q", ref.Name))
		}
		h, err := factory(ref.Options)
		if err != nil {
			return NewWrappedError(fmt.Sprintf("%s: building outbound middleware %q", reportingPath, ref.Name), err)
		}
		ref.Resolved = h
	}

	for i := range r.ErrorHandlers {
		ref := &r.ErrorHandlers[i]
		if ref.isResolved() {
			continue
		}
		factory, ok := registry.ErrorHandlerFactoryByName(ref.Name)
		if !ok {
			return NewAssertionError(reportingPath, fmt.Sprintf("unknown route error handler %q", ref.Name))
		}
		h, err := factory(ref.Options)
		if err != nil {
			return NewWrappedError(fmt.Sprintf("%s: building route error handler %q", reportingPath, ref.Name), err)
		}
		ref.Resolved = h
	}

	for i, t := range r.Targets {
		if err := t.assignMiddleware(registry, fmt.Sprintf("%s:target.name[%d]", reportingPath, i)); err != nil {
			return err
		}
	}
	for i, child := range r.Routes {
		if err := child.assignMiddleware(registry, fmt.Sprintf("%s:route.name[%d]", reportingPath, i)); err != nil {
			return err
		}
	}
	return nil
}

// flatRouteSpec is the merged, leaf-only result of flattenRoutes: every
// field already carries the parent-child merge.
type flatRouteSpec struct {
	Name          string
	Pattern       string
	Inbound       []MiddlewareRef
	Outbound      []MiddlewareRef
	ErrorHandlers []ErrorHandlerRef
	Targets       []*TargetSpec
}

// flattenRoutes implements the route tree's flattening rule over a
// virtual host's top-level route list, producing one flatRouteSpec per leaf
// route. The top level merges against an implicit root whose name is
// empty and whose pattern is "*", so a top-level route's name and
// pattern pass through unchanged.
func flattenRoutes(routes []*RouteSpec) []*flatRouteSpec {
	root := &flatRouteSpec{Pattern: "*"}
	var out []*flatRouteSpec
	for _, route := range routes {
		out = append(out, flattenRoute(root, route)...)
	}
	return out
}

func flattenRoute(parent *flatRouteSpec, child *RouteSpec) []*flatRouteSpec {
	merged := mergeRouteSpec(parent, child)

	if len(child.Targets) > 0 {
		merged.Targets = child.Targets
		return []*flatRouteSpec{merged}
	}

	var out []*flatRouteSpec
	for _, grandchild := range child.Routes {
		out = append(out, flattenRoute(merged, grandchild)...)
	}
	return out
}

func mergeRouteSpec(parent *flatRouteSpec, child *RouteSpec) *flatRouteSpec {
	name := child.Name
	if parent.Name != "" {
		name = parent.Name + ":" + child.Name
	}

	pattern := child.Pattern
	if parent.Pattern != "*" {
		pattern = collapseSlashes(parent.Pattern + child.Pattern)
	}

	inbound := make([]MiddlewareRef, 0, len(parent.Inbound)+len(child.InboundMiddleware))
	inbound = append(inbound, parent.Inbound...)
	inbound = append(inbound, child.InboundMiddleware...)

	outbound := make([]MiddlewareRef, 0, len(child.OutboundMiddleware)+len(parent.Outbound))
	outbound = append(outbound, child.OutboundMiddleware...)
	outbound = append(outbound, parent.Outbound...)

	errorHandlers := make([]ErrorHandlerRef, 0, len(child.ErrorHandlers)+len(parent.ErrorHandlers))
	errorHandlers = append(errorHandlers, child.ErrorHandlers...)
	errorHandlers = append(errorHandlers, parent.ErrorHandlers...)

	return &flatRouteSpec{
		Name:          name,
		Pattern:       pattern,
		Inbound:       inbound,
		Outbound:      outbound,
		ErrorHandlers: errorHandlers,
	}
}

// collapseSlashes replaces every run of consecutive "/" with a single
// "/", per the pattern-concatenation rule used when merging a parent
// pattern with a child's.
func collapseSlashes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSlash := false
	for _, r := range s {
		if r == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// HTTPRoute is the executable, compiled form of a flatRouteSpec: its
// Match function tests a request pathname and its Targets are fully
// assembled HTTPTargets.
type HTTPRoute struct {
	Name    string
	Pattern string
	Match   Matcher
	Targets []*HTTPTarget

	// ErrorHandlers holds this route's own (merged, inner-first)
	// error handlers. The dispatcher runs them when no target was
	// selected (e.g. a MethodNotAllowedError), and also when a selected
	// target's chain, which already ends with these same handlers,
	// declines; see HTTPRoute.HandleError.
	ErrorHandlers []ErrorHandler
}

// matchPathname reports whether pathname matches this route, returning
// the captured parameters on success.
func (rt *HTTPRoute) matchPathname(pathname string) (Params, bool) {
	return rt.Match(pathname)
}

// allowedMethods returns the union of every target's accepted methods
// on this route, used to populate MethodNotAllowedError and the Allow
// header.
func (rt *HTTPRoute) allowedMethods() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range rt.Targets {
		for _, m := range t.Methods {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out
}

// findTarget returns the first target accepting method.
func (rt *HTTPRoute) findTarget(method string) (*HTTPTarget, bool) {
	for _, t := range rt.Targets {
		if t.acceptsMethod(method) {
			return t, true
		}
	}
	return nil, false
}

func (f *flatRouteSpec) toHTTPRoute() (*HTTPRoute, error) {
	matcher, err := CompilePathPattern(f.Pattern)
	if err != nil {
		return nil, NewAssertionError(f.Name, fmt.Sprintf("compiling route pattern %q: %s", f.Pattern, err))
	}

	inbound := make([]Handler, len(f.Inbound))
	for i, ref := range f.Inbound {
		inbound[i] = ref.Resolved
	}
	outbound := make([]Handler, len(f.Outbound))
	for i, ref := range f.Outbound {
		outbound[i] = ref.Resolved
	}
	routeErrorHandlers := make([]ErrorHandler, len(f.ErrorHandlers))
	for i, ref := range f.ErrorHandlers {
		routeErrorHandlers[i] = ref.Resolved
	}

	targets := make([]*HTTPTarget, len(f.Targets))
	for i, t := range f.Targets {
		targets[i] = t.toHTTPTarget(inbound, outbound, routeErrorHandlers)
	}

	return &HTTPRoute{
		Name:          f.Name,
		Pattern:       f.Pattern,
		Match:         matcher,
		Targets:       targets,
		ErrorHandlers: routeErrorHandlers,
	}, nil
}

// HandleError runs this route's own error-handler chain. The dispatcher
// calls it when no target was selected, and when the selected target's
// HandleError declined.
func (rt *HTTPRoute) HandleError(ctx context.Context, req *Request, res *Response, cause error) (*Response, bool) {
	return invokeErrorChain(ctx, rt.ErrorHandlers, req, res, cause)
}
