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

import "fmt"

// VirtualHostSpec is the validation-time description of a virtual host:
// a hostname matcher (exact or pattern) plus an ordered route list.
// Its Routes are already-validated RouteSpecs; resolving
// the `routes` URN references in a vhost configuration document is the
// config loader's job, not this type's.
type VirtualHostSpec struct {
	Name     string
	Hostname string
	Pattern  string
	Routes   []*RouteSpec
}

// ValidateVirtualHostSpec enforces VirtualHostSpec's
// invariant (hostname XOR pattern) and wraps the already-validated
// route list. reportingPath locates this vhost for AssertionError
// messages, e.g. "vhost.name[0]".
func ValidateVirtualHostSpec(name, hostname, pattern string, routes []*RouteSpec, reportingPath string) (*VirtualHostSpec, error) {
	if (hostname == "") == (pattern == "") {
		return nil, NewAssertionError(reportingPath, "virtual host must have exactly one of hostname or pattern")
	}
	return &VirtualHostSpec{
		Name:     name,
		Hostname: hostname,
		Pattern:  pattern,
		Routes:   routes,
	}, nil
}

// assignMiddleware resolves every middleware/handler/error-handler
// reference reachable from this virtual host's route tree.
func (v *VirtualHostSpec) assignMiddleware(registry *Registry) error {
	for i, route := range v.Routes {
		reportingPath := fmt.Sprintf("vhost.name[%s]:route.name[%d]", v.Name, i)
		if err := route.assignMiddleware(registry, reportingPath); err != nil {
			return err
		}
	}
	return nil
}

// VirtualHost is the executable, compiled form of a VirtualHostSpec:
// its hostname matcher is ready to test a reversed Host header and its
// Routes are flattened, compiled HTTPRoutes in declared order.
type VirtualHost struct {
	Name string

	// exactHostname holds the already-reversed hostname to compare
	// against, or "" if this vhost matches by pattern instead.
	exactHostname string
	patternMatch  Matcher

	Routes []*HTTPRoute
}

// Compile resolves every middleware/handler/error-handler reference
// reachable from v against registry, then flattens and compiles v's
// route tree into an executable VirtualHost. This is the single
// exported entry point config loaders outside this package should use;
// it is equivalent to calling assignMiddleware followed by
// toVirtualHost.
func (v *VirtualHostSpec) Compile(registry *Registry) (*VirtualHost, error) {
	if err := v.assignMiddleware(registry); err != nil {
		return nil, err
	}
	return v.toVirtualHost()
}

// toVirtualHost compiles v into an executable VirtualHost, flattening
// its route tree and resolving every pattern.
func (v *VirtualHostSpec) toVirtualHost() (*VirtualHost, error) {
	vh := &VirtualHost{Name: v.Name}

	if v.Pattern != "" {
		matcher, err := CompileHostPattern(ReverseHostSegments(v.Pattern))
		if err != nil {
			return nil, NewAssertionError(fmt.Sprintf("vhost.name[%s]", v.Name),
				fmt.Sprintf("compiling hostname pattern %q: %s", v.Pattern, err))
		}
		vh.patternMatch = matcher
	} else {
		vh.exactHostname = ReverseHostSegments(v.Hostname)
	}

	flattened := flattenRoutes(v.Routes)
	vh.Routes = make([]*HTTPRoute, len(flattened))
	for i, f := range flattened {
		route, err := f.toHTTPRoute()
		if err != nil {
			return nil, err
		}
		vh.Routes[i] = route
	}

	return vh, nil
}

// matchHostname reports whether hostname (unreversed, as seen on the
// wire) matches this virtual host.
func (v *VirtualHost) matchHostname(hostname string) (Params, bool) {
	reversed := ReverseHostSegments(hostname)

	if v.patternMatch != nil {
		return v.patternMatch(reversed)
	}
	if v.exactHostname == "*" || v.exactHostname == reversed {
		return EmptyParams(), true
	}
	return Params{}, false
}

// matchRequest returns the first route (in declared order) whose
// pattern matches pathname.
func (v *VirtualHost) matchRequest(pathname string) (*HTTPRoute, Params, bool) {
	for _, route := range v.Routes {
		if params, ok := route.matchPathname(pathname); ok {
			return route, params, true
		}
	}
	return nil, Params{}, false
}
