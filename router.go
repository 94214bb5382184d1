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
	"sync/atomic"

	"go.uber.org/zap"
)

// Router resolves a Request down to a matched route/target pair, or a
// classified routing error. Its virtual-host list is
// replaced wholesale and atomically via ResetVirtualHosts; an in-flight
// request always finishes matching against the list it started with.
type Router struct {
	Log *zap.Logger

	vhosts atomic.Pointer[[]*VirtualHost]
}

// NewRouter returns a Router with no virtual hosts. Call
// ResetVirtualHosts before serving any request. log may be nil, in
// which case a no-op logger is used.
func NewRouter(log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{Log: log}
}

// ResetVirtualHosts atomically swaps in a new virtual-host list. Safe
// to call concurrently with MatchRequest.
func (rt *Router) ResetVirtualHosts(vhosts []*VirtualHost) {
	list := append([]*VirtualHost(nil), vhosts...)
	rt.vhosts.Store(&list)
}

// MatchRequest resolves req to a virtual host and route: first
// hostname match wins; if none match, the
// first configured virtual host is used with an empty hostname
// parameter map (the "default vhost" fallback, which exists so an
// unexpected Host header never 404s outright). If the chosen virtual
// host has no matching route, the error is NotFoundError.
func (rt *Router) MatchRequest(req *Request) (*VirtualHost, *HTTPRoute, Params, Params, error) {
	list := rt.vhosts.Load()
	if list == nil || len(*list) == 0 {
		err := NewAssertionError("router", "no virtual hosts are configured")
		rt.Log.Error("route resolution failed", zap.String("requestId", req.ID()), zap.Error(err))
		return nil, nil, Params{}, Params{}, err
	}

	vhost, hostnameParams := rt.selectVirtualHost(*list, req.Hostname())

	route, pathnameParams, ok := vhost.matchRequest(req.Pathname())
	if !ok {
		rt.Log.Info("no route matched request",
			zap.String("requestId", req.ID()),
			zap.String("hostname", req.Hostname()),
			zap.String("pathname", req.Pathname()),
		)
		return vhost, nil, hostnameParams, Params{}, NewNotFoundError(req.Pathname())
	}

	return vhost, route, hostnameParams, pathnameParams, nil
}

func (rt *Router) selectVirtualHost(vhosts []*VirtualHost, hostname string) (*VirtualHost, Params) {
	for _, vh := range vhosts {
		if params, ok := vh.matchHostname(hostname); ok {
			return vh, params
		}
	}
	return vhosts[0], EmptyParams()
}

// FindTargetForRequest returns the first target on route accepting
// req's method. If none do, the error is a MethodNotAllowedError whose
// AllowedMethods is the union of every target's methods on the route.
func (rt *Router) FindTargetForRequest(req *Request, route *HTTPRoute) (*HTTPTarget, error) {
	target, ok := route.findTarget(req.Method())
	if !ok {
		return nil, NewMethodNotAllowedError(req.Method(), req.Pathname(), route.allowedMethods())
	}
	return target, nil
}
