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
	"strings"
	"time"

	"github.com/kixx-framework/kixx/events"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	dispatchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kixx",
		Subsystem: "dispatcher",
		Name:      "requests_total",
		Help:      "Total requests dispatched, by outcome.",
	}, []string{"outcome"})

	dispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kixx",
		Subsystem: "dispatcher",
		Name:      "request_duration_seconds",
		Help:      "Time spent in Dispatcher.Dispatch, from route resolution to final response.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Dispatcher orchestrates a single request's match -> execute -> respond
// lifecycle and applies the three-level error cascade.
type Dispatcher struct {
	Router *Router
	Log    *zap.Logger
	Events *events.Bus

	// Reload, if set, is invoked at the start of every Dispatch before
	// route resolution. It exists so a routesconfig.Loader can be wired
	// in to re-read and re-compile the virtual-host configuration every
	// request cycle, then call Router.ResetVirtualHosts, supporting hot
	// configuration reload. A Reload failure is wrapped in a
	// WrappedError (status 500) and goes through the error cascade
	// exactly as any other phase-1 error would.
	Reload func() error
}

// NewDispatcher returns a Dispatcher bound to router. log and bus may be
// nil, in which case a no-op logger and a fresh, unobserved bus are
// used.
func NewDispatcher(router *Router, log *zap.Logger, bus *events.Bus) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Dispatcher{Router: router, Log: log, Events: bus}
}

// Dispatch runs every phase of the request lifecycle for req, returning
// the final response to write back. A non-nil error means every level
// of the error cascade declined to produce a response and the
// transport must fall back to a generic 500.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	res, err := d.dispatch(ctx, req)
	dispatchDuration.Observe(time.Since(start).Seconds())

	outcome := "ok"
	if err != nil {
		outcome = "unhandled-error"
	} else if res != nil && res.Status() >= 500 {
		outcome = "server-error"
	} else if res != nil && res.Status() >= 400 {
		outcome = "client-error"
	}
	dispatchRequestsTotal.WithLabelValues(outcome).Inc()

	return res, err
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request) (*Response, error) {
	if d.Reload != nil {
		if err := d.Reload(); err != nil {
			return d.cascade(ctx, req, nil, nil, NewWrappedError("reloading route configuration", err))
		}
	}

	// Phase 1: route resolution.
	vhost, route, hostnameParams, pathnameParams, matchErr := d.Router.MatchRequest(req)
	if matchErr != nil {
		return d.cascade(ctx, req, nil, nil, matchErr)
	}

	// Phase 2: parameter attachment.
	req.setHostnameParams(hostnameParams)
	req.setPathnameParams(pathnameParams)
	_ = vhost

	// Phase 3: method resolution.
	target, methodErr := d.Router.FindTargetForRequest(req, route)
	if methodErr != nil {
		return d.cascade(ctx, req, route, nil, methodErr)
	}

	// Phase 4: middleware execution.
	res, execErr := target.Invoke(ctx, req, NewResponse(200))
	if execErr != nil {
		return d.cascade(ctx, req, route, target, execErr)
	}

	// Phase 5: response validation.
	if valErr := validateResponse(res, target.Name); valErr != nil {
		return d.cascade(ctx, req, route, target, valErr)
	}

	d.Events.Emit("response-sent", map[string]any{"requestId": req.ID(), "status": res.Status()})
	return res, nil
}

// cascade runs the layered error cascade: target handlers, then route
// handlers, then the router-default JSON error response for any
// HTTPError, then re-raise to the transport.
func (d *Dispatcher) cascade(ctx context.Context, req *Request, route *HTTPRoute, target *HTTPTarget, cause error) (*Response, error) {
	base := NewResponse(statusCodeFor(cause))

	if target != nil {
		if res, handled := target.HandleError(ctx, req, base, cause); handled {
			return res, nil
		}
	}
	if route != nil {
		if res, handled := route.HandleError(ctx, req, base, cause); handled {
			return res, nil
		}
	}

	if httpErr, ok := IsHTTPError(cause); ok {
		res, buildErr := defaultErrorResponse(httpErr)
		if buildErr != nil {
			return nil, buildErr
		}
		if mna, ok := cause.(*MethodNotAllowedError); ok {
			res.SetHeader("Allow", strings.Join(mna.AllowedMethods, ", "))
		}
		d.Log.Warn("request failed", zap.String("requestId", req.ID()), zap.Error(cause))
		return res, nil
	}

	d.Log.Error("unhandled request error", zap.String("requestId", req.ID()), zap.Error(cause))
	return nil, cause
}

func statusCodeFor(err error) int {
	if httpErr, ok := IsHTTPError(err); ok {
		return httpErr.StatusCode()
	}
	return 500
}

// apiError is a single JSON:API-shaped error entry.
type apiError struct {
	Status int    `json:"status"`
	Code   string `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Source any    `json:"source,omitempty"`
}

type apiErrorDocument struct {
	Errors []apiError `json:"errors"`
}

// defaultErrorResponse builds the router-default JSON error response
// for any error implementing HTTPError. HTTPError messages are safe to
// expose on the wire; anything else is sanitized before it gets this far.
func defaultErrorResponse(err HTTPError) (*Response, error) {
	doc := apiErrorDocument{
		Errors: []apiError{{
			Status: err.StatusCode(),
			Code:   err.Code(),
			Title:  err.Title(),
			Detail: err.Detail(),
			Source: err.Source(),
		}},
	}
	return JSONResponse(err.StatusCode(), doc)
}
