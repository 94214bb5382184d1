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

// Package plugins supplies the small set of built-in middleware,
// handler, and error-handler factories that the bundled kixx:// default
// routes resolve to, so a virtual host can be stood up with no
// application-supplied plugin directory at all.
package plugins

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/kixx-framework/kixx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var pluginResponseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "kixx",
	Subsystem: "route",
	Name:      "response_duration_seconds",
	Help:      "Time spent between the metrics middleware's inbound and outbound pass, by route name and response status.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route", "status"})

// RegisterBuiltins adds every built-in factory to registry. Application
// startup calls this before loading any routes that reference a
// kixx:// URN.
func RegisterBuiltins(registry *kixx.Registry) {
	registry.RegisterHandler("static-response", newStaticResponseHandler)
	registry.RegisterHandler("not-found", newNotFoundHandler)
	registry.RegisterMiddleware("request-logger", newRequestLoggerMiddleware)
	registry.RegisterMiddleware("metrics", newMetricsMiddleware)
	registry.RegisterErrorHandler("json-error", newJSONErrorHandler)
}

// newStaticResponseHandler returns a handler that always replies with a
// fixed status/body/content-type, configured via options:
//
//	{"status": 200, "body": "ok", "contentType": "text/plain"}
func newStaticResponseHandler(options map[string]any) (kixx.Handler, error) {
	status := 200
	if v, ok := options["status"]; ok {
		n, ok := toInt(v)
		if !ok {
			return nil, fmt.Errorf("static-response: status must be a number, got %T", v)
		}
		status = n
	}

	body, _ := options["body"].(string)

	contentType, ok := options["contentType"].(string)
	if !ok || contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}

	return func(_ context.Context, _ *kixx.Request, res *kixx.Response, _ *kixx.Skip) (*kixx.Response, error) {
		res.WithStatus(status)
		res.SetHeader("Content-Type", contentType)
		res.WithBody(body)
		return res, nil
	}, nil
}

// newNotFoundHandler returns a handler that always fails with a
// NotFoundError for the request's pathname; used as the terminal
// handler of the bundled catch-all default route.
func newNotFoundHandler(map[string]any) (kixx.Handler, error) {
	return func(_ context.Context, req *kixx.Request, _ *kixx.Response, _ *kixx.Skip) (*kixx.Response, error) {
		return nil, kixx.NewNotFoundError(req.Pathname())
	}, nil
}

// newRequestLoggerMiddleware returns inbound middleware that logs
// method, pathname, and request id, then lets the chain continue.
func newRequestLoggerMiddleware(options map[string]any) (kixx.Handler, error) {
	logger := zap.L()
	if name, ok := options["name"].(string); ok && name != "" {
		logger = logger.Named(name)
	}

	return func(_ context.Context, req *kixx.Request, res *kixx.Response, _ *kixx.Skip) (*kixx.Response, error) {
		logger.Info("request received",
			zap.String("requestId", req.ID()),
			zap.String("method", req.Method()),
			zap.String("pathname", req.Pathname()),
		)
		return res, nil
	}, nil
}

// newMetricsMiddleware returns a single Handler meant to be referenced
// from both a route's inboundMiddleware and outboundMiddleware lists
// under the same name, options:
//
//	{"route": "users:get"}
//
// Its first (inbound) pass stamps the response's props with a start
// time; its second (outbound) pass reads that stamp back and observes
// the elapsed duration, bucketed by route name and final status code.
// This mirrors the shape of a request/response recorder that measures
// status/size/latency around a downstream handler, adapted to this
// package's architecture: a Response here is already a fully-built
// value before the transport ever touches a wire http.ResponseWriter,
// so there is no writer to wrap; the props bag carries the same
// "started, now finished" information a wrapped ResponseWriter would.
func newMetricsMiddleware(options map[string]any) (kixx.Handler, error) {
	route, _ := options["route"].(string)
	if route == "" {
		route = "unnamed"
	}

	return func(_ context.Context, _ *kixx.Request, res *kixx.Response, _ *kixx.Skip) (*kixx.Response, error) {
		if startedAt, ok := res.Props()["metricsStartedAt"].(time.Time); ok {
			pluginResponseDuration.
				WithLabelValues(route, strconv.Itoa(res.Status())).
				Observe(time.Since(startedAt).Seconds())
			return res, nil
		}
		res.WithProps(map[string]any{"metricsStartedAt": time.Now()})
		return res, nil
	}, nil
}

// newJSONErrorHandler returns an error handler that always renders the
// JSON:API error shape, regardless of what the dispatcher's own default
// error response would have produced. Useful on routes that must never
// fall back to an HTML error page.
func newJSONErrorHandler(map[string]any) (kixx.ErrorHandler, error) {
	return func(_ context.Context, _ *kixx.Request, _ *kixx.Response, cause error) (*kixx.Response, bool) {
		httpErr, ok := kixx.IsHTTPError(cause)
		if !ok {
			return nil, false
		}
		res, err := kixx.JSONResponse(httpErr.StatusCode(), map[string]any{
			"errors": []map[string]any{{
				"status": httpErr.StatusCode(),
				"code":   httpErr.Code(),
				"title":  httpErr.Title(),
				"detail": httpErr.Detail(),
			}},
		})
		if err != nil {
			return nil, false
		}
		return res, true
	}, nil
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
