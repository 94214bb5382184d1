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

// Package routesconfig loads a virtual-hosts configuration document and
// the route-reference documents it points to via kixx:// and app://
// URNs, producing validated, compiled virtual hosts. The
// caller is expected to invoke Loader.LoadAndCompile once per request
// cycle to support hot configuration reload; the returned vhost list
// should be swapped into the Router wholesale via ResetVirtualHosts.
package routesconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kixx-framework/kixx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// bundledDefaultRoutes is what every kixx://... URN resolves to: a
// single catch-all route whose target always fails with NotFoundError,
// so a virtual host configured with no application routes still
// behaves like a normal (if empty) server instead of panicking.
var bundledDefaultRoutes = json.RawMessage(`[
	{
		"name": "default-catch-all",
		"pattern": "*",
		"targets": [
			{
				"name": "not-found",
				"methods": "*",
				"handlers": ["not-found"]
			}
		]
	}
]`)

// vhostConfig mirrors the JSON shape of one element of the virtual-host
// configuration document.
type vhostConfig struct {
	Name     string   `json:"name"`
	Hostname string   `json:"hostname"`
	Pattern  string   `json:"pattern"`
	Routes   []string `json:"routes"`
}

// Loader reads a virtual-hosts configuration file and resolves the URN
// references it contains.
type Loader struct {
	// AppRoutesDir is the directory app://<path> URNs are resolved
	// relative to.
	AppRoutesDir string

	Log *zap.Logger
}

// NewLoader returns a Loader that resolves app:// URNs under
// appRoutesDir. log may be nil, in which case a no-op logger is used.
func NewLoader(appRoutesDir string, log *zap.Logger) *Loader {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loader{AppRoutesDir: appRoutesDir, Log: log}
}

// Load reads the virtual-hosts configuration document at path, resolves
// every route reference, and returns validated (but not yet
// middleware-resolved) VirtualHostSpecs.
func (l *Loader) Load(path string) ([]*kixx.VirtualHostSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		wrapped := kixx.NewWrappedError(fmt.Sprintf("reading virtual-hosts config %q", path), err)
		l.Log.Error("config reload failed", zap.String("path", path), zap.Error(wrapped))
		return nil, wrapped
	}

	var configs []vhostConfig
	if err := json.Unmarshal(data, &configs); err != nil {
		wrapped := kixx.NewWrappedError("parsing virtual-hosts config", err)
		l.Log.Error("config reload failed", zap.String("path", path), zap.Error(wrapped))
		return nil, wrapped
	}

	// Each virtual host's route documents live behind their own URNs, so
	// resolving and validating them is independent per vhost; reading
	// them concurrently keeps reload latency low when a configuration
	// references many app:// route files.
	specs := make([]*kixx.VirtualHostSpec, len(configs))
	var eg errgroup.Group
	for i, cfg := range configs {
		i, cfg := i, cfg
		eg.Go(func() error {
			spec, err := l.resolveVhost(i, cfg)
			if err != nil {
				return err
			}
			specs[i] = spec
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		l.Log.Error("config reload failed", zap.String("path", path), zap.Error(err))
		return nil, err
	}

	return specs, nil
}

// resolveVhost resolves cfg's route URNs and validates the resulting
// vhost document, reporting errors against its position (i) in the
// configuration document.
func (l *Loader) resolveVhost(i int, cfg vhostConfig) (*kixx.VirtualHostSpec, error) {
	reportingPath := fmt.Sprintf("vhost.name[%d]", i)

	var routeDocs []json.RawMessage
	for _, urn := range cfg.Routes {
		doc, err := l.resolveURN(urn)
		if err != nil {
			return nil, err
		}
		var entries []json.RawMessage
		if err := json.Unmarshal(doc, &entries); err != nil {
			return nil, kixx.NewWrappedError(fmt.Sprintf("%s: route document for %q must be a JSON array", reportingPath, urn), err)
		}
		routeDocs = append(routeDocs, entries...)
	}

	routes := make([]*kixx.RouteSpec, len(routeDocs))
	for j, doc := range routeDocs {
		route, err := kixx.ValidateRouteSpec(doc, fmt.Sprintf("%s:route.name[%d]", reportingPath, j))
		if err != nil {
			return nil, err
		}
		routes[j] = route
	}

	return kixx.ValidateVirtualHostSpec(cfg.Name, cfg.Hostname, cfg.Pattern, routes, reportingPath)
}

// LoadAndCompile loads path and resolves every middleware/handler/
// error-handler reference against registry, returning fully executable
// VirtualHosts ready for Router.ResetVirtualHosts.
func (l *Loader) LoadAndCompile(path string, registry *kixx.Registry) ([]*kixx.VirtualHost, error) {
	specs, err := l.Load(path)
	if err != nil {
		return nil, err
	}
	vhosts := make([]*kixx.VirtualHost, len(specs))
	for i, spec := range specs {
		vh, err := spec.Compile(registry)
		if err != nil {
			return nil, err
		}
		vhosts[i] = vh
	}
	return vhosts, nil
}

// resolveURN resolves a single route-document URN: kixx://... always
// yields the bundled default routes; app://<path> reads a file under
// AppRoutesDir, dropping empty path segments; any other scheme is a
// configuration error.
func (l *Loader) resolveURN(urn string) (json.RawMessage, error) {
	switch {
	case strings.HasPrefix(urn, "kixx://"):
		return bundledDefaultRoutes, nil

	case strings.HasPrefix(urn, "app://"):
		rel := strings.TrimPrefix(urn, "app://")
		var kept []string
		for _, part := range strings.Split(rel, "/") {
			if part != "" {
				kept = append(kept, part)
			}
		}
		path := filepath.Join(append([]string{l.AppRoutesDir}, kept...)...)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, kixx.NewWrappedError(fmt.Sprintf("reading app route document %q", urn), err)
		}
		return data, nil

	default:
		return nil, kixx.NewAssertionError("", fmt.Sprintf("unsupported route URN scheme: %q", urn))
	}
}
