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

// Package transport implements the HTTP front door: it binds a
// listener, builds the immutable Request
// wrapper for every request, invokes the dispatcher, and writes the
// resulting Response back — including streaming bodies, HEAD
// suppression, and a graceful, time-bounded shutdown.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/kixx-framework/kixx"
	"github.com/kixx-framework/kixx/events"
	"go.uber.org/zap"
)

// DefaultAddr is the listener address used when Server.Addr is empty.
const DefaultAddr = ":8080"

// DefaultGracePeriod is how long Shutdown waits for in-flight
// connections to finish before force-closing them.
const DefaultGracePeriod = 3 * time.Second

// Server accepts connections, dispatches requests, and writes back
// responses.
type Server struct {
	// Addr is the listener address, e.g. ":8080". Empty means
	// DefaultAddr.
	Addr string

	// GracePeriod bounds Shutdown's connection-drain wait. Zero means
	// DefaultGracePeriod.
	GracePeriod time.Duration

	Dispatcher *kixx.Dispatcher
	Log        *zap.Logger
	Events     *events.Bus

	httpServer     *http.Server
	requestCounter atomic.Uint64
}

// NewServer returns a Server dispatching through dispatcher. log and
// bus may be nil.
func NewServer(dispatcher *kixx.Dispatcher, log *zap.Logger, bus *events.Bus) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if bus == nil {
		bus = events.NewBus()
	}
	return &Server{Dispatcher: dispatcher, Log: log, Events: bus}
}

// ListenAndServe binds the configured address and serves until the
// listener is closed (normally via Shutdown). It always returns a
// non-nil error, except after a clean Shutdown, in which case it
// returns nil.
func (s *Server) ListenAndServe() error {
	addr := s.Addr
	if addr == "" {
		addr = DefaultAddr
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.Events.Emit("server-error", map[string]any{"error": err.Error()})
		return err
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: http.HandlerFunc(s.serveHTTP),
	}

	s.Events.Emit("server-listening", map[string]any{"addr": ln.Addr().String()})
	s.Log.Info("server listening", zap.String("addr", ln.Addr().String()))

	err = s.httpServer.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.Events.Emit("server-error", map[string]any{"error": err.Error()})
		return err
	}

	s.Events.Emit("server-closed", nil)
	return nil
}

// Shutdown stops accepting new connections and gives in-flight ones up
// to GracePeriod to finish, then force-closes whatever remains.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	grace := s.GracePeriod
	if grace == 0 {
		grace = DefaultGracePeriod
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.Log.Warn("graceful shutdown timed out, forcing close", zap.Error(err))
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	id := s.requestID(r)
	fullURL := s.buildURL(r)
	req := kixx.NewRequest(r, id, fullURL)

	s.Events.Emit("request-received", map[string]any{
		"requestId": id,
		"method":    r.Method,
		"pathname":  fullURL.Path,
	})
	s.Log.Debug("request received", zap.String("requestId", id), zap.String("method", r.Method), zap.String("pathname", fullURL.Path))

	res, err := s.Dispatcher.Dispatch(r.Context(), req)

	// Drain whatever bytes the handler chain never read, all the way to
	// EOF, so an aborted upload's remaining bytes don't hang the
	// connection or leave it desynchronized for the next request on a
	// keep-alive connection. A failure here is a request-stream error,
	// independent of whatever the dispatcher returned.
	if r.Body != nil {
		if _, drainErr := io.Copy(io.Discard, r.Body); drainErr != nil {
			s.Events.Emit("request-error", map[string]any{"requestId": id, "error": drainErr.Error()})
			s.Log.Error("request body error", zap.String("requestId", id), zap.Error(drainErr))
		}
	}

	if err != nil {
		s.Log.Error("unhandled request error", zap.String("requestId", id), zap.Error(err))
		s.Events.Emit("request-handler-error", map[string]any{"requestId": id, "error": err.Error()})
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.writeResponse(w, r, res)
	s.Log.Debug("response sent", zap.String("requestId", id), zap.Int("status", res.Status()))
}

// writeResponse writes status + headers always; for HEAD it stops
// there; otherwise it writes body according to its concrete type.
func (s *Server) writeResponse(w http.ResponseWriter, r *http.Request, res *kixx.Response) {
	header := w.Header()
	for name, values := range res.Headers() {
		for _, v := range values {
			header.Add(name, v)
		}
	}
	w.WriteHeader(res.Status())

	if r.Method == http.MethodHead {
		return
	}

	switch body := res.Body().(type) {
	case nil:
	case string:
		io.WriteString(w, body)
	case []byte:
		w.Write(body)
	case kixx.StreamBody:
		io.Copy(w, body.Reader)
		if body.Close != nil {
			if err := body.Close(); err != nil {
				s.Log.Warn("error closing stream response body", zap.Error(err))
			}
		}
	default:
		s.Log.Error("response body has unsupported type", zap.String("type", fmt.Sprintf("%T", body)))
	}
}

// requestID returns the client-supplied x-request-id, or a monotonic
// "req-N". The counter is process-wide and
// incremented atomically.
func (s *Server) requestID(r *http.Request) string {
	if id := r.Header.Get("x-request-id"); id != "" {
		return id
	}
	n := s.requestCounter.Add(1)
	return fmt.Sprintf("req-%d", n)
}

// buildURL reconstructs the full request URL honoring
// x-forwarded-proto/x-forwarded-host.
func (s *Server) buildURL(r *http.Request) *url.URL {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("x-forwarded-proto"); proto != "" {
		scheme = proto
	}

	host := r.Host
	if h := r.Header.Get("x-forwarded-host"); h != "" {
		host = h
	}

	u := *r.URL
	u.Scheme = scheme
	u.Host = host
	return &u
}
