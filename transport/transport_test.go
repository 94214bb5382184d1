package transport

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/kixx-framework/kixx"
	"github.com/kixx-framework/kixx/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T, routePattern string, handler kixx.Handler) *kixx.Dispatcher {
	t.Helper()

	target := &kixx.TargetSpec{
		Name:     "target",
		Methods:  kixx.AllMethods,
		Handlers: []kixx.MiddlewareRef{kixx.ResolvedMiddlewareRef(handler)},
	}
	route := &kixx.RouteSpec{Name: "route", Pattern: routePattern, Targets: []*kixx.TargetSpec{target}}
	spec, err := kixx.ValidateVirtualHostSpec("main", "example.com", "", []*kixx.RouteSpec{route}, "vhost[0]")
	require.NoError(t, err)

	vh, err := spec.Compile(kixx.NewRegistry())
	require.NoError(t, err)

	router := kixx.NewRouter(nil)
	router.ResetVirtualHosts([]*kixx.VirtualHost{vh})
	return kixx.NewDispatcher(router, nil, events.NewBus())
}

func TestServer_ServeHTTP_WritesResponseBody(t *testing.T) {
	d := newTestDispatcher(t, "/widgets", func(ctx context.Context, req *kixx.Request, res *kixx.Response, skip *kixx.Skip) (*kixx.Response, error) {
		return res.WithStatus(200).WithBody("hello"), nil
	})
	s := NewServer(d, nil, events.NewBus())

	req := httptest.NewRequest("GET", "http://example.com/widgets", nil)
	rec := httptest.NewRecorder()
	s.serveHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
}

func TestServer_ServeHTTP_SuppressesBodyForHead(t *testing.T) {
	d := newTestDispatcher(t, "/widgets", func(ctx context.Context, req *kixx.Request, res *kixx.Response, skip *kixx.Skip) (*kixx.Response, error) {
		return res.WithStatus(200).WithBody("hello"), nil
	})
	s := NewServer(d, nil, events.NewBus())

	req := httptest.NewRequest("HEAD", "http://example.com/widgets", nil)
	rec := httptest.NewRecorder()
	s.serveHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestServer_RequestID_UsesClientHeaderWhenPresent(t *testing.T) {
	s := NewServer(nil, nil, events.NewBus())

	req := httptest.NewRequest("GET", "http://example.com/", nil)
	req.Header.Set("x-request-id", "client-supplied-id")

	assert.Equal(t, "client-supplied-id", s.requestID(req))
}

func TestServer_RequestID_MonotonicFallback(t *testing.T) {
	s := NewServer(nil, nil, events.NewBus())

	req := httptest.NewRequest("GET", "http://example.com/", nil)
	first := s.requestID(req)
	second := s.requestID(req)

	assert.NotEqual(t, first, second)
}

func TestServer_BuildURL_HonorsForwardedHeaders(t *testing.T) {
	s := NewServer(nil, nil, events.NewBus())

	req := httptest.NewRequest("GET", "http://internal.local/widgets", nil)
	req.Header.Set("x-forwarded-proto", "https")
	req.Header.Set("x-forwarded-host", "public.example.com")

	url := s.buildURL(req)
	assert.Equal(t, "https", url.Scheme)
	assert.Equal(t, "public.example.com", url.Host)
}

func TestServer_BuildURL_DefaultsToPlainHTTP(t *testing.T) {
	s := NewServer(nil, nil, events.NewBus())

	req := httptest.NewRequest("GET", "http://internal.local/widgets", nil)
	url := s.buildURL(req)
	assert.Equal(t, "http", url.Scheme)
	assert.Equal(t, "internal.local", url.Host)
}
