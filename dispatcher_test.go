package kixx

import (
	"context"
	"errors"
	"testing"

	"github.com/kixx-framework/kixx/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dispatcherWithRoutes(t *testing.T, routes []*RouteSpec) *Dispatcher {
	t.Helper()
	spec, err := ValidateVirtualHostSpec("main", "example.com", "", routes, "vhost[0]")
	require.NoError(t, err)
	vh := compileVirtualHost(t, spec)

	router := NewRouter(nil)
	router.ResetVirtualHosts([]*VirtualHost{vh})
	return NewDispatcher(router, nil, events.NewBus())
}

func TestDispatcher_Dispatch_Success(t *testing.T) {
	route := &RouteSpec{
		Name:    "widgets",
		Pattern: "/widgets",
		Targets: []*TargetSpec{{
			Name:    "list",
			Methods: AllMethods,
			Handlers: []MiddlewareRef{ResolvedMiddlewareRef(func(ctx context.Context, req *Request, res *Response, skip *Skip) (*Response, error) {
				return res.WithStatus(200), nil
			})},
		}},
	}
	d := dispatcherWithRoutes(t, []*RouteSpec{route})

	res, err := d.Dispatch(context.Background(), newTestRequest(t, "GET", "http://example.com/widgets"))
	require.NoError(t, err)
	assert.Equal(t, 200, res.Status())
}

func TestDispatcher_Dispatch_NotFoundCascadesToDefaultResponse(t *testing.T) {
	route := &RouteSpec{
		Name:    "widgets",
		Pattern: "/widgets",
		Targets: []*TargetSpec{{Name: "list", Methods: AllMethods, Handlers: []MiddlewareRef{ResolvedMiddlewareRef(noopHandler)}}},
	}
	d := dispatcherWithRoutes(t, []*RouteSpec{route})

	res, err := d.Dispatch(context.Background(), newTestRequest(t, "GET", "http://example.com/missing"))
	require.NoError(t, err, "an HTTPError with no route/target error handler still produces a response, not a propagated error")
	assert.Equal(t, 404, res.Status())
}

func TestDispatcher_Dispatch_TargetErrorHandlerHandlesBeforeDefault(t *testing.T) {
	route := &RouteSpec{
		Name:    "widgets",
		Pattern: "/widgets",
		Targets: []*TargetSpec{{
			Name:    "list",
			Methods: AllMethods,
			Handlers: []MiddlewareRef{ResolvedMiddlewareRef(func(ctx context.Context, req *Request, res *Response, skip *Skip) (*Response, error) {
				return res, errors.New("boom")
			})},
			ErrorHandlers: []ErrorHandlerRef{ResolvedErrorHandlerRef(func(ctx context.Context, req *Request, res *Response, err error) (*Response, bool) {
				return res.WithStatus(503), true
			})},
		}},
	}
	d := dispatcherWithRoutes(t, []*RouteSpec{route})

	res, err := d.Dispatch(context.Background(), newTestRequest(t, "GET", "http://example.com/widgets"))
	require.NoError(t, err)
	assert.Equal(t, 503, res.Status())
}

func TestDispatcher_Dispatch_UnhandledNonHTTPErrorPropagates(t *testing.T) {
	route := &RouteSpec{
		Name:    "widgets",
		Pattern: "/widgets",
		Targets: []*TargetSpec{{
			Name:    "list",
			Methods: AllMethods,
			Handlers: []MiddlewareRef{ResolvedMiddlewareRef(func(ctx context.Context, req *Request, res *Response, skip *Skip) (*Response, error) {
				return res, errors.New("boom")
			})},
		}},
	}
	d := dispatcherWithRoutes(t, []*RouteSpec{route})

	_, err := d.Dispatch(context.Background(), newTestRequest(t, "GET", "http://example.com/widgets"))
	assert.Error(t, err, "when nothing in the cascade handles a non-HTTPError, it must reach the transport")
}

func TestDispatcher_Dispatch_ReloadFailurePreventsRouting(t *testing.T) {
	route := &RouteSpec{
		Name:    "widgets",
		Pattern: "/widgets",
		Targets: []*TargetSpec{{Name: "list", Methods: AllMethods, Handlers: []MiddlewareRef{ResolvedMiddlewareRef(noopHandler)}}},
	}
	d := dispatcherWithRoutes(t, []*RouteSpec{route})
	d.Reload = func() error {
		return errors.New("configuration file vanished")
	}

	res, err := d.Dispatch(context.Background(), newTestRequest(t, "GET", "http://example.com/widgets"))
	require.NoError(t, err)
	assert.Equal(t, 500, res.Status())
}

func TestDispatcher_Dispatch_MethodNotAllowedSetsAllowHeader(t *testing.T) {
	route := &RouteSpec{
		Name:    "widgets",
		Pattern: "/widgets",
		Targets: []*TargetSpec{{Name: "list", Methods: []string{"GET", "HEAD"}, Handlers: []MiddlewareRef{ResolvedMiddlewareRef(noopHandler)}}},
	}
	d := dispatcherWithRoutes(t, []*RouteSpec{route})

	res, err := d.Dispatch(context.Background(), newTestRequest(t, "POST", "http://example.com/widgets"))
	require.NoError(t, err)
	assert.Equal(t, 405, res.Status())
	assert.Equal(t, "GET, HEAD", res.Headers().Get("Allow"))
}
