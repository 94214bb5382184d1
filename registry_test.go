package kixx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(ctx context.Context, req *Request, res *Response, skip *Skip) (*Response, error) {
	return res, nil
}

func noopErrorHandler(ctx context.Context, req *Request, res *Response, err error) (*Response, bool) {
	return res, false
}

func TestRegistry_RegisterAndLookupMiddleware(t *testing.T) {
	r := NewRegistry()
	r.RegisterMiddleware("noop", func(map[string]any) (Handler, error) {
		return noopHandler, nil
	})

	factory, ok := r.Middleware("noop")
	require.True(t, ok)

	h, err := factory(nil)
	require.NoError(t, err)
	assert.NotNil(t, h)

	_, ok = r.Middleware("missing")
	assert.False(t, ok)
}

func TestRegistry_RegisterAndLookupHandler(t *testing.T) {
	r := NewRegistry()
	r.RegisterHandler("noop", func(map[string]any) (Handler, error) {
		return noopHandler, nil
	})

	factory, ok := r.HandlerFactoryByName("noop")
	require.True(t, ok)
	assert.NotNil(t, factory)
}

func TestRegistry_RegisterAndLookupErrorHandler(t *testing.T) {
	r := NewRegistry()
	r.RegisterErrorHandler("noop", func(map[string]any) (ErrorHandler, error) {
		return noopErrorHandler, nil
	})

	factory, ok := r.ErrorHandlerFactoryByName("noop")
	require.True(t, ok)
	assert.NotNil(t, factory)
}

func TestRegistry_RegisterMiddleware_PanicsOnEmptyName(t *testing.T) {
	r := NewRegistry()
	assert.Panics(t, func() {
		r.RegisterMiddleware("", func(map[string]any) (Handler, error) {
			return noopHandler, nil
		})
	})
}

func TestRegistry_RegisterMiddleware_PanicsOnNilFactory(t *testing.T) {
	r := NewRegistry()
	assert.Panics(t, func() {
		r.RegisterMiddleware("noop", nil)
	})
}
