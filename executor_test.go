package kixx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvokeChain_RunsInOrder(t *testing.T) {
	var order []string
	append1 := func(ctx context.Context, req *Request, res *Response, skip *Skip) (*Response, error) {
		order = append(order, "first")
		return res, nil
	}
	append2 := func(ctx context.Context, req *Request, res *Response, skip *Skip) (*Response, error) {
		order = append(order, "second")
		return res, nil
	}

	res, err := invokeChain(context.Background(), []Handler{append1, append2}, nil, NewResponse(200))
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, 200, res.Status())
}

func TestInvokeChain_StopsOnSkip(t *testing.T) {
	var ran bool
	skipper := func(ctx context.Context, req *Request, res *Response, skip *Skip) (*Response, error) {
		skip.Skip()
		return res.WithStatus(204), nil
	}
	never := func(ctx context.Context, req *Request, res *Response, skip *Skip) (*Response, error) {
		ran = true
		return res, nil
	}

	res, err := invokeChain(context.Background(), []Handler{skipper, never}, nil, NewResponse(200))
	require.NoError(t, err)
	assert.False(t, ran, "a handler after Skip() must never run")
	assert.Equal(t, 204, res.Status())
}

func TestInvokeChain_StopsOnError(t *testing.T) {
	var ran bool
	failer := func(ctx context.Context, req *Request, res *Response, skip *Skip) (*Response, error) {
		return res, errors.New("boom")
	}
	never := func(ctx context.Context, req *Request, res *Response, skip *Skip) (*Response, error) {
		ran = true
		return res, nil
	}

	_, err := invokeChain(context.Background(), []Handler{failer, never}, nil, NewResponse(200))
	require.Error(t, err)
	assert.False(t, ran)
}

func TestInvokeErrorChain_FirstHandlerToHandleWins(t *testing.T) {
	declines := func(ctx context.Context, req *Request, res *Response, err error) (*Response, bool) {
		return nil, false
	}
	handles := func(ctx context.Context, req *Request, res *Response, err error) (*Response, bool) {
		return res.WithStatus(418), true
	}
	neverCalled := func(ctx context.Context, req *Request, res *Response, err error) (*Response, bool) {
		t.Fatal("error handler chain must stop once a handler returns handled=true")
		return nil, false
	}

	res, handled := invokeErrorChain(context.Background(), []ErrorHandler{declines, handles, neverCalled}, nil, NewResponse(200), errors.New("boom"))
	assert.True(t, handled)
	assert.Equal(t, 418, res.Status())
}

func TestInvokeErrorChain_AllDeclineReturnsFalse(t *testing.T) {
	declines := func(ctx context.Context, req *Request, res *Response, err error) (*Response, bool) {
		return nil, false
	}

	_, handled := invokeErrorChain(context.Background(), []ErrorHandler{declines}, nil, NewResponse(200), errors.New("boom"))
	assert.False(t, handled)
}

func TestHTTPTarget_Invoke(t *testing.T) {
	target := &HTTPTarget{Handlers: []Handler{
		func(ctx context.Context, req *Request, res *Response, skip *Skip) (*Response, error) {
			return res.WithStatus(201), nil
		},
	}}

	res, err := target.Invoke(context.Background(), nil, NewResponse(200))
	require.NoError(t, err)
	assert.Equal(t, 201, res.Status())
}
