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

import "context"

// Invoke runs t's full middleware chain (route.inbound ++ target.handlers
// ++ route.outbound, already assembled in t.Handlers) in declared order.
// Each handler may suspend on I/O; if one calls skip.Skip(), the chain
// stops immediately and that handler's return value is final.
func (t *HTTPTarget) Invoke(ctx context.Context, req *Request, res *Response) (*Response, error) {
	return invokeChain(ctx, t.Handlers, req, res)
}

func invokeChain(ctx context.Context, chain []Handler, req *Request, res *Response) (*Response, error) {
	skip := &Skip{}
	var err error
	for _, h := range chain {
		res, err = h(ctx, req, res, skip)
		if err != nil {
			return res, err
		}
		if skip.Skipped() {
			return res, nil
		}
	}
	return res, nil
}

// HandleError runs t's error-handler chain (target.errorHandlers ++
// route.errorHandlers, already assembled in t.ErrorHandlers) in
// declared order, returning the first handler-produced response. If
// every handler declines, ok is false and the error propagates up to
// the route level.
func (t *HTTPTarget) HandleError(ctx context.Context, req *Request, res *Response, cause error) (*Response, bool) {
	return invokeErrorChain(ctx, t.ErrorHandlers, req, res, cause)
}

func invokeErrorChain(ctx context.Context, chain []ErrorHandler, req *Request, res *Response, cause error) (*Response, bool) {
	for _, h := range chain {
		if r, handled := h(ctx, req, res, cause); handled {
			return r, true
		}
	}
	return nil, false
}
