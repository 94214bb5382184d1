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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// StreamBody is a streaming response source: Reader supplies bytes and
// Close, if non-nil, is invoked once the transport finishes writing.
type StreamBody struct {
	Reader io.Reader
	Close  func() error
}

// Response is a mutable builder passed through a target's middleware
// chain. Body is one of nil, string, []byte, or
// StreamBody. Props is threaded through the chain via WithProps, which
// deep-merges and clones rather than mutating in place, so a reference
// held by an earlier middleware never observes a later middleware's
// changes.
type Response struct {
	status  int
	headers http.Header
	body    any
	props   map[string]any
}

// NewResponse returns a bare response with the given status and empty
// headers/body/props.
func NewResponse(status int) *Response {
	return &Response{
		status:  status,
		headers: make(http.Header),
		props:   map[string]any{},
	}
}

// JSONResponse marshals v as the response body, setting
// Content-Type: application/json; charset=utf-8 and a correct
// UTF-8 byte-length Content-Length. A trailing newline is appended to
// the body.
func JSONResponse(status int, v any) (*Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, NewWrappedError("marshaling JSON response body", err)
	}
	data = append(data, '\n')

	res := NewResponse(status)
	res.headers.Set("Content-Type", "application/json; charset=utf-8")
	res.headers.Set("Content-Length", fmt.Sprintf("%d", len(data)))
	res.body = data
	return res, nil
}

// HTMLResponse sets an HTML body with Content-Type: text/html;
// charset=utf-8 (overridable afterward via SetHeader) and a correct
// Content-Length.
func HTMLResponse(status int, html string) *Response {
	res := NewResponse(status)
	res.headers.Set("Content-Type", "text/html; charset=utf-8")
	res.headers.Set("Content-Length", fmt.Sprintf("%d", len(html)))
	res.body = html
	return res
}

// RedirectResponse builds a 3xx response with a Location header and no
// body.
func RedirectResponse(status int, location string) *Response {
	res := NewResponse(status)
	res.headers.Set("Location", location)
	return res
}

// NotModifiedResponse builds a 304 response. It always carries
// Content-Length: 0 and no body.
func NotModifiedResponse() *Response {
	res := NewResponse(http.StatusNotModified)
	res.headers.Set("Content-Length", "0")
	return res
}

// StreamResponse builds a response whose body is read from source as
// the transport writes it; Content-Length is left unset since the
// total size is not known up front.
func StreamResponse(status int, contentType string, source StreamBody) *Response {
	res := NewResponse(status)
	if contentType != "" {
		res.headers.Set("Content-Type", contentType)
	}
	res.body = source
	return res
}

// Status returns the response's HTTP status code.
func (res *Response) Status() int { return res.status }

// WithStatus returns res with status replaced.
func (res *Response) WithStatus(status int) *Response {
	res.status = status
	return res
}

// Headers returns the case-insensitive header multimap.
func (res *Response) Headers() http.Header { return res.headers }

// SetHeader sets name to value, replacing any existing values.
func (res *Response) SetHeader(name, value string) *Response {
	res.headers.Set(name, value)
	return res
}

// AddHeader appends value to name's existing values.
func (res *Response) AddHeader(name, value string) *Response {
	res.headers.Add(name, value)
	return res
}

// Body returns the response body: nil, string, []byte, or StreamBody.
func (res *Response) Body() any { return res.body }

// WithBody sets the response body.
func (res *Response) WithBody(body any) *Response {
	res.body = body
	return res
}

// Props returns a shallow clone of the response's prop bag, so callers
// cannot mutate the builder's internal map through the returned value.
func (res *Response) Props() map[string]any {
	out := make(map[string]any, len(res.props))
	for k, v := range res.props {
		out[k] = v
	}
	return out
}

// WithProps deep-merges props into the response's existing prop bag
// and returns res with the merged, cloned result installed. Nested
// maps are merged key-by-key; any other value (including a slice)
// replaces the existing value outright.
func (res *Response) WithProps(props map[string]any) *Response {
	res.props = deepMergeProps(res.props, props)
	return res
}

func deepMergeProps(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if existing, ok := out[k]; ok {
			existingMap, existingIsMap := existing.(map[string]any)
			incomingMap, incomingIsMap := v.(map[string]any)
			if existingIsMap && incomingIsMap {
				out[k] = deepMergeProps(existingMap, incomingMap)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// CookieOptions describes a cookie to set via Response.SetCookie.
// Secure and HttpOnly are tri-state (nil means "apply the default"):
// both should apply unless the caller explicitly opts out, which a
// plain bool can't represent.
type CookieOptions struct {
	Name     string
	Value    string
	MaxAge   int
	Path     string
	Secure   *bool
	HttpOnly *bool
	SameSite http.SameSite
}

// SetCookie appends a Set-Cookie header built from opts, applying
// the defaults: Secure and HttpOnly unless explicitly set false, and
// SameSite=Lax unless a different mode is given.
func (res *Response) SetCookie(opts CookieOptions) *Response {
	cookie := &http.Cookie{
		Name:  opts.Name,
		Value: opts.Value,
		Path:  opts.Path,
	}
	if opts.MaxAge != 0 {
		cookie.MaxAge = opts.MaxAge
	}

	cookie.Secure = true
	if opts.Secure != nil {
		cookie.Secure = *opts.Secure
	}

	cookie.HttpOnly = true
	if opts.HttpOnly != nil {
		cookie.HttpOnly = *opts.HttpOnly
	}

	cookie.SameSite = http.SameSiteLaxMode
	if opts.SameSite != 0 {
		cookie.SameSite = opts.SameSite
	}

	res.headers.Add("Set-Cookie", cookie.String())
	return res
}

// validateResponse checks the invariant the dispatcher relies on after a
// middleware chain finishes: the response must be non-nil and carry a
// recognizable HTTP status.
func validateResponse(res *Response, reportingPath string) error {
	if res == nil {
		return NewAssertionError(reportingPath, "handler chain produced a nil response")
	}
	if res.status < 100 || res.status > 599 {
		return NewAssertionError(reportingPath, fmt.Sprintf("response has invalid status %d", res.status))
	}
	return nil
}
