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
	"fmt"

	"github.com/google/uuid"
)

// HTTPError is implemented by every error in the domain taxonomy. A
// response built from an HTTPError is safe to expose to the client;
// anything that does not implement it is sanitized to a generic 500
// before it leaves the process.
type HTTPError interface {
	error
	isHTTPError()
	StatusCode() int
	Code() string
	Title() string
	Detail() string
	Source() any
}

// base carries the fields every taxonomy error shares: a generated ID
// for correlating with logs, an HTTP status, a machine-readable code, a
// human title, and an optional cause and structured source pointer.
type base struct {
	id         string
	statusCode int
	code       string
	title      string
	detail     string
	source     any
	cause      error
}

func newBase(statusCode int, code, title, detail string) base {
	return base{
		id:         uuid.NewString(),
		statusCode: statusCode,
		code:       code,
		title:      title,
		detail:     detail,
	}
}

func (b base) isHTTPError()     {}
func (b base) StatusCode() int  { return b.statusCode }
func (b base) Code() string     { return b.code }
func (b base) Title() string    { return b.title }
func (b base) Detail() string   { return b.detail }
func (b base) Source() any      { return b.source }
func (b base) Unwrap() error    { return b.cause }
func (b base) Error() string {
	if b.detail == "" {
		return b.title
	}
	return fmt.Sprintf("%s: %s", b.title, b.detail)
}

// NotFoundError means no route matched the request's pathname.
type NotFoundError struct {
	base
	Pathname string
}

// NewNotFoundError builds a NotFoundError for pathname.
func NewNotFoundError(pathname string) *NotFoundError {
	return &NotFoundError{
		base:     newBase(404, "NOT_FOUND", "NotFoundError", fmt.Sprintf("no route matches %s", pathname)),
		Pathname: pathname,
	}
}

// MethodNotAllowedError means a route matched but no target accepts the
// request's method. AllowedMethods is the union of every target's
// methods on the matched route, for use in the Allow header.
type MethodNotAllowedError struct {
	base
	Method         string
	Pathname       string
	AllowedMethods []string
}

// NewMethodNotAllowedError builds a MethodNotAllowedError.
func NewMethodNotAllowedError(method, pathname string, allowedMethods []string) *MethodNotAllowedError {
	return &MethodNotAllowedError{
		base: newBase(405, "METHOD_NOT_ALLOWED", "MethodNotAllowedError",
			fmt.Sprintf("method %s is not allowed for %s", method, pathname)),
		Method:         method,
		Pathname:       pathname,
		AllowedMethods: allowedMethods,
	}
}

// BadRequestError means the request itself was malformed (bad JSON body,
// invalid path, bad query parameter, etc).
type BadRequestError struct {
	base
}

// NewBadRequestError builds a BadRequestError wrapping cause, if any.
func NewBadRequestError(detail string, cause error) *BadRequestError {
	e := &BadRequestError{base: newBase(400, "BAD_REQUEST", "BadRequestError", detail)}
	e.cause = cause
	return e
}

// UnauthenticatedError means the request carried no usable credentials.
type UnauthenticatedError struct {
	base
}

// NewUnauthenticatedError builds an UnauthenticatedError.
func NewUnauthenticatedError(detail string) *UnauthenticatedError {
	return &UnauthenticatedError{base: newBase(401, "UNAUTHENTICATED", "UnauthenticatedError", detail)}
}

// ForbiddenError means the request's credentials were insufficient.
type ForbiddenError struct {
	base
}

// NewForbiddenError builds a ForbiddenError.
func NewForbiddenError(detail string) *ForbiddenError {
	return &ForbiddenError{base: newBase(403, "FORBIDDEN", "ForbiddenError", detail)}
}

// ConflictError means a datastore write lost an optimistic concurrency
// race: the document's _rev no longer matched.
type ConflictError struct {
	base
	Key string
}

// NewConflictError builds a ConflictError for the given document key.
func NewConflictError(key string) *ConflictError {
	return &ConflictError{
		base: newBase(409, "CONFLICT", "ConflictError", fmt.Sprintf("revision mismatch for %s", key)),
		Key:  key,
	}
}

// AssertionError means a configuration or invariant was violated,
// usually at validation time. ReportingPath is a colon-joined locator
// like "vhost[0]:route.name[1]:target.name[2]".
type AssertionError struct {
	base
	ReportingPath string
}

// NewAssertionError builds an AssertionError with the given reporting path.
func NewAssertionError(reportingPath, detail string) *AssertionError {
	d := detail
	if reportingPath != "" {
		d = fmt.Sprintf("%s: %s", reportingPath, detail)
	}
	return &AssertionError{
		base:          newBase(500, "ASSERTION_FAILED", "AssertionError", d),
		ReportingPath: reportingPath,
	}
}

// WrappedError annotates an external failure (file I/O, plugin load,
// JSON parse) with context, without claiming a specific HTTP status of
// its own; it reports as an internal error (500) unless the cause is
// itself an HTTPError, in which case that status is used.
type WrappedError struct {
	base
}

// NewWrappedError wraps cause with a message, preserving cause's status
// if it is itself an HTTPError.
func NewWrappedError(message string, cause error) *WrappedError {
	status := 500
	code := "INTERNAL_ERROR"
	title := "WrappedError"
	if he, ok := cause.(HTTPError); ok {
		status = he.StatusCode()
		code = he.Code()
		title = he.Title()
	}
	e := &WrappedError{base: newBase(status, code, title, message)}
	e.cause = cause
	return e
}

// IsHTTPError reports whether err implements HTTPError, meaning its
// message is safe to expose on the wire.
func IsHTTPError(err error) (HTTPError, bool) {
	he, ok := err.(HTTPError)
	return he, ok
}

// Interface guards.
var (
	_ HTTPError = (*NotFoundError)(nil)
	_ HTTPError = (*MethodNotAllowedError)(nil)
	_ HTTPError = (*BadRequestError)(nil)
	_ HTTPError = (*UnauthenticatedError)(nil)
	_ HTTPError = (*ForbiddenError)(nil)
	_ HTTPError = (*ConflictError)(nil)
	_ HTTPError = (*AssertionError)(nil)
	_ HTTPError = (*WrappedError)(nil)
)
