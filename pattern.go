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

import "strings"

// Matcher is the compiled form of a pattern. It is pure and safe to
// invoke concurrently from any number of goroutines.
type Matcher func(input string) (Params, bool)

// CompilePathPattern compiles a "/"-delimited pathname pattern. A
// pattern of "*" matches any input and yields an empty parameter map.
// Otherwise the pattern is split on "/" and each segment either matches
// literally or, if it begins with ":", captures the corresponding input
// segment under that name. An AssertionError is returned for malformed
// patterns (segments with an empty name after ":", or a "*" segment
// in any pattern other than "*" itself).
func CompilePathPattern(pattern string) (Matcher, error) {
	return compileSegmented(pattern, '/')
}

// CompileHostPattern compiles a "."-delimited hostname pattern.
// Hostnames are matched after reversing their dot-segments
// (so "www.example.com" is matched as "com.example.www"); callers are
// expected to reverse both the pattern and the input with
// ReverseHostSegments before compiling/matching. A pattern of "*"
// matches any input.
func CompileHostPattern(pattern string) (Matcher, error) {
	return compileSegmented(pattern, '.')
}

func compileSegmented(pattern string, delim byte) (Matcher, error) {
	if pattern == "*" {
		return func(string) (Params, bool) {
			return EmptyParams(), true
		}, nil
	}
	if pattern == "" {
		return nil, NewAssertionError("", "pattern must not be empty")
	}

	segments := strings.Split(pattern, string(delim))
	names := make([]string, len(segments))
	for i, seg := range segments {
		if seg == "*" {
			return nil, NewAssertionError("", "wildcard '*' is only valid as the entire pattern")
		}
		if strings.HasPrefix(seg, ":") {
			name := seg[1:]
			if name == "" {
				return nil, NewAssertionError("", "parameter capture must have a non-empty name")
			}
			names[i] = name
		}
	}

	return func(input string) (Params, bool) {
		inputSegments := strings.Split(input, string(delim))
		if len(inputSegments) != len(segments) {
			return Params{}, false
		}
		builder := NewParamsBuilder()
		for i, seg := range segments {
			if names[i] != "" {
				builder.Set(names[i], inputSegments[i])
				continue
			}
			if seg != inputSegments[i] {
				return Params{}, false
			}
		}
		return builder.Build(), true
	}, nil
}

// ReverseHostSegments reverses the dot-delimited labels of a hostname,
// so "www.example.com" becomes "com.example.www". Both the configured
// hostname pattern and the inbound request's Host header are reversed
// this way before being compared: host labels go least- to
// most-specific right-to-left.
func ReverseHostSegments(hostname string) string {
	segments := strings.Split(hostname, ".")
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, ".")
}
