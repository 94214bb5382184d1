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

import "maps"

// Params is an immutable string-to-string parameter map, produced by a
// Matcher and attached to a Request. Immutability is enforced at the
// type level (there is no setter on Params itself) rather than by a
// runtime freeze.
type Params struct {
	values map[string]string
}

var emptyParamsValue = Params{values: map[string]string{}}

// EmptyParams returns the immutable empty parameter map.
func EmptyParams() Params {
	return emptyParamsValue
}

// Get returns the value for key and whether it was present.
func (p Params) Get(key string) (string, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Len returns the number of parameters.
func (p Params) Len() int {
	return len(p.values)
}

// Keys returns the parameter names in no particular order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	return keys
}

// ParamsBuilder accumulates key/value pairs and produces an immutable,
// defensively-copied Params value. Only router internals should use it;
// handlers only ever observe the built, immutable result.
type ParamsBuilder struct {
	values map[string]string
}

// NewParamsBuilder returns an empty builder.
func NewParamsBuilder() *ParamsBuilder {
	return &ParamsBuilder{values: make(map[string]string)}
}

// Set records a key/value pair.
func (b *ParamsBuilder) Set(key, value string) *ParamsBuilder {
	b.values[key] = value
	return b
}

// Build returns an immutable, independently-owned copy of the
// accumulated values.
func (b *ParamsBuilder) Build() Params {
	if len(b.values) == 0 {
		return EmptyParams()
	}
	return Params{values: maps.Clone(b.values)}
}
