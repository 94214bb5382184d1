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

// Package datastore implements an in-memory, file-per-document store:
// an indexed document map persisted as one JSON file per key, with
// user-defined views, range/view queries with pagination, and
// optimistic concurrency via a reserved "_rev" field. Every operation —
// reads included — runs through a single FIFO queue, the simplest
// design that still guarantees a query observes a consistent snapshot
// and that writes never interleave.
package datastore

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kixx-framework/kixx"
	"go.uber.org/zap"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Document is a mapping from string to arbitrary JSON-serialisable
// values. The reserved key "_rev" carries the document's optimistic
// concurrency revision, an integer >= 0 once the document has been
// stored at least once.
type Document map[string]any

// Rev returns the document's "_rev" value, or -1 if absent or not an
// integer-like JSON number.
func (d Document) Rev() int {
	v, ok := d["_rev"]
	if !ok {
		return -1
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return -1
	}
}

func cloneDocument(d Document) Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Emit is the callback a ViewFunc calls, once per index entry it wants
// to contribute for the document it was given.
type Emit func(key, value any)

// ViewFunc computes zero or more index entries for a single document.
type ViewFunc func(doc Document, emit Emit)

type indexEntry struct {
	Key         any
	Value       any
	DocumentKey string
}

// QueryOptions controls both QueryKeys and QueryView.
type QueryOptions struct {
	// Key, if non-nil, restricts the result to entries whose key
	// equals Key exactly, overriding StartKey/EndKey.
	Key any

	// StartKey and EndKey bound the scan, inclusive. Nil defaults to
	// U+0000 and U+FFFF respectively.
	StartKey any
	EndKey   any

	Descending          bool
	InclusiveStartIndex int
	Limit               int
	IncludeDocuments    bool
}

// ResultItem is one row of a query result.
type ResultItem struct {
	Key         any
	Value       any
	DocumentKey string
	Document    Document
}

// QueryResult is the page of items a query produced, plus the cursor
// for the next page.
type QueryResult struct {
	Items []ResultItem

	// ExclusiveEndIndex is the InclusiveStartIndex to pass for the
	// next page, or nil if the scan reached the end of the index.
	ExclusiveEndIndex *int
}

type job struct {
	fn   func() error
	done chan error
}

// Engine is a single document store rooted at one directory. The zero
// value is not usable; construct one with NewEngine and call Load
// before serving any request.
type Engine struct {
	dir      string
	docs     map[string]Document
	views    map[string]ViewFunc
	jobs     chan job
	collator *collate.Collator
	log      *zap.Logger
}

// NewEngine returns an Engine rooted at dir. log may be nil.
func NewEngine(dir string, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		dir:      dir,
		docs:     make(map[string]Document),
		views:    make(map[string]ViewFunc),
		jobs:     make(chan job),
		collator: collate.New(language.Und),
		log:      log,
	}
	go e.run()
	return e
}

func (e *Engine) run() {
	for j := range e.jobs {
		j.done <- j.fn()
	}
}

// submit runs fn on the engine's single worker goroutine and blocks
// until it completes, giving every operation — read or write — a
// FIFO-serialised, at-most-one-writer guarantee.
func (e *Engine) submit(fn func() error) error {
	j := job{fn: fn, done: make(chan error, 1)}
	e.jobs <- j
	return <-j.done
}

// Load reads every "*.json" file in the engine's directory into the
// in-memory document map. A missing directory is treated as empty.
func (e *Engine) Load() error {
	return e.submit(func() error {
		entries, err := os.ReadDir(e.dir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return kixx.NewWrappedError("reading datastore directory", err)
		}

		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			key, err := url.QueryUnescape(strings.TrimSuffix(entry.Name(), ".json"))
			if err != nil {
				e.log.Warn("skipping datastore file with malformed key encoding", zap.String("file", entry.Name()))
				continue
			}
			data, err := os.ReadFile(filepath.Join(e.dir, entry.Name()))
			if err != nil {
				return kixx.NewWrappedError(fmt.Sprintf("reading document file %q", entry.Name()), err)
			}
			var doc Document
			if err := json.Unmarshal(data, &doc); err != nil {
				return kixx.NewWrappedError(fmt.Sprintf("parsing document file %q", entry.Name()), err)
			}
			e.docs[key] = doc
		}
		return nil
	})
}

func (e *Engine) documentPath(key string) string {
	return filepath.Join(e.dir, url.QueryEscape(key)+".json")
}

func (e *Engine) writeDocumentFile(key string, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return kixx.NewWrappedError(fmt.Sprintf("marshaling document %q", key), err)
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return kixx.NewWrappedError("creating datastore directory", err)
	}
	if err := os.WriteFile(e.documentPath(key), data, 0o644); err != nil {
		return kixx.NewWrappedError(fmt.Sprintf("writing document file for %q", key), err)
	}
	return nil
}

// GetItem is a pure in-memory lookup.
func (e *Engine) GetItem(key string) (Document, bool, error) {
	var doc Document
	var ok bool
	err := e.submit(func() error {
		found, present := e.docs[key]
		if present {
			doc = cloneDocument(found)
		}
		ok = present
		return nil
	})
	return doc, ok, err
}

// SetItem writes doc's file then updates the in-memory map, enforcing
// optimistic concurrency: doc's "_rev" must equal the
// currently stored document's "_rev", or this fails with a
// *kixx.ConflictError. A document with no prior stored version is
// always accepted and assigned "_rev": 0, regardless of what "_rev" the
// caller supplied.
func (e *Engine) SetItem(key string, doc Document) error {
	return e.submit(func() error {
		next := cloneDocument(doc)

		current, exists := e.docs[key]
		if exists {
			if doc.Rev() != current.Rev() {
				return kixx.NewConflictError(key)
			}
			next["_rev"] = current.Rev() + 1
		} else {
			next["_rev"] = 0
		}

		if err := e.writeDocumentFile(key, next); err != nil {
			return err
		}
		e.docs[key] = next
		return nil
	})
}

// UpdateItem reads the current document for key (an empty Document if
// none exists yet), applies fn, and writes the result back with the
// correct next "_rev". Because every Engine operation runs on the same
// single worker goroutine, the read-modify-write is already atomic with
// respect to every other Engine call; no external retry is needed.
func (e *Engine) UpdateItem(key string, fn func(current Document) (Document, error)) (Document, error) {
	var result Document
	err := e.submit(func() error {
		current, exists := e.docs[key]
		input := Document{}
		if exists {
			input = cloneDocument(current)
		}

		updated, err := fn(input)
		if err != nil {
			return err
		}
		next := cloneDocument(updated)

		if exists {
			next["_rev"] = current.Rev() + 1
		} else {
			next["_rev"] = 0
		}

		if err := e.writeDocumentFile(key, next); err != nil {
			return err
		}
		e.docs[key] = next
		result = next
		return nil
	})
	return result, err
}

// DeleteItem removes key's file, if any, then removes it from the
// in-memory map. Deleting an absent key is a no-op.
func (e *Engine) DeleteItem(key string) error {
	return e.submit(func() error {
		if _, exists := e.docs[key]; !exists {
			return nil
		}
		if err := os.Remove(e.documentPath(key)); err != nil && !os.IsNotExist(err) {
			return kixx.NewWrappedError(fmt.Sprintf("deleting document file for %q", key), err)
		}
		delete(e.docs, key)
		return nil
	})
}

// SetView registers a named view. Views are recomputed on demand at
// query time from the current in-memory document map; registering a
// view does not eagerly build an index.
func (e *Engine) SetView(id string, fn ViewFunc) error {
	return e.submit(func() error {
		e.views[id] = fn
		return nil
	})
}

// QueryKeys queries the implicit identity index (one entry per
// document, keyed by its own document key).
func (e *Engine) QueryKeys(opts QueryOptions) (QueryResult, error) {
	var result QueryResult
	err := e.submit(func() error {
		entries := make([]indexEntry, 0, len(e.docs))
		for key := range e.docs {
			entries = append(entries, indexEntry{Key: key, DocumentKey: key})
		}
		result = e.buildQueryResult(entries, opts)
		return nil
	})
	return result, err
}

// QueryView queries the named view's index, rebuilding it from the
// current document map.
func (e *Engine) QueryView(viewID string, opts QueryOptions) (QueryResult, error) {
	var result QueryResult
	err := e.submit(func() error {
		view, ok := e.views[viewID]
		if !ok {
			return kixx.NewAssertionError("", fmt.Sprintf("unknown view %q", viewID))
		}

		var entries []indexEntry
		for docKey, doc := range e.docs {
			view(doc, func(key, value any) {
				entries = append(entries, indexEntry{Key: key, Value: value, DocumentKey: docKey})
			})
		}
		result = e.buildQueryResult(entries, opts)
		return nil
	})
	return result, err
}

// buildQueryResult implements the shared query semantics for both key
// and view queries: sort (locale-aware for strings), apply the
// exact-key filter or the start/end range, paginate from
// InclusiveStartIndex up to Limit items, and compute the next page's
// cursor. Must only be called from the engine's single worker goroutine.
func (e *Engine) buildQueryResult(entries []indexEntry, opts QueryOptions) QueryResult {
	startKey := opts.StartKey
	if startKey == nil {
		startKey = "\u0000"
	}
	endKey := opts.EndKey
	if endKey == nil {
		endKey = "\uffff"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = math.MaxInt32
	}

	sort.SliceStable(entries, func(i, j int) bool {
		c := e.compareKeys(entries[i].Key, entries[j].Key)
		if opts.Descending {
			return c > 0
		}
		return c < 0
	})

	if opts.Key != nil {
		filtered := entries[:0:0]
		for _, entry := range entries {
			if e.compareKeys(entry.Key, opts.Key) == 0 {
				filtered = append(filtered, entry)
			}
		}
		entries = filtered
	}

	var items []ResultItem
	lastIndex := -1

	for i := opts.InclusiveStartIndex; i < len(entries); i++ {
		if len(items) >= limit {
			break
		}
		entry := entries[i]
		if opts.Key == nil {
			if e.compareKeys(entry.Key, startKey) < 0 || e.compareKeys(entry.Key, endKey) > 0 {
				continue
			}
		}
		item := ResultItem{Key: entry.Key, Value: entry.Value, DocumentKey: entry.DocumentKey}
		if opts.IncludeDocuments {
			if doc, ok := e.docs[entry.DocumentKey]; ok {
				item.Document = cloneDocument(doc)
			}
		}
		items = append(items, item)
		lastIndex = i
	}

	var exclusiveEnd *int
	if lastIndex >= 0 && lastIndex < len(entries)-1 {
		v := lastIndex + 1
		exclusiveEnd = &v
	}

	return QueryResult{Items: items, ExclusiveEndIndex: exclusiveEnd}
}

// compareKeys orders two index keys: strings compare locale-aware via
// the engine's collator (strings.Compare alone cannot do this), numbers
// compare numerically, and anything else falls back to a stable
// string-rendered comparison.
func (e *Engine) compareKeys(a, b any) int {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return e.collator.CompareString(as, bs)
		}
	}
	if an, ok := toFloat(a); ok {
		if bn, ok := toFloat(b); ok {
			switch {
			case an < bn:
				return -1
			case an > bn:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
