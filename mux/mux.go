/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package mux implements the Daemon's handler registry: an ordered
// list of (uri_prefix, handler, ctx) entries matched by longest
// prefix, falling back to an explicit default handler. Adapted from
// the teacher's ServeMux (exact-path plus subtree-redirect matching)
// down to the simpler prefix-match-with-default contract the spec
// calls for in place of net/http's pattern language - resolves the
// open question in spec.md SS9 about handler-registry precedence.
package mux

import (
	"sort"
	"sync"
)

// Handler is the minimal shape mux needs from a registered entry; the
// root package's AccessHandler satisfies it by embedding a function
// value as Ctx-less handler plus a separate ctx pointer, but mux
// itself stays ignorant of the handler's signature so it has no
// import-cycle back to the root package.
type Handler any

type entry struct {
	prefix  string
	handler Handler
	ctx     any
}

// Registry is the ordered, longest-prefix-match handler table backing
// register_handler/unregister_handler. The empty prefix "" is the
// terminal/default entry: it matches every URI that no other
// registered prefix matches. Safe for concurrent use; in non-external
// Daemon modes, registrations race with request dispatch from worker
// goroutines.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// Register adds prefix -> (handler, ctx). Returns false if prefix is
// already registered (DUPLICATE).
func (r *Registry) Register(prefix string, handler Handler, ctx any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.prefix == prefix {
			return false
		}
	}
	r.entries = append(r.entries, entry{prefix: prefix, handler: handler, ctx: ctx})
	// Longest prefix first speeds up Lookup's linear scan in the
	// common case without requiring a trie for the handler counts a
	// typical embedder registers (a few dozen at most).
	sort.SliceStable(r.entries, func(i, j int) bool {
		return len(r.entries[i].prefix) > len(r.entries[j].prefix)
	})
	return true
}

// Unregister removes the entry registered under prefix; the handler
// argument is not compared. Returns false (NOT_FOUND) if no entry
// exists for prefix.
func (r *Registry) Unregister(prefix string, handler Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.prefix == prefix {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Lookup returns the handler and ctx registered for the longest
// prefix of uri, or the default ("") entry if none of the
// non-default prefixes match. ok is false only when no default
// handler was ever registered.
func (r *Registry) Lookup(uri string) (handler Handler, ctx any, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var def *entry
	for i := range r.entries {
		e := &r.entries[i]
		if e.prefix == "" {
			def = e
			continue
		}
		if len(uri) >= len(e.prefix) && uri[:len(e.prefix)] == e.prefix {
			return e.handler, e.ctx, true
		}
	}
	if def != nil {
		return def.handler, def.ctx, true
	}
	return nil, nil, false
}
