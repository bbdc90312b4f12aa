/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package hdr implements the ordered, multi-valued, kind-tagged
// key/value store used for request headers, response headers,
// cookies, POST form fields and GET query arguments.
package hdr

import "github.com/addflowinc/libmicrohttpd2/pool"

// Kind tags an entry with which logical value space it belongs to.
// Values match the public value-kind mask bit for bit so a caller's
// kind_mask can be used directly against a session Map. ResponseHeader
// is 0 by convention (inherited from the C ancestor API) and is never
// mixed into a session Map - a Response carries its own standalone
// Map of ResponseHeader entries, so the zero value never needs to
// participate in a bitwise-OR'd mask.
type Kind uint8

const (
	ResponseHeader Kind = 0
	Header         Kind = 1
	Cookie         Kind = 2
	PostData       Kind = 4
	GetArgument    Kind = 8
)

// AllKinds matches every request-side entry regardless of kind.
const AllKinds = Header | Cookie | PostData | GetArgument

type entry struct {
	kind  Kind
	key   string
	value string
}

// Map is an ordered sequence of (kind, key, value) triples. Keys are
// compared case-insensitively for Header and ResponseHeader kinds
// (and canonicalized on insertion, mirroring MIME header conventions);
// Cookie, PostData and GetArgument keys are compared verbatim, since
// they are not RFC 7230 tokens. Iteration always preserves insertion
// order - the wire serializer relies on this to emit headers in the
// order the handler added them, rather than sorting them.
type Map struct {
	entries []entry
	alloc   *pool.Pool
}

// NewMap returns an empty Map ready for use. Keys and values passed to
// Append are kept as ordinary Go strings on the heap.
func NewMap() *Map {
	return &Map{}
}

// NewPooledMap returns an empty Map that interns every key and value
// passed to Append (and every folded value passed to ReplaceLastHeader)
// into p's low-end arena instead of the Go heap, so pool exhaustion -
// not the garbage collector - is what bounds a connection's parsed
// header/argument memory (spec.md SS9).
func NewPooledMap(p *pool.Pool) *Map {
	return &Map{alloc: p}
}
