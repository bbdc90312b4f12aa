/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package hdr

import (
	"errors"
	"io"
	"strings"
	"unsafe"

	"github.com/addflowinc/libmicrohttpd2/pool"
)

// ErrInvalidHeaderName is returned by Append when key is not a valid
// RFC 7230 token (applies to Header and ResponseHeader kinds only).
var ErrInvalidHeaderName = errors.New("hdr: invalid header field name")

// ErrInvalidHeaderValue is returned by Append when value contains a
// CR, LF or other control byte the wire format cannot carry.
var ErrInvalidHeaderValue = errors.New("hdr: invalid header field value")

// Append adds one (kind, key, value) triple, preserving any existing
// entries for the same key - HeaderMap is multi-valued by design. For
// Header and ResponseHeader kinds, key is canonicalized
// (CanonicalHeaderKey) and both key and value are validated; for
// Cookie, PostData and GetArgument kinds the key is taken verbatim
// (form and cookie names are not RFC 7230 tokens) but the value is
// still checked for CR/LF/NUL.
func (m *Map) Append(kind Kind, key, value string) error {
	if kind == Header || kind == ResponseHeader {
		if !ValidHeaderFieldName(key) {
			return ErrInvalidHeaderName
		}
		key = CanonicalHeaderKey(key)
	} else if containsCTLOrNUL(key) {
		return ErrInvalidHeaderValue
	}
	if !ValidHeaderFieldValue(value) || strings.IndexByte(value, 0) >= 0 {
		return ErrInvalidHeaderValue
	}
	key, err := m.intern(key)
	if err != nil {
		return err
	}
	value, err = m.intern(value)
	if err != nil {
		return err
	}
	m.entries = append(m.entries, entry{kind: kind, key: key, value: value})
	return nil
}

// intern copies s into m.alloc's low-end arena and returns a string
// view over the copy, so storage backing the Map lives in the
// connection's pool rather than the Go heap. A Map created by NewMap
// (alloc == nil) passes s through unchanged.
func (m *Map) intern(s string) (string, error) {
	if m.alloc == nil || s == "" {
		return s, nil
	}
	buf := m.alloc.Allocate(len(s))
	if buf == nil {
		return "", pool.ErrExhausted
	}
	copy(buf, s)
	return unsafe.String(&buf[0], len(buf)), nil
}

// MustAppend is like Append but panics on error; useful for call
// sites that have already validated key/value (e.g. internally
// generated headers like Content-Length).
func (m *Map) MustAppend(kind Kind, key, value string) {
	if err := m.Append(kind, key, value); err != nil {
		panic(err)
	}
}

func containsCTLOrNUL(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < ' ' || s[i] == 0x7f {
			return true
		}
	}
	return false
}

// keyEqual reports whether a and b name the same entry for kind.
func keyEqual(kind Kind, a, b string) bool {
	if kind == Header || kind == ResponseHeader {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// LookupFirst returns the value of the first entry matching kind and
// key, in insertion order. The second return is false if no such
// entry exists.
func (m *Map) LookupFirst(kind Kind, key string) (string, bool) {
	for _, e := range m.entries {
		if e.kind == kind && keyEqual(kind, e.key, key) {
			return e.value, true
		}
	}
	return "", false
}

// LookupAll returns every value for kind/key, in insertion order.
func (m *Map) LookupAll(kind Kind, key string) []string {
	var out []string
	for _, e := range m.entries {
		if e.kind == kind && keyEqual(kind, e.key, key) {
			out = append(out, e.value)
		}
	}
	return out
}

// Del removes every entry matching kind and key.
func (m *Map) Del(kind Kind, key string) {
	out := m.entries[:0]
	for _, e := range m.entries {
		if e.kind == kind && keyEqual(kind, e.key, key) {
			continue
		}
		out = append(out, e)
	}
	m.entries = out
}

// LastHeader returns the value of the most recently appended Header
// entry, for obsolete line-folding continuation lines (spec.md SS4.4
// sub-state 2).
func (m *Map) LastHeader() (string, bool) {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].kind == Header {
			return m.entries[i].value, true
		}
	}
	return "", false
}

// ReplaceLastHeader overwrites the value of the most recently appended
// Header entry in place, preserving its position in iteration order -
// used to fold a continuation line into the header it belongs to
// without disturbing insertion order for every other entry.
func (m *Map) ReplaceLastHeader(value string) error {
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].kind == Header {
			interned, err := m.intern(value)
			if err != nil {
				return err
			}
			m.entries[i].value = interned
			return nil
		}
	}
	return nil
}

// Count returns the number of entries whose kind is set in kindMask.
func (m *Map) Count(kindMask Kind) int {
	n := 0
	for _, e := range m.entries {
		if kindMatches(e.kind, kindMask) {
			n++
		}
	}
	return n
}

// Iterate calls fn for every entry whose kind is set in kindMask, in
// insertion order, stopping early if fn returns false.
func (m *Map) Iterate(kindMask Kind, fn func(kind Kind, key, value string) bool) {
	for _, e := range m.entries {
		if kindMatches(e.kind, kindMask) {
			if !fn(e.kind, e.key, e.value) {
				return
			}
		}
	}
}

func kindMatches(kind, mask Kind) bool {
	if mask == ResponseHeader {
		return kind == ResponseHeader
	}
	return kind&mask != 0
}

// WriteSubset writes every ResponseHeader entry to w in wire format,
// in insertion order - unlike net/http's Header.WriteSubset this does
// NOT sort by key, since HeaderMap's contract promises insertion-order
// iteration (spec invariant: "iteration preserves insertion order").
func (m *Map) WriteSubset(w io.Writer, exclude map[string]bool) error {
	ws, ok := w.(writeStringer)
	if !ok {
		ws = stringWriter{w}
	}
	for _, e := range m.entries {
		if e.kind != ResponseHeader {
			continue
		}
		if exclude != nil && exclude[e.key] {
			continue
		}
		v := headerNewlineToSpace.Replace(e.value)
		v = TrimString(v)
		for _, s := range [...]string{e.key, ": ", v, "\r\n"} {
			if _, err := ws.WriteString(s); err != nil {
				return err
			}
		}
	}
	return nil
}

type writeStringer interface {
	WriteString(string) (int, error)
}

type stringWriter struct {
	w io.Writer
}

func (s stringWriter) WriteString(str string) (int, error) {
	return s.w.Write([]byte(str))
}
