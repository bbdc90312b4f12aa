/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package hdr

import (
	"strings"

	"golang.org/x/net/http/httpguts"
)

const toLower = 'a' - 'A'

var headerNewlineToSpace = strings.NewReplacer("\n", " ", "\r", " ")

// TrimString returns s without leading and trailing ASCII space.
func TrimString(s string) string {
	for len(s) > 0 && isASCIISpace(s[0]) {
		s = s[1:]
	}
	for len(s) > 0 && isASCIISpace(s[len(s)-1]) {
		s = s[:len(s)-1]
	}
	return s
}

func isASCIISpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// ValidHeaderFieldName reports whether v is a valid RFC 7230 token.
// Delegates to golang.org/x/net/http/httpguts instead of the inlined
// token table the teacher used to carry - same rule set, ecosystem
// source of truth.
func ValidHeaderFieldName(v string) bool {
	return httpguts.ValidHeaderFieldName(v)
}

// ValidHeaderFieldValue reports whether v may appear as a header
// field value (no bare CR/LF/NUL, only CTLs allowed are HTAB/SP).
func ValidHeaderFieldValue(v string) bool {
	return httpguts.ValidHeaderFieldValue(v)
}

// CanonicalHeaderKey returns the canonical format of the header key
// s: first letter and any letter following a hyphen upper-cased, rest
// lower-cased (e.g. "accept-encoding" -> "Accept-Encoding"). Invalid
// input (containing a space or non-token byte) is returned unchanged.
func CanonicalHeaderKey(s string) string {
	upper := true
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isTokenByte(c) {
			return s
		}
		if upper && 'a' <= c && c <= 'z' {
			return canonicalMIMEHeaderKey([]byte(s))
		}
		if !upper && 'A' <= c && c <= 'Z' {
			return canonicalMIMEHeaderKey([]byte(s))
		}
		upper = c == '-'
	}
	return s
}

func isTokenByte(b byte) bool {
	return httpguts.IsTokenRune(rune(b))
}

func canonicalMIMEHeaderKey(a []byte) string {
	for _, c := range a {
		if !isTokenByte(c) {
			return string(a)
		}
	}
	upper := true
	for i, c := range a {
		if upper && 'a' <= c && c <= 'z' {
			c -= toLower
		} else if !upper && 'A' <= c && c <= 'Z' {
			c += toLower
		}
		a[i] = c
		upper = c == '-'
	}
	if v := commonHeader[string(a)]; v != "" {
		return v
	}
	return string(a)
}
