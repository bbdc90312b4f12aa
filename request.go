/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"strings"

	"github.com/addflowinc/libmicrohttpd2/hdr"
	"github.com/addflowinc/libmicrohttpd2/pool"
	mhdurl "github.com/addflowinc/libmicrohttpd2/url"
)

// decodeGetArguments percent-decodes the query string (the part of the
// URL after the first '?') into GetArgument-kind entries, per spec.md
// SS4.4: "on header completion, the query string ... is percent-
// decoded into GET-argument HeaderMap." mem backs the transient
// percent-decode scratch (SPEC_FULL.md SS4.1); it may be nil, in which
// case decoding falls back to the Go heap (used by parser-only tests
// that build a *mhdurl.URL directly).
func decodeGetArguments(mem *pool.Pool, dst *hdr.Map, u *mhdurl.URL) error {
	if u == nil || u.RawQuery == "" {
		return nil
	}
	return decodeURLEncodedInto(mem, dst, hdr.GetArgument, u.RawQuery)
}

// decodeURLEncodedInto splits query on '&' and each pair on '=', percent-
// decoding key and value through the connection's scratch arena (one
// pool.Mark per pair, released only after both halves have been interned
// into dst's low-end storage by Append) before recording them under
// kind. A pair whose key or value carries a malformed percent-escape is
// dropped rather than failing the whole request, matching url.ParseQuery's
// "first error wins, parsing continues" contract; a pair containing ';'
// is dropped outright, since url.ParseQuery treats ';' as an invalid
// separator.
func decodeURLEncodedInto(mem *pool.Pool, dst *hdr.Map, kind hdr.Kind, query string) error {
	for query != "" {
		var pair string
		pair, query, _ = strings.Cut(query, "&")
		if pair == "" || strings.Contains(pair, ";") {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		if err := decodeOneURLEncodedPair(mem, dst, kind, rawKey, rawValue); err != nil {
			return err
		}
	}
	return nil
}

// decodeOneURLEncodedPair percent-decodes rawKey/rawValue and appends
// them to dst. Both halves share a single scratch mark so the value's
// AllocateScratch call can never reuse (and corrupt) bytes the key's
// decode is still holding - the mark is released only once, after
// Append has copied both strings into permanent low-end storage.
func decodeOneURLEncodedPair(mem *pool.Pool, dst *hdr.Map, kind hdr.Kind, rawKey, rawValue string) error {
	if mem != nil {
		mark := mem.ScratchMark()
		defer mem.ResetTo(mark)
	}
	key, err := unescapeScratch(mem, rawKey)
	if err != nil {
		return nil
	}
	value, err := unescapeScratch(mem, rawValue)
	if err != nil {
		return nil
	}
	return dst.Append(kind, key, value)
}

// unescapeScratch percent-decodes s using mem's high-end scratch
// allocator when available, falling back to a heap allocation when mem
// is nil, s is empty, or the scratch arena has no room left for it.
func unescapeScratch(mem *pool.Pool, s string) (string, error) {
	if mem == nil || s == "" {
		return mhdurl.QueryUnescape(s)
	}
	buf := mem.AllocateScratch(len(s))
	if buf == nil {
		return mhdurl.QueryUnescape(s)
	}
	return mhdurl.QueryUnescapeInto(s, buf)
}

// decodeCookies splits the Cookie request header into COOKIE=2 kind
// entries, per SPEC_FULL.md SS3: "name=value pairs split on '; '" -
// deliberately simpler than the teacher's RFC 6265 cli.Cookie jar
// (attribute parsing, quoting, domain/path/expiry) since the core only
// needs read access to request-side cookie values, never the
// attributes a Set-Cookie response carries.
func decodeCookies(dst *hdr.Map, requestHeaders *hdr.Map) {
	raw, ok := requestHeaders.LookupFirst(hdr.Header, hdr.CookieHeader)
	if !ok {
		return
	}
	for _, pair := range strings.Split(raw, "; ") {
		pair = hdr.TrimString(pair)
		if pair == "" {
			continue
		}
		eq := strings.IndexByte(pair, '=')
		if eq < 0 {
			continue
		}
		name := hdr.TrimString(pair[:eq])
		value := pair[eq+1:]
		if name == "" {
			continue
		}
		_ = dst.Append(hdr.Cookie, name, value)
	}
}

// decodePostForm percent-decodes an application/x-www-form-urlencoded
// body into PostData=4 kind entries, per spec.md SS4.4 (4). multipart
// bodies are explicitly left to the handler (spec.md SS9 Open
// Questions, resolved in SPEC_FULL.md SS9).
func decodePostForm(mem *pool.Pool, dst *hdr.Map, body []byte) error {
	return decodeURLEncodedInto(mem, dst, hdr.PostData, string(body))
}

func isURLEncodedForm(requestHeaders *hdr.Map) bool {
	ct, ok := requestHeaders.LookupFirst(hdr.Header, hdr.ContentType)
	if !ok {
		return false
	}
	ct = strings.TrimSpace(strings.SplitN(ct, ";", 2)[0])
	return strings.EqualFold(ct, "application/x-www-form-urlencoded")
}
