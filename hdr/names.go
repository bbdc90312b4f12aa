/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package hdr

// Common header names, canonicalized. Kept from the teacher's header
// constant table; client/MIME-only entries (Cc, From, Subject, ...)
// were dropped since this engine never composes mail-style messages.
const (
	Accept           = "Accept"
	AcceptCharset    = "Accept-Charset"
	AcceptEncoding   = "Accept-Encoding"
	AcceptLanguage   = "Accept-Language"
	AcceptRanges     = "Accept-Ranges"
	Authorization    = "Authorization"
	CacheControl     = "Cache-Control"
	Connection       = "Connection"
	ContentEncoding  = "Content-Encoding"
	ContentLanguage  = "Content-Language"
	ContentLength    = "Content-Length"
	ContentRange     = "Content-Range"
	ContentType      = "Content-Type"
	CookieHeader     = "Cookie"
	Date             = "Date"
	Etag             = "Etag"
	Expires          = "Expires"
	Expect           = "Expect"
	Host             = "Host"
	IfModifiedSince  = "If-Modified-Since"
	IfNoneMatch      = "If-None-Match"
	LastModified     = "Last-Modified"
	Location         = "Location"
	Server           = "Server"
	SetCookieHeader  = "Set-Cookie"
	TransferEncoding = "Transfer-Encoding"
	Trailer          = "Trailer"
	Upgrade          = "Upgrade"
	UserAgent        = "User-Agent"
	Vary             = "Vary"
	Via              = "Via"
	XForwardedFor    = "X-Forwarded-For"
	XPoweredBy       = "X-Powered-By"

	TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"
)

// commonHeader interns canonicalized forms of frequently-seen header
// names so CanonicalHeaderKey avoids an allocation for them.
var commonHeader = make(map[string]string)

func init() {
	for _, v := range []string{
		Accept, AcceptCharset, AcceptEncoding, AcceptLanguage, AcceptRanges,
		Authorization, CacheControl, Connection, ContentEncoding, ContentLanguage,
		ContentLength, ContentRange, ContentType, CookieHeader, Date, Etag, Expires,
		Expect, Host, IfModifiedSince, IfNoneMatch, LastModified, Location, Server,
		SetCookieHeader, TransferEncoding, Trailer, Upgrade, UserAgent, Vary, Via,
		XForwardedFor, XPoweredBy,
	} {
		commonHeader[v] = v
	}
}
