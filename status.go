/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

// Status codes used by the engine itself (handlers are free to queue
// any other valid code; these are the ones SS6 requires the reason
// phrase table to cover, plus the handful the engine emits directly).
const (
	StatusContinue           = 100
	StatusOK                 = 200
	StatusNoContent          = 204
	StatusPartialContent     = 206
	StatusMovedPermanently   = 301
	StatusFound              = 302
	StatusNotModified        = 304
	StatusBadRequest         = 400
	StatusUnauthorized       = 401
	StatusForbidden          = 403
	StatusNotFound           = 404
	StatusMethodNotAllowed   = 405
	StatusRequestTimeout     = 408
	StatusLengthRequired     = 411
	StatusPayloadTooLarge    = 413
	StatusURITooLong         = 414
	StatusInternalError      = 500
	StatusNotImplemented     = 501
	StatusServiceUnavailable = 503
)

var statusText = map[int]string{
	StatusContinue:           "Continue",
	StatusOK:                 "OK",
	StatusNoContent:          "No Content",
	StatusPartialContent:     "Partial Content",
	StatusMovedPermanently:   "Moved Permanently",
	StatusFound:              "Found",
	StatusNotModified:        "Not Modified",
	StatusBadRequest:         "Bad Request",
	StatusUnauthorized:       "Unauthorized",
	StatusForbidden:          "Forbidden",
	StatusNotFound:           "Not Found",
	StatusMethodNotAllowed:   "Method Not Allowed",
	StatusRequestTimeout:     "Request Timeout",
	StatusLengthRequired:     "Length Required",
	StatusPayloadTooLarge:    "Payload Too Large",
	StatusURITooLong:         "URI Too Long",
	StatusInternalError:      "Internal Server Error",
	StatusNotImplemented:     "Not Implemented",
	StatusServiceUnavailable: "Service Unavailable",
}

// StatusText returns the reason phrase for code, or "" if unknown; a
// response queued with an unknown code is sent with an empty reason
// phrase.
func StatusText(code int) string {
	return statusText[code]
}
