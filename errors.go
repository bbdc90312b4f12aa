/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"errors"

	"github.com/addflowinc/libmicrohttpd2/pool"
)

// Parse errors (malformed request line, bad header, oversized header
// block, bad chunk framing): these map to a best-effort 400 response
// when no status line has been written yet, else to a silent close.
var (
	ErrURLTooLong         = errors.New("mhd: request URL exceeds 8KiB")
	ErrUnsupportedVersion = errors.New("mhd: unsupported HTTP version")
	ErrMalformedStartLine = errors.New("mhd: malformed request line")
	ErrHeaderTooLarge     = errors.New("mhd: header block exceeds cap")
	ErrMalformedHeader    = errors.New("mhd: malformed header line")
	ErrMissingHost        = errors.New("mhd: HTTP/1.1 request without Host header")
	ErrConflictingLength  = errors.New("mhd: conflicting Content-Length values")
	ErrBadChunkFraming    = errors.New("mhd: malformed chunked body framing")
	ErrChunkTooLarge      = errors.New("mhd: chunk length too large")
)

// Resource exhaustion.
var (
	ErrPoolExhausted = errors.New("mhd: connection memory pool exhausted")
	ErrBufferFull    = errors.New("mhd: connection buffer at capacity")
)

// translatePoolErr maps the pool package's identity error to the
// root-level sentinel callers match against with errors.Is, since hdr
// and the parser helpers cannot import this package (import cycle) and
// so can only ever signal exhaustion via pool.ErrExhausted itself. Any
// other error is passed through unchanged.
func translatePoolErr(err error) error {
	if errors.Is(err, pool.ErrExhausted) {
		return ErrPoolExhausted
	}
	return err
}

// Protocol/usage invariant violations.
var (
	ErrResponseAlreadyQueued = errors.New("mhd: a response is already queued for this session")
	ErrHandlerRejected       = errors.New("mhd: handler returned NO")
	ErrZeroReturnExternal    = errors.New("mhd: content reader returned 0 in external mode")
)

// Daemon lifecycle.
var (
	ErrDaemonClosed      = errors.New("mhd: daemon stopped")
	ErrNoAddressFamily   = errors.New("mhd: at least one of USE_IPv4/USE_IPv6 is required")
	ErrDuplicateHandler  = errors.New("mhd: handler already registered for this prefix")
	ErrHandlerNotFound   = errors.New("mhd: no handler registered for this prefix")
	ErrWrongRunMode      = errors.New("mhd: GetFdSet/Run called in a mode that doesn't own the loop externally")
)

// TerminationReason enumerates why a Connection ended, delivered to an
// optional per-request notifier. Supplements the three reasons named
// in spec.md SS7 with the rest of the set a complete notifier needs to
// be exhaustive (SPEC_FULL.md SS3).
type TerminationReason int

const (
	TerminatedComplete TerminationReason = iota
	TerminatedWithError
	TerminatedTimeoutReached
	TerminatedDaemonShutdown
	TerminatedReadError
	TerminatedClientAbort
)

func (r TerminationReason) String() string {
	switch r {
	case TerminatedComplete:
		return "complete"
	case TerminatedWithError:
		return "error"
	case TerminatedTimeoutReached:
		return "timeout"
	case TerminatedDaemonShutdown:
		return "daemon-shutdown"
	case TerminatedReadError:
		return "read-error"
	case TerminatedClientAbort:
		return "client-abort"
	default:
		return "unknown"
	}
}
