/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"time"

	"github.com/addflowinc/libmicrohttpd2/hdr"
	"github.com/addflowinc/libmicrohttpd2/pool"
	"github.com/addflowinc/libmicrohttpd2/transport"
)

// fsmState enumerates the ConnectionFSM states of spec.md SS4.5, plus
// the secure-transport HANDSHAKE sub-state SPEC_FULL.md SS4.5 inserts
// ahead of INIT.
type fsmState int

const (
	stateHandshake fsmState = iota
	stateInit
	stateURL
	stateHeaders
	stateHandler
	stateBodyRead
	stateSend
	stateSendBody
	stateFooters
	stateDone
	stateClosed
)

const defaultIOBufferSize = 4096

// Session is the public-API alias for Connection (GLOSSARY: "Session:
// synonym used by the public API for Connection as seen by the
// handler"); kept for interface compatibility with spec.md SS6 entry
// points that are named in terms of "session".
type Session = Connection

// Connection is one accepted TCP (or TLS-over-TCP) session: its own
// state machine, buffers and arena, per spec.md SS3.
type Connection struct {
	daemon    *Daemon
	transport transport.Transport
	peer      string

	mem *pool.Pool

	readBuf  []byte
	readOff  int
	readSize int

	writeBuf []byte
	writeOff int

	parser *Parser

	response       *Response
	responseStatus int
	respPos        int64
	respChunked    bool

	clientCtx any

	state        fsmState
	keepalive    bool
	lastActivity time.Time

	closeAfterResponse bool
	handlerDone        bool
	pendingErr         error

	bodyAccum       []byte // buffered body bytes, only kept for urlencoded-form decode
	decodedGetArgs  bool
	decodedCookies  bool
	decodedPostForm bool

	// ioLowMark is the pool low-water mark taken right after the
	// read/write I/O buffers are carved out of the arena's low end, at
	// connection creation - resetForRequest rewinds to this mark
	// instead of to zero, so per-request Reset (spec.md SS3 "the
	// MemoryPool is reset only between requests") never invalidates
	// the connection-lifetime I/O buffers it also lives in.
	ioLowMark pool.LowMark
}

func newConnection(d *Daemon, t transport.Transport, peer string, poolSize int, secure bool) *Connection {
	c := &Connection{
		daemon:       d,
		transport:    t,
		peer:         peer,
		mem:          pool.New(poolSize),
		lastActivity: time.Now(),
		state:        stateInit,
	}
	if secure {
		c.state = stateHandshake
	}
	if rb := c.mem.Allocate(defaultIOBufferSize); rb != nil {
		c.readBuf = rb
	} else {
		c.readBuf = make([]byte, defaultIOBufferSize)
	}
	if wb := c.mem.Allocate(defaultIOBufferSize); wb != nil {
		c.writeBuf = wb[:0]
	} else {
		c.writeBuf = make([]byte, 0, defaultIOBufferSize)
	}
	c.ioLowMark = c.mem.LowWaterMark()
	c.resetForRequest()
	return c
}

// resetForRequest prepares the Connection for a fresh request on a
// keep-alive connection: every low-end allocation made since the I/O
// buffers were carved out is released (invalidating every pointer
// handed out to the previous request's parsed headers/arguments,
// spec.md SS8) and the high-end scratch region is fully reclaimed,
// while the read/write buffers and any pipelined leftover bytes are
// retained byte-exactly (spec.md SS4.5/SS9).
func (c *Connection) resetForRequest() {
	c.mem.ResetLowTo(c.ioLowMark)
	c.mem.ResetTo(pool.Mark(c.mem.Cap()))
	headerMap := hdr.NewPooledMap(c.mem)
	if c.parser == nil {
		c.parser = NewParser(headerMap)
	} else {
		c.parser.Reset(headerMap)
	}
	c.response = nil
	c.responseStatus = 0
	c.respPos = 0
	c.respChunked = false
	c.clientCtx = nil
	c.handlerDone = false
	c.closeAfterResponse = false
	c.pendingErr = nil
	c.writeBuf = c.writeBuf[:0]
	c.writeOff = 0
	c.bodyAccum = nil
	c.decodedGetArgs = false
	c.decodedCookies = false
	c.decodedPostForm = false
}

// maxFormBody bounds how much of a urlencoded body is buffered for
// lazy POST-form decoding; bodies larger than this are simply left
// undecoded rather than growing unbounded (spec.md SS7 resource
// exhaustion is handled at the MemoryPool/write-buffer level - this
// guards the one additional accumulator the lazy decode needs).
const maxFormBody = 128 * 1024

// ensureDecoded lazily populates the GetArgument, Cookie and PostData
// entries of the request HeaderMap on first access, per spec.md SS3
// ("parsed on demand") and SPEC_FULL.md SS3.
func (c *Connection) ensureDecoded(kindMask hdr.Kind) {
	if kindMask&hdr.GetArgument != 0 && !c.decodedGetArgs {
		c.decodedGetArgs = true
		if err := decodeGetArguments(c.mem, c.parser.RequestHdr, c.parser.URL); err != nil && c.pendingErr == nil {
			c.pendingErr = translatePoolErr(err)
		}
	}
	if kindMask&hdr.Cookie != 0 && !c.decodedCookies {
		c.decodedCookies = true
		decodeCookies(c.parser.RequestHdr, c.parser.RequestHdr)
	}
	if kindMask&hdr.PostData != 0 && !c.decodedPostForm {
		c.decodedPostForm = true
		if isURLEncodedForm(c.parser.RequestHdr) {
			if err := decodePostForm(c.mem, c.parser.RequestHdr, c.bodyAccum); err != nil && c.pendingErr == nil {
				c.pendingErr = translatePoolErr(err)
			}
		}
	}
}

// Peer returns the remote address string recorded at accept time.
func (c *Connection) Peer() string { return c.peer }

// RequestHeaders exposes the unified request-side HeaderMap (Header,
// Cookie, GetArgument, PostData kinds all live together, spec.md
// SS4.2/SS6).
func (c *Connection) RequestHeaders() *hdr.Map { return c.parser.RequestHdr }

// Method returns the parsed request method once the URL line has been
// consumed.
func (c *Connection) Method() string { return c.parser.Method }

// RawURL returns the request-target exactly as sent on the wire.
func (c *Connection) RawURL() string { return c.parser.RawURL }

// ClientContext returns the handler-owned opaque state that survives
// multiple AccessHandler invocations within the same request (spec.md
// SS3).
func (c *Connection) ClientContext() any { return c.clientCtx }

// SetClientContext stores the handler-owned opaque state.
func (c *Connection) SetClientContext(v any) { c.clientCtx = v }

// GetSessionValues iterates every entry whose kind is set in kindMask,
// spec.md SS6 get_session_values.
func (c *Connection) GetSessionValues(kindMask hdr.Kind, fn func(kind hdr.Kind, key, value string) bool) int {
	c.ensureDecoded(kindMask)
	n := 0
	c.parser.RequestHdr.Iterate(kindMask, func(kind hdr.Kind, key, value string) bool {
		n++
		return fn(kind, key, value)
	})
	return n
}

// LookupSessionValue looks up the first value for kind/key, spec.md
// SS6 lookup_session_value. Case-insensitive in key for the HEADER
// kind, per spec.md SS8.
func (c *Connection) LookupSessionValue(kind hdr.Kind, key string) (string, bool) {
	c.ensureDecoded(kind)
	return c.parser.RequestHdr.LookupFirst(kind, key)
}

// QueueResponse queues resp with the given status for transmission,
// spec.md SS6 queue_response. Fails with ErrResponseAlreadyQueued if a
// response has already been queued for this request - spec.md SS4.3
// "exactly one Response is in flight".
func (c *Connection) QueueResponse(status int, resp *Response) error {
	if c.response != nil {
		return ErrResponseAlreadyQueued
	}
	resp.Incref()
	c.response = resp
	c.responseStatus = status
	c.respChunked = resp.IsChunked()
	c.handlerDone = true
	return nil
}
