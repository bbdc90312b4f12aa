/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/addflowinc/libmicrohttpd2/hdr"
	"github.com/addflowinc/libmicrohttpd2/transport"
)

// errClientAbort reports whether err looks like the peer tore down
// the connection mid-request (RST) rather than a local I/O fault,
// distinguishing spec.md SS7's "ECONNRESET and similar hard errors"
// from other read failures for the termination notifier.
func errClientAbort(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, syscall.ECONNRESET) || errors.Is(opErr.Err, syscall.EPIPE)
	}
	return false
}

// maxWriteBuffer bounds how much response data may be queued in
// writeBuf before a write makes progress - the resource-exhaustion
// knob for the send side, mirroring pool.ErrExhausted on the read
// side (spec.md SS4.1/SS7).
const maxWriteBuffer = 256 * 1024

// readChunkSize is how many bytes advance asks the transport for per
// Recv call.
const readChunkSize = 4096

// advanceResult tells the Daemon's event loop what to do next with
// this Connection's readiness registration.
type advanceResult struct {
	closed       bool
	wantRead     bool
	wantWrite    bool
	terminatedAs TerminationReason
}

// Advance drives the ConnectionFSM until it would block on I/O or the
// connection closes, per spec.md SS4.7 "advance its FSM until it would
// block". It never performs a blocking call itself in external mode;
// thread-per-connection mode simply calls Advance in a loop against a
// transport whose Recv/Send may legitimately block (spec.md SS5).
func (c *Connection) Advance() advanceResult {
	for {
		switch c.state {
		case stateHandshake:
			if r, done := c.advanceHandshake(); done {
				return r
			}
		case stateInit, stateURL, stateHeaders:
			if r, done := c.advanceReadAndParse(); done {
				return r
			}
		case stateHandler, stateBodyRead:
			if r, done := c.advanceDispatch(); done {
				return r
			}
		case stateSend, stateSendBody, stateFooters:
			if r, done := c.advanceWrite(); done {
				return r
			}
		case stateDone:
			if r, done := c.advanceDone(); done {
				return r
			}
		case stateClosed:
			return advanceResult{closed: true}
		default:
			return advanceResult{closed: true}
		}
	}
}

func (c *Connection) advanceHandshake() (advanceResult, bool) {
	st, err := c.transport.Handshake()
	switch st {
	case transport.HandshakeEstablished, transport.HandshakeNotNeeded:
		c.state = stateInit
		return advanceResult{}, false
	case transport.HandshakeInProgress:
		return advanceResult{wantRead: true, wantWrite: true}, true
	default:
		c.pendingErr = err
		return c.closeNow(TerminatedReadError), true
	}
}

// advanceReadAndParse feeds buffered bytes to the parser, pulling more
// from the transport as needed, until the parser reaches
// HeadersReady (moving to stateHandler) or needs bytes that haven't
// arrived (returning to wait on readiness).
func (c *Connection) advanceReadAndParse() (advanceResult, bool) {
	for {
		avail := c.readBuf[c.readOff:c.readSize]
		consumed, ev := c.parser.Advance(avail)
		c.readOff += consumed
		switch ev.Kind {
		case EventNeedMore:
			if !c.fillReadBuffer() {
				if c.pendingErr != nil {
					return c.closeOnReadFailure(), true
				}
				return advanceResult{wantRead: true}, true
			}
			continue
		case EventHeadersReady:
			c.lastActivity = time.Now()
			c.state = stateHandler
			return advanceResult{}, false
		case EventError:
			return c.handleParseError(ev.Err), true
		default:
			// advanceBody-only events shouldn't surface here; treat as
			// a programming error conservatively rather than loop.
			return c.closeNow(TerminatedWithError), true
		}
	}
}

// closeOnReadFailure distinguishes a clean peer close (io.EOF before
// any bytes of a new request arrived) from a hard read error, per
// spec.md SS4.7 "ECONNRESET and similar hard errors terminate the
// connection without notifying peer".
func (c *Connection) closeOnReadFailure() advanceResult {
	err := c.pendingErr
	reason := TerminatedReadError
	if err == io.EOF {
		reason = TerminatedComplete
	} else if errClientAbort(err) {
		reason = TerminatedClientAbort
	}
	return c.closeNow(reason)
}

// fillReadBuffer compacts the buffer (moving unconsumed bytes to the
// front so pipelined leftovers are preserved byte-exactly, spec.md
// SS4.5/SS9) then issues one non-blocking Recv. Returns false if no
// new bytes are available right now.
func (c *Connection) fillReadBuffer() bool {
	if c.readOff > 0 {
		n := copy(c.readBuf, c.readBuf[c.readOff:c.readSize])
		c.readSize = n
		c.readOff = 0
	}
	if c.readSize == len(c.readBuf) {
		grown := c.mem.Reallocate(c.readBuf, len(c.readBuf), len(c.readBuf)*2)
		if grown == nil {
			c.pendingErr = ErrBufferFull
			return false
		}
		c.readBuf = grown
		// The grown buffer sits above ioLowMark; move the mark past it
		// so resetForRequest does not release it.
		c.ioLowMark = c.mem.LowWaterMark()
	}
	n, err := c.transport.Recv(c.readBuf[c.readSize:])
	if err != nil {
		if err == transport.ErrWouldBlock {
			return false
		}
		if err == io.EOF {
			c.pendingErr = io.EOF
			return false
		}
		c.pendingErr = err
		return false
	}
	if n == 0 {
		return false
	}
	c.readSize += n
	c.lastActivity = time.Now()
	return true
}

func (c *Connection) handleParseError(err error) advanceResult {
	if c.response == nil {
		c.writeBestEffort400()
	}
	c.pendingErr = err
	return c.closeNow(TerminatedWithError)
}

// advanceDispatch invokes the AccessHandler per spec.md SS4.5: one
// call when headers become ready (nil uploadData), one call per body
// chunk, and a final nil-uploadData call when the body completes.
// Handler invocation stops the moment the handler queues a response.
func (c *Connection) advanceDispatch() (advanceResult, bool) {
	if c.state == stateHandler {
		if c.parser.NeedsContinue() {
			if !c.writeContinue() {
				return advanceResult{wantWrite: true}, true
			}
			c.parser.ContinueSent()
		}
		if c.invokeHandler(nil) {
			c.afterHandlerCall()
			return advanceResult{}, false
		}
		return c.rejectByHandler(), true
	}
	// stateBodyRead: pull the next body event from the parser.
	for {
		avail := c.readBuf[c.readOff:c.readSize]
		consumed, ev := c.parser.Advance(avail)
		c.readOff += consumed
		switch ev.Kind {
		case EventNeedMore:
			if !c.fillReadBuffer() {
				if c.pendingErr != nil {
					return c.closeOnReadFailure(), true
				}
				return advanceResult{wantRead: true}, true
			}
			continue
		case EventBodyChunk:
			if !c.decodedPostForm && isURLEncodedForm(c.parser.RequestHdr) {
				if len(c.bodyAccum)+len(ev.Data) > maxFormBody {
					// Too large to decode: drop what was buffered and
					// mark the form as handled so it stays undecoded.
					c.bodyAccum = nil
					c.decodedPostForm = true
				} else {
					c.bodyAccum = append(c.bodyAccum, ev.Data...)
				}
			}
			if !c.invokeHandler(ev.Data) {
				return c.rejectByHandler(), true
			}
			c.afterHandlerCall()
			if c.state != stateBodyRead {
				// The handler queued a response mid-stream: stop
				// pulling body events and let Advance's outer loop
				// switch into the SEND states.
				return advanceResult{}, false
			}
			continue
		case EventBodyDone:
			if !c.invokeHandler(nil) {
				return c.rejectByHandler(), true
			}
			c.afterHandlerCall()
			return advanceResult{}, false
		case EventError:
			return c.handleParseError(ev.Err), true
		default:
			return c.closeNow(TerminatedWithError), true
		}
	}
}

// invokeHandler calls the registered AccessHandler for uploadData,
// returning false if it returned No.
func (c *Connection) invokeHandler(uploadData []byte) bool {
	handler, ctx, ok := c.daemon.handlers.Lookup(c.parser.URL.Path)
	if !ok {
		c.pendingErr = ErrHandlerNotFound
		return false
	}
	fn, _ := handler.(AccessHandler)
	if fn == nil {
		c.pendingErr = ErrHandlerNotFound
		return false
	}
	if ctx != nil && c.clientCtx == nil {
		c.clientCtx = ctx
	}
	return fn(c, uploadData) == Yes
}

func (c *Connection) rejectByHandler() advanceResult {
	if c.pendingErr == nil {
		c.pendingErr = ErrHandlerRejected
	}
	return c.closeNow(TerminatedWithError)
}

// afterHandlerCall transitions to stateSend once a response has been
// queued, moving through BODY_READ otherwise.
func (c *Connection) afterHandlerCall() {
	if c.response != nil {
		c.determineKeepAlive()
		c.state = stateSend
		return
	}
	c.state = stateBodyRead
}

// writeContinue emits the interim "100 Continue" response exactly
// once before the body is read, per spec.md SS4.4.
func (c *Connection) writeContinue() bool {
	const msg = "HTTP/1.1 100 Continue\r\n\r\n"
	n, err := c.transport.Send([]byte(msg))
	if err != nil {
		if err == transport.ErrWouldBlock {
			return false
		}
		c.pendingErr = err
		return true
	}
	return n == len(msg)
}

func (c *Connection) writeBestEffort400() {
	body := []byte("Bad Request")
	resp := FromBuffer(body, int64(len(body)), Borrow, nil)
	resp.Header.MustAppend(hdr.ResponseHeader, hdr.ContentType, "text/plain; charset=utf-8")
	buf := c.serializeHeaders(StatusBadRequest, resp)
	buf = append(buf, body...)
	c.transport.Send(buf) //nolint:errcheck // best-effort per spec.md SS7
}

// determineKeepAlive applies spec.md SS4.5's keep-alive rule: default
// keep-alive for HTTP/1.1, close for HTTP/1.0, overridden by an
// explicit Connection header from either side.
func (c *Connection) determineKeepAlive() {
	keep := c.parser.HTTP11
	if v, ok := c.parser.RequestHdr.LookupFirst(hdr.Header, hdr.Connection); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "close":
			keep = false
		case "keep-alive":
			keep = true
		}
	}
	if v, ok := c.response.Header.LookupFirst(hdr.ResponseHeader, hdr.Connection); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "close":
			keep = false
		case "keep-alive":
			keep = true
		}
	}
	c.keepalive = keep
	c.closeAfterResponse = !keep
}

// advanceWrite serializes and drains the queued Response: headers once
// (stateSend), then the body (stateSendBody), then trailers if
// chunked (stateFooters).
func (c *Connection) advanceWrite() (advanceResult, bool) {
	switch c.state {
	case stateSend:
		c.writeBuf = c.serializeHeaders(c.responseStatus, c.response)
		c.writeOff = 0
		c.state = stateSendBody
		fallthrough
	case stateSendBody:
		return c.drainAndFillBody()
	case stateFooters:
		return c.drainFooters()
	}
	return advanceResult{}, false
}

// drainAndFillBody flushes whatever is buffered, then pulls more body
// bytes from the Response (buffering as chunks if IsChunked) until
// either the buffer needs another flush or the body is exhausted.
func (c *Connection) drainAndFillBody() (advanceResult, bool) {
	for {
		if len(c.writeBuf) > c.writeOff {
			if !c.flushWriteBuf() {
				return advanceResult{wantWrite: true}, true
			}
		}
		tmp := make([]byte, 8192)
		n, err := c.response.readAt(c.respPos, tmp)
		if err != nil {
			c.pendingErr = err
			return c.closeNow(TerminatedWithError), true
		}
		if n < 0 {
			c.pendingErr = ErrHandlerRejected
			return c.closeNow(TerminatedWithError), true
		}
		if n == 0 {
			if !c.respChunked && c.respPos < c.response.Size() {
				// A content reader that stops short of its declared
				// Content-Length without an error would make an
				// external-mode loop spin waiting for bytes that will
				// never come (spec.md SS5); terminate the connection
				// rather than loop.
				c.pendingErr = ErrZeroReturnExternal
				return c.closeNow(TerminatedWithError), true
			}
			if c.respChunked {
				c.state = stateFooters
			} else {
				c.state = stateDone
			}
			return advanceResult{}, false
		}
		c.respPos += int64(n)
		if c.respChunked {
			c.writeBuf = appendChunk(c.writeBuf[:0], tmp[:n])
		} else {
			c.writeBuf = append(c.writeBuf[:0], tmp[:n]...)
		}
		c.writeOff = 0
		if len(c.writeBuf) > maxWriteBuffer {
			c.pendingErr = ErrBufferFull
			return c.closeNow(TerminatedWithError), true
		}
	}
}

func (c *Connection) drainFooters() (advanceResult, bool) {
	if len(c.writeBuf) == c.writeOff {
		c.writeBuf = appendLastChunk(c.writeBuf[:0])
		c.writeOff = 0
	}
	if !c.flushWriteBuf() {
		return advanceResult{wantWrite: true}, true
	}
	c.state = stateDone
	return advanceResult{}, false
}

// flushWriteBuf sends as much of writeBuf[writeOff:] as the transport
// accepts without blocking, returning true once it's fully drained.
func (c *Connection) flushWriteBuf() bool {
	for c.writeOff < len(c.writeBuf) {
		n, err := c.transport.Send(c.writeBuf[c.writeOff:])
		if n > 0 {
			c.writeOff += n
			c.lastActivity = time.Now()
		}
		if err != nil {
			if err == transport.ErrWouldBlock {
				return false
			}
			c.pendingErr = err
			return false
		}
		if n == 0 {
			return false
		}
	}
	return true
}

func (c *Connection) serializeHeaders(status int, resp *Response) []byte {
	buf := make([]byte, 0, 256)
	buf = append(buf, "HTTP/1.1 "...)
	buf = strconv.AppendInt(buf, int64(status), 10)
	buf = append(buf, ' ')
	buf = append(buf, StatusText(status)...)
	buf = append(buf, "\r\n"...)

	hasConnection := false
	hasContentLength := false
	resp.Header.Iterate(hdr.ResponseHeader, func(_ hdr.Kind, key, _ string) bool {
		if strings.EqualFold(key, hdr.Connection) {
			hasConnection = true
		}
		if strings.EqualFold(key, hdr.ContentLength) {
			hasContentLength = true
		}
		return true
	})
	if !hasContentLength {
		if resp.IsChunked() {
			buf = append(buf, "Transfer-Encoding: chunked\r\n"...)
		} else {
			buf = append(buf, "Content-Length: "...)
			buf = strconv.AppendInt(buf, resp.Size(), 10)
			buf = append(buf, "\r\n"...)
		}
	}
	if !hasConnection && c.closeAfterResponse {
		buf = append(buf, "Connection: close\r\n"...)
	}
	w := &sliceWriter{buf: buf}
	resp.Header.WriteSubset(w, nil) //nolint:errcheck // sliceWriter never errors
	buf = w.buf
	buf = append(buf, "\r\n"...)
	return buf
}

// sliceWriter adapts a growable []byte to io.Writer for
// hdr.Map.WriteSubset.
type sliceWriter struct{ buf []byte }

func (w *sliceWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (c *Connection) advanceDone() (advanceResult, bool) {
	if c.response != nil {
		c.response.Decref()
		c.response = nil
	}
	if c.pendingErr != nil || !c.keepalive {
		reason := TerminatedComplete
		if c.pendingErr != nil {
			reason = TerminatedWithError
		}
		return c.closeNow(reason), true
	}
	c.resetForRequest()
	c.state = stateInit
	return advanceResult{}, false
}

func (c *Connection) closeNow(reason TerminationReason) advanceResult {
	c.state = stateClosed
	c.transport.Close()
	if c.response != nil {
		c.response.Decref()
		c.response = nil
	}
	if c.daemon != nil {
		if fn := c.daemon.TerminationNotifier(); fn != nil {
			fn(c, reason)
		}
	}
	return advanceResult{closed: true, terminatedAs: reason}
}
