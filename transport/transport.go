/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package transport defines the capability-set abstraction the
// ConnectionFSM drives instead of calling net.Conn directly: a plain
// TCP implementation and a secure (TLS-handshake) implementation share
// one vtable-style interface so the FSM never branches on which
// transport it is talking to. Modeled on the teacher's split between
// conn.go's plain read/write path and its defined-but-external
// (crypto/tls-backed) secure path; generalized here into an explicit
// interface per spec SS4.6/SS9 rather than an inheritance hierarchy.
package transport

import (
	"errors"
	"net"
	"time"
)

// ErrWouldBlock is returned by Recv/Send when the underlying transport
// has no data ready (or no buffer space) right now - the caller must
// re-arm readiness and try again later. It is never a fatal error.
var ErrWouldBlock = errors.New("transport: would block")

// HandshakeState is the secure transport's pre-INIT sub-state.
type HandshakeState int

const (
	// HandshakeNotNeeded is reported by Plain transports; the FSM
	// treats it identically to HandshakeEstablished.
	HandshakeNotNeeded HandshakeState = iota
	HandshakeInProgress
	HandshakeEstablished
	HandshakeFailed
)

// Transport is the capability set a Connection drives: non-blocking
// recv/send plus close, and (for secure transports) a handshake step
// that must reach HandshakeEstablished before any HTTP byte is
// offered to the parser.
type Transport interface {
	// Recv reads up to len(buf) bytes without blocking. It returns
	// (0, ErrWouldBlock) if no data is currently available, (n, nil)
	// for n>0 bytes read, or (0, io.EOF) at a clean peer close.
	Recv(buf []byte) (int, error)
	// Send writes up to len(buf) bytes without blocking, returning
	// how many were actually accepted. (0, ErrWouldBlock) means the
	// socket send buffer is full; the caller must retry the same
	// (or a resumed) buffer once writability is signaled again.
	Send(buf []byte) (int, error)
	// Close tears down the transport. Idempotent.
	Close() error
	// Handshake advances the secure pre-INIT sub-state. Plain
	// transports return HandshakeNotNeeded immediately.
	Handshake() (HandshakeState, error)
	// FD exposes the underlying descriptor for the reactor/epoll
	// registration and for external-mode fd-set construction.
	FD() int
}

// Plain wraps a net.Conn (TCP) with the Transport contract. Go's net
// package has no true non-blocking read/write, so in non-blocking
// mode Recv/Send arm a zero-length-from-now deadline before the call:
// an immediate timeout reads as ErrWouldBlock, while a successful
// Read/Write still returns its bytes before the deadline fires. This
// is the portable equivalent of a non-blocking fd, matching the
// teacher's tcp_keep_alive_listener.go habit of managing deadlines on
// the raw *net.TCPConn rather than fiddling with socket options
// directly.
type Plain struct {
	Conn        net.Conn
	fd          int
	nonBlocking bool
}

// NewPlain wraps conn for thread-per-connection mode, where Recv/Send
// are allowed to block on conn directly. fd is the raw descriptor
// (for epoll registration); pass -1 if the reactor isn't in use.
func NewPlain(conn net.Conn, fd int) *Plain {
	return &Plain{Conn: conn, fd: fd}
}

// NewPlainNonBlocking wraps conn for external/internal-select mode,
// where Recv/Send must never block the shared loop: every call is
// preceded by an immediate deadline so the loop thread is always
// handed back control within the call.
func NewPlainNonBlocking(conn net.Conn, fd int) *Plain {
	return &Plain{Conn: conn, fd: fd, nonBlocking: true}
}

func (p *Plain) FD() int { return p.fd }

func (p *Plain) Handshake() (HandshakeState, error) { return HandshakeNotNeeded, nil }

func (p *Plain) Recv(buf []byte) (int, error) {
	if p.nonBlocking {
		p.Conn.SetReadDeadline(time.Now())
	}
	n, err := p.Conn.Read(buf)
	if err != nil {
		if isTimeoutOrWouldBlock(err) {
			return 0, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (p *Plain) Send(buf []byte) (int, error) {
	if p.nonBlocking {
		p.Conn.SetWriteDeadline(time.Now())
	}
	n, err := p.Conn.Write(buf)
	if err != nil {
		if isTimeoutOrWouldBlock(err) {
			return n, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (p *Plain) Close() error { return p.Conn.Close() }

func isTimeoutOrWouldBlock(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return errors.Is(err, ErrWouldBlock)
}
