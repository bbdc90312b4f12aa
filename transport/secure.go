/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package transport

import (
	"crypto/tls"
	"time"
)

// Secure wraps a *tls.Conn behind the Transport contract. Per the
// spec's scope (SS1), the TLS record layer itself - cipher suites,
// certificate parsing, credential handling - is an external
// collaborator; this type only adapts whatever *tls.Conn the host
// process hands it to the non-blocking recv/send/handshake shape the
// ConnectionFSM understands. The FSM never reaches past the Transport
// interface into tls internals.
type Secure struct {
	conn        *tls.Conn
	fd          int
	state       HandshakeState
	nonBlocking bool
}

// NewSecure wraps an already-accepted *tls.Conn for thread-per-
// connection mode, where Handshake/Recv/Send are allowed to block.
// fd is the raw descriptor backing it, or -1 if unknown to the
// caller.
func NewSecure(conn *tls.Conn, fd int) *Secure {
	return &Secure{conn: conn, fd: fd, state: HandshakeInProgress}
}

// NewSecureNonBlocking wraps conn for external/internal-select mode:
// every Handshake/Recv/Send call arms an immediate deadline first, so
// tls.Conn's otherwise-blocking methods return ErrWouldBlock-shaped
// errors instead of stalling the shared loop thread.
func NewSecureNonBlocking(conn *tls.Conn, fd int) *Secure {
	return &Secure{conn: conn, fd: fd, state: HandshakeInProgress, nonBlocking: true}
}

func (s *Secure) FD() int { return s.fd }

// Handshake drives the TLS handshake one non-blocking step. Because
// tls.Conn.Handshake blocks on its underlying net.Conn, non-blocking
// mode arms a zero-duration deadline first, so a timeout here reads
// as "handshake still in progress", not an error.
func (s *Secure) Handshake() (HandshakeState, error) {
	if s.state == HandshakeEstablished || s.state == HandshakeFailed {
		return s.state, nil
	}
	if s.nonBlocking {
		s.conn.SetDeadline(time.Now())
	}
	err := s.conn.Handshake()
	if err == nil {
		s.state = HandshakeEstablished
		return s.state, nil
	}
	if isTimeoutOrWouldBlock(err) {
		return HandshakeInProgress, nil
	}
	s.state = HandshakeFailed
	return s.state, err
}

func (s *Secure) Recv(buf []byte) (int, error) {
	if s.nonBlocking {
		s.conn.SetReadDeadline(time.Now())
	}
	n, err := s.conn.Read(buf)
	if err != nil {
		if isTimeoutOrWouldBlock(err) {
			return 0, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (s *Secure) Send(buf []byte) (int, error) {
	if s.nonBlocking {
		s.conn.SetWriteDeadline(time.Now())
	}
	n, err := s.conn.Write(buf)
	if err != nil {
		if isTimeoutOrWouldBlock(err) {
			return n, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (s *Secure) Close() error { return s.conn.Close() }
