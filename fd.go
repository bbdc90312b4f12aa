/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"net"
	"syscall"
)

// sysConn is the subset of net.Conn/net.Listener both *net.TCPConn,
// *net.TCPListener and *tls.Conn (which forwards to its underlying
// net.Conn) satisfy, letting connFD/listenerFD stay agnostic of the
// concrete transport per spec.md SS4.6's "pluggable transport"
// design.
type sysConn interface {
	SyscallConn() (syscall.RawConn, error)
}

// connFD extracts the raw descriptor backing conn, or -1 if conn
// doesn't expose one (e.g. an in-memory net.Pipe conn used in tests).
// Used for reactor registration (internal-select mode) and external-
// mode fd-set construction; never used to read or write directly.
func connFD(conn net.Conn) int {
	sc, ok := conn.(sysConn)
	if !ok {
		return -1
	}
	return rawFD(sc)
}

func listenerFD(ln net.Listener) int {
	sc, ok := ln.(sysConn)
	if !ok {
		return -1
	}
	return rawFD(sc)
}

func rawFD(sc sysConn) int {
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	_ = raw.Control(func(descriptor uintptr) {
		fd = int(descriptor)
	})
	return fd
}
