/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package mhd implements the core of an embeddable HTTP/1.1 server: a
// non-blocking per-connection protocol state machine (parse, dispatch,
// serialize, keep-alive, chunked transfer encoding) multiplexed by a
// readiness-driven event loop over many connections. TLS record-layer
// internals, routing DSLs, template engines and static file serving
// are out of scope - the Daemon only needs a transport.Transport that
// behaves like one, and a mux-style handler registry to dispatch to.
package mhd
