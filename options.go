/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"crypto/tls"
	"time"
)

// Flag is one bit of the Daemon start-options bitmask, spec.md SS6.
type Flag uint32

const (
	// UseDebug enables structured diagnostic logging to stderr.
	UseDebug Flag = 1 << iota
	// UseSSL enables the secure transport (requires a *tls.Config via
	// WithTLSConfig); the ConnectionFSM inserts a HANDSHAKE sub-state.
	UseSSL
	// UseThreadPerConnection selects mode 3: one blocking goroutine per
	// accepted connection.
	UseThreadPerConnection
	// UseSelectInternally selects mode 2: the Daemon owns a single
	// reactor-driven loop goroutine.
	UseSelectInternally
	// UseIPv4 enables binding on an IPv4 listener.
	UseIPv4
	// UseIPv6 enables binding on an IPv6 listener.
	UseIPv6
)

// Has reports whether f is set in the receiver bitmask.
func (flags Flag) Has(f Flag) bool { return flags&f != 0 }

// AcceptPolicy decides whether to accept a connection from peer,
// spec.md SS3 "Accept-policy callback (peer_addr) -> allow|deny".
type AcceptPolicy func(peer string) bool

// StartOption configures a Daemon at construction time, following the
// teacher's cli/public.go convention of thin exported functions
// wrapping mutation of an unexported options struct (SPEC_FULL.md
// SS2) rather than a file-based config layer - the engine is embedded
// by a host process that owns its own configuration.
type StartOption func(*options)

type options struct {
	flags        Flag
	acceptPolicy AcceptPolicy
	idleTimeout  time.Duration
	poolSize     int
	tlsConfig    *tls.Config
	notifier     func(conn *Connection, reason TerminationReason)
}

// WithFlags sets the full start-options bitmask (spec.md SS6).
func WithFlags(f Flag) StartOption {
	return func(o *options) { o.flags = f }
}

// WithAcceptPolicy installs the accept-policy callback (spec.md SS3).
func WithAcceptPolicy(p AcceptPolicy) StartOption {
	return func(o *options) { o.acceptPolicy = p }
}

// WithIdleTimeout sets the connection idle timeout; 0 means never
// (spec.md SS3).
func WithIdleTimeout(d time.Duration) StartOption {
	return func(o *options) { o.idleTimeout = d }
}

// WithPoolSize overrides the default 32 KiB per-connection MemoryPool
// capacity (spec.md SS3).
func WithPoolSize(n int) StartOption {
	return func(o *options) { o.poolSize = n }
}

// WithTLSConfig supplies the *tls.Config used to wrap accepted
// connections when UseSSL is set; required by that flag, ignored
// otherwise. The TLS record layer itself remains an external
// collaborator per spec.md SS1 - the Daemon only calls
// tls.Server(conn, cfg) and hands the result to transport.NewSecure.
func WithTLSConfig(cfg *tls.Config) StartOption {
	return func(o *options) { o.tlsConfig = cfg }
}

// WithTerminationNotifier installs the optional per-request notifier
// for termination events (spec.md SS3, finalized in SPEC_FULL.md SS6
// as SetTerminationNotifier).
func WithTerminationNotifier(fn func(conn *Connection, reason TerminationReason)) StartOption {
	return func(o *options) { o.notifier = fn }
}

func defaultOptions() options {
	return options{
		flags:    UseIPv4,
		poolSize: 32 * 1024,
	}
}
