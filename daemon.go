/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/addflowinc/libmicrohttpd2/mux"
	"github.com/addflowinc/libmicrohttpd2/reactor"
	"github.com/addflowinc/libmicrohttpd2/transport"
)

// runMode selects which of spec.md SS4.7's three operating modes a
// Daemon runs in.
type runMode int

const (
	modeExternal runMode = iota
	modeInternalSelect
	modeThreadPerConnection
)

// Daemon is the top-level listener plus connection registry, spec.md
// SS3/SS4.7. Grounded on the teacher's Server (src/http/server.go):
// the doneChan-based shutdown signal, trackConn-style registry, and
// accept-retry backoff loop are all adapted from there, generalized
// across the three run modes spec.md adds on top of the teacher's
// single always-threaded Serve loop.
type Daemon struct {
	opts     options
	mode     runMode
	handlers *mux.Registry

	listener net.Listener
	poller   reactor.Poller // only set in modeInternalSelect

	log *logrus.Logger

	mu       sync.Mutex
	conns    map[*Connection]struct{}
	doneChan chan struct{}
	closed   bool

	wg sync.WaitGroup
}

// Start binds a listener on port and returns a running Daemon, per
// spec.md SS6 start(). accept, when non-nil, becomes the Daemon's
// AcceptPolicy (replacing any WithAcceptPolicy option); handler is
// registered as the "" (default) registry entry. Callers register
// additional prefixes afterward with RegisterHandler.
func Start(port int, accept AcceptPolicy, handler AccessHandler, opt ...StartOption) (*Daemon, error) {
	o := defaultOptions()
	for _, f := range opt {
		f(&o)
	}
	if !o.flags.Has(UseIPv4) && !o.flags.Has(UseIPv6) {
		return nil, ErrNoAddressFamily
	}

	network := "tcp4"
	switch {
	case o.flags.Has(UseIPv4) && o.flags.Has(UseIPv6):
		network = "tcp"
	case o.flags.Has(UseIPv6):
		network = "tcp6"
	}

	ln, err := net.Listen(network, addrForPort(port))
	if err != nil {
		return nil, errors.Wrap(err, "mhd: listen")
	}

	d := &Daemon{
		opts:     o,
		handlers: mux.New(),
		listener: ln,
		log:      newDebugLogger(o.flags.Has(UseDebug)),
		conns:    make(map[*Connection]struct{}),
		doneChan: make(chan struct{}),
	}
	d.handlers.Register("", handler, nil)
	if accept != nil {
		d.opts.acceptPolicy = accept
	}

	switch {
	case o.flags.Has(UseThreadPerConnection):
		d.mode = modeThreadPerConnection
	case o.flags.Has(UseSelectInternally):
		d.mode = modeInternalSelect
		p, perr := reactor.New()
		if perr != nil {
			ln.Close()
			return nil, perr
		}
		d.poller = p
	default:
		d.mode = modeExternal
	}

	switch d.mode {
	case modeThreadPerConnection:
		d.wg.Add(1)
		go d.acceptLoop()
	case modeInternalSelect:
		d.wg.Add(1)
		go d.selectLoop()
	}
	return d, nil
}

func addrForPort(port int) string {
	if port <= 0 {
		return ":0"
	}
	return ":" + itoa(port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// RegisterHandler registers prefix with handler and an optional
// per-prefix ctx value, per spec.md SS6 register_handler. Returns
// ErrDuplicateHandler if prefix is already registered.
func (d *Daemon) RegisterHandler(prefix string, handler AccessHandler, ctx any) error {
	if !d.handlers.Register(prefix, handler, ctx) {
		return ErrDuplicateHandler
	}
	return nil
}

// UnregisterHandler removes prefix's registration, spec.md SS6
// unregister_handler.
func (d *Daemon) UnregisterHandler(prefix string, handler AccessHandler) error {
	if !d.handlers.Unregister(prefix, handler) {
		return ErrHandlerNotFound
	}
	return nil
}

// SetTerminationNotifier installs or replaces the per-request
// termination notifier at runtime, finalizing the optional
// get_termination_notifier/set_termination_notifier pair SPEC_FULL.md
// SS6 adds on top of the WithTerminationNotifier start option.
func (d *Daemon) SetTerminationNotifier(fn func(conn *Connection, reason TerminationReason)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.notifier = fn
}

// TerminationNotifier returns the currently installed notifier, or nil
// if none is set.
func (d *Daemon) TerminationNotifier() func(conn *Connection, reason TerminationReason) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opts.notifier
}

// Stop signals the loop and waits for in-flight workers, per spec.md
// SS5 "stop(daemon)... waits for workers; in-flight requests are
// terminated with TERMINATED_DAEMON_SHUTDOWN".
func (d *Daemon) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.doneChan)
	d.listener.Close()
	for c := range d.conns {
		c.pendingErr = nil
		c.closeNow(TerminatedDaemonShutdown)
		delete(d.conns, c)
	}
	d.mu.Unlock()
	if d.poller != nil {
		d.poller.Close()
	}
	d.wg.Wait()
}

func (d *Daemon) trackConn(c *Connection, add bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if add {
		d.conns[c] = struct{}{}
	} else {
		delete(d.conns, c)
	}
}

func (d *Daemon) shuttingDown() bool {
	select {
	case <-d.doneChan:
		return true
	default:
		return false
	}
}

// acceptLoop implements mode 3 (thread-per-connection, spec.md SS4.7
// item 3): the listener thread accepts and spawns a worker goroutine
// per connection running a blocking advance loop. Adapted from the
// teacher's Server.Serve accept-retry backoff (src/http/server.go).
func (d *Daemon) acceptLoop() {
	defer d.wg.Done()
	var tempDelay time.Duration
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if d.shuttingDown() {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() { //nolint:staticcheck // matches teacher's retry contract
				if tempDelay == 0 {
					tempDelay = 5 * time.Millisecond
				} else {
					tempDelay *= 2
				}
				if tempDelay > time.Second {
					tempDelay = time.Second
				}
				d.log.WithError(err).Warn("mhd: accept error, retrying")
				time.Sleep(tempDelay)
				continue
			}
			d.log.WithError(err).Error("mhd: accept failed, stopping acceptor")
			return
		}
		tempDelay = 0
		if !d.acceptOK(conn) {
			conn.Close()
			continue
		}
		c := d.newAcceptedConnection(conn)
		d.trackConn(c, true)
		d.wg.Add(1)
		go d.serveThreaded(c)
	}
}

func (d *Daemon) acceptOK(conn net.Conn) bool {
	if d.opts.acceptPolicy == nil {
		return true
	}
	return d.opts.acceptPolicy(conn.RemoteAddr().String())
}

// newAcceptedConnection wraps conn in the Transport matching this
// Daemon's run mode: thread-per-connection workers block directly on
// the socket (spec.md SS5's one legitimate blocking suspension
// point), while external and internal-select mode need the
// deadline-armed non-blocking variant so a single connection can never
// stall the shared loop.
func (d *Daemon) newAcceptedConnection(conn net.Conn) *Connection {
	secure := d.opts.flags.Has(UseSSL) && d.opts.tlsConfig != nil
	blocking := d.mode == modeThreadPerConnection
	var t transport.Transport
	switch {
	case secure && blocking:
		t = transport.NewSecure(tls.Server(conn, d.opts.tlsConfig), connFD(conn))
	case secure:
		t = transport.NewSecureNonBlocking(tls.Server(conn, d.opts.tlsConfig), connFD(conn))
	case blocking:
		t = transport.NewPlain(conn, connFD(conn))
	default:
		t = transport.NewPlainNonBlocking(conn, connFD(conn))
	}
	return newConnection(d, t, conn.RemoteAddr().String(), d.opts.poolSize, secure)
}

// serveThreaded drives one Connection to completion with blocking
// Recv/Send calls, the only place the FSM is allowed to block on I/O
// (spec.md SS5 suspension points, thread-per-connection branch).
func (d *Daemon) serveThreaded(c *Connection) {
	defer d.wg.Done()
	defer d.trackConn(c, false)
	for {
		r := c.Advance()
		if r.closed {
			return
		}
		// Plain/Secure transports report ErrWouldBlock only when the
		// underlying conn is in non-blocking (deadline) mode; a
		// thread-per-connection worker instead lets Recv/Send block
		// directly, so a non-closing advanceResult here just means
		// "go around again" - there is always forward progress.
	}
}

// selectLoop implements mode 2 (internal-select, spec.md SS4.7 item
// 2): the Daemon owns one goroutine driving a reactor.Poller over the
// listener fd plus every connection fd.
func (d *Daemon) selectLoop() {
	defer d.wg.Done()
	if err := d.poller.Add(listenerFD(d.listener), true, false); err != nil {
		d.log.WithError(err).Error("mhd: register listener with reactor")
		return
	}
	var events []reactor.Event
	for {
		if d.shuttingDown() {
			return
		}
		var err error
		events, err = d.poller.Wait(events[:0], 250)
		if err != nil {
			d.log.WithError(err).Error("mhd: reactor wait failed")
			return
		}
		for _, ev := range events {
			if ev.FD == listenerFD(d.listener) {
				if c := d.acceptOnePending(); c != nil {
					d.rearm(c, c.Advance())
				}
				continue
			}
			d.advanceByFD(ev)
		}
		d.reapIdle()
	}
}

// acceptOnePending accepts at most one pending connection off the
// listener and adds it to the registry. Returns nil if nothing was
// pending, was rejected by the accept policy, or Accept itself
// errored (a non-blocking Accept on a readable listener fd should
// never error in practice, but this path is shared by the external
// and internal-select loops so it stays defensive).
func (d *Daemon) acceptOnePending() *Connection {
	conn, err := d.listener.Accept()
	if err != nil {
		return nil
	}
	if !d.acceptOK(conn) {
		conn.Close()
		return nil
	}
	c := d.newAcceptedConnection(conn)
	d.trackConn(c, true)
	return c
}

func (d *Daemon) advanceByFD(ev reactor.Event) {
	d.mu.Lock()
	var target *Connection
	for c := range d.conns {
		if c.transport.FD() == ev.FD {
			target = c
			break
		}
	}
	d.mu.Unlock()
	if target == nil {
		return
	}
	d.rearm(target, target.Advance())
}

// rearm re-registers c's fd with the reactor for whatever readiness
// Advance last asked for. Advance itself always loops until it would
// block or the connection closes (spec.md SS4.7 "advance its FSM
// until it would block"), so a single call's result already reflects
// the fully-drained state - rearm must not call Advance again itself.
func (d *Daemon) rearm(c *Connection, r advanceResult) {
	if r.closed {
		d.trackConn(c, false)
		return
	}
	if err := d.poller.Add(c.transport.FD(), r.wantRead, r.wantWrite); err != nil {
		d.log.WithError(err).Warn("mhd: reactor re-arm failed")
	}
}

func (d *Daemon) reapIdle() {
	if d.opts.idleTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-d.opts.idleTimeout)
	d.mu.Lock()
	stale := make([]*Connection, 0)
	for c := range d.conns {
		if c.lastActivity.Before(cutoff) {
			stale = append(stale, c)
		}
	}
	d.mu.Unlock()
	for _, c := range stale {
		c.pendingErr = nil
		c.closeNow(TerminatedTimeoutReached)
		d.trackConn(c, false)
	}
}

// GetFdSet and Run are the external-mode pair from spec.md SS6: the
// host drives its own select/poll/epoll loop and calls these once per
// sweep. They only make sense in modeExternal; any other run mode
// already owns its loop internally (ErrWrongRunMode).
//
// FdSet mirrors the three net fd-set-shaped outputs spec.md SS6 names
// (r, w, e) and maxFd. GetFdSet builds it from the connection registry
// and each connection's FSM state; no reactor is involved in external
// mode.
type FdSet struct {
	Read   []int
	Write  []int
	Except []int
	MaxFD  int
}

// GetFdSet reports the file descriptors the Daemon currently wants to
// read/write, for a host-owned select/poll/epoll loop.
func (d *Daemon) GetFdSet() (FdSet, error) {
	if d.mode != modeExternal {
		return FdSet{}, ErrWrongRunMode
	}
	var set FdSet
	lfd := listenerFD(d.listener)
	set.Read = append(set.Read, lfd)
	if lfd > set.MaxFD {
		set.MaxFD = lfd
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for c := range d.conns {
		fd := c.transport.FD()
		switch c.state {
		case stateSend, stateSendBody, stateFooters:
			set.Write = append(set.Write, fd)
		default:
			set.Read = append(set.Read, fd)
		}
		if fd > set.MaxFD {
			set.MaxFD = fd
		}
	}
	return set, nil
}

// Run performs one non-blocking sweep (spec.md SS4.7 run()): advance
// every connection with pending readiness until it would block, accept
// up to one new connection if the listener is readable, reap timed-out
// connections. ready is the subset of GetFdSet's output the host's
// select/poll/epoll call reported as ready.
func (d *Daemon) Run(ready FdSet) error {
	if d.mode != modeExternal {
		return ErrWrongRunMode
	}
	if d.shuttingDown() {
		return ErrDaemonClosed
	}
	lfd := listenerFD(d.listener)
	for _, fd := range ready.Read {
		if fd == lfd {
			if c := d.acceptOnePending(); c != nil {
				if r := c.Advance(); r.closed {
					d.trackConn(c, false)
				}
			}
			break
		}
	}
	readySet := make(map[int]struct{}, len(ready.Read)+len(ready.Write))
	for _, fd := range ready.Read {
		readySet[fd] = struct{}{}
	}
	for _, fd := range ready.Write {
		readySet[fd] = struct{}{}
	}
	d.mu.Lock()
	toAdvance := make([]*Connection, 0, len(d.conns))
	for c := range d.conns {
		if _, ok := readySet[c.transport.FD()]; ok {
			toAdvance = append(toAdvance, c)
		}
	}
	d.mu.Unlock()
	for _, c := range toAdvance {
		r := c.Advance()
		if r.closed {
			d.trackConn(c, false)
		}
	}
	d.reapIdle()
	return nil
}

// connFD and listenerFD (fd.go) extract the raw descriptor from a
// net.Conn / net.Listener for reactor registration and external
// fd-set construction.
