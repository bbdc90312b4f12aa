/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/addflowinc/libmicrohttpd2/mux"
	"github.com/addflowinc/libmicrohttpd2/pool"
	"github.com/addflowinc/libmicrohttpd2/transport"
)

// testDaemon builds a minimal, listener-less Daemon wired with handler
// as the default handler - enough to drive Connection.Advance in
// isolation without a real net.Listener.
func testDaemon(t *testing.T, handler AccessHandler) *Daemon {
	t.Helper()
	d := &Daemon{
		opts:     defaultOptions(),
		handlers: mux.New(),
		conns:    make(map[*Connection]struct{}),
		doneChan: make(chan struct{}),
		log:      newDebugLogger(false),
	}
	d.handlers.Register("", handler, nil)
	return d
}

// runServer drives c.Advance in a loop on a background goroutine,
// mirroring serveThreaded, until the connection closes. The returned
// channel receives the TerminationReason the connection closed with.
func runServer(c *Connection) <-chan TerminationReason {
	done := make(chan TerminationReason, 1)
	go func() {
		for {
			r := c.Advance()
			if r.closed {
				done <- r.terminatedAs
				return
			}
		}
	}()
	return done
}

func echoHandler(body *[]byte, mu *sync.Mutex) AccessHandler {
	return func(session *Connection, uploadData []byte) Result {
		if uploadData != nil {
			mu.Lock()
			*body = append(*body, uploadData...)
			mu.Unlock()
			return Yes
		}
		if session.response != nil {
			return Yes
		}
		if session.ClientContext() == nil {
			// Headers-ready call: queueing now would suppress the body
			// calls, so only note that the request has started.
			session.SetClientContext(true)
			return Yes
		}
		resp := FromFixedBuffer([]byte("hello"))
		_ = session.QueueResponse(StatusOK, resp)
		return Yes
	}
}

func TestFSMSimpleGET(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	d := testDaemon(t, echoHandler(new([]byte), new(sync.Mutex)))
	c := newConnection(d, transport.NewPlain(server, -1), "test", pool.DefaultCapacity, false)
	d.trackConn(c, true)
	done := runServer(c)

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	// ReadAll blocks on each unmatched server Send until it drains the
	// whole response, then returns at EOF once the server closes -
	// exactly the point closeNow fires.
	resp, err := io.ReadAll(client)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(resp), "HTTP/1.1 200 OK\r\n"))
	require.True(t, strings.HasSuffix(string(resp), "hello"))

	select {
	case reason := <-done:
		require.Equal(t, TerminatedComplete, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("connection never closed")
	}
}

func TestFSMKeepAlivePipelining(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	d := testDaemon(t, echoHandler(new([]byte), new(sync.Mutex)))
	c := newConnection(d, transport.NewPlain(server, -1), "test", pool.DefaultCapacity, false)
	d.trackConn(c, true)
	go func() {
		for {
			if c.Advance().closed {
				return
			}
		}
	}()

	r := bufio.NewReader(client)
	// Both requests go out in one write, so the second one waits in the
	// server's read buffer while the first is answered.
	_, err := client.Write([]byte(strings.Repeat("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n", 2)))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		status, err := r.ReadString('\n')
		require.NoError(t, err)
		require.Equal(t, "HTTP/1.1 200 OK\r\n", status)
		// Drain headers + body for this response before reading the
		// next one.
		for {
			line, err := r.ReadString('\n')
			require.NoError(t, err)
			if line == "\r\n" {
				break
			}
		}
		body := make([]byte, len("hello"))
		_, err = io.ReadFull(r, body)
		require.NoError(t, err)
		require.Equal(t, "hello", string(body))
	}
}

func TestFSMChunkedUpload(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	var body []byte
	var mu sync.Mutex
	d := testDaemon(t, echoHandler(&body, &mu))
	c := newConnection(d, transport.NewPlain(server, -1), "test", pool.DefaultCapacity, false)
	d.trackConn(c, true)
	done := runServer(c)

	req := "POST /upload HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: chunked\r\nConnection: close\r\n\r\n" +
		"5\r\nhello\r\n0\r\n\r\n"
	_, err := client.Write([]byte(req))
	require.NoError(t, err)

	resp, err := io.ReadAll(client)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(resp), "HTTP/1.1 200 OK\r\n"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection never closed")
	}
	mu.Lock()
	require.Equal(t, "hello", string(body))
	mu.Unlock()
}

func TestFSMUnknownLengthResponseIsChunked(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	handler := func(session *Connection, uploadData []byte) Result {
		if uploadData != nil {
			return Yes
		}
		if session.response != nil {
			return Yes
		}
		words := [][]byte{[]byte("foo"), []byte("bar")}
		i := 0
		resp := FromCallback(UnknownSize, func(pos int64, buf []byte) (int, error) {
			if i >= len(words) {
				return 0, nil
			}
			n := copy(buf, words[i])
			i++
			return n, nil
		}, nil)
		_ = session.QueueResponse(StatusOK, resp)
		return Yes
	}
	d := testDaemon(t, handler)
	c := newConnection(d, transport.NewPlain(server, -1), "test", pool.DefaultCapacity, false)
	d.trackConn(c, true)
	done := runServer(c)

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: h\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	resp, err := io.ReadAll(client)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(resp), "HTTP/1.1 200 OK\r\n"))
	require.True(t, strings.Contains(string(resp), "Transfer-Encoding: chunked\r\n"))
	require.True(t, strings.HasSuffix(string(resp), "0\r\n\r\n"), "must end with the terminating zero-length chunk")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection never closed")
	}
}

func TestFSMOversizedHeaderBlockSends400(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	d := testDaemon(t, echoHandler(new([]byte), new(sync.Mutex)))
	// A pool big enough that the read buffer can grow past
	// maxHeaderBlock before ever hitting ErrBufferFull, so the header
	// cap itself (not memory exhaustion) is what trips first.
	c := newConnection(d, transport.NewPlain(server, -1), "test", 4*maxHeaderBlock, false)
	d.trackConn(c, true)
	done := runServer(c)

	big := make([]byte, maxHeaderBlock+100)
	for i := range big {
		big[i] = 'a'
	}
	req := append([]byte("GET / HTTP/1.1\r\nHost: h\r\nX-Big: "), big...)
	go client.Write(req) //nolint:errcheck // best-effort, connection closes once the cap trips

	r := bufio.NewReader(client)
	status, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 400 Bad Request\r\n", status)

	select {
	case reason := <-done:
		require.Equal(t, TerminatedWithError, reason)
	case <-time.After(2 * time.Second):
		t.Fatal("connection never closed")
	}
}

func TestFSMClientAbortReportsClientAbortTermination(t *testing.T) {
	d := testDaemon(t, echoHandler(new([]byte), new(sync.Mutex)))
	c := newConnection(d, &abortingTransport{}, "test", pool.DefaultCapacity, false)
	d.trackConn(c, true)

	r := c.Advance()
	require.True(t, r.closed)
	require.Equal(t, TerminatedClientAbort, r.terminatedAs)
}

// abortingTransport simulates a peer RST: Recv always fails with
// ECONNRESET, as if wrapped in a *net.OpError like a real socket read
// would be.
type abortingTransport struct{}

func (a *abortingTransport) FD() int { return -1 }
func (a *abortingTransport) Handshake() (transport.HandshakeState, error) {
	return transport.HandshakeNotNeeded, nil
}
func (a *abortingTransport) Recv(buf []byte) (int, error) {
	return 0, &net.OpError{Op: "read", Err: syscall.ECONNRESET}
}
func (a *abortingTransport) Send(buf []byte) (int, error) { return len(buf), nil }
func (a *abortingTransport) Close() error                 { return nil }

func TestReapIdleInvokesNotifier(t *testing.T) {
	var gotReason TerminationReason
	var gotConn *Connection
	d := testDaemon(t, echoHandler(new([]byte), new(sync.Mutex)))
	d.opts.idleTimeout = time.Millisecond
	d.opts.notifier = func(conn *Connection, reason TerminationReason) {
		gotConn = conn
		gotReason = reason
	}

	server, client := net.Pipe()
	defer client.Close()
	c := newConnection(d, transport.NewPlain(server, -1), "test", pool.DefaultCapacity, false)
	c.lastActivity = time.Now().Add(-time.Hour)
	d.trackConn(c, true)

	d.reapIdle()

	require.Equal(t, c, gotConn)
	require.Equal(t, TerminatedTimeoutReached, gotReason)
}
