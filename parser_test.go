/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/addflowinc/libmicrohttpd2/hdr"
)

func advanceFully(t *testing.T, p *Parser, buf []byte) []ParseEvent {
	t.Helper()
	var events []ParseEvent
	for len(buf) > 0 {
		n, ev := p.Advance(buf)
		events = append(events, ev)
		if ev.Kind == EventError {
			return events
		}
		if n == 0 {
			break
		}
		buf = buf[n:]
	}
	return events
}

func TestParserSimpleGET(t *testing.T) {
	p := NewParser(hdr.NewMap())
	raw := "GET /hello HTTP/1.1\r\nHost: example.com\r\n\r\n"
	events := advanceFully(t, p, []byte(raw))

	require.Equal(t, EventHeadersReady, events[len(events)-1].Kind)
	require.Equal(t, "GET", p.Method)
	require.Equal(t, "/hello", p.RawURL)
	require.True(t, p.HTTP11)
}

func TestParserMissingHostOnHTTP11(t *testing.T) {
	p := NewParser(hdr.NewMap())
	raw := "GET / HTTP/1.1\r\n\r\n"
	events := advanceFully(t, p, []byte(raw))

	last := events[len(events)-1]
	require.Equal(t, EventError, last.Kind)
	require.ErrorIs(t, last.Err, ErrMissingHost)
}

func TestParserHTTP10NoHostRequired(t *testing.T) {
	p := NewParser(hdr.NewMap())
	raw := "GET / HTTP/1.0\r\n\r\n"
	events := advanceFully(t, p, []byte(raw))
	require.Equal(t, EventHeadersReady, events[len(events)-1].Kind)
}

func TestParserContentLengthFraming(t *testing.T) {
	p := NewParser(hdr.NewMap())
	raw := "POST /submit HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\n\r\nhello"
	events := advanceFully(t, p, []byte(raw))
	// BodyDone is reported by the call after the last body byte was
	// consumed, which advanceFully never makes once the buffer is empty.
	_, ev := p.Advance(nil)
	events = append(events, ev)

	var gotChunk, gotDone bool
	var body []byte
	for _, ev := range events {
		if ev.Kind == EventBodyChunk {
			gotChunk = true
			body = append(body, ev.Data...)
		}
		if ev.Kind == EventBodyDone {
			gotDone = true
		}
	}
	require.True(t, gotChunk)
	require.True(t, gotDone)
	require.Equal(t, "hello", string(body))
}

func TestParserZeroContentLengthSkipsBody(t *testing.T) {
	p := NewParser(hdr.NewMap())
	raw := "POST /submit HTTP/1.1\r\nHost: h\r\nContent-Length: 0\r\n\r\n"
	events := advanceFully(t, p, []byte(raw))
	require.Equal(t, EventHeadersReady, events[len(events)-1].Kind)
}

func TestParserConflictingContentLengthsRejected(t *testing.T) {
	p := NewParser(hdr.NewMap())
	raw := "POST /submit HTTP/1.1\r\nHost: h\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\n"
	events := advanceFully(t, p, []byte(raw))
	last := events[len(events)-1]
	require.Equal(t, EventError, last.Kind)
	require.ErrorIs(t, last.Err, ErrConflictingLength)
}

func TestParserChunkedFraming(t *testing.T) {
	p := NewParser(hdr.NewMap())
	raw := "POST /submit HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	events := advanceFully(t, p, []byte(raw))

	var body []byte
	var gotDone bool
	for _, ev := range events {
		if ev.Kind == EventBodyChunk {
			body = append(body, ev.Data...)
		}
		if ev.Kind == EventBodyDone {
			gotDone = true
		}
	}
	require.True(t, gotDone)
	require.Equal(t, "Wikipedia", string(body))
}

func TestParserTransferEncodingNotEndingInChunkedRejected(t *testing.T) {
	p := NewParser(hdr.NewMap())
	raw := "POST /submit HTTP/1.1\r\nHost: h\r\nTransfer-Encoding: gzip\r\n\r\n"
	events := advanceFully(t, p, []byte(raw))

	last := events[len(events)-1]
	require.Equal(t, EventError, last.Kind)
	require.ErrorIs(t, last.Err, ErrBadChunkFraming)
}

func TestParserExpectContinue(t *testing.T) {
	p := NewParser(hdr.NewMap())
	raw := "POST /submit HTTP/1.1\r\nHost: h\r\nContent-Length: 3\r\nExpect: 100-continue\r\n\r\n"
	advanceFully(t, p, []byte(raw))
	require.True(t, p.NeedsContinue())
	p.ContinueSent()
	require.False(t, p.NeedsContinue())
}

func TestParserObsoleteLineFolding(t *testing.T) {
	p := NewParser(hdr.NewMap())
	raw := "GET / HTTP/1.1\r\nHost: h\r\nX-Long: first\r\n continuation\r\n\r\n"
	advanceFully(t, p, []byte(raw))

	v, ok := p.RequestHdr.LookupFirst(hdr.Header, "X-Long")
	require.True(t, ok)
	require.Equal(t, "first continuation", v)
}

func TestParserMalformedStartLine(t *testing.T) {
	p := NewParser(hdr.NewMap())
	events := advanceFully(t, p, []byte("GARBAGE\r\n\r\n"))
	last := events[len(events)-1]
	require.Equal(t, EventError, last.Kind)
	require.ErrorIs(t, last.Err, ErrMalformedStartLine)
}

func TestParserUnsupportedVersion(t *testing.T) {
	p := NewParser(hdr.NewMap())
	events := advanceFully(t, p, []byte("GET / HTTP/2.0\r\n\r\n"))
	last := events[len(events)-1]
	require.Equal(t, EventError, last.Kind)
	require.ErrorIs(t, last.Err, ErrUnsupportedVersion)
}

func TestParserOversizedHeaderBlockRejected(t *testing.T) {
	p := NewParser(hdr.NewMap())
	var sb strings.Builder
	sb.WriteString("GET / HTTP/1.1\r\nHost: h\r\n")
	// A single unterminated header line bigger than the cap, fed in one
	// shot so advanceHeaders sees it as one incomplete blob.
	sb.WriteString("X-Big: ")
	sb.WriteString(strings.Repeat("a", maxHeaderBlock+1))
	buf := []byte(sb.String())

	events := advanceFully(t, p, buf)
	last := events[len(events)-1]
	require.Equal(t, EventError, last.Kind)
	require.ErrorIs(t, last.Err, ErrHeaderTooLarge)
}

func TestParserNeedsMoreAcrossSplitFeed(t *testing.T) {
	p := NewParser(hdr.NewMap())
	n, ev := p.Advance([]byte("GET /x HTTP/1."))
	require.Equal(t, EventNeedMore, ev.Kind)
	require.Equal(t, 0, n)

	n, ev = p.Advance([]byte("GET /x HTTP/1.1\r\n"))
	require.Equal(t, EventNeedMore, ev.Kind)
	require.Equal(t, len("GET /x HTTP/1.1\r\n"), n)
	require.Equal(t, "/x", p.RawURL)
}

func TestParserPipeliningLeadingBlankLineTolerated(t *testing.T) {
	p := NewParser(hdr.NewMap())
	raw := "\r\nGET / HTTP/1.1\r\nHost: h\r\n\r\n"
	events := advanceFully(t, p, []byte(raw))
	require.Equal(t, EventHeadersReady, events[len(events)-1].Kind)
}

func TestParserResetForPipelinedRequest(t *testing.T) {
	m := hdr.NewMap()
	p := NewParser(m)
	advanceFully(t, p, []byte("GET /one HTTP/1.1\r\nHost: h\r\n\r\n"))
	require.Equal(t, "/one", p.RawURL)

	m2 := hdr.NewMap()
	p.Reset(m2)
	advanceFully(t, p, []byte("GET /two HTTP/1.1\r\nHost: h\r\n\r\n"))
	require.Equal(t, "/two", p.RawURL)
}
