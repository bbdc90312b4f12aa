/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/addflowinc/libmicrohttpd2/hdr"
	mhdurl "github.com/addflowinc/libmicrohttpd2/url"
)

const (
	maxURLLength    = 8 * 1024
	maxHeaderBlock  = 32 * 1024
	maxStartLineLen = maxURLLength + 64
)

// EventKind is the incremental RequestParser's yield, per spec.md
// SS4.4: {NeedMore, HeadersReady, BodyChunk(n), BodyDone, Error(kind)}.
type EventKind int

const (
	EventNeedMore EventKind = iota
	EventHeadersReady
	EventBodyChunk
	EventBodyDone
	EventError
)

// ParseEvent is returned by Parser.Advance.
type ParseEvent struct {
	Kind EventKind
	Data []byte // for EventBodyChunk
	Err  error  // for EventError
}

type bodyFraming int

const (
	framingNone bodyFraming = iota
	framingContentLength
	framingChunked
	framingStreaming // POST/PUT with neither CL nor TE: handler streams until EOF
)

type parseStage int

const (
	stageStartLine parseStage = iota
	stageHeaders
	stageBody
	stageTrailerDone
)

// Parser is the incremental HTTP/1.1 request parser driving one
// Connection. It never blocks: Advance consumes as much of buf as it
// can and returns NeedMore when it needs bytes that haven't arrived
// yet.
type Parser struct {
	stage parseStage

	Method     string
	RawURL     string
	URL        *mhdurl.URL
	Major      int
	Minor      int
	HTTP11     bool
	RequestHdr *hdr.Map

	headerBytesConsumed int

	framing       bodyFraming
	contentLength int64
	bodyRead      int64
	chunk         chunkDecoder

	expectContinue bool
}

// NewParser returns a fresh Parser ready to consume a new request's
// bytes; headerMap is the per-connection request HeaderMap (GET
// arguments and cookies live in the same Map, tagged by kind).
func NewParser(headerMap *hdr.Map) *Parser {
	return &Parser{RequestHdr: headerMap, stage: stageStartLine}
}

// Reset prepares the parser to read the next pipelined request. The
// HeaderMap is replaced by the caller (it's backed by the connection's
// MemoryPool, which is reset between requests).
func (p *Parser) Reset(headerMap *hdr.Map) {
	*p = Parser{RequestHdr: headerMap, stage: stageStartLine}
}

// Advance consumes as much of buf (bytes [0:len(buf))) as possible,
// returning how many bytes were consumed and the resulting event. The
// caller must discard consumed bytes (or compact the buffer) before
// calling Advance again with the remainder plus any newly-arrived
// bytes - exactly the "leftover bytes preserved byte-exactly" pipeline
// contract in spec.md SS4.5/SS9.
func (p *Parser) Advance(buf []byte) (consumed int, ev ParseEvent) {
	switch p.stage {
	case stageStartLine:
		return p.advanceStartLine(buf)
	case stageHeaders:
		return p.advanceHeaders(buf)
	case stageBody:
		return p.advanceBody(buf)
	default:
		return 0, ParseEvent{Kind: EventBodyDone}
	}
}

func (p *Parser) advanceStartLine(buf []byte) (int, ParseEvent) {
	i := bytes.Index(buf, []byte("\r\n"))
	if i < 0 {
		if len(buf) > maxStartLineLen {
			return 0, errEvent(ErrMalformedStartLine)
		}
		return 0, needMore()
	}
	line := buf[:i]
	if len(line) == 0 {
		// Tolerate a leading blank line before a pipelined request,
		// per common HTTP/1.1 server practice (RFC 7230 SS3.5).
		return i + 2, needMore()
	}
	parts := strings.SplitN(string(line), " ", 3)
	if len(parts) != 3 {
		return 0, errEvent(ErrMalformedStartLine)
	}
	method, rawURL, version := parts[0], parts[1], parts[2]
	if !validMethodToken(method) {
		return 0, errEvent(ErrMalformedStartLine)
	}
	if len(rawURL) > maxURLLength {
		return 0, errEvent(ErrURLTooLong)
	}
	major, minor, ok := parseHTTPVersion(version)
	if !ok {
		return 0, errEvent(ErrUnsupportedVersion)
	}
	u, err := mhdurl.ParseRequestURI(rawURL)
	if err != nil {
		return 0, errEvent(ErrMalformedStartLine)
	}
	p.Method = method
	p.RawURL = rawURL
	p.URL = u
	p.Major, p.Minor = major, minor
	p.HTTP11 = major == 1 && minor == 1
	p.stage = stageHeaders
	return i + 2, needMore()
}

func validMethodToken(m string) bool {
	if len(m) == 0 {
		return false
	}
	for i := 0; i < len(m); i++ {
		if !hdr.ValidHeaderFieldName(m[i : i+1]) {
			return false
		}
	}
	return true
}

func parseHTTPVersion(v string) (major, minor int, ok bool) {
	switch v {
	case "HTTP/1.1":
		return 1, 1, true
	case "HTTP/1.0":
		return 1, 0, true
	default:
		return 0, 0, false
	}
}

func (p *Parser) advanceHeaders(buf []byte) (int, ParseEvent) {
	total := 0
	for {
		i := bytes.Index(buf[total:], []byte("\r\n"))
		if i < 0 {
			pending := len(buf) - total
			if p.headerBytesConsumed+total+pending > maxHeaderBlock {
				return 0, errEvent(ErrHeaderTooLarge)
			}
			p.headerBytesConsumed += total
			return total, needMore()
		}
		line := buf[total : total+i]
		total += i + 2
		if p.headerBytesConsumed+total > maxHeaderBlock {
			return 0, errEvent(ErrHeaderTooLarge)
		}
		if len(line) == 0 {
			// Blank line: headers complete.
			if err := p.finishHeaders(); err != nil {
				return total, errEvent(err)
			}
			if p.framing == framingNone || p.bodyDoneAlready() {
				p.stage = stageTrailerDone
				return total, ParseEvent{Kind: EventHeadersReady}
			}
			p.stage = stageBody
			return total, ParseEvent{Kind: EventHeadersReady}
		}
		// Obsolete line folding: a line starting with SP/HT belongs
		// to the previous header, concatenated with a single space.
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') && p.RequestHdr.Count(hdr.Header) > 0 {
			if err := p.foldIntoPrevious(line); err != nil {
				return total, errEvent(err)
			}
			continue
		}
		if err := p.appendHeaderLine(line); err != nil {
			return total, errEvent(err)
		}
	}
}

func (p *Parser) foldIntoPrevious(cont []byte) error {
	val, ok := p.RequestHdr.LastHeader()
	if !ok {
		return ErrMalformedHeader
	}
	folded := val + " " + hdr.TrimString(string(cont))
	if !hdr.ValidHeaderFieldValue(folded) {
		return ErrMalformedHeader
	}
	return translatePoolErr(p.RequestHdr.ReplaceLastHeader(folded))
}

func (p *Parser) appendHeaderLine(line []byte) error {
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return ErrMalformedHeader
	}
	key := strings.TrimSpace(string(line[:colon]))
	val := hdr.TrimString(string(line[colon+1:]))
	if !hdr.ValidHeaderFieldName(key) {
		return ErrMalformedHeader
	}
	return translatePoolErr(p.RequestHdr.Append(hdr.Header, key, val))
}

func (p *Parser) bodyDoneAlready() bool {
	return p.framing == framingContentLength && p.contentLength == 0
}

func (p *Parser) finishHeaders() error {
	if p.HTTP11 {
		if host, ok := p.RequestHdr.LookupFirst(hdr.Header, hdr.Host); !ok || host == "" {
			return ErrMissingHost
		}
		if exp, ok := p.RequestHdr.LookupFirst(hdr.Header, hdr.Expect); ok {
			p.expectContinue = strings.EqualFold(strings.TrimSpace(exp), "100-continue")
		}
	}
	if te, ok := p.RequestHdr.LookupFirst(hdr.Header, hdr.TransferEncoding); ok {
		fields := strings.Split(te, ",")
		last := strings.ToLower(strings.TrimSpace(fields[len(fields)-1]))
		if last != "chunked" {
			// RFC 7230 §3.3.1: a Transfer-Encoding whose final coding
			// isn't chunked can't be framed - the message length is
			// indeterminate, so it must be rejected, not treated as
			// Content-Length framed.
			return ErrBadChunkFraming
		}
		p.framing = framingChunked
		return nil
	}
	if cls := p.RequestHdr.LookupAll(hdr.Header, hdr.ContentLength); len(cls) > 0 {
		n, err := strconv.ParseInt(strings.TrimSpace(cls[0]), 10, 64)
		if err != nil || n < 0 {
			return ErrConflictingLength
		}
		for _, other := range cls[1:] {
			if strings.TrimSpace(other) != strings.TrimSpace(cls[0]) {
				return ErrConflictingLength
			}
		}
		p.framing = framingContentLength
		p.contentLength = n
		return nil
	}
	switch p.Method {
	case "GET", "HEAD", "DELETE":
		p.framing = framingNone
	default:
		p.framing = framingStreaming
	}
	return nil
}

// NeedsContinue reports whether a "100 Continue" interim response must
// be sent before the body is read (spec.md SS4.4, HTTP/1.0 is
// excluded by construction since expectContinue is only set for
// HTTP/1.1 requests).
func (p *Parser) NeedsContinue() bool { return p.expectContinue }

// ContinueSent marks the 100-continue interim response as emitted so
// it is never sent twice.
func (p *Parser) ContinueSent() { p.expectContinue = false }

func (p *Parser) advanceBody(buf []byte) (int, ParseEvent) {
	switch p.framing {
	case framingContentLength:
		remaining := p.contentLength - p.bodyRead
		if remaining <= 0 {
			p.stage = stageTrailerDone
			return 0, ParseEvent{Kind: EventBodyDone}
		}
		if len(buf) == 0 {
			return 0, needMore()
		}
		take := int64(len(buf))
		if take > remaining {
			take = remaining
		}
		p.bodyRead += take
		ev := ParseEvent{Kind: EventBodyChunk, Data: buf[:take]}
		if p.bodyRead == p.contentLength {
			p.stage = stageTrailerDone
		}
		return int(take), ev
	case framingChunked:
		// Keep stepping the decoder over size lines, CRLFs and trailer
		// lines until it yields data, finishes, or runs out of bytes.
		total := 0
		for {
			res := p.chunk.decodeChunk(buf[total:])
			total += res.consumed
			if res.err != nil {
				return total, errEvent(res.err)
			}
			if res.needMore {
				return total, needMore()
			}
			if res.trailerLine != nil {
				if err := p.appendHeaderLine(res.trailerLine); err != nil {
					return total, errEvent(err)
				}
				continue
			}
			if res.done {
				p.stage = stageTrailerDone
				return total, ParseEvent{Kind: EventBodyDone}
			}
			if len(res.data) > 0 {
				return total, ParseEvent{Kind: EventBodyChunk, Data: res.data}
			}
		}
	case framingStreaming:
		if len(buf) == 0 {
			return 0, needMore()
		}
		// Streamed POST/PUT bodies with neither CL nor TE run until
		// the connection closes or the handler stops asking for more;
		// the FSM decides when to stop calling Advance for this case.
		p.bodyRead += int64(len(buf))
		return len(buf), ParseEvent{Kind: EventBodyChunk, Data: buf}
	default:
		p.stage = stageTrailerDone
		return 0, ParseEvent{Kind: EventBodyDone}
	}
}

func needMore() ParseEvent         { return ParseEvent{Kind: EventNeedMore} }
func errEvent(err error) ParseEvent { return ParseEvent{Kind: EventError, Err: err} }
