/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mhd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeAll(t *testing.T, input []byte) (data []byte, trailers [][]byte) {
	t.Helper()
	d := &chunkDecoder{}
	for len(input) > 0 {
		r := d.decodeChunk(input)
		require.NoError(t, r.err)
		if r.data != nil {
			data = append(data, r.data...)
		}
		if r.trailerLine != nil {
			trailers = append(trailers, append([]byte(nil), r.trailerLine...))
		}
		require.False(t, r.needMore, "full input should never need more bytes")
		input = input[r.consumed:]
		if r.done {
			break
		}
	}
	return data, trailers
}

func TestChunkDecodeSimple(t *testing.T) {
	data, _ := decodeAll(t, []byte("4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"))
	require.Equal(t, "Wikipedia", string(data))
}

func TestChunkDecodeWithExtension(t *testing.T) {
	data, _ := decodeAll(t, []byte("4;ignored=ext\r\nabcd\r\n0\r\n\r\n"))
	require.Equal(t, "abcd", string(data))
}

func TestChunkDecodeWithTrailers(t *testing.T) {
	data, trailers := decodeAll(t, []byte("3\r\nabc\r\n0\r\nX-Trailer: yes\r\n\r\n"))
	require.Equal(t, "abc", string(data))
	require.Len(t, trailers, 1)
	require.Equal(t, "X-Trailer: yes", string(trailers[0]))
}

func TestChunkDecodeNeedsMoreAcrossSplitReads(t *testing.T) {
	d := &chunkDecoder{}
	// The size line is still incomplete: nothing can be consumed yet.
	r := d.decodeChunk([]byte("4\r"))
	require.True(t, r.needMore)

	// Once complete, the size line is consumed on its own; the chunk
	// data is decoded by the next call.
	r = d.decodeChunk([]byte("4\r\nWiki\r\n0\r\n\r\n"))
	require.False(t, r.needMore)
	r = d.decodeChunk([]byte("Wiki\r\n0\r\n\r\n"))
	require.Equal(t, "Wiki", string(r.data))
}

func TestChunkDecodeBadSizeLine(t *testing.T) {
	d := &chunkDecoder{}
	r := d.decodeChunk([]byte("zzz\r\n"))
	require.ErrorIs(t, r.err, ErrBadChunkFraming)
}

func TestChunkDecodeMissingDataCRLF(t *testing.T) {
	d := &chunkDecoder{}
	r := d.decodeChunk([]byte("2\r\n"))
	require.Equal(t, 3, r.consumed)
	r = d.decodeChunk([]byte("ab"))
	require.Equal(t, 2, r.consumed)
	r = d.decodeChunk([]byte("XX"))
	require.ErrorIs(t, r.err, ErrBadChunkFraming)
}

func TestChunkTooLarge(t *testing.T) {
	d := &chunkDecoder{}
	r := d.decodeChunk([]byte("ffffffffffffffffff\r\n"))
	require.ErrorIs(t, r.err, ErrChunkTooLarge)
}

func TestAppendChunkRoundTrip(t *testing.T) {
	var buf []byte
	buf = appendChunk(buf, []byte("hello"))
	buf = appendLastChunk(buf)

	data, _ := decodeAll(t, buf)
	require.Equal(t, "hello", string(data))
}

func TestAppendChunkSkipsEmptyData(t *testing.T) {
	var buf []byte
	buf = appendChunk(buf, nil)
	require.Empty(t, buf)
}

func TestParseHexUint(t *testing.T) {
	n, err := parseHexUint([]byte("1a2b"))
	require.NoError(t, err)
	require.Equal(t, uint64(0x1a2b), n)

	_, err = parseHexUint(nil)
	require.ErrorIs(t, err, ErrBadChunkFraming)
}
