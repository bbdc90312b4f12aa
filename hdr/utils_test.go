/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package hdr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrimString(t *testing.T) {
	require.Equal(t, "foo", TrimString("  foo\t\r\n"))
	require.Equal(t, "", TrimString("   "))
	require.Equal(t, "a b", TrimString(" a b "))
}

func TestCanonicalHeaderKey(t *testing.T) {
	require.Equal(t, "Accept-Encoding", CanonicalHeaderKey("accept-encoding"))
	require.Equal(t, "Content-Type", CanonicalHeaderKey("content-type"))
	require.Equal(t, "Content-Type", CanonicalHeaderKey("Content-Type"), "already-canonical input is a no-op")
	require.Equal(t, "X-Custom-Header", CanonicalHeaderKey("x-custom-header"))
}

func TestCanonicalHeaderKeyRejectsInvalidToken(t *testing.T) {
	require.Equal(t, "bad header", CanonicalHeaderKey("bad header"), "a space is not a token byte")
}

func TestValidHeaderFieldNameAndValue(t *testing.T) {
	require.True(t, ValidHeaderFieldName("X-Foo"))
	require.False(t, ValidHeaderFieldName("bad header"))
	require.False(t, ValidHeaderFieldName(""))

	require.True(t, ValidHeaderFieldValue("plain value"))
	require.False(t, ValidHeaderFieldValue("evil\r\nSet-Cookie: x=1"))
}
