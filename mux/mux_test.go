/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package mux

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupLongestPrefixWins(t *testing.T) {
	r := New()
	require.True(t, r.Register("/api", "api-handler", nil))
	require.True(t, r.Register("/api/v2", "api-v2-handler", nil))

	h, _, ok := r.Lookup("/api/v2/users")
	require.True(t, ok)
	require.Equal(t, "api-v2-handler", h)
}

func TestLookupFallsBackToDefault(t *testing.T) {
	r := New()
	require.True(t, r.Register("", "default-handler", nil))
	require.True(t, r.Register("/api", "api-handler", nil))

	h, _, ok := r.Lookup("/unmatched")
	require.True(t, ok)
	require.Equal(t, "default-handler", h)
}

func TestLookupNoDefaultRegistered(t *testing.T) {
	r := New()
	require.True(t, r.Register("/api", "api-handler", nil))

	_, _, ok := r.Lookup("/nope")
	require.False(t, ok)
}

func TestRegisterRejectsDuplicatePrefix(t *testing.T) {
	r := New()
	require.True(t, r.Register("/api", "h1", nil))
	require.False(t, r.Register("/api", "h2", nil))
}

func TestUnregisterRemovesByPrefix(t *testing.T) {
	r := New()
	require.True(t, r.Register("/api", "h1", nil))
	require.True(t, r.Unregister("/api", "h1"))

	_, _, ok := r.Lookup("/api")
	require.False(t, ok)
}

func TestUnregisterNotFound(t *testing.T) {
	r := New()
	require.False(t, r.Unregister("/missing", "h"))
}

func TestCtxRoundTrip(t *testing.T) {
	r := New()
	type ctxT struct{ n int }
	require.True(t, r.Register("/x", "h", &ctxT{n: 7}))

	_, ctx, ok := r.Lookup("/x/y")
	require.True(t, ok)
	require.Equal(t, &ctxT{n: 7}, ctx)
}
