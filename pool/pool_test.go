/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package pool

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateAligns(t *testing.T) {
	p := New(64)
	a := p.Allocate(3)
	require.NotNil(t, a)
	require.Len(t, a, 3)

	b := p.Allocate(1)
	require.NotNil(t, b)
	require.Equal(t, 16, p.low, "second allocation should start on the 8-byte boundary and end the bump pointer at 16")
}

func TestAllocateExhausted(t *testing.T) {
	p := New(8)
	require.NotNil(t, p.Allocate(8))
	require.Nil(t, p.Allocate(1))
}

func TestAllocateScratchGrowsFromHighEnd(t *testing.T) {
	p := New(64)
	s := p.AllocateScratch(16)
	require.NotNil(t, s)
	require.Equal(t, 48, p.high)
}

func TestScratchAndLowRegionsDontCollide(t *testing.T) {
	p := New(16)
	require.NotNil(t, p.Allocate(8))
	require.Nil(t, p.AllocateScratch(16), "scratch allocation overlapping the low region must fail")
}

func TestResetToReleasesScratch(t *testing.T) {
	p := New(64)
	mark := p.ScratchMark()
	require.NotNil(t, p.AllocateScratch(32))
	require.Equal(t, 32, p.high)

	p.ResetTo(mark)
	require.Equal(t, 64, p.high)
}

func TestResetLowToReleasesOnlyLaterAllocations(t *testing.T) {
	p := New(64)
	require.NotNil(t, p.Allocate(8), "connection-lifetime allocation")
	mark := p.LowWaterMark()

	require.NotNil(t, p.Allocate(8), "per-request allocation 1")
	require.NotNil(t, p.Allocate(8), "per-request allocation 2")
	require.Equal(t, 24, p.low)

	p.ResetLowTo(mark)
	require.Equal(t, 8, p.low, "rewinding past the checkpoint must preserve the connection-lifetime allocation")
}

func TestResetLowToIgnoresOutOfRangeMark(t *testing.T) {
	p := New(32)
	require.NotNil(t, p.Allocate(8))
	p.ResetLowTo(LowMark(-1))
	require.Equal(t, 8, p.low, "an invalid mark must not move the bump pointer")
}

func TestReallocateInPlaceGrow(t *testing.T) {
	p := New(64)
	a := p.Allocate(4)
	grown := p.Reallocate(a, 4, 12)
	require.NotNil(t, grown)
	require.Len(t, grown, 12)
	require.Equal(t, 16, p.low, "in-place grow must not move the bump pointer past the new aligned length")
}

func TestReallocateFallsBackToFreshBlockWhenNotLastAllocation(t *testing.T) {
	p := New(64)
	first := p.Allocate(4)
	_ = p.Allocate(4) // second allocation makes first no longer "last"

	copy(first, "abcd")
	grown := p.Reallocate(first, 4, 8)
	require.NotNil(t, grown)
	require.Equal(t, "abcd", string(grown[:4]))
}

func TestResetReclaimsBothRegions(t *testing.T) {
	p := New(64)
	require.NotNil(t, p.Allocate(8))
	require.NotNil(t, p.AllocateScratch(8))
	p.Reset()
	require.Equal(t, 0, p.low)
	require.Equal(t, 64, p.high)
}

func TestUsedAndCap(t *testing.T) {
	p := New(64)
	require.Equal(t, 64, p.Cap())
	require.NotNil(t, p.Allocate(8))
	require.NotNil(t, p.AllocateScratch(8))
	require.Equal(t, 16, p.Used())
}

func TestDestroy(t *testing.T) {
	p := New(16)
	p.Destroy()
	require.Equal(t, 0, p.Cap())
}
