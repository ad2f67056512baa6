package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, total, slotSize uintptr) *PoolAllocator {
	t.Helper()
	a, err := NewPoolAllocator(total, slotSize)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	return a
}

func TestPoolExhaustionAndLIFOReuse(t *testing.T) {
	a := newTestPool(t, 1024, 64)

	var ptrs []uintptr
	for i := 0; i < 16; i++ {
		p, err := a.Allocate(64, 1)
		require.NoError(t, err)
		ptrs = append(ptrs, uintptr(p))
	}
	require.Equal(t, uintptr(1024), a.UsedMemory())

	_, err := a.Allocate(64, 1)
	require.ErrorIs(t, err, ErrOutOfRegion)

	last := ptrs[len(ptrs)-1]
	a.Free(unsafeFromAddr(last))

	p, err := a.Allocate(64, 1)
	require.NoError(t, err)
	require.Equal(t, last, uintptr(p))
}

func TestPoolConstructionRejectsBadSlotSize(t *testing.T) {
	require.Panics(t, func() { _, _ = NewPoolAllocator(100, 64) })
	require.Panics(t, func() { _, _ = NewPoolAllocator(128, 0) })
}

func TestPoolConstructionRejectsUnalignedSlotSize(t *testing.T) {
	require.Panics(t, func() { _, _ = NewPoolAllocator(900, 9) })
}

func TestPoolAllocateRejectsOversizeRequest(t *testing.T) {
	a := newTestPool(t, 256, 64)
	require.Panics(t, func() { _, _ = a.Allocate(128, 1) })
}

func TestPoolAllocateRejectsZeroAlign(t *testing.T) {
	a := newTestPool(t, 256, 64)
	require.Panics(t, func() { _, _ = a.Allocate(16, 0) })
}

func TestPoolClearRebuildsFreeStack(t *testing.T) {
	a := newTestPool(t, 256, 64)

	for i := 0; i < 4; i++ {
		_, err := a.Allocate(64, 1)
		require.NoError(t, err)
	}
	_, err := a.Allocate(64, 1)
	require.ErrorIs(t, err, ErrOutOfRegion)

	a.Clear()
	require.Zero(t, a.UsedMemory())

	for i := 0; i < 4; i++ {
		_, err := a.Allocate(64, 1)
		require.NoError(t, err)
	}
}
