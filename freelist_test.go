package memory

import (
	"math"
	"testing"

	"github.com/cznic/mathutil"
	"github.com/stretchr/testify/require"
)

func newTestFreeList(t *testing.T, total uintptr) *FreeListAllocator {
	t.Helper()
	a, err := NewFreeListAllocator(total)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })
	return a
}

// freeListNodes walks the free list and asserts it is strictly
// increasing in address with no two adjacent spans sharing a boundary.
func freeListNodes(t *testing.T, a *FreeListAllocator) []*freeListNode {
	t.Helper()

	var nodes []*freeListNode
	var prev *freeListNode
	for n := a.head; n != nil; n = n.next {
		if prev != nil {
			require.Less(t, prev.address, n.address, "free list must be strictly increasing in address")
			require.NotEqual(t, prev.address+prev.size, n.address, "adjacent free spans must be fully coalesced")
		}
		nodes = append(nodes, n)
		prev = n
	}

	return nodes
}

func TestFreeListCoalesce(t *testing.T) {
	a := newTestFreeList(t, 1024)

	pa, err := a.Allocate(16, 1)
	require.NoError(t, err)
	pb, err := a.Allocate(16, 1)
	require.NoError(t, err)
	pc, err := a.Allocate(16, 1)
	require.NoError(t, err)

	a.Free(pb)
	freeListNodes(t, a)

	a.Free(pa)
	freeListNodes(t, a)

	a.Free(pc)
	nodes := freeListNodes(t, a)

	require.Len(t, nodes, 1, "everything freed should collapse to one whole-buffer node")
	require.Equal(t, uintptr(1024), nodes[0].size)
	require.Zero(t, a.UsedMemory())
}

func TestFreeListOutOfRegionRecovery(t *testing.T) {
	a := newTestFreeList(t, 1024)

	var live []uintptr
	for {
		p, err := a.Allocate(256, 1)
		if err != nil {
			require.ErrorIs(t, err, ErrOutOfRegion)
			break
		}
		live = append(live, uintptr(p))
	}
	require.NotEmpty(t, live)

	a.Free(unsafeFromAddr(live[0]))

	p, err := a.Allocate(256, 1)
	require.NoError(t, err)
	require.Equal(t, live[0], uintptr(p))
}

// TestFreeListSplitTailIsNodeAligned mirrors the free-tree case: a split
// remainder's address must be rounded up to freeListNode's own pointer
// alignment, not left wherever an odd payloadSize happens to land it.
func TestFreeListSplitTailIsNodeAligned(t *testing.T) {
	a := newTestFreeList(t, 1024)

	_, err := a.Allocate(100, 1)
	require.NoError(t, err)
	freeListNodes(t, a)

	require.Zero(t, a.head.address%freeListNodeAlign, "split remainder node must sit at an aligned address")
}

func TestFreeListAllocateRejectsZeroAlign(t *testing.T) {
	a := newTestFreeList(t, 256)
	require.Panics(t, func() { _, _ = a.Allocate(16, 0) })
}

func TestFreeListMinimumPayload(t *testing.T) {
	a := newTestFreeList(t, 256)

	p, err := a.Allocate(1, 1)
	require.NoError(t, err)

	header := headerAt(uintptr(p) - headerSize)
	require.GreaterOrEqual(t, header.payloadSize, minFreeListPayload)
}

func TestFreeListLargestSpanExactAllocationEmptiesIt(t *testing.T) {
	a := newTestFreeList(t, 256)

	usable := a.head.size - headerSize
	p, err := a.Allocate(usable, 1)
	require.NoError(t, err)
	require.NotNil(t, p)

	_, err = a.Allocate(1, 1)
	require.ErrorIs(t, err, ErrOutOfRegion)
}

// TestFreeListRandomRoundTrip drives a pseudo-random allocate/free
// sequence over a mixed size set, freeing roughly every third
// iteration and recovering from OutOfRegion by freeing outstanding
// pointers, then asserts full coalescing at the end.
func TestFreeListRandomRoundTrip(t *testing.T) {
	const total = 64 << 10
	a := newTestFreeList(t, total)

	rng, err := mathutil.NewFC32(0, math.MaxInt32, true)
	require.NoError(t, err)

	sizes := []uintptr{16, 64, 256, 1024, 4096}
	var live []uintptr

	for i := 0; i < 2000; i++ {
		if len(live) > 0 && rng.Next()%3 == 0 {
			idx := rng.Next() % len(live)
			a.Free(unsafeFromAddr(live[idx]))
			live = append(live[:idx], live[idx+1:]...)
			continue
		}

		size := sizes[rng.Next()%len(sizes)]
		p, err := a.Allocate(size, 1)
		if err != nil {
			require.ErrorIs(t, err, ErrOutOfRegion)
			for len(live) > 10 {
				a.Free(unsafeFromAddr(live[0]))
				live = live[1:]
			}
			continue
		}
		live = append(live, uintptr(p))
	}

	for _, p := range live {
		a.Free(unsafeFromAddr(p))
	}

	nodes := freeListNodes(t, a)
	require.Len(t, nodes, 1)
	require.Equal(t, uintptr(total), nodes[0].size)
	require.Zero(t, a.UsedMemory())
}
