package memory

import "unsafe"

// BumpAllocator monotonically advances a top pointer into the backing
// buffer. Free only understands rewinding the top: giving it an address
// below top (normally one returned by Allocate) undoes the allocation
// there and everything allocated after it; an address at or above top
// is a no-op.
// Clear resets top to base. There is no per-allocation bookkeeping and
// no coalescing. The entire discipline is "how far have we bumped".
type BumpAllocator struct {
	stats
	buf  []byte
	base uintptr
	top  uintptr
}

// NewBumpAllocator reserves a total-byte backing buffer from the host
// and returns a ready-to-use bump allocator.
func NewBumpAllocator(total uintptr) (*BumpAllocator, error) {
	if total == 0 {
		contractViolation("BumpAllocator: total must be non-zero")
	}

	buf, err := newBuffer(int(total))
	if err != nil {
		return nil, err
	}

	base := uintptr(unsafe.Pointer(&buf[0]))
	a := &BumpAllocator{buf: buf, base: base, top: base}
	a.stats.total = total

	return a, nil
}

func (a *BumpAllocator) Allocate(size, align uintptr) (unsafe.Pointer, error) {
	if size == 0 {
		contractViolation("BumpAllocator.Allocate: size must be non-zero")
	}

	adj := adjustment(a.top, align)
	alignedTop := a.top + adj
	newTop := alignedTop + size

	if newTop > a.base+a.stats.total {
		return nil, &OutOfRegionError{Requested: size, Align: align, Available: a.stats.total}
	}

	a.top = newTop
	a.stats.setUsed(a.top - a.base)

	if trace {
		debugf("Bump.Allocate(%d, %d) -> %#x", size, align, alignedTop)
	}

	return unsafe.Pointer(alignedTop), nil
}

// Free rewinds top to ptr if ptr lies strictly below top (LIFO rewind,
// or bulk truncation for cooperating callers); if ptr is at or above
// top, it is a no-op. A stale "rewind to marker" call never moves top
// forward.
func (a *BumpAllocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		contractViolation("BumpAllocator.Free: ptr must not be nil")
	}

	addr := uintptr(ptr)
	if addr >= a.top {
		return
	}

	a.top = addr
	a.stats.setUsed(a.top - a.base)
}

func (a *BumpAllocator) Clear() {
	a.top = a.base
	a.stats.clear()
}

func (a *BumpAllocator) Close() error {
	err := freeBuffer(a.buf)
	a.buf = nil
	return err
}
