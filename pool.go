package memory

import "unsafe"

// poolNode is the single pointer threaded through every free slot to
// form the LIFO free-stack; it lives at the start of the slot's bytes
// and is overwritten by user data the moment the slot is handed out.
type poolNode struct {
	next *poolNode
}

// PoolAllocator splits the backing buffer into total/slotSize equal
// slots and threads the free ones into a LIFO stack. Allocate pops the
// head slot, Free pushes ptr back onto the stack; there is no
// coalescing and no validation that ptr points to a slot boundary.
type PoolAllocator struct {
	stats
	buf      []byte
	base     uintptr
	slotSize uintptr
	numSlots uintptr
	head     *poolNode
}

// NewPoolAllocator reserves a total-byte buffer split into numSlots =
// total/slotSize equal slots. total must be a multiple of slotSize, and
// slotSize must be large enough to host a poolNode.
func NewPoolAllocator(total, slotSize uintptr) (*PoolAllocator, error) {
	if slotSize == 0 {
		contractViolation("PoolAllocator: slotSize must be non-zero")
	}
	if total == 0 || total%slotSize != 0 {
		contractViolation("PoolAllocator: total (%d) must be a non-zero multiple of slotSize (%d)", total, slotSize)
	}
	if minSlot := unsafe.Sizeof(poolNode{}); slotSize < minSlot {
		contractViolation("PoolAllocator: slotSize (%d) must be at least %d bytes", slotSize, minSlot)
	}
	if nodeAlign := unsafe.Alignof(poolNode{}); slotSize%nodeAlign != 0 {
		contractViolation("PoolAllocator: slotSize (%d) must be a multiple of %d", slotSize, nodeAlign)
	}

	buf, err := newBuffer(int(total))
	if err != nil {
		return nil, err
	}

	a := &PoolAllocator{
		buf:      buf,
		base:     uintptr(unsafe.Pointer(&buf[0])),
		slotSize: slotSize,
		numSlots: total / slotSize,
	}
	a.stats.total = total
	a.rebuildFreeStack()

	return a, nil
}

// rebuildFreeStack threads every slot onto the free stack, walking the
// buffer from high address down so that allocation proceeds low-to-high
// first, pleasant for cache locality but not load-bearing for correctness.
func (a *PoolAllocator) rebuildFreeStack() {
	a.head = nil
	addr := a.base + a.stats.total
	for i := uintptr(0); i < a.numSlots; i++ {
		addr -= a.slotSize
		node := (*poolNode)(unsafe.Pointer(addr))
		node.next = a.head
		a.head = node
	}
}

func (a *PoolAllocator) Allocate(size, align uintptr) (unsafe.Pointer, error) {
	if size == 0 {
		contractViolation("PoolAllocator.Allocate: size must be non-zero")
	}
	if size > a.slotSize {
		contractViolation("PoolAllocator.Allocate: size (%d) exceeds slot size (%d)", size, a.slotSize)
	}
	if !isPowerOfTwo(align) {
		contractViolation("PoolAllocator.Allocate: align (%d) must be a power of two", align)
	}
	if a.slotSize%align != 0 {
		contractViolation("PoolAllocator.Allocate: slot size (%d) not a multiple of align (%d)", a.slotSize, align)
	}

	if a.head == nil {
		return nil, &OutOfRegionError{Requested: size, Align: align, Available: a.stats.total}
	}

	node := a.head
	a.head = a.head.next
	a.stats.reserve(a.slotSize)

	if trace {
		debugf("Pool.Allocate(%d, %d) -> %p", size, align, unsafe.Pointer(node))
	}

	return unsafe.Pointer(node), nil
}

// Free pushes ptr back onto the free stack. No coalescing, no
// validation that ptr is actually a slot boundary produced by this
// allocator. Double-free or foreign pointers are undefined behavior.
func (a *PoolAllocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		contractViolation("PoolAllocator.Free: ptr must not be nil")
	}

	node := (*poolNode)(ptr)
	node.next = a.head
	a.head = node
	a.stats.release(a.slotSize)
}

func (a *PoolAllocator) Clear() {
	a.rebuildFreeStack()
	a.stats.clear()
}

func (a *PoolAllocator) Close() error {
	err := freeBuffer(a.buf)
	a.buf = nil
	return err
}
