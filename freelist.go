package memory

import "unsafe"

// allocHeader precedes every live span handed out by the free-list and
// free-tree allocators. header_start = userPtr - sizeof(allocHeader);
// span_start = userPtr - adjustment - sizeof(allocHeader); span_end =
// userPtr + payloadSize.
type allocHeader struct {
	payloadSize uintptr
	adjustment  uintptr
}

var headerSize = unsafe.Sizeof(allocHeader{})

func headerAt(addr uintptr) *allocHeader {
	return (*allocHeader)(unsafe.Pointer(addr))
}

// freeListNode is the intrusive record at the start of every free span
// in a FreeListAllocator, kept in a singly linked list sorted by
// ascending address. address is a cached copy of the node's own start,
// read during the address-ordered walk.
type freeListNode struct {
	size    uintptr
	address uintptr
	next    *freeListNode
}

var freeListNodeSize = unsafe.Sizeof(freeListNode{})
var freeListNodeAlign = unsafe.Alignof(freeListNode{})

// minFreeListPayload is the smallest payloadSize a live span can carry:
// large enough that, once freed, the span can host a freeListNode in
// place of the allocation header.
var minFreeListPayload = freeListNodeSize - headerSize

func newFreeListNode(addr, size uintptr, next *freeListNode) *freeListNode {
	n := (*freeListNode)(unsafe.Pointer(addr))
	n.size = size
	n.address = addr
	n.next = next
	return n
}

// FreeListAllocator keeps free spans in a singly linked, address-ordered
// list and allocates first-fit, coalescing with both neighbors in place
// on Free.
type FreeListAllocator struct {
	stats
	buf  []byte
	base uintptr
	head *freeListNode
}

// NewFreeListAllocator reserves a total-byte backing buffer and starts
// with one free node covering the whole of it.
func NewFreeListAllocator(total uintptr) (*FreeListAllocator, error) {
	if total == 0 {
		contractViolation("FreeListAllocator: total must be non-zero")
	}

	buf, err := newBuffer(int(total))
	if err != nil {
		return nil, err
	}

	base := uintptr(unsafe.Pointer(&buf[0]))
	a := &FreeListAllocator{buf: buf, base: base}
	a.stats.total = total
	a.head = newFreeListNode(base, total, nil)

	return a, nil
}

func (a *FreeListAllocator) Allocate(size, align uintptr) (unsafe.Pointer, error) {
	if size == 0 {
		contractViolation("FreeListAllocator.Allocate: size must be non-zero")
	}
	if !isPowerOfTwo(align) {
		contractViolation("FreeListAllocator.Allocate: align (%d) must be a power of two", align)
	}

	payloadSize := size
	if payloadSize < minFreeListPayload {
		payloadSize = minFreeListPayload
	}
	required := payloadSize + headerSize + align - 1

	var prev, curr *freeListNode
	curr = a.head
	for curr != nil && curr.size < required {
		prev = curr
		curr = curr.next
	}
	if curr == nil {
		return nil, &OutOfRegionError{Requested: size, Align: align, Available: a.stats.total}
	}

	adj := adjustment(curr.address+headerSize, align)
	userAddr := curr.address + adj + headerSize
	spanEnd := curr.address + curr.size
	tailStart := alignUp(userAddr+payloadSize, freeListNodeAlign)
	remainder := spanEnd - tailStart

	finalPayload := payloadSize
	var replacement *freeListNode
	if spanEnd >= tailStart && remainder >= freeListNodeSize {
		finalPayload += tailStart - (userAddr + payloadSize)
		replacement = newFreeListNode(tailStart, remainder, curr.next)
	} else {
		finalPayload += spanEnd - (userAddr + payloadSize)
		replacement = curr.next
	}

	if prev == nil {
		a.head = replacement
	} else {
		prev.next = replacement
	}

	header := headerAt(userAddr - headerSize)
	header.payloadSize = finalPayload
	header.adjustment = adj

	a.stats.reserve(adj + headerSize + finalPayload)

	if trace {
		debugf("FreeList.Allocate(%d, %d) -> %#x", size, align, userAddr)
	}

	return unsafe.Pointer(userAddr), nil
}

// Free reconstructs the span from the allocation header and merges it
// with the preceding and/or following free node where they abut.
func (a *FreeListAllocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		contractViolation("FreeListAllocator.Free: ptr must not be nil")
	}

	userAddr := uintptr(ptr)
	header := headerAt(userAddr - headerSize)
	freeAddr := userAddr - header.adjustment - headerSize
	freeSize := header.adjustment + headerSize + header.payloadSize

	a.stats.release(freeSize)

	var prev, curr *freeListNode
	curr = a.head
	for curr != nil && curr.address < freeAddr {
		prev = curr
		curr = curr.next
	}

	if prev != nil && prev.address+prev.size == freeAddr {
		freeAddr = prev.address
		freeSize += prev.size
	}
	if curr != nil && curr.address == freeAddr+freeSize {
		freeSize += curr.size
		curr = curr.next
	}

	newNode := newFreeListNode(freeAddr, freeSize, curr)

	if prev == nil {
		a.head = newNode
		return
	}
	if prev != newNode {
		prev.next = newNode
	}
}

func (a *FreeListAllocator) Clear() {
	a.head = newFreeListNode(a.base, a.stats.total, nil)
	a.stats.clear()
}

func (a *FreeListAllocator) Close() error {
	err := freeBuffer(a.buf)
	a.buf = nil
	return err
}
