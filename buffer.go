package memory

import (
	"fmt"
	"os"
	"unsafe"
)

// trace gates ad-hoc debug logging in every allocator's Allocate and in
// newBuffer/freeBuffer: flip to true locally when chasing a bug, never
// in committed code.
const trace = false

var (
	osPageSize = os.Getpagesize()
	osPageMask = osPageSize - 1
)

func debugf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "# memory: "+format+"\n", args...)
}

// newBuffer reserves n bytes from the host via an anonymous, shared
// mapping and returns the backing slice. Allocators use this instead of
// make([]byte, n) so that the returned address is stable for the
// lifetime of the mapping: Go's current garbage collector does not move
// heap allocations, but an mmap'd region additionally guarantees the
// memory is ours alone, page-aligned, and returned to the OS (not just
// dropped for the GC to reclaim) on Close.
func newBuffer(n int) ([]byte, error) {
	if n <= 0 {
		contractViolation("backing buffer size must be positive, got %d", n)
	}

	b, err := mmap0(n)
	if err != nil {
		return nil, err
	}

	if trace {
		debugf("newBuffer(%d) -> %p", n, unsafe.Pointer(&b[0]))
	}

	return b, nil
}

// freeBuffer releases a buffer obtained from newBuffer.
func freeBuffer(b []byte) error {
	if len(b) == 0 {
		return nil
	}

	if trace {
		debugf("freeBuffer(%p, %d)", unsafe.Pointer(&b[0]), len(b))
	}

	return unmap(unsafe.Pointer(&b[0]), len(b))
}
