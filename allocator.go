package memory

import (
	"unsafe"

	"github.com/cznic/mathutil"
)

// Allocator is the capability set shared by every allocation discipline
// in this package: Allocate/Free/Clear plus the bookkeeping accessors.
// Implementations are not safe for concurrent use; callers synchronize
// externally if more than one goroutine touches the same allocator.
type Allocator interface {
	// Allocate returns a pointer inside the backing buffer, aligned to
	// align, with at least size writable bytes. align must be a power
	// of two; pass 1 for an unaligned request. A zero align is a
	// contract violation, not a default: there is no implicit argument
	// in Go, so callers must say what they mean. Returns ErrOutOfRegion
	// (as *OutOfRegionError) if no span suffices.
	Allocate(size, align uintptr) (unsafe.Pointer, error)

	// Free releases the span previously returned by Allocate. ptr must
	// be non-nil and must have come from this allocator; anything else
	// is a contract violation or undefined, per the concrete allocator.
	Free(ptr unsafe.Pointer)

	// Clear returns the allocator to its post-construction state: no
	// live allocations, used memory reset to zero.
	Clear()

	// Close releases the backing buffer back to the host. The
	// allocator must not be used afterwards.
	Close() error

	TotalMemory() uintptr
	UsedMemory() uintptr
	PeakUsedMemory() uintptr
}

// stats holds the accounting counters common to every allocator variant.
// peakUsed is monotone non-decreasing across the allocator's lifetime;
// used is bounded by total. Clear resets used to zero and leaves
// peakUsed as it is.
type stats struct {
	total    uintptr
	used     uintptr
	peakUsed uintptr
}

func (s *stats) reserve(n uintptr) {
	s.used += n
	s.peakUsed = uintptr(mathutil.Max(int(s.peakUsed), int(s.used)))
}

func (s *stats) release(n uintptr) {
	s.used -= n
}

// setUsed is for allocators (Bump) whose used-byte count is derived
// directly from a pointer position rather than accumulated by delta.
func (s *stats) setUsed(n uintptr) {
	s.used = n
	s.peakUsed = uintptr(mathutil.Max(int(s.peakUsed), int(s.used)))
}

func (s *stats) clear() {
	s.used = 0
}

func (s *stats) TotalMemory() uintptr    { return s.total }
func (s *stats) UsedMemory() uintptr     { return s.used }
func (s *stats) PeakUsedMemory() uintptr { return s.peakUsed }

// destroyer is implemented by types that need to run cleanup before
// their storage is returned to the allocator. DeleteObject and
// DeleteArray invoke it when present; this is the only type-aware
// destruction the package performs.
type destroyer interface{ Destroy() }

// New allocates sizeof(T) bytes aligned to alignof(T) and constructs a
// T in place. init functions, if given, run in order against the fresh
// zero value before the pointer is returned (Go has no constructors, so
// this stands in for the C++ original's New<T>(args...)).
func New[T any](a Allocator, init ...func(*T)) (*T, error) {
	var zero T
	p, err := a.Allocate(unsafe.Sizeof(zero), unsafe.Alignof(zero))
	if err != nil {
		return nil, err
	}

	obj := (*T)(p)
	*obj = zero
	for _, f := range init {
		f(obj)
	}

	return obj, nil
}

// NewArray allocates n*sizeof(T) bytes aligned to alignof(T) and
// default-constructs each element, returning the array's base as a Go
// slice of length and capacity n. n must be positive.
func NewArray[T any](a Allocator, n int) ([]T, error) {
	if n <= 0 {
		contractViolation("NewArray length must be positive, got %d", n)
	}

	var zero T
	size := unsafe.Sizeof(zero)
	p, err := a.Allocate(size*uintptr(n), unsafe.Alignof(zero))
	if err != nil {
		return nil, err
	}

	arr := unsafe.Slice((*T)(p), n)
	for i := range arr {
		arr[i] = zero
	}

	return arr, nil
}

// DeleteObject runs T's Destroy method if present, then frees p.
func DeleteObject[T any](a Allocator, p *T) {
	if p == nil {
		return
	}

	if d, ok := any(p).(destroyer); ok {
		d.Destroy()
	}

	a.Free(unsafe.Pointer(p))
}

// DeleteArray runs Destroy on every element if T implements it, then
// frees the array as a whole. s must be non-empty.
func DeleteArray[T any](a Allocator, s []T) {
	if len(s) == 0 {
		contractViolation("DeleteArray requires a non-empty slice")
	}

	for i := range s {
		if d, ok := any(&s[i]).(destroyer); ok {
			d.Destroy()
		}
	}

	a.Free(unsafe.Pointer(&s[0]))
}
