package memory

import "unsafe"

// unsafeFromAddr reconstructs a pointer from an address captured earlier
// as a uintptr, for tests that stash addresses in slices/maps between
// Allocate and Free calls.
func unsafeFromAddr(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr)
}
