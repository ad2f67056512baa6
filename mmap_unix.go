// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2026 The Memory Allocators Authors.

//go:build darwin || dragonfly || freebsd || linux || openbsd || solaris || netbsd

package memory

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func mmap0(size int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}

	if uintptr(unsafe.Pointer(&b[0]))&uintptr(osPageMask) != 0 {
		panic("memory: mmap returned a non-page-aligned address")
	}

	return b, nil
}

func unmap(addr unsafe.Pointer, size int) error {
	return unix.Munmap(unsafe.Slice((*byte)(addr), size))
}
