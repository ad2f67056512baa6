// Copyright 2011 Evan Shaw. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE-MMAP-GO file.

// Modifications (c) 2026 The Memory Allocators Authors.

//go:build windows

package memory

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/windows"
)

// handleMap recovers the file-mapping handle that backs an address
// returned by mmap0, since Windows needs it back to tear the mapping
// down again.
var handleMap = map[uintptr]windows.Handle{}

func mmap0(size int) ([]byte, error) {
	maxSizeHigh := uint32(uint64(size) >> 32)
	maxSizeLow := uint32(uint64(size) & 0xFFFFFFFF)

	h, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE, maxSizeHigh, maxSizeLow, nil)
	if err != nil {
		return nil, err
	}

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_WRITE, 0, 0, uintptr(size))
	if err != nil {
		windows.CloseHandle(h)
		return nil, err
	}

	if addr&uintptr(osPageMask) != 0 {
		panic("memory: mmap returned a non-page-aligned address")
	}

	handleMap[addr] = h

	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func unmap(addr unsafe.Pointer, size int) error {
	base := uintptr(addr)

	if err := windows.UnmapViewOfFile(base); err != nil {
		return err
	}

	h, ok := handleMap[base]
	if !ok {
		return errors.New("memory: unknown mapping base address")
	}
	delete(handleMap, base)

	return windows.CloseHandle(h)
}
