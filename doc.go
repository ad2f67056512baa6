// Copyright 2017 The Memory Allocators Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package memory implements a family of region-based allocators.
//
// Each allocator carves a single contiguous byte buffer, obtained once
// at construction from the host via mmap, into aligned sub-regions on
// demand. Four disciplines are provided behind the common Allocator
// interface: Bump (stack-like, LIFO rewind), Pool (fixed-size slots),
// FreeList (address-ordered singly linked free spans, first-fit) and
// FreeTree (intrusive BST keyed by free-block address, augmented with
// subtree-max for an O(height) lowest-address-first fitting search).
//
// The free-tree allocator is the hard part: node storage lives inside
// the memory it manages, so tree surgery (insert, remove, replace,
// neighbor lookup for coalescing) has to stay correct while aliasing
// the same bytes a live allocation will later occupy.
//
// None of the four allocators are safe for concurrent use; callers
// synchronize externally if needed.
//
// Changelog
//
// 2026-07-29 Ported from the C++ original (PatrickKneschke/MemoryAllocators).
package memory
