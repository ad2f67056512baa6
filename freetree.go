package memory

import (
	"fmt"
	"strings"
	"unsafe"
)

// treeNode is the intrusive record at the start of every free span in a
// FreeTreeAllocator: an unbalanced BST keyed by the node's own start
// address, augmented with subtreeMax so a directed descent can prune
// subtrees that cannot possibly satisfy a request.
type treeNode struct {
	size       uintptr
	subtreeMax uintptr
	parent     *treeNode
	left       *treeNode
	right      *treeNode
}

var treeNodeSize = unsafe.Sizeof(treeNode{})
var treeNodeAlign = unsafe.Alignof(treeNode{})

// minFreeTreePayload mirrors minFreeListPayload for the tree discipline.
var minFreeTreePayload = treeNodeSize - headerSize

func treeAddr(n *treeNode) uintptr { return uintptr(unsafe.Pointer(n)) }

func newTreeNode(addr, size uintptr) *treeNode {
	n := (*treeNode)(unsafe.Pointer(addr))
	n.size = size
	n.subtreeMax = size
	n.parent = nil
	n.left = nil
	n.right = nil
	return n
}

// FreeTreeAllocator is the core of the package: an intrusive, unbalanced
// binary search tree of free spans keyed by start address, with each
// node caching the maximum free size in its subtree. Allocate descends
// directedly toward a fitting node biased by subtreeMax (a deliberate
// O(height) relaxation of strict best-fit, see the doc comment on
// findTreeNode). Free reconstructs the freed span, looks up its
// address-order neighbors without inserting, and coalesces before
// falling back to a plain BST insert.
type FreeTreeAllocator struct {
	stats
	buf  []byte
	base uintptr
	root *treeNode
}

// NewFreeTreeAllocator reserves a total-byte backing buffer and starts
// with a single root node covering the whole of it.
func NewFreeTreeAllocator(total uintptr) (*FreeTreeAllocator, error) {
	if total == 0 {
		contractViolation("FreeTreeAllocator: total must be non-zero")
	}

	buf, err := newBuffer(int(total))
	if err != nil {
		return nil, err
	}

	base := uintptr(unsafe.Pointer(&buf[0]))
	a := &FreeTreeAllocator{buf: buf, base: base}
	a.stats.total = total
	a.root = newTreeNode(base, total)

	return a, nil
}

func (a *FreeTreeAllocator) Allocate(size, align uintptr) (unsafe.Pointer, error) {
	if size == 0 {
		contractViolation("FreeTreeAllocator.Allocate: size must be non-zero")
	}
	if !isPowerOfTwo(align) {
		contractViolation("FreeTreeAllocator.Allocate: align (%d) must be a power of two", align)
	}

	payloadSize := size
	if payloadSize < minFreeTreePayload {
		payloadSize = minFreeTreePayload
	}
	required := payloadSize + headerSize + align - 1

	node := findTreeNode(required, a.root)
	if node == nil {
		return nil, &OutOfRegionError{Requested: size, Align: align, Available: a.stats.total}
	}

	nodeAddr := treeAddr(node)
	adj := adjustment(nodeAddr+headerSize, align)
	userAddr := nodeAddr + adj + headerSize
	spanEnd := nodeAddr + node.size
	tailStart := alignUp(userAddr+payloadSize, treeNodeAlign)
	remainder := spanEnd - tailStart

	finalPayload := payloadSize
	if spanEnd >= tailStart && remainder >= treeNodeSize {
		finalPayload += tailStart - (userAddr + payloadSize)
		newNode := newTreeNode(tailStart, remainder)
		a.replaceNode(node, newNode)
	} else {
		finalPayload += spanEnd - (userAddr + payloadSize)
		a.removeNode(node)
	}

	header := headerAt(userAddr - headerSize)
	header.payloadSize = finalPayload
	header.adjustment = adj

	a.stats.reserve(adj + headerSize + finalPayload)

	if trace {
		debugf("FreeTree.Allocate(%d, %d) -> %#x", size, align, userAddr)
	}

	return unsafe.Pointer(userAddr), nil
}

// findTreeNode descends from root looking for a node that can host
// requirement bytes, producing a leftmost-biased search over fitting
// nodes:
//
//  1. A node whose subtreeMax is below requirement cannot help: prune.
//  2. If the left subtree can fit, recurse left unconditionally: a
//     lower-address node is preferred over the current one.
//  3. Otherwise accept the current node if its own size fits.
//  4. Otherwise recurse right.
//
// The left subtree is checked before the current node, not after, so a
// smaller span at a lower address is always preferred to a larger span
// closer to root. This is what makes freeing and then re-requesting a
// small span reuse that span rather than carve a fresh one elsewhere.
// The accepted node is still only the first fitting node on its path,
// not necessarily the smallest fitting node in the whole tree. This is
// not strict best-fit, whatever an earlier revision's comment claimed.
// It is O(height) instead of O(n), which is the trade being made on
// purpose.
func findTreeNode(requirement uintptr, root *treeNode) *treeNode {
	if root == nil || root.subtreeMax < requirement {
		return nil
	}
	if root.left != nil && root.left.subtreeMax >= requirement {
		return findTreeNode(requirement, root.left)
	}
	if root.size >= requirement {
		return root
	}

	return findTreeNode(requirement, root.right)
}

// insertNode performs a standard BST insert keyed by start address,
// updating every ancestor's subtreeMax on the way down, equivalent to
// propagating up from the freshly inserted leaf, since the descent path
// and the ancestor chain are the same set of nodes.
func (a *FreeTreeAllocator) insertNode(newNode *treeNode) {
	if a.root == nil {
		a.root = newNode
		return
	}

	newAddr := treeAddr(newNode)
	curr := a.root
	var prev *treeNode
	for curr != nil {
		prev = curr
		if newNode.size > curr.subtreeMax {
			curr.subtreeMax = newNode.size
		}

		if newAddr < treeAddr(curr) {
			curr = curr.left
		} else {
			curr = curr.right
		}
	}

	newNode.parent = prev
	if newAddr < treeAddr(prev) {
		prev.left = newNode
	} else {
		prev.right = newNode
	}
}

// removeNode splices node out of the tree via standard BST deletion: a
// node with at most one child is replaced by that child; a node with
// two children is replaced by its in-order successor (leftmost of the
// right subtree), whose own right child takes its place first.
func (a *FreeTreeAllocator) removeNode(node *treeNode) {
	sizeUpdateNode := node.parent

	switch {
	case node.left == nil:
		a.shiftNodeUp(node, node.right)
	case node.right == nil:
		a.shiftNodeUp(node, node.left)
	default:
		next := node.right
		for next.left != nil {
			next = next.left
		}

		if next.parent != node {
			sizeUpdateNode = next.parent
			a.shiftNodeUp(next, next.right)
			next.right = node.right
			next.right.parent = next
		} else {
			sizeUpdateNode = next
		}

		a.shiftNodeUp(node, next)
		next.left = node.left
		next.left.parent = next
	}

	a.updateSubtreeMax(sizeUpdateNode)
}

// replaceNode swaps target for newNode at the same tree position,
// newNode inheriting target's parent and children. Unlike the removal
// path above, newNode's own subtreeMax is not yet correct once it has
// inherited target's children (it was constructed as a bare leaf), so
// the upward fixup below starts at newNode itself rather than at its
// parent: the lowest node whose structure actually changed.
func (a *FreeTreeAllocator) replaceNode(target, newNode *treeNode) {
	if target == a.root {
		a.root = newNode
	} else {
		newNode.parent = target.parent
		if target == target.parent.left {
			target.parent.left = newNode
		} else {
			target.parent.right = newNode
		}
	}

	if target.left != nil {
		newNode.left = target.left
		newNode.left.parent = newNode
	}
	if target.right != nil {
		newNode.right = target.right
		newNode.right.parent = newNode
	}

	a.updateSubtreeMax(newNode)
}

// shiftNodeUp moves node into target's slot in the tree (target's
// parent's child pointer, or the root pointer), without touching
// node's own children.
func (a *FreeTreeAllocator) shiftNodeUp(target, node *treeNode) {
	if node != nil {
		node.parent = target.parent
	}

	switch {
	case target == a.root:
		a.root = node
	case target == target.parent.left:
		target.parent.left = node
	default:
		target.parent.right = node
	}
}

// updateSubtreeMax recomputes n.subtreeMax from n's current children
// and repeats for every ancestor up to the root.
func (a *FreeTreeAllocator) updateSubtreeMax(n *treeNode) {
	for n != nil {
		n.subtreeMax = n.size
		if n.left != nil && n.left.subtreeMax > n.subtreeMax {
			n.subtreeMax = n.left.subtreeMax
		}
		if n.right != nil && n.right.subtreeMax > n.subtreeMax {
			n.subtreeMax = n.right.subtreeMax
		}
		n = n.parent
	}
}

// findNeighbors walks the tree as if inserting a node at addr, without
// inserting it, tracking the last ancestor stepped past on the left
// (the address-predecessor) and on the right (the address-successor).
func (a *FreeTreeAllocator) findNeighbors(addr uintptr) (left, right *treeNode) {
	curr := a.root
	for curr != nil {
		currAddr := treeAddr(curr)
		if addr == currAddr {
			break
		}
		if addr < currAddr {
			right = curr
			curr = curr.left
		} else {
			left = curr
			curr = curr.right
		}
	}

	return left, right
}

// Free reconstructs the freed span from its header and attempts to
// coalesce with both address-order neighbors. The right neighbor is
// merged before the left so that a span adjacent to both ends up fully
// absorbed into the (possibly also merging) left neighbor.
func (a *FreeTreeAllocator) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		contractViolation("FreeTreeAllocator.Free: ptr must not be nil")
	}

	userAddr := uintptr(ptr)
	header := headerAt(userAddr - headerSize)
	spanStart := userAddr - header.adjustment - headerSize
	spanLen := header.adjustment + headerSize + header.payloadSize

	a.stats.release(spanLen)

	left, right := a.findNeighbors(spanStart)

	if right != nil && spanStart+spanLen == treeAddr(right) {
		spanLen += right.size
		a.removeNode(right)
	}

	if left != nil && treeAddr(left)+left.size == spanStart {
		left.size += spanLen
		a.updateSubtreeMax(left)
		return
	}

	newNode := newTreeNode(spanStart, spanLen)
	a.insertNode(newNode)
	a.updateSubtreeMax(newNode)
}

func (a *FreeTreeAllocator) Clear() {
	a.root = newTreeNode(a.base, a.stats.total)
	a.stats.clear()
}

func (a *FreeTreeAllocator) Close() error {
	err := freeBuffer(a.buf)
	a.buf = nil
	return err
}

// Debug renders the tree for diagnostics, one line per node showing its
// size and subtreeMax, indented to the node's depth.
func (a *FreeTreeAllocator) Debug() string {
	var sb strings.Builder

	var walk func(prefix string, n *treeNode, isLeft bool)
	walk = func(prefix string, n *treeNode, isLeft bool) {
		if n == nil {
			return
		}

		branch := "└──"
		childPrefix := prefix + "    "
		if isLeft {
			branch = "├──"
			childPrefix = prefix + "│   "
		}

		fmt.Fprintf(&sb, "%s%s%d:%d\n", prefix, branch, n.size, n.subtreeMax)
		walk(childPrefix, n.left, true)
		walk(childPrefix, n.right, false)
	}
	walk("", a.root, false)

	return sb.String()
}
