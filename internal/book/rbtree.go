// Package book implements the order book: a pair of ordered price-level
// indexes (red-black trees keyed by price) and the execution-simulation
// algorithm that plans how a hypothetical trade would consume resting
// liquidity level by level.
package book

import "github.com/shopspring/decimal"

type color uint8

const (
	red color = iota
	black
)

type node struct {
	price  decimal.Decimal
	qty    decimal.Decimal
	color  color
	parent *node
	left   *node
	right  *node
}

// Level is one price level: the aggregate resting quantity at an exact price.
type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Tree is a red-black tree mapping price to aggregate quantity. In addition
// to the usual O(log n) insert/delete it keeps direct references to the
// minimum and maximum nodes so extremal queries are O(1); the caches are
// maintained incrementally on every mutation.
//
// Market-data updates are absolute snapshots of a level, so an insert with an
// existing price overwrites the quantity (last-write-wins).
type Tree struct {
	sentinel *node
	root     *node
	min      *node
	max      *node
	size     int
}

// NewTree creates an empty price index.
func NewTree() *Tree {
	s := &node{color: black}
	return &Tree{sentinel: s, root: s, min: s, max: s}
}

func (t *Tree) isNil(n *node) bool { return n == t.sentinel }

// Len returns the number of price levels in the index.
func (t *Tree) Len() int { return t.size }

// Upsert inserts a level or overwrites the quantity of an existing one.
// A zero quantity means the level no longer exists and deletes it instead;
// the index never stores zero-quantity levels.
func (t *Tree) Upsert(price, qty decimal.Decimal) {
	if qty.IsZero() {
		t.Delete(price)
		return
	}
	t.insert(price, qty)
}

// Get returns the quantity resting at price.
func (t *Tree) Get(price decimal.Decimal) (decimal.Decimal, bool) {
	n := t.lookup(price)
	if t.isNil(n) {
		return decimal.Zero, false
	}
	return n.qty, true
}

// Min returns the lowest-priced level, or ok=false on an empty index.
func (t *Tree) Min() (Level, bool) {
	if t.isNil(t.min) {
		return Level{}, false
	}
	return Level{Price: t.min.price, Quantity: t.min.qty}, true
}

// Max returns the highest-priced level, or ok=false on an empty index.
func (t *Tree) Max() (Level, bool) {
	if t.isNil(t.max) {
		return Level{}, false
	}
	return Level{Price: t.max.price, Quantity: t.max.qty}, true
}

func (t *Tree) lookup(price decimal.Decimal) *node {
	n := t.root
	for !t.isNil(n) {
		switch price.Cmp(n.price) {
		case 0:
			return n
		case -1:
			n = n.left
		default:
			n = n.right
		}
	}
	return t.sentinel
}

func (t *Tree) insert(price, qty decimal.Decimal) {
	if t.isNil(t.root) {
		n := &node{price: price, qty: qty, color: black, parent: t.sentinel, left: t.sentinel, right: t.sentinel}
		t.root = n
		t.min = n
		t.max = n
		t.size = 1
		return
	}

	// Descend to the insertion point, tracking whether the walk stayed
	// entirely left (new minimum) or entirely right (new maximum).
	current := t.root
	var prev *node
	onlyLeft, onlyRight := true, true
	for !t.isNil(current) {
		prev = current
		switch price.Cmp(current.price) {
		case 0:
			current.qty = qty
			return
		case -1:
			onlyRight = false
			current = current.left
		default:
			onlyLeft = false
			current = current.right
		}
	}

	n := &node{price: price, qty: qty, color: red, parent: prev, left: t.sentinel, right: t.sentinel}
	if onlyLeft {
		t.min = n
	}
	if onlyRight {
		t.max = n
	}
	if price.LessThan(prev.price) {
		prev.left = n
	} else {
		prev.right = n
	}
	t.size++
	t.fixInsert(n)
}

func (t *Tree) fixInsert(n *node) {
	for n.parent.color == red {
		grandpa := n.parent.parent
		if n.parent == grandpa.right {
			uncle := grandpa.left
			if uncle.color == red {
				uncle.color = black
				n.parent.color = black
				grandpa.color = red
				n = grandpa
				continue
			}
			if n == n.parent.left {
				n = n.parent
				t.rotateRight(n)
			}
			n.parent.color = black
			n.parent.parent.color = red
			t.rotateLeft(n.parent.parent)
		} else {
			uncle := grandpa.right
			if uncle.color == red {
				uncle.color = black
				n.parent.color = black
				grandpa.color = red
				n = grandpa
				continue
			}
			if n == n.parent.right {
				n = n.parent
				t.rotateLeft(n)
			}
			n.parent.color = black
			n.parent.parent.color = red
			t.rotateRight(n.parent.parent)
		}
	}
	t.root.color = black
}

// Delete removes the level at price. Deleting a missing price is a no-op.
func (t *Tree) Delete(price decimal.Decimal) {
	current := t.lookup(price)
	if t.isNil(current) {
		return
	}

	// Re-seat the extreme caches before the structure changes under them.
	if current == t.min {
		t.min = t.nextMinimum()
	}
	if current == t.max {
		t.max = t.nextMaximum()
	}

	removedColor := current.color
	var fixFrom *node
	switch {
	case t.isNil(current.left):
		fixFrom = current.right
		t.transplant(current, current.right)
	case t.isNil(current.right):
		fixFrom = current.left
		t.transplant(current, current.left)
	default:
		successor := t.subtreeMin(current.right)
		removedColor = successor.color
		fixFrom = successor.right
		if successor.parent == current {
			fixFrom.parent = successor
		} else {
			t.transplant(successor, successor.right)
			successor.right = current.right
			successor.right.parent = successor
		}
		t.transplant(current, successor)
		successor.left = current.left
		successor.left.parent = successor
		successor.color = current.color
	}
	t.size--
	if removedColor == black {
		t.fixDelete(fixFrom)
	}
}

func (t *Tree) fixDelete(n *node) {
	for n != t.root && n.color == black {
		if n == n.parent.left {
			sibling := n.parent.right
			if sibling.color == red {
				sibling.color = black
				n.parent.color = red
				t.rotateLeft(n.parent)
				sibling = n.parent.right
			}
			if sibling.left.color == black && sibling.right.color == black {
				sibling.color = red
				n = n.parent
			} else {
				if sibling.right.color == black {
					sibling.left.color = black
					sibling.color = red
					t.rotateRight(sibling)
					sibling = n.parent.right
				}
				sibling.color = n.parent.color
				n.parent.color = black
				sibling.right.color = black
				t.rotateLeft(n.parent)
				n = t.root
			}
		} else {
			sibling := n.parent.left
			if sibling.color == red {
				sibling.color = black
				n.parent.color = red
				t.rotateRight(n.parent)
				sibling = n.parent.left
			}
			if sibling.left.color == black && sibling.right.color == black {
				sibling.color = red
				n = n.parent
			} else {
				if sibling.left.color == black {
					sibling.right.color = black
					sibling.color = red
					t.rotateLeft(sibling)
					sibling = n.parent.left
				}
				sibling.color = n.parent.color
				n.parent.color = black
				sibling.left.color = black
				t.rotateRight(n.parent)
				n = t.root
			}
		}
	}
	n.color = black
}

// transplant replaces oldNode with newNode in oldNode's parent. The sentinel
// absorbs the parent assignment unconditionally.
func (t *Tree) transplant(oldNode, newNode *node) {
	switch {
	case t.isNil(oldNode.parent):
		t.root = newNode
	case oldNode.parent.left == oldNode:
		oldNode.parent.left = newNode
	default:
		oldNode.parent.right = newNode
	}
	newNode.parent = oldNode.parent
}

func (t *Tree) rotateLeft(n *node) {
	r := n.right
	beta := r.left
	if !t.isNil(beta) {
		beta.parent = n
	}
	r.parent = n.parent
	switch {
	case t.isNil(n.parent):
		t.root = r
	case n.parent.left == n:
		n.parent.left = r
	default:
		n.parent.right = r
	}
	r.left = n
	n.parent = r
	n.right = beta
}

func (t *Tree) rotateRight(n *node) {
	l := n.left
	beta := l.right
	if !t.isNil(beta) {
		beta.parent = n
	}
	l.parent = n.parent
	switch {
	case t.isNil(n.parent):
		t.root = l
	case n.parent.left == n:
		n.parent.left = l
	default:
		n.parent.right = l
	}
	l.right = n
	n.parent = l
	n.left = beta
}

// nextMinimum finds the successor of the cached minimum node. Valid only for
// the minimum: its successor is either the leftmost node of its right subtree
// or its parent.
func (t *Tree) nextMinimum() *node {
	n := t.min
	if m := t.subtreeMin(n.right); !t.isNil(m) && m != n {
		return m
	}
	return n.parent
}

// nextMaximum is the mirror of nextMinimum for the cached maximum node.
func (t *Tree) nextMaximum() *node {
	n := t.max
	if m := t.subtreeMax(n.left); !t.isNil(m) && m != n {
		return m
	}
	return n.parent
}

func (t *Tree) subtreeMin(n *node) *node {
	if t.isNil(n) {
		return t.sentinel
	}
	for !t.isNil(n.left) {
		n = n.left
	}
	return n
}

func (t *Tree) subtreeMax(n *node) *node {
	if t.isNil(n) {
		return t.sentinel
	}
	for !t.isNil(n.right) {
		n = n.right
	}
	return n
}

// boundedMin descends left from n, stopping before keys at or below bound.
// It returns the leftmost node whose price exceeds bound (n itself if its
// left child does not).
func (t *Tree) boundedMin(n *node, bound decimal.Decimal, hasBound bool) *node {
	if t.isNil(n) {
		return t.sentinel
	}
	for !t.isNil(n.left) && (!hasBound || bound.LessThan(n.left.price)) {
		n = n.left
	}
	return n
}

// boundedMax is the mirror of boundedMin for descending traversal.
func (t *Tree) boundedMax(n *node, bound decimal.Decimal, hasBound bool) *node {
	if t.isNil(n) {
		return t.sentinel
	}
	for !t.isNil(n.right) && (!hasBound || bound.GreaterThan(n.right.price)) {
		n = n.right
	}
	return n
}

// CheckIntegrity verifies the red-black invariants: no red node has a red
// parent and every root-to-leaf path carries the same number of black nodes.
// Test support; O(n).
func (t *Tree) CheckIntegrity() bool {
	return t.blackHeight(t.root, red) >= 0
}

func (t *Tree) blackHeight(n *node, parentColor color) int {
	if t.isNil(n) {
		return 0
	}
	if n.color == red && parentColor == red {
		return -1
	}
	l := t.blackHeight(n.left, n.color)
	r := t.blackHeight(n.right, n.color)
	if l == -1 || l != r {
		return -1
	}
	if n.color == black {
		l++
	}
	return l
}
