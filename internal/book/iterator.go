package book

import "github.com/shopspring/decimal"

// AscendingIterator walks price levels from the current minimum upwards.
// It keeps a small stack of candidate nodes (parents and right subtrees)
// instead of materializing the full in-order sequence, so a walk that only
// touches the first few levels stays cheap.
//
// The iterator is restartable: Restart rebuilds it from the tree's current
// minimum. There is no consistency guarantee if the tree mutates mid-walk;
// callers re-simulate rather than resume.
type AscendingIterator struct {
	tree    *Tree
	last    decimal.Decimal
	hasLast bool
	stack   []*node
}

// Ascending returns an iterator positioned before the current minimum level.
func (t *Tree) Ascending() *AscendingIterator {
	it := &AscendingIterator{tree: t}
	it.Restart()
	return it
}

// Restart rewinds the iterator to the tree's current minimum.
func (it *AscendingIterator) Restart() {
	it.stack = it.stack[:0]
	it.hasLast = false
	if min := it.tree.min; !it.tree.isNil(min) {
		it.stack = append(it.stack, min)
	}
}

// HasNext reports whether another level is available.
func (it *AscendingIterator) HasNext() bool { return len(it.stack) > 0 }

// Next returns the next level in ascending price order.
func (it *AscendingIterator) Next() (Level, bool) {
	if len(it.stack) == 0 {
		return Level{}, false
	}
	n := it.stack[len(it.stack)-1]
	it.stack = it.stack[:len(it.stack)-1]
	n = it.tree.boundedMin(n, it.last, it.hasLast)

	it.last = n.price
	it.hasLast = true

	it.tryPush(n.parent)
	it.tryPush(n.right)
	return Level{Price: n.price, Quantity: n.qty}, true
}

func (it *AscendingIterator) tryPush(n *node) {
	if !it.tree.isNil(n) && n.price.GreaterThan(it.last) {
		it.stack = append(it.stack, n)
	}
}

// DescendingIterator walks price levels from the current maximum downwards.
// Mirror of AscendingIterator.
type DescendingIterator struct {
	tree    *Tree
	last    decimal.Decimal
	hasLast bool
	stack   []*node
}

// Descending returns an iterator positioned before the current maximum level.
func (t *Tree) Descending() *DescendingIterator {
	it := &DescendingIterator{tree: t}
	it.Restart()
	return it
}

// Restart rewinds the iterator to the tree's current maximum.
func (it *DescendingIterator) Restart() {
	it.stack = it.stack[:0]
	it.hasLast = false
	if max := it.tree.max; !it.tree.isNil(max) {
		it.stack = append(it.stack, max)
	}
}

// HasNext reports whether another level is available.
func (it *DescendingIterator) HasNext() bool { return len(it.stack) > 0 }

// Next returns the next level in descending price order.
func (it *DescendingIterator) Next() (Level, bool) {
	if len(it.stack) == 0 {
		return Level{}, false
	}
	n := it.stack[len(it.stack)-1]
	it.stack = it.stack[:len(it.stack)-1]
	n = it.tree.boundedMax(n, it.last, it.hasLast)

	it.last = n.price
	it.hasLast = true

	it.tryPush(n.parent)
	it.tryPush(n.left)
	return Level{Price: n.price, Quantity: n.qty}, true
}

func (it *DescendingIterator) tryPush(n *node) {
	if !it.tree.isNil(n) && n.price.LessThan(it.last) {
		it.stack = append(it.stack, n)
	}
}
