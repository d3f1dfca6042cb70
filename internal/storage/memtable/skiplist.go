package memtable

import (
	"math/rand"
)

const (
	MaxLevel    = 16
	Probability = 0.5
)

// SkipListNode represents a node in the skip list
type SkipListNode[V any] struct {
	Key     string
	Value   V
	Forward []*SkipListNode[V]
}

// SkipList is an ordered map from binary-safe string keys to values.
// It is not safe for concurrent mutation; callers serialize writers and may
// read concurrently only while no writer is active.
type SkipList[V any] struct {
	Head  *SkipListNode[V]
	Level int
	Size  int
}

// NewSkipList creates a new skip list
func NewSkipList[V any]() *SkipList[V] {
	head := &SkipListNode[V]{
		Forward: make([]*SkipListNode[V], MaxLevel),
	}
	return &SkipList[V]{
		Head:  head,
		Level: 0,
	}
}

// randomLevel generates a random level for a new node
func (sl *SkipList[V]) randomLevel() int {
	level := 0
	for rand.Float64() < Probability && level < MaxLevel-1 {
		level++
	}
	return level
}

// predecessors fills update with the rightmost node at every level whose key
// is strictly lower than key, and returns the level-0 predecessor.
func (sl *SkipList[V]) predecessors(key string, update []*SkipListNode[V]) *SkipListNode[V] {
	current := sl.Head
	for i := sl.Level; i >= 0; i-- {
		for current.Forward[i] != nil && current.Forward[i].Key < key {
			current = current.Forward[i]
		}
		if update != nil {
			update[i] = current
		}
	}
	return current
}

// Insert adds or updates a key-value pair. It reports whether an existing
// value was replaced.
func (sl *SkipList[V]) Insert(key string, value V) bool {
	update := make([]*SkipListNode[V], MaxLevel)
	current := sl.predecessors(key, update).Forward[0]

	if current != nil && current.Key == key {
		current.Value = value
		return true
	}

	newLevel := sl.randomLevel()
	if newLevel > sl.Level {
		for i := sl.Level + 1; i <= newLevel; i++ {
			update[i] = sl.Head
		}
		sl.Level = newLevel
	}

	newNode := &SkipListNode[V]{
		Key:     key,
		Value:   value,
		Forward: make([]*SkipListNode[V], newLevel+1),
	}

	for i := 0; i <= newLevel; i++ {
		newNode.Forward[i] = update[i].Forward[i]
		update[i].Forward[i] = newNode
	}

	sl.Size++
	return false
}

// Search finds a value by key
func (sl *SkipList[V]) Search(key string) (V, bool) {
	current := sl.predecessors(key, nil).Forward[0]
	if current != nil && current.Key == key {
		return current.Value, true
	}

	var zero V
	return zero, false
}

// Delete removes a key from the skip list
func (sl *SkipList[V]) Delete(key string) bool {
	update := make([]*SkipListNode[V], MaxLevel)
	current := sl.predecessors(key, update).Forward[0]

	if current == nil || current.Key != key {
		return false
	}

	for i := 0; i <= sl.Level; i++ {
		if update[i].Forward[i] != current {
			break
		}
		update[i].Forward[i] = current.Forward[i]
	}

	for sl.Level > 0 && sl.Head.Forward[sl.Level] == nil {
		sl.Level--
	}

	sl.Size--
	return true
}

// Len returns the number of elements in the skip list
func (sl *SkipList[V]) Len() int {
	return sl.Size
}

// First returns the lowest node, or nil when the list is empty.
func (sl *SkipList[V]) First() *SkipListNode[V] {
	return sl.Head.Forward[0]
}

// Last returns the highest node, or nil when the list is empty.
func (sl *SkipList[V]) Last() *SkipListNode[V] {
	current := sl.Head
	for i := sl.Level; i >= 0; i-- {
		for current.Forward[i] != nil {
			current = current.Forward[i]
		}
	}
	if current == sl.Head {
		return nil
	}
	return current
}

// SeekLT returns the highest node whose key is strictly lower than key, or nil.
func (sl *SkipList[V]) SeekLT(key string) *SkipListNode[V] {
	current := sl.predecessors(key, nil)
	if current == sl.Head {
		return nil
	}
	return current
}

// Iterator returns a new skip list iterator positioned before the first entry
func (sl *SkipList[V]) Iterator() *SkipListIterator[V] {
	return &SkipListIterator[V]{
		current: sl.Head,
	}
}

// Seek returns an iterator whose first Next lands on the lowest key >= key.
func (sl *SkipList[V]) Seek(key string) *SkipListIterator[V] {
	return &SkipListIterator[V]{
		current: sl.predecessors(key, nil),
	}
}

// SkipListIterator iterates over skip list entries in key order
type SkipListIterator[V any] struct {
	current *SkipListNode[V]
}

// Next moves to the next element
func (it *SkipListIterator[V]) Next() bool {
	if it.current == nil {
		return false
	}
	it.current = it.current.Forward[0]
	return it.current != nil
}

// Key returns the current key
func (it *SkipListIterator[V]) Key() string {
	if it.current == nil {
		return ""
	}
	return it.current.Key
}

// Value returns the current value
func (it *SkipListIterator[V]) Value() V {
	if it.current == nil {
		var zero V
		return zero
	}
	return it.current.Value
}
