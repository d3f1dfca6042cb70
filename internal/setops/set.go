// Package setops holds the sorted-set algebra used by the index mutation
// code: canonical sets built from unordered input, keyed difference of a
// sorted slice against a set, and lazy difference of two ascending streams.
package setops

import (
	"cmp"
	"slices"
)

// Set is a sorted, duplicate-free slice. The zero value is the empty set.
type Set[T cmp.Ordered] struct {
	items []T
}

// FromDirty builds a canonical set from values in any order, with duplicates.
// The input slice is left untouched.
func FromDirty[T cmp.Ordered](values []T) Set[T] {
	items := slices.Clone(values)
	slices.Sort(items)
	return Set[T]{items: slices.Compact(items)}
}

// Contains reports whether v is in the set
func (s Set[T]) Contains(v T) bool {
	_, found := slices.BinarySearch(s.items, v)
	return found
}

// Items returns the members in ascending order. The slice must not be modified.
func (s Set[T]) Items() []T {
	return s.items
}

// Len returns the number of members
func (s Set[T]) Len() int {
	return len(s.items)
}

// IsEmpty reports whether the set has no members
func (s Set[T]) IsEmpty() bool {
	return len(s.items) == 0
}

// DifferenceByKey returns the elements of a whose key is not in b. a must be
// sorted by key; several elements may share a key. Runs in one merge pass.
func DifferenceByKey[A any, K cmp.Ordered](a []A, b Set[K], key func(A) K) []A {
	out := make([]A, 0, len(a))
	j := 0
	for _, elem := range a {
		k := key(elem)
		for j < len(b.items) && b.items[j] < k {
			j++
		}
		if j < len(b.items) && b.items[j] == k {
			continue
		}
		out = append(out, elem)
	}
	return out
}
