// Package termdict implements an immutable, compact set of byte strings kept
// in lexicographic order. Terms are front coded: each term stores only the
// suffix that differs from its predecessor.
//
// Encoding: uvarint(count), then for each term uvarint(shared prefix length),
// uvarint(suffix length), suffix bytes.
package termdict

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/devrev/pairdb/index-node/internal/setops"
)

// ErrOutOfOrder is returned when a term is not strictly greater than the
// previous one.
var ErrOutOfOrder = errors.New("term out of order")

// Set is an immutable sorted set of terms
type Set struct {
	data  []byte
	terms [][]byte
}

// Empty returns the empty set
func Empty() *Set {
	return &Set{data: binary.AppendUvarint(nil, 0)}
}

// FromBytes decodes and validates an encoded set
func FromBytes(data []byte) (*Set, error) {
	count, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, fmt.Errorf("invalid term count")
	}
	pos := n

	// each term takes at least two bytes
	if count > uint64(len(data)) {
		return nil, fmt.Errorf("term count %d exceeds data size %d", count, len(data))
	}

	terms := make([][]byte, 0, count)
	var prev []byte
	for i := uint64(0); i < count; i++ {
		shared, n := binary.Uvarint(data[pos:])
		if n <= 0 {
			return nil, fmt.Errorf("term %d: invalid prefix length", i)
		}
		pos += n

		suffixLen, n := binary.Uvarint(data[pos:])
		if n <= 0 {
			return nil, fmt.Errorf("term %d: invalid suffix length", i)
		}
		pos += n

		if shared > uint64(len(prev)) {
			return nil, fmt.Errorf("term %d: shared prefix %d longer than previous term", i, shared)
		}
		if suffixLen > uint64(len(data)-pos) {
			return nil, fmt.Errorf("term %d: suffix exceeds data", i)
		}

		term := make([]byte, 0, int(shared)+int(suffixLen))
		term = append(term, prev[:shared]...)
		term = append(term, data[pos:pos+int(suffixLen)]...)
		pos += int(suffixLen)

		if i > 0 && bytes.Compare(prev, term) >= 0 {
			return nil, fmt.Errorf("term %d: %w", i, ErrOutOfOrder)
		}
		terms = append(terms, term)
		prev = term
	}

	if pos != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after terms", len(data)-pos)
	}

	return &Set{data: data, terms: terms}, nil
}

// FromTerms builds a set from terms in any order, with duplicates
func FromTerms(terms [][]byte) *Set {
	sorted := slices.Clone(terms)
	slices.SortFunc(sorted, bytes.Compare)
	sorted = slices.CompactFunc(sorted, bytes.Equal)

	b := NewBuilder()
	for _, term := range sorted {
		// sorted and unique, cannot fail
		_ = b.Insert(term)
	}
	return b.Set()
}

// Bytes returns the encoded form
func (s *Set) Bytes() []byte {
	return s.data
}

// Len returns the number of terms
func (s *Set) Len() int {
	return len(s.terms)
}

// Contains reports whether term is in the set
func (s *Set) Contains(term []byte) bool {
	_, found := slices.BinarySearchFunc(s.terms, term, bytes.Compare)
	return found
}

// Terms returns every term in order. The slices must not be modified.
func (s *Set) Terms() [][]byte {
	return s.terms
}

// Stream returns an iterator over the terms in ascending order
func (s *Set) Stream() setops.Iterator[[]byte] {
	return setops.NewSliceIterator(s.terms)
}

// Builder assembles a Set from terms inserted in strictly ascending order
type Builder struct {
	body  []byte
	terms [][]byte
}

// NewBuilder returns an empty builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Insert appends term, which must sort after every term inserted so far
func (b *Builder) Insert(term []byte) error {
	var shared int
	if n := len(b.terms); n > 0 {
		prev := b.terms[n-1]
		if bytes.Compare(prev, term) >= 0 {
			return fmt.Errorf("%w: %q after %q", ErrOutOfOrder, term, prev)
		}
		for shared < len(prev) && shared < len(term) && prev[shared] == term[shared] {
			shared++
		}
	}

	b.body = binary.AppendUvarint(b.body, uint64(shared))
	b.body = binary.AppendUvarint(b.body, uint64(len(term)-shared))
	b.body = append(b.body, term[shared:]...)
	b.terms = append(b.terms, bytes.Clone(term))
	return nil
}

// Extend inserts every term of it
func (b *Builder) Extend(it setops.Iterator[[]byte]) error {
	for term, ok := it.Next(); ok; term, ok = it.Next() {
		if err := b.Insert(term); err != nil {
			return err
		}
	}
	return nil
}

// Set returns the built set
func (b *Builder) Set() *Set {
	data := binary.AppendUvarint(make([]byte, 0, len(b.body)+binary.MaxVarintLen64), uint64(len(b.terms)))
	data = append(data, b.body...)
	return &Set{data: data, terms: b.terms}
}
