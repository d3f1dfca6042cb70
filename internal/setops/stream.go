package setops

// Iterator yields values in ascending order until it reports false.
type Iterator[T any] interface {
	Next() (T, bool)
}

// SliceIterator iterates over an already sorted slice
type SliceIterator[T any] struct {
	items []T
	pos   int
}

// NewSliceIterator returns an iterator over items
func NewSliceIterator[T any](items []T) *SliceIterator[T] {
	return &SliceIterator[T]{items: items}
}

func (it *SliceIterator[T]) Next() (T, bool) {
	if it.pos >= len(it.items) {
		var zero T
		return zero, false
	}
	v := it.items[it.pos]
	it.pos++
	return v, true
}

// DifferenceStream lazily yields the values of a that are not in b. Both
// inputs must be ascending according to compare.
func DifferenceStream[T any](a, b Iterator[T], compare func(x, y T) int) Iterator[T] {
	d := &difference[T]{a: a, b: b, compare: compare}
	d.bv, d.bok = b.Next()
	return d
}

type difference[T any] struct {
	a, b    Iterator[T]
	compare func(x, y T) int
	bv      T
	bok     bool
}

func (d *difference[T]) Next() (T, bool) {
	for {
		av, ok := d.a.Next()
		if !ok {
			var zero T
			return zero, false
		}

		for d.bok && d.compare(d.bv, av) < 0 {
			d.bv, d.bok = d.b.Next()
		}
		if d.bok && d.compare(d.bv, av) == 0 {
			continue
		}
		return av, true
	}
}
