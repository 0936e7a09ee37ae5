// Package hashpair provides a many-to-many relation between two kinds of
// opaque identifiers.
//
// An Index relates exactly one logical pair type; use a separate instance for
// every relation. The flat serialized form of a pair is the concatenation
// left+right, which is why FromKeys needs the fixed width of left identifiers.
// Index has no internal locking.
package hashpair

import "fmt"

// Index is a set of (left, right) pairs indexed in both directions.
type Index[L ~string, R ~string] struct {
	lefts   []L
	rights  map[L]*orderedSet[R]
	byRight map[R]*orderedSet[L]
	size    int
}

// New creates an empty index.
func New[L ~string, R ~string]() *Index[L, R] {
	return &Index[L, R]{
		rights:  make(map[L]*orderedSet[R]),
		byRight: make(map[R]*orderedSet[L]),
	}
}

// FromKeys rebuilds an index from concatenated keys. Every left identifier
// must be exactly leftLen bytes long.
func FromKeys[L ~string, R ~string](keys []string, leftLen int) (*Index[L, R], error) {
	idx := New[L, R]()
	for _, k := range keys {
		if len(k) <= leftLen {
			return nil, fmt.Errorf("key %q is shorter than left width %d", k, leftLen)
		}
		idx.Upsert(L(k[:leftLen]), R(k[leftLen:]))
	}
	return idx, nil
}

// Key returns the concatenated form of a pair.
func Key[L ~string, R ~string](left L, right R) string {
	return string(left) + string(right)
}

// Upsert adds the pair if it is not present yet.
func (x *Index[L, R]) Upsert(left L, right R) {
	set, ok := x.rights[left]
	if !ok {
		set = newOrderedSet[R]()
		x.rights[left] = set
		x.lefts = append(x.lefts, left)
	}
	if !set.add(right) {
		return
	}
	x.size++

	rev, ok := x.byRight[right]
	if !ok {
		rev = newOrderedSet[L]()
		x.byRight[right] = rev
	}
	rev.add(left)
}

// Delete removes the pair and reports whether it was present.
func (x *Index[L, R]) Delete(left L, right R) bool {
	set, ok := x.rights[left]
	if !ok || !set.remove(right) {
		return false
	}
	x.size--
	if set.len() == 0 {
		x.dropLeft(left)
	}
	if rev, ok := x.byRight[right]; ok {
		rev.remove(left)
		if rev.len() == 0 {
			delete(x.byRight, right)
		}
	}
	return true
}

// DeleteLeft removes every pair with the given left identifier and returns
// how many were removed.
func (x *Index[L, R]) DeleteLeft(left L) int {
	n := 0
	for _, r := range x.RightsByLeft(left) {
		if x.Delete(left, r) {
			n++
		}
	}
	return n
}

// DeleteRight removes every pair with the given right identifier.
func (x *Index[L, R]) DeleteRight(right R) int {
	n := 0
	for _, l := range x.LeftsByRight(right) {
		if x.Delete(l, right) {
			n++
		}
	}
	return n
}

// Has reports whether the pair is present.
func (x *Index[L, R]) Has(left L, right R) bool {
	set, ok := x.rights[left]
	return ok && set.has(right)
}

// RightsByLeft returns the right identifiers related to left in insertion order.
func (x *Index[L, R]) RightsByLeft(left L) []R {
	set, ok := x.rights[left]
	if !ok {
		return nil
	}
	return set.values()
}

// LeftsByRight returns the left identifiers related to right.
func (x *Index[L, R]) LeftsByRight(right R) []L {
	set, ok := x.byRight[right]
	if !ok {
		return nil
	}
	return set.values()
}

// CountByLeft returns the number of pairs with the given left identifier.
func (x *Index[L, R]) CountByLeft(left L) int {
	set, ok := x.rights[left]
	if !ok {
		return 0
	}
	return set.len()
}

// Lefts returns every left identifier that has at least one pair.
func (x *Index[L, R]) Lefts() []L {
	out := make([]L, len(x.lefts))
	copy(out, x.lefts)
	return out
}

// Len returns the number of pairs.
func (x *Index[L, R]) Len() int {
	return x.size
}

// RestrictToRights returns a new index holding only the pairs whose right
// identifier is in subset.
func (x *Index[L, R]) RestrictToRights(subset map[R]struct{}) *Index[L, R] {
	out := New[L, R]()
	for _, l := range x.lefts {
		for _, r := range x.rights[l].values() {
			if _, ok := subset[r]; ok {
				out.Upsert(l, r)
			}
		}
	}
	return out
}

// Keys returns the concatenated keys of every pair.
func (x *Index[L, R]) Keys() []string {
	keys := make([]string, 0, x.size)
	for _, l := range x.lefts {
		for _, r := range x.rights[l].values() {
			keys = append(keys, Key(l, r))
		}
	}
	return keys
}

func (x *Index[L, R]) dropLeft(left L) {
	delete(x.rights, left)
	for i, l := range x.lefts {
		if l == left {
			x.lefts = append(x.lefts[:i], x.lefts[i+1:]...)
			break
		}
	}
}

// orderedSet is a set that iterates in insertion order.
type orderedSet[T comparable] struct {
	items []T
	index map[T]struct{}
}

func newOrderedSet[T comparable]() *orderedSet[T] {
	return &orderedSet[T]{index: make(map[T]struct{})}
}

func (s *orderedSet[T]) add(v T) bool {
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = struct{}{}
	s.items = append(s.items, v)
	return true
}

func (s *orderedSet[T]) remove(v T) bool {
	if _, ok := s.index[v]; !ok {
		return false
	}
	delete(s.index, v)
	for i, item := range s.items {
		if item == v {
			s.items = append(s.items[:i], s.items[i+1:]...)
			break
		}
	}
	return true
}

func (s *orderedSet[T]) has(v T) bool {
	_, ok := s.index[v]
	return ok
}

func (s *orderedSet[T]) len() int {
	return len(s.items)
}

func (s *orderedSet[T]) values() []T {
	out := make([]T, len(s.items))
	copy(out, s.items)
	return out
}
