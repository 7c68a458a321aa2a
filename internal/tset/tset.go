// Package tset provides a fixed-capacity set of transcript indices.
//
// A Set is sized once per locus from the number of transcripts in the locus.
// Sets of different capacity describe different loci and cannot be combined.
package tset

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"

	"github.com/grailbio/base/bitset"
)

// Set is a bit vector over transcript indices [0, Cap()).
// The zero value is an empty set of capacity 0.
type Set struct {
	n     int
	words []uintptr
}

func numWords(n int) int {
	return (n + bitset.BitsPerWord - 1) / bitset.BitsPerWord
}

// New returns an empty set with capacity n.
func New(n int) Set {
	if n < 0 {
		panic(fmt.Sprintf("tset: negative capacity %d", n))
	}
	return Set{n: n, words: make([]uintptr, numWords(n))}
}

// Full returns a set containing every index in [0, n).
func Full(n int) Set {
	s := New(n)
	for i := 0; i < n; i++ {
		bitset.Set(s.words, i)
	}
	return s
}

// FromIndices returns a set of capacity n containing idx.
func FromIndices(n int, idx ...int) Set {
	s := New(n)
	for _, i := range idx {
		s.Add(i)
	}
	return s
}

// Cap returns the capacity the set was created with.
func (s Set) Cap() int { return s.n }

func (s Set) check(i int) {
	if i < 0 || i >= s.n {
		panic(fmt.Sprintf("tset: index %d out of range [0,%d)", i, s.n))
	}
}

func (s Set) checkCompatible(o Set) {
	if s.n != o.n {
		panic(fmt.Sprintf("tset: capacity mismatch %d != %d", s.n, o.n))
	}
}

// Add inserts index i. The receiver's storage is modified in place.
func (s Set) Add(i int) {
	s.check(i)
	bitset.Set(s.words, i)
}

// Remove deletes index i.
func (s Set) Remove(i int) {
	s.check(i)
	bitset.Clear(s.words, i)
}

// Contains reports whether index i is a member.
func (s Set) Contains(i int) bool {
	s.check(i)
	return bitset.Test(s.words, i)
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	c := Set{n: s.n, words: make([]uintptr, len(s.words))}
	copy(c.words, s.words)
	return c
}

// Union returns s ∪ o.
func (s Set) Union(o Set) Set {
	s.checkCompatible(o)
	r := s.Clone()
	for i, w := range o.words {
		r.words[i] |= w
	}
	return r
}

// Intersect returns s ∩ o.
func (s Set) Intersect(o Set) Set {
	s.checkCompatible(o)
	r := s.Clone()
	for i, w := range o.words {
		r.words[i] &= w
	}
	return r
}

// Complement returns Full(Cap()) \ s.
func (s Set) Complement() Set {
	r := Set{n: s.n, words: make([]uintptr, len(s.words))}
	for i, w := range s.words {
		r.words[i] = ^w
	}
	// Bits past the capacity stay clear so Equal and Len remain exact.
	if tail := s.n % bitset.BitsPerWord; tail != 0 {
		r.words[len(r.words)-1] &= (uintptr(1) << uint(tail)) - 1
	}
	return r
}

// Equal reports whether both sets have the same capacity and members.
func (s Set) Equal(o Set) bool {
	if s.n != o.n {
		return false
	}
	for i, w := range s.words {
		if o.words[i] != w {
			return false
		}
	}
	return true
}

// IsEmpty reports whether the set has no members.
func (s Set) IsEmpty() bool {
	for _, w := range s.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// SubsetOf reports whether every member of s is in o.
func (s Set) SubsetOf(o Set) bool {
	s.checkCompatible(o)
	for i, w := range s.words {
		if w&^o.words[i] != 0 {
			return false
		}
	}
	return true
}

// Len returns the number of members.
func (s Set) Len() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(uint64(w))
	}
	return n
}

// Indices returns the members in ascending order.
func (s Set) Indices() []int {
	nz := 0
	for _, w := range s.words {
		if w != 0 {
			nz++
		}
	}
	if nz == 0 {
		return nil
	}
	out := make([]int, 0, s.Len())
	// The scanner clears bits as it goes, so it runs over a copy.
	scratch := s.Clone()
	scanner, i := bitset.NewNonzeroWordScanner(scratch.words, nz)
	for ; i != -1; i = scanner.Next() {
		out = append(out, i)
	}
	return out
}

// ForEach calls fn for each member in ascending order.
func (s Set) ForEach(fn func(i int)) {
	for _, i := range s.Indices() {
		fn(i)
	}
}

// First returns the smallest member, or -1 if the set is empty.
func (s Set) First() int {
	for wi, w := range s.words {
		if w != 0 {
			return wi*bitset.BitsPerWord + bits.TrailingZeros64(uint64(w))
		}
	}
	return -1
}

// Key returns a string that is equal for two sets iff Equal reports true.
func (s Set) Key() string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(s.n))
	for _, w := range s.words {
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(uint64(w), 16))
	}
	return b.String()
}

// String formats the set as a list of member indices, e.g. "{0,2}".
func (s Set) String() string {
	idx := s.Indices()
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v)
	}
	return "{" + strings.Join(parts, ",") + "}"
}
