package term

import (
	"sort"
	"strings"

	"github.com/benbjohnson/immutable"
	"github.com/segmentio/fasthash/fnv1a"
)

// Set is a persistent set of terms. The zero Set is empty and ready to use;
// Add and Union return new sets and leave the receiver untouched.
type Set struct {
	m *immutable.Map[Term, bool]
}

func MakeSet(members ...Term) Set {
	builder := immutable.NewMapBuilder[Term, bool](Hasher{})
	for _, member := range members {
		require(member.IsValid(), "sets cannot hold invalid terms")
		builder.Set(member, true)
	}
	return Set{m: builder.Map()}
}

func (s Set) ensure() *immutable.Map[Term, bool] {
	if s.m == nil {
		return immutable.NewMap[Term, bool](Hasher{})
	}
	return s.m
}

func (s Set) Len() int {
	if s.m == nil {
		return 0
	}
	return s.m.Len()
}

func (s Set) Has(t Term) bool {
	if s.m == nil {
		return false
	}
	_, ok := s.m.Get(t)
	return ok
}

func (s Set) Add(t Term) Set {
	require(t.IsValid(), "sets cannot hold invalid terms")
	if s.Has(t) {
		return s
	}
	return Set{m: s.ensure().Set(t, true)}
}

func (s Set) Union(other Set) Set {
	// iterate over the smaller side
	if s.Len() < other.Len() {
		s, other = other, s
	}
	acc := s
	other.Each(func(t Term) bool {
		acc = acc.Add(t)
		return true
	})
	return acc
}

// Each calls fn for every member until fn returns false. Iteration order is
// unspecified.
func (s Set) Each(fn func(Term) bool) {
	if s.m == nil {
		return
	}
	it := s.m.Iterator()
	for !it.Done() {
		t, _, _ := it.Next()
		if !fn(t) {
			return
		}
	}
}

// Slice returns the members in canonical order.
func (s Set) Slice() []Term {
	out := make([]Term, 0, s.Len())
	s.Each(func(t Term) bool {
		out = append(out, t)
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].Compare(out[j]) < 0
	})
	return out
}

func (s Set) Hash() uint32 {
	var hash uint32
	s.Each(func(t Term) bool {
		// XOR keeps the result independent of iteration order
		hash ^= t.Hash()
		return true
	})
	return fnv1a.HashUint32(hash)
}

func (s Set) Equal(other Set) bool {
	if s.Len() != other.Len() {
		return false
	}
	equal := true
	s.Each(func(t Term) bool {
		equal = other.Has(t)
		return equal
	})
	return equal
}

func (s Set) String() string {
	var builder strings.Builder
	builder.WriteString("{")
	for i, t := range s.Slice() {
		if i > 0 {
			builder.WriteString(", ")
		}
		builder.WriteString(t.String())
	}
	builder.WriteString("}")
	return builder.String()
}
