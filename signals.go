package authdh

import (
	"fmt"
	"sort"
	"strings"

	"github.com/benbjohnson/immutable"
	"github.com/segmentio/fasthash/fnv1a"

	"github.com/DistCompiler/pgo/authdh/term"
)

type SignalKind uint8

const (
	Running SignalKind = iota
	Commit
)

func (k SignalKind) String() string {
	if k == Running {
		return "Running"
	}
	return "Commit"
}

// Signal is an authentication claim about the pair (A, B) and a key.
type Signal struct {
	Kind SignalKind
	A, B string
	Key  term.Term
}

func MakeRunning(a, b string, key term.Term) Signal {
	return Signal{Kind: Running, A: a, B: b, Key: key}
}

func MakeCommit(a, b string, key term.Term) Signal {
	return Signal{Kind: Commit, A: a, B: b, Key: key}
}

func (sig Signal) String() string {
	return fmt.Sprintf("%s(%s, %s, %v)", sig.Kind, sig.A, sig.B, sig.Key)
}

// Matching returns the signal of the other kind over the same triple.
func (sig Signal) Matching() Signal {
	out := sig
	if sig.Kind == Running {
		out.Kind = Commit
	} else {
		out.Kind = Running
	}
	return out
}

func (sig Signal) hash() uint32 {
	h := fnv1a.HashUint32(uint32(sig.Kind))
	h = fnv1a.AddString32(h, sig.A)
	h = fnv1a.AddString32(h, "\x00")
	h = fnv1a.AddString32(h, sig.B)
	return fnv1a.AddUint32(h, sig.Key.Hash())
}

func (sig Signal) Equal(other Signal) bool {
	return sig.Kind == other.Kind && sig.A == other.A && sig.B == other.B && sig.Key.Equal(other.Key)
}

type signalHasher struct{}

var _ immutable.Hasher[Signal] = signalHasher{}

func (signalHasher) Hash(key Signal) uint32 { return key.hash() }
func (signalHasher) Equal(a, b Signal) bool { return a.Equal(b) }

// Signals counts emitted signals. Only signals seen at least once are
// stored; every other signal counts zero. The zero value is empty.
type Signals struct {
	m *immutable.Map[Signal, uint32]
}

func (s Signals) Get(sig Signal) uint32 {
	if s.m == nil {
		return 0
	}
	n, _ := s.m.Get(sig)
	return n
}

// Inc returns a copy of s with one more occurrence of sig.
func (s Signals) Inc(sig Signal) Signals {
	m := s.m
	if m == nil {
		m = immutable.NewMap[Signal, uint32](signalHasher{})
	}
	return Signals{m: m.Set(sig, s.Get(sig)+1)}
}

// Len returns the number of distinct signals with a nonzero count.
func (s Signals) Len() int {
	if s.m == nil {
		return 0
	}
	return s.m.Len()
}

// Each visits the nonzero counters in canonical order.
func (s Signals) Each(fn func(sig Signal, count uint32) bool) {
	for _, sig := range s.sorted() {
		if !fn(sig, s.Get(sig)) {
			return
		}
	}
}

func (s Signals) sorted() []Signal {
	out := make([]Signal, 0, s.Len())
	if s.m != nil {
		it := s.m.Iterator()
		for !it.Done() {
			sig, _, _ := it.Next()
			out = append(out, sig)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String() < out[j].String()
	})
	return out
}

func (s Signals) Hash() uint32 {
	var hash uint32
	if s.m != nil {
		it := s.m.Iterator()
		for !it.Done() {
			sig, n, _ := it.Next()
			hash ^= fnv1a.AddUint32(sig.hash(), n)
		}
	}
	return fnv1a.HashUint32(hash)
}

func (s Signals) Equal(other Signals) bool {
	if s.Len() != other.Len() {
		return false
	}
	equal := true
	s.Each(func(sig Signal, n uint32) bool {
		equal = other.Get(sig) == n
		return equal
	})
	return equal
}

func (s Signals) String() string {
	var builder strings.Builder
	builder.WriteString("{")
	first := true
	s.Each(func(sig Signal, n uint32) bool {
		if !first {
			builder.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&builder, "%v: %d", sig, n)
		return true
	})
	builder.WriteString("}")
	return builder.String()
}
