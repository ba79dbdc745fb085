package intruder

import (
	"sync"

	"github.com/DistCompiler/pgo/authdh/term"
)

// Knowledge caches synth(analz(ik)) for one value of ik. It is immutable:
// Add returns a new Knowledge and the receiver stays valid, so states that
// share a prefix of an exploration can share their caches.
type Knowledge struct {
	ik    term.Set
	analz term.Set
	memo  *memo
}

// memo records terms already shown deducible. synth(analz(·)) is monotone,
// so a positive answer for an ancestor holds for every descendant; negative
// answers are never stored.
type memo struct {
	parent *memo
	lock   sync.RWMutex
	known  map[string]struct{}
}

func (m *memo) lookup(key string) bool {
	for ; m != nil; m = m.parent {
		m.lock.RLock()
		_, ok := m.known[key]
		m.lock.RUnlock()
		if ok {
			return true
		}
	}
	return false
}

func (m *memo) record(key string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.known == nil {
		m.known = make(map[string]struct{})
	}
	m.known[key] = struct{}{}
}

func NewKnowledge(ik ...term.Term) Knowledge {
	set := term.MakeSet(ik...)
	return Knowledge{
		ik:    set,
		analz: Analz(set),
		memo:  &memo{},
	}
}

func (k Knowledge) IK() term.Set {
	return k.ik
}

// Analz returns analz(ik).
func (k Knowledge) Analz() term.Set {
	return k.analz
}

func (k Knowledge) Synth() Synthesized {
	return Synth(k.analz)
}

// Add returns the knowledge after learning m. The analz closure is
// extended incrementally.
func (k Knowledge) Add(m term.Term) Knowledge {
	if k.ik.Has(m) {
		return k
	}
	return Knowledge{
		ik:    k.ik.Add(m),
		analz: analzExtend(k.analz, m),
		memo:  &memo{parent: k.memo},
	}
}

// Derivable reports whether t ∈ synth(analz(ik)).
func (k Knowledge) Derivable(t term.Term) bool {
	key := t.String()
	if k.memo.lookup(key) {
		return true
	}
	if !synthesizable(k.analz, t) {
		return false
	}
	if k.memo != nil {
		k.memo.record(key)
	}
	return true
}

// Leaked returns the members of secret the attacker can derive, in
// canonical order.
func (k Knowledge) Leaked(secret term.Set) []term.Term {
	var leaked []term.Term
	for _, s := range secret.Slice() {
		if k.Derivable(s) {
			leaked = append(leaked, s)
		}
	}
	return leaked
}

// SecrecyHolds reports whether synth(analz(ik)) ∩ secret = ∅.
func (k Knowledge) SecrecyHolds(secret term.Set) bool {
	holds := true
	secret.Each(func(s term.Term) bool {
		holds = !k.Derivable(s)
		return holds
	})
	return holds
}

func (k Knowledge) Equal(other Knowledge) bool {
	return k.ik.Equal(other.ik)
}
