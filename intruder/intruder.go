// Package intruder implements the network attacker's deductive power over
// overheard messages: decomposition (analz) and composition (synth).
package intruder

import (
	"github.com/DistCompiler/pgo/authdh/term"
)

// parts returns what the attacker learns by taking t apart. Exponentials
// are one-way: knowing Exp(a, b) reveals neither a nor b.
func parts(t term.Term) []term.Term {
	switch t.Kind() {
	case term.KindPair:
		a, b := t.AsPair()
		return []term.Term{a, b}
	default:
		return nil
	}
}

// Analz returns the least superset of s closed under decomposition.
func Analz(s term.Set) term.Set {
	return analzExtend(s, s.Slice()...)
}

// analzExtend grows an already-closed set by the given terms, only
// decomposing what is new.
func analzExtend(closed term.Set, fresh ...term.Term) term.Set {
	var worklist []term.Term
	for _, t := range fresh {
		if !closed.Has(t) {
			closed = closed.Add(t)
		}
		worklist = append(worklist, t)
	}
	for len(worklist) > 0 {
		t := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		for _, p := range parts(t) {
			if !closed.Has(p) {
				closed = closed.Add(p)
				worklist = append(worklist, p)
			}
		}
	}
	return closed
}

// Synthesized is the composition closure of a set of terms. The closure
// is infinite (every agent and number is in it), so it is exposed as a
// membership test.
type Synthesized struct {
	base term.Set
}

// Synth returns the composition closure of s.
func Synth(s term.Set) Synthesized {
	return Synthesized{base: s}
}

func (s Synthesized) Contains(t term.Term) bool {
	return synthesizable(s.base, t)
}

// Base returns the set the closure was built over.
func (s Synthesized) Base() term.Set {
	return s.base
}

func synthesizable(base term.Set, t term.Term) bool {
	if base.Has(t) || term.IsPublicConstant(t) {
		return true
	}
	switch t.Kind() {
	case term.KindExp:
		b, e := t.AsExp()
		if synthesizable(base, b) && synthesizable(base, e) {
			return true
		}
		// Exp(Exp(Gen, x), y) is also Exp(Exp(Gen, y), x)
		if b.IsExp() {
			g, x := b.AsExp()
			if g.Kind() == term.KindGen {
				return synthesizable(base, x) && synthesizable(base, term.MakePublic(e))
			}
		}
		return false
	case term.KindPair:
		a, b := t.AsPair()
		return synthesizable(base, a) && synthesizable(base, b)
	default:
		return false
	}
}

// Deducible reports whether t ∈ synth(analz(s)).
func Deducible(s term.Set, t term.Term) bool {
	return Synth(Analz(s)).Contains(t)
}

// SecrecyHolds reports whether synth(analz(ik)) ∩ secret = ∅.
func SecrecyHolds(ik, secret term.Set) bool {
	return NewKnowledge(ik.Slice()...).SecrecyHolds(secret)
}
