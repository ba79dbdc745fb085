package intruder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DistCompiler/pgo/authdh/term"
)

var (
	na  = term.MakeNonce("Ra")
	nb  = term.MakeNonce("Rb")
	gna = term.MakePublic(na)
	gnb = term.MakePublic(nb)
	key = term.MakeExp(gnb, na)
)

func TestAnalzDoesNotOpenExponentials(t *testing.T) {
	closure := Analz(term.MakeSet(gna, gnb, key))
	assert.Equal(t, 3, closure.Len())
	assert.False(t, closure.Has(na))
	assert.False(t, closure.Has(nb))
}

func TestAnalzSplitsPairs(t *testing.T) {
	nested := term.MakePair(term.MakePair(na, gnb), term.MakeAgent("A"))
	closure := Analz(term.MakeSet(nested))
	for _, want := range []term.Term{nested, term.MakePair(na, gnb), na, gnb, term.MakeAgent("A")} {
		assert.True(t, closure.Has(want), "missing %v in %v", want, closure)
	}
	assert.Equal(t, 5, closure.Len())
}

func TestSynth(t *testing.T) {
	synth := Synth(term.MakeSet(gna, gnb))

	assert.True(t, synth.Contains(term.MakeAgent("Mallory")), "agents are public")
	assert.True(t, synth.Contains(term.MakeNumber(42)), "numbers are public")
	assert.True(t, synth.Contains(term.Gen))
	assert.True(t, synth.Contains(term.MakePair(gna, term.MakeNumber(1))))
	assert.True(t, synth.Contains(term.MakeExp(gna, term.MakeNumber(7))), "attacker may exponentiate with its own number")

	assert.False(t, synth.Contains(na))
	assert.False(t, synth.Contains(key), "the DH key needs a private exponent")
	assert.False(t, synth.Contains(term.MakeLtK("A")))
}

func TestSynthUsesCommutedOperands(t *testing.T) {
	// attacker knows Exp(Gen, Ra) and its own exponent 7
	synth := Synth(term.MakeSet(gna))
	commuted := term.MakeExp(term.MakePublic(term.MakeNumber(7)), na)
	assert.True(t, synth.Contains(commuted))

	// knowing a private nonce and the partner's public value reveals the key
	assert.True(t, Deducible(term.MakeSet(na, gnb), key))
	assert.True(t, Deducible(term.MakeSet(nb, gna), key))
	assert.False(t, Deducible(term.MakeSet(na, gna), key))
}

func TestKnowledgeIsIncrementalAndPersistent(t *testing.T) {
	k0 := NewKnowledge()
	k1 := k0.Add(gna).Add(gnb)
	require.False(t, k1.Derivable(key))
	require.True(t, k1.SecrecyHolds(term.MakeSet(key)))

	k2 := k1.Add(term.MakePair(na, term.End))
	assert.True(t, k2.Analz().Has(na))
	assert.True(t, k2.Derivable(key))
	assert.Equal(t, []term.Term{key}, k2.Leaked(term.MakeSet(key, nb)))

	// earlier knowledge is untouched, and its negative answer was not memoised
	assert.False(t, k1.Derivable(key))
	assert.False(t, k1.Analz().Has(na))
	assert.Equal(t, 0, k0.IK().Len())
}

func TestSecrecyHoldsContract(t *testing.T) {
	secret := term.MakeSet(key)
	cases := []struct {
		name  string
		ik    term.Set
		holds bool
	}{
		{"empty", term.MakeSet(), true},
		{"public values", term.MakeSet(gna, gnb), true},
		{"key itself", term.MakeSet(key), false},
		{"key inside a pair", term.MakeSet(term.MakePair(term.End, key)), false},
		{"one nonce", term.MakeSet(gna, nb), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.holds, SecrecyHolds(c.ik, secret))
		})
	}
}
