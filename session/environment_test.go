package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DistCompiler/pgo/authdh/term"
)

func honestPair() []RunSpec {
	return []RunSpec{
		{Run: Run{ID: "Ra", Role: Init, Owner: "A", Partner: "B"}, Peer: PeerRun("Rb")},
		{Run: Run{ID: "Rb", Role: Resp, Owner: "B", Partner: "A"}, Peer: PeerRun("Ra")},
	}
}

func TestNewEnvironmentBuildsFrames(t *testing.T) {
	env, err := NewEnvironment("Ra", honestPair()...)
	require.NoError(t, err)

	ra := env.FrameOf("Ra")
	assert.Equal(t, InitVars, ra.Domain())
	assert.True(t, ra.Binds(Nx, term.MakeNonce("Ra")))
	assert.True(t, ra.Binds(Gnx, RunID("Ra").Public()))
	assert.True(t, ra.Binds(Gny, RunID("Rb").Public()))
	assert.True(t, ra.Binds(EndVar, term.End))

	rb := env.FrameOf("Rb")
	assert.Equal(t, RespVars, rb.Domain())
	assert.True(t, rb.Binds(Ny, term.MakeNonce("Rb")))
	assert.True(t, rb.Binds(Gnx, RunID("Ra").Public()))

	keyA, _ := env.SessionKey("Ra")
	keyB, _ := env.SessionKey("Rb")
	assert.True(t, keyA.Equal(keyB), "both sides of an honest pair derive the same key: %v vs %v", keyA, keyB)

	assert.Equal(t, "A", env.TestOwner())
	assert.Equal(t, "B", env.TestPartner())
	assert.Len(t, env.Matching(Resp, "B", "A"), 1)
	assert.Equal(t, []Run{honestPair()[0].Run, honestPair()[1].Run}, env.Runs())
}

func TestAttackerPeer(t *testing.T) {
	env := MustEnvironment("Ra",
		RunSpec{Run: Run{ID: "Ra", Role: Init, Owner: "A", Partner: "E"}, Peer: PeerAttacker(3)},
	)
	gny, ok := env.FrameOf("Ra").Get(Gny)
	require.True(t, ok)
	assert.Equal(t, "Exp(Gen, Number(3))", gny.String())
	peer, ok := env.PeerOf("Ra")
	require.True(t, ok)
	n, isAttacker := peer.Attacker()
	assert.True(t, isAttacker)
	assert.EqualValues(t, 3, n)
}

func TestEnvironmentRejectsBadTables(t *testing.T) {
	cases := map[string]func() error{
		"unknown test run": func() error {
			_, err := NewEnvironment("Rz", honestPair()...)
			return err
		},
		"duplicate run": func() error {
			specs := append(honestPair(), honestPair()[0])
			_, err := NewEnvironment("Ra", specs...)
			return err
		},
		"peer of the same role": func() error {
			_, err := NewEnvironment("Ra",
				RunSpec{Run: Run{ID: "Ra", Role: Init, Owner: "A", Partner: "B"}, Peer: PeerRun("Rc")},
				RunSpec{Run: Run{ID: "Rc", Role: Init, Owner: "B", Partner: "A"}, Peer: PeerAttacker(1)},
			)
			return err
		},
		"peer with other participants": func() error {
			_, err := NewEnvironment("Ra",
				RunSpec{Run: Run{ID: "Ra", Role: Init, Owner: "A", Partner: "B"}, Peer: PeerRun("Rb")},
				RunSpec{Run: Run{ID: "Rb", Role: Resp, Owner: "C", Partner: "A"}, Peer: PeerRun("Ra")},
			)
			return err
		},
		"bracketed agent name": func() error {
			_, err := NewEnvironment("Ra", RunSpec{Run: Run{ID: "Ra", Role: Init, Owner: "A", Partner: "x), Agent(y"}, Peer: PeerAttacker(1)})
			return err
		},
		"run identifier with comma": func() error {
			_, err := NewEnvironment("Ra,Rb", RunSpec{Run: Run{ID: "Ra,Rb", Role: Init, Owner: "A", Partner: "B"}, Peer: PeerAttacker(1)})
			return err
		},
		"malformed peer run": func() error {
			_, err := NewEnvironment("Ra", RunSpec{Run: Run{ID: "Ra", Role: Init, Owner: "A", Partner: "B"}, Peer: PeerRun("Rb)")})
			return err
		},
		"missing owner": func() error {
			_, err := NewEnvironment("Ra", RunSpec{Run: Run{ID: "Ra", Role: Init, Partner: "B"}, Peer: PeerAttacker(1)})
			return err
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, fn(), ErrOracle)
		})
	}
	assert.Panics(t, func() { MustEnvironment("nope") })
}

func TestValidateFrame(t *testing.T) {
	run := Run{ID: "Ra", Role: Init, Owner: "A", Partner: "B"}
	good := map[Var]term.Term{
		Nx:     term.MakeNonce("Ra"),
		Gnx:    RunID("Ra").Public(),
		Gny:    term.MakePublic(term.MakeNumber(9)),
		Sk:     term.MakeExp(term.MakePublic(term.MakeNumber(9)), term.MakeNonce("Ra")),
		EndVar: term.End,
	}
	require.NoError(t, ValidateFrame(run, MakeFrame(good)))

	mutate := func(v Var, val term.Term) Frame {
		bindings := make(map[Var]term.Term, len(good))
		for k, bound := range good {
			bindings[k] = bound
		}
		if val.IsValid() {
			bindings[v] = val
		} else {
			delete(bindings, v)
		}
		return MakeFrame(bindings)
	}

	assert.ErrorIs(t, ValidateFrame(run, mutate(Ny, term.MakeNonce("Ra"))), ErrOracle, "extra variable")
	assert.ErrorIs(t, ValidateFrame(run, mutate(Sk, term.Term{})), ErrOracle, "missing variable")
	assert.ErrorIs(t, ValidateFrame(run, mutate(Gny, term.MakeLtK("B"))), ErrOracle, "long-term key")
	assert.ErrorIs(t, ValidateFrame(run, mutate(Nx, term.MakeNonce("Rb"))), ErrOracle, "foreign nonce")
	assert.ErrorIs(t, ValidateFrame(run, mutate(Gnx, RunID("Rb").Public())), ErrOracle, "foreign exponential")

	_, err := NewEnvironmentWithFrames("Ra", []Run{run}, map[RunID]Frame{"Ra": MakeFrame(good), "Rq": MakeFrame(good)})
	assert.ErrorIs(t, err, ErrOracle, "frame for undeclared run")
}

func TestVarSet(t *testing.T) {
	s := MakeVarSet(Nx, Gnx)
	assert.True(t, s.Subset(InitVars))
	assert.False(t, RespVars.Subset(InitVars))
	assert.False(t, s.Ended())
	assert.True(t, s.Add(EndVar).Ended())
	assert.Equal(t, "{nx, gnx}", s.String())
	assert.Equal(t, 5, InitVars.Len())
}
