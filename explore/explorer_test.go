package explore

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DistCompiler/pgo/authdh"
	"github.com/DistCompiler/pgo/authdh/invariant"
	"github.com/DistCompiler/pgo/authdh/session"
	"github.com/DistCompiler/pgo/authdh/term"
	"github.com/DistCompiler/pgo/authdh/trace"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func honestEnv(t *testing.T) *session.Environment {
	env, err := session.NewEnvironment("Ra",
		session.RunSpec{Run: session.Run{ID: "Ra", Role: session.Init, Owner: "A", Partner: "B"}, Peer: session.PeerRun("Rb")},
		session.RunSpec{Run: session.Run{ID: "Rb", Role: session.Resp, Owner: "B", Partner: "A"}, Peer: session.PeerRun("Ra")},
	)
	require.NoError(t, err)
	return env
}

// testRunNeverEnds fails as soon as the test run completes, giving the
// explorer something to find.
var testRunNeverEnds = invariant.Property{
	Name: "TestRunNeverEnds",
	Check: func(ctx invariant.Context) error {
		if ctx.Next.Ended(ctx.Env.Test()) {
			return &invariant.Violation{Property: "TestRunNeverEnds", Message: "test run ended"}
		}
		return nil
	},
}

func TestExhaustiveHonestSessionIsSafe(t *testing.T) {
	e := New(honestEnv(t), WithLogger(quietLogger()))
	defer e.Close()

	report, err := e.Exhaustive(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Complete())
	assert.True(t, report.Satisfied(), "findings: %v", report.Findings)
	assert.Greater(t, report.States, 4)
	assert.Equal(t, report.States, e.store.Len())
}

func TestExhaustiveWithLeakedNoncesIsSafe(t *testing.T) {
	e := New(honestEnv(t), WithLogger(quietLogger()), WithLeakedNonces(true))
	defer e.Close()
	assert.Len(t, e.Vocabulary(), 4)

	report, err := e.Exhaustive(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Satisfied(), "findings: %v", report.Findings)
}

func TestExhaustiveFindsShortestTrace(t *testing.T) {
	recorder := &trace.MemoryRecorder{}
	e := New(honestEnv(t),
		WithLogger(quietLogger()),
		WithProperties(testRunNeverEnds),
		WithRecorder(recorder),
	)
	defer e.Close()

	report, err := e.Exhaustive(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, report.Findings)
	first := report.Findings[0]
	assert.Equal(t, "TestRunNeverEnds", first.Property)
	assert.Equal(t, []string{
		"step1(Ra, A, B)",
		"step2(Rb, A, B, Exp(Gen, NonceF(Ra)))",
		"step3(Ra, A, B, Exp(Gen, NonceF(Rb)))",
	}, first.Witness())
	assert.Len(t, recorder.Findings(), len(report.Findings))
	assert.Greater(t, len(report.Findings), 1, "exploration goes on after a finding")
}

func TestExhaustiveStopOnFirst(t *testing.T) {
	e := New(honestEnv(t), WithLogger(quietLogger()), WithProperties(testRunNeverEnds), WithStopOnFirst(true))
	defer e.Close()

	report, err := e.Exhaustive(context.Background())
	require.NoError(t, err)
	assert.Len(t, report.Findings, 1)
}

func TestExhaustiveBounds(t *testing.T) {
	e := New(honestEnv(t), WithLogger(quietLogger()), WithMaxStates(3))
	report, err := e.Exhaustive(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, report.Cutoff, ErrStateLimit)
	assert.Equal(t, 3, report.States)
	require.NoError(t, e.Close())

	e = New(honestEnv(t), WithLogger(quietLogger()), WithMaxDepth(1))
	report, err = e.Exhaustive(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, report.Cutoff, ErrDepthLimit)
	assert.Equal(t, 1, report.MaxDepth)
	assert.False(t, report.Complete())
	require.NoError(t, e.Close())
}

func TestExhaustiveHonoursCancellation(t *testing.T) {
	e := New(honestEnv(t), WithLogger(quietLogger()))
	defer e.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Exhaustive(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestExhaustiveAgreesAcrossStores(t *testing.T) {
	memory := New(honestEnv(t), WithLogger(quietLogger()))
	defer memory.Close()
	want, err := memory.Exhaustive(context.Background())
	require.NoError(t, err)

	store, err := OpenBadgerStore("")
	require.NoError(t, err)
	persistent := New(honestEnv(t), WithLogger(quietLogger()), WithStore(store))
	defer persistent.Close()
	got, err := persistent.Exhaustive(context.Background())
	require.NoError(t, err)

	assert.Equal(t, want.States, got.States)
	assert.Equal(t, want.Transitions, got.Transitions)
}

func TestExhaustiveRepeatsOnSameBadgerDir(t *testing.T) {
	dir := t.TempDir()
	var reports []Report
	for i := 0; i < 2; i++ {
		store, err := OpenBadgerStore(dir)
		require.NoError(t, err)
		e := New(honestEnv(t), WithLogger(quietLogger()), WithStore(store), WithProperties(testRunNeverEnds))
		report, err := e.Exhaustive(context.Background())
		require.NoError(t, err)
		require.NoError(t, e.Close())
		reports = append(reports, report)
	}
	require.NotEmpty(t, reports[0].Findings)
	assert.Equal(t, reports[0].States, reports[1].States)
	assert.Equal(t, reports[0].Transitions, reports[1].Transitions)
	assert.Len(t, reports[1].Findings, len(reports[0].Findings))
}

func TestExhaustiveRefusesUsedStore(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Visit(authdh.NewState())
	require.NoError(t, err)
	e := New(honestEnv(t), WithLogger(quietLogger()), WithStore(store))
	defer e.Close()

	report, err := e.Exhaustive(context.Background())
	assert.ErrorIs(t, err, ErrStoreInUse)
	assert.True(t, report.Satisfied())
	assert.Zero(t, report.States)
}

func TestSimulate(t *testing.T) {
	for name, maker := range map[string]ChooserMaker{
		"random":      MakeRandomChooser,
		"round robin": MakeRoundRobinChooser,
	} {
		t.Run(name, func(t *testing.T) {
			recorder := &trace.MemoryRecorder{}
			e := New(honestEnv(t),
				WithLogger(quietLogger()),
				WithProperties(append(invariant.All(), testRunNeverEnds)...),
				WithRecorder(recorder),
				WithChooser(maker),
				WithWorkers(4),
				WithSeed(7),
			)
			defer e.Close()

			report, err := e.Simulate(context.Background(), 20)
			require.NoError(t, err)
			assert.Equal(t, 20, report.Walks)
			assert.True(t, report.Complete())
			assert.Equal(t, report.Transitions, len(recorder.Events()))
			require.NotEmpty(t, report.Findings, "every walk ends the test run")
			for _, finding := range report.Findings {
				assert.Equal(t, "TestRunNeverEnds", finding.Property)
				completed := false
				for _, event := range finding.Trace {
					completed = completed || (event.Transition.Kind == authdh.Step3 && event.Transition.Run == "Ra")
				}
				assert.True(t, completed, "trace %v never completes Ra", finding.Witness())
			}
		})
	}
}

func TestSimulateStopOnFirst(t *testing.T) {
	e := New(honestEnv(t),
		WithLogger(quietLogger()),
		WithProperties(testRunNeverEnds),
		WithStopOnFirst(true),
		WithWorkers(2),
	)
	defer e.Close()
	report, err := e.Simulate(context.Background(), 50)
	require.NoError(t, err)
	assert.NotEmpty(t, report.Findings)
	assert.LessOrEqual(t, report.Walks, 50)
}

func TestDefaultVocabulary(t *testing.T) {
	env, err := session.NewEnvironment("Ra",
		session.RunSpec{Run: session.Run{ID: "Ra", Role: session.Init, Owner: "A", Partner: "E"}, Peer: session.PeerAttacker(3)},
		session.RunSpec{Run: session.Run{ID: "Rb", Role: session.Resp, Owner: "B", Partner: "E"}, Peer: session.PeerAttacker(3)},
	)
	require.NoError(t, err)
	vocabulary := DefaultVocabulary(env, false)
	assert.Equal(t, []term.Term{
		session.RunID("Ra").Public(),
		term.MakePublic(term.MakeNumber(3)),
		session.RunID("Rb").Public(),
	}, vocabulary)
	assert.Len(t, DefaultVocabulary(env, true), 5)
}
