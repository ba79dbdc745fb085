package explore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DistCompiler/pgo/authdh"
	"github.com/DistCompiler/pgo/authdh/term"
)

func distinctStates(t *testing.T) []authdh.State {
	m := authdh.NewMachine(honestEnv(t), authdh.WithLogger(quietLogger()))
	s0 := authdh.NewState()
	s1, ok := m.Step1(s0, "Ra", "A", "B")
	require.True(t, ok)
	s2, ok := m.Learn(s1, term.MakeAgent("A"))
	require.True(t, ok)
	return []authdh.State{s0, s1, s2}
}

func testStore(t *testing.T, store Store) {
	states := distinctStates(t)
	for _, s := range states {
		fresh, err := store.Visit(s)
		require.NoError(t, err)
		assert.True(t, fresh)
	}
	for _, s := range states {
		fresh, err := store.Visit(s)
		require.NoError(t, err)
		assert.False(t, fresh)
	}
	assert.Equal(t, len(states), store.Len())
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	testStore(t, store)
	require.NoError(t, store.Close())
	assert.Equal(t, 0, store.Len())
}

func TestBadgerStoreInMemory(t *testing.T) {
	store, err := OpenBadgerStore("")
	require.NoError(t, err)
	defer store.Close()
	testStore(t, store)
}

func TestBadgerStoreStartsEmptyOnReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBadgerStore(dir)
	require.NoError(t, err)
	testStore(t, store)
	require.NoError(t, store.Close())

	store, err = OpenBadgerStore(dir)
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, 0, store.Len())
	fresh, err := store.Visit(authdh.NewState())
	require.NoError(t, err)
	assert.True(t, fresh)
}

func TestRoundRobinChooserCycles(t *testing.T) {
	options := []authdh.Transition{
		authdh.MakeStep1("Ra", "A", "B"),
		authdh.MakeLearn(term.MakeAgent("A")),
		authdh.MakeLearn(term.MakeAgent("B")),
	}
	s := authdh.NewState()
	chooser := MakeRoundRobinChooser(1)
	first := chooser.Choose(s, options)
	seen := map[int]bool{first: true}
	for i := 1; i < len(options); i++ {
		next := chooser.Choose(s, options)
		assert.Equal(t, (first+i)%len(options), next)
		seen[next] = true
	}
	assert.Len(t, seen, len(options))

	// fewer options reset the counter
	assert.Less(t, chooser.Choose(s, options[:1]), 1)
}

func TestRandomChooserIsSeeded(t *testing.T) {
	options := make([]authdh.Transition, 10)
	s := authdh.NewState()
	a, b := MakeRandomChooser(42), MakeRandomChooser(42)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Choose(s, options), b.Choose(s, options))
	}
}
