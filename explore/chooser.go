package explore

import (
	"fmt"
	"math/rand"

	"github.com/DistCompiler/pgo/authdh"
)

// Chooser picks which enabled transition a random walk takes next.
// A Chooser belongs to one walker and is not safe for concurrent use.
type Chooser interface {
	// Choose returns an index into options, which is never empty.
	Choose(s authdh.State, options []authdh.Transition) int
}

// ChooserMaker builds the chooser of one walker from its seed.
type ChooserMaker func(seed int64) Chooser

type randomChooser struct {
	rng *rand.Rand
}

// MakeRandomChooser picks uniformly among the enabled transitions.
func MakeRandomChooser(seed int64) Chooser {
	return &randomChooser{rng: rand.New(rand.NewSource(seed))}
}

func (c *randomChooser) Choose(_ authdh.State, options []authdh.Transition) int {
	return c.rng.Intn(len(options))
}

type roundRobinRecord struct {
	count, ceiling uint
}

type roundRobinChooser struct {
	rng      *rand.Rand
	counters map[uint64]roundRobinRecord
}

// MakeRoundRobinChooser cycles through the options of every state it
// meets again, so successive walks from the same state branch differently.
// The first choice at a state is random.
func MakeRoundRobinChooser(seed int64) Chooser {
	return &roundRobinChooser{
		rng:      rand.New(rand.NewSource(seed)),
		counters: make(map[uint64]roundRobinRecord),
	}
}

func (c *roundRobinChooser) Choose(s authdh.State, options []authdh.Transition) int {
	ceiling := uint(len(options))
	id := s.Fingerprint()
	record, ok := c.counters[id]
	// a changed ceiling means the options are not the ones counted before
	if !ok || record.ceiling != ceiling {
		record = roundRobinRecord{count: uint(c.rng.Uint32()) % ceiling, ceiling: ceiling}
	} else {
		record.count = (record.count + 1) % ceiling
	}
	c.counters[id] = record
	if record.count >= ceiling {
		panic(fmt.Errorf("bad state: tried to return count %d, which doesn't fit ceiling %d", record.count, ceiling))
	}
	return int(record.count)
}
