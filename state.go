package authdh

import (
	"fmt"
	"sort"
	"strings"

	"github.com/benbjohnson/immutable"
	"github.com/segmentio/fasthash/fnv1a"

	"github.com/DistCompiler/pgo/authdh/intruder"
	"github.com/DistCompiler/pgo/authdh/session"
	"github.com/DistCompiler/pgo/authdh/term"
)

type runIDHasher struct{}

var _ immutable.Hasher[session.RunID] = runIDHasher{}

func (runIDHasher) Hash(key session.RunID) uint32 { return fnv1a.HashString32(string(key)) }
func (runIDHasher) Equal(a, b session.RunID) bool { return a == b }

// State is the global state of the model. States are persistent: every
// transition builds a new State sharing structure with its predecessor,
// and a State is never modified once built.
type State struct {
	knowledge   intruder.Knowledge
	secret      term.Set
	progress    *immutable.Map[session.RunID, session.VarSet]
	signalsInit Signals
	signalsResp Signals
}

// NewState returns the initial state: nothing known, nothing secret, no
// run started, every signal at zero.
func NewState() State {
	return State{
		knowledge: intruder.NewKnowledge(),
		progress:  immutable.NewMap[session.RunID, session.VarSet](runIDHasher{}),
	}
}

// IK returns the intruder knowledge.
func (s State) IK() term.Set {
	return s.knowledge.IK()
}

// Knowledge returns the cached closure of the intruder knowledge.
func (s State) Knowledge() intruder.Knowledge {
	return s.knowledge
}

func (s State) Secret() term.Set {
	return s.secret
}

// Progress returns the variables a run has bound; ok is false for runs
// that have not started.
func (s State) Progress(id session.RunID) (vars session.VarSet, ok bool) {
	if s.progress == nil {
		return 0, false
	}
	return s.progress.Get(id)
}

func (s State) Started(id session.RunID) bool {
	_, ok := s.Progress(id)
	return ok
}

func (s State) Ended(id session.RunID) bool {
	vars, ok := s.Progress(id)
	return ok && vars.Ended()
}

// StartedRuns lists the runs with progress, ordered by identifier.
func (s State) StartedRuns() []session.RunID {
	var out []session.RunID
	if s.progress != nil {
		it := s.progress.Iterator()
		for !it.Done() {
			id, _, _ := it.Next()
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s State) SignalsInit() Signals {
	return s.signalsInit
}

func (s State) SignalsResp() Signals {
	return s.signalsResp
}

func (s State) withProgress(id session.RunID, vars session.VarSet) State {
	if s.progress == nil {
		s.progress = immutable.NewMap[session.RunID, session.VarSet](runIDHasher{})
	}
	s.progress = s.progress.Set(id, vars)
	return s
}

func (s State) Hash() uint32 {
	h := fnv1a.HashUint32(s.IK().Hash())
	h = fnv1a.AddUint32(h, s.secret.Hash())
	var progress uint32
	if s.progress != nil {
		it := s.progress.Iterator()
		for !it.Done() {
			id, vars, _ := it.Next()
			progress ^= fnv1a.AddUint32(fnv1a.HashString32(string(id)), uint32(vars))
		}
	}
	h = fnv1a.AddUint32(h, progress)
	h = fnv1a.AddUint32(h, s.signalsInit.Hash())
	return fnv1a.AddUint32(h, s.signalsResp.Hash())
}

// Fingerprint is a 64-bit digest of the canonical rendering, used where
// states are remembered without being kept.
func (s State) Fingerprint() uint64 {
	return fnv1a.HashString64(s.String())
}

func (s State) Equal(other State) bool {
	if !s.IK().Equal(other.IK()) || !s.secret.Equal(other.secret) {
		return false
	}
	ids := s.StartedRuns()
	if len(ids) != len(other.StartedRuns()) {
		return false
	}
	for _, id := range ids {
		mine, _ := s.Progress(id)
		theirs, ok := other.Progress(id)
		if !ok || mine != theirs {
			return false
		}
	}
	return s.signalsInit.Equal(other.signalsInit) && s.signalsResp.Equal(other.signalsResp)
}

func (s State) String() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "ik=%v secret=%v progress={", s.IK(), s.secret)
	for i, id := range s.StartedRuns() {
		if i > 0 {
			builder.WriteString(", ")
		}
		vars, _ := s.Progress(id)
		fmt.Fprintf(&builder, "%s: %v", id, vars)
	}
	fmt.Fprintf(&builder, "} signalsInit=%v signalsResp=%v", s.signalsInit, s.signalsResp)
	return builder.String()
}
