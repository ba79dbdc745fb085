// Package session holds the fixed, read-only description of which protocol
// runs exist, who plays them, and the local variable store ("frame") each
// run works with.
package session

import (
	"errors"
	"fmt"
	"sort"

	"github.com/DistCompiler/pgo/authdh/term"
)

// ErrOracle marks a run table or frame that breaks the environment's
// contract. It always indicates a bug in whatever supplied the table.
var ErrOracle = errors.New("session environment contract violated")

// RunID identifies one protocol session instance.
type RunID string

// Nonce returns NonceF(r), the fresh value run r generates.
func (r RunID) Nonce() term.Term {
	return term.MakeNonce(string(r))
}

// Public returns Exp(Gen, NonceF(r)).
func (r RunID) Public() term.Term {
	return term.MakePublic(r.Nonce())
}

// Run is the static role assignment of a run.
type Run struct {
	ID      RunID
	Role    Role
	Owner   string
	Partner string
}

func (run Run) String() string {
	return fmt.Sprintf("%s(%s: %s -> %s)", run.ID, run.Role, run.Owner, run.Partner)
}

// Is reports whether the run plays role with the given owner and partner.
func (run Run) Is(role Role, owner, partner string) bool {
	return run.Role == role && run.Owner == owner && run.Partner == partner
}

// Peer says which exponential a run expects to receive from its partner.
type Peer struct {
	run      RunID
	attacker int32
	isRun    bool
}

// PeerRun expects the public exponential of another run.
func PeerRun(id RunID) Peer {
	return Peer{run: id, isRun: true}
}

// PeerAttacker expects Exp(Gen, Number(n)), an exponential the attacker
// can build from its own exponent n.
func PeerAttacker(n int32) Peer {
	return Peer{attacker: n}
}

func (p Peer) Run() (RunID, bool) {
	return p.run, p.isRun
}

func (p Peer) Attacker() (int32, bool) {
	return p.attacker, !p.isRun
}

func (p Peer) exponential() term.Term {
	if p.isRun {
		return p.run.Public()
	}
	return term.MakePublic(term.MakeNumber(p.attacker))
}

func (p Peer) String() string {
	if p.isRun {
		return "run " + string(p.run)
	}
	return fmt.Sprintf("attacker %d", p.attacker)
}

// RunSpec is one entry of the run table handed to NewEnvironment.
type RunSpec struct {
	Run
	Peer Peer
}

// Frame is a run's local variable store: a partial map from variables to
// terms. Frames are values; copies never alias.
type Frame struct {
	vals   [numVars]term.Term
	domain VarSet
}

func MakeFrame(bindings map[Var]term.Term) Frame {
	var f Frame
	for v, t := range bindings {
		if v >= numVars {
			panic(fmt.Errorf("%w: unknown variable %v", ErrOracle, v))
		}
		f.vals[v] = t
		f.domain = f.domain.Add(v)
	}
	return f
}

func (f Frame) Get(v Var) (term.Term, bool) {
	if !f.domain.Has(v) {
		return term.Term{}, false
	}
	return f.vals[v], true
}

// Binds reports whether v is bound to exactly t.
func (f Frame) Binds(v Var, t term.Term) bool {
	bound, ok := f.Get(v)
	return ok && bound.Equal(t)
}

func (f Frame) Domain() VarSet {
	return f.domain
}

func (f Frame) String() string {
	s := "["
	for i, v := range f.domain.Slice() {
		if i > 0 {
			s += ", "
		}
		s += v.String() + " |-> " + f.vals[v].String()
	}
	return s + "]"
}

// Environment is the session oracle: the run table plus one frame per
// run. It never changes after construction.
type Environment struct {
	test   RunID
	order  []RunID
	runs   map[RunID]Run
	peers  map[RunID]Peer
	frames map[RunID]Frame
}

// NewEnvironment builds every run's frame from its role and peer, then
// validates the whole table.
func NewEnvironment(test RunID, specs ...RunSpec) (*Environment, error) {
	runs := make([]Run, 0, len(specs))
	frames := make(map[RunID]Frame, len(specs))
	peers := make(map[RunID]Peer, len(specs))
	for _, spec := range specs {
		if err := checkNames(spec.Run); err != nil {
			return nil, err
		}
		if id, ok := spec.Peer.Run(); ok && !term.ValidName(string(id)) {
			return nil, fmt.Errorf("%w: run %s names malformed peer run %q", ErrOracle, spec.ID, id)
		}
		runs = append(runs, spec.Run)
		frames[spec.ID] = buildFrame(spec.Run, spec.Peer)
		peers[spec.ID] = spec.Peer
	}
	env, err := NewEnvironmentWithFrames(test, runs, frames)
	if err != nil {
		return nil, err
	}
	for _, spec := range specs {
		if err := env.checkPeer(spec.Run, spec.Peer); err != nil {
			return nil, err
		}
	}
	env.peers = peers
	return env, nil
}

// MustEnvironment is NewEnvironment for tables known to be well-formed.
func MustEnvironment(test RunID, specs ...RunSpec) *Environment {
	env, err := NewEnvironment(test, specs...)
	if err != nil {
		panic(err)
	}
	return env
}

// NewEnvironmentWithFrames accepts caller-supplied frames, checking each
// against its run's role.
func NewEnvironmentWithFrames(test RunID, runs []Run, frames map[RunID]Frame) (*Environment, error) {
	env := &Environment{
		test:   test,
		runs:   make(map[RunID]Run, len(runs)),
		frames: make(map[RunID]Frame, len(runs)),
		peers:  make(map[RunID]Peer),
	}
	for _, run := range runs {
		if err := checkNames(run); err != nil {
			return nil, err
		}
		if _, dup := env.runs[run.ID]; dup {
			return nil, fmt.Errorf("%w: run %s declared twice", ErrOracle, run.ID)
		}
		if run.Owner == "" || run.Partner == "" {
			return nil, fmt.Errorf("%w: run %s needs both an owner and a partner", ErrOracle, run.ID)
		}
		if run.Role != Init && run.Role != Resp {
			return nil, fmt.Errorf("%w: run %s has unknown role %v", ErrOracle, run.ID, run.Role)
		}
		frame, ok := frames[run.ID]
		if !ok {
			return nil, fmt.Errorf("%w: run %s has no frame", ErrOracle, run.ID)
		}
		if err := ValidateFrame(run, frame); err != nil {
			return nil, err
		}
		env.runs[run.ID] = run
		env.frames[run.ID] = frame
		env.order = append(env.order, run.ID)
	}
	for id := range frames {
		if _, ok := env.runs[id]; !ok {
			return nil, fmt.Errorf("%w: frame for undeclared run %s", ErrOracle, id)
		}
	}
	if _, ok := env.runs[test]; !ok {
		return nil, fmt.Errorf("%w: test run %s is not declared", ErrOracle, test)
	}
	sort.Slice(env.order, func(i, j int) bool { return env.order[i] < env.order[j] })
	return env, nil
}

// checkNames rejects identifiers that would make two distinct terms
// render alike.
func checkNames(run Run) error {
	if run.ID == "" {
		return fmt.Errorf("%w: run with empty identifier", ErrOracle)
	}
	for _, name := range []string{string(run.ID), run.Owner, run.Partner} {
		if name != "" && !term.ValidName(name) {
			return fmt.Errorf("%w: run %s uses the reserved characters of %q", ErrOracle, run.ID, name)
		}
	}
	return nil
}

func buildFrame(run Run, peer Peer) Frame {
	own := run.ID.Nonce()
	partner := peer.exponential()
	bindings := map[Var]term.Term{
		Sk:     term.MakeExp(partner, own),
		EndVar: term.End,
	}
	switch run.Role {
	case Init:
		bindings[Nx] = own
		bindings[Gnx] = run.ID.Public()
		bindings[Gny] = partner
	case Resp:
		bindings[Ny] = own
		bindings[Gny] = run.ID.Public()
		bindings[Gnx] = partner
	}
	return MakeFrame(bindings)
}

// ValidateFrame checks a frame against the oracle contract: its domain is
// exactly the role's variables, every value is a payload, and the run's own
// nonce and exponential are NonceF(run) and Exp(Gen, NonceF(run)).
func ValidateFrame(run Run, frame Frame) error {
	if frame.Domain() != run.Role.Vars() {
		return fmt.Errorf("%w: frame of %s binds %v, want %v", ErrOracle, run.ID, frame.Domain(), run.Role.Vars())
	}
	for _, v := range frame.Domain().Slice() {
		t, _ := frame.Get(v)
		if !t.IsValid() {
			return fmt.Errorf("%w: frame of %s binds %v to an invalid term", ErrOracle, run.ID, v)
		}
		if !term.IsPayload(t) {
			return fmt.Errorf("%w: frame of %s binds %v to non-payload %v", ErrOracle, run.ID, v, t)
		}
	}
	nonceVar, publicVar := Nx, Gnx
	if run.Role == Resp {
		nonceVar, publicVar = Ny, Gny
	}
	if !frame.Binds(nonceVar, run.ID.Nonce()) {
		return fmt.Errorf("%w: frame of %s must bind %v to %v", ErrOracle, run.ID, nonceVar, run.ID.Nonce())
	}
	if !frame.Binds(publicVar, run.ID.Public()) {
		return fmt.Errorf("%w: frame of %s must bind %v to %v", ErrOracle, run.ID, publicVar, run.ID.Public())
	}
	if !frame.Binds(EndVar, term.End) {
		return fmt.Errorf("%w: frame of %s must bind End to the End constant", ErrOracle, run.ID)
	}
	return nil
}

func (env *Environment) checkPeer(run Run, peer Peer) error {
	id, ok := peer.Run()
	if !ok {
		return nil
	}
	other, ok := env.runs[id]
	if !ok {
		return fmt.Errorf("%w: run %s names unknown peer run %s", ErrOracle, run.ID, id)
	}
	if other.Role == run.Role || other.Owner != run.Partner || other.Partner != run.Owner {
		return fmt.Errorf("%w: run %s cannot be paired with %s", ErrOracle, run, other)
	}
	return nil
}

func (env *Environment) RoleOf(id RunID) (Run, bool) {
	run, ok := env.runs[id]
	return run, ok
}

// FrameOf returns the frame of a run; unknown runs have an empty frame.
func (env *Environment) FrameOf(id RunID) Frame {
	return env.frames[id]
}

// PeerOf returns how a run built by NewEnvironment guesses its partner.
func (env *Environment) PeerOf(id RunID) (Peer, bool) {
	peer, ok := env.peers[id]
	return peer, ok
}

// Runs returns every run, ordered by identifier.
func (env *Environment) Runs() []Run {
	out := make([]Run, 0, len(env.order))
	for _, id := range env.order {
		out = append(out, env.runs[id])
	}
	return out
}

// Matching returns the runs playing role with the given owner and partner.
func (env *Environment) Matching(role Role, owner, partner string) []Run {
	var out []Run
	for _, id := range env.order {
		if run := env.runs[id]; run.Is(role, owner, partner) {
			out = append(out, run)
		}
	}
	return out
}

func (env *Environment) Test() RunID {
	return env.test
}

func (env *Environment) TestOwner() string {
	return env.runs[env.test].Owner
}

func (env *Environment) TestPartner() string {
	return env.runs[env.test].Partner
}

// SessionKey returns the key a run derives, the value its frame binds to sk.
func (env *Environment) SessionKey(id RunID) (term.Term, bool) {
	return env.frames[id].Get(Sk)
}
