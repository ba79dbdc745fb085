// Package authdh models a two-party authenticated Diffie-Hellman exchange
// as a labelled transition system. A Machine applies guarded transitions to
// persistent States; the session oracle it is built over fixes which runs
// exist and what each run computes.
package authdh

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/DistCompiler/pgo/authdh/session"
	"github.com/DistCompiler/pgo/authdh/term"
)

// ErrDisabled is returned by Guard when a transition's guard does not hold.
var ErrDisabled = errors.New("transition disabled")

var (
	afterStep1 = session.MakeVarSet(session.Nx, session.Gnx)
	afterStep2 = session.MakeVarSet(session.Ny, session.Gny, session.Gnx, session.Sk)
	// what an initiator has bound once step3 has run, ignoring End
	initBound = session.MakeVarSet(session.Nx, session.Gnx, session.Gny, session.Sk)
)

type Machine struct {
	env *session.Environment
	log *logrus.Logger
}

type MachineConfigFn func(m *Machine)

// WithLogger routes transition logging to log instead of the standard logger.
func WithLogger(log *logrus.Logger) MachineConfigFn {
	return func(m *Machine) {
		m.log = log
	}
}

func NewMachine(env *session.Environment, configFns ...MachineConfigFn) *Machine {
	m := &Machine{
		env: env,
		log: logrus.StandardLogger(),
	}
	for _, fn := range configFns {
		fn(m)
	}
	return m
}

func (m *Machine) Env() *session.Environment {
	return m.env
}

// CanSignal holds when {a, b} is the test session's pair of participants
// and the test run has not ended yet.
func (m *Machine) CanSignal(s State, a, b string) bool {
	owner, partner := m.env.TestOwner(), m.env.TestPartner()
	samePair := (a == owner && b == partner) || (a == partner && b == owner)
	return samePair && !s.Ended(m.env.Test())
}

func disabled(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDisabled, fmt.Sprintf(format, args...))
}

// Guard reports whether t is enabled in s, and if not, why.
func (m *Machine) Guard(s State, t Transition) error {
	var err error
	switch t.Kind {
	case Learn:
		err = m.learnGuard(s, t.Msg)
	case Step1:
		err = m.step1Guard(s, t.Run, t.A, t.B)
	case Step2:
		_, err = m.step2Guard(s, t.Run, t.A, t.B, t.Msg)
	case Step3:
		_, err = m.step3Guard(s, t.Run, t.A, t.B, t.Msg)
	case Step4:
		_, err = m.step4Guard(s, t.Run, t.A, t.B, t.Msg)
	default:
		err = disabled("unknown transition kind %v", t.Kind)
	}
	return err
}

// Apply dispatches t to the matching transition.
func (m *Machine) Apply(s State, t Transition) (State, bool) {
	switch t.Kind {
	case Learn:
		return m.Learn(s, t.Msg)
	case Step1:
		return m.Step1(s, t.Run, t.A, t.B)
	case Step2:
		return m.Step2(s, t.Run, t.A, t.B, t.Msg)
	case Step3:
		return m.Step3(s, t.Run, t.A, t.B, t.Msg)
	case Step4:
		return m.Step4(s, t.Run, t.A, t.B, t.Msg)
	default:
		m.rejected(t, disabled("unknown transition kind %v", t.Kind))
		return s, false
	}
}

func (m *Machine) learnGuard(s State, msg term.Term) error {
	if !msg.IsValid() {
		return disabled("no message to learn")
	}
	if leaked := s.knowledge.Add(msg).Leaked(s.secret); len(leaked) > 0 {
		return disabled("learning %v reveals %v", msg, leaked)
	}
	return nil
}

// Learn adds msg to the intruder knowledge, unless the extended
// knowledge could already derive a recorded secret.
func (m *Machine) Learn(s State, msg term.Term) (State, bool) {
	t := MakeLearn(msg)
	if err := m.learnGuard(s, msg); err != nil {
		m.rejected(t, err)
		return s, false
	}
	next := s
	next.knowledge = s.knowledge.Add(msg)
	m.applied(t)
	return next, true
}

func (m *Machine) step1Guard(s State, ra session.RunID, a, b string) error {
	run, ok := m.env.RoleOf(ra)
	if !ok || !run.Is(session.Init, a, b) {
		return disabled("%s is not an initiator run of %s with %s", ra, a, b)
	}
	if s.Started(ra) {
		return disabled("%s already started", ra)
	}
	return nil
}

// Step1 starts initiator run ra: it picks its nonce and exponential.
func (m *Machine) Step1(s State, ra session.RunID, a, b string) (State, bool) {
	t := MakeStep1(ra, a, b)
	if err := m.step1Guard(s, ra, a, b); err != nil {
		m.rejected(t, err)
		return s, false
	}
	m.applied(t)
	return s.withProgress(ra, afterStep1), true
}

// receives checks that the run's frame expects msg in v and derives its
// session key from msg and its own nonce.
func (m *Machine) receives(id session.RunID, v session.Var, msg term.Term) (term.Term, error) {
	if !msg.IsValid() {
		return term.Term{}, disabled("%s received no %v", id, v)
	}
	frame := m.env.FrameOf(id)
	if !frame.Binds(v, msg) {
		return term.Term{}, disabled("%s expects a different %v than %v", id, v, msg)
	}
	key := term.MakeExp(msg, id.Nonce())
	if !frame.Binds(session.Sk, key) {
		return term.Term{}, disabled("%s does not derive %v as its key", id, key)
	}
	return key, nil
}

func (m *Machine) step2Guard(s State, rb session.RunID, a, b string, gnx term.Term) (term.Term, error) {
	run, ok := m.env.RoleOf(rb)
	if !ok || !run.Is(session.Resp, b, a) {
		return term.Term{}, disabled("%s is not a responder run of %s with %s", rb, b, a)
	}
	if s.Started(rb) {
		return term.Term{}, disabled("%s already started", rb)
	}
	return m.receives(rb, session.Gnx, gnx)
}

// Step2 starts responder run rb on receipt of gnx. While the test session
// is live it emits Running(a, b, key) on the initiator's behalf.
func (m *Machine) Step2(s State, rb session.RunID, a, b string, gnx term.Term) (State, bool) {
	t := MakeStep2(rb, a, b, gnx)
	key, err := m.step2Guard(s, rb, a, b, gnx)
	if err != nil {
		m.rejected(t, err)
		return s, false
	}
	next := s.withProgress(rb, afterStep2)
	if m.CanSignal(s, a, b) {
		next.signalsInit = next.signalsInit.Inc(MakeRunning(a, b, key))
	}
	m.applied(t)
	return next, true
}

func (m *Machine) step3Guard(s State, ra session.RunID, a, b string, gny term.Term) (term.Term, error) {
	run, ok := m.env.RoleOf(ra)
	if !ok || !run.Is(session.Init, a, b) {
		return term.Term{}, disabled("%s is not an initiator run of %s with %s", ra, a, b)
	}
	if vars, ok := s.Progress(ra); !ok || vars != afterStep1 {
		return term.Term{}, disabled("%s is not waiting for gny", ra)
	}
	key, err := m.receives(ra, session.Gny, gny)
	if err != nil {
		return term.Term{}, err
	}
	if m.CanSignal(s, a, b) && !m.respondedTo(s, ra, a, b, gny) {
		return term.Term{}, disabled("no responder run of %s answered %s with %v", b, ra, gny)
	}
	if ra == m.env.Test() && s.knowledge.Derivable(key) {
		return term.Term{}, disabled("test key %v is already known", key)
	}
	return key, nil
}

// respondedTo looks for a responder run of b with a that has sent gny
// after receiving ra's genuine exponential.
func (m *Machine) respondedTo(s State, ra session.RunID, a, b string, gny term.Term) bool {
	for _, rb := range m.env.Matching(session.Resp, b, a) {
		vars, ok := s.Progress(rb.ID)
		if !ok || !afterStep2.Subset(vars) {
			continue
		}
		frame := m.env.FrameOf(rb.ID)
		if frame.Binds(session.Gny, gny) && frame.Binds(session.Gnx, ra.Public()) {
			return true
		}
	}
	return false
}

// Step3 completes initiator run ra on receipt of gny.
func (m *Machine) Step3(s State, ra session.RunID, a, b string, gny term.Term) (State, bool) {
	t := MakeStep3(ra, a, b, gny)
	key, err := m.step3Guard(s, ra, a, b, gny)
	if err != nil {
		m.rejected(t, err)
		return s, false
	}
	next := s.withProgress(ra, initBound.Add(session.EndVar))
	if ra == m.env.Test() {
		next.secret = next.secret.Add(key)
	}
	if m.CanSignal(s, a, b) {
		next.signalsInit = next.signalsInit.Inc(MakeCommit(a, b, key))
		next.signalsResp = next.signalsResp.Inc(MakeRunning(a, b, key))
	}
	m.applied(t)
	return next, true
}

func (m *Machine) step4Guard(s State, rb session.RunID, a, b string, gnx term.Term) (term.Term, error) {
	run, ok := m.env.RoleOf(rb)
	if !ok || !run.Is(session.Resp, b, a) {
		return term.Term{}, disabled("%s is not a responder run of %s with %s", rb, b, a)
	}
	if vars, ok := s.Progress(rb); !ok || vars != afterStep2 {
		return term.Term{}, disabled("%s is not waiting to finish", rb)
	}
	key, err := m.receives(rb, session.Gnx, gnx)
	if err != nil {
		return term.Term{}, err
	}
	if m.CanSignal(s, a, b) && !m.initiatedBy(s, rb, a, b, gnx) {
		return term.Term{}, disabled("no initiator run of %s completed with %s using %v", a, rb, gnx)
	}
	if rb == m.env.Test() && s.knowledge.Derivable(key) {
		return term.Term{}, disabled("test key %v is already known", key)
	}
	return key, nil
}

// initiatedBy looks for an initiator run of a with b that sent gnx and
// completed on rb's genuine exponential.
func (m *Machine) initiatedBy(s State, rb session.RunID, a, b string, gnx term.Term) bool {
	for _, ra := range m.env.Matching(session.Init, a, b) {
		vars, ok := s.Progress(ra.ID)
		if !ok || !initBound.Subset(vars) {
			continue
		}
		frame := m.env.FrameOf(ra.ID)
		if frame.Binds(session.Gnx, gnx) && frame.Binds(session.Gny, rb.Public()) {
			return true
		}
	}
	return false
}

// Step4 completes responder run rb, confirming the gnx it started with.
func (m *Machine) Step4(s State, rb session.RunID, a, b string, gnx term.Term) (State, bool) {
	t := MakeStep4(rb, a, b, gnx)
	key, err := m.step4Guard(s, rb, a, b, gnx)
	if err != nil {
		m.rejected(t, err)
		return s, false
	}
	next := s.withProgress(rb, afterStep2.Add(session.EndVar))
	if rb == m.env.Test() {
		next.secret = next.secret.Add(key)
	}
	if m.CanSignal(s, a, b) {
		next.signalsResp = next.signalsResp.Inc(MakeCommit(a, b, key))
	}
	m.applied(t)
	return next, true
}

// Enabled lists every transition enabled in s. Protocol steps take their
// message from the run's own frame, the only value their guards accept;
// learn is offered for each vocabulary term the intruder does not hold yet.
func (m *Machine) Enabled(s State, vocabulary []term.Term) []Transition {
	var out []Transition
	for _, run := range m.env.Runs() {
		frame := m.env.FrameOf(run.ID)
		var t Transition
		vars, started := s.Progress(run.ID)
		switch {
		case run.Role == session.Init && !started:
			t = MakeStep1(run.ID, run.Owner, run.Partner)
		case run.Role == session.Init && vars == afterStep1:
			gny, _ := frame.Get(session.Gny)
			t = MakeStep3(run.ID, run.Owner, run.Partner, gny)
		case run.Role == session.Resp && !started:
			gnx, _ := frame.Get(session.Gnx)
			t = MakeStep2(run.ID, run.Partner, run.Owner, gnx)
		case run.Role == session.Resp && vars == afterStep2:
			gnx, _ := frame.Get(session.Gnx)
			t = MakeStep4(run.ID, run.Partner, run.Owner, gnx)
		default:
			continue
		}
		if m.Guard(s, t) == nil {
			out = append(out, t)
		}
	}
	ik := s.IK()
	for _, msg := range vocabulary {
		if ik.Has(msg) {
			continue
		}
		if t := MakeLearn(msg); m.Guard(s, t) == nil {
			out = append(out, t)
		}
	}
	return out
}

func (m *Machine) applied(t Transition) {
	if !m.log.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	m.log.WithFields(logrus.Fields{
		"package":    "authdh",
		"transition": t.String(),
	}).Debug("transition applied")
}

func (m *Machine) rejected(t Transition, reason error) {
	if !m.log.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	m.log.WithFields(logrus.Fields{
		"package":    "authdh",
		"transition": t.String(),
		"reason":     reason.Error(),
	}).Debug("transition disabled")
}
