// Package invariant states the security and sanity properties every
// reachable state of the model must satisfy, and checks them after each
// transition.
package invariant

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/DistCompiler/pgo/authdh"
	"github.com/DistCompiler/pgo/authdh/session"
	"github.com/DistCompiler/pgo/authdh/term"
)

// Context is what a property sees of one step: the state before (nil for
// the initial state), the state after, and the transition between them.
type Context struct {
	Env  *session.Environment
	Prev *authdh.State
	Next authdh.State
	Via  *authdh.Transition
}

type Property struct {
	Name        string
	Description string
	Check       func(ctx Context) error
}

// Violation is a failed property. It is a finding about the protocol, not
// a failure of the checker.
type Violation struct {
	Property string
	Message  string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s violated: %s", v.Property, v.Message)
}

func violated(property, format string, args ...interface{}) error {
	return &Violation{Property: property, Message: fmt.Sprintf(format, args...)}
}

// Violations unpacks the violations combined into err.
func Violations(err error) []*Violation {
	var out []*Violation
	for _, e := range multierr.Errors(err) {
		var v *Violation
		if errors.As(e, &v) {
			out = append(out, v)
		}
	}
	return out
}

var (
	respSent  = session.MakeVarSet(session.Ny, session.Gny, session.Gnx, session.Sk)
	initBound = session.MakeVarSet(session.Nx, session.Gnx, session.Gny, session.Sk)
)

var Secrecy = Property{
	Name:        "Secrecy",
	Description: "the intruder cannot derive any recorded secret",
	Check: func(ctx Context) error {
		if leaked := ctx.Next.Knowledge().Leaked(ctx.Next.Secret()); len(leaked) > 0 {
			return violated("Secrecy", "intruder derives %v", leaked)
		}
		return nil
	},
}

// derivesKey reports whether run r's frame binds sk to key, computed from
// the exponential it received in v and its own nonce.
func derivesKey(env *session.Environment, r session.RunID, v session.Var, key term.Term) bool {
	frame := env.FrameOf(r)
	received, ok := frame.Get(v)
	if !ok || !frame.Binds(session.Sk, key) {
		return false
	}
	return key.Equal(term.MakeExp(received, r.Nonce()))
}

// witnessed checks every signal of the given kind in signals against
// found, which looks for a run vouching for it.
func witnessed(name string, signals authdh.Signals, kind authdh.SignalKind, found func(sig authdh.Signal) bool) error {
	var err error
	signals.Each(func(sig authdh.Signal, n uint32) bool {
		if sig.Kind == kind && n > 0 && !found(sig) {
			err = multierr.Append(err, violated(name, "%v has no matching run", sig))
		}
		return true
	})
	return err
}

var Inv1 = Property{
	Name:        "Inv1",
	Description: "an initiator Commit is backed by a completed initiator run that derived the key",
	Check: func(ctx Context) error {
		return witnessed("Inv1", ctx.Next.SignalsInit(), authdh.Commit, func(sig authdh.Signal) bool {
			for _, ra := range ctx.Env.Matching(session.Init, sig.A, sig.B) {
				vars, _ := ctx.Next.Progress(ra.ID)
				if vars == session.InitVars && derivesKey(ctx.Env, ra.ID, session.Gny, sig.Key) {
					return true
				}
			}
			return false
		})
	},
}

var Inv2 = Property{
	Name:        "Inv2",
	Description: "an initiator Running is backed by a responder run that sent its exponential",
	Check: func(ctx Context) error {
		return witnessed("Inv2", ctx.Next.SignalsInit(), authdh.Running, func(sig authdh.Signal) bool {
			for _, rb := range ctx.Env.Matching(session.Resp, sig.B, sig.A) {
				vars, _ := ctx.Next.Progress(rb.ID)
				if respSent.Subset(vars) && derivesKey(ctx.Env, rb.ID, session.Gnx, sig.Key) {
					return true
				}
			}
			return false
		})
	},
}

var Inv3 = Property{
	Name:        "Inv3",
	Description: "a responder Running is backed by an initiator run that derived the key",
	Check: func(ctx Context) error {
		return witnessed("Inv3", ctx.Next.SignalsResp(), authdh.Running, func(sig authdh.Signal) bool {
			for _, ra := range ctx.Env.Matching(session.Init, sig.A, sig.B) {
				vars, _ := ctx.Next.Progress(ra.ID)
				if initBound.Subset(vars) && derivesKey(ctx.Env, ra.ID, session.Gny, sig.Key) {
					return true
				}
			}
			return false
		})
	},
}

var Inv4 = Property{
	Name:        "Inv4",
	Description: "a responder Commit is backed by a completed responder run that derived the key",
	Check: func(ctx Context) error {
		return witnessed("Inv4", ctx.Next.SignalsResp(), authdh.Commit, func(sig authdh.Signal) bool {
			for _, rb := range ctx.Env.Matching(session.Resp, sig.B, sig.A) {
				vars, _ := ctx.Next.Progress(rb.ID)
				if vars == session.RespVars && derivesKey(ctx.Env, rb.ID, session.Gnx, sig.Key) {
					return true
				}
			}
			return false
		})
	},
}

func agreement(name string, signals authdh.Signals) error {
	var err error
	signals.Each(func(sig authdh.Signal, commits uint32) bool {
		if sig.Kind != authdh.Commit {
			return true
		}
		if running := signals.Get(sig.Matching()); commits > running {
			err = multierr.Append(err, violated(name, "%v counted %d times but only %d matching Running", sig, commits, running))
		}
		return true
	})
	return err
}

var AgreementInit = Property{
	Name:        "AgreementInit",
	Description: "the initiator never commits more often than the responder ran",
	Check: func(ctx Context) error {
		return agreement("AgreementInit", ctx.Next.SignalsInit())
	},
}

var AgreementResp = Property{
	Name:        "AgreementResp",
	Description: "the responder never commits more often than the initiator ran",
	Check: func(ctx Context) error {
		return agreement("AgreementResp", ctx.Next.SignalsResp())
	},
}

func signalsGrow(name string, prev, next authdh.Signals) error {
	var err error
	prev.Each(func(sig authdh.Signal, n uint32) bool {
		if next.Get(sig) < n {
			err = multierr.Append(err, violated(name, "%v dropped from %d to %d", sig, n, next.Get(sig)))
		}
		return true
	})
	return err
}

// Monotonicity compares two consecutive states: nothing is ever forgotten,
// and a run that has ended is not stepped again.
var Monotonicity = Property{
	Name:        "Monotonicity",
	Description: "progress, knowledge, secrets and signal counts only grow; ended runs stay untouched",
	Check: func(ctx Context) error {
		if ctx.Prev == nil {
			return nil
		}
		prev, next := *ctx.Prev, ctx.Next
		var err error
		for _, id := range prev.StartedRuns() {
			before, _ := prev.Progress(id)
			after, ok := next.Progress(id)
			if !ok || !before.Subset(after) {
				err = multierr.Append(err, violated("Monotonicity", "progress of %s went from %v to %v", id, before, after))
			}
			if before.Ended() && ctx.Via != nil && ctx.Via.Kind != authdh.Learn && ctx.Via.Run == id {
				err = multierr.Append(err, violated("Monotonicity", "%v revisits ended run %s", *ctx.Via, id))
			}
		}
		prev.IK().Each(func(t term.Term) bool {
			if !next.IK().Has(t) {
				err = multierr.Append(err, violated("Monotonicity", "intruder forgot %v", t))
			}
			return true
		})
		prev.Secret().Each(func(t term.Term) bool {
			if !next.Secret().Has(t) {
				err = multierr.Append(err, violated("Monotonicity", "secret %v dropped", t))
			}
			return true
		})
		err = multierr.Append(err, signalsGrow("Monotonicity", prev.SignalsInit(), next.SignalsInit()))
		return multierr.Append(err, signalsGrow("Monotonicity", prev.SignalsResp(), next.SignalsResp()))
	},
}

// All is the default property suite.
func All() []Property {
	return []Property{Secrecy, Inv1, Inv2, Inv3, Inv4, AgreementInit, AgreementResp, Monotonicity}
}

// ByName picks properties out of All by name.
func ByName(names ...string) ([]Property, error) {
	index := make(map[string]Property)
	for _, p := range All() {
		index[p.Name] = p
	}
	out := make([]Property, 0, len(names))
	for _, name := range names {
		p, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("unknown property %q", name)
		}
		out = append(out, p)
	}
	return out, nil
}

// Checker evaluates a fixed set of properties.
type Checker struct {
	env        *session.Environment
	properties []Property
}

// NewChecker checks properties over env; with none given it checks All.
func NewChecker(env *session.Environment, properties ...Property) *Checker {
	if len(properties) == 0 {
		properties = All()
	}
	return &Checker{env: env, properties: properties}
}

func (c *Checker) Properties() []Property {
	return c.properties
}

// Initial checks the initial state.
func (c *Checker) Initial(s authdh.State) error {
	return c.check(Context{Env: c.env, Next: s})
}

// Step checks next, reached from prev through via. Every violated property
// is reported; use Violations to take the result apart.
func (c *Checker) Step(prev authdh.State, via authdh.Transition, next authdh.State) error {
	return c.check(Context{Env: c.env, Prev: &prev, Next: next, Via: &via})
}

func (c *Checker) check(ctx Context) error {
	var err error
	for _, p := range c.properties {
		err = multierr.Append(err, p.Check(ctx))
	}
	return err
}
