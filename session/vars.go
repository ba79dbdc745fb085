package session

import (
	"fmt"
	"strings"
)

type Role uint8

const (
	Init Role = iota
	Resp
)

func (r Role) String() string {
	switch r {
	case Init:
		return "Init"
	case Resp:
		return "Resp"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Vars returns the variables a run of this role binds over its lifetime.
func (r Role) Vars() VarSet {
	if r == Init {
		return InitVars
	}
	return RespVars
}

// Var names one slot of a run's frame.
type Var uint8

const (
	Nx Var = iota
	Ny
	Gnx
	Gny
	Sk
	EndVar
	numVars
)

var varNames = [numVars]string{
	Nx:     "nx",
	Ny:     "ny",
	Gnx:    "gnx",
	Gny:    "gny",
	Sk:     "sk",
	EndVar: "End",
}

func (v Var) String() string {
	if v < numVars {
		return varNames[v]
	}
	return fmt.Sprintf("Var(%d)", uint8(v))
}

// VarSet is a set of variables. It records a run's progress, so it only
// ever grows along an execution.
type VarSet uint8

var (
	InitVars = MakeVarSet(Nx, Gnx, Gny, Sk, EndVar)
	RespVars = MakeVarSet(Ny, Gnx, Gny, Sk, EndVar)
)

func MakeVarSet(vars ...Var) VarSet {
	var s VarSet
	for _, v := range vars {
		s = s.Add(v)
	}
	return s
}

func (s VarSet) Add(v Var) VarSet      { return s | 1<<v }
func (s VarSet) Has(v Var) bool        { return s&(1<<v) != 0 }
func (s VarSet) Union(o VarSet) VarSet { return s | o }
func (s VarSet) Subset(o VarSet) bool  { return s&^o == 0 }
func (s VarSet) Ended() bool           { return s.Has(EndVar) }
func (s VarSet) Equal(o VarSet) bool   { return s == o }

func (s VarSet) Len() int {
	return len(s.Slice())
}

func (s VarSet) Slice() []Var {
	var out []Var
	for v := Var(0); v < numVars; v++ {
		if s.Has(v) {
			out = append(out, v)
		}
	}
	return out
}

func (s VarSet) String() string {
	names := make([]string, 0, numVars)
	for _, v := range s.Slice() {
		names = append(names, v.String())
	}
	return "{" + strings.Join(names, ", ") + "}"
}
