package authdh

import (
	"fmt"

	"github.com/DistCompiler/pgo/authdh/session"
	"github.com/DistCompiler/pgo/authdh/term"
)

type TransitionKind uint8

const (
	Learn TransitionKind = iota
	Step1
	Step2
	Step3
	Step4
)

var transitionNames = [...]string{
	Learn: "learn",
	Step1: "step1",
	Step2: "step2",
	Step3: "step3",
	Step4: "step4",
}

func (k TransitionKind) String() string {
	if int(k) < len(transitionNames) {
		return transitionNames[k]
	}
	return fmt.Sprintf("TransitionKind(%d)", uint8(k))
}

func (k TransitionKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *TransitionKind) UnmarshalText(text []byte) error {
	for i, name := range transitionNames {
		if name == string(text) {
			*k = TransitionKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown transition kind %q", text)
}

// Transition labels one step of the model together with its arguments.
// Learn only uses Msg; step1 uses no message; step2 and step4 carry the
// received gnx in Msg, step3 the received gny.
type Transition struct {
	Kind TransitionKind `json:"kind"`
	Run  session.RunID  `json:"run,omitempty"`
	A    string         `json:"a,omitempty"`
	B    string         `json:"b,omitempty"`
	Msg  term.Term      `json:"-"`
}

func MakeLearn(m term.Term) Transition {
	return Transition{Kind: Learn, Msg: m}
}

func MakeStep1(ra session.RunID, a, b string) Transition {
	return Transition{Kind: Step1, Run: ra, A: a, B: b}
}

func MakeStep2(rb session.RunID, a, b string, gnx term.Term) Transition {
	return Transition{Kind: Step2, Run: rb, A: a, B: b, Msg: gnx}
}

func MakeStep3(ra session.RunID, a, b string, gny term.Term) Transition {
	return Transition{Kind: Step3, Run: ra, A: a, B: b, Msg: gny}
}

func MakeStep4(rb session.RunID, a, b string, gnx term.Term) Transition {
	return Transition{Kind: Step4, Run: rb, A: a, B: b, Msg: gnx}
}

func (t Transition) String() string {
	switch t.Kind {
	case Learn:
		return fmt.Sprintf("learn(%v)", t.Msg)
	case Step1:
		return fmt.Sprintf("step1(%s, %s, %s)", t.Run, t.A, t.B)
	default:
		return fmt.Sprintf("%s(%s, %s, %s, %v)", t.Kind, t.Run, t.A, t.B, t.Msg)
	}
}

// Equal compares transitions including their message.
func (t Transition) Equal(other Transition) bool {
	if t.Kind != other.Kind || t.Run != other.Run || t.A != other.A || t.B != other.B {
		return false
	}
	if t.Msg.IsValid() != other.Msg.IsValid() {
		return false
	}
	return !t.Msg.IsValid() || t.Msg.Equal(other.Msg)
}
