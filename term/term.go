package term

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/benbjohnson/immutable"
	"github.com/segmentio/fasthash/fnv1a"
)

var ErrTermType = errors.New("message term type error")

// Kind tags the variant a Term holds.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindAgent
	KindNumber
	KindNonce
	KindGen
	KindEnd
	KindLtK
	KindExp
	KindPair
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindAgent:   "Agent",
	KindNumber:  "Number",
	KindNonce:   "NonceF",
	KindGen:     "Gen",
	KindEnd:     "End",
	KindLtK:     "LtK",
	KindExp:     "Exp",
	KindPair:    "Pair",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Term is a protocol message. The zero Term is invalid and is rejected by
// every constructor that takes sub-terms.
type Term struct {
	data impl
}

var _ fmt.Stringer = Term{}

type impl interface {
	kind() Kind
	hash() uint32
	equal(other Term) bool
	String() string
}

// ValidName reports whether s can name an agent or a run. Names must be
// non-empty and free of the punctuation String uses, so that String stays
// injective.
func ValidName(s string) bool {
	return s != "" && !strings.ContainsAny(s, "(),")
}

func require(req bool, msg string) {
	if !req {
		panic(fmt.Errorf("%w: %s", ErrTermType, msg))
	}
}

func (t Term) checkKind(k Kind) {
	if t.Kind() != k {
		panic(fmt.Errorf("%w: %v is not a %v", ErrTermType, t, k))
	}
}

func (t Term) Kind() Kind {
	if t.data == nil {
		return KindInvalid
	}
	return t.data.kind()
}

func (t Term) IsValid() bool {
	return t.data != nil
}

func (t Term) Hash() uint32 {
	if t.data == nil {
		return 0
	}
	return t.data.hash()
}

func (t Term) Equal(other Term) bool {
	if t.data == nil || other.data == nil {
		return t.data == nil && other.data == nil
	}
	return t.data.equal(other)
}

func (t Term) String() string {
	if t.data == nil {
		return "<invalid>"
	}
	return t.data.String()
}

// Compare orders terms by their canonical rendering. Names are ValidName,
// so String is injective and this is a total order.
func (t Term) Compare(other Term) int {
	return strings.Compare(t.String(), other.String())
}

func (t Term) IsExp() bool   { return t.Kind() == KindExp }
func (t Term) IsPair() bool  { return t.Kind() == KindPair }
func (t Term) IsNonce() bool { return t.Kind() == KindNonce }

func (t Term) AsAgent() string {
	t.checkKind(KindAgent)
	return t.data.(*termAgent).name
}

func (t Term) AsNumber() int32 {
	t.checkKind(KindNumber)
	return t.data.(*termNumber).n
}

// AsNonce returns the run identifier that generated the nonce.
func (t Term) AsNonce() string {
	t.checkKind(KindNonce)
	return t.data.(*termNonce).run
}

func (t Term) AsLtK() string {
	t.checkKind(KindLtK)
	return t.data.(*termLtK).agent
}

func (t Term) AsExp() (base, exponent Term) {
	t.checkKind(KindExp)
	e := t.data.(*termExp)
	return e.base, e.exp
}

func (t Term) AsPair() (first, second Term) {
	t.checkKind(KindPair)
	p := t.data.(*termPair)
	return p.a, p.b
}

// Hasher lets terms key immutable maps and sets.
type Hasher struct{}

var _ immutable.Hasher[Term] = Hasher{}

func (Hasher) Hash(key Term) uint32 {
	return key.Hash()
}

func (Hasher) Equal(a, b Term) bool {
	return a.Equal(b)
}

type termAgent struct {
	name string
}

func MakeAgent(name string) Term {
	require(ValidName(name), "agent name must be non-empty and free of parentheses and commas")
	return Term{&termAgent{name: name}}
}

func (v *termAgent) kind() Kind { return KindAgent }

func (v *termAgent) hash() uint32 {
	return fnv1a.AddString32(fnv1a.HashUint32(uint32(KindAgent)), v.name)
}

func (v *termAgent) equal(other Term) bool {
	return other.Kind() == KindAgent && other.AsAgent() == v.name
}

func (v *termAgent) String() string {
	return "Agent(" + v.name + ")"
}

type termNumber struct {
	n int32
}

func MakeNumber(n int32) Term {
	return Term{&termNumber{n: n}}
}

func (v *termNumber) kind() Kind { return KindNumber }

func (v *termNumber) hash() uint32 {
	return fnv1a.AddUint32(fnv1a.HashUint32(uint32(KindNumber)), uint32(v.n))
}

func (v *termNumber) equal(other Term) bool {
	return other.Kind() == KindNumber && other.AsNumber() == v.n
}

func (v *termNumber) String() string {
	return "Number(" + strconv.FormatInt(int64(v.n), 10) + ")"
}

type termNonce struct {
	run string
}

// MakeNonce builds NonceF(run), the fresh value generated by a run.
func MakeNonce(run string) Term {
	require(ValidName(run), "nonce run identifier must be non-empty and free of parentheses and commas")
	return Term{&termNonce{run: run}}
}

func (v *termNonce) kind() Kind { return KindNonce }

func (v *termNonce) hash() uint32 {
	return fnv1a.AddString32(fnv1a.HashUint32(uint32(KindNonce)), v.run)
}

func (v *termNonce) equal(other Term) bool {
	return other.Kind() == KindNonce && other.AsNonce() == v.run
}

func (v *termNonce) String() string {
	return "NonceF(" + v.run + ")"
}

type termConst struct {
	k Kind
}

// Gen is the public group generator.
var Gen = Term{&termConst{k: KindGen}}

// End is bound to a run's End variable once the run completes.
var End = Term{&termConst{k: KindEnd}}

func (v *termConst) kind() Kind { return v.k }

func (v *termConst) hash() uint32 {
	return fnv1a.HashUint32(uint32(v.k))
}

func (v *termConst) equal(other Term) bool {
	return other.Kind() == v.k
}

func (v *termConst) String() string {
	return v.k.String()
}

type termLtK struct {
	agent string
}

// MakeLtK builds the long-term key of an agent. It is never a payload.
func MakeLtK(agent string) Term {
	require(ValidName(agent), "long-term key owner must be non-empty and free of parentheses and commas")
	return Term{&termLtK{agent: agent}}
}

func (v *termLtK) kind() Kind { return KindLtK }

func (v *termLtK) hash() uint32 {
	return fnv1a.AddString32(fnv1a.HashUint32(uint32(KindLtK)), v.agent)
}

func (v *termLtK) equal(other Term) bool {
	return other.Kind() == KindLtK && other.AsLtK() == v.agent
}

func (v *termLtK) String() string {
	return "LtK(" + v.agent + ")"
}

type termExp struct {
	base, exp Term
	h         uint32
	str       string
}

// MakeExp builds Exp(base, exponent). A double exponentiation of Gen is
// stored with its two exponents in canonical order, so that
// Exp(Exp(Gen, a), b) and Exp(Exp(Gen, b), a) are the same term.
func MakeExp(base, exponent Term) Term {
	require(base.IsValid(), "Exp requires a base")
	require(exponent.IsValid(), "Exp requires an exponent")
	if base.IsExp() {
		inner, a := base.AsExp()
		if inner.Kind() == KindGen && a.Compare(exponent) > 0 {
			base, exponent = newExp(Gen, exponent), a
		}
	}
	return newExp(base, exponent)
}

func newExp(base, exponent Term) Term {
	str := "Exp(" + base.String() + ", " + exponent.String() + ")"
	h := fnv1a.HashUint32(uint32(KindExp))
	h = fnv1a.AddUint32(h, base.Hash())
	h = fnv1a.AddUint32(h, exponent.Hash())
	return Term{&termExp{base: base, exp: exponent, h: h, str: str}}
}

// MakePublic builds Exp(Gen, x), the public half of a DH exchange.
func MakePublic(x Term) Term {
	return MakeExp(Gen, x)
}

func (v *termExp) kind() Kind { return KindExp }

func (v *termExp) hash() uint32 { return v.h }

func (v *termExp) equal(other Term) bool {
	if other.Kind() != KindExp {
		return false
	}
	o := other.data.(*termExp)
	return v.h == o.h && v.base.Equal(o.base) && v.exp.Equal(o.exp)
}

func (v *termExp) String() string { return v.str }

type termPair struct {
	a, b Term
	h    uint32
	str  string
}

func MakePair(a, b Term) Term {
	require(a.IsValid() && b.IsValid(), "Pair requires two components")
	h := fnv1a.HashUint32(uint32(KindPair))
	h = fnv1a.AddUint32(h, a.Hash())
	h = fnv1a.AddUint32(h, b.Hash())
	return Term{&termPair{a: a, b: b, h: h, str: "Pair(" + a.String() + ", " + b.String() + ")"}}
}

func (v *termPair) kind() Kind { return KindPair }

func (v *termPair) hash() uint32 { return v.h }

func (v *termPair) equal(other Term) bool {
	if other.Kind() != KindPair {
		return false
	}
	o := other.data.(*termPair)
	return v.h == o.h && v.a.Equal(o.a) && v.b.Equal(o.b)
}

func (v *termPair) String() string { return v.str }

// IsPayload reports whether t may appear in a run's frame. Raw long-term
// key material is excluded, also inside composite terms.
func IsPayload(t Term) bool {
	switch t.Kind() {
	case KindAgent, KindNumber, KindNonce, KindGen, KindEnd:
		return true
	case KindExp:
		base, exp := t.AsExp()
		return IsPayload(base) && IsPayload(exp)
	case KindPair:
		a, b := t.AsPair()
		return IsPayload(a) && IsPayload(b)
	default:
		return false
	}
}

// IsPublicConstant reports whether t is an atom every participant,
// the attacker included, can produce on its own.
func IsPublicConstant(t Term) bool {
	switch t.Kind() {
	case KindAgent, KindNumber, KindGen, KindEnd:
		return true
	default:
		return false
	}
}
