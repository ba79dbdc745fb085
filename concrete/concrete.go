// Package concrete interprets symbolic Diffie-Hellman terms over X25519,
// so that the algebra the model relies on can be checked against real
// group arithmetic.
package concrete

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/DistCompiler/pgo/authdh/session"
	"github.com/DistCompiler/pgo/authdh/term"
)

// ErrNoInterpretation is returned for terms that are not group elements.
var ErrNoInterpretation = errors.New("term has no group interpretation")

const salt = "authdh concrete exponent"

// Keypair derives the X25519 key pair whose private scalar stands for the
// exponent x. The derivation is deterministic in x.
func Keypair(x term.Term) (noise.DHKey, error) {
	if !x.IsValid() {
		return noise.DHKey{}, fmt.Errorf("%w: invalid exponent", ErrNoInterpretation)
	}
	rng := hkdf.New(sha256.New, []byte(x.String()), []byte(salt), []byte("private"))
	return noise.DH25519.GenerateKeypair(rng)
}

// Eval maps a group element to its 32-byte encoding: Gen to the base
// point, Exp(Gen, x) to x's public key and Exp(Exp(Gen, x), y) to the
// X25519 shared secret of y and that public key.
func Eval(t term.Term) ([]byte, error) {
	switch {
	case t.Equal(term.Gen):
		return append([]byte(nil), curve25519.Basepoint...), nil
	case t.IsExp():
		base, exponent := t.AsExp()
		return Exchange(base, exponent)
	default:
		return nil, fmt.Errorf("%w: %v", ErrNoInterpretation, t)
	}
}

// Exchange raises the group element base to exponent without going
// through the canonical term form.
func Exchange(base, exponent term.Term) ([]byte, error) {
	key, err := Keypair(exponent)
	if err != nil {
		return nil, err
	}
	if base.Equal(term.Gen) {
		return key.Public, nil
	}
	public, err := Eval(base)
	if err != nil {
		return nil, err
	}
	shared, err := noise.DH25519.DH(key.Private, public)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"package":  "concrete",
			"function": "Exchange",
			"exponent": exponent.String(),
			"error":    err.Error(),
		}).Debug("X25519 computation failed")
		return nil, fmt.Errorf("raising %v to %v: %w", base, exponent, err)
	}
	return shared, nil
}

// SessionKeys evaluates the key every run's frame derives.
func SessionKeys(env *session.Environment) (map[session.RunID][]byte, error) {
	keys := make(map[session.RunID][]byte)
	for _, run := range env.Runs() {
		sk, ok := env.SessionKey(run.ID)
		if !ok {
			return nil, fmt.Errorf("%w: run %s binds no key", session.ErrOracle, run.ID)
		}
		key, err := Eval(sk)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", run.ID, err)
		}
		keys[run.ID] = key
	}
	return keys, nil
}
