// Package stdfn provides a small library of reusable TEST and BIND
// predicates, in the spirit of the teacher's dlprim package: rather
// than every caller hand-rolling variable-equality and arithmetic
// closures, stdfn packages the common ones once.
package stdfn

import (
	"github.com/pkg/errors"

	"github.com/slott56/py-rete"
)

// VarsEqual builds a TEST that two already-bound variables hold equal
// values.
func VarsEqual(a, b rete.VarName) rete.Condition {
	return rete.Test("vars-equal", []rete.VarName{a, b}, func(env rete.Env) (bool, error) {
		va, ok := env.Get(a)
		if !ok {
			return false, errors.Errorf("stdfn: %q is unbound", a)
		}
		vb, ok := env.Get(b)
		if !ok {
			return false, errors.Errorf("stdfn: %q is unbound", b)
		}
		return va.Equal(vb), nil
	})
}

// VarsNotEqual builds a TEST that two already-bound variables hold
// different values.
func VarsNotEqual(a, b rete.VarName) rete.Condition {
	return rete.Test("vars-not-equal", []rete.VarName{a, b}, func(env rete.Env) (bool, error) {
		va, ok := env.Get(a)
		if !ok {
			return false, errors.Errorf("stdfn: %q is unbound", a)
		}
		vb, ok := env.Get(b)
		if !ok {
			return false, errors.Errorf("stdfn: %q is unbound", b)
		}
		return !va.Equal(vb), nil
	})
}

// LessThan builds a TEST comparing two bound integer variables.
func LessThan(a, b rete.VarName) rete.Condition {
	return rete.Test("less-than", []rete.VarName{a, b}, func(env rete.Env) (bool, error) {
		va, ok := env.Get(a)
		if !ok {
			return false, errors.Errorf("stdfn: %q is unbound", a)
		}
		vb, ok := env.Get(b)
		if !ok {
			return false, errors.Errorf("stdfn: %q is unbound", b)
		}
		ia, ok := va.Int()
		if !ok {
			return false, errors.Errorf("stdfn: %q is not an int", a)
		}
		ib, ok := vb.Int()
		if !ok {
			return false, errors.Errorf("stdfn: %q is not an int", b)
		}
		return ia < ib, nil
	})
}

// Sum builds a BIND assigning result the integer sum of a and b.
func Sum(result, a, b rete.VarName) rete.Condition {
	return rete.Bind(result, []rete.VarName{a, b}, func(env rete.Env) (rete.Value, error) {
		va, ok := env.Get(a)
		if !ok {
			return rete.Nil, errors.Errorf("stdfn: %q is unbound", a)
		}
		vb, ok := env.Get(b)
		if !ok {
			return rete.Nil, errors.Errorf("stdfn: %q is unbound", b)
		}
		ia, ok := va.Int()
		if !ok {
			return rete.Nil, errors.Errorf("stdfn: %q is not an int", a)
		}
		ib, ok := vb.Int()
		if !ok {
			return rete.Nil, errors.Errorf("stdfn: %q is not an int", b)
		}
		return rete.NewInt(ia + ib), nil
	})
}
