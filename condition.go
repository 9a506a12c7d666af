package rete

import (
	"fmt"

	"github.com/pkg/errors"
)

// Condition is an algebraic combination of positive patterns, AND,
// OR, NOT, TEST, and BIND (spec §4.1). It is the Go-native stand-in
// for the "surface syntax for authoring productions" the spec places
// out of scope (§1): there is no textual grammar, only constructors.
type Condition interface {
	isCondition()
}

// AttrTerm constrains or binds one attribute of a Pattern. Build one
// with Eq (constant constraint) or Var (variable bind/equality
// constraint); key may use the "name__sub1__sub2" path syntax
// (spec §4.1).
type AttrTerm struct {
	key      string
	attr     string
	path     []string
	isVar    bool
	varName  VarName
	constVal Value
}

// Eq constrains the attribute named by key to equal v.
func Eq(key string, v Value) AttrTerm {
	attr, path := splitPath(key)
	return AttrTerm{key: key, attr: attr, path: path, constVal: v}
}

// EqOf is Eq with convenience conversion via Of.
func EqOf(key string, v interface{}) AttrTerm {
	return Eq(key, Of(v))
}

// Var binds (on first occurrence) or equality-constrains (on later
// occurrences within the same disjunct) the attribute named by key to
// the variable name. Use Wildcard for "don't care".
func Var(key string, name VarName) AttrTerm {
	attr, path := splitPath(key)
	return AttrTerm{key: key, attr: attr, path: path, isVar: true, varName: name}
}

// Pattern is a positive condition: a fact template with constant
// attribute constraints and/or variable-bound attributes, optionally
// prefixed by a fact-binding variable (spec §4.1).
//
// A Pattern must constrain or bind at least one attribute: an
// attribute-free pattern (matching "some fact exists") has no WME to
// join against and is rejected at compile time. This is a documented
// implementation restriction, not a case any spec scenario exercises.
type Pattern struct {
	factVar VarName
	terms   []AttrTerm
}

// Has builds a positive pattern from one or more attribute terms.
func Has(terms ...AttrTerm) *Pattern {
	return &Pattern{terms: terms}
}

// As sets the fact-binding variable: name will be bound to the
// matched fact's identifier (wrapped as a Value via NewInt), not to
// any single attribute's value.
func (p *Pattern) As(name VarName) *Pattern {
	p.factVar = name
	return p
}

func (*Pattern) isCondition() {}
func (*Pattern) isLeaf()      {}

type andCond struct{ parts []Condition }
type orCond struct{ parts []Condition }
type notCond struct{ inner Condition }

func (*andCond) isCondition() {}
func (*orCond) isCondition()  {}
func (*notCond) isCondition() {}

// And conjoins conditions.
func And(parts ...Condition) Condition { return &andCond{parts: parts} }

// Or disjoins conditions; eliminated at compile time via distribution
// to DNF (spec §4.1).
func Or(parts ...Condition) Condition { return &orCond{parts: parts} }

// Not negates a condition: absence of any satisfying match, given
// bindings in effect at this point in the condition sequence
// (spec §4.4). inner must be a Pattern, or an And of such leaves
// (Pattern/Test/Bind); negating an Or, or nesting Not directly inside
// Not, is rejected at compile time (§9's Open-Question-adjacent
// scoping choice: the spec does not exercise deeper negation nesting,
// and De Morgan-expanding it blindly risks silently wrong NCC shapes).
func Not(inner Condition) Condition { return &notCond{inner: inner} }

// testCond is a pure predicate over previously bound variables
// (spec §4.5).
type testCond struct {
	name string
	vars []VarName
	fn   func(Env) (bool, error)
}

func (*testCond) isCondition() {}

// Test builds a TEST condition. name is used only for diagnostics
// (error messages, logging, node-sharing keys); vars must list exactly
// the variables fn consults, in the order that makes its body
// readable — the compiler does not and cannot introspect fn's Go
// closure. AddProduction checks only the names listed in vars; a
// variable fn reads without listing it here is not caught at compile
// time.
func Test(name string, vars []VarName, fn func(Env) (bool, error)) Condition {
	return &testCond{name: name, vars: vars, fn: fn}
}

// bindCond computes a new variable from previously bound variables
// (spec §4.5).
type bindCond struct {
	name VarName
	vars []VarName
	fn   func(Env) (Value, error)
}

func (*bindCond) isCondition() {}

// Bind builds a BIND condition assigning name from fn(env), where env
// is the token's full binding environment. vars should list the
// variables fn consults: declaring them accurately is what lets
// AddProduction catch a forward reference.
func Bind(name VarName, vars []VarName, fn func(Env) (Value, error)) Condition {
	return &bindCond{name: name, vars: vars, fn: fn}
}

// leaf is a condition that survives DNF normalization: a Pattern, a
// Test, a Bind, or a negation of a conjunction of such leaves.
type leaf interface {
	isLeaf()
}

func (*testCond) isLeaf() {}
func (*bindCond) isLeaf() {}

// negLeaf is the compiled form of Not: conj holds the negated leaves.
// A negation that flattens to a single attribute term of a single
// Pattern compiles to a Negative beta node; anything larger (a
// Pattern with several attribute terms, a conjunction, or a lone
// Test/Bind) compiles to an NCC subnetwork (spec §4.3/§4.4).
type negLeaf struct {
	conj []leaf
}

func (*negLeaf) isLeaf() {}

// disjunct is one AND-chain of leaves, in left-to-right condition
// order (spec §4.1's lexical scoping order).
type disjunct []leaf

// normalize distributes a Condition tree to disjunctive normal form:
// a list of disjuncts, each an ordered conjunction of leaves
// (spec §4.1, "Disjunction is eliminated at compile time by
// distribution to disjunctive normal form").
func normalize(c Condition) ([]disjunct, error) {
	switch v := c.(type) {
	case *Pattern:
		if len(v.terms) == 0 {
			return nil, errors.New("rete: pattern must constrain or bind at least one attribute")
		}
		if isReserved(v.factVar) {
			return nil, errors.Errorf("rete: fact variable %q uses the reserved prefix %q", v.factVar, internalPrefix)
		}
		for _, t := range v.terms {
			if t.isVar && isReserved(t.varName) {
				return nil, errors.Errorf("rete: variable %q uses the reserved prefix %q", t.varName, internalPrefix)
			}
		}
		return []disjunct{{v}}, nil
	case *testCond:
		return []disjunct{{v}}, nil
	case *bindCond:
		return []disjunct{{v}}, nil
	case *notCond:
		nl, err := normalizeNot(v.inner)
		if err != nil {
			return nil, err
		}
		return []disjunct{{nl}}, nil
	case *andCond:
		acc := []disjunct{{}}
		for i, part := range v.parts {
			partDisj, err := normalize(part)
			if err != nil {
				return nil, errors.Wrapf(err, "rete: AND operand %d", i)
			}
			acc = cartesian(acc, partDisj)
		}
		return acc, nil
	case *orCond:
		var all []disjunct
		for i, part := range v.parts {
			partDisj, err := normalize(part)
			if err != nil {
				return nil, errors.Wrapf(err, "rete: OR operand %d", i)
			}
			all = append(all, partDisj...)
		}
		return all, nil
	default:
		return nil, errors.Errorf("rete: unsupported condition type %T", c)
	}
}

// normalizeNot compiles the inner condition of a Not. It requires
// inner to normalize to exactly one disjunct (no top-level OR inside
// a negation) and rejects a leaf chain that itself contains a
// negation (no nested NOT).
func normalizeNot(inner Condition) (*negLeaf, error) {
	disjuncts, err := normalize(inner)
	if err != nil {
		return nil, err
	}
	if len(disjuncts) != 1 {
		return nil, errors.New("rete: negation of a disjunction (OR inside NOT) is not supported")
	}
	conj := disjuncts[0]
	for _, l := range conj {
		if _, ok := l.(*negLeaf); ok {
			return nil, errors.New("rete: nested NOT is not supported")
		}
	}
	return &negLeaf{conj: conj}, nil
}

// cartesian computes the "AND" of two disjunct lists: every
// combination of a disjunct from a with a disjunct from b,
// concatenated in order so left-to-right scoping is preserved.
func cartesian(a, b []disjunct) []disjunct {
	out := make([]disjunct, 0, len(a)*len(b))
	for _, da := range a {
		for _, db := range b {
			merged := make(disjunct, 0, len(da)+len(db))
			merged = append(merged, da...)
			merged = append(merged, db...)
			out = append(out, merged)
		}
	}
	return out
}

func (d disjunct) String() string {
	return fmt.Sprintf("%d leaves", len(d))
}
