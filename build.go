package rete

import (
	"fmt"
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// step is one atomic unit of a flattened conjunction: a single
// attribute term of a Pattern, a Test, a Bind, or a negation
// (spec §4.3's "lowering" from the condition algebra to a join-node
// chain — a Pattern with several attribute terms becomes several
// chained join steps sharing one fact-identity variable).
type step interface{ isStep() }

type patternStep struct {
	seq      int // distinguishes multiple Pattern occurrences sharing no explicit fact variable
	identVar VarName
	first    bool // first attribute term of this particular Pattern occurrence
	term     AttrTerm
}

type testStep struct{ cond *testCond }
type bindStep struct{ cond *bindCond }
type negStep struct{ leaf *negLeaf }

func (patternStep) isStep() {}
func (testStep) isStep()    {}
func (bindStep) isStep()    {}
func (negStep) isStep()     {}

// flatten expands a conjunction of leaves into its atomic step
// sequence. The conj passed to a negStep is guaranteed, by
// normalizeNot, to contain no nested negLeaf, so flatten never
// recurses through more than one level of negation.
func flatten(conj []leaf) []step {
	var out []step
	seq := 0
	for _, l := range conj {
		switch v := l.(type) {
		case *Pattern:
			identVar := v.factVar
			if identVar == "" {
				identVar = VarName(fmt.Sprintf("%sfact%d", internalPrefix, seq))
			}
			for i, term := range v.terms {
				out = append(out, patternStep{seq: seq, identVar: identVar, first: i == 0, term: term})
			}
			seq++
		case *testCond:
			out = append(out, testStep{cond: v})
		case *bindCond:
			out = append(out, bindStep{cond: v})
		case *negLeaf:
			out = append(out, negStep{leaf: v})
		}
	}
	return out
}

// stepDecision records what planChain decided for one step: whether a
// pattern step's identity/value variables bind fresh or check
// equality, and (for a negStep) the fully planned inner chain plus
// whether it collapses to a plain Negative node.
type stepDecision struct {
	step step

	identFirst bool
	value      *joinVarBinding

	negative bool
	inner    []stepDecision
}

var wildcardSeq int

func freshWildcardName() VarName {
	wildcardSeq++
	return VarName(fmt.Sprintf("%swild%d", internalPrefix, wildcardSeq))
}

// planChain walks steps in order, deciding bind-vs-equality for every
// variable reference against bound (mutated in place) and validating
// that TEST/BIND only reference variables already in scope. It is the
// single source of truth for these decisions: both the pure
// phase-1 validation pass and the phase-2 network-building pass call
// it, so their decisions cannot drift apart.
func planChain(steps []step, bound map[VarName]bool) ([]stepDecision, error) {
	decisions := make([]stepDecision, 0, len(steps))
	for _, s := range steps {
		switch v := s.(type) {
		case patternStep:
			d := stepDecision{step: v}
			if v.term.isVar {
				if v.term.varName == Wildcard {
					d.value = &joinVarBinding{varName: freshWildcardName(), path: v.term.path, isFirst: true}
				} else {
					first := !bound[v.term.varName]
					if first {
						bound[v.term.varName] = true
					}
					d.value = &joinVarBinding{varName: v.term.varName, path: v.term.path, isFirst: first}
				}
			}
			if v.first {
				d.identFirst = !bound[v.identVar]
				if d.identFirst {
					bound[v.identVar] = true
				}
			}
			decisions = append(decisions, d)
		case testStep:
			for _, want := range v.cond.vars {
				if !bound[want] {
					return nil, errors.Wrapf(ErrUnboundVariable, "TEST %q references %q", v.cond.name, want)
				}
			}
			decisions = append(decisions, stepDecision{step: v})
		case bindStep:
			if isReserved(v.cond.name) || v.cond.name == Wildcard {
				return nil, errors.Errorf("rete: BIND may not assign reserved or wildcard name %q", v.cond.name)
			}
			if bound[v.cond.name] {
				return nil, errors.Errorf("rete: BIND %q would rebind an already-bound variable", v.cond.name)
			}
			for _, want := range v.cond.vars {
				if !bound[want] {
					return nil, errors.Wrapf(ErrUnboundVariable, "BIND %q references %q", v.cond.name, want)
				}
			}
			bound[v.cond.name] = true
			decisions = append(decisions, stepDecision{step: v})
		case negStep:
			innerSteps := flatten(v.leaf.conj)
			// flatten numbers synthetic fact variables from zero, so give
			// the negated patterns their own names: otherwise they would
			// alias facts already bound by the enclosing patterns.
			for i, s := range innerSteps {
				if ps, ok := s.(patternStep); ok && isReserved(ps.identVar) {
					ps.identVar = VarName(string(ps.identVar) + "neg")
					innerSteps[i] = ps
				}
			}
			innerBound := make(map[VarName]bool, len(bound))
			for k := range bound {
				innerBound[k] = true
			}
			innerDecisions, err := planChain(innerSteps, innerBound)
			if err != nil {
				return nil, errors.Wrap(err, "rete: NOT")
			}
			useNegative := len(innerSteps) == 1
			if _, ok := innerSteps[0].(patternStep); !ok {
				useNegative = false
			}
			decisions = append(decisions, stepDecision{step: v, negative: useNegative, inner: innerDecisions})
		default:
			return nil, errors.Errorf("rete: unsupported step type %T", s)
		}
	}
	return decisions, nil
}

func alphaTestsFor(term AttrTerm) []alphaTest {
	tests := []alphaTest{attrTest(term.attr)}
	if term.isVar {
		if len(term.path) > 0 {
			tests = append(tests, pathTest(term.path, Value{}, false))
		}
		return tests
	}
	if len(term.path) > 0 {
		tests = append(tests, pathTest(term.path, term.constVal, true))
	} else {
		tests = append(tests, valueTest(term.constVal))
	}
	return tests
}

func joinKey(prefix string, amID AlphaMemHandle, identVar VarName, identFirst bool, value *joinVarBinding) string {
	s := fmt.Sprintf("%s|%d|%s|%v", prefix, amID, identVar, identFirst)
	if value != nil {
		s += fmt.Sprintf("|%s|%v|%v", value.varName, value.isFirst, value.path)
	}
	return s
}

// builder compiles productions against a shared alpha/beta network.
type builder struct {
	eng *Engine
}

// buildChain builds (or shares) the beta-node chain for decisions,
// starting from mem, returning the tail memory new children should
// attach to.
func (b *builder) buildChain(mem *BetaMemory, decisions []stepDecision) *BetaMemory {
	current := mem
	for _, d := range decisions {
		switch v := d.step.(type) {
		case patternStep:
			tests := alphaTestsFor(v.term)
			am := b.eng.alpha.ensurePath(tests)
			key := joinKey("J", am.id, v.identVar, d.identFirst, d.value)
			child := current.attachOrShare(key, func() betaChild {
				return newJoinNode(b.eng.beta, current, am, v.identVar, d.identFirst, d.value)
			})
			current = child.output()
		case testStep:
			key := "T|" + v.cond.name
			child := current.attachOrShare(key, func() betaChild {
				return newTestNode(b.eng.beta, v.cond)
			})
			current = child.output()
		case bindStep:
			key := "B|" + string(v.cond.name)
			child := current.attachOrShare(key, func() betaChild {
				return newBindNode(b.eng.beta, v.cond)
			})
			current = child.output()
		case negStep:
			current = b.buildNegation(current, d)
		}
	}
	return current
}

func (b *builder) buildNegation(mem *BetaMemory, d stepDecision) *BetaMemory {
	if d.negative {
		ps := d.inner[0].step.(patternStep)
		tests := alphaTestsFor(ps.term)
		am := b.eng.alpha.ensurePath(tests)
		key := joinKey("N", am.id, ps.identVar, d.inner[0].identFirst, d.inner[0].value)
		child := mem.attachOrShare(key, func() betaChild {
			return newNegativeNode(b.eng.beta, mem, am, ps.identVar, d.inner[0].identFirst, d.inner[0].value)
		})
		return child.output()
	}

	key := "NCC|" + strconv.Itoa(len(d.inner)) + "|" + fmt.Sprint(d.inner)
	child := mem.attachOrShare(key, func() betaChild {
		ncc := newNCCNode(b.eng.beta)
		tail := b.buildChain(ncc.subRoot, d.inner)
		tail.children = append(tail.children, &NCCPartner{ncc: ncc})
		return ncc
	})
	return child.output()
}

// compileProduction validates every disjunct of cond before mutating
// the shared network (spec §7: "A failed AddProduction call leaves
// the network exactly as it was"), then builds each disjunct's chain,
// attaching one shared ProductionNode as every chain's terminal.
func (eng *Engine) compileProduction(id ProductionID, cond Condition, action Action) (*Production, error) {
	disjuncts, err := normalize(cond)
	if err != nil {
		return nil, errors.Wrap(err, "rete: AddProduction")
	}

	var merr *multierror.Error
	for i, d := range disjuncts {
		steps := flatten(d)
		if _, verr := planChain(steps, make(map[VarName]bool)); verr != nil {
			merr = multierror.Append(merr, errors.Wrapf(verr, "disjunct %d", i))
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, errors.Wrap(err, "rete: AddProduction")
	}

	prod := &Production{id: id, action: action}
	node := newProductionNode(prod)
	prod.node = node

	b := &builder{eng: eng}
	for _, d := range disjuncts {
		steps := flatten(d)
		decisions, err := planChain(steps, make(map[VarName]bool))
		if err != nil {
			// Unreachable: phase 1 already validated every disjunct.
			return nil, errors.Wrap(err, "rete: AddProduction (internal)")
		}
		tail := b.buildChain(eng.beta.rootMemory, decisions)
		tail.children = append(tail.children, node)
	}
	return prod, nil
}
