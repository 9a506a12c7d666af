package rete

import (
	"fmt"

	"go.uber.org/zap"
)

// output lets compileChain thread a chain of betaChild nodes together
// without every call site needing a type switch.
func (m *BetaMemory) output() *BetaMemory { return m }

// joinVarBinding is the variable behavior for one attribute term of a
// Pattern at the point a join node tests it: bind it fresh (first
// occurrence of the variable in the disjunct) or check it for
// equality against the value already in the token's environment
// (spec §4.3, "Join test").
type joinVarBinding struct {
	varName VarName
	path    []string
	isFirst bool
}

// JoinNode is an ordinary positive join: for every (left token, right
// WME) pair it tests fact-identity consistency (if this Pattern's
// fact-binding variable was already bound by an earlier term of the
// same pattern) and the attribute's variable binding/equality, then
// emits an extended token (spec §4.3).
type JoinNode struct {
	bn       *betaNetwork
	left     *BetaMemory
	right    *AlphaMemory
	identVar VarName
	identIsFirst bool
	value    *joinVarBinding // nil when the attribute term was a constant
	out      *BetaMemory
}

func newJoinNode(bn *betaNetwork, left *BetaMemory, right *AlphaMemory, identVar VarName, identIsFirst bool, value *joinVarBinding) *JoinNode {
	bn.nextMemID++
	n := &JoinNode{
		bn: bn, left: left, right: right,
		identVar: identVar, identIsFirst: identIsFirst, value: value,
		out: &BetaMemory{id: BetaMemHandle(bn.nextMemID), index: make(map[TokenHandle]int)},
	}
	right.consumers = append(right.consumers, n)
	right.refcount++ // tracked, not pruned on — see AlphaMemory.refcount
	return n
}

func (n *JoinNode) output() *BetaMemory { return n.out }

// test evaluates the join's predicate for (tok, w); on success it
// returns the environment extended with any new bindings.
func (n *JoinNode) test(eng *Engine, tok *Token, w WME) (Env, bool) {
	if !n.identIsFirst {
		existing, ok := tok.env.Get(n.identVar)
		if !ok {
			return nil, false
		}
		fid, ok2 := existing.Int()
		if !ok2 || FactID(fid) != w.Fact {
			return nil, false
		}
	}

	var leaf Value
	if n.value != nil {
		v, ok := navigate(w.Value, n.value.path)
		if !ok {
			return nil, false
		}
		leaf = v
		if !n.value.isFirst {
			existing, ok2 := tok.env.Get(n.value.varName)
			if !ok2 || !existing.Equal(leaf) {
				return nil, false
			}
		}
	}

	env := tok.env.clone()
	if n.identIsFirst {
		env[n.identVar] = NewInt(int64(w.Fact))
	}
	if n.value != nil && n.value.isFirst {
		env[n.value.varName] = leaf
	}
	return env, true
}

func (n *JoinNode) LeftActivate(eng *Engine, tok *Token) {
	for _, h := range n.right.wmes.ToSlice() {
		w := eng.wmeByHandle(h)
		if env, ok := n.test(eng, tok, w); ok {
			child := n.bn.newToken(tok, &h, env)
			n.out.insert(eng, child)
		}
	}
}

func (n *JoinNode) LeftRemove(eng *Engine, tok *Token) {
	// Every token this join produced from tok is already gone: it is
	// a descendant of tok in the global child index, destroyed before
	// removeToken calls this hook.
}

func (n *JoinNode) RightActivate(eng *Engine, handle WMEHandle) {
	w := eng.wmeByHandle(handle)
	for _, tok := range n.left.tokens {
		if env, ok := n.test(eng, tok, w); ok {
			child := n.bn.newToken(tok, &handle, env)
			n.out.insert(eng, child)
		}
	}
}

func (n *JoinNode) RightRemove(eng *Engine, handle WMEHandle) {
	s, ok := n.bn.wmeIndex[handle]
	if !ok {
		return
	}
	for _, tokID := range s.ToSlice() {
		tok, ok2 := n.bn.tokens[tokID]
		if ok2 && tok.owner == n.out {
			n.bn.removeToken(eng, tok)
		}
	}
}

// evalTest invokes a TEST predicate, converting a panic into a false
// match via recover() at this evaluation boundary (spec §4.5, §7.1:
// "a test that raises is treated as false"). In StrictMode the panic
// is also recorded on eng so the AddFact/RemoveFact/UpdateFact call
// whose propagation reached this node can report it as a
// TestPanicError.
func evalTest(eng *Engine, name string, fn func(Env) (bool, error), env Env) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			if eng.cfg.StrictMode {
				eng.recordPanic(name, r)
			} else {
				eng.logger.Error("TEST predicate panicked", zap.String("name", name), zap.Any("recovered", r))
			}
			ok, err = false, nil
		}
	}()
	return fn(env)
}

// evalBind is evalTest's BIND counterpart: a panicking BIND function
// does not extend the token past this node, the same as one that
// returns an error, but the panic is logged/recorded here rather than
// via the caller's recordTestError path (ok=false, err=nil signals
// "already handled, stay silent" to BindNode.LeftActivate).
func evalBind(eng *Engine, name string, fn func(Env) (Value, error), env Env) (v Value, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			if eng.cfg.StrictMode {
				eng.recordPanic(name, r)
			} else {
				eng.logger.Error("BIND function panicked", zap.String("name", name), zap.Any("recovered", r))
			}
			v, ok, err = Nil, false, nil
		}
	}()
	v, err = fn(env)
	return v, err == nil, err
}

// TestNode passes a token through unchanged only if its predicate
// holds (spec §4.5).
type TestNode struct {
	bn   *betaNetwork
	cond *testCond
	out  *BetaMemory
}

func newTestNode(bn *betaNetwork, cond *testCond) *TestNode {
	bn.nextMemID++
	return &TestNode{bn: bn, cond: cond, out: &BetaMemory{id: BetaMemHandle(bn.nextMemID), index: make(map[TokenHandle]int)}}
}

func (n *TestNode) output() *BetaMemory { return n.out }

func (n *TestNode) LeftActivate(eng *Engine, tok *Token) {
	ok, err := evalTest(eng, n.cond.name, n.cond.fn, tok.env)
	if err != nil {
		eng.recordTestError(n.cond.name, err)
		return
	}
	if !ok {
		return
	}
	child := n.bn.newToken(tok, nil, tok.env.clone())
	n.out.insert(eng, child)
}

func (n *TestNode) LeftRemove(eng *Engine, tok *Token) {}

// BindNode extends a token's environment with a computed variable
// (spec §4.5).
type BindNode struct {
	bn   *betaNetwork
	cond *bindCond
	out  *BetaMemory
}

func newBindNode(bn *betaNetwork, cond *bindCond) *BindNode {
	bn.nextMemID++
	return &BindNode{bn: bn, cond: cond, out: &BetaMemory{id: BetaMemHandle(bn.nextMemID), index: make(map[TokenHandle]int)}}
}

func (n *BindNode) output() *BetaMemory { return n.out }

func (n *BindNode) LeftActivate(eng *Engine, tok *Token) {
	v, ok, err := evalBind(eng, string(n.cond.name), n.cond.fn, tok.env)
	if err != nil {
		eng.recordTestError(string(n.cond.name), err)
		return
	}
	if !ok {
		return
	}
	env := tok.env.clone()
	env[n.cond.name] = v
	child := n.bn.newToken(tok, nil, env)
	n.out.insert(eng, child)
}

func (n *BindNode) LeftRemove(eng *Engine, tok *Token) {}

// NegativeNode passes a token through only while no WME in its right
// alpha memory satisfies the join predicate against it: it keeps, per
// left token, the set of WMEs currently witnessing against it
// (spec §4.4).
type NegativeNode struct {
	bn    *betaNetwork
	left  *BetaMemory
	right *AlphaMemory
	value *joinVarBinding
	ident VarName
	identIsFirst bool

	out       *BetaMemory
	witness   map[TokenHandle]map[WMEHandle]bool
	witnessOf map[WMEHandle]map[TokenHandle]bool
}

func newNegativeNode(bn *betaNetwork, left *BetaMemory, right *AlphaMemory, ident VarName, identIsFirst bool, value *joinVarBinding) *NegativeNode {
	bn.nextMemID++
	n := &NegativeNode{
		bn: bn, left: left, right: right, ident: ident, identIsFirst: identIsFirst, value: value,
		out:       &BetaMemory{id: BetaMemHandle(bn.nextMemID), index: make(map[TokenHandle]int)},
		witness:   make(map[TokenHandle]map[WMEHandle]bool),
		witnessOf: make(map[WMEHandle]map[TokenHandle]bool),
	}
	right.consumers = append(right.consumers, n)
	right.refcount++ // tracked, not pruned on — see AlphaMemory.refcount
	return n
}

func (n *NegativeNode) output() *BetaMemory { return n.out }

// matches mirrors JoinNode.test but never produces bindings: a
// negated pattern contributes no new variables to the environment
// (spec §4.4).
func (n *NegativeNode) matches(tok *Token, w WME) bool {
	if !n.identIsFirst {
		existing, ok := tok.env.Get(n.ident)
		if !ok {
			return false
		}
		fid, ok2 := existing.Int()
		if !ok2 || FactID(fid) != w.Fact {
			return false
		}
	}
	if n.value != nil {
		v, ok := navigate(w.Value, n.value.path)
		if !ok {
			return false
		}
		if !n.value.isFirst {
			existing, ok2 := tok.env.Get(n.value.varName)
			if !ok2 || !existing.Equal(v) {
				return false
			}
		}
	}
	return true
}

func (n *NegativeNode) LeftActivate(eng *Engine, tok *Token) {
	ws := make(map[WMEHandle]bool)
	for _, h := range n.right.wmes.ToSlice() {
		w := eng.wmeByHandle(h)
		if n.matches(tok, w) {
			ws[h] = true
			if n.witnessOf[h] == nil {
				n.witnessOf[h] = make(map[TokenHandle]bool)
			}
			n.witnessOf[h][tok.id] = true
		}
	}
	n.witness[tok.id] = ws
	if len(ws) == 0 {
		n.passthroughAdd(eng, tok)
	}
}

func (n *NegativeNode) LeftRemove(eng *Engine, tok *Token) {
	for h := range n.witness[tok.id] {
		delete(n.witnessOf[h], tok.id)
	}
	delete(n.witness, tok.id)
	n.out.removeIfPresent(tok)
}

func (n *NegativeNode) RightActivate(eng *Engine, handle WMEHandle) {
	w := eng.wmeByHandle(handle)
	for _, tok := range n.left.tokens {
		if !n.matches(tok, w) {
			continue
		}
		ws := n.witness[tok.id]
		if ws == nil {
			ws = make(map[WMEHandle]bool)
			n.witness[tok.id] = ws
		}
		wasEmpty := len(ws) == 0
		ws[handle] = true
		if n.witnessOf[handle] == nil {
			n.witnessOf[handle] = make(map[TokenHandle]bool)
		}
		n.witnessOf[handle][tok.id] = true
		if wasEmpty {
			n.retractPassthrough(eng, tok)
		}
	}
}

func (n *NegativeNode) RightRemove(eng *Engine, handle WMEHandle) {
	for tokID := range n.witnessOf[handle] {
		ws := n.witness[tokID]
		delete(ws, handle)
		if len(ws) == 0 {
			if tok, ok := n.bn.tokens[tokID]; ok && !tok.removing {
				n.passthroughAdd(eng, tok)
			}
		}
	}
	delete(n.witnessOf, handle)
}

func (n *NegativeNode) passthroughAdd(eng *Engine, tok *Token) {
	if tok.removing {
		return
	}
	n.out.index[tok.id] = len(n.out.tokens)
	n.out.tokens = append(n.out.tokens, tok)
	for _, c := range n.out.children {
		c.LeftActivate(eng, tok)
	}
}

// retractPassthrough removes tok's descendants (everything produced
// downstream of the negative node on its behalf) and tok's own
// presence in n.out, but leaves tok itself alive: it remains the
// negative node's left input, ready to pass through again once its
// witness set empties.
func (n *NegativeNode) retractPassthrough(eng *Engine, tok *Token) {
	if kids, ok := n.bn.childIndex[tok.id]; ok {
		for _, childID := range kids.ToSlice() {
			if childTok, ok2 := n.bn.tokens[childID]; ok2 {
				n.bn.removeToken(eng, childTok)
			}
		}
	}
	n.out.removeIfPresent(tok)
}

// NCCNode gates a token on whether a subnetwork representing a
// negated conjunction currently has any match: it maintains a count
// of live subnetwork matches per outer token (spec §4.4, "arity > 1
// negated conjunctions compile to an NCC subnetwork").
type NCCNode struct {
	bn      *betaNetwork
	subRoot *BetaMemory // left input to the subnetwork's own join chain
	out     *BetaMemory
	count   map[TokenHandle]int
}

func newNCCNode(bn *betaNetwork) *NCCNode {
	bn.nextMemID++
	subRootID := BetaMemHandle(bn.nextMemID)
	bn.nextMemID++
	outID := BetaMemHandle(bn.nextMemID)
	n := &NCCNode{
		bn:      bn,
		subRoot: &BetaMemory{id: subRootID, index: make(map[TokenHandle]int)},
		out:     &BetaMemory{id: outID, index: make(map[TokenHandle]int)},
		count:   make(map[TokenHandle]int),
	}
	return n
}

func (n *NCCNode) output() *BetaMemory { return n.out }

func (n *NCCNode) LeftActivate(eng *Engine, tok *Token) {
	pt := n.bn.newToken(tok, nil, tok.env.clone())
	pt.nccAnchor = tok
	n.count[tok.id] = 0
	n.subRoot.insert(eng, pt)
	if n.count[tok.id] == 0 {
		n.passthroughAdd(eng, tok)
	}
}

func (n *NCCNode) LeftRemove(eng *Engine, tok *Token) {
	delete(n.count, tok.id)
	n.out.removeIfPresent(tok)
}

func (n *NCCNode) passthroughAdd(eng *Engine, tok *Token) {
	if tok.removing {
		return
	}
	n.out.index[tok.id] = len(n.out.tokens)
	n.out.tokens = append(n.out.tokens, tok)
	for _, c := range n.out.children {
		c.LeftActivate(eng, tok)
	}
}

func (n *NCCNode) retractPassthrough(eng *Engine, tok *Token) {
	if kids, ok := n.bn.childIndex[tok.id]; ok {
		for _, childID := range kids.ToSlice() {
			if childTok, ok2 := n.bn.tokens[childID]; ok2 {
				n.bn.removeToken(eng, childTok)
			}
		}
	}
	n.out.removeIfPresent(tok)
}

// NCCPartner is the terminal of an NCC subnetwork: every subnetwork
// match increments its outer token's count, retracting the outer
// token's passthrough on the 0->1 transition; every subnetwork
// retraction decrements it, re-asserting on the 1->0 transition
// (spec §4.4).
type NCCPartner struct {
	ncc *NCCNode
}

func (p *NCCPartner) output() *BetaMemory { return nil }

func (p *NCCPartner) LeftActivate(eng *Engine, subTok *Token) {
	outer := subTok.nccAnchor
	if outer == nil {
		return
	}
	p.ncc.count[outer.id]++
	if p.ncc.count[outer.id] == 1 {
		if _, present := p.ncc.out.index[outer.id]; present {
			p.ncc.retractPassthrough(eng, outer)
		}
	}
}

func (p *NCCPartner) LeftRemove(eng *Engine, subTok *Token) {
	outer := subTok.nccAnchor
	if outer == nil {
		return
	}
	p.ncc.count[outer.id]--
	if p.ncc.count[outer.id] == 0 && !outer.removing {
		if _, present := p.ncc.out.index[outer.id]; !present {
			p.ncc.passthroughAdd(eng, outer)
		}
	}
}

// ProductionNode is a beta-network terminal: every token that reaches
// it is a complete match, recorded in the engine's conflict set
// (spec §4.6). The same ProductionNode instance is attached as a
// child of every disjunct's final memory, so OR at the production
// level is "one production, several match-producing paths."
type ProductionNode struct {
	prod         *Production
	matchByToken map[TokenHandle]*Match
}

func newProductionNode(prod *Production) *ProductionNode {
	return &ProductionNode{prod: prod, matchByToken: make(map[TokenHandle]*Match)}
}

func (n *ProductionNode) output() *BetaMemory { return nil }

func (n *ProductionNode) LeftActivate(eng *Engine, tok *Token) {
	if n.prod == nil {
		return // disarmed by RemoveProduction
	}
	m := eng.conflictSet.insert(n.prod, tok)
	n.matchByToken[tok.id] = m
}

func (n *ProductionNode) LeftRemove(eng *Engine, tok *Token) {
	m, ok := n.matchByToken[tok.id]
	if !ok {
		return
	}
	eng.conflictSet.remove(m)
	delete(n.matchByToken, tok.id)
}

func (n *ProductionNode) String() string {
	if n.prod == nil {
		return "production(removed)"
	}
	return fmt.Sprintf("production(%s)", n.prod.id)
}
