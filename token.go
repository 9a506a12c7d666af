package rete

import mapset "github.com/deckarep/golang-set/v2"

// TokenHandle and BetaMemHandle are stable arena handles, parallel to
// WMEHandle/AlphaMemHandle/AlphaNodeHandle (spec §9).
type TokenHandle uint64
type BetaMemHandle uint64

// Token is an ordered partial match: it carries the binding
// environment accumulated on the path from the network root to this
// point, plus enough parent/WME bookkeeping to support O(1)-ish
// incremental removal (spec §3, "Token"; §4.3, "Token parent
// pointers").
//
// wme is nil for tokens produced by a node that does not consume a
// right-hand WME at this level (Test, Bind, and the subnetwork anchor
// tokens an NCC node creates). Negative and NCC nodes pass their input
// token itself through rather than creating a new one.
type Token struct {
	id       TokenHandle
	parent   *Token
	wme      *WMEHandle
	env      Env
	owner    *BetaMemory
	nccAnchor *Token // set on NCC pass-tokens and inherited by their
	// descendants; lets an NCCPartner map a subnetwork match back to
	// the outer token it corresponds to in O(1).
	removing bool // guards against re-propagating a token mid-teardown
	// (see betaNetwork.removeToken).
}

// Env returns the token's binding environment.
func (t *Token) Env() Env { return t.env }

// betaNetwork owns every beta memory, node, and token, plus the two
// incremental indices spec §4.3 names: a WME -> tokens index and a
// parent-token -> child-tokens index.
type betaNetwork struct {
	tokens    map[TokenHandle]*Token
	wmeIndex  map[WMEHandle]mapset.Set[TokenHandle]
	childIndex map[TokenHandle]mapset.Set[TokenHandle]

	nextTokenID uint64
	nextMemID   uint64
	nextNodeID  uint64

	rootMemory *BetaMemory
	rootToken  *Token
}

func newBetaNetwork() *betaNetwork {
	bn := &betaNetwork{
		tokens:     make(map[TokenHandle]*Token),
		wmeIndex:   make(map[WMEHandle]mapset.Set[TokenHandle]),
		childIndex: make(map[TokenHandle]mapset.Set[TokenHandle]),
	}
	bn.nextMemID++
	bn.rootMemory = &BetaMemory{id: BetaMemHandle(bn.nextMemID), index: make(map[TokenHandle]int)}
	bn.nextTokenID++
	root := &Token{id: TokenHandle(bn.nextTokenID), env: make(Env)}
	bn.rootToken = root
	bn.tokens[root.id] = root
	bn.rootMemory.tokens = append(bn.rootMemory.tokens, root)
	bn.rootMemory.index[root.id] = 0
	root.owner = bn.rootMemory
	return bn
}

// newToken allocates a token descending from parent, recording it in
// the global arena and the two incremental indices.
func (bn *betaNetwork) newToken(parent *Token, wme *WMEHandle, env Env) *Token {
	bn.nextTokenID++
	tok := &Token{id: TokenHandle(bn.nextTokenID), parent: parent, wme: wme, env: env}
	if parent != nil && parent.nccAnchor != nil {
		tok.nccAnchor = parent.nccAnchor
	}
	bn.tokens[tok.id] = tok
	if wme != nil {
		s, ok := bn.wmeIndex[*wme]
		if !ok {
			s = mapset.NewThreadUnsafeSet[TokenHandle]()
			bn.wmeIndex[*wme] = s
		}
		s.Add(tok.id)
	}
	if parent != nil {
		s, ok := bn.childIndex[parent.id]
		if !ok {
			s = mapset.NewThreadUnsafeSet[TokenHandle]()
			bn.childIndex[parent.id] = s
		}
		s.Add(tok.id)
	}
	return tok
}

// removeToken fully destroys tok: every descendant token first
// (deepest first), then tok's own membership in its owner memory and
// the global indices. Node-local state (Negative witness sets, NCC
// counts, the conflict-set entry at a production terminal) is cleaned
// up via each owner memory's children's LeftRemove hook, called after
// descendants are gone but before tok itself is forgotten.
func (bn *betaNetwork) removeToken(eng *Engine, tok *Token) {
	if tok == nil || tok.removing {
		return
	}
	tok.removing = true

	if kids, ok := bn.childIndex[tok.id]; ok {
		for _, childID := range kids.ToSlice() {
			if childTok, ok2 := bn.tokens[childID]; ok2 {
				bn.removeToken(eng, childTok)
			}
		}
		delete(bn.childIndex, tok.id)
	}

	if tok.owner != nil {
		for _, c := range tok.owner.children {
			c.LeftRemove(eng, tok)
		}
		tok.owner.removeIfPresent(tok)
	}

	if tok.wme != nil {
		if s, ok := bn.wmeIndex[*tok.wme]; ok {
			s.Remove(tok.id)
			if s.Cardinality() == 0 {
				delete(bn.wmeIndex, *tok.wme)
			}
		}
	}
	if tok.parent != nil {
		if s, ok := bn.childIndex[tok.parent.id]; ok {
			s.Remove(tok.id)
		}
	}
	delete(bn.tokens, tok.id)
}

// BetaMemory stores the tokens produced by one beta node and fans
// them out to every node that treats this memory as its left input
// (spec §4.3).
type BetaMemory struct {
	id       BetaMemHandle
	tokens   []*Token
	index    map[TokenHandle]int
	children []betaChild
	shared   map[string]betaChild
}

// Contents returns the tokens currently in this memory, for
// introspection and invariant testing (spec §8, "Beta completeness").
func (m *BetaMemory) Contents() []*Token {
	cp := make([]*Token, len(m.tokens))
	copy(cp, m.tokens)
	return cp
}

// insert appends tok to m and propagates a left activation to every
// child node (spec §4.3, "Activation protocol").
func (m *BetaMemory) insert(eng *Engine, tok *Token) {
	tok.owner = m
	m.index[tok.id] = len(m.tokens)
	m.tokens = append(m.tokens, tok)
	for _, c := range m.children {
		c.LeftActivate(eng, tok)
	}
}

// removeIfPresent drops tok from m's bookkeeping without notifying
// children (callers that need the notification use
// betaNetwork.removeToken, which calls children's LeftRemove itself
// before invoking this).
func (m *BetaMemory) removeIfPresent(tok *Token) {
	idx, ok := m.index[tok.id]
	if !ok {
		return
	}
	last := len(m.tokens) - 1
	m.tokens[idx] = m.tokens[last]
	m.index[m.tokens[idx].id] = idx
	m.tokens = m.tokens[:last]
	delete(m.index, tok.id)
}

func (m *BetaMemory) attachOrShare(key string, create func() betaChild) betaChild {
	if m.shared == nil {
		m.shared = make(map[string]betaChild)
	}
	if existing, ok := m.shared[key]; ok {
		return existing
	}
	nc := create()
	m.shared[key] = nc
	m.children = append(m.children, nc)
	return nc
}

// betaChild is the uniform activation interface every beta node
// variant implements (Design Notes, "Dynamic dispatch over node
// variants" — a tagged-variant style common interface instead of a
// deep inheritance hierarchy).
type betaChild interface {
	LeftActivate(eng *Engine, tok *Token)
	LeftRemove(eng *Engine, tok *Token)
	output() *BetaMemory
}
