package rete

import (
	"github.com/google/btree"
	"github.com/google/uuid"
)

// ProductionID is the public, stable identity of a registered
// production (spec §3). Internally the network uses arena uint64
// handles for nodes/memories/tokens; productions are user-facing, so
// they get a real UUID instead (Design Notes, "Identifiers").
type ProductionID string

// NewProductionID mints a fresh production identifier.
func NewProductionID() ProductionID {
	return ProductionID(uuid.NewString())
}

// Action runs when a production fires (spec §6).
type Action func(ctx *ActionContext) error

// Production is a compiled rule: its condition (already lowered into
// shared alpha/beta nodes) and its action (spec §3).
type Production struct {
	id     ProductionID
	action Action
	node   *ProductionNode
}

// ID returns the production's identifier.
func (p *Production) ID() ProductionID { return p.id }

// Match is one complete, currently-live binding of a production
// against working memory (spec §3, "A match is a (production, token)
// pair").
type Match struct {
	seq  uint64
	prod *Production
	tok  *Token
}

// Production returns the production this match satisfies.
func (m *Match) Production() *Production { return m.prod }

// Env returns the match's binding environment.
func (m *Match) Env() Env { return m.tok.env }

// conflictSetItem is the btree element: ordered purely by sequence
// number, so iteration reproduces insertion order (spec §4.6,
// "Conflict-set representation": a btree keyed by a monotonic
// sequence number, since google/btree has no native insertion-order
// iteration of its own).
type conflictSetItem struct {
	seq   uint64
	match *Match
}

func (a conflictSetItem) Less(than btree.Item) bool {
	return a.seq < than.(conflictSetItem).seq
}

// ConflictSet holds every currently-live match across every
// production, ordered by the sequence in which each match first
// became true (spec §4.6).
type ConflictSet struct {
	tree    *btree.BTree
	nextSeq uint64
}

func newConflictSet() *ConflictSet {
	return &ConflictSet{tree: btree.New(32)}
}

func (cs *ConflictSet) insert(prod *Production, tok *Token) *Match {
	cs.nextSeq++
	m := &Match{seq: cs.nextSeq, prod: prod, tok: tok}
	cs.tree.ReplaceOrInsert(conflictSetItem{seq: m.seq, match: m})
	return m
}

func (cs *ConflictSet) remove(m *Match) {
	cs.tree.Delete(conflictSetItem{seq: m.seq})
}

// isLive reports whether m is still a conflict-set entry: Fire uses
// this to reject a stale match (spec §6, Fire's "match no longer
// valid" error case) instead of silently re-running an action whose
// supporting token has since been retracted.
func (cs *ConflictSet) isLive(m *Match) bool {
	return cs.tree.Has(conflictSetItem{seq: m.seq})
}

// Matches returns every currently-live match, in the order each first
// became true.
func (cs *ConflictSet) Matches() []*Match {
	out := make([]*Match, 0, cs.tree.Len())
	cs.tree.Ascend(func(i btree.Item) bool {
		out = append(out, i.(conflictSetItem).match)
		return true
	})
	return out
}

// Len reports how many matches are currently live.
func (cs *ConflictSet) Len() int { return cs.tree.Len() }
