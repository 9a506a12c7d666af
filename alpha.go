package rete

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// AlphaNodeHandle and AlphaMemHandle are stable arena handles for
// alpha-network nodes and memories (spec §9).
type AlphaNodeHandle uint64
type AlphaMemHandle uint64

type alphaTestKind int

const (
	testAttr alphaTestKind = iota
	testValue
	testPath
)

// alphaTest is one constant test performed by an interior alpha node
// (spec §4.2: "attribute == a", "value == v", or a path-expression
// sub-value equality).
type alphaTest struct {
	kind     alphaTestKind
	attr     string
	path     []string
	hasConst bool
	constVal Value
}

func attrTest(attr string) alphaTest {
	return alphaTest{kind: testAttr, attr: attr}
}

func valueTest(v Value) alphaTest {
	return alphaTest{kind: testValue, hasConst: true, constVal: v}
}

func pathTest(path []string, v Value, hasConst bool) alphaTest {
	return alphaTest{kind: testPath, path: path, hasConst: hasConst, constVal: v}
}

func (t alphaTest) matches(w WME) bool {
	switch t.kind {
	case testAttr:
		return w.Attr == t.attr
	case testValue:
		return w.Value.Equal(t.constVal)
	case testPath:
		v, ok := navigate(w.Value, t.path)
		if !ok {
			return false
		}
		if t.hasConst {
			return v.Equal(t.constVal)
		}
		return true
	default:
		return false
	}
}

func (t alphaTest) equal(o alphaTest) bool {
	if t.kind != o.kind || t.hasConst != o.hasConst {
		return false
	}
	if t.attr != o.attr {
		return false
	}
	if len(t.path) != len(o.path) {
		return false
	}
	for i := range t.path {
		if t.path[i] != o.path[i] {
			return false
		}
	}
	if t.hasConst && !t.constVal.Equal(o.constVal) {
		return false
	}
	return true
}

func (t alphaTest) key() string {
	var sb strings.Builder
	sb.WriteByte(byte('0' + t.kind))
	sb.WriteByte('|')
	sb.WriteString(t.attr)
	sb.WriteByte('|')
	sb.WriteString(strings.Join(t.path, pathSep))
	sb.WriteByte('|')
	if t.hasConst {
		sb.WriteString(t.constVal.key())
	}
	return sb.String()
}

// AlphaConsumer is a beta-network node that reads from an alpha
// memory's right input: JoinNode and NegativeNode implement it
// (spec §4.3, "Activation protocol").
type AlphaConsumer interface {
	RightActivate(eng *Engine, w WMEHandle)
	RightRemove(eng *Engine, w WMEHandle)
}

// AlphaNode is one interior node (or terminal) of the discrimination
// tree (spec §4.2). The root has a zero-value test that is never
// evaluated; every WME "matches" the root trivially so traversal can
// start uniformly at its children.
type AlphaNode struct {
	id       AlphaNodeHandle
	test     alphaTest
	children []*AlphaNode
	memory   *AlphaMemory
}

// AlphaMemory holds the current set of WMEs satisfying the
// conjunction of tests from the root to its anchoring node
// (spec §3, "alpha memory").
//
// refcount counts the beta join/negative nodes sharing this memory as
// their right input. It is tracked but not consulted for teardown:
// RemoveProduction does not prune nodes that reach zero refcount, a
// deliberate scope decision recorded in DESIGN.md ("Node lifetimes").
type AlphaMemory struct {
	id        AlphaMemHandle
	node      *AlphaNode
	wmes      mapset.Set[WMEHandle]
	consumers []AlphaConsumer
	refcount  int
}

// Contents returns the WMEs currently in this alpha memory, for
// introspection and invariant testing (spec §8, "Alpha completeness").
func (m *AlphaMemory) Contents() []WMEHandle {
	return m.wmes.ToSlice()
}

type alphaNetwork struct {
	root       *AlphaNode
	nextNodeID uint64
	nextMemID  uint64
}

func newAlphaNetwork() *alphaNetwork {
	return &alphaNetwork{root: &AlphaNode{}}
}

func (an *alphaNetwork) newNode(t alphaTest) *AlphaNode {
	an.nextNodeID++
	return &AlphaNode{id: AlphaNodeHandle(an.nextNodeID), test: t}
}

func (an *alphaNetwork) newMemory(n *AlphaNode) *AlphaMemory {
	an.nextMemID++
	return &AlphaMemory{id: AlphaMemHandle(an.nextMemID), node: n, wmes: mapset.NewThreadUnsafeSet[WMEHandle]()}
}

// ensurePath walks tests from the root, reusing any node whose test
// already matches the next required test, allocating only where the
// path diverges (spec §4.2, "Sharing"). It returns the alpha memory
// anchored at the final node, creating one if this is the first
// pattern to terminate there.
func (an *alphaNetwork) ensurePath(tests []alphaTest) *AlphaMemory {
	node := an.root
	for _, t := range tests {
		var next *AlphaNode
		for _, child := range node.children {
			if child.test.equal(t) {
				next = child
				break
			}
		}
		if next == nil {
			next = an.newNode(t)
			node.children = append(node.children, next)
		}
		node = next
	}
	if node.memory == nil {
		node.memory = an.newMemory(node)
	}
	return node.memory
}

// activateInsert propagates a newly inserted WME top-down through the
// discrimination tree, inserting it into every alpha memory it
// reaches and right-activating that memory's consumers (spec §4.2,
// "Activation").
func (an *alphaNetwork) activateInsert(eng *Engine, w WME, handle WMEHandle) {
	activateInsertNode(an.root, eng, w, handle)
}

func activateInsertNode(n *AlphaNode, eng *Engine, w WME, handle WMEHandle) {
	for _, child := range n.children {
		if !child.test.matches(w) {
			continue
		}
		if child.memory != nil {
			child.memory.wmes.Add(handle)
			for _, c := range child.memory.consumers {
				c.RightActivate(eng, handle)
			}
		}
		activateInsertNode(child, eng, w, handle)
	}
}

// activateRemove is the symmetric top-down removal traversal
// (spec §4.2).
func (an *alphaNetwork) activateRemove(eng *Engine, w WME, handle WMEHandle) {
	activateRemoveNode(an.root, eng, w, handle)
}

func activateRemoveNode(n *AlphaNode, eng *Engine, w WME, handle WMEHandle) {
	for _, child := range n.children {
		if !child.test.matches(w) {
			continue
		}
		// Removal must reach descendants before the memory forgets the
		// WME, but consumers are notified before the WME is actually
		// dropped from the set so any downstream inspection during
		// the callback still sees pre-removal membership if it needs to.
		activateRemoveNode(child, eng, w, handle)
		if child.memory != nil {
			for _, c := range child.memory.consumers {
				c.RightRemove(eng, handle)
			}
			child.memory.wmes.Remove(handle)
		}
	}
}
