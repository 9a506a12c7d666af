package rete

import "strings"

// VarName names a pattern variable. The engine has no separate
// "Variable" struct (unlike the teacher's pointer-identity
// Const/Var embedding scheme) because Go string identity is already
// well-defined and comparable; a VarName is "the same variable" iff
// it is the same string within the lexical scope of one disjunct
// (spec §4.1, "Variable scoping is lexical over the condition
// sequence").
type VarName string

// Wildcard is the unnamed, "don't care" variable (spec §3): every
// occurrence of Wildcard is independent, even when it appears more
// than once in a single production. Each occurrence is bound only
// under its own compiler-generated name (see internalPrefix), never
// under "_", so occurrences never constrain one another.
const Wildcard VarName = "_"

// internalPrefix marks variable names reserved for the compiler's own
// synthetic bindings (spec §7, "duplicate or reserved variable
// names" is a compile error). User-supplied names may not start with
// it.
const internalPrefix = "__"

func isReserved(name VarName) bool {
	return strings.HasPrefix(string(name), internalPrefix)
}

// Env is the binding environment carried by a token: a mapping from
// every variable encountered on the path from the network root to
// this point, to the value it resolved to (spec §3, "Token").
type Env map[VarName]Value

// clone returns a shallow copy of e, used when a node extends a
// parent token's bindings without mutating the parent's environment
// (parent tokens remain valid, independently removable, bindings).
func (e Env) clone() Env {
	cp := make(Env, len(e)+1)
	for k, v := range e {
		cp[k] = v
	}
	return cp
}

// Get looks up a variable's bound value.
func (e Env) Get(name VarName) (Value, bool) {
	v, ok := e[name]
	return v, ok
}
