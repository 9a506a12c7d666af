package rete

// WMEHandle is a stable, arena-assigned identifier for a WME (spec
// §9, "arena-allocated nodes, memories, and tokens with stable
// integer handles"). It is only ever compared and used as a map/set
// key, never dereferenced, so removal is O(1) regardless of how many
// memories reference the WME.
type WMEHandle uint64

// WME is a working-memory element: a (fact-id, attribute, value)
// triple (spec §3). Attr is the top-level attribute name a pattern's
// first path segment names; nested navigation past Attr is performed
// against Value at match time (see navigate in value.go) rather than
// being exploded into further WMEs.
type WME struct {
	handle WMEHandle
	Fact   FactID
	Attr   string
	Value  Value
}

// decompose turns a fact's attribute map into the WME triples it
// contributes to working memory (spec §3: "Positional values of a
// fact appear as attributes whose names are the positional indices").
func decompose(id FactID, f *Fact) []WME {
	m := f.attrMap()
	wmes := make([]WME, 0, len(m))
	for attr, v := range m {
		wmes = append(wmes, WME{Fact: id, Attr: attr, Value: v})
	}
	return wmes
}

// sameContent reports whether two WMEs belong to the same fact and
// attribute and carry an equal value. UpdateFact's WME diffing (spec
// §4.7.1) does not call it; it compares attribute=value key strings.
func (w WME) sameContent(other WME) bool {
	return w.Fact == other.Fact && w.Attr == other.Attr && w.Value.Equal(other.Value)
}
