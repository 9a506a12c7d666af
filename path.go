package rete

import "strings"

// pathSep separates path segments in an attribute key, per spec
// §4.1: "name__sub1__sub2...".
const pathSep = "__"

// splitPath splits an attribute key into its leading attribute name
// and any nested-map navigation segments.
func splitPath(key string) (attr string, segments []string) {
	parts := strings.Split(key, pathSep)
	return parts[0], parts[1:]
}
