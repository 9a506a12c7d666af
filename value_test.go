package rete

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestValueEqualityIsStructural(t *testing.T) {
	a := NewMap(map[string]Value{"x": NewInt(1), "y": NewTuple(NewString("a"), NewString("b"))})
	b := NewMap(map[string]Value{"x": NewInt(1), "y": NewTuple(NewString("a"), NewString("b"))})
	c := NewMap(map[string]Value{"x": NewInt(2)})

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestNavigatePathExpression(t *testing.T) {
	v := NewMap(map[string]Value{
		"address": NewMap(map[string]Value{
			"city": NewString("springfield"),
		}),
	})
	got, ok := navigate(v, []string{"address", "city"})
	require.True(t, ok)
	require.Equal(t, NewString("springfield"), got)

	_, ok = navigate(v, []string{"address", "zip"})
	require.False(t, ok)
}

func TestEnvDiffUsesValueEqualMethod(t *testing.T) {
	got := Env{"A": NewInt(1), "B": NewTuple(NewString("x"), NewString("y"))}
	want := Env{"A": NewInt(1), "B": NewTuple(NewString("x"), NewString("y"))}

	// Value has an Equal method with the shape cmp looks for, so this
	// diffs structurally without needing cmp.AllowUnexported despite
	// Value's fields being private.
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("env mismatch (-want +got):\n%s", diff)
	}
}

func TestOfConvertsPlainGoValues(t *testing.T) {
	v := Of(map[string]interface{}{"n": 3, "ok": true})
	m, isMap := v.Map()
	require.True(t, isMap)
	n, _ := m["n"].Int()
	require.Equal(t, int64(3), n)
}
