package rete

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// drainMatches fires every currently live match exactly once, oldest
// first, tracking which *Match instances it has already fired: the
// core does not provide refraction (spec §4.6), so this loop's own
// bookkeeping is what keeps it from re-firing a match whose action
// doesn't itself retract the fact that produced it.
func drainMatches(t *testing.T, eng *Engine) (fired int) {
	t.Helper()
	seen := make(map[*Match]bool)
	for {
		var next *Match
		for _, m := range eng.Matches() {
			if !seen[m] {
				next = m
				break
			}
		}
		if next == nil {
			return fired
		}
		seen[next] = true
		require.NoError(t, eng.Fire(next))
		fired++
	}
}

func TestSimpleMatchFires(t *testing.T) {
	eng := NewEngine()
	var fired []FactID
	_, err := eng.AddProduction(
		Has(Eq("kind", NewString("light")), Var("color", "C")).As("f"),
		func(ctx *ActionContext) error {
			fid, _ := ctx.Bind("f")
			i, _ := fid.Int()
			fired = append(fired, FactID(i))
			return nil
		},
	)
	require.NoError(t, err)

	id, err := eng.AddFact(NewFact().With("kind", NewString("light")).With("color", NewString("red")))
	require.NoError(t, err)
	require.Equal(t, 1, eng.Stats().Matches)

	require.NoError(t, eng.Fire(eng.Matches()[0]))
	require.Equal(t, []FactID{id}, fired)
	// Firing does not retract the match: the core provides no
	// refraction, so the entry stays live until the underlying WME
	// changes (spec §4.6, GLOSSARY "Refraction").
	require.Equal(t, 1, eng.Stats().Matches)
}

func TestVariableEqualityAcrossPatterns(t *testing.T) {
	eng := NewEngine()
	var matched int
	_, err := eng.AddProduction(
		And(
			Has(Eq("kind", NewString("edge")), Var("from", "A"), Var("to", "B")),
			Has(Eq("kind", NewString("edge")), Var("from", "B"), Var("to", "C")),
		),
		func(ctx *ActionContext) error {
			matched++
			return nil
		},
	)
	require.NoError(t, err)

	_, err = eng.AddFact(NewFact().With("kind", NewString("edge")).With("from", NewString("a")).With("to", NewString("b")))
	require.NoError(t, err)
	require.Equal(t, 0, eng.Stats().Matches)

	_, err = eng.AddFact(NewFact().With("kind", NewString("edge")).With("from", NewString("b")).With("to", NewString("c")))
	require.NoError(t, err)
	require.Equal(t, 1, eng.Stats().Matches)
}

func TestNegationRetractsOnWitness(t *testing.T) {
	eng := NewEngine()
	_, err := eng.AddProduction(
		And(
			Has(Eq("kind", NewString("task")), Var("id", "T")),
			Not(Has(Eq("kind", NewString("blocker")), Var("of", "T"))),
		),
		func(ctx *ActionContext) error { return nil },
	)
	require.NoError(t, err)

	_, err = eng.AddFact(NewFact().With("kind", NewString("task")).With("id", NewString("t1")))
	require.NoError(t, err)
	require.Equal(t, 1, eng.Stats().Matches)

	blockerID, err := eng.AddFact(NewFact().With("kind", NewString("blocker")).With("of", NewString("t1")))
	require.NoError(t, err)
	require.Equal(t, 0, eng.Stats().Matches, "adding a witness should retract the match")

	require.NoError(t, eng.RemoveFact(blockerID))
	require.Equal(t, 1, eng.Stats().Matches, "removing the last witness should re-assert the match")
}

func TestNCCNegatesConjunction(t *testing.T) {
	eng := NewEngine()
	_, err := eng.AddProduction(
		And(
			Has(Eq("kind", NewString("order")), Var("id", "O")),
			Not(And(
				Has(Eq("kind", NewString("payment")), Var("for", "O")),
				Has(Eq("kind", NewString("shipment")), Var("for", "O")),
			)),
		),
		func(ctx *ActionContext) error { return nil },
	)
	require.NoError(t, err)

	_, err = eng.AddFact(NewFact().With("kind", NewString("order")).With("id", NewString("o1")))
	require.NoError(t, err)
	require.Equal(t, 1, eng.Stats().Matches)

	_, err = eng.AddFact(NewFact().With("kind", NewString("payment")).With("for", NewString("o1")))
	require.NoError(t, err)
	require.Equal(t, 1, eng.Stats().Matches, "payment alone does not satisfy the negated conjunction")

	shipID, err := eng.AddFact(NewFact().With("kind", NewString("shipment")).With("for", NewString("o1")))
	require.NoError(t, err)
	require.Equal(t, 0, eng.Stats().Matches, "payment and shipment together satisfy it, retracting the match")

	require.NoError(t, eng.RemoveFact(shipID))
	require.Equal(t, 1, eng.Stats().Matches)
}

func TestTestConditionFiltersMatches(t *testing.T) {
	eng := NewEngine()
	_, err := eng.AddProduction(
		And(
			Has(Eq("kind", NewString("reading")), Var("value", "V")),
			Test("value-over-10", []VarName{"V"}, func(env Env) (bool, error) {
				v, _ := env.Get("V")
				i, _ := v.Int()
				return i > 10, nil
			}),
		),
		func(ctx *ActionContext) error { return nil },
	)
	require.NoError(t, err)

	_, err = eng.AddFact(NewFact().With("kind", NewString("reading")).With("value", NewInt(5)))
	require.NoError(t, err)
	require.Equal(t, 0, eng.Stats().Matches)

	_, err = eng.AddFact(NewFact().With("kind", NewString("reading")).With("value", NewInt(20)))
	require.NoError(t, err)
	require.Equal(t, 1, eng.Stats().Matches)
}

func TestUpdateFactDiffsWMEs(t *testing.T) {
	eng := NewEngine()
	var seenColors []string
	_, err := eng.AddProduction(
		Has(Eq("kind", NewString("light")), Var("color", "C")).As("f"),
		func(ctx *ActionContext) error {
			c, _ := ctx.Bind("C")
			s, _ := c.Str()
			seenColors = append(seenColors, s)
			return nil
		},
	)
	require.NoError(t, err)

	id, err := eng.AddFact(NewFact().With("kind", NewString("light")).With("color", NewString("red")))
	require.NoError(t, err)
	require.NoError(t, eng.Fire(eng.Matches()[0]))
	require.Equal(t, []string{"red"}, seenColors)

	require.NoError(t, eng.UpdateFact(id, NewFact().With("kind", NewString("light")).With("color", NewString("green"))))
	require.Equal(t, 1, eng.Stats().Matches)
	require.NoError(t, eng.Fire(eng.Matches()[0]))
	require.Equal(t, []string{"red", "green"}, seenColors)
}

func TestConflictSetOrdersByFirstMatchTime(t *testing.T) {
	eng := NewEngine()
	var order []string
	_, err := eng.AddProduction(
		Has(Eq("kind", NewString("item")), Var("name", "N")),
		func(ctx *ActionContext) error {
			n, _ := ctx.Bind("N")
			s, _ := n.Str()
			order = append(order, s)
			return nil
		},
	)
	require.NoError(t, err)

	_, err = eng.AddFact(NewFact().With("kind", NewString("item")).With("name", NewString("first")))
	require.NoError(t, err)
	_, err = eng.AddFact(NewFact().With("kind", NewString("item")).With("name", NewString("second")))
	require.NoError(t, err)

	fired := drainMatches(t, eng)
	require.Equal(t, 2, fired)
	require.Equal(t, []string{"first", "second"}, order)
}

func TestRemoveProductionStopsFutureMatches(t *testing.T) {
	eng := NewEngine()
	id, err := eng.AddProduction(
		Has(Eq("kind", NewString("x"))),
		func(ctx *ActionContext) error { return nil },
	)
	require.NoError(t, err)

	require.NoError(t, eng.RemoveProduction(id))
	require.ErrorIs(t, eng.RemoveProduction(id), ErrUnknownProduction)

	_, err = eng.AddFact(NewFact().With("kind", NewString("x")))
	require.NoError(t, err)
	require.Equal(t, 0, eng.Stats().Matches)
}

func TestCompileErrorLeavesNetworkUnchanged(t *testing.T) {
	eng := NewEngine()
	before := eng.Stats()

	_, err := eng.AddProduction(
		Test("unbound", []VarName{"Z"}, func(env Env) (bool, error) { return true, nil }),
		func(ctx *ActionContext) error { return nil },
	)
	require.Error(t, err)
	require.Equal(t, before, eng.Stats())
}
