package rete

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeDistributesOrToDNF(t *testing.T) {
	cond := And(
		Or(
			Has(Eq("kind", NewString("a"))),
			Has(Eq("kind", NewString("b"))),
		),
		Has(Eq("kind", NewString("c"))),
	)
	disjuncts, err := normalize(cond)
	require.NoError(t, err)
	require.Len(t, disjuncts, 2)
	for _, d := range disjuncts {
		require.Len(t, d, 2)
	}
}

func TestNormalizeRejectsOrInsideNot(t *testing.T) {
	cond := Not(Or(Has(Eq("kind", NewString("a"))), Has(Eq("kind", NewString("b")))))
	_, err := normalize(cond)
	require.Error(t, err)
}

func TestNormalizeRejectsNestedNot(t *testing.T) {
	cond := Not(And(Not(Has(Eq("kind", NewString("a")))), Has(Eq("kind", NewString("b")))))
	_, err := normalize(cond)
	require.Error(t, err)
}

func TestOrAtProductionLevelMatchesEitherBranch(t *testing.T) {
	eng := NewEngine()
	var fired int
	_, err := eng.AddProduction(
		Or(
			Has(Eq("kind", NewString("cat"))),
			Has(Eq("kind", NewString("dog"))),
		),
		func(ctx *ActionContext) error {
			fired++
			return nil
		},
	)
	require.NoError(t, err)

	_, err = eng.AddFact(NewFact().With("kind", NewString("dog")))
	require.NoError(t, err)
	require.Equal(t, 1, eng.Stats().Matches)

	_, err = eng.AddFact(NewFact().With("kind", NewString("cat")))
	require.NoError(t, err)
	require.Equal(t, 2, eng.Stats().Matches)
}

func TestPlanChainCatchesForwardReferenceInBind(t *testing.T) {
	steps := flatten([]leaf{
		(&bindCond{name: "Y", vars: []VarName{"X"}, fn: nil}),
	})
	_, err := planChain(steps, map[VarName]bool{})
	require.ErrorIs(t, err, ErrUnboundVariable)
}
