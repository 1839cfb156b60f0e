package gpu

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PollyLabs/ppcg/poly"
)

func TestGenerateHostSkipsEmptyGuard(t *testing.T) {
	noParams := poly.NewParamSpace(nil)
	prog := &Prog{Context: poly.UniverseSet(noParams)}

	core := poly.EmptyUnionSet().AddSet(constBox("S0", 1, 9))
	prefix := poly.EmptyUnionMap()
	for _, s := range core.Sets() {
		prefix = prefix.AddMap(s.FromDomain())
	}
	sel := &bandSelection{Prefix: prefix, Core: core}
	k := &Kernel{Name: "kernel0", Guard: poly.EmptySet(noParams)}

	// A provably empty guard must leave no reachable launch.
	host, err := generateHost(prog, []*Kernel{k}, []*bandSelection{sel})
	require.NoError(t, err)
	require.NotContains(t, poly.PrintAST(host), "<<<")

	k.Guard = poly.UniverseSet(noParams)
	host, err = generateHost(prog, []*Kernel{k}, []*bandSelection{sel})
	require.NoError(t, err)
	require.Contains(t, poly.PrintAST(host), "kernel0<<<")
}

func TestGuardExpr(t *testing.T) {
	space := poly.NewParamSpace([]string{"N"})

	t.Run("empty set has no guard", func(t *testing.T) {
		_, ok := guardExpr(poly.EmptySet(space))
		require.False(t, ok)
	})

	t.Run("universe needs no condition", func(t *testing.T) {
		e, ok := guardExpr(poly.UniverseSet(space))
		require.True(t, ok)
		require.Nil(t, e)
	})

	t.Run("bound becomes a condition", func(t *testing.T) {
		bm := poly.UniverseBasicMap(space)
		bm = bm.AddInequality(poly.NewConstraint(space).
			SetCoef(poly.DimParam, 0, 1).SetConst(-1))
		e, ok := guardExpr(poly.SetFromBasicMap(bm))
		require.True(t, ok)
		require.NotNil(t, e)
		cond := poly.PrintExpr(e)
		require.Contains(t, cond, "N")
		require.Contains(t, cond, ">= 0")
	})
}
