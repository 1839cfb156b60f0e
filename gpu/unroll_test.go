package gpu

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PollyLabs/ppcg/poly"
	"github.com/PollyLabs/ppcg/scop"
)

func constBox(name string, n int, hi int64) *poly.Set {
	space := poly.NewSetSpace(nil, name, n)
	bm := poly.UniverseBasicMap(space)
	for i := 0; i < n; i++ {
		bm = bm.AddInequality(poly.NewConstraint(space).
			SetCoef(poly.DimOut, i, 1))
		bm = bm.AddInequality(poly.NewConstraint(space).
			SetCoef(poly.DimOut, i, -1).SetConst(hi))
	}
	return poly.SetFromBasicMap(bm)
}

// unrollKernel builds a kernel with one shared and one inner schedule
// dimension and a single register group accessing A[i+j]. The tile
// lower bound tracks the shared dimension with coefficient c: c == 1
// cancels against the subscript, any other value leaves the register
// index depending on the shared loop.
func unrollKernel(c int64) (*Kernel, *RefGroup) {
	dom := constBox("S", 2, 3)

	sp := poly.NewMapSpace(nil, "S", 2, "", 2)
	bm := poly.UniverseBasicMap(sp)
	bm = bm.Equate(poly.DimIn, 0, poly.DimOut, 0)
	bm = bm.Equate(poly.DimIn, 1, poly.DimOut, 1)
	sched := poly.MapFromBasicMap(bm).IntersectDomain(dom)

	asp := poly.NewMapSpace(nil, "S", 2, "A", 1)
	abm := poly.UniverseBasicMap(asp)
	abm = abm.AddEquality(poly.NewConstraint(asp).
		SetCoef(poly.DimOut, 0, 1).
		SetCoef(poly.DimIn, 0, -1).
		SetCoef(poly.DimIn, 1, -1))

	stmt := &scop.Statement{Name: "S", NDim: 2, Domain: dom}
	ref := &scop.AccessRef{Read: true, Access: poly.MapFromBasicMap(abm), Stmt: stmt}

	lower := poly.NewAff(nil, 1)
	lower.Coef[0] = c
	g := &RefGroup{
		Array:       &Array{Name: "A", NIndex: 1},
		Refs:        []*scop.AccessRef{ref},
		PrivateTile: &Tile{NIn: 1, Dim: []TileDim{{Size: 4, Lower: lower}}},
	}
	k := &Kernel{
		SharedLen:      1,
		ThreadTiledLen: 2,
		FirstUnroll:    -1,
		LocalSched:     poly.UnionMapFromMap(sched),
		Arrays:         []*LocalArray{{Array: g.Array, Groups: []*RefGroup{g}}},
	}
	return k, g
}

func TestInterchangeForUnroll(t *testing.T) {
	k, g := unrollKernel(1)
	k.interchangeForUnroll()
	require.Equal(t, 0, k.FirstUnroll)
	require.NotNil(t, g.PrivateTile)
}

func TestInterchangeDropsPrivateTiles(t *testing.T) {
	// The register index keeps a dependence on the shared loop after
	// the lower bound is subtracted, so no permutation of the inner
	// loops can make it constant.
	k, g := unrollKernel(2)
	k.interchangeForUnroll()
	require.Equal(t, -1, k.FirstUnroll)
	require.Nil(t, g.PrivateTile)
}
