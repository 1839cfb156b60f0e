package gpu

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PollyLabs/ppcg/poly"
	"github.com/PollyLabs/ppcg/scop"
)

// accessMap builds { [i] -> A[j] : i + lo <= j <= i + hi, 0 <= i <= 9 }.
func accessMap(lo, hi int64) *poly.Map {
	space := poly.NewMapSpace(nil, "", 1, "A", 1)
	bm := poly.UniverseBasicMap(space)
	bm = bm.AddInequality(poly.NewConstraint(space).
		SetCoef(poly.DimOut, 0, 1).SetCoef(poly.DimIn, 0, -1).SetConst(-lo))
	bm = bm.AddInequality(poly.NewConstraint(space).
		SetCoef(poly.DimOut, 0, -1).SetCoef(poly.DimIn, 0, 1).SetConst(hi))
	bm = bm.LowerBound(poly.DimIn, 0, 0)
	bm = bm.UpperBound(poly.DimIn, 0, 9)
	return poly.MapFromBasicMap(bm)
}

func TestComputeTile(t *testing.T) {
	tile := computeTile(accessMap(0, 3), 1)
	require.NotNil(t, tile)
	require.Equal(t, 1, tile.NIn)
	require.Len(t, tile.Dim, 1)
	require.Equal(t, int64(4), tile.Dim[0].Size)
	// Lower bound is the schedule point itself: j >= i.
	require.Equal(t, int64(1), tile.Dim[0].Lower.Coef[0])
	require.Equal(t, int64(0), tile.Dim[0].Lower.Cst)
}

func TestComputeTileUnbounded(t *testing.T) {
	// No pair of bounds encloses the range in a constant-size box.
	space := poly.NewMapSpace(nil, "", 1, "A", 1)
	bm := poly.UniverseBasicMap(space)
	bm = bm.AddInequality(poly.NewConstraint(space).
		SetCoef(poly.DimOut, 0, 1).SetCoef(poly.DimIn, 0, -1))
	require.Nil(t, computeTile(poly.MapFromBasicMap(bm), 1))
}

func TestTileFootprint(t *testing.T) {
	tile := &Tile{Dim: []TileDim{{Size: 32}, {Size: 32}}}
	require.Equal(t, int64(4096), tile.Footprint(4))
}

func TestEnforceSharedBudget(t *testing.T) {
	mk := func(name string, elems int64) *LocalArray {
		arr := &Array{
			Name: name, NIndex: 1,
			Decl: &scop.ArrayDecl{Name: name, ElemType: "float", ElemSize: 4},
		}
		g := &RefGroup{
			Array:      arr,
			SharedTile: &Tile{NIn: 1, Dim: []TileDim{{Size: elems}}},
		}
		return &LocalArray{Array: arr, Groups: []*RefGroup{g}}
	}
	tiles := func(k *Kernel) []bool {
		var out []bool
		for _, la := range k.Arrays {
			out = append(out, la.Groups[0].SharedTile != nil)
		}
		return out
	}

	t.Run("evicts in group order", func(t *testing.T) {
		// 4096-byte budget: A and B fill it, everything after is
		// evicted. Eviction frees no room for later groups.
		k := &Kernel{Arrays: []*LocalArray{
			mk("A", 512), mk("B", 512), mk("C", 768), mk("D", 512),
		}}
		k.enforceSharedBudget(&Options{MaxSharedMemory: 4096})
		require.Equal(t, []bool{true, true, false, false}, tiles(k))
	})

	t.Run("exact fit is kept", func(t *testing.T) {
		k := &Kernel{Arrays: []*LocalArray{mk("A", 512), mk("B", 512)}}
		k.enforceSharedBudget(&Options{MaxSharedMemory: 4096})
		require.Equal(t, []bool{true, true}, tiles(k))
	})

	t.Run("zero budget evicts everything", func(t *testing.T) {
		k := &Kernel{Arrays: []*LocalArray{mk("A", 1)}}
		k.enforceSharedBudget(&Options{MaxSharedMemory: 0})
		require.Equal(t, []bool{false}, tiles(k))
	})

	t.Run("negative budget is unlimited", func(t *testing.T) {
		k := &Kernel{Arrays: []*LocalArray{mk("A", 1 << 20)}}
		k.enforceSharedBudget(&Options{MaxSharedMemory: -1})
		require.Equal(t, []bool{true}, tiles(k))
	})
}

func TestMergeOverlapping(t *testing.T) {
	g := func(lo, hi int64, write bool) *RefGroup {
		return &RefGroup{Access: accessMap(lo, hi), Write: write}
	}

	t.Run("write groups merge", func(t *testing.T) {
		out := mergeOverlapping([]*RefGroup{g(0, 3, true), g(2, 5, false)})
		require.Len(t, out, 1)
		require.True(t, out[0].Write)
	})

	t.Run("disjoint groups stay", func(t *testing.T) {
		// i+20 <= j keeps the second range clear of the first.
		out := mergeOverlapping([]*RefGroup{g(0, 3, true), g(20, 23, true)})
		require.Len(t, out, 2)
	})

	t.Run("read-only groups stay", func(t *testing.T) {
		out := mergeOverlapping([]*RefGroup{g(0, 3, false), g(2, 5, false)})
		require.Len(t, out, 2)
	})
}
