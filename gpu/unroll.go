package gpu

import "github.com/PollyLabs/ppcg/poly"

// interchangeForUnroll determines which loops inside the thread tile
// have to be unrolled so that private register tiles can be indexed
// with compile-time constants, and permutes the thread-tiled schedule
// to make those loops innermost. FirstUnroll receives the position of
// the first unrolled loop among the inner dimensions, or -1 when
// nothing needs unrolling.
//
// A register index is the access subscript minus the tile lower bound.
// The lower bound is expressed over the shared schedule dimensions, so
// the index is constant per iteration exactly when its residual loop
// dependence is confined to unrolled inner loops. When an index would
// retain a dependence on a loop outside the thread tile, no amount of
// unrolling can make it constant: every private tile of the kernel is
// dropped and the schedule is left untouched.
func (k *Kernel) interchangeForUnroll() {
	k.FirstUnroll = -1
	inner := k.ThreadTiledLen - k.SharedLen
	if inner <= 0 {
		return
	}

	unroll := make([]bool, k.ThreadTiledLen)
	any := false
	for _, la := range k.Arrays {
		for _, g := range la.Groups {
			if g.PrivateTile == nil {
				continue
			}
			a := threadAccess(k, g)
			if len(a.Pieces()) != 1 {
				continue
			}
			affs, err := a.Affs()
			if err != nil || len(affs) != len(g.PrivateTile.Dim) {
				continue
			}
			for j, aff := range affs {
				lo := g.PrivateTile.Dim[j].Lower
				if aff.Den != 1 || lo.Den != 1 {
					continue
				}
				nPa := len(aff.Coef) - aff.NIn
				nPl := len(lo.Coef) - lo.NIn
				for d := 0; d < k.SharedLen && d < aff.NIn; d++ {
					var l int64
					if d < lo.NIn {
						l = lo.Coef[nPl+d]
					}
					if aff.Coef[nPa+d] != l {
						// The register index depends on a loop outside
						// the thread tile; unrolling cannot help.
						k.dropPrivateTiles()
						return
					}
				}
				for d := k.SharedLen; d < aff.NIn; d++ {
					if aff.Coef[nPa+d] != 0 {
						unroll[d] = true
						any = true
					}
				}
			}
		}
	}
	if !any {
		return
	}

	order := make([]int, 0, k.ThreadTiledLen)
	for d := 0; d < k.SharedLen; d++ {
		order = append(order, d)
	}
	for d := k.SharedLen; d < k.ThreadTiledLen; d++ {
		if !unroll[d] {
			order = append(order, d)
		}
	}
	k.FirstUnroll = len(order) - k.SharedLen
	for d := k.SharedLen; d < k.ThreadTiledLen; d++ {
		if unroll[d] {
			order = append(order, d)
		}
	}

	space := poly.NewMapSpace(k.Params, "", k.ThreadTiledLen, "", k.ThreadTiledLen)
	bm := poly.UniverseBasicMap(space)
	for newPos, oldPos := range order {
		bm = bm.Equate(poly.DimIn, oldPos, poly.DimOut, newPos)
	}
	perm := poly.MapFromBasicMap(bm)
	k.LocalSched = k.LocalSched.ApplyRange(poly.UnionMapFromMap(perm))
}

// dropPrivateTiles demotes every register group of the kernel back to
// its fallback placement.
func (k *Kernel) dropPrivateTiles() {
	for _, la := range k.Arrays {
		for _, g := range la.Groups {
			g.PrivateTile = nil
		}
	}
}
