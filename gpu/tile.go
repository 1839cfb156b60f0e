package gpu

import (
	"fmt"

	"github.com/PollyLabs/ppcg/poly"
)

// tileMap builds the relation between a schedule vector of the given
// length and the same vector with the n dimensions starting at first
// split into tile and point loops,
//
//	s_i = size_i * T_i + P_i,  0 <= P_i < size_i.
//
// The tile loops occupy positions [first, first+n), the point loops
// [first+n, first+2n); every other dimension is copied.
func tileMap(params []string, length, first, n int, sizes []int64) *poly.Map {
	space := poly.NewMapSpace(params, "", length, "", length+n)
	bm := poly.UniverseBasicMap(space)
	for i := 0; i < length-n; i++ {
		src, dst := i, i
		if i >= first {
			src = i + n
			dst = i + 2*n
		}
		bm = bm.Equate(poly.DimIn, src, poly.DimOut, dst)
	}
	for i := 0; i < n; i++ {
		c := poly.NewConstraint(space)
		c.SetCoef(poly.DimIn, first+i, -1)
		c.SetCoef(poly.DimOut, first+i, sizes[i])
		c.SetCoef(poly.DimOut, first+n+i, 1)
		bm = bm.AddEquality(c)
		bm = bm.LowerBound(poly.DimOut, first+n+i, 0)
		bm = bm.UpperBound(poly.DimOut, first+n+i, sizes[i]-1)
	}
	return poly.MapFromBasicMap(bm)
}

// wrapMap is the cyclic counterpart of tileMap. The constraint system
// carries no existentially quantified divisions, so a wrapped dimension
// cannot keep its original value next to its remainder; the quotient
// takes the outer position instead, exactly as in tileMap. The
// assignment of iterations to the remainder dimensions is the same
// either way; the two variants differ in how the outer loops are scaled
// back to iteration values.
func wrapMap(params []string, length, first, n int, sizes []int64) *poly.Map {
	return tileMap(params, length, first, n, sizes)
}

// parametrization returns the set of schedule vectors of the given
// length whose dimensions [first, first+n) are equated to freshly
// introduced parameters prefix0, prefix1, ..., along with the parameter
// names.
func parametrization(params []string, length, first, n int,
	prefix string) (*poly.Set, []string) {

	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	all := append(append([]string{}, params...), names...)
	space := poly.NewSetSpace(all, "", length)
	bm := poly.UniverseBasicMap(space)
	for i := 0; i < n; i++ {
		bm = bm.Equate(poly.DimOut, first+i, poly.DimParam, len(params)+i)
	}
	return poly.SetFromBasicMap(bm), names
}

// tileSchedule splits the band dimensions of the flat schedule into
// tile and point loops and tiles the outer NGrid tile loops once more
// over the grid. On return the range has TiledLen dimensions laid out
// as
//
//	host | grid tile | block id | inner tile | point | suffix
//
// with the first SharedLen of them shared between all threads of a
// block.
func (k *Kernel) tileSchedule(sched *poly.UnionMap, opts *Options) *poly.UnionMap {
	tiling := tileMap(k.Params, k.UntiledLen, k.TileFirst, k.TileLen, k.TileSize)

	var block *poly.Map
	if opts.Wrap {
		block = wrapMap(k.Params, k.UntiledLen+k.TileLen, k.TileFirst,
			k.NGrid, k.GridDim)
	} else {
		block = tileMap(k.Params, k.UntiledLen+k.TileLen, k.TileFirst,
			k.NGrid, k.GridDim)
	}

	k.TiledLen = k.UntiledLen + k.TileLen + k.NGrid
	k.SharedLen = k.TileFirst + k.TileLen + k.NGrid

	tiling = tiling.ApplyRange(block)
	return sched.ApplyRange(poly.UnionMapFromMap(tiling))
}

// parametrizeTiledSchedule equates the host dimensions to h parameters
// and the block id dimensions to b parameters.
func (k *Kernel) parametrizeTiledSchedule(sched *poly.UnionMap) *poly.UnionMap {
	par, h := parametrization(k.Params, k.TiledLen, 0, k.TileFirst, "h")
	k.HostParams = h
	sched = sched.IntersectRange(poly.UnionSetFromSet(par))

	par, b := parametrization(k.Params, k.TiledLen,
		k.TileFirst+k.NGrid, k.NGrid, "b")
	k.BlockIDs = b
	return sched.IntersectRange(poly.UnionSetFromSet(par))
}

// threadTileSchedule tiles the point loops over the thread block and
// equates the thread dimensions to t parameters.
func (k *Kernel) threadTileSchedule(sched *poly.UnionMap, opts *Options) *poly.UnionMap {
	var tiling *poly.Map
	if opts.Wrap {
		tiling = wrapMap(k.Params, k.TiledLen, k.SharedLen, k.NBlock, k.BlockDim)
	} else {
		tiling = tileMap(k.Params, k.TiledLen, k.SharedLen, k.NBlock, k.BlockDim)
	}

	k.ThreadTiledLen = k.TiledLen + k.NBlock
	sched = sched.ApplyRange(poly.UnionMapFromMap(tiling))

	par, t := parametrization(k.Params, k.ThreadTiledLen,
		k.SharedLen+k.NBlock, k.NBlock, "t")
	k.ThreadIDs = t
	return sched.IntersectRange(poly.UnionSetFromSet(par))
}

// scaleTileLoops multiplies the tile loop iterators back to iteration
// values, so that generated loop bounds read in the original units.
func (k *Kernel) scaleTileLoops(sched *poly.UnionMap, opts *Options) *poly.UnionMap {
	sizes := onesVec(k.TiledLen)
	for i := 0; i < k.NGrid; i++ {
		f := k.TileSize[i]
		if !opts.Wrap {
			f *= k.GridDim[i]
		}
		sizes[k.TileFirst+i] = f
	}
	for i := 0; i < k.TileLen; i++ {
		sizes[k.TileFirst+k.NGrid+i] = k.TileSize[i]
	}
	scale := poly.DimScaleMap(k.Params, k.TiledLen, sizes)
	return sched.ApplyRange(poly.UnionMapFromMap(scale))
}

// scaleThreadTileLoops multiplies the thread tile iterators by the
// block dimensions. Only meaningful for a wrapped thread distribution,
// where the tile loops count in thread-sized steps.
func (k *Kernel) scaleThreadTileLoops(sched *poly.UnionMap) *poly.UnionMap {
	sizes := onesVec(k.ThreadTiledLen)
	for i := 0; i < k.NBlock; i++ {
		sizes[k.SharedLen+i] = k.BlockDim[i]
	}
	scale := poly.DimScaleMap(k.Params, k.ThreadTiledLen, sizes)
	return sched.ApplyRange(poly.UnionMapFromMap(scale))
}

func onesVec(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}
