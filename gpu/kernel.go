package gpu

import (
	"fmt"

	"github.com/PollyLabs/ppcg/poly"
)

// Kernel is one extracted device kernel: a tiled band of the schedule
// together with the derived launch geometry, memory placement and
// schedules.
type Kernel struct {
	ID   int
	Name string

	// Params are the parameters of the schedule space.
	Params []string

	TileFirst int
	TileLen   int
	NGrid     int
	NBlock    int

	UntiledLen     int
	TiledLen       int
	SharedLen      int
	ThreadTiledLen int

	TileSize []int64
	// GridDim caps the number of blocks per grid dimension.
	GridDim []int64
	// BlockDim is the fixed number of threads per block dimension.
	BlockDim []int64

	HostParams []string
	BlockIDs   []string
	ThreadIDs  []string

	// Context describes the parameter (and host iterator) values for
	// which this kernel is launched.
	Context *poly.Set
	// Guard is the host-side launch condition.
	Guard *poly.Set
	// GridSize holds, per grid dimension, upper bounds on the block ids
	// over the parameters; the effective number of blocks is the
	// minimum of the bounds plus one.
	GridSize [][]poly.Aff

	// Core is the set of statement instances executed by the kernel.
	Core *poly.UnionSet
	// TiledSched is the flat tiled and parametrized schedule, before
	// distribution over threads.
	TiledSched *poly.UnionMap
	// LocalSched is TiledSched after thread tiling.
	LocalSched *poly.UnionMap

	// Arrays holds the per-array reference grouping and memory
	// placement.
	Arrays []*LocalArray

	// Vars are the kernel-scope declarations backing the local tiles.
	Vars []KernelVar
	// Args lists the launch arguments: accessed arrays, then parameters,
	// then host iterator values. Read-only scalars are passed by value.
	Args []string

	// EvLen is the number of interleaved rank dimensions of the
	// assembled kernel schedule; KernelSchedLen its total depth.
	EvLen          int
	KernelSchedLen int

	// Copies and Syncs resolve the synthetic tuple names of the
	// assembled kernel schedule.
	Copies map[string]*copyInfo
	Syncs  map[string]bool

	// FirstUnroll is the position of the first unrolled dimension in
	// the effective kernel schedule, or -1.
	FirstUnroll int

	// Tree is the generated device AST.
	Tree *poly.ASTNode
}

// createKernel builds a kernel from one selected band: it tiles the flat
// schedule over the grid and the thread block, equates the mapped
// dimensions to parameters and derives context, launch guard and
// effective grid and block sizes.
func createKernel(prog *Prog, sel *bandSelection, id int, opts *Options) (*Kernel, error) {
	k := &Kernel{
		ID:          id,
		Name:        fmt.Sprintf("kernel%d", id),
		Params:      prog.Scop.Params,
		TileFirst:   sel.TileFirst,
		TileLen:     sel.TileLen,
		Core:        sel.Core.Copy(),
		FirstUnroll: -1,
	}
	k.UntiledLen = sel.TileFirst + sel.SuffixLen
	k.NGrid = min(sel.NParallel, maxGridDims)
	k.NBlock = min(sel.NParallel, maxBlockDims)
	k.TileSize = opts.tileSizes(k.TileLen)
	k.GridDim = opts.gridSizes(k.NGrid)
	k.BlockDim = opts.blockSizes(k.NBlock)
	opts.recordSizes(id, "tile", k.TileSize)
	opts.recordSizes(id, "grid", k.GridDim)

	sched := sel.Prefix.RangeProduct(sel.Suffix).IntersectDomain(sel.Core)
	host := collapseRange(sel.Prefix.IntersectDomain(sel.Core),
		k.Params, k.TileFirst)

	tiled := k.tileSchedule(sched, opts)
	tiled = k.parametrizeTiledSchedule(tiled)

	k.computeContext(prog, host)
	if err := k.computeGridSize(tiled); err != nil {
		return nil, err
	}

	if opts.ScaleTileLoops {
		tiled = k.scaleTileLoops(tiled, opts)
	}
	k.TiledSched = tiled

	local := k.threadTileSchedule(tiled.Copy(), opts)
	if err := k.computeBlockSize(local, opts); err != nil {
		return nil, err
	}
	if opts.Wrap && opts.ScaleTileLoops {
		local = k.scaleThreadTileLoops(local)
	}
	k.LocalSched = local

	k.computeGuard()
	return k, nil
}

// computeContext derives the parameter context of the kernel: the host
// schedule dimensions are equated to the h parameters and projected
// away, leaving a constraint set over the original and host parameters.
func (k *Kernel) computeContext(prog *Prog, host *poly.Set) {
	par, _ := parametrization(k.Params, k.TileFirst, 0, k.TileFirst, "h")
	ctx := host.Intersect(par).ProjectOut(poly.DimOut, 0, k.TileFirst)
	k.Context = ctx.Intersect(prog.Context.Copy().AddParams(ctx.Space().Params()))
}

// computeGridSize extracts, per grid dimension, upper bounds on the
// block ids from the parametrized tiled schedule. The bounds are taken
// over the unscaled block id dimensions, with the b parameters projected
// out so they come out in terms of the remaining parameters.
func (k *Kernel) computeGridSize(tiled *poly.UnionMap) error {
	if k.NGrid == 0 {
		return nil
	}
	grid := collapseRange(tiled, k.Params, k.TiledLen)
	first := k.TileFirst + k.NGrid
	grid = grid.ProjectOut(poly.DimOut, first+k.NGrid, k.TiledLen-first-k.NGrid)
	grid = grid.ProjectOut(poly.DimOut, 0, first)
	grid = projectParams(grid, k.BlockIDs)
	grid = grid.IntersectParams(k.Context)

	k.GridSize = make([][]poly.Aff, k.NGrid)
	for i := 0; i < k.NGrid; i++ {
		affs, err := grid.DimMaxAffs(i)
		if err != nil {
			return algebraErr("computing grid size", err)
		}
		k.GridSize[i] = affs
	}
	return nil
}

// computeBlockSize reads the effective number of threads per block
// dimension off the thread-tiled schedule and refines BlockDim downward.
func (k *Kernel) computeBlockSize(local *poly.UnionMap, opts *Options) error {
	if k.NBlock > 0 {
		ran := collapseRange(local, k.Params, k.ThreadTiledLen)
		first := k.SharedLen + k.NBlock
		ran = ran.ProjectOut(poly.DimOut, first+k.NBlock,
			k.ThreadTiledLen-first-k.NBlock)
		ran = ran.ProjectOut(poly.DimOut, 0, first)
		ran = projectParams(ran, k.ThreadIDs)
		for i := 0; i < k.NBlock; i++ {
			v, err := ran.DimMaxVal(i)
			if err != nil {
				return algebraErr("extracting block size", err)
			}
			if v+1 < k.BlockDim[i] {
				k.BlockDim[i] = v + 1
			}
		}
	}
	opts.recordSizes(k.ID, "block", k.BlockDim)
	return nil
}

// computeGuard builds the host-side launch condition: the simple hull of
// the context, strengthened with positivity of every grid dimension.
func (k *Kernel) computeGuard() {
	g := poly.SetFromBasicMap(k.Context.SimpleHull())
	for _, affs := range k.GridSize {
		for _, b := range affs {
			// The number of blocks is min(bounds)+1; the launch makes
			// sense only when every bound floor(e/den) is >= 0, that is
			// when e >= 0.
			space := poly.NewParamSpace(b.Params)
			bm := poly.UniverseBasicMap(space)
			c := poly.NewConstraint(space)
			for i := range b.Params {
				if b.Coef[i] != 0 {
					c.SetCoef(poly.DimParam, i, b.Coef[i])
				}
			}
			c.SetConst(b.Cst)
			bm = bm.AddInequality(c)
			g = g.Intersect(poly.SetFromBasicMap(bm))
		}
	}
	k.Guard = g
}

// KernelVar is one kernel-scope declaration backing a local tile.
type KernelVar struct {
	Name string
	Type string
	Size []int64
}

// createKernelVars derives the shared and private declarations from the
// placed reference groups.
func (k *Kernel) createKernelVars() {
	for _, la := range k.Arrays {
		for _, g := range la.Groups {
			t := g.Tile()
			if t == nil {
				continue
			}
			v := KernelVar{Name: g.LocalName(), Type: la.Array.Decl.ElemType}
			for _, d := range t.Dim {
				v.Size = append(v.Size, d.Size)
			}
			k.Vars = append(k.Vars, v)
		}
	}
}

// collectArguments records the launch arguments of the kernel.
func (k *Kernel) collectArguments() {
	for _, la := range k.Arrays {
		k.Args = append(k.Args, la.Array.Name)
	}
	k.Args = append(k.Args, k.Params...)
	k.Args = append(k.Args, k.HostParams...)
}

// collapseRange merges the (anonymous, equal-arity) ranges of a flat
// schedule into a single set.
func collapseRange(um *poly.UnionMap, params []string, n int) *poly.Set {
	ran := um.Range()
	if len(ran.Sets()) == 0 {
		return poly.EmptySet(poly.NewSetSpace(params, "", n))
	}
	return ran.Sets()[0]
}

// projectParams existentially eliminates the named parameters.
func projectParams(s *poly.Set, names []string) *poly.Set {
	for _, name := range names {
		idx := paramIndex(s.Space().Params(), name)
		if idx < 0 {
			continue
		}
		s = s.ProjectOut(poly.DimParam, idx, 1)
	}
	return s
}
