package gpu

import (
	"github.com/PollyLabs/ppcg/poly"
	"github.com/PollyLabs/ppcg/scop"
)

// TileDim is one dimension of a rectangular overapproximation of the
// elements accessed by a reference group: Size consecutive elements
// starting at Lower.
type TileDim struct {
	Size  int64
	Lower poly.Aff
}

// Tile is a rectangular box of array elements, with lower bounds
// expressed over [parameters | NIn schedule dimensions].
type Tile struct {
	NIn int
	Dim []TileDim
}

// Footprint returns the number of bytes the tile occupies for the given
// element size.
func (t *Tile) Footprint(elemSize int64) int64 {
	total := elemSize
	for _, d := range t.Dim {
		total *= d.Size
	}
	return total
}

// RefGroup is a set of references to one array that are mapped to the
// same piece of local memory.
type RefGroup struct {
	Array *Array
	Nr    int
	Refs  []*scop.AccessRef

	// Access relates shared schedule points to accessed elements.
	Access *poly.Map
	Write  bool

	// SharedTile is set when the group is copied to shared memory;
	// PrivateTile when each thread keeps its own copy in registers.
	// At most one of the two is set.
	SharedTile  *Tile
	PrivateTile *Tile

	// LastShared is the outermost-to-innermost position of the last
	// shared schedule dimension the tile bounds depend on.
	LastShared int
}

// Private reports whether the group lives in per-thread registers.
func (g *RefGroup) Private() bool { return g.PrivateTile != nil }

// Shared reports whether the group lives in shared memory.
func (g *RefGroup) Shared() bool { return g.SharedTile != nil }

// Tile returns whichever local tile the group carries, if any.
func (g *RefGroup) Tile() *Tile {
	if g.PrivateTile != nil {
		return g.PrivateTile
	}
	return g.SharedTile
}

// LocalArray pairs an array with its reference groups inside one kernel.
type LocalArray struct {
	Array  *Array
	Groups []*RefGroup
}

// groupReferences splits the references to each accessed array into
// groups, computes their rectangular tiles and decides, per group,
// whether it is privatized, copied to shared memory or left in global
// memory. Shared tiles that exceed the memory budget are evicted in
// group order.
func (k *Kernel) groupReferences(prog *Prog, opts *Options) error {
	shared := k.sharedSched()

	for _, a := range prog.Arrays {
		if !a.Accessed {
			continue
		}
		la := &LocalArray{Array: a}
		for _, ref := range a.Refs {
			g := k.newRefGroup(a, ref, shared)
			if g != nil {
				la.Groups = append(la.Groups, g)
			}
		}
		la.Groups = mergeOverlapping(la.Groups)
		for i, g := range la.Groups {
			g.Nr = i
			k.placeGroup(prog, g)
		}
		if len(la.Groups) > 0 {
			k.Arrays = append(k.Arrays, la)
		}
	}

	k.enforceSharedBudget(opts)
	return nil
}

// sharedSched is the flat tiled schedule truncated to the dimensions
// shared by all threads of a block.
func (k *Kernel) sharedSched() *poly.UnionMap {
	out := poly.EmptyUnionMap()
	for _, m := range k.TiledSched.Maps() {
		out = out.AddMap(m.ProjectOut(poly.DimOut, k.SharedLen,
			k.TiledLen-k.SharedLen))
	}
	return out
}

func (k *Kernel) newRefGroup(a *Array, ref *scop.AccessRef,
	shared *poly.UnionMap) *RefGroup {

	stmt := ref.Stmt.Name
	var sm *poly.Map
	for _, m := range shared.Maps() {
		if m.Space().InName() == stmt {
			sm = m
			break
		}
	}
	if sm == nil {
		// The statement is not part of this kernel.
		return nil
	}
	access := ref.Access.IntersectDomain(ref.Stmt.Domain).ApplyDomain(sm)
	if access.IsEmpty() {
		return nil
	}
	return &RefGroup{
		Array:      a,
		Refs:       []*scop.AccessRef{ref},
		Access:     access,
		Write:      ref.Write,
		LastShared: k.TileFirst - 1,
	}
}

// mergeOverlapping joins groups whose accesses can touch the same
// elements at the same shared schedule point, unless both only read.
func mergeOverlapping(groups []*RefGroup) []*RefGroup {
	for {
		merged := false
		for i := 0; i < len(groups) && !merged; i++ {
			for j := i + 1; j < len(groups); j++ {
				if !groups[i].Write && !groups[j].Write {
					continue
				}
				if groups[i].Access.Intersect(groups[j].Access).IsEmpty() {
					continue
				}
				groups[i] = groups[i].join(groups[j])
				groups = append(groups[:j], groups[j+1:]...)
				merged = true
				break
			}
		}
		if !merged {
			return groups
		}
	}
}

func (g *RefGroup) join(o *RefGroup) *RefGroup {
	return &RefGroup{
		Array:      g.Array,
		Refs:       append(append([]*scop.AccessRef{}, g.Refs...), o.Refs...),
		Access:     g.Access.Union(o.Access),
		Write:      g.Write || o.Write,
		LastShared: g.LastShared,
	}
}

// placeGroup decides the memory placement of one group. Non-read-only
// scalars are always privatized; otherwise a group is privatized when
// the per-thread access is single-valued, and considered for shared
// memory when a rectangular tile exists.
func (k *Kernel) placeGroup(prog *Prog, g *RefGroup) {
	if g.Array.ReadOnlyScalar {
		return
	}
	if g.Array.IsScalar() {
		g.PrivateTile = &Tile{NIn: k.SharedLen}
		k.updateLastShared(g, g.PrivateTile)
		return
	}

	if k.NBlock == 0 {
		return
	}
	tile := computeTile(g.Access, k.SharedLen)
	if tile == nil {
		return
	}
	// Tile bounds are expressed over the shared schedule dimensions either
	// way, so copy statements and statement bodies can index the local
	// copy; the placement only decides which threads may touch which
	// elements.
	if k.accessInjectiveInThreads(g) {
		g.PrivateTile = tile
	} else {
		g.SharedTile = tile
	}
	k.updateLastShared(g, tile)
}

// threadAccess relates full thread-tiled schedule points to the elements
// the group accesses.
func threadAccess(k *Kernel, g *RefGroup) *poly.Map {
	out := poly.EmptyMap(poly.NewMapSpace(k.Params, "", k.ThreadTiledLen,
		g.Array.Name, g.Array.NIndex))
	for _, ref := range g.Refs {
		var lm *poly.Map
		for _, m := range k.LocalSched.Maps() {
			if m.Space().InName() == ref.Stmt.Name {
				lm = m
				break
			}
		}
		if lm == nil {
			continue
		}
		a := ref.Access.IntersectDomain(ref.Stmt.Domain).ApplyDomain(lm)
		out = out.Union(a)
	}
	return out
}

// accessInjectiveInThreads reports whether distinct threads of a block
// access distinct elements: the subscripts are affine in the schedule
// and every thread id shows up in some subscript. Such a group can live
// in per-thread registers; a group missing a thread id is reused across
// threads and belongs in shared memory.
func (k *Kernel) accessInjectiveInThreads(g *RefGroup) bool {
	a := threadAccess(k, g)
	if len(a.Pieces()) != 1 {
		return false
	}
	affs, err := a.Affs()
	if err != nil {
		return false
	}
	params := a.Space().Params()
	for b := 0; b < k.NBlock; b++ {
		dim := k.SharedLen + k.NBlock + b
		pIdx := paramIndex(params, k.ThreadIDs[b])
		seen := false
		for _, aff := range affs {
			nP := len(aff.Coef) - aff.NIn
			if aff.NIn > dim && aff.Coef[nP+dim] != 0 {
				seen = true
				break
			}
			if pIdx >= 0 && pIdx < nP && aff.Coef[pIdx] != 0 {
				seen = true
				break
			}
		}
		if !seen {
			return false
		}
	}
	return true
}

// computeTile derives a rectangular box for the range of an access
// relation with nIn input dimensions: per array dimension a constant
// size and an affine lower bound over [parameters | inputs]. Returns nil
// when some dimension admits no constant-size bound pair.
func computeTile(access *poly.Map, nIn int) *Tile {
	hull := access.SimpleHull()
	space := hull.Space()
	nP := len(space.Params())
	nOut := space.NOut()
	rows := hullRows(hull)

	tile := &Tile{NIn: nIn, Dim: make([]TileDim, nOut)}
	for j := 0; j < nOut; j++ {
		best := int64(-1)
		var bestLower poly.Aff
		consider := func(lo []int64, size int64) {
			if size < 1 {
				return
			}
			if best >= 0 && size >= best {
				return
			}
			// lo is out_j + c.x + cst >= 0, so out_j >= -(c.x + cst).
			a := poly.NewAff(space.Params(), nIn)
			for i := 0; i < nP; i++ {
				a.Coef[i] -= lo[i]
			}
			for i := 0; i < nIn; i++ {
				a.Coef[nP+i] -= lo[nP+i]
			}
			a.Cst = -lo[len(lo)-1]
			best = size
			bestLower = a
		}
		for _, lo := range rows.lower[j] {
			for _, up := range rows.upper[j] {
				size := int64(0)
				ok := true
				for i := 0; i < len(lo)-1; i++ {
					if lo[i]+up[i] != 0 {
						ok = false
						break
					}
				}
				if !ok {
					continue
				}
				size = lo[len(lo)-1] + up[len(up)-1] + 1
				consider(lo, size)
			}
		}
		if best < 0 {
			return nil
		}
		tile.Dim[j] = TileDim{Size: best, Lower: bestLower}
	}
	return tile
}

type boundRows struct {
	// lower[j] holds rows with coefficient +1 on output j and zero on
	// every other output; upper[j] the rows with coefficient -1.
	lower, upper [][][]int64
}

func hullRows(hull *poly.BasicMap) *boundRows {
	space := hull.Space()
	nP := len(space.Params())
	nIn := space.NIn()
	nOut := space.NOut()
	out := &boundRows{
		lower: make([][][]int64, nOut),
		upper: make([][][]int64, nOut),
	}
	classify := func(r []int64) {
		idx := -1
		for j := 0; j < nOut; j++ {
			if r[nP+nIn+j] == 0 {
				continue
			}
			if idx >= 0 {
				return
			}
			idx = j
		}
		if idx < 0 {
			return
		}
		c := r[nP+nIn+idx]
		if c != 1 && c != -1 {
			return
		}
		// Strip the output columns; keep [params | in | const].
		row := make([]int64, 0, nP+nIn+1)
		row = append(row, r[:nP+nIn]...)
		row = append(row, r[len(r)-1])
		if c == 1 {
			out.lower[idx] = append(out.lower[idx], row)
		} else {
			out.upper[idx] = append(out.upper[idx], row)
		}
	}
	for _, r := range hull.EqRows() {
		classify(r)
		neg := make([]int64, len(r))
		for i, v := range r {
			neg[i] = -v
		}
		classify(neg)
	}
	for _, r := range hull.IneqRows() {
		classify(r)
	}
	return out
}

// updateLastShared records the innermost shared schedule dimension the
// tile bounds depend on.
func (k *Kernel) updateLastShared(g *RefGroup, tile *Tile) {
	for d := k.SharedLen - 1; d > g.LastShared; d-- {
		depends := false
		for _, td := range tile.Dim {
			nP := len(td.Lower.Coef) - td.Lower.NIn
			if td.Lower.NIn > d && td.Lower.Coef[nP+d] != 0 {
				depends = true
				break
			}
		}
		if depends {
			g.LastShared = d
			break
		}
	}
}

// enforceSharedBudget walks the shared tiles in group order and evicts
// those that no longer fit in the configured shared memory size.
func (k *Kernel) enforceSharedBudget(opts *Options) {
	if opts.MaxSharedMemory < 0 {
		return
	}
	var used int64
	for _, la := range k.Arrays {
		for _, g := range la.Groups {
			if g.SharedTile == nil {
				continue
			}
			need := g.SharedTile.Footprint(la.Array.Decl.ElemSize)
			if used+need > opts.MaxSharedMemory {
				g.SharedTile = nil
				continue
			}
			used += need
		}
	}
}
