package gpu

import (
	"fmt"

	"github.com/PollyLabs/ppcg/poly"
	"github.com/PollyLabs/ppcg/scop"
)

// copyInfo identifies the group behind a copy statement tuple.
type copyInfo struct {
	Group *RefGroup
	Read  bool
}

// insertEvenMap relates vectors with inLen leading dimensions, of which
// [TileFirst, SharedLen) are loop values, to interleaved rank vectors of
// 2n+1 dimensions (n shared loops): odd positions carry the loop values,
// even positions carry rank constants. A statement scheduled at loop
// position pos with rank val copies the first pos loops, places val at
// position 2*pos and fixes everything deeper to zero, so that within
// equal outer loops statements order by rank.
func (k *Kernel) insertEvenMap(inLen, pos int, val int64) *poly.Map {
	n := k.SharedLen - k.TileFirst
	ev := 2*n + 1
	space := poly.NewMapSpace(k.Params, "", inLen, "", ev)
	bm := poly.UniverseBasicMap(space)
	for i := 0; i < pos; i++ {
		bm = bm.Fix(poly.DimOut, 2*i, 0)
		bm = bm.Equate(poly.DimOut, 2*i+1, poly.DimIn, k.TileFirst+i)
	}
	bm = bm.Fix(poly.DimOut, 2*pos, val)
	for j := 2*pos + 1; j < ev; j++ {
		bm = bm.Fix(poly.DimOut, j, 0)
	}
	return poly.MapFromBasicMap(bm)
}

// localSchedule assembles the complete kernel schedule: the statement
// bodies, one copy statement per direction and group with a local tile,
// and the synchronization points, all scheduled into a common flattened
// range of EvLen rank dimensions followed by the inner (thread and copy
// loop) dimensions.
//
// The ranks are chosen so that, within identical outer loops, reads from
// global memory come first, then a barrier, then the statement bodies,
// then a barrier, then write-back to registers and shared memory, then a
// final barrier:
//
//	read copy of group k    -2-k
//	read barrier            -1
//	body                     0
//	post-body barrier        1
//	private write of group k 2+k
//	shared write of group k  s+2+k
//	final barrier            2s+2
//
// with s the number of groups.
func (k *Kernel) localSchedule(prog *Prog, opts *Options) (*poly.UnionMap, error) {
	n := k.SharedLen - k.TileFirst
	k.EvLen = 2*n + 1
	k.Copies = map[string]*copyInfo{}
	k.Syncs = map[string]bool{}

	shared := k.sharedSched()

	var groups []*RefGroup
	for _, la := range k.Arrays {
		for _, g := range la.Groups {
			if g.Tile() != nil {
				groups = append(groups, g)
			}
		}
	}
	s := int64(len(groups))

	out := poly.EmptyUnionMap()
	maxInner := k.ThreadTiledLen - k.SharedLen

	// Statement bodies.
	for _, m := range k.LocalSched.Maps() {
		sharedPart := m.ProjectOut(poly.DimOut, k.SharedLen,
			k.ThreadTiledLen-k.SharedLen)
		rank := sharedPart.ApplyRange(k.insertEvenMap(k.SharedLen, n, 0))
		inner := m.ProjectOut(poly.DimOut, 0, k.SharedLen)
		out = out.AddMap(rank.RangeProduct(inner))
	}

	// Copies.
	anySharedRead := false
	anySharedWrite := false
	for idx, g := range groups {
		pos := g.LastShared + 1 - k.TileFirst
		if reads(g) {
			name := fmt.Sprintf("read%d", idx)
			access := k.groupDirAccess(g, shared, true)
			access = k.removeLocalAccesses(prog, g, shared, access, true)
			warnUninitialized(prog, opts, g, access)
			m, inner := k.copySchedule(g, access, name, pos, int64(-2-idx))
			out = out.AddMap(m)
			if inner > maxInner {
				maxInner = inner
			}
			k.Copies[name] = &copyInfo{Group: g, Read: true}
			if g.Shared() {
				anySharedRead = true
			}
		}
		if g.Write {
			val := int64(2 + idx)
			if g.Shared() {
				val = s + 2 + int64(idx)
				anySharedWrite = true
			}
			name := fmt.Sprintf("write%d", idx)
			access := k.groupDirAccess(g, shared, false)
			access = k.removeLocalAccesses(prog, g, shared, access, false)
			m, inner := k.copySchedule(g, access, name, pos, val)
			out = out.AddMap(m)
			if inner > maxInner {
				maxInner = inner
			}
			k.Copies[name] = &copyInfo{Group: g}
		}
	}

	// Synchronization. Register copies are per-thread and need no
	// barriers of their own.
	anyShared := false
	for _, g := range groups {
		if g.Shared() {
			anyShared = true
		}
	}
	syncDomain := collapseRange(shared, k.Params, k.SharedLen)
	addSync := func(name string, pos int, val int64) {
		set := syncDomain.Copy().SetTupleName(name)
		m := k.insertEvenMap(k.SharedLen, pos, val)
		m = m.SetTupleName(poly.DimIn, name).IntersectDomain(set)
		out = out.AddMap(m)
		k.Syncs[name] = true
	}
	if anySharedRead {
		addSync("sync_read", n, -1)
	}
	if anyShared {
		addSync("sync_body", n, 1)
	}
	if anySharedWrite {
		addSync("sync_write", 0, 2*s+2)
	}

	k.KernelSchedLen = k.EvLen + maxInner
	return extendRange(out, k.KernelSchedLen), nil
}

// warnUninitialized diagnoses a copy-in that reaches elements which are
// neither live-in nor written anywhere in the fragment.
func warnUninitialized(prog *Prog, opts *Options, g *RefGroup, access *poly.Map) {
	if access.IsEmpty() {
		return
	}
	s := prog.Scop
	covered := poly.EmptySet(poly.NewSetSpace(
		access.Space().Params(), g.Array.Name, g.Array.NIndex))
	for _, rel := range []*poly.UnionMap{s.LiveIn, s.MustWrites} {
		for _, m := range rel.Maps() {
			if m.Space().OutName() != g.Array.Name {
				continue
			}
			covered = covered.Union(m.Range().AddParams(covered.Space().Params()))
		}
	}
	if !access.Range().Subtract(covered).IsEmpty() {
		opts.diag("gpu: may read uninitialized data from %q\n", g.Array.Name)
	}
}

func reads(g *RefGroup) bool {
	for _, ref := range g.Refs {
		if ref.Read {
			return true
		}
	}
	return false
}

// groupDirAccess is the part of the group access contributed by reading
// or by writing references.
func (k *Kernel) groupDirAccess(g *RefGroup, shared *poly.UnionMap, read bool) *poly.Map {
	out := poly.EmptyMap(g.Access.Space())
	for _, ref := range g.Refs {
		if read && !ref.Read || !read && !ref.Write {
			continue
		}
		var sm *poly.Map
		for _, m := range shared.Maps() {
			if m.Space().InName() == ref.Stmt.Name {
				sm = m
				break
			}
		}
		if sm == nil {
			continue
		}
		a := ref.Access.IntersectDomain(ref.Stmt.Domain).ApplyDomain(sm)
		out = out.Union(a)
	}
	return out
}

// copySchedule builds the schedule of one copy statement: the wrapped
// [schedule point, element] pairs of the access relation, ranked at
// position pos with rank val and with the innermost element dimensions
// distributed over the threads of the block.
func (k *Kernel) copySchedule(g *RefGroup, access *poly.Map, name string,
	pos int, val int64) (*poly.Map, int) {

	nA := g.Array.NIndex
	b := min(k.NBlock, nA)
	first := nA - b

	domSpace := poly.NewSetSpace(access.Space().Params(), "", k.SharedLen)
	wrapped := poly.Identity(domSpace).IntersectRange(access.Domain()).
		RangeProduct(access)
	copyDom := wrapped.Range().SetTupleName(name)

	rank := k.insertEvenMap(k.SharedLen+nA, pos, val)
	inner := tileMap(k.Params, nA, first, b, k.BlockDim[:b]).
		InsertDims(poly.DimIn, 0, k.SharedLen)
	if b > 0 {
		par, _ := parametrization(k.Params, nA+b, first+b, b, "t")
		inner = inner.IntersectRange(par)
	}
	sched := rank.RangeProduct(inner).SetTupleName(poly.DimIn, name)
	return sched.IntersectDomain(copyDom), nA + b
}

// removeLocalAccesses prunes, from a copy-in (read) or copy-out (write)
// relation, the accesses whose value is both produced and consumed
// within the same iteration of the loops the tile is attached to: such
// values never need to travel through global memory. When no dependence
// can be shown local the relation is returned unchanged.
func (k *Kernel) removeLocalAccesses(prog *Prog, g *RefGroup,
	shared *poly.UnionMap, access *poly.Map, read bool) *poly.Map {

	s := prog.Scop
	arrayRefs := g.Array.Refs

	flow := poly.EmptyUnionMap()
	for _, m := range s.TaggedDepFlow.Maps() {
		if refOfTag(arrayRefs, m.Space().InName()) != nil {
			flow = flow.AddMap(m.Copy())
		}
	}
	if flow.IsEmpty() {
		return access
	}

	// Schedule of the tagged accesses, truncated at the tile position:
	// two accesses are local to each other when they agree on it.
	depth := g.LastShared + 1
	tsched := poly.EmptyUnionMap()
	for _, ref := range arrayRefs {
		var sm *poly.Map
		for _, m := range shared.Maps() {
			if m.Space().InName() == ref.Stmt.Name {
				sm = m
				break
			}
		}
		if sm == nil {
			continue
		}
		t := sm.ProjectOut(poly.DimOut, depth, k.SharedLen-depth)
		t = t.SetTupleName(poly.DimIn, scop.TagTuple(ref.Stmt.Name, ref.ID))
		tsched = tsched.AddMap(t)
	}
	same := tsched.ApplyRange(tsched.Copy().Reverse())
	local := flow.Intersect(same)
	if local.IsEmpty() {
		return access
	}
	external := flow.Subtract(local)

	var ext *poly.UnionSet
	var live *poly.UnionMap
	if read {
		ext = external.Range()
		live = s.LiveIn
	} else {
		ext = external.Domain()
		live = s.LiveOut
	}

	keep := poly.EmptyMap(access.Space())
	for _, ref := range g.Refs {
		if read && !ref.Read || !read && !ref.Write {
			continue
		}
		var sm *poly.Map
		for _, m := range shared.Maps() {
			if m.Space().InName() == ref.Stmt.Name {
				sm = m
				break
			}
		}
		if sm == nil {
			continue
		}
		tagged := ref.TaggedAccess.Copy()
		restricted := poly.UnionMapFromMap(tagged).IntersectDomain(ext)
		for _, m := range scop.Untag(restricted).Maps() {
			keep = keep.Union(m.ApplyDomain(sm))
		}
		for _, m := range live.Maps() {
			if m.Space().InName() != ref.Stmt.Name ||
				m.Space().OutName() != g.Array.Name {
				continue
			}
			keep = keep.Union(m.Copy().IntersectDomain(ref.Stmt.Domain).ApplyDomain(sm))
		}
	}
	return access.Intersect(keep)
}

// refOfTag resolves a tagged tuple name against a reference list.
func refOfTag(refs []*scop.AccessRef, tagged string) *scop.AccessRef {
	stmt := scop.UntagTuple(tagged)
	for _, ref := range refs {
		if ref.Stmt.Name == stmt && scop.TagTuple(stmt, ref.ID) == tagged {
			return ref
		}
	}
	return nil
}
