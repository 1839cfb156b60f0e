package gpu

import (
	"fmt"
	"strings"

	"github.com/PollyLabs/ppcg/poly"
	"github.com/PollyLabs/ppcg/scop"
)

// KernelStmtKind discriminates the statements appearing in a kernel
// body.
type KernelStmtKind int

const (
	// StmtDomain executes one instance of an original statement.
	StmtDomain KernelStmtKind = iota
	// StmtCopy moves one element between global and local memory.
	StmtCopy
	// StmtSync is a block-level barrier.
	StmtSync
)

// AccessIndex is the resolved index of one access reference inside a
// kernel statement: the memory it targets and the subscript
// expressions.
type AccessIndex struct {
	Ref   *scop.AccessRef
	Name  string
	Local bool
	Index []*poly.Expr
}

// KernelStmt annotates the leaves of the generated ASTs.
type KernelStmt struct {
	Kind KernelStmtKind

	// StmtDomain
	Stmt     *scop.Statement
	Index    []*poly.Expr
	Accesses []*AccessIndex

	// StmtCopy
	Group  *RefGroup
	Read   bool
	Global []*poly.Expr
	Local  []*poly.Expr
}

// LocalName is the identifier of the local copy of the group.
func (g *RefGroup) LocalName() string {
	base := "shared_"
	if g.Private() {
		base = "private_"
	}
	name := base + g.Array.Name
	if g.Nr > 0 {
		name = fmt.Sprintf("%s_%d", name, g.Nr)
	}
	return name
}

func subscripts(idx []*poly.Expr) string {
	var sb strings.Builder
	for _, e := range idx {
		sb.WriteString("[" + poly.PrintExpr(e) + "]")
	}
	return sb.String()
}

// ASTString renders the statement as C-like pseudocode.
func (s *KernelStmt) ASTString() string {
	switch s.Kind {
	case StmtSync:
		return "__syncthreads();"
	case StmtCopy:
		local := s.Group.LocalName() + subscripts(s.Local)
		global := s.Group.Array.Name + subscripts(s.Global)
		if s.Read {
			return fmt.Sprintf("%s = %s;", local, global)
		}
		return fmt.Sprintf("%s = %s;", global, local)
	default:
		args := make([]string, len(s.Index))
		for i, e := range s.Index {
			args[i] = poly.PrintExpr(e)
		}
		return fmt.Sprintf("%s(%s);", s.Stmt.Name, strings.Join(args, ", "))
	}
}

// ASTString labels the kernel's mark in the printed host AST.
func (k *Kernel) ASTString() string { return k.Name }

// LaunchStmt annotates a kernel launch in the host AST.
type LaunchStmt struct {
	Kernel *Kernel
}

func (l *LaunchStmt) ASTString() string {
	k := l.Kernel
	grid := make([]string, 0, max(k.NGrid, 1))
	for _, affs := range k.GridSize {
		exprs := make([]*poly.Expr, len(affs))
		for i, a := range affs {
			exprs[i] = poly.AffExpr(a, nil)
		}
		size := poly.AddExpr(poly.MinExpr(exprs...), poly.IntExpr(1))
		grid = append(grid, poly.PrintExpr(size))
	}
	if len(grid) == 0 {
		grid = append(grid, "1")
	}
	block := make([]string, 0, max(k.NBlock, 1))
	for _, b := range k.BlockDim {
		block = append(block, fmt.Sprintf("%d", b))
	}
	if len(block) == 0 {
		block = append(block, "1")
	}
	return fmt.Sprintf("%s<<<dim3(%s), dim3(%s)>>>(%s);",
		k.Name, strings.Join(grid, ", "), strings.Join(block, ", "),
		strings.Join(k.Args, ", "))
}

// globalIndex flattens the subscripts of a linearized array into a
// single offset.
func globalIndex(arr *Array, elem []*poly.Expr) []*poly.Expr {
	if !arr.Linearize || len(elem) <= 1 {
		return elem
	}
	out := elem[0]
	for j := 1; j < len(elem); j++ {
		out = poly.AddExpr(poly.MulExpr(out, dimSizeExpr(arr, j)), elem[j])
	}
	return []*poly.Expr{out}
}

// dimSizeExpr is the size of one array dimension: the constant bound
// when known, the parametric bound otherwise. Dimensions with no
// provable bound fall back to a named size argument.
func dimSizeExpr(arr *Array, j int) *poly.Expr {
	if arr.HasFixedBound[j] {
		return poly.IntExpr(arr.FixedBound[j])
	}
	if len(arr.Bound[j]) > 0 {
		exprs := make([]*poly.Expr, len(arr.Bound[j]))
		for i, b := range arr.Bound[j] {
			exprs[i] = poly.AffExpr(b, nil)
		}
		return poly.AddExpr(poly.MinExpr(exprs...), poly.IntExpr(1))
	}
	return poly.IDExpr(fmt.Sprintf("%s_dim%d", arr.Name, j))
}

// generate builds the device AST of the kernel from the assembled local
// schedule. The first EvLen loop levels use g iterators, the inner
// levels the default c iterators; levels past the interchange point are
// marked for unrolling.
func (k *Kernel) generate(prog *Prog, opts *Options) error {
	sched, err := k.localSchedule(prog, opts)
	if err != nil {
		return err
	}
	iters := make([]string, k.EvLen)
	for i := range iters {
		iters[i] = fmt.Sprintf("g%d", i)
	}
	build := &poly.Build{
		Context:   k.Context,
		Iterators: iters,
		Options: func(level int) (bool, bool) {
			unroll := k.FirstUnroll >= 0 && level >= k.EvLen+k.FirstUnroll
			if opts.UnrollCopyShared && level >= k.EvLen {
				unroll = true
			}
			return unroll, false
		},
		AtEachDomain: func(info *poly.LeafInfo) (*poly.ASTNode, error) {
			return k.leafNode(prog, info)
		},
	}
	tree, err := build.FromScheduleMap(sched, k.KernelSchedLen)
	if err != nil {
		return algebraErr("building kernel AST", err)
	}
	k.Tree = tree
	return nil
}

// leafNode dispatches a schedule leaf to a sync, copy or domain
// statement.
func (k *Kernel) leafNode(prog *Prog, info *poly.LeafInfo) (*poly.ASTNode, error) {
	if k.Syncs[info.Tuple] {
		return poly.NewUserNode(&KernelStmt{Kind: StmtSync}), nil
	}
	if ci, ok := k.Copies[info.Tuple]; ok {
		return k.copyNode(ci, info)
	}
	stmt := prog.Scop.Statement(info.Tuple)
	if stmt == nil {
		return nil, algebraErr("resolving leaf",
			fmt.Errorf("unknown tuple %q", info.Tuple))
	}
	return k.domainNode(prog, stmt, info)
}

// sharedExprs returns expressions for the SharedLen outer schedule
// dimensions at a kernel leaf: host dimensions resolve to their h
// parameters, loop dimensions to the odd interleave iterators.
func (k *Kernel) sharedExprs(info *poly.LeafInfo) []*poly.Expr {
	out := make([]*poly.Expr, k.SharedLen)
	for d := 0; d < k.SharedLen; d++ {
		if d < k.TileFirst {
			out[d] = poly.IDExpr(k.HostParams[d])
		} else {
			out[d] = info.IterExprs[2*(d-k.TileFirst)+1]
		}
	}
	return out
}

// copyNode builds one element transfer. The leaf domain is the wrapped
// [schedule point, element] pair; the local subscript is the element
// coordinate relative to the tile lower bound.
func (k *Kernel) copyNode(ci *copyInfo, info *poly.LeafInfo) (*poly.ASTNode, error) {
	g := ci.Group
	nA := g.Array.NIndex
	tile := g.Tile()

	global := make([]*poly.Expr, nA)
	local := make([]*poly.Expr, nA)
	sExprs := make([]*poly.Expr, k.SharedLen)
	for d := 0; d < k.SharedLen; d++ {
		sExprs[d] = poly.AffExpr(info.ToDomain[d], info.IterExprs)
	}
	for j := 0; j < nA; j++ {
		global[j] = poly.AffExpr(info.ToDomain[k.SharedLen+j], info.IterExprs)
		lo := tile.Dim[j].Lower
		local[j] = poly.SubExpr(global[j], poly.AffExpr(lo, sExprs))
	}
	global = globalIndex(g.Array, global)
	stmt := &KernelStmt{
		Kind:   StmtCopy,
		Group:  g,
		Read:   ci.Read,
		Global: global,
		Local:  local,
	}
	return poly.NewUserNode(stmt), nil
}

// domainNode builds one original statement instance, resolving every
// access reference either to its local tile or to global memory.
func (k *Kernel) domainNode(prog *Prog, stmt *scop.Statement,
	info *poly.LeafInfo) (*poly.ASTNode, error) {

	dom := make([]*poly.Expr, stmt.NDim)
	for j := range dom {
		dom[j] = poly.AffExpr(info.ToDomain[j], info.IterExprs)
	}
	node := &KernelStmt{Kind: StmtDomain, Stmt: stmt, Index: dom}

	for _, ref := range stmt.Accesses {
		ai, err := k.accessIndex(prog, ref, dom, info)
		if err != nil {
			return nil, err
		}
		node.Accesses = append(node.Accesses, ai)
	}
	return poly.NewUserNode(node), nil
}

func (k *Kernel) accessIndex(prog *Prog, ref *scop.AccessRef,
	dom []*poly.Expr, info *poly.LeafInfo) (*AccessIndex, error) {

	arr := prog.Array(ref.Access.Space().OutName())
	ai := &AccessIndex{Ref: ref, Name: arr.Name}
	if arr.ReadOnlyScalar {
		return ai, nil
	}

	var group *RefGroup
	if k != nil {
		group = k.findGroup(ref)
	}

	var elem []*poly.Expr
	if arr.NIndex > 0 {
		affs, err := ref.Access.Affs()
		if err != nil {
			if k == nil {
				return ai, nil
			}
			return nil, algebraErr("computing access index", err)
		}
		elem = make([]*poly.Expr, len(affs))
		for j, a := range affs {
			elem[j] = poly.AffExpr(a, dom)
		}
	}

	if group == nil || group.Tile() == nil {
		ai.Index = globalIndex(arr, elem)
		return ai, nil
	}

	ai.Name = group.LocalName()
	ai.Local = true
	if arr.NIndex == 0 {
		return ai, nil
	}
	sExprs := k.sharedExprs(info)
	tile := group.Tile()
	ai.Index = make([]*poly.Expr, len(elem))
	for j, e := range elem {
		ai.Index[j] = poly.SubExpr(e, poly.AffExpr(tile.Dim[j].Lower, sExprs))
	}
	return ai, nil
}

// findGroup locates the reference group a reference was assigned to.
func (k *Kernel) findGroup(ref *scop.AccessRef) *RefGroup {
	for _, la := range k.Arrays {
		for _, g := range la.Groups {
			for _, r := range g.Refs {
				if r == ref {
					return g
				}
			}
		}
	}
	return nil
}

// guardExpr converts a parameter set into a condition expression. The
// second result is false when the set is empty; a nil expression with
// true means the condition always holds.
func guardExpr(s *poly.Set) (*poly.Expr, bool) {
	if s.IsEmpty() {
		return nil, false
	}
	hull := s.SimpleHull()
	params := hull.Space().Params()
	rowExpr := func(r []int64) *poly.Expr {
		a := poly.NewAff(params, 0)
		copy(a.Coef, r[:len(params)])
		a.Cst = r[len(r)-1]
		return poly.AffExpr(a, nil)
	}
	var conds []*poly.Expr
	for _, r := range hull.EqRows() {
		conds = append(conds, poly.OpExpr(poly.OpEq, rowExpr(r), poly.IntExpr(0)))
	}
	for _, r := range hull.IneqRows() {
		conds = append(conds, poly.OpExpr(poly.OpGE, rowExpr(r), poly.IntExpr(0)))
	}
	if len(conds) == 0 {
		return nil, true
	}
	return poly.AndExpr(conds...), true
}

// generateHost builds the host AST: the outer schedule dimensions of
// every kernel become loops over h iterators, and each kernel leaf
// becomes a guarded launch.
func generateHost(prog *Prog, kernels []*Kernel,
	selections []*bandSelection) (*poly.ASTNode, error) {

	maxTF := 0
	for _, k := range kernels {
		if k.TileFirst > maxTF {
			maxTF = k.TileFirst
		}
	}

	byName := map[string]*Kernel{}
	sched := poly.EmptyUnionMap()
	for i, k := range kernels {
		sel := selections[i]
		host := collapseRange(sel.Prefix.IntersectDomain(sel.Core),
			k.Params, k.TileFirst)
		host = host.SetTupleName(k.Name)
		m := poly.Identity(host.Space()).SetTupleName(poly.DimOut, "")
		um := extendRange(
			poly.UnionMapFromMap(m.IntersectDomain(host)), maxTF)
		sched = sched.Union(um)
		byName[k.Name] = k
	}

	iters := make([]string, maxTF)
	for i := range iters {
		iters[i] = fmt.Sprintf("h%d", i)
	}
	build := &poly.Build{
		Context:   prog.Context,
		Iterators: iters,
		// Host loops around a launch must not be split by bound hoisting,
		// or a kernel could launch more than once per iteration.
		Options: func(level int) (bool, bool) { return false, true },
		AtEachDomain: func(info *poly.LeafInfo) (*poly.ASTNode, error) {
			k := byName[info.Tuple]
			if k == nil {
				return nil, algebraErr("resolving host leaf",
					fmt.Errorf("unknown tuple %q", info.Tuple))
			}
			guard, ok := guardExpr(k.Guard)
			if !ok {
				return nil, nil
			}
			launch := poly.NewUserNode(&LaunchStmt{Kernel: k})
			node := poly.NewMarkASTNode("kernel", k, launch)
			if guard != nil {
				return poly.NewIfNode(guard, node), nil
			}
			return node, nil
		},
	}
	return build.FromScheduleMap(sched, maxTF)
}

// hostOnlyAST generates a plain sequential AST for the whole fragment,
// used when kernel extraction fails.
func hostOnlyAST(prog *Prog, sched *poly.UnionMap, depth int) (*poly.ASTNode, error) {
	build := &poly.Build{
		Context: prog.Context,
		AtEachDomain: func(info *poly.LeafInfo) (*poly.ASTNode, error) {
			stmt := prog.Scop.Statement(info.Tuple)
			if stmt == nil {
				return nil, fmt.Errorf("gpu: unknown tuple %q", info.Tuple)
			}
			var k *Kernel
			return k.domainNode(prog, stmt, info)
		},
	}
	return build.FromScheduleMap(sched, depth)
}
