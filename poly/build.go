package poly

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnsupportedSchedule is returned when the generator cannot order the
// pieces of a schedule at some level.
var ErrUnsupportedSchedule = errors.New("poly: unsupported schedule shape")

// LeafInfo describes one statement-instance leaf reached by the generator.
type LeafInfo struct {
	// Tuple is the name of the domain tuple scheduled at this leaf.
	Tuple string
	// NDom is the arity of the domain tuple.
	NDom int
	// ToDomain gives each domain dimension as an affine expression over
	// [params | time dimensions].
	ToDomain []Aff
	// IterExprs holds, per time dimension, the expression the generator
	// used for it: an iterator identifier, a constant, or an affine
	// expression of outer iterators.
	IterExprs []*Expr
}

// Build drives AST generation over a flat schedule. The caller supplies
// iterator names, per-level options and a leaf callback; the zero value of
// the option fields selects defaults.
type Build struct {
	// Context restricts the parameter values the generated code assumes.
	Context *Set
	// Iterators names the generated loop iterators; missing entries
	// default to c0, c1, ...
	Iterators []string
	// Options returns per-level code generation hints.
	Options func(level int) (unroll, atomic bool)
	// AtEachDomain is invoked for every leaf; it must return the AST
	// node to place there.
	AtEachDomain func(info *LeafInfo) (*ASTNode, error)
}

type buildPiece struct {
	tuple  string
	nDom   int
	rel    *BasicMap // D -> T
	time   *BasicMap // constraints over [params | T]
	guards []*Expr   // residual per-piece guards
}

func (b *Build) iterName(level int) string {
	if level < len(b.Iterators) && b.Iterators[level] != "" {
		return b.Iterators[level]
	}
	return fmt.Sprintf("c%d", level)
}

// FromScheduleMap generates an AST for a schedule mapping statement
// instances to a shared depth-dimensional time space.
func (b *Build) FromScheduleMap(sched *UnionMap, depth int) (*ASTNode, error) {
	var pieces []*buildPiece
	for _, m := range sched.Maps() {
		mm := m
		if b.Context != nil {
			mm = mm.IntersectParams(b.Context)
		}
		if mm.Space().NOut() != depth {
			return nil, fmt.Errorf("%w: piece %s has depth %d, want %d",
				ErrUnsupportedSchedule, mm.Space(), mm.Space().NOut(), depth)
		}
		for _, p := range mm.Pieces() {
			if p.IsEmpty() {
				continue
			}
			tp, ok := p.projectOutCols(len(p.space.params), p.space.nIn)
			if !ok {
				continue
			}
			tp.space = NewSetSpace(p.space.params, "", depth)
			pieces = append(pieces, &buildPiece{
				tuple: m.Space().InName(),
				nDom:  m.Space().NIn(),
				rel:   p,
				time:  tp,
			})
		}
	}
	if len(pieces) == 0 {
		return NewBlockNode(), nil
	}
	return b.gen(pieces, 0, depth, nil)
}

// boundInfo captures what the constraints say about one time dimension.
type boundInfo struct {
	constVal int64
	isConst  bool
	affVal   *Aff // determined as affine of params and outer iterators
	lowers   []*Expr
	uppers   []*Expr
	space    *Space
}

// analyzeLevel inspects the constraints a piece places on time dimension
// level, with later time dimensions existentially eliminated.
func analyzeLevel(p *buildPiece, level, depth int, iters []*Expr) (*boundInfo, error) {
	nP := len(p.time.space.params)
	proj, ok := p.time.projectOutCols(nP+level+1, depth-level-1)
	if !ok {
		return nil, nil // piece empty under current restrictions
	}
	proj.space = NewSetSpace(p.time.space.params, "", level+1)
	col := nP + level
	info := &boundInfo{space: proj.space}
	inputs := padIters(iters, depth)

	rowAff := func(r []int64, exclude int, negate bool, den int64) Aff {
		a := NewAff(proj.space.params, depth)
		for i := 0; i < nP; i++ {
			a.Coef[i] = r[i]
		}
		for i := 0; i <= level; i++ {
			if nP+i == exclude {
				continue
			}
			a.Coef[nP+i] = r[nP+i]
		}
		a.Cst = r[len(r)-1]
		if negate {
			for i := range a.Coef {
				a.Coef[i] = -a.Coef[i]
			}
			a.Cst = -a.Cst
		}
		a.Den = den
		return a
	}

	for _, r := range proj.eq {
		a := r[col]
		if a == 0 {
			continue
		}
		// a*t + rest == 0  =>  t == -rest/a.
		onlyConst := true
		for i := 0; i < nP+level; i++ {
			if i != col && r[i] != 0 {
				onlyConst = false
				break
			}
		}
		if onlyConst && r[len(r)-1]%a == 0 {
			info.isConst = true
			info.constVal = -r[len(r)-1] / a
			continue
		}
		av := rowAff(r, col, a > 0, abs64(a))
		info.affVal = &av
		// Also usable as a two-sided bound.
		lo := AffExpr(av, inputs)
		info.lowers = append(info.lowers, lo)
		info.uppers = append(info.uppers, lo)
	}
	for _, r := range proj.ineq {
		a := r[col]
		if a == 0 {
			continue
		}
		if a > 0 {
			// t >= ceil(-rest/a): floor((-rest + a - 1)/a).
			av := rowAff(r, col, true, a)
			av.Cst += a - 1
			info.lowers = append(info.lowers, AffExpr(av, inputs))
		} else {
			av := rowAff(r, col, false, -a)
			info.uppers = append(info.uppers, AffExpr(av, inputs))
		}
	}
	return info, nil
}

func padIters(iters []*Expr, depth int) []*Expr {
	out := make([]*Expr, depth)
	for i := 0; i < depth; i++ {
		if i < len(iters) {
			out[i] = iters[i]
		} else {
			out[i] = IntExpr(0)
		}
	}
	return out
}

func (b *Build) gen(pieces []*buildPiece, level, depth int, iters []*Expr) (*ASTNode, error) {
	if level == depth {
		return b.genLeaves(pieces, depth, iters)
	}

	infos := make([]*boundInfo, 0, len(pieces))
	live := make([]*buildPiece, 0, len(pieces))
	for _, p := range pieces {
		info, err := analyzeLevel(p, level, depth, iters)
		if err != nil {
			return nil, err
		}
		if info == nil {
			continue
		}
		infos = append(infos, info)
		live = append(live, p)
	}
	if len(live) == 0 {
		return NewBlockNode(), nil
	}

	nConst := 0
	for _, info := range infos {
		if info.isConst {
			nConst++
		}
	}
	switch {
	case nConst == len(infos):
		return b.genOrdered(live, infos, level, depth, iters)
	case nConst != 0:
		return nil, fmt.Errorf("%w: mixed fixed and loop pieces at level %d",
			ErrUnsupportedSchedule, level)
	}

	// Degenerate level: a single piece whose value is determined.
	if len(live) == 1 && infos[0].affVal != nil {
		inputs := padIters(iters, depth)
		e := AffExpr(*infos[0].affVal, inputs)
		return b.gen(live, level+1, depth, append(iters, e))
	}

	it := b.iterName(level)
	id := IDExpr(it)
	var lowers, uppers []*Expr
	for i, info := range infos {
		if len(info.lowers) == 0 || len(info.uppers) == 0 {
			return nil, fmt.Errorf("%w: unbounded loop at level %d", ErrUnsupportedSchedule, level)
		}
		pieceLB := MaxExpr(info.lowers...)
		pieceUB := MinExpr(info.uppers...)
		lowers = append(lowers, pieceLB)
		uppers = append(uppers, pieceUB)
		if len(infos) > 1 {
			// The loop covers the union; each piece keeps its own bounds
			// as residual guards.
			live[i].guards = append(live[i].guards,
				OpExpr(OpGE, id, pieceLB), OpExpr(OpLE, id, pieceUB))
		}
	}
	lb := MinExpr(lowers...)
	ub := MaxExpr(uppers...)

	body, err := b.gen(live, level+1, depth, append(iters, id))
	if err != nil {
		return nil, err
	}
	node := NewForNode(it, lb, ub, body)
	if b.Options != nil {
		node.Unroll, node.Atomic = b.Options(level)
	}
	return node, nil
}

// genOrdered handles a level at which every piece is scheduled at a fixed
// integer position: the pieces execute in ascending position order.
func (b *Build) genOrdered(pieces []*buildPiece, infos []*boundInfo,
	level, depth int, iters []*Expr) (*ASTNode, error) {

	type slot struct {
		val    int64
		pieces []*buildPiece
	}
	idx := map[int64]int{}
	var slots []*slot
	for i, p := range pieces {
		v := infos[i].constVal
		j, ok := idx[v]
		if !ok {
			j = len(slots)
			idx[v] = j
			slots = append(slots, &slot{val: v})
		}
		slots[j].pieces = append(slots[j].pieces, p)
	}
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].val < slots[j].val })

	var children []*ASTNode
	for _, s := range slots {
		node, err := b.gen(s.pieces, level+1, depth, append(iters, IntExpr(s.val)))
		if err != nil {
			return nil, err
		}
		if node.Kind == ASTBlock && len(node.Children) == 0 {
			continue
		}
		children = append(children, node)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return NewBlockNode(children...), nil
}

func (b *Build) genLeaves(pieces []*buildPiece, depth int, iters []*Expr) (*ASTNode, error) {
	inputs := padIters(iters, depth)
	var nodes []*ASTNode
	for _, p := range pieces {
		toDomain, err := MapFromBasicMap(p.rel).Reverse().Affs()
		if err != nil {
			return nil, fmt.Errorf("leaf for %q: %w", p.tuple, err)
		}
		info := &LeafInfo{
			Tuple:     p.tuple,
			NDom:      p.nDom,
			ToDomain:  toDomain,
			IterExprs: inputs,
		}
		var node *ASTNode
		if b.AtEachDomain != nil {
			node, err = b.AtEachDomain(info)
			if err != nil {
				return nil, err
			}
		} else {
			node = NewUserNode(info)
		}
		if node == nil {
			continue
		}
		if len(p.guards) > 0 {
			node = NewIfNode(AndExpr(p.guards...), node)
		}
		nodes = append(nodes, node)
	}
	if len(nodes) == 1 {
		return nodes[0], nil
	}
	return NewBlockNode(nodes...), nil
}
