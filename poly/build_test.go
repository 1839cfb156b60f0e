package poly

import (
	"strings"
	"testing"
)

// identSched builds {name[i...] -> [i...]} restricted to the given box.
func identSched(name string, bounds [][2]int64) *Map {
	n := len(bounds)
	space := NewMapSpace(nil, name, n, "", n)
	bm := UniverseBasicMap(space)
	for i := 0; i < n; i++ {
		bm = bm.Equate(DimIn, i, DimOut, i)
	}
	return MapFromBasicMap(bm).IntersectDomain(box(nil, name, bounds))
}

func TestBuildSimpleLoop(t *testing.T) {
	sched := UnionMapFromMap(identSched("S", [][2]int64{{0, 9}}))

	var seen []string
	b := &Build{
		AtEachDomain: func(info *LeafInfo) (*ASTNode, error) {
			seen = append(seen, info.Tuple)
			return NewUserNode(info), nil
		},
	}
	root, err := b.FromScheduleMap(sched, 1)
	if err != nil {
		t.Fatal(err)
	}
	if root.Kind != ASTFor {
		t.Fatalf("root kind = %v, want for", root.Kind)
	}
	if root.Iterator != "c0" {
		t.Errorf("iterator = %q, want c0", root.Iterator)
	}
	if lb := PrintExpr(root.LB); lb != "0" {
		t.Errorf("lower bound = %s, want 0", lb)
	}
	if ub := PrintExpr(root.UB); ub != "9" {
		t.Errorf("upper bound = %s, want 9", ub)
	}
	if len(seen) != 1 || seen[0] != "S" {
		t.Errorf("leaves = %v, want [S]", seen)
	}
}

func TestBuildOrdersFixedPositions(t *testing.T) {
	// S1 is scheduled before S0 via the leading constant dimension.
	first := identSched("S1", [][2]int64{{0, 3}}).InsertDims(DimOut, 0, 1).Fix(DimOut, 0, 0)
	second := identSched("S0", [][2]int64{{0, 3}}).InsertDims(DimOut, 0, 1).Fix(DimOut, 0, 1)
	sched := EmptyUnionMap().AddMap(second).AddMap(first)

	var seen []string
	b := &Build{
		AtEachDomain: func(info *LeafInfo) (*ASTNode, error) {
			seen = append(seen, info.Tuple)
			return NewUserNode(info), nil
		},
	}
	root, err := b.FromScheduleMap(sched, 2)
	if err != nil {
		t.Fatal(err)
	}
	if root.Kind != ASTBlock || len(root.Children) != 2 {
		t.Fatalf("root = %v with %d children, want block of 2", root.Kind, len(root.Children))
	}
	if len(seen) != 2 || seen[0] != "S1" || seen[1] != "S0" {
		t.Errorf("leaf order = %v, want [S1 S0]", seen)
	}
}

func TestBuildDegenerateDimension(t *testing.T) {
	// [i] -> [i, i]: the second time dimension is determined by the first.
	space := NewMapSpace(nil, "S", 1, "", 2)
	bm := UniverseBasicMap(space)
	bm = bm.Equate(DimIn, 0, DimOut, 0)
	bm = bm.Equate(DimIn, 0, DimOut, 1)
	m := MapFromBasicMap(bm).IntersectDomain(box(nil, "S", [][2]int64{{0, 3}}))

	root, err := (&Build{}).FromScheduleMap(UnionMapFromMap(m), 2)
	if err != nil {
		t.Fatal(err)
	}
	out := PrintAST(root)
	if got := strings.Count(out, "for ("); got != 1 {
		t.Errorf("printed %d loops, want 1:\n%s", got, out)
	}
}

func TestBuildUnionWithGuards(t *testing.T) {
	a := identSched("A", [][2]int64{{0, 4}})
	c := identSched("C", [][2]int64{{3, 9}})
	sched := EmptyUnionMap().AddMap(a).AddMap(c)

	root, err := (&Build{}).FromScheduleMap(sched, 1)
	if err != nil {
		t.Fatal(err)
	}
	out := PrintAST(root)
	if !strings.Contains(out, "for (int c0 = min(0, 3); c0 <= max(4, 9);") {
		t.Errorf("missing union loop:\n%s", out)
	}
	if !strings.Contains(out, "if (") {
		t.Errorf("missing residual guards:\n%s", out)
	}
}

func TestBuildOptionsHints(t *testing.T) {
	sched := UnionMapFromMap(identSched("S", [][2]int64{{0, 7}}))
	b := &Build{
		Options: func(level int) (bool, bool) { return true, false },
	}
	root, err := b.FromScheduleMap(sched, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !root.Unroll {
		t.Error("unroll hint not set")
	}
	if !strings.Contains(PrintAST(root), "// unroll") {
		t.Error("unroll hint not printed")
	}
}

func TestBuildContextRestriction(t *testing.T) {
	// Under the context N = 4 the piece for N != 4 disappears.
	space := NewMapSpace([]string{"N"}, "S", 1, "", 1)
	bm := UniverseBasicMap(space)
	bm = bm.Equate(DimIn, 0, DimOut, 0)
	bm = bm.AddInequality(NewConstraint(space).SetCoef(DimParam, 0, 1).SetConst(-10))
	m := MapFromBasicMap(bm).IntersectDomain(box([]string{"N"}, "S", [][2]int64{{0, 3}}))

	ctxSpace := NewParamSpace([]string{"N"})
	ctxBM := UniverseBasicMap(ctxSpace)
	ctxBM = ctxBM.AddEquality(NewConstraint(ctxSpace).SetCoef(DimParam, 0, 1).SetConst(-4))
	ctx := SetFromBasicMap(ctxBM)

	root, err := (&Build{Context: ctx}).FromScheduleMap(UnionMapFromMap(m), 1)
	if err != nil {
		t.Fatal(err)
	}
	if root.Kind != ASTBlock || len(root.Children) != 0 {
		t.Errorf("expected empty block under restricting context, got %s", PrintAST(root))
	}
}
