package poly

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func box(params []string, name string, bounds [][2]int64) *Set {
	space := NewSetSpace(params, name, len(bounds))
	bm := UniverseBasicMap(space)
	for i, b := range bounds {
		bm = bm.LowerBound(DimOut, i, b[0])
		bm = bm.UpperBound(DimOut, i, b[1])
	}
	return SetFromBasicMap(bm)
}

func TestSetBasics(t *testing.T) {
	s := box(nil, "S", [][2]int64{{0, 9}, {0, 4}})
	require.False(t, s.IsEmpty())

	v, err := s.DimMaxVal(0)
	require.NoError(t, err)
	require.Equal(t, int64(9), v)
	v, err = s.DimMaxVal(1)
	require.NoError(t, err)
	require.Equal(t, int64(4), v)

	empty := box(nil, "S", [][2]int64{{5, 2}})
	require.True(t, empty.IsEmpty())
}

func TestSetIntersectSubtract(t *testing.T) {
	a := box(nil, "S", [][2]int64{{0, 9}})
	b := box(nil, "S", [][2]int64{{5, 14}})

	v, err := a.Intersect(b).DimMaxVal(0)
	require.NoError(t, err)
	require.Equal(t, int64(9), v)

	require.True(t, a.Subtract(a).IsEmpty())

	diff := a.Subtract(b)
	require.False(t, diff.IsEmpty())
	v, err = diff.DimMaxVal(0)
	require.NoError(t, err)
	require.Equal(t, int64(4), v)
}

func TestSetProjectOut(t *testing.T) {
	s := box(nil, "S", [][2]int64{{0, 9}, {0, 4}})
	p := s.ProjectOut(DimOut, 0, 1)
	v, err := p.DimMaxVal(0)
	require.NoError(t, err)
	require.Equal(t, int64(4), v)
}

func TestTileDivMap(t *testing.T) {
	cases := []struct {
		name string
		hi   int64
		want int64
	}{
		{"partial tile", 9, 2},
		{"exact tiles", 7, 1},
		{"single tile", 3, 0},
	}
	div := TileDivMap(nil, 1, []int64{4})
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := box(nil, "", [][2]int64{{0, tc.hi}})
			v, err := s.Apply(div).DimMaxVal(0)
			require.NoError(t, err)
			require.Equal(t, tc.want, v)
		})
	}
}

func TestMapApplyReverse(t *testing.T) {
	space := NewMapSpace(nil, "S", 1, "", 1)
	bm := UniverseBasicMap(space)
	bm = bm.AddEquality(NewConstraint(space).
		SetCoef(DimOut, 0, 1).SetCoef(DimIn, 0, -1).SetConst(-2))
	shift := MapFromBasicMap(bm) // [i] -> [i+2]

	s := box(nil, "S", [][2]int64{{0, 5}})
	v, err := s.Apply(shift).DimMaxVal(0)
	require.NoError(t, err)
	require.Equal(t, int64(7), v)

	back := s.Apply(shift).Apply(shift.Reverse())
	v, err = back.DimMaxVal(0)
	require.NoError(t, err)
	require.Equal(t, int64(5), v)
}

func TestIntersectDomainAlignsSpaceParams(t *testing.T) {
	space := NewMapSpace(nil, "S", 1, "", 1)
	bm := UniverseBasicMap(space)
	bm = bm.Equate(DimIn, 0, DimOut, 0)
	m := MapFromBasicMap(bm)

	// The restriction equates the dimension to a parameter the map has
	// not seen yet.
	psp := NewSetSpace([]string{"b0"}, "", 1)
	pbm := UniverseBasicMap(psp)
	pbm = pbm.AddEquality(NewConstraint(psp).
		SetCoef(DimOut, 0, 1).SetCoef(DimParam, 0, -1))
	par := SetFromBasicMap(pbm)

	res := m.IntersectRange(par)
	require.Equal(t, []string{"b0"}, res.Space().Params())

	// A later composition aligns its operands against the top-level
	// space; the new parameter must be visible there.
	out := res.ApplyRange(TileDivMap(nil, 1, []int64{4}))
	require.Equal(t, []string{"b0"}, out.Space().Params())
	require.False(t, out.IsEmpty())
}

func TestAffsExtraction(t *testing.T) {
	space := NewMapSpace([]string{"N"}, "S", 1, "A", 1)
	bm := UniverseBasicMap(space)
	// out = 2*in + N
	bm = bm.AddEquality(NewConstraint(space).
		SetCoef(DimOut, 0, 1).SetCoef(DimIn, 0, -2).SetCoef(DimParam, 0, -1))
	affs, err := MapFromBasicMap(bm).Affs()
	require.NoError(t, err)
	require.Len(t, affs, 1)
	require.Equal(t, int64(1), affs[0].Den)
	require.Equal(t, int64(1), affs[0].Coef[0]) // N
	require.Equal(t, int64(2), affs[0].Coef[1]) // in
	require.Equal(t, int64(0), affs[0].Cst)
}

func TestAffsUnderdetermined(t *testing.T) {
	space := NewMapSpace(nil, "S", 1, "A", 1)
	m := MapFromBasicMap(UniverseBasicMap(space))
	_, err := m.Affs()
	require.ErrorIs(t, err, ErrNotAffine)
}

func TestDimMaxAffsParametric(t *testing.T) {
	space := NewSetSpace([]string{"N"}, "S", 1)
	bm := UniverseBasicMap(space)
	bm = bm.LowerBound(DimOut, 0, 0)
	// i <= N-1
	bm = bm.AddInequality(NewConstraint(space).
		SetCoef(DimOut, 0, -1).SetCoef(DimParam, 0, 1).SetConst(-1))
	s := SetFromBasicMap(bm)

	affs, err := s.DimMaxAffs(0)
	require.NoError(t, err)
	require.Len(t, affs, 1)
	require.Equal(t, "(-1 + N)", PrintExpr(AffExpr(affs[0], nil)))

	unbounded := SetFromBasicMap(UniverseBasicMap(space))
	_, err = unbounded.DimMaxAffs(0)
	require.ErrorIs(t, err, ErrUnbounded)
}
