package scop

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PollyLabs/ppcg/poly"
)

func stmtDomain(name string, hi int64) *poly.Set {
	space := poly.NewSetSpace(nil, name, 1)
	bm := poly.UniverseBasicMap(space)
	bm = bm.LowerBound(poly.DimOut, 0, 0)
	bm = bm.UpperBound(poly.DimOut, 0, hi)
	return poly.SetFromBasicMap(bm)
}

func access(stmt, array string) *poly.Map {
	space := poly.NewMapSpace(nil, stmt, 1, array, 1)
	bm := poly.UniverseBasicMap(space)
	bm = bm.Equate(poly.DimIn, 0, poly.DimOut, 0)
	return poly.MapFromBasicMap(bm)
}

func TestTagging(t *testing.T) {
	require.Equal(t, "S0@ref0_0", TagTuple("S0", "ref0_0"))
	require.Equal(t, "S0", UntagTuple("S0@ref0_0"))
	require.Equal(t, "S0", UntagTuple("S0"))
}

func TestAddAccess(t *testing.T) {
	s := NewScop(nil)
	st := s.AddStatement("S0", stmtDomain("S0", 9), "A[i] = B[i];")

	w := s.AddAccess(st, false, true, true, access("S0", "A"))
	r := s.AddAccess(st, true, false, false, access("S0", "B"))

	require.Equal(t, "ref0_0", w.ID)
	require.Equal(t, "ref0_1", r.ID)
	require.Same(t, st, w.Stmt)
	require.Equal(t, st.Accesses, []*AccessRef{w, r})

	require.Len(t, s.Reads.Maps(), 1)
	require.Len(t, s.MayWrites.Maps(), 1)
	require.Len(t, s.MustWrites.Maps(), 1)
	require.Equal(t, "S0@ref0_1", s.TaggedReads.Maps()[0].Space().InName())

	// The folded relations are restricted to the statement domain.
	v, err := s.Reads.Maps()[0].Range().DimMaxVal(0)
	require.NoError(t, err)
	require.Equal(t, int64(9), v)
}

func TestAddAccessDomainMismatch(t *testing.T) {
	s := NewScop(nil)
	st := s.AddStatement("S0", stmtDomain("S0", 9), "A[i] = 0;")
	require.Panics(t, func() {
		s.AddAccess(st, false, true, true, access("S1", "A"))
	})
}

func TestUntag(t *testing.T) {
	tagged := poly.EmptyUnionMap().
		AddMap(access("S0@ref0_0", "A"))
	plain := Untag(tagged)
	require.Equal(t, "S0", plain.Maps()[0].Space().InName())
}

func TestDomainUnion(t *testing.T) {
	s := NewScop(nil)
	s.AddStatement("S0", stmtDomain("S0", 9), "")
	s.AddStatement("S1", stmtDomain("S1", 4), "")
	require.Len(t, s.Domain().Sets(), 2)
	require.NotNil(t, s.Statement("S1"))
	require.Nil(t, s.Statement("S2"))
}
