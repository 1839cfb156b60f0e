package schedule

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PollyLabs/ppcg/poly"
)

func domainBox(name string, n int, hi int64) *poly.Set {
	space := poly.NewSetSpace(nil, name, n)
	bm := poly.UniverseBasicMap(space)
	for i := 0; i < n; i++ {
		bm = bm.LowerBound(poly.DimOut, i, 0)
		bm = bm.UpperBound(poly.DimOut, i, hi)
	}
	return poly.SetFromBasicMap(bm)
}

// dep equates the listed (in, out) dimension pairs between two statements.
func dep(from string, nFrom int, to string, nTo int, eq [][2]int) *poly.Map {
	space := poly.NewMapSpace(nil, from, nFrom, to, nTo)
	bm := poly.UniverseBasicMap(space)
	for _, e := range eq {
		bm = bm.Equate(poly.DimIn, e[0], poly.DimOut, e[1])
	}
	return poly.MapFromBasicMap(bm)
}

// step adds out[dim] = in[dim] + 1 to every piece.
func step(m *poly.Map, dim int) *poly.Map {
	space := m.Space()
	out := poly.EmptyMap(space)
	for _, bm := range m.Pieces() {
		c := poly.NewConstraint(space).
			SetCoef(poly.DimOut, dim, 1).
			SetCoef(poly.DimIn, dim, -1).
			SetConst(-1)
		out = out.Union(poly.MapFromBasicMap(bm.AddEquality(c)))
	}
	return out
}

func TestComputeSequence(t *testing.T) {
	domain := poly.EmptyUnionSet().
		AddSet(domainBox("S0", 2, 9)).
		AddSet(domainBox("S1", 3, 9))

	initToUpd := dep("S0", 2, "S1", 3, [][2]int{{0, 0}, {1, 1}})
	kChain := step(dep("S1", 3, "S1", 3, [][2]int{{0, 0}, {1, 1}}), 2)

	validity := poly.EmptyUnionMap().AddMap(initToUpd).AddMap(kChain)
	root, err := Compute(&Constraints{
		Domain:      domain,
		Validity:    validity,
		Coincidence: validity.Copy(),
		Proximity:   poly.EmptyUnionMap(),
	})
	require.NoError(t, err)

	require.Equal(t, poly.KindDomain, root.Kind)
	seq := root.Child(0)
	require.Equal(t, poly.KindSequence, seq.Kind)
	require.Len(t, seq.Children, 2)

	f0 := seq.Child(0)
	require.Equal(t, poly.KindFilter, f0.Kind)
	require.Equal(t, "S0", f0.Filter.Sets()[0].Space().OutName())
	b0 := f0.Child(0)
	require.Equal(t, poly.KindBand, b0.Kind)
	require.Equal(t, 2, b0.Band.N)
	require.Equal(t, []bool{true, true}, b0.Band.Coincident)

	f1 := seq.Child(1)
	require.Equal(t, "S1", f1.Filter.Sets()[0].Space().OutName())
	b1 := f1.Child(0)
	require.Equal(t, 3, b1.Band.N)
	require.True(t, b1.Band.Permutable)
	// The k chain is carried by the innermost member only.
	require.Equal(t, []bool{true, true, false}, b1.Band.Coincident)
}

func TestComputeSingleComponent(t *testing.T) {
	domain := poly.EmptyUnionSet().AddSet(domainBox("S", 2, 7))
	root, err := Compute(&Constraints{
		Domain:      domain,
		Validity:    poly.EmptyUnionMap(),
		Coincidence: poly.EmptyUnionMap(),
		Proximity:   poly.EmptyUnionMap(),
	})
	require.NoError(t, err)

	require.Equal(t, poly.KindDomain, root.Kind)
	band := root.Child(0)
	require.Equal(t, poly.KindBand, band.Kind)
	require.Equal(t, 2, band.Band.N)
	require.True(t, band.Band.Permutable)
	require.Equal(t, []bool{true, true}, band.Band.Coincident)
}

func TestComputeEmptyDomain(t *testing.T) {
	_, err := Compute(&Constraints{
		Domain:      poly.EmptyUnionSet(),
		Validity:    poly.EmptyUnionMap(),
		Coincidence: poly.EmptyUnionMap(),
		Proximity:   poly.EmptyUnionMap(),
	})
	require.Error(t, err)
}

func TestScheduleRowsIndependent(t *testing.T) {
	space := poly.NewMapSpace(nil, "S", 2, "", 2)

	bm := poly.UniverseBasicMap(space)
	bm = bm.Equate(poly.DimIn, 0, poly.DimOut, 0)
	bm = bm.Equate(poly.DimIn, 1, poly.DimOut, 1)
	require.True(t, scheduleRowsIndependent(poly.MapFromBasicMap(bm), 2))

	// Both rows read the same iterator: the band repeats schedule
	// values and is degenerate.
	rep := poly.UniverseBasicMap(space)
	rep = rep.Equate(poly.DimIn, 0, poly.DimOut, 0)
	rep = rep.Equate(poly.DimIn, 0, poly.DimOut, 1)
	require.False(t, scheduleRowsIndependent(poly.MapFromBasicMap(rep), 2))
}

func TestComputeNegativeDistance(t *testing.T) {
	domain := poly.EmptyUnionSet().AddSet(domainBox("S", 1, 9))

	// out = in - 1: executing later instances first would be invalid under
	// the identity order, so the band must not be permutable.
	space := poly.NewMapSpace(nil, "S", 1, "S", 1)
	bm := poly.UniverseBasicMap(space)
	bm = bm.AddEquality(poly.NewConstraint(space).
		SetCoef(poly.DimIn, 0, 1).SetCoef(poly.DimOut, 0, -1).SetConst(-1))
	back := poly.MapFromBasicMap(bm)

	validity := poly.EmptyUnionMap().AddMap(back)
	root, err := Compute(&Constraints{
		Domain:      domain,
		Validity:    validity,
		Coincidence: validity.Copy(),
		Proximity:   poly.EmptyUnionMap(),
	})
	require.NoError(t, err)

	band := root.Child(0)
	require.Equal(t, poly.KindBand, band.Kind)
	require.False(t, band.Band.Permutable)
	require.Equal(t, []bool{false}, band.Band.Coincident)
}
