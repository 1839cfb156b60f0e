package gpu

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PollyLabs/ppcg/poly"
)

func TestTileMapPoints(t *testing.T) {
	// [i] -> [t, p] with i = 4t + p, 0 <= p <= 3.
	m := tileMap(nil, 1, 0, 1, []int64{4})

	cases := []struct {
		in, tile, point int64
	}{
		{0, 0, 0},
		{3, 0, 3},
		{4, 1, 0},
		{7, 1, 3},
	}
	for _, tc := range cases {
		r := m.Fix(poly.DimIn, 0, tc.in).Range()
		v, err := r.DimMaxVal(0)
		require.NoError(t, err)
		require.Equal(t, tc.tile, v, "tile index for i=%d", tc.in)
		v, err = r.DimMaxVal(1)
		require.NoError(t, err)
		require.Equal(t, tc.point, v, "point index for i=%d", tc.in)
	}
}

func TestTileMapKeepsOuterDims(t *testing.T) {
	// Tiling the middle dimension of [a, b, c] leaves a and c in place.
	m := tileMap(nil, 3, 1, 1, []int64{2})
	require.Equal(t, 4, m.Space().NOut())

	r := m.Fix(poly.DimIn, 0, 5).Fix(poly.DimIn, 1, 3).Fix(poly.DimIn, 2, 8).Range()
	want := []int64{5, 1, 1, 8} // a | b/2 | b%2 | c
	for d, w := range want {
		v, err := r.DimMaxVal(d)
		require.NoError(t, err)
		require.Equal(t, w, v, "dim %d", d)
	}
}

func TestWrapMapSharesEncoding(t *testing.T) {
	a := wrapMap(nil, 2, 0, 2, []int64{8, 4})
	b := tileMap(nil, 2, 0, 2, []int64{8, 4})
	require.True(t, a.IsEqual(b))
}

func TestParametrization(t *testing.T) {
	s, names := parametrization([]string{"N"}, 3, 1, 2, "t")
	require.Equal(t, []string{"t0", "t1"}, names)
	require.Equal(t, []string{"N", "t0", "t1"}, s.Space().Params())
	require.False(t, s.IsEmpty())
}
