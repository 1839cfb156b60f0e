package gpu

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/PollyLabs/ppcg/poly"
	"github.com/PollyLabs/ppcg/scop"
)

func paramBox(params []string, name string, n int) *poly.Set {
	space := poly.NewSetSpace(params, name, n)
	bm := poly.UniverseBasicMap(space)
	for i := 0; i < n; i++ {
		bm = bm.AddInequality(poly.NewConstraint(space).
			SetCoef(poly.DimOut, i, 1))
		bm = bm.AddInequality(poly.NewConstraint(space).
			SetCoef(poly.DimOut, i, -1).
			SetCoef(poly.DimParam, 0, 1).
			SetConst(-1))
	}
	return poly.SetFromBasicMap(bm)
}

func subscriptMap(params []string, stmt string, nIn int, array string, dims ...int) *poly.Map {
	space := poly.NewMapSpace(params, stmt, nIn, array, len(dims))
	bm := poly.UniverseBasicMap(space)
	for out, in := range dims {
		bm = bm.Equate(poly.DimIn, in, poly.DimOut, out)
	}
	return poly.MapFromBasicMap(bm)
}

func instanceDep(params []string, from string, nFrom int, to string, nTo int,
	eq [][2]int) *poly.Map {

	space := poly.NewMapSpace(params, from, nFrom, to, nTo)
	bm := poly.UniverseBasicMap(space)
	for _, e := range eq {
		bm = bm.Equate(poly.DimIn, e[0], poly.DimOut, e[1])
	}
	return poly.MapFromBasicMap(bm)
}

func advanceDim(m *poly.Map, dim int) *poly.Map {
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

func matmulScop() *scop.Scop {
	params := []string{"N"}
	s := scop.NewScop(params)

	for _, name := range []string{"A", "B", "C"} {
		s.AddArray(&scop.ArrayDecl{
			Name: name, ElemType: "float", ElemSize: 4, NDim: 2,
			Extent: paramBox(params, name, 2),
		})
	}

	init := s.AddStatement("S0", paramBox(params, "S0", 2), "C[i][j] = 0;")
	upd := s.AddStatement("S1", paramBox(params, "S1", 3),
		"C[i][j] += A[i][k] * B[k][j];")

	s.AddAccess(init, false, true, true, subscriptMap(params, "S0", 2, "C", 0, 1))
	s.AddAccess(upd, true, true, true, subscriptMap(params, "S1", 3, "C", 0, 1))
	s.AddAccess(upd, true, false, false, subscriptMap(params, "S1", 3, "A", 0, 2))
	s.AddAccess(upd, true, false, false, subscriptMap(params, "S1", 3, "B", 2, 1))

	initToUpd := instanceDep(params, "S0", 2, "S1", 3, [][2]int{{0, 0}, {1, 1}})
	initToUpd = fixOutDim(initToUpd, 2, 0)
	kChain := advanceDim(instanceDep(params, "S1", 3, "S1", 3,
		[][2]int{{0, 0}, {1, 1}}), 2)
	s.DepFlow = s.DepFlow.AddMap(initToUpd).AddMap(kChain)
	s.DepFalse = s.DepFalse.AddMap(initToUpd.Copy()).AddMap(kChain.Copy())

	s.LiveIn = s.LiveIn.
		AddMap(subscriptMap(params, "S1", 3, "A", 0, 2)).
		AddMap(subscriptMap(params, "S1", 3, "B", 2, 1))
	s.LiveOut = s.LiveOut.AddMap(subscriptMap(params, "S1", 3, "C", 0, 1))

	return s
}

func fixOutDim(m *poly.Map, dim int, v int64) *poly.Map {
	out := poly.EmptyMap(m.Space())
	for _, bm := range m.Pieces() {
		out = out.Union(poly.MapFromBasicMap(bm.Fix(poly.DimOut, dim, v)))
	}
	return out
}

func varNames(k *Kernel) []string {
	out := make([]string, len(k.Vars))
	for i, v := range k.Vars {
		out[i] = v.Name
	}
	return out
}

func TestGenerateMatmul(t *testing.T) {
	gen, err := Generate(matmulScop(), nil)
	require.NoError(t, err)
	require.False(t, gen.HostOnly)
	require.Len(t, gen.Kernels, 2)

	// The initialization kernel only writes C, each thread its own
	// elements.
	k0 := gen.Kernels[0]
	require.Equal(t, "kernel0", k0.Name)
	require.Equal(t, 2, k0.NBlock)
	require.Equal(t, []string{"private_C"}, varNames(k0))

	// The update kernel keeps the operands in shared memory and the
	// accumulator in registers.
	k1 := gen.Kernels[1]
	require.Equal(t, 2, k1.NGrid)
	require.Equal(t, 2, k1.NBlock)
	require.Equal(t, []int64{32, 16}, k1.BlockDim)
	require.ElementsMatch(t,
		[]string{"shared_A", "shared_B", "private_C"}, varNames(k1))
	require.GreaterOrEqual(t, k1.FirstUnroll, 0)

	device := poly.PrintAST(k1.Tree)
	require.Contains(t, device, "__syncthreads();")
	require.Contains(t, device, "shared_A")

	// Within one tile iteration the copies into local memory come
	// first, then a barrier, then the statement instances, then the
	// write-back of the accumulator.
	readA := strings.Index(device, "shared_A[")
	sync := strings.Index(device, "__syncthreads();")
	body := strings.Index(device, "S1(")
	writeC := strings.Index(device, "= private_C[")
	require.True(t, readA >= 0 && readA < sync,
		"copy-in must precede the first barrier")
	require.True(t, sync < body, "barrier must precede the bodies")
	require.True(t, body < writeC, "write-back must follow the bodies")

	host := poly.PrintAST(gen.Host)
	require.Contains(t, host, "// kernel0")
	require.Contains(t, host, "kernel0<<<")
	require.Contains(t, host, "kernel1<<<")
}

func TestGenerateVecAdd(t *testing.T) {
	params := []string{"N"}
	s := scop.NewScop(params)
	for _, name := range []string{"A", "B", "C"} {
		s.AddArray(&scop.ArrayDecl{
			Name: name, ElemType: "float", ElemSize: 4, NDim: 1,
			Extent: paramBox(params, name, 1),
		})
	}
	st := s.AddStatement("S0", paramBox(params, "S0", 1), "C[i] = A[i] + B[i];")
	s.AddAccess(st, false, true, true, subscriptMap(params, "S0", 1, "C", 0))
	s.AddAccess(st, true, false, false, subscriptMap(params, "S0", 1, "A", 0))
	s.AddAccess(st, true, false, false, subscriptMap(params, "S0", 1, "B", 0))
	s.LiveIn = s.LiveIn.
		AddMap(subscriptMap(params, "S0", 1, "A", 0)).
		AddMap(subscriptMap(params, "S0", 1, "B", 0))
	s.LiveOut = s.LiveOut.AddMap(subscriptMap(params, "S0", 1, "C", 0))

	gen, err := Generate(s, nil)
	require.NoError(t, err)
	require.False(t, gen.HostOnly)
	require.Len(t, gen.Kernels, 1)

	k := gen.Kernels[0]
	require.Equal(t, 1, k.NGrid)
	require.Equal(t, 1, k.NBlock)
	// The point loop has at most 32 iterations, so the default block
	// size is refined down to the tile size.
	require.Equal(t, []int64{32}, k.BlockDim)
	// Every access is injective in the thread ids: nothing is shared.
	require.ElementsMatch(t,
		[]string{"private_A", "private_B", "private_C"}, varNames(k))

	require.Contains(t, poly.PrintAST(gen.Host), "kernel0<<<")
}

func TestGenerateScalarLiveRange(t *testing.T) {
	// A per-iteration scalar carries an intra-iteration flow dependence
	// and a cross-iteration false dependence. Live-range reordering
	// keeps the false dependence out of the coincidence constraints, so
	// the loop still maps to the grid.
	params := []string{"N"}
	s := scop.NewScop(params)
	for _, name := range []string{"A", "B"} {
		s.AddArray(&scop.ArrayDecl{
			Name: name, ElemType: "float", ElemSize: 4, NDim: 1,
			Extent: paramBox(params, name, 1),
		})
	}
	s.AddArray(&scop.ArrayDecl{
		Name: "t", ElemType: "float", ElemSize: 4, NDim: 0,
		Extent: poly.UniverseSet(poly.NewSetSpace(params, "t", 0)),
	})

	st := s.AddStatement("S0", paramBox(params, "S0", 1), "t = A[i]; B[i] = t;")
	s.AddAccess(st, true, true, true, subscriptMap(params, "S0", 1, "t"))
	s.AddAccess(st, true, false, false, subscriptMap(params, "S0", 1, "A", 0))
	s.AddAccess(st, false, true, true, subscriptMap(params, "S0", 1, "B", 0))

	intra := instanceDep(params, "S0", 1, "S0", 1, [][2]int{{0, 0}})
	reuse := advanceDim(instanceDep(params, "S0", 1, "S0", 1, nil), 0)
	s.DepFlow = s.DepFlow.AddMap(intra)
	s.DepFalse = s.DepFalse.AddMap(reuse)
	s.LiveIn = s.LiveIn.AddMap(subscriptMap(params, "S0", 1, "A", 0))
	s.LiveOut = s.LiveOut.AddMap(subscriptMap(params, "S0", 1, "B", 0))

	opts := DefaultOptions()
	opts.LiveRangeReordering = true
	gen, err := Generate(s, opts)
	require.NoError(t, err)
	require.False(t, gen.HostOnly)
	require.Len(t, gen.Kernels, 1)

	k := gen.Kernels[0]
	require.Equal(t, 1, k.NGrid)
	require.Equal(t, 1, k.NBlock)
	require.Contains(t, poly.PrintAST(gen.Host), "kernel0<<<")
}

func TestGenerateScalarReduction(t *testing.T) {
	params := []string{"N"}
	s := scop.NewScop(params)
	s.AddArray(&scop.ArrayDecl{
		Name: "A", ElemType: "double", ElemSize: 8, NDim: 1,
		Extent: paramBox(params, "A", 1),
	})
	s.AddArray(&scop.ArrayDecl{
		Name: "sum", ElemType: "double", ElemSize: 8, NDim: 0,
		Extent: poly.UniverseSet(poly.NewSetSpace(params, "sum", 0)),
	})

	st := s.AddStatement("S0", paramBox(params, "S0", 1), "sum += A[i];")
	s.AddAccess(st, true, true, true, subscriptMap(params, "S0", 1, "sum"))
	s.AddAccess(st, true, false, false, subscriptMap(params, "S0", 1, "A", 0))

	chain := advanceDim(instanceDep(params, "S0", 1, "S0", 1, nil), 0)
	s.DepFlow = s.DepFlow.AddMap(chain)
	s.DepFalse = s.DepFalse.AddMap(chain.Copy())
	s.LiveIn = s.LiveIn.AddMap(subscriptMap(params, "S0", 1, "A", 0))
	s.LiveOut = s.LiveOut.AddMap(subscriptMap(params, "S0", 1, "sum"))

	gen, err := Generate(s, nil)
	require.NoError(t, err)
	require.False(t, gen.HostOnly)
	require.Len(t, gen.Kernels, 1)

	// The loop carries the accumulation, so it stays on the host and the
	// kernel degenerates to a single work item.
	k := gen.Kernels[0]
	require.Equal(t, 0, k.NGrid)
	require.Equal(t, 0, k.NBlock)
	require.Contains(t, varNames(k), "private_sum")

	host := poly.PrintAST(gen.Host)
	require.Contains(t, host, "for (int h0")
	require.Contains(t, host, "kernel0<<<dim3(1), dim3(1)>>>")
}
