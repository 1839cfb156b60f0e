// Command ppcg runs the GPU kernel extractor on a built-in example
// program and prints the annotated host and device ASTs.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PollyLabs/ppcg/gpu"
	"github.com/PollyLabs/ppcg/poly"
	"github.com/PollyLabs/ppcg/scop"
)

var opts = gpu.DefaultOptions()

func main() {
	root := &cobra.Command{
		Use:   "ppcg",
		Short: "Extract GPU kernels from a polyhedral program fragment",
		Long: `ppcg maps a static control program fragment onto an accelerator:
it tiles the parallel loop bands over a block/thread grid, places array
references in registers or shared memory and prints the resulting host
and device code as annotated ASTs.`,
		RunE: run,
	}

	f := root.Flags()
	f.Int64Var(&opts.TileSize, "tile-size", opts.TileSize,
		"default tile size per band member")
	f.Int64SliceVar(&opts.TileSizes, "tile-sizes", nil,
		"per-member tile sizes")
	f.Int64SliceVar(&opts.GridSizes, "grid-sizes", nil,
		"maximum number of blocks per grid dimension")
	f.Int64SliceVar(&opts.BlockSizes, "block-sizes", nil,
		"number of threads per block dimension")
	f.BoolVar(&opts.Wrap, "wrap", opts.Wrap,
		"distribute iterations round-robin instead of in chunks")
	f.BoolVar(&opts.ScaleTileLoops, "scale-tile-loops", opts.ScaleTileLoops,
		"multiply tile loop iterators by the tile sizes")
	f.BoolVar(&opts.LiveRangeReordering, "live-range-reordering",
		opts.LiveRangeReordering, "allow reordering of live ranges")
	f.Int64Var(&opts.MaxSharedMemory, "max-shared-memory",
		opts.MaxSharedMemory, "shared memory budget in bytes (negative: unlimited)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	gen, err := gpu.Generate(matmulScop(), opts)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if gen.HostOnly {
		fmt.Fprintln(out, "/* host only */")
	}
	fmt.Fprint(out, poly.PrintAST(gen.Host))

	for _, k := range gen.Kernels {
		fmt.Fprintf(out, "\n/* %s: grid %s, block %s */\n",
			k.Name, sizeList(gridSizes(k)), sizeList(k.BlockDim))
		for _, v := range k.Vars {
			dims := ""
			for _, s := range v.Size {
				dims += fmt.Sprintf("[%d]", s)
			}
			fmt.Fprintf(out, "/* %s %s%s */\n", v.Type, v.Name, dims)
		}
		fmt.Fprint(out, poly.PrintAST(k.Tree))
	}
	return nil
}

func gridSizes(k *gpu.Kernel) []string {
	out := make([]string, 0, len(k.GridSize))
	for _, affs := range k.GridSize {
		exprs := make([]*poly.Expr, len(affs))
		for i, a := range affs {
			exprs[i] = poly.AffExpr(a, nil)
		}
		e := poly.AddExpr(poly.MinExpr(exprs...), poly.IntExpr(1))
		out = append(out, poly.PrintExpr(e))
	}
	return out
}

func sizeList[T any](sizes []T) string {
	parts := make([]string, len(sizes))
	for i, s := range sizes {
		parts[i] = fmt.Sprint(s)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// matmulScop builds the example fragment
//
//	for (i = 0; i < N; i++)
//	  for (j = 0; j < N; j++) {
//	    C[i][j] = 0;                       // S0
//	    for (k = 0; k < N; k++)
//	      C[i][j] += A[i][k] * B[k][j];    // S1
//	  }
//
// with the dependences a front end would supply alongside it.
func matmulScop() *scop.Scop {
	params := []string{"N"}
	s := scop.NewScop(params)

	for _, name := range []string{"A", "B", "C"} {
		extent := boxSet(params, name, 2)
		s.AddArray(&scop.ArrayDecl{
			Name: name, ElemType: "float", ElemSize: 4, NDim: 2,
			Extent: extent,
		})
	}

	init := s.AddStatement("S0", boxSet(params, "S0", 2), "C[i][j] = 0;")
	upd := s.AddStatement("S1", boxSet(params, "S1", 3),
		"C[i][j] += A[i][k] * B[k][j];")

	s.AddAccess(init, false, true, true, indexMap(params, "S0", 2, "C", 0, 1))
	s.AddAccess(upd, true, true, true, indexMap(params, "S1", 3, "C", 0, 1))
	s.AddAccess(upd, true, false, false, indexMap(params, "S1", 3, "A", 0, 2))
	s.AddAccess(upd, true, false, false, indexMap(params, "S1", 3, "B", 2, 1))

	// C[i][j] flows from the initialization into the first update and
	// along the k loop; anti/output dependences follow the same chains.
	initToUpd := depMap(params, "S0", 2, "S1", 3, [][2]int{{0, 0}, {1, 1}})
	initToUpd = fixStep(initToUpd, 2, 0)
	kChain := depMap(params, "S1", 3, "S1", 3, [][2]int{{0, 0}, {1, 1}})
	kChain = stepDim(kChain, 2)
	s.DepFlow = s.DepFlow.AddMap(initToUpd).AddMap(kChain)
	s.DepFalse = s.DepFalse.AddMap(initToUpd.Copy()).AddMap(kChain.Copy())

	// A and B are live-in; the final C values are live-out.
	s.LiveIn = s.LiveIn.
		AddMap(indexMap(params, "S1", 3, "A", 0, 2)).
		AddMap(indexMap(params, "S1", 3, "B", 2, 1))
	s.LiveOut = s.LiveOut.AddMap(indexMap(params, "S1", 3, "C", 0, 1))

	return s
}

// boxSet is { name[x0..] : 0 <= xi < N }.
func boxSet(params []string, name string, n int) *poly.Set {
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

// indexMap maps statement instances to array elements using the listed
// statement dimensions as subscripts.
func indexMap(params []string, stmt string, nIn int, array string, dims ...int) *poly.Map {
	space := poly.NewMapSpace(params, stmt, nIn, array, len(dims))
	bm := poly.UniverseBasicMap(space)
	for out, in := range dims {
		bm = bm.Equate(poly.DimIn, in, poly.DimOut, out)
	}
	return poly.MapFromBasicMap(bm)
}

// depMap builds a dependence with the given pairs of equated dimensions.
func depMap(params []string, from string, nFrom int, to string, nTo int,
	eq [][2]int) *poly.Map {

	space := poly.NewMapSpace(params, from, nFrom, to, nTo)
	bm := poly.UniverseBasicMap(space)
	for _, e := range eq {
		bm = bm.Equate(poly.DimIn, e[0], poly.DimOut, e[1])
	}
	return poly.MapFromBasicMap(bm)
}

// fixStep fixes one output dimension to a constant.
func fixStep(m *poly.Map, dim int, v int64) *poly.Map {
	out := poly.EmptyMap(m.Space())
	for _, bm := range m.Pieces() {
		out = out.Union(poly.MapFromBasicMap(bm.Fix(poly.DimOut, dim, v)))
	}
	return out
}

// stepDim adds the constraint out[dim] = in[dim] + 1.
func stepDim(m *poly.Map, dim int) *poly.Map {
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
