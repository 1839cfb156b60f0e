package gpu

import (
	"github.com/PollyLabs/ppcg/poly"
	"github.com/PollyLabs/ppcg/scop"
)

// Array describes one array of the program from the generator's point of
// view: declared extent narrowed to the accessed elements, per-dimension
// bounds, classification flags and the accesses that touch it.
type Array struct {
	Decl   *scop.ArrayDecl
	Name   string
	NIndex int

	// Extent is the declared index set intersected with the outer
	// accessed region.
	Extent *poly.Set
	// Bound holds, per dimension, upper-bound expressions over the
	// parameters: the dimension size is the minimum of the entries
	// plus one. A nil entry means the bound could not be shown finite.
	Bound [][]poly.Aff
	// FixedBound holds the constant size per dimension, when every
	// parameter could be eliminated.
	FixedBound []int64
	// HasFixedBound marks the dimensions of FixedBound that are valid.
	HasFixedBound []bool

	Accessed       bool
	ReadOnlyScalar bool
	Linearize      bool

	Refs []*scop.AccessRef

	// DepOrder holds the order dependences derived from this array,
	// with independence-annotated pairs removed (unless the array is
	// local). Only set under live-range reordering.
	DepOrder *poly.UnionMap
}

// IsScalar reports whether the array is a single data element.
func (a *Array) IsScalar() bool { return a.NIndex == 0 }

// PositiveSizeGuard returns the set of parameter values for which the
// array has positive size in every dimension.
func (a *Array) PositiveSizeGuard() *poly.Set {
	var params []string
	if a.Extent != nil {
		params = a.Extent.Space().Params()
	}
	for _, affs := range a.Bound {
		for _, b := range affs {
			params = unionNames(params, b.Params)
		}
	}
	space := poly.NewParamSpace(params)
	bm := poly.UniverseBasicMap(space)
	for _, affs := range a.Bound {
		for _, b := range affs {
			// The size is min(bounds)+1; it is positive when every
			// bound expression is non-negative, which for
			// floor(e/den) >= 0 means e >= 0.
			c := poly.NewConstraint(space)
			for i, p := range b.Params {
				if b.Coef[i] != 0 {
					c.SetCoef(poly.DimParam, paramIndex(params, p), b.Coef[i])
				}
			}
			c.SetConst(b.Cst)
			bm = bm.AddInequality(c)
		}
	}
	return poly.SetFromBasicMap(bm)
}

// Prog bundles the front-end scop with the derived array model.
type Prog struct {
	Scop *scop.Scop
	// Context holds the parameter constraints, intersected with the
	// parameter values for which the domain is non-empty.
	Context *poly.Set

	Arrays []*Array

	// ArrayOrder is the union of the per-array order dependences of
	// all non-scalar arrays.
	ArrayOrder *poly.UnionMap
}

// Array looks up the descriptor by name.
func (p *Prog) Array(name string) *Array {
	for _, a := range p.Arrays {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// BuildArrayInfo constructs the array model for the given scop: one
// descriptor per declared array, with bounds based on the extent and the
// set of elements possibly accessed anywhere in the program.
func BuildArrayInfo(s *scop.Scop, opts *Options) (*Prog, error) {
	prog := &Prog{
		Scop:       s,
		Context:    s.Context.Copy(),
		ArrayOrder: poly.EmptyUnionMap(),
	}

	accessed := s.Reads.Copy().Union(s.MayWrites).Range()

	for _, decl := range s.Arrays {
		a, err := extractArrayInfo(s, decl, accessed, opts)
		if err != nil {
			return nil, err
		}
		prog.Arrays = append(prog.Arrays, a)
	}

	if opts.LiveRangeReordering {
		CollectOrderDependences(prog)
	}

	return prog, nil
}

func extractArrayInfo(s *scop.Scop, decl *scop.ArrayDecl,
	accessed *poly.UnionSet, opts *Options) (*Array, error) {

	a := &Array{
		Decl:      decl,
		Name:      decl.Name,
		NIndex:    decl.NDim,
		Linearize: decl.ForceLinearized,
	}

	space := poly.NewSetSpace(s.Params, decl.Name, decl.NDim)
	acc := accessed.ExtractSet(space)
	a.Accessed = !acc.IsEmpty()

	extent := acc
	if decl.Extent != nil {
		extent = extent.Intersect(decl.Extent)
	}
	a.Extent = extent

	a.ReadOnlyScalar = isReadOnlyScalar(s, decl)

	a.Bound = make([][]poly.Aff, decl.NDim)
	a.FixedBound = make([]int64, decl.NDim)
	a.HasFixedBound = make([]bool, decl.NDim)
	bounded := extent.GistParams(s.Context)
	for i := 0; i < decl.NDim; i++ {
		affs, err := bounded.DimMaxAffs(i)
		if err != nil {
			opts.diag("%v\n", &UnboundedExtentError{Array: decl.Name, Dim: i})
			a.Linearize = true
			continue
		}
		a.Bound[i] = affs
		if v, err := extent.DimMaxVal(i); err == nil {
			a.FixedBound[i] = v + 1
			a.HasFixedBound[i] = true
		} else {
			a.Linearize = true
		}
	}

	for _, st := range s.Statements {
		for _, ref := range st.Accesses {
			if ref.Access.Space().OutName() == decl.Name {
				a.Refs = append(a.Refs, ref)
			}
		}
	}

	return a, nil
}

// isReadOnlyScalar reports whether the array is a scalar that no write
// relation touches.
func isReadOnlyScalar(s *scop.Scop, decl *scop.ArrayDecl) bool {
	if decl.IsStruct || decl.NDim != 0 {
		return false
	}
	for _, m := range s.MayWrites.Maps() {
		if m.Space().OutName() == decl.Name && !m.IsEmpty() {
			return false
		}
	}
	return true
}

// CollectOrderDependences stores, per array, the untagged order
// dependences derived from that array, and accumulates the union over
// all non-scalar arrays in prog.ArrayOrder. The dependences are the
// subset of the tagged order dependences whose source reference touches
// the array, with pairs covered by an independence annotation removed.
// Local arrays keep those pairs, since user independence guarantees do
// not extend to them.
func CollectOrderDependences(prog *Prog) {
	s := prog.Scop
	tagged := s.TaggedReads.Copy().Union(s.TaggedMayWrites)

	for _, a := range prog.Arrays {
		touching := map[string]bool{}
		for _, m := range tagged.Maps() {
			if m.Space().OutName() == a.Name {
				touching[m.Space().InName()] = true
			}
		}

		order := poly.EmptyUnionMap()
		for _, m := range s.TaggedDepOrder.Maps() {
			if !touching[m.Space().InName()] {
				continue
			}
			order = order.AddMap(m.Copy())
		}
		order = scop.Untag(order)

		if !a.Decl.IsLocal {
			for _, ind := range s.Independences {
				order = order.Subtract(ind.Pairs)
			}
		}
		a.DepOrder = order

		if a.IsScalar() && !a.Decl.IsStruct {
			continue
		}
		prog.ArrayOrder = prog.ArrayOrder.Union(order)
	}
}

func unionNames(a, b []string) []string {
	out := a
	for _, n := range b {
		if paramIndex(out, n) < 0 {
			out = append(out, n)
		}
	}
	return out
}

func paramIndex(params []string, name string) int {
	for i, p := range params {
		if p == name {
			return i
		}
	}
	return -1
}
