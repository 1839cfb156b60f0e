// Package schedule computes a dependence-respecting schedule tree from an
// iteration domain and validity/coincidence/proximity constraint relations.
//
// The algorithm is deliberately simple: statements are grouped into strongly
// connected components of the validity graph, components are ordered
// topologically into a sequence, and each component receives an identity
// band over its common loop depth. Band members are marked coincident when
// no coincidence dependence is carried by them, and the band is permutable
// when every validity dependence has non-negative distance in every member.
package schedule

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
	"gonum.org/v1/gonum/mat"

	"github.com/PollyLabs/ppcg/poly"
)

// Constraints is the scheduler input.
type Constraints struct {
	Domain  *poly.UnionSet
	Context *poly.Set
	// Validity dependences must never be violated.
	Validity *poly.UnionMap
	// Coincidence dependences must have zero distance on any band member
	// marked parallel.
	Coincidence *poly.UnionMap
	// Proximity dependences are a locality hint; the identity schedule
	// ignores them beyond keeping dependent components adjacent.
	Proximity *poly.UnionMap
}

// Compute returns a schedule tree over the domain that respects the
// validity constraints.
func Compute(c *Constraints) (*poly.ScheduleNode, error) {
	sets := c.Domain.Sets()
	if len(sets) == 0 {
		return nil, fmt.Errorf("schedule: empty domain")
	}

	g := simple.NewDirectedGraph()
	nodes := make([]graph.Node, len(sets))
	index := map[string]int{}
	for i, s := range sets {
		nodes[i] = g.NewNode()
		g.AddNode(nodes[i])
		index[s.Space().OutName()] = i
	}
	for _, m := range c.Validity.Maps() {
		if m.IsEmpty() {
			continue
		}
		from, okF := index[m.Space().InName()]
		to, okT := index[m.Space().OutName()]
		if !okF || !okT || from == to {
			continue
		}
		if g.Edge(nodes[from].ID(), nodes[to].ID()) == nil {
			g.SetEdge(g.NewEdge(nodes[from], nodes[to]))
		}
	}

	// Tarjan yields components in reverse topological order.
	sccs := topo.TarjanSCC(g)
	comps := make([][]int, 0, len(sccs))
	for i := len(sccs) - 1; i >= 0; i-- {
		var members []int
		for _, n := range sccs[i] {
			for j, gn := range nodes {
				if gn.ID() == n.ID() {
					members = append(members, j)
				}
			}
		}
		sort.Ints(members)
		comps = append(comps, members)
	}

	var children []*poly.ScheduleNode
	for _, members := range comps {
		band, err := c.componentBand(sets, members)
		if err != nil {
			return nil, err
		}
		filter := poly.EmptyUnionSet()
		for _, i := range members {
			filter = filter.AddSet(sets[i].Copy())
		}
		var sub *poly.ScheduleNode
		if band.N > 0 {
			sub = poly.NewBandNode(band, poly.NewLeaf())
		} else {
			sub = poly.NewLeaf()
		}
		children = append(children, poly.NewFilterNode(filter, sub))
	}

	var root *poly.ScheduleNode
	if len(children) == 1 {
		// A single component needs no sequence; drop the filter too.
		root = children[0].Child(0)
	} else {
		root = poly.NewSequenceNode(children...)
	}
	return poly.NewDomainNode(c.Domain.Copy(), root), nil
}

// componentBand builds the identity band over the common depth of the
// component members and classifies its members.
func (c *Constraints) componentBand(sets []*poly.Set, members []int) (*poly.Band, error) {
	depth := -1
	for _, i := range members {
		n := sets[i].Space().NOut()
		if depth < 0 || n < depth {
			depth = n
		}
	}
	if depth <= 0 {
		return &poly.Band{Sched: poly.EmptyUnionMap(), N: 0}, nil
	}

	sched := poly.EmptyUnionMap()
	for _, i := range members {
		sp := sets[i].Space()
		space := poly.NewMapSpace(sp.Params(), sp.OutName(), sp.NOut(), "", depth)
		bm := poly.UniverseBasicMap(space)
		for d := 0; d < depth; d++ {
			bm = bm.Equate(poly.DimIn, d, poly.DimOut, d)
		}
		part := poly.MapFromBasicMap(bm)
		if !scheduleRowsIndependent(part, depth) {
			return nil, fmt.Errorf("schedule: degenerate band for %s", sp.OutName())
		}
		sched = sched.AddMap(part.IntersectDomain(sets[i]))
	}

	names := map[string]bool{}
	for _, i := range members {
		names[sets[i].Space().OutName()] = true
	}

	band := &poly.Band{Sched: sched, N: depth, Permutable: true}
	band.Coincident = make([]bool, depth)
	for d := 0; d < depth; d++ {
		band.Coincident[d] = !anyCarried(c.Coincidence, names, d)
		if anyNegative(c.Validity, names, d) {
			band.Permutable = false
		}
	}
	return band, nil
}

// scheduleRowsIndependent reports whether the band rows of one member,
// viewed as vectors of iterator coefficients, are linearly independent.
// A rank-deficient band would repeat schedule values across members and
// cannot be tiled.
func scheduleRowsIndependent(part *poly.Map, depth int) bool {
	affs, err := part.Affs()
	if err != nil {
		return false
	}
	nIn := part.Space().NIn()
	m := mat.NewDense(depth, nIn, nil)
	for d, a := range affs {
		nP := len(a.Coef) - a.NIn
		for i := 0; i < a.NIn && i < nIn; i++ {
			m.Set(d, i, float64(a.Coef[nP+i]))
		}
	}
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDNone) {
		return false
	}
	rank := 0
	for _, v := range svd.Values(nil) {
		if v > 1e-9 {
			rank++
		}
	}
	return rank == depth
}

// anyCarried reports whether some dependence between the named statements
// has non-zero distance at dimension d.
func anyCarried(deps *poly.UnionMap, names map[string]bool, d int) bool {
	for _, m := range deps.Maps() {
		if !names[m.Space().InName()] || !names[m.Space().OutName()] {
			continue
		}
		if m.Space().NIn() <= d || m.Space().NOut() <= d {
			// The dependence does not reach this depth; treat it as
			// carried to stay on the safe side.
			if !m.IsEmpty() {
				return true
			}
			continue
		}
		if distanceNonZero(m, d) {
			return true
		}
	}
	return false
}

// anyNegative reports whether some dependence between the named statements
// can have negative distance at dimension d.
func anyNegative(deps *poly.UnionMap, names map[string]bool, d int) bool {
	for _, m := range deps.Maps() {
		if !names[m.Space().InName()] || !names[m.Space().OutName()] {
			continue
		}
		if m.Space().NIn() <= d || m.Space().NOut() <= d {
			if !m.IsEmpty() {
				return true
			}
			continue
		}
		// out_d <= in_d - 1
		lt := m.Copy()
		lt = addDimCompare(lt, d, -1)
		if !lt.IsEmpty() {
			return true
		}
	}
	return false
}

// distanceNonZero tests dep ∩ { out_d != in_d } for emptiness.
func distanceNonZero(m *poly.Map, d int) bool {
	lt := addDimCompare(m.Copy(), d, -1)
	gt := addDimCompare(m.Copy(), d, 1)
	return !lt.IsEmpty() || !gt.IsEmpty()
}

// addDimCompare restricts a dependence to out_d - in_d <= -1 (sign < 0) or
// out_d - in_d >= 1 (sign > 0).
func addDimCompare(m *poly.Map, d int, sign int) *poly.Map {
	space := m.Space()
	bm := poly.UniverseBasicMap(space)
	cons := poly.NewConstraint(space)
	if sign < 0 {
		// in_d - out_d - 1 >= 0
		cons.SetCoef(poly.DimIn, d, 1).SetCoef(poly.DimOut, d, -1).SetConst(-1)
	} else {
		cons.SetCoef(poly.DimOut, d, 1).SetCoef(poly.DimIn, d, -1).SetConst(-1)
	}
	bm = bm.AddInequality(cons)
	return m.Intersect(poly.MapFromBasicMap(bm))
}
