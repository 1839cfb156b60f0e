package gpu

import "github.com/PollyLabs/ppcg/poly"

// bandSelection records one outermost tilable band of the schedule tree,
// in flattened form.
type bandSelection struct {
	// Prefix maps statement instances to the schedule dimensions already
	// fixed when the band is reached.
	Prefix *poly.UnionMap
	// Suffix maps statement instances to the band members followed by
	// every schedule dimension below the band.
	Suffix *poly.UnionMap
	// Core is the set of statement instances scheduled by the band.
	Core *poly.UnionSet

	TileFirst int // number of prefix dimensions
	TileLen   int // number of band members
	NParallel int // leading coincident members
	SuffixLen int

	// Mark is the node inserted into the host schedule tree in place of
	// the selected subtree. Its payload is replaced by the constructed
	// kernel.
	Mark *poly.ScheduleNode
}

// selectOuterBands walks a domain-rooted schedule tree, replaces each
// outermost permutable band with at least one coincident member by a
// "kernel" mark (falling back to a zero-member selection at the leaves)
// and returns the recorded selections together with the rewritten tree.
// Non-qualifying bands contribute their members to the prefix and the
// walk continues below them.
func selectOuterBands(tree *poly.ScheduleNode) ([]*bandSelection, *poly.ScheduleNode, error) {
	if tree.Kind != poly.KindDomain {
		return nil, nil, &UnsupportedScheduleNodeError{Kind: tree.Kind}
	}
	bc := &bandCollector{}
	root, err := bc.walk(tree, nil, nil, 0)
	if err != nil {
		return nil, nil, err
	}
	return bc.selections, root, nil
}

type bandCollector struct {
	selections []*bandSelection
}

func (bc *bandCollector) walk(node *poly.ScheduleNode, domain *poly.UnionSet,
	prefix *poly.UnionMap, pos int) (*poly.ScheduleNode, error) {

	switch node.Kind {
	case poly.KindDomain:
		domain = node.DomainSet
		prefix = poly.EmptyUnionMap()
		for _, s := range domain.Sets() {
			prefix = prefix.AddMap(s.FromDomain())
		}
		child, err := bc.walk(node.Child(0), domain, prefix, 0)
		if err != nil {
			return nil, err
		}
		node.ReplaceChild(0, child)
		return node, nil

	case poly.KindFilter:
		domain = domain.Intersect(node.Filter)
		prefix = prefix.IntersectDomain(domain)
		child, err := bc.walk(node.Child(0), domain, prefix, pos)
		if err != nil {
			return nil, err
		}
		node.ReplaceChild(0, child)
		return node, nil

	case poly.KindBand:
		if node.Band.Permutable && leadingCoincident(node.Band) > 0 {
			return bc.mark(node, domain, prefix, pos)
		}
		n := node.Band.N
		if n > 0 {
			prefix = prefix.RangeProduct(node.Band.Sched.IntersectDomain(domain))
		}
		child, err := bc.walk(node.Child(0), domain, prefix, pos+n)
		if err != nil {
			return nil, err
		}
		node.ReplaceChild(0, child)
		return node, nil

	case poly.KindSequence, poly.KindSet:
		for i, c := range node.Children {
			childPrefix := appendConstDim(prefix, int64(i))
			nc, err := bc.walk(c, domain, childPrefix, pos+1)
			if err != nil {
				return nil, err
			}
			node.ReplaceChild(i, nc)
		}
		return node, nil

	case poly.KindMark:
		child, err := bc.walk(node.Child(0), domain, prefix, pos)
		if err != nil {
			return nil, err
		}
		node.ReplaceChild(0, child)
		return node, nil

	case poly.KindContext, poly.KindGuard:
		set := node.ContextSet
		if node.Kind == poly.KindGuard {
			set = node.GuardSet
		}
		domain = domain.IntersectParams(set)
		child, err := bc.walk(node.Child(0), domain, prefix, pos)
		if err != nil {
			return nil, err
		}
		node.ReplaceChild(0, child)
		return node, nil

	case poly.KindLeaf:
		return bc.mark(node, domain, prefix, pos)

	default:
		return nil, &UnsupportedScheduleNodeError{Kind: node.Kind}
	}
}

// mark records the subtree rooted at node as one kernel selection and
// replaces it by a mark node.
func (bc *bandCollector) mark(node *poly.ScheduleNode, domain *poly.UnionSet,
	prefix *poly.UnionMap, pos int) (*poly.ScheduleNode, error) {

	if domain.IsEmpty() {
		return node, nil
	}
	suffix, depth, err := subtreeSchedule(node, domain)
	if err != nil {
		return nil, err
	}
	sel := &bandSelection{
		Prefix:    prefix.Copy(),
		Suffix:    suffix,
		Core:      domain.Copy(),
		TileFirst: pos,
		SuffixLen: depth,
	}
	if node.Kind == poly.KindBand {
		sel.TileLen = node.Band.N
		sel.NParallel = leadingCoincident(node.Band)
	}
	m := poly.NewMarkNode("kernel", sel, poly.NewLeaf())
	sel.Mark = m
	bc.selections = append(bc.selections, sel)
	return m, nil
}

// leadingCoincident counts the coincident members at the start of the
// band.
func leadingCoincident(b *poly.Band) int {
	n := 0
	for n < len(b.Coincident) && b.Coincident[n] {
		n++
	}
	return n
}

// subtreeSchedule flattens the schedule of the subtree rooted at node
// into a single relation from statement instances to schedule vectors of
// uniform length, which is returned alongside.
func subtreeSchedule(node *poly.ScheduleNode, domain *poly.UnionSet) (*poly.UnionMap, int, error) {
	switch node.Kind {
	case poly.KindLeaf:
		out := poly.EmptyUnionMap()
		for _, s := range domain.Sets() {
			out = out.AddMap(s.FromDomain())
		}
		return out, 0, nil

	case poly.KindDomain:
		return subtreeSchedule(node.Child(0), node.DomainSet)

	case poly.KindFilter:
		return subtreeSchedule(node.Child(0), domain.Intersect(node.Filter))

	case poly.KindBand:
		child, depth, err := subtreeSchedule(node.Child(0), domain)
		if err != nil {
			return nil, 0, err
		}
		if node.Band.N == 0 {
			return child, depth, nil
		}
		part := node.Band.Sched.IntersectDomain(domain)
		return part.RangeProduct(child), node.Band.N + depth, nil

	case poly.KindSequence, poly.KindSet:
		flats := make([]*poly.UnionMap, len(node.Children))
		max := 0
		for i, c := range node.Children {
			f, d, err := subtreeSchedule(c, domain)
			if err != nil {
				return nil, 0, err
			}
			flats[i] = f
			if d > max {
				max = d
			}
		}
		out := poly.EmptyUnionMap()
		for i, f := range flats {
			f = extendRange(f, max)
			for _, m := range f.Maps() {
				m = m.InsertDims(poly.DimOut, 0, 1).Fix(poly.DimOut, 0, int64(i))
				out = out.AddMap(m)
			}
		}
		return out, 1 + max, nil

	case poly.KindMark:
		return subtreeSchedule(node.Child(0), domain)

	case poly.KindContext:
		return subtreeSchedule(node.Child(0), domain.IntersectParams(node.ContextSet))

	case poly.KindGuard:
		return subtreeSchedule(node.Child(0), domain.IntersectParams(node.GuardSet))

	default:
		return nil, 0, &UnsupportedScheduleNodeError{Kind: node.Kind}
	}
}

// extendRange pads the range of every relation with zero-valued
// dimensions up to the target length.
func extendRange(sched *poly.UnionMap, target int) *poly.UnionMap {
	out := poly.EmptyUnionMap()
	for _, m := range sched.Maps() {
		n := m.Space().NOut()
		for i := n; i < target; i++ {
			m = m.InsertDims(poly.DimOut, i, 1).Fix(poly.DimOut, i, 0)
		}
		out = out.AddMap(m)
	}
	return out
}

// appendConstDim appends one fixed dimension to the range of every
// relation.
func appendConstDim(sched *poly.UnionMap, v int64) *poly.UnionMap {
	out := poly.EmptyUnionMap()
	for _, m := range sched.Maps() {
		n := m.Space().NOut()
		m = m.InsertDims(poly.DimOut, n, 1).Fix(poly.DimOut, n, v)
		out = out.AddMap(m)
	}
	return out
}
