package poly

import "fmt"

// NodeKind enumerates the schedule tree node types. Traversals switch
// exhaustively over this closed set.
type NodeKind int

const (
	KindDomain NodeKind = iota
	KindBand
	KindFilter
	KindSequence
	KindSet
	KindMark
	KindContext
	KindGuard
	KindLeaf
)

func (k NodeKind) String() string {
	switch k {
	case KindDomain:
		return "domain"
	case KindBand:
		return "band"
	case KindFilter:
		return "filter"
	case KindSequence:
		return "sequence"
	case KindSet:
		return "set"
	case KindMark:
		return "mark"
	case KindContext:
		return "context"
	case KindGuard:
		return "guard"
	case KindLeaf:
		return "leaf"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Band is a multi-dimensional affine partial schedule.
type Band struct {
	// Sched maps statement instances to the band's member dimensions.
	Sched      *UnionMap
	N          int
	Permutable bool
	Coincident []bool
}

func (b *Band) Copy() *Band {
	out := &Band{Sched: b.Sched.Copy(), N: b.N, Permutable: b.Permutable}
	out.Coincident = make([]bool, len(b.Coincident))
	copy(out.Coincident, b.Coincident)
	return out
}

// ScheduleNode is one node of a schedule tree. Exactly the fields relevant
// to Kind are populated.
type ScheduleNode struct {
	Kind        NodeKind
	DomainSet   *UnionSet // KindDomain
	Band        *Band     // KindBand
	Filter      *UnionSet // KindFilter
	MarkName    string    // KindMark
	MarkPayload any       // KindMark; owned by the node
	ContextSet  *Set      // KindContext
	GuardSet    *Set      // KindGuard
	Children    []*ScheduleNode
}

// NewLeaf returns a leaf node.
func NewLeaf() *ScheduleNode { return &ScheduleNode{Kind: KindLeaf} }

// NewDomainNode wraps child under a domain node.
func NewDomainNode(domain *UnionSet, child *ScheduleNode) *ScheduleNode {
	return &ScheduleNode{Kind: KindDomain, DomainSet: domain,
		Children: []*ScheduleNode{child}}
}

// NewBandNode wraps child under a band node.
func NewBandNode(band *Band, child *ScheduleNode) *ScheduleNode {
	return &ScheduleNode{Kind: KindBand, Band: band,
		Children: []*ScheduleNode{child}}
}

// NewFilterNode wraps child under a filter node.
func NewFilterNode(filter *UnionSet, child *ScheduleNode) *ScheduleNode {
	return &ScheduleNode{Kind: KindFilter, Filter: filter,
		Children: []*ScheduleNode{child}}
}

// NewSequenceNode builds a sequence over filtered children.
func NewSequenceNode(children ...*ScheduleNode) *ScheduleNode {
	return &ScheduleNode{Kind: KindSequence, Children: children}
}

// NewMarkNode wraps child under a mark carrying a payload.
func NewMarkNode(name string, payload any, child *ScheduleNode) *ScheduleNode {
	return &ScheduleNode{Kind: KindMark, MarkName: name, MarkPayload: payload,
		Children: []*ScheduleNode{child}}
}

// NewContextNode wraps child under a parameter context restriction.
func NewContextNode(ctx *Set, child *ScheduleNode) *ScheduleNode {
	return &ScheduleNode{Kind: KindContext, ContextSet: ctx,
		Children: []*ScheduleNode{child}}
}

// NewGuardNode wraps child under a guard.
func NewGuardNode(guard *Set, child *ScheduleNode) *ScheduleNode {
	return &ScheduleNode{Kind: KindGuard, GuardSet: guard,
		Children: []*ScheduleNode{child}}
}

// Child returns the i-th child.
func (n *ScheduleNode) Child(i int) *ScheduleNode { return n.Children[i] }

// ReplaceChild swaps the i-th child.
func (n *ScheduleNode) ReplaceChild(i int, c *ScheduleNode) { n.Children[i] = c }

// TileDivMap returns the map [i_0,...] -> [o_0,...] with o_j = floor(i_j/s_j),
// encoded without division as s_j*o_j <= i_j <= s_j*o_j + s_j - 1.
func TileDivMap(params []string, n int, sizes []int64) *Map {
	space := NewMapSpace(params, "", n, "", n)
	bm := UniverseBasicMap(space)
	for j := 0; j < n; j++ {
		s := sizes[j]
		lo := NewConstraint(space)
		lo.SetCoef(DimIn, j, 1).SetCoef(DimOut, j, -s)
		bm = bm.AddInequality(lo)
		hi := NewConstraint(space)
		hi.SetCoef(DimIn, j, -1).SetCoef(DimOut, j, s).SetConst(s - 1)
		bm = bm.AddInequality(hi)
	}
	return MapFromBasicMap(bm)
}

// DimScaleMap returns the map [i_0,...] -> [s_0*i_0,...].
func DimScaleMap(params []string, n int, sizes []int64) *Map {
	space := NewMapSpace(params, "", n, "", n)
	bm := UniverseBasicMap(space)
	for j := 0; j < n; j++ {
		c := NewConstraint(space)
		c.SetCoef(DimOut, j, 1).SetCoef(DimIn, j, -sizes[j])
		bm = bm.AddEquality(c)
	}
	return MapFromBasicMap(bm)
}

// Tile replaces the band schedule by the tile-loop schedule
// floor(member/size) per member, keeping the member flags.
func (b *Band) Tile(sizes []int64) *Band {
	if len(sizes) != b.N {
		panic("poly: band tile size mismatch")
	}
	var params []string
	if len(b.Sched.Maps()) > 0 {
		params = b.Sched.Maps()[0].Space().Params()
	}
	div := UnionMapFromMap(TileDivMap(params, b.N, sizes))
	out := b.Copy()
	out.Sched = b.Sched.ApplyRange(div)
	return out
}

// Scale multiplies each band member by the corresponding size.
func (b *Band) Scale(sizes []int64) *Band {
	if len(sizes) != b.N {
		panic("poly: band scale size mismatch")
	}
	var params []string
	if len(b.Sched.Maps()) > 0 {
		params = b.Sched.Maps()[0].Space().Params()
	}
	mul := UnionMapFromMap(DimScaleMap(params, b.N, sizes))
	out := b.Copy()
	out.Sched = b.Sched.ApplyRange(mul)
	return out
}

// Split divides the band into its first pos members and the rest.
func (b *Band) Split(pos int) (*Band, *Band) {
	if pos <= 0 || pos >= b.N {
		panic("poly: band split position out of range")
	}
	outer := &Band{N: pos, Permutable: b.Permutable,
		Coincident: append([]bool{}, b.Coincident[:pos]...)}
	inner := &Band{N: b.N - pos, Permutable: b.Permutable,
		Coincident: append([]bool{}, b.Coincident[pos:]...)}
	outerUM := EmptyUnionMap()
	innerUM := EmptyUnionMap()
	for _, m := range b.Sched.Maps() {
		outerUM = outerUM.AddMap(m.ProjectOut(DimOut, pos, b.N-pos))
		innerUM = innerUM.AddMap(m.ProjectOut(DimOut, 0, pos))
	}
	outer.Sched = outerUM
	inner.Sched = innerUM
	return outer, inner
}
