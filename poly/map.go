package poly

import "fmt"

// Map is a union of basic maps over a single pair of tuples.
type Map struct {
	space  *Space
	pieces []*BasicMap
}

// Set is a union of basic sets over a single tuple.
type Set struct {
	space  *Space
	pieces []*BasicMap
}

// UniverseMap returns the unconstrained relation over the given space.
func UniverseMap(space *Space) *Map {
	return &Map{space: space.Copy(), pieces: []*BasicMap{UniverseBasicMap(space)}}
}

// EmptyMap returns the empty relation over the given space.
func EmptyMap(space *Space) *Map {
	return &Map{space: space.Copy()}
}

// MapFromBasicMap wraps a single basic map.
func MapFromBasicMap(bm *BasicMap) *Map {
	return &Map{space: bm.space.Copy(), pieces: []*BasicMap{bm}}
}

// UniverseSet returns the unconstrained set over the given space.
func UniverseSet(space *Space) *Set {
	return &Set{space: space.Copy(), pieces: []*BasicMap{UniverseBasicMap(space)}}
}

// EmptySet returns the empty set over the given space.
func EmptySet(space *Space) *Set {
	return &Set{space: space.Copy()}
}

// SetFromBasicMap wraps a single basic piece with no input tuple.
func SetFromBasicMap(bm *BasicMap) *Set {
	if bm.space.nIn != 0 {
		panic("poly: set piece with input dimensions")
	}
	return &Set{space: bm.space.Copy(), pieces: []*BasicMap{bm}}
}

func (m *Map) Space() *Space         { return m.space }
func (m *Map) Pieces() []*BasicMap   { return m.pieces }
func (s *Set) Space() *Space         { return s.space }
func (s *Set) Pieces() []*BasicMap   { return s.pieces }
func (s *Set) asMap() *Map           { return &Map{space: s.space, pieces: s.pieces} }
func setFromMap(m *Map) *Set         { return &Set{space: m.space, pieces: m.pieces} }

func (m *Map) Copy() *Map {
	pieces := make([]*BasicMap, len(m.pieces))
	for i, p := range m.pieces {
		pieces[i] = p.Copy()
	}
	return &Map{space: m.space.Copy(), pieces: pieces}
}

func (s *Set) Copy() *Set { return setFromMap(s.asMap().Copy()) }

// Union merges two relations over the same tuples.
func (m *Map) Union(o *Map) *Map {
	if !m.space.EqualTuples(o.space) {
		panic("poly: union of incompatible spaces")
	}
	params := unionParams(m.space.params, o.space.params)
	out := &Map{space: m.space.Copy()}
	out.space.params = cloneStrings(params)
	for _, p := range m.pieces {
		out.pieces = append(out.pieces, p.alignParams(params))
	}
	for _, p := range o.pieces {
		out.pieces = append(out.pieces, p.alignParams(params))
	}
	return out
}

func (s *Set) Union(o *Set) *Set { return setFromMap(s.asMap().Union(o.asMap())) }

// Intersect returns the pointwise intersection.
func (m *Map) Intersect(o *Map) *Map {
	out := &Map{space: m.space.Copy()}
	for _, a := range m.pieces {
		for _, b := range o.pieces {
			p := a.Intersect(b)
			if !p.IsEmpty() {
				out.pieces = append(out.pieces, p)
			}
		}
	}
	if len(out.pieces) > 0 {
		out.space = out.pieces[0].space.Copy()
	}
	return out
}

func (s *Set) Intersect(o *Set) *Set { return setFromMap(s.asMap().Intersect(o.asMap())) }

// IntersectParams restricts the relation to a parameter-only context set.
func (m *Map) IntersectParams(ctx *Set) *Map {
	out := &Map{space: m.space.Copy()}
	for _, a := range m.pieces {
		for _, b := range ctx.pieces {
			bb := b.InsertDims(DimOut, 0, m.space.nOut)
			if m.space.nIn > 0 {
				bb.space.set = false
				bb = bb.InsertDims(DimIn, 0, m.space.nIn)
			}
			bb.space = m.space.Copy().AddParams(bb.space.params)
			p := a.Intersect(bb)
			if !p.IsEmpty() {
				out.pieces = append(out.pieces, p)
			}
		}
	}
	if len(out.pieces) > 0 {
		out.space = out.pieces[0].space.Copy()
	}
	return out
}

func (s *Set) IntersectParams(ctx *Set) *Set {
	return setFromMap(s.asMap().IntersectParams(ctx))
}

// IntersectDomain restricts the domain of the relation to the given set.
func (m *Map) IntersectDomain(dom *Set) *Map {
	if dom.space.outName != m.space.inName || dom.space.nOut != m.space.nIn {
		panic("poly: IntersectDomain tuple mismatch")
	}
	out := &Map{space: m.space.Copy()}
	for _, a := range m.pieces {
		for _, b := range dom.pieces {
			bb := b.Copy()
			// Set dims become input dims of the map space.
			bb.space = NewMapSpace(bb.space.params, dom.space.outName, dom.space.nOut,
				m.space.outName, 0)
			bb = bb.InsertDims(DimOut, 0, m.space.nOut)
			p := a.Intersect(bb)
			if !p.IsEmpty() {
				out.pieces = append(out.pieces, p)
			}
		}
	}
	if len(out.pieces) > 0 {
		out.space = out.pieces[0].space.Copy()
	}
	return out
}

// IntersectRange restricts the range of the relation to the given set.
func (m *Map) IntersectRange(ran *Set) *Map {
	return m.Reverse().IntersectDomain(ran).Reverse()
}

// Reverse swaps domain and range.
func (m *Map) Reverse() *Map {
	out := &Map{space: m.space.Reverse()}
	for _, p := range m.pieces {
		np := &BasicMap{space: p.space.Reverse()}
		nP := len(p.space.params)
		nIn := p.space.nIn
		nOut := p.space.nOut
		remap := func(rows [][]int64) [][]int64 {
			res := make([][]int64, len(rows))
			for i, r := range rows {
				nr := make([]int64, len(r))
				copy(nr[:nP], r[:nP])
				copy(nr[nP:nP+nOut], r[nP+nIn:nP+nIn+nOut])
				copy(nr[nP+nOut:nP+nOut+nIn], r[nP:nP+nIn])
				nr[len(nr)-1] = r[len(r)-1]
				res[i] = nr
			}
			return res
		}
		np.eq = remap(p.eq)
		np.ineq = remap(p.ineq)
		out.pieces = append(out.pieces, np)
	}
	return out
}

// Domain projects the relation onto its input tuple.
func (m *Map) Domain() *Set {
	out := &Set{space: m.space.DomainSpace()}
	for _, p := range m.pieces {
		q := p.ProjectOut(DimOut, 0, p.space.nOut)
		// Remaining input dims become set dims.
		q.space = NewSetSpace(q.space.params, p.space.inName, p.space.nIn)
		q2 := &BasicMap{space: q.space, eq: q.eq, ineq: q.ineq}
		if !q2.IsEmpty() {
			out.pieces = append(out.pieces, q2)
		}
	}
	return out
}

// Range projects the relation onto its output tuple.
func (m *Map) Range() *Set {
	out := &Set{space: m.space.RangeSpace()}
	for _, p := range m.pieces {
		nIn := p.space.nIn
		q, ok := p.projectOutCols(len(p.space.params), nIn)
		if !ok {
			continue
		}
		q.space = NewSetSpace(p.space.params, p.space.outName, p.space.nOut)
		if !q.IsEmpty() {
			out.pieces = append(out.pieces, q)
		}
	}
	return out
}

// ApplyRange composes m : A -> B with o : B -> C into A -> C.
func (m *Map) ApplyRange(o *Map) *Map {
	if m.space.outName != o.space.inName || m.space.nOut != o.space.nIn {
		panic(fmt.Sprintf("poly: ApplyRange mismatch %s . %s", m.space, o.space))
	}
	params := unionParams(m.space.params, o.space.params)
	space := NewMapSpace(params, m.space.inName, m.space.nIn, o.space.outName, o.space.nOut)
	out := &Map{space: space}
	nP := len(params)
	nA := m.space.nIn
	nB := m.space.nOut
	nC := o.space.nOut
	for _, pa := range m.pieces {
		a := pa.alignParams(params)
		for _, pb := range o.pieces {
			b := pb.alignParams(params)
			// Columns [params | A | B | C | 1]; eliminate B.
			comb := &BasicMap{space: NewMapSpace(params, m.space.inName, nA+nB, o.space.outName, nC)}
			grow := func(rows [][]int64, isA bool) [][]int64 {
				res := make([][]int64, len(rows))
				for i, r := range rows {
					nr := make([]int64, nP+nA+nB+nC+1)
					copy(nr[:nP], r[:nP])
					if isA {
						copy(nr[nP:nP+nA+nB], r[nP:nP+nA+nB])
					} else {
						copy(nr[nP+nA:nP+nA+nB+nC], r[nP:nP+nB+nC])
					}
					nr[len(nr)-1] = r[len(r)-1]
					res[i] = nr
				}
				return res
			}
			comb.eq = append(grow(a.eq, true), grow(b.eq, false)...)
			comb.ineq = append(grow(a.ineq, true), grow(b.ineq, false)...)
			q, ok := comb.projectOutCols(nP+nA, nB)
			if !ok {
				continue
			}
			q.space = space.Copy()
			if !q.IsEmpty() {
				out.pieces = append(out.pieces, q)
			}
		}
	}
	return out
}

// ApplyDomain composes m : A -> B with o : A -> C into C -> B.
func (m *Map) ApplyDomain(o *Map) *Map {
	return o.Reverse().ApplyRange(m)
}

// Apply transforms a set through a relation: s.Apply(m) = m(s).
func (s *Set) Apply(m *Map) *Set {
	return m.IntersectDomain(s).Range()
}

// RangeProduct combines m : D -> A and o : D -> B into D -> [A, B] with an
// anonymous flattened range.
func (m *Map) RangeProduct(o *Map) *Map {
	if m.space.inName != o.space.inName || m.space.nIn != o.space.nIn {
		panic("poly: RangeProduct domain mismatch")
	}
	params := unionParams(m.space.params, o.space.params)
	nP := len(params)
	nD := m.space.nIn
	nA := m.space.nOut
	nB := o.space.nOut
	space := NewMapSpace(params, m.space.inName, nD, "", nA+nB)
	out := &Map{space: space}
	for _, pa := range m.pieces {
		a := pa.alignParams(params)
		for _, pb := range o.pieces {
			b := pb.alignParams(params)
			comb := &BasicMap{space: space.Copy()}
			growA := func(rows [][]int64) [][]int64 {
				res := make([][]int64, len(rows))
				for i, r := range rows {
					nr := make([]int64, nP+nD+nA+nB+1)
					copy(nr[:nP+nD+nA], r[:nP+nD+nA])
					nr[len(nr)-1] = r[len(r)-1]
					res[i] = nr
				}
				return res
			}
			growB := func(rows [][]int64) [][]int64 {
				res := make([][]int64, len(rows))
				for i, r := range rows {
					nr := make([]int64, nP+nD+nA+nB+1)
					copy(nr[:nP+nD], r[:nP+nD])
					copy(nr[nP+nD+nA:nP+nD+nA+nB], r[nP+nD:nP+nD+nB])
					nr[len(nr)-1] = r[len(r)-1]
					res[i] = nr
				}
				return res
			}
			comb.eq = append(growA(a.eq), growB(b.eq)...)
			comb.ineq = append(growA(a.ineq), growB(b.ineq)...)
			if !comb.IsEmpty() {
				out.pieces = append(out.pieces, comb)
			}
		}
	}
	return out
}

// Subtract removes the points of o from m.
func (m *Map) Subtract(o *Map) *Map {
	if !m.space.EqualTuples(o.space) {
		panic("poly: subtract of incompatible spaces")
	}
	params := unionParams(m.space.params, o.space.params)
	cur := make([]*BasicMap, 0, len(m.pieces))
	for _, p := range m.pieces {
		cur = append(cur, p.alignParams(params))
	}
	for _, sub := range o.pieces {
		sub = sub.alignParams(params)
		var next []*BasicMap
		for _, p := range cur {
			// p minus a conjunction: union over negated constraints.
			// A subtrahend piece with no constraints is the universe and
			// removes p entirely.
			for _, r := range sub.ineq {
				q := p.Copy()
				q.ineq = append(q.ineq, negateIneq(r))
				if !q.IsEmpty() {
					next = append(next, q)
				}
			}
			for _, r := range sub.eq {
				lo := p.Copy()
				pos := make([]int64, len(r))
				copy(pos, r)
				pos[len(pos)-1]--
				lo.ineq = append(lo.ineq, pos)
				if !lo.IsEmpty() {
					next = append(next, lo)
				}
				hi := p.Copy()
				hi.ineq = append(hi.ineq, negateIneq(r))
				if !hi.IsEmpty() {
					next = append(next, hi)
				}
			}
		}
		cur = next
	}
	out := &Map{space: m.space.Copy()}
	out.space.params = cloneStrings(params)
	out.pieces = cur
	return out
}

func (s *Set) Subtract(o *Set) *Set { return setFromMap(s.asMap().Subtract(o.asMap())) }

// IsEmpty reports whether the relation contains no point.
func (m *Map) IsEmpty() bool {
	for _, p := range m.pieces {
		if !p.IsEmpty() {
			return false
		}
	}
	return true
}

func (s *Set) IsEmpty() bool { return s.asMap().IsEmpty() }

// IsSubset reports whether m is contained in o.
func (m *Map) IsSubset(o *Map) bool { return m.Subtract(o).IsEmpty() }

// IsEqual reports set equality.
func (m *Map) IsEqual(o *Map) bool { return m.IsSubset(o) && o.IsSubset(m) }

func (s *Set) IsSubset(o *Set) bool { return s.asMap().IsSubset(o.asMap()) }
func (s *Set) IsEqual(o *Set) bool  { return s.asMap().IsEqual(o.asMap()) }

// ProjectOut existentially eliminates dimensions.
func (m *Map) ProjectOut(t DimType, pos, n int) *Map {
	out := &Map{}
	for _, p := range m.pieces {
		q := p.ProjectOut(t, pos, n)
		if !q.IsEmpty() {
			out.pieces = append(out.pieces, q)
		}
	}
	sp := m.space.Copy()
	switch t {
	case DimIn:
		sp.nIn -= n
	case DimOut:
		sp.nOut -= n
	case DimParam:
		sp.params = append(cloneStrings(sp.params[:pos]), sp.params[pos+n:]...)
	}
	out.space = sp
	return out
}

func (s *Set) ProjectOut(t DimType, pos, n int) *Set {
	return setFromMap(s.asMap().ProjectOut(t, pos, n))
}

// Eliminate existentially quantifies dimensions without removing them.
func (m *Map) Eliminate(t DimType, pos, n int) *Map {
	out := m.ProjectOut(t, pos, n)
	out2 := &Map{space: m.space.Copy()}
	for _, p := range out.pieces {
		out2.pieces = append(out2.pieces, p.InsertDims(t, pos, n))
	}
	return out2
}

// InsertDims inserts unconstrained dimensions.
func (m *Map) InsertDims(t DimType, pos, n int) *Map {
	out := &Map{}
	for _, p := range m.pieces {
		out.pieces = append(out.pieces, p.InsertDims(t, pos, n))
	}
	sp := m.space.Copy()
	switch t {
	case DimIn:
		sp.nIn += n
	case DimOut:
		sp.nOut += n
	}
	out.space = sp
	return out
}

func (s *Set) InsertDims(pos, n int) *Set {
	return setFromMap(s.asMap().InsertDims(DimOut, pos, n))
}

// Fix constrains a dimension to a constant.
func (m *Map) Fix(t DimType, pos int, v int64) *Map {
	out := &Map{space: m.space.Copy()}
	for _, p := range m.pieces {
		out.pieces = append(out.pieces, p.Fix(t, pos, v))
	}
	return out
}

func (s *Set) Fix(pos int, v int64) *Set {
	return setFromMap(s.asMap().Fix(DimOut, pos, v))
}

// Equate constrains two dimensions to be equal.
func (m *Map) Equate(t1 DimType, p1 int, t2 DimType, p2 int) *Map {
	out := &Map{space: m.space.Copy()}
	for _, p := range m.pieces {
		out.pieces = append(out.pieces, p.Equate(t1, p1, t2, p2))
	}
	return out
}

// SetTupleName renames a tuple.
func (m *Map) SetTupleName(t DimType, name string) *Map {
	out := m.Copy()
	out.space = out.space.SetTupleName(t, name)
	for _, p := range out.pieces {
		p.space = p.space.SetTupleName(t, name)
	}
	return out
}

func (s *Set) SetTupleName(name string) *Set {
	return setFromMap(s.asMap().SetTupleName(DimOut, name))
}

// AddParams extends the parameter list.
func (m *Map) AddParams(names []string) *Map {
	params := unionParams(m.space.params, names)
	out := &Map{space: m.space.Copy()}
	out.space.params = cloneStrings(params)
	for _, p := range m.pieces {
		q := p.alignParams(params)
		out.pieces = append(out.pieces, q)
	}
	return out
}

func (s *Set) AddParams(names []string) *Set {
	return setFromMap(s.asMap().AddParams(names))
}

// Gist simplifies the relation under the assumption that the context holds:
// constraints entailed by the context are dropped.
func (m *Map) Gist(ctx *Map) *Map {
	out := &Map{space: m.space.Copy()}
	for _, p := range m.pieces {
		q := UniverseBasicMap(p.space)
		keep := func(row []int64, isEq bool) bool {
			// Drop the row if every context piece entails it.
			for _, cp := range ctx.pieces {
				t := cp.Intersect(&BasicMap{space: p.space,
					ineq: [][]int64{negateIneq(alignRow(row, p.space, cp.space))}})
				if !t.IsEmpty() {
					return true
				}
				if isEq {
					pos := make([]int64, len(row))
					copy(pos, alignRow(row, p.space, cp.space))
					pos[len(pos)-1]--
					t = cp.Intersect(&BasicMap{space: p.space, ineq: [][]int64{pos}})
					if !t.IsEmpty() {
						return true
					}
				}
			}
			return false
		}
		for _, r := range p.eq {
			if keep(r, true) {
				q.eq = append(q.eq, cloneRow(r))
			}
		}
		for _, r := range p.ineq {
			if keep(r, false) {
				q.ineq = append(q.ineq, cloneRow(r))
			}
		}
		out.pieces = append(out.pieces, q)
	}
	return out
}

func alignRow(row []int64, from, to *Space) []int64 {
	// Rows are only compared across identically laid out spaces.
	if from.cols() != to.cols() {
		panic("poly: gist context layout mismatch")
	}
	return cloneRow(row)
}

func cloneRow(r []int64) []int64 {
	out := make([]int64, len(r))
	copy(out, r)
	return out
}

// GistParams simplifies under a parameter-only context.
func (m *Map) GistParams(ctx *Set) *Map {
	ext := &Map{space: m.space.Copy()}
	for _, b := range ctx.pieces {
		bb := b.InsertDims(DimOut, 0, m.space.nOut)
		if m.space.nIn > 0 {
			bb.space.set = false
			bb = bb.InsertDims(DimIn, 0, m.space.nIn)
		}
		bb.space = m.space.Copy().AddParams(bb.space.params)
		ext.pieces = append(ext.pieces, bb)
	}
	return m.Gist(ext)
}

func (s *Set) GistParams(ctx *Set) *Set {
	return setFromMap(s.asMap().GistParams(ctx))
}

func (s *Set) Gist(ctx *Set) *Set {
	return setFromMap(s.asMap().Gist(ctx.asMap()))
}

// SimpleHull returns a single basic piece containing the whole union:
// the constraints of the pieces that are valid for every piece.
func (m *Map) SimpleHull() *BasicMap {
	if len(m.pieces) == 0 {
		return emptyLike(m.space)
	}
	hull := UniverseBasicMap(m.pieces[0].space)
	validForAll := func(row []int64) bool {
		for _, p := range m.pieces {
			t := p.Intersect(&BasicMap{space: p.space, ineq: [][]int64{negateIneq(cloneRow(row))}})
			if !t.IsEmpty() {
				return false
			}
		}
		return true
	}
	for _, p := range m.pieces {
		for _, r := range p.eq {
			neg := make([]int64, len(r))
			for i, v := range r {
				neg[i] = -v
			}
			if validForAll(r) && validForAll(neg) {
				hull.eq = append(hull.eq, cloneRow(r))
			} else if validForAll(r) {
				hull.ineq = append(hull.ineq, cloneRow(r))
			} else if validForAll(neg) {
				hull.ineq = append(hull.ineq, neg)
			}
		}
		for _, r := range p.ineq {
			if validForAll(r) {
				hull.ineq = append(hull.ineq, cloneRow(r))
			}
		}
	}
	return hull
}

func (s *Set) SimpleHull() *BasicMap { return s.asMap().SimpleHull() }

// Coalesce is a no-op provided for call-site symmetry with the usual
// polyhedral library API.
func (m *Map) Coalesce() *Map { return m }
func (s *Set) Coalesce() *Set { return s }

// Identity returns the identity relation over a set space.
func Identity(space *Space) *Map {
	ms := space.MapFromSet()
	bm := UniverseBasicMap(ms)
	for i := 0; i < ms.nIn; i++ {
		bm = bm.Equate(DimIn, i, DimOut, i)
	}
	return MapFromBasicMap(bm)
}

// FromDomain turns a set into the relation S -> { [] }.
func (s *Set) FromDomain() *Map {
	sp := NewMapSpace(s.space.params, s.space.outName, s.space.nOut, "", 0)
	out := &Map{space: sp}
	for _, p := range s.pieces {
		q := p.Copy()
		q.space = sp.Copy()
		out.pieces = append(out.pieces, q)
	}
	return out
}

func (m *Map) String() string {
	return fmt.Sprintf("map %s (%d pieces)", m.space, len(m.pieces))
}

func (s *Set) String() string {
	return fmt.Sprintf("set %s (%d pieces)", s.space, len(s.pieces))
}
