package poly

import (
	"sort"
	"strings"
)

// UnionMap is a union of relations over possibly different tuple pairs.
type UnionMap struct {
	maps []*Map
}

// UnionSet is a union of sets over possibly different tuples.
type UnionSet struct {
	sets []*Set
}

// EmptyUnionMap returns a union map with no relations.
func EmptyUnionMap() *UnionMap { return &UnionMap{} }

// EmptyUnionSet returns a union set with no sets.
func EmptyUnionSet() *UnionSet { return &UnionSet{} }

// UnionMapFromMap wraps a single relation.
func UnionMapFromMap(m *Map) *UnionMap {
	if m.IsEmpty() {
		return &UnionMap{}
	}
	return &UnionMap{maps: []*Map{m}}
}

// UnionSetFromSet wraps a single set.
func UnionSetFromSet(s *Set) *UnionSet {
	if s.IsEmpty() {
		return &UnionSet{}
	}
	return &UnionSet{sets: []*Set{s}}
}

func sameTuplePair(a, b *Space) bool {
	return a.inName == b.inName && a.nIn == b.nIn &&
		a.outName == b.outName && a.nOut == b.nOut
}

func sameTuple(a, b *Space) bool {
	return a.outName == b.outName && a.nOut == b.nOut
}

// AddMap unions a relation into the union map.
func (u *UnionMap) AddMap(m *Map) *UnionMap {
	if m == nil || m.IsEmpty() {
		return u
	}
	for i, e := range u.maps {
		if sameTuplePair(e.space, m.space) {
			u.maps[i] = e.Union(m)
			return u
		}
	}
	u.maps = append(u.maps, m.Copy())
	return u
}

// AddSet unions a set into the union set.
func (u *UnionSet) AddSet(s *Set) *UnionSet {
	if s == nil || s.IsEmpty() {
		return u
	}
	for i, e := range u.sets {
		if sameTuple(e.space, s.space) {
			u.sets[i] = e.Union(s)
			return u
		}
	}
	u.sets = append(u.sets, s.Copy())
	return u
}

func (u *UnionMap) Maps() []*Map { return u.maps }
func (u *UnionSet) Sets() []*Set { return u.sets }

func (u *UnionMap) Copy() *UnionMap {
	out := &UnionMap{}
	for _, m := range u.maps {
		out.maps = append(out.maps, m.Copy())
	}
	return out
}

func (u *UnionSet) Copy() *UnionSet {
	out := &UnionSet{}
	for _, s := range u.sets {
		out.sets = append(out.sets, s.Copy())
	}
	return out
}

// Union merges two union maps.
func (u *UnionMap) Union(o *UnionMap) *UnionMap {
	out := u.Copy()
	for _, m := range o.maps {
		out = out.AddMap(m)
	}
	return out
}

func (u *UnionSet) Union(o *UnionSet) *UnionSet {
	out := u.Copy()
	for _, s := range o.sets {
		out = out.AddSet(s)
	}
	return out
}

// Intersect keeps, per matching tuple pair, the pointwise intersection.
func (u *UnionMap) Intersect(o *UnionMap) *UnionMap {
	out := &UnionMap{}
	for _, a := range u.maps {
		for _, b := range o.maps {
			if sameTuplePair(a.space, b.space) {
				out = out.AddMap(a.Intersect(b))
			}
		}
	}
	return out
}

func (u *UnionSet) Intersect(o *UnionSet) *UnionSet {
	out := &UnionSet{}
	for _, a := range u.sets {
		for _, b := range o.sets {
			if sameTuple(a.space, b.space) {
				out = out.AddSet(a.Intersect(b))
			}
		}
	}
	return out
}

// Subtract removes matching-space points; relations with no counterpart in o
// are kept whole.
func (u *UnionMap) Subtract(o *UnionMap) *UnionMap {
	out := &UnionMap{}
	for _, a := range u.maps {
		res := a
		for _, b := range o.maps {
			if sameTuplePair(a.space, b.space) {
				res = res.Subtract(b)
			}
		}
		out = out.AddMap(res)
	}
	return out
}

func (u *UnionSet) Subtract(o *UnionSet) *UnionSet {
	out := &UnionSet{}
	for _, a := range u.sets {
		res := a
		for _, b := range o.sets {
			if sameTuple(a.space, b.space) {
				res = res.Subtract(b)
			}
		}
		out = out.AddSet(res)
	}
	return out
}

// IntersectParams restricts every relation to a parameter context.
func (u *UnionMap) IntersectParams(ctx *Set) *UnionMap {
	out := &UnionMap{}
	for _, m := range u.maps {
		out = out.AddMap(m.IntersectParams(ctx))
	}
	return out
}

func (u *UnionSet) IntersectParams(ctx *Set) *UnionSet {
	out := &UnionSet{}
	for _, s := range u.sets {
		out = out.AddSet(s.IntersectParams(ctx))
	}
	return out
}

// IntersectDomain restricts domains to the matching sets of dom.
func (u *UnionMap) IntersectDomain(dom *UnionSet) *UnionMap {
	out := &UnionMap{}
	for _, m := range u.maps {
		for _, s := range dom.sets {
			if s.space.outName == m.space.inName && s.space.nOut == m.space.nIn {
				out = out.AddMap(m.IntersectDomain(s))
			}
		}
	}
	return out
}

// IntersectRange restricts ranges to the matching sets of ran.
func (u *UnionMap) IntersectRange(ran *UnionSet) *UnionMap {
	return u.Reverse().IntersectDomain(ran).Reverse()
}

// Reverse swaps domain and range of every relation.
func (u *UnionMap) Reverse() *UnionMap {
	out := &UnionMap{}
	for _, m := range u.maps {
		out = out.AddMap(m.Reverse())
	}
	return out
}

// Domain collects the domains of all relations.
func (u *UnionMap) Domain() *UnionSet {
	out := &UnionSet{}
	for _, m := range u.maps {
		out = out.AddSet(m.Domain())
	}
	return out
}

// Range collects the ranges of all relations.
func (u *UnionMap) Range() *UnionSet {
	out := &UnionSet{}
	for _, m := range u.maps {
		out = out.AddSet(m.Range())
	}
	return out
}

// ApplyRange composes matching relations: { A -> B } . { B -> C } = { A -> C }.
func (u *UnionMap) ApplyRange(o *UnionMap) *UnionMap {
	out := &UnionMap{}
	for _, a := range u.maps {
		for _, b := range o.maps {
			if a.space.outName == b.space.inName && a.space.nOut == b.space.nIn {
				out = out.AddMap(a.ApplyRange(b))
			}
		}
	}
	return out
}

// ApplyDomain composes matching relations on the domain side:
// { A -> B } applied with { A -> C } yields { C -> B }.
func (u *UnionMap) ApplyDomain(o *UnionMap) *UnionMap {
	out := &UnionMap{}
	for _, a := range u.maps {
		for _, b := range o.maps {
			if a.space.inName == b.space.inName && a.space.nIn == b.space.nIn {
				out = out.AddMap(a.ApplyDomain(b))
			}
		}
	}
	return out
}

// Apply transforms a union set through a union map.
func (u *UnionSet) Apply(m *UnionMap) *UnionSet {
	out := &UnionSet{}
	for _, s := range u.sets {
		for _, mm := range m.maps {
			if mm.space.inName == s.space.outName && mm.space.nIn == s.space.nOut {
				out = out.AddSet(s.Apply(mm))
			}
		}
	}
	return out
}

// RangeProduct combines relations sharing a domain tuple into
// { D -> [A, B] } with a flattened anonymous range.
func (u *UnionMap) RangeProduct(o *UnionMap) *UnionMap {
	out := &UnionMap{}
	for _, a := range u.maps {
		for _, b := range o.maps {
			if a.space.inName == b.space.inName && a.space.nIn == b.space.nIn {
				out = out.AddMap(a.RangeProduct(b))
			}
		}
	}
	return out
}

// IsEmpty reports whether no relation holds any point.
func (u *UnionMap) IsEmpty() bool {
	for _, m := range u.maps {
		if !m.IsEmpty() {
			return false
		}
	}
	return true
}

func (u *UnionSet) IsEmpty() bool {
	for _, s := range u.sets {
		if !s.IsEmpty() {
			return false
		}
	}
	return true
}

// IsSubset reports containment, matching relations by tuple pair.
func (u *UnionMap) IsSubset(o *UnionMap) bool {
	return u.Subtract(o).IsEmpty()
}

func (u *UnionMap) IsEqual(o *UnionMap) bool {
	return u.IsSubset(o) && o.IsSubset(u)
}

func (u *UnionSet) IsSubset(o *UnionSet) bool { return u.Subtract(o).IsEmpty() }
func (u *UnionSet) IsEqual(o *UnionSet) bool  { return u.IsSubset(o) && o.IsSubset(u) }

// GistParams simplifies every relation under a parameter context.
func (u *UnionMap) GistParams(ctx *Set) *UnionMap {
	out := &UnionMap{}
	for _, m := range u.maps {
		out = out.AddMap(m.GistParams(ctx))
	}
	return out
}

// ExtractMap returns the relation over the given tuple pair, or an empty
// relation of that shape.
func (u *UnionMap) ExtractMap(space *Space) *Map {
	for _, m := range u.maps {
		if sameTuplePair(m.space, space) {
			return m.Copy()
		}
	}
	return EmptyMap(space)
}

// ExtractSet returns the set over the given tuple, or an empty set.
func (u *UnionSet) ExtractSet(space *Space) *Set {
	for _, s := range u.sets {
		if sameTuple(s.space, space) {
			return s.Copy()
		}
	}
	return EmptySet(space)
}

func (u *UnionMap) String() string {
	names := make([]string, 0, len(u.maps))
	for _, m := range u.maps {
		names = append(names, m.space.String())
	}
	sort.Strings(names)
	return "union map { " + strings.Join(names, "; ") + " }"
}

func (u *UnionSet) String() string {
	names := make([]string, 0, len(u.sets))
	for _, s := range u.sets {
		names = append(names, s.space.String())
	}
	sort.Strings(names)
	return "union set { " + strings.Join(names, "; ") + " }"
}
