// Package scop holds the front-end view of the program fragment under
// compilation: statements, their access references and the scop-level
// relations (reads/writes, dependences, liveness, independences) that the
// GPU code generator consumes.
//
// Tagged relations attach the reference identifier to the statement tuple by
// naming the tuple "Stmt@ref"; Untag strips the tag again. This keeps every
// relation a flat tuple-to-tuple map.
package scop

import (
	"fmt"
	"strings"

	"github.com/PollyLabs/ppcg/poly"
)

// AccessRef is one syntactic access expression inside a statement.
type AccessRef struct {
	ID     string
	Read   bool
	Write  bool
	// ExactWrite is true only for a write whose may-write equals its
	// must-write in an expression statement.
	ExactWrite bool
	NIndex     int
	// Access maps statement instances to array elements.
	Access *poly.Map
	// TaggedAccess is Access with the domain tuple tagged by ID.
	TaggedAccess *poly.Map
	Stmt         *Statement
}

// Statement is one program statement with its iteration domain.
type Statement struct {
	Name     string
	NDim     int
	Domain   *poly.Set
	Body     string
	Accesses []*AccessRef
}

// ArrayDecl is the front-end description of one array.
type ArrayDecl struct {
	Name     string
	ElemType string
	ElemSize int64
	NDim     int
	// Extent is the declared index set; may be loose or unbounded.
	Extent *poly.Set
	// IsStruct marks compound element types.
	IsStruct bool
	// IsLocal marks arrays never visible outside the fragment.
	IsLocal bool
	// ForceLinearized forces flat addressing regardless of bounds.
	ForceLinearized bool
}

// Independence is a front-end annotation listing tagged dependence pairs
// that may be ignored for reordering purposes.
type Independence struct {
	Pairs *poly.UnionMap
}

// Scop is the polyhedral description of one program fragment.
type Scop struct {
	Params  []string
	Context *poly.Set

	Statements []*Statement
	Arrays     []*ArrayDecl

	Reads      *poly.UnionMap
	MayWrites  *poly.UnionMap
	MustWrites *poly.UnionMap

	TaggedReads      *poly.UnionMap
	TaggedMayWrites  *poly.UnionMap
	TaggedMustWrites *poly.UnionMap

	// DepFlow holds true (read-after-write) dependences; DepFalse the
	// anti/output dependences; DepForced the order dependences that must
	// be preserved even under live-range reordering.
	DepFlow   *poly.UnionMap
	DepFalse  *poly.UnionMap
	DepForced *poly.UnionMap

	TaggedDepFlow  *poly.UnionMap
	TaggedDepOrder *poly.UnionMap

	LiveIn  *poly.UnionMap
	LiveOut *poly.UnionMap

	Independences []*Independence
}

// NewScop returns an empty scop over the given parameters with a universe
// context.
func NewScop(params []string) *Scop {
	return &Scop{
		Params:           params,
		Context:          poly.UniverseSet(poly.NewParamSpace(params)),
		Reads:            poly.EmptyUnionMap(),
		MayWrites:        poly.EmptyUnionMap(),
		MustWrites:       poly.EmptyUnionMap(),
		TaggedReads:      poly.EmptyUnionMap(),
		TaggedMayWrites:  poly.EmptyUnionMap(),
		TaggedMustWrites: poly.EmptyUnionMap(),
		DepFlow:          poly.EmptyUnionMap(),
		DepFalse:         poly.EmptyUnionMap(),
		DepForced:        poly.EmptyUnionMap(),
		TaggedDepFlow:    poly.EmptyUnionMap(),
		TaggedDepOrder:   poly.EmptyUnionMap(),
		LiveIn:           poly.EmptyUnionMap(),
		LiveOut:          poly.EmptyUnionMap(),
	}
}

// TagTuple builds the tagged tuple name for a statement and reference.
func TagTuple(stmt, ref string) string { return stmt + "@" + ref }

// UntagTuple strips a reference tag, if any.
func UntagTuple(tagged string) string {
	if i := strings.IndexByte(tagged, '@'); i >= 0 {
		return tagged[:i]
	}
	return tagged
}

// Untag renames the domain (and, for dependences, range) tuples of a tagged
// relation back to plain statement tuples.
func Untag(um *poly.UnionMap) *poly.UnionMap {
	out := poly.EmptyUnionMap()
	for _, m := range um.Maps() {
		r := m.Copy()
		in := UntagTuple(m.Space().InName())
		outName := UntagTuple(m.Space().OutName())
		r = r.SetTupleName(poly.DimIn, in)
		r = r.SetTupleName(poly.DimOut, outName)
		out = out.AddMap(r)
	}
	return out
}

// AddArray registers an array declaration.
func (s *Scop) AddArray(a *ArrayDecl) *ArrayDecl {
	s.Arrays = append(s.Arrays, a)
	return a
}

// AddStatement registers a statement with its iteration domain.
func (s *Scop) AddStatement(name string, domain *poly.Set, body string) *Statement {
	st := &Statement{
		Name:   name,
		NDim:   domain.Space().NOut(),
		Domain: domain.Copy(),
		Body:   body,
	}
	s.Statements = append(s.Statements, st)
	return st
}

// Statement looks a statement up by tuple name.
func (s *Scop) Statement(name string) *Statement {
	for _, st := range s.Statements {
		if st.Name == name {
			return st
		}
	}
	return nil
}

// Array looks an array declaration up by name.
func (s *Scop) Array(name string) *ArrayDecl {
	for _, a := range s.Arrays {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// AddAccess attaches an access reference to a statement and folds its
// relations into the scop-level unions. The access map must go from the
// statement tuple to an array tuple.
func (s *Scop) AddAccess(st *Statement, read, write, exact bool, access *poly.Map) *AccessRef {
	if access.Space().InName() != st.Name {
		panic(fmt.Sprintf("scop: access domain %q does not match statement %q",
			access.Space().InName(), st.Name))
	}
	ref := &AccessRef{
		ID:         fmt.Sprintf("ref%d_%d", len(s.Statements)-1, len(st.Accesses)),
		Read:       read,
		Write:      write,
		ExactWrite: exact,
		NIndex:     access.Space().NOut(),
		Access:     access.Copy(),
		Stmt:       st,
	}
	ref.TaggedAccess = access.SetTupleName(poly.DimIn, TagTuple(st.Name, ref.ID))
	st.Accesses = append(st.Accesses, ref)

	restricted := access.IntersectDomain(st.Domain)
	tagged := restricted.SetTupleName(poly.DimIn, TagTuple(st.Name, ref.ID))
	if read {
		s.Reads = s.Reads.AddMap(restricted.Copy())
		s.TaggedReads = s.TaggedReads.AddMap(tagged.Copy())
	}
	if write {
		s.MayWrites = s.MayWrites.AddMap(restricted.Copy())
		s.TaggedMayWrites = s.TaggedMayWrites.AddMap(tagged.Copy())
		if exact {
			s.MustWrites = s.MustWrites.AddMap(restricted.Copy())
			s.TaggedMustWrites = s.TaggedMustWrites.AddMap(tagged.Copy())
		}
	}
	return ref
}

// Domain returns the union of all statement domains.
func (s *Scop) Domain() *poly.UnionSet {
	out := poly.EmptyUnionSet()
	for _, st := range s.Statements {
		out = out.AddSet(st.Domain.Copy())
	}
	return out
}

// FindAccess resolves a reference id within a statement.
func (st *Statement) FindAccess(id string) *AccessRef {
	for _, a := range st.Accesses {
		if a.ID == id {
			return a
		}
	}
	return nil
}
