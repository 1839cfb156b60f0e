// Package poly provides the integer set/relation algebra, schedule trees and
// AST construction that the GPU code generator is built on.
//
// Sets and relations are unions of "basic" pieces, each a conjunction of
// affine equality and inequality constraints over named integer tuples with
// symbolic parameters. Equality substitution is exact; projection of
// inequalities uses Fourier-Motzkin elimination, which is exact over the
// rationals and an over-approximation over the integers.
package poly

import "fmt"

// DimType selects one of the three dimension blocks of a space.
type DimType int

const (
	DimParam DimType = iota
	DimIn
	DimOut
)

// Space describes the shape of a set or relation: a shared parameter list,
// an input tuple and an output tuple. Sets have no input tuple.
type Space struct {
	params  []string
	inName  string
	nIn     int
	outName string
	nOut    int
	set     bool
}

// NewSetSpace returns the space of sets over an n-dimensional tuple.
func NewSetSpace(params []string, tuple string, n int) *Space {
	return &Space{params: cloneStrings(params), outName: tuple, nOut: n, set: true}
}

// NewMapSpace returns the space of relations from an nIn-dimensional tuple
// to an nOut-dimensional tuple.
func NewMapSpace(params []string, in string, nIn int, out string, nOut int) *Space {
	return &Space{
		params: cloneStrings(params),
		inName: in, nIn: nIn,
		outName: out, nOut: nOut,
	}
}

// NewParamSpace returns the space of zero-dimensional sets, used for
// parameter-only contexts.
func NewParamSpace(params []string) *Space {
	return NewSetSpace(params, "", 0)
}

func cloneStrings(s []string) []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func (s *Space) Copy() *Space {
	c := *s
	c.params = cloneStrings(s.params)
	return &c
}

func (s *Space) IsSet() bool      { return s.set }
func (s *Space) NParam() int      { return len(s.params) }
func (s *Space) NIn() int         { return s.nIn }
func (s *Space) NOut() int        { return s.nOut }
func (s *Space) InName() string   { return s.inName }
func (s *Space) OutName() string  { return s.outName }
func (s *Space) Params() []string { return s.params }

// Dim returns the number of dimensions of the given type.
func (s *Space) Dim(t DimType) int {
	switch t {
	case DimParam:
		return len(s.params)
	case DimIn:
		return s.nIn
	case DimOut:
		return s.nOut
	}
	panic(fmt.Sprintf("poly: invalid dim type %d", t))
}

// offset returns the first column of the given dimension block in the
// [params | in | out | const] row layout.
func (s *Space) offset(t DimType) int {
	switch t {
	case DimParam:
		return 0
	case DimIn:
		return len(s.params)
	case DimOut:
		return len(s.params) + s.nIn
	}
	panic(fmt.Sprintf("poly: invalid dim type %d", t))
}

// cols returns the total number of row columns, including the constant.
func (s *Space) cols() int { return len(s.params) + s.nIn + s.nOut + 1 }

// ParamIndex returns the position of the named parameter, or -1.
func (s *Space) ParamIndex(name string) int {
	for i, p := range s.params {
		if p == name {
			return i
		}
	}
	return -1
}

// EqualTuples reports whether the two spaces have identical tuples.
// Parameter lists may differ; operations align them as needed.
func (s *Space) EqualTuples(o *Space) bool {
	return s.set == o.set && s.inName == o.inName && s.nIn == o.nIn &&
		s.outName == o.outName && s.nOut == o.nOut
}

// SetTupleName renames the input or output tuple.
func (s *Space) SetTupleName(t DimType, name string) *Space {
	c := s.Copy()
	switch t {
	case DimIn:
		c.inName = name
	case DimOut:
		c.outName = name
	default:
		panic("poly: cannot rename parameter tuple")
	}
	return c
}

// AddDims appends n dimensions to the given block.
func (s *Space) AddDims(t DimType, n int) *Space {
	c := s.Copy()
	switch t {
	case DimIn:
		c.nIn += n
		c.set = false
	case DimOut:
		c.nOut += n
	default:
		panic("poly: AddDims on parameters; use AddParams")
	}
	return c
}

// AddParams extends the parameter list with any names not already present.
func (s *Space) AddParams(names []string) *Space {
	c := s.Copy()
	for _, n := range names {
		if c.ParamIndex(n) < 0 {
			c.params = append(c.params, n)
		}
	}
	return c
}

// Reverse swaps the input and output tuples.
func (s *Space) Reverse() *Space {
	if s.set {
		panic("poly: reverse of a set space")
	}
	c := s.Copy()
	c.inName, c.outName = c.outName, c.inName
	c.nIn, c.nOut = c.nOut, c.nIn
	return c
}

// DomainSpace returns the space of the input tuple as a set space.
func (s *Space) DomainSpace() *Space {
	return NewSetSpace(s.params, s.inName, s.nIn)
}

// RangeSpace returns the space of the output tuple as a set space.
func (s *Space) RangeSpace() *Space {
	return NewSetSpace(s.params, s.outName, s.nOut)
}

// MapFromSet turns a set space over T into the space of maps T -> T.
func (s *Space) MapFromSet() *Space {
	if !s.set {
		panic("poly: MapFromSet on a map space")
	}
	return NewMapSpace(s.params, s.outName, s.nOut, s.outName, s.nOut)
}

// MapFromDomainAndRange builds the space of maps between two set spaces.
func MapFromDomainAndRange(dom, ran *Space) *Space {
	if !dom.set || !ran.set {
		panic("poly: MapFromDomainAndRange needs set spaces")
	}
	params := unionParams(dom.params, ran.params)
	return NewMapSpace(params, dom.outName, dom.nOut, ran.outName, ran.nOut)
}

func unionParams(a, b []string) []string {
	out := cloneStrings(a)
	for _, n := range b {
		found := false
		for _, m := range out {
			if m == n {
				found = true
				break
			}
		}
		if !found {
			out = append(out, n)
		}
	}
	return out
}

func (s *Space) String() string {
	if s.set {
		return fmt.Sprintf("{ %s[%d] }", s.outName, s.nOut)
	}
	return fmt.Sprintf("{ %s[%d] -> %s[%d] }", s.inName, s.nIn, s.outName, s.nOut)
}
