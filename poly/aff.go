package poly

import (
	"errors"
	"fmt"
)

// ErrUnbounded is returned when a requested bound does not exist.
var ErrUnbounded = errors.New("poly: dimension is unbounded")

// ErrNotAffine is returned when a relation does not determine a dimension
// as a single affine expression.
var ErrNotAffine = errors.New("poly: dimension is not uniquely affine")

// Aff is an integer affine expression floor((c·[params,in] + cst) / den)
// over a parameter list and a block of input dimensions. Den is 1 for
// genuinely affine expressions; larger denominators arise from bound
// extraction and are exact at every integer point they are used on.
type Aff struct {
	Params []string
	NIn    int
	Coef   []int64 // length len(Params)+NIn
	Cst    int64
	Den    int64
}

// NewAff returns the zero expression.
func NewAff(params []string, nIn int) Aff {
	return Aff{Params: cloneStrings(params), NIn: nIn,
		Coef: make([]int64, len(params)+nIn), Den: 1}
}

// ConstAff returns a constant expression.
func ConstAff(params []string, nIn int, v int64) Aff {
	a := NewAff(params, nIn)
	a.Cst = v
	return a
}

// DimAff returns the expression selecting input dimension pos.
func DimAff(params []string, nIn, pos int) Aff {
	a := NewAff(params, nIn)
	a.Coef[len(params)+pos] = 1
	return a
}

// ParamAff returns the expression selecting the named parameter.
func ParamAff(params []string, nIn int, name string) Aff {
	a := NewAff(params, nIn)
	for i, p := range params {
		if p == name {
			a.Coef[i] = 1
			return a
		}
	}
	panic("poly: unknown parameter " + name)
}

// IsConstant reports whether the expression has no variable terms.
func (a Aff) IsConstant() bool {
	for _, c := range a.Coef {
		if c != 0 {
			return false
		}
	}
	return true
}

// ConstantVal returns the value of a constant expression.
func (a Aff) ConstantVal() int64 {
	if !a.IsConstant() {
		panic("poly: ConstantVal of non-constant affine expression")
	}
	return floorDiv(a.Cst, a.Den)
}

// AddConstant returns a + v.
func (a Aff) AddConstant(v int64) Aff {
	out := a.copy()
	out.Cst += v * out.Den
	return out
}

// Neg returns -a; only exact for Den == 1.
func (a Aff) Neg() Aff {
	if a.Den != 1 {
		panic("poly: Neg of quasi-affine expression")
	}
	out := a.copy()
	for i := range out.Coef {
		out.Coef[i] = -out.Coef[i]
	}
	out.Cst = -out.Cst
	return out
}

// Sub returns a - b for expressions with Den == 1 over the same shape.
func (a Aff) Sub(b Aff) Aff {
	if a.Den != 1 || b.Den != 1 {
		panic("poly: Sub of quasi-affine expressions")
	}
	if len(a.Coef) != len(b.Coef) {
		panic("poly: Sub shape mismatch")
	}
	out := a.copy()
	for i := range out.Coef {
		out.Coef[i] -= b.Coef[i]
	}
	out.Cst -= b.Cst
	return out
}

func (a Aff) copy() Aff {
	out := a
	out.Params = cloneStrings(a.Params)
	out.Coef = cloneRow(a.Coef)
	return out
}

// Pullback substitutes the input dimensions of a with the given expressions,
// which must be genuinely affine (Den == 1) over a common shape.
func (a Aff) Pullback(inputs []Aff) (Aff, error) {
	if len(inputs) != a.NIn {
		return Aff{}, fmt.Errorf("poly: pullback arity mismatch: %d inputs for %d dims",
			len(inputs), a.NIn)
	}
	var shapeParams []string
	shapeIn := 0
	if len(inputs) > 0 {
		shapeParams = inputs[0].Params
		shapeIn = inputs[0].NIn
	} else {
		shapeParams = a.Params
	}
	out := NewAff(shapeParams, shapeIn)
	out.Den = a.Den
	nP := len(a.Params)
	for i, p := range a.Params {
		if a.Coef[i] == 0 {
			continue
		}
		j := -1
		for k, q := range shapeParams {
			if q == p {
				j = k
				break
			}
		}
		if j < 0 {
			return Aff{}, fmt.Errorf("poly: pullback loses parameter %s", p)
		}
		out.Coef[j] += a.Coef[i]
	}
	out.Cst += a.Cst
	for i := 0; i < a.NIn; i++ {
		c := a.Coef[nP+i]
		if c == 0 {
			continue
		}
		in := inputs[i]
		if in.Den != 1 {
			return Aff{}, ErrNotAffine
		}
		for j := range in.Coef {
			out.Coef[j] += c * in.Coef[j]
		}
		out.Cst += c * in.Cst
	}
	return out, nil
}

// DimMaxVal returns the largest value the given set dimension takes over all
// points and parameter values, or ErrUnbounded.
func (s *Set) DimMaxVal(pos int) (int64, error) {
	if s.IsEmpty() {
		return 0, fmt.Errorf("poly: DimMaxVal of empty set")
	}
	have := false
	var best int64
	for _, p := range s.pieces {
		nP := len(p.space.params)
		// Existentially eliminate parameters and every other dimension.
		q, ok := p.projectOutCols(0, nP)
		if !ok {
			continue
		}
		q.space = NewSetSpace(nil, p.space.outName, p.space.nOut)
		q = q.ProjectOut(DimOut, pos+1, p.space.nOut-pos-1)
		q = q.ProjectOut(DimOut, 0, pos)
		if q.IsEmpty() {
			continue
		}
		// Rows now range over the single column [v | 1].
		pieceHas := false
		var pieceMax int64
		consider := func(v int64) {
			if !pieceHas || v > pieceMax {
				pieceMax = v
				pieceHas = true
			}
		}
		bounded := false
		var ub int64
		for _, r := range q.eq {
			if r[0] != 0 {
				consider(floorDiv(-r[1], r[0]))
				bounded = true
			}
		}
		for _, r := range q.ineq {
			if r[0] < 0 {
				v := floorDiv(r[1], -r[0])
				if !bounded || v < ub {
					ub = v
				}
				bounded = true
			}
		}
		if !bounded {
			return 0, ErrUnbounded
		}
		if !pieceHas {
			consider(ub)
		}
		if !have || pieceMax > best {
			best = pieceMax
			have = true
		}
	}
	if !have {
		return 0, fmt.Errorf("poly: DimMaxVal of empty set")
	}
	return best, nil
}

// DimMaxAffs returns upper-bound expressions for the given set dimension in
// terms of the parameters: the dimension is at most the minimum of the
// returned expressions. The union is over-approximated by its simple hull.
func (s *Set) DimMaxAffs(pos int) ([]Aff, error) {
	hull := s.SimpleHull()
	p := &BasicMap{space: hull.space, eq: hull.eq, ineq: hull.ineq}
	q := p.ProjectOut(DimOut, pos+1, p.space.nOut-pos-1)
	q = q.ProjectOut(DimOut, 0, pos)
	nP := len(q.space.params)
	var out []Aff
	add := func(r []int64, coefV int64) {
		// coefV*v + sum(c_p p) + cst >= 0 with coefV < 0:
		// v <= floor((sum + cst) / -coefV)
		a := NewAff(q.space.params, 0)
		a.Den = -coefV
		for i := 0; i < nP; i++ {
			a.Coef[i] = r[i]
		}
		a.Cst = r[len(r)-1]
		out = append(out, a)
	}
	for _, r := range q.eq {
		v := r[nP]
		if v == 0 {
			continue
		}
		rr := cloneRow(r)
		if v > 0 {
			for i := range rr {
				rr[i] = -rr[i]
			}
			v = -v
		}
		add(rr, v)
	}
	for _, r := range q.ineq {
		if r[nP] < 0 {
			add(r, r[nP])
		}
	}
	if len(out) == 0 {
		return nil, ErrUnbounded
	}
	return out, nil
}

// Affs extracts, for each output dimension of a single-valued relation, the
// affine expression over [params | in] that determines it. Returns
// ErrNotAffine when the equalities do not determine every output.
func (m *Map) Affs() ([]Aff, error) {
	if len(m.pieces) == 0 {
		return nil, fmt.Errorf("poly: Affs of empty relation")
	}
	p := m.pieces[0]
	nP := len(p.space.params)
	nIn := p.space.nIn
	nOut := p.space.nOut
	solved := make([]*Aff, nOut)
	eqs := copyRows(p.eq)
	for changed := true; changed; {
		changed = false
		for _, r := range eqs {
			// Substitute solved outputs into the row.
			row := cloneRow(r)
			ok := true
			for j := 0; j < nOut; j++ {
				c := row[nP+nIn+j]
				if c == 0 || solved[j] == nil {
					continue
				}
				a := solved[j]
				if a.Den != 1 {
					ok = false
					break
				}
				for k := 0; k < nP+nIn; k++ {
					row[k] += c * a.Coef[k]
				}
				row[len(row)-1] += c * a.Cst
				row[nP+nIn+j] = 0
			}
			if !ok {
				continue
			}
			// A row with exactly one remaining output solves it.
			idx := -1
			for j := 0; j < nOut; j++ {
				if row[nP+nIn+j] != 0 {
					if idx >= 0 {
						idx = -2
						break
					}
					idx = j
				}
			}
			if idx < 0 || solved[idx] != nil {
				continue
			}
			c := row[nP+nIn+idx]
			a := NewAff(p.space.params, nIn)
			sign := int64(-1)
			if c < 0 {
				sign = 1
				c = -c
			}
			for k := 0; k < nP+nIn; k++ {
				a.Coef[k] = sign * row[k]
			}
			a.Cst = sign * row[len(row)-1]
			a.Den = c
			if a.Den > 1 && divisible(a) {
				for k := range a.Coef {
					a.Coef[k] /= a.Den
				}
				a.Cst /= a.Den
				a.Den = 1
			}
			solved[idx] = &a
			changed = true
		}
	}
	out := make([]Aff, nOut)
	for j := 0; j < nOut; j++ {
		if solved[j] == nil {
			return nil, ErrNotAffine
		}
		out[j] = *solved[j]
	}
	return out, nil
}

func divisible(a Aff) bool {
	for _, c := range a.Coef {
		if c%a.Den != 0 {
			return false
		}
	}
	return a.Cst%a.Den == 0
}
