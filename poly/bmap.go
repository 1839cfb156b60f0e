package poly

import "fmt"

// BasicMap is a conjunction of affine constraints over the columns
// [params | in | out | const]. Equality rows are == 0, inequality rows >= 0.
type BasicMap struct {
	space *Space
	eq    [][]int64
	ineq  [][]int64
}

// UniverseBasicMap returns the unconstrained relation over the given space.
func UniverseBasicMap(space *Space) *BasicMap {
	return &BasicMap{space: space.Copy()}
}

func (bm *BasicMap) Space() *Space { return bm.space }

// EqRows returns the equality rows over [params | in | out | const].
func (bm *BasicMap) EqRows() [][]int64 { return bm.eq }

// IneqRows returns the inequality rows over [params | in | out | const].
func (bm *BasicMap) IneqRows() [][]int64 { return bm.ineq }

func (bm *BasicMap) Copy() *BasicMap {
	c := &BasicMap{space: bm.space.Copy()}
	c.eq = copyRows(bm.eq)
	c.ineq = copyRows(bm.ineq)
	return c
}

func copyRows(rows [][]int64) [][]int64 {
	out := make([][]int64, len(rows))
	for i, r := range rows {
		out[i] = make([]int64, len(r))
		copy(out[i], r)
	}
	return out
}

// Constraint is a single affine constraint under construction.
type Constraint struct {
	space *Space
	row   []int64
}

// NewConstraint returns a zero constraint over the given space.
func NewConstraint(space *Space) *Constraint {
	return &Constraint{space: space, row: make([]int64, space.cols())}
}

// SetCoef sets the coefficient of the given dimension.
func (c *Constraint) SetCoef(t DimType, pos int, v int64) *Constraint {
	if pos < 0 || pos >= c.space.Dim(t) {
		panic(fmt.Sprintf("poly: constraint coefficient out of range: %v %d", t, pos))
	}
	c.row[c.space.offset(t)+pos] = v
	return c
}

// SetConst sets the constant term.
func (c *Constraint) SetConst(v int64) *Constraint {
	c.row[len(c.row)-1] = v
	return c
}

// AddEquality adds the constraint row == 0.
func (bm *BasicMap) AddEquality(c *Constraint) *BasicMap {
	bm.eq = append(bm.eq, c.row)
	return bm
}

// AddInequality adds the constraint row >= 0.
func (bm *BasicMap) AddInequality(c *Constraint) *BasicMap {
	bm.ineq = append(bm.ineq, c.row)
	return bm
}

func gcd64(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// normalizeRow divides a row by the gcd of its coefficients. For inequality
// rows the constant is rounded down (tightening is sound for >= 0 rows).
// Returns false for an equality whose gcd does not divide the constant.
func normalizeRow(row []int64, isEq bool) bool {
	var g int64
	n := len(row) - 1
	for i := 0; i < n; i++ {
		g = gcd64(g, row[i])
	}
	if g == 0 {
		return true
	}
	if isEq && row[n]%g != 0 {
		return false
	}
	for i := 0; i < n; i++ {
		row[i] /= g
	}
	c := row[n]
	if isEq {
		row[n] = c / g
	} else {
		row[n] = floorDiv(c, g)
	}
	return true
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func ceilDiv(a, b int64) int64 { return -floorDiv(-a, b) }

// combine returns a*x + b*y.
func combine(a int64, x []int64, b int64, y []int64) []int64 {
	out := make([]int64, len(x))
	for i := range x {
		out[i] = a*x[i] + b*y[i]
	}
	return out
}

func isZeroRow(row []int64, skipConst bool) bool {
	n := len(row)
	if skipConst {
		n--
	}
	for i := 0; i < n; i++ {
		if row[i] != 0 {
			return false
		}
	}
	return true
}

// eliminateCol removes the variable at column col from the system,
// substituting through an equality when one exists and falling back to
// Fourier-Motzkin pairing of inequalities otherwise. Column col becomes
// zero in every remaining row; the caller drops it afterwards.
// Returns false if the system is detected infeasible.
func eliminateCol(eq, ineq [][]int64, col int) ([][]int64, [][]int64, bool) {
	// Prefer the equality with the smallest coefficient magnitude.
	best := -1
	for i, r := range eq {
		if r[col] == 0 {
			continue
		}
		if best < 0 || abs64(r[col]) < abs64(eq[best][col]) {
			best = i
		}
	}
	if best >= 0 {
		pivot := eq[best]
		pc := pivot[col]
		var outEq, outIneq [][]int64
		for i, r := range eq {
			if i == best || r[col] == 0 {
				if i != best {
					outEq = append(outEq, r)
				}
				continue
			}
			nr := combine(pc, r, -r[col], pivot)
			if !normalizeRow(nr, true) {
				return nil, nil, false
			}
			if isZeroRow(nr, true) && nr[len(nr)-1] != 0 {
				return nil, nil, false
			}
			outEq = append(outEq, nr)
		}
		for _, r := range ineq {
			if r[col] == 0 {
				outIneq = append(outIneq, r)
				continue
			}
			// Scale so the pivot cancels with a positive multiplier on r.
			m := pc
			if m < 0 {
				m = -m
			}
			sign := int64(1)
			if pc < 0 {
				sign = -1
			}
			nr := combine(m, r, -sign*r[col], pivot)
			normalizeRow(nr, false)
			outIneq = append(outIneq, nr)
		}
		return outEq, outIneq, true
	}

	var lower, upper, rest [][]int64
	for _, r := range ineq {
		switch {
		case r[col] > 0:
			lower = append(lower, r)
		case r[col] < 0:
			upper = append(upper, r)
		default:
			rest = append(rest, r)
		}
	}
	for _, lo := range lower {
		for _, up := range upper {
			nr := combine(-up[col], lo, lo[col], up)
			normalizeRow(nr, false)
			if isZeroRow(nr, true) {
				if nr[len(nr)-1] < 0 {
					return nil, nil, false
				}
				continue
			}
			rest = append(rest, nr)
		}
	}
	return eq, rest, true
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// dropCols removes the given column range from every row.
func dropCols(rows [][]int64, at, n int) [][]int64 {
	out := make([][]int64, 0, len(rows))
	for _, r := range rows {
		nr := make([]int64, 0, len(r)-n)
		nr = append(nr, r[:at]...)
		nr = append(nr, r[at+n:]...)
		out = append(out, nr)
	}
	return out
}

// insertCols inserts n zero columns before column at.
func insertCols(rows [][]int64, at, n int) [][]int64 {
	out := make([][]int64, 0, len(rows))
	for _, r := range rows {
		nr := make([]int64, 0, len(r)+n)
		nr = append(nr, r[:at]...)
		nr = append(nr, make([]int64, n)...)
		nr = append(nr, r[at:]...)
		out = append(out, nr)
	}
	return out
}

// projectOutCols existentially eliminates the columns in the half-open
// range [at, at+n) and removes them.
func (bm *BasicMap) projectOutCols(at, n int) (*BasicMap, bool) {
	eq := copyRows(bm.eq)
	ineq := copyRows(bm.ineq)
	var ok bool
	for c := at; c < at+n; c++ {
		eq, ineq, ok = eliminateCol(eq, ineq, c)
		if !ok {
			return nil, false
		}
	}
	out := &BasicMap{space: bm.space.Copy()}
	out.eq = dropCols(eq, at, n)
	out.ineq = dropCols(ineq, at, n)
	return out, true
}

// ProjectOut existentially eliminates n dimensions starting at pos.
// An infeasible system yields an (empty) basic map with a 0 >= 1 row.
func (bm *BasicMap) ProjectOut(t DimType, pos, n int) *BasicMap {
	if n == 0 {
		out := bm.Copy()
		return out
	}
	at := bm.space.offset(t) + pos
	out, ok := bm.projectOutCols(at, n)
	if !ok {
		out = emptyLike(bm.space)
		switch t {
		case DimIn:
			out.space.nIn -= n
		case DimOut:
			out.space.nOut -= n
		case DimParam:
			out.space.params = append(cloneStrings(out.space.params[:pos]),
				out.space.params[pos+n:]...)
		}
		out.eq = nil
		out.ineq = [][]int64{infeasibleRow(out.space.cols())}
		return out
	}
	switch t {
	case DimIn:
		out.space.nIn -= n
	case DimOut:
		out.space.nOut -= n
	case DimParam:
		out.space.params = append(cloneStrings(out.space.params[:pos]),
			out.space.params[pos+n:]...)
	}
	return out
}

func infeasibleRow(cols int) []int64 {
	r := make([]int64, cols)
	r[cols-1] = -1
	return r
}

func emptyLike(space *Space) *BasicMap {
	bm := UniverseBasicMap(space)
	bm.ineq = [][]int64{infeasibleRow(space.cols())}
	return bm
}

// InsertDims inserts n new unconstrained dimensions before pos.
func (bm *BasicMap) InsertDims(t DimType, pos, n int) *BasicMap {
	if n == 0 {
		return bm.Copy()
	}
	at := bm.space.offset(t) + pos
	out := &BasicMap{}
	out.eq = insertCols(bm.eq, at, n)
	out.ineq = insertCols(bm.ineq, at, n)
	sp := bm.space.Copy()
	switch t {
	case DimIn:
		sp.nIn += n
	case DimOut:
		sp.nOut += n
	default:
		panic("poly: InsertDims on parameters; use alignParams")
	}
	out.space = sp
	return out
}

// Fix adds the constraint dim == v.
func (bm *BasicMap) Fix(t DimType, pos int, v int64) *BasicMap {
	out := bm.Copy()
	row := make([]int64, out.space.cols())
	row[out.space.offset(t)+pos] = 1
	row[len(row)-1] = -v
	out.eq = append(out.eq, row)
	return out
}

// Equate adds the constraint dim1 == dim2.
func (bm *BasicMap) Equate(t1 DimType, p1 int, t2 DimType, p2 int) *BasicMap {
	out := bm.Copy()
	row := make([]int64, out.space.cols())
	row[out.space.offset(t1)+p1] = 1
	row[out.space.offset(t2)+p2] -= 1
	out.eq = append(out.eq, row)
	return out
}

// LowerBound adds the constraint dim >= v.
func (bm *BasicMap) LowerBound(t DimType, pos int, v int64) *BasicMap {
	out := bm.Copy()
	row := make([]int64, out.space.cols())
	row[out.space.offset(t)+pos] = 1
	row[len(row)-1] = -v
	out.ineq = append(out.ineq, row)
	return out
}

// UpperBound adds the constraint dim <= v.
func (bm *BasicMap) UpperBound(t DimType, pos int, v int64) *BasicMap {
	out := bm.Copy()
	row := make([]int64, out.space.cols())
	row[out.space.offset(t)+pos] = -1
	row[len(row)-1] = v
	out.ineq = append(out.ineq, row)
	return out
}

// alignParams rewrites the rows of bm to the parameter order of target,
// which must contain every parameter of bm.
func (bm *BasicMap) alignParams(target []string) *BasicMap {
	same := len(target) == len(bm.space.params)
	if same {
		for i := range target {
			if target[i] != bm.space.params[i] {
				same = false
				break
			}
		}
	}
	if same {
		return bm
	}
	perm := make([]int, len(bm.space.params))
	for i, p := range bm.space.params {
		j := -1
		for k, q := range target {
			if q == p {
				j = k
				break
			}
		}
		if j < 0 {
			panic("poly: alignParams target misses parameter " + p)
		}
		perm[i] = j
	}
	oldN := len(bm.space.params)
	newN := len(target)
	remap := func(rows [][]int64) [][]int64 {
		out := make([][]int64, len(rows))
		for i, r := range rows {
			nr := make([]int64, len(r)-oldN+newN)
			for j, p := range perm {
				nr[p] = r[j]
			}
			copy(nr[newN:], r[oldN:])
			out[i] = nr
		}
		return out
	}
	sp := bm.space.Copy()
	sp.params = cloneStrings(target)
	return &BasicMap{space: sp, eq: remap(bm.eq), ineq: remap(bm.ineq)}
}

// Intersect conjoins the constraints of two basic maps over the same tuples.
func (bm *BasicMap) Intersect(o *BasicMap) *BasicMap {
	if !bm.space.EqualTuples(o.space) {
		panic("poly: intersect of incompatible spaces " + bm.space.String() + " and " + o.space.String())
	}
	params := unionParams(bm.space.params, o.space.params)
	a := bm.alignParams(params)
	b := o.alignParams(params)
	out := a.Copy()
	out.eq = append(out.eq, copyRows(b.eq)...)
	out.ineq = append(out.ineq, copyRows(b.ineq)...)
	return out
}

// IsEmpty reports whether the basic map contains no rational point.
func (bm *BasicMap) IsEmpty() bool {
	eq := copyRows(bm.eq)
	ineq := copyRows(bm.ineq)
	nvar := bm.space.cols() - 1
	var ok bool
	for c := 0; c < nvar; c++ {
		eq, ineq, ok = eliminateCol(eq, ineq, c)
		if !ok {
			return true
		}
	}
	for _, r := range eq {
		if r[len(r)-1] != 0 {
			return true
		}
	}
	for _, r := range ineq {
		if r[len(r)-1] < 0 {
			return true
		}
	}
	return false
}

// negate returns the constraint rows describing the complement of row.
// An inequality row >= 0 has the single complement -row - 1 >= 0; an
// equality has two complement branches, row - 1 >= 0 and -row - 1 >= 0.
func negateIneq(row []int64) []int64 {
	out := make([]int64, len(row))
	for i, v := range row {
		out[i] = -v
	}
	out[len(out)-1]--
	return out
}

func (bm *BasicMap) String() string {
	return fmt.Sprintf("basic map %s: %d eq, %d ineq", bm.space, len(bm.eq), len(bm.ineq))
}
