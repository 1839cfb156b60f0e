package poly

import "fmt"

// ExprKind discriminates AST expression variants.
type ExprKind int

const (
	ExprID ExprKind = iota
	ExprInt
	ExprOp
)

// ExprOpKind enumerates expression operators.
type ExprOpKind int

const (
	OpAdd ExprOpKind = iota
	OpSub
	OpMul
	OpFloorDiv
	OpMod
	OpMin
	OpMax
	OpLE
	OpLT
	OpGE
	OpEq
	OpAnd
)

// Expr is an AST expression tree.
type Expr struct {
	Kind ExprKind
	Name string     // ExprID
	Val  int64      // ExprInt
	Op   ExprOpKind // ExprOp
	Args []*Expr    // ExprOp
}

// IDExpr returns an identifier expression.
func IDExpr(name string) *Expr { return &Expr{Kind: ExprID, Name: name} }

// IntExpr returns an integer literal expression.
func IntExpr(v int64) *Expr { return &Expr{Kind: ExprInt, Val: v} }

// OpExpr returns an operator expression.
func OpExpr(op ExprOpKind, args ...*Expr) *Expr {
	return &Expr{Kind: ExprOp, Op: op, Args: args}
}

// AddExpr returns a + b, folding integer literals and zero terms.
func AddExpr(a, b *Expr) *Expr {
	if a.Kind == ExprInt && a.Val == 0 {
		return b
	}
	if b.Kind == ExprInt && b.Val == 0 {
		return a
	}
	if a.Kind == ExprInt && b.Kind == ExprInt {
		return IntExpr(a.Val + b.Val)
	}
	return OpExpr(OpAdd, a, b)
}

// MulExpr returns a * b with trivial folding.
func MulExpr(a, b *Expr) *Expr {
	if a.Kind == ExprInt {
		switch a.Val {
		case 0:
			return IntExpr(0)
		case 1:
			return b
		}
	}
	if b.Kind == ExprInt {
		switch b.Val {
		case 0:
			return IntExpr(0)
		case 1:
			return a
		}
	}
	if a.Kind == ExprInt && b.Kind == ExprInt {
		return IntExpr(a.Val * b.Val)
	}
	return OpExpr(OpMul, a, b)
}

// SubExpr returns a - b with trivial folding.
func SubExpr(a, b *Expr) *Expr {
	if b.Kind == ExprInt && b.Val == 0 {
		return a
	}
	if a.Kind == ExprInt && b.Kind == ExprInt {
		return IntExpr(a.Val - b.Val)
	}
	return OpExpr(OpSub, a, b)
}

// MinExpr folds a list into nested min operations.
func MinExpr(args ...*Expr) *Expr {
	if len(args) == 0 {
		panic("poly: MinExpr with no arguments")
	}
	out := args[0]
	for _, a := range args[1:] {
		out = OpExpr(OpMin, out, a)
	}
	return out
}

// MaxExpr folds a list into nested max operations.
func MaxExpr(args ...*Expr) *Expr {
	if len(args) == 0 {
		panic("poly: MaxExpr with no arguments")
	}
	out := args[0]
	for _, a := range args[1:] {
		out = OpExpr(OpMax, out, a)
	}
	return out
}

// AndExpr conjoins conditions.
func AndExpr(args ...*Expr) *Expr {
	if len(args) == 0 {
		panic("poly: AndExpr with no arguments")
	}
	out := args[0]
	for _, a := range args[1:] {
		out = OpExpr(OpAnd, out, a)
	}
	return out
}

// AffExpr renders an affine expression, substituting the given expressions
// for its input dimensions. Quasi-affine expressions become floord calls.
func AffExpr(a Aff, inputs []*Expr) *Expr {
	if len(inputs) != a.NIn {
		panic(fmt.Sprintf("poly: AffExpr arity mismatch: %d inputs for %d dims",
			len(inputs), a.NIn))
	}
	sum := IntExpr(a.Cst)
	for i, p := range a.Params {
		if a.Coef[i] != 0 {
			sum = AddExpr(sum, MulExpr(IntExpr(a.Coef[i]), IDExpr(p)))
		}
	}
	nP := len(a.Params)
	for i := 0; i < a.NIn; i++ {
		if a.Coef[nP+i] != 0 {
			sum = AddExpr(sum, MulExpr(IntExpr(a.Coef[nP+i]), inputs[i]))
		}
	}
	if a.Den != 1 {
		sum = OpExpr(OpFloorDiv, sum, IntExpr(a.Den))
	}
	return sum
}

// ASTKind discriminates AST node variants.
type ASTKind int

const (
	ASTFor ASTKind = iota
	ASTIf
	ASTBlock
	ASTUser
	ASTMark
)

// ASTNode is a node of the generated abstract syntax tree. User and mark
// nodes carry an annotation owned by the node.
type ASTNode struct {
	Kind ASTKind

	// ASTFor: for (Iterator = LB; Iterator <= UB; Iterator += 1)
	Iterator string
	LB, UB   *Expr
	Unroll   bool
	Atomic   bool
	Body     *ASTNode

	// ASTIf
	Guard *Expr
	Then  *ASTNode
	Else  *ASTNode

	// ASTBlock
	Children []*ASTNode

	// ASTMark
	MarkName string

	// ASTUser and ASTMark
	Annotation any
}

// NewForNode builds a loop node.
func NewForNode(it string, lb, ub *Expr, body *ASTNode) *ASTNode {
	return &ASTNode{Kind: ASTFor, Iterator: it, LB: lb, UB: ub, Body: body}
}

// NewIfNode builds a guard node.
func NewIfNode(guard *Expr, then *ASTNode) *ASTNode {
	return &ASTNode{Kind: ASTIf, Guard: guard, Then: then}
}

// NewBlockNode builds a block node.
func NewBlockNode(children ...*ASTNode) *ASTNode {
	return &ASTNode{Kind: ASTBlock, Children: children}
}

// NewUserNode builds a leaf carrying an annotation.
func NewUserNode(annotation any) *ASTNode {
	return &ASTNode{Kind: ASTUser, Annotation: annotation}
}

// NewMarkASTNode wraps a subtree under a named mark with an annotation.
func NewMarkASTNode(name string, annotation any, child *ASTNode) *ASTNode {
	return &ASTNode{Kind: ASTMark, MarkName: name, Annotation: annotation,
		Body: child}
}
