package poly

import (
	"fmt"
	"strings"
)

// ASTStringer lets annotations control how their leaf is printed.
type ASTStringer interface {
	ASTString() string
}

// PrintExpr renders an expression in C syntax, using floord/min/max calls
// for the quasi-affine operations.
func PrintExpr(e *Expr) string {
	switch e.Kind {
	case ExprID:
		return e.Name
	case ExprInt:
		return fmt.Sprintf("%d", e.Val)
	case ExprOp:
		return printOp(e)
	}
	panic("poly: unknown expression kind")
}

func printOp(e *Expr) string {
	bin := func(op string) string {
		return "(" + PrintExpr(e.Args[0]) + " " + op + " " + PrintExpr(e.Args[1]) + ")"
	}
	call := func(name string) string {
		parts := make([]string, len(e.Args))
		for i, a := range e.Args {
			parts[i] = PrintExpr(a)
		}
		return name + "(" + strings.Join(parts, ", ") + ")"
	}
	switch e.Op {
	case OpAdd:
		return bin("+")
	case OpSub:
		return bin("-")
	case OpMul:
		return bin("*")
	case OpFloorDiv:
		return call("floord")
	case OpMod:
		return bin("%")
	case OpMin:
		return call("min")
	case OpMax:
		return call("max")
	case OpLE:
		return bin("<=")
	case OpLT:
		return bin("<")
	case OpGE:
		return bin(">=")
	case OpEq:
		return bin("==")
	case OpAnd:
		return bin("&&")
	}
	panic("poly: unknown operator")
}

// PrintAST renders the AST as C-like pseudocode for diagnostics and the CLI.
func PrintAST(node *ASTNode) string {
	var sb strings.Builder
	printNode(&sb, node, 0)
	return sb.String()
}

func printNode(sb *strings.Builder, n *ASTNode, indent int) {
	pad := strings.Repeat("  ", indent)
	switch n.Kind {
	case ASTFor:
		hint := ""
		if n.Unroll {
			hint = " // unroll"
		}
		fmt.Fprintf(sb, "%sfor (int %s = %s; %s <= %s; %s += 1) {%s\n",
			pad, n.Iterator, PrintExpr(n.LB), n.Iterator, PrintExpr(n.UB),
			n.Iterator, hint)
		printNode(sb, n.Body, indent+1)
		fmt.Fprintf(sb, "%s}\n", pad)
	case ASTIf:
		fmt.Fprintf(sb, "%sif (%s) {\n", pad, PrintExpr(n.Guard))
		printNode(sb, n.Then, indent+1)
		if n.Else != nil {
			fmt.Fprintf(sb, "%s} else {\n", pad)
			printNode(sb, n.Else, indent+1)
		}
		fmt.Fprintf(sb, "%s}\n", pad)
	case ASTBlock:
		for _, c := range n.Children {
			printNode(sb, c, indent)
		}
	case ASTUser:
		if s, ok := n.Annotation.(ASTStringer); ok {
			for _, line := range strings.Split(s.ASTString(), "\n") {
				fmt.Fprintf(sb, "%s%s\n", pad, line)
			}
			return
		}
		fmt.Fprintf(sb, "%s/* user */;\n", pad)
	case ASTMark:
		label := n.MarkName
		if s, ok := n.Annotation.(ASTStringer); ok {
			label = s.ASTString()
		}
		fmt.Fprintf(sb, "%s// %s\n", pad, label)
		if n.Body != nil {
			printNode(sb, n.Body, indent)
		}
	}
}
