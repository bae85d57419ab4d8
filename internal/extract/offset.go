// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

package extract

import (
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/token"

	"github.com/probechain/turnstile-probe/internal/keyexpr"
)

// FoundOffset is what FindOffset recovers: the constant byte offset added to
// every raw code byte before it's XORed against the rolling key, and the raw
// key-update expression (still an AST node, converted to *keyexpr.Expr by
// ConvertKeyExpr once the caller is ready to hand it to internal/disasm).
type FoundOffset struct {
	Offset  int16
	KeyExpr ast.Expression
}

// FindOffset walks program for the two shapes that pin down the VM's byte
// offset and rolling-key update: a for-loop body assignment to index 3 of
// the key/constants array (the key-update expression itself), and a
// `<call-expression> + <numeric-literal>` addition (the constant byte
// offset folded into every decode).
func FindOffset(program *ast.Program) *FoundOffset {
	found := &FoundOffset{}
	var inFor bool

	Walk(program, func(node ast.Node) bool {
		switch n := node.(type) {
		case *ast.ForStatement:
			inFor = true
			Walk(n.Initializer, passthroughVisit)
			Walk(n.Test, passthroughVisit)
			Walk(n.Update, passthroughVisit)
			Walk(n.Body, func(inner ast.Node) bool {
				return walkForOffset(inner, found)
			})
			inFor = false
			return false

		case *ast.BinaryExpression:
			if n.Operator == token.PLUS {
				if offset, ok := litPlusCall(n); ok {
					found.Offset = offset
					return false
				}
			}
		}

		if inFor {
			walkForOffset(node, found)
		}
		return true
	})

	return found
}

func passthroughVisit(ast.Node) bool { return true }

func walkForOffset(node ast.Node, found *FoundOffset) bool {
	assign, ok := node.(*ast.AssignExpression)
	if !ok || assign.Operator != token.ASSIGN {
		return true
	}
	bracket, ok := assign.Left.(*ast.BracketExpression)
	if !ok {
		return true
	}
	if _, ok := assign.Right.(*ast.BinaryExpression); !ok {
		return true
	}
	num, ok := bracket.Member.(*ast.NumberLiteral)
	if !ok {
		return true
	}
	if numberLiteralToUint16(num) == 3 {
		found.KeyExpr = assign.Right
	}
	return true
}

// litPlusCall reports whether bin is `<numeric> + <call>` or
// `<call> + <numeric>`, and if so returns the numeric literal as the
// constant byte offset.
func litPlusCall(bin *ast.BinaryExpression) (int16, bool) {
	if num, ok := bin.Left.(*ast.NumberLiteral); ok {
		if _, ok := bin.Right.(*ast.CallExpression); ok {
			return int16(numberLiteralToUint16(num)), true
		}
	}
	if num, ok := bin.Right.(*ast.NumberLiteral); ok {
		if _, ok := bin.Left.(*ast.CallExpression); ok {
			return int16(numberLiteralToUint16(num)), true
		}
	}
	return 0, false
}

// FindKeyMask walks program for the first `<expr> & 255` binary expression,
// the rolling key's mask-to-a-byte operation, and returns it unconverted.
func FindKeyMask(program *ast.Program) ast.Expression {
	var found ast.Expression
	Walk(program, func(node ast.Node) bool {
		if found != nil {
			return false
		}
		bin, ok := node.(*ast.BinaryExpression)
		if !ok || bin.Operator != token.AND {
			return true
		}
		if num, ok := bin.Right.(*ast.NumberLiteral); ok && numberLiteralToUint16(num) == 255 {
			found = node.(ast.Expression)
		}
		return true
	})
	return found
}

// ConvertKeyExpr flattens a recovered key-update AST expression into the
// minimal tagged union internal/keyexpr's hot-loop evaluator consumes,
// recognizing exactly the handful of shapes the VM's key update ever takes:
// a computed member access (the current key), a static member access (the
// freshly derived op byte), a bare identifier (key+op), a numeric constant,
// or a binary combination of two such sub-expressions.
func ConvertKeyExpr(expr ast.Expression) *keyexpr.Expr {
	switch n := expr.(type) {
	case *ast.BracketExpression:
		return &keyexpr.Expr{Kind: keyexpr.KeyOnly}
	case *ast.DotExpression:
		return &keyexpr.Expr{Kind: keyexpr.OpOnly}
	case *ast.Identifier:
		return &keyexpr.Expr{Kind: keyexpr.Sum}
	case *ast.NumberLiteral:
		return &keyexpr.Expr{Kind: keyexpr.Const, Const: int64(numberLiteralToUint16(n))}
	case *ast.BinaryExpression:
		op, ok := convertOp(n.Operator)
		if !ok {
			return nil
		}
		left := ConvertKeyExpr(n.Left)
		right := ConvertKeyExpr(n.Right)
		if left == nil || right == nil {
			return nil
		}
		return &keyexpr.Expr{Kind: keyexpr.Binary, Op: op, Left: left, Right: right}
	default:
		return nil
	}
}

func convertOp(t token.Token) (keyexpr.Op, bool) {
	switch t {
	case token.MULTIPLY:
		return keyexpr.OpMul, true
	case token.SLASH:
		return keyexpr.OpDiv, true
	case token.REMAINDER:
		return keyexpr.OpMod, true
	case token.PLUS:
		return keyexpr.OpAdd, true
	case token.MINUS:
		return keyexpr.OpSub, true
	case token.AND:
		return keyexpr.OpAnd, true
	default:
		return 0, false
	}
}
