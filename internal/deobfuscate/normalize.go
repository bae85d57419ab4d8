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

package deobfuscate

import (
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/token"
)

// normalizeConditionals converts `!==`/`!=` tests on if-statements that
// have an else branch to `===`/`==` by swapping the consequent/alternate
// branches, then folds any if-statement whose test is an `==`/`===`
// comparison between two literals of the same kind (a constant-foldable
// no-op the flattening passes above tend to leave behind). Ternary
// expressions are left unchanged, and ordering comparisons such as `>` are
// not folded.
func normalizeConditionals(stmts []ast.Statement) []ast.Statement {
	out := make([]ast.Statement, 0, len(stmts))
	for _, s := range stmts {
		out = append(out, normalizeStatement(s)...)
	}
	return out
}

func normalizeStatement(s ast.Statement) []ast.Statement {
	ifStmt, ok := s.(*ast.IfStatement)
	if !ok {
		normalizeNestedBlocks(s)
		return []ast.Statement{s}
	}

	normalizeNegatedTest(ifStmt)
	normalizeNestedBlocks(ifStmt)

	if folded, keep := foldUselessIf(ifStmt); !keep {
		return folded
	}
	return []ast.Statement{ifStmt}
}

func normalizeNestedBlocks(s ast.Statement) {
	switch st := s.(type) {
	case *ast.BlockStatement:
		st.List = normalizeConditionals(st.List)
	case *ast.IfStatement:
		normalizeNestedBlocks(st.Consequent)
		if st.Alternate != nil {
			normalizeNestedBlocks(st.Alternate)
		}
	case *ast.ForStatement:
		normalizeNestedBlocks(st.Body)
	case *ast.WhileStatement:
		normalizeNestedBlocks(st.Body)
	}
}

// normalizeNegatedTest rewrites `if (a !== b) X else Y` to
// `if (a === b) Y else X` in place (and likewise for `!=`/`==`), since a
// negated-equality test with swapped branches is semantically identical and
// every later pattern match in internal/extract only recognizes the
// positive form.
func normalizeNegatedTest(ifStmt *ast.IfStatement) {
	bin, ok := ifStmt.Test.(*ast.BinaryExpression)
	if !ok || ifStmt.Alternate == nil {
		return
	}
	switch bin.Operator {
	case token.NOT_EQUAL:
		bin.Operator = token.EQUAL
	case token.STRICT_NOT_EQUAL:
		bin.Operator = token.STRICT_EQUAL
	default:
		return
	}
	ifStmt.Consequent, ifStmt.Alternate = ifStmt.Alternate, ifStmt.Consequent
}

// foldUselessIf reports the replacement statements and false when ifStmt's
// test is an `==`/`===` comparison of two literals of the same kind (and is
// thus decidable at deobfuscation time without evaluating the rest of the
// script), collapsing it to whichever branch the comparison statically
// selects.
func foldUselessIf(ifStmt *ast.IfStatement) ([]ast.Statement, bool) {
	bin, ok := ifStmt.Test.(*ast.BinaryExpression)
	if !ok {
		return nil, true
	}
	if bin.Operator != token.EQUAL && bin.Operator != token.STRICT_EQUAL {
		return nil, true
	}

	taken, decidable := decideLiteralComparison(bin)
	if !decidable {
		return nil, true
	}

	if taken {
		return []ast.Statement{ifStmt.Consequent}, false
	}
	if ifStmt.Alternate != nil {
		return []ast.Statement{ifStmt.Alternate}, false
	}
	return []ast.Statement{}, false
}

func decideLiteralComparison(bin *ast.BinaryExpression) (taken bool, decidable bool) {
	switch l := bin.Left.(type) {
	case *ast.NumberLiteral:
		r, ok := bin.Right.(*ast.NumberLiteral)
		if !ok {
			return false, false
		}
		return numberLiteralFloat(l) == numberLiteralFloat(r), true
	case *ast.StringLiteral:
		r, ok := bin.Right.(*ast.StringLiteral)
		if !ok {
			return false, false
		}
		return string(l.Value) == string(r.Value), true
	default:
		return false, false
	}
}
