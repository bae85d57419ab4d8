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
)

// TestExtractor collects, in encounter order, the numeric literal operand of
// every `== <n>` / `=== <n>` comparison found in a subtree — the ordered
// list of opcode-handler "which sub-case is this" test constants that get
// paired positionally against a fixed enum iteration order.
type TestExtractor struct {
	Tests []uint16
}

// Visit implements a single-purpose Visitor for use with Walk.
func (t *TestExtractor) Visit(node ast.Node) bool {
	bin, ok := node.(*ast.BinaryExpression)
	if !ok {
		return true
	}
	if bin.Operator != token.EQUAL && bin.Operator != token.STRICT_EQUAL {
		return true
	}
	if num, ok := bin.Left.(*ast.NumberLiteral); ok {
		t.Tests = append(t.Tests, numberLiteralToUint16(num))
		return true
	}
	if num, ok := bin.Right.(*ast.NumberLiteral); ok {
		t.Tests = append(t.Tests, numberLiteralToUint16(num))
	}
	return true
}

// BitExtractor collects the numeric literal operand of every `^ <n>` XOR
// expression in a subtree — the constant magic bit masks an opcode handler
// folds into its operands, skipping the all-opcodes constants-array index
// that shows up incidentally in every handler's register lookup.
type BitExtractor struct {
	blacklist uint16
	Bits      []uint16
}

// NewBitExtractor constructs a BitExtractor that ignores XORs against the
// recovered constants-array slot number (every handler's register dereference
// XORs against it once, incidentally, and that's not a magic bit).
func NewBitExtractor(constants uint16) *BitExtractor {
	return &BitExtractor{blacklist: constants}
}

func (b *BitExtractor) Visit(node ast.Node) bool {
	bin, ok := node.(*ast.BinaryExpression)
	if !ok || bin.Operator != token.XOR {
		return true
	}
	value, ok := xorOperand(bin)
	if !ok {
		return true
	}
	if value != b.blacklist || isMemberExpression(bin.Left) || isMemberExpression(bin.Right) {
		b.Bits = append(b.Bits, value)
	}
	return true
}

func xorOperand(bin *ast.BinaryExpression) (uint16, bool) {
	if num, ok := bin.Left.(*ast.NumberLiteral); ok {
		return numberLiteralToUint16(num), true
	}
	if num, ok := bin.Right.(*ast.NumberLiteral); ok {
		return numberLiteralToUint16(num), true
	}
	return 0, false
}

func isMemberExpression(expr ast.Expression) bool {
	switch expr.(type) {
	case *ast.DotExpression, *ast.BracketExpression:
		return true
	default:
		return false
	}
}

// AssigmentExtractor collects, in encounter order, the name of every plain
// identifier assignment target whose right-hand side is a binary, numeric,
// or unary expression — the register-rebind chain an opcode handler's
// swap-detecting branch reads back through to decide operand order.
// Descent does not continue into nested if-statements (their assignments
// belong to a different branch of the handler's dispatch).
type AssigmentExtractor struct {
	Identifiers []string
}

func (a *AssigmentExtractor) Visit(node ast.Node) bool {
	switch n := node.(type) {
	case *ast.IfStatement:
		return false
	case *ast.ConditionalExpression:
		if bin, ok := n.Test.(*ast.BinaryExpression); ok {
			if id, ok := bin.Left.(*ast.Identifier); ok {
				a.Identifiers = append(a.Identifiers, string(id.Name))
			}
			if id, ok := bin.Right.(*ast.Identifier); ok {
				a.Identifiers = append(a.Identifiers, string(id.Name))
			}
		}
		return false
	case *ast.AssignExpression:
		id, ok := n.Left.(*ast.Identifier)
		if !ok || n.Operator != token.ASSIGN {
			return true
		}
		switch n.Right.(type) {
		case *ast.BinaryExpression, *ast.NumberLiteral, *ast.UnaryExpression:
			a.Identifiers = append(a.Identifiers, string(id.Name))
			return false
		}
	}
	return true
}

// BinaryBitExtractor collects the magic XOR bits and operand-swap flags for
// a Binary opcode handler's 18-way operator dispatch. Every third XORed
// bit closes out one operator's (left-operand, right-operand, result)
// triple, at which point the swap flag for that operator is decided from
// the most recently observed register-rebind identifiers, mirroring the
// source's heuristic for telling `a op b` from `b op a` once both have been
// shuffled through temporary registers by the surrounding dispatch code.
type BinaryBitExtractor struct {
	blacklist   uint16
	assignments []string

	Bits  []uint16
	Swaps []bool
}

// NewBinaryBitExtractor builds a BinaryBitExtractor seeded with the
// register-rebind identifiers AssigmentExtractor recovered from the same
// handler body, keeping at most the last six (the source keeps only the
// tail of the rebind chain, since only the last few rebinds participate in
// the operand swap decision).
func NewBinaryBitExtractor(constants uint16, assignments []string) *BinaryBitExtractor {
	if len(assignments) > 6 {
		assignments = assignments[len(assignments)-6:]
	}
	return &BinaryBitExtractor{blacklist: constants, assignments: assignments}
}

func (b *BinaryBitExtractor) Visit(node ast.Node) bool {
	bin, ok := node.(*ast.BinaryExpression)
	if !ok || bin.Operator != token.XOR {
		return true
	}
	value, ok := xorOperand(bin)
	if !ok {
		return true
	}

	if !isMemberExpression(bin.Left) && !isMemberExpression(bin.Right) || value != b.blacklist {
		b.Bits = append(b.Bits, value)
	}

	if len(b.Bits) > 0 && len(b.Bits)%3 == 0 {
		b.Swaps = append(b.Swaps, b.detectSwap())
	}
	return false
}

// detectSwap reports whether the two most recently rebound registers were
// assigned in reverse order relative to the canonical (left, right) operand
// slots — the tell that this operator's handler evaluates its operands
// swapped.
func (b *BinaryBitExtractor) detectSwap() bool {
	if len(b.assignments) < 3 {
		return false
	}
	tail := b.assignments[len(b.assignments)-2:]
	canonical := b.assignments[len(b.assignments)-3]
	return tail[0] != canonical
}
