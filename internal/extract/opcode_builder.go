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

	"github.com/probechain/turnstile-probe/internal/bytecode"
)

// OpcodeBuilder recovers the Opcode descriptor table by inspecting the body
// shape of every function FindFunctions bound to a byte slot, classifying
// each one by its last (and, for the multi-way dispatchers, second-to-last)
// statement shape.
type OpcodeBuilder struct {
	constants uint16
	functions map[string]uint16

	Opcodes             bytecode.Table
	CreateFunctionIdent string
	WindowRegister      uint16
}

// NewOpcodeBuilder seeds a builder with the constants-array slot number and the
// identifier-to-opcode-number map FindFunctions recovered.
func NewOpcodeBuilder(constants uint16, functions map[string]uint16) *OpcodeBuilder {
	cp := make(map[string]uint16, len(functions))
	for k, v := range functions {
		cp[k] = v
	}
	return &OpcodeBuilder{constants: constants, functions: cp, Opcodes: make(bytecode.Table)}
}

// Build walks program once, classifying every registered handler function
// and recovering the window/global-object register from the one assignment
// of the shape `<ident> = <call>()` whose identifier is itself a registered
// opcode number.
func (b *OpcodeBuilder) Build(program *ast.Program) {
	Walk(program, func(node ast.Node) bool {
		switch n := node.(type) {
		case *ast.AssignExpression:
			if n.Operator != token.ASSIGN {
				return true
			}
			id, ok := n.Left.(*ast.Identifier)
			if !ok {
				return true
			}
			if _, ok := n.Right.(*ast.CallExpression); !ok {
				return true
			}
			if reg, ok := b.functions[string(id.Name)]; ok {
				b.WindowRegister = reg
				delete(b.functions, string(id.Name))
			}

		case *ast.FunctionLiteral:
			b.visitFunction(n)
		}
		return true
	})
}

func (b *OpcodeBuilder) visitFunction(fn *ast.FunctionLiteral) {
	if fn.Name == nil || fn.Body == nil || len(fn.Body.List) == 0 {
		return
	}
	name := string(fn.Name.Name)
	reg, ok := b.functions[name]
	if !ok {
		return
	}

	stmts := fn.Body.List
	last := stmts[len(stmts)-1]

	b.detectCreateFunctionIdent(name, stmts)

	if len(stmts) >= 2 {
		switch penultimate := stmts[len(stmts)-2].(type) {
		case *ast.ExpressionStatement:
			if _, isCond := penultimate.Expression.(*ast.ConditionalExpression); isCond {
				b.dispatchByTestCount(reg, fn, stmts)
			} else if assign, isAssign := penultimate.Expression.(*ast.AssignExpression); isAssign {
				_, leftBracket := assign.Left.(*ast.BracketExpression)
				_, rightBracket := assign.Right.(*ast.BracketExpression)
				if leftBracket && rightBracket {
					b.Opcodes[reg] = bytecode.Descriptor{Kind: bytecode.KindSwapRegister, Bits: b.defaultBits(stmts)}
				}
			}
		case *ast.IfStatement:
			b.dispatchByTestCount(reg, fn, stmts)
		}
	}

	b.classifyLastStatement(reg, fn, stmts, last)
	delete(b.functions, name)
}

// detectCreateFunctionIdent recognizes the one handler whose return
// statement reads a computed property off a static member expression using
// a binary-expression key, immediately preceded by an assignment — the
// shape of the helper that mints a fresh user-defined VM closure.
func (b *OpcodeBuilder) detectCreateFunctionIdent(name string, stmts []ast.Statement) {
	ret, ok := stmts[len(stmts)-1].(*ast.ReturnStatement)
	if !ok || ret.Argument == nil || len(stmts) < 2 {
		return
	}
	bracket, ok := ret.Argument.(*ast.BracketExpression)
	if !ok {
		return
	}
	if _, ok := bracket.Left.(*ast.DotExpression); !ok {
		return
	}
	if _, ok := bracket.Member.(*ast.BinaryExpression); !ok {
		return
	}
	if exprStmt, ok := stmts[len(stmts)-2].(*ast.ExpressionStatement); ok {
		if _, ok := exprStmt.Expression.(*ast.AssignExpression); ok {
			b.CreateFunctionIdent = name
		}
	}
}

// dispatchByTestCount runs the four extractor passes over a
// handler's multi-way dispatch statement and routes to the right sub-kind
// builder by how many equality tests were found, mirroring
// process_by_test_count's fixed 5/12/18/heap-count thresholds.
func (b *OpcodeBuilder) dispatchByTestCount(reg uint16, fn *ast.FunctionLiteral, stmts []ast.Statement) {
	assignments := &AssigmentExtractor{}
	Walk(fn.Body, assignments.Visit)

	tests := &TestExtractor{}
	Walk(stmts[len(stmts)-2], tests.Visit)

	bits := NewBitExtractor(b.constants)
	for _, s := range stmts {
		Walk(s, bits.Visit)
	}

	binBits := NewBinaryBitExtractor(b.constants, assignments.Identifiers)
	for _, s := range stmts {
		Walk(s, binBits.Visit)
	}

	switch len(tests.Tests) {
	case 5:
		b.handleUnary(reg, tests, bits)
	case 12:
		b.handleLiteral(reg, tests, bits)
	case 18:
		b.handleBinary(reg, tests, binBits)
	default:
		if len(tests.Tests) > 0 && len(tests.Tests) == len(bytecode.HeapTypes()) {
			b.handleHeap(reg, tests, bits)
		}
	}
}

func (b *OpcodeBuilder) handleUnary(reg uint16, tests *TestExtractor, bits *BitExtractor) {
	for i, op := range bytecode.UnaryOperators() {
		if i >= len(tests.Tests) || len(bits.Bits) < 2 {
			return
		}
		test := tests.Tests[i]
		opBits := bits.Bits[:2]
		bits.Bits = bits.Bits[2:]
		b.Opcodes[test] = bytecode.Descriptor{Kind: bytecode.KindUnary, Bits: opBits, UnaryOp: op}
	}
	_ = reg
}

func (b *OpcodeBuilder) handleLiteral(reg uint16, tests *TestExtractor, bits *BitExtractor) {
	if len(bits.Bits) < 2 {
		return
	}
	outerBits := bits.Bits[:2]
	bits.Bits = bits.Bits[2:]

	subTests := make(map[uint16]bytecode.LiteralSubTest)
	for i, lt := range bytecode.LiteralTypes() {
		if i >= len(tests.Tests) {
			break
		}
		test := tests.Tests[i]
		var subBits []uint16
		switch lt {
		case bytecode.LiteralInteger, bytecode.LiteralString, bytecode.LiteralCopyState, bytecode.LiteralArray:
			if len(bits.Bits) > 0 {
				subBits = []uint16{bits.Bits[0]}
				bits.Bits = bits.Bits[1:]
			}
		case bytecode.LiteralRegexp:
			subBits = append([]uint16(nil), bits.Bits...)
		}
		subTests[test] = bytecode.LiteralSubTest{Bits: subBits, Type: lt}
	}
	b.Opcodes[reg] = bytecode.Descriptor{Kind: bytecode.KindNewLiteral, Bits: outerBits, LiteralTests: subTests}
}

func (b *OpcodeBuilder) handleBinary(reg uint16, tests *TestExtractor, bits *BinaryBitExtractor) {
	for i, op := range bytecode.BinaryOperators() {
		if i >= len(tests.Tests) || len(bits.Bits) < 3 {
			return
		}
		test := tests.Tests[i]
		opBits := bits.Bits[:3]
		bits.Bits = bits.Bits[3:]
		var swap bool
		if i < len(bits.Swaps) {
			swap = bits.Swaps[i]
		}
		b.Opcodes[test] = bytecode.Descriptor{Kind: bytecode.KindBinary, Bits: opBits, BinaryOp: op, BinarySwap: swap}
	}
	_ = reg
}

func (b *OpcodeBuilder) handleHeap(reg uint16, tests *TestExtractor, bits *BitExtractor) {
	if len(bits.Bits) < 1 {
		return
	}
	outerBit := bits.Bits[0]
	bits.Bits = bits.Bits[1:]

	subTests := make(map[uint16]bytecode.HeapSubTest)
	for i, ht := range bytecode.HeapTypes() {
		if i >= len(tests.Tests) {
			break
		}
		test := tests.Tests[i]
		var subBits []uint16
		if ht != bytecode.HeapInit && len(bits.Bits) > 0 {
			subBits = []uint16{bits.Bits[0]}
			bits.Bits = bits.Bits[1:]
		}
		subTests[test] = bytecode.HeapSubTest{Bits: subBits, Type: ht}
	}
	b.Opcodes[reg] = bytecode.Descriptor{Kind: bytecode.KindHeap, Bits: []uint16{outerBit}, HeapTests: subTests}
}

func (b *OpcodeBuilder) defaultBits(stmts []ast.Statement) []uint16 {
	bits := NewBitExtractor(b.constants)
	for _, s := range stmts {
		Walk(s, bits.Visit)
	}
	return bits.Bits
}

// classifyLastStatement handles every single-shape (non-dispatch) opcode
// kind, keyed off the shape of the handler's final statement.
func (b *OpcodeBuilder) classifyLastStatement(reg uint16, fn *ast.FunctionLiteral, stmts []ast.Statement, last ast.Statement) {
	switch s := last.(type) {
	case *ast.ExpressionStatement:
		b.classifyExpressionStatement(reg, stmts, s)
	case *ast.IfStatement:
		b.dispatchByTestCount(reg, fn, stmts)
	case *ast.ThrowStatement:
		b.Opcodes[reg] = bytecode.Descriptor{Kind: bytecode.KindThrow, Bits: b.defaultBits(stmts)}
	}
}

func (b *OpcodeBuilder) classifyExpressionStatement(reg uint16, stmts []ast.Statement, s *ast.ExpressionStatement) {
	assign, ok := s.Expression.(*ast.AssignExpression)
	if !ok {
		b.classifyTrailingCallOrLogical(reg, stmts, s.Expression)
		return
	}
	bracket, ok := assign.Left.(*ast.BracketExpression)
	if !ok {
		return
	}

	switch rhs := assign.Right.(type) {
	case *ast.CallExpression:
		callee, ok := rhs.Callee.(*ast.BracketExpression)
		if !ok {
			return
		}
		ident, ok := callee.Left.(*ast.Identifier)
		if !ok {
			return
		}
		str, ok := callee.Member.(*ast.StringLiteral)
		if !ok {
			return
		}
		switch string(str.Value) {
		case "bind":
			switch len(ident.Name) {
			case 1:
				b.Opcodes[reg] = bytecode.Descriptor{Kind: bytecode.KindBind, Bits: b.defaultBits(stmts)}
			case 2:
				b.Opcodes[reg] = bytecode.Descriptor{Kind: bytecode.KindRegisterVMFunction, Bits: b.defaultBits(stmts)}
			}
		case "pop":
			b.Opcodes[reg] = bytecode.Descriptor{Kind: bytecode.KindPop, Bits: b.defaultBits(stmts)}
		}

	case *ast.ObjectLiteral:
		b.Opcodes[reg] = bytecode.Descriptor{Kind: bytecode.KindNewObject, Bits: b.defaultBits(stmts)}

	case *ast.BracketExpression:
		// rhs is itself a computed member access: its object tells GetProperty
		// (plain identifier base) from SetProperty (static member base).
		switch rhs.Left.(type) {
		case *ast.Identifier:
			b.Opcodes[reg] = bytecode.Descriptor{Kind: bytecode.KindGetProperty, Bits: b.defaultBits(stmts)}
		case *ast.DotExpression:
			b.Opcodes[reg] = bytecode.Descriptor{Kind: bytecode.KindSetProperty, Bits: b.defaultBits(stmts)}
		}

	case *ast.NewExpression:
		b.Opcodes[reg] = bytecode.Descriptor{Kind: bytecode.KindCallFuncNoContext, Bits: b.defaultBits(stmts)}

	case *ast.ArrayLiteral:
		b.Opcodes[reg] = bytecode.Descriptor{Kind: bytecode.KindNewArray, Bits: b.defaultBits(stmts)}

	case *ast.Identifier:
		// rhs is a plain register: the LHS index tells Jump (numeric
		// literal target) from Move (previous statement rebinds a register).
		if _, ok := bracket.Member.(*ast.NumberLiteral); ok {
			b.Opcodes[reg] = bytecode.Descriptor{Kind: bytecode.KindJump, Bits: b.defaultBits(stmts)}
		} else if len(stmts) >= 2 {
			if prev, ok := stmts[len(stmts)-2].(*ast.ExpressionStatement); ok {
				if prevAssign, ok := prev.Expression.(*ast.AssignExpression); ok {
					if _, ok := prevAssign.Left.(*ast.Identifier); ok {
						b.Opcodes[reg] = bytecode.Descriptor{Kind: bytecode.KindMove, Bits: b.defaultBits(stmts)}
					}
				}
			}
		}

	case *ast.ConditionalExpression:
		b.Opcodes[reg] = bytecode.Descriptor{Kind: bytecode.KindCall, Bits: b.defaultBits(stmts)}
	}
}

func (b *OpcodeBuilder) classifyTrailingCallOrLogical(reg uint16, stmts []ast.Statement, expr ast.Expression) {
	switch call := expr.(type) {
	case *ast.CallExpression:
		if len(call.ArgumentList) > 0 {
			if _, isMember := call.ArgumentList[0].(*ast.BracketExpression); !isMember {
				if _, isMember := call.ArgumentList[0].(*ast.DotExpression); !isMember {
					b.Opcodes[reg] = bytecode.Descriptor{Kind: bytecode.KindSplicePop, Bits: b.defaultBits(stmts)}
				}
			}
		}
		if callee, ok := call.Callee.(*ast.BracketExpression); ok {
			if str, ok := callee.Member.(*ast.StringLiteral); ok && string(str.Value) == "push" {
				b.Opcodes[reg] = bytecode.Descriptor{Kind: bytecode.KindArrayPush, Bits: b.defaultBits(stmts)}
			}
		}

	case *ast.BinaryExpression:
		if call.Operator == token.LOGICAL_AND || call.Operator == token.LOGICAL_OR {
			b.Opcodes[reg] = bytecode.Descriptor{Kind: bytecode.KindJumpIf, Bits: b.defaultBits(stmts)}
		}
	}
}
