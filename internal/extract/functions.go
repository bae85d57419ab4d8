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

// FoundFunctions is everything FindFunctions recovers from one pass over
// the orchestrator script: which named function installs the opcode table,
// the slot number of its constants array and initial rolling key, and the
// identifier-to-opcode-number binding for every handler registered via a
// computed assignment inside that function.
type FoundFunctions struct {
	// FunctionWithOpcodes is the name of the function whose body assigns
	// `this.g[<n>] = <handler>` for every opcode handler.
	FunctionWithOpcodes string
	// Constants is the numeric slot operand <n> recovered from the
	// `this.g[<n>] = [...]` constants-array registration.
	Constants uint16
	// Key is the initial rolling key, the 4th element of that same
	// constants array.
	Key uint16
	// Functions maps each handler identifier's name to its opcode number.
	Functions map[string]uint16
}

// FindFunctions walks program looking for a method that assigns `this.g =`
// a BinaryExpression (the opcode-table bootstrap marker) and then, within
// that same function, every computed assignment of the shape
// `this.g[<n>] = <identifier-or-array>` that registers one opcode handler
// or the shared constants array.
func FindFunctions(program *ast.Program) *FoundFunctions {
	found := &FoundFunctions{Functions: make(map[string]uint16)}

	var lastFunctionName string
	var inVMFunction bool

	Walk(program, func(node ast.Node) bool {
		switch n := node.(type) {
		case *ast.FunctionLiteral:
			if n.Name != nil {
				lastFunctionName = string(n.Name.Name)
			}
			inVMFunction = false

		case *ast.AssignExpression:
			if n.Operator != token.ASSIGN {
				return true
			}

			if dot, ok := n.Left.(*ast.DotExpression); ok && dot.Identifier.Name == "g" {
				if _, ok := dot.Left.(*ast.ThisExpression); ok {
					if _, ok := n.Right.(*ast.BinaryExpression); ok {
						inVMFunction = true
						found.FunctionWithOpcodes = lastFunctionName
					}
				}
			}

			if !inVMFunction {
				return true
			}

			bracket, ok := n.Left.(*ast.BracketExpression)
			if !ok {
				return true
			}
			dot, ok := bracket.Left.(*ast.DotExpression)
			if !ok || dot.Identifier.Name != "g" {
				return true
			}
			bin, ok := bracket.Member.(*ast.BinaryExpression)
			if !ok {
				return true
			}
			value, ok := numericLiteralOperand(bin)
			if !ok {
				return true
			}

			switch rhs := n.Right.(type) {
			case *ast.Identifier:
				found.Functions[string(rhs.Name)] = value
			case *ast.ArrayLiteral:
				found.Constants = value
				if len(rhs.Value) > 3 {
					if num, ok := rhs.Value[3].(*ast.NumberLiteral); ok {
						found.Key = numberLiteralToUint16(num)
					}
				}
			}
		}
		return true
	})

	return found
}

// numericLiteralOperand returns the NumberLiteral operand of a binary
// expression where exactly one side is a numeric literal, mirroring the
// source's left-then-right preference.
func numericLiteralOperand(bin *ast.BinaryExpression) (uint16, bool) {
	if num, ok := bin.Left.(*ast.NumberLiteral); ok {
		return numberLiteralToUint16(num), true
	}
	if num, ok := bin.Right.(*ast.NumberLiteral); ok {
		return numberLiteralToUint16(num), true
	}
	return 0, false
}

func numberLiteralToUint16(n *ast.NumberLiteral) uint16 {
	switch v := n.Value.(type) {
	case float64:
		return uint16(v)
	case int64:
		return uint16(v)
	default:
		return 0
	}
}
