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

// Package extract holds the read-only AST walks that recover static facts
// from a (already deobfuscated) Turnstile orchestrator script: which
// identifier is bound to which opcode slot, the key-update expression, the
// payload key layout, and the recovered Opcode descriptor table itself.
// Nothing here mutates the AST; internal/deobfuscate owns rewriting.
//
// goja's parser has no built-in visitor framework (unlike oxc_ast_visit),
// so every extractor here walks the tree by hand via Walk.
package extract

import "github.com/dop251/goja/ast"

// Visitor is called once per AST node during Walk, preorder. Returning
// false skips that node's children (useful once an extractor has found
// what it's looking for inside a subtree it doesn't need to re-enter).
type Visitor func(node ast.Node) bool

// Walk performs a preorder traversal of node and everything reachable from
// it, calling visit at each step. It understands every statement and
// expression shape the extractors in this package need to look inside;
// node kinds with no children (literals, identifiers) are leaves.
func Walk(node ast.Node, visit Visitor) {
	if node == nil {
		return
	}
	if !visit(node) {
		return
	}

	switch n := node.(type) {
	case *ast.Program:
		for _, s := range n.Body {
			Walk(s, visit)
		}
	case *ast.BlockStatement:
		for _, s := range n.List {
			Walk(s, visit)
		}
	case *ast.ExpressionStatement:
		Walk(n.Expression, visit)
	case *ast.IfStatement:
		Walk(n.Test, visit)
		Walk(n.Consequent, visit)
		Walk(n.Alternate, visit)
	case *ast.ForStatement:
		Walk(n.Initializer, visit)
		Walk(n.Test, visit)
		Walk(n.Update, visit)
		Walk(n.Body, visit)
	case *ast.WhileStatement:
		Walk(n.Test, visit)
		Walk(n.Body, visit)
	case *ast.ReturnStatement:
		Walk(n.Argument, visit)
	case *ast.ThrowStatement:
		Walk(n.Argument, visit)
	case *ast.VariableStatement:
		for _, e := range n.List {
			Walk(e, visit)
		}
	case *ast.SwitchStatement:
		Walk(n.Discriminant, visit)
		for _, c := range n.Body {
			Walk(c.Test, visit)
			for _, s := range c.Consequent {
				Walk(s, visit)
			}
		}
	case *ast.LabelledStatement:
		Walk(n.Statement, visit)
	case *ast.TryStatement:
		Walk(n.Body, visit)
		if n.Catch != nil {
			Walk(n.Catch.Body, visit)
		}
		Walk(n.Finally, visit)

	case *ast.BinaryExpression:
		Walk(n.Left, visit)
		Walk(n.Right, visit)
	case *ast.AssignExpression:
		Walk(n.Left, visit)
		Walk(n.Right, visit)
	case *ast.UnaryExpression:
		Walk(n.Operand, visit)
	case *ast.ConditionalExpression:
		Walk(n.Test, visit)
		Walk(n.Consequent, visit)
		Walk(n.Alternate, visit)
	case *ast.SequenceExpression:
		for _, e := range n.Sequence {
			Walk(e, visit)
		}
	case *ast.CallExpression:
		Walk(n.Callee, visit)
		for _, a := range n.ArgumentList {
			Walk(a, visit)
		}
	case *ast.NewExpression:
		Walk(n.Callee, visit)
		for _, a := range n.ArgumentList {
			Walk(a, visit)
		}
	case *ast.DotExpression:
		Walk(n.Left, visit)
	case *ast.BracketExpression:
		Walk(n.Left, visit)
		Walk(n.Member, visit)
	case *ast.ArrayLiteral:
		for _, e := range n.Value {
			Walk(e, visit)
		}
	case *ast.ObjectLiteral:
		for _, p := range n.Value {
			if pk, ok := p.(*ast.PropertyKeyed); ok {
				Walk(pk.Value, visit)
			}
		}
	case *ast.FunctionLiteral:
		if n.Body != nil {
			Walk(n.Body, visit)
		}
	case *ast.VariableExpression:
		Walk(n.Initializer, visit)
	}
}
