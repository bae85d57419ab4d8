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

import "github.com/dop251/goja/ast"

// inlineNumberMaps finds every top-level-visible `X = { k1: n1, k2: n2, ... }`
// object literal whose values are all integer literals, and replaces every
// later `X.ki` static member access with the numeric literal it maps to.
// The declaration itself is left in place; only read sites are folded,
// since a later pass may still need to see the identifier's declaration
// shape.
func inlineNumberMaps(stmts []ast.Statement) []ast.Statement {
	maps := make(map[string]map[string]float64)

	for _, s := range stmts {
		expr, ok := s.(*ast.ExpressionStatement)
		if !ok {
			continue
		}
		assign, ok := expr.Expression.(*ast.AssignExpression)
		if !ok {
			continue
		}
		id, ok := assign.Left.(*ast.Identifier)
		if !ok {
			continue
		}
		obj, ok := assign.Right.(*ast.ObjectLiteral)
		if !ok {
			continue
		}

		m := make(map[string]float64, len(obj.Value))
		allNumeric := true
		for _, p := range obj.Value {
			keyed, ok := p.(*ast.PropertyKeyed)
			if !ok {
				allNumeric = false
				break
			}
			num, ok := keyed.Value.(*ast.NumberLiteral)
			if !ok {
				allNumeric = false
				break
			}
			if f, ok := num.Value.(float64); ok {
				m[propertyKeyName(keyed.Key)] = f
			} else {
				allNumeric = false
				break
			}
		}
		if allNumeric && len(m) > 0 {
			maps[string(id.Name)] = m
		}
	}

	if len(maps) == 0 {
		return stmts
	}

	for _, s := range stmts {
		inlineNumberMapRefs(s, maps)
	}
	return stmts
}

func propertyKeyName(key ast.Expression) string {
	switch k := key.(type) {
	case *ast.Identifier:
		return string(k.Name)
	case *ast.StringLiteral:
		return string(k.Value)
	default:
		return ""
	}
}

// inlineNumberMapRefs rewrites `X.ki` static member expressions in place by
// overwriting the reference's parent slot — since goja's ast.Expression
// fields are plain interface values, substitution happens at each
// known container field rather than through an in-place node mutation.
func inlineNumberMapRefs(node ast.Node, maps map[string]map[string]float64) {
	switch n := node.(type) {
	case *ast.ExpressionStatement:
		n.Expression = replaceExpr(n.Expression, maps)
	case *ast.ReturnStatement:
		n.Argument = replaceExpr(n.Argument, maps)
	case *ast.IfStatement:
		n.Test = replaceExpr(n.Test, maps)
		inlineNumberMapRefs(n.Consequent, maps)
		if n.Alternate != nil {
			inlineNumberMapRefs(n.Alternate, maps)
		}
	case *ast.BlockStatement:
		for _, s := range n.List {
			inlineNumberMapRefs(s, maps)
		}
	case *ast.VariableStatement:
		for _, e := range n.List {
			inlineNumberMapRefs(e, maps)
		}
	case *ast.VariableExpression:
		n.Initializer = replaceExpr(n.Initializer, maps)
	}
}

func replaceExpr(expr ast.Expression, maps map[string]map[string]float64) ast.Expression {
	if expr == nil {
		return nil
	}
	if dot, ok := expr.(*ast.DotExpression); ok {
		if id, ok := dot.Left.(*ast.Identifier); ok {
			if m, ok := maps[string(id.Name)]; ok {
				if v, ok := m[string(dot.Identifier.Name)]; ok {
					return &ast.NumberLiteral{Value: v}
				}
			}
		}
	}
	switch e := expr.(type) {
	case *ast.BinaryExpression:
		e.Left = replaceExpr(e.Left, maps)
		e.Right = replaceExpr(e.Right, maps)
	case *ast.AssignExpression:
		e.Right = replaceExpr(e.Right, maps)
	case *ast.CallExpression:
		for i, a := range e.ArgumentList {
			e.ArgumentList[i] = replaceExpr(a, maps)
		}
	case *ast.ConditionalExpression:
		e.Test = replaceExpr(e.Test, maps)
		e.Consequent = replaceExpr(e.Consequent, maps)
		e.Alternate = replaceExpr(e.Alternate, maps)
	}
	return expr
}
