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
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/token"
	"github.com/dop251/goja/unistring"
)

// mainScriptSentinel and secondaryScriptSentinel are the two strings whose
// presence at the head of the rotated string table proves the rotation
// offset was found, one for the main orchestrator and one for every other
// script Turnstile serves.
const (
	mainScriptSentinel      = "stringify"
	secondaryScriptSentinel = "Ninjas > pirates"
)

// decodeStringTable locates the obfuscated string table and its rotator
// function, rotates the table until the sentinel is at the head, and
// replaces every later `decoder(k)` call site with the decoded literal.
// A missing table, rotator, sentinel or decoder is not an error: the pass
// returns the statements unchanged.
func decodeStringTable(stmts []ast.Statement) []ast.Statement {
	table, tableVar := findStringTable(stmts)
	if table == nil {
		return stmts
	}

	rotator, offset := findRotator(stmts)
	if rotator == "" {
		return stmts
	}

	sentinel := mainScriptSentinel
	if !containsSentinel(table, sentinel) {
		sentinel = secondaryScriptSentinel
		if !containsSentinel(table, sentinel) {
			return stmts
		}
	}

	rotated := rotateToSentinel(table, sentinel, offset)
	decoderName := findDecoderName(stmts, tableVar)
	if decoderName == "" {
		return stmts
	}

	for _, s := range stmts {
		substituteDecoderCalls(s, decoderName, rotated)
	}
	return stmts
}

// findStringTable finds the first `X = "a~b~c~..."` or
// `X = "a,b,c".split(sep)` declaration and returns its decoded table plus
// the identifier it was bound to.
func findStringTable(stmts []ast.Statement) ([]string, string) {
	var table []string
	var name string

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

		switch rhs := assign.Right.(type) {
		case *ast.StringLiteral:
			if strings.Contains(string(rhs.Value), "~") {
				table = strings.Split(string(rhs.Value), "~")
				name = string(id.Name)
				return table, name
			}
		case *ast.CallExpression:
			callee, ok := rhs.Callee.(*ast.DotExpression)
			if !ok || string(callee.Identifier.Name) != "split" || len(rhs.ArgumentList) != 1 {
				continue
			}
			str, ok := callee.Left.(*ast.StringLiteral)
			if !ok {
				continue
			}
			sep, ok := rhs.ArgumentList[0].(*ast.StringLiteral)
			if !ok {
				continue
			}
			table = strings.Split(string(str.Value), string(sep.Value))
			name = string(id.Name)
			return table, name
		}
	}
	return table, name
}

// findRotator finds the `id = id - <numeric>` assignment marking the
// rotation-count constant.
func findRotator(stmts []ast.Statement) (string, int) {
	var found string
	var offset int
	for _, s := range stmts {
		expr, ok := s.(*ast.ExpressionStatement)
		if !ok {
			continue
		}
		assign, ok := expr.Expression.(*ast.AssignExpression)
		if !ok || assign.Operator != token.ASSIGN {
			continue
		}
		lhs, ok := assign.Left.(*ast.Identifier)
		if !ok {
			continue
		}
		bin, ok := assign.Right.(*ast.BinaryExpression)
		if !ok || bin.Operator != token.MINUS {
			continue
		}
		rhs, ok := bin.Left.(*ast.Identifier)
		if !ok || string(rhs.Name) != string(lhs.Name) {
			continue
		}
		num, ok := bin.Right.(*ast.NumberLiteral)
		if !ok {
			continue
		}
		found = string(lhs.Name)
		if f, ok := num.Value.(float64); ok {
			offset = int(f)
		}
	}
	return found, offset
}

func containsSentinel(table []string, sentinel string) bool {
	for _, s := range table {
		if s == sentinel {
			return true
		}
	}
	return false
}

// rotateToSentinel left-rotates table, starting from offset, until sentinel
// sits at index 0.
func rotateToSentinel(table []string, sentinel string, offset int) []string {
	n := len(table)
	if n == 0 {
		return table
	}
	start := ((offset % n) + n) % n
	rotated := append(append([]string(nil), table[start:]...), table[:start]...)

	for i, s := range rotated {
		if s == sentinel {
			return append(append([]string(nil), rotated[i:]...), rotated[:i]...)
		}
	}
	return rotated
}

// findDecoderName finds the function whose single numeric-arg call sites
// are used as `decoder(k)` against tableVar, skipping identifiers in a
// small blacklist of known non-decoder globals.
var decoderBlacklist = map[string]bool{
	"parseInt": true, "String": true, "Number": true, "Array": true,
}

func findDecoderName(stmts []ast.Statement, tableVar string) string {
	for _, s := range stmts {
		fn, ok := s.(*ast.FunctionStatement)
		if !ok || fn.Function == nil || fn.Function.Name == nil || fn.Function.Body == nil {
			continue
		}
		name := string(fn.Function.Name.Name)
		if decoderBlacklist[name] {
			continue
		}
		usesIdentifier := false
		for _, bs := range fn.Function.Body.List {
			if referencesIdentifier(bs, tableVar) {
				usesIdentifier = true
				break
			}
		}
		if usesIdentifier {
			return name
		}
	}
	return ""
}

func referencesIdentifier(node ast.Node, name string) bool {
	found := false
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		if found || n == nil {
			return
		}
		if id, ok := n.(*ast.Identifier); ok && string(id.Name) == name {
			found = true
			return
		}
		switch v := n.(type) {
		case *ast.BlockStatement:
			for _, s := range v.List {
				walk(s)
			}
		case *ast.ExpressionStatement:
			walk(v.Expression)
		case *ast.ReturnStatement:
			walk(v.Argument)
		case *ast.BracketExpression:
			walk(v.Left)
			walk(v.Member)
		case *ast.BinaryExpression:
			walk(v.Left)
			walk(v.Right)
		}
	}
	walk(node)
	return found
}

// substituteDecoderCalls replaces every `decoderName(<numeric literal>)`
// call in node with the corresponding decoded string literal from table.
func substituteDecoderCalls(node ast.Node, decoderName string, table []string) {
	switch n := node.(type) {
	case *ast.ExpressionStatement:
		n.Expression = substituteDecoderExpr(n.Expression, decoderName, table)
	case *ast.ReturnStatement:
		n.Argument = substituteDecoderExpr(n.Argument, decoderName, table)
	case *ast.IfStatement:
		n.Test = substituteDecoderExpr(n.Test, decoderName, table)
		substituteDecoderCalls(n.Consequent, decoderName, table)
		if n.Alternate != nil {
			substituteDecoderCalls(n.Alternate, decoderName, table)
		}
	case *ast.BlockStatement:
		for _, s := range n.List {
			substituteDecoderCalls(s, decoderName, table)
		}
	case *ast.VariableStatement:
		for _, v := range n.List {
			if ve, ok := v.(*ast.VariableExpression); ok {
				ve.Initializer = substituteDecoderExpr(ve.Initializer, decoderName, table)
			}
		}
	}
}

func substituteDecoderExpr(expr ast.Expression, decoderName string, table []string) ast.Expression {
	if expr == nil {
		return nil
	}
	if call, ok := expr.(*ast.CallExpression); ok {
		if id, ok := call.Callee.(*ast.Identifier); ok && string(id.Name) == decoderName {
			if len(call.ArgumentList) == 1 {
				if num, ok := call.ArgumentList[0].(*ast.NumberLiteral); ok {
					if f, ok := num.Value.(float64); ok {
						idx := int(f)
						if idx >= 0 && idx < len(table) {
							return &ast.StringLiteral{Value: unistring.String(table[idx])}
						}
					}
				}
			}
		}
	}
	switch e := expr.(type) {
	case *ast.BinaryExpression:
		e.Left = substituteDecoderExpr(e.Left, decoderName, table)
		e.Right = substituteDecoderExpr(e.Right, decoderName, table)
	case *ast.AssignExpression:
		e.Right = substituteDecoderExpr(e.Right, decoderName, table)
	case *ast.CallExpression:
		for i, a := range e.ArgumentList {
			e.ArgumentList[i] = substituteDecoderExpr(a, decoderName, table)
		}
	}
	return expr
}
