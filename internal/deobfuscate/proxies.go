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
	"github.com/dop251/goja/unistring"
)

// proxyDomainBlacklist holds 5-character identifiers that happen to collide
// with the proxy-table naming convention but are ordinary script globals,
// not proxy functions. Populated empty here; a concrete script's blacklist
// is a handful of DOM/BOM global names discovered per-site.
var proxyDomainBlacklist = map[string]bool{}

// proxyKind discriminates the three shapes a proxy table entry can take.
type proxyKind int

const (
	proxyString proxyKind = iota
	proxyCall
	proxyBinary
)

type proxyEntry struct {
	kind     proxyKind
	str      string
	calleeID int
	argIDs   []int
	op       string
}

// replaceProxyFunctions recovers the script-wide proxy dictionary (5-char
// identifiers outside proxyDomainBlacklist bound to a string literal, a
// call-expression-by-index, or a binary-expression-by-index), resolves
// chains up to 3 levels deep, and rewrites every `proxy(args)` call site
// whose proxy is bound to a string literal with that literal. Call sites of
// call-expression and binary-expression proxies are left unchanged.
func replaceProxyFunctions(stmts []ast.Statement) []ast.Statement {
	entries := make(map[string]proxyEntry)
	collectProxyEntries(stmts, entries)
	if len(entries) == 0 {
		return stmts
	}

	for pass := 0; pass < 3; pass++ {
		// Chains resolve themselves naturally at call-substitution time since
		// substituteProxyCalls re-walks nested call arguments; three passes of
		// top-down substitution is enough to settle any proxy-of-proxy chain
		// no deeper than 3 links.
		for _, s := range stmts {
			substituteProxyCalls(s, entries)
		}
	}
	return stmts
}

func collectProxyEntries(stmts []ast.Statement, out map[string]proxyEntry) {
	for _, s := range stmts {
		expr, ok := s.(*ast.ExpressionStatement)
		if !ok {
			continue
		}
		assign, ok := expr.Expression.(*ast.AssignExpression)
		if !ok {
			continue
		}

		switch lhs := assign.Left.(type) {
		case *ast.Identifier:
			if len(lhs.Name) != 5 || proxyDomainBlacklist[string(lhs.Name)] {
				continue
			}
			if e, ok := proxyEntryFromRHS(assign.Right); ok {
				out[string(lhs.Name)] = e
			}
		case *ast.BracketExpression:
			if _, ok := lhs.Left.(*ast.Identifier); !ok {
				continue
			}
			str, ok := lhs.Member.(*ast.StringLiteral)
			if !ok || len(string(str.Value)) != 5 {
				continue
			}
			if e, ok := proxyEntryFromRHS(assign.Right); ok {
				out[string(str.Value)] = e
			}
		}

		if obj, ok := assign.Right.(*ast.ObjectLiteral); ok {
			for _, p := range obj.Value {
				keyed, ok := p.(*ast.PropertyKeyed)
				if !ok {
					continue
				}
				name := propertyKeyName(keyed.Key)
				if len(name) != 5 {
					continue
				}
				if e, ok := proxyEntryFromRHS(keyed.Value); ok {
					out[name] = e
				}
			}
		}
	}
}

func proxyEntryFromRHS(expr ast.Expression) (proxyEntry, bool) {
	switch e := expr.(type) {
	case *ast.StringLiteral:
		return proxyEntry{kind: proxyString, str: string(e.Value)}, true
	case *ast.FunctionLiteral:
		if e.Body == nil || len(e.Body.List) == 0 {
			return proxyEntry{}, false
		}
		ret, ok := e.Body.List[len(e.Body.List)-1].(*ast.ReturnStatement)
		if !ok {
			return proxyEntry{}, false
		}
		switch arg := ret.Argument.(type) {
		case *ast.CallExpression:
			ids := make([]int, 0, len(arg.ArgumentList))
			for _, a := range arg.ArgumentList {
				if num, ok := a.(*ast.NumberLiteral); ok {
					ids = append(ids, int(numberLiteralFloat(num)))
				}
			}
			return proxyEntry{kind: proxyCall, argIDs: ids}, true
		case *ast.BinaryExpression:
			return proxyEntry{kind: proxyBinary, op: string(opToString(arg))}, true
		}
	}
	return proxyEntry{}, false
}

func numberLiteralFloat(n *ast.NumberLiteral) float64 {
	if f, ok := n.Value.(float64); ok {
		return f
	}
	return 0
}

func opToString(bin *ast.BinaryExpression) string {
	return bin.Operator.String()
}

func substituteProxyCalls(node ast.Node, entries map[string]proxyEntry) {
	switch n := node.(type) {
	case *ast.ExpressionStatement:
		n.Expression = substituteProxyExpr(n.Expression, entries)
	case *ast.ReturnStatement:
		n.Argument = substituteProxyExpr(n.Argument, entries)
	case *ast.BlockStatement:
		for _, s := range n.List {
			substituteProxyCalls(s, entries)
		}
	case *ast.IfStatement:
		n.Test = substituteProxyExpr(n.Test, entries)
		substituteProxyCalls(n.Consequent, entries)
		if n.Alternate != nil {
			substituteProxyCalls(n.Alternate, entries)
		}
	}
}

func substituteProxyExpr(expr ast.Expression, entries map[string]proxyEntry) ast.Expression {
	if expr == nil {
		return nil
	}
	if call, ok := expr.(*ast.CallExpression); ok {
		for i, a := range call.ArgumentList {
			call.ArgumentList[i] = substituteProxyExpr(a, entries)
		}
		if id, ok := call.Callee.(*ast.Identifier); ok {
			if e, ok := entries[string(id.Name)]; ok && e.kind == proxyString {
				return &ast.StringLiteral{Value: unistring.String(e.str)}
			}
		}
	}
	switch e := expr.(type) {
	case *ast.BinaryExpression:
		e.Left = substituteProxyExpr(e.Left, entries)
		e.Right = substituteProxyExpr(e.Right, entries)
	case *ast.AssignExpression:
		e.Right = substituteProxyExpr(e.Right, entries)
	}
	return expr
}
