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

// Package deobfuscate runs the six ordered, mutable AST rewriting passes
// that turn a raw Turnstile orchestrator script into one internal/extract
// can read structural shapes out of directly: number-map inlining,
// string-table decoding, sequence-expression lowering, proxy-function
// replacement, control-flow-flattening undo, and conditional normalization.
// Order matters — each later pass assumes the shapes the earlier ones
// already cleaned up.
package deobfuscate

import (
	"github.com/dop251/goja/parser"

	"github.com/dop251/goja/ast"
	"github.com/probechain/turnstile-probe/internal/turnstileerr"
)

// Run parses source as a script (not a module) and applies all six passes
// in order, returning the rewritten program.
func Run(source string) (*ast.Program, error) {
	program, err := parser.ParseFile(nil, "", source, 0)
	if err != nil {
		return nil, turnstileerr.Wrap(turnstileerr.Parse, err, "parse orchestrator script")
	}

	program.Body = inlineNumberMaps(program.Body)
	program.Body = decodeStringTable(program.Body)
	program.Body = lowerSequenceExpressions(program.Body)
	program.Body = replaceProxyFunctions(program.Body)
	program.Body = undoControlFlowFlattening(program.Body)
	program.Body = normalizeConditionals(program.Body)

	return program, nil
}

// mapStatements applies fn to every statement in stmts and to every nested
// statement list reachable through blocks, if/else arms, loop bodies, and
// function bodies, bottom-up: children are rewritten before fn sees the
// parent list, so later passes can assume earlier passes already cleaned
// up nested scopes.
func mapStatements(stmts []ast.Statement, fn func([]ast.Statement) []ast.Statement) []ast.Statement {
	for i, s := range stmts {
		stmts[i] = mapNestedBlocks(s, fn)
	}
	return fn(stmts)
}

func mapNestedBlocks(stmt ast.Statement, fn func([]ast.Statement) []ast.Statement) ast.Statement {
	switch s := stmt.(type) {
	case *ast.BlockStatement:
		s.List = mapStatements(s.List, fn)
	case *ast.IfStatement:
		s.Consequent = mapNestedBlocks(s.Consequent, fn)
		if s.Alternate != nil {
			s.Alternate = mapNestedBlocks(s.Alternate, fn)
		}
	case *ast.ForStatement:
		s.Body = mapNestedBlocks(s.Body, fn)
	case *ast.WhileStatement:
		s.Body = mapNestedBlocks(s.Body, fn)
	case *ast.LabelledStatement:
		s.Statement = mapNestedBlocks(s.Statement, fn)
	case *ast.SwitchStatement:
		for _, c := range s.Body {
			c.Consequent = mapStatements(c.Consequent, fn)
		}
	case *ast.TryStatement:
		if s.Body != nil {
			s.Body.List = mapStatements(s.Body.List, fn)
		}
		if s.Catch != nil && s.Catch.Body != nil {
			s.Catch.Body.List = mapStatements(s.Catch.Body.List, fn)
		}
		if s.Finally != nil {
			s.Finally.List = mapStatements(s.Finally.List, fn)
		}
	case *ast.FunctionStatement:
		if s.Function != nil && s.Function.Body != nil {
			s.Function.Body.List = mapStatements(s.Function.Body.List, fn)
		}
	case *ast.ExpressionStatement:
		mapFunctionLiteralsInExpression(s.Expression, fn)
	}
	return stmt
}

// mapFunctionLiteralsInExpression descends into function literals that
// show up as expressions (assigned handlers, IIFEs) so their bodies get the
// same bottom-up rewrite as top-level and statement-form functions.
func mapFunctionLiteralsInExpression(expr ast.Expression, fn func([]ast.Statement) []ast.Statement) {
	switch e := expr.(type) {
	case *ast.FunctionLiteral:
		if e.Body != nil {
			e.Body.List = mapStatements(e.Body.List, fn)
		}
	case *ast.AssignExpression:
		mapFunctionLiteralsInExpression(e.Right, fn)
	case *ast.CallExpression:
		for _, a := range e.ArgumentList {
			mapFunctionLiteralsInExpression(a, fn)
		}
	}
}
