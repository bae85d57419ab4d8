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
)

// undoControlFlowFlattening recognizes a for-statement whose init is a
// SequenceExpression containing an assignment of a call to
// "...|...|...".split("|") — the flattened dispatcher's state sequence —
// reads the pipe-separated state order, harvests each switch case keyed by
// its state label, and replaces the whole for-statement with the cases
// inlined in dispatcher order.
func undoControlFlowFlattening(stmts []ast.Statement) []ast.Statement {
	out := make([]ast.Statement, 0, len(stmts))
	for _, s := range stmts {
		for_, ok := s.(*ast.ForStatement)
		if !ok {
			out = append(out, s)
			continue
		}
		states, switchStmt := flattenedDispatcher(for_)
		if states == nil {
			out = append(out, s)
			continue
		}
		out = append(out, inlineDispatcherCases(states, switchStmt)...)
	}
	return out
}

// flattenedDispatcher reports the pipe-separated state sequence and the
// switch statement driving a flattened control-flow for-loop, or (nil, nil)
// if for_ does not have that shape.
func flattenedDispatcher(for_ *ast.ForStatement) ([]string, *ast.SwitchStatement) {
	seq, ok := for_.Initializer.(*ast.SequenceExpression)
	if !ok {
		return nil, nil
	}

	var states []string
	for _, e := range seq.Sequence {
		assign, ok := e.(*ast.AssignExpression)
		if !ok {
			continue
		}
		call, ok := assign.Right.(*ast.CallExpression)
		if !ok {
			continue
		}
		callee, ok := call.Callee.(*ast.DotExpression)
		if !ok || string(callee.Identifier.Name) != "split" {
			continue
		}
		str, ok := callee.Left.(*ast.StringLiteral)
		if !ok || !strings.Contains(string(str.Value), "|") {
			continue
		}
		if len(call.ArgumentList) != 1 {
			continue
		}
		sep, ok := call.ArgumentList[0].(*ast.StringLiteral)
		if !ok {
			continue
		}
		states = strings.Split(string(str.Value), string(sep.Value))
	}
	if states == nil {
		return nil, nil
	}

	block, ok := for_.Body.(*ast.BlockStatement)
	if !ok {
		return states, nil
	}
	for _, s := range block.List {
		if sw, ok := s.(*ast.SwitchStatement); ok {
			return states, sw
		}
	}
	return states, nil
}

// inlineDispatcherCases emits each switch case's statement list in the
// order states names them, dropping the trailing continue/break statement
// a flattened dispatcher's case bodies always end with. Only that final
// statement is removed; everything before it is kept.
func inlineDispatcherCases(states []string, sw *ast.SwitchStatement) []ast.Statement {
	if sw == nil {
		return nil
	}
	cases := make(map[string][]ast.Statement, len(sw.Body))
	for _, c := range sw.Body {
		str, ok := c.Test.(*ast.StringLiteral)
		if !ok {
			continue
		}
		cases[string(str.Value)] = trimDispatcherTail(c.Consequent)
	}

	var out []ast.Statement
	for _, state := range states {
		out = append(out, cases[state]...)
	}
	return out
}

// trimDispatcherTail drops the final break/continue statement every
// flattened-dispatcher case body ends with; the inlined code just falls
// through to the next case's statements instead.
func trimDispatcherTail(stmts []ast.Statement) []ast.Statement {
	if len(stmts) == 0 {
		return stmts
	}
	switch stmts[len(stmts)-1].(type) {
	case *ast.BranchStatement:
		return stmts[:len(stmts)-1]
	default:
		return stmts
	}
}
