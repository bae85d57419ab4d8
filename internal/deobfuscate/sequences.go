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

// lowerSequenceExpressions flattens comma-expressions wherever they appear
// as a statement's whole expression (into N expression statements), as a
// return value (all but the last sub-expression become statements ahead of
// the return), or as an if-condition (the prefix is lifted to statements
// ahead of the if, the last sub-expression becomes the test).
func lowerSequenceExpressions(stmts []ast.Statement) []ast.Statement {
	out := make([]ast.Statement, 0, len(stmts))
	for _, s := range stmts {
		out = append(out, lowerStatement(s)...)
	}
	return out
}

func lowerStatement(s ast.Statement) []ast.Statement {
	switch st := s.(type) {
	case *ast.ExpressionStatement:
		if seq, ok := st.Expression.(*ast.SequenceExpression); ok {
			return sequenceToStatements(seq)
		}
		return []ast.Statement{st}

	case *ast.ReturnStatement:
		if seq, ok := st.Argument.(*ast.SequenceExpression); ok && len(seq.Sequence) > 0 {
			prefix := sequenceToStatements(&ast.SequenceExpression{Sequence: seq.Sequence[:len(seq.Sequence)-1]})
			st.Argument = seq.Sequence[len(seq.Sequence)-1]
			return append(prefix, st)
		}
		return []ast.Statement{st}

	case *ast.IfStatement:
		var prefix []ast.Statement
		if seq, ok := st.Test.(*ast.SequenceExpression); ok && len(seq.Sequence) > 0 {
			prefix = sequenceToStatements(&ast.SequenceExpression{Sequence: seq.Sequence[:len(seq.Sequence)-1]})
			st.Test = seq.Sequence[len(seq.Sequence)-1]
		}
		st.Consequent = lowerBlock(st.Consequent)
		if st.Alternate != nil {
			st.Alternate = lowerBlock(st.Alternate)
		}
		return append(prefix, st)

	case *ast.BlockStatement:
		return []ast.Statement{lowerBlock(st)}

	case *ast.ForStatement:
		st.Body = lowerBlock(st.Body)
		return []ast.Statement{st}

	case *ast.WhileStatement:
		st.Body = lowerBlock(st.Body)
		return []ast.Statement{st}

	default:
		return []ast.Statement{s}
	}
}

func lowerBlock(s ast.Statement) ast.Statement {
	block, ok := s.(*ast.BlockStatement)
	if !ok {
		lowered := lowerStatement(s)
		if len(lowered) == 1 {
			return lowered[0]
		}
		return &ast.BlockStatement{List: lowered}
	}
	block.List = lowerSequenceExpressions(block.List)
	return block
}

func sequenceToStatements(seq *ast.SequenceExpression) []ast.Statement {
	out := make([]ast.Statement, 0, len(seq.Sequence))
	for _, e := range seq.Sequence {
		out = append(out, &ast.ExpressionStatement{Expression: e})
	}
	return out
}
