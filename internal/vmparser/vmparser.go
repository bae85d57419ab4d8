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

// Package vmparser walks the disassembled main VM function's dispatcher
// chain to recover the ordered list of fingerprint entries the orchestrator
// evaluates, classifying each one. It does not assemble the payload a solved
// challenge sends back.
package vmparser

import (
	"github.com/probechain/turnstile-probe/internal/bytecode"
	"github.com/probechain/turnstile-probe/internal/entries"
	"github.com/probechain/turnstile-probe/internal/flow"
	"github.com/probechain/turnstile-probe/internal/turnstileerr"
)

// VMPayloadEntryCase is one recovered dispatcher-chain link: the string key
// the orchestrator's main loop compares its state register against, paired
// with the classified entry that key's handler builds.
type VMPayloadEntryCase struct {
	Key   string
	Kind  entries.Kind
	Entry entries.Entry
}

// ParsedVM is the complete recovered dispatcher chain for one VM payload:
// every fingerprint entry in the order the orchestrator's state machine
// would visit them.
type ParsedVM struct {
	Cases []VMPayloadEntryCase
}

// keyToInstructions maps a dispatcher key to the instruction stream between
// its condition block and the chain's merge point — the handler body that
// decides which RegisterVMFunc calls (and thus which strings/values) belong
// to that key.
type keyToInstructions map[string][]bytecode.IndexedInstruction

// ParseVM recovers the full ordered dispatcher chain from a disassembled
// main VM function body and the registered sub-functions reached from it.
func ParseVM(mainBody []bytecode.IndexedInstruction, functions map[int]*bytecode.RegisteredFunction) (*ParsedVM, error) {
	g := flow.Build(0, mainBody)
	analysis := flow.Analyze(g)

	keysOrder, keyInstrs, err := grabKeysOrder(g, analysis, functions)
	if err != nil {
		return nil, err
	}

	var cases []VMPayloadEntryCase
	for _, key := range keysOrder {
		instrs := keyInstrs[key]
		capturedStrings, values := collectStringsAndValues(instrs, functions, make(map[int]bool))

		kind, entry, err := entries.Classify(capturedStrings, stringsOf(values), toEntryValues(values))
		if err != nil {
			return nil, turnstileerr.Wrapf(turnstileerr.Structure, err, "classify dispatcher key %q", key)
		}
		cases = append(cases, VMPayloadEntryCase{Key: key, Kind: kind, Entry: entry})
	}

	return &ParsedVM{Cases: cases}, nil
}

// grabKeysOrder walks the dispatcher chain starting at g's entry block,
// following each IfElseThen's else-branch to the next link in the chain,
// recovering the order the orchestrator's state machine tests its dispatch
// keys in and the instruction span each key's handler occupies. The walk
// stays inside g; it does not follow the chain into RegisterVMFunc bodies.
func grabKeysOrder(g *flow.Graph, analysis *flow.Analysis, functions map[int]*bytecode.RegisteredFunction) ([]string, keyToInstructions, error) {
	var order []string
	result := make(keyToInstructions)

	current := g.Entry
	visited := make(map[flow.NodeID]bool)

	for {
		if visited[current] {
			break
		}
		visited[current] = true

		structure, ok := analysis.Structures[current]
		if !ok {
			break
		}

		block := g.Blocks[current]
		key, ok := findStringCmpRegister(block)
		if !ok {
			key = "__undefined"
		}

		instrs := collectInstructions(g, structure.ThenBlock, structure.MergeBlock)
		order = append(order, key)
		result[key] = instrs

		if structure.ElseBlock == nil {
			break
		}
		current = *structure.ElseBlock
	}

	return order, result, nil
}

// findStringCmpRegister extracts the string literal a condition block's
// Binary::Equals instruction compares its test register against, by
// scanning the block for a NewLiteral(String) feeding a Binary whose
// result is consumed as the branch's tested register. Returns ok=false
// when the condition isn't a direct string comparison (the "__undefined"
// start of a dispatcher chain has no such comparison).
func findStringCmpRegister(block *flow.BasicBlock) (string, bool) {
	literals := make(map[uint16]string)
	for _, ii := range block.Instructions {
		if lit, ok := ii.Instruction.(*bytecode.NewLiteral); ok && lit.Data.Kind == bytecode.LDString {
			literals[lit.RetReg] = lit.Data.String
		}
	}
	for _, ii := range block.Instructions {
		bin, ok := ii.Instruction.(*bytecode.Binary)
		if !ok || bin.Op != bytecode.BinaryEquals {
			continue
		}
		if s, ok := literals[bin.A]; ok {
			return s, true
		}
		if s, ok := literals[bin.B]; ok {
			return s, true
		}
	}
	return "", false
}

// collectInstructions gathers every instruction reachable from start
// without passing through stop, via breadth-first block traversal — the
// handler body for one dispatcher key, bounded by the chain's merge point.
func collectInstructions(g *flow.Graph, start, stop flow.NodeID) []bytecode.IndexedInstruction {
	var out []bytecode.IndexedInstruction
	visited := map[flow.NodeID]bool{stop: true}
	queue := []flow.NodeID{start}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		block, ok := g.Blocks[id]
		if !ok {
			continue
		}
		out = append(out, block.Instructions...)
		for _, e := range block.Succs {
			if !visited[e.Target] {
				queue = append(queue, e.Target)
			}
		}
	}
	return out
}

// collectStringsAndValues recursively harvests every string literal
// captured directly in instrs plus every string/value captured inside any
// RegisterVMFunc body instrs calls (the handler dispatches to a named
// sub-routine that actually builds the fingerprint probe's key list),
// following call chains transitively while guarding against cycles via
// seen.
func collectStringsAndValues(instrs []bytecode.IndexedInstruction, functions map[int]*bytecode.RegisteredFunction, seen map[int]bool) ([]string, []bytecode.Value) {
	var strs []string
	var values []bytecode.Value

	for _, ii := range instrs {
		switch instr := ii.Instruction.(type) {
		case *bytecode.NewLiteral:
			switch instr.Data.Kind {
			case bytecode.LDString:
				strs = append(strs, instr.Data.String)
				values = append(values, bytecode.StringValue(instr.Data.String))
			case bytecode.LDUndefined:
				values = append(values, bytecode.UndefinedValue())
			case bytecode.LDInteger:
				values = append(values, bytecode.IntegerValue(instr.Data.Integer))
			}
		case *bytecode.RegisterVMFunc:
			fn, ok := functions[instr.Jump.Pos]
			if !ok || seen[instr.Jump.Pos] {
				continue
			}
			seen[instr.Jump.Pos] = true
			strs = append(strs, stringsOf(fn.Values)...)
			values = append(values, fn.Values...)
			subStrs, subValues := collectStringsAndValues(fn.Body, functions, seen)
			strs = append(strs, subStrs...)
			values = append(values, subValues...)
		}
	}
	return strs, values
}

func stringsOf(values []bytecode.Value) []string {
	var out []string
	for _, v := range values {
		if !v.IsUndefined && !v.IsInteger {
			out = append(out, v.String)
		}
	}
	return out
}

func toEntryValues(values []bytecode.Value) []entries.Value {
	out := make([]entries.Value, len(values))
	for i, v := range values {
		out[i] = entries.Value{IsString: !v.IsUndefined && !v.IsInteger, String: v.String, Integer: v.Integer}
	}
	return out
}
