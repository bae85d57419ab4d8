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

// Package flow recovers control flow from a disassembled VM function: basic
// block splitting, the successor/predecessor edge graph, and post-dominator
// based structuring of if/else/merge shapes. Nothing here touches raw bytes
// or registers beyond what's needed to find jump targets.
package flow

import "github.com/probechain/turnstile-probe/internal/bytecode"

// NodeID is a basic block identifier: the byte offset of its first
// instruction, matching the teacher's own "block id is a code address"
// convention rather than a synthetic counter.
type NodeID int

// EdgeKind classifies why one block transfers control to another.
type EdgeKind int

const (
	EdgeUnconditional EdgeKind = iota
	EdgeConditional
	EdgeFallthrough
)

func (k EdgeKind) String() string {
	switch k {
	case EdgeUnconditional:
		return "unconditional"
	case EdgeConditional:
		return "conditional"
	case EdgeFallthrough:
		return "fallthrough"
	default:
		return "?edge?"
	}
}

// Edge is one directed CFG edge. Cond is the tested register for
// EdgeConditional edges and unused otherwise.
type Edge struct {
	Target NodeID
	Kind   EdgeKind
	Cond   uint16
	HasCond bool
}

// BasicBlock is a straight-line run of instructions ending at a branch, a
// terminal instruction, or the start of another block.
type BasicBlock struct {
	ID           NodeID
	Instructions []bytecode.IndexedInstruction
	Succs        []Edge
	Preds        []Edge
}

// IsExit reports whether this block has no successors, or ends with a
// terminal instruction (Return or Throw) — both cases terminate the
// function along this path.
func (b *BasicBlock) IsExit() bool {
	if len(b.Succs) == 0 {
		return true
	}
	if len(b.Instructions) == 0 {
		return false
	}
	last := b.Instructions[len(b.Instructions)-1].Instruction
	switch last.(type) {
	case *bytecode.Return, *bytecode.Throw:
		return true
	default:
		return false
	}
}

// VirtualExit is the synthetic post-dominator-tree root every sink block
// (a block with no successors, or one ending in Return/Throw) gets a
// fallthrough edge into. No real instruction offset is negative, so this
// sentinel can never collide with a genuine block id.
//
// A literal transcription of the disassembler's own ControlFlowGraph::make
// would set Exit to the offset of the last-visited block, which is wrong
// whenever that block isn't actually a sink — the post-dominator computation
// then adds virtual sink→exit edges into a node that isn't the tree root.
// Graph always uses this sentinel as the true root instead.
const VirtualExit NodeID = -1

// Graph is the recovered control flow graph for a single registered VM
// function. Entry is the function's first instruction offset; Exit is
// always VirtualExit, the single synthesized root post-dominator analysis
// walks from (see VirtualExit).
type Graph struct {
	Entry NodeID
	Exit  NodeID

	Blocks map[NodeID]*BasicBlock
}

func ensureBlock(blocks map[NodeID]*BasicBlock, id NodeID) *BasicBlock {
	b, ok := blocks[id]
	if !ok {
		b = &BasicBlock{ID: id}
		blocks[id] = b
	}
	return b
}

func addEdge(blocks map[NodeID]*BasicBlock, from, to NodeID, kind EdgeKind, cond uint16, hasCond bool) {
	ensureBlock(blocks, from).Succs = append(ensureBlock(blocks, from).Succs, Edge{Target: to, Kind: kind, Cond: cond, HasCond: hasCond})
	ensureBlock(blocks, to).Preds = append(ensureBlock(blocks, to).Preds, Edge{Target: from, Kind: kind, Cond: cond, HasCond: hasCond})
}

// Build splits a registered function's offset-ordered instruction stream
// into basic blocks and wires the successor/predecessor edges. The split
// points are exactly the union of every jump target seen in the stream (the
// same single forward scan the teacher's own disassembler uses to find
// registered-function start points, generalized here to arbitrary targets).
func Build(funcStart int, instructions []bytecode.IndexedInstruction) *Graph {
	targets := make(map[int]bool)
	for _, ii := range instructions {
		switch instr := ii.Instruction.(type) {
		case *bytecode.UnconditionalJump:
			targets[instr.Jmp.Pos] = true
		case *bytecode.ConditionalJump:
			targets[instr.Jmp.Pos] = true
		}
	}

	blocks := make(map[NodeID]*BasicBlock)
	if len(instructions) == 0 {
		blocks[NodeID(funcStart)] = &BasicBlock{ID: NodeID(funcStart)}
		return &Graph{Entry: NodeID(funcStart), Exit: VirtualExit, Blocks: blocks}
	}

	current := NodeID(funcStart)
	ensureBlock(blocks, current)
	skipEdge := false

	for idx, ii := range instructions {
		if targets[ii.Offset] && NodeID(ii.Offset) != current {
			old := current
			if !skipEdge {
				addEdge(blocks, old, NodeID(ii.Offset), EdgeFallthrough, 0, false)
			}
			current = NodeID(ii.Offset)
			ensureBlock(blocks, current)
		}
		skipEdge = false

		switch instr := ii.Instruction.(type) {
		case *bytecode.UnconditionalJump:
			addEdge(blocks, current, NodeID(instr.Jmp.Pos), EdgeUnconditional, 0, false)
			skipEdge = true
			if idx+1 < len(instructions) {
				current = NodeID(instructions[idx+1].Offset)
				ensureBlock(blocks, current)
			}
			continue

		case *bytecode.ConditionalJump:
			addEdge(blocks, current, NodeID(instr.Jmp.Pos), EdgeConditional, instr.TestReg, true)
			if idx+1 < len(instructions) {
				next := NodeID(instructions[idx+1].Offset)
				addEdge(blocks, current, next, EdgeFallthrough, 0, false)
				current = next
				ensureBlock(blocks, current)
			}
			continue

		case *bytecode.NewLiteral:
			if instr.Data.Kind == bytecode.LDCopyState {
				ensureBlock(blocks, NodeID(instr.Data.CopyState.Pos))
				b := ensureBlock(blocks, current)
				b.Instructions = append(b.Instructions, ii)
				continue
			}
			b := ensureBlock(blocks, current)
			b.Instructions = append(b.Instructions, ii)

		case *bytecode.Throw, *bytecode.Return:
			b := ensureBlock(blocks, current)
			b.Instructions = append(b.Instructions, ii)
			if idx+1 < len(instructions) {
				current = NodeID(instructions[idx+1].Offset)
				ensureBlock(blocks, current)
				skipEdge = true
			}

		default:
			b := ensureBlock(blocks, current)
			b.Instructions = append(b.Instructions, ii)
		}
	}

	_ = current // last block visited; intentionally not used as Exit, see VirtualExit
	return &Graph{Entry: NodeID(funcStart), Exit: VirtualExit, Blocks: blocks}
}

// CopyStateTargets converts a NewLiteral(CopyState) payload into its
// equivalent jump offset. Build does the same conversion inline to
// pre-register the target block without adding an edge — the original VM's try/catch-like "copy current
// interpreter state to a shadow continuation" instruction is asymmetric:
// it doesn't hand off control itself, a later real jump into that offset
// does.
func CopyStateTargets(instr *bytecode.NewLiteral) (int, bool) {
	if instr.Data.Kind != bytecode.LDCopyState {
		return 0, false
	}
	return instr.Data.CopyState.Pos, true
}
