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

package flow

import "sort"

// IfElseThen is a recovered two-way branch structure: ConditionBlock tests
// Cond and either falls through to ThenBlock or jumps to ElseBlock (absent
// when the conditional edge's target is itself the merge point), with both
// paths rejoining at MergeBlock.
type IfElseThen struct {
	ConditionBlock NodeID
	ThenBlock      NodeID
	ElseBlock      *NodeID
	MergeBlock     NodeID
	Cond           uint16
}

// Analysis holds every IfElseThen structure recovered from a Graph, keyed
// by its condition block.
type Analysis struct {
	Structures map[NodeID]IfElseThen
}

// Analyze computes post-dominators over g and detects every IfElseThen
// shape: a block with exactly two successors ordered (Conditional,
// Fallthrough) whose immediate post-dominator is the merge point.
func Analyze(g *Graph) *Analysis {
	if len(g.Blocks) == 0 {
		return &Analysis{Structures: map[NodeID]IfElseThen{}}
	}

	postDom := postDominators(g)
	structures := make(map[NodeID]IfElseThen)

	for id, b := range g.Blocks {
		if len(b.Succs) != 2 {
			continue
		}
		if b.Succs[0].Kind != EdgeConditional || b.Succs[1].Kind != EdgeFallthrough {
			continue
		}

		merge, ok := postDom[id]
		if !ok {
			continue
		}

		s := IfElseThen{
			ConditionBlock: id,
			ThenBlock:      b.Succs[1].Target,
			MergeBlock:     merge,
			Cond:           b.Succs[0].Cond,
		}
		if merge != b.Succs[0].Target {
			target := b.Succs[0].Target
			s.ElseBlock = &target
		}
		structures[id] = s
	}

	return &Analysis{Structures: structures}
}

// postDominators computes, for every real block reachable in the reversed
// graph from VirtualExit, its immediate post-dominator using the iterative
// Cooper-Harvey-Kennedy algorithm. Every sink block (no successors, or one
// ending Return/Throw) gets an implicit edge to VirtualExit first.
func postDominators(g *Graph) map[NodeID]NodeID {
	preds := make(map[NodeID][]NodeID) // in the REVERSED graph: successors of a node
	var order []NodeID

	for id, b := range g.Blocks {
		order = append(order, id)
		if b.IsExit() {
			preds[VirtualExit] = append(preds[VirtualExit], id)
			preds[id] = append(preds[id], VirtualExit)
		}
		for _, e := range b.Succs {
			preds[id] = append(preds[id], e.Target)
		}
	}
	order = append(order, VirtualExit)

	// Reverse postorder of the reversed graph, computed via DFS from
	// VirtualExit walking reversed-successors (= original predecessors).
	revSucc := make(map[NodeID][]NodeID) // original predecessor edges, i.e. reversed-graph successors
	for id, b := range g.Blocks {
		for _, e := range b.Preds {
			revSucc[id] = append(revSucc[id], e.Target)
		}
	}
	for sink, origs := range preds {
		if sink == VirtualExit {
			for _, o := range origs {
				revSucc[VirtualExit] = append(revSucc[VirtualExit], o)
			}
		}
	}

	rpo := reversePostorder(VirtualExit, revSucc)
	rpoIndex := make(map[NodeID]int, len(rpo))
	for i, n := range rpo {
		rpoIndex[n] = i
	}

	idom := make(map[NodeID]NodeID)
	idom[VirtualExit] = VirtualExit

	changed := true
	for changed {
		changed = false
		for _, n := range rpo {
			if n == VirtualExit {
				continue
			}
			var newIdom NodeID
			first := true
			for _, p := range preds[n] {
				if _, ok := idom[p]; !ok {
					continue
				}
				if first {
					newIdom = p
					first = false
					continue
				}
				newIdom = intersect(newIdom, p, idom, rpoIndex)
			}
			if first {
				continue
			}
			if old, ok := idom[n]; !ok || old != newIdom {
				idom[n] = newIdom
				changed = true
			}
		}
	}

	out := make(map[NodeID]NodeID)
	for n, d := range idom {
		if n != VirtualExit && n != d {
			out[n] = d
		}
	}
	return out
}

func intersect(a, b NodeID, idom map[NodeID]NodeID, rpoIndex map[NodeID]int) NodeID {
	for a != b {
		for rpoIndex[a] > rpoIndex[b] {
			a = idom[a]
		}
		for rpoIndex[b] > rpoIndex[a] {
			b = idom[b]
		}
	}
	return a
}

func reversePostorder(root NodeID, succ map[NodeID][]NodeID) []NodeID {
	visited := make(map[NodeID]bool)
	var post []NodeID

	var visit func(NodeID)
	visit = func(n NodeID) {
		if visited[n] {
			return
		}
		visited[n] = true
		next := append([]NodeID(nil), succ[n]...)
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		for _, m := range next {
			visit(m)
		}
		post = append(post, n)
	}
	visit(root)

	rpo := make([]NodeID, len(post))
	for i, n := range post {
		rpo[len(post)-1-i] = n
	}
	return rpo
}
