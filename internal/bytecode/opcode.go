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

// Package bytecode holds the data model recovered from a Turnstile
// orchestrator script: the Opcode descriptor table and the Instruction set
// the RecursiveDisassembler in internal/disasm decodes into. Nothing in
// this package parses JavaScript or reads bytes; it is pure data plus the
// small amount of behavior (String, DstReg, UsedRegisters) needed by the
// flow analyzer and the entry classifier.
package bytecode

import "fmt"

// OpcodeKind discriminates the 20 distinct shapes an opcode-handler function
// can take. Recovered once per script by the opcode-table builder
// (internal/extract) and never changes shape afterward, though which byte
// slot maps to which OpcodeKind can be permuted at runtime by Swap/Bind.
type OpcodeKind int

const (
	KindArrayPush OpcodeKind = iota
	KindThrow
	KindBind
	KindRegisterVMFunction
	KindBinary
	KindUnary
	KindNewLiteral
	KindNewObject
	KindPop
	KindSetProperty
	KindGetProperty
	KindSplicePop
	KindCallFuncNoContext
	KindSwapRegister
	KindNewArray
	KindJump
	KindJumpIf
	KindMove
	KindCall
	KindHeap

	kindCount
)

func (k OpcodeKind) String() string {
	names := [...]string{
		"ArrayPush", "Throw", "Bind", "RegisterVMFunction", "Binary", "Unary",
		"NewLiteral", "NewObject", "Pop", "SetProperty", "GetProperty",
		"SplicePop", "CallFuncNoContext", "SwapRegister", "NewArray", "Jump",
		"JumpIf", "Move", "Call", "Heap",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "Unknown"
	}
	return names[k]
}

// LiteralType is the 12-case sub-kind of a NewLiteral opcode. Order is
// load-bearing: the opcode-table builder pairs each entry positionally with
// the ordered equality-test constants found in the handler's dispatch chain
// (see internal/extract's TestExtractor), so this slice order must match
// the order the handler's own if/else-if chain tests them in.
type LiteralType int

const (
	LiteralNull LiteralType = iota
	LiteralNaN
	LiteralInfinity
	LiteralTrue
	LiteralFalse
	LiteralFloat
	LiteralInteger
	LiteralString
	LiteralNextValue
	LiteralCopyState
	LiteralArray
	LiteralRegexp

	literalTypeCount
)

// LiteralTypes returns the fixed iteration order of LiteralType, mirroring
// the source's EnumIter derive. Callers needing positional pairing with
// extracted test constants must iterate in this exact order.
func LiteralTypes() []LiteralType {
	out := make([]LiteralType, literalTypeCount)
	for i := range out {
		out[i] = LiteralType(i)
	}
	return out
}

func (t LiteralType) String() string {
	names := [...]string{
		"Null", "NaN", "Infinity", "True", "False", "Float", "Integer",
		"String", "NextValue", "CopyState", "Array", "Regexp",
	}
	if int(t) < 0 || int(t) >= len(names) {
		return "Unknown"
	}
	return names[t]
}

// UnaryOperator is the 5-case sub-kind of a Unary opcode.
type UnaryOperator int

const (
	UnaryTypeOf UnaryOperator = iota
	UnaryMinus
	UnaryPlus
	UnaryLogicalNot
	UnaryBitwiseNot

	unaryOperatorCount
)

func UnaryOperators() []UnaryOperator {
	out := make([]UnaryOperator, unaryOperatorCount)
	for i := range out {
		out[i] = UnaryOperator(i)
	}
	return out
}

func (op UnaryOperator) String() string {
	switch op {
	case UnaryTypeOf:
		return "typeof"
	case UnaryMinus:
		return "-"
	case UnaryPlus:
		return "+"
	case UnaryLogicalNot:
		return "!"
	case UnaryBitwiseNot:
		return "~"
	default:
		return "?unary?"
	}
}

// BinaryOperator is the 18-case sub-kind of a Binary opcode.
type BinaryOperator int

const (
	BinaryAddition BinaryOperator = iota
	BinarySubtraction
	BinaryMultiplication
	BinaryDivision
	BinaryModulo
	BinaryLogicalAnd
	BinaryLogicalOr
	BinaryBitwiseAnd
	BinaryBitwiseOr
	BinaryBitwiseXor
	BinaryLeftShift
	BinaryRightShift
	BinaryUnsignedRightShift
	BinaryEquals
	BinaryEqualsStrict
	BinaryGreaterThan
	BinaryGreaterThanOrEqual
	BinaryInstanceOf

	binaryOperatorCount
)

func BinaryOperators() []BinaryOperator {
	out := make([]BinaryOperator, binaryOperatorCount)
	for i := range out {
		out[i] = BinaryOperator(i)
	}
	return out
}

func (op BinaryOperator) String() string {
	names := [...]string{
		"+", "-", "*", "/", "%", "&&", "||", "&", "|", "^", "<<", ">>", ">>>",
		"==", "===", ">", ">=", "instanceof",
	}
	if int(op) < 0 || int(op) >= len(names) {
		return "?binary?"
	}
	return names[op]
}

// HeapType is the 3-case sub-kind of a Heap opcode.
type HeapType int

const (
	HeapSet HeapType = iota
	HeapGet
	HeapInit

	heapTypeCount
)

func HeapTypes() []HeapType {
	out := make([]HeapType, heapTypeCount)
	for i := range out {
		out[i] = HeapType(i)
	}
	return out
}

func (t HeapType) String() string {
	switch t {
	case HeapSet:
		return "Set"
	case HeapGet:
		return "Get"
	case HeapInit:
		return "Init"
	default:
		return "?heap?"
	}
}

// LiteralSubTest is the recovered bit-mask and positional kind for one
// LiteralType branch of a NewLiteral handler.
type LiteralSubTest struct {
	Bits []uint16
	Type LiteralType
}

// HeapSubTest is the recovered bit-mask and positional kind for one
// HeapType branch of a Heap handler.
type HeapSubTest struct {
	Bits []uint16
	Type HeapType
}

// Descriptor is the recovered shape of a single opcode-table slot. Only the
// fields relevant to Kind are populated; the flattened-struct shape (rather
// than one Go type per Kind) matches the disassembler's need for uniform
// access to Bits regardless of kind (read_byte's per-operand magic mask
// lookup in internal/disasm does not care which Kind it is decoding).
type Descriptor struct {
	Kind OpcodeKind

	// Bits holds the XOR magic-constant operand mask recovered by
	// BitExtractor/BinaryBitExtractor, in argument order.
	Bits []uint16

	// Populated only when Kind == KindUnary.
	UnaryOp UnaryOperator

	// Populated only when Kind == KindBinary.
	BinaryOp   BinaryOperator
	BinarySwap bool

	// Populated only when Kind == KindNewLiteral: maps the equality-test
	// constant observed in the handler's dispatch chain to the literal
	// sub-kind and its own operand bit-mask.
	LiteralTests map[uint16]LiteralSubTest

	// Populated only when Kind == KindHeap.
	HeapTests map[uint16]HeapSubTest
}

func (d Descriptor) String() string {
	switch d.Kind {
	case KindUnary:
		return fmt.Sprintf("Unary(%s, bits=%v)", d.UnaryOp, d.Bits)
	case KindBinary:
		return fmt.Sprintf("Binary(%s, swap=%v, bits=%v)", d.BinaryOp, d.BinarySwap, d.Bits)
	case KindNewLiteral:
		return fmt.Sprintf("NewLiteral(bits=%v, %d sub-tests)", d.Bits, len(d.LiteralTests))
	case KindHeap:
		return fmt.Sprintf("Heap(bits=%v, %d sub-tests)", d.Bits, len(d.HeapTests))
	default:
		return fmt.Sprintf("%s(bits=%v)", d.Kind, d.Bits)
	}
}

// Table is the mutable opcode→Descriptor mapping the disassembler owns.
// Two instruction kinds (Swap, Bind) permute or install entries at runtime,
// so Table is a plain mutable map rather than a precomputed, read-only
// array — see SPEC_FULL.md / DESIGN NOTES on "Mutable opcode table".
type Table map[uint16]Descriptor

// Clone returns a shallow-independent copy of the table sufficient for
// tests that assert cardinality is preserved across Swap/Bind sequences
// (Testable Property 8).
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// Kinds returns the multiset of OpcodeKind values present in the table,
// independent of which byte slot they occupy.
func (t Table) Kinds() map[OpcodeKind]int {
	out := make(map[OpcodeKind]int)
	for _, d := range t {
		out[d.Kind]++
	}
	return out
}
