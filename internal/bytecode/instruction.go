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

package bytecode

import "fmt"

// Instruction is one decoded VM operation. Registers are 16-bit everywhere
// but only the low 8 bits are semantic (the high byte is always zero in
// practice; the width exists because some handler functions compute
// register indices via XOR against a 16-bit magic constant before masking).
//
// Every concrete instruction type implements Instruction. DstReg reports
// the register the instruction writes, if any; UsedRegisters reports every
// register the instruction reads or writes, in the source's emission order
// (the classifier relies on this order when resolving static string
// registers, see internal/vmparser).
type Instruction interface {
	fmt.Stringer
	DstReg() (uint16, bool)
	UsedRegisters() []uint16
}

// Jump is embedded by every instruction that transfers control: it carries
// both the target byte offset and the rolling-key seed the decoder must
// adopt at that offset.
type Jump struct {
	Pos    int
	NewKey uint16
}

// RegisterVMFunc registers a new VM function entry point at Jump.Pos,
// discovered via the worklist in internal/disasm.
type RegisterVMFunc struct {
	Jump   Jump
	RetReg uint16
}

func (i *RegisterVMFunc) DstReg() (uint16, bool)    { return i.RetReg, true }
func (i *RegisterVMFunc) UsedRegisters() []uint16   { return []uint16{i.RetReg} }
func (i *RegisterVMFunc) String() string {
	return fmt.Sprintf("register_vm_func %#x -> r%d (key=%#x)", i.Jump.Pos, i.RetReg, i.Jump.NewKey)
}

// HeapGetSub reads the heap slot bound to Src into Dst (reuses Move's shape).
type HeapGetSub struct{ Move Move }

// HeapSetSub writes Src into the heap slot bound to Dst.
type HeapSetSub struct{ Move Move }

// HeapInitSub declares heap slot indices with no register traffic.
type HeapInitSub struct{ Slots []int }

// Heap is the tagged union of the three Heap sub-instructions.
type Heap struct {
	Get  *HeapGetSub
	Set  *HeapSetSub
	Init *HeapInitSub
}

func (i *Heap) DstReg() (uint16, bool) {
	switch {
	case i.Get != nil:
		return i.Get.Move.DstReg()
	case i.Set != nil:
		return i.Set.Move.DstReg()
	default:
		return 0, false
	}
}

func (i *Heap) UsedRegisters() []uint16 {
	switch {
	case i.Get != nil:
		return []uint16{i.Get.Move.DstRegister}
	case i.Set != nil:
		return []uint16{i.Set.Move.SrcRegister}
	default:
		return nil
	}
}

func (i *Heap) String() string {
	switch {
	case i.Get != nil:
		return fmt.Sprintf("heap.get -> r%d", i.Get.Move.DstRegister)
	case i.Set != nil:
		return fmt.Sprintf("heap.set r%d", i.Set.Move.SrcRegister)
	default:
		return fmt.Sprintf("heap.init %v", i.Init.Slots)
	}
}

// LiteralDataKind discriminates a decoded NewLiteral's payload shape. This
// is distinct from LiteralType (opcode.go): LiteralType is the opcode
// table's recovered dispatch kind used only while deciding how many bytes
// to read, whereas LiteralDataKind is the decoded instruction's own tag —
// in particular a datatype byte matching none of the recovered sub-tests
// decodes to LDUndefined, which has no corresponding LiteralType case.
type LiteralDataKind int

const (
	LDUndefined LiteralDataKind = iota
	LDNull
	LDNaN
	LDInfinity
	LDTrue
	LDFalse
	LDByte
	LDInteger
	LDFloat
	LDString
	LDByteArray
	LDCopyState
	LDRegexp
)

func (k LiteralDataKind) String() string {
	names := [...]string{
		"Undefined", "Null", "NaN", "Infinity", "True", "False", "Byte",
		"Integer", "Float", "String", "ByteArray", "CopyState", "Regexp",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return "Unknown"
	}
	return names[k]
}

// LiteralData is the tagged payload of a NewLiteral instruction. Exactly
// one field is meaningful per Kind; the rest are zero values.
type LiteralData struct {
	Kind      LiteralDataKind
	Byte      uint16
	Integer   int64
	Float     float64
	String    string
	ByteArray []uint16
	CopyState Jump
	RegexpPattern string
	RegexpFlags   string
}

// NewLiteral materializes a constant value into a register.
type NewLiteral struct {
	Data   LiteralData
	RetReg uint16
}

func (i *NewLiteral) DstReg() (uint16, bool)  { return i.RetReg, true }
func (i *NewLiteral) UsedRegisters() []uint16 { return []uint16{i.RetReg} }
func (i *NewLiteral) String() string {
	return fmt.Sprintf("new_literal.%s -> r%d", i.Data.Kind, i.RetReg)
}

// Call invokes a register-held function, optionally with a `this` context.
type Call struct {
	ObjectArg *uint16
	FuncReg   uint16
	RegArgs   []uint16
	RetReg    uint16
	NoContext bool
}

func (i *Call) DstReg() (uint16, bool) { return i.RetReg, true }
func (i *Call) UsedRegisters() []uint16 {
	regs := []uint16{i.FuncReg, i.RetReg}
	regs = append(regs, i.RegArgs...)
	if i.ObjectArg != nil {
		regs = append(regs, *i.ObjectArg)
	}
	return regs
}
func (i *Call) String() string {
	if i.NoContext {
		return fmt.Sprintf("call_no_ctx r%d(%v) -> r%d", i.FuncReg, i.RegArgs, i.RetReg)
	}
	return fmt.Sprintf("call r%d(%v) -> r%d", i.FuncReg, i.RegArgs, i.RetReg)
}

// Pop removes the tail element of an array register into a destination.
type Pop struct {
	ArrReg uint16
	RetReg uint16
}

func (i *Pop) DstReg() (uint16, bool)  { return i.RetReg, true }
func (i *Pop) UsedRegisters() []uint16 { return []uint16{i.ArrReg, i.RetReg} }
func (i *Pop) String() string          { return fmt.Sprintf("pop r%d -> r%d", i.ArrReg, i.RetReg) }

// Throw raises the value held in ExceptionReg and halts the current
// function's decode (terminal instruction).
type Throw struct{ ExceptionReg uint16 }

func (i *Throw) DstReg() (uint16, bool)  { return 0, false }
func (i *Throw) UsedRegisters() []uint16 { return []uint16{i.ExceptionReg} }
func (i *Throw) String() string          { return fmt.Sprintf("throw r%d", i.ExceptionReg) }

// BindOpcode installs the handler currently bound to HandlerReg's opcode
// slot into Reg's opcode slot, if Reg is not already occupied.
type BindOpcode struct {
	Reg        uint16
	HandlerReg uint16
	Arg        uint16
}

func (i *BindOpcode) DstReg() (uint16, bool)  { return i.Reg, true }
func (i *BindOpcode) UsedRegisters() []uint16 { return []uint16{i.Reg} }
func (i *BindOpcode) String() string {
	return fmt.Sprintf("bind_opcode r%d <- handler(r%d, %d)", i.Reg, i.HandlerReg, i.Arg)
}

// ArrayPush appends ValReg onto the array held in ArrReg.
type ArrayPush struct {
	ArrReg uint16
	ValReg uint16
}

func (i *ArrayPush) DstReg() (uint16, bool)  { return 0, false }
func (i *ArrayPush) UsedRegisters() []uint16 { return []uint16{i.ArrReg, i.ValReg} }
func (i *ArrayPush) String() string {
	return fmt.Sprintf("array_push r%d, r%d", i.ArrReg, i.ValReg)
}

// GetProperty reads ObjReg[KeyReg] into RetReg.
type GetProperty struct {
	ObjReg uint16
	KeyReg uint16
	RetReg uint16
}

func (i *GetProperty) DstReg() (uint16, bool) { return i.RetReg, true }
func (i *GetProperty) UsedRegisters() []uint16 {
	return []uint16{i.ObjReg, i.KeyReg, i.RetReg}
}
func (i *GetProperty) String() string {
	return fmt.Sprintf("get_property r%d[r%d] -> r%d", i.ObjReg, i.KeyReg, i.RetReg)
}

// SetProperty writes ValReg into ObjReg[KeyReg].
type SetProperty struct {
	ObjReg uint16
	KeyReg uint16
	ValReg uint16
}

func (i *SetProperty) DstReg() (uint16, bool) { return 0, false }
func (i *SetProperty) UsedRegisters() []uint16 {
	return []uint16{i.ObjReg, i.KeyReg, i.ValReg}
}
func (i *SetProperty) String() string {
	return fmt.Sprintf("set_property r%d[r%d] = r%d", i.ObjReg, i.KeyReg, i.ValReg)
}

// RegisterSwap atomically exchanges the opcode-table slots First and
// Second, if either currently holds a handler.
type RegisterSwap struct {
	First  uint16
	Second uint16
}

func (i *RegisterSwap) DstReg() (uint16, bool)  { return 0, false }
func (i *RegisterSwap) UsedRegisters() []uint16 { return []uint16{i.First, i.Second} }
func (i *RegisterSwap) String() string {
	return fmt.Sprintf("swap_register %#x, %#x", i.First, i.Second)
}

// ConditionalJump is a two-way branch: TestReg decides whether control
// transfers to Jump.Pos (with Jump.NewKey seeded) or falls through.
type ConditionalJump struct {
	Jmp     Jump
	TestReg uint16
}

func (i *ConditionalJump) DstReg() (uint16, bool)  { return 0, false }
func (i *ConditionalJump) UsedRegisters() []uint16 { return []uint16{i.TestReg} }
func (i *ConditionalJump) String() string {
	return fmt.Sprintf("cond_jump r%d -> %#x (key=%#x)", i.TestReg, i.Jmp.Pos, i.Jmp.NewKey)
}

// UnconditionalJump always transfers control to Jmp.Pos.
type UnconditionalJump struct{ Jmp Jump }

func (i *UnconditionalJump) DstReg() (uint16, bool)  { return 0, false }
func (i *UnconditionalJump) UsedRegisters() []uint16 { return nil }
func (i *UnconditionalJump) String() string {
	return fmt.Sprintf("jump -> %#x (key=%#x)", i.Jmp.Pos, i.Jmp.NewKey)
}

// Move copies SrcRegister into DstRegister.
type Move struct {
	SrcRegister uint16
	DstRegister uint16
}

func (i *Move) DstReg() (uint16, bool)  { return i.DstRegister, true }
func (i *Move) UsedRegisters() []uint16 { return []uint16{i.SrcRegister, i.DstRegister} }
func (i *Move) String() string {
	return fmt.Sprintf("move r%d -> r%d", i.SrcRegister, i.DstRegister)
}

// New constructs a fresh object (NewObject) or array (NewArray) into RetReg;
// the shape is identical, distinguished by the instruction's concrete Go
// type for clarity at call sites.
type New struct{ RetReg uint16 }

func (i *New) DstReg() (uint16, bool)  { return i.RetReg, true }
func (i *New) UsedRegisters() []uint16 { return []uint16{i.RetReg} }
func (i *New) String() string          { return fmt.Sprintf("new -> r%d", i.RetReg) }

// NewObject wraps New for the object-literal case.
type NewObject struct{ New New }

func (i *NewObject) DstReg() (uint16, bool)  { return i.New.DstReg() }
func (i *NewObject) UsedRegisters() []uint16 { return i.New.UsedRegisters() }
func (i *NewObject) String() string          { return "new_object -> r" + fmt.Sprint(i.New.RetReg) }

// NewArray wraps New for the array-literal case.
type NewArray struct{ New New }

func (i *NewArray) DstReg() (uint16, bool)  { return i.New.DstReg() }
func (i *NewArray) UsedRegisters() []uint16 { return i.New.UsedRegisters() }
func (i *NewArray) String() string          { return "new_array -> r" + fmt.Sprint(i.New.RetReg) }

// Binary evaluates A Op B into RetReg.
type Binary struct {
	Op     BinaryOperator
	A      uint16
	B      uint16
	RetReg uint16
}

func (i *Binary) DstReg() (uint16, bool)  { return i.RetReg, true }
func (i *Binary) UsedRegisters() []uint16 { return []uint16{i.A, i.B, i.RetReg} }
func (i *Binary) String() string {
	return fmt.Sprintf("binary r%d %s r%d -> r%d", i.A, i.Op, i.B, i.RetReg)
}

// Unary evaluates Op A into RetReg.
type Unary struct {
	Op     UnaryOperator
	A      uint16
	RetReg uint16
}

func (i *Unary) DstReg() (uint16, bool)  { return i.RetReg, true }
func (i *Unary) UsedRegisters() []uint16 { return []uint16{i.A, i.RetReg} }
func (i *Unary) String() string {
	return fmt.Sprintf("unary %s r%d -> r%d", i.Op, i.A, i.RetReg)
}

// SplicePop is a terminal instruction (rewritten to Return by the
// disassembler per spec.md §4.4) that pops Reg across the given Arrays.
type SplicePop struct {
	Arrays []uint16
	Reg    uint16
}

func (i *SplicePop) DstReg() (uint16, bool)  { return 0, false }
func (i *SplicePop) UsedRegisters() []uint16 { return []uint16{i.Reg} }
func (i *SplicePop) String() string {
	return fmt.Sprintf("splice_pop r%d %v", i.Reg, i.Arrays)
}

// Return is a synthesized pseudo-instruction: the disassembler rewrites
// SplicePop to Return for CFG purposes. A function body that simply runs
// off its end gets no Return; the CFG treats its last block as a sink.
type Return struct{ ReturnRegister uint16 }

func (i *Return) DstReg() (uint16, bool)  { return 0, false }
func (i *Return) UsedRegisters() []uint16 { return []uint16{i.ReturnRegister} }
func (i *Return) String() string          { return fmt.Sprintf("return r%d", i.ReturnRegister) }

// Nop is a synthesized pseudo-instruction with no operands.
type Nop struct{}

func (Nop) DstReg() (uint16, bool)  { return 0, false }
func (Nop) UsedRegisters() []uint16 { return nil }
func (Nop) String() string          { return "nop" }

// Value is a value captured into a RegisteredFunction's Values slice while
// decoding it: a string literal, an integer, or the undefined sentinel.
type Value struct {
	IsUndefined bool
	IsInteger   bool
	Integer     int64
	String      string
}

func StringValue(s string) Value  { return Value{String: s} }
func UndefinedValue() Value       { return Value{IsUndefined: true} }
func IntegerValue(v int64) Value  { return Value{IsInteger: true, Integer: v} }

// RegisteredFunction is the result of decoding a single VM function entry
// point: its address range, the offset-ordered instruction stream, and the
// order-preserving list of literal values seen while decoding it.
type RegisteredFunction struct {
	Start  int
	End    int
	Body   []IndexedInstruction
	Values []Value
}

// IndexedInstruction pairs a decoded instruction with the byte offset its
// opcode was read from — the address space the CFG builder splits blocks
// over.
type IndexedInstruction struct {
	Offset      int
	Instruction Instruction
}
