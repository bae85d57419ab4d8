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

package disasm

import (
	"github.com/probechain/turnstile-probe/internal/bytecode"
	"github.com/probechain/turnstile-probe/internal/turnstileerr"
)

// readOpcode decodes the operand bytes for a single opcode byte already
// identified at *idx, using the recovered Descriptor's bit masks to undo
// the per-operand XOR obfuscation. Two kinds (Bind, SwapRegister) mutate
// d.opcodes as a side effect; every other kind is a pure read.
func (d *Disassembler) readOpcode(code []byte, opcode uint16, idx *int, key *uint16) (bytecode.Instruction, error) {
	desc, ok := d.opcodes[opcode]
	if !ok {
		return nil, turnstileerr.OpcodeErrorf("opcode not found: %d", opcode)
	}

	switch desc.Kind {
	case bytecode.KindBind:
		reg := d.readByte(code, idx, *key, &desc.Bits[0])
		handlerOpcode := d.readByte(code, idx, *key, nil)
		arg := d.readByte(code, idx, *key, &desc.Bits[1])

		_, hasRegister := d.opcodes[reg]
		if handler, ok := d.opcodes[handlerOpcode]; ok && !hasRegister {
			d.opcodes[reg] = handler
		}

		return &bytecode.BindOpcode{Reg: reg, HandlerReg: handlerOpcode, Arg: arg}, nil

	case bytecode.KindRegisterVMFunction:
		dst := d.readByte(code, idx, *key, &desc.Bits[0])
		first := int(d.readByte(code, idx, *key, nil))
		second := int(d.readByte(code, idx, *key, nil))
		third := int(d.readByte(code, idx, *key, nil))
		pos := (first << 16) | (second << 8) | third
		newKey := d.readByte(code, idx, *key, &desc.Bits[1])

		return &bytecode.RegisterVMFunc{Jump: bytecode.Jump{Pos: pos, NewKey: newKey}, RetReg: dst}, nil

	case bytecode.KindNewObject:
		reg := d.readByte(code, idx, *key, &desc.Bits[0])
		return &bytecode.NewObject{New: bytecode.New{RetReg: reg}}, nil

	case bytecode.KindNewArray:
		reg := d.readByte(code, idx, *key, &desc.Bits[0])
		return &bytecode.NewArray{New: bytecode.New{RetReg: reg}}, nil

	case bytecode.KindThrow:
		reg := d.readByte(code, idx, *key, &desc.Bits[0])
		return &bytecode.Throw{ExceptionReg: reg}, nil

	case bytecode.KindJump:
		first := int(d.readByte(code, idx, *key, nil))
		second := int(d.readByte(code, idx, *key, nil))
		third := int(d.readByte(code, idx, *key, nil))
		pos := (first << 16) | (second << 8) | third
		newKey := d.readByte(code, idx, *key, &desc.Bits[0])

		return &bytecode.UnconditionalJump{Jmp: bytecode.Jump{Pos: pos, NewKey: newKey}}, nil

	case bytecode.KindMove:
		dst := d.readByte(code, idx, *key, &desc.Bits[0])
		src := d.readByte(code, idx, *key, &desc.Bits[1])
		return &bytecode.Move{SrcRegister: src, DstRegister: dst}, nil

	case bytecode.KindSplicePop:
		reg := d.readByte(code, idx, *key, &desc.Bits[1])
		return &bytecode.SplicePop{Arrays: []uint16{desc.Bits[0], desc.Bits[2]}, Reg: reg}, nil

	case bytecode.KindNewLiteral:
		reg := d.readByte(code, idx, *key, &desc.Bits[0])
		datatypeInt := d.readByte(code, idx, *key, &desc.Bits[1])

		test, ok := desc.LiteralTests[datatypeInt]
		if !ok {
			return &bytecode.NewLiteral{Data: bytecode.LiteralData{Kind: bytecode.LDUndefined}, RetReg: reg}, nil
		}

		return d.readLiteral(code, idx, key, test, reg)

	case bytecode.KindJumpIf:
		testReg := d.readByte(code, idx, *key, &desc.Bits[0])
		first := int(d.readByte(code, idx, *key, nil))
		second := int(d.readByte(code, idx, *key, nil))
		third := int(d.readByte(code, idx, *key, nil))
		jump := (first << 16) | (second << 8) | third
		newKey := d.readByte(code, idx, *key, &desc.Bits[1])

		return &bytecode.ConditionalJump{
			Jmp:     bytecode.Jump{Pos: jump, NewKey: newKey},
			TestReg: testReg,
		}, nil

	case bytecode.KindGetProperty:
		res := d.readByte(code, idx, *key, &desc.Bits[0])
		obj := d.readByte(code, idx, *key, &desc.Bits[1])
		keyReg := d.readByte(code, idx, *key, &desc.Bits[2])

		return &bytecode.GetProperty{ObjReg: obj, KeyReg: keyReg, RetReg: res}, nil

	case bytecode.KindCallFuncNoContext:
		resultReg := d.readByte(code, idx, *key, &desc.Bits[0])
		funcReg := d.readByte(code, idx, *key, &desc.Bits[1])
		argsLen := d.readByte(code, idx, *key, &desc.Bits[2])

		args := make([]uint16, 0, argsLen)
		for n := uint16(0); n < argsLen; n++ {
			args = append(args, d.readByte(code, idx, *key, &desc.Bits[3]))
		}

		return &bytecode.Call{FuncReg: funcReg, RegArgs: args, RetReg: resultReg, NoContext: true}, nil

	case bytecode.KindSetProperty:
		obj := d.readByte(code, idx, *key, &desc.Bits[0])
		keyReg := d.readByte(code, idx, *key, &desc.Bits[1])
		val := d.readByte(code, idx, *key, &desc.Bits[2])

		return &bytecode.SetProperty{ObjReg: obj, KeyReg: keyReg, ValReg: val}, nil

	case bytecode.KindSwapRegister:
		first := d.readByte(code, idx, *key, &desc.Bits[0])
		second := d.readByte(code, idx, *key, &desc.Bits[1])

		firstDesc, firstOK := d.opcodes[first]
		secondDesc, secondOK := d.opcodes[second]
		switch {
		case firstOK && secondOK:
			d.opcodes[first] = secondDesc
			d.opcodes[second] = firstDesc
		case firstOK:
			delete(d.opcodes, first)
			d.opcodes[second] = firstDesc
		case secondOK:
			delete(d.opcodes, second)
			d.opcodes[first] = secondDesc
		}

		return &bytecode.RegisterSwap{First: first, Second: second}, nil

	case bytecode.KindArrayPush:
		arr := d.readByte(code, idx, *key, &desc.Bits[0])
		obj := d.readByte(code, idx, *key, &desc.Bits[1])
		return &bytecode.ArrayPush{ArrReg: arr, ValReg: obj}, nil

	case bytecode.KindBinary:
		dst := d.readByte(code, idx, *key, &desc.Bits[0])

		var a, b uint16
		if !desc.BinarySwap {
			a = d.readByte(code, idx, *key, &desc.Bits[1])
			b = d.readByte(code, idx, *key, &desc.Bits[2])
		} else {
			a = d.readByte(code, idx, *key, &desc.Bits[2])
			b = d.readByte(code, idx, *key, &desc.Bits[1])
		}

		return &bytecode.Binary{Op: desc.BinaryOp, A: a, B: b, RetReg: dst}, nil

	case bytecode.KindUnary:
		res := d.readByte(code, idx, *key, &desc.Bits[0])
		a := d.readByte(code, idx, *key, &desc.Bits[1])
		return &bytecode.Unary{Op: desc.UnaryOp, A: a, RetReg: res}, nil

	case bytecode.KindPop:
		arr := d.readByte(code, idx, *key, &desc.Bits[0])
		reg := d.readByte(code, idx, *key, &desc.Bits[1])
		return &bytecode.Pop{ArrReg: arr, RetReg: reg}, nil

	case bytecode.KindHeap:
		test := d.readByte(code, idx, *key, &desc.Bits[0])
		sub, ok := desc.HeapTests[test]
		if !ok {
			return nil, turnstileerr.OpcodeErrorf("unknown heap sub-test: %d", test)
		}

		n, err := d.readVarint(code, idx, *key)
		if err != nil {
			return nil, err
		}

		switch sub.Type {
		case bytecode.HeapInit:
			slots := make([]int, 0, n)
			for i := 0; i < n; i++ {
				v, err := d.readVarint(code, idx, *key)
				if err != nil {
					return nil, err
				}
				slots = append(slots, v)
			}
			return &bytecode.Heap{Init: &bytecode.HeapInitSub{Slots: slots}}, nil

		case bytecode.HeapGet:
			target := d.readByte(code, idx, *key, &sub.Bits[0])
			return &bytecode.Heap{Get: &bytecode.HeapGetSub{Move: bytecode.Move{SrcRegister: uint16(n), DstRegister: target}}}, nil

		case bytecode.HeapSet:
			target := d.readByte(code, idx, *key, &sub.Bits[0])
			return &bytecode.Heap{Set: &bytecode.HeapSetSub{Move: bytecode.Move{SrcRegister: target, DstRegister: uint16(n)}}}, nil

		default:
			return nil, turnstileerr.OpcodeError("unknown heap type")
		}

	case bytecode.KindCall:
		resultReg := d.readByte(code, idx, *key, &desc.Bits[0])
		ctxReg := d.readByte(code, idx, *key, &desc.Bits[1])
		funcReg := d.readByte(code, idx, *key, &desc.Bits[2])
		argsLen := d.readByte(code, idx, *key, &desc.Bits[3])

		args := make([]uint16, 0, argsLen)
		for n := uint16(0); n < argsLen; n++ {
			args = append(args, d.readByte(code, idx, *key, &desc.Bits[4]))
		}

		ctx := ctxReg
		return &bytecode.Call{ObjectArg: &ctx, FuncReg: funcReg, RegArgs: args, RetReg: resultReg}, nil

	default:
		return nil, turnstileerr.OpcodeErrorf("unhandled opcode kind: %s", desc.Kind)
	}
}

func (d *Disassembler) readLiteral(code []byte, idx *int, key *uint16, test bytecode.LiteralSubTest, reg uint16) (bytecode.Instruction, error) {
	switch test.Type {
	case bytecode.LiteralFloat:
		f := d.decodeFloat(code, idx, *key)
		return &bytecode.NewLiteral{Data: bytecode.LiteralData{Kind: bytecode.LDFloat, Float: f}, RetReg: reg}, nil

	case bytecode.LiteralCopyState:
		first := int(d.readByte(code, idx, *key, nil))
		second := int(d.readByte(code, idx, *key, nil))
		third := int(d.readByte(code, idx, *key, nil))
		pos := (first << 16) | (second << 8) | third
		newKey := d.readByte(code, idx, *key, &test.Bits[0])

		return &bytecode.NewLiteral{
			Data:   bytecode.LiteralData{Kind: bytecode.LDCopyState, CopyState: bytecode.Jump{Pos: pos, NewKey: newKey}},
			RetReg: reg,
		}, nil

	case bytecode.LiteralNextValue:
		value, err := d.readVarint(code, idx, *key)
		if err != nil {
			return nil, err
		}
		return &bytecode.NewLiteral{Data: bytecode.LiteralData{Kind: bytecode.LDInteger, Integer: int64(value)}, RetReg: reg}, nil

	case bytecode.LiteralInteger:
		b := d.readByte(code, idx, *key, &test.Bits[0])
		return &bytecode.NewLiteral{Data: bytecode.LiteralData{Kind: bytecode.LDByte, Byte: b}, RetReg: reg}, nil

	case bytecode.LiteralNaN:
		return &bytecode.NewLiteral{Data: bytecode.LiteralData{Kind: bytecode.LDNaN}, RetReg: reg}, nil
	case bytecode.LiteralTrue:
		return &bytecode.NewLiteral{Data: bytecode.LiteralData{Kind: bytecode.LDTrue}, RetReg: reg}, nil
	case bytecode.LiteralFalse:
		return &bytecode.NewLiteral{Data: bytecode.LiteralData{Kind: bytecode.LDFalse}, RetReg: reg}, nil
	case bytecode.LiteralNull:
		return &bytecode.NewLiteral{Data: bytecode.LiteralData{Kind: bytecode.LDNull}, RetReg: reg}, nil
	case bytecode.LiteralInfinity:
		return &bytecode.NewLiteral{Data: bytecode.LiteralData{Kind: bytecode.LDInfinity}, RetReg: reg}, nil

	case bytecode.LiteralString:
		length, err := d.readVarint(code, idx, *key)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 0, length)
		for i := 0; i < length; i++ {
			b := d.readByte(code, idx, *key, &test.Bits[0])
			buf = append(buf, byte(b))
		}
		return &bytecode.NewLiteral{Data: bytecode.LiteralData{Kind: bytecode.LDString, String: string(buf)}, RetReg: reg}, nil

	case bytecode.LiteralRegexp:
		length, err := d.readVarint(code, idx, *key)
		if err != nil {
			return nil, err
		}
		pattern := make([]byte, 0, length)
		for i := 0; i < length; i++ {
			b := d.readByte(code, idx, *key, &test.Bits[0])
			pattern = append(pattern, byte(b))
		}

		flagsLen := d.readByte(code, idx, *key, &test.Bits[1])
		flags := make([]byte, 0, flagsLen)
		for i := uint16(0); i < flagsLen; i++ {
			b := d.readByte(code, idx, *key, &test.Bits[2])
			flags = append(flags, byte(b))
		}

		return &bytecode.NewLiteral{
			Data:   bytecode.LiteralData{Kind: bytecode.LDRegexp, RegexpPattern: string(pattern), RegexpFlags: string(flags)},
			RetReg: reg,
		}, nil

	default:
		return nil, turnstileerr.OpcodeError("unknown literal type")
	}
}
