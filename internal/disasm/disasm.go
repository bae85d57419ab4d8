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

// Package disasm turns a key-obfuscated VM bytecode blob into the typed
// Instruction stream defined in internal/bytecode, recursively following
// every RegisterVMFunc/Jump/ConditionalJump/CopyState target it encounters.
package disasm

import (
	"encoding/base64"
	"math"
	"sort"

	mapset "github.com/deckarep/golang-set"

	"github.com/probechain/turnstile-probe/internal/bytecode"
	"github.com/probechain/turnstile-probe/internal/keyexpr"
	"github.com/probechain/turnstile-probe/internal/turnstileerr"
)

// functionJump is a pending worklist entry: a function start offset paired
// with the rolling key it must be entered with.
type functionJump struct {
	pos int
	key uint16
}

// Disassembler owns the mutable opcode table and replays the rolling-key
// XOR stream into typed instructions. A single Disassembler is built once
// per script (via New, which bootstraps the key by decoding a throwaway
// prologue blob) and then reused across every encoded VM payload the script
// emits.
type Disassembler struct {
	opcodes    bytecode.Table
	keyExpr    *keyexpr.Expr
	offset     uint16
	initialKey uint16
}

// New constructs a Disassembler from the recovered opcode table and
// key-update expression, and bootstraps the rolling key's initial value by
// disassembling encodedInitVM and taking the last NewLiteral(Byte) value it
// produces — the same "decode the throwaway prologue just to recover a
// constant" trick the source performs before any real decoding begins.
func New(opcodes bytecode.Table, keyExpr *keyexpr.Expr, firstKey, offset uint16, encodedInitVM string) (*Disassembler, error) {
	initVM, err := base64.StdEncoding.DecodeString(encodedInitVM)
	if err != nil {
		return nil, turnstileerr.Wrap(turnstileerr.Parse, err, "decode init vm base64")
	}

	d := &Disassembler{
		opcodes:    opcodes,
		keyExpr:    keyExpr,
		offset:     offset,
		initialKey: math.MaxUint16,
	}

	base, _, err := d.readVM(initVM, 0, firstKey)
	if err != nil {
		return nil, err
	}
	for i := len(base) - 1; i >= 0; i-- {
		if lit, ok := base[i].Instruction.(*bytecode.NewLiteral); ok && lit.Data.Kind == bytecode.LDByte {
			d.initialKey = lit.Data.Byte
			break
		}
	}
	if d.initialKey == math.MaxUint16 {
		return nil, turnstileerr.ExtractorError("failed to find initial vm key")
	}

	return d, nil
}

// ReadEncodedVM base64-decodes encodedVM and disassembles it starting at
// offset 0 with the bootstrapped initial key, returning the main function's
// instruction stream and every other RegisterVMFunc target reached
// transitively from it.
func (d *Disassembler) ReadEncodedVM(encodedVM string) ([]bytecode.IndexedInstruction, map[int]*bytecode.RegisteredFunction, error) {
	vm, err := base64.StdEncoding.DecodeString(encodedVM)
	if err != nil {
		return nil, nil, turnstileerr.Wrap(turnstileerr.Parse, err, "decode vm base64")
	}
	return d.readVM(vm, 0, d.initialKey)
}

// readVM drives the worklist of (offset, key) function entry points, each
// decoded independently via read. The main function (offset 0) is returned
// separately from the map of every other registered function reached.
func (d *Disassembler) readVM(code []byte, start int, startKey uint16) ([]bytecode.IndexedInstruction, map[int]*bytecode.RegisteredFunction, error) {
	visited := mapset.NewSet()
	worklist := []functionJump{{pos: start, key: startKey}}
	functions := make(map[int]*bytecode.RegisteredFunction)

	for len(worklist) > 0 {
		jump := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		if visited.Contains(jump.pos) {
			continue
		}
		visited.Add(jump.pos)

		body, values, end, err := d.read(code, jump.pos, jump.key, visited, &worklist)
		if err != nil {
			return nil, nil, err
		}

		functions[jump.pos] = &bytecode.RegisteredFunction{
			Start:  jump.pos,
			End:    end,
			Body:   body,
			Values: values,
		}
	}

	main, ok := functions[0]
	if !ok {
		return nil, nil, turnstileerr.StructureError("main function (offset 0) was never registered")
	}
	delete(functions, 0)
	return main.Body, functions, nil
}

// read decodes one function body starting at start with the given rolling
// key, recursively following ConditionalJump and CopyState targets inline
// (both sides of a branch belong to the same function body) while queuing
// not-yet-visited RegisterVMFunc targets on the shared worklist. A jump to
// an already-visited offset is recorded and ends the body; it is not queued.
func (d *Disassembler) read(code []byte, start int, startKey uint16, visited mapset.Set, worklist *[]functionJump) ([]bytecode.IndexedInstruction, []bytecode.Value, int, error) {
	index := start
	key := startKey
	instrIndex := start

	instructions := make(map[int]bytecode.Instruction)
	var order []int
	var values []bytecode.Value

	for {
		instrIndex = index
		if index == len(code) {
			break
		}

		op := (key ^ (d.offset + uint16(code[index]))) & 0xFF
		result, ok := keyexpr.Eval(d.keyExpr, int64(key), int64(op))
		if !ok {
			return nil, nil, 0, turnstileerr.OpcodeError("failed to evaluate key expression")
		}
		key = uint16(result & 0xFF)
		index++

		instr, err := d.readOpcode(code, op, &index, &key)
		if err != nil {
			return nil, nil, 0, err
		}

		if sp, ok := instr.(*bytecode.SplicePop); ok {
			instructions[instrIndex] = &bytecode.Return{ReturnRegister: sp.Reg}
			order = append(order, instrIndex)
			break
		}
		if _, ok := instr.(*bytecode.Throw); ok {
			instructions[instrIndex] = instr
			order = append(order, instrIndex)
			break
		}

		stop := false
		switch typed := instr.(type) {
		case *bytecode.RegisterVMFunc:
			if !visited.Contains(typed.Jump.Pos) {
				*worklist = append(*worklist, functionJump{pos: typed.Jump.Pos, key: typed.Jump.NewKey})
			}

		case *bytecode.UnconditionalJump:
			if visited.Contains(typed.Jmp.Pos) {
				instructions[instrIndex] = instr
				order = append(order, instrIndex)
				stop = true
				break
			}
			index = typed.Jmp.Pos
			key = typed.Jmp.NewKey
			visited.Add(typed.Jmp.Pos)

		case *bytecode.ConditionalJump:
			if visited.Contains(typed.Jmp.Pos) || visited.Contains(index) {
				instructions[instrIndex] = instr
				order = append(order, instrIndex)
				stop = true
				break
			}

			sub, subValues, _, err := d.read(code, typed.Jmp.Pos, typed.Jmp.NewKey, visited, worklist)
			if err != nil {
				return nil, nil, 0, err
			}
			for _, ii := range sub {
				if _, exists := instructions[ii.Offset]; !exists {
					order = append(order, ii.Offset)
				}
				instructions[ii.Offset] = ii.Instruction
			}
			values = append(values, subValues...)
			visited.Add(typed.Jmp.Pos)

		case *bytecode.NewLiteral:
			switch typed.Data.Kind {
			case bytecode.LDString:
				values = append(values, bytecode.StringValue(typed.Data.String))
			case bytecode.LDUndefined:
				values = append(values, bytecode.UndefinedValue())
			case bytecode.LDCopyState:
				if visited.Contains(typed.Data.CopyState.Pos) {
					instructions[instrIndex] = instr
					order = append(order, instrIndex)
					stop = true
					break
				}

				sub, subValues, _, err := d.read(code, typed.Data.CopyState.Pos, typed.Data.CopyState.NewKey, visited, worklist)
				if err != nil {
					return nil, nil, 0, err
				}
				for _, ii := range sub {
					if _, exists := instructions[ii.Offset]; !exists {
						order = append(order, ii.Offset)
					}
					instructions[ii.Offset] = ii.Instruction
				}
				values = append(values, subValues...)
				visited.Add(typed.Data.CopyState.Pos)
			}
		}
		if stop {
			break
		}

		if _, exists := instructions[instrIndex]; !exists {
			order = append(order, instrIndex)
		}
		instructions[instrIndex] = instr
	}

	sort.Ints(order)
	out := make([]bytecode.IndexedInstruction, 0, len(order))
	for _, off := range order {
		out = append(out, bytecode.IndexedInstruction{Offset: off, Instruction: instructions[off]})
	}
	return out, values, instrIndex, nil
}

func (d *Disassembler) readByte(code []byte, idx *int, key uint16, magic *uint16) uint16 {
	value := uint16(code[*idx])
	*idx++

	result := key ^ (d.offset + value)
	if magic != nil {
		result ^= *magic
	}
	return result & 0xFF
}

func (d *Disassembler) readVarint(code []byte, idx *int, key uint16) (int, error) {
	var i int
	var shift uint

	for {
		k := d.readByte(code, idx, key, nil)
		if shift >= 32 {
			return 0, turnstileerr.OpcodeError("read varint: unexpected left shift")
		}
		i |= int(k&127) << shift
		shift += 7

		if k&128 == 0 {
			break
		}
	}
	return i, nil
}

// decodeFloat unpacks the VM's custom IEEE-754-like 8-byte encoding: a
// biased exponent spread across the top bits of the first two bytes and a
// 52-bit mantissa accumulated from the low nibble onward across the
// remaining six bytes, bit by bit, most-significant first per byte.
func (d *Disassembler) decodeFloat(code []byte, idx *int, key uint16) float64 {
	upper := int64(d.readByte(code, idx, key, nil))
	lower := int64(d.readByte(code, idx, key, nil))
	exponent := math.Pow(2, float64(((upper&255)<<4|lower>>4)-1023))

	v := 1.0
	v /= 2.0
	mantissa := 1.0 + float64((lower>>3)&1)*v
	v /= 2.0
	mantissa += float64((lower>>2)&1) * v
	v /= 2.0
	mantissa += float64((lower>>1)&1) * v
	v /= 2.0
	mantissa += float64((lower>>0)&1) * v

	for i := 0; i < 6; i++ {
		o := int64(d.readByte(code, idx, key, nil))
		for s := 7; s >= 0; s-- {
			v /= 2.0
			mantissa += v * float64((o>>uint(s))&1)
		}
	}

	sign := 1.0
	if upper>>7 != 0 {
		sign = -1.0
	}
	return exponent * sign * mantissa
}
