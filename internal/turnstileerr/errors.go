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

// Package turnstileerr defines the fatal error taxonomy shared by every
// stage of the script-reverse-engineering pipeline. Every error raised by
// internal/deobfuscate, internal/extract, internal/disasm, internal/flow,
// and internal/entries is one of the five kinds here; none of them are
// retried by the pipeline itself.
package turnstileerr

import "github.com/pkg/errors"

// Kind classifies a pipeline failure so callers can report the right
// diagnostic context without type-switching on formatted strings.
type Kind int

const (
	// Parse covers JS parse failures. Always fatal.
	Parse Kind = iota
	// Extractor covers an expected AST shape that was not found (a missing
	// _cf_chl_opt, a missing key expression, an absent VM blob, ...).
	Extractor
	// Opcode covers unknown opcode bytes, unknown literal sub-types, and
	// varint shift overflow.
	Opcode
	// Structure covers classifier invariants: missing header strings,
	// inconsistent headers across groups, no SignalPattern match.
	Structure
	// Contract covers misuse of the core's pure-functional API, such as
	// reading bytecode before the disassembler is initialized.
	Contract
)

func (k Kind) String() string {
	switch k {
	case Parse:
		return "ParseError"
	case Extractor:
		return "ExtractorError"
	case Opcode:
		return "OpcodeError"
	case Structure:
		return "StructureError"
	case Contract:
		return "ContractError"
	default:
		return "UnknownError"
	}
}

// Error is a fatal pipeline error carrying its Kind and a root-cause chain
// via github.com/pkg/errors. The core never catches these internally; they
// propagate to the boundary untouched.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.cause.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

// Unwrap exposes the root cause to errors.Is / errors.As. Error has no
// Cause method, so github.com/pkg/errors.Cause does not look past it.
func (e *Error) Unwrap() error { return e.cause }

// New constructs a bare Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches kind and message to an existing error, preserving its chain.
func Wrap(kind Kind, cause error, message string) *Error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, cause: errors.Wrap(cause, message)}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return Wrap(kind, cause, errors.Errorf(format, args...).Error())
}

func ParseError(cause error, msg string) *Error     { return Wrap(Parse, cause, msg) }
func ExtractorError(msg string) *Error               { return New(Extractor, msg) }
func ExtractorErrorf(f string, a ...interface{}) *Error {
	return New(Extractor, errors.Errorf(f, a...).Error())
}
func OpcodeError(msg string) *Error { return New(Opcode, msg) }
func OpcodeErrorf(f string, a ...interface{}) *Error {
	return New(Opcode, errors.Errorf(f, a...).Error())
}
func StructureError(msg string) *Error { return New(Structure, msg) }
func StructureErrorf(f string, a ...interface{}) *Error {
	return New(Structure, errors.Errorf(f, a...).Error())
}
func ContractError(msg string) *Error { return New(Contract, msg) }
