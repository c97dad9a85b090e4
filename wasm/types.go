// Copyright 2017 The go-interpreter Authors.  All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package wasm

import (
	"fmt"
	"io"

	"github.com/pgavlin/wjit/wasm/leb128"
)

// Marshaler is implemented by types that can encode themselves to the WASM binary format.
type Marshaler interface {
	MarshalWASM(w io.Writer) error
}

// Unmarshaler is implemented by types that can decode themselves from the WASM binary format.
type Unmarshaler interface {
	UnmarshalWASM(r io.Reader) error
}

// ValidationError is returned when a module fails the structural checks performed while decoding its
// function bodies.
type ValidationError string

func (e ValidationError) Error() string {
	return string(e)
}

// ErrEmptyInitExpr is returned when a constant initializer expression contains no instructions.
var ErrEmptyInitExpr = fmt.Errorf("wasm: empty initializer expression")

// InvalidInitExprOpError indicates that a constant initializer expression used an opcode that is not
// permitted in that context.
type InvalidInitExprOpError byte

func (e InvalidInitExprOpError) Error() string {
	return fmt.Sprintf("wasm: invalid opcode in initializer expression: %#x", byte(e))
}

// ValueType represents the type of a value on the WASM operand stack, a local, or a global.
type ValueType byte

const (
	// ValueTypeT is a placeholder used during validation to mean "any type is acceptable here", e.g. when
	// decoding unreachable code.
	ValueTypeT ValueType = 0

	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
)

func (t ValueType) String() string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	default:
		return "unknown"
	}
}

func (t *ValueType) UnmarshalWASM(r io.Reader) error {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	*t = ValueType(buf[0])
	return nil
}

func (t ValueType) MarshalWASM(w io.Writer) error {
	_, err := w.Write([]byte{byte(t)})
	return err
}

// ElemType is the type of the elements stored in a table. Only AnyFunc is defined by the MVP.
type ElemType byte

const ElemTypeAnyFunc ElemType = 0x70

func (t *ElemType) UnmarshalWASM(r io.Reader) error {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	if buf[0] != byte(ElemTypeAnyFunc) {
		return fmt.Errorf("wasm: invalid table element type %#x", buf[0])
	}
	*t = ElemType(buf[0])
	return nil
}

func (t ElemType) MarshalWASM(w io.Writer) error {
	_, err := w.Write([]byte{byte(t)})
	return err
}

// External describes the kind of entity referenced by an import or export entry.
type External byte

const (
	ExternalFunction External = 0
	ExternalTable    External = 1
	ExternalMemory   External = 2
	ExternalGlobal   External = 3
)

func (e *External) UnmarshalWASM(r io.Reader) error {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	*e = External(buf[0])
	return nil
}

func (e External) MarshalWASM(w io.Writer) error {
	_, err := w.Write([]byte{byte(e)})
	return err
}

// ResizableLimits describes the minimum and optional maximum size of a table or linear memory, measured in
// table elements or 64KiB pages respectively.
type ResizableLimits struct {
	Flags   uint32
	Minimum uint32
	Maximum uint32
}

func (l *ResizableLimits) UnmarshalWASM(r io.Reader) error {
	var err error
	if l.Flags, err = leb128.ReadVarUint32(r); err != nil {
		return err
	}
	if l.Minimum, err = leb128.ReadVarUint32(r); err != nil {
		return err
	}
	if l.Flags&0x1 != 0 {
		if l.Maximum, err = leb128.ReadVarUint32(r); err != nil {
			return err
		}
	}
	return nil
}

func (l ResizableLimits) MarshalWASM(w io.Writer) error {
	if _, err := leb128.WriteVarUint32(w, l.Flags); err != nil {
		return err
	}
	if _, err := leb128.WriteVarUint32(w, l.Minimum); err != nil {
		return err
	}
	if l.Flags&0x1 != 0 {
		if _, err := leb128.WriteVarUint32(w, l.Maximum); err != nil {
			return err
		}
	}
	return nil
}

// Table describes a table of opaque references, sized according to Limits.
type Table struct {
	ElementType ElemType
	Limits      ResizableLimits
}

func (t *Table) UnmarshalWASM(r io.Reader) error {
	if err := t.ElementType.UnmarshalWASM(r); err != nil {
		return err
	}
	return t.Limits.UnmarshalWASM(r)
}

func (t Table) MarshalWASM(w io.Writer) error {
	if err := t.ElementType.MarshalWASM(w); err != nil {
		return err
	}
	return t.Limits.MarshalWASM(w)
}

// Memory describes a linear memory, sized in 64KiB pages according to Limits.
type Memory struct {
	Limits ResizableLimits
}

func (m *Memory) UnmarshalWASM(r io.Reader) error {
	return m.Limits.UnmarshalWASM(r)
}

func (m Memory) MarshalWASM(w io.Writer) error {
	return m.Limits.MarshalWASM(w)
}

// GlobalVar describes the type and mutability of a global variable.
type GlobalVar struct {
	Type    ValueType
	Mutable bool
}

func (g *GlobalVar) UnmarshalWASM(r io.Reader) error {
	if err := g.Type.UnmarshalWASM(r); err != nil {
		return err
	}
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	g.Mutable = buf[0] != 0
	return nil
}

func (g GlobalVar) MarshalWASM(w io.Writer) error {
	if err := g.Type.MarshalWASM(w); err != nil {
		return err
	}
	v := byte(0)
	if g.Mutable {
		v = 1
	}
	_, err := w.Write([]byte{v})
	return err
}

// FunctionSig describes a function signature: its parameter types and, in the MVP, at most one result type.
type FunctionSig struct {
	Form        byte
	ParamTypes  []ValueType
	ReturnTypes []ValueType
}

func (s *FunctionSig) UnmarshalWASM(r io.Reader) error {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	s.Form = buf[0]

	paramCount, err := leb128.ReadVarUint32(r)
	if err != nil {
		return err
	}
	s.ParamTypes = make([]ValueType, paramCount)
	for i := range s.ParamTypes {
		if err := s.ParamTypes[i].UnmarshalWASM(r); err != nil {
			return err
		}
	}

	returnCount, err := leb128.ReadVarUint32(r)
	if err != nil {
		return err
	}
	s.ReturnTypes = make([]ValueType, returnCount)
	for i := range s.ReturnTypes {
		if err := s.ReturnTypes[i].UnmarshalWASM(r); err != nil {
			return err
		}
	}

	return nil
}

func (s FunctionSig) MarshalWASM(w io.Writer) error {
	form := s.Form
	if form == 0 {
		form = 0x60
	}
	if _, err := w.Write([]byte{form}); err != nil {
		return err
	}

	if _, err := leb128.WriteVarUint32(w, uint32(len(s.ParamTypes))); err != nil {
		return err
	}
	for _, t := range s.ParamTypes {
		if err := t.MarshalWASM(w); err != nil {
			return err
		}
	}

	if _, err := leb128.WriteVarUint32(w, uint32(len(s.ReturnTypes))); err != nil {
		return err
	}
	for _, t := range s.ReturnTypes {
		if err := t.MarshalWASM(w); err != nil {
			return err
		}
	}

	return nil
}
