// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package emulator

import (
	"fmt"

	"github.com/ezrec/xtrap/cpu"
	"github.com/ezrec/xtrap/decode"
)

// Shape is the operand layout of an emulated instruction.
type Shape int

// The destination is first; <xmm0> is the implicit mask register.
//
//go:generate go tool stringer -linecomment -type=Shape
const (
	XMM_XMM       = Shape(0) // xmm,xmm/m
	XMM_XMM_IMM   = Shape(1) // xmm,xmm/m,imm8
	XMM_XMM_XMM0  = Shape(2) // xmm,xmm/m,<xmm0>
	FLAGS_XMM_XMM = Shape(3) // eflags,xmm,xmm/m
	XMM_MEM       = Shape(4) // xmm,m128
	XMM_RM_IMM    = Shape(5) // xmm,r/m,imm8
	RM_XMM_IMM    = Shape(6) // r/m,xmm,imm8
	GPR_MEM       = Shape(7) // r,m
	MEM_GPR       = Shape(8) // m,r
	GPR_GPR       = Shape(9) // r,r
)

// HasImm is set for shapes carrying an immediate byte.
func (s Shape) HasImm() bool {
	switch s {
	case XMM_XMM_IMM, XMM_RM_IMM, RM_XMM_IMM:
		return true
	}
	return false
}

// Mandatory prefix of an opcode.
type Mandatory int

const (
	MANDATORY_NONE = Mandatory(0) // No prefix required; 0x66 is a size override.
	MANDATORY_66   = Mandatory(1) // 0x66 required, 0xF3 forbidden.
	MANDATORY_F3   = Mandatory(2) // 0xF3 required.
)

// Env carries the per-execution inputs of immediate forms.
type Env struct {
	Imm   uint8  // Immediate byte.
	Mxcsr uint32 // SIMD control/status at the time of the trap.
	Mem   bool   // Source operand came from memory.
}

// Op describes one emulated opcode.
type Op struct {
	Name      string
	Map       decode.Map
	Code      byte
	Shape     Shape
	Mandatory Mandatory
	Feature   Feature

	// Memory operand width in bytes. Zero means the full 16 bytes for
	// vector shapes, or the operand size for general purpose shapes.
	Width int
	// Wide selects an 8 byte operand when REX.W is set.
	Wide bool

	Vector    func(a, b cpu.Xmm) cpu.Xmm                                // XMM_XMM, XMM_MEM
	Immediate func(a, b cpu.Xmm, env Env) cpu.Xmm                       // XMM_XMM_IMM
	Masked    func(a, b, mask cpu.Xmm) cpu.Xmm                          // XMM_XMM_XMM0
	Test      func(a, b cpu.Xmm) (zf, cf bool)                          // FLAGS_XMM_XMM
	Insert    func(a cpu.Xmm, value uint64, imm uint8, size int) cpu.Xmm // XMM_RM_IMM
	Extract   func(a cpu.Xmm, imm uint8, size int) uint64                // RM_XMM_IMM
	Scalar    func(value uint64, size int) uint64                       // GPR_MEM, MEM_GPR, GPR_GPR
}

func (op *Op) String() string {
	return fmt.Sprintf("%v %v", op.Name, op.Shape)
}

// width is the memory operand width for a decoded instruction.
func (op *Op) width(in *decode.Instruction) int {
	switch {
	case op.Wide && in.TestRex(decode.REX_W):
		return 8
	case op.Width != 0:
		return op.Width
	}
	switch op.Shape {
	case GPR_MEM, MEM_GPR, GPR_GPR:
		return in.OperandSize()
	}
	return 16
}

// Form is the decoder's view of this opcode.
func (op *Op) Form() (form decode.Form) {
	if op.Shape.HasImm() {
		form.Imm = 1
	}
	form.RegisterOnly = op.Shape == GPR_GPR
	return
}
