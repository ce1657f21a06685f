// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package emulator

import (
	"errors"
	"iter"

	"github.com/ezrec/xtrap/cpu"
	"github.com/ezrec/xtrap/decode"
	"github.com/ezrec/xtrap/simd"
)

// Table maps (opcode map, opcode byte) to an operation descriptor.
type Table struct {
	ops [4][256]*Op
}

var _ decode.Table = (*Table)(nil)

// NewTable creates a table from a list of descriptors.
func NewTable(ops ...*Op) (tb *Table, err error) {
	tb = &Table{}
	for _, op := range ops {
		err = tb.Add(op)
		if err != nil {
			tb = nil
			return
		}
	}
	return
}

// Add inserts a descriptor. Each (map, opcode) pair may be bound once.
func (tb *Table) Add(op *Op) (err error) {
	if op.Map <= decode.MAP_NONE || op.Map > decode.MAP_0F3A {
		err = errors.Join(ErrTable, decode.ErrOpcodeMap)
		return
	}
	if tb.ops[op.Map][op.Code] != nil {
		err = errors.Join(ErrTable, ErrDuplicate(op.Name))
		return
	}
	tb.ops[op.Map][op.Code] = op
	return
}

// Op returns the descriptor for an opcode, or nil.
func (tb *Table) Op(m decode.Map, code byte) *Op {
	if m <= decode.MAP_NONE || m > decode.MAP_0F3A {
		return nil
	}
	return tb.ops[m][code]
}

// Lookup implements decode.Table.
func (tb *Table) Lookup(m decode.Map, code byte) (form decode.Form, ok bool) {
	op := tb.Op(m, code)
	if op == nil {
		return
	}
	form = op.Form()
	ok = true
	return
}

// Ops iterates over every descriptor in opcode order.
func (tb *Table) Ops() iter.Seq[*Op] {
	return func(yield func(*Op) bool) {
		for m := range tb.ops {
			for _, op := range tb.ops[m] {
				if op == nil {
					continue
				}
				if !yield(op) {
					return
				}
			}
		}
	}
}

func unary(fn func(b cpu.Xmm) cpu.Xmm) func(a, b cpu.Xmm) cpu.Xmm {
	return func(_, b cpu.Xmm) cpu.Xmm {
		return fn(b)
	}
}

func imm8(fn func(a, b cpu.Xmm, imm uint8) cpu.Xmm) func(a, b cpu.Xmm, env Env) cpu.Xmm {
	return func(a, b cpu.Xmm, env Env) cpu.Xmm {
		return fn(a, b, env.Imm)
	}
}

func roundPacked(fn func(b cpu.Xmm, imm uint8, mxcsr uint32) cpu.Xmm) func(a, b cpu.Xmm, env Env) cpu.Xmm {
	return func(_, b cpu.Xmm, env Env) cpu.Xmm {
		return fn(b, env.Imm, env.Mxcsr)
	}
}

func roundScalar(fn func(a, b cpu.Xmm, imm uint8, mxcsr uint32) cpu.Xmm) func(a, b cpu.Xmm, env Env) cpu.Xmm {
	return func(a, b cpu.Xmm, env Env) cpu.Xmm {
		return fn(a, b, env.Imm, env.Mxcsr)
	}
}

// insertPs loads a 32-bit memory source into lane 0, so the source lane
// select is ignored.
func insertPs(a, b cpu.Xmm, env Env) cpu.Xmm {
	imm := env.Imm
	if env.Mem {
		imm &^= 0xc0
	}
	return simd.InsertPs(a, b, imm)
}

func ptest(a, b cpu.Xmm) (zf, cf bool) {
	return simd.TestZ(a, b), simd.TestC(a, b)
}

func popcnt(value uint64, size int) uint64 {
	switch size {
	case 2:
		return simd.Popcnt16(value)
	case 4:
		return simd.Popcnt32(value)
	}
	return simd.Popcnt64(value)
}

func ssse3(code byte, name string, fn func(a, b cpu.Xmm) cpu.Xmm) *Op {
	return &Op{Name: name, Map: decode.MAP_0F38, Code: code, Shape: XMM_XMM,
		Mandatory: MANDATORY_66, Feature: FEATURE_SSSE3, Vector: fn}
}

func sse41(code byte, name string, fn func(a, b cpu.Xmm) cpu.Xmm) *Op {
	return &Op{Name: name, Map: decode.MAP_0F38, Code: code, Shape: XMM_XMM,
		Mandatory: MANDATORY_66, Feature: FEATURE_SSE41, Vector: fn}
}

func convert(code byte, name string, width int, fn func(b cpu.Xmm) cpu.Xmm) *Op {
	return &Op{Name: name, Map: decode.MAP_0F38, Code: code, Shape: XMM_XMM,
		Mandatory: MANDATORY_66, Feature: FEATURE_SSE41, Width: width, Vector: unary(fn)}
}

func blendv(code byte, name string, fn func(a, b, mask cpu.Xmm) cpu.Xmm) *Op {
	return &Op{Name: name, Map: decode.MAP_0F38, Code: code, Shape: XMM_XMM_XMM0,
		Mandatory: MANDATORY_66, Feature: FEATURE_SSE41, Masked: fn}
}

func immediate(code byte, name string, feature Feature, width int, fn func(a, b cpu.Xmm, env Env) cpu.Xmm) *Op {
	return &Op{Name: name, Map: decode.MAP_0F3A, Code: code, Shape: XMM_XMM_IMM,
		Mandatory: MANDATORY_66, Feature: feature, Width: width, Immediate: fn}
}

func extract(code byte, name string, width int, wide bool, fn func(a cpu.Xmm, imm uint8, size int) uint64) *Op {
	return &Op{Name: name, Map: decode.MAP_0F3A, Code: code, Shape: RM_XMM_IMM,
		Mandatory: MANDATORY_66, Feature: FEATURE_SSE41, Width: width, Wide: wide, Extract: fn}
}

func insert(code byte, name string, width int, wide bool, fn func(a cpu.Xmm, value uint64, imm uint8, size int) cpu.Xmm) *Op {
	return &Op{Name: name, Map: decode.MAP_0F3A, Code: code, Shape: XMM_RM_IMM,
		Mandatory: MANDATORY_66, Feature: FEATURE_SSE41, Width: width, Wide: wide, Insert: fn}
}

// opcodes is the full set of emulated instructions.
var opcodes = []*Op{
	ssse3(0x00, "pshufb", simd.ShuffleEpi8),
	ssse3(0x01, "phaddw", simd.HaddEpi16),
	ssse3(0x02, "phaddd", simd.HaddEpi32),
	ssse3(0x03, "phaddsw", simd.HaddsEpi16),
	ssse3(0x04, "pmaddubsw", simd.MaddubsEpi16),
	ssse3(0x05, "phsubw", simd.HsubEpi16),
	ssse3(0x06, "phsubd", simd.HsubEpi32),
	ssse3(0x07, "phsubsw", simd.HsubsEpi16),
	ssse3(0x08, "psignb", simd.SignEpi8),
	ssse3(0x09, "psignw", simd.SignEpi16),
	ssse3(0x0a, "psignd", simd.SignEpi32),
	ssse3(0x0b, "pmulhrsw", simd.MulhrsEpi16),
	blendv(0x10, "pblendvb", simd.BlendvEpi8),
	blendv(0x14, "blendvps", simd.BlendvPs),
	blendv(0x15, "blendvpd", simd.BlendvPd),
	{Name: "ptest", Map: decode.MAP_0F38, Code: 0x17, Shape: FLAGS_XMM_XMM,
		Mandatory: MANDATORY_66, Feature: FEATURE_SSE41, Test: ptest},
	ssse3(0x1c, "pabsb", unary(simd.AbsEpi8)),
	ssse3(0x1d, "pabsw", unary(simd.AbsEpi16)),
	ssse3(0x1e, "pabsd", unary(simd.AbsEpi32)),
	convert(0x20, "pmovsxbw", 8, simd.CvtEpi8Epi16),
	convert(0x21, "pmovsxbd", 4, simd.CvtEpi8Epi32),
	convert(0x22, "pmovsxbq", 2, simd.CvtEpi8Epi64),
	convert(0x23, "pmovsxwd", 8, simd.CvtEpi16Epi32),
	convert(0x24, "pmovsxwq", 4, simd.CvtEpi16Epi64),
	convert(0x25, "pmovsxdq", 8, simd.CvtEpi32Epi64),
	sse41(0x28, "pmuldq", simd.MulEpi32),
	sse41(0x29, "pcmpeqq", simd.CmpeqEpi64),
	{Name: "movntdqa", Map: decode.MAP_0F38, Code: 0x2a, Shape: XMM_MEM,
		Mandatory: MANDATORY_66, Feature: FEATURE_SSE41, Vector: unary(simd.StreamLoad)},
	sse41(0x2b, "packusdw", simd.PackusEpi32),
	convert(0x30, "pmovzxbw", 8, simd.CvtEpu8Epi16),
	convert(0x31, "pmovzxbd", 4, simd.CvtEpu8Epi32),
	convert(0x32, "pmovzxbq", 2, simd.CvtEpu8Epi64),
	convert(0x33, "pmovzxwd", 8, simd.CvtEpu16Epi32),
	convert(0x34, "pmovzxwq", 4, simd.CvtEpu16Epi64),
	convert(0x35, "pmovzxdq", 8, simd.CvtEpu32Epi64),
	{Name: "pcmpgtq", Map: decode.MAP_0F38, Code: 0x37, Shape: XMM_XMM,
		Mandatory: MANDATORY_66, Feature: FEATURE_SSE42, Vector: simd.CmpgtEpi64},
	sse41(0x38, "pminsb", simd.MinEpi8),
	sse41(0x39, "pminsd", simd.MinEpi32),
	sse41(0x3a, "pminuw", simd.MinEpu16),
	sse41(0x3b, "pminud", simd.MinEpu32),
	sse41(0x3c, "pmaxsb", simd.MaxEpi8),
	sse41(0x3d, "pmaxsd", simd.MaxEpi32),
	sse41(0x3e, "pmaxuw", simd.MaxEpu16),
	sse41(0x3f, "pmaxud", simd.MaxEpu32),
	sse41(0x40, "pmulld", simd.MulloEpi32),
	sse41(0x41, "phminposuw", unary(simd.MinposEpu16)),
	{Name: "movbe", Map: decode.MAP_0F38, Code: 0xf0, Shape: GPR_MEM,
		Feature: FEATURE_MOVBE, Scalar: simd.ByteSwap},
	{Name: "movbe", Map: decode.MAP_0F38, Code: 0xf1, Shape: MEM_GPR,
		Feature: FEATURE_MOVBE, Scalar: simd.ByteSwap},

	immediate(0x08, "roundps", FEATURE_SSE41, 0, roundPacked(simd.RoundPs)),
	immediate(0x09, "roundpd", FEATURE_SSE41, 0, roundPacked(simd.RoundPd)),
	immediate(0x0a, "roundss", FEATURE_SSE41, 4, roundScalar(simd.RoundSs)),
	immediate(0x0b, "roundsd", FEATURE_SSE41, 8, roundScalar(simd.RoundSd)),
	immediate(0x0c, "blendps", FEATURE_SSE41, 0, imm8(simd.BlendPs)),
	immediate(0x0d, "blendpd", FEATURE_SSE41, 0, imm8(simd.BlendPd)),
	immediate(0x0e, "pblendw", FEATURE_SSE41, 0, imm8(simd.BlendEpi16)),
	immediate(0x0f, "palignr", FEATURE_SSSE3, 0, imm8(simd.AlignrEpi8)),
	extract(0x14, "pextrb", 1, false, func(a cpu.Xmm, imm uint8, _ int) uint64 {
		return uint64(simd.ExtractEpi8(a, imm))
	}),
	extract(0x15, "pextrw", 2, false, func(a cpu.Xmm, imm uint8, _ int) uint64 {
		return uint64(simd.ExtractEpi16(a, imm))
	}),
	extract(0x16, "pextrd/q", 4, true, func(a cpu.Xmm, imm uint8, size int) uint64 {
		if size == 8 {
			return simd.ExtractEpi64(a, imm)
		}
		return uint64(simd.ExtractEpi32(a, imm))
	}),
	extract(0x17, "extractps", 4, false, func(a cpu.Xmm, imm uint8, _ int) uint64 {
		return uint64(simd.ExtractPs(a, imm))
	}),
	insert(0x20, "pinsrb", 1, false, func(a cpu.Xmm, value uint64, imm uint8, _ int) cpu.Xmm {
		return simd.InsertEpi8(a, uint8(value), imm)
	}),
	immediate(0x21, "insertps", FEATURE_SSE41, 4, insertPs),
	insert(0x22, "pinsrd/q", 4, true, func(a cpu.Xmm, value uint64, imm uint8, size int) cpu.Xmm {
		if size == 8 {
			return simd.InsertEpi64(a, value, imm)
		}
		return simd.InsertEpi32(a, uint32(value), imm)
	}),
	immediate(0x40, "dpps", FEATURE_SSE41, 0, imm8(simd.DpPs)),
	immediate(0x41, "dppd", FEATURE_SSE41, 0, imm8(simd.DpPd)),
	immediate(0x42, "mpsadbw", FEATURE_SSE41, 0, imm8(simd.MpsadbwEpu8)),

	{Name: "popcnt", Map: decode.MAP_0F, Code: 0xb8, Shape: GPR_GPR,
		Mandatory: MANDATORY_F3, Feature: FEATURE_POPCNT, Scalar: popcnt},
}

// DefaultTable returns a table of every emulated instruction.
func DefaultTable() (tb *Table) {
	tb, err := NewTable(opcodes...)
	if err != nil {
		panic(err)
	}
	return
}
