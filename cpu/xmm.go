// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Xmm is a 128-bit vector register value, stored in memory byte order.
type Xmm [16]byte

// XmmFromU64 builds a vector from its low and high quadwords.
func XmmFromU64(lo, hi uint64) (v Xmm) {
	v.SetU64(0, lo)
	v.SetU64(1, hi)
	return
}

func (v Xmm) U8(i int) uint8 { return v[i] }
func (v Xmm) I8(i int) int8  { return int8(v[i]) }

func (v *Xmm) SetU8(i int, x uint8) { v[i] = x }

func (v Xmm) U16(i int) uint16 { return binary.LittleEndian.Uint16(v[i*2:]) }
func (v Xmm) I16(i int) int16  { return int16(v.U16(i)) }

func (v *Xmm) SetU16(i int, x uint16) { binary.LittleEndian.PutUint16(v[i*2:], x) }

func (v Xmm) U32(i int) uint32 { return binary.LittleEndian.Uint32(v[i*4:]) }
func (v Xmm) I32(i int) int32  { return int32(v.U32(i)) }

func (v *Xmm) SetU32(i int, x uint32) { binary.LittleEndian.PutUint32(v[i*4:], x) }

func (v Xmm) U64(i int) uint64 { return binary.LittleEndian.Uint64(v[i*8:]) }
func (v Xmm) I64(i int) int64  { return int64(v.U64(i)) }

func (v *Xmm) SetU64(i int, x uint64) { binary.LittleEndian.PutUint64(v[i*8:], x) }

func (v Xmm) F32(i int) float32 { return math.Float32frombits(v.U32(i)) }

func (v *Xmm) SetF32(i int, x float32) { v.SetU32(i, math.Float32bits(x)) }

func (v Xmm) F64(i int) float64 { return math.Float64frombits(v.U64(i)) }

func (v *Xmm) SetF64(i int, x float64) { v.SetU64(i, math.Float64bits(x)) }

// String returns the vector as high:low quadwords.
func (v Xmm) String() string {
	return fmt.Sprintf("%016x_%016x", v.U64(1), v.U64(0))
}
