// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package simd

import (
	"math/bits"
)

// BlendvEpi8 (pblendvb) takes each byte from 'b' where the matching mask
// byte has its high bit set, else from 'a'.
func BlendvEpi8(a, b, mask Xmm) (r Xmm) {
	for i := range 16 {
		if (mask[i] & 0x80) != 0 {
			r[i] = b[i]
		} else {
			r[i] = a[i]
		}
	}
	return
}

// BlendvPs (blendvps) is BlendvEpi8 on dword lanes.
func BlendvPs(a, b, mask Xmm) (r Xmm) {
	for i := range 4 {
		if mask.I32(i) < 0 {
			r.SetU32(i, b.U32(i))
		} else {
			r.SetU32(i, a.U32(i))
		}
	}
	return
}

// BlendvPd (blendvpd) is BlendvEpi8 on qword lanes.
func BlendvPd(a, b, mask Xmm) (r Xmm) {
	for i := range 2 {
		if mask.I64(i) < 0 {
			r.SetU64(i, b.U64(i))
		} else {
			r.SetU64(i, a.U64(i))
		}
	}
	return
}

// BlendPs (blendps) takes dword lane i from 'b' when immediate bit i is set.
func BlendPs(a, b Xmm, imm uint8) (r Xmm) {
	r = a
	for i := range 4 {
		if (imm & (1 << i)) != 0 {
			r.SetU32(i, b.U32(i))
		}
	}
	return
}

// BlendPd (blendpd) takes qword lane i from 'b' when immediate bit i is set.
func BlendPd(a, b Xmm, imm uint8) (r Xmm) {
	r = a
	for i := range 2 {
		if (imm & (1 << i)) != 0 {
			r.SetU64(i, b.U64(i))
		}
	}
	return
}

// BlendEpi16 (pblendw) takes word lane i from 'b' when immediate bit i is
// set.
func BlendEpi16(a, b Xmm, imm uint8) (r Xmm) {
	r = a
	for i := range 8 {
		if (imm & (1 << i)) != 0 {
			r.SetU16(i, b.U16(i))
		}
	}
	return
}

// Sign and zero extensions (pmovsx*, pmovzx*). Only the low lanes of 'b'
// are read.

func CvtEpi8Epi16(b Xmm) (r Xmm) {
	for i := range 8 {
		r.SetU16(i, uint16(int16(b.I8(i))))
	}
	return
}

func CvtEpi8Epi32(b Xmm) (r Xmm) {
	for i := range 4 {
		r.SetU32(i, uint32(int32(b.I8(i))))
	}
	return
}

func CvtEpi8Epi64(b Xmm) (r Xmm) {
	for i := range 2 {
		r.SetU64(i, uint64(int64(b.I8(i))))
	}
	return
}

func CvtEpi16Epi32(b Xmm) (r Xmm) {
	for i := range 4 {
		r.SetU32(i, uint32(int32(b.I16(i))))
	}
	return
}

func CvtEpi16Epi64(b Xmm) (r Xmm) {
	for i := range 2 {
		r.SetU64(i, uint64(int64(b.I16(i))))
	}
	return
}

func CvtEpi32Epi64(b Xmm) (r Xmm) {
	for i := range 2 {
		r.SetU64(i, uint64(int64(b.I32(i))))
	}
	return
}

func CvtEpu8Epi16(b Xmm) (r Xmm) {
	for i := range 8 {
		r.SetU16(i, uint16(b.U8(i)))
	}
	return
}

func CvtEpu8Epi32(b Xmm) (r Xmm) {
	for i := range 4 {
		r.SetU32(i, uint32(b.U8(i)))
	}
	return
}

func CvtEpu8Epi64(b Xmm) (r Xmm) {
	for i := range 2 {
		r.SetU64(i, uint64(b.U8(i)))
	}
	return
}

func CvtEpu16Epi32(b Xmm) (r Xmm) {
	for i := range 4 {
		r.SetU32(i, uint32(b.U16(i)))
	}
	return
}

func CvtEpu16Epi64(b Xmm) (r Xmm) {
	for i := range 2 {
		r.SetU64(i, uint64(b.U16(i)))
	}
	return
}

func CvtEpu32Epi64(b Xmm) (r Xmm) {
	for i := range 2 {
		r.SetU64(i, uint64(b.U32(i)))
	}
	return
}

// Lane extraction (pextr*). The index is taken modulo the lane count.

func ExtractEpi8(a Xmm, imm uint8) uint8 {
	return a.U8(int(imm & 15))
}

func ExtractEpi16(a Xmm, imm uint8) uint16 {
	return a.U16(int(imm & 7))
}

func ExtractEpi32(a Xmm, imm uint8) uint32 {
	return a.U32(int(imm & 3))
}

func ExtractEpi64(a Xmm, imm uint8) uint64 {
	return a.U64(int(imm & 1))
}

// Lane insertion (pinsr*). The index is taken modulo the lane count.

func InsertEpi8(a Xmm, value uint8, imm uint8) (r Xmm) {
	r = a
	r.SetU8(int(imm&15), value)
	return
}

func InsertEpi32(a Xmm, value uint32, imm uint8) (r Xmm) {
	r = a
	r.SetU32(int(imm&3), value)
	return
}

func InsertEpi64(a Xmm, value uint64, imm uint8) (r Xmm) {
	r = a
	r.SetU64(int(imm&1), value)
	return
}

// Popcnt16 is the set bit count of the low 16 bits.
func Popcnt16(x uint64) uint64 {
	return uint64(bits.OnesCount16(uint16(x)))
}

// Popcnt32 is the set bit count of the low 32 bits.
func Popcnt32(x uint64) uint64 {
	return uint64(bits.OnesCount32(uint32(x)))
}

// Popcnt64 is the set bit count.
func Popcnt64(x uint64) uint64 {
	return uint64(bits.OnesCount64(x))
}

// ByteSwap reverses the low 'size' bytes of x (movbe). Sizes are 2, 4 or 8.
func ByteSwap(x uint64, size int) uint64 {
	switch size {
	case 2:
		return uint64(bits.ReverseBytes16(uint16(x)))
	case 4:
		return uint64(bits.ReverseBytes32(uint32(x)))
	}
	return bits.ReverseBytes64(x)
}
