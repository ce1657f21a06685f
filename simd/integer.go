// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

// Package simd implements the SSSE3, SSE4.1 and SSE4.2 lane operations
// the emulator executes on behalf of processors that lack them.
//
// Every function is pure: it takes vector values and returns a new vector.
// In two-operand forms 'a' is the destination register's prior value and
// 'b' is the source operand.
package simd

import (
	"math"

	"github.com/ezrec/xtrap/cpu"
)

type Xmm = cpu.Xmm

func saturate16(x int32) uint16 {
	if x > math.MaxInt16 {
		x = math.MaxInt16
	} else if x < math.MinInt16 {
		x = math.MinInt16
	}
	return uint16(int16(x))
}

func saturateU16(x int32) uint16 {
	if x > math.MaxUint16 {
		x = math.MaxUint16
	} else if x < 0 {
		x = 0
	}
	return uint16(x)
}

// ShuffleEpi8 (pshufb) selects bytes of 'a' by the low nibble of each
// byte of 'b', or zero when that byte's high bit is set.
func ShuffleEpi8(a, b Xmm) (r Xmm) {
	for i := range 16 {
		if (b[i] & 0x80) == 0 {
			r[i] = a[b[i]&0x0f]
		}
	}
	return
}

// HaddEpi16 (phaddw) adds adjacent word pairs of 'a' then 'b'.
func HaddEpi16(a, b Xmm) (r Xmm) {
	for i := range 4 {
		r.SetU16(i, a.U16(2*i)+a.U16(2*i+1))
		r.SetU16(i+4, b.U16(2*i)+b.U16(2*i+1))
	}
	return
}

// HaddEpi32 (phaddd) adds adjacent dword pairs of 'a' then 'b'.
func HaddEpi32(a, b Xmm) (r Xmm) {
	for i := range 2 {
		r.SetU32(i, a.U32(2*i)+a.U32(2*i+1))
		r.SetU32(i+2, b.U32(2*i)+b.U32(2*i+1))
	}
	return
}

// HaddsEpi16 (phaddsw) adds adjacent signed word pairs with saturation.
func HaddsEpi16(a, b Xmm) (r Xmm) {
	for i := range 4 {
		r.SetU16(i, saturate16(int32(a.I16(2*i))+int32(a.I16(2*i+1))))
		r.SetU16(i+4, saturate16(int32(b.I16(2*i))+int32(b.I16(2*i+1))))
	}
	return
}

// HsubEpi16 (phsubw) subtracts adjacent word pairs.
func HsubEpi16(a, b Xmm) (r Xmm) {
	for i := range 4 {
		r.SetU16(i, a.U16(2*i)-a.U16(2*i+1))
		r.SetU16(i+4, b.U16(2*i)-b.U16(2*i+1))
	}
	return
}

// HsubEpi32 (phsubd) subtracts adjacent dword pairs.
func HsubEpi32(a, b Xmm) (r Xmm) {
	for i := range 2 {
		r.SetU32(i, a.U32(2*i)-a.U32(2*i+1))
		r.SetU32(i+2, b.U32(2*i)-b.U32(2*i+1))
	}
	return
}

// HsubsEpi16 (phsubsw) subtracts adjacent signed word pairs with
// saturation.
func HsubsEpi16(a, b Xmm) (r Xmm) {
	for i := range 4 {
		r.SetU16(i, saturate16(int32(a.I16(2*i))-int32(a.I16(2*i+1))))
		r.SetU16(i+4, saturate16(int32(b.I16(2*i))-int32(b.I16(2*i+1))))
	}
	return
}

// MaddubsEpi16 (pmaddubsw) multiplies unsigned bytes of 'a' by signed
// bytes of 'b' and adds adjacent products with signed saturation.
func MaddubsEpi16(a, b Xmm) (r Xmm) {
	for i := range 8 {
		lo := int32(a.U8(2*i)) * int32(b.I8(2*i))
		hi := int32(a.U8(2*i+1)) * int32(b.I8(2*i+1))
		r.SetU16(i, saturate16(lo+hi))
	}
	return
}

// MulhrsEpi16 (pmulhrsw) multiplies signed words, rounds and keeps bits
// 16:1 of each product.
func MulhrsEpi16(a, b Xmm) (r Xmm) {
	for i := range 8 {
		product := int32(a.I16(i)) * int32(b.I16(i))
		r.SetU16(i, uint16(((product>>14)+1)>>1))
	}
	return
}

func sign(x, s int64) int64 {
	switch {
	case s < 0:
		return -x
	case s == 0:
		return 0
	}
	return x
}

// SignEpi8 (psignb) negates, zeroes or keeps each byte of 'a' by the
// sign of the matching byte of 'b'.
func SignEpi8(a, b Xmm) (r Xmm) {
	for i := range 16 {
		r[i] = uint8(sign(int64(a.I8(i)), int64(b.I8(i))))
	}
	return
}

// SignEpi16 (psignw) is SignEpi8 on words.
func SignEpi16(a, b Xmm) (r Xmm) {
	for i := range 8 {
		r.SetU16(i, uint16(sign(int64(a.I16(i)), int64(b.I16(i)))))
	}
	return
}

// SignEpi32 (psignd) is SignEpi8 on dwords.
func SignEpi32(a, b Xmm) (r Xmm) {
	for i := range 4 {
		r.SetU32(i, uint32(sign(int64(a.I32(i)), int64(b.I32(i)))))
	}
	return
}

// AbsEpi8 (pabsb) is the unsigned absolute value of each signed byte.
func AbsEpi8(b Xmm) (r Xmm) {
	for i := range 16 {
		x := int16(b.I8(i))
		if x < 0 {
			x = -x
		}
		r[i] = uint8(x)
	}
	return
}

// AbsEpi16 (pabsw) is AbsEpi8 on words.
func AbsEpi16(b Xmm) (r Xmm) {
	for i := range 8 {
		x := int32(b.I16(i))
		if x < 0 {
			x = -x
		}
		r.SetU16(i, uint16(x))
	}
	return
}

// AbsEpi32 (pabsd) is AbsEpi8 on dwords.
func AbsEpi32(b Xmm) (r Xmm) {
	for i := range 4 {
		x := int64(b.I32(i))
		if x < 0 {
			x = -x
		}
		r.SetU32(i, uint32(x))
	}
	return
}

// MulEpi32 (pmuldq) multiplies the signed low dword of each qword.
func MulEpi32(a, b Xmm) (r Xmm) {
	for i := range 2 {
		r.SetU64(i, uint64(int64(a.I32(2*i))*int64(b.I32(2*i))))
	}
	return
}

// MulloEpi32 (pmulld) keeps the low 32 bits of each dword product.
func MulloEpi32(a, b Xmm) (r Xmm) {
	for i := range 4 {
		r.SetU32(i, a.U32(i)*b.U32(i))
	}
	return
}

// CmpeqEpi64 (pcmpeqq) sets each qword to all ones when equal.
func CmpeqEpi64(a, b Xmm) (r Xmm) {
	for i := range 2 {
		if a.U64(i) == b.U64(i) {
			r.SetU64(i, math.MaxUint64)
		}
	}
	return
}

// CmpgtEpi64 (pcmpgtq) sets each qword to all ones when 'a' is greater,
// signed.
func CmpgtEpi64(a, b Xmm) (r Xmm) {
	for i := range 2 {
		if a.I64(i) > b.I64(i) {
			r.SetU64(i, math.MaxUint64)
		}
	}
	return
}

// PackusEpi32 (packusdw) packs signed dwords of 'a' then 'b' into words
// with unsigned saturation.
func PackusEpi32(a, b Xmm) (r Xmm) {
	for i := range 4 {
		r.SetU16(i, saturateU16(a.I32(i)))
		r.SetU16(i+4, saturateU16(b.I32(i)))
	}
	return
}

// MinEpi8 (pminsb) is the signed byte minimum.
func MinEpi8(a, b Xmm) (r Xmm) {
	for i := range 16 {
		r[i] = uint8(min(a.I8(i), b.I8(i)))
	}
	return
}

// MaxEpi8 (pmaxsb) is the signed byte maximum.
func MaxEpi8(a, b Xmm) (r Xmm) {
	for i := range 16 {
		r[i] = uint8(max(a.I8(i), b.I8(i)))
	}
	return
}

// MinEpu16 (pminuw) is the unsigned word minimum.
func MinEpu16(a, b Xmm) (r Xmm) {
	for i := range 8 {
		r.SetU16(i, min(a.U16(i), b.U16(i)))
	}
	return
}

// MaxEpu16 (pmaxuw) is the unsigned word maximum.
func MaxEpu16(a, b Xmm) (r Xmm) {
	for i := range 8 {
		r.SetU16(i, max(a.U16(i), b.U16(i)))
	}
	return
}

// MinEpi32 (pminsd) is the signed dword minimum.
func MinEpi32(a, b Xmm) (r Xmm) {
	for i := range 4 {
		r.SetU32(i, uint32(min(a.I32(i), b.I32(i))))
	}
	return
}

// MaxEpi32 (pmaxsd) is the signed dword maximum.
func MaxEpi32(a, b Xmm) (r Xmm) {
	for i := range 4 {
		r.SetU32(i, uint32(max(a.I32(i), b.I32(i))))
	}
	return
}

// MinEpu32 (pminud) is the unsigned dword minimum.
func MinEpu32(a, b Xmm) (r Xmm) {
	for i := range 4 {
		r.SetU32(i, min(a.U32(i), b.U32(i)))
	}
	return
}

// MaxEpu32 (pmaxud) is the unsigned dword maximum.
func MaxEpu32(a, b Xmm) (r Xmm) {
	for i := range 4 {
		r.SetU32(i, max(a.U32(i), b.U32(i)))
	}
	return
}

// MinposEpu16 (phminposuw) finds the smallest unsigned word of 'b'.
// Word 0 of the result is the value, word 1 its lowest index.
func MinposEpu16(b Xmm) (r Xmm) {
	value := b.U16(0)
	index := 0
	for i := 1; i < 8; i++ {
		if b.U16(i) < value {
			value = b.U16(i)
			index = i
		}
	}
	r.SetU16(0, value)
	r.SetU16(1, uint16(index))
	return
}

// MpsadbwEpu8 (mpsadbw) computes eight sums of absolute differences
// between a sliding 4-byte window of 'a' and a fixed 4-byte block of 'b'.
func MpsadbwEpu8(a, b Xmm, imm uint8) (r Xmm) {
	src := int(imm&3) * 4
	dst := int((imm>>2)&1) * 4
	for i := range 8 {
		var sum uint16
		for j := range 4 {
			d := int(a[dst+i+j]) - int(b[src+j])
			if d < 0 {
				d = -d
			}
			sum += uint16(d)
		}
		r.SetU16(i, sum)
	}
	return
}

// AlignrEpi8 (palignr) concatenates 'a' (high) and 'b' (low), shifts the
// 32-byte value right by 'imm' bytes and keeps the low 16 bytes.
func AlignrEpi8(a, b Xmm, imm uint8) (r Xmm) {
	var cat [32]byte
	copy(cat[:16], b[:])
	copy(cat[16:], a[:])
	for i := range 16 {
		n := int(imm) + i
		if n < 32 {
			r[i] = cat[n]
		}
	}
	return
}

// StreamLoad (movntdqa) is a plain 128-bit load when emulated.
func StreamLoad(b Xmm) Xmm {
	return b
}

// TestZ is the ptest zero flag: true when 'a' AND 'b' is all zero.
func TestZ(a, b Xmm) bool {
	return (a.U64(0)&b.U64(0)) == 0 && (a.U64(1)&b.U64(1)) == 0
}

// TestC is the ptest carry flag: true when NOT 'a' AND 'b' is all zero.
func TestC(a, b Xmm) bool {
	return (^a.U64(0)&b.U64(0)) == 0 && (^a.U64(1)&b.U64(1)) == 0
}
