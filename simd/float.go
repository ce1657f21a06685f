// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package simd

import (
	"math"
)

// Rounding control, from the low bits of the round* immediate or MXCSR.RC.
const (
	ROUND_NEAREST  = 0
	ROUND_DOWN     = 1
	ROUND_UP       = 2
	ROUND_TRUNCATE = 3

	ROUND_MXCSR = 0x4 // Immediate bit selecting MXCSR.RC.

	MXCSR_RC_SHIFT = 13
	MXCSR_RC_MASK  = uint32(3 << MXCSR_RC_SHIFT)
)

// RoundingMode selects the rounding control for an immediate.
func RoundingMode(imm uint8, mxcsr uint32) int {
	if (imm & ROUND_MXCSR) != 0 {
		return int((mxcsr & MXCSR_RC_MASK) >> MXCSR_RC_SHIFT)
	}
	return int(imm & 3)
}

func round(x float64, mode int) float64 {
	switch mode {
	case ROUND_DOWN:
		return math.Floor(x)
	case ROUND_UP:
		return math.Ceil(x)
	case ROUND_TRUNCATE:
		return math.Trunc(x)
	}
	return math.RoundToEven(x)
}

// RoundPs (roundps) rounds each single of 'b' to an integral value.
func RoundPs(b Xmm, imm uint8, mxcsr uint32) (r Xmm) {
	mode := RoundingMode(imm, mxcsr)
	for i := range 4 {
		r.SetF32(i, float32(round(float64(b.F32(i)), mode)))
	}
	return
}

// RoundPd (roundpd) rounds each double of 'b' to an integral value.
func RoundPd(b Xmm, imm uint8, mxcsr uint32) (r Xmm) {
	mode := RoundingMode(imm, mxcsr)
	for i := range 2 {
		r.SetF64(i, round(b.F64(i), mode))
	}
	return
}

// RoundSs (roundss) rounds the low single of 'b' into 'a'.
func RoundSs(a, b Xmm, imm uint8, mxcsr uint32) (r Xmm) {
	r = a
	r.SetF32(0, float32(round(float64(b.F32(0)), RoundingMode(imm, mxcsr))))
	return
}

// RoundSd (roundsd) rounds the low double of 'b' into 'a'.
func RoundSd(a, b Xmm, imm uint8, mxcsr uint32) (r Xmm) {
	r = a
	r.SetF64(0, round(b.F64(0), RoundingMode(imm, mxcsr)))
	return
}

// DpPs (dpps) is the single precision dot product. Immediate bits 7:4
// select which products are summed, bits 3:0 which lanes receive the sum.
// The sum is (t0+t1)+(t2+t3); an unselected product counts as +0.
func DpPs(a, b Xmm, imm uint8) (r Xmm) {
	var t [4]float32
	for i := range 4 {
		if (imm & (0x10 << i)) != 0 {
			t[i] = float32(a.F32(i) * b.F32(i))
		}
	}
	sum := float32(float32(t[0]+t[1]) + float32(t[2]+t[3]))
	for i := range 4 {
		if (imm & (1 << i)) != 0 {
			r.SetF32(i, sum)
		}
	}
	return
}

// DpPd (dppd) is the double precision dot product. Immediate bits 5:4
// select products, bits 1:0 destination lanes. The sum is t0+t1; an
// unselected product counts as +0.
func DpPd(a, b Xmm, imm uint8) (r Xmm) {
	var t [2]float64
	for i := range 2 {
		if (imm & (0x10 << i)) != 0 {
			t[i] = float64(a.F64(i) * b.F64(i))
		}
	}
	sum := float64(t[0] + t[1])
	for i := range 2 {
		if (imm & (1 << i)) != 0 {
			r.SetF64(i, sum)
		}
	}
	return
}

// InsertPs (insertps) copies single lane imm[7:6] of 'b' into lane
// imm[5:4] of 'a', then zeroes the lanes set in imm[3:0].
func InsertPs(a, b Xmm, imm uint8) (r Xmm) {
	r = a
	r.SetU32(int((imm>>4)&3), b.U32(int(imm>>6)))
	for i := range 4 {
		if (imm & (1 << i)) != 0 {
			r.SetU32(i, 0)
		}
	}
	return
}

// ExtractPs (extractps) returns the raw bits of single lane imm[1:0].
func ExtractPs(a Xmm, imm uint8) uint32 {
	return a.U32(int(imm & 3))
}
