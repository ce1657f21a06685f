// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"fmt"
	"iter"
	"maps"
)

var _cpu_defines = map[string]string{
	"EFLAGS_CF": fmt.Sprintf("%v", EFLAGS_CF),
	"EFLAGS_PF": fmt.Sprintf("%v", EFLAGS_PF),
	"EFLAGS_AF": fmt.Sprintf("%v", EFLAGS_AF),
	"EFLAGS_ZF": fmt.Sprintf("%v", EFLAGS_ZF),
	"EFLAGS_SF": fmt.Sprintf("%v", EFLAGS_SF),
	"EFLAGS_TF": fmt.Sprintf("%v", EFLAGS_TF),
	"EFLAGS_IF": fmt.Sprintf("%v", EFLAGS_IF),
	"EFLAGS_DF": fmt.Sprintf("%v", EFLAGS_DF),
	"EFLAGS_OF": fmt.Sprintf("%v", EFLAGS_OF),
	"EFLAGS_VM": fmt.Sprintf("%v", EFLAGS_VM),
	"EFLAGS_AC": fmt.Sprintf("%v", EFLAGS_AC),
	"DR_TRAP0":  fmt.Sprintf("%v", DR_TRAP0),
	"DR_TRAP1":  fmt.Sprintf("%v", DR_TRAP1),
	"DR_TRAP2":  fmt.Sprintf("%v", DR_TRAP2),
	"DR_TRAP3":  fmt.Sprintf("%v", DR_TRAP3),
	"DR_STEP":   fmt.Sprintf("%v", DR_STEP),
	"CR0_EM":    fmt.Sprintf("%v", CR0_EM),
}

var _reg_names = map[string]int{
	"ax": REG_AX, "cx": REG_CX, "dx": REG_DX, "bx": REG_BX,
	"sp": REG_SP, "bp": REG_BP, "si": REG_SI, "di": REG_DI,
	"r8": REG_R8, "r9": REG_R9, "r10": REG_R10, "r11": REG_R11,
	"r12": REG_R12, "r13": REG_R13, "r14": REG_R14, "r15": REG_R15,
}

// Defines returns an iterator over the flag and debug register constants.
func Defines() iter.Seq2[string, string] {
	return maps.All(_cpu_defines)
}

// RegIndex returns the index of the general purpose register 'name',
// given without its width prefix ("ax", "r12").
func RegIndex(name string) (index int, ok bool) {
	index, ok = _reg_names[name]
	return
}
