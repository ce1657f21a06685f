// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package trap

import (
	"fmt"
	"iter"
	"maps"
)

var _trap_defines = map[string]string{
	"X86_TRAP_DE":       fmt.Sprintf("%v", X86_TRAP_DE),
	"X86_TRAP_DB":       fmt.Sprintf("%v", X86_TRAP_DB),
	"X86_TRAP_NMI":      fmt.Sprintf("%v", X86_TRAP_NMI),
	"X86_TRAP_BP":       fmt.Sprintf("%v", X86_TRAP_BP),
	"X86_TRAP_OF":       fmt.Sprintf("%v", X86_TRAP_OF),
	"X86_TRAP_BR":       fmt.Sprintf("%v", X86_TRAP_BR),
	"X86_TRAP_UD":       fmt.Sprintf("%v", X86_TRAP_UD),
	"X86_TRAP_NM":       fmt.Sprintf("%v", X86_TRAP_NM),
	"X86_TRAP_DF":       fmt.Sprintf("%v", X86_TRAP_DF),
	"X86_TRAP_OLD_MF":   fmt.Sprintf("%v", X86_TRAP_OLD_MF),
	"X86_TRAP_TS":       fmt.Sprintf("%v", X86_TRAP_TS),
	"X86_TRAP_NP":       fmt.Sprintf("%v", X86_TRAP_NP),
	"X86_TRAP_SS":       fmt.Sprintf("%v", X86_TRAP_SS),
	"X86_TRAP_GP":       fmt.Sprintf("%v", X86_TRAP_GP),
	"X86_TRAP_PF":       fmt.Sprintf("%v", X86_TRAP_PF),
	"X86_TRAP_SPURIOUS": fmt.Sprintf("%v", X86_TRAP_SPURIOUS),
	"X86_TRAP_MF":       fmt.Sprintf("%v", X86_TRAP_MF),
	"X86_TRAP_AC":       fmt.Sprintf("%v", X86_TRAP_AC),
	"X86_TRAP_MC":       fmt.Sprintf("%v", X86_TRAP_MC),
	"X86_TRAP_XF":       fmt.Sprintf("%v", X86_TRAP_XF),
	"X86_TRAP_IRET":     fmt.Sprintf("%v", X86_TRAP_IRET),
	"SYSCALL_VECTOR":    fmt.Sprintf("%v", SYSCALL_VECTOR),
}

// Defines returns an iterator over the vector constants.
func Defines() iter.Seq2[string, string] {
	return maps.All(_trap_defines)
}
