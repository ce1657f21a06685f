// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package decode

import (
	"golang.org/x/arch/x86/x86asm"

	"github.com/ezrec/xtrap/cpu"
)

// Fetch copies the window at 'ip'. A window that is not fully readable
// is a failure; the decoder never sees a short window.
func Fetch(mem cpu.Memory, ip uint64) (w Window, err error) {
	err = mem.CopyFrom(w[:], ip)
	return
}

func noSymbols(uint64) (string, uint64) {
	return "", 0
}

// Disassemble renders the first instruction of 'code', located at 'pc',
// in GNU syntax. It is for diagnostics only, and knows every x86
// instruction, not just the ones Decode accepts. Undecodable bytes are
// "(bad)", with a size of 1.
func Disassemble(code []byte, pc uint64, long bool) (text string, size int) {
	mode := 32
	if long {
		mode = 64
	}

	inst, err := x86asm.Decode(code, mode)
	if err != nil {
		text = "(bad)"
		size = 1
		return
	}

	text = x86asm.GNUSyntax(inst, pc, noSymbols)
	size = inst.Len
	return
}
