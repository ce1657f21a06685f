// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"fmt"
	"io"
)

// General purpose register indexes, in x86 ModRM encoding order.
const (
	REG_AX  = 0
	REG_CX  = 1
	REG_DX  = 2
	REG_BX  = 3
	REG_SP  = 4
	REG_BP  = 5
	REG_SI  = 6
	REG_DI  = 7
	REG_R8  = 8
	REG_R9  = 9
	REG_R10 = 10
	REG_R11 = 11
	REG_R12 = 12
	REG_R13 = 13
	REG_R14 = 14
	REG_R15 = 15
)

// EFLAGS bits.
const (
	EFLAGS_CF = uint64(1 << 0)  // Carry
	EFLAGS_PF = uint64(1 << 2)  // Parity
	EFLAGS_AF = uint64(1 << 4)  // Auxiliary carry
	EFLAGS_ZF = uint64(1 << 6)  // Zero
	EFLAGS_SF = uint64(1 << 7)  // Sign
	EFLAGS_TF = uint64(1 << 8)  // Trap (single step)
	EFLAGS_IF = uint64(1 << 9)  // Interrupt enable
	EFLAGS_DF = uint64(1 << 10) // Direction
	EFLAGS_OF = uint64(1 << 11) // Overflow
	EFLAGS_VM = uint64(1 << 17) // Virtual-8086 mode
	EFLAGS_AC = uint64(1 << 18) // Alignment check
)

// Code segment selectors. The low two bits are the privilege level.
const (
	SEGMENT_RPL_MASK = uint64(0x3)
	USER_RPL         = uint64(0x3)

	KERNEL_CS = uint64(0x10)
	KERNEL_SS = uint64(0x18)
	USER_CS   = uint64(0x33)
	USER_SS   = uint64(0x2b)
)

var gprNames = [16]string{
	"ax", "cx", "dx", "bx", "sp", "bp", "si", "di",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

// Regs is the register file saved by the entry stub when a trap is taken.
// Handlers mutate it in place; the entry stub restores it on return.
type Regs struct {
	Gpr    [16]uint64 // General purpose registers, indexed by REG_*.
	OrigAx uint64     // Error code or syscall number slot.
	Ip     uint64     // Faulting instruction pointer.
	Cs     uint64     // Code segment selector.
	Flags  uint64     // EFLAGS.
	Ss     uint64     // Stack segment selector.
	Long   bool       // Set when the code segment is 64-bit.
}

// UserMode is true when the context was running at CPL 3.
func (r *Regs) UserMode() bool {
	return (r.Cs & SEGMENT_RPL_MASK) == USER_RPL
}

// UserModeVm is true when the context was running at CPL 3 or in
// virtual-8086 mode.
func (r *Regs) UserModeVm() bool {
	return r.UserMode() || (r.Flags&EFLAGS_VM) != 0
}

// Sp returns the saved stack pointer.
func (r *Regs) Sp() uint64 {
	return r.Gpr[REG_SP]
}

// gprIndex resolves a 3-bit register field plus its extension bit.
func gprIndex(index int, high bool) int {
	index &= 7
	if high {
		index += 8
	}
	return index
}

// Reg reads the low 'size' bytes of a general purpose register.
func (r *Regs) Reg(index int, high bool, size int) (value uint64, err error) {
	value = r.Gpr[gprIndex(index, high)]
	switch size {
	case 1:
		value &= 0xff
	case 2:
		value &= 0xffff
	case 4:
		value &= 0xffffffff
	case 8:
	default:
		err = ErrOperandSize
	}
	return
}

// SetReg writes the low 'size' bytes of a general purpose register.
// Byte and word writes merge into the existing value, dword writes
// zero-extend, qword writes replace.
func (r *Regs) SetReg(index int, high bool, size int, value uint64) (err error) {
	reg := &r.Gpr[gprIndex(index, high)]
	switch size {
	case 1:
		*reg = (*reg &^ 0xff) | (value & 0xff)
	case 2:
		*reg = (*reg &^ 0xffff) | (value & 0xffff)
	case 4:
		*reg = value & 0xffffffff
	case 8:
		*reg = value
	default:
		err = ErrOperandSize
	}
	return
}

// String returns the register file as a single line.
func (r *Regs) String() string {
	return fmt.Sprintf("ip:%x sp:%x flags:%x cs:%x", r.Ip, r.Sp(), r.Flags, r.Cs)
}

// DumpTo outputs the register contents to w.
func (r *Regs) DumpTo(w io.Writer) {
	for n := 0; n < len(r.Gpr); n += 2 {
		fmt.Fprintf(w, "%-3s = %016x %-3s = %016x\n",
			gprNames[n], r.Gpr[n], gprNames[n+1], r.Gpr[n+1])
	}
	fmt.Fprintf(w, "ip  = %016x cs  = %016x\n", r.Ip, r.Cs)
	fmt.Fprintf(w, "fl  = %016x ss  = %016x\n", r.Flags, r.Ss)
	fmt.Fprintf(w, "orig_ax = %016x\n", r.OrigAx)
}
